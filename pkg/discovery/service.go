// Package discovery implements the authenticated UDP broadcast gossip that
// lets peers on the same LAN find each other and learn what each one is
// currently offering.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"lanshare/internal/identity"
	"lanshare/internal/syncutil"
	"lanshare/pkg/logger"
)

// Port is the fixed UDP port every peer listens on and broadcasts to.
const Port = 45555

// BroadcastAddr is where Announce and Query packets are sent. The fabric
// is LAN-only by design; there is no unicast or multicast fallback.
const BroadcastAddr = "255.255.255.255:45555"

// AnnounceInterval is how often a running Service re-broadcasts its own
// status even if nothing about it has changed.
const AnnounceInterval = 10 * time.Second

// sweepInterval is how often the peer table is checked for staleness.
const sweepInterval = 30 * time.Second

// DebugStats is a snapshot of a Service's lifetime counters and socket
// state, exposed for diagnostics and tests.
type DebugStats struct {
	SocketBound bool
	BindError   string

	SentAnnounces     uint64
	SentQueries       uint64
	ReceivedAnnounces uint64
	ReceivedQueries   uint64
	PacketsRejected   uint64
	PeersKnown        int

	// LastReceivedFrom/LastReceivedKind/LastReceivedAge describe the most
	// recent packet that passed Decode, including one later dropped for
	// being this node's own broadcast. LastReceivedFrom is empty if
	// nothing has ever been received.
	LastReceivedFrom string
	LastReceivedKind Kind
	LastReceivedAge  time.Duration
}

// bindState records whether the discovery socket is currently bound, and
// the error from the last attempt if it isn't.
type bindState struct {
	bound bool
	err   string
}

// lastReceived records the most recent packet this Service successfully
// decoded, for DebugStats.
type lastReceived struct {
	from string
	kind Kind
	at   time.Time
}

// localState is everything a Service needs to build its own outgoing
// PeerStatus, held behind one Guarded so buildStatus never has to touch
// more than one lock to build a packet.
type localState struct {
	name    string
	groups  []string
	offer   *OfferStatus
	startAt time.Time
}

// Service owns the UDP socket and background goroutines that implement
// discovery for one node. Callers configure it via the Set* methods, start
// it with Run, and read the result via ListPeers / DebugStats.
type Service struct {
	id  identity.NodeID
	key *syncutil.Guarded[[]byte]

	conn *net.UDPConn

	local *syncutil.Guarded[localState]
	peers *PeerTable

	bind     *syncutil.Guarded[bindState]
	lastRecv *syncutil.Guarded[lastReceived]

	sentAnnounces     atomic.Uint64
	sentQueries       atomic.Uint64
	receivedAnnounces atomic.Uint64
	receivedQueries   atomic.Uint64
	rejected          atomic.Uint64
}

// New creates a Service with the given node identity and shared authentication
// key. The key must match across every peer in the fabric; a mismatched key
// makes a peer deaf to (and invisible to) everyone else, which is the
// intended failure mode rather than a crash.
func New(id identity.NodeID, key []byte) *Service {
	return &Service{
		id:  id,
		key: syncutil.NewGuarded(key),
		local: syncutil.NewGuarded(localState{
			name:    id.String(),
			startAt: time.Now(),
		}),
		peers:    NewPeerTable(),
		bind:     syncutil.NewGuarded(bindState{}),
		lastRecv: syncutil.NewGuarded(lastReceived{}),
	}
}

// SetAuthKey replaces the shared authentication key used to sign outgoing
// packets and verify incoming ones. Existing peer table entries are left
// in place; they'll simply stop refreshing if the new key no longer
// matches what the rest of the fabric uses, and age out via Sweep like any
// other peer that's gone quiet.
func (s *Service) SetAuthKey(key []byte) {
	s.key.Set(key)
}

// SetLocalName changes the display name advertised in this node's status.
func (s *Service) SetLocalName(name string) {
	s.local.Update(func(l localState) localState {
		l.name = name
		return l
	})
}

// SetLocalGroups replaces the set of groups this node advertises membership
// in.
func (s *Service) SetLocalGroups(groups []string) {
	cp := append([]string(nil), groups...)
	s.local.Update(func(l localState) localState {
		l.groups = cp
		return l
	})
}

// SetLocalOffer replaces what this node is currently offering to share, or
// clears it if offer is nil.
func (s *Service) SetLocalOffer(offer *OfferStatus) {
	s.local.Update(func(l localState) localState {
		l.offer = offer
		return l
	})
}

// buildStatus constructs the PeerStatus this node currently wants to
// advertise. address is left empty; every receiver fills it in from the
// packet's actual source, so there is nothing useful to claim here.
func (s *Service) buildStatus() PeerStatus {
	l := s.local.Get()
	latency := int64(0)
	name := l.name
	return PeerStatus{
		ID:      s.id.String(),
		Address: "",
		Mode:    ModeWorker,
		Latency: &latency,
		Name:    &name,
		Groups:  l.groups,
		Ollama:  l.offer,
	}
}

// Run opens the discovery socket and blocks, driving the receive loop,
// periodic announcer, startup query, and stale-peer sweeper until ctx is
// canceled. It returns an error only when the socket cannot be opened; a
// later read error ends the receive loop, while announces and sweeps keep
// running until ctx is canceled.
func (s *Service) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp4", fmt.Sprintf(":%d", Port))
	if err != nil {
		s.bind.Set(bindState{bound: false, err: err.Error()})
		return fmt.Errorf("discovery: resolve listen addr: %w", err)
	}
	conn, err := net.ListenUDP("udp4", addr)
	if err != nil {
		s.bind.Set(bindState{bound: false, err: err.Error()})
		return fmt.Errorf("discovery: listen udp: %w", err)
	}
	s.conn = conn
	s.bind.Set(bindState{bound: true})
	defer func() {
		conn.Close()
		s.bind.Set(bindState{bound: false})
	}()

	if err := enableBroadcast(conn); err != nil {
		logger.Warn("discovery: could not enable broadcast, sends may fail: %v", err)
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.receiveLoop(ctx)
	}()

	if err := s.AnnounceOnce(KindQuery); err != nil {
		logger.Warn("discovery: startup query failed: %v", err)
	}

	announce := time.NewTicker(AnnounceInterval)
	defer announce.Stop()
	sweep := time.NewTicker(sweepInterval)
	defer sweep.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close()
			<-done
			return nil
		case <-announce.C:
			if err := s.AnnounceOnce(KindAnnounce); err != nil {
				logger.Warn("discovery: announce failed: %v", err)
			}
		case <-sweep.C:
			if n := s.peers.Sweep(time.Now()); n > 0 {
				logger.Debug("discovery: swept %d stale peers", n)
			}
		}
	}
}

// AnnounceOnce sends a single packet of the given kind carrying this
// node's current status. Before Run has bound the discovery socket, the
// packet is sent from a temporary ephemeral-port socket instead.
func (s *Service) AnnounceOnce(kind Kind) error {
	body, err := Encode(s.key.Get(), kind, s.buildStatus())
	if err != nil {
		return err
	}
	dst, err := net.ResolveUDPAddr("udp4", BroadcastAddr)
	if err != nil {
		return fmt.Errorf("discovery: resolve broadcast addr: %w", err)
	}
	conn := s.conn
	if conn == nil {
		tmp, err := net.ListenUDP("udp4", nil)
		if err != nil {
			return fmt.Errorf("discovery: open send socket: %w", err)
		}
		defer tmp.Close()
		if err := enableBroadcast(tmp); err != nil {
			return fmt.Errorf("discovery: enable broadcast: %w", err)
		}
		conn = tmp
	}
	if _, err := conn.WriteToUDP(body, dst); err != nil {
		return fmt.Errorf("discovery: write broadcast: %w", err)
	}
	if kind == KindQuery {
		s.sentQueries.Add(1)
	} else {
		s.sentAnnounces.Add(1)
	}
	return nil
}

func (s *Service) receiveLoop(ctx context.Context) {
	buf := make([]byte, MaxPacketBytes+1)
	for {
		n, src, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Warn("discovery: read error: %v", err)
			return
		}
		s.handleDatagram(buf[:n], src)
	}
}

func (s *Service) handleDatagram(raw []byte, src *net.UDPAddr) {
	pkt, err := Decode(s.key.Get(), raw)
	if err != nil {
		s.rejected.Add(1)
		logger.Debug("discovery: dropped packet from %s: %v", src, err)
		return
	}
	if pkt.Kind == KindQuery {
		s.receivedQueries.Add(1)
	} else {
		s.receivedAnnounces.Add(1)
	}
	s.lastRecv.Set(lastReceived{from: src.String(), kind: pkt.Kind, at: time.Now()})

	if pkt.Status.ID == s.id.String() {
		return
	}

	status := pkt.Status
	status.Address = normalizeAddr(status.Address, src.IP)
	s.peers.Upsert(status.ID, status, time.Now())

	if pkt.Kind == KindQuery {
		if err := s.AnnounceOnce(KindAnnounce); err != nil {
			logger.Warn("discovery: reply announce failed: %v", err)
		}
	}
}

// normalizeAddr defends against a peer claiming an address it doesn't
// actually answer on: unless the claimed address's IP matches the
// datagram's real source IP, it is discarded in favor of
// "{recvIP}:Port".
func normalizeAddr(claimed string, recvIP net.IP) string {
	fallback := net.JoinHostPort(recvIP.String(), strconv.Itoa(Port))
	if claimed == "" {
		return fallback
	}
	host, _, err := net.SplitHostPort(claimed)
	if err != nil {
		return fallback
	}
	claimedIP := net.ParseIP(host)
	if claimedIP == nil || !claimedIP.Equal(recvIP) {
		return fallback
	}
	return claimed
}

// ListPeers returns every currently-known peer.
func (s *Service) ListPeers() []PeerView {
	return s.peers.List(time.Now())
}

// DebugStats returns a snapshot of the lifetime counters and socket state.
func (s *Service) DebugStats() DebugStats {
	bind := s.bind.Get()
	last := s.lastRecv.Get()

	var age time.Duration
	if !last.at.IsZero() {
		age = time.Since(last.at)
	}

	return DebugStats{
		SocketBound:       bind.bound,
		BindError:         bind.err,
		SentAnnounces:     s.sentAnnounces.Load(),
		SentQueries:       s.sentQueries.Load(),
		ReceivedAnnounces: s.receivedAnnounces.Load(),
		ReceivedQueries:   s.receivedQueries.Load(),
		PacketsRejected:   s.rejected.Load(),
		PeersKnown:        s.peers.Len(),
		LastReceivedFrom:  last.from,
		LastReceivedKind:  last.kind,
		LastReceivedAge:   age,
	}
}

package discovery

import (
	"net"
	"testing"
	"time"

	"lanshare/internal/identity"
)

func TestNormalizeAddrKeepsMatchingClaim(t *testing.T) {
	recv := net.ParseIP("10.0.0.5")
	claimed := "10.0.0.5:45555"
	got := normalizeAddr(claimed, recv)
	if got != claimed {
		t.Fatalf("got %q, want %q", got, claimed)
	}
}

func TestNormalizeAddrRewritesMismatch(t *testing.T) {
	recv := net.ParseIP("10.0.0.5")
	got := normalizeAddr("10.0.0.99:45555", recv)
	want := "10.0.0.5:45555"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeAddrRewritesEmpty(t *testing.T) {
	recv := net.ParseIP("10.0.0.5")
	got := normalizeAddr("", recv)
	want := "10.0.0.5:45555"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

func TestNormalizeAddrRewritesGarbage(t *testing.T) {
	recv := net.ParseIP("10.0.0.5")
	got := normalizeAddr("not-an-address", recv)
	want := "10.0.0.5:45555"
	if got != want {
		t.Fatalf("got %q, want %q", got, want)
	}
}

// TestServiceHandleDatagramRejectsSelf makes sure a service never adds its
// own announcements to its peer table, which would otherwise happen since
// it receives its own broadcasts.
func TestServiceHandleDatagramRejectsSelf(t *testing.T) {
	svc := New(identity.NodeID("self-id"), []byte("k"))
	raw, err := Encode([]byte("k"), KindAnnounce, svc.buildStatus())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	src := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: Port}
	svc.handleDatagram(raw, src)

	if got := len(svc.ListPeers()); got != 0 {
		t.Fatalf("got %d peers after self-receive, want 0", got)
	}
}

func TestServiceHandleDatagramRejectsBadMAC(t *testing.T) {
	svc := New(identity.NodeID("self-id"), []byte("k"))
	raw, err := Encode([]byte("wrong-key"), KindAnnounce, PeerStatus{ID: "other"})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	src := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: Port}
	svc.handleDatagram(raw, src)

	if got := svc.DebugStats().PacketsRejected; got != 1 {
		t.Fatalf("got %d rejected, want 1", got)
	}
	if got := len(svc.ListPeers()); got != 0 {
		t.Fatalf("got %d peers after bad mac, want 0", got)
	}
}

func TestServiceHandleDatagramAcceptsAndNormalizes(t *testing.T) {
	svc := New(identity.NodeID("self-id"), []byte("k"))
	other := PeerStatus{ID: "other", Address: "1.2.3.4:9999", Mode: ModeWorker}
	raw, err := Encode([]byte("k"), KindAnnounce, other)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	src := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: Port}
	svc.handleDatagram(raw, src)

	peers := svc.ListPeers()
	if len(peers) != 1 {
		t.Fatalf("got %d peers, want 1", len(peers))
	}
	if peers[0].Status.Address != "127.0.0.1:45555" {
		t.Fatalf("got address %q, want normalized to receiver", peers[0].Status.Address)
	}
	if got := svc.DebugStats().ReceivedAnnounces; got != 1 {
		t.Fatalf("got %d received announces, want 1", got)
	}
}

// TestServiceHandleDatagramAcceptsUnsignedWhenNoKeyConfigured makes sure a
// Service running without an auth key accepts packets that carry no mac at
// all, matching a conforming unauthenticated peer rather than rejecting it
// for "missing mac".
func TestServiceHandleDatagramAcceptsUnsignedWhenNoKeyConfigured(t *testing.T) {
	svc := New(identity.NodeID("self-id"), nil)
	other := PeerStatus{ID: "other", Address: "1.2.3.4:9999", Mode: ModeWorker}
	raw, err := Encode(nil, KindAnnounce, other)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	src := &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: Port}
	svc.handleDatagram(raw, src)

	if got := len(svc.ListPeers()); got != 1 {
		t.Fatalf("got %d peers, want 1", got)
	}
	if got := svc.DebugStats().PacketsRejected; got != 0 {
		t.Fatalf("got %d rejected, want 0", got)
	}
}

// TestTwoServicesExchangeOverLoopback sends node A's encoded Announce
// between two plain UDP sockets bound to ephemeral loopback ports (rather
// than the fixed broadcast port/address, which a test environment may not
// permit binding twice) and feeds the received datagram to node B's
// handleDatagram, confirming A's Announce is accepted via the normal
// Decode path. Neither Service is started with Run.
func TestTwoServicesExchangeOverLoopback(t *testing.T) {
	key := []byte("shared")
	a := New(identity.NodeID("node-a"), key)
	a.SetLocalName("alpha")

	connA, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen A: %v", err)
	}
	defer connA.Close()
	connB, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	if err != nil {
		t.Fatalf("listen B: %v", err)
	}
	defer connB.Close()

	raw, err := Encode(key, KindAnnounce, a.buildStatus())
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if _, err := connA.WriteToUDP(raw, connB.LocalAddr().(*net.UDPAddr)); err != nil {
		t.Fatalf("WriteToUDP: %v", err)
	}

	connB.SetReadDeadline(time.Now().Add(2 * time.Second))
	buf := make([]byte, MaxPacketBytes+1)
	n, src, err := connB.ReadFromUDP(buf)
	if err != nil {
		t.Fatalf("ReadFromUDP: %v", err)
	}

	b := New(identity.NodeID("node-b"), key)
	b.handleDatagram(buf[:n], src)

	peers := b.ListPeers()
	if len(peers) != 1 || peers[0].Status.ID != "node-a" {
		t.Fatalf("expected node-b to learn about node-a, got %+v", peers)
	}
}

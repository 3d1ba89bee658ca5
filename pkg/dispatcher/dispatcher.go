// Package dispatcher turns a user-level chat intent into an asynchronous
// HTTP call against a chosen peer, queuing and pacing work per peer so a
// slow remote never blocks requests aimed at others.
package dispatcher

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"lanshare/pkg/discovery"
	"lanshare/pkg/logger"
	"lanshare/pkg/shareproxy"
)

// MaxQueuePerPeer bounds how many jobs can be pending for one peer at once,
// counting the in-flight job together with the ones waiting behind it.
const MaxQueuePerPeer = 16

// ConnectTimeout bounds dialing a peer's chat endpoint.
const ConnectTimeout = 5 * time.Second

// TotalTimeout bounds an entire chat call to a peer.
const TotalTimeout = 300 * time.Second

// DefaultModel is used when neither the caller nor the peer's offer names one.
const DefaultModel = "llama3"

var (
	// ErrQueueFull is returned when a peer already has MaxQueuePerPeer jobs
	// in flight or waiting.
	ErrQueueFull = errors.New("dispatcher: queue is full")
	// ErrMemberNotFound is returned when a pinned peer isn't among the
	// group's current candidates.
	ErrMemberNotFound = errors.New("dispatcher: member not found")
	// ErrNoCandidates is returned when a group has no eligible peers at all.
	ErrNoCandidates = errors.New("dispatcher: no candidates available")
	// ErrKeyRequired is returned when the target requires a shared key the
	// caller didn't supply.
	ErrKeyRequired = errors.New("dispatcher: this member requires a key")
)

// ChatJob is one request queued against a specific peer.
type ChatJob struct {
	ID          uint64
	PeerID      string
	DisplayName string
	BaseURL     string
	Model       string
	Prompt      string
	Key         string
}

// ChatResult is delivered on the dispatcher's result channel once a job
// completes, successfully or not.
type ChatResult struct {
	JobID       uint64
	PeerID      string
	DisplayName string
	Content     string
	Err         error
}

// Intent is a caller's request: a group to search, an optional pinned
// peer, an optional pinned model, and the prompt text.
type Intent struct {
	Group       string
	PinnedPeer  string
	PinnedModel string
	Prompt      string
	SuppliedKey string
}

// PeerLister abstracts the piece of discovery.Service a Dispatcher needs,
// so this package never imports discovery.Service directly and the two
// can be tested independently of each other.
type PeerLister interface {
	ListPeers() []discovery.PeerView
}

// Dispatcher owns per-peer job queues and the single in-flight slot for
// each peer, along with the round-robin state used for group target
// selection.
type Dispatcher struct {
	peers PeerLister

	mu             sync.Mutex
	rrIndexByGroup map[string]int
	inflightByPeer map[string]bool
	queueByPeer    map[string][]ChatJob

	jobCounter atomic.Uint64

	client  *http.Client
	results chan ChatResult
}

// New creates a Dispatcher reading peers from lister and delivering
// results on an internally owned channel. Results must be drained by the
// caller via Results(); jobs are dropped silently if no one is reading.
func New(lister PeerLister) *Dispatcher {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: ConnectTimeout}).DialContext,
	}
	return &Dispatcher{
		peers:          lister,
		rrIndexByGroup: make(map[string]int),
		inflightByPeer: make(map[string]bool),
		queueByPeer:    make(map[string][]ChatJob),
		client: &http.Client{
			Transport: transport,
			Timeout:   TotalTimeout,
		},
		results: make(chan ChatResult, 64),
	}
}

// Results returns the channel callers should read completed jobs from.
func (d *Dispatcher) Results() <-chan ChatResult {
	return d.results
}

// candidates returns the peers in group that are both members and
// currently offering to share, sorted by ID (PeerTable.List's own order)
// for deterministic round-robin.
func (d *Dispatcher) candidates(group string) []discovery.PeerView {
	var out []discovery.PeerView
	for _, p := range d.peers.ListPeers() {
		if p.Status.Ollama == nil || !p.Status.Ollama.Enabled {
			continue
		}
		member := false
		for _, g := range p.Status.Groups {
			if g == group {
				member = true
				break
			}
		}
		if !member {
			continue
		}
		out = append(out, p)
	}
	return out
}

func filterByModel(cands []discovery.PeerView, model string) []discovery.PeerView {
	if model == "" {
		return cands
	}
	var out []discovery.PeerView
	for _, p := range cands {
		for _, m := range p.Status.Ollama.Models {
			if m == model {
				out = append(out, p)
				break
			}
		}
	}
	return out
}

// selectTarget resolves an Intent to one peer, applying round-robin for
// auto mode or a direct lookup for pinned mode, advancing the group's
// round-robin index as a side effect of an auto-mode selection.
func (d *Dispatcher) selectTarget(intent Intent) (discovery.PeerView, error) {
	cands := filterByModel(d.candidates(intent.Group), intent.PinnedModel)
	if len(cands) == 0 {
		return discovery.PeerView{}, ErrNoCandidates
	}

	if intent.PinnedPeer != "" {
		for _, p := range cands {
			if p.Status.ID == intent.PinnedPeer {
				return p, nil
			}
		}
		return discovery.PeerView{}, ErrMemberNotFound
	}

	d.mu.Lock()
	idx := d.rrIndexByGroup[intent.Group]
	chosen := cands[idx%len(cands)]
	d.rrIndexByGroup[intent.Group] = (idx + 1) % len(cands)
	d.mu.Unlock()

	return chosen, nil
}

// safeRemoteBaseURL derives the base URL to call for a peer, trusting the
// offer's claimed base_url only when its host matches the peer's
// observed address. Any mismatch (or unparseable/non-http claim) falls
// back to reconstructing the URL from the peer's address directly, which
// is what prevents a hostile announcer from redirecting our traffic.
func safeRemoteBaseURL(status discovery.PeerStatus) string {
	peerIP, _, err := net.SplitHostPort(status.Address)
	if err != nil {
		peerIP = status.Address
	}

	fallback := fmt.Sprintf("http://%s", net.JoinHostPort(peerIP, strconv.Itoa(shareproxy.OllamaPort)))

	if status.Ollama == nil || status.Ollama.BaseURL == nil {
		return fallback
	}
	u, err := url.Parse(*status.Ollama.BaseURL)
	if err != nil || u.Scheme != "http" {
		return fallback
	}
	if u.Hostname() != peerIP {
		return fallback
	}
	port := u.Port()
	if port == "" {
		port = strconv.Itoa(shareproxy.OllamaPort)
	}
	return fmt.Sprintf("http://%s", net.JoinHostPort(peerIP, port))
}

// displayName returns the name a peer announced, falling back to its ID
// when it hasn't set one, so the UI never has to render an empty string.
func displayName(status discovery.PeerStatus) string {
	if status.Name != nil && *status.Name != "" {
		return *status.Name
	}
	return status.ID
}

func resolveModel(status discovery.PeerStatus, pinned string) string {
	if pinned != "" {
		return pinned
	}
	if status.Ollama != nil && len(status.Ollama.Models) > 0 {
		return status.Ollama.Models[0]
	}
	return DefaultModel
}

func needsKey(baseURL string) bool {
	_, port, err := net.SplitHostPort(baseURL[len("http://"):])
	if err != nil {
		return false
	}
	return port == strconv.Itoa(shareproxy.Port)
}

// Enqueue resolves intent to a target peer, builds a ChatJob, and either
// queues it behind the peer's in-flight job or starts it immediately.
func (d *Dispatcher) Enqueue(intent Intent) (uint64, error) {
	target, err := d.selectTarget(intent)
	if err != nil {
		return 0, err
	}

	baseURL := safeRemoteBaseURL(target.Status)
	key := ""
	if needsKey(baseURL) {
		if intent.SuppliedKey == "" {
			return 0, ErrKeyRequired
		}
		key = intent.SuppliedKey
	}

	job := ChatJob{
		ID:          d.jobCounter.Add(1),
		PeerID:      target.Status.ID,
		DisplayName: displayName(target.Status),
		BaseURL:     baseURL,
		Model:       resolveModel(target.Status, intent.PinnedModel),
		Prompt:      intent.Prompt,
		Key:         key,
	}

	d.mu.Lock()
	queue := d.queueByPeer[job.PeerID]
	inflight := d.inflightByPeer[job.PeerID]
	pending := len(queue)
	if inflight {
		pending++
	}
	if pending >= MaxQueuePerPeer {
		d.mu.Unlock()
		return 0, ErrQueueFull
	}
	d.queueByPeer[job.PeerID] = append(queue, job)
	d.mu.Unlock()

	if !inflight {
		d.startNext(job.PeerID)
	}
	return job.ID, nil
}

// startNext pops the next job for peerID, if any, marks the peer as
// in-flight, and runs it in its own goroutine.
func (d *Dispatcher) startNext(peerID string) {
	d.mu.Lock()
	queue := d.queueByPeer[peerID]
	if len(queue) == 0 {
		d.inflightByPeer[peerID] = false
		d.mu.Unlock()
		return
	}
	job := queue[0]
	d.queueByPeer[peerID] = queue[1:]
	d.inflightByPeer[peerID] = true
	d.mu.Unlock()

	go d.runJob(job)
}

type chatWireRequest struct {
	Model    string        `json:"model"`
	Messages []chatWireMsg `json:"messages"`
	Stream   bool          `json:"stream"`
}

type chatWireMsg struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatWireResponse struct {
	Message struct {
		Content string `json:"content"`
	} `json:"message"`
}

func (d *Dispatcher) runJob(job ChatJob) {
	result := d.executeJob(job)
	select {
	case d.results <- result:
	default:
		logger.Warn("dispatcher: result channel full, dropping result for job %d", job.ID)
	}
	d.startNext(job.PeerID)
}

func (d *Dispatcher) executeJob(job ChatJob) ChatResult {
	reqBody := chatWireRequest{
		Model:    job.Model,
		Messages: []chatWireMsg{{Role: "user", Content: job.Prompt}},
		Stream:   false,
	}
	body, err := json.Marshal(reqBody)
	if err != nil {
		return ChatResult{JobID: job.ID, PeerID: job.PeerID, DisplayName: job.DisplayName, Err: fmt.Errorf("encoding request: %w", err)}
	}

	ctx, cancel := context.WithTimeout(context.Background(), TotalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, job.BaseURL+"/api/chat", bytes.NewReader(body))
	if err != nil {
		return ChatResult{JobID: job.ID, PeerID: job.PeerID, DisplayName: job.DisplayName, Err: fmt.Errorf("building request: %w", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if job.Key != "" {
		req.Header.Set(shareproxy.ShareKeyHeader, job.Key)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return ChatResult{JobID: job.ID, PeerID: job.PeerID, DisplayName: job.DisplayName, Err: err}
	}
	defer resp.Body.Close()

	respBody, err := readAllLimited(resp.Body)
	if err != nil {
		return ChatResult{JobID: job.ID, PeerID: job.PeerID, DisplayName: job.DisplayName, Err: err}
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ChatResult{
			JobID:       job.ID,
			PeerID:      job.PeerID,
			DisplayName: job.DisplayName,
			Err:         fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody)),
		}
	}

	var parsed chatWireResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil || parsed.Message.Content == "" {
		return ChatResult{JobID: job.ID, PeerID: job.PeerID, DisplayName: job.DisplayName, Err: errors.New("bad response")}
	}

	return ChatResult{JobID: job.ID, PeerID: job.PeerID, DisplayName: job.DisplayName, Content: parsed.Message.Content}
}

// readAllLimited reads a response body bounded at 8 MiB, far beyond any
// reasonable chat response but still enough to stop a misbehaving remote
// from exhausting memory.
func readAllLimited(r io.Reader) ([]byte, error) {
	return io.ReadAll(io.LimitReader(r, 8*1024*1024))
}

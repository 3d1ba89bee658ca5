// Package shareproxy implements the HTTP front door a node exposes so
// other peers on the LAN can send it chat requests that get forwarded to
// its local LM runtime.
package shareproxy

import (
	"bytes"
	"context"
	"crypto/hmac"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/semaphore"

	"lanshare/internal/syncutil"
	"lanshare/pkg/logger"
)

// Port is where the proxy listens for incoming chat requests from peers.
const Port = 11435

// OllamaPort is where the local LM runtime is assumed to be listening.
const OllamaPort = 11434

// ShareKeyHeader carries the caller's shared key, when one is configured.
const ShareKeyHeader = "x-vas-key"

// MaxConcurrency is the default number of upstream calls allowed in
// flight at once.
const MaxConcurrency = 4

// BodyLimit caps the size of an incoming request body.
const BodyLimit = 256 * 1024

// ConnectTimeout bounds how long dialing the upstream runtime may take.
const ConnectTimeout = 5 * time.Second

// TotalTimeout bounds an entire upstream call, including a long generation.
const TotalTimeout = 300 * time.Second

// Config is the mutable gate the proxy checks on every request. Callers
// (the offer layer, driven by CLI flags or the TUI) replace it wholesale
// through Proxy.SetConfig whenever sharing is toggled or the allow-list
// changes.
type Config struct {
	Enabled       bool
	Key           string
	AllowedModels map[string]bool
}

// Proxy owns the HTTP listener, the concurrency gate, and the client used
// to reach the local LM runtime.
type Proxy struct {
	cfg *syncutil.Guarded[Config]
	sem *semaphore.Weighted

	upstream *http.Client
	server   *http.Server
}

// New creates a Proxy with an empty (disabled) configuration. Call
// SetConfig before serving real traffic.
func New() *Proxy {
	transport := &http.Transport{
		DialContext: (&net.Dialer{Timeout: ConnectTimeout}).DialContext,
	}
	return &Proxy{
		cfg: syncutil.NewGuarded(Config{AllowedModels: map[string]bool{}}),
		sem: semaphore.NewWeighted(MaxConcurrency),
		upstream: &http.Client{
			Transport: transport,
			Timeout:   TotalTimeout,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// SetConfig replaces the gating configuration atomically.
func (p *Proxy) SetConfig(cfg Config) {
	if cfg.AllowedModels == nil {
		cfg.AllowedModels = map[string]bool{}
	}
	p.cfg.Set(cfg)
}

// Config returns the current gating configuration.
func (p *Proxy) Config() Config {
	return p.cfg.Get()
}

// chatRequest is just enough of the upstream chat body for the proxy's own
// checks; it is never used to rebuild the forwarded body, which is passed
// through unmodified.
type chatRequest struct {
	Model  string `json:"model"`
	Stream bool   `json:"stream"`
}

func (p *Proxy) handleChat(c *gin.Context) {
	ok := p.sem.TryAcquire(1)
	if !ok {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "busy"})
		return
	}
	defer p.sem.Release(1)

	cfg := p.cfg.Get()
	if !cfg.Enabled {
		c.JSON(http.StatusNotFound, gin.H{"error": "not sharing"})
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "request body too large"})
		return
	}

	var req chatRequest
	if err := json.Unmarshal(body, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}

	if req.Stream {
		c.JSON(http.StatusBadRequest, gin.H{"error": "stream not supported"})
		return
	}

	if cfg.Key != "" {
		got := c.GetHeader(ShareKeyHeader)
		if !hmac.Equal([]byte(got), []byte(cfg.Key)) {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
	}

	if req.Model == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing model"})
		return
	}
	if !cfg.AllowedModels[req.Model] {
		c.JSON(http.StatusForbidden, gin.H{"error": "model not allowed"})
		return
	}

	p.forward(c, body)
}

func (p *Proxy) forward(c *gin.Context, body []byte) {
	url := fmt.Sprintf("http://127.0.0.1:%d/api/chat", OllamaPort)
	ctx, cancel := context.WithTimeout(c.Request.Context(), TotalTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("building upstream request: %v", err)})
		return
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.upstream.Do(req)
	if err != nil {
		logger.Warn("shareproxy: upstream call failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("upstream unreachable: %v", err)})
		return
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	if status >= 600 || status < 100 {
		status = http.StatusBadGateway
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": fmt.Sprintf("reading upstream response: %v", err)})
		return
	}

	var parsed any
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		c.JSON(http.StatusBadGateway, gin.H{"error": "upstream returned non-JSON response"})
		return
	}
	c.JSON(status, parsed)
}

// bodyLimitMiddleware caps the request body at BodyLimit bytes before the
// handler reads it. Gin does not buffer the body on its own, so the cap
// has to wrap the underlying reader directly.
func bodyLimitMiddleware(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, BodyLimit)
	c.Next()
}

func newEngine(p *Proxy) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(bodyLimitMiddleware)
	r.POST("/api/chat", p.handleChat)
	return r
}

// Run starts the HTTP listener and blocks until ctx is canceled or the
// server fails to start.
func (p *Proxy) Run(ctx context.Context) error {
	p.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", Port),
		Handler: newEngine(p),
	}

	errCh := make(chan error, 1)
	go func() {
		if err := p.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return p.server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("shareproxy: listen: %w", err)
	}
}

package stream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/zhouzirui/crm-assistant/internal/model/chat"
)

const (
	DefaultConnectTimeout = 10 * time.Second

	readBufferSize = 4096
	maxErrorBody   = 4 << 10
)

// Transport opens streaming chat exchanges against one endpoint.
// It holds no chat semantics and never retries.
type Transport struct {
	endpoint    string
	client      *http.Client
	idleTimeout time.Duration
	logger      *zap.Logger
	now         func() time.Time
}

// Option customises a Transport.
type Option func(*Transport)

// WithHTTPClient overrides the HTTP client. The client must not carry an
// overall Timeout, or long replies would be cut off.
func WithHTTPClient(client *http.Client) Option {
	return func(t *Transport) {
		t.client = client
	}
}

// WithIdleTimeout fails a stream that delivers no bytes for d. Zero disables it.
func WithIdleTimeout(d time.Duration) Option {
	return func(t *Transport) {
		t.idleTimeout = d
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(t *Transport) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// NewTransport creates a transport posting to endpoint.
func NewTransport(endpoint string, opts ...Option) *Transport {
	t := &Transport{
		endpoint: endpoint,
		logger:   zap.NewNop(),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.client == nil {
		t.client = NewHTTPClient(DefaultConnectTimeout)
	}
	return t
}

// NewHTTPClient returns a client for long-lived streams: dialing, TLS and
// response headers are bounded by connectTimeout, the body is not.
func NewHTTPClient(connectTimeout time.Duration) *http.Client {
	if connectTimeout <= 0 {
		connectTimeout = DefaultConnectTimeout
	}
	dialer := &net.Dialer{Timeout: connectTimeout, KeepAlive: 30 * time.Second}

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.TLSHandshakeTimeout = connectTimeout
	transport.ResponseHeaderTimeout = connectTimeout

	return &http.Client{Transport: transport}
}

// Open issues the request and starts the read loop. Every decoded event is
// passed to consume, in wire order, from a single goroutine; the last event
// delivered is always terminal unless the handle is cancelled.
//
// Credential problems fail with *AuthError before any network I/O. Failures to
// establish the exchange fail with *ConnectError (or *AuthError for 401/403).
func (t *Transport) Open(ctx context.Context, token string, req Request, consume Consumer) (*Handle, error) {
	if err := CheckToken(token, t.now()); err != nil {
		return nil, &AuthError{Err: err}
	}
	if req.History == nil {
		req.History = []chat.Turn{}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal stream request: %w", err)
	}

	streamCtx, cancel := context.WithCancel(ctx)
	httpReq, err := http.NewRequestWithContext(streamCtx, http.MethodPost, t.endpoint, bytes.NewReader(body))
	if err != nil {
		cancel()
		return nil, &ConnectError{Err: err}
	}
	httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(token))
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "text/event-stream")
	httpReq.Header.Set("Cache-Control", "no-cache")

	resp, err := t.client.Do(httpReq)
	if err != nil {
		cancel()
		return nil, &ConnectError{Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		statusErr := errors.New(readErrorBody(resp))
		resp.Body.Close()
		cancel()
		if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
			return nil, &AuthError{Status: resp.StatusCode, Err: statusErr}
		}
		return nil, &ConnectError{Status: resp.StatusCode, Err: statusErr}
	}

	h := &Handle{
		cancel: cancel,
		done:   make(chan struct{}),
	}
	t.logger.Debug("stream opened", zap.String("endpoint", t.endpoint), zap.Int("history", len(req.History)))
	go h.run(resp.Body, NewDecoder(t.logger), consume, t.idleTimeout, t.logger)
	return h, nil
}

// Handle is one open exchange. It is released when the read loop exits.
type Handle struct {
	cancel    context.CancelFunc
	cancelled atomic.Bool
	timedOut  atomic.Bool
	once      sync.Once
	done      chan struct{}
}

// Cancel aborts the exchange and returns once the connection is released.
// Cancelling twice is a no-op. It must not be called from the consumer.
func (h *Handle) Cancel() {
	h.once.Do(func() {
		h.cancelled.Store(true)
		h.cancel()
	})
	<-h.done
}

// Done is closed when the read loop has exited and the body is closed.
func (h *Handle) Done() <-chan struct{} {
	return h.done
}

func (h *Handle) run(body io.ReadCloser, dec *Decoder, consume Consumer, idle time.Duration, logger *zap.Logger) {
	defer close(h.done)
	defer h.cancel()
	defer body.Close()

	var timer *time.Timer
	if idle > 0 {
		timer = time.AfterFunc(idle, func() {
			h.timedOut.Store(true)
			h.cancel()
		})
		defer timer.Stop()
	}

	// forward reports whether the loop may keep reading.
	forward := func(ev Event) bool {
		if h.cancelled.Load() {
			return false
		}
		consume(ev)
		return !ev.Terminal()
	}

	buf := make([]byte, readBufferSize)
	for {
		n, err := body.Read(buf)
		if n > 0 {
			if timer != nil {
				timer.Reset(idle)
			}
			for _, ev := range dec.Feed(buf[:n]) {
				if !forward(ev) {
					return
				}
			}
		}
		if err == nil {
			continue
		}

		dec.Flush()
		switch {
		case h.cancelled.Load():
			logger.Debug("stream cancelled")
		case h.timedOut.Load():
			logger.Warn("stream idle timeout", zap.Duration("idle", idle))
			forward(Event{Kind: Failed, Reason: ErrIdleTimeout.Error()})
		case errors.Is(err, io.EOF):
			forward(Event{Kind: Completed})
		default:
			logger.Warn("stream read failed", zap.Error(err))
			forward(Event{Kind: Failed, Reason: err.Error()})
		}
		return
	}
}

func readErrorBody(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	var payload struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error != "" {
		return payload.Error
	}
	if text := strings.TrimSpace(string(raw)); text != "" {
		return text
	}
	return http.StatusText(resp.StatusCode)
}

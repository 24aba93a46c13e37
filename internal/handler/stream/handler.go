package stream

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cloudwego/eino/schema"
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/zhouzirui/crm-assistant/internal/model/chat"
	aiService "github.com/zhouzirui/crm-assistant/internal/service/ai"
	"github.com/zhouzirui/crm-assistant/pkg/utils"
)

// DefaultHeartbeat is how long a stream may stay silent before a keep-alive
// comment frame is written.
const DefaultHeartbeat = 15 * time.Second

// Handler manages streaming AI responses via Server-Sent Events
type Handler struct {
	responder aiService.Responder
	heartbeat time.Duration
	logger    *zap.Logger
}

// Option customises a Handler.
type Option func(*Handler)

// WithHeartbeat sets the keep-alive interval. Zero disables keep-alives.
func WithHeartbeat(d time.Duration) Option {
	return func(h *Handler) {
		h.heartbeat = d
	}
}

// New creates a new stream handler
func New(responder aiService.Responder, logger *zap.Logger, opts ...Option) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handler{
		responder: responder,
		heartbeat: DefaultHeartbeat,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RegisterRoutes mounts the chat stream endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/chat/stream", h.handleStream)
}

// StreamRequest is the body of a chat stream request.
type StreamRequest struct {
	Message string      `json:"message"`
	History []chat.Turn `json:"history"`
}

// StreamResponse represents a streaming response chunk
type StreamResponse struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Error   string `json:"error,omitempty"`
}

func (h *Handler) handleStream(w http.ResponseWriter, r *http.Request) {
	var req StreamRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.RespondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		utils.RespondError(w, http.StatusBadRequest, "message is required")
		return
	}
	if h.responder == nil {
		utils.RespondError(w, http.StatusServiceUnavailable, "ai streaming unavailable")
		return
	}

	sse, err := utils.NewSSEWriter(w, h.logger)
	if err != nil {
		utils.RespondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	if err := h.HandleStreamRequest(ctx, sse, req); err != nil {
		if ctx.Err() != nil {
			h.logger.Debug("client went away", zap.Error(err))
			return
		}
		h.logger.Warn("stream failed", zap.Error(err))
		_ = sse.Send(StreamResponse{Type: "error", Error: fmt.Sprintf("AI generation failed: %v", err)})
	}
}

// HandleStreamRequest writes connected, message* and completed frames for one reply.
func (h *Handler) HandleStreamRequest(ctx context.Context, sse *utils.SSEWriter, req StreamRequest) error {
	if err := sse.Send(StreamResponse{Type: "connected"}); err != nil {
		return err
	}

	n, err := h.streamAIResponse(ctx, sse, req)
	if err != nil {
		return err
	}

	if err := sse.Send(StreamResponse{Type: "completed"}); err != nil {
		return err
	}

	h.logger.Info("completed response", zap.String("model", h.responder.Model()), zap.Int("chunks", n))
	return nil
}

type chunk struct {
	msg *schema.Message
	err error
}

func (h *Handler) streamAIResponse(ctx context.Context, sse *utils.SSEWriter, req StreamRequest) (int, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := h.responder.StreamResponse(ctx, req.History, req.Message)
	if err != nil {
		return 0, err
	}

	chunks := make(chan chunk)
	go func() {
		defer stream.Close()
		for {
			msg, recvErr := stream.Recv()
			select {
			case chunks <- chunk{msg: msg, err: recvErr}:
			case <-ctx.Done():
				return
			}
			if recvErr != nil {
				return
			}
		}
	}()

	var ticker *time.Ticker
	var keepAlive <-chan time.Time
	if h.heartbeat > 0 {
		ticker = time.NewTicker(h.heartbeat)
		defer ticker.Stop()
		keepAlive = ticker.C
	}

	sent := 0
	for {
		select {
		case <-ctx.Done():
			return sent, ctx.Err()
		case <-keepAlive:
			if err := sse.Comment("keep-alive"); err != nil {
				return sent, err
			}
		case c := <-chunks:
			if errors.Is(c.err, io.EOF) {
				return sent, nil
			}
			if c.err != nil {
				return sent, c.err
			}
			if c.msg == nil || c.msg.Content == "" {
				continue
			}

			if err := sse.Send(StreamResponse{Type: "message", Content: c.msg.Content}); err != nil {
				return sent, err
			}
			sent++
			if ticker != nil {
				ticker.Reset(h.heartbeat)
			}
		}
	}
}

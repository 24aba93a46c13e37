package status

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	aiService "github.com/zhouzirui/crm-assistant/internal/service/ai"
	"github.com/zhouzirui/crm-assistant/pkg/utils"
)

// Handler reports whether the assistant can answer.
type Handler struct {
	responder  aiService.Responder
	configured bool
}

// New creates a status handler. configured tells whether a real model backs
// the responder.
func New(responder aiService.Responder, configured bool) *Handler {
	return &Handler{responder: responder, configured: configured}
}

// RegisterRoutes mounts the status endpoint.
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/status", h.handleStatus)
}

type statusResponse struct {
	Available  bool   `json:"available"`
	Configured bool   `json:"configured"`
	Model      string `json:"model,omitempty"`
	Message    string `json:"message,omitempty"`
}

func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := statusResponse{
		Available:  h.responder != nil,
		Configured: h.configured,
	}
	switch {
	case h.responder == nil:
		resp.Message = "assistant unavailable"
	case !h.configured:
		resp.Model = h.responder.Model()
		resp.Message = "no model configured, replies are echoed"
	default:
		resp.Model = h.responder.Model()
	}
	utils.RespondJSON(w, http.StatusOK, resp)
}

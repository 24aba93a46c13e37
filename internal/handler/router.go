package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/zhouzirui/crm-assistant/internal/handler/status"
	"github.com/zhouzirui/crm-assistant/internal/handler/stream"
	middlewarePkg "github.com/zhouzirui/crm-assistant/internal/middleware"
	aiService "github.com/zhouzirui/crm-assistant/internal/service/ai"
)

// NewRouter wires the assistant HTTP routes. The status endpoint is public;
// the chat stream requires a bearer token.
func NewRouter(responder aiService.Responder, configured bool, jwtSecret string, logger *zap.Logger) http.Handler {
	if logger == nil {
		logger = zap.NewNop()
	}

	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middlewarePkg.RequestLogger(logger))
	r.Use(middleware.Recoverer)
	r.Use(middlewarePkg.CORS)

	statusHandler := status.New(responder, configured)
	streamHandler := stream.New(responder, logger.Named("stream"))

	r.Route("/api/assistant", func(api chi.Router) {
		statusHandler.RegisterRoutes(api)

		api.Group(func(protected chi.Router) {
			protected.Use(middlewarePkg.BearerAuth(jwtSecret))
			streamHandler.RegisterRoutes(protected)
		})
	})

	return r
}

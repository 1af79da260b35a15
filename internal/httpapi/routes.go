package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"stackrush/internal/relay"
	"stackrush/internal/ws"
)

func SetupRoutes(reg *relay.Registry, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Get("/rooms", ListRooms(reg))
	r.Get("/ws", ws.Handler(reg, log))
	return r
}

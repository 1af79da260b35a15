package httpapi

import (
	"encoding/json"
	"net/http"

	"stackrush/internal/relay"
)

// ListRooms serves the same summaries the wire roomList message carries,
// for dashboards and probes that do not hold a socket open.
func ListRooms(reg *relay.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(struct {
			Rooms any `json:"rooms"`
		}{Rooms: reg.List()})
	}
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

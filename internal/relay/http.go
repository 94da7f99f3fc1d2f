package relay

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/matheus3301/relay/internal/protocol"
)

// Handler routes the websocket endpoint and the read-only HTTP queries.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Get("/ws", s.ServeWS)
	r.Get("/api/messages", s.handleMessages)
	r.Get("/up", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{
			"status":      "ok",
			"online":      s.reg.OnlineCount(),
			"connections": s.bc.Len(),
		})
	})
	return r
}

// handleMessages serves GET /api/messages?since=<ms>&limit=<n>.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	since, err := queryInt(q.Get("since"), 0)
	if err != nil || since < 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "since must be a non-negative integer"})
		return
	}
	limit, err := queryInt(q.Get("limit"), int64(s.opts.QueryPageSize))
	if err != nil || limit <= 0 {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "limit must be a positive integer"})
		return
	}
	if limit > int64(s.opts.QueryPageSize) {
		limit = int64(s.opts.QueryPageSize)
	}

	msgs := s.history.Since(since, int(limit))
	if msgs == nil {
		msgs = []protocol.MessageRecord{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": msgs})
}

func queryInt(raw string, def int64) (int64, error) {
	if raw == "" {
		return def, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

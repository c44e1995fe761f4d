package client

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/mqy/minichat/chatstore"
)

type tabState struct {
	Origin        string                   `json:"origin"`
	Username      string                   `json:"username"`
	Connected     bool                     `json:"connected"`
	Active        string                   `json:"active,omitempty"`
	Conversations []chatstore.Conversation `json:"conversations,omitempty"`
	Messages      []chatstore.Msg          `json:"messages,omitempty"`
}

// NewDebugRouter serves prometheus metrics and a JSON view of sessions.
func NewDebugRouter(sessions []*Session) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.HandlerFor(prometheus.DefaultGatherer, promhttp.HandlerOpts{}))

	r.Get("/debug/conversations", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query().Get("q")
		out := make([]tabState, 0, len(sessions))
		for _, s := range sessions {
			st := s.state()
			st.Conversations = s.Conversations(q)
			out = append(out, st)
		}
		writeJSON(w, out)
	})
	r.Get("/debug/messages", func(w http.ResponseWriter, r *http.Request) {
		out := make([]tabState, 0, len(sessions))
		for _, s := range sessions {
			st := s.state()
			st.Messages = s.Messages()
			out = append(out, st)
		}
		writeJSON(w, out)
	})
	return r
}

func (s *Session) state() tabState {
	return tabState{
		Origin:    s.Origin(),
		Username:  s.Username(),
		Connected: s.Connected(),
		Active:    s.ActiveConversation(),
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("client: write debug response error: %v", err)
	}
}

package fakeserver

import (
	"net/http"
	"strings"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/mqy/minichat/wire"
)

// hub accepts websocket connections and routes pushes to their subscriptions.
type hub struct {
	server *Server
	hstore *sessionStore
}

func newHub(server *Server) *hub {
	return &hub{server: server, hstore: newSessionStore()}
}

// ServeHTTP upgrades the request, authentication happens on CONNECT.
func (h *hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Errorf("fakeserver: upgrade error: %v", err)
		return
	}

	s := &session{
		sid:      strings.ReplaceAll(uuid.New(), "-", ""),
		hub:      h,
		conn:     conn,
		subs:     make(map[string]string),
		dataChan: make(chan *outbound, 64),
	}
	conn.SetCloseHandler(func(code int, text string) error {
		glog.V(5).Infof("fakeserver: session closed by peer, session: %s, code: %d", s.sid, code)
		return nil
	})
	h.hstore.add(s)

	go s.recvLoop()
	go s.sendLoop()
}

// push delivers body to every subscription on destination. users limits the
// sessions to the given users; nil means all.
func (h *hub) push(destination, messageID string, body []byte, users []string) int {
	var sessions []*session
	if users == nil {
		sessions = h.hstore.all()
	} else {
		for _, u := range users {
			sessions = append(sessions, h.hstore.getByUser(u)...)
		}
	}

	var n int
	for _, s := range sessions {
		for _, id := range s.subscriptionsTo(destination) {
			f := frame.New(frame.MESSAGE,
				frame.Subscription, id,
				frame.Destination, destination,
				frame.MessageId, messageID,
				frame.ContentType, wire.ContentTypeJSON,
			)
			f.Body = body
			s.appendDataChan(&outbound{frame: f})
			n++
		}
	}
	glog.V(5).Infof("fakeserver: push %s to %d subscriptions", destination, n)
	return n
}

func (h *hub) kickoff() {
	for _, s := range h.hstore.all() {
		s.close(kickedOff)
	}
}

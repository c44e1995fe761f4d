package fakeserver

import (
	"net/http"
	"sync"
	"time"

	"github.com/go-stomp/stomp/v3/frame"
	"github.com/golang/glog"
	"github.com/gorilla/websocket"

	"github.com/mqy/minichat/wire"
)

type closeCause int

const (
	readError  closeCause = 1
	writeError closeCause = 2
	pingError  closeCause = 3
	badRequest closeCause = 4
	serverStop closeCause = 5
	kickedOff  closeCause = 6
	peerLeft   closeCause = 7
)

const (
	writeWait  = 3 * time.Second
	pingPeriod = 20 * time.Second
	pongWait   = 25 * time.Second
	readLimit  = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// outbound is the element of `dataChan`: a frame to write, or a cause to close.
type outbound struct {
	frame *frame.Frame
	cause closeCause
}

// session serves one websocket connection speaking STOMP.
type session struct {
	sync.Mutex
	sid  string
	hub  *hub
	conn *websocket.Conn

	username string
	// subscription id -> destination
	subs map[string]string

	dataChan chan *outbound
	closing  bool
}

func (s *session) String() string {
	return s.sid + "/" + s.user()
}

func (s *session) user() string {
	s.Lock()
	defer s.Unlock()
	return s.username
}

func (s *session) close(cause closeCause) {
	s.Lock()
	defer s.Unlock()
	if s.closing {
		return
	}
	s.closing = true

	_ = s.conn.WriteControl(websocket.CloseMessage, []byte{}, time.Now().Add(writeWait))
	s.conn.Close()

	close(s.dataChan)

	glog.V(5).Infof("fakeserver: session closed, cause: %d, %s/%s", cause, s.sid, s.username)
	s.hub.hstore.del(s.sid)
}

func (s *session) appendDataChan(v *outbound) {
	s.Lock()
	defer s.Unlock()
	if !s.closing {
		select {
		case s.dataChan <- v:
		default:
			glog.Warningf("fakeserver: session %s is slow, drop %v", s.sid, v.frame)
		}
	}
}

func (s *session) fail(message string) {
	s.appendDataChan(&outbound{frame: frame.New(frame.ERROR, frame.Message, message)})
	s.appendDataChan(&outbound{cause: badRequest})
}

// subscriptionsTo returns the ids subscribed to destination.
func (s *session) subscriptionsTo(destination string) []string {
	s.Lock()
	defer s.Unlock()
	var ids []string
	for id, d := range s.subs {
		if d == destination {
			ids = append(ids, id)
		}
	}
	return ids
}

func (s *session) destinations() []string {
	s.Lock()
	defer s.Unlock()
	out := make([]string, 0, len(s.subs))
	for _, d := range s.subs {
		out = append(out, d)
	}
	return out
}

func (s *session) recvLoop() {
	defer func() { glog.V(5).Infof("fakeserver: recvLoop(): exited, session: %s", s) }()

	s.conn.SetReadLimit(readLimit)
	s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})
	s.conn.SetPingHandler(func(data string) error {
		s.conn.SetReadDeadline(time.Now().Add(pongWait))
		return s.conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(writeWait))
	})

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			glog.V(5).Infof("fakeserver: recvLoop(): read error: %v", err)
			s.appendDataChan(&outbound{cause: readError})
			return
		}
		s.conn.SetReadDeadline(time.Now().Add(pongWait))

		f, err := wire.Decode(data)
		if err != nil {
			glog.Errorf("fakeserver: recvLoop(): %v", err)
			s.fail("malformed frame")
			return
		}
		if f == nil {
			continue
		}

		if f.Command != frame.CONNECT && f.Command != frame.STOMP && s.user() == "" {
			s.fail("not connected")
			return
		}

		switch f.Command {
		case frame.CONNECT, frame.STOMP:
			username, ok := s.hub.server.authenticate(f.Header.Get(wire.HeaderAuthorization), f.Header.Get(wire.HeaderUsername))
			if !ok {
				glog.Errorf("fakeserver: recvLoop(): authenticate `%s` failed", f.Header.Get(wire.HeaderUsername))
				s.fail("unauthorized")
				return
			}
			s.Lock()
			s.username = username
			s.Unlock()
			s.appendDataChan(&outbound{frame: frame.New(frame.CONNECTED,
				frame.Version, wire.Version,
				frame.HeartBeat, "0,0",
			)})
		case frame.SUBSCRIBE:
			id, dest := f.Header.Get(frame.Id), f.Header.Get(frame.Destination)
			if id == "" || dest == "" {
				s.fail("subscribe requires id and destination")
				return
			}
			s.Lock()
			s.subs[id] = dest
			s.Unlock()
		case frame.UNSUBSCRIBE:
			s.Lock()
			delete(s.subs, f.Header.Get(frame.Id))
			s.Unlock()
		case frame.SEND:
			if err := s.hub.server.handleSend(s.user(), f.Header.Get(frame.Destination), f.Body); err != nil {
				glog.Errorf("fakeserver: recvLoop(): SEND error: %v", err)
				s.fail(err.Error())
				return
			}
		case frame.DISCONNECT:
			s.appendDataChan(&outbound{cause: peerLeft})
			return
		default:
			glog.Warningf("fakeserver: recvLoop(): unsupported %s frame", f.Command)
		}
	}
}

func (s *session) sendLoop() {
	pingTicker := time.NewTicker(pingPeriod)
	defer func() {
		pingTicker.Stop()
		glog.V(5).Infof("fakeserver: sendLoop(): exited, session: %s", s)
	}()

	for {
		select {
		case v, ok := <-s.dataChan:
			if !ok {
				return
			}
			if v.cause > 0 {
				s.close(v.cause)
				return
			}
			data, err := wire.Encode(v.frame)
			if err != nil {
				glog.Errorf("fakeserver: sendLoop(): %v", err)
				continue
			}
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				glog.Errorf("fakeserver: sendLoop(): write error, session: %s, err: %v", s, err)
				s.close(writeError)
				return
			}
		case <-pingTicker.C:
			s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				glog.Errorf("fakeserver: sendLoop(): write ping error, session: %s, err: %v", s, err)
				s.close(pingError)
				return
			}
		}
	}
}

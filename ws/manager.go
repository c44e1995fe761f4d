package ws

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/auth"
)

const DefaultRetryDelay = 5 * time.Second

// Handler receives the bodies pushed to one subscription.
type Handler func(body []byte)

// Subscription is bound to the connection it was made on, a reconnect
// invalidates it.
type Subscription struct {
	ID          string
	Destination string

	m    *Manager
	conn ITransport
}

// Unsubscribe stops delivery. It is safe to call after the connection was lost.
func (s *Subscription) Unsubscribe() {
	if s != nil {
		s.m.unsubscribe(s)
	}
}

// Manager owns the one push connection of an instance. It retries at a fixed
// delay until Disconnect.
type Manager struct {
	sync.Mutex
	url        string
	retryDelay time.Duration
	dial       DialFunc

	// serializes Connect and Disconnect
	lifecycle sync.Mutex

	creds    auth.Credentials
	cancel   context.CancelFunc
	loopDone chan struct{}

	conn      ITransport
	handlers  map[string]Handler
	nextSub   uint64
	listeners []func(connected bool)
}

func NewManager(url string, retryDelay time.Duration) *Manager {
	if retryDelay <= 0 {
		retryDelay = DefaultRetryDelay
	}
	return &Manager{
		url:        url,
		retryDelay: retryDelay,
		dial:       DialSTOMP,
		handlers:   make(map[string]Handler),
	}
}

// Connect starts connecting with creds. It is a no-op for the credentials
// already in use; other credentials replace the current connection.
func (m *Manager) Connect(creds auth.Credentials) {
	if !creds.Valid() {
		glog.Warningf("ws: missing token or username, not connecting")
		return
	}

	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()

	m.Lock()
	running := m.cancel != nil
	same := m.creds == creds
	m.Unlock()
	if running && same {
		return
	}
	m.stop()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	m.Lock()
	m.creds = creds
	m.cancel = cancel
	m.loopDone = done
	m.Unlock()

	go m.run(ctx, creds, done)
}

// Disconnect closes the connection and stops retrying.
func (m *Manager) Disconnect() {
	m.lifecycle.Lock()
	defer m.lifecycle.Unlock()
	m.stop()
}

func (m *Manager) stop() {
	m.Lock()
	cancel, done := m.cancel, m.loopDone
	m.cancel, m.loopDone = nil, nil
	m.creds = auth.Credentials{}
	m.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

func (m *Manager) run(ctx context.Context, creds auth.Credentials, done chan struct{}) {
	defer close(done)

	for {
		conn, err := m.dial(ctx, m.url, creds, m.dispatch)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			glog.Errorf("ws: connect to %s as `%s` error: %v, retry in %s", m.url, creds.Username, err, m.retryDelay)
		} else {
			glog.Infof("ws: connected to %s as `%s`", m.url, creds.Username)
			m.setConn(conn)
			select {
			case <-conn.Done():
				glog.Warningf("ws: connection lost, retry in %s", m.retryDelay)
			case <-ctx.Done():
			}
			m.setConn(nil)
			conn.Close()
			if ctx.Err() != nil {
				glog.Infof("ws: disconnected from %s", m.url)
				return
			}
		}

		timer := time.NewTimer(m.retryDelay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
		reconnects.Inc()
	}
}

// setConn swaps the live connection; every handler of the old one is dropped.
func (m *Manager) setConn(conn ITransport) {
	m.Lock()
	m.conn = conn
	m.handlers = make(map[string]Handler)
	listeners := append(([]func(bool))(nil), m.listeners...)
	m.Unlock()

	if conn != nil {
		connectedGauge.Inc()
	} else {
		connectedGauge.Dec()
	}
	for _, fn := range listeners {
		fn(conn != nil)
	}
}

func (m *Manager) dispatch(subID string, body []byte) {
	m.Lock()
	h := m.handlers[subID]
	m.Unlock()
	if h == nil {
		glog.V(5).Infof("ws: drop message of inactive subscription %s", subID)
		return
	}
	h(body)
}

func (m *Manager) Connected() bool {
	m.Lock()
	defer m.Unlock()
	return m.conn != nil
}

// OnStateChange registers fn for every connect and disconnect. fn runs on the
// connection goroutine, Subscribe is allowed from it.
func (m *Manager) OnStateChange(fn func(connected bool)) {
	m.Lock()
	m.listeners = append(m.listeners, fn)
	m.Unlock()
}

// Subscribe returns nil while disconnected.
func (m *Manager) Subscribe(destination string, h Handler) *Subscription {
	m.Lock()
	conn := m.conn
	if conn == nil {
		m.Unlock()
		return nil
	}
	m.nextSub++
	id := fmt.Sprintf("sub-%d", m.nextSub)
	m.handlers[id] = h
	m.Unlock()

	if err := conn.Subscribe(id, destination); err != nil {
		glog.Errorf("ws: subscribe %s error: %v", destination, err)
		m.Lock()
		delete(m.handlers, id)
		m.Unlock()
		return nil
	}
	glog.V(5).Infof("ws: subscribed %s, id: %s", destination, id)
	return &Subscription{ID: id, Destination: destination, m: m, conn: conn}
}

func (m *Manager) unsubscribe(s *Subscription) {
	m.Lock()
	delete(m.handlers, s.ID)
	live := m.conn == s.conn
	m.Unlock()
	if !live {
		return
	}
	if err := s.conn.Unsubscribe(s.ID); err != nil {
		glog.Errorf("ws: unsubscribe %s error: %v", s.Destination, err)
		return
	}
	glog.V(5).Infof("ws: unsubscribed %s, id: %s", s.Destination, s.ID)
}

// Publish reports false, without error, while disconnected.
func (m *Manager) Publish(destination string, body []byte) bool {
	m.Lock()
	conn := m.conn
	m.Unlock()
	if conn == nil {
		return false
	}
	if err := conn.Send(destination, body); err != nil {
		glog.Errorf("ws: publish to %s error: %v", destination, err)
		return false
	}
	return true
}

package fakeserver

import (
	"sync"
)

// memory store of live STOMP sessions.
type sessionStore struct {
	sync.RWMutex
	sessions map[string]*session
}

func newSessionStore() *sessionStore {
	return &sessionStore{sessions: make(map[string]*session)}
}

func (ss *sessionStore) add(s *session) {
	ss.Lock()
	ss.sessions[s.sid] = s
	ss.Unlock()
}

func (ss *sessionStore) del(sid string) bool {
	ss.Lock()
	defer ss.Unlock()
	if _, ok := ss.sessions[sid]; ok {
		delete(ss.sessions, sid)
		return true
	}
	return false
}

func (ss *sessionStore) all() []*session {
	ss.RLock()
	defer ss.RUnlock()
	out := make([]*session, 0, len(ss.sessions))
	for _, s := range ss.sessions {
		out = append(out, s)
	}
	return out
}

func (ss *sessionStore) getByUser(username string) []*session {
	ss.RLock()
	defer ss.RUnlock()
	var out []*session
	for _, s := range ss.sessions {
		if s.user() == username {
			out = append(out, s)
		}
	}
	return out
}

func (ss *sessionStore) close() {
	for _, s := range ss.all() {
		s.close(serverStop)
	}
}

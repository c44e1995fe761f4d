// Package fakeserver is an in-memory chat backend: the REST endpoints and a
// STOMP broker over websocket, enough to run clients against locally and in
// tests.
package fakeserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/golang/glog"
	"github.com/pborman/uuid"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/wire"
)

// layout of the server's zone-less timestamps
const localDateTime = "2006-01-02T15:04:05.000000"

type user struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Online   bool   `json:"online"`
}

type group struct {
	ID      int64    `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type message struct {
	ID        int64  `json:"id"`
	ChatID    string `json:"chatId"`
	Sender    string `json:"sender"`
	Content   string `json:"content"`
	Timestamp string `json:"timestamp"`
	Type      string `json:"type"`
}

type sendReq struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

type createGroupReq struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

type ctxKey struct{}

// Server is safe for concurrent use.
type Server struct {
	sync.RWMutex
	router http.Handler
	hub    *hub

	users     map[string]*user
	nextUser  int64
	tokens    map[string]string // token -> username
	groups    map[int64]*group
	nextGroup int64
	msgs      map[string][]*message
	nextMsg   int64
	failLast  map[string]bool
	held      map[string]chan struct{}

	now func() time.Time
}

func New() *Server {
	s := &Server{
		users:     make(map[string]*user),
		tokens:    make(map[string]string),
		groups:    make(map[int64]*group),
		nextGroup: 1,
		msgs:      make(map[string][]*message),
		failLast:  make(map[string]bool),
		held:      make(map[string]chan struct{}),
		now:       time.Now,
	}
	s.hub = newHub(s)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Authorization", "Content-Type", "Accept"},
		MaxAge:         300,
	}))
	r.Get("/ws/websocket", s.hub.ServeHTTP)
	r.Group(func(r chi.Router) {
		r.Use(s.requireAuth)
		r.Get("/api/users", s.listUsers)
		r.Get("/api/groups/{username}", s.listGroups)
		r.Post("/api/groups", s.createGroup)
		r.Get("/api/messages/{chatId}", s.history)
		r.Get("/api/messages/{chatId}/last", s.lastMessage)
	})
	s.router = r
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// AddUser registers username and returns its bearer token.
func (s *Server) AddUser(username string) string {
	s.Lock()
	defer s.Unlock()
	if _, ok := s.users[username]; !ok {
		s.nextUser++
		s.users[username] = &user{ID: s.nextUser, Username: username, Email: username + "@example.com"}
	}
	token := strings.ReplaceAll(uuid.New(), "-", "")
	s.tokens[token] = username
	return token
}

// SetNextGroupID sets the id of the next created group.
func (s *Server) SetNextGroupID(id int64) {
	s.Lock()
	s.nextGroup = id
	s.Unlock()
}

// FailLastMessage makes `/last` of chatID answer 500.
func (s *Server) FailLastMessage(chatID string, fail bool) {
	s.Lock()
	s.failLast[chatID] = fail
	s.Unlock()
}

// Hold blocks history and `/last` requests of chatID until release is called.
func (s *Server) Hold(chatID string) (release func()) {
	ch := make(chan struct{})
	s.Lock()
	s.held[chatID] = ch
	s.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			s.Lock()
			if s.held[chatID] == ch {
				delete(s.held, chatID)
			}
			s.Unlock()
			close(ch)
		})
	}
}

func (s *Server) waitHeld(r *http.Request, chatID string) {
	s.RLock()
	ch := s.held[chatID]
	s.RUnlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	case <-r.Context().Done():
	}
}

// DropConnections closes every websocket session.
func (s *Server) DropConnections() {
	s.hub.kickoff()
}

// Close disconnects every session.
func (s *Server) Close() {
	s.hub.hstore.close()
}

// Subscriptions lists the destinations username is subscribed to, over all
// its sessions, sorted.
func (s *Server) Subscriptions(username string) []string {
	var out []string
	for _, sess := range s.hub.hstore.getByUser(username) {
		out = append(out, sess.destinations()...)
	}
	sort.Strings(out)
	return out
}

func (s *Server) authenticate(authorization, username string) (string, bool) {
	token := strings.TrimPrefix(authorization, "Bearer ")
	if token == "" || token == authorization {
		return "", false
	}
	s.RLock()
	defer s.RUnlock()
	owner, ok := s.tokens[token]
	if !ok || (username != "" && username != owner) {
		return "", false
	}
	return owner, true
}

func (s *Server) requireAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, ok := s.authenticate(r.Header.Get("Authorization"), "")
		if !ok {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, username)))
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		glog.Errorf("fakeserver: write response error: %v", err)
	}
}

func (s *Server) listUsers(w http.ResponseWriter, r *http.Request) {
	s.RLock()
	out := make([]user, 0, len(s.users))
	for _, u := range s.users {
		out = append(out, *u)
	}
	s.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	for i := range out {
		out[i].Online = len(s.hub.hstore.getByUser(out[i].Username)) > 0
	}
	writeJSON(w, out)
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	username := chi.URLParam(r, "username")
	s.RLock()
	out := []group{}
	for _, g := range s.groups {
		if contains(g.Members, username) {
			out = append(out, *g)
		}
	}
	s.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	writeJSON(w, out)
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var req createGroupReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		http.Error(w, "bad request", http.StatusBadRequest)
		return
	}
	creator := r.Context().Value(ctxKey{}).(string)

	s.Lock()
	g := &group{ID: s.nextGroup, Name: req.Name}
	s.nextGroup++
	for _, m := range append([]string{creator}, req.Members...) {
		if m != "" && !contains(g.Members, m) {
			g.Members = append(g.Members, m)
		}
	}
	s.groups[g.ID] = g
	s.Unlock()

	body, _ := json.Marshal(g)
	s.hub.push(wire.GroupCreatedQueue, strconv.FormatInt(g.ID, 10), body, g.Members)
	glog.V(5).Infof("fakeserver: group %d `%s` created by %s", g.ID, g.Name, creator)
	writeJSON(w, g)
}

func (s *Server) history(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	s.waitHeld(r, chatID)
	s.RLock()
	out := make([]message, 0, len(s.msgs[chatID]))
	for _, m := range s.msgs[chatID] {
		out = append(out, *m)
	}
	s.RUnlock()
	writeJSON(w, out)
}

func (s *Server) lastMessage(w http.ResponseWriter, r *http.Request) {
	chatID := chi.URLParam(r, "chatId")
	s.waitHeld(r, chatID)
	s.RLock()
	fail := s.failLast[chatID]
	var last *message
	if slice := s.msgs[chatID]; len(slice) > 0 {
		m := *slice[len(slice)-1]
		last = &m
	}
	s.RUnlock()

	if fail {
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	if last == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, last)
}

// Post stores a message as if sender had sent it, and pushes it.
func (s *Server) Post(chatID, sender, content string) error {
	if n, ok := chatstore.GroupNumber(chatID); ok {
		return s.handleSend(sender, wire.AppGroup(n), mustJSON(&sendReq{Content: content}))
	}
	return s.handleSend(sender, wire.AppChat(chatID), mustJSON(&sendReq{Content: content}))
}

func mustJSON(v interface{}) []byte {
	b, _ := json.Marshal(v)
	return b
}

func (s *Server) handleSend(sender, destination string, body []byte) error {
	isGroup, id, ok := wire.ParseApp(destination)
	if !ok {
		return fmt.Errorf("unknown destination `%s`", destination)
	}
	var req sendReq
	if err := json.Unmarshal(body, &req); err != nil {
		return fmt.Errorf("bad message: %v", err)
	}
	if req.Type == "" {
		req.Type = string(chatstore.MsgKind_Chat)
	}

	var (
		chatID string
		push   string
		users  []string
	)
	if isGroup {
		gid, err := strconv.ParseInt(id, 10, 64)
		if err != nil {
			return fmt.Errorf("bad group `%s`", id)
		}
		s.RLock()
		g, found := s.groups[gid]
		if found {
			users = append([]string(nil), g.Members...)
		}
		s.RUnlock()
		if !found || !contains(users, sender) {
			return errors.New("not a member")
		}
		chatID, push = chatstore.GroupID(id), wire.GroupQueue(id)
	} else {
		if _, ok := chatstore.Peer(id, sender); !ok {
			return errors.New("not a participant")
		}
		chatID, push = id, wire.TopicChat(id)
	}

	s.Lock()
	s.nextMsg++
	m := &message{
		ID:        s.nextMsg,
		ChatID:    chatID,
		Sender:    sender,
		Content:   req.Content,
		Timestamp: s.now().UTC().Format(localDateTime),
		Type:      req.Type,
	}
	s.msgs[chatID] = append(s.msgs[chatID], m)
	s.Unlock()

	out, _ := json.Marshal(m)
	s.hub.push(push, strconv.FormatInt(m.ID, 10), out, users)
	return nil
}

func contains(slice []string, v string) bool {
	for _, x := range slice {
		if x == v {
			return true
		}
	}
	return false
}

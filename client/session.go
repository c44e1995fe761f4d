// Package client wires one chat client instance ("tab"): conversation list,
// open conversation, push connection, REST reconciliation and cross tab sync,
// over a shared store.
package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/config"
	"github.com/mqy/minichat/crosstab"
	"github.com/mqy/minichat/reconcile"
	"github.com/mqy/minichat/rest"
	"github.com/mqy/minichat/store"
	"github.com/mqy/minichat/ws"
)

const pushFetchTimeout = 10 * time.Second

var ErrEmptyMessage = errors.New("client: empty message")

// publisher breaks the construction cycle between MessageStore and Router.
type publisher struct {
	router *ws.Router
}

func (p *publisher) Publish(m *chatstore.Msg) error {
	return p.router.Publish(m)
}

type Session struct {
	store store.IStore
	creds auth.Credentials

	api        *rest.Client
	list       *chatstore.ListStore
	messages   *chatstore.MessageStore
	mgr        *ws.Manager
	router     *ws.Router
	reconciler *reconcile.Reconciler
	xtab       *crosstab.Sync

	wg sync.WaitGroup
}

// New builds a session over st, which must hold the credentials.
func New(cfg *config.Config, st store.IStore) (*Session, error) {
	authClient := &auth.StoreClient{Store: st}
	creds, err := authClient.Credentials()
	if err != nil {
		return nil, err
	}

	s := &Session{
		store: st,
		creds: creds,
		api:   rest.NewClient(cfg.APIURL, authClient),
		list:  chatstore.NewListStore(st),
		mgr:   ws.NewManager(cfg.WSURL, cfg.ReconnectDelay),
	}
	s.reconciler = reconcile.NewReconciler(s.api, s.list, creds.Username, cfg.RefreshInterval, cfg.PreviewParallelism)
	s.xtab = crosstab.New(st, s.list, s.reconciler, cfg.PollInterval)

	pub := &publisher{}
	s.messages = chatstore.NewMessageStore(creds.Username, s.api, pub)
	s.router = ws.NewRouter(creds.Username, s.mgr, s.messages, s.xtab)
	pub.router = s.router
	s.router.OnGroupCreated(s.onGroupCreated)
	return s, nil
}

func (s *Session) Username() string { return s.creds.Username }

func (s *Session) Origin() string { return s.store.Origin() }

// Run serves the session until ctx is done.
func (s *Session) Run(ctx context.Context) error {
	if err := s.list.Load(); err != nil {
		return fmt.Errorf("load conversations: %w", err)
	}
	s.mgr.Connect(s.creds)

	if id, err := store.GetString(s.store, store.KeySelected); err != nil {
		glog.Errorf("client: read last opened conversation error: %v", err)
	} else if id != "" {
		if err := s.Open(ctx, id); err != nil {
			glog.Warningf("client: reopen `%s`: %v", id, err)
		}
	}

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.reconciler.Run(ctx)
	}()
	go func() {
		defer s.wg.Done()
		s.xtab.Run(ctx)
	}()

	<-ctx.Done()
	s.mgr.Disconnect()
	s.wg.Wait()
	glog.Infof("client: session of `%s` (%s) stopped", s.creds.Username, s.store.Origin())
	return nil
}

// Open makes id the open conversation and loads its history.
// Pushes are accepted as soon as the subscription is active.
func (s *Session) Open(ctx context.Context, id string) error {
	s.messages.Switch(id)
	s.router.SetActiveConversation(id)
	if err := s.store.Put(store.KeySelected, []byte(id)); err != nil {
		glog.Errorf("client: persist selected conversation error: %v", err)
	}
	return s.messages.LoadHistory(ctx, id)
}

func (s *Session) CloseConversation() {
	s.router.SetActiveConversation("")
	s.messages.Close()
	if err := s.store.Delete(store.KeySelected); err != nil {
		glog.Errorf("client: clear selected conversation error: %v", err)
	}
}

// Send echoes content into the open conversation, publishes it and announces
// the new preview.
func (s *Session) Send(content string) (*chatstore.Msg, error) {
	if strings.TrimSpace(content) == "" {
		return nil, ErrEmptyMessage
	}
	m, err := s.messages.SendLocal(content)
	if err != nil {
		return nil, err
	}
	s.xtab.NotifyPreviewChanged(m.ConversationID, m.Preview())
	return m, nil
}

// StartPrivateChat adds the conversation with peer and opens it.
func (s *Session) StartPrivateChat(ctx context.Context, peer string) (string, error) {
	if peer == "" || peer == s.creds.Username {
		return "", fmt.Errorf("client: bad peer `%s`", peer)
	}
	c := chatstore.Conversation{
		ID:          chatstore.PrivateID(s.creds.Username, peer),
		DisplayName: peer,
		Kind:        chatstore.ChatKind_Private,
	}
	for _, u := range s.reconciler.Users() {
		if u.Username == peer && u.Online != nil {
			online := *u.Online
			c.Presence = &online
		}
	}
	s.list.Upsert(c)
	s.fetchPreview(ctx, c.ID)
	return c.ID, s.Open(ctx, c.ID)
}

// CreateGroup creates a group with the local user and members.
func (s *Session) CreateGroup(ctx context.Context, name string, members []string) (*chatstore.Conversation, error) {
	g, err := s.api.CreateGroup(ctx, name, members)
	if err != nil {
		return nil, fmt.Errorf("create group: %w", err)
	}
	c := s.addGroup(ctx, g)
	return &c, nil
}

// onGroupCreated runs on the receive loop; the preview is fetched aside.
func (s *Session) onGroupCreated(g *chatstore.Group) {
	c := g.Conversation()
	s.list.Upsert(c)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), pushFetchTimeout)
		defer cancel()
		s.fetchPreview(ctx, c.ID)
	}()
}

func (s *Session) addGroup(ctx context.Context, g *chatstore.Group) chatstore.Conversation {
	c := g.Conversation()
	s.list.Upsert(c)
	s.fetchPreview(ctx, c.ID)
	return c
}

func (s *Session) fetchPreview(ctx context.Context, id string) {
	p, err := s.api.LastMessage(ctx, id)
	if err != nil {
		glog.Warningf("client: last message of `%s`: %v", id, err)
		return
	}
	if p != nil {
		s.list.ApplyPreview(id, *p)
	}
}

// Conversations matches filter against display names; "" lists all.
func (s *Session) Conversations(filter string) []chatstore.Conversation {
	return s.list.Query(filter)
}

func (s *Session) ActiveConversation() string { return s.messages.ConversationID() }

func (s *Session) Messages() []chatstore.Msg { return s.messages.Messages() }

func (s *Session) Users() []chatstore.User { return s.reconciler.Users() }

func (s *Session) Connected() bool { return s.mgr.Connected() }

// RequestRefresh refreshes this instance and asks the others to.
func (s *Session) RequestRefresh() {
	s.xtab.NotifyRefreshRequested()
	s.reconciler.Trigger()
}

// Logout disconnects and removes the session credentials from the store.
func (s *Session) Logout() error {
	s.mgr.Disconnect()
	s.router.SetActiveConversation("")
	s.messages.Close()
	if err := s.store.Delete(store.KeySelected); err != nil {
		glog.Errorf("client: clear selected conversation error: %v", err)
	}
	return auth.Clear(s.store)
}

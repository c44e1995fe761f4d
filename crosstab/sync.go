// Package crosstab propagates preview and refresh events between client
// instances sharing one store, by native change notification and by
// polling change tokens.
package crosstab

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/store"
)

const DefaultPollInterval = 700 * time.Millisecond

// ITrigger requests an out of band refresh.
type ITrigger interface {
	Trigger()
}

type Sync struct {
	sync.Mutex
	store        store.IStore
	list         *chatstore.ListStore
	refresher    ITrigger
	pollInterval time.Duration

	// last seen change tokens
	lastRefresh string
	lastPreview string

	now func() time.Time
}

func New(s store.IStore, list *chatstore.ListStore, refresher ITrigger, pollInterval time.Duration) *Sync {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	return &Sync{
		store:        s,
		list:         list,
		refresher:    refresher,
		pollInterval: pollInterval,
		now:          time.Now,
	}
}

func (s *Sync) newToken() string {
	return fmt.Sprintf("%d-%s", s.now().UnixNano(), s.store.Origin())
}

// NotifyPreviewChanged applies p locally, then publishes it to the other
// instances.
func (s *Sync) NotifyPreviewChanged(conversationID string, p chatstore.Preview) {
	s.list.ApplyPreview(conversationID, p)

	if err := store.PutJSON(s.store, store.PreviewKey(conversationID), &p); err != nil {
		glog.Errorf("crosstab: write preview of `%s` error: %v", conversationID, err)
		return
	}
	token := s.newToken()
	s.Lock()
	s.lastPreview = token
	s.Unlock()
	if err := s.store.Put(store.KeyPreviewToken, []byte(token)); err != nil {
		glog.Errorf("crosstab: write preview token error: %v", err)
		return
	}
	events.WithLabelValues("local", "preview").Inc()
}

// NotifyRefreshRequested asks the other instances to refresh.
func (s *Sync) NotifyRefreshRequested() {
	token := s.newToken()
	s.Lock()
	s.lastRefresh = token
	s.Unlock()
	if err := s.store.Put(store.KeyRefreshToken, []byte(token)); err != nil {
		glog.Errorf("crosstab: write refresh token error: %v", err)
		return
	}
	events.WithLabelValues("local", "refresh").Inc()
}

// Run applies changes of other instances until ctx is done. Tokens present at
// start count as seen.
func (s *Sync) Run(ctx context.Context) {
	refresh, _ := store.GetString(s.store, store.KeyRefreshToken)
	preview, _ := store.GetString(s.store, store.KeyPreviewToken)
	s.Lock()
	s.lastRefresh, s.lastPreview = refresh, preview
	s.Unlock()

	changes := s.store.Watch(ctx)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case c, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.apply(c)
		case <-ticker.C:
			s.poll()
		}
	}
}

func (s *Sync) apply(c *store.Change) {
	if c.Value == nil {
		return
	}
	switch {
	case strings.HasPrefix(c.Key, store.PreviewKeyPrefix):
		s.applyPreview(strings.TrimPrefix(c.Key, store.PreviewKeyPrefix), c.Value, "watch")
	case c.Key == store.KeyRefreshToken:
		s.Lock()
		seen := s.lastRefresh == string(c.Value)
		s.lastRefresh = string(c.Value)
		s.Unlock()
		if !seen {
			events.WithLabelValues("watch", "refresh").Inc()
			s.refresher.Trigger()
		}
	case c.Key == store.KeyChats:
		var convs []chatstore.Conversation
		if err := json.Unmarshal(c.Value, &convs); err != nil {
			glog.Errorf("crosstab: ignore broken conversation list from `%s`: %v", c.Origin, err)
			return
		}
		if s.list.MergeRemote(convs) {
			events.WithLabelValues("watch", "list").Inc()
		}
	}
}

func (s *Sync) applyPreview(conversationID string, data []byte, path string) {
	p, err := chatstore.DecodePreview(data)
	if err != nil || p == nil {
		glog.Errorf("crosstab: ignore preview of `%s`: %v", conversationID, err)
		return
	}
	if s.list.ApplyPreview(conversationID, *p) {
		events.WithLabelValues(path, "preview").Inc()
		glog.V(5).Infof("crosstab: applied preview of `%s` by %s", conversationID, path)
	}
}

func (s *Sync) poll() {
	refresh, err := store.GetString(s.store, store.KeyRefreshToken)
	if err != nil {
		glog.Errorf("crosstab: poll refresh token error: %v", err)
	}
	preview, err := store.GetString(s.store, store.KeyPreviewToken)
	if err != nil {
		glog.Errorf("crosstab: poll preview token error: %v", err)
	}

	s.Lock()
	refreshChanged := refresh != "" && refresh != s.lastRefresh
	previewChanged := preview != "" && preview != s.lastPreview
	if refreshChanged {
		s.lastRefresh = refresh
	}
	if previewChanged {
		s.lastPreview = preview
	}
	s.Unlock()

	if refreshChanged {
		events.WithLabelValues("poll", "refresh").Inc()
		s.refresher.Trigger()
	}
	if previewChanged {
		s.reloadPreviews()
	}
}

func (s *Sync) reloadPreviews() {
	keys, err := s.store.Keys(store.PreviewKeyPrefix)
	if err != nil {
		glog.Errorf("crosstab: list preview keys error: %v", err)
		return
	}
	for _, key := range keys {
		data, err := s.store.Get(key)
		if err != nil {
			glog.Errorf("crosstab: read `%s` error: %v", key, err)
			continue
		}
		s.applyPreview(strings.TrimPrefix(key, store.PreviewKeyPrefix), data, "poll")
	}
}

package chatstore

import (
	"encoding/json"
	"errors"
	"strings"
	"sync"

	"github.com/golang/glog"

	"github.com/mqy/minichat/store"
)

// ListStore holds the conversation list of one instance, one entry per id.
// Every change is persisted as a whole under store.KeyChats.
type ListStore struct {
	sync.RWMutex
	store store.IStore
	order []string // first-seen order, not meaningful, keeps output stable
	byID  map[string]*Conversation
}

func NewListStore(s store.IStore) *ListStore {
	return &ListStore{
		store: s,
		byID:  make(map[string]*Conversation),
	}
}

// Load restores the persisted list. A missing or broken list leaves the store
// empty; only a read error is returned.
func (l *ListStore) Load() error {
	data, err := l.store.Get(store.KeyChats)
	if errors.Is(err, store.ErrNotFound) {
		return nil
	} else if err != nil {
		return err
	}
	var saved []Conversation
	if err := json.Unmarshal(data, &saved); err != nil {
		glog.Errorf("chatstore: ignore broken saved list: %v", err)
		return nil
	}

	l.Lock()
	defer l.Unlock()
	for _, c := range saved {
		if c.ID != "" {
			l.overlayLocked(c, true)
		}
	}
	glog.V(5).Infof("chatstore: loaded %d conversations", len(l.order))
	return nil
}

// Merge overlays incoming entries by id, adding unknown ones. Merging the same
// input twice is the same as merging it once. It reports whether anything
// changed.
func (l *ListStore) Merge(incoming []Conversation) bool {
	return l.apply(incoming, true)
}

// MergeRemote is Merge for a list written by another instance. It changes
// memory only: persisting it would echo back to the writer.
func (l *ListStore) MergeRemote(incoming []Conversation) bool {
	l.Lock()
	defer l.Unlock()
	var changed bool
	for _, c := range incoming {
		if c.ID != "" && l.overlayLocked(c, true) {
			changed = true
		}
	}
	if changed {
		merges.Inc()
	}
	return changed
}

func (l *ListStore) Upsert(c Conversation) bool {
	return l.apply([]Conversation{c}, true)
}

// Update is Merge restricted to ids already in the list.
func (l *ListStore) Update(incoming []Conversation) bool {
	return l.apply(incoming, false)
}

func (l *ListStore) ApplyPreview(id string, p Preview) bool {
	content := p.Content
	c := Conversation{ID: id, LastMessagePreview: &content}
	if p.At != nil {
		at := *p.At
		c.LastMessageAt = &at
	}
	return l.apply([]Conversation{c}, false)
}

func (l *ListStore) apply(incoming []Conversation, create bool) bool {
	l.Lock()
	defer l.Unlock()

	var changed bool
	for _, c := range incoming {
		if c.ID == "" {
			continue
		}
		if l.overlayLocked(c, create) {
			changed = true
		}
	}
	if changed {
		merges.Inc()
		l.persistLocked()
	}
	return changed
}

func (l *ListStore) overlayLocked(c Conversation, create bool) bool {
	cur, ok := l.byID[c.ID]
	if !ok {
		if !create {
			return false
		}
		cur = &Conversation{ID: c.ID}
		l.byID[c.ID] = cur
		l.order = append(l.order, c.ID)
		overlay(cur, &c)
		return true
	}
	return overlay(cur, &c)
}

// persistLocked writes the list; a failure keeps the memory state.
func (l *ListStore) persistLocked() {
	if err := store.PutJSON(l.store, store.KeyChats, l.snapshotLocked()); err != nil {
		glog.Errorf("chatstore: persist conversation list error: %v", err)
	}
}

func (l *ListStore) Get(id string) (Conversation, bool) {
	l.RLock()
	defer l.RUnlock()
	if c, ok := l.byID[id]; ok {
		return clone(c), true
	}
	return Conversation{}, false
}

func (l *ListStore) Snapshot() []Conversation {
	l.RLock()
	defer l.RUnlock()
	return l.snapshotLocked()
}

func (l *ListStore) snapshotLocked() []Conversation {
	out := make([]Conversation, 0, len(l.order))
	for _, id := range l.order {
		out = append(out, clone(l.byID[id]))
	}
	return out
}

// Query matches filter case-insensitively against display names.
func (l *ListStore) Query(filter string) []Conversation {
	needle := strings.ToLower(filter)
	l.RLock()
	defer l.RUnlock()
	var out []Conversation
	for _, id := range l.order {
		c := l.byID[id]
		if strings.Contains(strings.ToLower(c.DisplayName), needle) {
			out = append(out, clone(c))
		}
	}
	return out
}

// overlay copies every known field of src onto dst.
func overlay(dst, src *Conversation) bool {
	var changed bool
	if src.DisplayName != "" && src.DisplayName != dst.DisplayName {
		dst.DisplayName = src.DisplayName
		changed = true
	}
	if src.Kind != "" && src.Kind != dst.Kind {
		dst.Kind = src.Kind
		changed = true
	}
	if src.LastMessagePreview != nil && (dst.LastMessagePreview == nil || *dst.LastMessagePreview != *src.LastMessagePreview) {
		v := *src.LastMessagePreview
		dst.LastMessagePreview = &v
		changed = true
	}
	if src.LastMessageAt != nil && (dst.LastMessageAt == nil || !dst.LastMessageAt.Equal(*src.LastMessageAt)) {
		v := *src.LastMessageAt
		dst.LastMessageAt = &v
		changed = true
	}
	if src.UnreadCount != nil && (dst.UnreadCount == nil || *dst.UnreadCount != *src.UnreadCount) {
		v := *src.UnreadCount
		dst.UnreadCount = &v
		changed = true
	}
	if src.Presence != nil && (dst.Presence == nil || *dst.Presence != *src.Presence) {
		v := *src.Presence
		dst.Presence = &v
		changed = true
	}
	return changed
}

func clone(c *Conversation) Conversation {
	out := Conversation{ID: c.ID}
	overlay(&out, c)
	return out
}

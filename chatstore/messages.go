package chatstore

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/pborman/uuid"
)

type IHistoryClient interface {
	// History returns the messages of a conversation, oldest first.
	History(ctx context.Context, conversationID string) ([]Msg, error)
}

type IPublisher interface {
	// Publish sends a message of the open conversation. It returns
	// ErrNotConnected, without side effects, while disconnected.
	Publish(m *Msg) error
}

// MessageStore holds the messages of the open conversation only, in delivery
// order. Switching conversations drops everything.
type MessageStore struct {
	sync.Mutex
	self string
	api  IHistoryClient
	pub  IPublisher

	chatID string
	// gen advances on every switch and every history load; a history response
	// is applied only if gen did not move while it was in flight.
	gen  uint64
	msgs []Msg
	ids  map[string]struct{}
	// loaded is false from a switch until the first history is applied; every
	// message held meanwhile is a push.
	loaded bool

	now func() time.Time
}

func NewMessageStore(self string, api IHistoryClient, pub IPublisher) *MessageStore {
	return &MessageStore{
		self: self,
		api:  api,
		pub:  pub,
		ids:  make(map[string]struct{}),
		now:  time.Now,
	}
}

// Open switches to conversationID and loads its history.
func (s *MessageStore) Open(ctx context.Context, conversationID string) error {
	s.Switch(conversationID)
	return s.LoadHistory(ctx, conversationID)
}

// Switch makes conversationID the open one without loading history, so pushes
// are accepted from then on. Switching to the open conversation does nothing.
func (s *MessageStore) Switch(conversationID string) {
	s.Lock()
	defer s.Unlock()
	if s.chatID != conversationID {
		s.resetLocked(conversationID)
		s.gen++
	}
}

// LoadHistory replaces the content with the REST history of conversationID,
// switching to it first if another conversation is open.
func (s *MessageStore) LoadHistory(ctx context.Context, conversationID string) error {
	s.Lock()
	if s.chatID != conversationID {
		s.resetLocked(conversationID)
	}
	s.gen++
	gen := s.gen
	mark := len(s.msgs)
	if !s.loaded {
		mark = 0
	}
	s.Unlock()

	msgs, err := s.api.History(ctx, conversationID)
	if err != nil {
		glog.Errorf("chatstore: load history of `%s` error: %v", conversationID, err)
		return fmt.Errorf("load history: %w", err)
	}

	s.Lock()
	defer s.Unlock()
	if s.gen != gen || s.chatID != conversationID {
		staleHistory.Inc()
		glog.V(5).Infof("chatstore: discard stale history of `%s`", conversationID)
		return nil
	}

	// pushes that arrived while loading stay, after the history
	if mark > len(s.msgs) {
		mark = len(s.msgs)
	}
	live := s.msgs[mark:]
	confirmed := s.confirmedEchoesLocked(msgs)
	s.msgs = make([]Msg, 0, len(msgs)+len(live))
	s.ids = make(map[string]struct{}, len(msgs)+len(live))
	for _, m := range msgs {
		s.appendLocked(m)
	}
	for _, m := range live {
		if _, ok := s.ids[m.ID]; !ok && m.Sender == s.self && confirmed[m.Content] > 0 {
			// the server copy of a local echo
			confirmed[m.Content]--
			continue
		}
		s.appendLocked(m)
	}
	s.loaded = true
	glog.V(5).Infof("chatstore: loaded %d messages of `%s`", len(s.msgs), conversationID)
	return nil
}

// confirmedEchoesLocked counts, by content, the messages of the local user in
// history after the last message already held. Local echoes carry a local id,
// so these are the server copies of echoes still held.
func (s *MessageStore) confirmedEchoesLocked(history []Msg) map[string]int {
	out := make(map[string]int)
	last := -1
	for i := range history {
		if _, ok := s.ids[history[i].ID]; ok {
			last = i
		}
	}
	if last < 0 {
		return out
	}
	for _, m := range history[last+1:] {
		if m.Sender == s.self {
			out[m.Content]++
		}
	}
	return out
}

// Close drops the open conversation; in flight history is discarded.
func (s *MessageStore) Close() {
	s.Lock()
	s.resetLocked("")
	s.gen++
	s.Unlock()
}

func (s *MessageStore) resetLocked(conversationID string) {
	s.chatID = conversationID
	s.msgs = nil
	s.ids = make(map[string]struct{})
	s.loaded = false
}

// Append adds m at the tail unless its id is known or it belongs to another
// conversation.
func (s *MessageStore) Append(m Msg) bool {
	s.Lock()
	defer s.Unlock()
	if s.chatID == "" || m.ConversationID != s.chatID {
		return false
	}
	return s.appendLocked(m)
}

func (s *MessageStore) appendLocked(m Msg) bool {
	if _, ok := s.ids[m.ID]; ok {
		return false
	}
	s.ids[m.ID] = struct{}{}
	s.msgs = append(s.msgs, m)
	return true
}

// SendLocal echoes a new message locally, then publishes it. If the publisher
// refuses synchronously the echo is removed again.
func (s *MessageStore) SendLocal(content string) (*Msg, error) {
	s.Lock()
	if s.chatID == "" {
		s.Unlock()
		return nil, ErrNoChat
	}
	m := Msg{
		ID:             uuid.New(),
		ConversationID: s.chatID,
		Sender:         s.self,
		Content:        content,
		SentAt:         s.now(),
		Kind:           MsgKind_Chat,
	}
	s.appendLocked(m)
	s.Unlock()

	if err := s.pub.Publish(&m); err != nil {
		s.remove(m.ConversationID, m.ID)
		return nil, err
	}
	return &m, nil
}

func (s *MessageStore) remove(conversationID, id string) {
	s.Lock()
	defer s.Unlock()
	if s.chatID != conversationID {
		return
	}
	if _, ok := s.ids[id]; !ok {
		return
	}
	delete(s.ids, id)
	for i := range s.msgs {
		if s.msgs[i].ID == id {
			s.msgs = append(s.msgs[:i], s.msgs[i+1:]...)
			break
		}
	}
}

func (s *MessageStore) ConversationID() string {
	s.Lock()
	defer s.Unlock()
	return s.chatID
}

func (s *MessageStore) Messages() []Msg {
	s.Lock()
	defer s.Unlock()
	return append([]Msg(nil), s.msgs...)
}

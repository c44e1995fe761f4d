package ws

import (
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/wire"
)

// IMessageSink receives messages of the active conversation.
type IMessageSink interface {
	Append(m chatstore.Msg) bool
}

// IPreviewSink is told about the last message of a conversation.
type IPreviewSink interface {
	NotifyPreviewChanged(conversationID string, p chatstore.Preview)
}

// Router keeps exactly one subscription, for the active conversation, plus
// the per-user group-created queue. Both follow the connection state.
type Router struct {
	sync.Mutex
	self     string
	mgr      *Manager
	messages IMessageSink
	previews IPreviewSink
	onGroup  func(*chatstore.Group)

	active   string
	sub      *Subscription
	groupSub *Subscription

	now func() time.Time
}

func NewRouter(self string, mgr *Manager, messages IMessageSink, previews IPreviewSink) *Router {
	r := &Router{
		self:     self,
		mgr:      mgr,
		messages: messages,
		previews: previews,
		now:      time.Now,
	}
	mgr.OnStateChange(r.onStateChange)
	return r
}

// OnGroupCreated sets the handler of group-created pushes. Call before Connect.
func (r *Router) OnGroupCreated(fn func(*chatstore.Group)) {
	r.Lock()
	r.onGroup = fn
	r.Unlock()
}

// Destination is where pushes of a conversation arrive.
func Destination(conversationID string) string {
	if n, ok := chatstore.GroupNumber(conversationID); ok {
		return wire.GroupQueue(n)
	}
	return wire.TopicChat(conversationID)
}

// PublishDestination is where messages of a conversation are sent.
func PublishDestination(conversationID string) string {
	if n, ok := chatstore.GroupNumber(conversationID); ok {
		return wire.AppGroup(n)
	}
	return wire.AppChat(conversationID)
}

// SetActiveConversation moves the subscription to id; "" deactivates. While
// disconnected only the target is recorded.
func (r *Router) SetActiveConversation(id string) {
	r.Lock()
	defer r.Unlock()
	if id == r.active && (r.sub != nil || id == "") {
		return
	}
	r.active = id
	r.activateLocked()
}

func (r *Router) ActiveConversation() string {
	r.Lock()
	defer r.Unlock()
	return r.active
}

func (r *Router) activateLocked() {
	if r.sub != nil {
		r.sub.Unsubscribe()
		r.sub = nil
	}
	if r.active == "" {
		return
	}
	id := r.active
	r.sub = r.mgr.Subscribe(Destination(id), func(body []byte) {
		r.handleMessage(id, body)
	})
	if r.sub == nil {
		glog.V(5).Infof("ws: defer subscription of `%s` until connected", id)
	}
}

func (r *Router) onStateChange(connected bool) {
	r.Lock()
	defer r.Unlock()
	if !connected {
		r.sub = nil
		r.groupSub = nil
		return
	}
	r.groupSub = r.mgr.Subscribe(wire.GroupCreatedQueue, r.handleGroupCreated)
	r.activateLocked()
}

func (r *Router) handleMessage(conversationID string, body []byte) {
	r.Lock()
	active := r.active
	r.Unlock()
	if active != conversationID {
		return
	}

	m, err := chatstore.DecodeMsg(body, conversationID, r.now())
	if err != nil {
		droppedPayloads.Inc()
		glog.Errorf("ws: drop message of `%s`: %v, body: %s", conversationID, err, logValue(body))
		return
	}
	if m.ConversationID != conversationID {
		droppedPayloads.Inc()
		glog.Errorf("ws: drop message of `%s` pushed to `%s`", m.ConversationID, conversationID)
		return
	}
	if m.Sender == r.self {
		selfEchoes.Inc()
		return
	}
	if !r.messages.Append(*m) {
		return
	}
	r.previews.NotifyPreviewChanged(conversationID, m.Preview())
}

func (r *Router) handleGroupCreated(body []byte) {
	g, err := chatstore.DecodeGroup(body)
	if err != nil {
		droppedPayloads.Inc()
		glog.Errorf("ws: drop group-created push: %v, body: %s", err, logValue(body))
		return
	}
	r.Lock()
	fn := r.onGroup
	r.Unlock()
	glog.V(5).Infof("ws: group created: %s `%s`", g.ID, g.Name)
	if fn != nil {
		fn(g)
	}
}

// Publish sends m to its conversation. It implements chatstore.IPublisher.
func (r *Router) Publish(m *chatstore.Msg) error {
	body, err := chatstore.EncodeMsg(m)
	if err != nil {
		return fmt.Errorf("ws: encode message: %v", err)
	}
	if !r.mgr.Publish(PublishDestination(m.ConversationID), body) {
		return chatstore.ErrNotConnected
	}
	return nil
}

package chatstore

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeHistory struct {
	sync.Mutex
	data map[string][]Msg
	// gates, when set for a conversation, blocks History until closed.
	gates map[string]chan struct{}
	// entered, when set, receives the id of every call.
	entered chan string
	err     error
}

func (f *fakeHistory) History(ctx context.Context, id string) ([]Msg, error) {
	f.Lock()
	gate, entered := f.gates[id], f.entered
	f.Unlock()
	if entered != nil {
		entered <- id
	}
	if gate != nil {
		<-gate
	}
	f.Lock()
	defer f.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	return f.data[id], nil
}

type fakePublisher struct {
	sync.Mutex
	sent []Msg
	err  error
}

func (f *fakePublisher) Publish(m *Msg) error {
	f.Lock()
	defer f.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, *m)
	return nil
}

func msg(id, chat, sender, content string) Msg {
	return Msg{ID: id, ConversationID: chat, Sender: sender, Content: content, Kind: MsgKind_Chat}
}

const chatAB = "private_alice_bob"

func TestLoadHistoryReplaces(t *testing.T) {
	h := &fakeHistory{data: map[string][]Msg{
		chatAB: {msg("1", chatAB, "alice", "a"), msg("2", chatAB, "bob", "b")},
	}}
	s := NewMessageStore("alice", h, &fakePublisher{})

	require.NoError(t, s.Open(context.Background(), chatAB))
	assert.Equal(t, chatAB, s.ConversationID())
	assert.Len(t, s.Messages(), 2)

	assert.True(t, s.Append(msg("3", chatAB, "bob", "c")))
	require.NoError(t, s.LoadHistory(context.Background(), chatAB))
	assert.Len(t, s.Messages(), 2)
}

func TestAppendDedup(t *testing.T) {
	s := NewMessageStore("alice", &fakeHistory{}, &fakePublisher{})
	require.NoError(t, s.Open(context.Background(), chatAB))

	assert.True(t, s.Append(msg("1", chatAB, "bob", "hi")))
	before := s.Messages()
	assert.False(t, s.Append(msg("1", chatAB, "bob", "hi again")))
	assert.Equal(t, before, s.Messages())
}

func TestAppendRejectsOtherConversation(t *testing.T) {
	s := NewMessageStore("alice", &fakeHistory{}, &fakePublisher{})
	assert.False(t, s.Append(msg("1", chatAB, "bob", "hi")))

	require.NoError(t, s.Open(context.Background(), chatAB))
	assert.False(t, s.Append(msg("1", "group_42", "bob", "hi")))
	assert.Empty(t, s.Messages())
}

func TestAppendKeepsDeliveryOrder(t *testing.T) {
	s := NewMessageStore("alice", &fakeHistory{}, &fakePublisher{})
	require.NoError(t, s.Open(context.Background(), chatAB))

	late := msg("2", chatAB, "bob", "late")
	late.SentAt = now.Add(-1)
	early := msg("1", chatAB, "bob", "early")
	early.SentAt = now
	s.Append(early)
	s.Append(late)

	got := s.Messages()
	require.Len(t, got, 2)
	assert.Equal(t, "early", got[0].Content)
	assert.Equal(t, "late", got[1].Content)
}

func TestLateHistoryIsDiscarded(t *testing.T) {
	gate := make(chan struct{})
	h := &fakeHistory{
		data: map[string][]Msg{
			chatAB:     {msg("1", chatAB, "bob", "old chat")},
			"group_42": {msg("9", "group_42", "carol", "team")},
		},
		gates: map[string]chan struct{}{chatAB: gate},
	}
	s := NewMessageStore("alice", h, &fakePublisher{})

	done := make(chan error)
	go func() { done <- s.Open(context.Background(), chatAB) }()

	// wait until the first load has switched the store.
	require.Eventually(t, func() bool { return s.ConversationID() == chatAB }, time.Second, time.Millisecond)
	require.NoError(t, s.Open(context.Background(), "group_42"))
	close(gate)
	require.NoError(t, <-done)

	assert.Equal(t, "group_42", s.ConversationID())
	got := s.Messages()
	require.Len(t, got, 1)
	assert.Equal(t, "team", got[0].Content)
}

func TestLoadHistoryError(t *testing.T) {
	s := NewMessageStore("alice", &fakeHistory{err: errors.New("boom")}, &fakePublisher{})
	assert.Error(t, s.Open(context.Background(), chatAB))
	assert.Equal(t, chatAB, s.ConversationID())
	assert.Empty(t, s.Messages())
}

func TestSendLocalEchoes(t *testing.T) {
	pub := &fakePublisher{}
	s := NewMessageStore("alice", &fakeHistory{}, pub)

	_, err := s.SendLocal("hi")
	assert.ErrorIs(t, err, ErrNoChat)

	require.NoError(t, s.Open(context.Background(), chatAB))
	m, err := s.SendLocal("hi")
	require.NoError(t, err)
	assert.Equal(t, "alice", m.Sender)
	assert.Equal(t, chatAB, m.ConversationID)
	assert.NotEmpty(t, m.ID)

	assert.Equal(t, []Msg{*m}, s.Messages())
	assert.Equal(t, []Msg{*m}, pub.sent)
}

func TestSendLocalRollsBackWhenDisconnected(t *testing.T) {
	pub := &fakePublisher{err: ErrNotConnected}
	s := NewMessageStore("alice", &fakeHistory{}, pub)
	require.NoError(t, s.Open(context.Background(), chatAB))

	_, err := s.SendLocal("hi")
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, s.Messages())
}

func TestCloseDropsMessages(t *testing.T) {
	s := NewMessageStore("alice", &fakeHistory{}, &fakePublisher{})
	require.NoError(t, s.Open(context.Background(), chatAB))
	s.Append(msg("1", chatAB, "bob", "hi"))
	s.Close()
	assert.Equal(t, "", s.ConversationID())
	assert.Empty(t, s.Messages())
}

func TestPushDuringHistoryLoadIsKept(t *testing.T) {
	gate := make(chan struct{})
	h := &fakeHistory{
		data:  map[string][]Msg{chatAB: {msg("1", chatAB, "bob", "old"), msg("2", chatAB, "bob", "pushed")}},
		gates: map[string]chan struct{}{chatAB: gate},
	}
	s := NewMessageStore("alice", h, &fakePublisher{})

	done := make(chan error)
	go func() { done <- s.Open(context.Background(), chatAB) }()
	require.Eventually(t, func() bool { return s.ConversationID() == chatAB }, time.Second, time.Millisecond)

	assert.True(t, s.Append(msg("2", chatAB, "bob", "pushed")))
	assert.True(t, s.Append(msg("3", chatAB, "bob", "newest")))
	close(gate)
	require.NoError(t, <-done)

	var ids []string
	for _, m := range s.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"1", "2", "3"}, ids)
}

func TestPushAfterSwitchIsKept(t *testing.T) {
	h := &fakeHistory{data: map[string][]Msg{chatAB: {msg("1", chatAB, "bob", "old")}}}
	s := NewMessageStore("alice", h, &fakePublisher{})

	s.Switch(chatAB)
	assert.Equal(t, chatAB, s.ConversationID())
	assert.True(t, s.Append(msg("2", chatAB, "bob", "early push")))
	require.NoError(t, s.LoadHistory(context.Background(), chatAB))

	var ids []string
	for _, m := range s.Messages() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"1", "2"}, ids)
}

func TestReloadDropsConfirmedEcho(t *testing.T) {
	h := &fakeHistory{data: map[string][]Msg{chatAB: {msg("1", chatAB, "bob", "hi")}}}
	s := NewMessageStore("alice", h, &fakePublisher{})
	require.NoError(t, s.Open(context.Background(), chatAB))

	gate := make(chan struct{})
	h.Lock()
	h.gates = map[string]chan struct{}{chatAB: gate}
	h.entered = make(chan string, 1)
	// the server has stored the first message sent below only
	h.data[chatAB] = []Msg{msg("1", chatAB, "bob", "hi"), msg("2", chatAB, "alice", "ok")}
	h.Unlock()

	done := make(chan error)
	go func() { done <- s.LoadHistory(context.Background(), chatAB) }()
	<-h.entered

	echo, err := s.SendLocal("ok")
	require.NoError(t, err)
	_, err = s.SendLocal("later")
	require.NoError(t, err)
	close(gate)
	require.NoError(t, <-done)

	var contents []string
	for _, m := range s.Messages() {
		assert.NotEqual(t, echo.ID, m.ID)
		contents = append(contents, m.Content)
	}
	assert.Equal(t, []string{"hi", "ok", "later"}, contents)
}

package crosstab

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/chatstore"
	"github.com/mqy/minichat/store"
)

const poll = 20 * time.Millisecond

type counter struct{ n int32 }

func (c *counter) Trigger()   { atomic.AddInt32(&c.n, 1) }
func (c *counter) count() int { return int(atomic.LoadInt32(&c.n)) }

// noWatch is a backend without change notification.
type noWatch struct {
	store.IBackend
}

func (noWatch) Subscribe(context.Context) (<-chan *store.Change, error) {
	return nil, errors.New("not supported")
}

// putCounter counts writes of one key.
type putCounter struct {
	store.IBackend
	key string
	n   int32
}

func (p *putCounter) Put(origin, key string, value []byte) error {
	if key == p.key {
		atomic.AddInt32(&p.n, 1)
	}
	return p.IBackend.Put(origin, key, value)
}

func (p *putCounter) count() int { return int(atomic.LoadInt32(&p.n)) }

type tab struct {
	view *store.View
	list *chatstore.ListStore
	sync *Sync
	refr *counter
}

func newTab(ctx context.Context, backend store.IBackend, origin string) *tab {
	v := store.NewView(backend, origin)
	list := chatstore.NewListStore(v)
	list.Upsert(chatstore.Conversation{ID: "private_alice_bob", DisplayName: "bob"})
	refr := &counter{}
	s := New(v, list, refr, poll)
	go s.Run(ctx)
	return &tab{view: v, list: list, sync: s, refr: refr}
}

func previewOf(l *chatstore.ListStore, id string) string {
	c, ok := l.Get(id)
	if !ok || c.LastMessagePreview == nil {
		return ""
	}
	return *c.LastMessagePreview
}

func at() *time.Time {
	t := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return &t
}

func testPreviewConverges(t *testing.T, backend store.IBackend) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := newTab(ctx, backend, "a")
	b := newTab(ctx, backend, "b")
	time.Sleep(2 * poll)

	a.sync.NotifyPreviewChanged("private_alice_bob", chatstore.Preview{Content: "hi", At: at()})
	assert.Equal(t, "hi", previewOf(a.list, "private_alice_bob"))

	require.Eventually(t, func() bool {
		return previewOf(b.list, "private_alice_bob") == "hi"
	}, 10*poll, poll/4)
	c, _ := b.list.Get("private_alice_bob")
	require.NotNil(t, c.LastMessageAt)
	assert.True(t, c.LastMessageAt.Equal(*at()))
}

func TestPreviewByWatch(t *testing.T) {
	testPreviewConverges(t, store.NewMemory())
}

func TestPreviewByPolling(t *testing.T) {
	testPreviewConverges(t, noWatch{store.NewMemory()})
}

func testRefreshOnce(t *testing.T, backend store.IBackend) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := newTab(ctx, backend, "a")
	b := newTab(ctx, backend, "b")
	time.Sleep(2 * poll)

	a.sync.NotifyRefreshRequested()
	require.Eventually(t, func() bool { return b.refr.count() == 1 }, 10*poll, poll/4)
	time.Sleep(3 * poll)
	assert.Equal(t, 1, b.refr.count())
	assert.Equal(t, 0, a.refr.count())
}

func TestRefreshByWatch(t *testing.T) {
	testRefreshOnce(t, store.NewMemory())
}

func TestRefreshByPolling(t *testing.T) {
	testRefreshOnce(t, noWatch{store.NewMemory()})
}

func TestExistingTokensAreSeen(t *testing.T) {
	backend := store.NewMemory()
	require.NoError(t, backend.Put("x", store.KeyRefreshToken, []byte("1-x")))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := newTab(ctx, backend, "a")
	time.Sleep(3 * poll)
	assert.Equal(t, 0, a.refr.count())
}

func TestListMergeByWatch(t *testing.T) {
	backend := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := newTab(ctx, backend, "a")
	b := newTab(ctx, backend, "b")
	time.Sleep(2 * poll)

	a.list.Upsert(chatstore.Conversation{ID: "group_42", DisplayName: "Team", Kind: chatstore.ChatKind_Group})
	require.Eventually(t, func() bool {
		_, ok := b.list.Get("group_42")
		return ok
	}, 10*poll, poll/4)
	assert.Len(t, a.list.Snapshot(), 2)
	assert.Len(t, b.list.Snapshot(), 2)
}

func TestConflictingListsSettle(t *testing.T) {
	backend := &putCounter{IBackend: store.NewMemory(), key: store.KeyChats}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	a := newTab(ctx, backend, "a")
	b := newTab(ctx, backend, "b")
	time.Sleep(2 * poll)

	a.list.Upsert(chatstore.Conversation{ID: "group_1", DisplayName: "X", Kind: chatstore.ChatKind_Group})
	b.list.Upsert(chatstore.Conversation{ID: "group_1", DisplayName: "Y", Kind: chatstore.ChatKind_Group})
	time.Sleep(5 * poll)

	settled := backend.count()
	assert.LessOrEqual(t, settled, 4)
	time.Sleep(5 * poll)
	assert.Equal(t, settled, backend.count())

	_, ok := a.list.Get("group_1")
	assert.True(t, ok)
	_, ok = b.list.Get("group_1")
	assert.True(t, ok)
}

func TestBrokenPreviewIsIgnored(t *testing.T) {
	backend := store.NewMemory()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	b := newTab(ctx, backend, "b")
	time.Sleep(2 * poll)

	require.NoError(t, backend.Put("a", store.PreviewKey("private_alice_bob"), []byte("{broken")))
	require.NoError(t, backend.Put("a", store.KeyPreviewToken, []byte("2-a")))
	time.Sleep(3 * poll)
	assert.Equal(t, "", previewOf(b.list, "private_alice_bob"))
}

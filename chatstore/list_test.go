package chatstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mqy/minichat/store"
)

func strp(s string) *string { return &s }

func newList(t *testing.T) (*ListStore, store.IStore) {
	s := store.NewView(store.NewMemory(), "tab-a")
	return NewListStore(s), s
}

func TestMergeIsIdempotent(t *testing.T) {
	l, _ := newList(t)
	in := []Conversation{
		{ID: "group_42", DisplayName: "Team", Kind: ChatKind_Group},
		{ID: "private_alice_bob", DisplayName: "bob", Kind: ChatKind_Private},
	}

	assert.True(t, l.Merge(in))
	once := l.Snapshot()
	assert.False(t, l.Merge(in))
	assert.Equal(t, once, l.Snapshot())
}

func TestMergeOverlayKeepsAbsentFields(t *testing.T) {
	l, _ := newList(t)
	at := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	l.Merge([]Conversation{{ID: "group_42", LastMessagePreview: strp("hello"), LastMessageAt: &at}})
	// group listing knows the name, not the preview.
	l.Merge([]Conversation{{ID: "group_42", DisplayName: "Team", Kind: ChatKind_Group}})

	c, ok := l.Get("group_42")
	require.True(t, ok)
	assert.Equal(t, "Team", c.DisplayName)
	assert.Equal(t, ChatKind_Group, c.Kind)
	require.NotNil(t, c.LastMessagePreview)
	assert.Equal(t, "hello", *c.LastMessagePreview)
	assert.True(t, c.LastMessageAt.Equal(at))
	assert.Len(t, l.Snapshot(), 1)
}

func TestUpdateIgnoresUnknown(t *testing.T) {
	l, _ := newList(t)
	assert.False(t, l.Update([]Conversation{{ID: "group_1", DisplayName: "x"}}))
	assert.False(t, l.ApplyPreview("group_1", Preview{Content: "hi"}))
	assert.Empty(t, l.Snapshot())
}

func TestApplyPreviewTwiceIsNoop(t *testing.T) {
	l, _ := newList(t)
	l.Upsert(Conversation{ID: "private_alice_bob", DisplayName: "bob"})
	at := time.Now()
	p := Preview{Content: "hi", At: &at}
	assert.True(t, l.ApplyPreview("private_alice_bob", p))
	assert.False(t, l.ApplyPreview("private_alice_bob", p))
}

func TestMergePersistsAndLoads(t *testing.T) {
	l, s := newList(t)
	l.Merge([]Conversation{{ID: "group_42", DisplayName: "Team", Kind: ChatKind_Group, LastMessagePreview: strp("hi")}})

	l2 := NewListStore(s)
	require.NoError(t, l2.Load())
	assert.Equal(t, l.Snapshot(), l2.Snapshot())
}

func TestLoadIgnoresBrokenList(t *testing.T) {
	l, s := newList(t)
	require.NoError(t, s.Put(store.KeyChats, []byte("{broken")))
	assert.NoError(t, l.Load())
	assert.Empty(t, l.Snapshot())
}

func TestQuery(t *testing.T) {
	l, _ := newList(t)
	l.Merge([]Conversation{
		{ID: "group_42", DisplayName: "Team Rocket"},
		{ID: "private_alice_bob", DisplayName: "bob"},
	})
	got := l.Query("ROCK")
	require.Len(t, got, 1)
	assert.Equal(t, "group_42", got[0].ID)
	assert.Len(t, l.Query(""), 2)
	assert.Empty(t, l.Query("zzz"))
}

func TestSnapshotIsACopy(t *testing.T) {
	l, _ := newList(t)
	l.Merge([]Conversation{{ID: "group_42", LastMessagePreview: strp("hi")}})
	snap := l.Snapshot()
	*snap[0].LastMessagePreview = "changed"
	c, _ := l.Get("group_42")
	assert.Equal(t, "hi", *c.LastMessagePreview)
}

func TestMergeRemoteDoesNotPersist(t *testing.T) {
	l, s := newList(t)
	assert.True(t, l.MergeRemote([]Conversation{{ID: "group_42", DisplayName: "Team"}}))
	assert.False(t, l.MergeRemote([]Conversation{{ID: "group_42", DisplayName: "Team"}}))

	_, err := s.Get(store.KeyChats)
	assert.ErrorIs(t, err, store.ErrNotFound)
	c, ok := l.Get("group_42")
	require.True(t, ok)
	assert.Equal(t, "Team", c.DisplayName)
}

package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBackends(t *testing.T) map[string]IBackend {
	bolt, err := OpenBolt(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})

	out := map[string]IBackend{
		"memory": NewMemory(),
		"bolt":   bolt,
		"redis":  newRedisStore(rdb, "test:"),
	}
	t.Cleanup(func() {
		for _, b := range out {
			_ = b.Close()
		}
	})
	return out
}

func recvChange(t *testing.T, ch <-chan *Change) *Change {
	t.Helper()
	select {
	case c := <-ch:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no change delivered")
	}
	return nil
}

func TestBackendGetPutDelete(t *testing.T) {
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			v := NewView(b, "tab-a")

			_, err := v.Get(KeyToken)
			assert.ErrorIs(t, err, ErrNotFound)

			require.NoError(t, v.Put(KeyToken, []byte("secret")))
			got, err := v.Get(KeyToken)
			require.NoError(t, err)
			assert.Equal(t, "secret", string(got))

			require.NoError(t, v.Delete(KeyToken))
			_, err = v.Get(KeyToken)
			assert.ErrorIs(t, err, ErrNotFound)
		})
	}
}

func TestBackendKeys(t *testing.T) {
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			v := NewView(b, "tab-a")
			require.NoError(t, v.Put(PreviewKey("private_alice_bob"), []byte("{}")))
			require.NoError(t, v.Put(PreviewKey("group_42"), []byte("{}")))
			require.NoError(t, v.Put(KeyChats, []byte("[]")))

			keys, err := v.Keys(PreviewKeyPrefix)
			require.NoError(t, err)
			assert.ElementsMatch(t, []string{PreviewKey("group_42"), PreviewKey("private_alice_bob")}, keys)
		})
	}
}

func TestBackendKeysQuotesPattern(t *testing.T) {
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			v := NewView(b, "tab-a")
			require.NoError(t, v.Put(PreviewKey("private_[a]*_b"), []byte("{}")))
			require.NoError(t, v.Put(PreviewKey("private_a_b"), []byte("{}")))
			require.NoError(t, v.Put(PreviewKey("private_x_b"), []byte("{}")))

			keys, err := v.Keys(PreviewKey("private_[a]*"))
			require.NoError(t, err)
			assert.Equal(t, []string{PreviewKey("private_[a]*_b")}, keys)

			keys, err = v.Keys(PreviewKey("private_?_"))
			require.NoError(t, err)
			assert.Empty(t, keys)
		})
	}
}

func TestWatchSkipsOwnWrites(t *testing.T) {
	for name, b := range newBackends(t) {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()

			a := NewView(b, "tab-a")
			bv := NewView(b, "tab-b")
			watchA := a.Watch(ctx)
			watchB := bv.Watch(ctx)
			require.NotNil(t, watchA)
			require.NotNil(t, watchB)

			require.NoError(t, a.Put(KeyRefreshToken, []byte("1")))
			c := recvChange(t, watchB)
			assert.Equal(t, "tab-a", c.Origin)
			assert.Equal(t, KeyRefreshToken, c.Key)
			assert.Equal(t, "1", string(c.Value))

			// b's write is the first thing a sees: its own write was filtered.
			require.NoError(t, bv.Put(KeySelected, []byte("group_42")))
			c = recvChange(t, watchA)
			assert.Equal(t, "tab-b", c.Origin)
			assert.Equal(t, KeySelected, c.Key)
		})
	}
}

func TestJSONHelpers(t *testing.T) {
	v := NewView(NewMemory(), "tab-a")

	var out []string
	assert.ErrorIs(t, GetJSON(v, KeyChats, &out), ErrNotFound)

	require.NoError(t, PutJSON(v, KeyChats, []string{"a", "b"}))
	require.NoError(t, GetJSON(v, KeyChats, &out))
	assert.Equal(t, []string{"a", "b"}, out)

	s, err := GetString(v, KeyUsername)
	require.NoError(t, err)
	assert.Equal(t, "", s)
}

func TestBoltSurvivesReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reopen.db")
	b, err := OpenBolt(path)
	require.NoError(t, err)
	require.NoError(t, NewView(b, "tab-a").Put(KeyUsername, []byte("alice")))
	require.NoError(t, b.Close())

	b, err = OpenBolt(path)
	require.NoError(t, err)
	defer b.Close()
	got, err := NewView(b, "tab-b").Get(KeyUsername)
	require.NoError(t, err)
	assert.Equal(t, "alice", string(got))
}

func TestOpenDSN(t *testing.T) {
	b, err := Open("memory")
	require.NoError(t, err)
	assert.NoError(t, b.Close())

	_, err = Open("sqlite:foo")
	assert.Error(t, err)
}

package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDebugRouter(t *testing.T) {
	e := newEnv(t)
	alice := e.user(t, "alice")
	e.fs.AddUser("bob")
	_, err := alice.StartPrivateChat(context.Background(), "bob")
	require.NoError(t, err)

	srv := httptest.NewServer(NewDebugRouter([]*Session{alice}))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/debug/conversations?q=BO")
	require.NoError(t, err)
	defer resp.Body.Close()
	var tabs []tabState
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&tabs))
	require.Len(t, tabs, 1)
	assert.Equal(t, "alice", tabs[0].Username)
	assert.Equal(t, "private_alice_bob", tabs[0].Active)
	require.Len(t, tabs[0].Conversations, 1)
	assert.Equal(t, "bob", tabs[0].Conversations[0].DisplayName)

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

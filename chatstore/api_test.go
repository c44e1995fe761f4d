package chatstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPrivateIDIsSymmetric(t *testing.T) {
	assert.Equal(t, "private_alice_bob", PrivateID("alice", "bob"))
	assert.Equal(t, "private_alice_bob", PrivateID("bob", "alice"))
}

func TestGroupNumber(t *testing.T) {
	n, ok := GroupNumber(GroupID("42"))
	assert.True(t, ok)
	assert.Equal(t, "42", n)

	_, ok = GroupNumber("private_alice_bob")
	assert.False(t, ok)
	_, ok = GroupNumber("group_")
	assert.False(t, ok)
}

func TestPeer(t *testing.T) {
	p, ok := Peer("private_alice_bob", "bob")
	assert.True(t, ok)
	assert.Equal(t, "alice", p)

	_, ok = Peer("private_alice_bob", "carol")
	assert.False(t, ok)
	_, ok = Peer("group_42", "alice")
	assert.False(t, ok)
}

func TestGroupConversation(t *testing.T) {
	g := Group{ID: "42", Name: "Team"}
	assert.Equal(t, Conversation{ID: "group_42", DisplayName: "Team", Kind: ChatKind_Group}, g.Conversation())
}

package chatstore

import (
	"errors"
	"sort"
	"strings"
	"time"
)

type ChatKind string

const (
	ChatKind_Private ChatKind = "private" //  one-on-one, two-party
	ChatKind_Group   ChatKind = "group"
)

type MsgKind string

const (
	MsgKind_Chat  MsgKind = "CHAT"
	MsgKind_Join  MsgKind = "JOIN"
	MsgKind_Leave MsgKind = "LEAVE"
)

const (
	privatePrefix = "private_"
	groupPrefix   = "group_"
)

var (
	ErrMalformed    = errors.New("chatstore: malformed payload")
	ErrNotConnected = errors.New("chatstore: not connected")
	ErrNoChat       = errors.New("chatstore: no open conversation")
)

// Conversation is one entry of the conversation list.
// nil pointers and empty strings mean "unknown" and never overwrite a known
// value on merge.
type Conversation struct {
	ID                 string     `json:"id"`
	DisplayName        string     `json:"name,omitempty"`
	Kind               ChatKind   `json:"type,omitempty"`
	LastMessagePreview *string    `json:"lastMessage,omitempty"`
	LastMessageAt      *time.Time `json:"timestamp,omitempty"`
	UnreadCount        *int       `json:"unreadCount,omitempty"`
	Presence           *bool      `json:"online,omitempty"`
}

// Msg is a chat message of one conversation.
type Msg struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"chatId"`
	Sender         string    `json:"sender"`
	Content        string    `json:"content"`
	SentAt         time.Time `json:"timestamp"`
	Kind           MsgKind   `json:"type"`
}

// Preview is the last message summary shown in the conversation list.
type Preview struct {
	Content string     `json:"content"`
	At      *time.Time `json:"timestamp,omitempty"`
}

// Group as returned by the server.
type Group struct {
	ID      string   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members,omitempty"`
}

// User is an entry of the user directory.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Online   *bool  `json:"online,omitempty"`
}

// PrivateID derives the conversation id both participants compute
// independently: participants sorted and joined.
func PrivateID(a, b string) string {
	names := []string{a, b}
	sort.Strings(names)
	return privatePrefix + strings.Join(names, "_")
}

func GroupID(groupID string) string {
	return groupPrefix + groupID
}

func IsGroup(conversationID string) bool {
	return strings.HasPrefix(conversationID, groupPrefix)
}

// GroupNumber returns the server group id of a group conversation.
func GroupNumber(conversationID string) (string, bool) {
	if !IsGroup(conversationID) {
		return "", false
	}
	n := strings.TrimPrefix(conversationID, groupPrefix)
	return n, n != ""
}

// Peer returns the other participant of a private conversation.
func Peer(conversationID, self string) (string, bool) {
	if !strings.HasPrefix(conversationID, privatePrefix) {
		return "", false
	}
	names := strings.Split(strings.TrimPrefix(conversationID, privatePrefix), "_")
	if len(names) != 2 {
		return "", false
	}
	switch self {
	case names[0]:
		return names[1], true
	case names[1]:
		return names[0], true
	}
	return "", false
}

// Conversation converts a server group into its list entry.
func (g *Group) Conversation() Conversation {
	return Conversation{
		ID:          GroupID(g.ID),
		DisplayName: g.Name,
		Kind:        ChatKind_Group,
	}
}

func (m *Msg) Preview() Preview {
	at := m.SentAt
	return Preview{Content: m.Content, At: &at}
}

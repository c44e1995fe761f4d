// Package wire holds the STOMP-over-websocket framing and the destination
// names shared by the client and the dev server. One websocket text message
// carries exactly one STOMP frame, or a single EOL heart-beat.
package wire

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/go-stomp/stomp/v3/frame"
)

const (
	HeaderAuthorization = "Authorization"
	HeaderUsername      = "username"

	ContentTypeJSON = "application/json"

	// Version is the STOMP protocol version spoken.
	Version = "1.2"
)

var heartBeat = []byte("\n")

// Encode serializes f; a nil frame encodes a heart-beat.
func Encode(f *frame.Frame) ([]byte, error) {
	if f == nil {
		return heartBeat, nil
	}
	var buf bytes.Buffer
	if err := frame.NewWriter(&buf).Write(f); err != nil {
		return nil, fmt.Errorf("wire: encode %s: %v", f.Command, err)
	}
	return buf.Bytes(), nil
}

// Decode parses one websocket message. A heart-beat yields a nil frame.
func Decode(data []byte) (*frame.Frame, error) {
	if len(bytes.Trim(data, "\r\n")) == 0 {
		return nil, nil
	}
	f, err := frame.NewReader(bytes.NewReader(data)).Read()
	if err != nil {
		return nil, fmt.Errorf("wire: decode: %v", err)
	}
	return f, nil
}

// Destinations.
const (
	topicChatPrefix   = "/topic/chat/"
	groupQueuePrefix  = "/user/queue/group/"
	GroupCreatedQueue = "/user/queue/group-created"
	appChatPrefix     = "/app/chat/"
	appGroupPrefix    = "/app/group/"

	// UserPrefix marks destinations resolved against the connected user.
	UserPrefix = "/user"
)

func TopicChat(conversationID string) string { return topicChatPrefix + conversationID }

func GroupQueue(groupNumber string) string { return groupQueuePrefix + groupNumber }

func AppChat(conversationID string) string { return appChatPrefix + conversationID }

func AppGroup(groupNumber string) string { return appGroupPrefix + groupNumber }

// ParseApp splits a publish destination into (isGroup, id).
func ParseApp(dest string) (bool, string, bool) {
	switch {
	case strings.HasPrefix(dest, appGroupPrefix):
		id := strings.TrimPrefix(dest, appGroupPrefix)
		return true, id, id != ""
	case strings.HasPrefix(dest, appChatPrefix):
		id := strings.TrimPrefix(dest, appChatPrefix)
		return false, id, id != ""
	}
	return false, "", false
}

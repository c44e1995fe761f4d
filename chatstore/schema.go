package chatstore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"
)

const SchemaVersion = 1

// Layouts accepted for `timestamp`. Zone-less values are UTC.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05",
}

// flexID accepts a JSON string or number.
type flexID string

func (f *flexID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %v", err)
	}
	*f = flexID(n.String())
	return nil
}

// flexTime accepts the layouts above or unix milliseconds.
type flexTime struct {
	set bool
	t   time.Time
}

func (f *flexTime) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		return nil
	}
	if b[0] != '"' {
		ms, err := strconv.ParseInt(string(b), 10, 64)
		if err != nil {
			return fmt.Errorf("timestamp: %v", err)
		}
		f.t, f.set = time.UnixMilli(ms).UTC(), true
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if s == "" {
		return nil
	}
	t, err := parseTime(s)
	if err != nil {
		return err
	}
	f.t, f.set = t, true
	return nil
}

func parseTime(s string) (time.Time, error) {
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("timestamp: unsupported format %q", s)
}

// wireMsg is the versioned inbound message schema.
type wireMsg struct {
	V          int      `json:"v"`
	ID         flexID   `json:"id"`
	ChatID     string   `json:"chatId"`
	Sender     string   `json:"sender"`
	SenderName string   `json:"senderName"`
	Content    string   `json:"content"`
	Timestamp  flexTime `json:"timestamp"`
	Type       string   `json:"type"`
}

// DecodeMsg decodes one inbound message. conversationID is the default for a
// missing `chatId`, now the default for a missing `timestamp`.
func DecodeMsg(data []byte, conversationID string, now time.Time) (*Msg, error) {
	var w wireMsg
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return w.toMsg(conversationID, now)
}

// DecodeMsgs decodes a REST history list, oldest first. Malformed items are
// dropped, the rest are kept.
func DecodeMsgs(data []byte, conversationID string, now time.Time) ([]Msg, error) {
	var slice []json.RawMessage
	if err := json.Unmarshal(data, &slice); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out := make([]Msg, 0, len(slice))
	for i, raw := range slice {
		m, err := DecodeMsg(raw, conversationID, now)
		if err != nil {
			malformedItems.Inc()
			glog.Warningf("chatstore: drop history item %d of `%s`: %v", i, conversationID, err)
			continue
		}
		out = append(out, *m)
	}
	return out, nil
}

func (w *wireMsg) toMsg(conversationID string, now time.Time) (*Msg, error) {
	if w.V == 0 {
		w.V = SchemaVersion
	}
	if w.ID == "" {
		return nil, fmt.Errorf("%w: missing id", ErrMalformed)
	}
	sender := w.Sender
	if sender == "" {
		sender = w.SenderName
	}
	if sender == "" {
		return nil, fmt.Errorf("%w: missing sender", ErrMalformed)
	}

	m := &Msg{
		ID:             string(w.ID),
		ConversationID: w.ChatID,
		Sender:         sender,
		Content:        w.Content,
		SentAt:         now,
		Kind:           MsgKind_Chat,
	}
	if m.ConversationID == "" {
		m.ConversationID = conversationID
	}
	if w.Timestamp.set {
		m.SentAt = w.Timestamp.t
	}
	if w.Type != "" {
		switch k := MsgKind(strings.ToUpper(w.Type)); k {
		case MsgKind_Chat, MsgKind_Join, MsgKind_Leave:
			m.Kind = k
		default:
			return nil, fmt.Errorf("%w: unknown type %q", ErrMalformed, w.Type)
		}
	}
	return m, nil
}

// EncodeMsg serializes an outbound message.
func EncodeMsg(m *Msg) ([]byte, error) {
	return json.Marshal(struct {
		V int `json:"v"`
		*Msg
	}{V: SchemaVersion, Msg: m})
}

type wirePreview struct {
	Content   *string  `json:"content"`
	Message   string   `json:"message"`
	Timestamp flexTime `json:"timestamp"`
	CreatedAt flexTime `json:"createdAt"`
}

// DecodePreview decodes a `/last` response. An empty body yields nil.
func DecodePreview(data []byte) (*Preview, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, nil
	}
	var w wirePreview
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	p := &Preview{Content: w.Message}
	if w.Content != nil {
		p.Content = *w.Content
	}
	if w.Timestamp.set {
		t := w.Timestamp.t
		p.At = &t
	} else if w.CreatedAt.set {
		t := w.CreatedAt.t
		p.At = &t
	}
	return p, nil
}

type wireGroup struct {
	ID      flexID   `json:"id"`
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (w *wireGroup) toGroup() (*Group, error) {
	if w.ID == "" {
		return nil, fmt.Errorf("%w: missing group id", ErrMalformed)
	}
	g := &Group{ID: string(w.ID), Name: w.Name, Members: w.Members}
	if g.Name == "" {
		g.Name = "Group " + g.ID
	}
	return g, nil
}

func DecodeGroup(data []byte) (*Group, error) {
	var w wireGroup
	if err := json.Unmarshal(data, &w); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return w.toGroup()
}

func DecodeGroups(data []byte) ([]Group, error) {
	var slice []wireGroup
	if err := json.Unmarshal(data, &slice); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out := make([]Group, 0, len(slice))
	for i := range slice {
		g, err := slice[i].toGroup()
		if err != nil {
			return nil, err
		}
		out = append(out, *g)
	}
	return out, nil
}

type wireUser struct {
	ID       flexID `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Online   *bool  `json:"online"`
}

func DecodeUsers(data []byte) ([]User, error) {
	var slice []wireUser
	if err := json.Unmarshal(data, &slice); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	out := make([]User, 0, len(slice))
	for _, w := range slice {
		if w.Username == "" {
			continue
		}
		out = append(out, User{ID: string(w.ID), Username: w.Username, Email: w.Email, Online: w.Online})
	}
	return out, nil
}

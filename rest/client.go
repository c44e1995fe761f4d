package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/mqy/minichat/auth"
	"github.com/mqy/minichat/chatstore"
)

const (
	requestTimeout = 10 * time.Second
	maxBodyBytes   = 4 << 20
)

var ErrNoCredentials = errors.New("rest: no credentials")

// StatusError is returned for non 2xx responses.
type StatusError struct {
	Method string
	Path   string
	Code   int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("rest: %s %s: unexpected status %d", e.Method, e.Path, e.Code)
}

// Client calls the chat REST API with the bearer token of the session.
type Client struct {
	baseURL    string
	authClient auth.Client
	httpClient *http.Client
	now        func() time.Time
}

func NewClient(baseURL string, authClient auth.Client) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		authClient: authClient,
		httpClient: &http.Client{Timeout: requestTimeout},
		now:        time.Now,
	}
}

// do sends the request and returns the body; a 204 yields a nil body.
func (c *Client) do(ctx context.Context, method, path string, in interface{}) ([]byte, error) {
	creds, err := c.authClient.Credentials()
	if err != nil {
		return nil, ErrNoCredentials
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("rest: encode request: %v", err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("rest: new request: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+creds.Token)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	glog.V(5).Infof("rest: %s %s: %d, took %s", method, path, resp.StatusCode, time.Since(start))

	if resp.StatusCode == http.StatusNoContent {
		return nil, nil
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &StatusError{Method: method, Path: path, Code: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("rest: read %s: %w", path, err)
	}
	return data, nil
}

// Users lists all users.
func (c *Client) Users(ctx context.Context) ([]chatstore.User, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/users", nil)
	if err != nil || data == nil {
		return nil, err
	}
	return chatstore.DecodeUsers(data)
}

// Groups lists the groups username belongs to.
func (c *Client) Groups(ctx context.Context, username string) ([]chatstore.Group, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/groups/"+url.PathEscape(username), nil)
	if err != nil || data == nil {
		return nil, err
	}
	return chatstore.DecodeGroups(data)
}

type createGroupReq struct {
	Name    string   `json:"name"`
	Members []string `json:"members"`
}

func (c *Client) CreateGroup(ctx context.Context, name string, members []string) (*chatstore.Group, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/groups", &createGroupReq{Name: name, Members: members})
	if err != nil {
		return nil, err
	}
	if data == nil {
		return nil, fmt.Errorf("rest: create group: empty response")
	}
	return chatstore.DecodeGroup(data)
}

// History returns the messages of a conversation, oldest first.
func (c *Client) History(ctx context.Context, conversationID string) ([]chatstore.Msg, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(conversationID), nil)
	if err != nil || data == nil {
		return nil, err
	}
	return chatstore.DecodeMsgs(data, conversationID, c.now())
}

// LastMessage returns the preview of a conversation, nil if it has none.
func (c *Client) LastMessage(ctx context.Context, conversationID string) (*chatstore.Preview, error) {
	data, err := c.do(ctx, http.MethodGet, "/api/messages/"+url.PathEscape(conversationID)+"/last", nil)
	if err != nil {
		return nil, err
	}
	return chatstore.DecodePreview(data)
}

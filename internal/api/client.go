// Package api is the REST client for the chat backend. Every response
// arrives wrapped in a {code, message, data} envelope; every request
// carries the session's bearer token.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// ErrUnauthorized is returned when the backend rejects the token. The
// unauthorized hook has already run by the time callers see it.
var ErrUnauthorized = errors.New("internal/api: unauthorized")

// Error is a backend-reported failure: the envelope code was not a
// success, or the HTTP status was not 2xx.
type Error struct {
	Code    int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("internal/api: backend error %d: %s", e.Code, e.Message)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// TokenSource supplies the bearer token for outgoing requests. The
// session store satisfies it.
type TokenSource interface {
	Token() string
}

type Client struct {
	baseURL        string
	httpClient     *http.Client
	tokens         TokenSource
	onUnauthorized func()
}

// Option configures a Client.
type Option func(*Client)

// WithUnauthorizedHook registers fn to run when any call comes back 401.
func WithUnauthorizedHook(fn func()) Option {
	return func(c *Client) { c.onUnauthorized = fn }
}

// WithHTTPClient substitutes the underlying HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.httpClient = hc }
}

func New(baseURL string, timeout time.Duration, tokens TokenSource, opts ...Option) *Client {
	c := &Client{
		baseURL:    baseURL,
		httpClient: &http.Client{Timeout: timeout},
		tokens:     tokens,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, body, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("internal/api: failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, reqBody)
	if err != nil {
		return fmt.Errorf("internal/api: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if tok := c.tokens.Token(); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}

	res, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("internal/api: request to %s failed: %w", path, err)
	}
	defer res.Body.Close()

	if res.StatusCode == http.StatusUnauthorized {
		// Fatal to the session: forget the stored credentials and make
		// the caller re-authenticate.
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
		return ErrUnauthorized
	}

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return fmt.Errorf("internal/api: failed to read response from %s: %w", path, err)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return fmt.Errorf("internal/api: failed to decode response from %s: %w", path, err)
	}

	if res.StatusCode < 200 || res.StatusCode >= 300 || env.Code >= 400 {
		code := env.Code
		if code == 0 {
			code = res.StatusCode
		}
		return &Error{Code: code, Message: env.Message}
	}

	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return fmt.Errorf("internal/api: failed to decode payload from %s: %w", path, err)
		}
	}
	return nil
}

func (c *Client) get(ctx context.Context, path string, query url.Values, out any) error {
	return c.do(ctx, http.MethodGet, path, query, nil, out)
}

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	return c.do(ctx, http.MethodPost, path, nil, body, out)
}

// Login authenticates and returns the issued token with the user it
// belongs to. The token is not stored here; that is the session's job.
func (c *Client) Login(ctx context.Context, username, password string) (LoginResult, error) {
	var result LoginResult
	body := map[string]string{"username": username, "password": password}
	if err := c.post(ctx, "/user/login", body, &result); err != nil {
		return LoginResult{}, err
	}
	return result, nil
}

// SearchUsers finds accounts matching keyword.
func (c *Client) SearchUsers(ctx context.Context, keyword string) ([]User, error) {
	var users []User
	q := url.Values{"keyword": {keyword}}
	if err := c.get(ctx, "/user/search", q, &users); err != nil {
		return nil, err
	}
	return users, nil
}

// FriendList returns the caller's confirmed friends.
func (c *Client) FriendList(ctx context.Context) ([]Friend, error) {
	var friends []Friend
	if err := c.get(ctx, "/friendship/list", nil, &friends); err != nil {
		return nil, err
	}
	return friends, nil
}

// SendFriendRequest asks friendID to connect.
func (c *Client) SendFriendRequest(ctx context.Context, friendID int64, reason string) error {
	body := map[string]any{"friendId": friendID, "reason": reason}
	return c.post(ctx, "/friendship/add", body, nil)
}

// FriendRequests lists pending and resolved requests involving the caller.
func (c *Client) FriendRequests(ctx context.Context) ([]FriendRequest, error) {
	var requests []FriendRequest
	if err := c.get(ctx, "/friendship/request_list", nil, &requests); err != nil {
		return nil, err
	}
	return requests, nil
}

// UpdateFriendRequest accepts or rejects a request from friendID.
func (c *Client) UpdateFriendRequest(ctx context.Context, friendID int64, status int) error {
	body := map[string]any{"friendId": friendID, "status": status}
	return c.post(ctx, "/friendship/update", body, nil)
}

// GroupList returns the rooms the caller belongs to.
func (c *Client) GroupList(ctx context.Context) ([]Chatroom, error) {
	var rooms []Chatroom
	if err := c.get(ctx, "/chatroom/list", nil, &rooms); err != nil {
		return nil, err
	}
	return rooms, nil
}

// CreateGroup creates a named group chatroom.
func (c *Client) CreateGroup(ctx context.Context, name string) error {
	q := url.Values{"name": {name}}
	return c.get(ctx, "/chatroom/create-group", q, nil)
}

// JoinChatroom adds user id to chatroomID.
func (c *Client) JoinChatroom(ctx context.Context, chatroomID, id int64) error {
	q := url.Values{"chatroomId": {strconv.FormatInt(chatroomID, 10)}}
	return c.get(ctx, "/chatroom/join/"+strconv.FormatInt(id, 10), q, nil)
}

// Members lists the users in chatroomID.
func (c *Client) Members(ctx context.Context, chatroomID int64) ([]Member, error) {
	var members []Member
	q := url.Values{"chatroomId": {strconv.FormatInt(chatroomID, 10)}}
	if err := c.get(ctx, "/chatroom/members", q, &members); err != nil {
		return nil, err
	}
	return members, nil
}

// FindOneToOneChatroom returns the id of the direct room between two
// users, zero when none exists.
func (c *Client) FindOneToOneChatroom(ctx context.Context, userID1, userID2 int64) (int64, error) {
	var roomID int64
	q := url.Values{
		"userId1": {strconv.FormatInt(userID1, 10)},
		"userId2": {strconv.FormatInt(userID2, 10)},
	}
	if err := c.get(ctx, "/chatroom/findOneToOneChatroom", q, &roomID); err != nil {
		return 0, err
	}
	return roomID, nil
}

// CreateOneToOneChatroom opens a direct room with friendID.
func (c *Client) CreateOneToOneChatroom(ctx context.Context, friendID int64) error {
	q := url.Values{"friendId": {strconv.FormatInt(friendID, 10)}}
	return c.get(ctx, "/chatroom/createOneToOneChatroom", q, nil)
}

// RoomHistory fetches the persisted messages of a room in stored order.
// This is the reconciler's history store.
func (c *Client) RoomHistory(ctx context.Context, chatroomID int64) ([]HistoryMessage, error) {
	var messages []HistoryMessage
	q := url.Values{"chatroomId": {strconv.FormatInt(chatroomID, 10)}}
	if err := c.get(ctx, "/chat-history/list", q, &messages); err != nil {
		return nil, err
	}
	return messages, nil
}

// Favorites lists the caller's saved messages.
func (c *Client) Favorites(ctx context.Context) ([]Favorite, error) {
	var favorites []Favorite
	if err := c.get(ctx, "/favorite/list", nil, &favorites); err != nil {
		return nil, err
	}
	return favorites, nil
}

// AddFavorite marks the message with chatHistoryID as a favorite.
func (c *Client) AddFavorite(ctx context.Context, chatHistoryID int64) error {
	q := url.Values{"chatHistoryId": {strconv.FormatInt(chatHistoryID, 10)}}
	return c.get(ctx, "/favorite/add", q, nil)
}

// DeleteFavorite removes a favorite by its own id.
func (c *Client) DeleteFavorite(ctx context.Context, id int64) error {
	q := url.Values{"id": {strconv.FormatInt(id, 10)}}
	return c.get(ctx, "/favorite/del", q, nil)
}

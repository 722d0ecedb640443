// Package testutil provides an in-memory stand-in for the chat backend:
// the REST surface plus the websocket event endpoint, enough for client
// packages to test against a real HTTP boundary.
package testutil

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/go-chi/chi/v5"
	"github.com/golang-jwt/jwt/v5"

	"github.com/dmtrv/parley/internal/api"
)

// Frame mirrors the wire framing of the realtime channel.
type Frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Backend serves fake REST and websocket endpoints backed by in-memory
// state the test controls.
type Backend struct {
	Server *httptest.Server

	mu           sync.Mutex
	password     string
	history      map[int64][]api.HistoryMessage
	rooms        []api.Chatroom
	friends      []api.Friend
	requests     []api.FriendRequest
	favorites    []api.Favorite
	unauthorized bool
	historyDelay time.Duration

	conn      *websocket.Conn
	connected chan struct{}
	frames    chan Frame
}

// NewBackend starts the fake backend and registers its shutdown with t.
func NewBackend(t *testing.T) *Backend {
	t.Helper()

	b := &Backend{
		password:  "secret",
		history:   make(map[int64][]api.HistoryMessage),
		connected: make(chan struct{}),
		frames:    make(chan Frame, 64),
	}

	r := chi.NewRouter()
	r.Post("/user/login", b.handleLogin)
	r.Get("/user/search", b.handleSearch)
	r.Get("/friendship/list", b.withAuth(b.handleFriendList))
	r.Post("/friendship/add", b.withAuth(b.handleAck))
	r.Get("/friendship/request_list", b.withAuth(b.handleFriendRequests))
	r.Post("/friendship/update", b.withAuth(b.handleAck))
	r.Get("/chatroom/list", b.withAuth(b.handleRoomList))
	r.Get("/chatroom/create-group", b.withAuth(b.handleAck))
	r.Get("/chatroom/join/{id}", b.withAuth(b.handleAck))
	r.Get("/chatroom/members", b.withAuth(b.handleMembers))
	r.Get("/chatroom/findOneToOneChatroom", b.withAuth(b.handleAck))
	r.Get("/chatroom/createOneToOneChatroom", b.withAuth(b.handleAck))
	r.Get("/chat-history/list", b.withAuth(b.handleHistory))
	r.Get("/favorite/list", b.withAuth(b.handleFavoriteList))
	r.Get("/favorite/add", b.withAuth(b.handleAck))
	r.Get("/favorite/del", b.withAuth(b.handleAck))
	r.Get("/socket", b.handleSocket)

	b.Server = httptest.NewServer(r)
	t.Cleanup(b.Server.Close)

	return b
}

// URL is the REST base URL.
func (b *Backend) URL() string { return b.Server.URL }

// SocketURL is the websocket endpoint.
func (b *Backend) SocketURL() string {
	u, _ := url.Parse(b.Server.URL)
	u.Scheme = "ws"
	u.Path = "/socket"
	return u.String()
}

// SetHistory preloads the persisted messages served for roomID.
func (b *Backend) SetHistory(roomID int64, msgs []api.HistoryMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.history[roomID] = msgs
}

// SetHistoryDelay makes every history request sleep first, for staging
// stale-fetch scenarios.
func (b *Backend) SetHistoryDelay(d time.Duration) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.historyDelay = d
}

// SetRooms preloads the chatroom list.
func (b *Backend) SetRooms(rooms []api.Chatroom) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.rooms = rooms
}

// SetFriends preloads the friendship list.
func (b *Backend) SetFriends(friends []api.Friend) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.friends = friends
}

// SetFriendRequests preloads the request list.
func (b *Backend) SetFriendRequests(reqs []api.FriendRequest) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.requests = reqs
}

// SetFavorites preloads the favorites list.
func (b *Backend) SetFavorites(favs []api.Favorite) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.favorites = favs
}

// ForceUnauthorized makes every authenticated endpoint answer 401.
func (b *Backend) ForceUnauthorized(v bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.unauthorized = v
}

// MintToken issues a JWT the way the backend would, with sub=userID.
func MintToken(t *testing.T, userID int64, expiresIn time.Duration) string {
	t.Helper()

	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   strconv.FormatInt(userID, 10),
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(expiresIn)),
	})
	signed, err := token.SignedString([]byte("testutil-secret"))
	if err != nil {
		t.Fatalf("failed to sign token: %v", err)
	}
	return signed
}

// WaitConnected blocks until a websocket client has attached.
func (b *Backend) WaitConnected(t *testing.T) {
	t.Helper()
	select {
	case <-b.connected:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for websocket client")
	}
}

// NextFrame returns the next frame the client emitted.
func (b *Backend) NextFrame(t *testing.T) Frame {
	t.Helper()
	select {
	case f := <-b.frames:
		return f
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for client frame")
		return Frame{}
	}
}

// TryNextFrame returns the next emitted frame if one arrives within d.
func (b *Backend) TryNextFrame(d time.Duration) (Frame, bool) {
	select {
	case f := <-b.frames:
		return f, true
	case <-time.After(d):
		return Frame{}, false
	}
}

// PushChat broadcasts a chat message event to the connected client.
func (b *Backend) PushChat(t *testing.T, roomID, senderID int64, content string, bodyType int) {
	t.Helper()
	b.push(t, map[string]any{
		"senderId":   senderID,
		"chatroomId": roomID,
		"time":       time.Now().UTC().Format(time.RFC3339Nano),
		"message":    map[string]any{"content": content, "type": bodyType},
	})
}

// PushSystem broadcasts a joinRoom/leaveRoom system event.
func (b *Backend) PushSystem(t *testing.T, kind string, roomID, senderID int64) {
	t.Helper()
	b.push(t, map[string]any{
		"type":       kind,
		"senderId":   senderID,
		"chatroomId": roomID,
		"time":       time.Now().UTC().Format(time.RFC3339Nano),
	})
}

// PushRaw broadcasts an arbitrary "message" payload.
func (b *Backend) PushRaw(t *testing.T, payload map[string]any) {
	t.Helper()
	b.push(t, payload)
}

func (b *Backend) push(t *testing.T, payload map[string]any) {
	t.Helper()

	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		t.Fatal("no websocket client connected")
	}

	data, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("failed to encode payload: %v", err)
	}
	raw, err := json.Marshal(Frame{Event: "message", Data: data})
	if err != nil {
		t.Fatalf("failed to encode frame: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := conn.Write(ctx, websocket.MessageText, raw); err != nil {
		t.Fatalf("failed to push event: %v", err)
	}
}

func (b *Backend) handleSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{InsecureSkipVerify: true})
	if err != nil {
		log.Printf("failed to accept websocket: %v", err)
		return
	}

	b.mu.Lock()
	b.conn = conn
	select {
	case <-b.connected:
	default:
		close(b.connected)
	}
	b.mu.Unlock()

	ctx := r.Context()
	for {
		_, raw, err := conn.Read(ctx)
		if err != nil {
			return
		}
		var f Frame
		if err := json.Unmarshal(raw, &f); err != nil {
			continue
		}
		select {
		case b.frames <- f:
		default:
		}
	}
}

func (b *Backend) withAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		b.mu.Lock()
		reject := b.unauthorized
		b.mu.Unlock()

		auth := r.Header.Get("Authorization")
		if reject || !strings.HasPrefix(auth, "Bearer ") {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		next(w, r)
	}
}

func (b *Backend) handleLogin(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeEnvelope(w, http.StatusBadRequest, 400, "invalid request", nil)
		return
	}

	b.mu.Lock()
	password := b.password
	b.mu.Unlock()

	if body.Password != password {
		writeEnvelope(w, http.StatusBadRequest, 400, "invalid username or password", nil)
		return
	}

	now := time.Now().UTC()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   "1",
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
	})
	signed, err := token.SignedString([]byte("testutil-secret"))
	if err != nil {
		writeEnvelope(w, http.StatusInternalServerError, 500, "token error", nil)
		return
	}

	writeEnvelope(w, http.StatusOK, 200, "success", api.LoginResult{
		Token: signed,
		User:  api.User{ID: 1, Username: body.Username},
	})
}

func (b *Backend) handleSearch(w http.ResponseWriter, r *http.Request) {
	keyword := r.URL.Query().Get("keyword")
	writeEnvelope(w, http.StatusOK, 200, "success", []api.User{
		{ID: 2, Username: keyword},
	})
}

func (b *Backend) handleFriendList(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	friends := b.friends
	b.mu.Unlock()
	writeEnvelope(w, http.StatusOK, 200, "success", friends)
}

func (b *Backend) handleFriendRequests(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	requests := b.requests
	b.mu.Unlock()
	writeEnvelope(w, http.StatusOK, 200, "success", requests)
}

func (b *Backend) handleRoomList(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	rooms := b.rooms
	b.mu.Unlock()
	writeEnvelope(w, http.StatusOK, 200, "success", rooms)
}

func (b *Backend) handleMembers(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusOK, 200, "success", []api.Member{})
}

func (b *Backend) handleHistory(w http.ResponseWriter, r *http.Request) {
	roomID, _ := strconv.ParseInt(r.URL.Query().Get("chatroomId"), 10, 64)

	b.mu.Lock()
	delay := b.historyDelay
	msgs := b.history[roomID]
	b.mu.Unlock()

	if delay > 0 {
		time.Sleep(delay)
	}
	writeEnvelope(w, http.StatusOK, 200, "success", msgs)
}

func (b *Backend) handleFavoriteList(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	favorites := b.favorites
	b.mu.Unlock()
	writeEnvelope(w, http.StatusOK, 200, "success", favorites)
}

func (b *Backend) handleAck(w http.ResponseWriter, r *http.Request) {
	writeEnvelope(w, http.StatusOK, 200, "success", nil)
}

func writeEnvelope(w http.ResponseWriter, status, code int, message string, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	env := map[string]any{"code": code, "message": message}
	if data != nil {
		env["data"] = data
	}
	if err := json.NewEncoder(w).Encode(env); err != nil {
		log.Printf("failed to encode envelope: %v", err)
	}
}

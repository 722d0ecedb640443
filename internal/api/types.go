package api

import "time"

// User is an account as the backend reports it.
type User struct {
	ID        int64     `json:"id"`
	Username  string    `json:"username"`
	Nickname  string    `json:"nickname,omitempty"`
	Avatar    string    `json:"avatar,omitempty"`
	CreatedAt time.Time `json:"createdAt,omitempty"`
}

// LoginResult carries the issued token and the authenticated user.
type LoginResult struct {
	Token string `json:"token"`
	User  User   `json:"user"`
}

// Friend is one entry of the friendship list.
type Friend struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname"`
	Email    string `json:"email"`
}

// Friend request status values understood by the backend.
const (
	FriendRequestPending  = 0
	FriendRequestAccepted = 1
	FriendRequestRejected = 2
)

type FriendRequest struct {
	ID         int64     `json:"id"`
	FromUserID int64     `json:"fromUserId"`
	ToUserID   int64     `json:"toUserId"`
	Reason     string    `json:"reason"`
	Status     int       `json:"status"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Chatroom is a group or one-to-one room.
type Chatroom struct {
	ID           int64  `json:"id"`
	Name         string `json:"name"`
	Type         int    `json:"type"`
	MembersCount int    `json:"membersCount"`
}

type Member struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
	Nickname string `json:"nickname,omitempty"`
}

// HistoryMessage is one persisted message from the history store.
// Type is 0 for text, 1 for image payloads.
type HistoryMessage struct {
	ID        int64     `json:"id"`
	SenderID  int64     `json:"senderId"`
	Content   string    `json:"content"`
	Type      int       `json:"type"`
	CreatedAt time.Time `json:"createdAt"`
}

type Favorite struct {
	ID            int64     `json:"id"`
	UserID        int64     `json:"userId"`
	ChatHistoryID int64     `json:"chatHistoryId"`
	CreatedAt     time.Time `json:"createdAt,omitempty"`
}

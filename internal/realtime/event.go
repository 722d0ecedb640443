package realtime

import (
	"encoding/json"
	"fmt"
	"time"
)

// Event names on the wire.
const (
	eventNameMessage  = "message"
	EventNameJoinRoom = "joinRoom"
	EventNameLeave    = "leaveRoom"
	EventNameSend     = "sendMessage"
)

// Message body types carried inside chat payloads.
const (
	MessageText  = 0
	MessageImage = 1
)

// Kind discriminates incoming events. The backend tags system events
// with a string discriminator and leaves chat messages untagged; we
// decode that into an explicit variant so an unrecognized tag is its
// own handled case instead of falling through as a chat message.
type Kind int

const (
	KindChat Kind = iota
	KindJoined
	KindLeft
	KindUnknown
)

func (k Kind) String() string {
	switch k {
	case KindChat:
		return "chat"
	case KindJoined:
		return "joined"
	case KindLeft:
		return "left"
	default:
		return "unknown"
	}
}

// Event is one decoded delivery from the channel.
type Event struct {
	Kind     Kind
	Room     int64
	Sender   int64
	Time     time.Time
	Content  string // chat events only
	BodyType int    // MessageText or MessageImage, chat events only
	RawKind  string // original discriminator, set for KindUnknown
}

// frame is the outer wrapper of every wire message.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

type messageBody struct {
	Content string `json:"content"`
	Type    int    `json:"type"`
}

type joinLeavePayload struct {
	ChatroomID int64 `json:"chatroomId"`
	UserID     int64 `json:"userId"`
}

type sendPayload struct {
	SenderID   int64       `json:"senderId"`
	ChatroomID int64       `json:"chatroomId"`
	Message    messageBody `json:"message"`
}

type inboundPayload struct {
	Type       string       `json:"type,omitempty"`
	SenderID   int64        `json:"senderId"`
	ChatroomID int64        `json:"chatroomId"`
	Time       time.Time    `json:"time"`
	Message    *messageBody `json:"message,omitempty"`
}

// decodeEvent maps an inbound "message" payload to the Event union.
func decodeEvent(data json.RawMessage) (Event, error) {
	var in inboundPayload
	if err := json.Unmarshal(data, &in); err != nil {
		return Event{}, fmt.Errorf("internal/realtime: failed to decode event payload: %w", err)
	}

	ev := Event{
		Room:   in.ChatroomID,
		Sender: in.SenderID,
		Time:   in.Time,
	}

	switch in.Type {
	case EventNameJoinRoom:
		ev.Kind = KindJoined
	case EventNameLeave:
		ev.Kind = KindLeft
	case "":
		ev.Kind = KindChat
		if in.Message != nil {
			ev.Content = in.Message.Content
			ev.BodyType = in.Message.Type
		}
	default:
		ev.Kind = KindUnknown
		ev.RawKind = in.Type
	}
	return ev, nil
}

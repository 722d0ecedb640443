// Package realtime maintains the client's single WebSocket connection
// to the backend. One connection is shared process-wide; room scoping
// happens through joinRoom/leaveRoom events multiplexed over it. The
// channel is an explicitly owned resource: main creates it, the
// reconciler borrows it.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/coder/websocket"
)

// Channel wraps the connection with event framing and fan-out to
// subscribers.
type Channel struct {
	conn   *websocket.Conn
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	subs      map[int]func(Event)
	nextSubID int

	closeOnce sync.Once
}

// Dial connects to the backend event endpoint. The bearer token rides
// along in the Authorization header, mirroring the REST side.
func Dial(ctx context.Context, url, token string) (*Channel, error) {
	header := http.Header{}
	if token != "" {
		header.Set("Authorization", "Bearer "+token)
	}

	conn, _, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("internal/realtime: failed to dial %s: %w", url, err)
	}

	readCtx, cancel := context.WithCancel(context.Background())
	c := &Channel{
		conn:   conn,
		cancel: cancel,
		done:   make(chan struct{}),
		subs:   make(map[int]func(Event)),
	}
	go c.readLoop(readCtx)

	return c, nil
}

// readLoop reads frames until the connection dies or Close is called.
// Transport errors are logged only; reconnection is left to whoever
// owns the channel.
func (c *Channel) readLoop(ctx context.Context) {
	defer close(c.done)

	for {
		_, raw, err := c.conn.Read(ctx)
		if err != nil {
			status := websocket.CloseStatus(err)
			if status != websocket.StatusNormalClosure &&
				status != websocket.StatusGoingAway &&
				ctx.Err() == nil {
				log.Printf("[error] channel read failed: %v", err)
			}
			return
		}

		var f frame
		if err := json.Unmarshal(raw, &f); err != nil {
			log.Printf("[error] failed to decode frame: %v", err)
			continue
		}
		if f.Event != eventNameMessage {
			log.Printf("skipping frame with event %q", f.Event)
			continue
		}

		ev, err := decodeEvent(f.Data)
		if err != nil {
			log.Printf("[error] %v", err)
			continue
		}

		c.dispatch(ev)
	}
}

func (c *Channel) dispatch(ev Event) {
	c.mu.Lock()
	handlers := make([]func(Event), 0, len(c.subs))
	for _, fn := range c.subs {
		handlers = append(handlers, fn)
	}
	c.mu.Unlock()

	for _, fn := range handlers {
		fn(ev)
	}
}

// Subscribe registers fn for every incoming event and returns the
// function that removes it again.
func (c *Channel) Subscribe(fn func(Event)) (unsubscribe func()) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextSubID
	c.nextSubID++
	c.subs[id] = fn

	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

func (c *Channel) emit(ctx context.Context, event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("internal/realtime: failed to encode %s payload: %w", event, err)
	}
	raw, err := json.Marshal(frame{Event: event, Data: data})
	if err != nil {
		return fmt.Errorf("internal/realtime: failed to encode frame: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, raw); err != nil {
		return fmt.Errorf("internal/realtime: failed to write %s: %w", event, err)
	}
	return nil
}

// EmitJoin announces userID entering roomID.
func (c *Channel) EmitJoin(ctx context.Context, roomID, userID int64) error {
	return c.emit(ctx, EventNameJoinRoom, joinLeavePayload{ChatroomID: roomID, UserID: userID})
}

// EmitLeave announces userID leaving roomID.
func (c *Channel) EmitLeave(ctx context.Context, roomID, userID int64) error {
	return c.emit(ctx, EventNameLeave, joinLeavePayload{ChatroomID: roomID, UserID: userID})
}

// EmitSend publishes an outgoing chat message. Delivery is
// fire-and-forget; the authoritative copy comes back as a broadcast.
func (c *Channel) EmitSend(ctx context.Context, senderID, roomID int64, content string, bodyType int) error {
	return c.emit(ctx, EventNameSend, sendPayload{
		SenderID:   senderID,
		ChatroomID: roomID,
		Message:    messageBody{Content: content, Type: bodyType},
	})
}

// Done is closed when the read loop exits, whether from Close or a
// transport failure.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Close tears down the connection. Safe to call more than once, and
// distinct from leaving a room: rooms are left via EmitLeave.
func (c *Channel) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if err := c.conn.Close(websocket.StatusNormalClosure, "client shutdown"); err != nil {
			log.Printf("failed to close channel cleanly: %v", err)
		}
	})
}

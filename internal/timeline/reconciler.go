// Package timeline merges a room's fetched history with its live event
// stream into one ordered view. History and stream are disjoint sources:
// the backend only starts delivering events after the subscription is
// established, and history covers the interval before it, so the merge
// is append-only concatenation. Sorting by timestamp would risk
// reordering same-millisecond entries and is deliberately avoided.
package timeline

import (
	"context"
	"log"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/microcosm-cc/bluemonday"
	"golang.org/x/time/rate"

	"github.com/dmtrv/parley/internal/api"
	"github.com/dmtrv/parley/internal/realtime"
)

// Payloads carrying an embedded image data blob are classified as image
// messages; everything else is text.
const imageMarker = "data:image"

// Kind discriminates timeline entries.
type Kind int

const (
	KindMessage Kind = iota
	KindJoined
	KindLeft
)

// Entry is one element of the merged timeline: a chat message or a
// synthesized, non-persisted membership notice.
type Entry struct {
	ID        string // unique within one room activation
	Kind      Kind
	Sender    int64
	Content   string // messages only
	BodyType  int    // realtime.MessageText or realtime.MessageImage
	Time      time.Time
	HistoryID int64 // persisted message id for favorites, 0 when unknown
}

// HistoryStore is the one-shot history fetch performed on activation.
// The api client satisfies it.
type HistoryStore interface {
	RoomHistory(ctx context.Context, chatroomID int64) ([]api.HistoryMessage, error)
}

// Channel is the slice of the realtime connection the reconciler
// borrows. It never owns or closes the underlying transport.
type Channel interface {
	Subscribe(fn func(realtime.Event)) (unsubscribe func())
	EmitJoin(ctx context.Context, roomID, userID int64) error
	EmitLeave(ctx context.Context, roomID, userID int64) error
	EmitSend(ctx context.Context, senderID, roomID int64, content string, bodyType int) error
}

// Reconciler maintains the timeline of the currently active room. Room
// ids are positive; zero means no room is active.
type Reconciler struct {
	channel   Channel
	history   HistoryStore
	userID    int64
	sanitizer *bluemonday.Policy
	limiter   *rate.Limiter
	onScroll  func()
	onNotice  func(string)

	mu          sync.Mutex
	activeRoom  int64
	generation  uint64
	entries     []Entry
	unsubscribe func()
}

// Option configures a Reconciler.
type Option func(*Reconciler)

// WithScrollHook registers fn to run after entries are appended. Called
// asynchronously, best effort; display code hangs its scroll-to-latest
// here.
func WithScrollHook(fn func()) Option {
	return func(r *Reconciler) { r.onScroll = fn }
}

// WithNoticeHook registers fn for non-fatal, user-visible notices such
// as a failed history load. The default logs them.
func WithNoticeHook(fn func(string)) Option {
	return func(r *Reconciler) { r.onNotice = fn }
}

// WithSendLimiter caps outgoing messages at requests per window.
// Messages over the limit are dropped with a notice.
func WithSendLimiter(requests int, window time.Duration) Option {
	return func(r *Reconciler) {
		r.limiter = rate.NewLimiter(rate.Every(window/time.Duration(requests)), requests)
	}
}

func New(channel Channel, history HistoryStore, userID int64, opts ...Option) *Reconciler {
	r := &Reconciler{
		channel:   channel,
		history:   history,
		userID:    userID,
		sanitizer: bluemonday.StrictPolicy(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Activate makes roomID the reconciler's scope: the previous room is
// deactivated, the timeline cleared, a join announced, and history
// fetched. History entries always precede live entries of the same
// activation, even when events race in while the fetch is in flight.
// A fetch that resolves after a newer activation is discarded.
func (r *Reconciler) Activate(ctx context.Context, roomID int64) {
	r.mu.Lock()
	r.deactivateLocked(ctx)
	r.generation++
	gen := r.generation
	r.activeRoom = roomID
	r.entries = nil
	r.unsubscribe = r.channel.Subscribe(r.HandleEvent)
	r.mu.Unlock()

	if err := r.channel.EmitJoin(ctx, roomID, r.userID); err != nil {
		log.Printf("[error] failed to announce join for room %d: %v", roomID, err)
	}

	records, err := r.history.RoomHistory(ctx, roomID)
	if err != nil {
		// History absence must not block live participation; the
		// subscription above already stands.
		log.Printf("[error] failed to load history for room %d: %v", roomID, err)
		r.notice("could not load message history")
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.generation != gen {
		// A newer activation superseded this fetch.
		return
	}

	head := make([]Entry, 0, len(records)+len(r.entries))
	for _, m := range records {
		content := m.Content
		if m.Type == realtime.MessageText {
			content = r.sanitizer.Sanitize(content)
		}
		head = append(head, Entry{
			ID:        "history-" + strconv.FormatInt(m.ID, 10),
			Kind:      KindMessage,
			Sender:    m.SenderID,
			Content:   content,
			BodyType:  m.Type,
			Time:      m.CreatedAt,
			HistoryID: m.ID,
		})
	}
	r.entries = append(head, r.entries...)
	r.scheduleScroll()
}

// HandleEvent folds one channel delivery into the timeline. Join
// notices are channel-wide broadcasts and appended regardless of room;
// leave notices for any room but the active one belong to a stale
// subscription and are dropped.
func (r *Reconciler) HandleEvent(ev realtime.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.activeRoom == 0 {
		return
	}

	switch ev.Kind {
	case realtime.KindJoined:
		r.entries = append(r.entries, Entry{
			ID:     uuid.NewString(),
			Kind:   KindJoined,
			Sender: ev.Sender,
			Time:   ev.Time,
		})

	case realtime.KindLeft:
		if ev.Room != r.activeRoom {
			return
		}
		r.entries = append(r.entries, Entry{
			ID:     uuid.NewString(),
			Kind:   KindLeft,
			Sender: ev.Sender,
			Time:   ev.Time,
		})

	case realtime.KindChat:
		content := ev.Content
		if ev.BodyType == realtime.MessageText {
			content = r.sanitizer.Sanitize(content)
		}
		r.entries = append(r.entries, Entry{
			ID:       uuid.NewString(),
			Kind:     KindMessage,
			Sender:   ev.Sender,
			Content:  content,
			BodyType: ev.BodyType,
			Time:     ev.Time,
		})

	default:
		log.Printf("dropping event with unknown kind %q", ev.RawKind)
		return
	}

	r.scheduleScroll()
}

// Send emits body as an outgoing message for the active room. Empty
// bodies and calls with no active room are silently ignored. There is
// no optimistic append: the backend echoes the sender's own broadcast
// back through HandleEvent, which is the authoritative copy.
func (r *Reconciler) Send(ctx context.Context, body string) {
	r.mu.Lock()
	room := r.activeRoom
	r.mu.Unlock()

	if room == 0 || strings.TrimSpace(body) == "" {
		return
	}

	if r.limiter != nil && !r.limiter.Allow() {
		r.notice("sending too fast, message dropped")
		return
	}

	bodyType := realtime.MessageText
	if strings.Contains(body, imageMarker) {
		bodyType = realtime.MessageImage
	}

	if err := r.channel.EmitSend(ctx, r.userID, room, body, bodyType); err != nil {
		log.Printf("[error] failed to send message to room %d: %v", room, err)
		r.notice("message could not be sent")
	}
}

// Deactivate announces the leave for the active room, drops the channel
// subscription, and discards the timeline. Idempotent: with no active
// room it does nothing.
func (r *Reconciler) Deactivate(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deactivateLocked(ctx)
}

func (r *Reconciler) deactivateLocked(ctx context.Context) {
	if r.activeRoom == 0 {
		return
	}

	if err := r.channel.EmitLeave(ctx, r.activeRoom, r.userID); err != nil {
		log.Printf("[error] failed to announce leave for room %d: %v", r.activeRoom, err)
	}
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}

	r.activeRoom = 0
	r.entries = nil

	// Invalidate any history fetch still in flight for the old room.
	r.generation++
}

// Entries returns a snapshot of the current timeline, oldest first.
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := make([]Entry, len(r.entries))
	copy(snapshot, r.entries)
	return snapshot
}

// ActiveRoom returns the id of the active room, zero when none.
func (r *Reconciler) ActiveRoom() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.activeRoom
}

func (r *Reconciler) scheduleScroll() {
	if r.onScroll != nil {
		go r.onScroll()
	}
}

func (r *Reconciler) notice(msg string) {
	if r.onNotice != nil {
		r.onNotice(msg)
		return
	}
	log.Printf("notice: %s", msg)
}

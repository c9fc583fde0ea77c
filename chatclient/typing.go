package chatclient

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dosada05/tournament-chat/models"
)

// TypingTimeout is how long a typing signal stays valid without a refresh.
const TypingTimeout = 3 * time.Second

// TypingBroadcaster tells the other members of a room that the local user is
// composing. It is a two state machine: idle and composing.
type TypingBroadcaster struct {
	mu        sync.Mutex
	out       Broadcaster
	user      models.Identity
	timeout   time.Duration
	logger    *slog.Logger
	composing bool
	timer     *time.Timer
	gen       uint64
	stopped   bool
	queue     chan models.BroadcastEvent
}

func NewTypingBroadcaster(out Broadcaster, user models.Identity, logger *slog.Logger) *TypingBroadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	b := &TypingBroadcaster{
		out:     out,
		user:    user,
		timeout: TypingTimeout,
		logger:  logger.With(slog.String("component", "typing")),
		queue:   make(chan models.BroadcastEvent, 8),
	}
	go b.deliver()
	return b
}

// Input reports the current contents of the input box. Non-empty text starts
// or prolongs the composing state; empty text ends it.
func (b *TypingBroadcaster) Input(text string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}

	if strings.TrimSpace(text) == "" {
		b.idleLocked()
		return
	}

	if !b.composing {
		b.composing = true
		b.sendLocked(true)
	}
	if b.timer != nil {
		b.timer.Stop()
	}
	b.gen++
	gen := b.gen
	b.timer = time.AfterFunc(b.timeout, func() { b.expire(gen) })
}

// Sent ends the composing state after the message went out.
func (b *TypingBroadcaster) Sent() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.idleLocked()
}

// Stop releases the timer. Further input is ignored.
func (b *TypingBroadcaster) Stop() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return
	}
	b.idleLocked()
	b.stopped = true
	close(b.queue)
}

func (b *TypingBroadcaster) Composing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.composing
}

// expire ignores timers that were superseded by a later keystroke.
func (b *TypingBroadcaster) expire(gen uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if gen != b.gen {
		return
	}
	b.timer = nil
	if b.composing {
		b.composing = false
		b.sendLocked(false)
	}
}

func (b *TypingBroadcaster) idleLocked() {
	b.gen++
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if b.composing {
		b.composing = false
		b.sendLocked(false)
	}
}

// sendLocked never blocks: events are delivered in order by deliver and
// dropped when the queue is full.
func (b *TypingBroadcaster) sendLocked(typing bool) {
	ev := models.BroadcastEvent{
		Event:       models.BroadcastTyping,
		UserID:      b.user.ID,
		DisplayName: b.user.DisplayName,
		Typing:      typing,
	}
	select {
	case b.queue <- ev:
	default:
		b.logger.Warn("typing queue full, signal dropped", slog.Bool("typing", typing))
	}
}

func (b *TypingBroadcaster) deliver() {
	for ev := range b.queue {
		if b.out == nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
		if err := b.out.Broadcast(ctx, ev); err != nil {
			b.logger.Warn("typing broadcast failed", slog.Bool("typing", ev.Typing), slog.Any("error", err))
		}
		cancel()
	}
}

// TypingTracker holds the typing signals of other users in one room.
type TypingTracker struct {
	mu      sync.Mutex
	self    int
	timeout time.Duration
	now     func() time.Time
	signals map[int]models.TypingSignal
}

// NewTypingTracker ignores signals from selfID. A nil now uses time.Now.
func NewTypingTracker(selfID int, now func() time.Time) *TypingTracker {
	if now == nil {
		now = time.Now
	}
	return &TypingTracker{
		self:    selfID,
		timeout: TypingTimeout,
		now:     now,
		signals: make(map[int]models.TypingSignal),
	}
}

func (t *TypingTracker) Observe(ev models.BroadcastEvent) {
	if ev.Event != models.BroadcastTyping || ev.UserID == t.self {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()

	if !ev.Typing {
		delete(t.signals, ev.UserID)
		return
	}
	name := ev.DisplayName
	if name == "" {
		name = fmt.Sprintf("User %d", ev.UserID)
	}
	t.signals[ev.UserID] = models.TypingSignal{
		UserID:      ev.UserID,
		DisplayName: name,
		ExpiresAt:   t.now().Add(t.timeout),
	}
}

// Active prunes expired signals and returns the names of users still typing,
// sorted for a stable label.
func (t *TypingTracker) Active() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := t.now()
	names := make([]string, 0, len(t.signals))
	for id, sig := range t.signals {
		if !now.Before(sig.ExpiresAt) {
			delete(t.signals, id)
			continue
		}
		names = append(names, sig.DisplayName)
	}
	sort.Strings(names)
	return names
}

// Clear drops every signal, used when the room changes.
func (t *TypingTracker) Clear() {
	t.mu.Lock()
	defer t.mu.Unlock()
	clear(t.signals)
}

func (t *TypingTracker) Label() string {
	return TypingLabel(t.Active())
}

func TypingLabel(names []string) string {
	switch len(names) {
	case 0:
		return ""
	case 1:
		return names[0] + " is typing…"
	case 2:
		return names[0] + " and " + names[1] + " are typing…"
	default:
		return fmt.Sprintf("%s, %s and %d others are typing…", names[0], names[1], len(names)-2)
	}
}

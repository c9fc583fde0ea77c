package chatclient

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/Dosada05/tournament-chat/models"
)

var errBoom = errors.New("boom")

// memTable is an in-memory chat_messages table shared by several fake
// clients. Writes are published to feed when it is set.
type memTable struct {
	mu         sync.Mutex
	rows       []models.ChatMessage
	seq        int
	organizers map[int]int
	feed       *fakeFeed

	listErr    error
	insertErr  error
	insertGate chan struct{}
}

func newMemTable() *memTable {
	return &memTable{organizers: map[int]int{}}
}

// as returns the view of the table for one signed-in user.
func (t *memTable) as(user models.Identity) *tableAs {
	return &tableAs{t: t, user: user}
}

func (t *memTable) seed(scope models.ConversationScope, senderID int, bodies ...string) []models.ChatMessage {
	t.mu.Lock()
	defer t.mu.Unlock()
	var out []models.ChatMessage
	for _, body := range bodies {
		t.seq++
		m := models.ChatMessage{
			ID:        fmt.Sprintf("m%d", t.seq),
			Scope:     scope,
			SenderID:  senderID,
			Body:      body,
			Kind:      models.KindText,
			CreatedAt: time.Date(2025, 5, 1, 12, 0, t.seq, 0, time.UTC),
			Reactions: models.Reactions{},
		}
		t.rows = append(t.rows, m)
		out = append(out, m)
	}
	return out
}

func (t *memTable) row(id string) (models.ChatMessage, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, m := range t.rows {
		if m.ID == id {
			return m.Clone(), true
		}
	}
	return models.ChatMessage{}, false
}

func (t *memTable) publish(ev models.ChangeEvent) {
	if t.feed != nil {
		t.feed.publish(ev)
	}
}

type tableAs struct {
	t    *memTable
	user models.Identity
}

func (a *tableAs) ListRecent(_ context.Context, scope models.ConversationScope, limit int) ([]models.ChatMessage, error) {
	t := a.t
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.listErr != nil {
		return nil, t.listErr
	}
	var out []models.ChatMessage
	for i := len(t.rows) - 1; i >= 0 && len(out) < limit; i-- {
		if t.rows[i].Scope.Equal(scope) {
			out = append(out, t.rows[i].Clone())
		}
	}
	return out, nil
}

func (a *tableAs) Insert(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, error) {
	t := a.t
	if t.insertGate != nil {
		select {
		case <-t.insertGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	t.mu.Lock()
	if t.insertErr != nil {
		err := t.insertErr
		t.mu.Unlock()
		return nil, err
	}
	t.seq++
	saved := msg.Clone()
	saved.ID = fmt.Sprintf("m%d", t.seq)
	saved.SenderID = a.user.ID
	saved.SenderName = a.user.DisplayName
	saved.CreatedAt = time.Date(2025, 5, 1, 12, 0, t.seq, 0, time.UTC)
	if saved.Reactions == nil {
		saved.Reactions = models.Reactions{}
	}
	t.rows = append(t.rows, saved)
	t.mu.Unlock()

	t.publish(models.ChangeEvent{Type: models.ChangeInsert, Scope: saved.Scope, Message: &saved, MessageID: saved.ID})
	out := saved.Clone()
	return &out, nil
}

func (a *tableAs) mutate(id string, fn func(*models.ChatMessage)) (*models.ChatMessage, error) {
	t := a.t
	t.mu.Lock()
	idx := -1
	for i := range t.rows {
		if t.rows[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		t.mu.Unlock()
		return nil, &APIError{Status: 404, Message: "chat message not found"}
	}
	fn(&t.rows[idx])
	saved := t.rows[idx].Clone()
	t.mu.Unlock()

	t.publish(models.ChangeEvent{Type: models.ChangeUpdate, Scope: saved.Scope, Message: &saved, MessageID: saved.ID})
	out := saved.Clone()
	return &out, nil
}

func (a *tableAs) Update(_ context.Context, id string, patch MessagePatch) (*models.ChatMessage, error) {
	return a.mutate(id, func(m *models.ChatMessage) {
		if patch.Body != nil {
			now := time.Date(2025, 5, 1, 13, 0, 0, 0, time.UTC)
			m.Body = *patch.Body
			m.Flags.IsEdited = true
			m.EditedAt = &now
		}
		if patch.IsPinned != nil {
			m.Flags.IsPinned = *patch.IsPinned
		}
	})
}

func (a *tableAs) Delete(_ context.Context, id string) error {
	t := a.t
	t.mu.Lock()
	var scope models.ConversationScope
	found := false
	for i := range t.rows {
		if t.rows[i].ID == id {
			scope = t.rows[i].Scope
			t.rows = append(t.rows[:i], t.rows[i+1:]...)
			found = true
			break
		}
	}
	t.mu.Unlock()
	if !found {
		return &APIError{Status: 404, Message: "chat message not found"}
	}
	t.publish(models.ChangeEvent{Type: models.ChangeDelete, Scope: scope, MessageID: id})
	return nil
}

func (a *tableAs) ToggleReaction(_ context.Context, id, emoji string) (*models.ChatMessage, error) {
	return a.mutate(id, func(m *models.ChatMessage) {
		m.Reactions, _ = m.Reactions.Toggle(emoji, a.user.ID)
	})
}

// ReplaceReactions mirrors the server: the write fails with 409 when the map
// changes anyone's reactions but the caller's.
func (a *tableAs) ReplaceReactions(_ context.Context, id string, reactions models.Reactions) (*models.ChatMessage, error) {
	if row, ok := a.t.row(id); ok && !row.Reactions.SameExcept(reactions, a.user.ID) {
		return nil, &APIError{Status: 409, Message: "reactions of other users changed since the last read"}
	}
	return a.mutate(id, func(m *models.ChatMessage) {
		m.Reactions = reactions.Normalize()
	})
}

func (a *tableAs) OrganizerID(_ context.Context, scope models.ConversationScope) (int, error) {
	a.t.mu.Lock()
	defer a.t.mu.Unlock()
	return a.t.organizers[scope.TournamentID], nil
}

// fakeFeed routes published events to every open channel of the same scope.
type fakeFeed struct {
	mu       sync.Mutex
	channels []*fakeChannel
	opens    int
	openErrs int
	openErr  error
}

func (f *fakeFeed) Open(ctx context.Context, scope models.ConversationScope) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return nil, f.openErr
	}
	if f.openErrs > 0 {
		f.openErrs--
		return nil, errBoom
	}
	ch := &fakeChannel{
		feed:       f,
		scope:      scope,
		changes:    make(chan models.ChangeEvent, 64),
		broadcasts: make(chan models.BroadcastEvent, 64),
		done:       make(chan struct{}),
	}
	f.channels = append(f.channels, ch)
	return ch, nil
}

func (f *fakeFeed) openCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens
}

func (f *fakeFeed) last() *fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.channels) == 0 {
		return nil
	}
	return f.channels[len(f.channels)-1]
}

func (f *fakeFeed) live() []*fakeChannel {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []*fakeChannel
	for _, ch := range f.channels {
		if !ch.isDone() {
			out = append(out, ch)
		}
	}
	return out
}

func (f *fakeFeed) publish(ev models.ChangeEvent) {
	for _, ch := range f.live() {
		if ch.scope.Equal(ev.Scope) {
			ch.deliver(ev)
		}
	}
}

func (f *fakeFeed) relay(from *fakeChannel, ev models.BroadcastEvent) {
	for _, ch := range f.live() {
		if ch != from && ch.scope.Equal(from.scope) {
			ch.mu.Lock()
			if !ch.closed {
				ch.broadcasts <- ev
			}
			ch.mu.Unlock()
		}
	}
}

type fakeChannel struct {
	feed       *fakeFeed
	scope      models.ConversationScope
	changes    chan models.ChangeEvent
	broadcasts chan models.BroadcastEvent
	done       chan struct{}

	mu     sync.Mutex
	closed bool
	err    error
	sent   []models.BroadcastEvent
}

func (c *fakeChannel) Changes() <-chan models.ChangeEvent       { return c.changes }
func (c *fakeChannel) Broadcasts() <-chan models.BroadcastEvent { return c.broadcasts }
func (c *fakeChannel) Done() <-chan struct{}                    { return c.done }

func (c *fakeChannel) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

func (c *fakeChannel) Send(_ context.Context, ev models.BroadcastEvent) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrNotConnected
	}
	c.sent = append(c.sent, ev)
	c.mu.Unlock()
	c.feed.relay(c, ev)
	return nil
}

func (c *fakeChannel) Close() error {
	c.drop(ErrClosed)
	return nil
}

// drop simulates a lost connection.
func (c *fakeChannel) drop(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.err = err
	close(c.done)
}

func (c *fakeChannel) isDone() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *fakeChannel) deliver(ev models.ChangeEvent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.changes <- ev
	}
}

func (c *fakeChannel) sentEvents() []models.BroadcastEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.BroadcastEvent(nil), c.sent...)
}

type recordingBroadcaster struct {
	mu     sync.Mutex
	events []models.BroadcastEvent
	err    error
}

func (b *recordingBroadcaster) Broadcast(_ context.Context, ev models.BroadcastEvent) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, ev)
	return b.err
}

func (b *recordingBroadcaster) typingFlags() []bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]bool, len(b.events))
	for i, ev := range b.events {
		out[i] = ev.Typing
	}
	return out
}

type notification struct{ title, body string }

type recordingNotifier struct {
	mu   sync.Mutex
	seen []notification
}

func (n *recordingNotifier) Notify(title, body string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.seen = append(n.seen, notification{title, body})
}

func (n *recordingNotifier) all() []notification {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]notification(nil), n.seen...)
}

type putCall struct {
	bucket, key, contentType, body string
	size                           int64
}

type memStorage struct {
	mu     sync.Mutex
	puts   []putCall
	putErr error
	urlErr error
}

func (s *memStorage) Put(_ context.Context, bucket, key, contentType string, body io.Reader, size int64) error {
	if s.putErr != nil {
		return s.putErr
	}
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.puts = append(s.puts, putCall{bucket: bucket, key: key, contentType: contentType, body: string(data), size: size})
	return nil
}

func (s *memStorage) PublicURL(_ context.Context, bucket, key string) (string, error) {
	if s.urlErr != nil {
		return "", s.urlErr
	}
	return "https://cdn.test/" + bucket + "/" + key, nil
}

var (
	tournament  = 3
	general     = models.GeneralScope(tournament)
	redTeam     = models.TeamScope(tournament, 9)
	blueTeam    = models.TeamScope(tournament, 10)
	alice       = models.Identity{ID: 1, DisplayName: "Alice", Role: models.RolePlayer}
	bob         = models.Identity{ID: 2, DisplayName: "Bob", Role: models.RolePlayer}
	organizer   = models.Identity{ID: 10, DisplayName: "Org", Role: models.RoleOrganizer}
	moderator   = models.Identity{ID: 50, DisplayName: "Mod", Role: models.RoleModerator}
	adminUser   = models.Identity{ID: 99, DisplayName: "Admin", Role: models.RoleAdmin}
	outsiderOrg = models.Identity{ID: 11, DisplayName: "Other org", Role: models.RoleOrganizer}
)

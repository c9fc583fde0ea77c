package chatclient

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dosada05/tournament-chat/models"
	"github.com/google/uuid"
)

// ReactionMode selects how React writes reactions.
type ReactionMode int

const (
	// ReactionsAtomic toggles on the server under a row lock.
	ReactionsAtomic ReactionMode = iota
	// ReactionsReplace computes the toggle from the local copy and writes the
	// whole map back. The server refuses it with 409 when the local copy is
	// stale for another user.
	ReactionsReplace
)

type ComposerConfig struct {
	Table     Table
	Store     *Store
	Session   Session
	Directory Directory
	// Typing and Uploader are optional.
	Typing       *TypingBroadcaster
	Uploader     *AttachmentUploader
	ReactionMode ReactionMode
	Logger       *slog.Logger
}

// SendInput is what the user submits from the input box.
type SendInput struct {
	Body           string
	Kind           models.MessageKind
	Attachment     *models.Attachment
	ReplyToID      *string
	IsAnnouncement bool
}

// Composer turns user intent into writes against the table and keeps the
// store in step with the results.
type Composer struct {
	table     Table
	store     *Store
	session   Session
	directory Directory
	typing    *TypingBroadcaster
	uploader  *AttachmentUploader
	mode      ReactionMode
	logger    *slog.Logger
	now       func() time.Time

	sending atomic.Bool

	mu          sync.Mutex
	draft       string
	organizerOf map[string]int
}

func NewComposer(cfg ComposerConfig) *Composer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Composer{
		table:       cfg.Table,
		store:       cfg.Store,
		session:     cfg.Session,
		directory:   cfg.Directory,
		typing:      cfg.Typing,
		uploader:    cfg.Uploader,
		mode:        cfg.ReactionMode,
		logger:      logger.With(slog.String("component", "composer")),
		now:         time.Now,
		organizerOf: make(map[string]int),
	}
}

func (c *Composer) SetDraft(text string) {
	c.mu.Lock()
	c.draft = text
	c.mu.Unlock()
	if c.typing != nil {
		c.typing.Input(text)
	}
}

func (c *Composer) Draft() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.draft
}

// Sending reports whether a send is in flight.
func (c *Composer) Sending() bool { return c.sending.Load() }

// Send shows the message immediately as an optimistic entry and inserts it.
// On failure the optimistic entry is removed and the draft is kept.
func (c *Composer) Send(ctx context.Context, in SendInput) (*models.ChatMessage, error) {
	if !c.sending.CompareAndSwap(false, true) {
		return nil, ErrSendInProgress
	}
	defer c.sending.Store(false)

	user := c.session.CurrentUser()
	kind := in.Kind
	if kind == "" {
		kind = models.KindText
	}
	if in.IsAnnouncement {
		kind = models.KindAnnouncement
	}

	ref := uuid.NewString()
	msg := models.ChatMessage{
		ID:         models.TempIDPrefix + uuid.NewString(),
		ClientRef:  ref,
		Scope:      c.store.Scope(),
		SenderID:   user.ID,
		SenderName: user.DisplayName,
		Body:       strings.TrimSpace(in.Body),
		Kind:       kind,
		Attachment: in.Attachment,
		CreatedAt:  c.now().UTC(),
		Flags:      models.MessageFlags{IsAnnouncement: kind == models.KindAnnouncement},
		Reactions:  models.Reactions{},
		ReplyToID:  in.ReplyToID,
	}
	if err := msg.Validate(); err != nil {
		if msg.Body == "" && !kind.IsMedia() {
			return nil, ErrEmptyMessage
		}
		return nil, err
	}

	if err := c.store.InsertOptimistic(msg); err != nil {
		return nil, err
	}
	saved, err := c.table.Insert(ctx, msg)
	if err != nil {
		c.store.DropOptimistic(ref)
		c.logger.Warn("send failed", slog.String("client_ref", ref), slog.Any("error", err))
		return nil, err
	}
	c.store.Reconcile(ref, *saved)

	c.mu.Lock()
	c.draft = ""
	c.mu.Unlock()
	if c.typing != nil {
		c.typing.Sent()
	}
	return saved, nil
}

// SendFile uploads f and sends it as a media message with caption as body.
// Nothing is sent when the upload fails.
func (c *Composer) SendFile(ctx context.Context, f File, caption string) (*models.ChatMessage, error) {
	if c.uploader == nil {
		return nil, fmt.Errorf("%w: no uploader configured", ErrUploadFailed)
	}
	outcome := c.uploader.Upload(ctx, f, "")
	if !outcome.Success {
		return nil, outcome.Err
	}
	return c.Send(ctx, SendInput{
		Body:       caption,
		Kind:       outcome.Kind,
		Attachment: outcome.Attachment,
	})
}

// Edit replaces the body of one of the current user's messages.
func (c *Composer) Edit(ctx context.Context, id, body string) (*models.ChatMessage, error) {
	msg, err := c.confirmed(id)
	if err != nil {
		return nil, err
	}
	if msg.SenderID != c.session.CurrentUser().ID {
		return nil, ErrNotPermitted
	}
	body = strings.TrimSpace(body)
	if body == "" && !msg.Kind.IsMedia() {
		return nil, ErrEmptyMessage
	}

	updated, err := c.table.Update(ctx, id, MessagePatch{Body: &body})
	if err != nil {
		return nil, err
	}
	c.store.ApplyUpdate(*updated)
	return updated, nil
}

// Delete removes a message. Allowed for its sender, the tournament organizer
// and admins.
func (c *Composer) Delete(ctx context.Context, id string) error {
	msg, err := c.confirmed(id)
	if err != nil {
		return err
	}
	user := c.session.CurrentUser()
	if msg.SenderID != user.ID && user.Role != models.RoleAdmin {
		organizer, err := c.organizerID(ctx)
		if err != nil {
			return err
		}
		if user.ID != organizer {
			return ErrNotPermitted
		}
	}

	if err := c.table.Delete(ctx, id); err != nil {
		return err
	}
	c.store.ApplyDelete(id)
	return nil
}

// Pin sets or clears the pinned flag. Allowed for the organizer, moderators
// and admins.
func (c *Composer) Pin(ctx context.Context, id string, pinned bool) (*models.ChatMessage, error) {
	if _, err := c.confirmed(id); err != nil {
		return nil, err
	}
	ok, err := c.CanModerate(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotPermitted
	}

	updated, err := c.table.Update(ctx, id, MessagePatch{IsPinned: &pinned})
	if err != nil {
		return nil, err
	}
	c.store.ApplyUpdate(*updated)
	return updated, nil
}

// React toggles the current user's emoji on a message.
func (c *Composer) React(ctx context.Context, id, emoji string) (*models.ChatMessage, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, ErrEmojiRequired
	}
	msg, err := c.confirmed(id)
	if err != nil {
		return nil, err
	}

	var updated *models.ChatMessage
	switch c.mode {
	case ReactionsReplace:
		next, _ := msg.Reactions.Toggle(emoji, c.session.CurrentUser().ID)
		updated, err = c.table.ReplaceReactions(ctx, id, next)
	case ReactionsAtomic:
		updated, err = c.table.ToggleReaction(ctx, id, emoji)
	default:
		return nil, fmt.Errorf("unknown reaction mode %d", c.mode)
	}
	if err != nil {
		return nil, err
	}
	c.store.ApplyUpdate(*updated)
	return updated, nil
}

// CanModerate reports whether the current user may pin messages in the
// store's scope.
func (c *Composer) CanModerate(ctx context.Context) (bool, error) {
	user := c.session.CurrentUser()
	if user.Role == models.RoleAdmin || user.Role == models.RoleModerator {
		return true, nil
	}
	organizer, err := c.organizerID(ctx)
	if err != nil {
		return false, err
	}
	return user.ID == organizer, nil
}

func (c *Composer) confirmed(id string) (models.ChatMessage, error) {
	msg, ok := c.store.Get(id)
	if !ok || msg.IsOptimistic() {
		return models.ChatMessage{}, fmt.Errorf("%w: %s", ErrUnknownMessage, id)
	}
	return msg, nil
}

// organizerID is cached per scope; zero means the scope has no known
// organizer.
func (c *Composer) organizerID(ctx context.Context) (int, error) {
	if c.directory == nil {
		return 0, nil
	}
	scope := c.store.Scope()
	key := scope.ChannelKey()

	c.mu.Lock()
	id, ok := c.organizerOf[key]
	c.mu.Unlock()
	if ok {
		return id, nil
	}

	id, err := c.directory.OrganizerID(ctx, scope)
	if err != nil {
		return 0, fmt.Errorf("resolve organizer of %s: %w", key, err)
	}
	c.mu.Lock()
	c.organizerOf[key] = id
	c.mu.Unlock()
	return id, nil
}

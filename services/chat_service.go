package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Dosada05/tournament-chat/metrics"
	"github.com/Dosada05/tournament-chat/models"
	"github.com/Dosada05/tournament-chat/repositories"
)

// Publisher delivers committed row changes to realtime subscribers.
type Publisher interface {
	PublishChange(ev models.ChangeEvent)
}

type ChatService interface {
	// ScopeInfo resolves a conversation scope and returns its owner data.
	ScopeInfo(ctx context.Context, scope models.ConversationScope) (*ScopeInfo, error)
	ListMessages(ctx context.Context, scope models.ConversationScope, limit int, before *time.Time) ([]*models.ChatMessage, error)
	CreateMessage(ctx context.Context, actor models.Identity, input CreateMessageInput) (*models.ChatMessage, error)
	UpdateMessage(ctx context.Context, actor models.Identity, id string, input UpdateMessageInput) (*models.ChatMessage, error)
	DeleteMessage(ctx context.Context, actor models.Identity, id string) error
	ToggleReaction(ctx context.Context, actor models.Identity, id, emoji string) (*models.ChatMessage, bool, error)
	ReplaceReactions(ctx context.Context, actor models.Identity, id string, reactions models.Reactions) (*models.ChatMessage, error)
}

type ScopeInfo struct {
	Scope       models.ConversationScope `json:"scope"`
	ChannelKey  string                   `json:"channel_key"`
	OrganizerID int                      `json:"organizer_id"`
	Tournament  string                   `json:"tournament"`
}

type CreateMessageInput struct {
	ClientRef      string                   `json:"client_ref"`
	Scope          models.ConversationScope `json:"-"`
	Body           string                   `json:"body"`
	Kind           models.MessageKind       `json:"kind"`
	Attachment     *models.Attachment       `json:"attachment,omitempty"`
	ReplyToID      *string                  `json:"reply_to_id,omitempty"`
	IsAnnouncement bool                     `json:"is_announcement"`
}

// UpdateMessageInput carries a partial update. Nil fields are left as is.
type UpdateMessageInput struct {
	Body     *string `json:"body,omitempty"`
	IsPinned *bool   `json:"is_pinned,omitempty"`
}

type chatService struct {
	messageRepo    repositories.ChatMessageRepository
	tournamentRepo repositories.TournamentRepository
	publisher      Publisher
	limiter        *limiterPool
	logger         *slog.Logger
	now            func() time.Time
}

type ChatServiceOptions struct {
	SendRPS   float64
	SendBurst int
}

func NewChatService(
	messageRepo repositories.ChatMessageRepository,
	tournamentRepo repositories.TournamentRepository,
	publisher Publisher,
	opts ChatServiceOptions,
	logger *slog.Logger,
) ChatService {
	if logger == nil {
		logger = slog.Default()
	}
	return &chatService{
		messageRepo:    messageRepo,
		tournamentRepo: tournamentRepo,
		publisher:      publisher,
		limiter:        newLimiterPool(opts.SendRPS, opts.SendBurst),
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

func (s *chatService) ScopeInfo(ctx context.Context, scope models.ConversationScope) (*ScopeInfo, error) {
	tournament, err := s.resolveScope(ctx, scope)
	if err != nil {
		return nil, err
	}
	return &ScopeInfo{
		Scope:       scope,
		ChannelKey:  scope.ChannelKey(),
		OrganizerID: tournament.OrganizerID,
		Tournament:  tournament.Name,
	}, nil
}

func (s *chatService) ListMessages(ctx context.Context, scope models.ConversationScope, limit int, before *time.Time) ([]*models.ChatMessage, error) {
	if _, err := s.resolveScope(ctx, scope); err != nil {
		return nil, err
	}
	msgs, err := s.messageRepo.ListRecent(ctx, repositories.ListMessagesFilter{Scope: scope, Limit: limit, Before: before})
	if err != nil {
		return nil, handleChatRepoError(err)
	}
	return msgs, nil
}

func (s *chatService) CreateMessage(ctx context.Context, actor models.Identity, input CreateMessageInput) (*models.ChatMessage, error) {
	tournament, err := s.resolveScope(ctx, input.Scope)
	if err != nil {
		return nil, err
	}

	kind := input.Kind
	if kind == "" {
		kind = models.KindText
	}
	msg := &models.ChatMessage{
		ClientRef:  strings.TrimSpace(input.ClientRef),
		Scope:      input.Scope,
		SenderID:   actor.ID,
		SenderName: actor.DisplayName,
		Body:       input.Body,
		Kind:       kind,
		Attachment: input.Attachment,
		ReplyToID:  input.ReplyToID,
		Reactions:  models.Reactions{},
		Flags:      models.MessageFlags{IsAnnouncement: input.IsAnnouncement || kind == models.KindAnnouncement},
	}
	if err := msg.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	if err := checkKindAllowed(actor, tournament, msg); err != nil {
		return nil, err
	}
	if msg.ReplyToID != nil {
		if err := s.checkReplyTarget(ctx, *msg.ReplyToID, msg.Scope); err != nil {
			return nil, err
		}
	}
	if !s.limiter.Allow(actor.ID) {
		s.logger.WarnContext(ctx, "chat send rate limited", slog.Int("user_id", actor.ID), slog.String("scope", msg.Scope.ChannelKey()))
		return nil, ErrRateLimited
	}

	if err := s.messageRepo.Create(ctx, msg); err != nil {
		return nil, handleChatRepoError(err)
	}
	metrics.ChatMessages.WithLabelValues("create").Inc()
	s.logger.InfoContext(ctx, "chat message created",
		slog.String("message_id", msg.ID),
		slog.String("scope", msg.Scope.ChannelKey()),
		slog.Int("sender_id", msg.SenderID),
		slog.String("kind", string(msg.Kind)),
	)

	s.publish(models.ChangeInsert, msg)
	return msg, nil
}

func (s *chatService) UpdateMessage(ctx context.Context, actor models.Identity, id string, input UpdateMessageInput) (*models.ChatMessage, error) {
	if input.Body == nil && input.IsPinned == nil {
		return nil, fmt.Errorf("%w: nothing to update", ErrValidationFailed)
	}
	msg, tournament, err := s.loadMessage(ctx, id)
	if err != nil {
		return nil, err
	}

	if input.Body != nil {
		if msg.SenderID != actor.ID {
			return nil, fmt.Errorf("%w: only the sender can edit a message", ErrForbiddenOperation)
		}
		msg.Body = *input.Body
		if err := msg.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
		}
		editedAt := s.now()
		msg.EditedAt = &editedAt
		msg.Flags.IsEdited = true
	}
	if input.IsPinned != nil {
		if !canModerate(actor, tournament) {
			return nil, fmt.Errorf("%w: only the organizer or a moderator can pin messages", ErrForbiddenOperation)
		}
		msg.Flags.IsPinned = *input.IsPinned
	}

	if err := s.messageRepo.Update(ctx, msg); err != nil {
		return nil, handleChatRepoError(err)
	}
	metrics.ChatMessages.WithLabelValues("update").Inc()
	s.publish(models.ChangeUpdate, msg)
	return msg, nil
}

func (s *chatService) DeleteMessage(ctx context.Context, actor models.Identity, id string) error {
	msg, tournament, err := s.loadMessage(ctx, id)
	if err != nil {
		return err
	}
	if msg.SenderID != actor.ID && actor.ID != tournament.OrganizerID && actor.Role != models.RoleAdmin {
		return fmt.Errorf("%w: only the sender, the organizer or an admin can delete a message", ErrForbiddenOperation)
	}

	if err := s.messageRepo.Delete(ctx, id); err != nil {
		return handleChatRepoError(err)
	}
	metrics.ChatMessages.WithLabelValues("delete").Inc()
	s.logger.InfoContext(ctx, "chat message deleted", slog.String("message_id", id), slog.Int("actor_id", actor.ID))

	if s.publisher != nil {
		s.publisher.PublishChange(models.ChangeEvent{
			Type:      models.ChangeDelete,
			Scope:     msg.Scope,
			MessageID: msg.ID,
			At:        s.now(),
		})
	}
	return nil
}

func (s *chatService) ToggleReaction(ctx context.Context, actor models.Identity, id, emoji string) (*models.ChatMessage, bool, error) {
	emoji = strings.TrimSpace(emoji)
	if emoji == "" {
		return nil, false, ErrEmojiRequired
	}
	msg, added, err := s.messageRepo.ToggleReaction(ctx, id, emoji, actor.ID)
	if err != nil {
		return nil, false, handleChatRepoError(err)
	}
	direction := "removed"
	if added {
		direction = "added"
	}
	metrics.ReactionToggles.WithLabelValues("atomic", direction).Inc()
	s.publish(models.ChangeUpdate, msg)
	return msg, added, nil
}

// ReplaceReactions overwrites the whole reactions map. A map that differs
// from the stored one for anyone but the actor is rejected, so a client can
// only change its own reactions and a stale copy fails with a conflict
// instead of dropping someone else's reaction.
func (s *chatService) ReplaceReactions(ctx context.Context, actor models.Identity, id string, reactions models.Reactions) (*models.ChatMessage, error) {
	msg, _, err := s.loadMessage(ctx, id)
	if err != nil {
		return nil, err
	}
	next := reactions.Normalize()
	if !msg.Reactions.SameExcept(next, actor.ID) {
		return nil, ErrReactionsConflict
	}
	msg.Reactions = next
	if err := s.messageRepo.UpdateReactions(ctx, msg); err != nil {
		return nil, handleChatRepoError(err)
	}
	metrics.ReactionToggles.WithLabelValues("replace", "replace").Inc()
	s.logger.DebugContext(ctx, "reactions replaced", slog.String("message_id", id), slog.Int("actor_id", actor.ID))
	s.publish(models.ChangeUpdate, msg)
	return msg, nil
}

func (s *chatService) publish(kind models.ChangeType, msg *models.ChatMessage) {
	if s.publisher == nil || msg == nil {
		return
	}
	snapshot := msg.Clone()
	s.publisher.PublishChange(models.ChangeEvent{
		Type:      kind,
		Scope:     snapshot.Scope,
		Message:   &snapshot,
		MessageID: snapshot.ID,
		At:        s.now(),
	})
}

func (s *chatService) resolveScope(ctx context.Context, scope models.ConversationScope) (*models.Tournament, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}
	tournament, err := s.tournamentRepo.GetByID(ctx, scope.TournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, ErrTournamentNotFound
		}
		return nil, fmt.Errorf("failed to load tournament %d: %w", scope.TournamentID, err)
	}
	if scope.TeamID != nil {
		team, err := s.tournamentRepo.GetTeamByID(ctx, *scope.TeamID)
		if err != nil {
			if errors.Is(err, repositories.ErrTeamNotFound) {
				return nil, ErrTeamNotFound
			}
			return nil, fmt.Errorf("failed to load team %d: %w", *scope.TeamID, err)
		}
		if team.TournamentID != scope.TournamentID {
			return nil, ErrScopeMismatch
		}
	}
	return tournament, nil
}

func (s *chatService) loadMessage(ctx context.Context, id string) (*models.ChatMessage, *models.Tournament, error) {
	msg, err := s.messageRepo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, handleChatRepoError(err)
	}
	tournament, err := s.tournamentRepo.GetByID(ctx, msg.Scope.TournamentID)
	if err != nil {
		if errors.Is(err, repositories.ErrTournamentNotFound) {
			return nil, nil, ErrTournamentNotFound
		}
		return nil, nil, fmt.Errorf("failed to load tournament %d: %w", msg.Scope.TournamentID, err)
	}
	return msg, tournament, nil
}

func (s *chatService) checkReplyTarget(ctx context.Context, replyToID string, scope models.ConversationScope) error {
	target, err := s.messageRepo.GetByID(ctx, replyToID)
	if err != nil {
		if errors.Is(err, repositories.ErrChatMessageNotFound) {
			return ErrInvalidReplyTarget
		}
		return fmt.Errorf("failed to load reply target %s: %w", replyToID, err)
	}
	if !target.Scope.Equal(scope) {
		return ErrInvalidReplyTarget
	}
	return nil
}

// canModerate: организатор турнира, модератор или админ.
func canModerate(actor models.Identity, tournament *models.Tournament) bool {
	if actor.Role == models.RoleAdmin || actor.Role == models.RoleModerator {
		return true
	}
	return tournament != nil && actor.ID == tournament.OrganizerID
}

func checkKindAllowed(actor models.Identity, tournament *models.Tournament, msg *models.ChatMessage) error {
	switch msg.Kind {
	case models.KindSystem:
		if actor.Role != models.RoleAdmin {
			return fmt.Errorf("%w: system messages are reserved", ErrForbiddenOperation)
		}
	case models.KindAnnouncement:
		if !canModerate(actor, tournament) {
			return fmt.Errorf("%w: only the organizer or a moderator can post announcements", ErrForbiddenOperation)
		}
	case models.KindText, models.KindImage, models.KindFile, models.KindVideo, models.KindAudio:
		if msg.Flags.IsAnnouncement && !canModerate(actor, tournament) {
			return fmt.Errorf("%w: only the organizer or a moderator can post announcements", ErrForbiddenOperation)
		}
	}
	return nil
}

func handleChatRepoError(err error) error {
	switch {
	case errors.Is(err, repositories.ErrChatMessageNotFound):
		return ErrChatMessageNotFound
	case errors.Is(err, repositories.ErrChatInvalidTournament):
		return ErrTournamentNotFound
	case errors.Is(err, repositories.ErrChatInvalidTeam):
		return ErrTeamNotFound
	case errors.Is(err, repositories.ErrChatInvalidSender):
		return ErrUserNotFound
	}
	return err
}

package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dosada05/tournament-chat/models"
	"github.com/lib/pq"
)

var (
	ErrChatMessageNotFound   = errors.New("chat message not found")
	ErrChatInvalidTournament = errors.New("invalid tournament reference")
	ErrChatInvalidTeam       = errors.New("invalid team reference")
	ErrChatInvalidSender     = errors.New("invalid sender reference")
)

const (
	DefaultMessageLimit = 50
	MaxMessageLimit     = 200
)

type ListMessagesFilter struct {
	Scope  models.ConversationScope
	Limit  int
	Before *time.Time
}

type ChatMessageRepository interface {
	Create(ctx context.Context, msg *models.ChatMessage) error
	GetByID(ctx context.Context, id string) (*models.ChatMessage, error)
	// ListRecent returns the newest messages of a scope, newest first.
	ListRecent(ctx context.Context, filter ListMessagesFilter) ([]*models.ChatMessage, error)
	// Update writes body and flags, never reactions.
	Update(ctx context.Context, msg *models.ChatMessage) error
	// UpdateReactions writes the reactions map, never body or flags.
	UpdateReactions(ctx context.Context, msg *models.ChatMessage) error
	Delete(ctx context.Context, id string) error
	ToggleReaction(ctx context.Context, id, emoji string, userID int) (*models.ChatMessage, bool, error)
}

type postgresChatMessageRepository struct {
	db *sql.DB
}

func NewPostgresChatMessageRepository(db *sql.DB) ChatMessageRepository {
	return &postgresChatMessageRepository{db: db}
}

const chatMessageColumns = `
	m.id, COALESCE(m.client_ref, ''), m.tournament_id, m.team_id, m.sender_id,
	COALESCE(NULLIF(u.nickname, ''), TRIM(COALESCE(u.first_name, '') || ' ' || COALESCE(u.last_name, ''))),
	m.body, m.kind, m.attachment, m.reactions, m.is_edited, m.is_pinned, m.is_announcement,
	m.reply_to_id, m.created_at, m.edited_at`

func (r *postgresChatMessageRepository) Create(ctx context.Context, msg *models.ChatMessage) error {
	attachment, err := encodeAttachment(msg.Attachment)
	if err != nil {
		return err
	}
	reactions, err := encodeReactions(msg.Reactions)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO chat_messages (
			client_ref, tournament_id, team_id, sender_id, body, kind,
			attachment, reactions, is_announcement, reply_to_id
		) VALUES (NULLIF($1, ''), $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, created_at`

	err = r.db.QueryRowContext(ctx, query,
		msg.ClientRef, msg.Scope.TournamentID, msg.Scope.TeamID, msg.SenderID, msg.Body, string(msg.Kind),
		attachment, reactions, msg.Flags.IsAnnouncement, msg.ReplyToID,
	).Scan(&msg.ID, &msg.CreatedAt)

	return r.handleChatMessageError(err)
}

func (r *postgresChatMessageRepository) GetByID(ctx context.Context, id string) (*models.ChatMessage, error) {
	return r.getByID(ctx, r.db, id)
}

func (r *postgresChatMessageRepository) getByID(ctx context.Context, exec SQLExecutor, id string) (*models.ChatMessage, error) {
	query := `SELECT` + chatMessageColumns + `
		FROM chat_messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.id = $1`

	msg, err := scanChatMessage(exec.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrChatMessageNotFound
		}
		return nil, r.handleChatMessageError(err)
	}
	return msg, nil
}

func (r *postgresChatMessageRepository) ListRecent(ctx context.Context, filter ListMessagesFilter) ([]*models.ChatMessage, error) {
	query := `SELECT` + chatMessageColumns + `
		FROM chat_messages m
		LEFT JOIN users u ON u.id = m.sender_id
		WHERE m.tournament_id = $1`

	args := []interface{}{filter.Scope.TournamentID}
	argID := 2

	if filter.Scope.TeamID != nil {
		query += fmt.Sprintf(" AND m.team_id = $%d", argID)
		args = append(args, *filter.Scope.TeamID)
		argID++
	} else {
		query += " AND m.team_id IS NULL"
	}
	if filter.Before != nil {
		query += fmt.Sprintf(" AND m.created_at < $%d", argID)
		args = append(args, *filter.Before)
		argID++
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = DefaultMessageLimit
	}
	if limit > MaxMessageLimit {
		limit = MaxMessageLimit
	}
	query += fmt.Sprintf(" ORDER BY m.created_at DESC, m.id DESC LIMIT $%d", argID)
	args = append(args, limit)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages for %s: %w", filter.Scope, err)
	}
	defer rows.Close()

	messages := make([]*models.ChatMessage, 0, limit)
	for rows.Next() {
		msg, scanErr := scanChatMessage(rows)
		if scanErr != nil {
			return nil, fmt.Errorf("failed to scan chat message: %w", scanErr)
		}
		messages = append(messages, msg)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error during chat message rows iteration: %w", err)
	}
	return messages, nil
}

// Update writes the content columns: body, edit marker and flags. The
// reactions column is owned by ToggleReaction and UpdateReactions; its current
// value is read back into msg.
func (r *postgresChatMessageRepository) Update(ctx context.Context, msg *models.ChatMessage) error {
	query := `
		UPDATE chat_messages SET
			body = $1,
			is_edited = $2,
			edited_at = $3,
			is_pinned = $4,
			is_announcement = $5
		WHERE id = $6
		RETURNING reactions`

	var raw []byte
	err := r.db.QueryRowContext(ctx, query,
		msg.Body, msg.Flags.IsEdited, msg.EditedAt, msg.Flags.IsPinned, msg.Flags.IsAnnouncement,
		msg.ID,
	).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrChatMessageNotFound
		}
		return r.handleChatMessageError(err)
	}
	msg.Reactions, err = decodeReactions(raw)
	return err
}

// UpdateReactions overwrites only the reactions map and reads the content
// columns back into msg.
func (r *postgresChatMessageRepository) UpdateReactions(ctx context.Context, msg *models.ChatMessage) error {
	reactions, err := encodeReactions(msg.Reactions)
	if err != nil {
		return err
	}

	query := `
		UPDATE chat_messages SET reactions = $1
		WHERE id = $2
		RETURNING body, is_edited, edited_at, is_pinned, is_announcement`

	err = r.db.QueryRowContext(ctx, query, reactions, msg.ID).Scan(
		&msg.Body, &msg.Flags.IsEdited, &msg.EditedAt, &msg.Flags.IsPinned, &msg.Flags.IsAnnouncement,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrChatMessageNotFound
		}
		return r.handleChatMessageError(err)
	}
	return nil
}

func (r *postgresChatMessageRepository) Delete(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, `DELETE FROM chat_messages WHERE id = $1`, id)
	if err != nil {
		return r.handleChatMessageError(err)
	}
	return checkAffectedRows(result, ErrChatMessageNotFound)
}

// ToggleReaction adds or removes userID under emoji while holding the row
// lock, so concurrent toggles from different users never overwrite each
// other. The bool reports whether the reaction was added.
func (r *postgresChatMessageRepository) ToggleReaction(ctx context.Context, id, emoji string, userID int) (*models.ChatMessage, bool, error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, false, fmt.Errorf("failed to begin reaction transaction: %w", err)
	}
	defer tx.Rollback()

	var raw []byte
	err = tx.QueryRowContext(ctx, `SELECT reactions FROM chat_messages WHERE id = $1 FOR UPDATE`, id).Scan(&raw)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, false, ErrChatMessageNotFound
		}
		return nil, false, r.handleChatMessageError(err)
	}

	current, err := decodeReactions(raw)
	if err != nil {
		return nil, false, err
	}
	next, added := current.Toggle(emoji, userID)
	encoded, err := encodeReactions(next)
	if err != nil {
		return nil, false, err
	}

	if _, err = tx.ExecContext(ctx, `UPDATE chat_messages SET reactions = $1 WHERE id = $2`, encoded, id); err != nil {
		return nil, false, fmt.Errorf("failed to write reactions for message %s: %w", id, err)
	}
	msg, err := r.getByID(ctx, tx, id)
	if err != nil {
		return nil, false, err
	}
	if err = tx.Commit(); err != nil {
		return nil, false, fmt.Errorf("failed to commit reaction toggle: %w", err)
	}
	return msg, added, nil
}

func scanChatMessage(row rowScanner) (*models.ChatMessage, error) {
	var (
		msg           models.ChatMessage
		kind          string
		attachmentRaw []byte
		reactionsRaw  []byte
	)
	err := row.Scan(
		&msg.ID, &msg.ClientRef, &msg.Scope.TournamentID, &msg.Scope.TeamID, &msg.SenderID,
		&msg.SenderName,
		&msg.Body, &kind, &attachmentRaw, &reactionsRaw, &msg.Flags.IsEdited, &msg.Flags.IsPinned, &msg.Flags.IsAnnouncement,
		&msg.ReplyToID, &msg.CreatedAt, &msg.EditedAt,
	)
	if err != nil {
		return nil, err
	}

	msg.Kind = models.MessageKind(kind)
	if len(attachmentRaw) > 0 {
		var a models.Attachment
		if err := json.Unmarshal(attachmentRaw, &a); err != nil {
			return nil, fmt.Errorf("failed to decode attachment of message %s: %w", msg.ID, err)
		}
		msg.Attachment = &a
	}
	msg.Reactions, err = decodeReactions(reactionsRaw)
	if err != nil {
		return nil, err
	}
	return &msg, nil
}

func encodeAttachment(a *models.Attachment) (interface{}, error) {
	if a == nil {
		return nil, nil
	}
	b, err := json.Marshal(a)
	if err != nil {
		return nil, fmt.Errorf("failed to encode attachment: %w", err)
	}
	return string(b), nil
}

// encodeReactions returns a string: lib/pq would send []byte as bytea.
func encodeReactions(r models.Reactions) (string, error) {
	if r == nil {
		return "{}", nil
	}
	b, err := json.Marshal(r.Normalize())
	if err != nil {
		return "", fmt.Errorf("failed to encode reactions: %w", err)
	}
	return string(b), nil
}

func decodeReactions(raw []byte) (models.Reactions, error) {
	reactions := models.Reactions{}
	if len(raw) == 0 {
		return reactions, nil
	}
	if err := json.Unmarshal(raw, &reactions); err != nil {
		return nil, fmt.Errorf("failed to decode reactions: %w", err)
	}
	return reactions.Normalize(), nil
}

func (r *postgresChatMessageRepository) handleChatMessageError(err error) error {
	if err == nil {
		return nil
	}
	if pqErr, ok := err.(*pq.Error); ok {
		switch pqErr.Code {
		case "23503": // foreign_key_violation
			switch pqErr.Constraint {
			case "chat_messages_tournament_id_fkey":
				return ErrChatInvalidTournament
			case "chat_messages_team_id_fkey":
				return ErrChatInvalidTeam
			case "chat_messages_sender_id_fkey":
				return ErrChatInvalidSender
			}
		case "22P02": // invalid_text_representation, e.g. a malformed uuid
			return ErrChatMessageNotFound
		}
	}
	return err
}

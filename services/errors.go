package services

import "errors"

// Общие ошибки, используемые в разных сервисах и маппинге HTTP.
var (
	// Ресурс не найден (универсальная)
	ErrNotFound = errors.New("requested resource not found")

	// Ошибки валидации и бизнес-правил
	ErrValidationFailed   = errors.New("validation failed")
	ErrPasswordTooShort   = errors.New("password is too short")
	ErrInvalidCredentials = errors.New("invalid email or password")
	ErrRateLimited        = errors.New("too many messages, slow down")
	ErrScopeMismatch      = errors.New("team does not belong to the tournament")
	ErrInvalidReplyTarget = errors.New("reply target is not in the same conversation")
	ErrEmojiRequired      = errors.New("emoji is required")

	// Ошибки вложений
	ErrUnknownBucket    = errors.New("unknown storage bucket")
	ErrFileTooLarge     = errors.New("file exceeds the upload size limit")
	ErrEmptyFile        = errors.New("file is empty")
	ErrStorageDisabled  = errors.New("object storage is not configured")
	ErrInvalidObjectKey = errors.New("invalid object key")

	// Ошибки конфликтов
	ErrUserEmailConflict    = errors.New("email address is already in use")
	ErrUserNicknameConflict = errors.New("nickname is already in use")
	ErrReactionsConflict    = errors.New("reactions of other users changed since the last read")

	// Ошибки аутентификации и авторизации
	ErrAuthenticationFailed = errors.New("authentication failed")
	ErrForbiddenOperation   = errors.New("operation not allowed for the current user")

	// Ошибки, специфичные для сущностей
	ErrUserNotFound        = errors.New("user not found")
	ErrTeamNotFound        = errors.New("team not found")
	ErrTournamentNotFound  = errors.New("tournament not found")
	ErrChatMessageNotFound = errors.New("chat message not found")
)

// Package chatclient keeps a live, locally ordered view of one tournament
// chat room and turns user intent into remote writes.
//
// Every remote collaborator is injected: a Table for the chat_messages
// rows, a Feed for realtime changes and broadcasts, a Storage for
// attachments, a Session for the current user and an optional Notifier.
// HTTPTable, HTTPStorage and WSFeed implement them against the chat server.
package chatclient

import (
	"context"
	"errors"
	"io"

	"github.com/Dosada05/tournament-chat/models"
)

var (
	ErrSendInProgress = errors.New("a message is already being sent")
	ErrNotPermitted   = errors.New("operation not permitted for the current user")
	ErrUnknownMessage = errors.New("message is not loaded in this conversation")
	ErrNotConnected   = errors.New("realtime channel is not connected")
	ErrEmptyMessage   = errors.New("message is empty")
	ErrClosed         = errors.New("subscription is closed")
	ErrEmojiRequired  = errors.New("emoji is required")
)

// Table is the remote chat_messages table.
type Table interface {
	// ListRecent returns at most limit messages of scope, newest first.
	ListRecent(ctx context.Context, scope models.ConversationScope, limit int) ([]models.ChatMessage, error)
	Insert(ctx context.Context, msg models.ChatMessage) (*models.ChatMessage, error)
	Update(ctx context.Context, id string, patch MessagePatch) (*models.ChatMessage, error)
	Delete(ctx context.Context, id string) error
	// ToggleReaction flips the caller's reaction on the server under a row
	// lock.
	ToggleReaction(ctx context.Context, id, emoji string) (*models.ChatMessage, error)
	// ReplaceReactions overwrites the whole reactions map.
	ReplaceReactions(ctx context.Context, id string, reactions models.Reactions) (*models.ChatMessage, error)
}

// MessagePatch is a partial update. Nil fields are left untouched.
type MessagePatch struct {
	Body     *string `json:"body,omitempty"`
	IsPinned *bool   `json:"is_pinned,omitempty"`
}

// Directory answers who owns a conversation.
type Directory interface {
	OrganizerID(ctx context.Context, scope models.ConversationScope) (int, error)
}

// Storage is the object store used for attachments.
type Storage interface {
	Put(ctx context.Context, bucket, key, contentType string, body io.Reader, size int64) error
	PublicURL(ctx context.Context, bucket, key string) (string, error)
}

// Feed opens realtime channels, one per conversation scope.
type Feed interface {
	Open(ctx context.Context, scope models.ConversationScope) (Channel, error)
}

// Channel is one open realtime connection. Done is closed when the
// connection drops or Close is called; Err then reports why.
type Channel interface {
	Changes() <-chan models.ChangeEvent
	Broadcasts() <-chan models.BroadcastEvent
	Send(ctx context.Context, ev models.BroadcastEvent) error
	Done() <-chan struct{}
	Err() error
	Close() error
}

// Broadcaster sends ephemeral events to the other members of a room.
type Broadcaster interface {
	Broadcast(ctx context.Context, ev models.BroadcastEvent) error
}

// Notifier raises a desktop style notification. Implementations must not
// block for long; they are called from their own goroutine.
type Notifier interface {
	Notify(title, body string)
}

// Session exposes the signed-in user.
type Session interface {
	CurrentUser() models.Identity
}

// StaticSession is a Session with a fixed identity.
type StaticSession models.Identity

func (s StaticSession) CurrentUser() models.Identity { return models.Identity(s) }

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(title, body string)

func (f NotifierFunc) Notify(title, body string) { f(title, body) }

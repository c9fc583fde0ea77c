package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

var (
	ErrInvalidMessageKind  = errors.New("invalid message kind")
	ErrMessageBodyRequired = errors.New("message body is required")
	ErrAttachmentRequired  = errors.New("attachment is required for media messages")
	ErrInvalidScope        = errors.New("invalid conversation scope")
)

// TempIDPrefix marks ids assigned locally to messages not yet confirmed by
// the server.
const TempIDPrefix = "tmp-"

type MessageKind string

const (
	KindText         MessageKind = "text"
	KindImage        MessageKind = "image"
	KindFile         MessageKind = "file"
	KindVideo        MessageKind = "video"
	KindAudio        MessageKind = "audio"
	KindSystem       MessageKind = "system"
	KindAnnouncement MessageKind = "announcement"
)

func (k MessageKind) Validate() error {
	switch k {
	case KindText, KindImage, KindFile, KindVideo, KindAudio, KindSystem, KindAnnouncement:
		return nil
	}
	return fmt.Errorf("%w: %q", ErrInvalidMessageKind, string(k))
}

// IsMedia reports whether the kind carries its payload in an attachment.
func (k MessageKind) IsMedia() bool {
	switch k {
	case KindImage, KindFile, KindVideo, KindAudio:
		return true
	case KindText, KindSystem, KindAnnouncement:
		return false
	}
	return false
}

// MIMEPrefix is the content type prefix an attachment of this kind must have.
// Generic files accept anything.
func (k MessageKind) MIMEPrefix() string {
	switch k {
	case KindImage:
		return "image/"
	case KindVideo:
		return "video/"
	case KindAudio:
		return "audio/"
	case KindFile, KindText, KindSystem, KindAnnouncement:
		return ""
	}
	return ""
}

func (k *MessageKind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	kind := MessageKind(s)
	if kind == "" {
		kind = KindText
	}
	if err := kind.Validate(); err != nil {
		return err
	}
	*k = kind
	return nil
}

// ConversationScope identifies one chat room. TeamID == nil is the
// tournament-wide room.
type ConversationScope struct {
	TournamentID int  `json:"tournament_id"`
	TeamID       *int `json:"team_id,omitempty"`
}

func GeneralScope(tournamentID int) ConversationScope {
	return ConversationScope{TournamentID: tournamentID}
}

func TeamScope(tournamentID, teamID int) ConversationScope {
	return ConversationScope{TournamentID: tournamentID, TeamID: &teamID}
}

func (s ConversationScope) Validate() error {
	if s.TournamentID <= 0 {
		return fmt.Errorf("%w: tournament id must be positive", ErrInvalidScope)
	}
	if s.TeamID != nil && *s.TeamID <= 0 {
		return fmt.Errorf("%w: team id must be positive", ErrInvalidScope)
	}
	return nil
}

// ChannelKey is the realtime room name for the scope.
func (s ConversationScope) ChannelKey() string {
	team := "general"
	if s.TeamID != nil {
		team = strconv.Itoa(*s.TeamID)
	}
	return "tournament_" + strconv.Itoa(s.TournamentID) + "_" + team
}

func (s ConversationScope) Equal(o ConversationScope) bool {
	if s.TournamentID != o.TournamentID {
		return false
	}
	if s.TeamID == nil || o.TeamID == nil {
		return s.TeamID == nil && o.TeamID == nil
	}
	return *s.TeamID == *o.TeamID
}

func (s ConversationScope) String() string { return s.ChannelKey() }

type Attachment struct {
	URL             string   `json:"url"`
	FileName        string   `json:"file_name"`
	FileSizeBytes   int64    `json:"file_size_bytes"`
	MIMEType        string   `json:"mime_type"`
	ThumbnailURL    *string  `json:"thumbnail_url,omitempty"`
	DurationSeconds *float64 `json:"duration_seconds,omitempty"`
}

type MessageFlags struct {
	IsEdited       bool `json:"is_edited"`
	IsPinned       bool `json:"is_pinned"`
	IsAnnouncement bool `json:"is_announcement"`
}

// Reaction is the aggregate for one emoji. UserIDs is kept sorted and
// unique so Count always equals len(UserIDs).
type Reaction struct {
	Count   int   `json:"count"`
	UserIDs []int `json:"user_ids"`
}

// Reactions maps an emoji to the users who reacted with it.
type Reactions map[string]Reaction

func (r Reactions) Clone() Reactions {
	out := make(Reactions, len(r))
	for emoji, reaction := range r {
		out[emoji] = Reaction{Count: reaction.Count, UserIDs: slices.Clone(reaction.UserIDs)}
	}
	return out
}

func (r Reactions) Has(emoji string, userID int) bool {
	reaction, ok := r[emoji]
	if !ok {
		return false
	}
	_, found := slices.BinarySearch(reaction.UserIDs, userID)
	return found
}

// Toggle returns a copy of r with userID added to or removed from emoji.
// An emoji whose last user is removed disappears from the map.
func (r Reactions) Toggle(emoji string, userID int) (Reactions, bool) {
	out := r.Clone()
	reaction := out[emoji]
	idx, found := slices.BinarySearch(reaction.UserIDs, userID)
	if found {
		reaction.UserIDs = slices.Delete(reaction.UserIDs, idx, idx+1)
	} else {
		reaction.UserIDs = slices.Insert(reaction.UserIDs, idx, userID)
	}
	reaction.Count = len(reaction.UserIDs)
	if reaction.Count == 0 {
		delete(out, emoji)
	} else {
		out[emoji] = reaction
	}
	return out, !found
}

// Normalize sorts and de-duplicates user ids, recomputes counts and drops
// empty entries.
func (r Reactions) Normalize() Reactions {
	out := make(Reactions, len(r))
	for emoji, reaction := range r {
		if strings.TrimSpace(emoji) == "" {
			continue
		}
		ids := slices.Clone(reaction.UserIDs)
		slices.Sort(ids)
		ids = slices.Compact(ids)
		if len(ids) == 0 {
			continue
		}
		out[emoji] = Reaction{Count: len(ids), UserIDs: ids}
	}
	return out
}

// SameExcept reports whether r and other hold the same reactions for every
// user except userID.
func (r Reactions) SameExcept(other Reactions, userID int) bool {
	a, b := r.Normalize(), other.Normalize()
	others := func(x Reactions, emoji string) []int {
		var ids []int
		for _, id := range x[emoji].UserIDs {
			if id != userID {
				ids = append(ids, id)
			}
		}
		return ids
	}
	for _, pair := range [][2]Reactions{{a, b}, {b, a}} {
		for emoji := range pair[0] {
			if !slices.Equal(others(pair[0], emoji), others(pair[1], emoji)) {
				return false
			}
		}
	}
	return true
}

// ChatMessage is one row of chat_messages.
type ChatMessage struct {
	ID         string            `json:"id"`
	ClientRef  string            `json:"client_ref,omitempty"`
	Scope      ConversationScope `json:"scope"`
	SenderID   int               `json:"sender_id"`
	SenderName string            `json:"sender_name,omitempty"`
	Body       string            `json:"body"`
	Kind       MessageKind       `json:"kind"`
	Attachment *Attachment       `json:"attachment,omitempty"`
	CreatedAt  time.Time         `json:"created_at"`
	EditedAt   *time.Time        `json:"edited_at,omitempty"`
	Flags      MessageFlags      `json:"flags"`
	Reactions  Reactions         `json:"reactions"`
	ReplyToID  *string           `json:"reply_to_id,omitempty"`
}

func (m *ChatMessage) Validate() error {
	if err := m.Scope.Validate(); err != nil {
		return err
	}
	if err := m.Kind.Validate(); err != nil {
		return err
	}
	if m.Kind.IsMedia() {
		if m.Attachment == nil || m.Attachment.URL == "" {
			return ErrAttachmentRequired
		}
		return nil
	}
	if strings.TrimSpace(m.Body) == "" {
		return ErrMessageBodyRequired
	}
	return nil
}

func (m *ChatMessage) IsOptimistic() bool {
	return strings.HasPrefix(m.ID, TempIDPrefix)
}

// Clone returns a deep copy so callers can hand out snapshots.
func (m ChatMessage) Clone() ChatMessage {
	out := m
	if m.Attachment != nil {
		a := *m.Attachment
		out.Attachment = &a
	}
	if m.EditedAt != nil {
		t := *m.EditedAt
		out.EditedAt = &t
	}
	if m.ReplyToID != nil {
		id := *m.ReplyToID
		out.ReplyToID = &id
	}
	if m.Scope.TeamID != nil {
		team := *m.Scope.TeamID
		out.Scope.TeamID = &team
	}
	if m.Reactions != nil {
		out.Reactions = m.Reactions.Clone()
	}
	return out
}

// Preview is the one-line text shown in notifications and reply quotes.
func (m *ChatMessage) Preview() string {
	switch m.Kind {
	case KindText, KindSystem:
		return m.Body
	case KindAnnouncement:
		return "📢 " + m.Body
	case KindImage:
		return withCaption("📷 Image", m.Body)
	case KindVideo:
		return withCaption("🎬 Video", m.Body)
	case KindAudio:
		return withCaption("🎵 Audio", m.Body)
	case KindFile:
		name := "File"
		if m.Attachment != nil && m.Attachment.FileName != "" {
			name = m.Attachment.FileName
		}
		return withCaption("📎 "+name, m.Body)
	}
	return m.Body
}

func withCaption(label, body string) string {
	if strings.TrimSpace(body) == "" {
		return label
	}
	return label + ": " + body
}

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/Dosada05/tournament-chat/models"
	"github.com/Dosada05/tournament-chat/services"
	"github.com/go-chi/chi/v5"
)

type ChatHandler struct {
	chatService services.ChatService
}

func NewChatHandler(cs services.ChatService) *ChatHandler {
	return &ChatHandler{chatService: cs}
}

// ScopeHandler обрабатывает GET /tournaments/{tournamentID}/chat
func (h *ChatHandler) ScopeHandler(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	info, err := h.chatService.ScopeInfo(r.Context(), scope)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"chat": info}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// ListHandler обрабатывает GET /tournaments/{tournamentID}/chat/messages
// Сообщения возвращаются от новых к старым.
func (h *ChatHandler) ListHandler(w http.ResponseWriter, r *http.Request) {
	scope, err := scopeFromRequest(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	q := r.URL.Query()
	limit := 0
	if raw := q.Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 0 {
			badRequestResponse(w, r, fmt.Errorf("invalid limit parameter: %q", raw))
			return
		}
	}
	var before *time.Time
	if raw := q.Get("before"); raw != "" {
		t, err := time.Parse(time.RFC3339Nano, raw)
		if err != nil {
			badRequestResponse(w, r, fmt.Errorf("invalid before parameter, expected RFC3339: %q", raw))
			return
		}
		before = &t
	}

	messages, err := h.chatService.ListMessages(r.Context(), scope, limit, before)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if messages == nil {
		messages = []*models.ChatMessage{}
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"messages": messages}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// CreateHandler обрабатывает POST /tournaments/{tournamentID}/chat/messages
func (h *ChatHandler) CreateHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	scope, err := scopeFromRequest(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}

	var input services.CreateMessageInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	input.Scope = scope

	msg, err := h.chatService.CreateMessage(r.Context(), identity, input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusCreated, jsonResponse{"message": msg}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// UpdateHandler обрабатывает PATCH /chat/messages/{messageID}
func (h *ChatHandler) UpdateHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	var input services.UpdateMessageInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	msg, err := h.chatService.UpdateMessage(r.Context(), identity, chi.URLParam(r, "messageID"), input)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"message": msg}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

// DeleteHandler обрабатывает DELETE /chat/messages/{messageID}
func (h *ChatHandler) DeleteHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	if err := h.chatService.DeleteMessage(r.Context(), identity, chi.URLParam(r, "messageID")); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type toggleReactionInput struct {
	Emoji string `json:"emoji"`
}

// ToggleReactionHandler обрабатывает POST /chat/messages/{messageID}/reactions
func (h *ChatHandler) ToggleReactionHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	var input toggleReactionInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}

	msg, added, err := h.chatService.ToggleReaction(r.Context(), identity, chi.URLParam(r, "messageID"), input.Emoji)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"message": msg, "added": added}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

type replaceReactionsInput struct {
	Reactions models.Reactions `json:"reactions"`
}

// ReplaceReactionsHandler обрабатывает PUT /chat/messages/{messageID}/reactions
// (устаревший режим: клиент присылает всю карту реакций целиком).
func (h *ChatHandler) ReplaceReactionsHandler(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	var input replaceReactionsInput
	if err := readJSON(w, r, &input); err != nil {
		badRequestResponse(w, r, err)
		return
	}
	if input.Reactions == nil {
		badRequestResponse(w, r, errors.New("reactions is required"))
		return
	}

	msg, err := h.chatService.ReplaceReactions(r.Context(), identity, chi.URLParam(r, "messageID"), input.Reactions)
	if err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}
	if err := writeJSON(w, http.StatusOK, jsonResponse{"message": msg}, nil); err != nil {
		serverErrorResponse(w, r, err)
	}
}

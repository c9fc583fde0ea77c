package handlers

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/Dosada05/tournament-chat/realtime"
	"github.com/Dosada05/tournament-chat/services"
	"github.com/gorilla/websocket"
)

type WebSocketHandler struct {
	hub         *realtime.Hub
	chatService services.ChatService
	upgrader    websocket.Upgrader
	logger      *slog.Logger
}

// NewWebSocketHandler принимает список разрешённых Origin; пустой список или
// "*" разрешает любой источник.
func NewWebSocketHandler(hub *realtime.Hub, cs services.ChatService, allowedOrigins []string, logger *slog.Logger) *WebSocketHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketHandler{
		hub:         hub,
		chatService: cs,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		logger: logger,
	}
}

// ServeWs обрабатывает GET /ws/chat/{tournamentID}?team_id=
// Комната соответствует ключу канала области чата.
func (h *WebSocketHandler) ServeWs(w http.ResponseWriter, r *http.Request) {
	identity, ok := currentIdentity(w, r)
	if !ok {
		return
	}
	scope, err := scopeFromRequest(r)
	if err != nil {
		badRequestResponse(w, r, err)
		return
	}
	// Проверяем, что турнир и команда существуют, до апгрейда соединения.
	if _, err := h.chatService.ScopeInfo(r.Context(), scope); err != nil {
		mapServiceErrorToHTTP(w, r, err)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader.Upgrade сам отправляет HTTP ошибку клиенту, так что здесь просто логируем.
		h.logger.WarnContext(r.Context(), "failed to upgrade websocket", slog.String("scope", scope.ChannelKey()), slog.Any("error", err))
		return
	}

	if client := h.hub.Serve(conn, scope.ChannelKey(), identity); client == nil {
		h.logger.WarnContext(r.Context(), "realtime hub is stopped, connection dropped", slog.String("scope", scope.ChannelKey()))
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, pattern := range allowed {
			if pattern == "*" || pattern == origin {
				return true
			}
			// Шаблоны вида "https://*" как в go-chi/cors.
			if prefix, suffix, found := strings.Cut(pattern, "*"); found &&
				strings.HasPrefix(origin, prefix) && strings.HasSuffix(origin, suffix) &&
				len(origin) >= len(prefix)+len(suffix) {
				return true
			}
		}
		return false
	}
}

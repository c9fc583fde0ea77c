package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/Dosada05/tournament-chat/metrics"
	"github.com/Dosada05/tournament-chat/models"
)

// Hub fans realtime frames out to the clients of a room. One room exists
// per conversation scope, keyed by ConversationScope.ChannelKey.
type Hub struct {
	register   chan *Client
	unregister chan *Client
	rooms      map[string]map[*Client]bool
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

func NewHub(logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		register:   make(chan *Client),
		unregister: make(chan *Client),
		rooms:      make(map[string]map[*Client]bool),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "realtime_hub")),
	}
}

// Run processes registrations until ctx is cancelled, then closes every
// client.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			if _, ok := h.rooms[client.room]; !ok {
				h.rooms[client.room] = make(map[*Client]bool)
			}
			h.rooms[client.room][client] = true
			size := len(h.rooms[client.room])
			h.mu.Unlock()
			metrics.WSClients.Inc()
			h.logger.Info("client registered", slog.String("room", client.room), slog.Int("user_id", client.identity.ID), slog.Int("room_size", size))

		case client := <-h.unregister:
			h.mu.Lock()
			if roomClients, ok := h.rooms[client.room]; ok {
				if _, okClient := roomClients[client]; okClient {
					delete(roomClients, client)
					client.closeSend()
					metrics.WSClients.Dec()
					if len(roomClients) == 0 {
						delete(h.rooms, client.room)
						h.logger.Info("room closed as it's empty", slog.String("room", client.room))
					}
				}
			}
			h.mu.Unlock()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for room, clients := range h.rooms {
		for client := range clients {
			client.closeSend()
			metrics.WSClients.Dec()
		}
		delete(h.rooms, room)
	}
}

// RoomSize returns the number of clients currently in room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// PublishChange delivers a committed row change to every subscriber of
// the change's scope, the writer included.
func (h *Hub) PublishChange(ev models.ChangeEvent) {
	if ev.At.IsZero() {
		ev.At = time.Now().UTC()
	}
	frame, err := encodeEnvelope(models.EnvelopeChange, ev.Scope.ChannelKey(), ev)
	if err != nil {
		h.logger.Error("failed to encode change event", slog.Any("error", err), slog.String("message_id", ev.MessageID))
		return
	}
	h.broadcast(ev.Scope.ChannelKey(), frame, nil)
}

// PublishBroadcast relays an ephemeral event to the room, skipping the
// sender.
func (h *Hub) PublishBroadcast(room string, ev models.BroadcastEvent, except *Client) {
	frame, err := encodeEnvelope(models.EnvelopeBroadcast, room, ev)
	if err != nil {
		h.logger.Error("failed to encode broadcast event", slog.Any("error", err), slog.String("room", room))
		return
	}
	h.broadcast(room, frame, except)
	if ev.Event == models.BroadcastTyping {
		metrics.TypingRelayed.Inc()
	}
}

func (h *Hub) broadcast(room string, frame []byte, except *Client) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	roomClients, ok := h.rooms[room]
	if !ok {
		h.logger.Debug("no clients in room to broadcast to", slog.String("room", room))
		return
	}

	for client := range roomClients {
		if client == except {
			continue
		}
		if !client.trySend(frame) {
			metrics.DroppedFrames.Inc()
			h.logger.Warn("client's send channel full or closed, frame dropped", slog.String("room", room), slog.Int("user_id", client.identity.ID))
		}
	}
}

func encodeEnvelope(kind, room string, payload interface{}) ([]byte, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", kind, err)
	}
	return json.Marshal(models.WSEnvelope{Type: kind, Payload: raw, RoomID: room})
}

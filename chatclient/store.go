package chatclient

import (
	"context"
	"fmt"
	"slices"
	"sync"

	"github.com/Dosada05/tournament-chat/models"
)

const (
	DefaultLoadLimit = 50
	// tombstoneLimit bounds how many deleted ids the store remembers so a late
	// insert for a deleted row does not resurrect it.
	tombstoneLimit = 256
)

// Store is the ordered in-memory list of one conversation. Messages are kept
// in chronological order.
type Store struct {
	mu         sync.RWMutex
	table      Table
	scope      models.ConversationScope
	messages   []models.ChatMessage
	tombstones []string
}

func NewStore(table Table, scope models.ConversationScope) *Store {
	return &Store{table: table, scope: scope}
}

func (s *Store) Scope() models.ConversationScope {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.scope
}

// Load replaces the contents with the latest limit messages of scope. On
// error the previous contents are kept. Optimistic entries still waiting for
// the server survive a reload of the same scope.
func (s *Store) Load(ctx context.Context, scope models.ConversationScope, limit int) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	if limit <= 0 {
		limit = DefaultLoadLimit
	}

	rows, err := s.table.ListRecent(ctx, scope, limit)
	if err != nil {
		return fmt.Errorf("load %s: %w", scope.ChannelKey(), err)
	}

	loaded := make([]models.ChatMessage, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		loaded = append(loaded, rows[i].Clone())
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.scope.Equal(scope) {
		refs := make(map[string]struct{}, len(loaded))
		for _, m := range loaded {
			if m.ClientRef != "" {
				refs[m.ClientRef] = struct{}{}
			}
		}
		for _, m := range s.messages {
			if !m.IsOptimistic() {
				continue
			}
			if _, confirmed := refs[m.ClientRef]; !confirmed {
				loaded = append(loaded, m)
			}
		}
	} else {
		s.tombstones = nil
	}

	s.scope = scope
	s.messages = loaded
	return nil
}

// ApplyInsert folds a new row into the list. Rows of other scopes, duplicate
// ids and recently deleted ids are ignored. A row whose ClientRef matches a
// pending optimistic entry replaces it in place. Reports whether the list
// changed.
func (s *Store) ApplyInsert(m models.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !m.Scope.Equal(s.scope) || m.ID == "" {
		return false
	}
	if slices.Contains(s.tombstones, m.ID) {
		return false
	}
	if s.indexOf(m.ID) >= 0 {
		return false
	}
	if m.ClientRef != "" {
		if i := s.indexOfPending(m.ClientRef); i >= 0 {
			s.messages[i] = m.Clone()
			return true
		}
	}
	s.messages = append(s.messages, m.Clone())
	return true
}

// ApplyUpdate replaces the row with the same id. Updates for unknown ids are
// dropped.
func (s *Store) ApplyUpdate(m models.ChatMessage) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOf(m.ID)
	if i < 0 {
		return false
	}
	updated := m.Clone()
	// scope никогда не меняется
	updated.Scope = s.messages[i].Scope
	s.messages[i] = updated
	return true
}

// ApplyDelete removes the row with id and remembers it so that a late insert
// cannot bring it back.
func (s *Store) ApplyDelete(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.remember(id)
	i := s.indexOf(id)
	if i < 0 {
		return false
	}
	s.messages = slices.Delete(s.messages, i, i+1)
	return true
}

// InsertOptimistic appends a locally created message that the server has not
// confirmed yet. It must carry a temporary id and a client ref.
func (s *Store) InsertOptimistic(m models.ChatMessage) error {
	if !m.IsOptimistic() || m.ClientRef == "" {
		return fmt.Errorf("optimistic message needs a %q id and a client ref", models.TempIDPrefix)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if !m.Scope.Equal(s.scope) {
		return fmt.Errorf("optimistic message for %s in store of %s", m.Scope, s.scope)
	}
	s.messages = append(s.messages, m.Clone())
	return nil
}

// Reconcile swaps the optimistic entry for clientRef with the server row. If
// the realtime feed already delivered the row the optimistic entry is just
// dropped.
func (s *Store) Reconcile(clientRef string, server models.ChatMessage) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pending := s.indexOfPending(clientRef)
	if s.indexOf(server.ID) >= 0 || slices.Contains(s.tombstones, server.ID) {
		if pending >= 0 {
			s.messages = slices.Delete(s.messages, pending, pending+1)
		}
		return
	}
	if pending >= 0 {
		s.messages[pending] = server.Clone()
		return
	}
	if server.Scope.Equal(s.scope) {
		s.messages = append(s.messages, server.Clone())
	}
}

// DropOptimistic removes the pending entry for clientRef after a failed send.
func (s *Store) DropOptimistic(clientRef string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	i := s.indexOfPending(clientRef)
	if i < 0 {
		return false
	}
	s.messages = slices.Delete(s.messages, i, i+1)
	return true
}

// Messages returns a copy of the list in chronological order.
func (s *Store) Messages() []models.ChatMessage {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]models.ChatMessage, len(s.messages))
	for i, m := range s.messages {
		out[i] = m.Clone()
	}
	return out
}

func (s *Store) Get(id string) (models.ChatMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	i := s.indexOf(id)
	if i < 0 {
		return models.ChatMessage{}, false
	}
	return s.messages[i].Clone(), true
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.messages)
}

func (s *Store) indexOf(id string) int {
	return slices.IndexFunc(s.messages, func(m models.ChatMessage) bool { return m.ID == id })
}

func (s *Store) indexOfPending(clientRef string) int {
	return slices.IndexFunc(s.messages, func(m models.ChatMessage) bool {
		return m.IsOptimistic() && m.ClientRef == clientRef
	})
}

func (s *Store) remember(id string) {
	if slices.Contains(s.tombstones, id) {
		return
	}
	if len(s.tombstones) == tombstoneLimit {
		s.tombstones = s.tombstones[1:]
	}
	s.tombstones = append(s.tombstones, id)
}

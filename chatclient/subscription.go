package chatclient

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Dosada05/tournament-chat/models"
)

type SubscriptionState string

const (
	StateConnecting   SubscriptionState = "connecting"
	StateLive         SubscriptionState = "live"
	StateReconnecting SubscriptionState = "reconnecting"
	StateClosed       SubscriptionState = "closed"
)

// Backoff is an exponential reconnect schedule. Jitter is the fraction of the
// delay that is randomised in both directions.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
	Factor  float64
	Jitter  float64
}

func DefaultBackoff() Backoff {
	return Backoff{Initial: 500 * time.Millisecond, Max: 30 * time.Second, Factor: 2, Jitter: 0.2}
}

// Delay returns the wait before reconnect attempt n (starting at 0).
func (b Backoff) Delay(attempt int) time.Duration {
	if b.Initial <= 0 {
		b = DefaultBackoff()
	}
	if b.Factor < 1 {
		b.Factor = 1
	}
	d := float64(b.Initial) * math.Pow(b.Factor, float64(attempt))
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	if b.Jitter > 0 {
		d += d * b.Jitter * (2*rand.Float64() - 1)
	}
	if b.Max > 0 && d > float64(b.Max) {
		d = float64(b.Max)
	}
	return time.Duration(d)
}

// SubscriptionConfig tunes a SubscriptionManager. OnBroadcast, OnChange and
// OnState run on the subscription goroutine: they must not block, and must
// not call Subscription.Close, SubscriptionManager.Unsubscribe or Subscribe
// on the same manager, which wait for that goroutine. Subscription.Stop is
// safe to call from them. The first connecting and live states are reported
// on the goroutine calling Subscribe.
type SubscriptionConfig struct {
	Notifier Notifier
	// Focused reports whether the chat view is in front. Nil means never.
	Focused     func() bool
	Backoff     Backoff
	LoadLimit   int
	OnBroadcast func(models.BroadcastEvent)
	OnChange    func(models.ChangeEvent)
	OnState     func(SubscriptionState)
	Logger      *slog.Logger
}

// SubscriptionManager keeps at most one live subscription: subscribing to a
// new scope closes the previous one.
type SubscriptionManager struct {
	table   Table
	feed    Feed
	session Session
	cfg     SubscriptionConfig
	logger  *slog.Logger
	muted   atomic.Bool

	mu      sync.Mutex
	current *Subscription
}

func NewSubscriptionManager(table Table, feed Feed, session Session, cfg SubscriptionConfig) *SubscriptionManager {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Backoff.Initial <= 0 {
		cfg.Backoff = DefaultBackoff()
	}
	if cfg.LoadLimit <= 0 {
		cfg.LoadLimit = DefaultLoadLimit
	}
	return &SubscriptionManager{
		table:   table,
		feed:    feed,
		session: session,
		cfg:     cfg,
		logger:  logger.With(slog.String("component", "subscription")),
	}
}

func (m *SubscriptionManager) SetMuted(muted bool) { m.muted.Store(muted) }

func (m *SubscriptionManager) Muted() bool { return m.muted.Load() }

// Current returns the active subscription or nil.
func (m *SubscriptionManager) Current() *Subscription {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

// Subscribe starts following the realtime channel of scope and loads its
// latest messages. The channel is opened before the load so a row committed
// in between arrives as an event; the store drops the duplicate. The previous
// subscription is closed only once the new one is live, so a failed switch
// leaves it running. The returned subscription stays valid until it is
// closed, the manager subscribes elsewhere or ctx is cancelled.
func (m *SubscriptionManager) Subscribe(ctx context.Context, scope models.ConversationScope) (*Subscription, error) {
	if err := scope.Validate(); err != nil {
		return nil, err
	}

	sub := m.newSubscription(ctx, scope)
	sub.setState(StateConnecting)

	ch, err := m.feed.Open(sub.ctx, scope)
	if err != nil {
		sub.cancel()
		sub.setState(StateClosed)
		return nil, err
	}
	if err := sub.store.Load(ctx, scope, m.cfg.LoadLimit); err != nil {
		if cerr := ch.Close(); cerr != nil {
			sub.logger.Debug("closing realtime channel", slog.Any("error", cerr))
		}
		sub.cancel()
		sub.setState(StateClosed)
		return nil, err
	}
	sub.attach(ch)

	m.mu.Lock()
	prev := m.current
	m.current = sub
	m.mu.Unlock()

	go sub.run(ch)
	if prev != nil {
		prev.Close()
	}
	return sub, nil
}

// Unsubscribe closes sub and forgets it if it is the current one.
func (m *SubscriptionManager) Unsubscribe(sub *Subscription) {
	if sub == nil {
		return
	}
	sub.Close()
	m.mu.Lock()
	if m.current == sub {
		m.current = nil
	}
	m.mu.Unlock()
}

func (m *SubscriptionManager) newSubscription(parent context.Context, scope models.ConversationScope) *Subscription {
	ctx, cancel := context.WithCancel(parent)
	return &Subscription{
		mgr:    m,
		scope:  scope,
		store:  NewStore(m.table, scope),
		logger: m.logger.With(slog.String("channel", scope.ChannelKey())),
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
}

// Subscription follows the realtime channel of one scope and folds its
// changes into Store.
type Subscription struct {
	mgr    *SubscriptionManager
	scope  models.ConversationScope
	store  *Store
	logger *slog.Logger
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu    sync.RWMutex
	state SubscriptionState
	ch    Channel
}

func (s *Subscription) Scope() models.ConversationScope { return s.scope }

func (s *Subscription) Store() *Store { return s.store }

func (s *Subscription) State() SubscriptionState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Done is closed once the subscription has fully stopped.
func (s *Subscription) Done() <-chan struct{} { return s.done }

// Broadcast sends an ephemeral event to the room. It fails while the channel
// is reconnecting.
func (s *Subscription) Broadcast(ctx context.Context, ev models.BroadcastEvent) error {
	s.mu.RLock()
	ch, state := s.ch, s.state
	s.mu.RUnlock()

	switch state {
	case StateClosed:
		return ErrClosed
	case StateLive:
		return ch.Send(ctx, ev)
	case StateConnecting, StateReconnecting:
		return ErrNotConnected
	}
	return ErrNotConnected
}

// Close stops the subscription and waits for its goroutine. It is safe to
// call more than once. Callbacks must use Stop instead: Close called from
// the subscription goroutine would wait for itself.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Stop asks the subscription to shut down and returns at once. Done is
// closed when it has stopped.
func (s *Subscription) Stop() {
	s.cancel()
}

func (s *Subscription) attach(ch Channel) {
	s.mu.Lock()
	s.ch = ch
	s.mu.Unlock()
	s.setState(StateLive)
}

func (s *Subscription) setState(state SubscriptionState) {
	s.mu.Lock()
	if s.state == state {
		s.mu.Unlock()
		return
	}
	s.state = state
	s.mu.Unlock()

	if state == StateReconnecting {
		s.logger.Warn("realtime channel degraded", slog.String("state", string(state)))
	} else {
		s.logger.Info("realtime channel state", slog.String("state", string(state)))
	}
	if s.mgr.cfg.OnState != nil {
		s.mgr.cfg.OnState(state)
	}
}

func (s *Subscription) run(ch Channel) {
	defer close(s.done)
	defer func() {
		s.mu.Lock()
		s.ch = nil
		s.mu.Unlock()
		s.setState(StateClosed)
	}()

	for {
		s.consume(ch)
		if err := ch.Close(); err != nil {
			s.logger.Debug("closing realtime channel", slog.Any("error", err))
		}
		if s.ctx.Err() != nil {
			return
		}

		s.logger.Warn("realtime channel dropped", slog.Any("error", ch.Err()))
		s.mu.Lock()
		s.ch = nil
		s.mu.Unlock()
		s.setState(StateReconnecting)

		ch = s.reconnect()
		if ch == nil {
			return
		}
		// Изменения, пропущенные за время обрыва, забираем перезагрузкой.
		if err := s.store.Load(s.ctx, s.scope, s.mgr.cfg.LoadLimit); err != nil {
			s.logger.Error("replay after reconnect failed", slog.Any("error", err))
		}
		s.attach(ch)
	}
}

// reconnect retries Feed.Open with backoff until it succeeds or the
// subscription is cancelled, in which case it returns nil.
func (s *Subscription) reconnect() Channel {
	for attempt := 0; ; attempt++ {
		delay := s.mgr.cfg.Backoff.Delay(attempt)
		timer := time.NewTimer(delay)
		select {
		case <-s.ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}

		ch, err := s.mgr.feed.Open(s.ctx, s.scope)
		if err == nil {
			s.logger.Info("realtime channel restored", slog.Int("attempt", attempt+1))
			return ch
		}
		if errors.Is(err, context.Canceled) {
			return nil
		}
		s.logger.Warn("reconnect failed",
			slog.Int("attempt", attempt+1),
			slog.Duration("delay", delay),
			slog.Any("error", err))
	}
}

// consume returns when the channel drops or the subscription is cancelled.
func (s *Subscription) consume(ch Channel) {
	changes, broadcasts := ch.Changes(), ch.Broadcasts()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ch.Done():
			return
		case ev, ok := <-changes:
			if !ok {
				changes = nil
				continue
			}
			s.apply(ev)
		case ev, ok := <-broadcasts:
			if !ok {
				broadcasts = nil
				continue
			}
			if s.mgr.cfg.OnBroadcast != nil {
				s.mgr.cfg.OnBroadcast(ev)
			}
		}
	}
}

func (s *Subscription) apply(ev models.ChangeEvent) {
	if !ev.Scope.Equal(s.scope) {
		return
	}

	var changed bool
	switch ev.Type {
	case models.ChangeInsert:
		if ev.Message == nil {
			return
		}
		changed = s.store.ApplyInsert(*ev.Message)
		if changed {
			s.notify(ev.Message)
		}
	case models.ChangeUpdate:
		if ev.Message == nil {
			return
		}
		changed = s.store.ApplyUpdate(*ev.Message)
	case models.ChangeDelete:
		id := ev.MessageID
		if id == "" && ev.Message != nil {
			id = ev.Message.ID
		}
		changed = s.store.ApplyDelete(id)
	default:
		s.logger.Debug("unknown change type", slog.String("type", string(ev.Type)))
		return
	}

	if changed && s.mgr.cfg.OnChange != nil {
		s.mgr.cfg.OnChange(ev)
	}
}

func (s *Subscription) notify(msg *models.ChatMessage) {
	cfg := s.mgr.cfg
	if cfg.Notifier == nil || s.mgr.Muted() {
		return
	}
	if s.mgr.session != nil && msg.SenderID == s.mgr.session.CurrentUser().ID {
		return
	}
	if cfg.Focused != nil && cfg.Focused() {
		return
	}

	title := msg.SenderName
	if title == "" {
		title = "New message"
	}
	body := msg.Preview()
	go cfg.Notifier.Notify(title, body)
}

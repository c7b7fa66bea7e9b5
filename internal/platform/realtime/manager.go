package realtime

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/ehr/clinicdata/internal/platform/metrics"
	"github.com/ehr/clinicdata/internal/platform/store"
)

// Mode controls how subscriptions map onto backend listeners.
type Mode string

const (
	// ModeShared keeps one listener per table, reference counted across
	// subscriptions. Each change is emitted once.
	ModeShared Mode = "shared"
	// ModePerCall opens a listener per subscription, so a change is emitted
	// once per live subscription on its table.
	ModePerCall Mode = "per-call"
)

func ParseMode(s string) (Mode, error) {
	switch Mode(s) {
	case ModeShared, ModePerCall:
		return Mode(s), nil
	case "":
		return ModeShared, nil
	default:
		return "", fmt.Errorf("unknown realtime mode %q", s)
	}
}

const closeTimeout = 5 * time.Second

// listener is registered before its stream is open so that shared-mode
// subscribers to the same table wait on ready instead of listening twice.
// cancel is nil until the stream is running; err is set before ready closes.
type listener struct {
	table  string
	refs   int
	cancel context.CancelFunc
	ready  chan struct{}
	err    error
}

// Subscription is a caller's handle on a table's change feed.
type Subscription struct {
	Table string

	m    *Manager
	l    *listener
	once sync.Once
}

// Close releases the subscription. The backend listener stops once nothing
// references it.
func (s *Subscription) Close() {
	s.once.Do(func() { s.m.release(s.l) })
}

type Option func(*Manager)

func WithMode(mode Mode) Option {
	return func(m *Manager) { m.mode = mode }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(m *Manager) { m.metrics = mt }
}

// WithBackOff sets the reconnect policy. The default retries with
// exponential delays until the manager is closed.
func WithBackOff(newBackOff func() backoff.BackOff) Option {
	return func(m *Manager) { m.newBackOff = newBackOff }
}

// Manager owns the backend listeners and forwards their changes to a Bus.
type Manager struct {
	source     Source
	bus        *Bus
	mode       Mode
	logger     zerolog.Logger
	metrics    *metrics.Metrics
	newBackOff func() backoff.BackOff

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu        sync.Mutex
	listeners map[string][]*listener
	closed    bool
}

func NewManager(source Source, bus *Bus, logger zerolog.Logger, opts ...Option) *Manager {
	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		source: source,
		bus:    bus,
		mode:   ModeShared,
		logger: logger.With().Str("component", "realtime").Logger(),
		newBackOff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.MaxElapsedTime = 0
			return b
		},
		ctx:       ctx,
		cancel:    cancel,
		listeners: make(map[string][]*listener),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Bus() *Bus {
	return m.bus
}

func (m *Manager) Mode() Mode {
	return m.mode
}

// Subscribe starts (or in shared mode joins) a listener for table's changes.
// The listener outlives ctx; only Subscription.Close or Manager.Close stop it.
// Opening the backend stream happens outside the manager lock, so a slow
// Listen on one table never holds up another.
func (m *Manager) Subscribe(ctx context.Context, table string) (*Subscription, error) {
	if !store.ValidIdentifier(table) {
		return nil, fmt.Errorf("subscribe %q: %w", table, store.ErrInvalidIdentifier)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil, ErrClosed
	}
	if m.mode == ModeShared {
		if ls := m.listeners[table]; len(ls) > 0 {
			l := ls[0]
			l.refs++
			m.mu.Unlock()
			return m.join(ctx, l)
		}
	}
	l := &listener{table: table, refs: 1, ready: make(chan struct{})}
	m.listeners[table] = append(m.listeners[table], l)
	m.mu.Unlock()

	stream, err := m.source.Listen(ctx, ChannelName(table))

	m.mu.Lock()
	if err == nil && m.closed {
		err = ErrClosed
	}
	if err != nil {
		m.remove(l)
		l.err = err
		close(l.ready)
		m.mu.Unlock()
		if stream != nil {
			m.closeStream(table, stream)
		}
		if errors.Is(err, ErrClosed) {
			return nil, err
		}
		return nil, fmt.Errorf("subscribe %s: %w", table, err)
	}

	lctx, cancel := context.WithCancel(m.ctx)
	l.cancel = cancel
	m.wg.Add(1)
	close(l.ready)
	m.mu.Unlock()

	m.metrics.ListenerOpened(table)
	m.logger.Info().Str("table", table).Str("channel", ChannelName(table)).Msg("subscribed to changes")

	go m.run(lctx, table, stream)

	return &Subscription{Table: table, m: m, l: l}, nil
}

// join waits for a shared listener another caller is still opening.
func (m *Manager) join(ctx context.Context, l *listener) (*Subscription, error) {
	select {
	case <-l.ready:
	case <-ctx.Done():
		m.release(l)
		return nil, fmt.Errorf("subscribe %s: %w", l.table, ctx.Err())
	}
	if l.err != nil {
		if errors.Is(l.err, ErrClosed) {
			return nil, l.err
		}
		return nil, fmt.Errorf("subscribe %s: %w", l.table, l.err)
	}
	return &Subscription{Table: l.table, m: m, l: l}, nil
}

func (m *Manager) release(l *listener) {
	m.mu.Lock()
	defer m.mu.Unlock()

	l.refs--
	if l.refs > 0 {
		return
	}
	if l.cancel != nil {
		l.cancel()
	}
	m.remove(l)
}

// remove drops l from the listener table. Callers hold m.mu.
func (m *Manager) remove(l *listener) {
	ls := m.listeners[l.table]
	for i, other := range ls {
		if other == l {
			ls = append(ls[:i], ls[i+1:]...)
			break
		}
	}
	if len(ls) == 0 {
		delete(m.listeners, l.table)
	} else {
		m.listeners[l.table] = ls
	}
}

// Active returns the number of live backend listeners for table. Listeners
// still opening their stream are not counted.
func (m *Manager) Active(table string) int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, l := range m.listeners[table] {
		if l.cancel != nil {
			n++
		}
	}
	return n
}

// Close stops every listener and waits for them to exit. Subscribe fails
// afterwards. Close must not be called from a bus handler.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.listeners = make(map[string][]*listener)
	m.mu.Unlock()

	m.cancel()
	m.wg.Wait()
}

func (m *Manager) run(ctx context.Context, table string, stream Stream) {
	defer m.wg.Done()
	defer m.metrics.ListenerClosed(table)

	for {
		err := m.consume(ctx, table, stream)
		m.closeStream(table, stream)
		if ctx.Err() != nil {
			m.logger.Debug().Str("table", table).Msg("change listener stopped")
			return
		}

		m.logger.Warn().Err(err).Str("table", table).Msg("change listener dropped, reconnecting")
		stream, err = m.reconnect(ctx, table)
		if err != nil {
			return
		}
	}
}

func (m *Manager) consume(ctx context.Context, table string, stream Stream) error {
	event := EventName(table)
	for {
		change, err := stream.Next(ctx)
		if errors.Is(err, ErrMalformedPayload) {
			m.logger.Warn().Err(err).Str("table", table).Msg("skipping change")
			continue
		}
		if err != nil {
			return err
		}

		m.metrics.RealtimeEvent(table)
		m.logger.Info().
			Str("table", table).
			Str("event_type", change.EventType).
			Time("commit_timestamp", change.CommitTimestamp).
			Msg("change received")

		m.bus.Emit(ctx, event, change)
	}
}

// reconnect retries Listen until it succeeds or ctx ends. Changes committed
// while disconnected are not replayed.
func (m *Manager) reconnect(ctx context.Context, table string) (Stream, error) {
	var stream Stream
	op := func() error {
		m.metrics.Reconnect(table)
		s, err := m.source.Listen(ctx, ChannelName(table))
		if err != nil {
			return err
		}
		stream = s
		return nil
	}
	notify := func(err error, wait time.Duration) {
		m.logger.Warn().Err(err).Str("table", table).Dur("retry_in", wait).Msg("change listener reconnect failed")
	}

	if err := backoff.RetryNotify(op, backoff.WithContext(m.newBackOff(), ctx), notify); err != nil {
		return nil, err
	}
	m.logger.Info().Str("table", table).Msg("change listener reconnected")
	return stream, nil
}

func (m *Manager) closeStream(table string, stream Stream) {
	ctx, cancel := context.WithTimeout(context.Background(), closeTimeout)
	defer cancel()
	if err := stream.Close(ctx); err != nil {
		m.logger.Debug().Err(err).Str("table", table).Msg("close change stream")
	}
}

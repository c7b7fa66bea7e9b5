// Package dataaccess is the application-facing data layer. Its calls never
// return errors: failures are logged, counted and turned into safe defaults
// (an empty list, nil, false or default settings). Callers that need to
// tell "no rows" from "query failed" use internal/platform/store directly.
//
// Fetch also subscribes the client to change notifications for the table it
// reads, republished on the realtime bus as "<table>:updated". Subscriptions
// are owned by the Client and released by Close.
package dataaccess

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/ehr/clinicdata/internal/domain/settings"
	"github.com/ehr/clinicdata/internal/domain/treatment"
	"github.com/ehr/clinicdata/internal/platform/metrics"
	"github.com/ehr/clinicdata/internal/platform/realtime"
	"github.com/ehr/clinicdata/internal/platform/store"
)

type (
	Record            = store.Record
	FetchOptions      = store.FetchOptions
	Change            = realtime.Change
	Procedure         = treatment.Procedure
	ProcedureTemplate = treatment.ProcedureTemplate
	UserSettings      = settings.UserSettings
	SettingsUpdate    = settings.Update
)

type Option func(*Client)

// WithRealtime enables change subscriptions through m.
func WithRealtime(m *realtime.Manager) Option {
	return func(c *Client) { c.realtime = m }
}

func WithMetrics(mt *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = mt }
}

// WithSubscribeOnFetch controls whether Fetch opens a change subscription
// for the table it reads. On by default.
func WithSubscribeOnFetch(on bool) Option {
	return func(c *Client) { c.subscribeOnFetch = on }
}

type Client struct {
	store     *store.Store
	treatment *treatment.Service
	settings  *settings.Service
	realtime  *realtime.Manager
	metrics   *metrics.Metrics
	logger    zerolog.Logger

	subscribeOnFetch bool

	mu      sync.Mutex
	subs    map[string][]*realtime.Subscription
	pending map[string]int
	closed  bool
}

func New(s *store.Store, logger zerolog.Logger, opts ...Option) *Client {
	c := &Client{
		store: s,
		treatment: treatment.NewService(
			treatment.NewProcedureRepoPG(s),
			treatment.NewTemplateRepoPG(s),
			s,
		),
		settings:         settings.NewService(settings.NewRepoPG(s)),
		logger:           logger.With().Str("component", "dataaccess").Logger(),
		subscribeOnFetch: true,
		subs:             make(map[string][]*realtime.Subscription),
		pending:          make(map[string]int),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

func (c *Client) degraded(op, table string, err error) {
	c.logger.Error().Err(err).Str("op", op).Str("table", table).Msg("data access call failed")
	c.metrics.Degraded(op, table)
}

// Fetch returns the rows of table matching opts, or an empty list when the
// read fails.
func (c *Client) Fetch(ctx context.Context, table string, opts FetchOptions) []Record {
	c.watchOnFetch(ctx, table)
	rows, err := c.store.Fetch(ctx, table, opts)
	if err != nil {
		c.degraded("fetch", table, err)
		return []Record{}
	}
	return rows
}

// GetByID returns the single row with the given id, or nil.
func (c *Client) GetByID(ctx context.Context, table string, id any, columns ...string) Record {
	rec, err := c.store.GetByID(ctx, table, id, columns...)
	if err != nil {
		c.degraded("get_by_id", table, err)
		return nil
	}
	return rec
}

// Create inserts item and returns the stored row, or nil.
func (c *Client) Create(ctx context.Context, table string, item Record) Record {
	rec, err := c.store.Create(ctx, table, item)
	if err != nil {
		c.degraded("create", table, err)
		return nil
	}
	return rec
}

// Update merges updates and a fresh updated_at into the row with the given
// id and returns it, or nil.
func (c *Client) Update(ctx context.Context, table string, id any, updates Record) Record {
	rec, err := c.store.Update(ctx, table, id, updates)
	if err != nil {
		c.degraded("update", table, err)
		return nil
	}
	return rec
}

// Delete reports whether the row was deleted. A missing row counts as a
// failure.
func (c *Client) Delete(ctx context.Context, table string, id any) bool {
	if err := c.store.Delete(ctx, table, id); err != nil {
		c.degraded("delete", table, err)
		return false
	}
	return true
}

// On registers h for changes on table and returns its unsubscribe func. It
// does not open a subscription; Fetch or Watch do.
func (c *Client) On(table string, h realtime.Handler) func() {
	if c.realtime == nil {
		return func() {}
	}
	return c.realtime.Bus().On(realtime.EventName(table), h)
}

// Watch opens a change subscription for table that the caller owns.
func (c *Client) Watch(ctx context.Context, table string) (*realtime.Subscription, error) {
	if c.realtime == nil {
		return nil, realtime.ErrClosed
	}
	return c.realtime.Subscribe(ctx, table)
}

// watchOnFetch subscribes the client to table. With a shared manager one
// subscription per table is kept; in per-call mode every Fetch adds one, so
// a change is delivered once per Fetch made so far.
func (c *Client) watchOnFetch(ctx context.Context, table string) {
	if c.realtime == nil || !c.subscribeOnFetch {
		return
	}

	shared := c.realtime.Mode() == realtime.ModeShared

	c.mu.Lock()
	if c.closed || (shared && len(c.subs[table])+c.pending[table] > 0) {
		c.mu.Unlock()
		return
	}
	c.pending[table]++
	c.mu.Unlock()

	sub, err := c.realtime.Subscribe(ctx, table)

	c.mu.Lock()
	c.pending[table]--
	if c.pending[table] == 0 {
		delete(c.pending, table)
	}
	closed := c.closed
	if err == nil && !closed {
		c.subs[table] = append(c.subs[table], sub)
	}
	c.mu.Unlock()

	switch {
	case err != nil:
		c.logger.Warn().Err(err).Str("table", table).Msg("change subscription failed")
	case closed:
		sub.Close()
	}
}

// Subscriptions returns how many change subscriptions the client holds for
// table.
func (c *Client) Subscriptions(table string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs[table])
}

// Close releases every subscription opened by Fetch. The manager itself is
// left running.
func (c *Client) Close() {
	c.mu.Lock()
	subs := c.subs
	c.subs = make(map[string][]*realtime.Subscription)
	c.closed = true
	c.mu.Unlock()

	for _, list := range subs {
		for _, s := range list {
			s.Close()
		}
	}
}

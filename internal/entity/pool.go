package entity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"

	"github.com/juzibot/wechaty/internal/bus"
	"github.com/juzibot/wechaty/internal/converge"
	"github.com/juzibot/wechaty/internal/payload"
	"github.com/juzibot/wechaty/internal/puppet"
)

type poolKey struct {
	kind payload.Kind
	id   string
}

// Pool is a Registry that caches one Entity per kind and id and loads
// payloads through a driver. Driver reads are rate limited and retried.
type Pool struct {
	driver  puppet.Driver
	retry   converge.RetryPolicy
	limiter *rate.Limiter
	logger  *slog.Logger

	mu       sync.Mutex
	entities map[poolKey]*Entity
}

// PoolOption configures a Pool.
type PoolOption func(*Pool)

// WithRetryPolicy sets the policy used around driver reads.
func WithRetryPolicy(p converge.RetryPolicy) PoolOption {
	return func(pl *Pool) { pl.retry = p }
}

// WithRateLimit caps driver reads. A nil limiter disables limiting.
func WithRateLimit(l *rate.Limiter) PoolOption {
	return func(pl *Pool) { pl.limiter = l }
}

// WithPoolLogger sets the pool logger.
func WithPoolLogger(l *slog.Logger) PoolOption {
	return func(pl *Pool) { pl.logger = l }
}

// NewPool returns an empty pool over driver.
func NewPool(driver puppet.Driver, opts ...PoolOption) *Pool {
	p := &Pool{
		driver:   driver,
		retry:    converge.DefaultRetryPolicy(),
		logger:   slog.Default().With("component", "entity.pool"),
		entities: make(map[poolKey]*Entity),
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.retry.Logger == nil {
		p.retry.Logger = p.logger
	}
	return p
}

// Find returns the cached entity for (kind, id). An entity seen for the first
// time is loaded from the driver before it is returned; if the driver has no
// payload the result wraps ErrNotFound and nothing is cached.
func (p *Pool) Find(ctx context.Context, kind payload.Kind, id string) (Handle, error) {
	e, err := p.Load(ctx, kind, id)
	if err != nil {
		return nil, err
	}
	return e, nil
}

// Load is Find returning the concrete Entity.
func (p *Pool) Load(ctx context.Context, kind payload.Kind, id string) (*Entity, error) {
	if id == "" {
		return nil, fmt.Errorf("find %s: empty id: %w", kind, ErrNotFound)
	}
	p.mu.Lock()
	e, ok := p.entities[poolKey{kind, id}]
	if !ok {
		e = &Entity{id: id, kind: kind, pool: p, bus: bus.New()}
	}
	p.mu.Unlock()

	if err := e.Refresh(ctx, false); err != nil {
		return nil, err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if existing, ok := p.entities[poolKey{kind, id}]; ok {
		return existing, nil
	}
	p.entities[poolKey{kind, id}] = e
	return e, nil
}

// Cached returns the entity for (kind, id) without touching the driver.
func (p *Pool) Cached(kind payload.Kind, id string) (*Entity, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	e, ok := p.entities[poolKey{kind, id}]
	return e, ok
}

// Remove drops the entity for (kind, id) from the pool.
func (p *Pool) Remove(kind payload.Kind, id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.entities, poolKey{kind, id})
}

// Len returns the number of cached entities.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entities)
}

func (p *Pool) fetch(ctx context.Context, kind payload.Kind, id string) (payload.Snapshot, error) {
	var snap payload.Snapshot
	err := p.retry.Do(ctx, func(ctx context.Context) error {
		if p.limiter != nil {
			if err := p.limiter.Wait(ctx); err != nil {
				return converge.Permanent(err)
			}
		}
		s, err := p.driver.Payload(ctx, kind, id)
		if errors.Is(err, puppet.ErrNotFound) {
			return converge.Permanent(err)
		}
		if err != nil {
			return err
		}
		snap = s
		return nil
	})
	if errors.Is(err, puppet.ErrNotFound) {
		return nil, fmt.Errorf("%s %s: %w", kind, id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("load %s %s: %w", kind, id, err)
	}
	return snap, nil
}

// Entity is the pooled Handle implementation.
type Entity struct {
	id   string
	kind payload.Kind
	pool *Pool
	bus  *bus.Bus

	mu      sync.RWMutex
	payload payload.Snapshot
}

func (e *Entity) ID() string         { return e.id }
func (e *Entity) Kind() payload.Kind { return e.kind }
func (e *Entity) Bus() *bus.Bus      { return e.bus }
func (e *Entity) String() string     { return e.kind.String() + "<" + e.id + ">" }
func (e *Entity) IsReady() bool      { return e.Payload() != nil }

// Payload returns the cached snapshot. Refresh replaces the snapshot rather
// than mutating it, but callers that hold it across a refresh should still
// clone it.
func (e *Entity) Payload() payload.Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.payload
}

// Name returns the string "name" field of the payload.
func (e *Entity) Name() string {
	return payload.StringOf(e.Payload().Get("name"))
}

func (e *Entity) Refresh(ctx context.Context, force bool) error {
	if !force && e.IsReady() {
		return nil
	}
	snap, err := e.pool.fetch(ctx, e.kind, e.id)
	if err != nil {
		return err
	}
	e.mu.Lock()
	e.payload = snap
	e.mu.Unlock()
	return nil
}

package guard

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// Prober reports whether the durable store is currently reachable.
type Prober interface {
	Ping(ctx context.Context) error
}

// Remediator attempts to restore reachability, e.g. by recreating a missing
// container. It is invoked at most once per failed check.
type Remediator interface {
	Restore(ctx context.Context) error
}

// Guard is a best-effort availability check for the durable store. Check
// never returns an error and never panics: any failure degrades to false
// plus a logged warning. Results are cached for a TTL so the probe does not
// add latency to every turn.
type Guard struct {
	prober     Prober
	remediator Remediator
	ttl        time.Duration
	log        *slog.Logger
	now        func() time.Time

	mu        sync.Mutex
	checkedAt time.Time
	lastOK    bool
}

// Option configures a Guard.
type Option func(*Guard)

// WithRemediator sets the one-shot remediation action attempted when the
// probe fails.
func WithRemediator(r Remediator) Option {
	return func(g *Guard) { g.remediator = r }
}

// WithTTL sets how long a check result is reused. A non-positive TTL probes
// on every call.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) { g.ttl = ttl }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) { g.now = now }
}

// New creates a Guard over the given prober.
func New(p Prober, log *slog.Logger, opts ...Option) (*Guard, error) {
	if p == nil {
		return nil, ErrNilProber
	}
	if log == nil {
		log = slog.Default()
	}
	g := &Guard{
		prober: p,
		ttl:    time.Minute,
		log:    log,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Check reports whether the store is reachable. Within the TTL the cached
// result is returned without touching the store. On a failed probe, exactly
// one remediation attempt is made followed by one re-probe; beyond that the
// turn proceeds degraded.
func (g *Guard) Check(ctx context.Context) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	if !g.checkedAt.IsZero() && now.Sub(g.checkedAt) < g.ttl {
		return g.lastOK
	}

	ok := g.probe(ctx)
	g.checkedAt = now
	g.lastOK = ok
	return ok
}

func (g *Guard) probe(ctx context.Context) bool {
	err := g.prober.Ping(ctx)
	if err == nil {
		return true
	}
	g.log.Warn("durable store unreachable", "err", err)

	if g.remediator == nil {
		return false
	}
	if remErr := g.remediator.Restore(ctx); remErr != nil {
		g.log.Warn("store remediation failed", "err", remErr)
		return false
	}
	if err := g.prober.Ping(ctx); err != nil {
		g.log.Warn("durable store still unreachable after remediation", "err", err)
		return false
	}
	g.log.Info("durable store reachability restored")
	return true
}

package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"go.uber.org/zap"
)

const (
	// DefaultShards is the number of independently locked counter maps.
	DefaultShards = 64
	// DefaultSweepInterval is how often Start evicts expired counters.
	DefaultSweepInterval = time.Minute
)

type shard struct {
	mu       sync.Mutex
	counters map[string]*WindowCounter
}

// Limiter owns the identifier to WindowCounter mapping. Construct one per
// process with New and share it by pointer.
type Limiter struct {
	shards        []*shard
	now           func() time.Time
	sweepInterval time.Duration
	log           *zap.Logger
	metrics       *Metrics
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock replaces time.Now. Used by tests to drive windows deterministically.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// WithSweepInterval sets how often Start sweeps expired counters.
func WithSweepInterval(d time.Duration) Option {
	return func(l *Limiter) { l.sweepInterval = d }
}

// WithShards sets the shard count. Values below 1 are ignored.
func WithShards(n int) Option {
	return func(l *Limiter) {
		if n > 0 {
			l.shards = newShards(n)
		}
	}
}

// WithLogger sets the logger used by the sweep loop.
func WithLogger(log *zap.Logger) Option {
	return func(l *Limiter) { l.log = log }
}

// WithMetrics attaches Prometheus collectors.
func WithMetrics(m *Metrics) Option {
	return func(l *Limiter) { l.metrics = m }
}

// New creates a Limiter with no counters.
func New(opts ...Option) *Limiter {
	l := &Limiter{
		shards:        newShards(DefaultShards),
		now:           time.Now,
		sweepInterval: DefaultSweepInterval,
		log:           zap.NewNop(),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

func newShards(n int) []*shard {
	shards := make([]*shard, n)
	for i := range shards {
		shards[i] = &shard{counters: make(map[string]*WindowCounter)}
	}
	return shards
}

func (l *Limiter) shardFor(identifier string) *shard {
	return l.shards[xxhash.Sum64String(identifier)%uint64(len(l.shards))]
}

// Check counts one attempt for identifier and reports whether it fits in the
// current window of cfg. The attempt is counted even when it is denied.
// cfg must already be validated.
func (l *Limiter) Check(identifier string, cfg LimitConfig) Result {
	now := l.now()
	s := l.shardFor(identifier)

	s.mu.Lock()
	c, ok := s.counters[identifier]
	if !ok || c.Expired(now) {
		c = &WindowCounter{Identifier: identifier, WindowEnd: now.Add(cfg.Window)}
		s.counters[identifier] = c
	}
	c.Count++
	count, windowEnd := c.Count, c.WindowEnd
	s.mu.Unlock()

	return Result{
		Allowed:   count <= cfg.MaxRequests,
		Limit:     cfg.MaxRequests,
		Remaining: max(0, cfg.MaxRequests-count),
		ResetAt:   windowEnd,
	}
}

// Allow checks callerID against the given class of policy and records the
// outcome in metrics.
func (l *Limiter) Allow(policy Policy, class Class, callerID string) (Result, bool) {
	cfg, ok := policy.Lookup(class)
	if !ok {
		return Result{}, false
	}
	res := l.Check(Key(class, callerID), cfg)
	l.metrics.observeCheck(class, res.Allowed)
	return res, true
}

// Peek returns a copy of the live counter for identifier, if it exists and is not expired.
func (l *Limiter) Peek(identifier string) (WindowCounter, bool) {
	now := l.now()
	s := l.shardFor(identifier)
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.counters[identifier]
	if !ok || c.Expired(now) {
		return WindowCounter{}, false
	}
	return *c, true
}

// Len returns the number of counters currently held, expired or not.
func (l *Limiter) Len() int {
	n := 0
	for _, s := range l.shards {
		s.mu.Lock()
		n += len(s.counters)
		s.mu.Unlock()
	}
	return n
}

// Sweep removes every counter whose window has closed and returns how many
// were removed. Shards are locked one at a time, so checks keep flowing on
// the others.
func (l *Limiter) Sweep() int {
	now := l.now()
	removed := 0
	active := 0
	for _, s := range l.shards {
		s.mu.Lock()
		for id, c := range s.counters {
			if c.Expired(now) {
				delete(s.counters, id)
				removed++
			}
		}
		active += len(s.counters)
		s.mu.Unlock()
	}
	l.metrics.observeSweep(removed, active)
	return removed
}

// Start sweeps on a fixed interval until ctx is cancelled.
func (l *Limiter) Start(ctx context.Context) error {
	if l.sweepInterval <= 0 {
		<-ctx.Done()
		return ctx.Err()
	}
	ticker := time.NewTicker(l.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				l.log.Debug("rate_limit_counters_swept",
					zap.Int("removed", n),
				)
			}
		}
	}
}

package admission

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/rs/zerolog"

	"github.com/stockpulse/gate/internal/tier"
)

const lockShards = 64

// Decider gates requests: it classifies the path, checks the block list
// and the sliding windows, escalates repeat offenders into time-boxed
// blocks, and records the request only when it is admitted.
//
// Same-client decisions are linearized through a lock shard picked by
// hashing the client identity, so two concurrent requests from one
// client can never both slip past a nearly-full window. Distinct clients
// land on distinct shards (modulo collisions) and do not contend.
type Decider struct {
	store   Store
	limits  atomic.Pointer[Limits]
	bypass  map[string]struct{}
	locks   [lockShards]sync.Mutex
	log     zerolog.Logger
	onBlock func(client string, reason Reason, until time.Time)
}

type Option func(*Decider)

// WithBypass exempts the given client identities from all limits.
func WithBypass(clients []string) Option {
	return func(d *Decider) {
		for _, c := range clients {
			if c != "" {
				d.bypass[c] = struct{}{}
			}
		}
	}
}

func WithLogger(log zerolog.Logger) Option {
	return func(d *Decider) { d.log = log }
}

// WithOnBlock installs a hook invoked whenever a client is newly blocked.
func WithOnBlock(fn func(client string, reason Reason, until time.Time)) Option {
	return func(d *Decider) { d.onBlock = fn }
}

func New(store Store, limits Limits, opts ...Option) *Decider {
	d := &Decider{
		store:  store,
		bypass: map[string]struct{}{},
		log:    zerolog.Nop(),
	}
	d.limits.Store(&limits)
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// SetLimits swaps in a new limit table. In-flight decisions keep the
// table they started with.
func (d *Decider) SetLimits(limits Limits) {
	d.limits.Store(&limits)
	d.log.Info().Msg("limit table updated")
}

func (d *Decider) Limits() Limits {
	return *d.limits.Load()
}

func (d *Decider) lockFor(client string) *sync.Mutex {
	return &d.locks[xxhash.Sum64String(client)%lockShards]
}

// Decide produces the verdict for one request. Expected outcomes (quota
// exceeded, blocked) come back as a Decision, not an error; an error
// means internal state or clock failure and the caller must deny.
func (d *Decider) Decide(ctx context.Context, client, path string, now time.Time) (Decision, error) {
	limits := d.limits.Load()
	t := tier.FromPath(path)
	lim := limits.Tiers[t]

	if now.IsZero() {
		return Decision{Tier: t}, ErrClockUnavailable
	}

	if _, ok := d.bypass[client]; ok {
		return Decision{
			Allowed:   true,
			Tier:      t,
			Limit:     lim.Sustained,
			Remaining: lim.Sustained,
			ResetAt:   now.Add(SustainedWindow),
		}, nil
	}

	mu := d.lockFor(client)
	mu.Lock()
	defer mu.Unlock()

	blocked, until, err := d.store.IsBlocked(ctx, client, now)
	if err != nil {
		return Decision{Tier: t}, fmt.Errorf("admission: block check: %w", err)
	}
	if blocked {
		return Decision{
			Tier:       t,
			Limit:      lim.Sustained,
			RetryAfter: until.Sub(now),
			ResetAt:    until,
			Reason:     ReasonBlocked,
		}, nil
	}

	sustained, oldest, err := d.store.Count(ctx, client, t, now.Add(-SustainedWindow), now)
	if err != nil {
		return Decision{Tier: t}, fmt.Errorf("admission: sustained count: %w", err)
	}
	// a tier with no sustained limit configured is uncapped; the global
	// window still applies
	if lim.Sustained > 0 && sustained >= lim.Sustained {
		if sustained >= 2*lim.Sustained {
			d.block(ctx, client, ReasonSustainedExceeded, now.Add(limits.SustainedBlock), now)
		}
		retry := SustainedWindow
		reset := now.Add(SustainedWindow)
		if !oldest.IsZero() {
			reset = oldest.Add(SustainedWindow)
			retry = reset.Sub(now)
		}
		return Decision{
			Tier:       t,
			Limit:      lim.Sustained,
			RetryAfter: retry,
			ResetAt:    reset,
			Reason:     ReasonSustainedExceeded,
		}, nil
	}

	// burst is read from the same log, just over a shorter window; the
	// bound is strict: an entry exactly 10s old has left the window
	burst, _, err := d.store.Count(ctx, client, t, now.Add(-BurstWindow+time.Nanosecond), now)
	if err != nil {
		return Decision{Tier: t}, fmt.Errorf("admission: burst count: %w", err)
	}
	if lim.Burst > 0 && burst >= lim.Burst {
		return Decision{
			Tier:       t,
			Limit:      lim.Sustained,
			RetryAfter: BurstWindow,
			ResetAt:    now.Add(BurstWindow),
			Reason:     ReasonBurstExceeded,
		}, nil
	}

	global, _, err := d.store.Count(ctx, client, tier.Global, now.Add(-SustainedWindow), now)
	if err != nil {
		return Decision{Tier: t}, fmt.Errorf("admission: global count: %w", err)
	}
	if global >= limits.Global {
		until = now.Add(limits.GlobalBlock)
		d.block(ctx, client, ReasonGlobalExceeded, until, now)
		return Decision{
			Tier:       t,
			Limit:      lim.Sustained,
			RetryAfter: limits.GlobalBlock,
			ResetAt:    until,
			Reason:     ReasonGlobalExceeded,
		}, nil
	}

	// record only on the allowed path: denied requests never consume quota
	if err := d.store.Record(ctx, client, t, now); err != nil {
		return Decision{Tier: t}, fmt.Errorf("admission: record: %w", err)
	}
	if err := d.store.Record(ctx, client, tier.Global, now); err != nil {
		return Decision{Tier: t}, fmt.Errorf("admission: record global: %w", err)
	}

	reset := now.Add(SustainedWindow)
	if !oldest.IsZero() {
		reset = oldest.Add(SustainedWindow)
	}
	return Decision{
		Allowed:   true,
		Tier:      t,
		Limit:     lim.Sustained,
		Remaining: lim.Sustained - sustained - 1,
		ResetAt:   reset,
	}, nil
}

func (d *Decider) block(ctx context.Context, client string, reason Reason, until, now time.Time) {
	if err := d.store.Block(ctx, client, until, now); err != nil {
		d.log.Error().Err(err).Str("client", client).Msg("block write failed")
		return
	}
	d.log.Warn().
		Str("client", client).
		Str("reason", string(reason)).
		Time("until", until).
		Msg("client blocked")
	if d.onBlock != nil {
		d.onBlock(client, reason, until)
	}
}

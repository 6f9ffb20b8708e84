package admission

import (
	"context"
	"errors"
	"time"

	"github.com/stockpulse/gate/internal/tier"
)

// Window sizes. Both windows for a tier are counted against the same
// underlying log; the sustained window doubles as the log retention.
const (
	SustainedWindow = 60 * time.Second
	BurstWindow     = 10 * time.Second
)

// Reason says why a request was denied.
type Reason string

const (
	ReasonBlocked           Reason = "blocked"
	ReasonSustainedExceeded Reason = "sustained_exceeded"
	ReasonBurstExceeded     Reason = "burst_exceeded"
	ReasonGlobalExceeded    Reason = "global_exceeded"
)

// Decision is the verdict for a single request.
type Decision struct {
	Allowed    bool
	Tier       tier.Tier
	Limit      int           // sustained limit of the tier
	Remaining  int           // requests left in the window; meaningful only when allowed
	RetryAfter time.Duration // meaningful only when denied
	ResetAt    time.Time     // when the oldest counted request leaves the window
	Reason     Reason        // empty when allowed
}

// TierLimit is the rate budget of one tier.
type TierLimit struct {
	Sustained int // requests per 60s
	Burst     int // requests per 10s
}

// Limits is the full limit table the decider enforces. It is treated as
// immutable; hot reload swaps in a fresh copy.
type Limits struct {
	Tiers          map[tier.Tier]TierLimit
	Global         int // requests per 60s across all tiers
	SustainedBlock time.Duration
	GlobalBlock    time.Duration
}

// DefaultLimits returns the stock limit table.
func DefaultLimits() Limits {
	return Limits{
		Tiers: map[tier.Tier]TierLimit{
			tier.Health: {Sustained: 60, Burst: 20},
			tier.API:    {Sustained: 30, Burst: 10},
			tier.ML:     {Sustained: 10, Burst: 2},
			tier.Data:   {Sustained: 20, Burst: 5},
		},
		Global:         100,
		SustainedBlock: 300 * time.Second,
		GlobalBlock:    600 * time.Second,
	}
}

// ErrClockUnavailable is returned when Decide is handed a zero time.
// Callers must treat any error from Decide as a denial.
var ErrClockUnavailable = errors.New("admission: clock unavailable")

// Store holds the mutable admission state: per-(client,tier) sliding
// window logs and the block list. Implementations must be safe for
// concurrent use; the Decider additionally serializes same-client calls
// so that check-then-record sequences are atomic per client.
type Store interface {
	// IsBlocked reports whether client is blocked at now and, if so,
	// until when. Expired entries are evicted as a side effect.
	IsBlocked(ctx context.Context, client string, now time.Time) (bool, time.Time, error)

	// Block bars client until the given time, measured from the caller's
	// now. A time earlier than an unblock time already in force is
	// ignored: blocks only extend.
	Block(ctx context.Context, client string, until, now time.Time) error

	// Count returns how many entries the (client, tier) log holds at or
	// after since, together with the oldest such entry (zero time when
	// none). Entries older than the retention window are pruned.
	Count(ctx context.Context, client string, t tier.Tier, since, now time.Time) (int, time.Time, error)

	// Record appends now to the (client, tier) log.
	Record(ctx context.Context, client string, t tier.Tier, now time.Time) error

	Close() error
}

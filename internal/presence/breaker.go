package presence

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker/v2"
	"github.com/vedran77/pulsedm/internal/logging"
	"github.com/vedran77/pulsedm/internal/metrics"
)

// BreakerFriends guards a FriendSource with a circuit breaker so a failing
// store does not stall every connect and disconnect. While open, lookups fail
// fast and presence broadcasts are skipped.
type BreakerFriends struct {
	source FriendSource
	cb     *gobreaker.CircuitBreaker[[]uuid.UUID]
}

func NewBreakerFriends(source FriendSource, failures uint32, timeout time.Duration) *BreakerFriends {
	if failures == 0 {
		failures = 5
	}
	settings := gobreaker.Settings{
		Name:        "friend-lookup",
		MaxRequests: 1,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			metrics.FriendLookupBreakerState.Set(float64(to))
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("presence: circuit breaker state changed")
		},
	}
	return &BreakerFriends{
		source: source,
		cb:     gobreaker.NewCircuitBreaker[[]uuid.UUID](settings),
	}
}

func (b *BreakerFriends) ListFriendIDs(ctx context.Context, userID uuid.UUID) ([]uuid.UUID, error) {
	return b.cb.Execute(func() ([]uuid.UUID, error) {
		return b.source.ListFriendIDs(ctx, userID)
	})
}

func (b *BreakerFriends) State() gobreaker.State {
	return b.cb.State()
}

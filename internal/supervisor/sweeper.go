package supervisor

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vedran77/pulsedm/internal/logging"
	"github.com/vedran77/pulsedm/internal/service"
)

type OnlineUsers interface {
	OnlineUsers() []uuid.UUID
}

type Reconciler interface {
	ReconcileUser(ctx context.Context, userID uuid.UUID, trigger string) (*service.ReconcileReport, error)
}

// ReconcileSweeper periodically repairs conversations of connected users.
// A failure for one user is logged and the sweep moves on.
type ReconcileSweeper struct {
	users     OnlineUsers
	reconcile Reconciler
	interval  time.Duration
}

func NewReconcileSweeper(users OnlineUsers, reconcile Reconciler, interval time.Duration) *ReconcileSweeper {
	return &ReconcileSweeper{users: users, reconcile: reconcile, interval: interval}
}

func (s *ReconcileSweeper) Serve(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep runs one pass and returns how many users were reconciled cleanly.
func (s *ReconcileSweeper) Sweep(ctx context.Context) int {
	log := logging.WithComponent("reconcile-sweeper")
	ok := 0
	for _, id := range s.users.OnlineUsers() {
		if ctx.Err() != nil {
			break
		}
		report, err := s.reconcile.ReconcileUser(ctx, id, service.TriggerSweep)
		if err != nil {
			log.Warn().Err(err).Str("user_id", id.String()).Msg("reconcile failed")
			continue
		}
		if report.Created > 0 || report.Backfilled > 0 || report.Repaired > 0 {
			log.Info().
				Str("user_id", id.String()).
				Int("created", report.Created).
				Int("backfilled", report.Backfilled).
				Int("repaired", report.Repaired).
				Msg("reconciled conversations")
		}
		ok++
	}
	return ok
}

func (s *ReconcileSweeper) String() string {
	return "reconcile-sweeper"
}

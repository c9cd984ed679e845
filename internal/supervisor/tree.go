// Package supervisor runs the long-lived parts of the server under a suture
// tree so a crashed sweeper is restarted without taking the API down.
package supervisor

import (
	"context"
	"log/slog"
	"time"

	"github.com/thejerf/suture/v4"
	"github.com/thejerf/sutureslog"
)

type TreeConfig struct {
	FailureThreshold float64
	FailureDecay     float64
	FailureBackoff   time.Duration
	ShutdownTimeout  time.Duration
}

// Tree has two branches: api for the HTTP server and jobs for background
// maintenance.
type Tree struct {
	root *suture.Supervisor
	api  *suture.Supervisor
	jobs *suture.Supervisor
}

func NewTree(logger *slog.Logger, cfg TreeConfig) *Tree {
	if cfg.FailureThreshold == 0 {
		cfg.FailureThreshold = 5
	}
	if cfg.FailureDecay == 0 {
		cfg.FailureDecay = 30
	}
	if cfg.FailureBackoff == 0 {
		cfg.FailureBackoff = 15 * time.Second
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}

	hook := (&sutureslog.Handler{Logger: logger}).MustHook()

	spec := suture.Spec{
		FailureThreshold: cfg.FailureThreshold,
		FailureDecay:     cfg.FailureDecay,
		FailureBackoff:   cfg.FailureBackoff,
		Timeout:          cfg.ShutdownTimeout,
	}
	rootSpec := spec
	rootSpec.EventHook = hook

	t := &Tree{
		root: suture.New("pulsedm", rootSpec),
		api:  suture.New("api", spec),
		jobs: suture.New("jobs", spec),
	}
	t.root.Add(t.api)
	t.root.Add(t.jobs)
	return t
}

func (t *Tree) AddAPIService(svc suture.Service) suture.ServiceToken {
	return t.api.Add(svc)
}

func (t *Tree) AddJobService(svc suture.Service) suture.ServiceToken {
	return t.jobs.Add(svc)
}

// Serve blocks until ctx is canceled or the tree gives up.
func (t *Tree) Serve(ctx context.Context) error {
	return t.root.Serve(ctx)
}

func (t *Tree) ServeBackground(ctx context.Context) <-chan error {
	return t.root.ServeBackground(ctx)
}

// Package deadman runs the periodic inactivity sweep over every vault.
package deadman

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deadlock-vault/internal/application/dispatch"
	"github.com/deadlock-vault/internal/application/lifecycle"
	"github.com/deadlock-vault/internal/application/mutate"
	"github.com/deadlock-vault/internal/domain"
	"go.uber.org/atomic"
)

// ErrSweepRunning is returned when a sweep is requested while one is active.
var ErrSweepRunning = fmt.Errorf("deadman sweep already running: %w", domain.ErrConflict)

type lister interface {
	ListAll(ctx context.Context) ([]*domain.Vault, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, vaultID string) (dispatch.Report, error)
}

// Result summarizes one sweep.
type Result struct {
	Scanned     int               `json:"scanned"`
	Updated     int               `json:"updated"`
	Notified    int               `json:"notified"`
	Failed      int               `json:"failed"`
	EvaluatedAt time.Time         `json:"evaluated_at"`
	Dispatches  []dispatch.Report `json:"dispatches,omitempty"`
}

type Deps struct {
	Store      lister
	Mutator    *mutate.Mutator
	Dispatcher dispatcher
	Now        func() time.Time
}

type Evaluator struct {
	store      lister
	mutator    *mutate.Mutator
	dispatcher dispatcher
	now        func() time.Time
	running    atomic.Bool
}

func New(d Deps) *Evaluator {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &Evaluator{store: d.Store, mutator: d.Mutator, dispatcher: d.Dispatcher, now: d.Now}
}

// Sweep evaluates every vault against one shared now. Only vaults whose
// state moved are written, and nominees are notified only for vaults that
// entered NOMINEES_NOTIFIED in this sweep. A failure on one vault is counted
// and logged; the sweep carries on with the rest.
func (e *Evaluator) Sweep(ctx context.Context) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	if !e.running.CompareAndSwap(false, true) {
		return Result{}, ErrSweepRunning
	}
	defer e.running.Store(false)

	now := e.now()
	res := Result{EvaluatedAt: now}

	vaults, err := e.store.ListAll(ctx)
	if err != nil {
		return res, fmt.Errorf("list vaults: %w", err)
	}
	res.Scanned = len(vaults)

	for _, v := range vaults {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if dry := lifecycle.Evaluate(v.Clone(), now); !dry.Changed {
			continue
		}

		var t lifecycle.Transition
		_, err := e.mutator.Vault(ctx, v.VaultID, func(v *domain.Vault) (bool, error) {
			t = lifecycle.Evaluate(v, now)
			return t.Changed, nil
		})
		if err != nil {
			res.Failed++
			slog.Error("deadman evaluate vault", "vault_id", v.VaultID, "err", err)
			continue
		}
		if !t.Changed {
			continue
		}
		res.Updated++
		slog.Info("deadman transition", "vault_id", v.VaultID, "from", t.From, "to", t.To)

		if !t.NomineesNotified {
			continue
		}
		res.Notified++
		rep, err := e.dispatcher.Dispatch(ctx, v.VaultID)
		if err != nil {
			slog.Error("deadman dispatch", "vault_id", v.VaultID, "err", err)
		}
		res.Dispatches = append(res.Dispatches, rep)
	}
	return res, nil
}

// Run sweeps on every tick until ctx is cancelled. Sweeps run on the calling
// goroutine, so ticks that land during a slow sweep are dropped and Run
// returns only once the current sweep has finished.
func (e *Evaluator) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("deadman monitor started", "interval", interval.String())
	for {
		select {
		case <-ticker.C:
			e.tick(ctx)
		case <-ctx.Done():
			slog.Info("deadman monitor stopped")
			return
		}
	}
}

func (e *Evaluator) tick(ctx context.Context) {
	res, err := e.Sweep(ctx)
	switch {
	case errors.Is(err, ErrSweepRunning):
		slog.Warn("deadman tick skipped, previous sweep still running")
	case errors.Is(err, context.Canceled):
	case err != nil:
		slog.Error("deadman sweep", "err", err)
	case res.Updated > 0 || res.Failed > 0:
		slog.Info("deadman sweep",
			"scanned", res.Scanned, "updated", res.Updated,
			"notified", res.Notified, "failed", res.Failed)
	}
}

// Package notify combines the configured nominee notification sinks.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/deadlock-vault/internal/domain"
	"golang.org/x/sync/errgroup"
)

// Fanout delivers each notice to every sink concurrently. A notice counts as
// delivered when at least one sink accepted it.
type Fanout struct {
	sinks []domain.NotificationSink
}

func NewFanout(sinks ...domain.NotificationSink) *Fanout {
	return &Fanout{sinks: sinks}
}

func (f *Fanout) Notify(ctx context.Context, n domain.NomineeNotice) error {
	if len(f.sinks) == 0 {
		return errors.New("no notification sinks configured")
	}
	errs := make([]error, len(f.sinks))
	var g errgroup.Group
	for i, s := range f.sinks {
		g.Go(func() error {
			errs[i] = s.Notify(ctx, n)
			return nil
		})
	}
	_ = g.Wait()

	failed := 0
	for _, err := range errs {
		if err != nil {
			failed++
			slog.Warn("notification sink failed", "vault_id", n.VaultID, "nominee", n.NomineeID, "err", err)
		}
	}
	if failed == len(f.sinks) {
		return fmt.Errorf("all notification sinks failed: %w", errors.Join(errs...))
	}
	return nil
}

// LogSink records that a notice was produced without delivering it. The
// share itself is never logged.
type LogSink struct{}

func (LogSink) Notify(_ context.Context, n domain.NomineeNotice) error {
	slog.Info("nominee notice",
		"vault_id", n.VaultID,
		"vault_name", n.VaultName,
		"owner_id", n.OwnerID,
		"nominee", n.NomineeID,
		"email", n.NomineeEmail,
		"has_share", n.RevealedShare != "",
	)
	return nil
}

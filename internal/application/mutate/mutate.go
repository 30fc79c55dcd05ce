// Package mutate runs read-modify-write cycles against the vault store.
package mutate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/deadlock-vault/internal/domain"
	"github.com/deadlock-vault/internal/pkg/keylock"
)

const maxAttempts = 3

type store interface {
	GetByID(ctx context.Context, vaultID string) (*domain.Vault, error)
	Update(ctx context.Context, v *domain.Vault) error
}

// Func mutates v in place and reports whether anything needs persisting.
// It may be called more than once when a concurrent writer wins the race,
// each time with a freshly loaded vault.
type Func func(v *domain.Vault) (changed bool, err error)

type Mutator struct {
	store store
	locks *keylock.Locker
	now   func() time.Time
}

func New(s store, locks *keylock.Locker, now func() time.Time) *Mutator {
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &Mutator{store: s, locks: locks, now: now}
}

// Vault loads the vault, applies fn and writes the result back. Writers in
// this process are serialized per vault; writers in other processes are
// caught by the store's version check and retried.
func (m *Mutator) Vault(ctx context.Context, vaultID string, fn Func) (*domain.Vault, error) {
	unlock := m.locks.Lock(vaultID)
	defer unlock()

	var lastErr error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		v, err := m.store.GetByID(ctx, vaultID)
		if err != nil {
			return nil, err
		}

		changed, err := fn(v)
		if err != nil {
			return nil, err
		}
		if !changed {
			return v, nil
		}

		v.UpdatedAt = m.now()
		err = m.store.Update(ctx, v)
		if err == nil {
			return v, nil
		}
		if !errors.Is(err, domain.ErrConflict) {
			return nil, err
		}
		lastErr = err
		slog.Warn("vault write conflict, retrying", "vault_id", vaultID, "attempt", attempt)
	}
	return nil, fmt.Errorf("vault %s still contended after %d attempts: %w", vaultID, maxAttempts, lastErr)
}

// Package dispatch delivers nominee notices for vaults that already reached
// NOMINEES_NOTIFIED. The state transition is persisted first; this step only
// performs the side effect and records who was reached.
package dispatch

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/deadlock-vault/internal/application/mutate"
	"github.com/deadlock-vault/internal/domain"
	"github.com/deadlock-vault/internal/pkg/keylock"
)

type store interface {
	GetByID(ctx context.Context, vaultID string) (*domain.Vault, error)
}

type revealer interface {
	Reveal(sealed string) (string, error)
}

// Report summarizes one dispatch run for a vault.
type Report struct {
	VaultID string `json:"vault_id"`
	Sent    int    `json:"sent"`
	Failed  int    `json:"failed"`
	Skipped int    `json:"skipped"`
}

type Deps struct {
	Store   store
	Mutator *mutate.Mutator
	Escrow  revealer
	Sink    domain.NotificationSink
	Locks   *keylock.Locker
	Now     func() time.Time
}

type Dispatcher struct {
	store   store
	mutator *mutate.Mutator
	escrow  revealer
	sink    domain.NotificationSink
	locks   *keylock.Locker
	now     func() time.Time
}

func New(d Deps) *Dispatcher {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Locks == nil {
		d.Locks = keylock.New()
	}
	return &Dispatcher{
		store:   d.Store,
		mutator: d.Mutator,
		escrow:  d.Escrow,
		sink:    d.Sink,
		locks:   d.Locks,
		now:     d.Now,
	}
}

// Dispatch notifies every nominee whose NotifiedAt is unset and stamps the
// ones that were delivered. Delivery failures are counted in the report and
// never undo the transition. The returned error covers loading and stamping
// only.
func (d *Dispatcher) Dispatch(ctx context.Context, vaultID string) (Report, error) {
	unlock := d.locks.Lock("dispatch:" + vaultID)
	defer unlock()

	rep := Report{VaultID: vaultID}
	v, err := d.store.GetByID(ctx, vaultID)
	if err != nil {
		return rep, err
	}
	if !v.Status.NomineesNotified() {
		return rep, nil
	}

	reason := ""
	if v.UnlockRequest != nil {
		reason = v.UnlockRequest.Reason
	}

	var delivered []int
	for _, n := range v.Nominees {
		if n.NotifiedAt != nil {
			rep.Skipped++
			continue
		}
		log := slog.With("vault_id", v.VaultID, "nominee", n.ID)

		share := ""
		if f, ok := v.FragmentFor(n.ID); ok {
			share, err = d.escrow.Reveal(f.EncryptedShare)
			if err != nil {
				log.Error("reveal share for notice", "err", err)
				rep.Failed++
				continue
			}
		} else {
			log.Warn("no escrowed share for nominee slot")
		}

		notice := domain.NomineeNotice{
			VaultID:       v.VaultID,
			VaultName:     v.VaultName,
			NomineeID:     n.ID,
			NomineeEmail:  n.Email,
			OwnerID:       v.OwnerID,
			RevealedShare: share,
			Reason:        reason,
		}
		if err := d.sink.Notify(ctx, notice); err != nil {
			log.Error("notify nominee", "err", err)
			rep.Failed++
			continue
		}
		rep.Sent++
		delivered = append(delivered, n.ID)
	}

	if len(delivered) == 0 {
		return rep, nil
	}

	at := d.now()
	_, err = d.mutator.Vault(ctx, vaultID, func(v *domain.Vault) (bool, error) {
		changed := false
		for i := range v.Nominees {
			n := &v.Nominees[i]
			if n.NotifiedAt == nil && slices.Contains(delivered, n.ID) {
				stamp := at
				n.NotifiedAt = &stamp
				changed = true
			}
		}
		return changed, nil
	})
	if err != nil {
		slog.Error("stamp nominee notifications", "vault_id", vaultID, "err", err)
	}
	return rep, err
}

// Package vault implements the owner side of a vault: configuration,
// check-ins, explicit unlock requests, share escrow and encrypted files.
package vault

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
	"github.com/deadlock-vault/internal/pkg/id"
	"github.com/deadlock-vault/internal/pkg/keylock"
	"github.com/deadlock-vault/internal/pkg/validate"
)

type store interface {
	GetByOwner(ctx context.Context, ownerID string) (*domain.Vault, error)
	Insert(ctx context.Context, v *domain.Vault) error
}

type sealer interface {
	SealSet(shares []string, now time.Time) (domain.ShareSet, error)
}

type dispatcher interface {
	Dispatch(ctx context.Context, vaultID string) (dispatch.Report, error)
}

type Service interface {
	CreateOrUpdate(ctx context.Context, ownerID string, in domain.VaultInput) (*domain.VaultSummary, error)
	Get(ctx context.Context, ownerID string) (*domain.VaultSummary, error)
	Dashboard(ctx context.Context, ownerID string) (*domain.Dashboard, error)
	CheckIn(ctx context.Context, ownerID string) (*domain.VaultSummary, error)
	RequestUnlock(ctx context.Context, ownerID string, in domain.UnlockRequestInput) (*UnlockResult, error)
	StoreShares(ctx context.Context, ownerID string, in domain.StoreSharesInput) (*domain.VaultSummary, error)

	UploadFile(ctx context.Context, ownerID string, in domain.UploadFileInput) (*domain.VaultFile, error)
	ListFiles(ctx context.Context, ownerID string) ([]domain.VaultFile, error)
	DownloadFile(ctx context.Context, ownerID, fileID string) (*domain.VaultFile, []byte, error)
	DeleteFile(ctx context.Context, ownerID, fileID string) error
}

// UnlockResult pairs the vault with the outcome of the notification step.
type UnlockResult struct {
	Vault         *domain.VaultSummary `json:"vault"`
	Notifications dispatch.Report      `json:"notifications"`
}

type ServiceDeps struct {
	Store        store
	Mutator      *mutate.Mutator
	Escrow       sealer
	Dispatcher   dispatcher
	Blobs        domain.BlobStore
	BucketPrefix string
	Locks        *keylock.Locker
	Now          func() time.Time
}

type service struct {
	store        store
	mutator      *mutate.Mutator
	escrow       sealer
	dispatcher   dispatcher
	blobs        domain.BlobStore
	bucketPrefix string
	locks        *keylock.Locker
	now          func() time.Time
}

func NewService(d ServiceDeps) Service {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	if d.Locks == nil {
		d.Locks = keylock.New()
	}
	if d.BucketPrefix == "" {
		d.BucketPrefix = defaultBucketPrefix
	}
	return &service{
		store:        d.Store,
		mutator:      d.Mutator,
		escrow:       d.Escrow,
		dispatcher:   d.Dispatcher,
		blobs:        d.Blobs,
		bucketPrefix: d.BucketPrefix,
		locks:        d.Locks,
		now:          d.Now,
	}
}

func (s *service) CreateOrUpdate(ctx context.Context, ownerID string, in domain.VaultInput) (*domain.VaultSummary, error) {
	emails, err := validateInput(in)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock("owner:" + ownerID)
	defer unlock()

	existing, err := s.store.GetByOwner(ctx, ownerID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return s.create(ctx, ownerID, in, emails)
	case err != nil:
		return nil, err
	}

	v, err := s.mutator.Vault(ctx, existing.VaultID, func(v *domain.Vault) (bool, error) {
		if v.Status.NomineesNotified() {
			return false, fmt.Errorf("vault can no longer be edited, status %s: %w", v.Status, domain.ErrForbidden)
		}
		v.VaultName = in.VaultName
		v.TriggerTime = in.TriggerTime

		policy := mergePolicy(v.CheckInPolicy, in)
		if err := policy.Validate(); err != nil {
			return false, err
		}
		if policy != v.CheckInPolicy {
			lifecycle.ApplyPolicy(v, policy)
		}

		if replaceNominees(v, emails) {
			v.Shares = domain.ShareSet{}
			v.ShareCheckpoint = domain.NewShareCheckpoint()
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("vault updated", "vault_id", v.VaultID, "owner_id", ownerID)
	return v.Summary(), nil
}

func (s *service) create(ctx context.Context, ownerID string, in domain.VaultInput, emails []string) (*domain.VaultSummary, error) {
	policy := mergePolicy(domain.DefaultCheckInPolicy(), in)
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	now := s.now()
	v := &domain.Vault{
		VaultID:         id.New(),
		OwnerID:         ownerID,
		VaultName:       in.VaultName,
		TriggerTime:     in.TriggerTime,
		CheckInPolicy:   policy,
		ShareCheckpoint: domain.NewShareCheckpoint(),
		Files:           []domain.VaultFile{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	replaceNominees(v, emails)
	lifecycle.Start(v, now)

	if err := s.store.Insert(ctx, v); err != nil {
		return nil, err
	}
	slog.Info("vault created", "vault_id", v.VaultID, "owner_id", ownerID)
	return v.Summary(), nil
}

func (s *service) Get(ctx context.Context, ownerID string) (*domain.VaultSummary, error) {
	v, err := s.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return v.Summary(), nil
}

func (s *service) Dashboard(ctx context.Context, ownerID string) (*domain.Dashboard, error) {
	v, err := s.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return v.Dashboard(s.now()), nil
}

func (s *service) CheckIn(ctx context.Context, ownerID string) (*domain.VaultSummary, error) {
	v, err := s.mutateOwned(ctx, ownerID, func(v *domain.Vault) (bool, error) {
		_, err := lifecycle.CheckIn(v, s.now())
		return err == nil, err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("owner checked in", "vault_id", v.VaultID, "next_due", v.DeadMan.NextCheckInDueAt)
	return v.Summary(), nil
}

// RequestUnlock moves the vault to NOMINEES_NOTIFIED and then notifies any
// nominee not reached yet. Repeating the request retries failed deliveries.
func (s *service) RequestUnlock(ctx context.Context, ownerID string, in domain.UnlockRequestInput) (*UnlockResult, error) {
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}
	v, err := s.mutateOwned(ctx, ownerID, func(v *domain.Vault) (bool, error) {
		t, err := lifecycle.RequestUnlock(v, s.now(), in.Reason)
		return t.Changed, err
	})
	if err != nil {
		return nil, err
	}
	slog.Info("unlock requested", "vault_id", v.VaultID, "owner_id", ownerID)

	rep, err := s.dispatcher.Dispatch(ctx, v.VaultID)
	if err != nil {
		slog.Error("dispatch after unlock request", "vault_id", v.VaultID, "err", err)
	}
	if fresh, err := s.store.GetByOwner(ctx, ownerID); err == nil {
		v = fresh
	}
	return &UnlockResult{Vault: v.Summary(), Notifications: rep}, nil
}

// StoreShares replaces the escrow set. Shares are sealed before anything is
// written, so a bad set leaves the previous escrow untouched.
func (s *service) StoreShares(ctx context.Context, ownerID string, in domain.StoreSharesInput) (*domain.VaultSummary, error) {
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}
	if in.Threshold != 0 && in.Threshold != domain.ShareThreshold {
		return nil, fmt.Errorf("threshold must be %d: %w", domain.ShareThreshold, domain.ErrBadRequest)
	}
	if in.TotalShares != 0 && in.TotalShares != domain.ShareThreshold {
		return nil, fmt.Errorf("total shares must be %d: %w", domain.ShareThreshold, domain.ErrBadRequest)
	}
	set, err := s.escrow.SealSet(in.Shares, s.now())
	if err != nil {
		return nil, err
	}

	v, err := s.mutateOwned(ctx, ownerID, func(v *domain.Vault) (bool, error) {
		if v.Status.NomineesNotified() {
			return false, fmt.Errorf("shares are frozen once nominees are notified: %w", domain.ErrForbidden)
		}
		v.Shares = set
		v.ShareCheckpoint = domain.NewShareCheckpoint()
		for i := range v.Nominees {
			n := &v.Nominees[i]
			n.Status = domain.NomineePending
			n.ApprovedAt = nil
			n.ShareSubmittedAt = nil
		}
		return true, nil
	})
	if err != nil {
		return nil, err
	}
	slog.Info("shares escrowed", "vault_id", v.VaultID, "count", len(set.Fragments))
	return v.Summary(), nil
}

func (s *service) mutateOwned(ctx context.Context, ownerID string, fn mutate.Func) (*domain.Vault, error) {
	v, err := s.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.mutator.Vault(ctx, v.VaultID, func(v *domain.Vault) (bool, error) {
		if v.OwnerID != ownerID {
			return false, fmt.Errorf("vault not found: %w", domain.ErrNotFound)
		}
		return fn(v)
	})
}

func validateInput(in domain.VaultInput) ([]string, error) {
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}
	if in.Threshold != nil && *in.Threshold != domain.ShareThreshold {
		return nil, fmt.Errorf("threshold must be %d: %w", domain.ShareThreshold, domain.ErrBadRequest)
	}

	emails := make([]string, 0, len(in.Nominees))
	seen := make(map[string]bool, len(in.Nominees))
	for _, e := range in.Nominees {
		e = domain.NormalizeEmail(e)
		if seen[e] {
			return nil, fmt.Errorf("nominee emails must be unique: %w", domain.ErrBadRequest)
		}
		seen[e] = true
		emails = append(emails, e)
	}
	if len(emails) != domain.RequiredNominees {
		return nil, fmt.Errorf("exactly %d nominees are required: %w", domain.RequiredNominees, domain.ErrBadRequest)
	}
	return emails, nil
}

func mergePolicy(base domain.CheckInPolicy, in domain.VaultInput) domain.CheckInPolicy {
	if in.CheckInIntervalDays != nil {
		base.IntervalDays = *in.CheckInIntervalDays
	}
	if in.GracePeriodDays != nil {
		base.GracePeriodDays = *in.GracePeriodDays
	}
	if in.MaxMissedCheckIns != nil {
		base.MaxMissedCheckIns = *in.MaxMissedCheckIns
	}
	return base
}

// replaceNominees gives every slot whose email changed a fresh record and
// reports whether any slot changed.
func replaceNominees(v *domain.Vault, emails []string) bool {
	changed := len(v.Nominees) != len(emails)
	next := make([]domain.Nominee, len(emails))
	for i, e := range emails {
		if i < len(v.Nominees) && domain.NormalizeEmail(v.Nominees[i].Email) == e {
			next[i] = v.Nominees[i]
			continue
		}
		next[i] = domain.Nominee{ID: i + 1, Email: e, Status: domain.NomineePending}
		changed = true
	}
	v.Nominees = next
	return changed
}

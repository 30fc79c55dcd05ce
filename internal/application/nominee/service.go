// Package nominee serves the unauthenticated nominee surface: share
// checkpoints, approval status and gated file access.
package nominee

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/deadlock-vault/internal/application/lifecycle"
	"github.com/deadlock-vault/internal/application/mutate"
	"github.com/deadlock-vault/internal/domain"
	"github.com/deadlock-vault/internal/pkg/validate"
)

type store interface {
	GetByID(ctx context.Context, vaultID string) (*domain.Vault, error)
}

type blobReader interface {
	Get(ctx context.Context, bucket, key string) ([]byte, error)
}

type Service interface {
	SubmitShare(ctx context.Context, vaultID string, in domain.SubmitShareInput) (*domain.CheckpointResult, error)
	Checkpoint(ctx context.Context, vaultID string) (*domain.CheckpointResult, error)
	Approvals(ctx context.Context, vaultID string) (*domain.Approvals, error)
	ListFiles(ctx context.Context, vaultID, email, share string) ([]domain.VaultFile, error)
	DownloadFile(ctx context.Context, vaultID, fileID, email, share string) (*domain.VaultFile, []byte, error)
}

type ServiceDeps struct {
	Store   store
	Mutator *mutate.Mutator
	Escrow  revealer
	Blobs   blobReader
	Now     func() time.Time
}

type service struct {
	store   store
	mutator *mutate.Mutator
	escrow  revealer
	blobs   blobReader
	now     func() time.Time
}

func NewService(d ServiceDeps) Service {
	if d.Now == nil {
		d.Now = func() time.Time { return time.Now().UTC() }
	}
	return &service{store: d.Store, mutator: d.Mutator, escrow: d.Escrow, blobs: d.Blobs, now: d.Now}
}

// SubmitShare records a nominee checkpoint. Resubmitting overwrites that
// nominee's entry. The third distinct nominee unlocks the vault.
func (s *service) SubmitShare(ctx context.Context, vaultID string, in domain.SubmitShareInput) (*domain.CheckpointResult, error) {
	in.Nominee = domain.NormalizeEmail(in.Nominee)
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}
	email := in.Nominee
	var unlocked bool

	v, err := s.mutator.Vault(ctx, vaultID, func(v *domain.Vault) (bool, error) {
		if !v.SharesComplete() {
			return false, fmt.Errorf("share escrow incomplete: %w", domain.ErrConflict)
		}
		n, err := Authenticate(v, s.escrow, email, in.Share, false)
		if err != nil {
			return false, err
		}

		now := s.now()
		if v.ShareCheckpoint.SubmittedByNominee == nil {
			v.ShareCheckpoint = domain.NewShareCheckpoint()
		}
		v.ShareCheckpoint.SubmittedByNominee[email] = domain.CheckpointEntry{SubmittedAt: now, ShareID: n.ID}
		v.ShareCheckpoint.SubmittedCount = len(v.ShareCheckpoint.SubmittedByNominee)

		approved := now
		n.Status = domain.NomineeApproved
		n.ApprovedAt = &approved
		n.ShareSubmittedAt = &approved
		if v.UnlockRequest != nil && v.Status != domain.StatusUnlocked {
			v.UnlockRequest.ApprovedCount = v.ShareCheckpoint.SubmittedCount
		}

		unlocked = lifecycle.Unlock(v, now).Changed
		return true, nil
	})
	if err != nil {
		return nil, err
	}

	slog.Info("nominee share checkpointed", "vault_id", vaultID, "submitted", v.ShareCheckpoint.SubmittedCount)
	if unlocked {
		slog.Info("vault unlocked", "vault_id", vaultID)
	}
	return v.Checkpoint(), nil
}

func (s *service) Checkpoint(ctx context.Context, vaultID string) (*domain.CheckpointResult, error) {
	v, err := s.store.GetByID(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	return v.Checkpoint(), nil
}

func (s *service) Approvals(ctx context.Context, vaultID string) (*domain.Approvals, error) {
	v, err := s.store.GetByID(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	return v.Approvals(), nil
}

func (s *service) ListFiles(ctx context.Context, vaultID, email, share string) ([]domain.VaultFile, error) {
	v, err := s.unlockedVault(ctx, vaultID, email, share)
	if err != nil {
		return nil, err
	}
	if v.Files == nil {
		return []domain.VaultFile{}, nil
	}
	return v.Files, nil
}

func (s *service) DownloadFile(ctx context.Context, vaultID, fileID, email, share string) (*domain.VaultFile, []byte, error) {
	v, err := s.unlockedVault(ctx, vaultID, email, share)
	if err != nil {
		return nil, nil, err
	}
	f, _, ok := v.FileByID(fileID)
	if !ok {
		return nil, nil, fmt.Errorf("file not found: %w", domain.ErrNotFound)
	}
	data, err := s.blobs.Get(ctx, f.Bucket, f.StorageKey)
	if err != nil {
		return nil, nil, err
	}
	slog.Info("nominee file download", "vault_id", vaultID, "file_id", fileID)
	return &f, data, nil
}

func (s *service) unlockedVault(ctx context.Context, vaultID, email, share string) (*domain.Vault, error) {
	v, err := s.store.GetByID(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	if _, err := Authenticate(v, s.escrow, email, share, true); err != nil {
		return nil, err
	}
	return v, nil
}

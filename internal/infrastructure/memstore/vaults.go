// Package memstore keeps vaults and blobs in process memory. It backs
// VAULT_STORE=memory for local runs and the service tests.
package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/deadlock-vault/internal/domain"
)

type VaultRepo struct {
	mu      sync.RWMutex
	byID    map[string]*domain.Vault
	byOwner map[string]string
}

func NewVaultRepo() *VaultRepo {
	return &VaultRepo{
		byID:    make(map[string]*domain.Vault),
		byOwner: make(map[string]string),
	}
}

func (r *VaultRepo) GetByID(_ context.Context, vaultID string) (*domain.Vault, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.byID[vaultID]
	if !ok {
		return nil, fmt.Errorf("vault not found: %w", domain.ErrNotFound)
	}
	return v.Clone(), nil
}

func (r *VaultRepo) GetByOwner(ctx context.Context, ownerID string) (*domain.Vault, error) {
	r.mu.RLock()
	id, ok := r.byOwner[ownerID]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("vault not found: %w", domain.ErrNotFound)
	}
	return r.GetByID(ctx, id)
}

func (r *VaultRepo) Insert(_ context.Context, v *domain.Vault) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[v.VaultID]; ok {
		return fmt.Errorf("vault already exists: %w", domain.ErrConflict)
	}
	if _, ok := r.byOwner[v.OwnerID]; ok {
		return fmt.Errorf("owner already has a vault: %w", domain.ErrConflict)
	}
	v.Version = 1
	r.byID[v.VaultID] = v.Clone()
	r.byOwner[v.OwnerID] = v.VaultID
	return nil
}

func (r *VaultRepo) Update(_ context.Context, v *domain.Vault) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cur, ok := r.byID[v.VaultID]
	if !ok {
		return fmt.Errorf("vault not found: %w", domain.ErrNotFound)
	}
	if cur.Version != v.Version {
		return fmt.Errorf("vault version %d, have %d: %w", cur.Version, v.Version, domain.ErrConflict)
	}
	v.Version++
	r.byID[v.VaultID] = v.Clone()
	return nil
}

// ListAll returns vaults ordered by creation time.
func (r *VaultRepo) ListAll(_ context.Context) ([]*domain.Vault, error) {
	r.mu.RLock()
	out := make([]*domain.Vault, 0, len(r.byID))
	for _, v := range r.byID {
		out = append(out, v.Clone())
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].VaultID < out[j].VaultID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

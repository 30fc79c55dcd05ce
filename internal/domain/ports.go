package domain

import "context"

// VaultStore persists whole vault records. Update is all-or-nothing and
// guarded by Version: it fails with ErrConflict when the stored version no
// longer equals v.Version, and on success leaves v.Version incremented.
type VaultStore interface {
	GetByOwner(ctx context.Context, ownerID string) (*Vault, error)
	GetByID(ctx context.Context, vaultID string) (*Vault, error)
	Insert(ctx context.Context, v *Vault) error
	Update(ctx context.Context, v *Vault) error
	ListAll(ctx context.Context) ([]*Vault, error)
}

// BlobStore holds encrypted vault files.
type BlobStore interface {
	EnsureBucket(ctx context.Context, bucket string) error
	Put(ctx context.Context, bucket, key string, data []byte, contentType string) error
	Get(ctx context.Context, bucket, key string) ([]byte, error)
	Delete(ctx context.Context, bucket, key string) error
}

// NotificationSink delivers a notice to one nominee. Delivery is best-effort.
type NotificationSink interface {
	Notify(ctx context.Context, n NomineeNotice) error
}

package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/deadlock-vault/internal/domain"
)

// fileRecord keeps the blob location, which the public JSON form of
// domain.VaultFile omits.
type fileRecord struct {
	FileID      string    `json:"file_id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	Size        int64     `json:"size"`
	Hash        string    `json:"hash"`
	Bucket      string    `json:"bucket"`
	StorageKey  string    `json:"storage_key"`
	UploadedAt  time.Time `json:"uploaded_at"`
}

type VaultRepo struct {
	db DBTX
}

func NewVaultRepo(db DBTX) *VaultRepo {
	return &VaultRepo{db: db}
}

const selectVault = `SELECT metadata, files, version FROM vaults`

func (r *VaultRepo) Insert(ctx context.Context, v *domain.Vault) error {
	meta, files, err := encode(v)
	if err != nil {
		return err
	}
	query := `
		INSERT INTO vaults (vault_id, owner_id, status, metadata, files, last_check_in,
			next_check_in_due_at, check_in_count, version, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, 1, $9, $10)
		ON CONFLICT DO NOTHING;
	`
	res, err := r.db.ExecContext(ctx, query,
		v.VaultID, v.OwnerID, string(v.Status), meta, files,
		v.DeadMan.LastCheckInAt, v.DeadMan.NextCheckInDueAt, v.DeadMan.CheckInCount,
		v.CreatedAt, v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("vault already exists: %w", domain.ErrConflict)
	}
	v.Version = 1
	return nil
}

// Update writes v only if the stored version still equals v.Version.
func (r *VaultRepo) Update(ctx context.Context, v *domain.Vault) error {
	meta, files, err := encode(v)
	if err != nil {
		return err
	}
	query := `
		UPDATE vaults SET status = $3, metadata = $4, files = $5, last_check_in = $6,
			next_check_in_due_at = $7, check_in_count = $8, version = version + 1, updated_at = $9
		WHERE vault_id = $1 AND version = $2;
	`
	res, err := r.db.ExecContext(ctx, query,
		v.VaultID, v.Version, string(v.Status), meta, files,
		v.DeadMan.LastCheckInAt, v.DeadMan.NextCheckInDueAt, v.DeadMan.CheckInCount,
		v.UpdatedAt)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected error: %w", err)
	}
	switch n {
	case 1:
		v.Version++
		return nil
	case 0:
		return fmt.Errorf("vault %s changed concurrently: %w", v.VaultID, domain.ErrConflict)
	default:
		return fmt.Errorf("unexpected rows affected: %d", n)
	}
}

func (r *VaultRepo) GetByID(ctx context.Context, vaultID string) (*domain.Vault, error) {
	return r.getOne(ctx, selectVault+` WHERE vault_id = $1`, vaultID)
}

func (r *VaultRepo) GetByOwner(ctx context.Context, ownerID string) (*domain.Vault, error) {
	return r.getOne(ctx, selectVault+` WHERE owner_id = $1`, ownerID)
}

func (r *VaultRepo) ListAll(ctx context.Context) ([]*domain.Vault, error) {
	rows, err := r.db.QueryContext(ctx, selectVault+` ORDER BY created_at, vault_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to select vaults: %w", err)
	}
	defer rows.Close()

	var result []*domain.Vault
	for rows.Next() {
		var meta, files []byte
		var version int64
		if err := rows.Scan(&meta, &files, &version); err != nil {
			return nil, err
		}
		v, err := decode(meta, files, version)
		if err != nil {
			return nil, err
		}
		result = append(result, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func (r *VaultRepo) getOne(ctx context.Context, query string, arg string) (*domain.Vault, error) {
	var meta, files []byte
	var version int64
	err := r.db.QueryRowContext(ctx, query, arg).Scan(&meta, &files, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("vault not found: %w", domain.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to select vault: %w", err)
	}
	return decode(meta, files, version)
}

func encode(v *domain.Vault) (meta, files []byte, err error) {
	doc := v.Clone()
	records := make([]fileRecord, 0, len(doc.Files))
	for _, f := range doc.Files {
		records = append(records, fileRecord(f))
	}
	doc.Files = nil
	if meta, err = json.Marshal(doc); err != nil {
		return nil, nil, fmt.Errorf("marshal vault: %w", err)
	}
	if files, err = json.Marshal(records); err != nil {
		return nil, nil, fmt.Errorf("marshal files: %w", err)
	}
	return meta, files, nil
}

func decode(meta, files []byte, version int64) (*domain.Vault, error) {
	var v domain.Vault
	if err := json.Unmarshal(meta, &v); err != nil {
		return nil, fmt.Errorf("unmarshal vault: %w", err)
	}
	if _, err := domain.ParseVaultStatus(string(v.Status)); err != nil {
		return nil, fmt.Errorf("unmarshal vault %s: %w", v.VaultID, err)
	}
	var records []fileRecord
	if len(files) > 0 {
		if err := json.Unmarshal(files, &records); err != nil {
			return nil, fmt.Errorf("unmarshal files: %w", err)
		}
	}
	v.Files = nil
	for _, rec := range records {
		v.Files = append(v.Files, domain.VaultFile(rec))
	}
	if v.ShareCheckpoint.SubmittedByNominee == nil {
		v.ShareCheckpoint.SubmittedByNominee = map[string]domain.CheckpointEntry{}
	}
	v.Version = version
	return &v, nil
}

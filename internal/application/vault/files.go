package vault

import (
	"context"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"log/slog"
	"path"
	"strings"

	"github.com/deadlock-vault/internal/domain"
	"github.com/deadlock-vault/internal/pkg/id"
	"github.com/deadlock-vault/internal/pkg/validate"
)

const (
	defaultBucketPrefix = "deadlock-user"
	maxBucketName       = 63
	// MaxFileBytes caps a single decoded upload.
	MaxFileBytes = 10 << 20
)

// UploadFile stores an already client-encrypted payload in the owner's
// bucket and records it on the vault. Files are frozen once nominees have
// been notified.
func (s *service) UploadFile(ctx context.Context, ownerID string, in domain.UploadFileInput) (*domain.VaultFile, error) {
	if err := validate.Struct(&in); err != nil {
		return nil, err
	}
	data, err := base64.StdEncoding.DecodeString(in.Base64)
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", domain.ErrBadRequest)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("file is empty: %w", domain.ErrBadRequest)
	}
	if len(data) > MaxFileBytes {
		return nil, fmt.Errorf("file exceeds %d bytes: %w", MaxFileBytes, domain.ErrBadRequest)
	}

	v, err := s.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if v.Status.NomineesNotified() {
		return nil, fmt.Errorf("files are frozen once nominees are notified: %w", domain.ErrForbidden)
	}

	bucket, err := bucketName(s.bucketPrefix, ownerID)
	if err != nil {
		return nil, err
	}
	if err := s.blobs.EnsureBucket(ctx, bucket); err != nil {
		return nil, err
	}

	contentType := in.ContentType
	if contentType == "" {
		contentType = contentTypeFromName(in.FileName)
	}
	safeName := sanitizeFilename(in.FileName)
	sum := sha256.Sum256(data)
	f := domain.VaultFile{
		FileID:      id.New(),
		Name:        safeName,
		ContentType: contentType,
		Size:        int64(len(data)),
		Hash:        hex.EncodeToString(sum[:]),
		Bucket:      bucket,
		UploadedAt:  s.now(),
	}
	f.StorageKey = storageKey(v.VaultID, f.FileID, safeName)

	if err := s.blobs.Put(ctx, bucket, f.StorageKey, data, contentType); err != nil {
		return nil, err
	}

	_, err = s.mutator.Vault(ctx, v.VaultID, func(v *domain.Vault) (bool, error) {
		if v.Status.NomineesNotified() {
			return false, fmt.Errorf("files are frozen once nominees are notified: %w", domain.ErrForbidden)
		}
		v.Files = append(v.Files, f)
		return true, nil
	})
	if err != nil {
		if delErr := s.blobs.Delete(ctx, bucket, f.StorageKey); delErr != nil {
			slog.Error("remove orphaned blob", "vault_id", v.VaultID, "key", f.StorageKey, "err", delErr)
		}
		return nil, err
	}
	slog.Info("file uploaded", "vault_id", v.VaultID, "file_id", f.FileID, "size", f.Size)
	return &f, nil
}

func (s *service) ListFiles(ctx context.Context, ownerID string) ([]domain.VaultFile, error) {
	v, err := s.store.GetByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if v.Files == nil {
		return []domain.VaultFile{}, nil
	}
	return v.Files, nil
}

func (s *service) DownloadFile(ctx context.Context, ownerID, fileID string) (*domain.VaultFile, []byte, error) {
	v, err := s.store.GetByOwner(ctx, ownerID)
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
	return &f, data, nil
}

func (s *service) DeleteFile(ctx context.Context, ownerID, fileID string) error {
	var removed domain.VaultFile
	_, err := s.mutateOwned(ctx, ownerID, func(v *domain.Vault) (bool, error) {
		if v.Status.NomineesNotified() {
			return false, fmt.Errorf("files are frozen once nominees are notified: %w", domain.ErrForbidden)
		}
		f, i, ok := v.FileByID(fileID)
		if !ok {
			return false, fmt.Errorf("file not found: %w", domain.ErrNotFound)
		}
		removed = f
		v.Files = append(v.Files[:i], v.Files[i+1:]...)
		return true, nil
	})
	if err != nil {
		return err
	}
	if err := s.blobs.Delete(ctx, removed.Bucket, removed.StorageKey); err != nil {
		slog.Error("delete blob", "file_id", fileID, "key", removed.StorageKey, "err", err)
		return err
	}
	return nil
}

func storageKey(vaultID, fileID, safeName string) string {
	return fmt.Sprintf("vaults/%s/files/%s-%s", vaultID, fileID, safeName)
}

// bucketName derives the per-owner bucket: lowercase, [a-z0-9-] only, no
// repeated or trailing dashes, at most 63 characters.
func bucketName(prefix, ownerID string) (string, error) {
	name := cleanBucketPart(strings.ToLower(prefix) + "-" + strings.ToLower(ownerID))
	if len(name) > maxBucketName {
		name = strings.TrimRight(name[:maxBucketName], "-")
	}
	if len(name) < 3 {
		return "", fmt.Errorf("cannot derive bucket name for owner %q: %w", ownerID, domain.ErrBadRequest)
	}
	return name, nil
}

func cleanBucketPart(s string) string {
	var b strings.Builder
	dash := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			dash = false
			continue
		}
		if !dash {
			b.WriteByte('-')
			dash = true
		}
	}
	return strings.Trim(b.String(), "-")
}

func contentTypeFromName(filename string) string {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".jpg") || strings.HasSuffix(lower, ".jpeg"):
		return "image/jpeg"
	case strings.HasSuffix(lower, ".png"):
		return "image/png"
	case strings.HasSuffix(lower, ".pdf"):
		return "application/pdf"
	case strings.HasSuffix(lower, ".txt"):
		return "text/plain"
	default:
		return "application/octet-stream"
	}
}

// sanitizeFilename strips directory components and keeps only alphanumerics,
// dot, dash and underscore so names cannot escape the storage key.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	var b strings.Builder
	for _, r := range name {
		if (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') ||
			(r >= '0' && r <= '9') || r == '.' || r == '-' || r == '_' {
			b.WriteRune(r)
		} else {
			b.WriteRune('_')
		}
	}
	if result := b.String(); result != "" && result != "." && result != ".." {
		return result
	}
	return "_"
}

package main

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/deadlock-vault/internal/domain"
	"github.com/hashicorp/vault/shamir"
)

// newMasterKey returns a random base64 key for MASTER_SHARE_ENCRYPTION_KEY.
func newMasterKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// splitSecret splits secret into the vault's 3-of-3 share set. Each share is
// returned base64 encoded, ready for the store-shares request.
func splitSecret(secret []byte) ([]string, error) {
	if len(secret) == 0 {
		return nil, errors.New("secret is empty")
	}
	parts, err := shamir.Split(secret, domain.ShareThreshold, domain.ShareThreshold)
	if err != nil {
		return nil, fmt.Errorf("split: %w", err)
	}
	out := make([]string, len(parts))
	for i, p := range parts {
		out[i] = base64.StdEncoding.EncodeToString(p)
	}
	return out, nil
}

// combineShares recovers the secret from all three nominee shares.
func combineShares(shares []string) ([]byte, error) {
	if len(shares) != domain.ShareThreshold {
		return nil, fmt.Errorf("need exactly %d shares, got %d", domain.ShareThreshold, len(shares))
	}
	parts := make([][]byte, len(shares))
	for i, s := range shares {
		p, err := base64.StdEncoding.DecodeString(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("share %d is not base64: %w", i+1, err)
		}
		parts[i] = p
	}
	secret, err := shamir.Combine(parts)
	if err != nil {
		return nil, fmt.Errorf("combine: %w", err)
	}
	return secret, nil
}

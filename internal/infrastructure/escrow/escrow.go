// Package escrow seals nominee key shares under the server master key.
//
// Sealed values are "v1." followed by base64(nonce || AES-256-GCM ciphertext).
package escrow

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/deadlock-vault/internal/domain"
	"golang.org/x/crypto/hkdf"
)

const (
	keySize = 32
	prefix  = "v1."
	kdfInfo = "deadlock share escrow v1"
)

var errNoKey = errors.New("master share encryption key not configured")

// Escrow is safe for concurrent use.
type Escrow struct {
	aead cipher.AEAD
}

// New builds an escrow from the configured master key. A raw 32-byte key may
// be given as base64 or hex; anything else is stretched with HKDF-SHA256.
// An empty key yields an escrow whose every operation fails with ErrEscrow.
func New(masterKey string) (*Escrow, error) {
	masterKey = strings.TrimSpace(masterKey)
	if masterKey == "" {
		return &Escrow{}, nil
	}

	key, err := deriveKey(masterKey)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Escrow{aead: aead}, nil
}

func deriveKey(masterKey string) ([]byte, error) {
	if b, err := base64.StdEncoding.DecodeString(masterKey); err == nil && len(b) == keySize {
		return b, nil
	}
	if b, err := hex.DecodeString(masterKey); err == nil && len(b) == keySize {
		return b, nil
	}

	key := make([]byte, keySize)
	r := hkdf.New(sha256.New, []byte(masterKey), nil, []byte(kdfInfo))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, fmt.Errorf("derive escrow key: %w", err)
	}
	return key, nil
}

// Configured reports whether a master key is loaded.
func (e *Escrow) Configured() bool { return e != nil && e.aead != nil }

// Seal encrypts one plaintext share.
func (e *Escrow) Seal(share string) (string, error) {
	if !e.Configured() {
		return "", fmt.Errorf("%v: %w", errNoKey, domain.ErrEscrow)
	}

	nonce := make([]byte, e.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %v: %w", err, domain.ErrEscrow)
	}

	out := e.aead.Seal(nonce, nonce, []byte(share), nil)
	return prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Reveal decrypts a value produced by Seal. It fails closed: a wrong key, a
// tampered payload or an unknown format all return ErrEscrow.
func (e *Escrow) Reveal(sealed string) (string, error) {
	if !e.Configured() {
		return "", fmt.Errorf("%v: %w", errNoKey, domain.ErrEscrow)
	}

	body, ok := strings.CutPrefix(sealed, prefix)
	if !ok {
		return "", fmt.Errorf("unknown share envelope: %w", domain.ErrEscrow)
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", fmt.Errorf("decode share envelope: %w", domain.ErrEscrow)
	}

	ns := e.aead.NonceSize()
	if len(raw) < ns+e.aead.Overhead() {
		return "", fmt.Errorf("share envelope too short: %w", domain.ErrEscrow)
	}

	plain, err := e.aead.Open(nil, raw[:ns], raw[ns:], nil)
	if err != nil {
		return "", fmt.Errorf("share authentication failed: %w", domain.ErrEscrow)
	}
	return string(plain), nil
}

// SealSet validates and seals a complete 3-of-3 share set. Shares are
// assigned to slots in order: shares[i] belongs to nominee i+1. Nothing is
// returned unless every share sealed.
func (e *Escrow) SealSet(shares []string, now time.Time) (domain.ShareSet, error) {
	if len(shares) != domain.ShareThreshold {
		return domain.ShareSet{}, fmt.Errorf("exactly %d shares are required, got %d: %w",
			domain.ShareThreshold, len(shares), domain.ErrBadRequest)
	}

	clean := make([]string, len(shares))
	for i, s := range shares {
		s = strings.TrimSpace(s)
		if s == "" {
			return domain.ShareSet{}, fmt.Errorf("share %d is empty: %w", i+1, domain.ErrBadRequest)
		}
		clean[i] = s
	}

	set := domain.ShareSet{
		Threshold:   domain.ShareThreshold,
		TotalShares: domain.ShareThreshold,
		Fragments:   make([]domain.ShareFragment, 0, len(clean)),
	}
	for i, s := range clean {
		sealed, err := e.Seal(s)
		if err != nil {
			return domain.ShareSet{}, err
		}
		set.Fragments = append(set.Fragments, domain.ShareFragment{
			ShareID:        i + 1,
			EncryptedShare: sealed,
			StoredAt:       now,
		})
	}
	return set, nil
}

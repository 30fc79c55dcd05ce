package nominee

import (
	"crypto/subtle"
	"fmt"
	"strings"

	"github.com/deadlock-vault/internal/domain"
)

type revealer interface {
	Reveal(sealed string) (string, error)
}

// Authenticate checks a nominee's claim against the vault. Nominees have no
// standing before notification. With requireUnlocked the vault must also be
// UNLOCKED with all three checkpoints recorded; a correct share alone does
// not open files.
//
// The returned pointer aliases v.Nominees.
func Authenticate(v *domain.Vault, esc revealer, email, claimedShare string, requireUnlocked bool) (*domain.Nominee, error) {
	if !v.Status.NomineesNotified() {
		return nil, fmt.Errorf("nominee access not available yet: %w", domain.ErrForbidden)
	}

	n, ok := v.NomineeByEmail(email)
	if !ok {
		return nil, fmt.Errorf("nominee not found: %w", domain.ErrNotFound)
	}

	frag, ok := v.FragmentFor(n.ID)
	if !ok {
		return nil, fmt.Errorf("no share escrowed for nominee: %w", domain.ErrForbidden)
	}
	expected, err := esc.Reveal(frag.EncryptedShare)
	if err != nil {
		return nil, err
	}
	if !sharesEqual(expected, claimedShare) {
		return nil, fmt.Errorf("invalid share: %w", domain.ErrForbidden)
	}

	if requireUnlocked && (v.ShareCheckpoint.SubmittedCount != domain.ShareThreshold || v.Status != domain.StatusUnlocked) {
		return nil, fmt.Errorf("vault locked until all %d shares are submitted: %w", domain.ShareThreshold, domain.ErrForbidden)
	}
	return n, nil
}

func sharesEqual(expected, claimed string) bool {
	a := []byte(strings.TrimSpace(expected))
	b := []byte(strings.TrimSpace(claimed))
	return subtle.ConstantTimeCompare(a, b) == 1
}

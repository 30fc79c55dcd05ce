package domain

import "fmt"

// VaultStatus is the lifecycle state of a vault. The set is closed; see
// ParseVaultStatus.
type VaultStatus string

const (
	StatusActive           VaultStatus = "ACTIVE"
	StatusMissedCheckIn    VaultStatus = "MISSED_CHECKIN"
	StatusGracePeriod      VaultStatus = "GRACE_PERIOD"
	StatusNomineesNotified VaultStatus = "NOMINEES_NOTIFIED"
	StatusUnlocked         VaultStatus = "UNLOCKED"
)

// ParseVaultStatus rejects anything outside the five known states. The vault
// stores run every decoded record through it.
func ParseVaultStatus(s string) (VaultStatus, error) {
	switch st := VaultStatus(s); st {
	case StatusActive, StatusMissedCheckIn, StatusGracePeriod, StatusNomineesNotified, StatusUnlocked:
		return st, nil
	}
	return "", fmt.Errorf("unknown vault status %q", s)
}

// NomineesNotified reports whether nominees have standing, i.e. the vault is
// NOMINEES_NOTIFIED or UNLOCKED. The inactivity clock is frozen from here on.
func (s VaultStatus) NomineesNotified() bool {
	return s == StatusNomineesNotified || s == StatusUnlocked
}

// Terminal reports whether no further transition is possible.
func (s VaultStatus) Terminal() bool { return s == StatusUnlocked }

// NomineeStatus tracks whether a nominee has checkpointed a correct share.
type NomineeStatus string

const (
	NomineePending  NomineeStatus = "pending"
	NomineeApproved NomineeStatus = "approved"
)

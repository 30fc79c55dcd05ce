package domain

import (
	"fmt"
	"strings"
	"time"
)

const (
	// RequiredNominees is fixed: every vault has exactly three nominee slots.
	RequiredNominees = 3
	// ShareThreshold is both the threshold and the total share count (3-of-3).
	ShareThreshold = 3

	DefaultIntervalDays      = 14
	DefaultGracePeriodDays   = 30
	DefaultMaxMissedCheckIns = 2

	// MaxPolicyDays caps interval and grace so deadlines stay inside
	// time.Duration.
	MaxPolicyDays = 36500
)

const day = 24 * time.Hour

type CheckInPolicy struct {
	IntervalDays      int `json:"interval_days" dynamodbav:"interval_days"`
	GracePeriodDays   int `json:"grace_period_days" dynamodbav:"grace_period_days"`
	MaxMissedCheckIns int `json:"max_missed_check_ins" dynamodbav:"max_missed_check_ins"`
}

func DefaultCheckInPolicy() CheckInPolicy {
	return CheckInPolicy{
		IntervalDays:      DefaultIntervalDays,
		GracePeriodDays:   DefaultGracePeriodDays,
		MaxMissedCheckIns: DefaultMaxMissedCheckIns,
	}
}

func (p CheckInPolicy) Interval() time.Duration    { return time.Duration(p.IntervalDays) * day }
func (p CheckInPolicy) GracePeriod() time.Duration { return time.Duration(p.GracePeriodDays) * day }

func (p CheckInPolicy) Validate() error {
	switch {
	case p.IntervalDays < 1:
		return fmt.Errorf("check-in interval must be a positive integer: %w", ErrBadRequest)
	case p.GracePeriodDays < 1:
		return fmt.Errorf("grace period must be a positive integer: %w", ErrBadRequest)
	case p.MaxMissedCheckIns < 1:
		return fmt.Errorf("max missed check-ins must be a positive integer: %w", ErrBadRequest)
	case p.IntervalDays > MaxPolicyDays:
		return fmt.Errorf("check-in interval must be at most %d days: %w", MaxPolicyDays, ErrBadRequest)
	case p.GracePeriodDays > MaxPolicyDays:
		return fmt.Errorf("grace period must be at most %d days: %w", MaxPolicyDays, ErrBadRequest)
	}
	return nil
}

// DeadMan holds the inactivity clock.
type DeadMan struct {
	MissedCount        int        `json:"missed_count" dynamodbav:"missed_count"`
	CheckInCount       int        `json:"check_in_count" dynamodbav:"check_in_count"`
	LastCheckInAt      time.Time  `json:"last_check_in_at" dynamodbav:"last_check_in_at"`
	NextCheckInDueAt   time.Time  `json:"next_check_in_due_at" dynamodbav:"next_check_in_due_at"`
	GraceStartedAt     *time.Time `json:"grace_started_at,omitempty" dynamodbav:"grace_started_at,omitempty"`
	GraceEndsAt        *time.Time `json:"grace_ends_at,omitempty" dynamodbav:"grace_ends_at,omitempty"`
	NomineesNotifiedAt *time.Time `json:"nominees_notified_at,omitempty" dynamodbav:"nominees_notified_at,omitempty"`
}

// Nominee occupies one of the three fixed slots. ID is the 1-based slot
// index and equals the ShareID of the fragment assigned to it.
type Nominee struct {
	ID               int           `json:"id" dynamodbav:"id"`
	Email            string        `json:"email" dynamodbav:"email"`
	Status           NomineeStatus `json:"status" dynamodbav:"status"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty" dynamodbav:"approved_at,omitempty"`
	NotifiedAt       *time.Time    `json:"notified_at,omitempty" dynamodbav:"notified_at,omitempty"`
	ShareSubmittedAt *time.Time    `json:"share_submitted_at,omitempty" dynamodbav:"share_submitted_at,omitempty"`
}

// ShareFragment is an escrowed share. EncryptedShare is ciphertext produced
// by the share escrow, never plaintext.
type ShareFragment struct {
	ShareID        int       `json:"share_id" dynamodbav:"share_id"`
	EncryptedShare string    `json:"encrypted_share" dynamodbav:"encrypted_share"`
	StoredAt       time.Time `json:"stored_at" dynamodbav:"stored_at"`
}

type ShareSet struct {
	Threshold   int             `json:"threshold" dynamodbav:"threshold"`
	TotalShares int             `json:"total_shares" dynamodbav:"total_shares"`
	Fragments   []ShareFragment `json:"fragments" dynamodbav:"fragments"`
}

type CheckpointEntry struct {
	SubmittedAt time.Time `json:"submitted_at" dynamodbav:"submitted_at"`
	ShareID     int       `json:"share_id" dynamodbav:"share_id"`
}

// ShareCheckpoint is keyed by normalized nominee email.
// SubmittedCount always equals len(SubmittedByNominee).
type ShareCheckpoint struct {
	SubmittedByNominee map[string]CheckpointEntry `json:"submitted_by_nominee" dynamodbav:"submitted_by_nominee"`
	SubmittedCount     int                        `json:"submitted_count" dynamodbav:"submitted_count"`
	CompletedAt        *time.Time                 `json:"completed_at,omitempty" dynamodbav:"completed_at,omitempty"`
}

func NewShareCheckpoint() ShareCheckpoint {
	return ShareCheckpoint{SubmittedByNominee: map[string]CheckpointEntry{}}
}

type UnlockRequest struct {
	RequestedAt       time.Time  `json:"requested_at" dynamodbav:"requested_at"`
	Reason            string     `json:"reason" dynamodbav:"reason"`
	ApprovalsRequired int        `json:"approvals_required" dynamodbav:"approvals_required"`
	ApprovedCount     int        `json:"approved_count" dynamodbav:"approved_count"`
	CompletedAt       *time.Time `json:"completed_at,omitempty" dynamodbav:"completed_at,omitempty"`
}

// Vault is the root aggregate, one per owner. Version is the optimistic
// concurrency token maintained by the vault stores.
type Vault struct {
	VaultID         string          `json:"vault_id" dynamodbav:"vault_id"`
	OwnerID         string          `json:"owner_id" dynamodbav:"owner_id"`
	VaultName       string          `json:"vault_name" dynamodbav:"vault_name"`
	TriggerTime     *time.Time      `json:"trigger_time,omitempty" dynamodbav:"trigger_time,omitempty"`
	Status          VaultStatus     `json:"status" dynamodbav:"status"`
	CheckInPolicy   CheckInPolicy   `json:"check_in_policy" dynamodbav:"check_in_policy"`
	DeadMan         DeadMan         `json:"dead_man" dynamodbav:"dead_man"`
	Nominees        []Nominee       `json:"nominees" dynamodbav:"nominees"`
	Shares          ShareSet        `json:"shares" dynamodbav:"shares"`
	ShareCheckpoint ShareCheckpoint `json:"share_checkpoint" dynamodbav:"share_checkpoint"`
	UnlockRequest   *UnlockRequest  `json:"unlock_request,omitempty" dynamodbav:"unlock_request,omitempty"`
	Files           []VaultFile     `json:"files" dynamodbav:"files"`
	Version         int64           `json:"version" dynamodbav:"version"`
	CreatedAt       time.Time       `json:"created_at" dynamodbav:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at" dynamodbav:"updated_at"`
}

// NormalizeEmail is the canonical form used for nominee matching.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// NomineeByEmail returns a pointer into v.Nominees for the slot matching the
// normalized email.
func (v *Vault) NomineeByEmail(email string) (*Nominee, bool) {
	want := NormalizeEmail(email)
	for i := range v.Nominees {
		if NormalizeEmail(v.Nominees[i].Email) == want {
			return &v.Nominees[i], true
		}
	}
	return nil, false
}

func (v *Vault) FragmentFor(shareID int) (ShareFragment, bool) {
	for _, f := range v.Shares.Fragments {
		if f.ShareID == shareID {
			return f, true
		}
	}
	return ShareFragment{}, false
}

// SharesComplete reports whether the full 3-of-3 escrow set is present.
func (v *Vault) SharesComplete() bool {
	return len(v.Shares.Fragments) == ShareThreshold
}

func (v *Vault) FileByID(fileID string) (VaultFile, int, bool) {
	for i, f := range v.Files {
		if f.FileID == fileID {
			return f, i, true
		}
	}
	return VaultFile{}, -1, false
}

// Clone returns a deep copy so callers can mutate speculatively.
func (v *Vault) Clone() *Vault {
	c := *v
	c.TriggerTime = cloneTime(v.TriggerTime)
	c.DeadMan.GraceStartedAt = cloneTime(v.DeadMan.GraceStartedAt)
	c.DeadMan.GraceEndsAt = cloneTime(v.DeadMan.GraceEndsAt)
	c.DeadMan.NomineesNotifiedAt = cloneTime(v.DeadMan.NomineesNotifiedAt)
	if v.Nominees != nil {
		c.Nominees = make([]Nominee, len(v.Nominees))
		for i, n := range v.Nominees {
			n.ApprovedAt = cloneTime(n.ApprovedAt)
			n.NotifiedAt = cloneTime(n.NotifiedAt)
			n.ShareSubmittedAt = cloneTime(n.ShareSubmittedAt)
			c.Nominees[i] = n
		}
	}
	if v.Shares.Fragments != nil {
		c.Shares.Fragments = append([]ShareFragment(nil), v.Shares.Fragments...)
	}
	c.ShareCheckpoint.CompletedAt = cloneTime(v.ShareCheckpoint.CompletedAt)
	if v.ShareCheckpoint.SubmittedByNominee != nil {
		c.ShareCheckpoint.SubmittedByNominee = make(map[string]CheckpointEntry, len(v.ShareCheckpoint.SubmittedByNominee))
		for k, e := range v.ShareCheckpoint.SubmittedByNominee {
			c.ShareCheckpoint.SubmittedByNominee[k] = e
		}
	}
	if v.UnlockRequest != nil {
		ur := *v.UnlockRequest
		ur.CompletedAt = cloneTime(v.UnlockRequest.CompletedAt)
		c.UnlockRequest = &ur
	}
	if v.Files != nil {
		c.Files = append([]VaultFile(nil), v.Files...)
	}
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	tt := *t
	return &tt
}

// VaultInput is the create-or-update payload. Nil policy fields fall back to
// the stored policy, or to the defaults on creation.
type VaultInput struct {
	VaultName           string     `json:"vault_name" validate:"required,max=120"`
	Nominees            []string   `json:"nominees" validate:"required,len=3,dive,required,email"`
	Threshold           *int       `json:"threshold"`
	TriggerTime         *time.Time `json:"trigger_time"`
	CheckInIntervalDays *int       `json:"check_in_interval_days"`
	GracePeriodDays     *int       `json:"grace_period_days"`
	MaxMissedCheckIns   *int       `json:"max_missed_check_ins"`
}

type StoreSharesInput struct {
	Shares      []string `json:"shares" validate:"required,len=3,dive,required,max=8192"`
	Threshold   int      `json:"threshold"`
	TotalShares int      `json:"total_shares"`
}

type UnlockRequestInput struct {
	Reason string `json:"reason" validate:"max=500"`
}

type SubmitShareInput struct {
	Nominee string `json:"nominee" validate:"required,email"`
	Share   string `json:"share" validate:"required"`
}

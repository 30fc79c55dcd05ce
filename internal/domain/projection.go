package domain

import (
	"strings"
	"time"
	"unicode/utf8"
)

// FragmentSummary is the public view of an escrowed fragment; ciphertext
// never leaves the service.
type FragmentSummary struct {
	ShareID  int       `json:"share_id"`
	StoredAt time.Time `json:"stored_at"`
}

type VaultSummary struct {
	VaultID        string            `json:"vault_id"`
	OwnerID        string            `json:"owner_id"`
	VaultName      string            `json:"vault_name"`
	TriggerTime    *time.Time        `json:"trigger_time,omitempty"`
	Status         VaultStatus       `json:"status"`
	CheckInPolicy  CheckInPolicy     `json:"check_in_policy"`
	DeadMan        DeadMan           `json:"dead_man"`
	Nominees       []Nominee         `json:"nominees"`
	Threshold      int               `json:"threshold"`
	TotalShares    int               `json:"total_shares"`
	Fragments      []FragmentSummary `json:"fragments"`
	SubmittedCount int               `json:"submitted_count"`
	UnlockRequest  *UnlockRequest    `json:"unlock_request,omitempty"`
	Files          []VaultFile       `json:"files"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

func (v *Vault) Summary() *VaultSummary {
	c := v.Clone()
	frags := make([]FragmentSummary, 0, len(c.Shares.Fragments))
	for _, f := range c.Shares.Fragments {
		frags = append(frags, FragmentSummary{ShareID: f.ShareID, StoredAt: f.StoredAt})
	}
	files := c.Files
	if files == nil {
		files = []VaultFile{}
	}
	return &VaultSummary{
		VaultID:        c.VaultID,
		OwnerID:        c.OwnerID,
		VaultName:      c.VaultName,
		TriggerTime:    c.TriggerTime,
		Status:         c.Status,
		CheckInPolicy:  c.CheckInPolicy,
		DeadMan:        c.DeadMan,
		Nominees:       c.Nominees,
		Threshold:      c.Shares.Threshold,
		TotalShares:    c.Shares.TotalShares,
		Fragments:      frags,
		SubmittedCount: c.ShareCheckpoint.SubmittedCount,
		UnlockRequest:  c.UnlockRequest,
		Files:          files,
		CreatedAt:      c.CreatedAt,
		UpdatedAt:      c.UpdatedAt,
	}
}

// CheckpointResult is returned by share submission and the checkpoint lookup.
type CheckpointResult struct {
	VaultID        string      `json:"vault_id"`
	SubmittedCount int         `json:"submitted_count"`
	Required       int         `json:"required"`
	CanAccess      bool        `json:"can_access"`
	Status         VaultStatus `json:"status"`
	CompletedAt    *time.Time  `json:"completed_at,omitempty"`
}

func (v *Vault) Checkpoint() *CheckpointResult {
	return &CheckpointResult{
		VaultID:        v.VaultID,
		SubmittedCount: v.ShareCheckpoint.SubmittedCount,
		Required:       ShareThreshold,
		CanAccess:      v.ShareCheckpoint.SubmittedCount == ShareThreshold && v.Status == StatusUnlocked,
		Status:         v.Status,
		CompletedAt:    cloneTime(v.ShareCheckpoint.CompletedAt),
	}
}

type NomineeApproval struct {
	ID               int           `json:"id"`
	Email            string        `json:"email"`
	Status           NomineeStatus `json:"status"`
	ApprovedAt       *time.Time    `json:"approved_at,omitempty"`
	NotifiedAt       *time.Time    `json:"notified_at,omitempty"`
	ShareSubmittedAt *time.Time    `json:"share_submitted_at,omitempty"`
}

// Approvals is served without authentication, so nominee emails are masked.
type Approvals struct {
	VaultID       string            `json:"vault_id"`
	Status        VaultStatus       `json:"status"`
	Nominees      []NomineeApproval `json:"nominees"`
	UnlockRequest *UnlockRequest    `json:"unlock_request,omitempty"`
}

func (v *Vault) Approvals() *Approvals {
	c := v.Clone()
	out := &Approvals{VaultID: c.VaultID, Status: c.Status, UnlockRequest: c.UnlockRequest}
	for _, n := range c.Nominees {
		out.Nominees = append(out.Nominees, NomineeApproval{
			ID:               n.ID,
			Email:            MaskEmail(n.Email),
			Status:           n.Status,
			ApprovedAt:       n.ApprovedAt,
			NotifiedAt:       n.NotifiedAt,
			ShareSubmittedAt: n.ShareSubmittedAt,
		})
	}
	return out
}

// Dashboard is the owner's at-a-glance view.
type Dashboard struct {
	VaultID         string        `json:"vault_id"`
	VaultName       string        `json:"vault_name"`
	Status          VaultStatus   `json:"status"`
	CheckInPolicy   CheckInPolicy `json:"check_in_policy"`
	DeadMan         DeadMan       `json:"dead_man"`
	DaysUntilDue    int           `json:"days_until_due"`
	SharesEscrowed  int           `json:"shares_escrowed"`
	SubmittedCount  int           `json:"submitted_count"`
	FileCount       int           `json:"file_count"`
	UnlockRequested bool          `json:"unlock_requested"`
}

func (v *Vault) Dashboard(now time.Time) *Dashboard {
	c := v.Clone()
	until := c.DeadMan.NextCheckInDueAt.Sub(now)
	daysUntil := int(until / day)
	if until > 0 && until%day != 0 {
		daysUntil++
	}
	return &Dashboard{
		VaultID:         c.VaultID,
		VaultName:       c.VaultName,
		Status:          c.Status,
		CheckInPolicy:   c.CheckInPolicy,
		DeadMan:         c.DeadMan,
		DaysUntilDue:    daysUntil,
		SharesEscrowed:  len(c.Shares.Fragments),
		SubmittedCount:  c.ShareCheckpoint.SubmittedCount,
		FileCount:       len(c.Files),
		UnlockRequested: c.UnlockRequest != nil,
	}
}

// MaskEmail keeps the first character of the local part and the domain.
func MaskEmail(email string) string {
	local, host, ok := strings.Cut(email, "@")
	if !ok || local == "" {
		return "***"
	}
	_, size := utf8.DecodeRuneInString(local)
	return local[:size] + "***@" + host
}

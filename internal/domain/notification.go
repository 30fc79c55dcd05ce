package domain

// Unlock reasons recorded by the lifecycle. An owner's explicit request may
// carry free text instead of ReasonOwnerRequest.
const (
	ReasonTriggerTime   = "trigger time reached"
	ReasonGraceElapsed  = "grace period elapsed"
	ReasonOwnerRequest  = "owner requested unlock"
	ReasonThresholdOnly = "share threshold reached"
)

// NomineeNotice is the message handed to the notification sink when a
// nominee is told that a vault needs their share.
type NomineeNotice struct {
	VaultID       string `json:"vault_id"`
	VaultName     string `json:"vault_name"`
	NomineeID     int    `json:"nominee_id"`
	NomineeEmail  string `json:"nominee_email"`
	OwnerID       string `json:"owner_id"`
	RevealedShare string `json:"share,omitempty"`
	Reason        string `json:"reason,omitempty"`
}

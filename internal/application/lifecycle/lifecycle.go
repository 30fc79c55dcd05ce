// Package lifecycle is the vault state machine. Every function mutates the
// vault in memory only; callers persist the result.
//
//	ACTIVE/MISSED_CHECKIN --tick, now >= trigger_time--> NOMINEES_NOTIFIED
//	ACTIVE/MISSED_CHECKIN --tick, now > next_due-------> MISSED_CHECKIN (missed++)
//	MISSED_CHECKIN        --same tick, missed >= max---> GRACE_PERIOD
//	GRACE_PERIOD          --tick, now >= grace_ends----> NOMINEES_NOTIFIED
//	any non-terminal      --owner unlock request-------> NOMINEES_NOTIFIED
//	NOMINEES_NOTIFIED     --checkpoint 3/3-------------> UNLOCKED
//	not yet notified      --check-in-------------------> ACTIVE
package lifecycle

import (
	"fmt"
	"time"

	"github.com/deadlock-vault/internal/domain"
)

const (
	ReasonTriggerTime   = domain.ReasonTriggerTime
	ReasonGraceElapsed  = domain.ReasonGraceElapsed
	ReasonOwnerRequest  = domain.ReasonOwnerRequest
	ReasonThresholdOnly = domain.ReasonThresholdOnly
)

// Transition describes what a single call did to the vault.
type Transition struct {
	From domain.VaultStatus
	To   domain.VaultStatus
	// Changed is true when any persisted field moved, including a missed
	// check-in that leaves the status at MISSED_CHECKIN.
	Changed bool
	// NomineesNotified is true only for the call that entered NOMINEES_NOTIFIED.
	NomineesNotified bool
}

// Start initialises the inactivity clock of a freshly created vault.
func Start(v *domain.Vault, now time.Time) {
	v.Status = domain.StatusActive
	resetClock(v, now)
}

// Evaluate applies one evaluation tick. The trigger time is checked before
// the recurring deadline. A tick escalates at most one check-in period, but a
// missed check-in that reaches the limit enters the grace period in the same
// call.
func Evaluate(v *domain.Vault, now time.Time) Transition {
	t := Transition{From: v.Status, To: v.Status}
	if v.Status.NomineesNotified() {
		return t
	}

	if v.TriggerTime != nil && !now.Before(*v.TriggerTime) {
		notifyNominees(v, now, ReasonTriggerTime)
		return finish(t, v, true)
	}

	switch v.Status {
	case domain.StatusActive, domain.StatusMissedCheckIn:
		if !now.After(v.DeadMan.NextCheckInDueAt) {
			return t
		}
		v.DeadMan.MissedCount++
		v.DeadMan.NextCheckInDueAt = v.DeadMan.NextCheckInDueAt.Add(v.CheckInPolicy.Interval())
		v.Status = domain.StatusMissedCheckIn
		if v.DeadMan.MissedCount >= v.CheckInPolicy.MaxMissedCheckIns {
			started := now
			ends := now.Add(v.CheckInPolicy.GracePeriod())
			v.DeadMan.GraceStartedAt = &started
			v.DeadMan.GraceEndsAt = &ends
			v.Status = domain.StatusGracePeriod
		}
		return finish(t, v, true)
	case domain.StatusGracePeriod:
		if v.DeadMan.GraceEndsAt == nil || now.Before(*v.DeadMan.GraceEndsAt) {
			return t
		}
		notifyNominees(v, now, ReasonGraceElapsed)
		return finish(t, v, true)
	}
	return t
}

// CheckIn resets the clock. It is refused once nominees have been notified.
func CheckIn(v *domain.Vault, now time.Time) (Transition, error) {
	t := Transition{From: v.Status}
	if v.Status.NomineesNotified() {
		return t, fmt.Errorf("check-in rejected, vault is %s: %w", v.Status, domain.ErrForbidden)
	}
	v.Status = domain.StatusActive
	resetClock(v, now)
	v.DeadMan.CheckInCount++
	v.UnlockRequest = nil
	v.ShareCheckpoint = domain.NewShareCheckpoint()
	for i := range v.Nominees {
		n := &v.Nominees[i]
		n.Status = domain.NomineePending
		n.ApprovedAt = nil
		n.ShareSubmittedAt = nil
		n.NotifiedAt = nil
	}
	return finish(t, v, true), nil
}

// RequestUnlock is the owner's explicit unlock. On a vault that is already
// NOMINEES_NOTIFIED only the reason is refreshed.
func RequestUnlock(v *domain.Vault, now time.Time, reason string) (Transition, error) {
	t := Transition{From: v.Status, To: v.Status}
	if reason == "" {
		reason = ReasonOwnerRequest
	}
	if v.Status.Terminal() {
		return t, fmt.Errorf("vault already unlocked: %w", domain.ErrConflict)
	}
	if v.Status == domain.StatusNomineesNotified {
		if v.UnlockRequest == nil {
			v.UnlockRequest = newUnlockRequest(v, now, reason)
		} else {
			v.UnlockRequest.Reason = reason
		}
		t.Changed = true
		return t, nil
	}
	v.UnlockRequest = newUnlockRequest(v, now, reason)
	notifyNominees(v, now, reason)
	return finish(t, v, true), nil
}

// ApplyPolicy swaps the check-in policy and reschedules the next deadline
// from the last check-in.
func ApplyPolicy(v *domain.Vault, p domain.CheckInPolicy) {
	v.CheckInPolicy = p
	v.DeadMan.NextCheckInDueAt = v.DeadMan.LastCheckInAt.Add(p.Interval())
}

// Unlock performs the one-way move to UNLOCKED once all three nominees have
// checkpointed. It finalizes the unlock request, creating one if the
// threshold was reached without an explicit request.
func Unlock(v *domain.Vault, now time.Time) Transition {
	t := Transition{From: v.Status, To: v.Status}
	if v.Status.Terminal() || v.ShareCheckpoint.SubmittedCount < domain.ShareThreshold {
		return t
	}
	completed := now
	v.Status = domain.StatusUnlocked
	v.ShareCheckpoint.CompletedAt = &completed
	if v.UnlockRequest == nil {
		v.UnlockRequest = newUnlockRequest(v, now, ReasonThresholdOnly)
	}
	v.UnlockRequest.ApprovedCount = v.ShareCheckpoint.SubmittedCount
	v.UnlockRequest.CompletedAt = &completed
	return finish(t, v, true)
}

func notifyNominees(v *domain.Vault, now time.Time, reason string) {
	notified := now
	v.Status = domain.StatusNomineesNotified
	v.DeadMan.NomineesNotifiedAt = &notified
	if v.UnlockRequest == nil {
		v.UnlockRequest = newUnlockRequest(v, now, reason)
	}
}

func newUnlockRequest(v *domain.Vault, now time.Time, reason string) *domain.UnlockRequest {
	return &domain.UnlockRequest{
		RequestedAt:       now,
		Reason:            reason,
		ApprovalsRequired: domain.ShareThreshold,
		ApprovedCount:     v.ShareCheckpoint.SubmittedCount,
	}
}

func resetClock(v *domain.Vault, now time.Time) {
	v.DeadMan.MissedCount = 0
	v.DeadMan.LastCheckInAt = now
	v.DeadMan.NextCheckInDueAt = now.Add(v.CheckInPolicy.Interval())
	v.DeadMan.GraceStartedAt = nil
	v.DeadMan.GraceEndsAt = nil
	v.DeadMan.NomineesNotifiedAt = nil
}

func finish(t Transition, v *domain.Vault, changed bool) Transition {
	t.To = v.Status
	t.Changed = changed
	t.NomineesNotified = t.From != domain.StatusNomineesNotified && v.Status == domain.StatusNomineesNotified
	return t
}

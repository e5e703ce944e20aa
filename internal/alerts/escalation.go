package alerts

import (
	"time"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

// Escalation stepping is an explicit state record driven by an external
// clock, not a chain of timers: the cursor and timestamps live in
// db.AlertState, and Advance is called on a fixed interval with the
// current time.

// StepFire names one escalation step that is due now.
type StepFire struct {
	Index int
	Step  db.EscalationStep
}

// ackTimeout resolves the acknowledgement deadline for a severity, falling
// back to the policy-wide timeout.
func ackTimeout(policy *db.EscalationPolicy, severity string) time.Duration {
	if mins, ok := policy.SeverityAckTimeout[severity]; ok && mins > 0 {
		return time.Duration(mins) * time.Minute
	}
	return time.Duration(policy.AckTimeoutMinutes) * time.Minute
}

// StartEscalation initializes the FSM fields on a fresh trigger.
func StartEscalation(state *db.AlertState, policy *db.EscalationPolicy, severity string, now time.Time) {
	state.EscalationCursor = 0
	state.EscalationStartedAt = &now
	state.LastStepFiredAt = nil
	state.Acknowledged = false
	deadline := now.Add(ackTimeout(policy, severity))
	state.AckDeadline = &deadline
}

// AdvanceEscalation returns the steps due at now and moves the cursor past
// them. Steps marked skip-if-acknowledged are passed over once the alert
// is acknowledged; steps marked notify-on-ack-timeout additionally fire
// the moment the ack deadline expires, even if their delay has not.
func AdvanceEscalation(state *db.AlertState, policy *db.EscalationPolicy, now time.Time) []StepFire {
	if state.EscalationStartedAt == nil {
		return nil
	}

	ackExpired := state.AckDeadline != nil && now.After(*state.AckDeadline) && !state.Acknowledged

	var fires []StepFire
	for state.EscalationCursor < len(policy.Steps) {
		i := state.EscalationCursor
		step := policy.Steps[i]

		if state.Acknowledged && step.SkipIfAcknowledged {
			state.EscalationCursor++
			continue
		}

		base := *state.EscalationStartedAt
		if state.LastStepFiredAt != nil {
			base = *state.LastStepFiredAt
		}
		due := base.Add(time.Duration(step.DelayMinutes) * time.Minute)

		if now.Before(due) && !(ackExpired && step.NotifyOnAckTimeout) {
			break
		}

		fires = append(fires, StepFire{Index: i, Step: step})
		fired := now
		state.LastStepFiredAt = &fired
		state.EscalationCursor++
	}

	if state.EscalationCursor >= len(policy.Steps) {
		// Escalation exhausted; stop advancing this state.
		state.EscalationStartedAt = nil
	}
	return fires
}

// StopEscalation clears the FSM, used on recovery.
func StopEscalation(state *db.AlertState) {
	state.EscalationStartedAt = nil
	state.LastStepFiredAt = nil
	state.AckDeadline = nil
	state.EscalationCursor = 0
}

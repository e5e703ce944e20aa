package alerts

import (
	"time"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

// CurrentParticipant computes who is on call at the given instant. An
// active date-ranged override wins over the computed rotation slot.
func CurrentParticipant(rotation *db.OncallRotation, overrides []*db.OncallOverride, now time.Time) string {
	for _, o := range overrides {
		if !now.Before(o.StartsAt) && now.Before(o.EndsAt) {
			return o.Participant
		}
	}

	if len(rotation.Participants) == 0 || rotation.ShiftDurationMinutes <= 0 {
		return ""
	}

	shift := time.Duration(rotation.ShiftDurationMinutes) * time.Minute
	elapsed := now.Sub(rotation.RotationStart)
	if elapsed < 0 {
		return rotation.Participants[0]
	}
	idx := int(elapsed/shift) % len(rotation.Participants)
	return rotation.Participants[idx]
}

// NextHandoff returns the next shift boundary and the participant taking
// over at it.
func NextHandoff(rotation *db.OncallRotation, now time.Time) (time.Time, string) {
	if len(rotation.Participants) == 0 || rotation.ShiftDurationMinutes <= 0 {
		return time.Time{}, ""
	}

	shift := time.Duration(rotation.ShiftDurationMinutes) * time.Minute
	elapsed := now.Sub(rotation.RotationStart)
	shiftsDone := int64(0)
	if elapsed > 0 {
		shiftsDone = int64(elapsed/shift) + 1
	}
	boundary := rotation.RotationStart.Add(time.Duration(shiftsDone) * shift)
	next := rotation.Participants[int(shiftsDone)%len(rotation.Participants)]
	return boundary, next
}

// HandoffDue reports whether the handoff notification window is open:
// within HandoffNotificationMinutes before the next shift boundary.
func HandoffDue(rotation *db.OncallRotation, now time.Time) (bool, string) {
	if rotation.HandoffNotificationMinutes <= 0 {
		return false, ""
	}
	boundary, next := NextHandoff(rotation, now)
	if next == "" {
		return false, ""
	}
	lead := time.Duration(rotation.HandoffNotificationMinutes) * time.Minute
	return now.After(boundary.Add(-lead)) && now.Before(boundary), next
}

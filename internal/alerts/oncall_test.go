package alerts

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/pulsegrid/pulsegrid/internal/db"
)

func testRotation(participants []string, shiftMins int, start time.Time) *db.OncallRotation {
	return &db.OncallRotation{
		ID:                   "rot-1",
		Participants:         db.StringSlice(participants),
		RotationStart:        start,
		ShiftDurationMinutes: shiftMins,
	}
}

func TestCurrentParticipantRotates(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rot := testRotation([]string{"alice", "bob", "carol"}, 8*60, start)

	tests := []struct {
		name string
		at   time.Time
		want string
	}{
		{"first shift", start.Add(time.Hour), "alice"},
		{"second shift", start.Add(9 * time.Hour), "bob"},
		{"third shift", start.Add(17 * time.Hour), "carol"},
		{"wraps around", start.Add(25 * time.Hour), "alice"},
		{"shift boundary belongs to the new shift", start.Add(8 * time.Hour), "bob"},
		{"before rotation start", start.Add(-time.Hour), "alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CurrentParticipant(rot, nil, tt.at))
		})
	}
}

func TestOverrideWinsDuringItsWindow(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rot := testRotation([]string{"alice", "bob"}, 12*60, start)
	overrides := []*db.OncallOverride{
		{
			RotationID:  rot.ID,
			Participant: "dave",
			StartsAt:    start.Add(2 * time.Hour),
			EndsAt:      start.Add(4 * time.Hour),
		},
	}

	assert.Equal(t, "alice", CurrentParticipant(rot, overrides, start.Add(time.Hour)))
	assert.Equal(t, "dave", CurrentParticipant(rot, overrides, start.Add(3*time.Hour)))
	// Override end is exclusive.
	assert.Equal(t, "alice", CurrentParticipant(rot, overrides, start.Add(4*time.Hour)))
}

func TestCurrentParticipantEmptyRotation(t *testing.T) {
	start := time.Now()
	assert.Empty(t, CurrentParticipant(testRotation(nil, 60, start), nil, start))
	assert.Empty(t, CurrentParticipant(testRotation([]string{"alice"}, 0, start), nil, start))
}

func TestNextHandoff(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rot := testRotation([]string{"alice", "bob"}, 60, start)

	boundary, next := NextHandoff(rot, start.Add(30*time.Minute))
	assert.Equal(t, start.Add(time.Hour), boundary)
	assert.Equal(t, "bob", next)

	boundary, next = NextHandoff(rot, start.Add(90*time.Minute))
	assert.Equal(t, start.Add(2*time.Hour), boundary)
	assert.Equal(t, "alice", next)
}

func TestHandoffDue(t *testing.T) {
	start := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	rot := testRotation([]string{"alice", "bob"}, 60, start)
	rot.HandoffNotificationMinutes = 10

	due, next := HandoffDue(rot, start.Add(45*time.Minute))
	assert.False(t, due)

	due, next = HandoffDue(rot, start.Add(55*time.Minute))
	assert.True(t, due)
	assert.Equal(t, "bob", next)

	rot.HandoffNotificationMinutes = 0
	due, _ = HandoffDue(rot, start.Add(55*time.Minute))
	assert.False(t, due)
}

package queue

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/your-org/attendance/internal/models"
)

func TestEventSubject(t *testing.T) {
	tests := map[string]string{
		"lobby":        "attendance.lobby",
		"front door":   "attendance.front_door",
		"dock.2":       "attendance.dock_2",
		"cam-01_north": "attendance.cam-01_north",
		"":             "attendance._",
		"gate>*":       "attendance.gate__",
	}
	for camera, want := range tests {
		assert.Equal(t, want, EventSubject(camera), camera)
	}
}

func TestEventID(t *testing.T) {
	id := uuid.MustParse("5b1c7d2e-1111-4222-8333-944445555666")
	at := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	ev := models.AttendanceEvent{IdentityID: id, Date: "2026-03-02", Kind: models.EventCheckedIn, At: at, Camera: "lobby"}

	assert.Equal(t, "5b1c7d2e-1111-4222-8333-944445555666:2026-03-02:checked_in:"+"1772442000000000000", EventID(ev))

	other := ev
	other.Camera = "dock"
	assert.Equal(t, EventID(ev), EventID(other))

	later := ev
	later.Kind = models.EventAlreadyCheckedIn
	later.At = at.Add(10 * time.Second)
	assert.NotEqual(t, EventID(ev), EventID(later))
}

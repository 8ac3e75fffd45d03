package attendance

import (
	"bytes"
	"encoding/csv"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/models"
)

func row(name, code string, date time.Time, in, out *time.Time) models.AttendanceRow {
	return models.AttendanceRow{
		AttendanceRecord: models.AttendanceRecord{
			ID: uuid.New(), IdentityID: uuid.New(), Date: date, CheckIn: in, CheckOut: out,
		},
		Name: name,
		Code: code,
	}
}

func ptr(t time.Time) *time.Time { return &t }

func TestWriteCSV(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	rows := []models.AttendanceRow{
		row("Alice", "E-001", day, ptr(day.Add(9*time.Hour)), ptr(day.Add(17*time.Hour+30*time.Minute+5*time.Second))),
		row("Bob", "E-002", day, ptr(day.Add(13*time.Hour+15*time.Minute)), nil),
		row("Carol", "E-003", day, nil, nil),
	}

	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, rows, time.UTC))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)

	assert.Equal(t, reportHeader, records[0])
	assert.Equal(t, []string{"Alice", "E-001", "2026-03-02", "09:00:00 AM", "05:30:05 PM", "8 hours, 30 minutes, 5 seconds"}, records[1])
	assert.Equal(t, []string{"Bob", "E-002", "2026-03-02", "01:15:00 PM", "Not Checked Out", "Not Checked Out"}, records[2])
	assert.Equal(t, []string{"Carol", "E-003", "2026-03-02", "Not Checked In", "Not Checked Out", "Not Checked Out"}, records[3])
}

func TestFindIncidents(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	now := day.Add(18 * time.Hour)
	rows := []models.AttendanceRow{
		row("Early", "E-1", day, ptr(day.Add(8*time.Hour)), nil),
		row("Late", "E-2", day, ptr(day.Add(12*time.Hour)), nil),
		row("Done", "E-3", day, ptr(day.Add(7*time.Hour)), ptr(day.Add(16*time.Hour))),
		row("Never", "E-4", day, nil, nil),
	}

	incidents := FindIncidents(rows, now, 8*time.Hour, time.UTC)

	require.Len(t, incidents, 2)
	assert.Equal(t, MissingCheckOut, incidents[0].Type)
	assert.Equal(t, "Early", incidents[0].Name)
	assert.Equal(t, "08:00", incidents[0].Time)
	assert.Equal(t, MissingCheckIn, incidents[1].Type)
	assert.Equal(t, "Never", incidents[1].Name)
}

func TestSummarize(t *testing.T) {
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	var rows []models.AttendanceRow
	for i := 0; i < 7; i++ {
		rows = append(rows, row("P", "E", day, ptr(day.Add(time.Duration(8+i)*time.Hour)), nil))
	}
	rows[0].CheckOut = ptr(day.Add(17 * time.Hour))
	rows[6].Name = "Latest"

	s := Summarize(day, 10, rows, day.Add(18*time.Hour), 8*time.Hour, time.UTC)

	assert.Equal(t, "2026-03-02", s.Date)
	assert.Equal(t, 10, s.TotalIdentities)
	assert.Equal(t, 7, s.Present)
	assert.Equal(t, 1, s.CheckedOut)
	require.Len(t, s.Recent, 5)
	assert.Equal(t, "Latest", s.Recent[0].Name)
	assert.Equal(t, "02:00 PM", s.Recent[0].Time)
	// only the 09:00 row has been open for more than 8h at 18:00
	assert.Equal(t, 1, s.Incidents)
}

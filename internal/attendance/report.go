package attendance

import (
	"encoding/csv"
	"fmt"
	"io"
	"time"

	"github.com/your-org/attendance/internal/models"
)

var reportHeader = []string{
	"Employee Name", "Employee ID", "Attendance Date", "Check-in Time", "Check-out Time", "Stayed Time",
}

const clockFormat = "03:04:05 PM"

// WriteCSV writes the attendance export. Times are rendered in loc.
func WriteCSV(w io.Writer, rows []models.AttendanceRow, loc *time.Location) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(reportHeader); err != nil {
		return fmt.Errorf("write report header: %w", err)
	}

	for _, r := range rows {
		checkIn, checkOut := "Not Checked In", "Not Checked Out"
		if r.CheckIn != nil {
			checkIn = r.CheckIn.In(loc).Format(clockFormat)
		}
		if r.CheckOut != nil {
			checkOut = r.CheckOut.In(loc).Format(clockFormat)
		}
		record := []string{
			r.Name,
			r.Code,
			r.Date.Format(time.DateOnly),
			checkIn,
			checkOut,
			StayedTime(r.AttendanceRecord),
		}
		if err := cw.Write(record); err != nil {
			return fmt.Errorf("write report row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}

// StayedTime renders the check-in to check-out duration.
func StayedTime(r models.AttendanceRecord) string {
	if r.CheckIn == nil || r.CheckOut == nil {
		return "Not Checked Out"
	}
	d := r.CheckOut.Sub(*r.CheckIn).Round(time.Second)
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%d hours, %d minutes, %d seconds", h, m, s)
}

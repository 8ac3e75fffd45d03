package attendance

import (
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/models"
)

type IncidentType string

const (
	MissingCheckIn  IncidentType = "Missing Check-in"
	MissingCheckOut IncidentType = "Missing Check-out"
)

type Incident struct {
	Type        IncidentType `json:"type"`
	IdentityID  uuid.UUID    `json:"identity_id"`
	Name        string       `json:"name"`
	Time        string       `json:"time"`
	Description string       `json:"description"`
}

// FindIncidents flags rows without a check-in, and rows checked in longer
// than after ago with no check-out.
func FindIncidents(rows []models.AttendanceRow, now time.Time, after time.Duration, loc *time.Location) []Incident {
	var out []Incident
	for _, r := range rows {
		switch {
		case r.CheckIn == nil:
			out = append(out, Incident{
				Type:        MissingCheckIn,
				IdentityID:  r.IdentityID,
				Name:        r.Name,
				Time:        "Start of day",
				Description: fmt.Sprintf("%s did not check in", r.Name),
			})
		case r.CheckOut == nil && now.Sub(*r.CheckIn) > after:
			at := r.CheckIn.In(loc).Format("15:04")
			out = append(out, Incident{
				Type:        MissingCheckOut,
				IdentityID:  r.IdentityID,
				Name:        r.Name,
				Time:        at,
				Description: fmt.Sprintf("%s checked in at %s but hasn't checked out", r.Name, at),
			})
		}
	}
	return out
}

type RecentCheckIn struct {
	Name string `json:"name"`
	Time string `json:"time"`
}

// Summary is the dashboard view of one day.
type Summary struct {
	Date            string          `json:"date"`
	TotalIdentities int             `json:"total_identities"`
	Present         int             `json:"present"`
	CheckedOut      int             `json:"checked_out"`
	Incidents       int             `json:"incidents"`
	Recent          []RecentCheckIn `json:"recent"`
}

const recentLimit = 5

// Summarize builds the dashboard for the rows of a single date.
func Summarize(date time.Time, totalIdentities int, rows []models.AttendanceRow, now time.Time, after time.Duration, loc *time.Location) Summary {
	s := Summary{
		Date:            date.Format(time.DateOnly),
		TotalIdentities: totalIdentities,
		Incidents:       len(FindIncidents(rows, now, after, loc)),
	}

	checkedIn := make([]models.AttendanceRow, 0, len(rows))
	for _, r := range rows {
		if r.CheckIn == nil {
			continue
		}
		s.Present++
		if r.CheckOut != nil {
			s.CheckedOut++
		}
		checkedIn = append(checkedIn, r)
	}

	sort.SliceStable(checkedIn, func(i, j int) bool {
		return checkedIn[i].CheckIn.After(*checkedIn[j].CheckIn)
	})
	for i := 0; i < len(checkedIn) && i < recentLimit; i++ {
		s.Recent = append(s.Recent, RecentCheckIn{
			Name: checkedIn[i].Name,
			Time: checkedIn[i].CheckIn.In(loc).Format("03:04 PM"),
		})
	}
	return s
}

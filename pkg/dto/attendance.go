package dto

import "github.com/google/uuid"

type AttendanceResponse struct {
	ID         uuid.UUID `json:"id"`
	IdentityID uuid.UUID `json:"identity_id"`
	Name       string    `json:"name"`
	Code       string    `json:"code"`
	Date       string    `json:"date"`
	State      string    `json:"state"`
	CheckIn    string    `json:"check_in,omitempty"`
	CheckOut   string    `json:"check_out,omitempty"`
	StayedTime string    `json:"stayed_time,omitempty"`
}

type AttendanceListResponse struct {
	From    string               `json:"from"`
	To      string               `json:"to"`
	Records []AttendanceResponse `json:"records"`
	Total   int                  `json:"total"`
}

type IncidentResponse struct {
	Type        string    `json:"type"`
	IdentityID  uuid.UUID `json:"identity_id"`
	Name        string    `json:"name"`
	Time        string    `json:"time"`
	Description string    `json:"description"`
}

type IncidentListResponse struct {
	Date      string             `json:"date"`
	Incidents []IncidentResponse `json:"incidents"`
}

type RecentCheckIn struct {
	Name string `json:"name"`
	Time string `json:"time"`
}

type DashboardResponse struct {
	Date            string          `json:"date"`
	TotalIdentities int             `json:"total_identities"`
	Present         int             `json:"present"`
	CheckedOut      int             `json:"checked_out"`
	Incidents       int             `json:"incidents"`
	Recent          []RecentCheckIn `json:"recent"`
}

type SightingResponse struct {
	ID          uuid.UUID `json:"id"`
	Camera      string    `json:"camera"`
	Distance    float64   `json:"distance"`
	Event       string    `json:"event"`
	SeenAt      string    `json:"seen_at"`
	SnapshotURL string    `json:"snapshot_url,omitempty"`
}

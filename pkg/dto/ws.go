package dto

import "time"

const (
	WSTypeOverlay    = "overlay"
	WSTypeAttendance = "attendance"
)

// WSEvent is a WebSocket message for real-time delivery. Data is a
// camera.Overlay for "overlay" and a models.AttendanceEvent for
// "attendance".
type WSEvent struct {
	Type   string    `json:"type"`
	Camera string    `json:"camera"`
	At     time.Time `json:"at"`
	Data   any       `json:"data"`
}

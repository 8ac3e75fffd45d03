package camera

import (
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/vision"
)

type LabelKind string

const (
	LabelRecognized LabelKind = "recognized"
	LabelUnknown    LabelKind = "unknown"
	LabelNoData     LabelKind = "no_data"
	LabelError      LabelKind = "error"
)

const (
	labelUnknown = "Unknown"
	labelNoData  = "No Data"
	labelError   = "Error"

	statusActive  = "Face Detection Active"
	statusWaiting = "Waiting for faces..."
)

// OverlayBox annotates one face on a frame.
type OverlayBox struct {
	Box        vision.Box       `json:"box"`
	Label      string           `json:"label"`
	Kind       LabelKind        `json:"kind"`
	IdentityID *uuid.UUID       `json:"identity_id,omitempty"`
	Distance   *float64         `json:"distance,omitempty"`
	Event      models.EventKind `json:"event,omitempty"`
}

// Overlay is the annotation of one processed frame.
type Overlay struct {
	Camera          string       `json:"camera"`
	Frame           int64        `json:"frame"`
	At              time.Time    `json:"at"`
	Time            string       `json:"time"`
	Status          string       `json:"status"`
	DetectionActive bool         `json:"detection_active"`
	Boxes           []OverlayBox `json:"boxes"`
}

// OverlaySink receives overlays. Implementations must not block.
type OverlaySink interface {
	PublishOverlay(o Overlay)
}

type OverlaySinkFunc func(o Overlay)

func (f OverlaySinkFunc) PublishOverlay(o Overlay) { f(o) }

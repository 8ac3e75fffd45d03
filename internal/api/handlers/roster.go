package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/recognition"
	"github.com/your-org/attendance/pkg/dto"
)

type RosterView interface {
	Snapshot(ctx context.Context) (*recognition.Snapshot, error)
	Invalidate()
}

// RosterBroadcaster tells other processes the roster changed.
type RosterBroadcaster interface {
	PublishRosterChanged() error
}

type RosterHandler struct {
	roster    RosterView
	broadcast RosterBroadcaster
}

// NewRosterHandler builds the handler. broadcast may be nil when no event bus
// is configured.
func NewRosterHandler(roster RosterView, broadcast RosterBroadcaster) *RosterHandler {
	return &RosterHandler{roster: roster, broadcast: broadcast}
}

func (h *RosterHandler) Get(c *gin.Context) {
	snap, err := h.roster.Snapshot(c.Request.Context())
	if err != nil {
		abort(c, http.StatusServiceUnavailable, err)
		return
	}

	ids := snap.Identities()
	resp := dto.RosterResponse{
		Embeddings: snap.Len(),
		Identities: make([]dto.IdentityResponse, 0, len(ids)),
	}
	if !snap.BuiltAt().IsZero() {
		resp.BuiltAt = snap.BuiltAt().Format(time.RFC3339)
	}
	for _, id := range ids {
		resp.Identities = append(resp.Identities, dto.IdentityResponse{ID: id.ID, Code: id.Code, Name: id.Name})
	}
	c.JSON(http.StatusOK, resp)
}

// Invalidate marks the snapshot dirty here and, when a bus is configured,
// in every other process watching roster.changed.
func (h *RosterHandler) Invalidate(c *gin.Context) {
	h.roster.Invalidate()
	if h.broadcast != nil {
		if err := h.broadcast.PublishRosterChanged(); err != nil {
			slog.Warn("publish roster change", "error", err)
		}
	}
	c.JSON(http.StatusAccepted, gin.H{"status": "invalidated"})
}

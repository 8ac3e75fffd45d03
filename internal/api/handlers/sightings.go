package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/pkg/dto"
)

const (
	defaultSightingLimit = 20
	maxSightingLimit     = 200
)

type SightingLister interface {
	ListSightings(ctx context.Context, identityID uuid.UUID, limit int) ([]models.Sighting, error)
}

// Presigner issues temporary snapshot download URLs.
type Presigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type SightingHandler struct {
	store   SightingLister
	presign Presigner
	ttl     time.Duration
}

// NewSightingHandler builds the handler; presign may be nil, in which case
// responses carry no snapshot URLs.
func NewSightingHandler(store SightingLister, presign Presigner, ttl time.Duration) *SightingHandler {
	if ttl <= 0 {
		ttl = 15 * time.Minute
	}
	return &SightingHandler{store: store, presign: presign, ttl: ttl}
}

// List returns the latest sightings of one identity, newest first.
func (h *SightingHandler) List(c *gin.Context) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	limit := defaultSightingLimit
	if v := c.Query("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit < 1 {
			abort(c, http.StatusBadRequest, errInvalidLimit)
			return
		}
	}
	limit = min(limit, maxSightingLimit)

	ctx := c.Request.Context()
	sightings, err := h.store.ListSightings(ctx, id, limit)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	resp := make([]dto.SightingResponse, 0, len(sightings))
	for _, s := range sightings {
		r := dto.SightingResponse{
			ID:       s.ID,
			Camera:   s.Camera,
			Distance: s.Distance,
			Event:    string(s.Event),
			SeenAt:   s.SeenAt.Format(time.RFC3339),
		}
		if h.presign != nil && s.SnapshotKey != "" {
			if r.SnapshotURL, err = h.presign.PresignGet(ctx, s.SnapshotKey, h.ttl); err != nil {
				slog.Warn("presign snapshot", "key", s.SnapshotKey, "error", err)
			}
		}
		resp = append(resp, r)
	}
	c.JSON(http.StatusOK, resp)
}

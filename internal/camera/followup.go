package camera

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/internal/vision"
)

const (
	followUpQueueSize = 64
	// sinkTimeout bounds every notifier, snapshot and sighting call, and the
	// flush of queued events once the camera stops.
	sinkTimeout = 5 * time.Second
)

// followUp is what remains to be done for a gated event after the ledger
// write: notifying sinks, uploading the face crop and storing the sighting.
type followUp struct {
	ev       models.AttendanceEvent
	face     vision.Face
	distance float64
	at       time.Time
}

// enqueue hands f to the follow-up goroutine. The frame loop never waits on
// a broker or object store; when the queue is full the event is dropped.
func (w *Worker) enqueue(f followUp) {
	if w.deps.Notifier == nil && w.deps.Sightings == nil {
		return
	}
	select {
	case w.pending <- f:
	default:
		observability.EventsDropped.WithLabelValues(w.cam.Name).Inc()
		slog.Warn("follow-up queue full, dropping event",
			"camera", w.cam.Name, "identity", f.ev.IdentityID, "event", f.ev.Kind)
	}
}

// startFollowUps drains the queue until the returned func is called. That
// func closes the queue and waits for the drain, giving queued events at
// most sinkTimeout once the worker has stopped.
func (w *Worker) startFollowUps(ctx context.Context) (flush func()) {
	base, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for f := range w.pending {
			w.followUp(base, f)
		}
	}()

	return func() {
		close(w.pending)
		t := time.AfterFunc(sinkTimeout, cancel)
		<-done
		t.Stop()
		cancel()
	}
}

func (w *Worker) followUp(ctx context.Context, f followUp) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("follow-up panic", "camera", w.cam.Name, "panic", r)
		}
	}()
	w.notify(ctx, f.ev)
	w.recordSighting(ctx, f)
}

func (w *Worker) notify(ctx context.Context, ev models.AttendanceEvent) {
	if w.deps.Notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	if err := w.deps.Notifier.Notify(ctx, ev); err != nil {
		slog.Warn("notify attendance", "camera", w.cam.Name, "error", err)
	}
}

func (w *Worker) recordSighting(ctx context.Context, f followUp) {
	if w.deps.Sightings == nil {
		return
	}
	s := &models.Sighting{
		ID:         uuid.New(),
		IdentityID: f.ev.IdentityID,
		Camera:     w.cam.Name,
		Distance:   f.distance,
		Embedding:  f.face.Embedding,
		Event:      f.ev.Kind,
		SeenAt:     f.at,
	}

	if w.deps.Snapshots != nil && f.face.Crop != nil {
		data, err := vision.EncodeJPEG(f.face.Crop, w.opts.SnapshotQuality)
		if err != nil {
			slog.Warn("encode face snapshot", "camera", w.cam.Name, "error", err)
		} else {
			key := fmt.Sprintf("%s%s/%s/%s.jpg", storage.SnapshotPrefix, w.cam.Name, f.ev.Date, s.ID)
			putCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
			err := w.deps.Snapshots.PutObject(putCtx, key, data, "image/jpeg")
			cancel()
			if err != nil {
				slog.Warn("upload face snapshot", "camera", w.cam.Name, "error", err)
			} else {
				s.SnapshotKey = key
			}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, sinkTimeout)
	defer cancel()
	if err := w.deps.Sightings.RecordSighting(ctx, s); err != nil && !errors.Is(err, context.Canceled) {
		slog.Warn("record sighting", "camera", w.cam.Name, "error", err)
	}
}

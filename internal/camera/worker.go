package camera

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/clock"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/recognition"
	"github.com/your-org/attendance/internal/vision"
)

type SnapshotSource interface {
	Snapshot(ctx context.Context) (*recognition.Snapshot, error)
}

type FaceEncoder interface {
	Encode(img image.Image) []vision.Face
}

type Recorder interface {
	Record(ctx context.Context, id models.Identity, camera string, now time.Time) (models.AttendanceEvent, error)
}

// Notifier is told about every gated attendance event.
type Notifier interface {
	Notify(ctx context.Context, ev models.AttendanceEvent) error
}

type SightingStore interface {
	RecordSighting(ctx context.Context, s *models.Sighting) error
}

type ObjectWriter interface {
	PutObject(ctx context.Context, key string, data []byte, contentType string) error
}

// Deps are the collaborators shared by all workers. Notifier, Overlays,
// Sightings and Snapshots are optional.
type Deps struct {
	Opener    Opener
	Roster    SnapshotSource
	Encoder   FaceEncoder
	Ledger    Recorder
	Notifier  Notifier
	Overlays  OverlaySink
	Sightings SightingStore
	Snapshots ObjectWriter
	Clock     clock.Clock
}

type Options struct {
	OpenAttempts      int
	OpenBackoff       time.Duration
	WarmupFrames      int
	FrameInterval     int
	DetectionInterval time.Duration
	CooldownWindow    time.Duration
	DefaultThreshold  float64
	SnapshotQuality   int
}

// Worker owns one camera. It is not safe to call Run more than once.
type Worker struct {
	cam  models.CameraConfig
	deps Deps
	opts Options

	cooldown *attendance.Cooldown
	limiter  *rate.Limiter
	frames   atomic.Int64
	pending  chan followUp

	state atomic.Value // models.WorkerState
	mu    sync.Mutex
	err   error
}

func NewWorker(cam models.CameraConfig, deps Deps, opts Options) *Worker {
	if deps.Clock == nil {
		deps.Clock = clock.Real()
	}
	if opts.FrameInterval < 1 {
		opts.FrameInterval = 1
	}
	if cam.Threshold <= 0 {
		cam.Threshold = opts.DefaultThreshold
	}
	w := &Worker{
		cam:      cam,
		deps:     deps,
		opts:     opts,
		cooldown: attendance.NewCooldown(opts.CooldownWindow),
		limiter:  rate.NewLimiter(rate.Every(opts.DetectionInterval), 1),
		pending:  make(chan followUp, followUpQueueSize),
	}
	w.setState(models.WorkerInitializing)
	return w
}

func (w *Worker) Name() string { return w.cam.Name }

func (w *Worker) State() models.WorkerState {
	return w.state.Load().(models.WorkerState)
}

// Err is the terminal error, if any.
func (w *Worker) Err() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.err
}

// Frames is the number of frames read so far.
func (w *Worker) Frames() int64 { return w.frames.Load() }

// Run opens the camera and processes frames until ctx is cancelled or a
// read fails. It returns the terminal error; cancellation is a clean stop.
func (w *Worker) Run(ctx context.Context) error {
	log := slog.With("camera", w.cam.Name)

	src, err := w.open(ctx)
	if err != nil {
		if ctx.Err() != nil {
			w.finish(models.WorkerStopped, nil)
			return nil
		}
		log.Error("camera unavailable", "error", err)
		err = fmt.Errorf("open camera %s: %w", w.cam.Name, err)
		w.finish(models.WorkerFailed, err)
		return err
	}

	log.Info("camera running", "source", w.cam.Source, "threshold", w.cam.Threshold)
	w.setState(models.WorkerRunning)
	flushed := w.startFollowUps(ctx)
	runErr := w.loop(ctx, src)

	w.setState(models.WorkerDraining)
	if err := src.Close(); err != nil {
		log.Warn("close camera", "error", err)
	}
	flushed()
	if runErr != nil {
		log.Error("camera stopped", "error", runErr, "frames", w.Frames())
	} else {
		log.Info("camera stopped", "frames", w.Frames())
	}
	w.finish(models.WorkerStopped, runErr)
	return runErr
}

func (w *Worker) open(ctx context.Context) (Source, error) {
	policy := RetryPolicy{
		Attempts: w.opts.OpenAttempts,
		Backoff:  w.opts.OpenBackoff,
		Clock:    w.deps.Clock,
	}

	var src Source
	err := policy.Do(ctx, func(ctx context.Context, attempt int) error {
		s, err := w.openOnce(ctx)
		if err != nil {
			observability.CameraOpenAttempts.WithLabelValues(w.cam.Name, "failure").Inc()
			slog.Warn("open camera attempt failed", "camera", w.cam.Name, "attempt", attempt, "error", err)
			return err
		}
		observability.CameraOpenAttempts.WithLabelValues(w.cam.Name, "success").Inc()
		src = s
		return nil
	})
	return src, err
}

// openOnce probes, opens and discards the warm-up frames. A source that
// cannot deliver its warm-up frames counts as a failed attempt.
func (w *Worker) openOnce(ctx context.Context) (Source, error) {
	if err := w.deps.Opener.Probe(ctx, w.cam.Source); err != nil {
		return nil, err
	}
	src, err := w.deps.Opener.Open(ctx, w.cam.Source)
	if err != nil {
		return nil, err
	}
	for i := 0; i < w.opts.WarmupFrames; i++ {
		if _, err := src.ReadFrame(ctx); err != nil {
			_ = src.Close()
			return nil, fmt.Errorf("warm-up frame %d: %w", i+1, err)
		}
	}
	return src, nil
}

func (w *Worker) loop(ctx context.Context, src Source) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		img, err := src.ReadFrame(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read frame: %w", err)
		}

		n := w.frames.Add(1)
		observability.FramesRead.WithLabelValues(w.cam.Name).Inc()
		if n%int64(w.opts.FrameInterval) != 0 {
			continue
		}
		w.processFrame(ctx, img, n)
	}
}

func (w *Worker) processFrame(ctx context.Context, img image.Image, n int64) {
	now := w.deps.Clock.Now()
	ov := Overlay{
		Camera: w.cam.Name,
		Frame:  n,
		At:     now,
		Time:   "Time: " + now.Format("15:04:05"),
		Status: statusWaiting,
	}

	if w.limiter.AllowN(now, 1) {
		ov.DetectionActive = true
		ov.Status = statusActive
		ov.Boxes = w.detect(ctx, img, now)
	}

	if w.deps.Overlays != nil {
		w.deps.Overlays.PublishOverlay(ov)
	}
}

func (w *Worker) detect(ctx context.Context, img image.Image, now time.Time) []OverlayBox {
	snap, err := w.deps.Roster.Snapshot(ctx)
	if err != nil {
		slog.Warn("roster snapshot unavailable", "camera", w.cam.Name, "error", err)
		snap = nil
	}

	start := time.Now()
	faces := w.deps.Encoder.Encode(img)
	observability.InferenceDuration.WithLabelValues("encode").Observe(time.Since(start).Seconds())
	observability.FramesProcessed.WithLabelValues(w.cam.Name).Inc()
	observability.FacesDetected.WithLabelValues(w.cam.Name).Add(float64(len(faces)))

	boxes := make([]OverlayBox, 0, len(faces))
	for _, face := range faces {
		boxes = append(boxes, w.handleFace(ctx, face, snap, now))
	}
	return boxes
}

// handleFace recognizes one face and applies the attendance rules. A failure
// here only affects this box.
func (w *Worker) handleFace(ctx context.Context, face vision.Face, snap *recognition.Snapshot, now time.Time) (box OverlayBox) {
	box = OverlayBox{Box: face.Box}
	defer func() {
		if r := recover(); r != nil {
			slog.Error("face processing panic", "camera", w.cam.Name, "panic", r)
			box = errorBox(face.Box)
		}
	}()

	if snap.Len() == 0 {
		box.Label, box.Kind = labelNoData, LabelNoData
		observability.Recognitions.WithLabelValues(w.cam.Name, string(LabelNoData)).Inc()
		return box
	}

	res := recognition.Match(face.Embedding, snap, w.cam.Threshold)
	if !math.IsInf(res.Distance, 0) {
		d := res.Distance
		box.Distance = &d
	}
	if !res.Recognized() {
		box.Label, box.Kind = labelUnknown, LabelUnknown
		observability.Recognitions.WithLabelValues(w.cam.Name, string(LabelUnknown)).Inc()
		return box
	}

	id := *res.Identity
	box.Label, box.Kind = id.Name, LabelRecognized
	box.IdentityID = &id.ID
	observability.Recognitions.WithLabelValues(w.cam.Name, string(LabelRecognized)).Inc()

	if !w.cooldown.ShouldAct(id.ID, now) {
		return box
	}

	ev, err := w.deps.Ledger.Record(ctx, id, w.cam.Name, now)
	if err != nil {
		slog.Error("record attendance", "camera", w.cam.Name, "identity", id.ID, "error", err)
		return errorBox(face.Box)
	}
	box.Event = ev.Kind
	observability.AttendanceEvents.WithLabelValues(w.cam.Name, string(ev.Kind)).Inc()
	if ev.Transition() {
		slog.Info("attendance", "camera", w.cam.Name, "identity", id.Name, "event", ev.Kind, "distance", res.Distance)
	}

	w.enqueue(followUp{ev: ev, face: face, distance: res.Distance, at: now})
	return box
}

func errorBox(b vision.Box) OverlayBox {
	return OverlayBox{Box: b, Label: labelError, Kind: LabelError}
}

func (w *Worker) setState(s models.WorkerState) {
	w.state.Store(s)
	for _, st := range []models.WorkerState{
		models.WorkerInitializing, models.WorkerRunning, models.WorkerDraining,
		models.WorkerStopped, models.WorkerFailed,
	} {
		v := 0.0
		if st == s {
			v = 1
		}
		observability.WorkerState.WithLabelValues(w.cam.Name, string(st)).Set(v)
	}
}

func (w *Worker) finish(s models.WorkerState, err error) {
	w.mu.Lock()
	w.err = err
	w.mu.Unlock()
	w.setState(s)
}

package camera

import (
	"context"
	"errors"
	"image"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/clock"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/recognition"
	"github.com/your-org/attendance/internal/vision"
)

var t0 = time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu     sync.Mutex
	frames int
	endErr error
	clk    *clock.Fake
	step   time.Duration
	closed bool
}

func (s *fakeSource) ReadFrame(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	if s.frames > 0 {
		s.frames--
		s.mu.Unlock()
		if s.clk != nil {
			s.clk.Advance(s.step)
		}
		return image.NewGray(image.Rect(0, 0, 64, 48)), nil
	}
	endErr := s.endErr
	s.mu.Unlock()

	if endErr != nil {
		return nil, endErr
	}
	<-ctx.Done()
	return nil, ctx.Err()
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeOpener struct {
	mu        sync.Mutex
	probeErrs []error
	probes    int
	sources   []*fakeSource
	opened    int
}

func (o *fakeOpener) Probe(context.Context, string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.probes++
	if len(o.probeErrs) == 0 {
		return nil
	}
	err := o.probeErrs[0]
	o.probeErrs = o.probeErrs[1:]
	return err
}

func (o *fakeOpener) Open(context.Context, string) (Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.opened >= len(o.sources) {
		return nil, errors.New("no device")
	}
	s := o.sources[o.opened]
	o.opened++
	return s, nil
}

type fakeRoster struct {
	snap *recognition.Snapshot
	err  error
}

func (r fakeRoster) Snapshot(context.Context) (*recognition.Snapshot, error) { return r.snap, r.err }

type fakeEncoder struct {
	mu    sync.Mutex
	faces []vision.Face
	calls int
}

func (e *fakeEncoder) Encode(image.Image) []vision.Face {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	return e.faces
}

type fakeLedger struct {
	mu      sync.Mutex
	calls   []models.Identity
	panicOn uuid.UUID
	err     error
}

func (l *fakeLedger) Record(_ context.Context, id models.Identity, camera string, now time.Time) (models.AttendanceEvent, error) {
	if id.ID == l.panicOn {
		panic("ledger exploded")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls = append(l.calls, id)
	if l.err != nil {
		return models.AttendanceEvent{}, l.err
	}
	at := now
	return models.AttendanceEvent{
		Kind:       models.EventCheckedIn,
		IdentityID: id.ID,
		Name:       id.Name,
		Camera:     camera,
		Date:       now.Format(time.DateOnly),
		At:         now,
		CheckIn:    &at,
	}, nil
}

type notifierFunc func(ctx context.Context, ev models.AttendanceEvent) error

func (f notifierFunc) Notify(ctx context.Context, ev models.AttendanceEvent) error { return f(ctx, ev) }

type overlayRecorder struct {
	mu       sync.Mutex
	overlays []Overlay
}

func (r *overlayRecorder) sink() OverlaySink {
	return OverlaySinkFunc(func(o Overlay) {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.overlays = append(r.overlays, o)
	})
}

func (r *overlayRecorder) all() []Overlay {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Overlay(nil), r.overlays...)
}

type sightingRecorder struct {
	mu   sync.Mutex
	rows []*models.Sighting
}

func (r *sightingRecorder) RecordSighting(_ context.Context, s *models.Sighting) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows = append(r.rows, s)
	return nil
}

func (r *sightingRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rows)
}

var (
	alice = models.Identity{ID: uuid.New(), Code: "E-1", Name: "Alice", Active: true}
	bob   = models.Identity{ID: uuid.New(), Code: "E-2", Name: "Bob", Active: true}
)

func testSnapshot(t *testing.T) *recognition.Snapshot {
	t.Helper()
	snap, err := recognition.NewSnapshot(
		[][]float32{{1, 0, 0}, {0, 1, 0}},
		[]models.Identity{alice, bob},
		t0,
	)
	require.NoError(t, err)
	return snap
}

func face(x int, emb ...float32) vision.Face {
	return vision.Face{Box: vision.Box{X1: x, Y1: 5, X2: x + 10, Y2: 15}, Embedding: emb}
}

func testOptions() Options {
	return Options{
		OpenAttempts:     3,
		OpenBackoff:      2 * time.Second,
		FrameInterval:    1,
		CooldownWindow:   5 * time.Second,
		DefaultThreshold: 0.6,
	}
}

func TestWorkerFailsAfterRetriesExhausted(t *testing.T) {
	clk := clock.NewFake(t0)
	opener := &fakeOpener{probeErrs: []error{ErrProbeFailed, ErrProbeFailed, ErrProbeFailed}}
	w := NewWorker(models.CameraConfig{Name: "door", Source: "0"}, Deps{
		Opener: opener,
		Roster: fakeRoster{},
		Clock:  clk,
	}, testOptions())

	err := w.Run(context.Background())

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrRetriesExhausted)
	assert.ErrorIs(t, err, ErrProbeFailed)
	assert.Equal(t, models.WorkerFailed, w.State())
	assert.Equal(t, err, w.Err())
	assert.Equal(t, 3, opener.probes)
	assert.Equal(t, 0, opener.opened)
	assert.Equal(t, 6*time.Second, clk.Now().Sub(t0))
}

func TestWorkerRecoversOnLaterAttempt(t *testing.T) {
	clk := clock.NewFake(t0)
	src := &fakeSource{frames: 3, endErr: io.EOF}
	opener := &fakeOpener{probeErrs: []error{ErrProbeFailed}, sources: []*fakeSource{src}}
	w := NewWorker(models.CameraConfig{Name: "door", Source: "0"}, Deps{
		Opener:  opener,
		Roster:  fakeRoster{},
		Encoder: &fakeEncoder{},
		Clock:   clk,
	}, testOptions())

	err := w.Run(context.Background())

	// the camera opened, then a read failure drained it
	require.Error(t, err)
	assert.ErrorIs(t, err, io.EOF)
	assert.NotErrorIs(t, err, ErrRetriesExhausted)
	assert.Equal(t, models.WorkerStopped, w.State())
	assert.Equal(t, 2, opener.probes)
	assert.EqualValues(t, 3, w.Frames())
	assert.True(t, src.closed)
	assert.Equal(t, 2*time.Second, clk.Now().Sub(t0))
}

func TestWorkerWarmupFailureCountsAsAttempt(t *testing.T) {
	clk := clock.NewFake(t0)
	broken := &fakeSource{frames: 2, endErr: io.ErrUnexpectedEOF}
	healthy := &fakeSource{frames: 5, endErr: io.EOF}
	opener := &fakeOpener{sources: []*fakeSource{broken, healthy}}
	enc := &fakeEncoder{}

	opts := testOptions()
	opts.WarmupFrames = 5
	w := NewWorker(models.CameraConfig{Name: "door"}, Deps{
		Opener:  opener,
		Roster:  fakeRoster{},
		Encoder: enc,
		Clock:   clk,
	}, opts)

	err := w.Run(context.Background())

	assert.ErrorIs(t, err, io.EOF)
	assert.True(t, broken.closed)
	assert.Equal(t, 2, opener.opened)
	// all five frames of the healthy source were consumed by warm-up
	assert.EqualValues(t, 0, w.Frames())
	assert.Equal(t, 0, enc.calls)
}

func TestWorkerProcessesEveryNthFrame(t *testing.T) {
	src := &fakeSource{frames: 12, endErr: io.EOF}
	enc := &fakeEncoder{}
	overlays := &overlayRecorder{}

	opts := testOptions()
	opts.FrameInterval = 5
	w := NewWorker(models.CameraConfig{Name: "door"}, Deps{
		Opener:   &fakeOpener{sources: []*fakeSource{src}},
		Roster:   fakeRoster{snap: testSnapshot(t)},
		Encoder:  enc,
		Overlays: overlays.sink(),
		Clock:    clock.NewFake(t0),
	}, opts)

	_ = w.Run(context.Background())

	got := overlays.all()
	require.Len(t, got, 2)
	assert.EqualValues(t, 5, got[0].Frame)
	assert.EqualValues(t, 10, got[1].Frame)
	assert.Equal(t, 2, enc.calls)
	assert.EqualValues(t, 12, w.Frames())
}

func TestWorkerDetectionCadence(t *testing.T) {
	clk := clock.NewFake(t0)
	src := &fakeSource{frames: 10, endErr: io.EOF, clk: clk, step: 100 * time.Millisecond}
	enc := &fakeEncoder{}
	overlays := &overlayRecorder{}

	opts := testOptions()
	opts.DetectionInterval = 500 * time.Millisecond
	w := NewWorker(models.CameraConfig{Name: "door"}, Deps{
		Opener:   &fakeOpener{sources: []*fakeSource{src}},
		Roster:   fakeRoster{snap: testSnapshot(t)},
		Encoder:  enc,
		Overlays: overlays.sink(),
		Clock:    clk,
	}, opts)

	_ = w.Run(context.Background())

	got := overlays.all()
	require.Len(t, got, 10)

	var active []int64
	for _, o := range got {
		if o.DetectionActive {
			active = append(active, o.Frame)
			assert.Equal(t, "Face Detection Active", o.Status)
		} else {
			assert.Equal(t, "Waiting for faces...", o.Status)
			assert.Empty(t, o.Boxes)
		}
	}
	// frames arrive at 100ms..1000ms; detection runs at 100ms and 600ms
	assert.Equal(t, []int64{1, 6}, active)
	assert.Equal(t, 2, enc.calls)
	assert.Equal(t, "Time: 09:00:00", got[0].Time)
}

func TestWorkerLabelsAndCooldown(t *testing.T) {
	clk := clock.NewFake(t0)
	src := &fakeSource{frames: 3, endErr: io.EOF, clk: clk, step: time.Second}
	enc := &fakeEncoder{faces: []vision.Face{
		face(0, 1, 0, 0),
		face(20, 0, 0, 1),
	}}
	ledger := &fakeLedger{}
	overlays := &overlayRecorder{}

	var mu sync.Mutex
	var notified []models.AttendanceEvent
	notifier := notifierFunc(func(_ context.Context, ev models.AttendanceEvent) error {
		mu.Lock()
		defer mu.Unlock()
		notified = append(notified, ev)
		return errors.New("broker down")
	})

	w := NewWorker(models.CameraConfig{Name: "door"}, Deps{
		Opener:   &fakeOpener{sources: []*fakeSource{src}},
		Roster:   fakeRoster{snap: testSnapshot(t)},
		Encoder:  enc,
		Ledger:   ledger,
		Notifier: notifier,
		Overlays: overlays.sink(),
		Clock:    clk,
	}, testOptions())

	_ = w.Run(context.Background())

	got := overlays.all()
	require.Len(t, got, 3)
	require.Len(t, got[0].Boxes, 2)

	known := got[0].Boxes[0]
	assert.Equal(t, "Alice", known.Label)
	assert.Equal(t, LabelRecognized, known.Kind)
	require.NotNil(t, known.IdentityID)
	assert.Equal(t, alice.ID, *known.IdentityID)
	assert.Equal(t, models.EventCheckedIn, known.Event)

	unknown := got[0].Boxes[1]
	assert.Equal(t, "Unknown", unknown.Label)
	assert.Equal(t, LabelUnknown, unknown.Kind)
	require.NotNil(t, unknown.Distance)
	assert.Nil(t, unknown.IdentityID)

	// later frames still label Alice but the cooldown suppresses the ledger
	assert.Equal(t, "Alice", got[2].Boxes[0].Label)
	assert.Empty(t, got[2].Boxes[0].Event)
	assert.Len(t, ledger.calls, 1)
	assert.Len(t, notified, 1)
}

func TestWorkerNoData(t *testing.T) {
	tests := []struct {
		name   string
		roster fakeRoster
	}{
		{"empty snapshot", fakeRoster{}},
		{"snapshot error", fakeRoster{err: errors.New("db down")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &fakeSource{frames: 1, endErr: io.EOF}
			ledger := &fakeLedger{}
			overlays := &overlayRecorder{}
			w := NewWorker(models.CameraConfig{Name: "door"}, Deps{
				Opener:   &fakeOpener{sources: []*fakeSource{src}},
				Roster:   tt.roster,
				Encoder:  &fakeEncoder{faces: []vision.Face{face(0, 1, 0, 0)}},
				Ledger:   ledger,
				Overlays: overlays.sink(),
				Clock:    clock.NewFake(t0),
			}, testOptions())

			_ = w.Run(context.Background())

			got := overlays.all()
			require.Len(t, got, 1)
			require.Len(t, got[0].Boxes, 1)
			assert.Equal(t, "No Data", got[0].Boxes[0].Label)
			assert.Equal(t, LabelNoData, got[0].Boxes[0].Kind)
			assert.Empty(t, ledger.calls)
		})
	}
}

func TestWorkerBoxFailureIsIsolated(t *testing.T) {
	src := &fakeSource{frames: 1, endErr: io.EOF}
	ledger := &fakeLedger{panicOn: alice.ID}
	overlays := &overlayRecorder{}
	w := NewWorker(models.CameraConfig{Name: "door"}, Deps{
		Opener: &fakeOpener{sources: []*fakeSource{src}},
		Roster: fakeRoster{snap: testSnapshot(t)},
		Encoder: &fakeEncoder{faces: []vision.Face{
			face(0, 1, 0, 0),
			face(20, 0, 1, 0),
		}},
		Ledger:   ledger,
		Overlays: overlays.sink(),
		Clock:    clock.NewFake(t0),
	}, testOptions())

	err := w.Run(context.Background())

	assert.ErrorIs(t, err, io.EOF)
	got := overlays.all()
	require.Len(t, got, 1)
	require.Len(t, got[0].Boxes, 2)
	assert.Equal(t, "Error", got[0].Boxes[0].Label)
	assert.Equal(t, LabelError, got[0].Boxes[0].Kind)
	assert.Equal(t, "Bob", got[0].Boxes[1].Label)
	require.Len(t, ledger.calls, 1)
	assert.Equal(t, bob.ID, ledger.calls[0].ID)
}

func TestWorkerLedgerErrorMarksBox(t *testing.T) {
	src := &fakeSource{frames: 1, endErr: io.EOF}
	overlays := &overlayRecorder{}
	w := NewWorker(models.CameraConfig{Name: "door"}, Deps{
		Opener:   &fakeOpener{sources: []*fakeSource{src}},
		Roster:   fakeRoster{snap: testSnapshot(t)},
		Encoder:  &fakeEncoder{faces: []vision.Face{face(0, 1, 0, 0)}},
		Ledger:   &fakeLedger{err: errors.New("write failed")},
		Overlays: overlays.sink(),
		Clock:    clock.NewFake(t0),
	}, testOptions())

	_ = w.Run(context.Background())

	got := overlays.all()
	require.Len(t, got, 1)
	assert.Equal(t, LabelError, got[0].Boxes[0].Kind)
}

func TestWorkerCameraThresholdOverridesDefault(t *testing.T) {
	src := &fakeSource{frames: 1, endErr: io.EOF}
	overlays := &overlayRecorder{}
	// distance to Alice is 0.5
	enc := &fakeEncoder{faces: []vision.Face{face(0, 1, 0.5, 0)}}
	snap, err := recognition.NewSnapshot([][]float32{{1, 0, 0}}, []models.Identity{alice}, t0)
	require.NoError(t, err)

	w := NewWorker(models.CameraConfig{Name: "door", Threshold: 0.4}, Deps{
		Opener:   &fakeOpener{sources: []*fakeSource{src}},
		Roster:   fakeRoster{snap: snap},
		Encoder:  enc,
		Ledger:   &fakeLedger{},
		Overlays: overlays.sink(),
		Clock:    clock.NewFake(t0),
	}, testOptions())

	_ = w.Run(context.Background())

	got := overlays.all()
	require.Len(t, got, 1)
	assert.Equal(t, LabelUnknown, got[0].Boxes[0].Kind)
}

func TestWorkerStopsOnCancel(t *testing.T) {
	src := &fakeSource{frames: 2}
	w := NewWorker(models.CameraConfig{Name: "door"}, Deps{
		Opener:  &fakeOpener{sources: []*fakeSource{src}},
		Roster:  fakeRoster{},
		Encoder: &fakeEncoder{},
		Clock:   clock.NewFake(t0),
	}, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return w.Frames() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, models.WorkerRunning, w.State())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
	assert.Equal(t, models.WorkerStopped, w.State())
	assert.NoError(t, w.Err())
	assert.True(t, src.closed)
}

// blockingNotifier holds every event until release is closed.
type blockingNotifier struct {
	release chan struct{}
	mu      sync.Mutex
	got     []models.AttendanceEvent
}

func (n *blockingNotifier) Notify(ctx context.Context, ev models.AttendanceEvent) error {
	select {
	case <-n.release:
	case <-ctx.Done():
		return ctx.Err()
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.got = append(n.got, ev)
	return nil
}

func (n *blockingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.got)
}

func TestWorkerSlowNotifierDoesNotStallFrames(t *testing.T) {
	clk := clock.NewFake(t0)
	// frames are further apart than the cooldown, so every one is gated
	src := &fakeSource{frames: 3, clk: clk, step: 10 * time.Second}
	notifier := &blockingNotifier{release: make(chan struct{})}
	sightings := &sightingRecorder{}
	overlays := &overlayRecorder{}
	w := NewWorker(models.CameraConfig{Name: "door"}, Deps{
		Opener:    &fakeOpener{sources: []*fakeSource{src}},
		Roster:    fakeRoster{snap: testSnapshot(t)},
		Encoder:   &fakeEncoder{faces: []vision.Face{face(0, 1, 0, 0)}},
		Ledger:    &fakeLedger{},
		Notifier:  notifier,
		Overlays:  overlays.sink(),
		Sightings: sightings,
		Clock:     clk,
	}, testOptions())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(overlays.all()) == 3 }, time.Second, 5*time.Millisecond)
	for _, o := range overlays.all() {
		require.Len(t, o.Boxes, 1)
		assert.Equal(t, models.EventCheckedIn, o.Boxes[0].Event)
	}
	assert.Zero(t, notifier.count(), "no notification may complete while the sink is blocked")

	close(notifier.release)
	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}

	// queued events are flushed before Run returns
	assert.Equal(t, 3, notifier.count())
	assert.Equal(t, 3, sightings.count())
}

func TestWorkerDropsEventsWhenQueueIsFull(t *testing.T) {
	clk := clock.NewFake(t0)
	src := &fakeSource{frames: 4, clk: clk, step: 10 * time.Second}
	notifier := &blockingNotifier{release: make(chan struct{})}
	overlays := &overlayRecorder{}
	w := NewWorker(models.CameraConfig{Name: "full-queue"}, Deps{
		Opener:   &fakeOpener{sources: []*fakeSource{src}},
		Roster:   fakeRoster{snap: testSnapshot(t)},
		Encoder:  &fakeEncoder{faces: []vision.Face{face(0, 1, 0, 0)}},
		Ledger:   &fakeLedger{},
		Notifier: notifier,
		Overlays: overlays.sink(),
		Clock:    clk,
	}, testOptions())
	w.pending = make(chan followUp, 1)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	require.Eventually(t, func() bool { return len(overlays.all()) == 4 }, time.Second, 5*time.Millisecond)
	close(notifier.release)
	cancel()
	require.NoError(t, <-done)

	dropped := int(testutil.ToFloat64(observability.EventsDropped.WithLabelValues("full-queue")))
	// one event in flight and one queued at most
	assert.GreaterOrEqual(t, dropped, 2)
	assert.Equal(t, 4, dropped+notifier.count())
}

func TestRetryPolicyStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryPolicy{Attempts: 5, Backoff: time.Hour}.Do(ctx, func(context.Context, int) error {
		calls++
		cancel()
		return errors.New("nope")
	})

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

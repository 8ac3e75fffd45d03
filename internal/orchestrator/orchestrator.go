// Package orchestrator runs one camera worker per configured camera and
// collects their outcomes.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/your-org/attendance/internal/clock"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/recognition"
)

var (
	ErrNoCameras     = errors.New("no cameras configured")
	ErrEmptyRoster   = errors.New("no active identity has a usable reference embedding")
	ErrDrainTimeout  = errors.New("worker did not stop within the grace period")
	ErrAlreadyActive = errors.New("orchestrator already running")
)

// Worker is the part of camera.Worker the orchestrator drives.
type Worker interface {
	Name() string
	Run(ctx context.Context) error
	State() models.WorkerState
	Frames() int64
}

type WorkerFactory func(cam models.CameraConfig) Worker

type SnapshotSource interface {
	Snapshot(ctx context.Context) (*recognition.Snapshot, error)
}

type WorkerResult struct {
	Camera string             `json:"camera"`
	State  models.WorkerState `json:"state"`
	Frames int64              `json:"frames"`
	Error  string             `json:"error,omitempty"`
}

type WorkerError struct {
	Camera string
	Err    error
}

func (e WorkerError) Error() string { return fmt.Sprintf("camera %s: %v", e.Camera, e.Err) }
func (e WorkerError) Unwrap() error { return e.Err }

// Report is the outcome of one Run.
type Report struct {
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt time.Time      `json:"finished_at"`
	Workers    []WorkerResult `json:"workers"`
	Errors     []WorkerError  `json:"-"`
}

// Err joins every worker error, or nil when all workers stopped cleanly.
func (r Report) Err() error {
	errs := make([]error, len(r.Errors))
	for i, e := range r.Errors {
		errs[i] = e
	}
	return errors.Join(errs...)
}

type Options struct {
	GracePeriod time.Duration
	Clock       clock.Clock
}

type Orchestrator struct {
	roster    SnapshotSource
	newWorker WorkerFactory
	grace     time.Duration
	clock     clock.Clock

	mu      sync.RWMutex
	workers []Worker
	active  bool
	last    *Report
}

func New(roster SnapshotSource, newWorker WorkerFactory, opts Options) *Orchestrator {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.GracePeriod <= 0 {
		opts.GracePeriod = 2 * time.Second
	}
	return &Orchestrator{
		roster:    roster,
		newWorker: newWorker,
		grace:     opts.GracePeriod,
		clock:     opts.Clock,
	}
}

// Run starts one worker per camera and blocks until ctx is cancelled or
// every worker has reached a terminal state. Nothing is started when there
// are no cameras or the roster is empty.
func (o *Orchestrator) Run(ctx context.Context, cams []models.CameraConfig) (Report, error) {
	if len(cams) == 0 {
		return Report{}, ErrNoCameras
	}
	if err := checkNames(cams); err != nil {
		return Report{}, err
	}

	snap, err := o.roster.Snapshot(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("load roster: %w", err)
	}
	if snap.Len() == 0 {
		return Report{}, ErrEmptyRoster
	}

	o.mu.Lock()
	if o.active {
		o.mu.Unlock()
		return Report{}, ErrAlreadyActive
	}
	o.active = true
	o.workers = nil
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.active = false
		o.mu.Unlock()
	}()

	// built only once the run is ours, so a rejected Run touches no worker
	// state
	workers := make([]Worker, len(cams))
	for i, cam := range cams {
		workers[i] = o.newWorker(cam)
	}
	o.mu.Lock()
	o.workers = workers
	o.mu.Unlock()

	started := o.clock.Now()
	slog.Info("starting camera workers", "cameras", len(cams), "identities", snap.Len())

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make([]error, len(workers))
	finished := make([]bool, len(workers))
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := w.Run(runCtx)
			mu.Lock()
			errs[i] = err
			finished[i] = true
			mu.Unlock()
		}()
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down camera workers")
	case <-done:
		slog.Info("all camera workers finished")
	}
	cancel()

	select {
	case <-done:
	default:
		select {
		case <-done:
		case <-o.clock.After(o.grace):
			slog.Warn("camera workers still running after grace period", "grace", o.grace)
		}
	}

	mu.Lock()
	report := Report{StartedAt: started, FinishedAt: o.clock.Now()}
	for i, w := range workers {
		err := errs[i]
		if !finished[i] {
			err = ErrDrainTimeout
		}
		res := WorkerResult{Camera: w.Name(), State: w.State(), Frames: w.Frames()}
		if err != nil {
			res.Error = err.Error()
			report.Errors = append(report.Errors, WorkerError{Camera: w.Name(), Err: err})
		}
		report.Workers = append(report.Workers, res)
	}
	mu.Unlock()

	o.mu.Lock()
	o.last = &report
	o.mu.Unlock()

	for _, e := range report.Errors {
		slog.Error("camera worker error", "camera", e.Camera, "error", e.Err)
	}
	return report, nil
}

// Status describes the current run, or the last one when nothing is
// running.
func (o *Orchestrator) Status() (active bool, workers []WorkerResult) {
	o.mu.RLock()
	defer o.mu.RUnlock()

	if !o.active && o.last != nil {
		return false, append([]WorkerResult(nil), o.last.Workers...)
	}
	for _, w := range o.workers {
		workers = append(workers, WorkerResult{Camera: w.Name(), State: w.State(), Frames: w.Frames()})
	}
	return o.active, workers
}

func checkNames(cams []models.CameraConfig) error {
	seen := make(map[string]struct{}, len(cams))
	for _, c := range cams {
		if c.Name == "" {
			return fmt.Errorf("camera with source %q has no name", c.Source)
		}
		if _, ok := seen[c.Name]; ok {
			return fmt.Errorf("duplicate camera name %q", c.Name)
		}
		seen[c.Name] = struct{}{}
	}
	return nil
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/attendance/internal/api"
	"github.com/your-org/attendance/internal/api/handlers"
	"github.com/your-org/attendance/internal/api/ws"
	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/camera"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/notify"
	"github.com/your-org/attendance/internal/orchestrator"
	"github.com/your-org/attendance/internal/queue"
	"github.com/your-org/attendance/internal/recognition"
	"github.com/your-org/attendance/internal/storage"
	"github.com/your-org/attendance/internal/vision"
)

func (a *app) runCmd() *cobra.Command {
	var (
		cameras []string
		imgRoot string
	)
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run the camera workers and the HTTP API until interrupted",
		RunE: func(cmd *cobra.Command, _ []string) error {
			override, err := parseCameras(cameras)
			if err != nil {
				return err
			}
			return a.run(cmd.Context(), override, imgRoot)
		},
	}
	cmd.Flags().StringArrayVar(&cameras, "camera", nil, "camera as name=source, repeatable; replaces the stored camera list")
	cmd.Flags().StringVar(&imgRoot, "images", ".", "directory relative reference image paths resolve against")
	return cmd
}

func parseCameras(specs []string) ([]models.CameraConfig, error) {
	var out []models.CameraConfig
	for _, s := range specs {
		name, source, ok := strings.Cut(s, "=")
		if !ok || name == "" || source == "" {
			return nil, fmt.Errorf("invalid --camera %q: want name=source", s)
		}
		out = append(out, models.CameraConfig{Name: name, Source: source})
	}
	return out, nil
}

func (a *app) run(ctx context.Context, override []models.CameraConfig, imgRoot string) error {
	cfg := a.cfg
	slog.Info("starting attendance service", "port", cfg.Server.Port, "store", cfg.Store.Driver)

	loc, err := cfg.Attendance.Location()
	if err != nil {
		return err
	}

	destroy, err := vision.InitRuntime(cfg.Vision.ONNXLibPath)
	if err != nil {
		return err
	}
	defer destroy()

	encoder, err := vision.LoadFaceEncoder(cfg.Vision)
	if err != nil {
		return fmt.Errorf("load face models: %w", err)
	}
	defer encoder.Close()

	store, err := storage.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	var (
		broadcast handlers.RosterBroadcaster
		presign   handlers.Presigner
	)
	checks := map[string]handlers.Check{"store": store.Ping}
	loader := storage.ReferenceLoader{Files: storage.FileLoader{Root: imgRoot}}
	deps := camera.Deps{
		Opener:    &camera.FFmpegOpener{Width: cfg.Camera.FrameWidth, ReadTimeout: cfg.Camera.ReadTimeout},
		Encoder:   encoder,
		Sightings: store,
	}

	if cfg.MinIO.Endpoint != "" {
		objects, err := storage.NewMinIOStore(cfg.MinIO)
		if err != nil {
			return fmt.Errorf("connect to minio: %w", err)
		}
		if err := objects.EnsureBucket(ctx); err != nil {
			slog.Warn("ensure minio bucket", "error", err)
		}
		loader.Objects = objects
		deps.Snapshots = objects
		presign = objects
		checks["minio"] = objects.Ping
	}

	roster := recognition.NewEmbeddingStore(store, loader, encoder, recognition.StoreOptions{
		TTL:            cfg.Recognition.RosterTTL,
		Parallelism:    cfg.Recognition.RebuildParallelism,
		RebuildTimeout: cfg.Recognition.RebuildTimeout,
	})
	defer roster.Close()
	deps.Roster = roster

	deps.Ledger = attendance.NewLedger(store, attendance.LedgerOptions{
		MinimumStay:      cfg.Attendance.MinimumStay,
		Location:         loc,
		TerminalCacheTTL: cfg.Attendance.TerminalCacheTTL,
	})

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := ws.NewHub()
	go hub.Run(hubCtx)
	deps.Overlays = hub
	sinks := notify.Fanout{hub}

	if cfg.NATS.URL != "" {
		producer, err := queue.NewProducer(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer producer.Close()
		if err := producer.EnsureStreams(ctx); err != nil {
			slog.Warn("ensure nats streams", "error", err)
		}
		sinks = append(sinks, producer)
		broadcast = producer
		checks["nats"] = func(context.Context) error { return producer.Ping() }

		consumer, err := queue.NewConsumer(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect to nats: %w", err)
		}
		defer consumer.Close()
		if err := consumer.WatchRoster(ctx, roster); err != nil {
			slog.Warn("watch roster changes", "error", err)
		}
	}

	if cfg.MQTT.Broker != "" {
		mq, err := notify.NewMQTTNotifier(ctx, cfg.MQTT)
		if err != nil {
			return err
		}
		defer mq.Close()
		sinks = append(sinks, notify.TransitionsOnly(mq))
	}
	deps.Notifier = sinks

	opts := camera.Options{
		OpenAttempts:      cfg.Camera.OpenAttempts,
		OpenBackoff:       cfg.Camera.OpenBackoff,
		WarmupFrames:      cfg.Camera.WarmupFrames,
		FrameInterval:     cfg.Camera.FrameInterval,
		DetectionInterval: cfg.Camera.DetectionInterval,
		CooldownWindow:    cfg.Attendance.CooldownWindow,
		DefaultThreshold:  cfg.Recognition.DefaultThreshold,
		SnapshotQuality:   cfg.Camera.SnapshotQuality,
	}
	orch := orchestrator.New(roster, func(cam models.CameraConfig) orchestrator.Worker {
		return camera.NewWorker(cam, deps, opts)
	}, orchestrator.Options{GracePeriod: cfg.Orchestrator.GracePeriod})

	router := api.NewRouter(api.RouterConfig{
		APIKey:        cfg.Server.APIKey,
		Store:         store,
		Hub:           hub,
		Roster:        roster,
		Broadcast:     broadcast,
		Run:           orch,
		Presign:       presign,
		PresignTTL:    cfg.MinIO.PresignTTL,
		Checks:        checks,
		Location:      loc,
		IncidentAfter: cfg.Attendance.IncidentAfter,
	})
	srv := &http.Server{
		Addr:        fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:     router,
		ReadTimeout: 30 * time.Second,
		IdleTimeout: 60 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("API server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown error", "error", err)
		}
		slog.Info("API server stopped")
	}()

	cams := override
	if len(cams) == 0 {
		if cams, err = store.ListCameraConfigs(ctx); err != nil {
			return err
		}
	}

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	go func() {
		if err, ok := <-serveErr; ok && err != nil {
			slog.Error("server error", "error", err)
			cancelRun()
		}
	}()

	report, err := orch.Run(runCtx, cams)
	if err != nil {
		return err
	}
	for _, w := range report.Workers {
		slog.Info("camera worker finished", "camera", w.Camera, "state", w.State, "frames", w.Frames)
	}
	return report.Err()
}

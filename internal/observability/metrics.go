package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "attendance"

var (
	FramesRead = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_read_total",
		Help:      "Total number of frames read from cameras",
	}, []string{"camera"})

	FramesProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "frames_processed_total",
		Help:      "Total number of frames that went through detection",
	}, []string{"camera"})

	FacesDetected = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "faces_detected_total",
		Help:      "Total number of valid face boxes encoded",
	}, []string{"camera"})

	BoxesRejected = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "boxes_rejected_total",
		Help:      "Detection boxes discarded for lying outside the frame or having zero area",
	})

	Recognitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "recognitions_total",
		Help:      "Per-box recognition outcomes",
	}, []string{"camera", "outcome"})

	AttendanceEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_total",
		Help:      "Attendance events by kind",
	}, []string{"camera", "kind"})

	EventsDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "events_dropped_total",
		Help:      "Attendance events whose notification and sighting were dropped because the worker queue was full",
	}, []string{"camera"})

	InferenceDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "inference_duration_seconds",
		Help:      "Duration of ML inference stages",
		Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
	}, []string{"stage"})

	SnapshotSize = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "snapshot_embeddings",
		Help:      "Number of embeddings in the current roster snapshot",
	})

	SnapshotRebuildDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "snapshot_rebuild_duration_seconds",
		Help:      "Duration of roster snapshot rebuilds",
		Buckets:   prometheus.ExponentialBuckets(0.05, 2, 10),
	})

	SnapshotIdentityFailures = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "snapshot_identity_failures_total",
		Help:      "Identities skipped during a rebuild because no embedding could be produced",
	})

	WorkerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "worker_state",
		Help:      "1 for the current state of each camera worker",
	}, []string{"camera", "state"})

	CameraOpenAttempts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "camera_open_attempts_total",
		Help:      "Camera open attempts by result",
	}, []string{"camera", "result"})

	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request duration",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	WSConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "ws_connections",
		Help:      "Number of active WebSocket connections",
	})
)

package api

import (
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/your-org/attendance/internal/api/handlers"
	"github.com/your-org/attendance/internal/api/ws"
	"github.com/your-org/attendance/internal/auth"
	"github.com/your-org/attendance/internal/clock"
	"github.com/your-org/attendance/internal/storage"
)

type RouterConfig struct {
	APIKey string
	Store  storage.Store
	Hub    *ws.Hub

	Roster     handlers.RosterView
	Broadcast  handlers.RosterBroadcaster // optional
	Run        handlers.RunStatus         // optional
	Presign    handlers.Presigner         // optional
	PresignTTL time.Duration

	// Checks are the readiness probes; nil entries are skipped.
	Checks map[string]handlers.Check

	Location      *time.Location
	IncidentAfter time.Duration
	Clock         clock.Clock
}

func NewRouter(cfg RouterConfig) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(LoggingMiddleware())
	r.Use(cors.Default())

	// System endpoints (no auth)
	systemH := handlers.NewSystemHandler(cfg.Checks)
	r.GET("/healthz", systemH.Healthz)
	r.GET("/readyz", systemH.Readyz)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// API v1 (with auth)
	v1 := r.Group("/v1")
	v1.Use(auth.APIKeyMiddleware(cfg.APIKey))

	// WebSocket: overlays and attendance events, ?camera= to filter
	if cfg.Hub != nil {
		v1.GET("/ws", cfg.Hub.HandleWS)
	}

	// Attendance
	attH := handlers.NewAttendanceHandler(cfg.Store, cfg.Location, cfg.IncidentAfter, cfg.Clock)
	v1.GET("/attendance", attH.List)
	v1.GET("/attendance/report.csv", attH.Report)
	v1.GET("/incidents", attH.Incidents)
	v1.GET("/dashboard", attH.Dashboard)

	// Roster
	if cfg.Roster != nil {
		rosterH := handlers.NewRosterHandler(cfg.Roster, cfg.Broadcast)
		v1.GET("/roster", rosterH.Get)
		v1.POST("/roster/invalidate", rosterH.Invalidate)
	}

	// Sightings
	sightH := handlers.NewSightingHandler(cfg.Store, cfg.Presign, cfg.PresignTTL)
	v1.GET("/identities/:id/sightings", sightH.List)

	// Cameras
	camH := handlers.NewCameraHandler(cfg.Store, cfg.Run)
	v1.GET("/cameras", camH.List)
	v1.GET("/run", camH.Run)

	return r
}

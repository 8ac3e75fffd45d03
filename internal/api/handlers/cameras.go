package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/orchestrator"
	"github.com/your-org/attendance/pkg/dto"
)

type CameraLister interface {
	ListCameraConfigs(ctx context.Context) ([]models.CameraConfig, error)
}

// RunStatus reports the live workers of the current run.
type RunStatus interface {
	Status() (active bool, workers []orchestrator.WorkerResult)
}

type CameraHandler struct {
	cameras CameraLister
	run     RunStatus
}

func NewCameraHandler(cameras CameraLister, run RunStatus) *CameraHandler {
	return &CameraHandler{cameras: cameras, run: run}
}

// List returns the configured cameras merged with live worker state.
func (h *CameraHandler) List(c *gin.Context) {
	cams, err := h.cameras.ListCameraConfigs(c.Request.Context())
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	live := map[string]orchestrator.WorkerResult{}
	if h.run != nil {
		_, workers := h.run.Status()
		for _, w := range workers {
			live[w.Camera] = w
		}
	}

	resp := make([]dto.CameraResponse, 0, len(cams))
	for _, cam := range cams {
		r := dto.CameraResponse{Name: cam.Name, Source: cam.Source, Threshold: cam.Threshold}
		if w, ok := live[cam.Name]; ok {
			r.State = string(w.State)
			r.Frames = w.Frames
		}
		resp = append(resp, r)
	}
	c.JSON(http.StatusOK, resp)
}

func (h *CameraHandler) Run(c *gin.Context) {
	resp := dto.RunStatusResponse{Workers: []dto.WorkerStatus{}}
	if h.run != nil {
		active, workers := h.run.Status()
		resp.Active = active
		for _, w := range workers {
			resp.Workers = append(resp.Workers, dto.WorkerStatus{
				Camera: w.Camera,
				State:  string(w.State),
				Frames: w.Frames,
				Error:  w.Error,
			})
		}
	}
	c.JSON(http.StatusOK, resp)
}

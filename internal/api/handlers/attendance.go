package handlers

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/clock"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/pkg/dto"
)

// AttendanceStore is the read side of the ledger.
type AttendanceStore interface {
	ListAttendance(ctx context.Context, from, to time.Time, nameFilter string) ([]models.AttendanceRow, error)
	CountActiveIdentities(ctx context.Context) (int, error)
}

type AttendanceHandler struct {
	store         AttendanceStore
	loc           *time.Location
	incidentAfter time.Duration
	clock         clock.Clock
}

func NewAttendanceHandler(store AttendanceStore, loc *time.Location, incidentAfter time.Duration, clk clock.Clock) *AttendanceHandler {
	if loc == nil {
		loc = time.Local
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &AttendanceHandler{store: store, loc: loc, incidentAfter: incidentAfter, clock: clk}
}

func (h *AttendanceHandler) today() time.Time {
	return attendance.CalendarDate(h.clock.Now(), h.loc)
}

// List returns attendance rows for ?date= or ?from=&to=, optionally filtered
// by ?q= on the identity name.
func (h *AttendanceHandler) List(c *gin.Context) {
	from, to, ok := queryRange(c, h.today())
	if !ok {
		return
	}

	rows, err := h.store.ListAttendance(c.Request.Context(), from, to, c.Query("q"))
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	resp := dto.AttendanceListResponse{
		From:    from.Format(time.DateOnly),
		To:      to.Format(time.DateOnly),
		Records: make([]dto.AttendanceResponse, 0, len(rows)),
		Total:   len(rows),
	}
	for _, r := range rows {
		resp.Records = append(resp.Records, h.toResponse(r))
	}
	c.JSON(http.StatusOK, resp)
}

// Report streams the CSV export for the requested range.
func (h *AttendanceHandler) Report(c *gin.Context) {
	from, to, ok := queryRange(c, h.today())
	if !ok {
		return
	}

	rows, err := h.store.ListAttendance(c.Request.Context(), from, to, c.Query("q"))
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	name := fmt.Sprintf("attendance_%s_%s.csv", from.Format(time.DateOnly), to.Format(time.DateOnly))
	c.Header("Content-Type", "text/csv; charset=utf-8")
	c.Header("Content-Disposition", `attachment; filename="`+name+`"`)
	c.Status(http.StatusOK)
	if err := attendance.WriteCSV(c.Writer, rows, h.loc); err != nil {
		// headers are already out
		_ = c.Error(err)
	}
}

func (h *AttendanceHandler) Incidents(c *gin.Context) {
	date, err := queryDate(c, "date", h.today())
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}

	rows, err := h.store.ListAttendance(c.Request.Context(), date, date, "")
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	found := attendance.FindIncidents(rows, h.clock.Now(), h.incidentAfter, h.loc)
	resp := dto.IncidentListResponse{
		Date:      date.Format(time.DateOnly),
		Incidents: make([]dto.IncidentResponse, 0, len(found)),
	}
	for _, in := range found {
		resp.Incidents = append(resp.Incidents, dto.IncidentResponse{
			Type:        string(in.Type),
			IdentityID:  in.IdentityID,
			Name:        in.Name,
			Time:        in.Time,
			Description: in.Description,
		})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AttendanceHandler) Dashboard(c *gin.Context) {
	date, err := queryDate(c, "date", h.today())
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return
	}
	ctx := c.Request.Context()

	total, err := h.store.CountActiveIdentities(ctx)
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}
	rows, err := h.store.ListAttendance(ctx, date, date, "")
	if err != nil {
		abort(c, http.StatusInternalServerError, err)
		return
	}

	s := attendance.Summarize(date, total, rows, h.clock.Now(), h.incidentAfter, h.loc)
	resp := dto.DashboardResponse{
		Date:            s.Date,
		TotalIdentities: s.TotalIdentities,
		Present:         s.Present,
		CheckedOut:      s.CheckedOut,
		Incidents:       s.Incidents,
		Recent:          make([]dto.RecentCheckIn, 0, len(s.Recent)),
	}
	for _, r := range s.Recent {
		resp.Recent = append(resp.Recent, dto.RecentCheckIn{Name: r.Name, Time: r.Time})
	}
	c.JSON(http.StatusOK, resp)
}

func (h *AttendanceHandler) toResponse(r models.AttendanceRow) dto.AttendanceResponse {
	resp := dto.AttendanceResponse{
		ID:         r.ID,
		IdentityID: r.IdentityID,
		Name:       r.Name,
		Code:       r.Code,
		Date:       r.Date.Format(time.DateOnly),
		State:      string(r.State()),
	}
	if r.CheckIn != nil {
		resp.CheckIn = r.CheckIn.In(h.loc).Format(time.RFC3339)
	}
	if r.CheckOut != nil {
		resp.CheckOut = r.CheckOut.In(h.loc).Format(time.RFC3339)
		resp.StayedTime = attendance.StayedTime(r.AttendanceRecord)
	}
	return resp
}

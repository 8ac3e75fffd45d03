// Package attendance derives check-in and check-out events from gated
// recognitions.
package attendance

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/patrickmn/go-cache"

	"github.com/your-org/attendance/internal/models"
)

// Store persists attendance records: read-or-create by (identity, date),
// update in place, never delete.
type Store interface {
	GetOrCreate(ctx context.Context, identityID uuid.UUID, date time.Time) (*models.AttendanceRecord, error)
	Save(ctx context.Context, rec *models.AttendanceRecord) error
}

type LedgerOptions struct {
	MinimumStay      time.Duration
	Location         *time.Location
	TerminalCacheTTL time.Duration
}

// Ledger runs the Unmarked -> CheckedIn -> CheckedOut machine for each
// (identity, date). It is safe for concurrent use; concurrent transitions
// for the same identity resolve through the idempotent branches.
type Ledger struct {
	store    Store
	minStay  time.Duration
	loc      *time.Location
	terminal *cache.Cache
}

func NewLedger(store Store, opts LedgerOptions) *Ledger {
	if opts.MinimumStay <= 0 {
		opts.MinimumStay = 60 * time.Second
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.TerminalCacheTTL <= 0 {
		opts.TerminalCacheTTL = 10 * time.Minute
	}
	return &Ledger{
		store:    store,
		minStay:  opts.MinimumStay,
		loc:      opts.Location,
		terminal: cache.New(opts.TerminalCacheTTL, 2*opts.TerminalCacheTTL),
	}
}

// Record applies one gated recognition of id at now.
func (l *Ledger) Record(ctx context.Context, id models.Identity, camera string, now time.Time) (models.AttendanceEvent, error) {
	date := CalendarDate(now, l.loc)
	ev := models.AttendanceEvent{
		IdentityID: id.ID,
		Name:       id.Name,
		Camera:     camera,
		Date:       date.Format(time.DateOnly),
		At:         now,
	}

	key := id.ID.String() + "|" + ev.Date
	if v, ok := l.terminal.Get(key); ok {
		rec := v.(models.AttendanceRecord)
		ev.Kind = models.EventAlreadyCheckedOut
		ev.CheckIn, ev.CheckOut = rec.CheckIn, rec.CheckOut
		return ev, nil
	}

	rec, err := l.store.GetOrCreate(ctx, id.ID, date)
	if err != nil {
		return ev, fmt.Errorf("get attendance record: %w", err)
	}

	switch rec.State() {
	case models.StateUnmarked:
		t := now
		rec.CheckIn = &t
		if err := l.store.Save(ctx, rec); err != nil {
			return ev, fmt.Errorf("save check-in: %w", err)
		}
		ev.Kind = models.EventCheckedIn

	case models.StateCheckedIn:
		if now.Sub(*rec.CheckIn) > l.minStay {
			t := now
			rec.CheckOut = &t
			if err := l.store.Save(ctx, rec); err != nil {
				return ev, fmt.Errorf("save check-out: %w", err)
			}
			ev.Kind = models.EventCheckedOut
			l.terminal.SetDefault(key, *rec)
		} else {
			ev.Kind = models.EventAlreadyCheckedIn
		}

	case models.StateCheckedOut:
		ev.Kind = models.EventAlreadyCheckedOut
		l.terminal.SetDefault(key, *rec)
	}

	ev.CheckIn, ev.CheckOut = rec.CheckIn, rec.CheckOut
	return ev, nil
}

// CalendarDate returns the date of t in loc as midnight UTC, the form dates
// are stored in.
func CalendarDate(t time.Time, loc *time.Location) time.Time {
	y, m, d := t.In(loc).Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

package notify

import (
	"context"
	"errors"

	"github.com/your-org/attendance/internal/models"
)

type Notifier interface {
	Notify(ctx context.Context, ev models.AttendanceEvent) error
}

type Func func(ctx context.Context, ev models.AttendanceEvent) error

func (f Func) Notify(ctx context.Context, ev models.AttendanceEvent) error { return f(ctx, ev) }

// Fanout delivers to every notifier; one failing sink does not stop the
// others.
type Fanout []Notifier

func (f Fanout) Notify(ctx context.Context, ev models.AttendanceEvent) error {
	var errs []error
	for _, n := range f {
		if err := n.Notify(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TransitionsOnly forwards only events that changed a record.
func TransitionsOnly(n Notifier) Notifier {
	return Func(func(ctx context.Context, ev models.AttendanceEvent) error {
		if !ev.Transition() {
			return nil
		}
		return n.Notify(ctx, ev)
	})
}

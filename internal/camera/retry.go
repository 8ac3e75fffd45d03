package camera

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/your-org/attendance/internal/clock"
)

var ErrRetriesExhausted = errors.New("retries exhausted")

// RetryPolicy retries an operation a bounded number of times with a fixed
// backoff. The backoff also follows the final failed attempt, so three
// attempts with a 2s backoff give up after 6s.
type RetryPolicy struct {
	Attempts int
	Backoff  time.Duration
	Clock    clock.Clock
}

// Do calls fn until it succeeds, the attempts run out or ctx is done.
func (p RetryPolicy) Do(ctx context.Context, fn func(ctx context.Context, attempt int) error) error {
	clk := p.Clock
	if clk == nil {
		clk = clock.Real()
	}
	attempts := max(p.Attempts, 1)

	var last error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if last = fn(ctx, attempt); last == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-clk.After(p.Backoff):
		}
	}
	return fmt.Errorf("%w after %d attempts: %w", ErrRetriesExhausted, attempts, last)
}

package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/your-org/attendance/pkg/dto"
)

var errInvalidLimit = errors.New("limit must be a positive integer")

func abort(c *gin.Context, status int, err error) {
	c.AbortWithStatusJSON(status, dto.ErrorResponse{Error: err.Error()})
}

// queryDate parses a YYYY-MM-DD parameter into the stored midnight-UTC form.
// An absent parameter yields def.
func queryDate(c *gin.Context, name string, def time.Time) (time.Time, error) {
	v := c.Query(name)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseInLocation(time.DateOnly, v, time.UTC)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s %q: want YYYY-MM-DD", name, v)
	}
	return d, nil
}

// queryRange reads from/to, falling back to date, then to today.
func queryRange(c *gin.Context, today time.Time) (from, to time.Time, ok bool) {
	day, err := queryDate(c, "date", today)
	if err != nil {
		abort(c, http.StatusBadRequest, err)
		return from, to, false
	}
	if from, err = queryDate(c, "from", day); err != nil {
		abort(c, http.StatusBadRequest, err)
		return from, to, false
	}
	if to, err = queryDate(c, "to", day); err != nil {
		abort(c, http.StatusBadRequest, err)
		return from, to, false
	}
	if to.Before(from) {
		abort(c, http.StatusBadRequest, fmt.Errorf("to %s is before from %s", to.Format(time.DateOnly), from.Format(time.DateOnly)))
		return from, to, false
	}
	return from, to, true
}

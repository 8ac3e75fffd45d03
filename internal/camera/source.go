// Package camera runs one capture-and-recognize loop per camera.
package camera

import (
	"context"
	"errors"
	"image"
)

var (
	ErrProbeFailed = errors.New("camera liveness probe failed")
	ErrReadTimeout = errors.New("frame read timed out")
)

// Source is an open camera handle. Frames are returned in capture order.
type Source interface {
	ReadFrame(ctx context.Context) (image.Image, error)
	Close() error
}

// Opener opens camera sources. Probe is a cheap liveness check done before
// committing to Open.
type Opener interface {
	Probe(ctx context.Context, source string) error
	Open(ctx context.Context, source string) (Source, error)
}

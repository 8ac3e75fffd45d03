package recognition

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/clock"
	"github.com/your-org/attendance/internal/models"
)

type fakeRoster struct {
	mu    sync.Mutex
	ids   []models.Identity
	err   error
	calls atomic.Int32
}

func (r *fakeRoster) ListActiveIdentities(context.Context) ([]models.Identity, error) {
	r.calls.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]models.Identity(nil), r.ids...), r.err
}

func (r *fakeRoster) set(ids ...models.Identity) {
	r.mu.Lock()
	r.ids = ids
	r.mu.Unlock()
}

// imageLoader serves a 4x4 PNG whose red channel is the byte stored under
// the reference path.
type imageLoader map[string]uint8

func (l imageLoader) Load(_ context.Context, ref string) ([]byte, error) {
	v, ok := l[ref]
	if !ok {
		return nil, errors.New("object not found")
	}
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			img.Set(x, y, color.RGBA{v, 0, 0, 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// redEncoder embeds an image as its red channel; 0 means "no face".
type redEncoder struct{}

func (redEncoder) EncodeReference(img image.Image) ([]float32, error) {
	r, _, _, _ := img.At(0, 0).RGBA()
	if r == 0 {
		return nil, errors.New("no face found")
	}
	return []float32{float32(r >> 8)}, nil
}

func withImage(name, ref string) models.Identity {
	id := identity(name)
	id.ReferenceImage = ref
	return id
}

func newTestStore(roster *fakeRoster, clk clock.Clock) *EmbeddingStore {
	loader := imageLoader{"a.png": 10, "b.png": 20, "c.png": 30, "noface.png": 0}
	return NewEmbeddingStore(roster, loader, redEncoder{}, StoreOptions{TTL: 300 * time.Second, Clock: clk})
}

func TestSnapshotBuildsLazilyAndSkipsFailures(t *testing.T) {
	a, b := withImage("a", "a.png"), withImage("b", "b.png")
	roster := &fakeRoster{}
	roster.set(a, withImage("missing", "gone.png"), b, withImage("noface", "noface.png"), identity("nopath"))
	store := newTestStore(roster, clock.NewFake(time.Unix(1000, 0)))
	defer store.Close()

	assert.Zero(t, roster.calls.Load())

	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)

	require.Equal(t, 2, snap.Len())
	assert.Equal(t, a.ID, snap.Identity(0).ID)
	assert.Equal(t, b.ID, snap.Identity(1).ID)
	assert.Equal(t, time.Unix(1000, 0), snap.BuiltAt())
}

func TestSnapshotFreshWithinTTL(t *testing.T) {
	roster := &fakeRoster{}
	roster.set(withImage("a", "a.png"))
	clk := clock.NewFake(time.Unix(1000, 0))
	store := newTestStore(roster, clk)
	defer store.Close()

	first, err := store.Snapshot(context.Background())
	require.NoError(t, err)

	clk.Advance(300 * time.Second)
	second, err := store.Snapshot(context.Background())
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), roster.calls.Load())
}

func TestSnapshotStaleReturnsOldThenRefreshes(t *testing.T) {
	a := withImage("a", "a.png")
	roster := &fakeRoster{}
	roster.set(a)
	clk := clock.NewFake(time.Unix(1000, 0))
	store := newTestStore(roster, clk)
	defer store.Close()

	first, err := store.Snapshot(context.Background())
	require.NoError(t, err)

	roster.set(a, withImage("c", "c.png"))
	clk.Advance(301 * time.Second)

	stale, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, stale, "a stale snapshot is served without blocking")

	store.Close()
	fresh, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.Len())
}

func TestInvalidateForcesRebuild(t *testing.T) {
	roster := &fakeRoster{}
	roster.set(withImage("a", "a.png"))
	store := newTestStore(roster, clock.NewFake(time.Unix(1000, 0)))
	defer store.Close()

	_, err := store.Snapshot(context.Background())
	require.NoError(t, err)

	roster.set()
	store.Invalidate()
	_, err = store.Snapshot(context.Background())
	require.NoError(t, err)
	store.Close()

	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Zero(t, snap.Len())
	assert.Equal(t, int32(2), roster.calls.Load())
}

func TestRebuildRosterErrorKeepsOldSnapshot(t *testing.T) {
	roster := &fakeRoster{}
	roster.set(withImage("a", "a.png"))
	store := newTestStore(roster, clock.NewFake(time.Unix(1000, 0)))
	defer store.Close()

	first, err := store.Rebuild(context.Background())
	require.NoError(t, err)

	roster.mu.Lock()
	roster.err = errors.New("db down")
	roster.mu.Unlock()
	store.Invalidate()

	_, err = store.Rebuild(context.Background())
	require.Error(t, err)

	snap, err := store.Snapshot(context.Background())
	require.NoError(t, err)
	assert.Same(t, first, snap)

	store.Close()
	assert.True(t, store.dirty.Load(), "invalidation survives a failed rebuild")
}

func TestFirstSnapshotPropagatesRosterError(t *testing.T) {
	roster := &fakeRoster{err: errors.New("db down")}
	store := newTestStore(roster, clock.NewFake(time.Unix(1000, 0)))
	defer store.Close()

	_, err := store.Snapshot(context.Background())
	assert.Error(t, err)
}

func TestSnapshotAtomicUnderConcurrentRebuilds(t *testing.T) {
	roster := &fakeRoster{}
	roster.set(withImage("a", "a.png"))
	store := newTestStore(roster, clock.NewFake(time.Unix(1000, 0)))
	defer store.Close()

	_, err := store.Rebuild(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	var bad atomic.Int32
	for r := 0; r < 8; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for ctx.Err() == nil {
				snap := store.current.Load()
				if len(snap.embeddings) != len(snap.identities) {
					bad.Add(1)
				}
				_ = Match([]float32{15}, snap, 100)
			}
		}()
	}

	sets := [][]models.Identity{
		{withImage("a", "a.png")},
		{withImage("a", "a.png"), withImage("b", "b.png"), withImage("c", "c.png")},
		{},
	}
	for i := 0; i < 50; i++ {
		roster.set(sets[i%len(sets)]...)
		_, err := store.Rebuild(context.Background())
		require.NoError(t, err)
	}
	cancel()
	wg.Wait()

	assert.Zero(t, bad.Load())
}

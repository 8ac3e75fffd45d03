package recognition

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/your-org/attendance/internal/clock"
	"github.com/your-org/attendance/internal/models"
	"github.com/your-org/attendance/internal/observability"
	"github.com/your-org/attendance/internal/vision"
)

type RosterSource interface {
	ListActiveIdentities(ctx context.Context) ([]models.Identity, error)
}

// ImageLoader fetches a reference image by the path stored on the identity.
type ImageLoader interface {
	Load(ctx context.Context, ref string) ([]byte, error)
}

type ReferenceEncoder interface {
	EncodeReference(img image.Image) ([]float32, error)
}

type StoreOptions struct {
	TTL            time.Duration
	Parallelism    int
	RebuildTimeout time.Duration
	Clock          clock.Clock
}

// EmbeddingStore owns the shared roster snapshot. Readers get the current
// snapshot without locking; rebuilds publish a new snapshot with a single
// pointer swap.
type EmbeddingStore struct {
	roster  RosterSource
	images  ImageLoader
	encoder ReferenceEncoder
	opts    StoreOptions

	current    atomic.Pointer[Snapshot]
	dirty      atomic.Bool
	refreshing atomic.Bool
	flight     singleflight.Group
	wg         sync.WaitGroup
}

func NewEmbeddingStore(roster RosterSource, images ImageLoader, encoder ReferenceEncoder, opts StoreOptions) *EmbeddingStore {
	if opts.TTL <= 0 {
		opts.TTL = 300 * time.Second
	}
	if opts.Parallelism <= 0 {
		opts.Parallelism = 4
	}
	if opts.RebuildTimeout <= 0 {
		opts.RebuildTimeout = 2 * time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	return &EmbeddingStore{roster: roster, images: images, encoder: encoder, opts: opts}
}

// Snapshot returns the current snapshot. The first call builds it
// synchronously. Later calls never wait: a stale or invalidated snapshot is
// returned as is while a single background rebuild replaces it.
func (s *EmbeddingStore) Snapshot(ctx context.Context) (*Snapshot, error) {
	snap := s.current.Load()
	if snap == nil {
		return s.Rebuild(ctx)
	}
	if s.dirty.Load() || s.opts.Clock.Now().Sub(snap.BuiltAt()) > s.opts.TTL {
		s.refreshAsync(ctx)
	}
	return snap, nil
}

// Invalidate forces the next Snapshot call to rebuild regardless of TTL.
func (s *EmbeddingStore) Invalidate() {
	s.dirty.Store(true)
	slog.Info("roster snapshot invalidated")
}

// Rebuild builds and publishes a new snapshot. Concurrent calls share one
// build.
func (s *EmbeddingStore) Rebuild(ctx context.Context) (*Snapshot, error) {
	v, err, _ := s.flight.Do("rebuild", func() (any, error) {
		return s.build(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Snapshot), nil
}

// Close waits for a background rebuild in flight.
func (s *EmbeddingStore) Close() {
	s.wg.Wait()
}

func (s *EmbeddingStore) refreshAsync(ctx context.Context) {
	if !s.refreshing.CompareAndSwap(false, true) {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.refreshing.Store(false)

		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.RebuildTimeout)
		defer cancel()
		if _, err := s.Rebuild(rctx); err != nil {
			slog.Warn("refresh roster snapshot", "error", err)
		}
	}()
}

func (s *EmbeddingStore) build(ctx context.Context) (*Snapshot, error) {
	start := time.Now()
	wasDirty := s.dirty.Swap(false)

	identities, err := s.roster.ListActiveIdentities(ctx)
	if err != nil {
		if wasDirty {
			s.dirty.Store(true)
		}
		return nil, fmt.Errorf("list active identities: %w", err)
	}

	embeddings := make([][]float32, len(identities))
	var g errgroup.Group
	g.SetLimit(s.opts.Parallelism)
	for i, id := range identities {
		g.Go(func() error {
			emb, err := s.encodeIdentity(ctx, id)
			if err != nil {
				observability.SnapshotIdentityFailures.Inc()
				slog.Warn("skip identity in roster snapshot",
					"identity_id", id.ID,
					"name", id.Name,
					"error", err,
				)
				return nil
			}
			embeddings[i] = emb
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		if wasDirty {
			s.dirty.Store(true)
		}
		return nil, fmt.Errorf("build roster snapshot: %w", err)
	}

	snap := &Snapshot{builtAt: s.opts.Clock.Now()}
	for i, emb := range embeddings {
		if emb == nil {
			continue
		}
		snap.embeddings = append(snap.embeddings, emb)
		snap.identities = append(snap.identities, identities[i])
	}
	s.current.Store(snap)

	observability.SnapshotSize.Set(float64(snap.Len()))
	observability.SnapshotRebuildDuration.Observe(time.Since(start).Seconds())
	slog.Info("roster snapshot rebuilt",
		"identities", len(identities),
		"embeddings", snap.Len(),
		"duration", time.Since(start).String(),
	)
	return snap, nil
}

func (s *EmbeddingStore) encodeIdentity(ctx context.Context, id models.Identity) ([]float32, error) {
	if id.ReferenceImage == "" {
		return nil, fmt.Errorf("identity has no reference image")
	}
	data, err := s.images.Load(ctx, id.ReferenceImage)
	if err != nil {
		return nil, fmt.Errorf("load reference image: %w", err)
	}
	img, err := vision.DecodeImage(data)
	if err != nil {
		return nil, err
	}
	emb, err := s.encoder.EncodeReference(img)
	if err != nil {
		return nil, fmt.Errorf("encode reference image: %w", err)
	}
	return emb, nil
}

package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/your-org/attendance/internal/attendance"
	"github.com/your-org/attendance/internal/models"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(s.Close)
	return s
}

func addIdentity(t *testing.T, s Store, code, name string, active bool) models.Identity {
	t.Helper()
	id := models.Identity{Code: code, Name: name, ReferenceImage: code + ".jpg", Active: active}
	require.NoError(t, s.AddIdentity(context.Background(), &id))
	return id
}

func TestSQLiteRoster(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	alice := addIdentity(t, s, "E-001", "Alice", true)
	addIdentity(t, s, "E-002", "Former", false)
	bob := addIdentity(t, s, "E-003", "Bob", true)

	ids, err := s.ListActiveIdentities(ctx)
	require.NoError(t, err)
	require.Len(t, ids, 2)
	assert.Equal(t, alice, ids[0])
	assert.Equal(t, bob, ids[1])

	n, err := s.CountActiveIdentities(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	dup := models.Identity{Code: "E-001", Name: "Clone", ReferenceImage: "x.jpg", Active: true}
	assert.Error(t, s.AddIdentity(ctx, &dup))
}

func TestSQLiteCameras(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.AddCamera(ctx, models.CameraConfig{Name: "lobby", Source: "0", Threshold: 0.6}))
	require.NoError(t, s.AddCamera(ctx, models.CameraConfig{Name: "dock", Source: "rtsp://dock/live"}))
	require.NoError(t, s.AddCamera(ctx, models.CameraConfig{Name: "lobby", Source: "1", Threshold: 0.5}))

	cams, err := s.ListCameraConfigs(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.CameraConfig{
		{Name: "dock", Source: "rtsp://dock/live"},
		{Name: "lobby", Source: "1", Threshold: 0.5},
	}, cams)
}

func TestSQLiteGetOrCreate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := addIdentity(t, s, "E-001", "Alice", true)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	first, err := s.GetOrCreate(ctx, alice.ID, day)
	require.NoError(t, err)
	assert.Equal(t, models.StateUnmarked, first.State())
	assert.True(t, first.Date.Equal(day))

	again, err := s.GetOrCreate(ctx, alice.ID, day)
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)

	next, err := s.GetOrCreate(ctx, alice.ID, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, next.ID)
}

func TestSQLiteGetOrCreateConcurrent(t *testing.T) {
	s := newTestStore(t)
	alice := addIdentity(t, s, "E-001", "Alice", true)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	var wg sync.WaitGroup
	got := make([]uuid.UUID, 8)
	for i := range got {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rec, err := s.GetOrCreate(context.Background(), alice.ID, day)
			if assert.NoError(t, err) {
				got[i] = rec.ID
			}
		}()
	}
	wg.Wait()

	for _, id := range got {
		assert.Equal(t, got[0], id)
	}
}

func TestSQLiteSaveKeepsFirstWrite(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := addIdentity(t, s, "E-001", "Alice", true)
	day := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

	a, err := s.GetOrCreate(ctx, alice.ID, day)
	require.NoError(t, err)
	b := *a

	in1 := day.Add(9 * time.Hour)
	in2 := day.Add(9*time.Hour + time.Second)
	a.CheckIn = &in1
	b.CheckIn = &in2
	require.NoError(t, s.Save(ctx, a))
	require.NoError(t, s.Save(ctx, &b))

	got, err := s.GetOrCreate(ctx, alice.ID, day)
	require.NoError(t, err)
	require.NotNil(t, got.CheckIn)
	assert.True(t, got.CheckIn.Equal(in1))
	assert.Nil(t, got.CheckOut)

	out := day.Add(17 * time.Hour)
	got.CheckOut = &out
	require.NoError(t, s.Save(ctx, got))

	final, err := s.GetOrCreate(ctx, alice.ID, day)
	require.NoError(t, err)
	assert.Equal(t, models.StateCheckedOut, final.State())
	assert.True(t, final.CheckOut.Equal(out))

	missing := &models.AttendanceRecord{ID: uuid.New()}
	assert.ErrorIs(t, s.Save(ctx, missing), ErrNotFound)
}

func TestSQLiteLedgerScenario(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := addIdentity(t, s, "E-001", "Alice", true)
	bob := addIdentity(t, s, "E-002", "Bob", true)

	ledger := attendance.NewLedger(s, attendance.LedgerOptions{
		MinimumStay: 60 * time.Second,
		Location:    time.UTC,
	})
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	var kinds []models.EventKind
	for _, offset := range []time.Duration{0, 30 * time.Second, 65 * time.Second} {
		ev, err := ledger.Record(ctx, alice, "lobby", start.Add(offset))
		require.NoError(t, err)
		kinds = append(kinds, ev.Kind)
	}
	assert.Equal(t, []models.EventKind{
		models.EventCheckedIn, models.EventAlreadyCheckedIn, models.EventCheckedOut,
	}, kinds)

	_, err := ledger.Record(ctx, bob, "dock", start.Add(time.Hour))
	require.NoError(t, err)

	day := attendance.CalendarDate(start, time.UTC)
	rows, err := s.ListAttendance(ctx, day, day, "")
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "Alice", rows[0].Name)
	assert.Equal(t, "E-001", rows[0].Code)
	assert.True(t, rows[0].CheckIn.Equal(start))
	assert.True(t, rows[0].CheckOut.Equal(start.Add(65*time.Second)))
	assert.Equal(t, "Bob", rows[1].Name)
	assert.Nil(t, rows[1].CheckOut)

	filtered, err := s.ListAttendance(ctx, day, day, "bo")
	require.NoError(t, err)
	require.Len(t, filtered, 1)
	assert.Equal(t, bob.ID, filtered[0].IdentityID)

	none, err := s.ListAttendance(ctx, day.AddDate(0, 0, 1), day.AddDate(0, 0, 2), "")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestSQLiteSightings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	alice := addIdentity(t, s, "E-001", "Alice", true)
	base := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	for i := 0; i < 3; i++ {
		require.NoError(t, s.RecordSighting(ctx, &models.Sighting{
			IdentityID:  alice.ID,
			Camera:      "lobby",
			Distance:    0.25,
			Embedding:   []float32{0.1, 0.2, float32(i)},
			SnapshotKey: "sightings/lobby/x.jpg",
			Event:       models.EventCheckedIn,
			SeenAt:      base.Add(time.Duration(i) * time.Minute),
		}))
	}

	got, err := s.ListSightings(ctx, alice.ID, 2)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.True(t, got[0].SeenAt.Equal(base.Add(2*time.Minute)))
	assert.Equal(t, []float32{0.1, 0.2, 2}, got[0].Embedding)
	assert.Equal(t, models.EventCheckedIn, got[0].Event)
	assert.Equal(t, "lobby", got[0].Camera)
}

type objectsFunc func(ctx context.Context, key string) ([]byte, error)

func (f objectsFunc) Load(ctx context.Context, key string) ([]byte, error) { return f(ctx, key) }

func TestReferenceLoader(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "alice.jpg"), []byte("disk"), 0o600))

	objects := objectsFunc(func(_ context.Context, key string) ([]byte, error) {
		if key == "faces/alice.jpg" {
			return []byte("bucket"), nil
		}
		return nil, ErrNotFound
	})

	ctx := context.Background()
	withObjects := ReferenceLoader{Files: FileLoader{Root: dir}, Objects: objects}
	diskOnly := ReferenceLoader{Files: FileLoader{Root: dir}}

	data, err := withObjects.Load(ctx, "faces/alice.jpg")
	require.NoError(t, err)
	assert.Equal(t, "bucket", string(data))

	data, err = withObjects.Load(ctx, "file://alice.jpg")
	require.NoError(t, err)
	assert.Equal(t, "disk", string(data))

	data, err = diskOnly.Load(ctx, "alice.jpg")
	require.NoError(t, err)
	assert.Equal(t, "disk", string(data))

	_, err = diskOnly.Load(ctx, "bob.jpg")
	assert.True(t, errors.Is(err, ErrNotFound))
}

// Package storage holds the relational stores (Postgres, SQLite) and the
// object stores that back reference images and face snapshots.
package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/models"
)

var ErrNotFound = errors.New("not found")

// Store is what the pipeline and the API need from the relational backend.
type Store interface {
	Migrate(ctx context.Context) error
	Ping(ctx context.Context) error
	Close()

	ListActiveIdentities(ctx context.Context) ([]models.Identity, error)
	CountActiveIdentities(ctx context.Context) (int, error)
	AddIdentity(ctx context.Context, id *models.Identity) error

	ListCameraConfigs(ctx context.Context) ([]models.CameraConfig, error)
	AddCamera(ctx context.Context, c models.CameraConfig) error

	GetOrCreate(ctx context.Context, identityID uuid.UUID, date time.Time) (*models.AttendanceRecord, error)
	Save(ctx context.Context, rec *models.AttendanceRecord) error
	ListAttendance(ctx context.Context, from, to time.Time, nameFilter string) ([]models.AttendanceRow, error)

	RecordSighting(ctx context.Context, s *models.Sighting) error
	ListSightings(ctx context.Context, identityID uuid.UUID, limit int) ([]models.Sighting, error)
}

var (
	_ Store = (*PostgresStore)(nil)
	_ Store = (*SQLiteStore)(nil)
)

// Open connects to the configured backend and applies the schema.
func Open(ctx context.Context, cfg *config.Config) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Store.Driver {
	case "postgres":
		s, err = NewPostgresStore(ctx, cfg.Database)
	case "sqlite":
		s, err = NewSQLiteStore(cfg.Store.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
	if err != nil {
		return nil, err
	}
	if err := s.Migrate(ctx); err != nil {
		s.Close()
		return nil, fmt.Errorf("migrate %s: %w", cfg.Store.Driver, err)
	}
	return s, nil
}

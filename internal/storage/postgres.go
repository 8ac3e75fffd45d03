package storage

import (
	"context"
	"embed"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"

	"github.com/your-org/attendance/internal/config"
	"github.com/your-org/attendance/internal/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, cfg config.DatabaseConfig) (*PostgresStore, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = int32(cfg.MaxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Migrate applies the embedded schema. Every statement is idempotent.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	files, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	for _, f := range files {
		sql, err := migrationsFS.ReadFile("migrations/" + f.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f.Name(), err)
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("apply migration %s: %w", f.Name(), err)
		}
	}
	return nil
}

// --- Roster ---

// ListActiveIdentities returns active identities in enrolment order, which
// fixes the snapshot order and so the tie-break between equal distances.
func (s *PostgresStore) ListActiveIdentities(ctx context.Context) ([]models.Identity, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, code, name, reference_image, active FROM identities WHERE active ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	defer rows.Close()

	var ids []models.Identity
	for rows.Next() {
		var id models.Identity
		if err := rows.Scan(&id.ID, &id.Code, &id.Name, &id.ReferenceImage, &id.Active); err != nil {
			return nil, fmt.Errorf("scan identity: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (s *PostgresStore) CountActiveIdentities(ctx context.Context) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM identities WHERE active`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) AddIdentity(ctx context.Context, id *models.Identity) error {
	if id.ID == uuid.Nil {
		id.ID = uuid.New()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identities (id, code, name, reference_image, active) VALUES ($1, $2, $3, $4, $5)`,
		id.ID, id.Code, id.Name, id.ReferenceImage, id.Active)
	if err != nil {
		return fmt.Errorf("add identity: %w", err)
	}
	return nil
}

// --- Cameras ---

func (s *PostgresStore) ListCameraConfigs(ctx context.Context) ([]models.CameraConfig, error) {
	rows, err := s.pool.Query(ctx, `SELECT name, source, threshold FROM cameras WHERE active ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	defer rows.Close()

	var cams []models.CameraConfig
	for rows.Next() {
		var c models.CameraConfig
		if err := rows.Scan(&c.Name, &c.Source, &c.Threshold); err != nil {
			return nil, fmt.Errorf("scan camera: %w", err)
		}
		cams = append(cams, c)
	}
	return cams, rows.Err()
}

func (s *PostgresStore) AddCamera(ctx context.Context, c models.CameraConfig) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO cameras (name, source, threshold) VALUES ($1, $2, $3)
		 ON CONFLICT (name) DO UPDATE SET source = EXCLUDED.source, threshold = EXCLUDED.threshold, active = TRUE`,
		c.Name, c.Source, c.Threshold)
	if err != nil {
		return fmt.Errorf("add camera: %w", err)
	}
	return nil
}

// --- Attendance ---

// GetOrCreate returns the record for (identityID, date), inserting an empty
// one first. Concurrent callers converge on the same row.
func (s *PostgresStore) GetOrCreate(ctx context.Context, identityID uuid.UUID, date time.Time) (*models.AttendanceRecord, error) {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO attendance (id, identity_id, date) VALUES ($1, $2, $3) ON CONFLICT (identity_id, date) DO NOTHING`,
		uuid.New(), identityID, date)
	if err != nil {
		return nil, fmt.Errorf("insert attendance: %w", err)
	}

	rec := &models.AttendanceRecord{}
	err = s.pool.QueryRow(ctx,
		`SELECT id, identity_id, date, check_in, check_out FROM attendance WHERE identity_id = $1 AND date = $2`,
		identityID, date,
	).Scan(&rec.ID, &rec.IdentityID, &rec.Date, &rec.CheckIn, &rec.CheckOut)
	if err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return rec, nil
}

// Save stores the record's times. A time already set in the database is
// never overwritten.
func (s *PostgresStore) Save(ctx context.Context, rec *models.AttendanceRecord) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE attendance
		 SET check_in = COALESCE(check_in, $2), check_out = COALESCE(check_out, $3), updated_at = now()
		 WHERE id = $1`,
		rec.ID, rec.CheckIn, rec.CheckOut)
	if err != nil {
		return fmt.Errorf("save attendance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("save attendance %s: %w", rec.ID, ErrNotFound)
	}
	return nil
}

// ListAttendance returns records dated within [from, to], joined with their
// identity. nameFilter is a case-insensitive substring match.
func (s *PostgresStore) ListAttendance(ctx context.Context, from, to time.Time, nameFilter string) ([]models.AttendanceRow, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT a.id, a.identity_id, a.date, a.check_in, a.check_out, i.name, i.code
		 FROM attendance a
		 JOIN identities i ON i.id = a.identity_id
		 WHERE a.date BETWEEN $1 AND $2
		   AND ($3 = '' OR i.name ILIKE '%' || $3 || '%')
		 ORDER BY a.date, a.check_in NULLS LAST, i.name`,
		from, to, nameFilter)
	if err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}
	defer rows.Close()

	var out []models.AttendanceRow
	for rows.Next() {
		var r models.AttendanceRow
		if err := rows.Scan(&r.ID, &r.IdentityID, &r.Date, &r.CheckIn, &r.CheckOut, &r.Name, &r.Code); err != nil {
			return nil, fmt.Errorf("scan attendance: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// --- Sightings ---

func (s *PostgresStore) RecordSighting(ctx context.Context, sg *models.Sighting) error {
	if sg.ID == uuid.Nil {
		sg.ID = uuid.New()
	}
	var vec *pgvector.Vector
	if len(sg.Embedding) > 0 {
		v := pgvector.NewVector(sg.Embedding)
		vec = &v
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sightings (id, identity_id, camera, distance, embedding, snapshot_key, event, seen_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		sg.ID, sg.IdentityID, sg.Camera, sg.Distance, vec, sg.SnapshotKey, string(sg.Event), sg.SeenAt)
	if err != nil {
		return fmt.Errorf("record sighting: %w", err)
	}
	return nil
}

// ListSightings returns the most recent sightings of an identity.
func (s *PostgresStore) ListSightings(ctx context.Context, identityID uuid.UUID, limit int) ([]models.Sighting, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, identity_id, camera, distance, embedding, snapshot_key, event, seen_at
		 FROM sightings WHERE identity_id = $1 ORDER BY seen_at DESC LIMIT $2`,
		identityID, limit)
	if err != nil {
		return nil, fmt.Errorf("list sightings: %w", err)
	}
	defer rows.Close()

	var out []models.Sighting
	for rows.Next() {
		var sg models.Sighting
		var vec *pgvector.Vector
		var event string
		if err := rows.Scan(&sg.ID, &sg.IdentityID, &sg.Camera, &sg.Distance, &vec, &sg.SnapshotKey, &event, &sg.SeenAt); err != nil {
			return nil, fmt.Errorf("scan sighting: %w", err)
		}
		if vec != nil {
			sg.Embedding = vec.Slice()
		}
		sg.Event = models.EventKind(event)
		out = append(out, sg)
	}
	return out, rows.Err()
}

package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"github.com/your-org/attendance/internal/models"
)

type identityRow struct {
	ID             string `gorm:"primaryKey"`
	Code           string `gorm:"uniqueIndex;not null"`
	Name           string `gorm:"not null"`
	ReferenceImage string `gorm:"not null"`
	Active         bool   `gorm:"index;not null;default:true"`
	CreatedAt      time.Time
}

func (identityRow) TableName() string { return "identities" }

type cameraRow struct {
	Name      string `gorm:"primaryKey"`
	Source    string `gorm:"not null"`
	Threshold float64
	Active    bool `gorm:"not null;default:true"`
}

func (cameraRow) TableName() string { return "cameras" }

type attendanceRow struct {
	ID         string    `gorm:"primaryKey"`
	IdentityID string    `gorm:"uniqueIndex:idx_attendance_identity_date;not null"`
	Date       time.Time `gorm:"uniqueIndex:idx_attendance_identity_date;index;not null"`
	CheckIn    *time.Time
	CheckOut   *time.Time
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

func (attendanceRow) TableName() string { return "attendance" }

type sightingRow struct {
	ID          string    `gorm:"primaryKey"`
	IdentityID  string    `gorm:"index:idx_sightings_identity_seen;not null"`
	Camera      string    `gorm:"not null"`
	Distance    float64   `gorm:"not null"`
	Embedding   []float32 `gorm:"serializer:json"`
	SnapshotKey string
	Event       string    `gorm:"not null"`
	SeenAt      time.Time `gorm:"index:idx_sightings_identity_seen;not null"`
}

func (sightingRow) TableName() string { return "sightings" }

// SQLiteStore is the single-node backend. It mirrors the Postgres schema;
// embeddings are stored as JSON.
type SQLiteStore struct {
	db *gorm.DB
}

func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("sqlite handle: %w", err)
	}
	// one writer; also keeps an in-memory database on a single connection
	sqlDB.SetMaxOpenConns(1)

	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&identityRow{}, &cameraRow{}, &attendanceRow{}, &sightingRow{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (s *SQLiteStore) Close() {
	if sqlDB, err := s.db.DB(); err == nil {
		_ = sqlDB.Close()
	}
}

func (s *SQLiteStore) ListActiveIdentities(ctx context.Context) ([]models.Identity, error) {
	var rows []identityRow
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("created_at, id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list identities: %w", err)
	}
	ids := make([]models.Identity, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("parse identity id %q: %w", r.ID, err)
		}
		ids = append(ids, models.Identity{
			ID:             id,
			Code:           r.Code,
			Name:           r.Name,
			ReferenceImage: r.ReferenceImage,
			Active:         r.Active,
		})
	}
	return ids, nil
}

func (s *SQLiteStore) CountActiveIdentities(ctx context.Context) (int, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&identityRow{}).Where("active = ?", true).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count identities: %w", err)
	}
	return int(n), nil
}

func (s *SQLiteStore) AddIdentity(ctx context.Context, id *models.Identity) error {
	if id.ID == uuid.Nil {
		id.ID = uuid.New()
	}
	row := identityRow{
		ID:             id.ID.String(),
		Code:           id.Code,
		Name:           id.Name,
		ReferenceImage: id.ReferenceImage,
		Active:         id.Active,
	}
	// Select forces Active=false through instead of the column default
	if err := s.db.WithContext(ctx).Select("*").Create(&row).Error; err != nil {
		return fmt.Errorf("add identity: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListCameraConfigs(ctx context.Context) ([]models.CameraConfig, error) {
	var rows []cameraRow
	if err := s.db.WithContext(ctx).Where("active = ?", true).Order("name").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("list cameras: %w", err)
	}
	cams := make([]models.CameraConfig, 0, len(rows))
	for _, r := range rows {
		cams = append(cams, models.CameraConfig{Name: r.Name, Source: r.Source, Threshold: r.Threshold})
	}
	return cams, nil
}

func (s *SQLiteStore) AddCamera(ctx context.Context, c models.CameraConfig) error {
	row := cameraRow{Name: c.Name, Source: c.Source, Threshold: c.Threshold, Active: true}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"source", "threshold", "active"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("add camera: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetOrCreate(ctx context.Context, identityID uuid.UUID, date time.Time) (*models.AttendanceRecord, error) {
	db := s.db.WithContext(ctx)
	date = date.UTC()

	fresh := attendanceRow{ID: uuid.NewString(), IdentityID: identityID.String(), Date: date}
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(&fresh).Error; err != nil {
		return nil, fmt.Errorf("insert attendance: %w", err)
	}

	var row attendanceRow
	if err := db.Where("identity_id = ? AND date = ?", identityID.String(), date).First(&row).Error; err != nil {
		return nil, fmt.Errorf("get attendance: %w", err)
	}
	return row.record()
}

// Save stores the record's times without overwriting ones already set.
func (s *SQLiteStore) Save(ctx context.Context, rec *models.AttendanceRecord) error {
	res := s.db.WithContext(ctx).Model(&attendanceRow{}).Where("id = ?", rec.ID.String()).Updates(map[string]any{
		"check_in":   gorm.Expr("COALESCE(check_in, ?)", utcPtr(rec.CheckIn)),
		"check_out":  gorm.Expr("COALESCE(check_out, ?)", utcPtr(rec.CheckOut)),
		"updated_at": time.Now().UTC(),
	})
	if res.Error != nil {
		return fmt.Errorf("save attendance: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("save attendance %s: %w", rec.ID, ErrNotFound)
	}
	return nil
}

type attendanceJoin struct {
	ID         string
	IdentityID string
	Date       time.Time
	CheckIn    *time.Time
	CheckOut   *time.Time
	Name       string
	Code       string
}

func (s *SQLiteStore) ListAttendance(ctx context.Context, from, to time.Time, nameFilter string) ([]models.AttendanceRow, error) {
	q := s.db.WithContext(ctx).
		Table("attendance AS a").
		Select("a.id, a.identity_id, a.date, a.check_in, a.check_out, i.name, i.code").
		Joins("JOIN identities i ON i.id = a.identity_id").
		Where("a.date BETWEEN ? AND ?", from.UTC(), to.UTC())
	if nameFilter != "" {
		q = q.Where("i.name LIKE ?", "%"+nameFilter+"%")
	}

	var joined []attendanceJoin
	if err := q.Order("a.date, a.check_in IS NULL, a.check_in, i.name").Scan(&joined).Error; err != nil {
		return nil, fmt.Errorf("list attendance: %w", err)
	}

	out := make([]models.AttendanceRow, 0, len(joined))
	for _, j := range joined {
		rec, err := attendanceRow{ID: j.ID, IdentityID: j.IdentityID, Date: j.Date, CheckIn: j.CheckIn, CheckOut: j.CheckOut}.record()
		if err != nil {
			return nil, err
		}
		out = append(out, models.AttendanceRow{AttendanceRecord: *rec, Name: j.Name, Code: j.Code})
	}
	return out, nil
}

func (s *SQLiteStore) RecordSighting(ctx context.Context, sg *models.Sighting) error {
	if sg.ID == uuid.Nil {
		sg.ID = uuid.New()
	}
	row := sightingRow{
		ID:          sg.ID.String(),
		IdentityID:  sg.IdentityID.String(),
		Camera:      sg.Camera,
		Distance:    sg.Distance,
		Embedding:   sg.Embedding,
		SnapshotKey: sg.SnapshotKey,
		Event:       string(sg.Event),
		SeenAt:      sg.SeenAt.UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("record sighting: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListSightings(ctx context.Context, identityID uuid.UUID, limit int) ([]models.Sighting, error) {
	var rows []sightingRow
	err := s.db.WithContext(ctx).
		Where("identity_id = ?", identityID.String()).
		Order("seen_at DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, fmt.Errorf("list sightings: %w", err)
	}

	out := make([]models.Sighting, 0, len(rows))
	for _, r := range rows {
		id, err := uuid.Parse(r.ID)
		if err != nil {
			return nil, fmt.Errorf("parse sighting id %q: %w", r.ID, err)
		}
		out = append(out, models.Sighting{
			ID:          id,
			IdentityID:  identityID,
			Camera:      r.Camera,
			Distance:    r.Distance,
			Embedding:   r.Embedding,
			SnapshotKey: r.SnapshotKey,
			Event:       models.EventKind(r.Event),
			SeenAt:      r.SeenAt,
		})
	}
	return out, nil
}

func (r attendanceRow) record() (*models.AttendanceRecord, error) {
	id, err := uuid.Parse(r.ID)
	if err != nil {
		return nil, fmt.Errorf("parse attendance id %q: %w", r.ID, err)
	}
	identityID, err := uuid.Parse(r.IdentityID)
	if err != nil {
		return nil, fmt.Errorf("parse identity id %q: %w", r.IdentityID, err)
	}
	return &models.AttendanceRecord{
		ID:         id,
		IdentityID: identityID,
		Date:       r.Date.UTC(),
		CheckIn:    r.CheckIn,
		CheckOut:   r.CheckOut,
	}, nil
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Store        StoreConfig        `yaml:"store"`
	Database     DatabaseConfig     `yaml:"database"`
	NATS         NATSConfig         `yaml:"nats"`
	MinIO        MinIOConfig        `yaml:"minio"`
	MQTT         MQTTConfig         `yaml:"mqtt"`
	Vision       VisionConfig       `yaml:"vision"`
	Recognition  RecognitionConfig  `yaml:"recognition"`
	Attendance   AttendanceConfig   `yaml:"attendance"`
	Camera       CameraConfig       `yaml:"camera"`
	Orchestrator OrchestratorConfig `yaml:"orchestrator"`
	Logging      LoggingConfig      `yaml:"logging"`
}

type ServerConfig struct {
	Port   int    `yaml:"port"`
	APIKey string `yaml:"api_key"`
}

// StoreConfig selects the relational backend: "postgres" or "sqlite".
type StoreConfig struct {
	Driver     string `yaml:"driver"`
	SQLitePath string `yaml:"sqlite_path"`
}

type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	MaxConns int    `yaml:"max_conns"`
}

func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
		d.User, d.Password, d.Host, d.Port, d.Name)
}

// NATSConfig is optional; an empty URL disables the event bus.
type NATSConfig struct {
	URL string `yaml:"url"`
}

// MinIOConfig is optional; without an endpoint reference images are read
// from the local filesystem and face snapshots are not stored.
type MinIOConfig struct {
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	Bucket    string `yaml:"bucket"`
	UseSSL    bool   `yaml:"use_ssl"`

	// SnapshotRetentionDays expires face snapshots after this many days;
	// 0 keeps them forever.
	SnapshotRetentionDays int           `yaml:"snapshot_retention_days"`
	PresignTTL            time.Duration `yaml:"presign_ttl"`
}

// MQTTConfig is optional; an empty broker disables device notifications.
type MQTTConfig struct {
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         byte   `yaml:"qos"`
}

type VisionConfig struct {
	ModelsDir          string  `yaml:"models_dir"`
	ONNXLibPath        string  `yaml:"onnx_lib_path"`
	DetectionThreshold float64 `yaml:"detection_threshold"`
}

type RecognitionConfig struct {
	RosterTTL          time.Duration `yaml:"roster_ttl"`
	DefaultThreshold   float64       `yaml:"default_threshold"`
	RebuildParallelism int           `yaml:"rebuild_parallelism"`
	RebuildTimeout     time.Duration `yaml:"rebuild_timeout"`
}

type AttendanceConfig struct {
	CooldownWindow   time.Duration `yaml:"cooldown_window"`
	MinimumStay      time.Duration `yaml:"minimum_stay"`
	Timezone         string        `yaml:"timezone"`
	IncidentAfter    time.Duration `yaml:"incident_after"`
	TerminalCacheTTL time.Duration `yaml:"terminal_cache_ttl"`
}

// Location resolves Timezone, falling back to the local zone.
func (a AttendanceConfig) Location() (*time.Location, error) {
	if a.Timezone == "" || a.Timezone == "Local" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", a.Timezone, err)
	}
	return loc, nil
}

type CameraConfig struct {
	OpenAttempts      int           `yaml:"open_attempts"`
	OpenBackoff       time.Duration `yaml:"open_backoff"`
	ReadTimeout       time.Duration `yaml:"read_timeout"`
	FrameInterval     int           `yaml:"frame_interval"`
	DetectionInterval time.Duration `yaml:"detection_interval"`
	FrameWidth        int           `yaml:"frame_width"`
	WarmupFrames      int           `yaml:"warmup_frames"`
	SnapshotQuality   int           `yaml:"snapshot_quality"`
}

type OrchestratorConfig struct {
	GracePeriod time.Duration `yaml:"grace_period"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads config from YAML file and applies environment variable overrides.
// A missing file is not an error when path is empty.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(cfg)
	setDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks relationships the attendance state machine relies on.
func (c *Config) Validate() error {
	var errs []error
	if c.Attendance.CooldownWindow >= c.Attendance.MinimumStay {
		errs = append(errs, fmt.Errorf("attendance.cooldown_window (%s) must be shorter than attendance.minimum_stay (%s)",
			c.Attendance.CooldownWindow, c.Attendance.MinimumStay))
	}
	if c.Camera.OpenAttempts < 1 {
		errs = append(errs, errors.New("camera.open_attempts must be at least 1"))
	}
	if c.Camera.FrameInterval < 1 {
		errs = append(errs, errors.New("camera.frame_interval must be at least 1"))
	}
	switch c.Store.Driver {
	case "postgres", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("store.driver %q not supported", c.Store.Driver))
	}
	if _, err := c.Attendance.Location(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func setDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = "postgres"
	}
	if cfg.Store.SQLitePath == "" {
		cfg.Store.SQLitePath = "attendance.db"
	}
	if cfg.Database.Port == 0 {
		cfg.Database.Port = 5432
	}
	if cfg.Database.MaxConns == 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.MinIO.Bucket == "" {
		cfg.MinIO.Bucket = "attendance"
	}
	if cfg.MinIO.PresignTTL == 0 {
		cfg.MinIO.PresignTTL = 15 * time.Minute
	}
	if cfg.MQTT.ClientID == "" {
		cfg.MQTT.ClientID = "attendance"
	}
	if cfg.MQTT.TopicPrefix == "" {
		cfg.MQTT.TopicPrefix = "attendance"
	}
	if cfg.Vision.DetectionThreshold == 0 {
		cfg.Vision.DetectionThreshold = 0.5
	}
	if cfg.Recognition.RosterTTL == 0 {
		cfg.Recognition.RosterTTL = 300 * time.Second
	}
	if cfg.Recognition.DefaultThreshold == 0 {
		cfg.Recognition.DefaultThreshold = 1.0
	}
	if cfg.Recognition.RebuildParallelism == 0 {
		cfg.Recognition.RebuildParallelism = 4
	}
	if cfg.Recognition.RebuildTimeout == 0 {
		cfg.Recognition.RebuildTimeout = 2 * time.Minute
	}
	if cfg.Attendance.CooldownWindow == 0 {
		cfg.Attendance.CooldownWindow = 5 * time.Second
	}
	if cfg.Attendance.MinimumStay == 0 {
		cfg.Attendance.MinimumStay = 60 * time.Second
	}
	if cfg.Attendance.IncidentAfter == 0 {
		cfg.Attendance.IncidentAfter = 8 * time.Hour
	}
	if cfg.Attendance.TerminalCacheTTL == 0 {
		cfg.Attendance.TerminalCacheTTL = 10 * time.Minute
	}
	if cfg.Camera.OpenAttempts == 0 {
		cfg.Camera.OpenAttempts = 3
	}
	if cfg.Camera.OpenBackoff == 0 {
		cfg.Camera.OpenBackoff = 2 * time.Second
	}
	if cfg.Camera.ReadTimeout == 0 {
		cfg.Camera.ReadTimeout = 10 * time.Second
	}
	if cfg.Camera.FrameInterval == 0 {
		cfg.Camera.FrameInterval = 5
	}
	if cfg.Camera.DetectionInterval == 0 {
		cfg.Camera.DetectionInterval = 500 * time.Millisecond
	}
	if cfg.Camera.FrameWidth == 0 {
		cfg.Camera.FrameWidth = 640
	}
	if cfg.Camera.WarmupFrames == 0 {
		cfg.Camera.WarmupFrames = 5
	}
	if cfg.Camera.SnapshotQuality == 0 {
		cfg.Camera.SnapshotQuality = 85
	}
	if cfg.Orchestrator.GracePeriod == 0 {
		cfg.Orchestrator.GracePeriod = 2 * time.Second
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}

func applyEnvOverrides(cfg *Config) {
	envInt("ATT_SERVER_PORT", &cfg.Server.Port)
	envString("ATT_API_KEY", &cfg.Server.APIKey)

	envString("ATT_STORE_DRIVER", &cfg.Store.Driver)
	envString("ATT_SQLITE_PATH", &cfg.Store.SQLitePath)

	envString("ATT_DB_HOST", &cfg.Database.Host)
	envInt("ATT_DB_PORT", &cfg.Database.Port)
	envString("ATT_DB_NAME", &cfg.Database.Name)
	envString("ATT_DB_USER", &cfg.Database.User)
	envString("ATT_DB_PASSWORD", &cfg.Database.Password)

	envString("ATT_NATS_URL", &cfg.NATS.URL)

	envString("ATT_MINIO_ENDPOINT", &cfg.MinIO.Endpoint)
	envString("ATT_MINIO_ACCESS_KEY", &cfg.MinIO.AccessKey)
	envString("ATT_MINIO_SECRET_KEY", &cfg.MinIO.SecretKey)
	envString("ATT_MINIO_BUCKET", &cfg.MinIO.Bucket)
	envInt("ATT_SNAPSHOT_RETENTION_DAYS", &cfg.MinIO.SnapshotRetentionDays)

	envString("ATT_MQTT_BROKER", &cfg.MQTT.Broker)
	envString("ATT_MQTT_USERNAME", &cfg.MQTT.Username)
	envString("ATT_MQTT_PASSWORD", &cfg.MQTT.Password)

	envString("ATT_MODELS_DIR", &cfg.Vision.ModelsDir)
	envString("ATT_ONNX_LIB_PATH", &cfg.Vision.ONNXLibPath)

	envDuration("ATT_ROSTER_TTL", &cfg.Recognition.RosterTTL)
	envDuration("ATT_COOLDOWN_WINDOW", &cfg.Attendance.CooldownWindow)
	envDuration("ATT_MINIMUM_STAY", &cfg.Attendance.MinimumStay)
	envString("ATT_TIMEZONE", &cfg.Attendance.Timezone)

	envString("ATT_LOG_LEVEL", &cfg.Logging.Level)
	envString("ATT_LOG_FORMAT", &cfg.Logging.Format)
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envDuration(key string, dst *time.Duration) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

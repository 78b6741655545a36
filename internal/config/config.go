package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"staybook/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App            AppConfig        `yaml:"app"`
	Telegram       TelegramConfig   `yaml:"telegram"`
	Database       DatabaseConfig   `yaml:"database"`
	Redis          RedisConfig      `yaml:"redis"`
	Backup         BackupConfig     `yaml:"backup"`
	Monitoring     MonitoringConfig `yaml:"monitoring"`
	Logging        LoggingConfig    `yaml:"logging"`
	API            APIConfig        `yaml:"api"`
	Booking        BookingConfig    `yaml:"booking"`
	Exports        ExportConfig     `yaml:"exports"`
	Google         GoogleConfig     `yaml:"google"`
	PropertiesPath string           `yaml:"properties_path"`
}

type BookingConfig struct {
	MaxRangeDays            int           `yaml:"max_range_days"`
	CancellationWindowHours int           `yaml:"cancellation_window_hours"`
	PendingTTL              time.Duration `yaml:"pending_ttl"`
	ExpirySweepInterval     time.Duration `yaml:"expiry_sweep_interval"`
	LockTTL                 time.Duration `yaml:"lock_ttl"`
	LockWait                time.Duration `yaml:"lock_wait"`
}

// CancellationWindow is the fallback window for properties without a policy.
func (b BookingConfig) CancellationWindow() time.Duration {
	return time.Duration(b.CancellationWindowHours) * time.Hour
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled bool         `yaml:"enabled"`
	Port    int          `yaml:"port"`
	TLS     APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
	JWTSecret    string         `yaml:"jwt_secret"`
	JWTIssuer    string         `yaml:"jwt_issuer"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

type APIRateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

type ExportConfig struct {
	Path string `yaml:"path"`
}

type AppConfig struct {
	Name        string `yaml:"name"`
	Environment string `yaml:"environment"`
	Version     string `yaml:"version"`
}

type TelegramConfig struct {
	Enabled      bool    `yaml:"enabled"`
	BotToken     string  `yaml:"bot_token"`
	ChatIDs      []int64 `yaml:"chat_ids"`
	Debug        bool    `yaml:"debug"`
	ReminderTime string  `yaml:"reminder_time"`
}

type DatabaseConfig struct {
	Path          string        `yaml:"path"`
	BusyTimeout   time.Duration `yaml:"busy_timeout"`
	MaxOpenConns  int           `yaml:"max_open_conns"`
	SyncBatchSize int           `yaml:"sync_batch_size"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Interval      time.Duration `yaml:"interval"`
	RetentionDays int           `yaml:"retention_days"`
	StoragePath   string        `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level      string `yaml:"level"`
	Format     string `yaml:"format"`
	Output     string `yaml:"output"`
	FilePath   string `yaml:"file_path"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
	Compress   bool   `yaml:"compress"`
}

type GoogleConfig struct {
	Enabled               bool   `yaml:"enabled"`
	GoogleCredentialsFile string `yaml:"credentials_file"`
	BookingSpreadSheetID  string `yaml:"bookings_spreadsheet_id"`
	SheetName             string `yaml:"sheet_name"`
	OccupancySheetName    string `yaml:"occupancy_sheet_name"`
	OccupancyDays         int    `yaml:"occupancy_days"`
}

func Load(configPath string) (*Config, error) {
	// .env is optional
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	expandedData := []byte(os.ExpandEnv(string(data)))

	var config Config
	if err := yaml.Unmarshal(expandedData, &config); err != nil {
		return nil, err
	}

	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return errors.New("database path is required")
	}
	if c.Telegram.Enabled && (c.Telegram.BotToken == "" || c.Telegram.BotToken == "YOUR_BOT_TOKEN_HERE") {
		return errors.New("telegram bot token is required when telegram is enabled")
	}
	if c.Google.Enabled && (c.Google.GoogleCredentialsFile == "" || c.Google.BookingSpreadSheetID == "") {
		return errors.New("google credentials file and spreadsheet id are required when google is enabled")
	}
	if c.API.Enabled && c.API.Auth.Enabled && c.API.Auth.JWTSecret == "" {
		return errors.New("api.auth.jwt_secret is required when api auth is enabled")
	}
	if c.Booking.MaxRangeDays < 1 {
		return fmt.Errorf("booking.max_range_days must be positive, got %d", c.Booking.MaxRangeDays)
	}
	if c.Booking.CancellationWindowHours < 0 {
		return fmt.Errorf("booking.cancellation_window_hours must not be negative, got %d", c.Booking.CancellationWindowHours)
	}
	return nil
}

// ValidateProperties checks a seed catalog before it is written to the database.
func ValidateProperties(properties []*models.Property) error {
	ids := make(map[int64]bool)
	for _, p := range properties {
		if p.ID == 0 {
			return fmt.Errorf("property '%s' has invalid ID 0", p.Name)
		}
		if ids[p.ID] {
			return fmt.Errorf("duplicate property ID found: %d", p.ID)
		}
		ids[p.ID] = true

		if p.OwnerID == 0 {
			return fmt.Errorf("property %d has no owner", p.ID)
		}
		if p.Price < 0 || p.CleaningFee < 0 || p.ServiceFee < 0 || p.SecurityDeposit < 0 {
			return fmt.Errorf("property %d has a negative amount", p.ID)
		}
		if p.PriceType != "" && p.PriceType != models.PriceNightly && p.PriceType != models.PriceFlat {
			return fmt.Errorf("property %d has unknown price type %q", p.ID, p.PriceType)
		}
		if !p.CancellationPolicy.Valid() {
			return fmt.Errorf("property %d has unknown cancellation policy %q", p.ID, p.CancellationPolicy)
		}
		if p.MaxStay > 0 && p.MinStay > p.MaxStay {
			return fmt.Errorf("property %d has min_stay %d above max_stay %d", p.ID, p.MinStay, p.MaxStay)
		}
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "staybook"
	}
	if c.API.GRPC.Port == 0 {
		c.API.GRPC.Port = 8081
	}
	if c.API.HTTP.Port == 0 {
		c.API.HTTP.Port = 8080
	}
	if c.Monitoring.PrometheusEnabled && c.Monitoring.PrometheusPort == 0 {
		c.Monitoring.PrometheusPort = 9090
	}
	if !c.API.HTTP.Enabled && c.API.Enabled {
		c.API.HTTP.Enabled = true
	}
	if c.API.Auth.HeaderAPIKey == "" {
		c.API.Auth.HeaderAPIKey = "x-api-key"
	}
	if c.API.Auth.HeaderExtra == "" {
		c.API.Auth.HeaderExtra = "x-api-extra"
	}
	if c.API.RateLimit.RPS == 0 {
		c.API.RateLimit.RPS = 20
	}
	if c.API.RateLimit.Burst == 0 {
		c.API.RateLimit.Burst = 40
	}

	if c.Database.BusyTimeout == 0 {
		c.Database.BusyTimeout = 5 * time.Second
	}
	if c.Database.MaxOpenConns == 0 {
		c.Database.MaxOpenConns = 10
	}
	if c.Database.SyncBatchSize == 0 {
		c.Database.SyncBatchSize = 20
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Output == "" {
		c.Logging.Output = "stdout"
	}
	if c.Logging.MaxSizeMB == 0 {
		c.Logging.MaxSizeMB = 100
	}

	if c.Booking.MaxRangeDays == 0 {
		c.Booking.MaxRangeDays = models.DefaultMaxRangeDays
	}
	if c.Booking.CancellationWindowHours == 0 {
		c.Booking.CancellationWindowHours = models.DefaultCancellationWindowHours
	}
	if c.Booking.PendingTTL == 0 {
		c.Booking.PendingTTL = models.DefaultPendingTTLHours * time.Hour
	}
	if c.Booking.ExpirySweepInterval == 0 {
		c.Booking.ExpirySweepInterval = models.DefaultExpirySweepMinutes * time.Minute
	}
	if c.Booking.LockTTL == 0 {
		c.Booking.LockTTL = models.DefaultLockTTLSeconds * time.Second
	}
	if c.Booking.LockWait == 0 {
		c.Booking.LockWait = 3 * time.Second
	}

	if c.Telegram.ReminderTime == "" {
		c.Telegram.ReminderTime = "09:00"
	}
	if c.Google.SheetName == "" {
		c.Google.SheetName = "Bookings"
	}
	if c.Google.OccupancySheetName == "" {
		c.Google.OccupancySheetName = "Occupancy"
	}
	if c.Google.OccupancyDays == 0 {
		c.Google.OccupancyDays = 30
	}
	if c.Backup.Interval == 0 {
		c.Backup.Interval = 24 * time.Hour
	}
	if c.Backup.RetentionDays == 0 {
		c.Backup.RetentionDays = 7
	}
	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
}

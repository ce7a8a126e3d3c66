package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"krushilink/internal/models"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	App           AppConfig           `yaml:"app"`
	Telegram      TelegramConfig      `yaml:"telegram"`
	Database      DatabaseConfig      `yaml:"database"`
	Redis         RedisConfig         `yaml:"redis"`
	Backup        BackupConfig        `yaml:"backup"`
	Monitoring    MonitoringConfig    `yaml:"monitoring"`
	Logging       LoggingConfig       `yaml:"logging"`
	API           APIConfig           `yaml:"api"`
	Notifications NotificationsConfig `yaml:"notifications"`
	Payments      PaymentsConfig      `yaml:"payments"`
	Discovery     DiscoveryConfig     `yaml:"discovery"`
	Exports       ExportConfig        `yaml:"exports"`
	Google        GoogleConfig        `yaml:"google"`
	Worker        WorkerConfig        `yaml:"worker"`
	Bot           BotConfig           `yaml:"bot"`
}

type BotConfig struct {
	PaginationSize    int `yaml:"pagination_size"`
	RateLimitMessages int `yaml:"rate_limit_messages"`
	RateLimitWindow   int `yaml:"rate_limit_window"`
}

type APIConfig struct {
	Enabled   bool               `yaml:"enabled"`
	HTTP      APIHTTPConfig      `yaml:"http"`
	GRPC      APIGRPCConfig      `yaml:"grpc"`
	Auth      APIAuthConfig      `yaml:"auth"`
	JWT       APIJWTConfig       `yaml:"jwt"`
	RateLimit APIRateLimitConfig `yaml:"rate_limit"`
}

type APIHTTPConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

type APIGRPCConfig struct {
	Enabled    bool         `yaml:"enabled"`
	Port       int          `yaml:"port"`
	Reflection bool         `yaml:"reflection"`
	TLS        APITLSConfig `yaml:"tls"`
}

type APITLSConfig struct {
	Enabled           bool   `yaml:"enabled"`
	CertFile          string `yaml:"cert_file"`
	KeyFile           string `yaml:"key_file"`
	ClientCAFile      string `yaml:"client_ca_file"`
	RequireClientCert bool   `yaml:"require_client_cert"`
}

// APIAuthConfig describes the client applications allowed to call the API.
type APIAuthConfig struct {
	Enabled      bool           `yaml:"enabled"`
	HeaderAPIKey string         `yaml:"header_api_key"`
	HeaderExtra  string         `yaml:"header_extra"`
	APIKeys      []APIClientKey `yaml:"api_keys"`
}

type APIClientKey struct {
	Key         string   `yaml:"key"`
	Extra       string   `yaml:"extra"`
	Name        string   `yaml:"name"`
	Permissions []string `yaml:"permissions"`
}

// APIJWTConfig verifies bearer tokens minted by the identity provider.
type APIJWTConfig struct {
	Secret   string        `yaml:"secret"`
	Issuer   string        `yaml:"issuer"`
	Leeway   time.Duration `yaml:"leeway"`
	TokenTTL time.Duration `yaml:"token_ttl"`
}

// APIRateLimitConfig limits each client application in process and, when
// UserRequests is set, each signed-in user through the shared store.
type APIRateLimitConfig struct {
	RPS          float64       `yaml:"rps"`
	Burst        int           `yaml:"burst"`
	UserRequests int           `yaml:"user_requests"`
	UserWindow   time.Duration `yaml:"user_window"`
}

type NotificationsConfig struct {
	TelegramPush bool      `yaml:"telegram_push"`
	FCM          FCMConfig `yaml:"fcm"`
}

type FCMConfig struct {
	Enabled         bool   `yaml:"enabled"`
	CredentialsFile string `yaml:"credentials_file"`
}

type PaymentsConfig struct {
	Stripe    StripeConfig    `yaml:"stripe"`
	Reminders RemindersConfig `yaml:"reminders"`
}

type StripeConfig struct {
	Enabled   bool   `yaml:"enabled"`
	SecretKey string `yaml:"secret_key"`
}

type RemindersConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Hour         int           `yaml:"hour"`
	MaxReminders int           `yaml:"max_reminders"`
	MinInterval  time.Duration `yaml:"min_interval"`
	DueDays      int           `yaml:"due_days"`
	GraceDays    int           `yaml:"grace_days"`
}

type DiscoveryConfig struct {
	GeoKey          string  `yaml:"geo_key"`
	DefaultRadiusKm float64 `yaml:"default_radius_km"`
	MaxRadiusKm     float64 `yaml:"max_radius_km"`
	Limit           int     `yaml:"limit"`
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
	BotToken string `yaml:"bot_token"`
	Debug    bool   `yaml:"debug"`
}

type DatabaseConfig struct {
	Path string `yaml:"path"`
}

type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
	PoolSize int    `yaml:"pool_size"`
}

type BackupConfig struct {
	Enabled       bool   `yaml:"enabled"`
	Schedule      string `yaml:"schedule"`
	RetentionDays int    `yaml:"retention_days"`
	StoragePath   string `yaml:"storage_path"`
}

type MonitoringConfig struct {
	PrometheusEnabled bool `yaml:"prometheus_enabled"`
	PrometheusPort    int  `yaml:"prometheus_port"`
}

type LoggingConfig struct {
	Level    string `yaml:"level"`
	Format   string `yaml:"format"`
	Output   string `yaml:"output"`
	FilePath string `yaml:"file_path"`
	Caller   bool   `yaml:"caller"`
}

type GoogleConfig struct {
	CredentialsFile      string `yaml:"credentials_file"`
	BookingSpreadSheetID string `yaml:"bookings_spreadsheet_id"`
	BookingSheetName     string `yaml:"bookings_sheet_name"`
}

// Enabled reports whether the ledger mirror is configured.
func (g GoogleConfig) Enabled() bool {
	return g.CredentialsFile != "" && g.BookingSpreadSheetID != ""
}

type WorkerConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	MaxRetries    int           `yaml:"max_retries"`
	BaseDelay     time.Duration `yaml:"base_delay"`
	MaxDelay      time.Duration `yaml:"max_delay"`
	QueueKey      string        `yaml:"queue_key"`
	DeadLetterKey string        `yaml:"dead_letter_key"`
}

func Load(configPath string) (*Config, error) {
	if err := godotenv.Load(".env"); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, err
	}

	// ${VAR} references are resolved before parsing
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

	if c.API.Enabled {
		if len(c.API.JWT.Secret) < 32 {
			return errors.New("api.jwt.secret must be at least 32 bytes")
		}
		if err := ValidateAPIKeys(c.API.Auth.APIKeys); err != nil {
			return err
		}
	}

	if c.Notifications.TelegramPush && c.Telegram.BotToken == "" {
		return errors.New("telegram bot token is required for telegram push")
	}
	if c.Notifications.FCM.Enabled && c.Notifications.FCM.CredentialsFile == "" {
		return errors.New("fcm credentials file is required when fcm is enabled")
	}
	if c.Payments.Stripe.Enabled && c.Payments.Stripe.SecretKey == "" {
		return errors.New("stripe secret key is required when stripe is enabled")
	}
	if h := c.Payments.Reminders.Hour; h < 0 || h > 23 {
		return fmt.Errorf("reminder hour %d out of range", h)
	}
	if c.Discovery.DefaultRadiusKm > c.Discovery.MaxRadiusKm {
		return errors.New("discovery default radius exceeds max radius")
	}
	return nil
}

func ValidateAPIKeys(keys []APIClientKey) error {
	seen := make(map[string]bool)
	for _, k := range keys {
		if k.Key == "" {
			return fmt.Errorf("api key %q is empty", k.Name)
		}
		if seen[k.Key] {
			return fmt.Errorf("duplicate api key for client %q", k.Name)
		}
		seen[k.Key] = true
	}
	return nil
}

func (c *Config) applyDefaults() {
	if c.App.Name == "" {
		c.App.Name = "krushilink"
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
	if c.API.JWT.Leeway == 0 {
		c.API.JWT.Leeway = 30 * time.Second
	}
	if c.API.JWT.TokenTTL == 0 {
		c.API.JWT.TokenTTL = 24 * time.Hour
	}
	if c.API.RateLimit.UserRequests > 0 && c.API.RateLimit.UserWindow == 0 {
		c.API.RateLimit.UserWindow = time.Minute
	}

	r := &c.Payments.Reminders
	if r.Hour == 0 {
		r.Hour = models.ReminderHour
	}
	if r.MaxReminders == 0 {
		r.MaxReminders = models.DefaultMaxReminders
	}
	if r.DueDays == 0 {
		r.DueDays = models.DefaultPaymentDueDays
	}
	if r.GraceDays == 0 {
		r.GraceDays = models.ReminderGraceDays
	}

	d := &c.Discovery
	if d.GeoKey == "" {
		d.GeoKey = "drivers:geo"
	}
	if d.DefaultRadiusKm == 0 {
		d.DefaultRadiusKm = models.DefaultSearchRadiusKm
	}
	if d.MaxRadiusKm == 0 {
		d.MaxRadiusKm = models.MaxSearchRadiusKm
	}
	if d.Limit == 0 {
		d.Limit = models.DefaultNearbyLimit
	}

	if c.Exports.Path == "" {
		c.Exports.Path = "exports"
	}
	if c.Google.BookingSheetName == "" {
		c.Google.BookingSheetName = "Bookings"
	}

	w := &c.Worker
	if w.PollInterval == 0 {
		w.PollInterval = 5 * time.Second
	}
	if w.MaxRetries == 0 {
		w.MaxRetries = 5
	}
	if w.BaseDelay == 0 {
		w.BaseDelay = 2 * time.Second
	}
	if w.MaxDelay == 0 {
		w.MaxDelay = time.Minute
	}
	if w.QueueKey == "" {
		w.QueueKey = "delivery:queue"
	}
	if w.DeadLetterKey == "" {
		w.DeadLetterKey = "delivery:dead"
	}

	if c.Bot.PaginationSize == 0 {
		c.Bot.PaginationSize = models.DefaultPaginationSize
	}
	if c.Bot.RateLimitMessages == 0 {
		c.Bot.RateLimitMessages = models.RateLimitMessages
	}
	if c.Bot.RateLimitWindow == 0 {
		c.Bot.RateLimitWindow = models.RateLimitWindow
	}
}

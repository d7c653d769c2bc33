package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists (silent fail if not)
	_ = godotenv.Load()
}

// Config holds all application configuration loaded from environment variables.
type Config struct {
	Server   ServerConfig
	App      AppConfig
	Feed     FeedConfig
	Store    StoreConfig
	Cache    CacheConfig
	Identity IdentityConfig
	Snapshot SnapshotConfig
	Eviction EvictionConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host            string        `envconfig:"SERVER_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"SERVER_PORT" default:"8080"`
	ReadTimeout     time.Duration `envconfig:"SERVER_READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"SERVER_WRITE_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"SERVER_SHUTDOWN_TIMEOUT" default:"30s"`
}

// AppConfig holds application-level settings.
type AppConfig struct {
	Name        string `envconfig:"APP_NAME" default:"listingsync"`
	Environment string `envconfig:"APP_ENV" default:"development"`
	Version     string `envconfig:"APP_VERSION" default:"1.0.0"`
	AdminKey    string `envconfig:"ADMIN_KEY" default:""` // required by /api/v1/admin
	// TaskRestartDelay is the pause before a failed background task is restarted.
	TaskRestartDelay time.Duration `envconfig:"TASK_RESTART_DELAY" default:"5s"`
}

// FeedConfig holds the listing feed connection settings.
type FeedConfig struct {
	URL              string        `envconfig:"FEED_URL" default:"wss://ws.backpack.tf/events"`
	AppID            int64         `envconfig:"FEED_APP_ID" default:"440"`
	HandshakeTimeout time.Duration `envconfig:"FEED_HANDSHAKE_TIMEOUT" default:"45s"`
	PingInterval     time.Duration `envconfig:"FEED_PING_INTERVAL" default:"60s"`
	PongTimeout      time.Duration `envconfig:"FEED_PONG_TIMEOUT" default:"120s"`
	MaxInFlight      int           `envconfig:"FEED_MAX_IN_FLIGHT" default:"64"`
	HandlerTimeout   time.Duration `envconfig:"FEED_HANDLER_TIMEOUT" default:"30s"`
	RedialDelay      time.Duration `envconfig:"FEED_REDIAL_DELAY" default:"5s"`
	LogEvents        bool          `envconfig:"FEED_LOG_EVENTS" default:"false"`
}

// StoreConfig holds listing store settings.
type StoreConfig struct {
	Type string `envconfig:"STORE_TYPE" default:"mongodb"` // mongodb, postgres, or sqlite
	Path string `envconfig:"STORE_SQLITE_PATH" default:"./data/listings.db"`
	// PostgreSQL settings
	Host     string `envconfig:"STORE_PG_HOST" default:"localhost"`
	Port     int    `envconfig:"STORE_PG_PORT" default:"5432"`
	Name     string `envconfig:"STORE_PG_NAME" default:"listingsync"`
	User     string `envconfig:"STORE_PG_USER" default:"postgres"`
	Password string `envconfig:"STORE_PG_PASS" default:""`
	SSLMode  string `envconfig:"STORE_PG_SSLMODE" default:"disable"`
	// MongoDB settings
	MongoURI        string `envconfig:"MONGODB_URI" default:"mongodb://localhost:27017"`
	MongoDatabase   string `envconfig:"MONGODB_DATABASE" default:"backpack"`
	MongoCollection string `envconfig:"MONGODB_COLLECTION" default:"listings"`
}

// CacheConfig holds settings of the identity memo backend.
type CacheConfig struct {
	Type string `envconfig:"CACHE_TYPE" default:"memory"` // memory or redis

	RedisHost      string `envconfig:"REDIS_HOST" default:"localhost"`
	RedisPort      int    `envconfig:"REDIS_PORT" default:"6379"`
	RedisPassword  string `envconfig:"REDIS_PASSWORD" default:""`
	RedisDB        int    `envconfig:"REDIS_DB" default:"0"`
	RedisKeyPrefix string `envconfig:"REDIS_KEY_PREFIX" default:"listingsync:identity"`
}

// IdentityConfig selects how item names are resolved to SKUs.
type IdentityConfig struct {
	Type    string        `envconfig:"IDENTITY_TYPE" default:"passthrough"` // passthrough, http, or mysql
	BaseURL string        `envconfig:"IDENTITY_URL" default:"http://localhost:3000"`
	Timeout time.Duration `envconfig:"IDENTITY_TIMEOUT" default:"10s"`
	// MySQL catalog settings
	Host     string `envconfig:"DB_HOST" default:"localhost"`
	Port     int    `envconfig:"DB_PORT" default:"3306"`
	Name     string `envconfig:"DB_NAME" default:"items"`
	User     string `envconfig:"DB_USER" default:"root"`
	Password string `envconfig:"DB_PASS" default:""`
}

// SnapshotConfig holds snapshot refresher settings.
type SnapshotConfig struct {
	Enabled           bool          `envconfig:"SNAPSHOT_ENABLED" default:"true"`
	BaseURL           string        `envconfig:"SNAPSHOT_URL" default:"https://backpack.tf/api"`
	Token             string        `envconfig:"SNAPSHOT_TOKEN" default:""`
	Timeout           time.Duration `envconfig:"SNAPSHOT_TIMEOUT" default:"30s"`
	BatchSize         int           `envconfig:"SNAPSHOT_BATCH_SIZE" default:"10"`
	PriorityBatchSize int           `envconfig:"SNAPSHOT_PRIORITY_BATCH_SIZE" default:"10"`
	RequestDelay      time.Duration `envconfig:"SNAPSHOT_REQUEST_DELAY" default:"1s"`
	RateLimitBackoff  time.Duration `envconfig:"SNAPSHOT_RATE_LIMIT_BACKOFF" default:"60s"`
	IdleDelay         time.Duration `envconfig:"SNAPSHOT_IDLE_DELAY" default:"30s"`
	ReloadInterval    time.Duration `envconfig:"SNAPSHOT_RELOAD_INTERVAL" default:"10m"`
	Priority          []string      `envconfig:"SNAPSHOT_PRIORITY" default:""`
	PriorityFile      string        `envconfig:"SNAPSHOT_PRIORITY_FILE" default:""`
}

// EvictionConfig holds stale listing eviction settings.
type EvictionConfig struct {
	Horizon      time.Duration `envconfig:"EVICTION_HORIZON" default:"24h"`
	Interval     time.Duration `envconfig:"EVICTION_INTERVAL" default:"6h"` // 0 runs a single pass
	StartupDelay time.Duration `envconfig:"EVICTION_STARTUP_DELAY" default:"0s"`
}

// PriorityFile is the YAML layout of SNAPSHOT_PRIORITY_FILE.
type PriorityFile struct {
	Items []string `yaml:"items"`
}

// PostgresDSN returns the PostgreSQL connection string.
func (s *StoreConfig) PostgresDSN() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=%s",
		s.User, s.Password, s.Host, s.Port, s.Name, s.SSLMode)
}

// Address returns the server address in host:port format.
func (s *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", s.Host, s.Port)
}

// RedisAddress returns the Redis address in host:port format.
func (c *CacheConfig) RedisAddress() string {
	return fmt.Sprintf("%s:%d", c.RedisHost, c.RedisPort)
}

// DSN returns the MySQL data source name of the item catalog.
func (i *IdentityConfig) DSN() string {
	return fmt.Sprintf("%s:%s@tcp(%s:%d)/%s?parseTime=true",
		i.User, i.Password, i.Host, i.Port, i.Name)
}

// IsProduction returns true if running in production mode.
func (a *AppConfig) IsProduction() bool {
	return a.Environment == "production"
}

// PriorityItems returns SNAPSHOT_PRIORITY merged with the priority file, without duplicates.
func (s *SnapshotConfig) PriorityItems() ([]string, error) {
	items := make([]string, 0, len(s.Priority))
	seen := make(map[string]bool)
	add := func(list []string) {
		for _, sku := range list {
			if sku != "" && !seen[sku] {
				seen[sku] = true
				items = append(items, sku)
			}
		}
	}
	add(s.Priority)

	if s.PriorityFile != "" {
		file, err := LoadPriorityFile(s.PriorityFile)
		if err != nil {
			return nil, err
		}
		add(file)
	}
	return items, nil
}

// LoadPriorityFile reads a YAML file of prioritized SKUs.
func LoadPriorityFile(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read priority file: %w", err)
	}

	var pf PriorityFile
	if err := yaml.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("failed to parse priority file %s: %w", path, err)
	}
	return pf.Items, nil
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	return &cfg, nil
}

// MustLoad loads configuration or panics on error.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

package config

import (
	"fmt"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
)

type Config struct {
	Port          string        `yaml:"port" env:"PORT" env-default:"8084"`
	JWTSecret     string        `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	Database      Database      `yaml:"database"`
	Redis         Redis         `yaml:"redis"`
	Kafka         Kafka         `yaml:"kafka"`
	VoyageService VoyageService `yaml:"voyage_service"`
	Freshness     Freshness     `yaml:"freshness"`
	Worker        Worker        `yaml:"worker"`
}

type Worker struct {
	MaxWorkers int `yaml:"max_workers" env:"WORKER_MAX_WORKERS" env-default:"4"`
}

type Database struct {
	User         string `yaml:"user" env:"DB_USER" env-default:"postgres"`
	Password     string `yaml:"password" env:"DB_PASSWORD" env-default:""`
	DatabaseName string `yaml:"database_name" env:"DB_NAME" env-default:"voyages"`
	Host         string `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port         string `yaml:"port" env:"DB_PORT" env-default:"5432"`
	SSLMode      string `yaml:"ssl_mode" env:"DB_SSL_MODE" env-default:"disable"`

	// Connection Pool Settings
	MaxOpenConns    int `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"5"`
	MaxIdleConns    int `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"2"`
	ConnMaxLifetime int `yaml:"conn_max_lifetime_minutes" env:"DB_CONN_MAX_LIFETIME" env-default:"30"`
}

func (d *Database) GetDatabaseURL() string {
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DatabaseName, d.SSLMode)
}

type Redis struct {
	Host     string `yaml:"host" env:"REDIS_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"REDIS_PORT" env-default:"6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD" env-default:""`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

func (r *Redis) GetRedisURL() string {
	return fmt.Sprintf("%s:%s", r.Host, r.Port)
}

type Kafka struct {
	Brokers       []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092" env-separator:","`
	StateTopic    string   `yaml:"state_topic" env:"KAFKA_STATE_TOPIC" env-default:"voyage-state"`
	CommandTopic  string   `yaml:"command_topic" env:"KAFKA_COMMAND_TOPIC" env-default:"voyage-commands"`
	ConsumerGroup string   `yaml:"consumer_group" env:"KAFKA_CONSUMER_GROUP" env-default:"voyage-service"`
	Enabled       bool     `yaml:"enabled" env:"KAFKA_ENABLED" env-default:"true"`
}

type VoyageService struct {
	BaseURL   string `yaml:"base_url" env:"VOYAGE_SERVICE_URL" env-default:"http://booking-api:8080"`
	BookingID string `yaml:"booking_id" env:"VOYAGE_BOOKING_ID" env-required:"true"`
	UseMock   bool   `yaml:"use_mock" env:"VOYAGE_USE_MOCK" env-default:"false"`

	// Mock behaviour
	MockLatencyMillis int     `yaml:"mock_latency_ms" env:"VOYAGE_MOCK_LATENCY_MS" env-default:"300"`
	MockFailureRate   float64 `yaml:"mock_failure_rate" env:"VOYAGE_MOCK_FAILURE_RATE" env-default:"0"`

	// HTTP Connection Pool Settings
	MaxIdleConns        int `yaml:"max_idle_conns" env:"HTTP_MAX_IDLE_CONNS" env-default:"10"`
	MaxIdleConnsPerHost int `yaml:"max_idle_conns_per_host" env:"HTTP_MAX_IDLE_CONNS_PER_HOST" env-default:"5"`
	MaxConnsPerHost     int `yaml:"max_conns_per_host" env:"HTTP_MAX_CONNS_PER_HOST" env-default:"10"`
	IdleConnTimeout     int `yaml:"idle_conn_timeout_seconds" env:"HTTP_IDLE_CONN_TIMEOUT" env-default:"90"`
	RequestTimeout      int `yaml:"request_timeout_seconds" env:"HTTP_REQUEST_TIMEOUT" env-default:"15"`
}

// Store backends
const (
	StoreRedis    = "redis"
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Freshness struct {
	WindowMinutes int    `yaml:"window_minutes" env:"FRESHNESS_WINDOW_MINUTES" env-default:"30"`
	RefreshOnLoad bool   `yaml:"refresh_on_load" env:"FRESHNESS_REFRESH_ON_LOAD" env-default:"false"`
	CacheKey      string `yaml:"cache_key" env:"FRESHNESS_CACHE_KEY" env-default:"voyage:snapshot"`
	Store         string `yaml:"store" env:"FRESHNESS_STORE" env-default:"redis"`
}

// Window returns the freshness window shared by the memo and the durable cache
func (f *Freshness) Window() time.Duration {
	if f.WindowMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(f.WindowMinutes) * time.Minute
}

func (c *Config) validate() error {
	switch c.Freshness.Store {
	case StoreRedis, StorePostgres, StoreMemory:
	default:
		return fmt.Errorf("unknown freshness store %q", c.Freshness.Store)
	}
	if c.Worker.MaxWorkers <= 0 {
		return fmt.Errorf("worker max_workers must be positive, got %d", c.Worker.MaxWorkers)
	}
	return nil
}

// Notifier is the configuration of the state feed consumer. It needs no
// store, voyage API or secrets.
type Notifier struct {
	Port  string `yaml:"port" env:"NOTIFIER_PORT" env-default:"8085"`
	Kafka Kafka  `yaml:"kafka"`
}

func (n *Notifier) validate() error {
	if len(n.Kafka.Brokers) == 0 {
		return fmt.Errorf("kafka brokers are required")
	}
	return nil
}

type validator interface {
	validate() error
}

func Initialise(configPath string, useEnv bool) (*Config, error) {
	cfg := &Config{}
	if err := read(configPath, useEnv, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func InitialiseNotifier(configPath string, useEnv bool) (*Notifier, error) {
	cfg := &Notifier{}
	if err := read(configPath, useEnv, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(configPath string, useEnv bool, cfg validator) error {
	if useEnv {
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return fmt.Errorf("failed to read environment variables: %w", err)
		}
		return cfg.validate()
	}

	if configPath != "" {
		if _, err := os.Stat(configPath); err == nil {
			if err := cleanenv.ReadConfig(configPath, cfg); err != nil {
				return fmt.Errorf("failed to read config file %s: %w", configPath, err)
			}
			return cfg.validate()
		}
	}

	// Fallback to environment variables
	if err := cleanenv.ReadEnv(cfg); err != nil {
		return fmt.Errorf("failed to read environment variables: %w", err)
	}

	return cfg.validate()
}

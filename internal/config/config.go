package config

import (
	"log"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server   Server   `yaml:"server"`
	Database Database `yaml:"database"`
	Auth     Auth     `yaml:"auth"`
	Realtime Realtime `yaml:"realtime"`
	Metrics  Metrics  `yaml:"metrics"`
	Log      Log      `yaml:"log"`
	S3       S3       `yaml:"s3"`
}

// S3 holds S3/MinIO storage configuration for message media
type S3 struct {
	Enabled         bool   `yaml:"enabled" env:"S3_ENABLED" env-default:"false"`
	Endpoint        string `yaml:"endpoint" env:"S3_ENDPOINT" env-default:"http://localhost:9000"`
	AccessKeyID     string `yaml:"access_key_id" env:"S3_ACCESS_KEY_ID" env-default:"minioadmin"`
	SecretAccessKey string `yaml:"secret_access_key" env:"S3_SECRET_ACCESS_KEY" env-default:"minioadmin"`
	Bucket          string `yaml:"bucket" env:"S3_BUCKET" env-default:"media"`
	Region          string `yaml:"region" env:"S3_REGION" env-default:"us-east-1"`
	PublicURL       string `yaml:"public_url" env:"S3_PUBLIC_URL" env-default:"http://localhost:9000/media"`
}

// Server holds HTTP server configuration
type Server struct {
	Host         string        `yaml:"host" env:"SERVER_HOST" env-default:"0.0.0.0"`
	Port         string        `yaml:"port" env:"SERVER_PORT" env-default:"8080"`
	ReadTimeout  time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"15s"`
	IdleTimeout  time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
}

// Address returns the full server address
func (s Server) Address() string {
	return s.Host + ":" + s.Port
}

// Database holds database configuration.
// An empty DSN runs the service on the in-memory store.
type Database struct {
	PostgresDSN string `yaml:"postgres_dsn" env:"DATABASE_URL"`
	Migrate     bool   `yaml:"migrate" env:"DB_MIGRATE" env-default:"false"`

	// Connection pool settings
	MaxOpenConns int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"25"`
	MaxIdleConns int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnLifetime time.Duration `yaml:"conn_lifetime" env:"DB_CONN_LIFETIME" env-default:"5m"`
}

// Auth holds token verification settings
type Auth struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	JWTIssuer string `yaml:"jwt_issuer" env:"JWT_ISSUER"`
}

// Realtime holds live connection and event loop settings
type Realtime struct {
	EventQueueSize int           `yaml:"event_queue_size" env:"REALTIME_EVENT_QUEUE_SIZE" env-default:"1024"`
	SendBufferSize int           `yaml:"send_buffer_size" env:"REALTIME_SEND_BUFFER_SIZE" env-default:"64"`
	WriteTimeout   time.Duration `yaml:"write_timeout" env:"REALTIME_WRITE_TIMEOUT" env-default:"10s"`
	PongWait       time.Duration `yaml:"pong_wait" env:"REALTIME_PONG_WAIT" env-default:"60s"`
	PingInterval   time.Duration `yaml:"ping_interval" env:"REALTIME_PING_INTERVAL" env-default:"25s"`
	MaxFrameBytes  int64         `yaml:"max_frame_bytes" env:"REALTIME_MAX_FRAME_BYTES" env-default:"65536"`
	ClientRPS      float64       `yaml:"client_rps" env:"REALTIME_CLIENT_RPS" env-default:"20"`
	ClientBurst    int           `yaml:"client_burst" env:"REALTIME_CLIENT_BURST" env-default:"40"`
	// TypingTTL of zero keeps typing entries until stop or disconnect.
	TypingTTL           time.Duration `yaml:"typing_ttl" env:"REALTIME_TYPING_TTL" env-default:"0s"`
	TypingSweepInterval time.Duration `yaml:"typing_sweep_interval" env:"REALTIME_TYPING_SWEEP_INTERVAL" env-default:"5s"`
	AllowedOrigins      []string      `yaml:"allowed_origins" env:"REALTIME_ALLOWED_ORIGINS" env-separator:","`
}

// Metrics holds Prometheus exposition settings
type Metrics struct {
	Enabled bool   `yaml:"enabled" env:"METRICS_ENABLED" env-default:"true"`
	Path    string `yaml:"path" env:"METRICS_PATH" env-default:"/metrics"`
}

// Log holds logger settings
type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

// MustLoad loads configuration from environment and exits on error
func MustLoad() Config {
	// Load .env file if exists (for development)
	_ = godotenv.Load()

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	return cfg
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (Config, error) {
	var cfg Config
	if err := cleanenv.ReadConfig(path, &cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

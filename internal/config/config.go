package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
	"github.com/wb-go/wbf/retry"
)

const defaultConfigPath = "config/config.yaml"

type Config struct {
	Env     string        `yaml:"env" env:"ENV" env-default:"local"`
	Server  ServerConfig  `yaml:"server"`
	Storage StorageConfig `yaml:"storage"`
	DB      DBConfig      `yaml:"db"`
	Minio   MinioConfig   `yaml:"minio"`
	Redis   RedisConfig   `yaml:"redis"`
	Kafka   KafkaConfig   `yaml:"kafka"`
	Worker  WorkerConfig  `yaml:"worker"`
	Queue   QueueConfig   `yaml:"queue"`
	Auth    AuthConfig    `yaml:"auth"`
	Retry   RetryConfig   `yaml:"retry"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr" env:"SERVER_ADDR" env-default:"8080"`
	ReadTimeout     time.Duration `yaml:"read_timeout" env:"SERVER_READ_TIMEOUT" env-default:"15s"`
	WriteTimeout    time.Duration `yaml:"write_timeout" env:"SERVER_WRITE_TIMEOUT" env-default:"60s"`
	IdleTimeout     time.Duration `yaml:"idle_timeout" env:"SERVER_IDLE_TIMEOUT" env-default:"60s"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout" env:"SERVER_SHUTDOWN_TIMEOUT" env-default:"30s"`
	MaxAwait        time.Duration `yaml:"max_await" env:"SERVER_MAX_AWAIT" env-default:"30s"`
}

// StorageConfig selects the persistence backends. "postgres" uses the
// database and MinIO, "memory" keeps everything in process. With the memory
// driver every image file in SeedDir is registered to SeedUser at start-up.
type StorageConfig struct {
	Driver   string `yaml:"driver" env:"STORAGE_DRIVER" env-default:"postgres"`
	SeedDir  string `yaml:"seed_dir" env:"STORAGE_SEED_DIR"`
	SeedUser string `yaml:"seed_user" env:"STORAGE_SEED_USER" env-default:"dev"`
}

type DBConfig struct {
	Host            string        `yaml:"host" env:"DB_HOST" env-default:"localhost"`
	Port            int           `yaml:"port" env:"DB_PORT" env-default:"5432"`
	User            string        `yaml:"user" env:"DB_USER" env-default:"postgres"`
	Password        string        `yaml:"password" env:"DB_PASSWORD"`
	Name            string        `yaml:"name" env:"DB_NAME" env-default:"image_pipeline"`
	SSLMode         string        `yaml:"sslmode" env:"DB_SSLMODE" env-default:"disable"`
	MaxOpenConns    int           `yaml:"max_open_conns" env:"DB_MAX_OPEN_CONNS" env-default:"20"`
	MaxIdleConns    int           `yaml:"max_idle_conns" env:"DB_MAX_IDLE_CONNS" env-default:"5"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"DB_CONN_MAX_LIFETIME" env-default:"30m"`
	AutoMigrate     bool          `yaml:"auto_migrate" env:"DB_AUTO_MIGRATE"`
}

type MinioConfig struct {
	Endpoint      string        `yaml:"endpoint" env:"MINIO_ENDPOINT" env-default:"localhost:9000"`
	AccessKey     string        `yaml:"access_key" env:"MINIO_ACCESS_KEY"`
	SecretKey     string        `yaml:"secret_key" env:"MINIO_SECRET_KEY"`
	Bucket        string        `yaml:"bucket" env:"MINIO_BUCKET" env-default:"images"`
	UseSSL        bool          `yaml:"use_ssl" env:"MINIO_USE_SSL" env-default:"false"`
	PresignExpiry time.Duration `yaml:"presign_expiry" env:"MINIO_PRESIGN_EXPIRY" env-default:"1h"`
}

type RedisConfig struct {
	Enabled  bool          `yaml:"enabled" env:"REDIS_ENABLED"`
	Addr     string        `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string        `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int           `yaml:"db" env:"REDIS_DB" env-default:"0"`
	StatsTTL time.Duration `yaml:"stats_ttl" env:"REDIS_STATS_TTL" env-default:"5m"`
}

type KafkaConfig struct {
	Brokers         []string `yaml:"brokers" env:"KAFKA_BROKERS" env-separator:"," env-default:"localhost:9092"`
	ProcessingTopic string   `yaml:"processing_topic" env:"KAFKA_PROCESSING_TOPIC" env-default:"image-processing"`
	GroupID         string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"image-pipeline-workers"`
}

// WorkerConfig controls task dispatch. Broker "memory" runs the pool inside
// the API process, "kafka" hands tasks to cmd/worker.
type WorkerConfig struct {
	Broker             string        `yaml:"broker" env:"WORKER_BROKER" env-default:"memory"`
	Concurrency        int           `yaml:"concurrency" env:"WORKER_CONCURRENCY" env-default:"4"`
	QueueSize          int           `yaml:"queue_size" env:"WORKER_QUEUE_SIZE" env-default:"100"`
	DispatchTimeout    time.Duration `yaml:"dispatch_timeout" env:"WORKER_DISPATCH_TIMEOUT" env-default:"2m"`
	StuckAfter         time.Duration `yaml:"stuck_after" env:"WORKER_STUCK_AFTER" env-default:"10m"`
	StuckCheckInterval time.Duration `yaml:"stuck_check_interval" env:"WORKER_STUCK_CHECK_INTERVAL" env-default:"1m"`
}

type QueueConfig struct {
	FailedWindow time.Duration `yaml:"failed_window" env:"QUEUE_FAILED_WINDOW" env-default:"24h"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET" env-required:"true"`
	Issuer    string `yaml:"issuer" env:"JWT_ISSUER"`
}

type RetryConfig struct {
	Attempts int           `yaml:"attempts" env:"RETRY_ATTEMPTS" env-default:"3"`
	Delay    time.Duration `yaml:"delay" env:"RETRY_DELAY" env-default:"100ms"`
	Backoff  float64       `yaml:"backoff" env:"RETRY_BACKOFF" env-default:"2"`
}

// MustLoad reads .env (when present), the YAML file named by CONFIG_PATH and
// the environment, in increasing priority.
func MustLoad() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = defaultConfigPath
	}

	var cfg Config
	if _, err := os.Stat(path); err == nil {
		if err := cleanenv.ReadConfig(path, &cfg); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", path, err)
		}
	} else {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, fmt.Errorf("failed to read config from env: %w", err)
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Storage.Driver {
	case "postgres", "memory":
	default:
		return fmt.Errorf("unknown storage driver %q", c.Storage.Driver)
	}
	switch c.Worker.Broker {
	case "memory", "kafka":
	default:
		return fmt.Errorf("unknown worker broker %q", c.Worker.Broker)
	}
	if c.Worker.Concurrency < 1 {
		return fmt.Errorf("worker concurrency must be positive, got %d", c.Worker.Concurrency)
	}
	if c.Storage.Driver == "memory" && c.Worker.Broker == "kafka" {
		return errors.New("the memory storage driver cannot be shared with a kafka worker process")
	}
	if c.Worker.QueueSize < 1 {
		return fmt.Errorf("worker queue size must be positive, got %d", c.Worker.QueueSize)
	}
	return nil
}

func (c *Config) DBDSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.DB.Host, c.DB.Port, c.DB.User, c.DB.Password, c.DB.Name, c.DB.SSLMode)
}

func (c *Config) DefaultRetryStrategy() retry.Strategy {
	return retry.Strategy{
		Attempts: c.Retry.Attempts,
		Delay:    c.Retry.Delay,
		Backoff:  c.Retry.Backoff,
	}
}

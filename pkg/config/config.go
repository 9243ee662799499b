package config

import (
	"errors"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Config is built once at process start and passed by reference to every component.
type Config struct {
	Env           string
	Port          int
	APIPrefix     string
	PublicBaseURL string

	Database      DatabaseConfig
	Redis         RedisConfig
	Log           LogConfig
	Storage       StorageConfig
	Queue         QueueConfig
	DSpace        DSpaceConfig
	Archivematica ArchivematicaConfig
	Marc          MarcConfig
	Notifications NotificationConfig
	Locks         LockConfig
}

type DatabaseConfig struct {
	Host             string
	Port             int
	User             string
	Password         string
	Name             string
	SSLMode          string
	MaxOpenConns     int
	MaxIdleConns     int
	StatementTimeout time.Duration
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
	PoolSize int
}

type LogConfig struct {
	Level  string
	Format string
}

// StorageConfig controls where generated artifacts and thesis files live.
type StorageConfig struct {
	Dir             string
	SignedURLSecret string
	SignedURLTTL    time.Duration
	// ArtifactTTL bounds how long generated exports are kept on disk.
	ArtifactTTL     time.Duration
	CleanupInterval time.Duration
}

// QueueConfig tunes the pipeline worker pool.
type QueueConfig struct {
	Workers    int
	BufferSize int
	MaxRetries int
	RetryDelay time.Duration
	StaleAfter time.Duration
}

// DSpaceConfig describes the submission and result channels of the publication service.
type DSpaceConfig struct {
	SubmissionStream        string
	ResultStream            string
	ConsumerGroup           string
	ConsumerName            string
	SubmissionSource        string
	SubmissionSystem        string
	DoctoralCollection      string
	GraduateCollection      string
	UndergraduateCollection string
	HandleBaseURL           string
	BatchSize               int
	ReceiveWait             time.Duration
	IdleTimeout             time.Duration
	// ClaimIdle is how long a result may stay unacknowledged before another
	// pass takes it over.
	ClaimIdle               time.Duration
}

// ArchivematicaConfig configures the bag packaging service.
type ArchivematicaConfig struct {
	Endpoint        string
	ChallengeSecret string
	InputBucket     string
	OutputBucket    string
	Verbose         bool
	Compress        bool
	RequestTimeout  time.Duration
	MaxRetries      int
}

// MarcConfig holds cataloging constants for MARC output.
type MarcConfig struct {
	CatalogingSource string
	PublisherPlace   string
	PublisherName    string
}

// NotificationConfig points summary reports at an operator webhook.
type NotificationConfig struct {
	WebhookURL     string
	RequestTimeout time.Duration
	MaxRetries     int
}

// LockConfig governs the per-thesis single writer lock.
type LockConfig struct {
	TTL time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetConfigFile(".env")
	v.SetConfigType("env")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !isMissingFile(err) {
			return nil, err
		}
	}

	return fromViper(v), nil
}

func fromViper(v *viper.Viper) *Config {
	cfg := &Config{}

	cfg.Env = v.GetString("ENV")
	cfg.Port = v.GetInt("PORT")
	cfg.APIPrefix = v.GetString("API_PREFIX")
	cfg.PublicBaseURL = strings.TrimRight(v.GetString("PUBLIC_BASE_URL"), "/")

	cfg.Database = DatabaseConfig{
		Host:             v.GetString("DB_HOST"),
		Port:             v.GetInt("DB_PORT"),
		User:             v.GetString("DB_USER"),
		Password:         v.GetString("DB_PASSWORD"),
		Name:             v.GetString("DB_NAME"),
		SSLMode:          v.GetString("DB_SSL_MODE"),
		MaxOpenConns:     v.GetInt("DB_MAX_OPEN_CONNS"),
		MaxIdleConns:     v.GetInt("DB_MAX_IDLE_CONNS"),
		StatementTimeout: parseDuration(v.GetString("DB_STATEMENT_TIMEOUT"), time.Minute),
	}

	cfg.Redis = RedisConfig{
		Host:     v.GetString("REDIS_HOST"),
		Port:     v.GetInt("REDIS_PORT"),
		Password: v.GetString("REDIS_PASSWORD"),
		DB:       v.GetInt("REDIS_DB"),
		PoolSize: v.GetInt("REDIS_POOL_SIZE"),
	}

	cfg.Log = LogConfig{
		Level:  v.GetString("LOG_LEVEL"),
		Format: v.GetString("LOG_FORMAT"),
	}

	cfg.Storage = StorageConfig{
		Dir:             v.GetString("STORAGE_DIR"),
		SignedURLSecret: v.GetString("STORAGE_SIGNED_URL_SECRET"),
		SignedURLTTL:    parseDuration(v.GetString("STORAGE_SIGNED_URL_TTL"), 12*time.Hour),
		ArtifactTTL:     parseDuration(v.GetString("STORAGE_ARTIFACT_TTL"), 30*24*time.Hour),
		CleanupInterval: parseDuration(v.GetString("STORAGE_CLEANUP_INTERVAL"), 24*time.Hour),
	}

	cfg.Queue = QueueConfig{
		Workers:    v.GetInt("QUEUE_WORKERS"),
		BufferSize: v.GetInt("QUEUE_BUFFER_SIZE"),
		MaxRetries: v.GetInt("QUEUE_MAX_RETRIES"),
		RetryDelay: parseDuration(v.GetString("QUEUE_RETRY_DELAY"), 5*time.Second),
		StaleAfter: parseDuration(v.GetString("QUEUE_STALE_AFTER"), time.Hour),
	}

	cfg.DSpace = DSpaceConfig{
		SubmissionStream:        v.GetString("DSPACE_SUBMISSION_STREAM"),
		ResultStream:            v.GetString("DSPACE_RESULT_STREAM"),
		ConsumerGroup:           v.GetString("DSPACE_CONSUMER_GROUP"),
		ConsumerName:            v.GetString("DSPACE_CONSUMER_NAME"),
		SubmissionSource:        v.GetString("DSPACE_SUBMISSION_SOURCE"),
		SubmissionSystem:        v.GetString("DSPACE_SUBMISSION_SYSTEM"),
		DoctoralCollection:      v.GetString("DSPACE_DOCTORAL_COLLECTION"),
		GraduateCollection:      v.GetString("DSPACE_GRADUATE_COLLECTION"),
		UndergraduateCollection: v.GetString("DSPACE_UNDERGRADUATE_COLLECTION"),
		HandleBaseURL:           strings.TrimRight(v.GetString("DSPACE_HANDLE_BASE_URL"), "/"),
		BatchSize:               v.GetInt("DSPACE_RESULT_BATCH_SIZE"),
		ReceiveWait:             parseDuration(v.GetString("DSPACE_RESULT_WAIT"), 10*time.Second),
		IdleTimeout:             parseDuration(v.GetString("DSPACE_RESULT_IDLE_TIMEOUT"), time.Minute),
		ClaimIdle:               parseDuration(v.GetString("DSPACE_RESULT_CLAIM_IDLE"), 5*time.Minute),
	}

	cfg.Archivematica = ArchivematicaConfig{
		Endpoint:        v.GetString("APT_ENDPOINT"),
		ChallengeSecret: v.GetString("APT_CHALLENGE_SECRET"),
		InputBucket:     v.GetString("APT_INPUT_BUCKET"),
		OutputBucket:    v.GetString("APT_OUTPUT_BUCKET"),
		Verbose:         v.GetBool("APT_VERBOSE"),
		Compress:        v.GetBool("APT_COMPRESS_ZIP"),
		RequestTimeout:  parseDuration(v.GetString("APT_REQUEST_TIMEOUT"), 5*time.Minute),
		MaxRetries:      v.GetInt("APT_MAX_RETRIES"),
	}

	cfg.Marc = MarcConfig{
		CatalogingSource: v.GetString("MARC_CATALOGING_SOURCE"),
		PublisherPlace:   v.GetString("MARC_PUBLISHER_PLACE"),
		PublisherName:    v.GetString("MARC_PUBLISHER_NAME"),
	}

	cfg.Notifications = NotificationConfig{
		WebhookURL:     v.GetString("NOTIFY_WEBHOOK_URL"),
		RequestTimeout: parseDuration(v.GetString("NOTIFY_REQUEST_TIMEOUT"), 10*time.Second),
		MaxRetries:     v.GetInt("NOTIFY_MAX_RETRIES"),
	}

	cfg.Locks = LockConfig{
		TTL: parseDuration(v.GetString("THESIS_LOCK_TTL"), 2*time.Minute),
	}

	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("ENV", EnvDevelopment)
	v.SetDefault("PORT", 8080)
	v.SetDefault("API_PREFIX", "/api/v1")
	v.SetDefault("PUBLIC_BASE_URL", "http://localhost:8080")

	v.SetDefault("DB_HOST", "localhost")
	v.SetDefault("DB_PORT", 5432)
	v.SetDefault("DB_USER", "postgres")
	v.SetDefault("DB_PASSWORD", "postgres")
	v.SetDefault("DB_NAME", "etd")
	v.SetDefault("DB_SSL_MODE", "disable")
	v.SetDefault("DB_MAX_OPEN_CONNS", 10)
	v.SetDefault("DB_MAX_IDLE_CONNS", 5)
	v.SetDefault("DB_STATEMENT_TIMEOUT", "1m")

	v.SetDefault("REDIS_HOST", "localhost")
	v.SetDefault("REDIS_PORT", 6379)
	v.SetDefault("REDIS_PASSWORD", "")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("REDIS_POOL_SIZE", 20)

	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_FORMAT", "json")

	v.SetDefault("STORAGE_DIR", "./storage")
	v.SetDefault("STORAGE_SIGNED_URL_SECRET", "dev_storage_secret")
	v.SetDefault("STORAGE_SIGNED_URL_TTL", "12h")
	v.SetDefault("STORAGE_ARTIFACT_TTL", "720h")
	v.SetDefault("STORAGE_CLEANUP_INTERVAL", "24h")

	v.SetDefault("QUEUE_WORKERS", 4)
	v.SetDefault("QUEUE_BUFFER_SIZE", 64)
	v.SetDefault("QUEUE_MAX_RETRIES", 3)
	v.SetDefault("QUEUE_RETRY_DELAY", "5s")
	v.SetDefault("QUEUE_STALE_AFTER", "1h")

	v.SetDefault("DSPACE_SUBMISSION_STREAM", "dss-submissions")
	v.SetDefault("DSPACE_RESULT_STREAM", "dss-results-etd")
	v.SetDefault("DSPACE_CONSUMER_GROUP", "etd")
	v.SetDefault("DSPACE_CONSUMER_NAME", "etd-1")
	v.SetDefault("DSPACE_SUBMISSION_SOURCE", "ETD")
	v.SetDefault("DSPACE_SUBMISSION_SYSTEM", "DSpace@MIT")
	v.SetDefault("DSPACE_DOCTORAL_COLLECTION", "1721.1/131022")
	v.SetDefault("DSPACE_GRADUATE_COLLECTION", "1721.1/131023")
	v.SetDefault("DSPACE_UNDERGRADUATE_COLLECTION", "1721.1/131024")
	v.SetDefault("DSPACE_HANDLE_BASE_URL", "https://hdl.handle.net")
	v.SetDefault("DSPACE_RESULT_BATCH_SIZE", 10)
	v.SetDefault("DSPACE_RESULT_WAIT", "10s")
	v.SetDefault("DSPACE_RESULT_IDLE_TIMEOUT", "1m")
	v.SetDefault("DSPACE_RESULT_CLAIM_IDLE", "5m")

	v.SetDefault("APT_ENDPOINT", "http://localhost:9000/bagit")
	v.SetDefault("APT_CHALLENGE_SECRET", "")
	v.SetDefault("APT_INPUT_BUCKET", "etd-files")
	v.SetDefault("APT_OUTPUT_BUCKET", "etd-sips")
	v.SetDefault("APT_VERBOSE", false)
	v.SetDefault("APT_COMPRESS_ZIP", true)
	v.SetDefault("APT_REQUEST_TIMEOUT", "5m")
	v.SetDefault("APT_MAX_RETRIES", 1)

	v.SetDefault("MARC_CATALOGING_SOURCE", "MYG")
	v.SetDefault("MARC_PUBLISHER_PLACE", "Cambridge, Massachusetts :")
	v.SetDefault("MARC_PUBLISHER_NAME", "Massachusetts Institute of Technology,")

	v.SetDefault("NOTIFY_WEBHOOK_URL", "")
	v.SetDefault("NOTIFY_REQUEST_TIMEOUT", "10s")
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)

	v.SetDefault("THESIS_LOCK_TTL", "2m")
}

func isMissingFile(err error) bool {
	return strings.Contains(err.Error(), "no such file or directory")
}

func parseDuration(raw string, fallback time.Duration) time.Duration {
	if raw == "" {
		return fallback
	}

	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}

	return d
}

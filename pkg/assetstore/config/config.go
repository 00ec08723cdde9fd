package config

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Arinfaead/FilaDB/pkg/assetstore"
	"github.com/Arinfaead/FilaDB/pkg/assetstore/repo/memory"
	repopg "github.com/Arinfaead/FilaDB/pkg/assetstore/repo/postgres"
	fsstorage "github.com/Arinfaead/FilaDB/pkg/assetstore/storage/fs"
	memorystorage "github.com/Arinfaead/FilaDB/pkg/assetstore/storage/memory"
	s3storage "github.com/Arinfaead/FilaDB/pkg/assetstore/storage/s3"
)

// Option applies configuration to a ServerConfig instance.
type Option func(*ServerConfig) error

// Load constructs a ServerConfig by applying the supplied options on top
// of library defaults.
func Load(opts ...Option) (*ServerConfig, error) {
	cfg := defaults()

	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(&cfg); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func defaults() ServerConfig {
	return ServerConfig{
		Port:          "8080",
		Environment:   "development",
		DatabaseType:  "memory",
		StorageType:   "memory",
		FSBaseDir:     "./data/blobs",
		AuditBackend:  "log",
		SweepInterval: time.Hour,
		SweepMinAge:   5 * time.Minute,
	}
}

// ServerConfig represents server configuration for the asset store service
type ServerConfig struct {
	Port        string
	Environment string // development, production, testing

	// Database configuration
	DatabaseURL  string
	DatabaseType string // "memory", "postgres"

	// Storage configuration
	StorageType string // "memory", "fs", "s3"
	FSBaseDir   string
	SpoolDir    string
	S3          S3Config

	// Audit configuration
	AuditBackend string // "noop", "log", "postgres"

	// Garbage collection of zero-reference blobs
	SweepInterval time.Duration
	SweepMinAge   time.Duration

	// JWT verification key for the actor middleware; empty disables
	// verification (development only).
	JWTSecret string
}

// S3Config holds the s3 storage backend settings
type S3Config struct {
	Region                 string
	Bucket                 string
	AccessKeyID            string
	SecretAccessKey        string
	Endpoint               string
	UsePathStyle           bool
	CreateBucketIfNotExist bool
}

// Validate validates the server configuration
func (c *ServerConfig) Validate() error {
	if c.Port == "" {
		return errors.New("port is required")
	}

	if c.DatabaseType != "memory" && c.DatabaseType != "postgres" {
		return errors.New("database_type must be 'memory' or 'postgres'")
	}
	if c.DatabaseType == "postgres" && c.DatabaseURL == "" {
		return errors.New("database_url is required when using postgres")
	}

	switch c.StorageType {
	case "memory":
	case "fs":
		if c.FSBaseDir == "" {
			return errors.New("fs base dir is required when using fs storage")
		}
	case "s3":
		if c.S3.Bucket == "" {
			return errors.New("s3 bucket is required when using s3 storage")
		}
	default:
		return errors.New("storage_type must be 'memory', 'fs' or 's3'")
	}

	switch c.AuditBackend {
	case "noop", "log":
	case "postgres":
		if c.DatabaseType != "postgres" {
			return errors.New("postgres audit backend requires database_type postgres")
		}
	default:
		return errors.New("audit_backend must be 'noop', 'log' or 'postgres'")
	}

	if c.Environment == "production" && c.JWTSecret == "" {
		return errors.New("jwt secret is required in production")
	}
	return nil
}

// BuildService creates a Service instance from the server configuration
func (c *ServerConfig) BuildService() (assetstore.Service, error) {
	var pool *pgxpool.Pool
	var repo assetstore.Repository
	var err error

	switch c.DatabaseType {
	case "memory":
		repo = memory.New()
	case "postgres":
		pool, err = newPool(c.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to build repository: %w", err)
		}
		repo = repopg.NewWithPool(pool)
	default:
		return nil, fmt.Errorf("unsupported database type: %s", c.DatabaseType)
	}

	backend, err := c.buildBlobStore()
	if err != nil {
		return nil, fmt.Errorf("failed to build storage backend: %w", err)
	}

	csOpts := []assetstore.ContentStoreOption{
		assetstore.WithBackendName(c.StorageType),
		assetstore.WithSweepMinAge(c.SweepMinAge),
	}
	if c.SpoolDir != "" {
		csOpts = append(csOpts, assetstore.WithSpoolDir(c.SpoolDir))
	}
	contentStore := assetstore.NewContentStore(repo, backend, csOpts...)

	sink, err := c.buildAuditSink(pool)
	if err != nil {
		return nil, fmt.Errorf("failed to build audit sink: %w", err)
	}

	return assetstore.New(
		assetstore.WithRepository(repo),
		assetstore.WithContentStore(contentStore),
		assetstore.WithAuditSink(sink),
	)
}

func newPool(databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse DATABASE_URL: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pgx pool: %w", err)
	}
	return pool, nil
}

// PingPostgres verifies connectivity to Postgres at startup.
func PingPostgres(databaseURL string) error {
	pool, err := newPool(databaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pool.Ping(ctx); err != nil {
		return fmt.Errorf("database ping failed: %w", err)
	}
	return nil
}

func (c *ServerConfig) buildBlobStore() (assetstore.BlobStore, error) {
	switch c.StorageType {
	case "memory":
		return memorystorage.New(), nil
	case "fs":
		return fsstorage.New(fsstorage.Config{BaseDir: c.FSBaseDir})
	case "s3":
		return s3storage.New(s3storage.Config{
			Region:                 c.S3.Region,
			Bucket:                 c.S3.Bucket,
			AccessKeyID:            c.S3.AccessKeyID,
			SecretAccessKey:        c.S3.SecretAccessKey,
			Endpoint:               c.S3.Endpoint,
			UsePathStyle:           c.S3.UsePathStyle,
			CreateBucketIfNotExist: c.S3.CreateBucketIfNotExist,
		})
	default:
		return nil, fmt.Errorf("unsupported storage type: %s", c.StorageType)
	}
}

func (c *ServerConfig) buildAuditSink(pool *pgxpool.Pool) (assetstore.AuditSink, error) {
	switch c.AuditBackend {
	case "noop":
		return assetstore.NewNoopAuditSink(), nil
	case "log":
		return assetstore.NewLogAuditSink(nil), nil
	case "postgres":
		if pool == nil {
			return nil, errors.New("postgres audit backend requires a postgres database")
		}
		return repopg.NewAuditSink(pool), nil
	default:
		return nil, fmt.Errorf("unsupported audit backend: %s", c.AuditBackend)
	}
}

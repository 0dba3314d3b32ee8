// Package server implements the Northwind data service: metadata, queries and
// transactional saves over the repository layer, served with gin.
package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/metadata"
	"github.com/ammar0144/entity4go/pkg/northwind"
	"github.com/ammar0144/entity4go/pkg/redis"
	"github.com/ammar0144/entity4go/pkg/repository"
)

// DefaultServiceName is the service segment of /breeze/{service}/...
const DefaultServiceName = "Northwind"

// Config holds the data service settings
type Config struct {
	Addr        string `json:"addr" yaml:"addr"`
	ServiceName string `json:"service_name" yaml:"service_name"`
	// Mode is the gin mode: debug, release or test
	Mode string `json:"mode" yaml:"mode"`
	// Seed inserts the fixture into an empty database at startup
	Seed bool `json:"seed" yaml:"seed"`
	// EnableReset exposes POST /breeze/{service}/Reset
	EnableReset bool `json:"enable_reset" yaml:"enable_reset"`
}

// DefaultConfig returns the settings used when no config file is given
func DefaultConfig() Config {
	return Config{
		Addr:        ":8080",
		ServiceName: DefaultServiceName,
		Mode:        "release",
		Seed:        true,
		EnableReset: true,
	}
}

// Service answers metadata, query, save and reset requests
type Service struct {
	cfg       Config
	dbManager *db.Manager
	cache     *redis.Manager
	logger    *slog.Logger

	registry     *repository.Registry
	store        *metadata.Store
	metadataJSON []byte
	metrics      *Metrics
}

// NewService builds the entity sets and metadata for the Northwind models.
// cache may be nil; logger defaults to slog.Default().
func NewService(cfg Config, dbManager *db.Manager, cache *redis.Manager, logger *slog.Logger) (*Service, error) {
	if dbManager == nil || dbManager.DB() == nil {
		return nil, fmt.Errorf("database manager is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = DefaultServiceName
	}

	s := &Service{
		cfg:       cfg,
		dbManager: dbManager,
		cache:     cache,
		logger:    logger,
		registry:  repository.NewRegistry(),
		metrics:   NewMetrics(cache),
	}

	if err := s.registerSets(); err != nil {
		return nil, err
	}

	store, err := metadata.FromModels(dbManager.DB(), cfg.ServiceName, northwind.Models()...)
	if err != nil {
		return nil, fmt.Errorf("build metadata: %w", err)
	}
	data, err := store.Export()
	if err != nil {
		return nil, fmt.Errorf("export metadata: %w", err)
	}
	s.store = store
	s.metadataJSON = data

	s.logger.Info("data service ready", "service", cfg.ServiceName, "entitySets", len(s.registry.Sets()), "cache", cache.Enabled())
	return s, nil
}

func (s *Service) registerSets() error {
	opt := repository.WithLogger(s.logger)
	if _, err := repository.Register[northwind.Customer](s.registry, s.dbManager, s.cache, opt); err != nil {
		return err
	}
	if _, err := repository.Register[northwind.Employee](s.registry, s.dbManager, s.cache, opt); err != nil {
		return err
	}
	if _, err := repository.Register[northwind.Category](s.registry, s.dbManager, s.cache, opt); err != nil {
		return err
	}
	if _, err := repository.Register[northwind.Product](s.registry, s.dbManager, s.cache, opt); err != nil {
		return err
	}
	if _, err := repository.Register[northwind.Order](s.registry, s.dbManager, s.cache, opt); err != nil {
		return err
	}
	if _, err := repository.Register[northwind.OrderDetail](s.registry, s.dbManager, s.cache, opt); err != nil {
		return err
	}
	return nil
}

// ServiceName returns the service segment this service answers to
func (s *Service) ServiceName() string {
	return s.cfg.ServiceName
}

// MetadataStore returns the server-side metadata
func (s *Service) MetadataStore() *metadata.Store {
	return s.store
}

// Metrics returns the service collectors
func (s *Service) Metrics() *Metrics {
	return s.metrics
}

// FetchMetadata returns a copy of the metadata, the same document clients download
func (s *Service) FetchMetadata(ctx context.Context) (*metadata.Store, error) {
	store := metadata.NewStore(s.cfg.ServiceName)
	if err := store.Import(s.metadataJSON); err != nil {
		return nil, err
	}
	return store, nil
}

// Reset restores the Northwind fixture and drops every cached query
func (s *Service) Reset(ctx context.Context) error {
	if err := northwind.Reset(ctx, s.dbManager.DB()); err != nil {
		return err
	}
	s.metrics.resets.Inc()

	if s.cache.Enabled() {
		if err := s.cache.Flush(ctx); err != nil {
			s.logger.Warn("cache flush after reset failed", "error", err)
		}
	}

	s.logger.Info("northwind fixture restored")
	return nil
}

// Ping checks the database and, when enabled, the cache
func (s *Service) Ping(ctx context.Context) error {
	if err := s.dbManager.Ping(ctx); err != nil {
		return fmt.Errorf("database: %w", err)
	}
	if s.cache != nil && s.cache.Enabled() {
		if err := s.cache.Ping(ctx); err != nil {
			return fmt.Errorf("cache: %w", err)
		}
	}
	return nil
}

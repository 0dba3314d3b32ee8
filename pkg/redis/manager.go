package redis

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	cacheKeySeparator     = ":"
	cacheDependencyPrefix = "deps"

	// first byte of every stored value
	valuePlain      byte = 0
	valueCompressed byte = 1
)

// Manager manages Redis connections and cache operations
type Manager struct {
	config  *Config
	client  redis.UniversalClient
	metrics *Metrics
	logger  *slog.Logger
}

// Option configures a Manager
type Option func(*Manager)

// WithLogger sets the logger used for cache events
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithClient injects an existing client instead of dialing from config
func WithClient(client redis.UniversalClient) Option {
	return func(m *Manager) {
		m.client = client
	}
}

// NewManager creates a new Redis cache manager. A disabled config yields a manager
// whose operations return ErrCacheDisabled.
func NewManager(config *Config, opts ...Option) (*Manager, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid redis config: %w", err)
	}

	manager := &Manager{
		config:  config,
		metrics: NewMetrics(),
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(manager)
	}

	if config.Enabled && manager.client == nil {
		manager.client = newClient(config)
	}

	return manager, nil
}

func newClient(config *Config) redis.UniversalClient {
	if config.IsClusterMode() {
		return redis.NewClusterClient(&redis.ClusterOptions{
			Addrs:           config.Cluster.Addresses,
			Username:        config.Cluster.Username,
			Password:        config.Cluster.Password,
			PoolSize:        config.PoolSize,
			MinIdleConns:    config.MinIdleConns,
			ConnMaxLifetime: config.MaxConnAge,
			PoolTimeout:     config.PoolTimeout,
			ConnMaxIdleTime: config.IdleTimeout,
			ReadTimeout:     config.ReadTimeout,
			WriteTimeout:    config.WriteTimeout,
			DialTimeout:     config.DialTimeout,
		})
	}

	return redis.NewClient(&redis.Options{
		Addr:            config.GetAddr(),
		Password:        config.Password,
		DB:              config.Database,
		PoolSize:        config.PoolSize,
		MinIdleConns:    config.MinIdleConns,
		ConnMaxLifetime: config.MaxConnAge,
		PoolTimeout:     config.PoolTimeout,
		ConnMaxIdleTime: config.IdleTimeout,
		ReadTimeout:     config.ReadTimeout,
		WriteTimeout:    config.WriteTimeout,
		DialTimeout:     config.DialTimeout,
	})
}

// Config returns the manager's configuration
func (m *Manager) Config() *Config {
	return m.config
}

// Enabled reports whether cache operations will reach redis
func (m *Manager) Enabled() bool {
	return m != nil && m.config.Enabled && m.client != nil
}

// Close closes the Redis connection
func (m *Manager) Close() error {
	if m.client != nil {
		return m.client.Close()
	}
	return nil
}

// Ping tests the Redis connection.
// A disabled cache is a valid state and pings successfully.
func (m *Manager) Ping(ctx context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	if m.client == nil {
		return ErrNoClient
	}
	if err := m.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionFailed, err)
	}
	return nil
}

func (m *Manager) checkClient() error {
	if !m.config.Enabled {
		return ErrCacheDisabled
	}
	if m.client == nil {
		return ErrNoClient
	}
	return nil
}

// Key joins parts under the configured prefix, e.g. "entity4go:query:Orders:1f2e"
func (m *Manager) Key(parts ...string) string {
	return m.config.prefix() + cacheKeySeparator + strings.Join(parts, cacheKeySeparator)
}

func (m *Manager) dependencyKey(table string) string {
	return m.Key(cacheDependencyPrefix, table)
}

// Get retrieves a raw value from cache
func (m *Manager) Get(ctx context.Context, key string) ([]byte, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}

	start := time.Now()
	val, err := m.client.Get(ctx, key).Bytes()
	m.metrics.RecordGet(time.Since(start))

	if errors.Is(err, redis.Nil) {
		m.metrics.RecordCacheMiss()
		if m.config.Logging.LogCacheMisses {
			m.logger.Debug("cache miss", "key", key)
		}
		return nil, ErrCacheMiss
	}
	if err != nil {
		m.metrics.RecordCacheError()
		return nil, fmt.Errorf("redis get error: %w", err)
	}

	m.metrics.RecordCacheHit()
	if m.config.Logging.LogCacheHits {
		m.logger.Debug("cache hit", "key", key)
	}
	return val, nil
}

// Set stores a raw value in cache with the default TTL
func (m *Manager) Set(ctx context.Context, key string, value []byte) error {
	return m.SetWithTTL(ctx, key, value, m.config.DefaultTTL)
}

// SetWithTTL stores a raw value in cache with a custom TTL
func (m *Manager) SetWithTTL(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	start := time.Now()
	err := m.client.Set(ctx, key, value, ttl).Err()
	m.metrics.RecordSet(time.Since(start))
	if err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("redis set error: %w", err)
	}
	return nil
}

// Delete removes a key from cache
func (m *Manager) Delete(ctx context.Context, key string) error {
	return m.DeleteKeys(ctx, []string{key})
}

// DeleteKeys removes multiple keys from cache
func (m *Manager) DeleteKeys(ctx context.Context, keys []string) error {
	if err := m.checkClient(); err != nil {
		return err
	}
	if len(keys) == 0 {
		return nil
	}

	if err := m.client.Del(ctx, keys...).Err(); err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("redis delete error: %w", err)
	}
	m.metrics.RecordDelete()
	return nil
}

// SetValue msgpack-encodes value and stores it, compressing above the configured threshold
func (m *Manager) SetValue(ctx context.Context, key string, value interface{}) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	data, err := msgpack.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}

	payload, err := m.encodePayload(data)
	if err != nil {
		return err
	}
	return m.Set(ctx, key, payload)
}

// GetValue loads key and msgpack-decodes it into target
func (m *Manager) GetValue(ctx context.Context, key string, target interface{}) error {
	payload, err := m.Get(ctx, key)
	if err != nil {
		return err
	}

	data, err := decodePayload(payload)
	if err != nil {
		return err
	}
	if err := msgpack.Unmarshal(data, target); err != nil {
		return fmt.Errorf("%w: %v", ErrSerializationFailed, err)
	}
	return nil
}

func (m *Manager) encodePayload(data []byte) ([]byte, error) {
	threshold := m.config.CompressThreshold
	if threshold <= 0 || len(data) <= threshold {
		return append([]byte{valuePlain}, data...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(valueCompressed)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("%w: compress: %v", ErrSerializationFailed, err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("%w: compress: %v", ErrSerializationFailed, err)
	}
	m.metrics.RecordCompressed()
	return buf.Bytes(), nil
}

func decodePayload(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrSerializationFailed)
	}

	switch payload[0] {
	case valuePlain:
		return payload[1:], nil
	case valueCompressed:
		zr, err := gzip.NewReader(bytes.NewReader(payload[1:]))
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrSerializationFailed, err)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("%w: decompress: %v", ErrSerializationFailed, err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("%w: unknown payload marker %d", ErrSerializationFailed, payload[0])
	}
}

// AddDependencies registers cacheKey under each table's dependency set so a write
// to any of those tables invalidates it
func (m *Manager) AddDependencies(ctx context.Context, cacheKey string, tables ...string) error {
	if err := m.checkClient(); err != nil {
		return err
	}
	if len(tables) == 0 {
		return nil
	}

	pipe := m.client.Pipeline()
	for _, table := range tables {
		depKey := m.dependencyKey(table)
		pipe.SAdd(ctx, depKey, cacheKey)
		// outlive the cached values so invalidation never misses a live key
		pipe.Expire(ctx, depKey, m.config.DefaultTTL*2)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		m.metrics.RecordCacheError()
		return fmt.Errorf("failed to add dependencies: %w", err)
	}

	m.metrics.RecordDependency(len(tables))
	return nil
}

// SetValueWithDependencies stores value and registers it against tables
func (m *Manager) SetValueWithDependencies(ctx context.Context, cacheKey string, value interface{}, tables ...string) error {
	if err := m.SetValue(ctx, cacheKey, value); err != nil {
		return err
	}
	if err := m.AddDependencies(ctx, cacheKey, tables...); err != nil {
		// an unregistered key could serve stale rows after a write
		_ = m.Delete(ctx, cacheKey)
		return err
	}
	return nil
}

// GetDependencies returns the cache keys registered against table
func (m *Manager) GetDependencies(ctx context.Context, table string) ([]string, error) {
	if err := m.checkClient(); err != nil {
		return nil, err
	}

	keys, err := m.client.SMembers(ctx, m.dependencyKey(table)).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to get dependencies: %w", err)
	}
	return keys, nil
}

// InvalidateDependencies deletes every cached value registered against any of tables
func (m *Manager) InvalidateDependencies(ctx context.Context, tables ...string) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	var keys []string
	for _, table := range tables {
		deps, err := m.GetDependencies(ctx, table)
		if err != nil {
			return err
		}
		keys = append(keys, deps...)
		keys = append(keys, m.dependencyKey(table))
	}

	if err := m.DeleteKeys(ctx, keys); err != nil {
		return err
	}

	m.metrics.RecordInvalidation(len(keys))
	if m.config.Logging.LogInvalidations {
		m.logger.Debug("cache invalidated", "tables", tables, "keys", len(keys))
	}
	return nil
}

// InvalidatePattern removes keys matching a pattern using SCAN, which does not
// block the server the way KEYS does
func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) error {
	if err := m.checkClient(); err != nil {
		return err
	}

	const scanBatchSize = 100
	var cursor uint64
	for {
		batch, next, err := m.client.Scan(ctx, cursor, pattern, scanBatchSize).Result()
		if err != nil {
			return fmt.Errorf("failed to scan keys with pattern %s: %w", pattern, err)
		}

		if len(batch) > 0 {
			if err := m.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("failed to delete batch: %w", err)
			}
			m.metrics.RecordInvalidation(len(batch))
		}

		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}

// Flush removes every key under the configured prefix
func (m *Manager) Flush(ctx context.Context) error {
	return m.InvalidatePattern(ctx, m.config.prefix()+cacheKeySeparator+"*")
}

// GetMetrics returns current cache performance metrics
func (m *Manager) GetMetrics() MetricsSnapshot {
	return m.metrics.GetSnapshot()
}

package redis

import "errors"

var (
	// ErrCacheDisabled is returned by every operation of a manager built from a disabled config
	ErrCacheDisabled = errors.New("redis cache is disabled")
	ErrNoClient      = errors.New("redis client not initialized")
	// ErrCacheMiss means the key is absent; repositories fall through to the database
	ErrCacheMiss           = errors.New("cache miss")
	ErrConnectionFailed    = errors.New("redis connection failed")
	ErrSerializationFailed = errors.New("cache payload encoding failed")
)

func IsCacheDisabled(err error) bool { return errors.Is(err, ErrCacheDisabled) }

func IsCacheMiss(err error) bool { return errors.Is(err, ErrCacheMiss) }

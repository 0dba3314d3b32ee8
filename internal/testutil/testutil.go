// Package testutil starts seeded Northwind data services for tests.
package testutil

import (
	"context"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ammar0144/entity4go/internal/server"
	"github.com/ammar0144/entity4go/pkg/dataservice"
	"github.com/ammar0144/entity4go/pkg/db"
	"github.com/ammar0144/entity4go/pkg/northwind"
	"github.com/ammar0144/entity4go/pkg/redis"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

// Env is a running data service backed by an in-memory database
type Env struct {
	DB      *db.Manager
	Service *server.Service
	Server  *httptest.Server
	URL     string
}

// Logger discards output unless the test runs verbose
func Logger(t testing.TB) *slog.Logger {
	if testing.Verbose() {
		return slog.New(slog.NewTextHandler(testWriter{t}, &slog.HandlerOptions{Level: slog.LevelDebug}))
	}
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type testWriter struct{ t testing.TB }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(strings.TrimRight(string(p), "\n"))
	return len(p), nil
}

// NewDB opens a migrated and seeded sqlite database private to the test
func NewDB(t testing.TB) *db.Manager {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_", "#", "_").Replace(t.Name())
	m, err := db.NewManager(db.DefaultSQLiteConfig("file:" + name + "?mode=memory&cache=shared"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })

	require.NoError(t, northwind.Migrate(m.DB()))
	require.NoError(t, northwind.Seed(context.Background(), m.DB()))
	return m
}

// NewService builds a data service over a fresh database without a cache
func NewService(t testing.TB) *server.Service {
	t.Helper()
	return newService(t, NewDB(t))
}

func newService(t testing.TB, dbManager *db.Manager) *server.Service {
	t.Helper()
	svc, err := server.NewService(server.DefaultConfig(), dbManager, nil, Logger(t))
	require.NoError(t, err)
	return svc
}

// NewCachedService builds a data service whose query cache lives in an in-memory
// redis server
func NewCachedService(t testing.TB) (*server.Service, *redis.Manager, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)

	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	cfg := redis.DefaultConfig()
	cfg.Enabled = true
	cache, err := redis.NewManager(cfg, redis.WithClient(client), redis.WithLogger(Logger(t)))
	require.NoError(t, err)

	svc, err := server.NewService(server.DefaultConfig(), NewDB(t), cache, Logger(t))
	require.NoError(t, err)
	return svc, cache, mr
}

// NewServer serves a fresh data service over HTTP until the test ends
func NewServer(t testing.TB) *Env {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dbManager := NewDB(t)
	svc := newService(t, dbManager)
	srv := httptest.NewServer(svc.Router())
	t.Cleanup(srv.Close)

	return &Env{
		DB:      dbManager,
		Service: svc,
		Server:  srv,
		URL:     srv.URL,
	}
}

// Client returns an HTTP client for the environment's service
func (e *Env) Client(t testing.TB) *dataservice.Client {
	return dataservice.NewClient(e.URL, e.Service.ServiceName(), dataservice.WithLogger(Logger(t)))
}

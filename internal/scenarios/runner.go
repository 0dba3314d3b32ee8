// Package scenarios is the save and query verification suite for an entity manager
// talking to a Northwind data service. Every scenario gets a fresh manager sharing one
// metadata store, and the database is reset after each one.
package scenarios

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ammar0144/entity4go/pkg/dataservice"
	"github.com/ammar0144/entity4go/pkg/entity"
	"github.com/ammar0144/entity4go/pkg/metadata"
)

// Scenario drives one manager through a sequence of operations and asserts the outcome
type Scenario struct {
	Name string
	Run  func(ctx context.Context, em *entity.EntityManager, a *Assert) error
}

// Env supplies the data service a suite runs against
type Env struct {
	// DataService serves metadata, queries and saves
	DataService entity.DataService
	// Reset restores the database after each scenario; nil skips the teardown
	Reset  func(ctx context.Context) error
	Logger *slog.Logger

	store *metadata.Store
}

// NewHTTPEnv targets a running service, e.g. NewHTTPEnv("http://localhost:8080", "Northwind", nil)
func NewHTTPEnv(baseURL, serviceName string, logger *slog.Logger) *Env {
	if logger == nil {
		logger = slog.Default()
	}
	client := dataservice.NewClient(baseURL, serviceName, dataservice.WithLogger(logger))
	return &Env{
		DataService: client,
		Reset:       client.Reset,
		Logger:      logger,
	}
}

// NewManager returns a manager sharing the environment's metadata
func (e *Env) NewManager() *entity.EntityManager {
	opts := []entity.Option{entity.WithLogger(e.Logger)}
	if e.store != nil {
		opts = append(opts, entity.WithMetadataStore(e.store))
	}
	return entity.NewEntityManager(e.DataService, opts...)
}

// setup populates the shared metadata store once
func (e *Env) setup(ctx context.Context) error {
	if e.store != nil {
		return nil
	}
	store, err := e.NewManager().FetchMetadata(ctx)
	if err != nil {
		return fmt.Errorf("populate metadata: %w", err)
	}
	e.store = store
	return nil
}

func (e *Env) teardown(ctx context.Context) error {
	if e.Reset == nil {
		return nil
	}
	if err := e.Reset(ctx); err != nil {
		return fmt.Errorf("reset northwind: %w", err)
	}
	return nil
}

// Result is the outcome of one scenario
type Result struct {
	Name       string
	Expected   int
	Assertions int
	Failures   []string
	Duration   time.Duration
}

// Passed reports whether every assertion held and the declared count was met
func (r Result) Passed() bool {
	return len(r.Failures) == 0 && (r.Expected == 0 || r.Expected == r.Assertions)
}

func (r Result) String() string {
	status := "ok"
	if !r.Passed() {
		status = "FAIL"
	}
	return fmt.Sprintf("%s %s (%d/%d assertions, %s)", status, r.Name, r.Assertions, r.Expected, r.Duration.Round(time.Millisecond))
}

// Run executes scenarios in order with setup before and teardown after each
func Run(ctx context.Context, env *Env, scenarios []Scenario) []Result {
	if env.Logger == nil {
		env.Logger = slog.Default()
	}

	results := make([]Result, 0, len(scenarios))
	for _, s := range scenarios {
		results = append(results, runOne(ctx, env, s))
	}
	return results
}

func runOne(ctx context.Context, env *Env, s Scenario) (result Result) {
	a := &Assert{}
	start := time.Now()

	defer func() {
		if err := env.teardown(ctx); err != nil {
			a.fail(err)
		}
		result.Name = s.Name
		result.Expected, result.Assertions, result.Failures = a.snapshot()
		if result.Expected != 0 && result.Expected != result.Assertions {
			result.Failures = append(result.Failures,
				fmt.Sprintf("expected %d assertions, ran %d", result.Expected, result.Assertions))
		}
		result.Duration = time.Since(start)
		env.Logger.Debug("scenario finished", "name", s.Name, "passed", result.Passed(), "duration", result.Duration)
	}()

	defer func() {
		if r := recover(); r != nil {
			a.fail(fmt.Errorf("panic: %v", r))
		}
	}()

	if err := env.setup(ctx); err != nil {
		a.fail(err)
		return
	}
	if err := s.Run(ctx, env.NewManager(), a); err != nil {
		a.fail(err)
	}
	return
}

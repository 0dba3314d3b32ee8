package scenarios_test

import (
	"context"
	"errors"
	"testing"

	"github.com/ammar0144/entity4go/internal/scenarios"
	"github.com/ammar0144/entity4go/internal/testutil"
	"github.com/ammar0144/entity4go/pkg/entity"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func requireAllPassed(t *testing.T, results []scenarios.Result) {
	t.Helper()
	for _, r := range results {
		assert.True(t, r.Passed(), "%s: %v", r.Name, r.Failures)
	}
}

func TestNorthwind_OverHTTP(t *testing.T) {
	env := testutil.NewServer(t)
	suite := scenarios.Northwind()

	results := scenarios.Run(context.Background(), scenarios.NewHTTPEnv(env.URL, "Northwind", testutil.Logger(t)), suite)
	require.Len(t, results, len(suite))
	requireAllPassed(t, results)

	// every scenario is followed by a reset, so the fixture is intact afterwards
	var orders int64
	require.NoError(t, env.DB.DB().Table("Orders").Count(&orders).Error)
	assert.EqualValues(t, 3, orders)
}

func TestNorthwind_InProcess(t *testing.T) {
	svc := testutil.NewService(t)
	env := &scenarios.Env{DataService: svc, Reset: svc.Reset, Logger: testutil.Logger(t)}

	results := scenarios.Run(context.Background(), env, scenarios.Northwind())
	requireAllPassed(t, results)
}

func TestRun_ReportsFailures(t *testing.T) {
	svc := testutil.NewService(t)
	resets := 0
	env := &scenarios.Env{
		DataService: svc,
		Reset: func(ctx context.Context) error {
			resets++
			return svc.Reset(ctx)
		},
		Logger: testutil.Logger(t),
	}

	suite := []scenarios.Scenario{
		{Name: "short count", Run: func(ctx context.Context, em *entity.EntityManager, a *scenarios.Assert) error {
			a.Expect(2)
			a.Ok(true, "only one")
			return nil
		}},
		{Name: "failed equal", Run: func(ctx context.Context, em *entity.EntityManager, a *scenarios.Assert) error {
			a.Expect(1)
			a.Equal(1, 2, "numbers")
			return nil
		}},
		{Name: "error", Run: func(ctx context.Context, em *entity.EntityManager, a *scenarios.Assert) error {
			return errors.New("boom")
		}},
		{Name: "panic", Run: func(ctx context.Context, em *entity.EntityManager, a *scenarios.Assert) error {
			panic("unexpected")
		}},
		{Name: "passes", Run: func(ctx context.Context, em *entity.EntityManager, a *scenarios.Assert) error {
			a.Expect(1)
			a.Ok(em.MetadataStore() != nil && !em.HasChanges(), "fresh manager with metadata")
			return nil
		}},
	}

	results := scenarios.Run(context.Background(), env, suite)
	require.Len(t, results, 5)
	assert.Equal(t, 5, resets)

	assert.False(t, results[0].Passed())
	assert.Contains(t, results[0].Failures, "expected 2 assertions, ran 1")

	assert.False(t, results[1].Passed())
	assert.Contains(t, results[1].Failures[0], "got 1, want 2")

	assert.False(t, results[2].Passed())
	assert.Contains(t, results[2].Failures, "boom")

	assert.False(t, results[3].Passed())
	assert.Contains(t, results[3].Failures[0], "panic: unexpected")

	assert.True(t, results[4].Passed(), results[4].Failures)
	assert.Contains(t, results[4].String(), "ok passes")
}

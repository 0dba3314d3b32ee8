package scenarios

import (
	"fmt"
	"sync"

	"github.com/stretchr/testify/assert"
)

// Assert collects the outcomes of one scenario's assertions
type Assert struct {
	mu       sync.Mutex
	expected int
	count    int
	failures []string
}

// Expect declares how many assertions the scenario must make
func (a *Assert) Expect(n int) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expected = n
}

// Ok records a passing assertion when cond holds
func (a *Assert) Ok(cond bool, format string, args ...interface{}) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.count++
	if !cond {
		a.failures = append(a.failures, fmt.Sprintf(format, args...))
	}
	return cond
}

// Equal records a passing assertion when got equals want
func (a *Assert) Equal(got, want interface{}, format string, args ...interface{}) bool {
	if assert.ObjectsAreEqual(want, got) {
		return a.Ok(true, format, args...)
	}
	return a.Ok(false, "%s: got %v, want %v", fmt.Sprintf(format, args...), got, want)
}

// fail records an error that ended the scenario early
func (a *Assert) fail(err error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.failures = append(a.failures, err.Error())
}

func (a *Assert) snapshot() (expected, count int, failures []string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.expected, a.count, append([]string(nil), a.failures...)
}

// Package health runs on-demand component checks for the HTTP API.
package health

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// Status represents the health status of a component.
type Status string

const (
	StatusHealthy   Status = "HEALTHY"
	StatusDegraded  Status = "DEGRADED"
	StatusUnhealthy Status = "UNHEALTHY"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Name      string        `json:"name"`
	Status    Status        `json:"status"`
	Message   string        `json:"message"`
	LastCheck time.Time     `json:"last_check"`
	Latency   time.Duration `json:"latency_ns"`
}

// Check inspects one component.
type Check func(ctx context.Context) ComponentHealth

// Report is the outcome of running every registered check.
type Report struct {
	Status     Status            `json:"status"`
	CheckedAt  time.Time         `json:"checked_at"`
	Components []ComponentHealth `json:"components"`
}

// Healthy reports whether the system is still serving. Degraded counts as serving.
func (r Report) Healthy() bool {
	return r.Status != StatusUnhealthy
}

// Checker holds named checks. It is safe for concurrent use.
type Checker struct {
	mu      sync.RWMutex
	checks  map[string]Check
	timeout time.Duration
}

// NewChecker creates a checker; each run is bounded by timeout (0 means 5s).
func NewChecker(timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Checker{checks: make(map[string]Check), timeout: timeout}
}

// Register adds or replaces a named check.
func (c *Checker) Register(name string, check Check) {
	c.mu.Lock()
	c.checks[name] = check
	c.mu.Unlock()
}

// Run executes every check concurrently. A panicking check is reported unhealthy.
func (c *Checker) Run(ctx context.Context) Report {
	c.mu.RLock()
	checks := make(map[string]Check, len(c.checks))
	for k, v := range c.checks {
		checks[k] = v
	}
	c.mu.RUnlock()

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var wg sync.WaitGroup
	results := make(chan ComponentHealth, len(checks))
	for name, check := range checks {
		wg.Add(1)
		go func(name string, check Check) {
			defer wg.Done()
			start := time.Now()
			defer func() {
				if r := recover(); r != nil {
					results <- ComponentHealth{
						Name:      name,
						Status:    StatusUnhealthy,
						Message:   fmt.Sprintf("check panicked: %v", r),
						LastCheck: time.Now(),
						Latency:   time.Since(start),
					}
				}
			}()
			h := check(ctx)
			h.Name = name
			h.LastCheck = time.Now()
			if h.Latency == 0 {
				h.Latency = time.Since(start)
			}
			results <- h
		}(name, check)
	}
	wg.Wait()
	close(results)

	report := Report{Status: StatusHealthy, CheckedAt: time.Now()}
	for h := range results {
		report.Components = append(report.Components, h)
		switch h.Status {
		case StatusUnhealthy:
			report.Status = StatusUnhealthy
		case StatusDegraded:
			if report.Status == StatusHealthy {
				report.Status = StatusDegraded
			}
		}
	}
	sort.Slice(report.Components, func(i, j int) bool {
		return report.Components[i].Name < report.Components[j].Name
	})
	return report
}

// PingCheck reports unhealthy on a ping error and degraded above slow.
func PingCheck(ping func(ctx context.Context) error, slow time.Duration) Check {
	return func(ctx context.Context) ComponentHealth {
		start := time.Now()
		err := ping(ctx)
		h := ComponentHealth{Latency: time.Since(start)}

		switch {
		case err != nil:
			h.Status = StatusUnhealthy
			h.Message = fmt.Sprintf("ping failed: %v", err)
		case slow > 0 && h.Latency > slow:
			h.Status = StatusDegraded
			h.Message = fmt.Sprintf("slow: %v", h.Latency.Round(time.Millisecond))
		default:
			h.Status = StatusHealthy
			h.Message = "ok"
		}
		return h
	}
}

// BreakerCheck maps a circuit breaker state to health. An open breaker is
// degraded since cached and stored data are still served.
func BreakerCheck(state func() gobreaker.State) Check {
	return func(ctx context.Context) ComponentHealth {
		s := state()
		h := ComponentHealth{Message: "circuit " + s.String()}
		switch s {
		case gobreaker.StateClosed:
			h.Status = StatusHealthy
		default:
			h.Status = StatusDegraded
		}
		return h
	}
}

// MemoryCheck reports degraded when the heap exceeds limit bytes.
func MemoryCheck(limit uint64) Check {
	return func(ctx context.Context) ComponentHealth {
		var m runtime.MemStats
		runtime.ReadMemStats(&m)
		h := ComponentHealth{
			Status:  StatusHealthy,
			Message: fmt.Sprintf("heap %d MB, %d goroutines", m.HeapAlloc/1024/1024, runtime.NumGoroutine()),
		}
		if limit > 0 && m.HeapAlloc > limit {
			h.Status = StatusDegraded
		}
		return h
	}
}

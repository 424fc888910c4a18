// Package monitor watches loop metrics and reports loops that keep failing.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/syzsky/autodoor/internal/workers"
)

// StatsSource provides per-loop metrics keyed by "module/worker".
type StatsSource interface {
	AllStats() map[string]workers.LoopStats
}

// UnhealthyCallback is called once when a loop becomes unhealthy
type UnhealthyCallback func(loop, reason string, err error)

// HealthChecker type
type HealthChecker struct {
	source           StatsSource
	ctx              context.Context
	cancel           context.CancelFunc
	wg               sync.WaitGroup
	failureThreshold int64
	checkInterval    time.Duration
	onUnhealthy      UnhealthyCallback

	mu       sync.Mutex
	reported map[string]bool
}

// NewHealthChecker creates a new health checker
func NewHealthChecker(source StatsSource) *HealthChecker {
	ctx, cancel := context.WithCancel(context.Background())
	return &HealthChecker{
		source:           source,
		ctx:              ctx,
		cancel:           cancel,
		failureThreshold: 3,
		checkInterval:    10 * time.Second,
		onUnhealthy:      func(string, string, error) {},
		reported:         make(map[string]bool),
	}
}

// WithUnhealthyCallback sets the callback for unhealthy loops
func (hc *HealthChecker) WithUnhealthyCallback(callback UnhealthyCallback) *HealthChecker {
	if callback != nil {
		hc.onUnhealthy = callback
	}
	return hc
}

// WithCheckInterval sets the health check interval
func (hc *HealthChecker) WithCheckInterval(interval time.Duration) *HealthChecker {
	if interval > 0 {
		hc.checkInterval = interval
	}
	return hc
}

// WithFailureThreshold sets how many consecutive failed cycles make a loop
// unhealthy.
func (hc *HealthChecker) WithFailureThreshold(n int64) *HealthChecker {
	if n > 0 {
		hc.failureThreshold = n
	}
	return hc
}

// Start begins health monitoring
func (hc *HealthChecker) Start() {
	hc.wg.Add(1)
	go hc.monitorHealth()
}

// Stop stops health monitoring
func (hc *HealthChecker) Stop() {
	hc.cancel()
	hc.wg.Wait()
}

func (hc *HealthChecker) monitorHealth() {
	defer hc.wg.Done()

	ticker := time.NewTicker(hc.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hc.ctx.Done():
			return
		case <-ticker.C:
			hc.Check()
		}
	}
}

// Check inspects every loop once and returns the loops that just became
// unhealthy. A loop is reported again only after it recovered.
func (hc *HealthChecker) Check() []string {
	stats := hc.source.AllStats()

	hc.mu.Lock()
	var failing []string
	for loop, s := range stats {
		if s.ConsecutiveErrors < hc.failureThreshold {
			delete(hc.reported, loop)
			continue
		}
		if !hc.reported[loop] {
			hc.reported[loop] = true
			failing = append(failing, loop)
		}
	}
	hc.mu.Unlock()

	sort.Strings(failing)
	for _, loop := range failing {
		s := stats[loop]
		err := s.LastError
		if err == nil {
			err = errors.New("unknown error")
		}
		hc.onUnhealthy(loop, "loop_failing",
			fmt.Errorf("%d consecutive failed cycles: %w", s.ConsecutiveErrors, err))
	}
	return failing
}

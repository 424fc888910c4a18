package workers

import (
	"sync"
	"time"
)

// LoopMetrics tracks cycle statistics for one polling loop
type LoopMetrics struct {
	mu sync.RWMutex

	TotalCycles   int64
	SuccessCount  int64
	FailureCount  int64
	TriggerCount  int64
	LastCycleTime time.Time

	TotalDuration   time.Duration
	MinDuration     time.Duration
	MaxDuration     time.Duration
	AverageDuration time.Duration

	LastError         error
	LastErrorTime     time.Time
	ConsecutiveErrors int64
}

// NewLoopMetrics creates a new metrics tracker
func NewLoopMetrics() *LoopMetrics {
	return &LoopMetrics{
		MinDuration: time.Duration(1<<63 - 1),
	}
}

// RecordCycle records one loop body run with timing and result
func (m *LoopMetrics) RecordCycle(duration time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.TotalCycles++
	m.LastCycleTime = time.Now()

	m.TotalDuration += duration
	if duration < m.MinDuration {
		m.MinDuration = duration
	}
	if duration > m.MaxDuration {
		m.MaxDuration = duration
	}
	m.AverageDuration = m.TotalDuration / time.Duration(m.TotalCycles)

	if err == nil {
		m.SuccessCount++
		m.ConsecutiveErrors = 0
	} else {
		m.FailureCount++
		m.ConsecutiveErrors++
		m.LastError = err
		m.LastErrorTime = time.Now()
	}
}

// RecordTrigger counts a positive match that fired an action.
func (m *LoopMetrics) RecordTrigger() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.TriggerCount++
}

// IsHealthy reports whether consecutive failures stay under threshold
// (3 when threshold <= 0).
func (m *LoopMetrics) IsHealthy(threshold int64) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if threshold <= 0 {
		threshold = 3
	}
	return m.ConsecutiveErrors < threshold
}

// GetStats returns a snapshot of current metrics
func (m *LoopMetrics) GetStats() LoopStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := LoopStats{
		TotalCycles:       m.TotalCycles,
		SuccessCount:      m.SuccessCount,
		FailureCount:      m.FailureCount,
		TriggerCount:      m.TriggerCount,
		LastCycleTime:     m.LastCycleTime,
		AverageDuration:   m.AverageDuration,
		MaxDuration:       m.MaxDuration,
		ConsecutiveErrors: m.ConsecutiveErrors,
		LastError:         m.LastError,
		LastErrorTime:     m.LastErrorTime,
	}
	if m.TotalCycles > 0 {
		stats.MinDuration = m.MinDuration
		stats.ErrorRate = float64(m.FailureCount) / float64(m.TotalCycles) * 100.0
	}
	return stats
}

// LoopStats is an immutable snapshot of LoopMetrics
type LoopStats struct {
	TotalCycles       int64
	SuccessCount      int64
	FailureCount      int64
	TriggerCount      int64
	LastCycleTime     time.Time
	AverageDuration   time.Duration
	MinDuration       time.Duration
	MaxDuration       time.Duration
	ErrorRate         float64
	ConsecutiveErrors int64
	LastError         error
	LastErrorTime     time.Time
}

package workers

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"github.com/syzsky/autodoor/internal/logging"
	"github.com/syzsky/autodoor/internal/modules"
)

// Cycle describes one loop body run for Guard.
type Cycle struct {
	Kind     modules.Kind
	Worker   string
	Category logging.ErrorCategory
	Context  map[string]interface{}
}

// Guard runs one loop body. Errors and panics are reported with the
// worker's context and recorded in its metrics; the loop should then back
// off for the returned duration (zero on success).
func (m *Manager) Guard(c Cycle, body func() error) (backoff time.Duration) {
	metrics := m.Metrics(c.Kind, c.Worker)
	start := time.Now()

	var stack string
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				stack = string(debug.Stack())
			}
		}()
		return body()
	}()

	metrics.RecordCycle(time.Since(start), err)
	if err == nil {
		return 0
	}

	category := c.Category
	if category == "" {
		category = logging.ErrorCategorySystem
	}
	ctx := map[string]interface{}{"worker": c.Worker}
	for k, v := range c.Context {
		ctx[k] = v
	}
	m.reporter.Report(&logging.ErrorReport{
		Category:    category,
		Severity:    logging.ErrorSeverityHigh,
		Component:   c.Kind.String(),
		Message:     "Loop cycle failed",
		Error:       err,
		Context:     ctx,
		StackTrace:  stack,
		Recoverable: true,
	})
	return ErrorBackoff
}

// SleepContext waits for d or until ctx is done. It returns false when the
// context ended the wait.
func SleepContext(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}

// Seconds converts a float seconds setting to a duration.
func Seconds(s float64) time.Duration {
	if s <= 0 {
		return 0
	}
	return time.Duration(s * float64(time.Second))
}

package logging

import (
	"sync"
	"time"
)

// ErrorCategory groups failures by the subsystem that raised them
type ErrorCategory string

const (
	ErrorCategoryCapture     ErrorCategory = "capture"
	ErrorCategoryRecognition ErrorCategory = "recognition"
	ErrorCategoryInput       ErrorCategory = "input"
	ErrorCategoryScript      ErrorCategory = "script"
	ErrorCategoryConfig      ErrorCategory = "config"
	ErrorCategoryDatabase    ErrorCategory = "database"
	ErrorCategorySystem      ErrorCategory = "system"
)

// ErrorSeverity represents the severity of an error
type ErrorSeverity string

const (
	ErrorSeverityLow      ErrorSeverity = "low"
	ErrorSeverityMedium   ErrorSeverity = "medium"
	ErrorSeverityHigh     ErrorSeverity = "high"
	ErrorSeverityCritical ErrorSeverity = "critical"
)

// ErrorReport represents a detailed error report
type ErrorReport struct {
	Timestamp   time.Time              `json:"timestamp"`
	Category    ErrorCategory          `json:"category"`
	Severity    ErrorSeverity          `json:"severity"`
	Component   string                 `json:"component"`
	Message     string                 `json:"message"`
	Error       error                  `json:"error"`
	Context     map[string]interface{} `json:"context,omitempty"`
	StackTrace  string                 `json:"stack_trace,omitempty"`
	Recoverable bool                   `json:"recoverable"`
}

// ErrorCallback is called when an error is reported
type ErrorCallback func(report *ErrorReport)

// ErrorReporter logs loop failures and keeps a bounded history of them.
type ErrorReporter struct {
	logger *Logger

	historyMu  sync.RWMutex
	history    []*ErrorReport
	maxHistory int

	callbacksMu sync.RWMutex
	callbacks   []ErrorCallback
}

// NewErrorReporter creates a reporter that writes through logger.
func NewErrorReporter(logger *Logger) *ErrorReporter {
	if logger == nil {
		logger = NewLogger("ErrorReporter")
	}
	return &ErrorReporter{
		logger:     logger,
		maxHistory: 200,
	}
}

// Report logs, stores and fans out an error report.
func (er *ErrorReporter) Report(report *ErrorReport) {
	if report.Timestamp.IsZero() {
		report.Timestamp = time.Now()
	}

	er.logError(report)

	er.historyMu.Lock()
	er.history = append(er.history, report)
	if len(er.history) > er.maxHistory {
		er.history = er.history[len(er.history)-er.maxHistory:]
	}
	er.historyMu.Unlock()

	er.callbacksMu.RLock()
	callbacks := append([]ErrorCallback(nil), er.callbacks...)
	er.callbacksMu.RUnlock()
	for _, cb := range callbacks {
		cb(report)
	}
}

// ReportError reports a recoverable error with context.
func (er *ErrorReporter) ReportError(category ErrorCategory, severity ErrorSeverity, component, message string, err error, context map[string]interface{}) {
	er.Report(&ErrorReport{
		Category:    category,
		Severity:    severity,
		Component:   component,
		Message:     message,
		Error:       err,
		Context:     context,
		Recoverable: true,
	})
}

func (er *ErrorReporter) logError(report *ErrorReport) {
	context := map[string]interface{}{
		"category":  string(report.Category),
		"severity":  string(report.Severity),
		"component": report.Component,
	}
	for k, v := range report.Context {
		context[k] = v
	}
	if report.StackTrace != "" {
		context["stack"] = "\n" + report.StackTrace
	}

	switch report.Severity {
	case ErrorSeverityCritical:
		er.logger.log(LogLevelFatal, report.Message, report.Error, context)
	case ErrorSeverityHigh:
		er.logger.ErrorWithContext(report.Message, report.Error, context)
	case ErrorSeverityMedium:
		er.logger.WarnWithContext(report.Message, context)
	default:
		er.logger.InfoWithContext(report.Message, context)
	}
}

// OnError registers a callback invoked synchronously for every report.
func (er *ErrorReporter) OnError(callback ErrorCallback) {
	er.callbacksMu.Lock()
	defer er.callbacksMu.Unlock()
	er.callbacks = append(er.callbacks, callback)
}

// GetRecentErrors returns the N most recent errors
func (er *ErrorReporter) GetRecentErrors(n int) []*ErrorReport {
	er.historyMu.RLock()
	defer er.historyMu.RUnlock()

	if n > len(er.history) {
		n = len(er.history)
	}
	result := make([]*ErrorReport, n)
	copy(result, er.history[len(er.history)-n:])
	return result
}

// GetErrorStats counts reports by category.
func (er *ErrorReporter) GetErrorStats() map[ErrorCategory]int {
	er.historyMu.RLock()
	defer er.historyMu.RUnlock()

	stats := make(map[ErrorCategory]int)
	for _, report := range er.history {
		stats[report.Category]++
	}
	return stats
}

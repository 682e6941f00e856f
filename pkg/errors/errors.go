// pkg/errors/errors.go
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

var (
	ErrEmptyPath       = stderrors.New("path is empty")
	ErrNotDirectory    = stderrors.New("not a directory")
	ErrMalformedLabel  = stderrors.New("malformed model label")
	ErrInvalidSnapshot = stderrors.New("invalid model snapshot")
)

// SentinelError is a structured error raised by a sentinel component.
type SentinelError struct {
	Component   string                 `json:"component"`
	ErrorType   string                 `json:"error_type"`
	Message     string                 `json:"message"`
	Details     map[string]interface{} `json:"details,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Severity    Severity               `json:"severity"`
	Recoverable bool                   `json:"recoverable"`
	Cause       error                  `json:"-"`
}

type Severity string

const (
	SeverityCritical Severity = "critical"
	SeverityHigh     Severity = "high"
	SeverityMedium   Severity = "medium"
	SeverityLow      Severity = "low"
	SeverityInfo     Severity = "info"
)

const (
	TypeLoad       = "load"
	TypeSnapshot   = "snapshot"
	TypeConfig     = "configuration"
	TypeValidation = "validation"
)

// Error implements the error interface
func (se *SentinelError) Error() string {
	if se.Cause != nil {
		return fmt.Sprintf("[%s] %s: %s: %v", se.Component, se.ErrorType, se.Message, se.Cause)
	}
	return fmt.Sprintf("[%s] %s: %s", se.Component, se.ErrorType, se.Message)
}

// Unwrap returns the underlying cause
func (se *SentinelError) Unwrap() error {
	return se.Cause
}

// IsType reports whether err is, or wraps, a SentinelError of the given type.
func IsType(err error, errorType string) bool {
	var se *SentinelError
	return stderrors.As(err, &se) && se.ErrorType == errorType
}

// ErrorHandler logs sentinel errors and forwards them to a collector.
type ErrorHandler struct {
	logger    zerolog.Logger
	collector ErrorCollector
}

// ErrorCollector defines how errors are collected and reported
type ErrorCollector interface {
	CollectError(ctx context.Context, err *SentinelError) error
	GetErrorStats() ErrorStats
}

type ErrorStats struct {
	TotalErrors       int              `json:"total_errors"`
	ErrorsByType      map[string]int   `json:"errors_by_type"`
	ErrorsByComponent map[string]int   `json:"errors_by_component"`
	ErrorsBySeverity  map[Severity]int `json:"errors_by_severity"`
	LastError         *SentinelError   `json:"last_error,omitempty"`
}

// NewErrorHandler creates a new error handler
func NewErrorHandler(logger zerolog.Logger, collector ErrorCollector) *ErrorHandler {
	return &ErrorHandler{
		logger:    logger,
		collector: collector,
	}
}

// HandleError logs err at a level matching its severity. Plain errors are
// wrapped as medium-severity errors of the given component.
func (eh *ErrorHandler) HandleError(ctx context.Context, component string, err error) error {
	if err == nil {
		return nil
	}

	var se *SentinelError
	if !stderrors.As(err, &se) {
		se = &SentinelError{
			Component:   component,
			ErrorType:   "internal",
			Message:     err.Error(),
			Timestamp:   time.Now(),
			Severity:    SeverityMedium,
			Recoverable: true,
			Cause:       err,
		}
	}

	logEvent := eh.getLogEvent(se.Severity).
		Str("component", se.Component).
		Str("error_type", se.ErrorType).
		Str("message", se.Message).
		Bool("recoverable", se.Recoverable)

	if se.Details != nil {
		logEvent = logEvent.Interface("details", se.Details)
	}

	if se.Cause != nil {
		logEvent = logEvent.AnErr("cause", se.Cause)
	}

	logEvent.Msg("Sentinel error occurred")

	if eh.collector != nil {
		return eh.collector.CollectError(ctx, se)
	}

	return nil
}

// getLogEvent returns the zerolog event for a severity. Critical errors are
// logged at error level; the caller decides whether to exit.
func (eh *ErrorHandler) getLogEvent(severity Severity) *zerolog.Event {
	switch severity {
	case SeverityCritical, SeverityHigh:
		return eh.logger.Error()
	case SeverityMedium:
		return eh.logger.Warn()
	case SeverityLow:
		return eh.logger.Info()
	case SeverityInfo:
		return eh.logger.Debug()
	default:
		return eh.logger.Info()
	}
}

// StatsCollector is an in-memory ErrorCollector.
type StatsCollector struct {
	mu    sync.Mutex
	stats ErrorStats
}

// NewStatsCollector creates an empty collector.
func NewStatsCollector() *StatsCollector {
	return &StatsCollector{
		stats: ErrorStats{
			ErrorsByType:      make(map[string]int),
			ErrorsByComponent: make(map[string]int),
			ErrorsBySeverity:  make(map[Severity]int),
		},
	}
}

func (sc *StatsCollector) CollectError(_ context.Context, err *SentinelError) error {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	sc.stats.TotalErrors++
	sc.stats.ErrorsByType[err.ErrorType]++
	sc.stats.ErrorsByComponent[err.Component]++
	sc.stats.ErrorsBySeverity[err.Severity]++
	sc.stats.LastError = err
	return nil
}

func (sc *StatsCollector) GetErrorStats() ErrorStats {
	sc.mu.Lock()
	defer sc.mu.Unlock()

	out := ErrorStats{
		TotalErrors:       sc.stats.TotalErrors,
		ErrorsByType:      make(map[string]int, len(sc.stats.ErrorsByType)),
		ErrorsByComponent: make(map[string]int, len(sc.stats.ErrorsByComponent)),
		ErrorsBySeverity:  make(map[Severity]int, len(sc.stats.ErrorsBySeverity)),
		LastError:         sc.stats.LastError,
	}
	for k, v := range sc.stats.ErrorsByType {
		out.ErrorsByType[k] = v
	}
	for k, v := range sc.stats.ErrorsByComponent {
		out.ErrorsByComponent[k] = v
	}
	for k, v := range sc.stats.ErrorsBySeverity {
		out.ErrorsBySeverity[k] = v
	}
	return out
}

// Helper functions for creating common error types

func NewLoadError(component string, path string, cause error) *SentinelError {
	return &SentinelError{
		Component: component,
		ErrorType: TypeLoad,
		Message:   fmt.Sprintf("failed to load models from %s", path),
		Details: map[string]interface{}{
			"path": path,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: false,
		Cause:       cause,
	}
}

func NewSnapshotError(path string, field string, cause error) *SentinelError {
	return &SentinelError{
		Component: "models",
		ErrorType: TypeSnapshot,
		Message:   fmt.Sprintf("malformed snapshot field %q", field),
		Details: map[string]interface{}{
			"path":  path,
			"field": field,
		},
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: false,
		Cause:       cause,
	}
}

func NewConfigError(component string, cause error, details map[string]interface{}) *SentinelError {
	return &SentinelError{
		Component:   component,
		ErrorType:   TypeConfig,
		Message:     "Configuration error occurred",
		Details:     details,
		Timestamp:   time.Now(),
		Severity:    SeverityHigh,
		Recoverable: true,
		Cause:       cause,
	}
}

func NewValidationError(component string, reason string, details map[string]interface{}) *SentinelError {
	return &SentinelError{
		Component:   component,
		ErrorType:   TypeValidation,
		Message:     reason,
		Details:     details,
		Timestamp:   time.Now(),
		Severity:    SeverityLow,
		Recoverable: true,
	}
}

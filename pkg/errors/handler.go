package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/scragly/dreaf/pkg/log"
)

// ErrorCategory represents different types of errors in the system
type ErrorCategory string

const (
	CategoryVendor       ErrorCategory = "vendor"
	CategoryVerification ErrorCategory = "verification"
	CategoryStorage      ErrorCategory = "storage"
	CategoryDiscord      ErrorCategory = "discord"
	CategoryConfig       ErrorCategory = "config"
	CategoryCommand      ErrorCategory = "command"
	CategoryValidation   ErrorCategory = "validation"
	CategoryInternal     ErrorCategory = "internal"
)

// ErrorSeverity represents the severity level of errors
type ErrorSeverity string

const (
	SeverityLow      ErrorSeverity = "low"
	SeverityMedium   ErrorSeverity = "medium"
	SeverityHigh     ErrorSeverity = "high"
	SeverityCritical ErrorSeverity = "critical"
)

// ServiceError represents a standardized error in the system
type ServiceError struct {
	Category    ErrorCategory  `json:"category"`
	Severity    ErrorSeverity  `json:"severity"`
	Message     string         `json:"message"`
	Operation   string         `json:"operation"`
	Component   string         `json:"component"`
	Cause       error          `json:"-"`
	Context     map[string]any `json:"context,omitempty"`
	Timestamp   time.Time      `json:"timestamp"`
	Recoverable bool           `json:"recoverable"`
}

func (e *ServiceError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s:%s] %s in %s.%s: %v", e.Category, e.Severity, e.Message, e.Component, e.Operation, e.Cause)
	}
	return fmt.Sprintf("[%s:%s] %s in %s.%s", e.Category, e.Severity, e.Message, e.Component, e.Operation)
}

func (e *ServiceError) Unwrap() error {
	return e.Cause
}

// NewServiceError creates a new service error with the specified parameters
func NewServiceError(category ErrorCategory, severity ErrorSeverity, component, operation, message string, cause error) *ServiceError {
	return &ServiceError{
		Category:    category,
		Severity:    severity,
		Message:     message,
		Operation:   operation,
		Component:   component,
		Cause:       cause,
		Timestamp:   time.Now(),
		Recoverable: true,
		Context:     make(map[string]any),
	}
}

// RetryStrategy defines retry behavior for an error category
type RetryStrategy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
	Multiplier  float64
}

// ErrorHandler provides centralized logging and retry for non-vendor operations.
// Vendor calls are deliberately absent from the retry table: their failures surface to the caller.
type ErrorHandler struct {
	retryStrategies map[ErrorCategory]RetryStrategy
	sleep           func(ctx context.Context, d time.Duration) error
}

// NewErrorHandler creates a handler with the default strategies.
func NewErrorHandler() *ErrorHandler {
	return &ErrorHandler{
		retryStrategies: map[ErrorCategory]RetryStrategy{
			CategoryDiscord: {
				MaxAttempts: 3,
				BaseDelay:   1 * time.Second,
				MaxDelay:    10 * time.Second,
				Multiplier:  2.0,
			},
			CategoryStorage: {
				MaxAttempts: 2,
				BaseDelay:   200 * time.Millisecond,
				MaxDelay:    2 * time.Second,
				Multiplier:  2.0,
			},
		},
		sleep: sleepContext,
	}
}

// SetRetryStrategy overrides the strategy of a category.
func (eh *ErrorHandler) SetRetryStrategy(category ErrorCategory, strategy RetryStrategy) {
	eh.retryStrategies[category] = strategy
}

// Handle logs err at the level implied by its severity and returns it as a *ServiceError.
func (eh *ErrorHandler) Handle(err error) error {
	if err == nil {
		return nil
	}
	serviceErr := eh.normalizeError(err)
	eh.logError(serviceErr)
	return serviceErr
}

// ExecuteWithRetry runs fn, retrying recoverable failures with the category's backoff.
// Categories without a strategy are attempted once.
func (eh *ErrorHandler) ExecuteWithRetry(ctx context.Context, category ErrorCategory, component, operation string, fn func() error) error {
	strategy, ok := eh.retryStrategies[category]
	if !ok || strategy.MaxAttempts < 1 {
		strategy = RetryStrategy{MaxAttempts: 1}
	}

	var lastErr *ServiceError
	for attempt := 1; attempt <= strategy.MaxAttempts; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		lastErr = eh.normalizeError(err)
		if lastErr.Category == CategoryInternal {
			lastErr.Category = category
		}
		lastErr.Component = component
		lastErr.Operation = operation

		if !lastErr.Recoverable || attempt == strategy.MaxAttempts {
			break
		}

		delay := eh.calculateDelay(strategy, attempt)
		log.ApplicationLogger().Warn("Operation failed, retrying", "attempt", attempt, "delay", delay, "component", component, "operation", operation, "err", err)
		if err := eh.sleep(ctx, delay); err != nil {
			return err
		}
	}

	return eh.Handle(lastErr)
}

// HandleDiscordError wraps a Discord API error with its REST details.
func (eh *ErrorHandler) HandleDiscordError(operation, component string, err error) error {
	if err == nil {
		return nil
	}
	return eh.Handle(eh.discordError(operation, component, err))
}

func (eh *ErrorHandler) discordError(operation, component string, err error) *ServiceError {
	serviceErr := NewServiceError(CategoryDiscord, SeverityMedium, component, operation, "Discord API operation failed", err)

	var restErr *discordgo.RESTError
	if stderrors.As(err, &restErr) && restErr.Response != nil {
		status := restErr.Response.StatusCode
		serviceErr.Context["status"] = status
		if restErr.Message != nil {
			serviceErr.Context["discord_code"] = restErr.Message.Code
			serviceErr.Context["discord_message"] = restErr.Message.Message
		}
		serviceErr.Severity = discordSeverity(status)
		serviceErr.Recoverable = status == http.StatusTooManyRequests || status >= 500
	}
	return serviceErr
}

// normalizeError converts any error into a ServiceError
func (eh *ErrorHandler) normalizeError(err error) *ServiceError {
	var serviceErr *ServiceError
	if stderrors.As(err, &serviceErr) {
		return serviceErr
	}

	var restErr *discordgo.RESTError
	if stderrors.As(err, &restErr) {
		return eh.discordError("unknown", "unknown", err)
	}

	serviceErr = NewServiceError(CategoryInternal, SeverityMedium, "unknown", "unknown", err.Error(), err)
	serviceErr.Recoverable = isErrorRecoverable(err)
	return serviceErr
}

// logError logs the error using the appropriate severity level
func (eh *ErrorHandler) logError(err *ServiceError) {
	attrs := []any{
		"category", err.Category,
		"severity", err.Severity,
		"component", err.Component,
		"operation", err.Operation,
		"recoverable", err.Recoverable,
	}
	keys := make([]string, 0, len(err.Context))
	for k := range err.Context {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		attrs = append(attrs, k, err.Context[k])
	}
	if err.Cause != nil {
		attrs = append(attrs, "err", err.Cause)
	}

	switch err.Severity {
	case SeverityLow, SeverityMedium:
		log.ApplicationLogger().Info(err.Message, attrs...)
	case SeverityHigh:
		log.ApplicationLogger().Warn(err.Message, attrs...)
	default:
		log.ErrorLoggerRaw().Error(err.Message, attrs...)
	}
}

func isErrorRecoverable(err error) bool {
	if stderrors.Is(err, context.Canceled) || stderrors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var netErr net.Error
	if stderrors.As(err, &netErr) {
		return true
	}
	errStr := strings.ToLower(err.Error())
	for _, pattern := range []string{"permission denied", "unauthorized", "not found", "invalid token", "forbidden"} {
		if strings.Contains(errStr, pattern) {
			return false
		}
	}
	return true
}

func discordSeverity(status int) ErrorSeverity {
	switch {
	case status == http.StatusTooManyRequests:
		return SeverityMedium
	case status >= 500:
		return SeverityCritical
	case status >= 400:
		return SeverityHigh
	default:
		return SeverityMedium
	}
}

func (eh *ErrorHandler) calculateDelay(strategy RetryStrategy, attempt int) time.Duration {
	delay := float64(strategy.BaseDelay)
	for i := 1; i < attempt; i++ {
		delay *= strategy.Multiplier
	}
	if d := time.Duration(delay); strategy.MaxDelay > 0 && d > strategy.MaxDelay {
		return strategy.MaxDelay
	}
	return time.Duration(delay)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

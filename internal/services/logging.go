package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"time"
)

// LogLevel represents different log levels for service operations
type LogLevel int

const (
	LogLevelInfo LogLevel = iota
	LogLevelWarn
	LogLevelError
)

// ServiceLogger provides structured logging for service layer operations
type ServiceLogger struct {
	logger *slog.Logger
}

type LogConfig struct {
	Service   string
	Component string
}

func NewServiceLogger(logger *slog.Logger, config LogConfig) *ServiceLogger {
	return &ServiceLogger{
		logger: logger.With("service", config.Service, "component", config.Component),
	}
}

// Logger exposes the underlying slog logger with the service attributes.
func (l *ServiceLogger) Logger() *slog.Logger {
	return l.logger
}

// ===== OPERATION LOGGING =====

// classify maps an operation error to a log level and status label.
func classify(err error) (LogLevel, string) {
	switch {
	case err == nil:
		return LogLevelInfo, "success"
	case IsValidation(err):
		return LogLevelWarn, "validation_error"
	case errors.Is(err, ErrGenerationCancelled), errors.Is(err, context.Canceled):
		return LogLevelInfo, "cancelled"
	case IsStateConflict(err), errors.Is(err, ErrTokenLimitExceeded):
		return LogLevelWarn, "rejected"
	case IsNotFound(err):
		return LogLevelInfo, "not_found"
	case IsMalformedGeneration(err):
		return LogLevelWarn, "malformed_generation"
	case IsServiceUnavailable(err):
		return LogLevelError, "service_unavailable"
	case IsPersistence(err):
		return LogLevelError, "persistence_error"
	default:
		return LogLevelError, "error"
	}
}

func (l *ServiceLogger) LogOperation(ctx context.Context, operation string, resourceID string, resourceType string, duration time.Duration, err error) {
	logLevel, status := classify(err)

	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("resource_id", resourceID),
		slog.String("resource_type", resourceType),
		slog.String("status", status),
		slog.Duration("duration", duration),
	}

	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))

		var validationErr ValidationErrors
		var malformedErr *MalformedGenerationError
		var tokenErr *TokenLimitError
		switch {
		case errors.As(err, &validationErr):
			attrs = append(attrs, slog.Int("validation_errors_count", len(validationErr)))
		case errors.As(err, &malformedErr):
			attrs = append(attrs, slog.Int("question_index", malformedErr.Index))
		case errors.As(err, &tokenErr):
			attrs = append(attrs, slog.Int("estimated_tokens", tokenErr.Estimated))
		}

		if logLevel == LogLevelError {
			if pc, file, line, ok := runtime.Caller(2); ok {
				if fn := runtime.FuncForPC(pc); fn != nil {
					attrs = append(attrs,
						slog.String("caller_func", fn.Name()),
						slog.String("caller_file", file),
						slog.Int("caller_line", line),
					)
				}
			}
		}
	}

	message := fmt.Sprintf("%s operation %s", operation, status)

	switch logLevel {
	case LogLevelInfo:
		l.logger.LogAttrs(ctx, slog.LevelInfo, message, attrs...)
	case LogLevelWarn:
		l.logger.LogAttrs(ctx, slog.LevelWarn, message, attrs...)
	case LogLevelError:
		l.logger.LogAttrs(ctx, slog.LevelError, message, attrs...)
	}
}

func (l *ServiceLogger) LogValidationError(ctx context.Context, operation string, validationErrors ValidationErrors) {
	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.Int("error_count", len(validationErrors)),
	}

	for i, err := range validationErrors {
		if i < 5 { // Limit to first 5 errors to avoid log spam
			attrs = append(attrs, slog.Group(fmt.Sprintf("error_%d", i+1),
				slog.String("field", err.Field),
				slog.String("message", err.Message),
				slog.Any("value", err.Value),
			))
		}
	}

	l.logger.LogAttrs(ctx, slog.LevelWarn, "Validation failed", attrs...)
}

// ===== HELPERS =====

// OperationLogger times a single operation and logs its outcome.
type OperationLogger struct {
	logger    *ServiceLogger
	operation string
	startTime time.Time
	ctx       context.Context
}

func (l *ServiceLogger) WithOperation(ctx context.Context, operation string) *OperationLogger {
	return &OperationLogger{
		logger:    l,
		operation: operation,
		startTime: time.Now(),
		ctx:       ctx,
	}
}

func (ol *OperationLogger) LogResult(resourceID string, resourceType string, err error) {
	ol.logger.LogOperation(ol.ctx, ol.operation, resourceID, resourceType, time.Since(ol.startTime), err)

	var validationErrors ValidationErrors
	if errors.As(err, &validationErrors) {
		ol.logger.LogValidationError(ol.ctx, ol.operation, validationErrors)
	}
}

package http

import (
	"context"
	"log/slog"
)

const serviceName = "identity-link-service"

func httpLogger() *slog.Logger {
	return slog.Default().With(
		"service", serviceName,
		"module", "http",
		"layer", "adapter",
	)
}

// logHTTPOperationError logs a rejected request. Client errors are warnings;
// only 5xx responses are logged at error level.
func logHTTPOperationError(ctx context.Context, operation string, statusCode int, code, message string, err error) {
	attrs := []slog.Attr{
		slog.String("operation", operation),
		slog.String("outcome", "failure"),
		slog.Int("status_code", statusCode),
		slog.String("error_code", code),
		slog.String("message", message),
		slog.String("request_id", requestIDFromContext(ctx)),
	}
	if err != nil {
		attrs = append(attrs, slog.String("error", err.Error()))
	}
	level := slog.LevelWarn
	if statusCode >= 500 {
		level = slog.LevelError
	}
	httpLogger().LogAttrs(ctx, level, "http operation failed", attrs...)
}

package modloader

import (
	"context"
	"errors"
	"log/slog"
)

var baseFields = []slog.Attr{
	slog.String("component", "module_loader"),
}

// logLifecycle logs module lifecycle events (loading, publishing, reclaiming).
func logLifecycle(level slog.Level, message, moduleContext, path string, additionalFields ...slog.Attr) {
	fields := make([]slog.Attr, 0, len(baseFields)+3+len(additionalFields))
	fields = append(fields, baseFields...)
	fields = append(fields,
		slog.String("context", moduleContext),
		slog.String("path", path),
		slog.String("event_type", "module_lifecycle"),
	)
	fields = append(fields, additionalFields...)

	slog.LogAttrs(context.TODO(), level, message, fields...)
}

// logSystem logs loader-wide events.
func logSystem(level slog.Level, message string, additionalFields ...slog.Attr) {
	fields := make([]slog.Attr, 0, len(baseFields)+1+len(additionalFields))
	fields = append(fields, baseFields...)
	fields = append(fields, slog.String("event_type", "module_system"))
	fields = append(fields, additionalFields...)

	slog.LogAttrs(context.TODO(), level, message, fields...)
}

// logLoaderError logs a LoaderError with its classification.
func logLoaderError(err error) {
	var le *LoaderError
	if !errors.As(err, &le) {
		logSystem(slog.LevelError, "Module loader error", slog.String("error", err.Error()))
		return
	}

	fields := make([]slog.Attr, 0, len(baseFields)+7)
	fields = append(fields, baseFields...)
	fields = append(fields,
		slog.String("context", le.Context),
		slog.String("path", le.Path),
		slog.String("error_type", string(le.Type)),
		slog.String("error_message", le.Message),
		slog.Time("error_timestamp", le.Timestamp),
		slog.String("event_type", "module_error"),
	)
	if le.Cause != nil {
		fields = append(fields, slog.String("cause", le.Cause.Error()))
	}

	slog.LogAttrs(context.TODO(), slog.LevelError, "Module loader error", fields...)
}

// logHotReload logs watcher driven reload events.
func logHotReload(action, moduleContext, filePath string) {
	logLifecycle(slog.LevelInfo, "Module hot-reload "+action, moduleContext, filePath,
		slog.String("action", action),
		slog.String("event_type", "hot_reload"),
	)
}

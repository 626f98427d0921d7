package recovery

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goliatone/go-revenue-recovery/core"
)

func (f *Flow) observeOperation(
	ctx context.Context,
	startedAt time.Time,
	operation string,
	err error,
	fields map[string]any,
) {
	if f == nil {
		return
	}
	operation = normalizeOperation(operation)
	if operation == "" {
		operation = "unknown"
	}
	status := "success"
	if err != nil {
		status = "failure"
	}

	contextFields := cloneFields(fields)
	contextFields["operation"] = operation
	contextFields["status"] = status
	contextFields["duration_ms"] = time.Since(startedAt).Milliseconds()
	if err != nil {
		contextFields["error"] = err.Error()
	}

	tags := map[string]string{
		"operation": operation,
		"status":    status,
	}
	for _, key := range []string{"merchant_id", "connector_id", "event_type", "outcome"} {
		if value := strings.TrimSpace(fmt.Sprint(contextFields[key])); value != "" && value != "<nil>" {
			tags[key] = value
		}
	}

	f.recordCounter(ctx, "recovery."+operation+".total", 1, tags)
	f.recordHistogram(ctx, "recovery."+operation+".duration_ms", float64(time.Since(startedAt).Milliseconds()), tags)

	if err != nil {
		f.logWithLevel(ctx, "error", operation+" failed", contextFields)
		return
	}
	f.logWithLevel(ctx, "info", operation+" succeeded", contextFields)
}

func (f *Flow) logWithLevel(ctx context.Context, level string, message string, fields map[string]any) {
	if f == nil || f.logger == nil {
		return
	}
	logger := f.logger
	if ctx != nil {
		logger = logger.WithContext(ctx)
	}
	if fieldsLogger, ok := logger.(core.FieldsLogger); ok {
		logger = fieldsLogger.WithFields(cloneFields(fields))
	}
	args := flattenFields(fields)
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "error":
		logger.Error(message, args...)
	default:
		logger.Info(message, args...)
	}
}

func (f *Flow) recordCounter(ctx context.Context, name string, value int64, tags map[string]string) {
	if f == nil || f.metrics == nil {
		return
	}
	f.metrics.IncCounter(ctx, strings.TrimSpace(name), value, tags)
}

func (f *Flow) recordHistogram(ctx context.Context, name string, value float64, tags map[string]string) {
	if f == nil || f.metrics == nil {
		return
	}
	f.metrics.ObserveHistogram(ctx, strings.TrimSpace(name), value, tags)
}

func cloneFields(fields map[string]any) map[string]any {
	if len(fields) == 0 {
		return map[string]any{}
	}
	copied := make(map[string]any, len(fields))
	for key, value := range fields {
		copied[key] = value
	}
	return copied
}

func flattenFields(fields map[string]any) []any {
	if len(fields) == 0 {
		return nil
	}
	keys := make([]string, 0, len(fields))
	for key := range fields {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	args := make([]any, 0, len(keys)*2)
	for _, key := range keys {
		args = append(args, key, fields[key])
	}
	return args
}

func normalizeOperation(operation string) string {
	operation = strings.TrimSpace(strings.ToLower(operation))
	operation = strings.ReplaceAll(operation, " ", "_")
	operation = strings.ReplaceAll(operation, "-", "_")
	return operation
}

package schedule

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-revenue-recovery/core"
)

func scheduleError(
	message string,
	category goerrors.Category,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	err := goerrors.New(message, category).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func scheduleUnavailable(message string, metadata map[string]any) error {
	return scheduleError(
		message,
		goerrors.CategoryOperation,
		http.StatusUnprocessableEntity,
		core.RecoveryErrorScheduleTime,
		metadata,
	)
}

func scheduleBadInput(message string, metadata map[string]any) error {
	return scheduleError(
		message,
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.RecoveryErrorBadInput,
		metadata,
	)
}

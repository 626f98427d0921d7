package core

import (
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	RecoveryErrorAuthentication      = "RECOVERY_WEBHOOK_AUTHENTICATION_FAILED"
	RecoveryErrorConnectorNotFound   = "RECOVERY_CONNECTOR_NOT_FOUND"
	RecoveryErrorInvoiceExtraction   = "RECOVERY_INVOICE_EXTRACTION_FAILED"
	RecoveryErrorAttemptExtraction   = "RECOVERY_ATTEMPT_EXTRACTION_FAILED"
	RecoveryErrorIntentFetch         = "RECOVERY_INTENT_FETCH_FAILED"
	RecoveryErrorIntentCreate        = "RECOVERY_INTENT_CREATE_FAILED"
	RecoveryErrorAttemptFetch        = "RECOVERY_ATTEMPT_FETCH_FAILED"
	RecoveryErrorAttemptRecord       = "RECOVERY_ATTEMPT_RECORD_FAILED"
	RecoveryErrorAccountResolution   = "RECOVERY_PAYMENT_ACCOUNT_RESOLUTION_FAILED"
	RecoveryErrorBillingSync         = "RECOVERY_BILLING_SYNC_FAILED"
	RecoveryErrorThreshold           = "RECOVERY_RETRY_THRESHOLD_UNAVAILABLE"
	RecoveryErrorRetryCount          = "RECOVERY_RETRY_COUNT_UNAVAILABLE"
	RecoveryErrorScheduleTime        = "RECOVERY_SCHEDULE_TIME_UNAVAILABLE"
	RecoveryErrorMissingAttemptID    = "RECOVERY_MISSING_ATTEMPT_ID"
	RecoveryErrorTaskPersistence     = "RECOVERY_TASK_PERSISTENCE_FAILED"
	RecoveryErrorBadInput            = "RECOVERY_BAD_INPUT"
	RecoveryErrorInternal            = "RECOVERY_INTERNAL_ERROR"
)

// HasRecoveryCode reports whether err carries the given recovery text code
// anywhere in its envelope chain.
func HasRecoveryCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return strings.EqualFold(strings.TrimSpace(richErr.TextCode), strings.TrimSpace(textCode))
}

func recoveryErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureRecoveryErrorEnvelope(richErr)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "connector") && strings.Contains(msg, "not registered"):
		return newRecoveryError(err.Error(), goerrors.CategoryNotFound, RecoveryErrorConnectorNotFound)
	case strings.Contains(msg, "signature"), strings.Contains(msg, "source verification"):
		return newRecoveryError(err.Error(), goerrors.CategoryAuth, RecoveryErrorAuthentication)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return newRecoveryError(err.Error(), goerrors.CategoryBadInput, RecoveryErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureRecoveryErrorEnvelope(mapped)
}

func newRecoveryError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureRecoveryErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureRecoveryErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = recoveryHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultRecoveryTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultRecoveryTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return RecoveryErrorBadInput
	case goerrors.CategoryNotFound:
		return RecoveryErrorConnectorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return RecoveryErrorAuthentication
	case goerrors.CategoryExternal:
		return RecoveryErrorBillingSync
	case goerrors.CategoryConflict:
		return RecoveryErrorTaskPersistence
	default:
		return RecoveryErrorInternal
	}
}

func recoveryHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// MapRecoveryError normalizes any error into the recovery error envelope.
func MapRecoveryError(err error) *goerrors.Error {
	return recoveryErrorMapper(err)
}

package recovery

import (
	"net/http"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-revenue-recovery/core"
)

func recoveryError(
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

func recoveryWrapError(
	source error,
	category goerrors.Category,
	message string,
	code int,
	textCode string,
	metadata map[string]any,
) error {
	if source == nil {
		return recoveryError(message, category, code, textCode, metadata)
	}
	err := goerrors.Wrap(source, category, message).
		WithCode(code).
		WithTextCode(textCode)
	if len(metadata) > 0 {
		err.WithMetadata(metadata)
	}
	return err
}

func missingDependencyError(name string) error {
	return recoveryError(
		name+" is required",
		goerrors.CategoryBadInput,
		http.StatusBadRequest,
		core.RecoveryErrorBadInput,
		nil,
	)
}

func authenticationError(metadata map[string]any) error {
	return recoveryError(
		"webhook source verification failed",
		goerrors.CategoryAuth,
		http.StatusUnauthorized,
		core.RecoveryErrorAuthentication,
		metadata,
	)
}

func connectorNotFoundError(connectorID string) error {
	return recoveryError(
		"billing connector not registered",
		goerrors.CategoryNotFound,
		http.StatusNotFound,
		core.RecoveryErrorConnectorNotFound,
		map[string]any{"connector_id": connectorID},
	)
}

func invoiceExtractionError(source error, connectorID string) error {
	return recoveryWrapError(
		source,
		goerrors.CategoryBadInput,
		"invoice extraction failed",
		http.StatusBadRequest,
		core.RecoveryErrorInvoiceExtraction,
		map[string]any{"connector_id": connectorID},
	)
}

func attemptExtractionError(source error, connectorID string) error {
	return recoveryWrapError(
		source,
		goerrors.CategoryBadInput,
		"attempt extraction failed",
		http.StatusBadRequest,
		core.RecoveryErrorAttemptExtraction,
		map[string]any{"connector_id": connectorID},
	)
}

func intentFetchError(source error, merchantReferenceID string) error {
	return recoveryWrapError(
		source,
		goerrors.CategoryExternal,
		"payment intent fetch failed",
		http.StatusBadGateway,
		core.RecoveryErrorIntentFetch,
		map[string]any{"merchant_reference_id": merchantReferenceID},
	)
}

func intentCreateError(source error, merchantReferenceID string) error {
	return recoveryWrapError(
		source,
		goerrors.CategoryExternal,
		"payment intent create failed",
		http.StatusBadGateway,
		core.RecoveryErrorIntentCreate,
		map[string]any{"merchant_reference_id": merchantReferenceID},
	)
}

func accountResolutionError(source error, billingAccountID string, referenceID string) error {
	return recoveryWrapError(
		source,
		goerrors.CategoryExternal,
		"payment connector account resolution failed",
		http.StatusBadGateway,
		core.RecoveryErrorAccountResolution,
		map[string]any{
			"billing_connector_account_id": billingAccountID,
			"account_reference_id":         referenceID,
		},
	)
}

func attemptFetchError(source error, connectorTransactionID string) error {
	return recoveryWrapError(
		source,
		goerrors.CategoryExternal,
		"payment attempt fetch failed",
		http.StatusBadGateway,
		core.RecoveryErrorAttemptFetch,
		map[string]any{"connector_transaction_id": connectorTransactionID},
	)
}

func attemptRecordError(source error, connectorTransactionID string) error {
	return recoveryWrapError(
		source,
		goerrors.CategoryExternal,
		"payment attempt record failed",
		http.StatusBadGateway,
		core.RecoveryErrorAttemptRecord,
		map[string]any{"connector_transaction_id": connectorTransactionID},
	)
}

func billingSyncError(source error, connectorID string, connectorTransactionID string) error {
	return recoveryWrapError(
		source,
		goerrors.CategoryExternal,
		"billing connector payment sync failed",
		http.StatusBadGateway,
		core.RecoveryErrorBillingSync,
		map[string]any{
			"connector_id":             connectorID,
			"connector_transaction_id": connectorTransactionID,
		},
	)
}

func thresholdUnavailableError(billingAccountID string) error {
	return recoveryError(
		"merchant retry threshold is not configured",
		goerrors.CategoryValidation,
		http.StatusUnprocessableEntity,
		core.RecoveryErrorThreshold,
		map[string]any{"billing_connector_account_id": billingAccountID},
	)
}

func retryCountUnavailableError(intentID string) error {
	return recoveryError(
		"payment intent carries no retry count metadata",
		goerrors.CategoryValidation,
		http.StatusUnprocessableEntity,
		core.RecoveryErrorRetryCount,
		map[string]any{"payment_intent_id": intentID},
	)
}

func scheduleTimeError(source error, intentID string, attemptNumber int) error {
	return recoveryWrapError(
		source,
		goerrors.CategoryOperation,
		"next schedule time resolution failed",
		http.StatusUnprocessableEntity,
		core.RecoveryErrorScheduleTime,
		map[string]any{
			"payment_intent_id": intentID,
			"attempt_number":    attemptNumber,
		},
	)
}

func missingAttemptIDError(intentID string) error {
	return recoveryError(
		"cannot schedule a retry without a concrete attempt id",
		goerrors.CategoryBadInput,
		http.StatusUnprocessableEntity,
		core.RecoveryErrorMissingAttemptID,
		map[string]any{"payment_intent_id": intentID},
	)
}

func taskPersistenceError(source error, taskID string) error {
	return recoveryWrapError(
		source,
		goerrors.CategoryInternal,
		"retry task insertion failed",
		http.StatusInternalServerError,
		core.RecoveryErrorTaskPersistence,
		map[string]any{"task_id": taskID},
	)
}

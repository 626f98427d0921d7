package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-revenue-recovery/core"
)

// AttemptReconciler resolves a transaction webhook (or sync response) into a
// payment attempt, matching an existing attempt by connector transaction id
// or recording a new externally-triggered one. Invoice-type events never
// reach it.
type AttemptReconciler struct {
	attempts core.AttemptService
	accounts core.PaymentAccountResolver
	logger   core.Logger
}

func NewAttemptReconciler(
	attempts core.AttemptService,
	accounts core.PaymentAccountResolver,
	logger core.Logger,
) *AttemptReconciler {
	return &AttemptReconciler{attempts: attempts, accounts: accounts, logger: logger}
}

// Reconcile returns the attempt matched or recorded for the transaction plus
// the intent, refreshed when a new attempt was recorded.
func (r *AttemptReconciler) Reconcile(
	ctx context.Context,
	connector core.BillingConnector,
	account core.BillingConnectorAccount,
	intent core.RecoveryPaymentIntent,
	req core.WebhookRequest,
	sync *core.PaymentsSyncResponse,
) (core.RecoveryPaymentAttempt, core.RecoveryPaymentIntent, error) {
	attemptData, err := r.attemptData(ctx, connector, req, sync)
	if err != nil {
		return core.RecoveryPaymentAttempt{}, intent, err
	}
	if strings.TrimSpace(attemptData.ConnectorTransactionID) == "" {
		return core.RecoveryPaymentAttempt{}, intent, attemptExtractionError(
			errors.New("connector transaction id is required"),
			connector.ID(),
		)
	}

	existing, err := r.attempts.FindAttempt(ctx, intent, attemptData.ConnectorTransactionID)
	if err != nil {
		return core.RecoveryPaymentAttempt{}, intent, attemptFetchError(err, attemptData.ConnectorTransactionID)
	}
	if existing != nil {
		return *existing, intent, nil
	}

	paymentAccount, resolveErr := r.resolvePaymentAccount(ctx, account, attemptData)
	if resolveErr != nil && r.logger != nil {
		r.logger.Warn("payment connector account resolution failed, treating as absent",
			"billing_connector_account_id", account.ID,
			"account_reference_id", attemptData.ConnectorAccountReferenceID,
			"error", resolveErr.Error(),
		)
	}

	recorded, updatedIntent, err := r.attempts.RecordAttempt(ctx, intent, core.RecordAttemptInput{
		Attempt:                   attemptData,
		TriggeredBy:               core.TriggeredByExternal,
		BillingConnectorAccountID: account.ID,
		PaymentConnectorAccount:   paymentAccount,
	})
	if err != nil {
		return core.RecoveryPaymentAttempt{}, intent, attemptRecordError(err, attemptData.ConnectorTransactionID)
	}
	return recorded, updatedIntent, nil
}

// resolvePaymentAccount maps the connector-side account reference onto the
// merchant's own payment connector account. Absence or resolution failure is
// not fatal: externally-originated attempts may have no such account. A
// failure still surfaces as a typed account-resolution error so the caller
// can report it.
func (r *AttemptReconciler) resolvePaymentAccount(
	ctx context.Context,
	account core.BillingConnectorAccount,
	attemptData core.AttemptData,
) (*core.PaymentConnectorAccount, error) {
	referenceID := strings.TrimSpace(attemptData.ConnectorAccountReferenceID)
	if referenceID == "" || r.accounts == nil {
		return nil, nil
	}

	resolved, err := r.accounts.ResolvePaymentAccount(ctx, account, referenceID)
	if err != nil {
		return nil, accountResolutionError(err, account.ID, referenceID)
	}
	return resolved, nil
}

func (r *AttemptReconciler) attemptData(
	ctx context.Context,
	connector core.BillingConnector,
	req core.WebhookRequest,
	sync *core.PaymentsSyncResponse,
) (core.AttemptData, error) {
	if sync != nil {
		return sync.AttemptData(), nil
	}
	attemptData, err := connector.ExtractAttemptDetails(ctx, req)
	if err != nil {
		return core.AttemptData{}, attemptExtractionError(err, connector.ID())
	}
	return attemptData, nil
}

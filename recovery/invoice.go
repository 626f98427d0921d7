package recovery

import (
	"context"
	"errors"
	"strings"

	"github.com/goliatone/go-revenue-recovery/core"
)

// InvoiceReconciler resolves an invoice webhook (or sync response) into a
// payment intent, creating one when no intent exists for the merchant
// reference. Lookup-then-create, never upsert: concurrent duplicate
// webhooks for a brand-new reference can still race, and the task store's
// uniqueness constraint is the backstop.
type InvoiceReconciler struct {
	intents core.IntentService
	logger  core.Logger
}

func NewInvoiceReconciler(intents core.IntentService, logger core.Logger) *InvoiceReconciler {
	return &InvoiceReconciler{intents: intents, logger: logger}
}

// Reconcile produces the payment intent for the delivery. Sync data, when
// present, strictly overrides webhook-body extraction.
func (r *InvoiceReconciler) Reconcile(
	ctx context.Context,
	connector core.BillingConnector,
	account core.BillingConnectorAccount,
	req core.WebhookRequest,
	sync *core.PaymentsSyncResponse,
) (core.RecoveryPaymentIntent, error) {
	invoice, err := r.invoiceData(ctx, connector, req, sync)
	if err != nil {
		return core.RecoveryPaymentIntent{}, err
	}
	if strings.TrimSpace(invoice.MerchantReferenceID) == "" {
		return core.RecoveryPaymentIntent{}, invoiceExtractionError(
			errors.New("merchant reference id is required"),
			connector.ID(),
		)
	}

	intent, err := r.intents.FetchIntentByReference(ctx, account.MerchantID, invoice.MerchantReferenceID)
	if err == nil {
		return intent, nil
	}
	if !errors.Is(err, core.ErrIntentNotFound) {
		return core.RecoveryPaymentIntent{}, intentFetchError(err, invoice.MerchantReferenceID)
	}

	created, err := r.intents.CreateIntent(ctx, account.MerchantID, account.ProfileID, invoice)
	if err != nil {
		return core.RecoveryPaymentIntent{}, intentCreateError(err, invoice.MerchantReferenceID)
	}
	return created, nil
}

func (r *InvoiceReconciler) invoiceData(
	ctx context.Context,
	connector core.BillingConnector,
	req core.WebhookRequest,
	sync *core.PaymentsSyncResponse,
) (core.InvoiceData, error) {
	if sync != nil {
		return sync.InvoiceData(), nil
	}
	invoice, err := connector.ExtractInvoiceDetails(ctx, req)
	if err != nil {
		return core.InvoiceData{}, invoiceExtractionError(err, connector.ID())
	}
	return invoice, nil
}

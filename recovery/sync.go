package recovery

import (
	"context"
	"strings"

	"github.com/goliatone/go-revenue-recovery/core"
)

// SyncClient performs the optional synchronous payment-status call against
// the billing connector. The response, when present, supersedes webhook-body
// extraction for both invoice and attempt data.
type SyncClient struct {
	cfg    core.Config
	logger core.Logger
}

func NewSyncClient(cfg core.Config, logger core.Logger) *SyncClient {
	return &SyncClient{cfg: cfg, logger: logger}
}

// Fetch runs the payment sync when the merchant's connector is configured as
// requiring it. A nil response with nil error means the connector does not
// sync. A sync-configured connector must reference a connector transaction:
// any other object reference fails the delivery rather than silently falling
// back to webhook-body extraction.
func (c *SyncClient) Fetch(
	ctx context.Context,
	connector core.BillingConnector,
	account core.BillingConnectorAccount,
	req core.WebhookRequest,
) (*core.PaymentsSyncResponse, error) {
	if c == nil || connector == nil {
		return nil, nil
	}
	if !c.cfg.RequiresPaymentSync(connector.ID()) {
		return nil, nil
	}
	if req.ObjectReference.Kind != core.ObjectReferenceTransaction {
		return nil, billingSyncError(nil, connector.ID(), strings.TrimSpace(req.ObjectReference.ID))
	}

	transactionID := strings.TrimSpace(req.ObjectReference.ID)
	if transactionID == "" {
		return nil, billingSyncError(nil, connector.ID(), transactionID)
	}

	capable, ok := connector.(core.PaymentsSyncCapable)
	if !ok {
		return nil, billingSyncError(nil, connector.ID(), transactionID)
	}

	response, err := capable.FetchPaymentDetails(ctx, account, transactionID)
	if err != nil {
		return nil, billingSyncError(err, connector.ID(), transactionID)
	}
	return &response, nil
}

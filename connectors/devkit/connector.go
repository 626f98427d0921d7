// Package devkit provides a scriptable in-memory billing connector for
// integration tests and local development. Behavior is supplied through
// function fields so a test can exercise any extraction or sync path
// without standing up a billing provider.
package devkit

import (
	"context"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-revenue-recovery/core"
)

const DefaultConnectorID = "devkit"

type Connector struct {
	// ConnectorID overrides the registered id. Empty means DefaultConnectorID.
	ConnectorID string

	InvoiceFn func(ctx context.Context, req core.WebhookRequest) (core.InvoiceData, error)
	AttemptFn func(ctx context.Context, req core.WebhookRequest) (core.AttemptData, error)
	SyncFn    func(ctx context.Context, account core.BillingConnectorAccount, connectorTransactionID string) (core.PaymentsSyncResponse, error)
}

func New() *Connector {
	return &Connector{}
}

func (c *Connector) ID() string {
	if c != nil && c.ConnectorID != "" {
		return c.ConnectorID
	}
	return DefaultConnectorID
}

func (c *Connector) ExtractInvoiceDetails(ctx context.Context, req core.WebhookRequest) (core.InvoiceData, error) {
	if c == nil || c.InvoiceFn == nil {
		return core.InvoiceData{}, unscripted("invoice extraction")
	}
	return c.InvoiceFn(ctx, req)
}

func (c *Connector) ExtractAttemptDetails(ctx context.Context, req core.WebhookRequest) (core.AttemptData, error) {
	if c == nil || c.AttemptFn == nil {
		return core.AttemptData{}, unscripted("attempt extraction")
	}
	return c.AttemptFn(ctx, req)
}

func (c *Connector) FetchPaymentDetails(
	ctx context.Context,
	account core.BillingConnectorAccount,
	connectorTransactionID string,
) (core.PaymentsSyncResponse, error) {
	if c == nil || c.SyncFn == nil {
		return core.PaymentsSyncResponse{}, goerrors.New(
			"devkit: payment sync is not scripted", goerrors.CategoryExternal).
			WithTextCode(core.RecoveryErrorBillingSync)
	}
	return c.SyncFn(ctx, account, connectorTransactionID)
}

func unscripted(operation string) error {
	return goerrors.New("devkit: "+operation+" is not scripted", goerrors.CategoryBadInput).
		WithTextCode(core.RecoveryErrorInvoiceExtraction)
}

var (
	_ core.BillingConnector    = (*Connector)(nil)
	_ core.PaymentsSyncCapable = (*Connector)(nil)
)

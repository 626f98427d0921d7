// Package chargebee extracts recovery invoice and transaction facts from
// Chargebee webhook deliveries. Chargebee webhook bodies carry the full
// object payload, so no synchronous payment fetch is needed.
package chargebee

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-revenue-recovery/core"
)

const ConnectorID = "chargebee"

type Connector struct{}

func New() *Connector {
	return &Connector{}
}

func (*Connector) ID() string {
	return ConnectorID
}

type webhookEnvelope struct {
	ID        string         `json:"id"`
	EventType string         `json:"event_type"`
	Content   webhookContent `json:"content"`
}

type webhookContent struct {
	Invoice     *invoicePayload     `json:"invoice"`
	Transaction *transactionPayload `json:"transaction"`
}

type invoicePayload struct {
	ID           string `json:"id"`
	Total        int64  `json:"total"`
	AmountDue    int64  `json:"amount_due"`
	CurrencyCode string `json:"currency_code"`
	Status       string `json:"status"`
}

type transactionPayload struct {
	ID               string `json:"id"`
	InvoiceID        string `json:"invoice_id"`
	Amount           int64  `json:"amount"`
	CurrencyCode     string `json:"currency_code"`
	Status           string `json:"status"`
	PaymentMethod    string `json:"payment_method"`
	PaymentSourceID  string `json:"payment_source_id"`
	CardBrand        string `json:"card_brand"`
	ErrorCode        string `json:"error_code"`
	ErrorText        string `json:"error_text"`
	GatewayAccountID string `json:"gateway_account_id"`
	CustomerID       string `json:"customer_id"`
	ReferenceNumber  string `json:"reference_number"`
	Date             int64  `json:"date"`
}

func (c *Connector) ExtractInvoiceDetails(_ context.Context, req core.WebhookRequest) (core.InvoiceData, error) {
	envelope, err := parseEnvelope(req.Body)
	if err != nil {
		return core.InvoiceData{}, err
	}
	invoice := envelope.Content.Invoice
	if invoice == nil || strings.TrimSpace(invoice.ID) == "" {
		return core.InvoiceData{}, extractionError("chargebee: webhook carries no invoice object")
	}

	amount := invoice.Total
	if amount == 0 {
		amount = invoice.AmountDue
	}
	return core.InvoiceData{
		MerchantReferenceID: strings.TrimSpace(invoice.ID),
		AmountMinor:         amount,
		Currency:            strings.ToUpper(strings.TrimSpace(invoice.CurrencyCode)),
		Metadata: map[string]any{
			"chargebee_event_id":   strings.TrimSpace(envelope.ID),
			"chargebee_event_type": strings.TrimSpace(envelope.EventType),
		},
	}, nil
}

func (c *Connector) ExtractAttemptDetails(_ context.Context, req core.WebhookRequest) (core.AttemptData, error) {
	envelope, err := parseEnvelope(req.Body)
	if err != nil {
		return core.AttemptData{}, err
	}
	txn := envelope.Content.Transaction
	if txn == nil || strings.TrimSpace(txn.ID) == "" {
		return core.AttemptData{}, extractionError("chargebee: webhook carries no transaction object")
	}

	merchantReference := strings.TrimSpace(txn.InvoiceID)
	if merchantReference == "" && envelope.Content.Invoice != nil {
		merchantReference = strings.TrimSpace(envelope.Content.Invoice.ID)
	}

	var createdAt *time.Time
	if txn.Date > 0 {
		at := time.Unix(txn.Date, 0).UTC()
		createdAt = &at
	}

	return core.AttemptData{
		MerchantReferenceID:         merchantReference,
		ConnectorTransactionID:      strings.TrimSpace(txn.ID),
		AmountMinor:                 txn.Amount,
		Currency:                    strings.ToUpper(strings.TrimSpace(txn.CurrencyCode)),
		Status:                      mapTransactionStatus(txn.Status),
		PaymentMethodType:           strings.TrimSpace(txn.PaymentMethod),
		PaymentMethodSubtype:        strings.TrimSpace(txn.CardBrand),
		ErrorCode:                   strings.TrimSpace(txn.ErrorCode),
		ErrorMessage:                strings.TrimSpace(txn.ErrorText),
		ProcessorPaymentMethodToken: strings.TrimSpace(txn.ReferenceNumber),
		ConnectorCustomerID:         strings.TrimSpace(txn.CustomerID),
		ConnectorAccountReferenceID: strings.TrimSpace(txn.GatewayAccountID),
		TransactionCreatedAt:        createdAt,
	}, nil
}

func mapTransactionStatus(status string) core.AttemptStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return core.AttemptStatusCharged
	case "failure", "failed", "voided":
		return core.AttemptStatusFailure
	default:
		return core.AttemptStatusPending
	}
}

func parseEnvelope(body []byte) (webhookEnvelope, error) {
	if len(body) == 0 {
		return webhookEnvelope{}, extractionError("chargebee: webhook body is empty")
	}
	envelope := webhookEnvelope{}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return webhookEnvelope{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "chargebee: parse webhook body").
			WithTextCode(core.RecoveryErrorInvoiceExtraction)
	}
	return envelope, nil
}

func extractionError(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithTextCode(core.RecoveryErrorInvoiceExtraction)
}

var _ core.BillingConnector = (*Connector)(nil)

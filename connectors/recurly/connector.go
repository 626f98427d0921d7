// Package recurly integrates Recurly as a billing connector. Recurly
// webhook bodies are thin notification stubs, so the connector also
// implements the synchronous payment fetch that retrieves authoritative
// transaction state before reconciliation.
package recurly

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-revenue-recovery/core"
)

const ConnectorID = "recurly"

const DefaultBaseURL = "https://v3.recurly.com"

const defaultSyncTimeout = 15 * time.Second

// Connector extracts what little the webhook stub carries and fetches the
// rest through the Recurly transactions API over the shared transport.
type Connector struct {
	transport core.TransportAdapter
	baseURL   string
	apiKey    string
	timeout   time.Duration
}

type Option func(*Connector)

func WithBaseURL(baseURL string) Option {
	return func(c *Connector) {
		if trimmed := strings.TrimRight(strings.TrimSpace(baseURL), "/"); trimmed != "" {
			c.baseURL = trimmed
		}
	}
}

func WithAPIKey(apiKey string) Option {
	return func(c *Connector) {
		c.apiKey = strings.TrimSpace(apiKey)
	}
}

func WithSyncTimeout(timeout time.Duration) Option {
	return func(c *Connector) {
		if timeout > 0 {
			c.timeout = timeout
		}
	}
}

func New(adapter core.TransportAdapter, opts ...Option) *Connector {
	connector := &Connector{
		transport: adapter,
		baseURL:   DefaultBaseURL,
		timeout:   defaultSyncTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(connector)
		}
	}
	return connector
}

func (*Connector) ID() string {
	return ConnectorID
}

type webhookStub struct {
	ID            string `json:"id"`
	EventType     string `json:"event_type"`
	AccountCode   string `json:"account_code"`
	InvoiceID     string `json:"invoice_id"`
	InvoiceNumber string `json:"invoice_number"`
	TransactionID string `json:"transaction_id"`
	UUID          string `json:"uuid"`
}

// ExtractInvoiceDetails returns the stub-level invoice reference. Amount
// and currency come from the sync response, which supersedes this data for
// recurly deliveries.
func (c *Connector) ExtractInvoiceDetails(_ context.Context, req core.WebhookRequest) (core.InvoiceData, error) {
	stub, err := parseStub(req.Body)
	if err != nil {
		return core.InvoiceData{}, err
	}
	reference := firstNonEmpty(stub.InvoiceID, stub.InvoiceNumber)
	if reference == "" {
		return core.InvoiceData{}, stubError("recurly: webhook stub carries no invoice reference")
	}
	return core.InvoiceData{
		MerchantReferenceID: reference,
		Metadata: map[string]any{
			"recurly_event_id":   strings.TrimSpace(stub.ID),
			"recurly_event_type": strings.TrimSpace(stub.EventType),
		},
	}, nil
}

// ExtractAttemptDetails returns the stub-level transaction reference. The
// flow only uses this as a fallback when sync is disabled in config.
func (c *Connector) ExtractAttemptDetails(_ context.Context, req core.WebhookRequest) (core.AttemptData, error) {
	stub, err := parseStub(req.Body)
	if err != nil {
		return core.AttemptData{}, err
	}
	transactionID := firstNonEmpty(stub.TransactionID, stub.UUID)
	if transactionID == "" {
		return core.AttemptData{}, stubError("recurly: webhook stub carries no transaction reference")
	}
	return core.AttemptData{
		MerchantReferenceID:    firstNonEmpty(stub.InvoiceID, stub.InvoiceNumber),
		ConnectorTransactionID: transactionID,
		Status:                 core.AttemptStatusPending,
		ConnectorCustomerID:    strings.TrimSpace(stub.AccountCode),
	}, nil
}

type transactionResponse struct {
	ID            string            `json:"id"`
	UUID          string            `json:"uuid"`
	Invoice       invoiceRef        `json:"invoice"`
	AmountInCents int64             `json:"amount_in_cents"`
	Currency      string            `json:"currency"`
	Status        string            `json:"status"`
	PaymentMethod map[string]string `json:"payment_method"`
	StatusCode    string            `json:"status_code"`
	StatusMessage string            `json:"status_message"`
	Account       accountRef        `json:"account"`
	GatewayCode   string            `json:"gateway_code"`
	GatewayToken  string            `json:"gateway_token"`
	CollectedAt   string            `json:"collected_at"`
}

type invoiceRef struct {
	ID     string `json:"id"`
	Number string `json:"number"`
}

type accountRef struct {
	Code string `json:"code"`
}

func (c *Connector) FetchPaymentDetails(
	ctx context.Context,
	account core.BillingConnectorAccount,
	connectorTransactionID string,
) (core.PaymentsSyncResponse, error) {
	if c == nil || c.transport == nil {
		return core.PaymentsSyncResponse{}, syncError("recurly: transport adapter is not configured", nil)
	}
	connectorTransactionID = strings.TrimSpace(connectorTransactionID)
	if connectorTransactionID == "" {
		return core.PaymentsSyncResponse{}, stubError("recurly: connector transaction id is required")
	}

	headers := map[string]string{
		"Accept": "application/vnd.recurly.v2021-02-25+json",
	}
	if c.apiKey != "" {
		headers["Authorization"] = "Basic " + c.apiKey
	}

	res, err := c.transport.Do(ctx, core.TransportRequest{
		Method:      http.MethodGet,
		URL:         fmt.Sprintf("%s/transactions/%s", c.baseURL, connectorTransactionID),
		Headers:     headers,
		Timeout:     c.timeout,
		Idempotency: connectorTransactionID,
		Metadata: map[string]any{
			"billing_connector_account_id": account.ID,
			"merchant_id":                  account.MerchantID,
		},
	})
	if err != nil {
		return core.PaymentsSyncResponse{}, syncError("recurly: fetch transaction", err)
	}
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		return core.PaymentsSyncResponse{}, syncError(
			fmt.Sprintf("recurly: transaction fetch returned status %d", res.StatusCode), nil)
	}

	payload := transactionResponse{}
	if err := json.Unmarshal(res.Body, &payload); err != nil {
		return core.PaymentsSyncResponse{}, syncError("recurly: parse transaction response", err)
	}

	var collectedAt *time.Time
	if raw := strings.TrimSpace(payload.CollectedAt); raw != "" {
		if at, parseErr := time.Parse(time.RFC3339, raw); parseErr == nil {
			utc := at.UTC()
			collectedAt = &utc
		}
	}

	return core.PaymentsSyncResponse{
		MerchantReferenceID:         firstNonEmpty(payload.Invoice.ID, payload.Invoice.Number),
		ConnectorTransactionID:      firstNonEmpty(payload.ID, payload.UUID, connectorTransactionID),
		AmountMinor:                 payload.AmountInCents,
		Currency:                    strings.ToUpper(strings.TrimSpace(payload.Currency)),
		Status:                      mapTransactionStatus(payload.Status),
		PaymentMethodType:           strings.TrimSpace(payload.PaymentMethod["object"]),
		PaymentMethodSubtype:        strings.TrimSpace(payload.PaymentMethod["card_type"]),
		ErrorCode:                   strings.TrimSpace(payload.StatusCode),
		ErrorMessage:                strings.TrimSpace(payload.StatusMessage),
		ProcessorPaymentMethodToken: strings.TrimSpace(payload.GatewayToken),
		ConnectorCustomerID:         strings.TrimSpace(payload.Account.Code),
		ConnectorAccountReferenceID: strings.TrimSpace(payload.GatewayCode),
		TransactionCreatedAt:        collectedAt,
	}, nil
}

func mapTransactionStatus(status string) core.AttemptStatus {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "success":
		return core.AttemptStatusCharged
	case "declined", "failed", "voided", "chargeback":
		return core.AttemptStatusFailure
	default:
		return core.AttemptStatusPending
	}
}

func parseStub(body []byte) (webhookStub, error) {
	if len(body) == 0 {
		return webhookStub{}, stubError("recurly: webhook body is empty")
	}
	stub := webhookStub{}
	if err := json.Unmarshal(body, &stub); err != nil {
		return webhookStub{}, goerrors.Wrap(err, goerrors.CategoryBadInput, "recurly: parse webhook body").
			WithTextCode(core.RecoveryErrorInvoiceExtraction)
	}
	return stub, nil
}

func stubError(message string) error {
	return goerrors.New(message, goerrors.CategoryBadInput).
		WithTextCode(core.RecoveryErrorInvoiceExtraction)
}

func syncError(message string, cause error) error {
	if cause == nil {
		return goerrors.New(message, goerrors.CategoryExternal).
			WithCode(http.StatusBadGateway).
			WithTextCode(core.RecoveryErrorBillingSync)
	}
	return goerrors.Wrap(cause, goerrors.CategoryExternal, message).
		WithCode(http.StatusBadGateway).
		WithTextCode(core.RecoveryErrorBillingSync)
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

var (
	_ core.BillingConnector    = (*Connector)(nil)
	_ core.PaymentsSyncCapable = (*Connector)(nil)
)

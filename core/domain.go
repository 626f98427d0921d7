package core

import (
	"strings"
	"time"
)

// EventType is the semantic type of an incoming billing-connector webhook.
type EventType string

const (
	EventTypeRecoveryPaymentFailure EventType = "recovery_payment_failure"
	EventTypeRecoveryPaymentSuccess EventType = "recovery_payment_success"
	EventTypeRecoveryPaymentPending EventType = "recovery_payment_pending"
	EventTypeRecoveryInvoiceCancel  EventType = "recovery_invoice_cancel"
)

// IsRecoveryTransactionEvent reports whether the event describes a payment
// transaction rather than an invoice lifecycle change. Only transaction
// events ever resolve or record a payment attempt.
func (e EventType) IsRecoveryTransactionEvent() bool {
	switch e {
	case EventTypeRecoveryPaymentFailure,
		EventTypeRecoveryPaymentSuccess,
		EventTypeRecoveryPaymentPending:
		return true
	}
	return false
}

func (e EventType) IsRecoveryEvent() bool {
	return e.IsRecoveryTransactionEvent() || e == EventTypeRecoveryInvoiceCancel
}

// TriggeredBy identifies which party originated a payment attempt.
type TriggeredBy string

const (
	TriggeredByInternal TriggeredBy = "internal"
	TriggeredByExternal TriggeredBy = "external"
)

type IntentStatus string

const (
	IntentStatusProcessing IntentStatus = "processing"
	IntentStatusFailed     IntentStatus = "failed"
	IntentStatusSucceeded  IntentStatus = "succeeded"
	IntentStatusCancelled  IntentStatus = "cancelled"
)

type AttemptStatus string

const (
	AttemptStatusFailure AttemptStatus = "failure"
	AttemptStatusCharged AttemptStatus = "charged"
	AttemptStatusPending AttemptStatus = "pending"
)

// IntentStatus maps an attempt status onto the intent lifecycle state that
// recording the attempt leaves behind.
func (s AttemptStatus) IntentStatus() IntentStatus {
	switch s {
	case AttemptStatusCharged:
		return IntentStatusSucceeded
	case AttemptStatusFailure:
		return IntentStatusFailed
	default:
		return IntentStatusProcessing
	}
}

// RecoveryPaymentIntent is the merchant-facing record representing an
// attempted collection of payment for an invoice.
type RecoveryPaymentIntent struct {
	ID              string
	Status          IntentStatus
	FeatureMetadata *IntentFeatureMetadata
}

type IntentFeatureMetadata struct {
	RevenueRecovery *IntentRevenueRecoveryMetadata
}

type IntentRevenueRecoveryMetadata struct {
	TotalRetryCount *int
}

// RetryCount returns the intent-level recovery retry counter when present.
func (i RecoveryPaymentIntent) RetryCount() (int, bool) {
	if i.FeatureMetadata == nil || i.FeatureMetadata.RevenueRecovery == nil {
		return 0, false
	}
	count := i.FeatureMetadata.RevenueRecovery.TotalRetryCount
	if count == nil {
		return 0, false
	}
	return *count, true
}

// RecoveryPaymentAttempt is a single try at charging a payment method
// against an intent. Immutable once recorded within the recovery flow.
type RecoveryPaymentAttempt struct {
	ID              string
	Status          AttemptStatus
	FeatureMetadata *AttemptFeatureMetadata
}

type AttemptFeatureMetadata struct {
	RevenueRecovery *AttemptRevenueRecoveryMetadata
}

type AttemptRevenueRecoveryMetadata struct {
	AttemptTriggeredBy TriggeredBy
}

// TriggeredBy returns the recorded trigger source of the attempt, or nil
// when the attempt carries no revenue-recovery metadata.
func (a RecoveryPaymentAttempt) TriggeredBy() *TriggeredBy {
	if a.FeatureMetadata == nil || a.FeatureMetadata.RevenueRecovery == nil {
		return nil
	}
	triggered := a.FeatureMetadata.RevenueRecovery.AttemptTriggeredBy
	return &triggered
}

// InvoiceData holds normalized invoice facts extracted from a webhook or a
// billing-connector sync response. Transient, never persisted directly.
type InvoiceData struct {
	MerchantReferenceID string
	AmountMinor         int64
	Currency            string
	Metadata            map[string]any
}

// AttemptData holds normalized transaction facts extracted from a webhook
// or a billing-connector sync response. Transient.
type AttemptData struct {
	MerchantReferenceID         string
	ConnectorTransactionID      string
	AmountMinor                 int64
	Currency                    string
	Status                      AttemptStatus
	PaymentMethodType           string
	PaymentMethodSubtype        string
	ErrorCode                   string
	ErrorMessage                string
	ProcessorPaymentMethodToken string
	ConnectorCustomerID         string
	ConnectorAccountReferenceID string
	TransactionCreatedAt        *time.Time
}

// PaymentsSyncResponse is the authoritative payment state returned by the
// billing connector's synchronous status API. When present, it strictly
// supersedes webhook-body extraction for both invoice and attempt data.
type PaymentsSyncResponse struct {
	MerchantReferenceID         string
	ConnectorTransactionID      string
	AmountMinor                 int64
	Currency                    string
	Status                      AttemptStatus
	PaymentMethodType           string
	PaymentMethodSubtype        string
	ErrorCode                   string
	ErrorMessage                string
	ProcessorPaymentMethodToken string
	ConnectorCustomerID         string
	ConnectorAccountReferenceID string
	TransactionCreatedAt        *time.Time
}

func (r PaymentsSyncResponse) InvoiceData() InvoiceData {
	return InvoiceData{
		MerchantReferenceID: r.MerchantReferenceID,
		AmountMinor:         r.AmountMinor,
		Currency:            r.Currency,
	}
}

func (r PaymentsSyncResponse) AttemptData() AttemptData {
	return AttemptData{
		MerchantReferenceID:         r.MerchantReferenceID,
		ConnectorTransactionID:      r.ConnectorTransactionID,
		AmountMinor:                 r.AmountMinor,
		Currency:                    r.Currency,
		Status:                      r.Status,
		PaymentMethodType:           r.PaymentMethodType,
		PaymentMethodSubtype:        r.PaymentMethodSubtype,
		ErrorCode:                   r.ErrorCode,
		ErrorMessage:                r.ErrorMessage,
		ProcessorPaymentMethodToken: r.ProcessorPaymentMethodToken,
		ConnectorCustomerID:         r.ConnectorCustomerID,
		ConnectorAccountReferenceID: r.ConnectorAccountReferenceID,
		TransactionCreatedAt:        r.TransactionCreatedAt,
	}
}

// BillingConnectorAccount is the merchant's configured account on the
// billing connector that delivered the webhook.
type BillingConnectorAccount struct {
	ID          string
	MerchantID  string
	ProfileID   string
	ConnectorID string
	// RetryThreshold is the merchant-configured maximum number of recovery
	// attempts. Nil means the merchant never configured one.
	RetryThreshold *int
	// AccountReferenceMap maps connector-side account reference ids onto
	// the merchant's own payment connector account ids.
	AccountReferenceMap map[string]string
	Metadata            map[string]any
}

// PaymentAccountID resolves the payment connector account id backing the
// given connector-side account reference id.
func (a BillingConnectorAccount) PaymentAccountID(referenceID string) (string, bool) {
	referenceID = strings.TrimSpace(referenceID)
	if referenceID == "" || len(a.AccountReferenceMap) == 0 {
		return "", false
	}
	id, ok := a.AccountReferenceMap[referenceID]
	if !ok || strings.TrimSpace(id) == "" {
		return "", false
	}
	return id, true
}

// PaymentConnectorAccount is the merchant's own connector account used for
// the original payment, resolved through the billing account reference map.
type PaymentConnectorAccount struct {
	ID          string
	ConnectorID string
}

type ObjectReferenceKind string

const (
	ObjectReferenceInvoice     ObjectReferenceKind = "invoice"
	ObjectReferenceTransaction ObjectReferenceKind = "transaction"
)

// ObjectReference identifies the connector-side object a webhook reports on.
type ObjectReference struct {
	Kind ObjectReferenceKind
	ID   string
}

// WebhookRequest carries one incoming billing-connector webhook through the
// recovery flow. SourceVerified is the precomputed signature-check result;
// the flow never re-verifies payloads itself.
type WebhookRequest struct {
	ConnectorID     string
	SourceVerified  bool
	EventType       EventType
	ObjectReference ObjectReference
	Headers         map[string]string
	Body            []byte
	Query           string
	Metadata        map[string]any
}

// TaskTrackingData is the serialized payload carried by a scheduled retry
// task so the workflow executor can rehydrate the recovery context.
type TaskTrackingData struct {
	BillingConnectorAccountID string `json:"billing_connector_account_id"`
	PaymentIntentID           string `json:"payment_intent_id"`
	MerchantID                string `json:"merchant_id"`
	ProfileID                 string `json:"profile_id"`
	PaymentAttemptID          string `json:"payment_attempt_id"`
}

// RetryTask is the durable record describing the next recovery workflow
// execution. Owned and later consumed by the external task executor.
type RetryTask struct {
	ID           string
	Name         string
	Runner       string
	Tags         []string
	TrackingData TaskTrackingData
	RetryCount   int
	ScheduleTime time.Time
	Version      string
}

type OutcomeKind string

const (
	OutcomeNoEffect OutcomeKind = "no_effect"
	OutcomePayment  OutcomeKind = "payment"
)

// Outcome is the externally visible result of processing one webhook.
type Outcome struct {
	Kind      OutcomeKind
	PaymentID string
	Status    IntentStatus
}

func NoEffectOutcome() Outcome {
	return Outcome{Kind: OutcomeNoEffect}
}

func PaymentOutcome(paymentID string, status IntentStatus) Outcome {
	return Outcome{Kind: OutcomePayment, PaymentID: paymentID, Status: status}
}

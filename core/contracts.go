package core

import (
	"context"
	"errors"
	"time"

	glog "github.com/goliatone/go-logger/glog"
)

// ErrIntentNotFound is the only recognized absence signal for intent
// lookups. Any other lookup failure must propagate as a fetch error,
// never be downgraded to "not found".
var ErrIntentNotFound = errors.New("core: payment intent not found")

// BillingConnector is the per-provider capability interface for extracting
// normalized recovery facts from a raw webhook delivery.
type BillingConnector interface {
	ID() string
	ExtractInvoiceDetails(ctx context.Context, req WebhookRequest) (InvoiceData, error)
	ExtractAttemptDetails(ctx context.Context, req WebhookRequest) (AttemptData, error)
}

// PaymentsSyncCapable is implemented by billing connectors whose webhook
// payloads cannot be trusted to carry full data and therefore require a
// synchronous payment-status call before reconciliation.
type PaymentsSyncCapable interface {
	FetchPaymentDetails(
		ctx context.Context,
		account BillingConnectorAccount,
		connectorTransactionID string,
	) (PaymentsSyncResponse, error)
}

type ConnectorRegistry interface {
	Register(connector BillingConnector) error
	Get(connectorID string) (BillingConnector, bool)
	List() []BillingConnector
}

// IntentService is the black-box payment-intent surface the flow consumes.
type IntentService interface {
	// FetchIntentByReference resolves an intent by merchant reference id.
	// Absence is reported via ErrIntentNotFound.
	FetchIntentByReference(
		ctx context.Context,
		merchantID string,
		merchantReferenceID string,
	) (RecoveryPaymentIntent, error)
	CreateIntent(
		ctx context.Context,
		merchantID string,
		profileID string,
		invoice InvoiceData,
	) (RecoveryPaymentIntent, error)
}

// RecordAttemptInput describes an externally observed payment attempt to be
// recorded against an intent.
type RecordAttemptInput struct {
	Attempt                   AttemptData
	TriggeredBy               TriggeredBy
	BillingConnectorAccountID string
	PaymentConnectorAccount   *PaymentConnectorAccount
}

// AttemptService is the black-box payment-attempt surface the flow consumes.
type AttemptService interface {
	// FindAttempt returns the attempt on the intent matching the connector
	// transaction id, or nil when none exists.
	FindAttempt(
		ctx context.Context,
		intent RecoveryPaymentIntent,
		connectorTransactionID string,
	) (*RecoveryPaymentAttempt, error)
	// RecordAttempt persists a new attempt and returns it together with the
	// intent refreshed from the attempt outcome.
	RecordAttempt(
		ctx context.Context,
		intent RecoveryPaymentIntent,
		in RecordAttemptInput,
	) (RecoveryPaymentAttempt, RecoveryPaymentIntent, error)
}

// PaymentAccountResolver maps a connector-side account reference onto the
// merchant's own payment connector account. A nil account with nil error
// means no mapping exists, which is not fatal for externally-originated
// attempts.
type PaymentAccountResolver interface {
	ResolvePaymentAccount(
		ctx context.Context,
		account BillingConnectorAccount,
		accountReferenceID string,
	) (*PaymentConnectorAccount, error)
}

// ScheduleProvider computes the wall-clock time of the next recovery retry
// for the given merchant and attempt number.
type ScheduleProvider interface {
	NextScheduleTime(ctx context.Context, merchantID string, attemptNumber int) (time.Time, error)
}

// TaskStore is the durable task insertion port. The executor that later
// leases and runs the task is a separate system.
type TaskStore interface {
	InsertTask(ctx context.Context, task RetryTask) error
}

// TaskNotifier optionally nudges a queue or worker after a retry task has
// been durably inserted. Notification failures must never fail the webhook.
type TaskNotifier interface {
	NotifyScheduled(ctx context.Context, task RetryTask) error
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

// TransportRequest describes one outbound call through a transport adapter.
type TransportRequest struct {
	Method      string
	URL         string
	Headers     map[string]string
	Query       map[string]string
	Body        []byte
	Metadata    map[string]any
	Timeout     time.Duration
	Idempotency string
}

type TransportResponse struct {
	StatusCode int
	Headers    map[string]string
	Body       []byte
	Metadata   map[string]any
}

type TransportAdapter interface {
	Kind() string
	Do(ctx context.Context, req TransportRequest) (TransportResponse, error)
}

// WebhookHandler processes one verified webhook delivery end to end.
type WebhookHandler interface {
	Handle(ctx context.Context, account BillingConnectorAccount, req WebhookRequest) (Outcome, error)
}

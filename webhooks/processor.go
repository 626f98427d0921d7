package webhooks

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-revenue-recovery/core"
)

const (
	DeliveryStatusPending    = "pending"
	DeliveryStatusProcessing = "processing"
	DeliveryStatusProcessed  = "processed"
	DeliveryStatusRetryReady = "retry_ready"
	DeliveryStatusDead       = "dead"
)

// DeliveryRecord is one claimed billing-connector delivery in the ledger.
type DeliveryRecord struct {
	ID            string
	ClaimID       string
	ConnectorID   string
	DeliveryID    string
	Status        string
	Attempts      int
	NextAttemptAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// DeliveryLedger claims delivery ids so duplicate redeliveries from the
// billing provider short-circuit instead of re-running the recovery flow.
type DeliveryLedger interface {
	Claim(
		ctx context.Context,
		connectorID string,
		deliveryID string,
		payload []byte,
		lease time.Duration,
	) (DeliveryRecord, bool, error)
	Get(ctx context.Context, connectorID string, deliveryID string) (DeliveryRecord, error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, nextAttemptAt time.Time, maxAttempts int) error
}

// DeliveryIDExtractor derives the dedupe key for one delivery.
type DeliveryIDExtractor func(req core.WebhookRequest) (string, error)

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

type ExponentialRetryPolicy struct {
	Initial time.Duration
	Max     time.Duration
}

func (p ExponentialRetryPolicy) NextDelay(attempt int) time.Duration {
	initial := p.Initial
	if initial <= 0 {
		initial = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 30 * time.Second
	}
	delay := initial
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay > maximum {
		return maximum
	}
	return delay
}

// Result is the transport-facing outcome of one delivery.
type Result struct {
	Accepted   bool
	StatusCode int
	Outcome    core.Outcome
	Metadata   map[string]any
}

// Processor fronts the recovery flow: it rejects unverified deliveries
// before any store access, claims the delivery id for dedupe, runs the
// flow, and marks the ledger row retry-ready with a bounded exponential
// delay when the flow errors. The billing provider's redelivery remains
// the retry mechanism.
type Processor struct {
	Ledger      DeliveryLedger
	Handler     core.WebhookHandler
	ExtractID   DeliveryIDExtractor
	Burst       BurstController
	RetryPolicy RetryPolicy
	ClaimLease  time.Duration
	MaxAttempts int
	Now         func() time.Time
}

func NewProcessor(ledger DeliveryLedger, handler core.WebhookHandler) *Processor {
	return &Processor{
		Ledger:      ledger,
		Handler:     handler,
		ExtractID:   DefaultDeliveryIDExtractor,
		RetryPolicy: ExponentialRetryPolicy{},
		ClaimLease:  30 * time.Second,
		MaxAttempts: 8,
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (p *Processor) Process(
	ctx context.Context,
	account core.BillingConnectorAccount,
	req core.WebhookRequest,
) (Result, error) {
	if p == nil || p.Handler == nil || p.Ledger == nil {
		return Result{}, fmt.Errorf("webhooks: processor requires handler and ledger")
	}

	connectorID := strings.TrimSpace(account.ConnectorID)
	if connectorID == "" {
		connectorID = strings.TrimSpace(req.ConnectorID)
	}
	if connectorID == "" {
		return Result{}, fmt.Errorf("webhooks: connector id is required")
	}

	if !req.SourceVerified {
		return Result{
			Accepted:   false,
			StatusCode: http.StatusUnauthorized,
			Metadata: map[string]any{
				"connector_id": connectorID,
				"rejected":     true,
			},
		}, goerrors.New("webhook source verification failed", goerrors.CategoryAuth).
			WithCode(http.StatusUnauthorized).
			WithTextCode(core.RecoveryErrorAuthentication)
	}

	extractor := p.ExtractID
	if extractor == nil {
		extractor = DefaultDeliveryIDExtractor
	}
	deliveryID, err := extractor(req)
	if err != nil {
		return Result{}, err
	}

	delivery, claimed, err := p.Ledger.Claim(ctx, connectorID, deliveryID, req.Body, p.claimLease())
	if err != nil {
		return Result{}, err
	}
	if !claimed {
		return Result{
			Accepted:   true,
			StatusCode: http.StatusOK,
			Outcome:    core.NoEffectOutcome(),
			Metadata: map[string]any{
				"connector_id": connectorID,
				"delivery_id":  delivery.DeliveryID,
				"status":       delivery.Status,
				"deduped":      true,
			},
		}, nil
	}

	if p.Burst != nil {
		decision, burstErr := p.Burst.Allow(ctx, req)
		if burstErr != nil {
			return Result{}, burstErr
		}
		if !decision.Allow {
			// Surge suppression: the claimed row completes without running
			// the flow. The provider's redelivery outside the window still
			// lands normally.
			if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
				return Result{}, err
			}
			metadata := map[string]any{
				"connector_id": connectorID,
				"delivery_id":  deliveryID,
				"deduped":      true,
			}
			for key, value := range decision.Metadata {
				metadata[key] = value
			}
			return Result{
				Accepted:   true,
				StatusCode: http.StatusOK,
				Outcome:    core.NoEffectOutcome(),
				Metadata:   metadata,
			}, nil
		}
	}

	outcome, err := p.Handler.Handle(ctx, account, req)
	if err != nil {
		nextAttemptAt := p.now().Add(p.retryPolicy().NextDelay(delivery.Attempts))
		_ = p.Ledger.Fail(ctx, delivery.ClaimID, err, nextAttemptAt, p.maxAttempts())
		return Result{}, err
	}

	if err := p.Ledger.Complete(ctx, delivery.ClaimID); err != nil {
		return Result{}, err
	}
	return Result{
		Accepted:   true,
		StatusCode: http.StatusOK,
		Outcome:    outcome,
		Metadata: map[string]any{
			"connector_id": connectorID,
			"delivery_id":  deliveryID,
			"outcome":      string(outcome.Kind),
		},
	}, nil
}

// DefaultDeliveryIDExtractor prefers an explicit delivery id from metadata
// or headers and falls back to the event type plus the connector object
// reference, which is deterministic per delivery for every supported
// billing provider.
func DefaultDeliveryIDExtractor(req core.WebhookRequest) (string, error) {
	if req.Metadata != nil {
		for _, key := range []string{"delivery_id", "event_id"} {
			if value := strings.TrimSpace(fmt.Sprint(req.Metadata[key])); value != "" && value != "<nil>" {
				return value, nil
			}
		}
	}
	if req.Headers != nil {
		for _, key := range []string{"x-delivery-id", "webhook-id", "x-request-id"} {
			if value := headerValue(req.Headers, key); value != "" {
				return value, nil
			}
		}
	}
	objectID := strings.TrimSpace(req.ObjectReference.ID)
	if objectID != "" && req.EventType != "" {
		return string(req.EventType) + ":" + objectID, nil
	}
	return "", fmt.Errorf("webhooks: delivery id is required for dedupe")
}

func (p *Processor) now() time.Time {
	if p != nil && p.Now != nil {
		return p.Now().UTC()
	}
	return time.Now().UTC()
}

func (p *Processor) retryPolicy() RetryPolicy {
	if p != nil && p.RetryPolicy != nil {
		return p.RetryPolicy
	}
	return ExponentialRetryPolicy{}
}

func (p *Processor) claimLease() time.Duration {
	if p != nil && p.ClaimLease > 0 {
		return p.ClaimLease
	}
	return 30 * time.Second
}

func (p *Processor) maxAttempts() int {
	if p != nil && p.MaxAttempts > 0 {
		return p.MaxAttempts
	}
	return 8
}

func headerValue(headers map[string]string, key string) string {
	if len(headers) == 0 {
		return ""
	}
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

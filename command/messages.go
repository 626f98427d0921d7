package command

import (
	"strings"

	"github.com/goliatone/go-revenue-recovery/core"
)

const (
	TypeProcessWebhook         = "recovery.command.webhook.process"
	TypeUpsertRetryMapping     = "recovery.command.retry_mapping.upsert"
	TypeInvalidateRetryMapping = "recovery.command.retry_mapping.invalidate"
)

// ProcessWebhookMessage carries a single billing-connector delivery through
// the reconciliation flow on behalf of the merchant account it targets.
type ProcessWebhookMessage struct {
	Account core.BillingConnectorAccount
	Request core.WebhookRequest
}

func (ProcessWebhookMessage) Type() string { return TypeProcessWebhook }

func (m ProcessWebhookMessage) Validate() error {
	if strings.TrimSpace(m.Account.ConnectorID) == "" && strings.TrimSpace(m.Request.ConnectorID) == "" {
		return commandValidationError("connector_id", "connector id is required")
	}
	if strings.TrimSpace(m.Account.MerchantID) == "" {
		return commandValidationError("merchant_id", "merchant id is required")
	}
	if strings.TrimSpace(string(m.Request.EventType)) == "" {
		return commandValidationError("event_type", "event type is required")
	}
	return nil
}

type UpsertRetryMappingMessage struct {
	MerchantID string
	Mapping    core.RetryMappingConfig
}

func (UpsertRetryMappingMessage) Type() string { return TypeUpsertRetryMapping }

func (m UpsertRetryMappingMessage) Validate() error {
	if strings.TrimSpace(m.MerchantID) == "" {
		return commandValidationError("merchant_id", "merchant id is required")
	}
	if err := m.Mapping.Validate(); err != nil {
		return commandWrapValidation(err, "command: retry mapping is invalid")
	}
	return nil
}

type InvalidateRetryMappingMessage struct {
	MerchantID string
}

func (InvalidateRetryMappingMessage) Type() string { return TypeInvalidateRetryMapping }

func (m InvalidateRetryMappingMessage) Validate() error {
	if strings.TrimSpace(m.MerchantID) == "" {
		return commandValidationError("merchant_id", "merchant id is required")
	}
	return nil
}

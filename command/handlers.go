package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"
	"github.com/goliatone/go-revenue-recovery/core"
	"github.com/goliatone/go-revenue-recovery/webhooks"
)

// WebhookProcessingService is the mutating surface exposed by the facade for
// inbound billing-connector deliveries.
type WebhookProcessingService interface {
	ProcessWebhook(ctx context.Context, account core.BillingConnectorAccount, req core.WebhookRequest) (webhooks.Result, error)
}

// RetryMappingService manages merchant retry-schedule overrides.
type RetryMappingService interface {
	UpsertRetryMapping(ctx context.Context, merchantID string, mapping core.RetryMappingConfig) error
	InvalidateRetryMapping(ctx context.Context, merchantID string) error
}

type ProcessWebhookCommand struct {
	service WebhookProcessingService
}

func NewProcessWebhookCommand(service WebhookProcessingService) *ProcessWebhookCommand {
	return &ProcessWebhookCommand{service: service}
}

func (c *ProcessWebhookCommand) Execute(ctx context.Context, msg ProcessWebhookMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: webhook processing service is required")
	}
	out, err := c.service.ProcessWebhook(ctx, msg.Account, msg.Request)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type UpsertRetryMappingCommand struct {
	service RetryMappingService
}

func NewUpsertRetryMappingCommand(service RetryMappingService) *UpsertRetryMappingCommand {
	return &UpsertRetryMappingCommand{service: service}
}

func (c *UpsertRetryMappingCommand) Execute(ctx context.Context, msg UpsertRetryMappingMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: retry mapping service is required")
	}
	return c.service.UpsertRetryMapping(ctx, msg.MerchantID, msg.Mapping)
}

type InvalidateRetryMappingCommand struct {
	service RetryMappingService
}

func NewInvalidateRetryMappingCommand(service RetryMappingService) *InvalidateRetryMappingCommand {
	return &InvalidateRetryMappingCommand{service: service}
}

func (c *InvalidateRetryMappingCommand) Execute(ctx context.Context, msg InvalidateRetryMappingMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: retry mapping service is required")
	}
	return c.service.InvalidateRetryMapping(ctx, msg.MerchantID)
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}

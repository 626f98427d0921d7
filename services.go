package revenuerecovery

import (
	"github.com/goliatone/go-revenue-recovery/core"
	"github.com/goliatone/go-revenue-recovery/webhooks"
)

// Root-level aliases so integrators can wire the module without importing
// every subpackage.

type Config = core.Config

type RetryMappingConfig = core.RetryMappingConfig

type WebhookRequest = core.WebhookRequest

type BillingConnectorAccount = core.BillingConnectorAccount

type BillingConnector = core.BillingConnector

type IntentService = core.IntentService

type AttemptService = core.AttemptService

type PaymentAccountResolver = core.PaymentAccountResolver

type TaskNotifier = core.TaskNotifier

type MetricsRecorder = core.MetricsRecorder

type Outcome = core.Outcome

type Result = webhooks.Result

func DefaultConfig() Config {
	return core.DefaultConfig()
}

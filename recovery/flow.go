package recovery

import (
	"context"
	"strings"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-revenue-recovery/core"
)

// Flow is the top-level recovery webhook state machine:
// Received -> Authenticated -> (SyncFetched?) -> IntentResolved ->
// (AttemptResolved?) -> Classified -> {NoEffect | Scheduled | Failed}.
// Remote calls run sequentially, each depending on the previous result;
// nothing is retried in-flow. A failure aborts the delivery with a typed
// error and the billing provider's redelivery is the retry mechanism.
type Flow struct {
	config    core.Config
	logger    core.Logger
	metrics   core.MetricsRecorder
	registry  core.ConnectorRegistry
	sync      *SyncClient
	invoices  *InvoiceReconciler
	attempts  *AttemptReconciler
	scheduler *Scheduler
}

type flowBuilder struct {
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	metricsRecorder core.MetricsRecorder
	registry        core.ConnectorRegistry
	intents         core.IntentService
	attempts        core.AttemptService
	accounts        core.PaymentAccountResolver
	schedule        core.ScheduleProvider
	taskStore       core.TaskStore
	taskNotifier    core.TaskNotifier
}

type Option func(*flowBuilder)

func WithLogger(logger core.Logger) Option {
	return func(b *flowBuilder) { b.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *flowBuilder) { b.loggerProvider = provider }
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *flowBuilder) { b.metricsRecorder = recorder }
}

func WithConnectorRegistry(registry core.ConnectorRegistry) Option {
	return func(b *flowBuilder) { b.registry = registry }
}

func WithIntentService(intents core.IntentService) Option {
	return func(b *flowBuilder) { b.intents = intents }
}

func WithAttemptService(attempts core.AttemptService) Option {
	return func(b *flowBuilder) { b.attempts = attempts }
}

func WithPaymentAccountResolver(resolver core.PaymentAccountResolver) Option {
	return func(b *flowBuilder) { b.accounts = resolver }
}

func WithScheduleProvider(provider core.ScheduleProvider) Option {
	return func(b *flowBuilder) { b.schedule = provider }
}

func WithTaskStore(store core.TaskStore) Option {
	return func(b *flowBuilder) { b.taskStore = store }
}

func WithTaskNotifier(notifier core.TaskNotifier) Option {
	return func(b *flowBuilder) { b.taskNotifier = notifier }
}

func New(cfg core.Config, opts ...Option) (*Flow, error) {
	builder := flowBuilder{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("recovery", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("recovery"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if builder.registry == nil {
		builder.registry = core.NewBillingConnectorRegistry()
	}
	if builder.metricsRecorder == nil {
		builder.metricsRecorder = core.NopMetricsRecorder{}
	}
	if builder.intents == nil {
		return nil, missingDependencyError("intent service")
	}
	if builder.attempts == nil {
		return nil, missingDependencyError("attempt service")
	}
	if builder.schedule == nil {
		return nil, missingDependencyError("schedule provider")
	}
	if builder.taskStore == nil {
		return nil, missingDependencyError("task store")
	}

	return &Flow{
		config:   cfg,
		logger:   logger,
		metrics:  builder.metricsRecorder,
		registry: builder.registry,
		sync:     NewSyncClient(cfg, logger),
		invoices: NewInvoiceReconciler(builder.intents, logger),
		attempts: NewAttemptReconciler(builder.attempts, builder.accounts, logger),
		scheduler: NewScheduler(
			builder.schedule,
			builder.taskStore,
			builder.taskNotifier,
			builder.metricsRecorder,
			logger,
		),
	}, nil
}

// ProcessWebhook runs one verified delivery through the full recovery flow.
func (f *Flow) ProcessWebhook(
	ctx context.Context,
	account core.BillingConnectorAccount,
	req core.WebhookRequest,
) (core.Outcome, error) {
	startedAt := time.Now()
	outcome, err := f.process(ctx, account, req)
	f.observeOperation(ctx, startedAt, "process_webhook", err, map[string]any{
		"merchant_id":  account.MerchantID,
		"connector_id": account.ConnectorID,
		"event_type":   string(req.EventType),
		"outcome":      string(outcome.Kind),
	})
	return outcome, err
}

func (f *Flow) process(
	ctx context.Context,
	account core.BillingConnectorAccount,
	req core.WebhookRequest,
) (core.Outcome, error) {
	if !req.SourceVerified {
		return core.Outcome{}, authenticationError(map[string]any{
			"connector_id": account.ConnectorID,
		})
	}

	connectorID := strings.TrimSpace(account.ConnectorID)
	if connectorID == "" {
		connectorID = strings.TrimSpace(req.ConnectorID)
	}
	connector, ok := f.registry.Get(connectorID)
	if !ok {
		return core.Outcome{}, connectorNotFoundError(connectorID)
	}

	sync, err := f.sync.Fetch(ctx, connector, account, req)
	if err != nil {
		return core.Outcome{}, err
	}

	intent, err := f.invoices.Reconcile(ctx, connector, account, req, sync)
	if err != nil {
		return core.Outcome{}, err
	}

	var attempt *core.RecoveryPaymentAttempt
	if req.EventType.IsRecoveryTransactionEvent() {
		resolved, updatedIntent, err := f.attempts.Reconcile(ctx, connector, account, intent, req, sync)
		if err != nil {
			return core.Outcome{}, err
		}
		attempt = &resolved
		intent = updatedIntent
	}

	var triggeredBy *core.TriggeredBy
	if attempt != nil {
		triggeredBy = attempt.TriggeredBy()
	}
	action := core.ActionForEvent(req.EventType, triggeredBy)

	return f.act(ctx, action, account, intent, attempt)
}

func (f *Flow) act(
	ctx context.Context,
	action core.RecoveryAction,
	account core.BillingConnectorAccount,
	intent core.RecoveryPaymentIntent,
	attempt *core.RecoveryPaymentAttempt,
) (core.Outcome, error) {
	switch action {
	case core.ActionScheduleFailedPayment:
		return f.scheduler.Schedule(ctx, account, intent, attempt)
	case core.ActionSuccessPaymentExternal:
		f.logger.Info("payment succeeded through the billing connector",
			"payment_intent_id", intent.ID,
			"intent_status", string(intent.Status),
		)
		return core.NoEffectOutcome(), nil
	case core.ActionPendingPayment:
		f.logger.Info("payment still pending on the billing connector",
			"payment_intent_id", intent.ID,
		)
		return core.NoEffectOutcome(), nil
	case core.ActionCancelInvoice:
		// Invoice cancellation is observed but not acted on here; the
		// workflow executor owns tearing down any pending retry task.
		f.logger.Error("invoice cancelled by the billing connector",
			"payment_intent_id", intent.ID,
		)
		return core.NoEffectOutcome(), nil
	case core.ActionNoAction:
		return core.NoEffectOutcome(), nil
	default:
		f.logger.Error("unrecognized event and trigger combination",
			"payment_intent_id", intent.ID,
			"action", string(action),
		)
		return core.NoEffectOutcome(), nil
	}
}

var _ core.WebhookHandler = flowHandler{}

type flowHandler struct {
	flow *Flow
}

// Handler adapts the flow to the core.WebhookHandler port.
func (f *Flow) Handler() core.WebhookHandler {
	return flowHandler{flow: f}
}

func (h flowHandler) Handle(
	ctx context.Context,
	account core.BillingConnectorAccount,
	req core.WebhookRequest,
) (core.Outcome, error) {
	return h.flow.ProcessWebhook(ctx, account, req)
}

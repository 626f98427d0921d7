package revenuerecovery

import (
	"context"
	"fmt"

	glog "github.com/goliatone/go-logger/glog"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/goliatone/go-revenue-recovery/command"
	"github.com/goliatone/go-revenue-recovery/connectors/chargebee"
	"github.com/goliatone/go-revenue-recovery/connectors/recurly"
	"github.com/goliatone/go-revenue-recovery/core"
	"github.com/goliatone/go-revenue-recovery/recovery"
	"github.com/goliatone/go-revenue-recovery/schedule"
	sqlstore "github.com/goliatone/go-revenue-recovery/store/sql"
	"github.com/goliatone/go-revenue-recovery/transport"
	"github.com/goliatone/go-revenue-recovery/webhooks"
)

// Service is the assembled revenue-recovery engine: durable stores, the
// webhook intake processor, the recovery flow, and the command surface,
// wired from one configuration.
type Service struct {
	config     core.Config
	logger     core.Logger
	registry   core.ConnectorRegistry
	flow       *recovery.Flow
	processor  *webhooks.Processor
	stores     *sqlstore.RepositoryFactory
	schedule   *schedule.Provider
	mappings   schedule.MappingResolver
	cached     *sqlstore.CachedRetryMappingStore
	transports *transport.Registry
	commands   Commands
}

// Commands is the go-command surface backed by the service.
type Commands struct {
	ProcessWebhook         *command.ProcessWebhookCommand
	UpsertRetryMapping     *command.UpsertRetryMappingCommand
	InvalidateRetryMapping *command.InvalidateRetryMappingCommand
}

type serviceBuilder struct {
	persistence     any
	intents         core.IntentService
	attempts        core.AttemptService
	accounts        core.PaymentAccountResolver
	taskNotifier    core.TaskNotifier
	logger          core.Logger
	loggerProvider  core.LoggerProvider
	metrics         core.MetricsRecorder
	registry        core.ConnectorRegistry
	connectors      []core.BillingConnector
	mappingCache    repositorycache.CacheService
	transport       core.TransportAdapter
	transports      *transport.Registry
	burst           webhooks.BurstController
	configProvider  core.ConfigProvider
	optionsResolver core.OptionsResolver
	skipDefaults    bool
}

type Option func(*serviceBuilder)

// WithPersistence accepts a go-persistence-bun client or a *bun.DB; the
// repository factory resolves either.
func WithPersistence(client any) Option {
	return func(b *serviceBuilder) { b.persistence = client }
}

func WithIntentService(intents core.IntentService) Option {
	return func(b *serviceBuilder) { b.intents = intents }
}

func WithAttemptService(attempts core.AttemptService) Option {
	return func(b *serviceBuilder) { b.attempts = attempts }
}

func WithPaymentAccountResolver(resolver core.PaymentAccountResolver) Option {
	return func(b *serviceBuilder) { b.accounts = resolver }
}

func WithTaskNotifier(notifier core.TaskNotifier) Option {
	return func(b *serviceBuilder) { b.taskNotifier = notifier }
}

func WithLogger(logger core.Logger) Option {
	return func(b *serviceBuilder) { b.logger = logger }
}

func WithLoggerProvider(provider core.LoggerProvider) Option {
	return func(b *serviceBuilder) { b.loggerProvider = provider }
}

func WithMetricsRecorder(recorder core.MetricsRecorder) Option {
	return func(b *serviceBuilder) { b.metrics = recorder }
}

func WithConnectorRegistry(registry core.ConnectorRegistry) Option {
	return func(b *serviceBuilder) { b.registry = registry }
}

// WithConnectors registers additional billing connectors on top of the
// built-in chargebee and recurly ones.
func WithConnectors(connectors ...core.BillingConnector) Option {
	return func(b *serviceBuilder) {
		b.connectors = append(b.connectors, connectors...)
	}
}

// WithoutDefaultConnectors skips the built-in chargebee and recurly
// registrations, leaving connector wiring entirely to the caller.
func WithoutDefaultConnectors() Option {
	return func(b *serviceBuilder) { b.skipDefaults = true }
}

// WithMappingCache fronts retry-mapping reads with a cache service.
func WithMappingCache(cacheService repositorycache.CacheService) Option {
	return func(b *serviceBuilder) { b.mappingCache = cacheService }
}

// WithTransportAdapter overrides the REST transport used by sync-capable
// connectors.
func WithTransportAdapter(adapter core.TransportAdapter) Option {
	return func(b *serviceBuilder) { b.transport = adapter }
}

// WithTransportRegistry supplies the transport registry sync-capable
// connectors resolve their adapters from. Kinds missing from the registry
// resolve to an unsupported adapter that fails the sync call.
func WithTransportRegistry(registry *transport.Registry) Option {
	return func(b *serviceBuilder) { b.transports = registry }
}

// WithBurstController suppresses rapid redeliveries of the same invoice
// between the ledger claim and the recovery flow.
func WithBurstController(controller webhooks.BurstController) Option {
	return func(b *serviceBuilder) { b.burst = controller }
}

func WithConfigProvider(provider core.ConfigProvider) Option {
	return func(b *serviceBuilder) { b.configProvider = provider }
}

func WithOptionsResolver(resolver core.OptionsResolver) Option {
	return func(b *serviceBuilder) { b.optionsResolver = resolver }
}

// New assembles a Service from an already-resolved configuration.
func New(cfg core.Config, opts ...Option) (*Service, error) {
	builder := serviceBuilder{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if builder.persistence == nil {
		return nil, fmt.Errorf("revenuerecovery: persistence client is required")
	}
	if builder.intents == nil {
		return nil, fmt.Errorf("revenuerecovery: intent service is required")
	}
	if builder.attempts == nil {
		return nil, fmt.Errorf("revenuerecovery: attempt service is required")
	}

	_, logger := glog.Resolve("revenue-recovery", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)

	stores := sqlstore.NewRepositoryFactory()
	if err := stores.BuildStores(builder.persistence); err != nil {
		return nil, err
	}

	var mappings schedule.MappingResolver = stores.RetryMappingStore()
	var cached *sqlstore.CachedRetryMappingStore
	if builder.mappingCache != nil {
		wrapped, err := sqlstore.NewCachedRetryMappingStore(mappings, builder.mappingCache)
		if err != nil {
			return nil, err
		}
		cached = wrapped
		mappings = wrapped
	}

	scheduleProvider := schedule.NewProvider(
		schedule.MappingFromConfig(cfg.RetryMapping),
		schedule.WithMappingResolver(mappings),
		schedule.WithLogger(logger),
	)

	transports := builder.transports
	if transports == nil {
		transports = transport.NewDefaultRegistry()
	}
	if builder.transport != nil {
		if _, exists := transports.Get(builder.transport.Kind()); !exists {
			if err := transports.Register(builder.transport); err != nil {
				return nil, err
			}
		}
	}

	registry := builder.registry
	if registry == nil {
		registry = core.NewBillingConnectorRegistry()
	}
	if !builder.skipDefaults {
		restAdapter := builder.transport
		if restAdapter == nil {
			restAdapter = resolveTransport(transports, transport.KindREST)
		}
		defaults := []core.BillingConnector{
			chargebee.New(),
			recurly.New(restAdapter),
		}
		for _, connector := range defaults {
			if _, exists := registry.Get(connector.ID()); exists {
				continue
			}
			if err := registry.Register(connector); err != nil {
				return nil, err
			}
		}
	}
	for _, connector := range builder.connectors {
		if connector == nil {
			continue
		}
		if err := registry.Register(connector); err != nil {
			return nil, err
		}
	}

	flow, err := recovery.New(cfg,
		recovery.WithLogger(logger),
		recovery.WithLoggerProvider(builder.loggerProvider),
		recovery.WithMetricsRecorder(builder.metrics),
		recovery.WithConnectorRegistry(registry),
		recovery.WithIntentService(builder.intents),
		recovery.WithAttemptService(builder.attempts),
		recovery.WithPaymentAccountResolver(builder.accounts),
		recovery.WithScheduleProvider(scheduleProvider),
		recovery.WithTaskStore(stores.ProcessTrackerStore()),
		recovery.WithTaskNotifier(builder.taskNotifier),
	)
	if err != nil {
		return nil, err
	}

	processor := webhooks.NewProcessor(stores.DeliveryStore(), flow.Handler())
	processor.Burst = builder.burst

	service := &Service{
		config:     cfg,
		logger:     logger,
		registry:   registry,
		flow:       flow,
		processor:  processor,
		stores:     stores,
		schedule:   scheduleProvider,
		mappings:   mappings,
		cached:     cached,
		transports: transports,
	}
	service.commands = Commands{
		ProcessWebhook:         command.NewProcessWebhookCommand(service),
		UpsertRetryMapping:     command.NewUpsertRetryMappingCommand(service),
		InvalidateRetryMapping: command.NewInvalidateRetryMappingCommand(service),
	}
	return service, nil
}

// Setup resolves configuration through the cfgx provider and go-options
// layering before assembling the service: defaults < loaded < runtime.
func Setup(ctx context.Context, runtime core.Config, opts ...Option) (*Service, error) {
	builder := serviceBuilder{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}
	cfg, err := core.ResolveConfig(ctx, builder.configProvider, builder.optionsResolver, runtime)
	if err != nil {
		return nil, err
	}
	return New(cfg, opts...)
}

// ProcessWebhook runs one delivery through intake and the recovery flow.
func (s *Service) ProcessWebhook(
	ctx context.Context,
	account core.BillingConnectorAccount,
	req core.WebhookRequest,
) (webhooks.Result, error) {
	if s == nil || s.processor == nil {
		return webhooks.Result{}, fmt.Errorf("revenuerecovery: service is not assembled")
	}
	return s.processor.Process(ctx, account, req)
}

// UpsertRetryMapping stores the merchant's backoff mapping and drops any
// cached copy so the next scheduling decision sees the new buckets.
func (s *Service) UpsertRetryMapping(
	ctx context.Context,
	merchantID string,
	mapping core.RetryMappingConfig,
) error {
	if s == nil || s.stores == nil {
		return fmt.Errorf("revenuerecovery: service is not assembled")
	}
	if err := s.stores.RetryMappingStore().UpsertMapping(ctx, merchantID, mapping); err != nil {
		return err
	}
	return s.InvalidateRetryMapping(ctx, merchantID)
}

// InvalidateRetryMapping drops the cached mapping for the merchant. A
// service assembled without a cache treats this as a no-op.
func (s *Service) InvalidateRetryMapping(ctx context.Context, merchantID string) error {
	if s == nil {
		return fmt.Errorf("revenuerecovery: service is not assembled")
	}
	if s.cached == nil {
		return nil
	}
	return s.cached.Invalidate(ctx, merchantID)
}

func (s *Service) Commands() Commands {
	if s == nil {
		return Commands{}
	}
	return s.commands
}

func (s *Service) Config() core.Config {
	if s == nil {
		return core.Config{}
	}
	return s.config
}

func (s *Service) Flow() *recovery.Flow {
	if s == nil {
		return nil
	}
	return s.flow
}

func (s *Service) Processor() *webhooks.Processor {
	if s == nil {
		return nil
	}
	return s.processor
}

func (s *Service) Stores() *sqlstore.RepositoryFactory {
	if s == nil {
		return nil
	}
	return s.stores
}

func (s *Service) ScheduleProvider() *schedule.Provider {
	if s == nil {
		return nil
	}
	return s.schedule
}

func (s *Service) Connectors() core.ConnectorRegistry {
	if s == nil {
		return nil
	}
	return s.registry
}

func (s *Service) Transports() *transport.Registry {
	if s == nil {
		return nil
	}
	return s.transports
}

// resolveTransport looks the kind up on the registry; an unconfigured kind
// resolves to an adapter whose calls fail with a configuration error.
func resolveTransport(registry *transport.Registry, kind string) core.TransportAdapter {
	if adapter, ok := registry.Get(kind); ok {
		return adapter
	}
	return transport.NewUnsupportedAdapter(kind, "register an adapter for this kind on the transport registry")
}

var (
	_ command.WebhookProcessingService = (*Service)(nil)
	_ command.RetryMappingService      = (*Service)(nil)
)

package revenuerecovery_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	revenuerecovery "github.com/goliatone/go-revenue-recovery"
	"github.com/goliatone/go-revenue-recovery/connectors/devkit"
	"github.com/goliatone/go-revenue-recovery/core"
	recoverymigrations "github.com/goliatone/go-revenue-recovery/migrations"
	"github.com/goliatone/go-revenue-recovery/recovery"
	"github.com/goliatone/go-revenue-recovery/transport"
	"github.com/goliatone/go-revenue-recovery/webhooks"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool                 { return false }
func (c testPersistenceConfig) GetDriver() string              { return c.driver }
func (c testPersistenceConfig) GetServer() string              { return c.server }
func (c testPersistenceConfig) GetPingTimeout() time.Duration  { return time.Second }
func (c testPersistenceConfig) GetOtelIdentifier() string      { return "go-revenue-recovery-tests" }

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:facade-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	client, err := persistence.New(testPersistenceConfig{driver: "sqlite3", server: dsn}, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = recoverymigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != recoverymigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, recoverymigrations.WithValidationTargets(recoverymigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

type stubIntentService struct {
	fetchCalls int
	intent     core.RecoveryPaymentIntent
}

func (s *stubIntentService) FetchIntentByReference(
	_ context.Context,
	_ string,
	_ string,
) (core.RecoveryPaymentIntent, error) {
	s.fetchCalls++
	return s.intent, nil
}

func (s *stubIntentService) CreateIntent(
	_ context.Context,
	_ string,
	_ string,
	_ core.InvoiceData,
) (core.RecoveryPaymentIntent, error) {
	return s.intent, nil
}

type stubAttemptService struct {
	attempt core.RecoveryPaymentAttempt
}

func (s *stubAttemptService) FindAttempt(
	_ context.Context,
	_ core.RecoveryPaymentIntent,
	_ string,
) (*core.RecoveryPaymentAttempt, error) {
	return nil, nil
}

func (s *stubAttemptService) RecordAttempt(
	_ context.Context,
	intent core.RecoveryPaymentIntent,
	_ core.RecordAttemptInput,
) (core.RecoveryPaymentAttempt, core.RecoveryPaymentIntent, error) {
	return s.attempt, intent, nil
}

func intPtr(v int) *int { return &v }

func failureConnector() *devkit.Connector {
	return &devkit.Connector{
		InvoiceFn: func(_ context.Context, _ core.WebhookRequest) (core.InvoiceData, error) {
			return core.InvoiceData{MerchantReferenceID: "inv_1", AmountMinor: 2500, Currency: "USD"}, nil
		},
		AttemptFn: func(_ context.Context, _ core.WebhookRequest) (core.AttemptData, error) {
			return core.AttemptData{
				ConnectorTransactionID: "txn_1",
				Status:                 core.AttemptStatusFailure,
			}, nil
		},
	}
}

func newTestService(
	t *testing.T,
	client *persistence.Client,
	intents *stubIntentService,
	extra ...revenuerecovery.Option,
) *revenuerecovery.Service {
	t.Helper()

	attempts := &stubAttemptService{
		attempt: core.RecoveryPaymentAttempt{
			ID: "pa_1",
			FeatureMetadata: &core.AttemptFeatureMetadata{
				RevenueRecovery: &core.AttemptRevenueRecoveryMetadata{
					AttemptTriggeredBy: core.TriggeredByExternal,
				},
			},
		},
	}

	opts := []revenuerecovery.Option{
		revenuerecovery.WithPersistence(client),
		revenuerecovery.WithIntentService(intents),
		revenuerecovery.WithAttemptService(attempts),
		revenuerecovery.WithoutDefaultConnectors(),
		revenuerecovery.WithConnectors(failureConnector()),
	}
	opts = append(opts, extra...)

	service, err := revenuerecovery.New(revenuerecovery.DefaultConfig(), opts...)
	if err != nil {
		t.Fatalf("assemble service: %v", err)
	}
	return service
}

func TestService_ProcessWebhookSchedulesRetryTask(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	intents := &stubIntentService{
		intent: core.RecoveryPaymentIntent{
			ID:     "pi_fac_1",
			Status: core.IntentStatusFailed,
			FeatureMetadata: &core.IntentFeatureMetadata{
				RevenueRecovery: &core.IntentRevenueRecoveryMetadata{
					TotalRetryCount: intPtr(1),
				},
			},
		},
	}
	service := newTestService(t, client, intents)

	account := core.BillingConnectorAccount{
		ID:             "bca_1",
		MerchantID:     "merchant_1",
		ProfileID:      "profile_1",
		ConnectorID:    "devkit",
		RetryThreshold: intPtr(5),
	}
	req := core.WebhookRequest{
		SourceVerified: true,
		EventType:      core.EventTypeRecoveryPaymentFailure,
		Metadata:       map[string]any{"delivery_id": "wh_fac_1"},
	}

	result, err := service.ProcessWebhook(ctx, account, req)
	if err != nil {
		t.Fatalf("process webhook: %v", err)
	}
	if !result.Accepted || result.StatusCode != 200 {
		t.Fatalf("expected accepted 200 result, got %+v", result)
	}
	if result.Outcome.Kind != core.OutcomePayment || result.Outcome.PaymentID != "pi_fac_1" {
		t.Fatalf("expected payment outcome for the intent, got %+v", result.Outcome)
	}

	task, err := service.Stores().ProcessTrackerStore().GetTask(ctx, recovery.TaskID("pi_fac_1"))
	if err != nil {
		t.Fatalf("load scheduled task: %v", err)
	}
	if task.RetryCount != 1 {
		t.Fatalf("expected retry count carried onto the task, got %d", task.RetryCount)
	}
	if task.TrackingData.PaymentAttemptID != "pa_1" {
		t.Fatalf("expected attempt id in tracking data, got %+v", task.TrackingData)
	}

	deduped, err := service.ProcessWebhook(ctx, account, req)
	if err != nil {
		t.Fatalf("redeliver webhook: %v", err)
	}
	if deduped.Metadata["deduped"] != true {
		t.Fatalf("expected redelivery to be deduped, got %+v", deduped.Metadata)
	}
	if intents.fetchCalls != 1 {
		t.Fatalf("dedupe must not re-run the flow, got %d fetches", intents.fetchCalls)
	}
}

func TestService_UnverifiedDeliveryRejected(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	intents := &stubIntentService{intent: core.RecoveryPaymentIntent{ID: "pi_fac_2"}}
	service := newTestService(t, client, intents)

	result, err := service.ProcessWebhook(context.Background(), core.BillingConnectorAccount{
		ConnectorID: "devkit",
	}, core.WebhookRequest{
		EventType: core.EventTypeRecoveryPaymentFailure,
		Metadata:  map[string]any{"delivery_id": "wh_fac_2"},
	})
	if err == nil {
		t.Fatal("expected rejection for unverified delivery")
	}
	if !core.HasRecoveryCode(err, core.RecoveryErrorAuthentication) {
		t.Fatalf("expected authentication text code, got %v", err)
	}
	if result.Accepted || result.StatusCode != 401 {
		t.Fatalf("expected 401 rejection, got %+v", result)
	}
	if intents.fetchCalls != 0 {
		t.Fatal("rejected deliveries must not reach the flow")
	}
}

func TestService_UpsertRetryMappingDrivesSchedule(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	intents := &stubIntentService{intent: core.RecoveryPaymentIntent{ID: "pi_fac_3"}}
	service := newTestService(t, client, intents)

	if err := service.UpsertRetryMapping(ctx, "merchant_2", core.RetryMappingConfig{
		StartAfterSeconds: 600,
		FrequencySeconds:  []int64{1200},
		Counts:            []int64{3},
	}); err != nil {
		t.Fatalf("upsert retry mapping: %v", err)
	}

	before := time.Now().UTC()
	at, err := service.ScheduleProvider().NextScheduleTime(ctx, "merchant_2", 1)
	if err != nil {
		t.Fatalf("next schedule time: %v", err)
	}
	delay := at.Sub(before)
	if delay < 9*time.Minute || delay > 11*time.Minute {
		t.Fatalf("expected merchant mapping start-after of 10m, got %v", delay)
	}

	// A merchant without a mapping falls back to the configured default.
	at, err = service.ScheduleProvider().NextScheduleTime(ctx, "merchant_without_mapping", 1)
	if err != nil {
		t.Fatalf("fallback schedule time: %v", err)
	}
	delay = at.Sub(before)
	if delay < 59*time.Minute || delay > 61*time.Minute {
		t.Fatalf("expected default start-after of 1h, got %v", delay)
	}
}

// Distinct delivery ids within the window land fresh ledger claims; the
// burst controller still coalesces them onto one flow run.
func TestService_BurstControllerSuppressesRedeliveries(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	intents := &stubIntentService{
		intent: core.RecoveryPaymentIntent{
			ID:     "pi_fac_5",
			Status: core.IntentStatusFailed,
			FeatureMetadata: &core.IntentFeatureMetadata{
				RevenueRecovery: &core.IntentRevenueRecoveryMetadata{
					TotalRetryCount: intPtr(1),
				},
			},
		},
	}
	service := newTestService(t, client, intents,
		revenuerecovery.WithBurstController(webhooks.NewBurstController(webhooks.BurstOptions{
			Mode:   webhooks.BurstModeCoalesce,
			Window: time.Minute,
		})),
	)

	account := core.BillingConnectorAccount{
		ID:             "bca_1",
		MerchantID:     "merchant_1",
		ProfileID:      "profile_1",
		ConnectorID:    "devkit",
		RetryThreshold: intPtr(5),
	}
	base := core.WebhookRequest{
		ConnectorID:     "devkit",
		SourceVerified:  true,
		EventType:       core.EventTypeRecoveryPaymentFailure,
		ObjectReference: core.ObjectReference{Kind: core.ObjectReferenceTransaction, ID: "txn_1"},
	}

	first := base
	first.Headers = map[string]string{"Webhook-Id": "wh_burst_1"}
	if _, err := service.ProcessWebhook(ctx, account, first); err != nil {
		t.Fatalf("process first delivery: %v", err)
	}
	if intents.fetchCalls != 1 {
		t.Fatalf("fetch calls = %d, want 1", intents.fetchCalls)
	}

	second := base
	second.Headers = map[string]string{"Webhook-Id": "wh_burst_2"}
	result, err := service.ProcessWebhook(ctx, account, second)
	if err != nil {
		t.Fatalf("process coalesced delivery: %v", err)
	}
	if result.Metadata["deduped"] != true || result.Metadata["coalesced"] != true {
		t.Fatalf("expected dedupe and coalesce markers, got %v", result.Metadata)
	}
	if result.Outcome.Kind != core.OutcomeNoEffect {
		t.Fatalf("coalesced outcome = %q, want no effect", result.Outcome.Kind)
	}
	if intents.fetchCalls != 1 {
		t.Fatalf("coalesced delivery re-ran the flow, fetch calls = %d", intents.fetchCalls)
	}
}

// Sync-capable connectors resolve their transport from the registry; a
// registry without a rest adapter leaves recurly with one that fails the
// sync call.
func TestService_TransportRegistryResolvesSyncAdapter(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	intents := &stubIntentService{intent: core.RecoveryPaymentIntent{ID: "pi_fac_6"}}
	service, err := revenuerecovery.New(revenuerecovery.DefaultConfig(),
		revenuerecovery.WithPersistence(client),
		revenuerecovery.WithIntentService(intents),
		revenuerecovery.WithAttemptService(&stubAttemptService{}),
		revenuerecovery.WithTransportRegistry(transport.NewRegistry()),
	)
	if err != nil {
		t.Fatalf("assemble service: %v", err)
	}

	if _, ok := service.Transports().Get(transport.KindREST); ok {
		t.Fatal("expected the supplied registry to carry no rest adapter")
	}
	connector, ok := service.Connectors().Get("recurly")
	if !ok {
		t.Fatal("expected the recurly connector to be registered")
	}
	capable, ok := connector.(core.PaymentsSyncCapable)
	if !ok {
		t.Fatal("expected recurly to be sync capable")
	}
	if _, err := capable.FetchPaymentDetails(context.Background(), core.BillingConnectorAccount{ID: "bca_1"}, "txn_1"); err == nil {
		t.Fatal("expected the unconfigured transport kind to fail the sync call")
	} else if !core.HasRecoveryCode(err, core.RecoveryErrorBillingSync) {
		t.Fatalf("expected %s, got %v", core.RecoveryErrorBillingSync, err)
	}

	// Default assembly carries the rest adapter on the registry.
	fallback := newTestService(t, client, intents)
	if _, ok := fallback.Transports().Get(transport.KindREST); !ok {
		t.Fatal("expected the default registry to carry the rest adapter")
	}
}

func TestService_CommandsDispatchThroughFacade(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	intents := &stubIntentService{intent: core.RecoveryPaymentIntent{ID: "pi_fac_4"}}
	service := newTestService(t, client, intents)

	commands := service.Commands()
	if commands.ProcessWebhook == nil || commands.UpsertRetryMapping == nil || commands.InvalidateRetryMapping == nil {
		t.Fatalf("expected assembled command surface, got %+v", commands)
	}
}

func TestNew_RequiresDependencies(t *testing.T) {
	if _, err := revenuerecovery.New(revenuerecovery.DefaultConfig()); err == nil {
		t.Fatal("expected error without persistence client")
	}

	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	if _, err := revenuerecovery.New(revenuerecovery.DefaultConfig(),
		revenuerecovery.WithPersistence(client),
	); err == nil {
		t.Fatal("expected error without intent service")
	}
}

package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-revenue-recovery/core"
	recoverymigrations "github.com/goliatone/go-revenue-recovery/migrations"
	"github.com/goliatone/go-revenue-recovery/schedule"
	sqlstore "github.com/goliatone/go-revenue-recovery/store/sql"
	"github.com/goliatone/go-revenue-recovery/webhooks"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-revenue-recovery-tests"
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"recovery_process_tracker",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "recovery_process_tracker" {
		t.Fatalf("expected recovery_process_tracker table, got %q", tableName)
	}
}

func TestProcessTrackerStore_InsertIsIdempotentPerTaskID(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.ProcessTrackerStore()
	if store == nil {
		t.Fatalf("expected process tracker store from factory")
	}

	task := core.RetryTask{
		ID:     "PASSIVE_RECOVERY_WORKFLOW_EXECUTE_WORKFLOW_pi_int_1",
		Name:   "EXECUTE_WORKFLOW",
		Runner: "PASSIVE_RECOVERY_WORKFLOW",
		Tags:   []string{"PCR"},
		TrackingData: core.TaskTrackingData{
			BillingConnectorAccountID: "mca_1",
			PaymentIntentID:           "pi_int_1",
			MerchantID:                "merchant_1",
			ProfileID:                 "profile_1",
			PaymentAttemptID:          "pa_1",
		},
		RetryCount:   2,
		ScheduleTime: time.Now().UTC().Add(time.Hour).Truncate(time.Second),
		Version:      "v2",
	}
	if err := store.InsertTask(ctx, task); err != nil {
		t.Fatalf("insert task: %v", err)
	}

	err = store.InsertTask(ctx, task)
	if err == nil {
		t.Fatalf("expected duplicate task id to be rejected")
	}
	if !core.HasRecoveryCode(err, core.RecoveryErrorTaskPersistence) {
		t.Fatalf("expected task persistence conflict code, got %v", err)
	}

	loaded, err := store.GetTask(ctx, task.ID)
	if err != nil {
		t.Fatalf("get task: %v", err)
	}
	if loaded.RetryCount != 2 {
		t.Fatalf("expected stored retry count 2, got %d", loaded.RetryCount)
	}
	if loaded.TrackingData != task.TrackingData {
		t.Fatalf("expected tracking data roundtrip, got %+v", loaded.TrackingData)
	}

	var taskCount int
	if err := client.DB().NewRaw(
		"SELECT COUNT(*) FROM recovery_process_tracker WHERE id = ?",
		task.ID,
	).Scan(ctx, &taskCount); err != nil {
		t.Fatalf("count tracker rows: %v", err)
	}
	if taskCount != 1 {
		t.Fatalf("expected exactly 1 tracker row, got %d", taskCount)
	}
}

func TestDeliveryStore_ClaimDedupeAndRetryLedger(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.DeliveryStore()

	record, claimed, err := store.Claim(ctx, "chargebee", "evt_1", []byte(`{"ok":true}`), 30*time.Second)
	if err != nil {
		t.Fatalf("claim initial delivery: %v", err)
	}
	if !claimed {
		t.Fatalf("expected initial claim to succeed")
	}
	if record.Status != "processing" {
		t.Fatalf("expected processing status, got %q", record.Status)
	}

	_, claimed, err = store.Claim(ctx, "chargebee", "evt_1", []byte(`{"ok":true}`), 30*time.Second)
	if err != nil {
		t.Fatalf("claim duplicate delivery: %v", err)
	}
	if claimed {
		t.Fatalf("expected duplicate claim inside lease to be deduped")
	}

	if err := store.Fail(ctx, record.ClaimID, fmt.Errorf("transient"), time.Now().UTC().Add(2*time.Minute), 8); err != nil {
		t.Fatalf("fail delivery: %v", err)
	}
	failed, err := store.Get(ctx, "chargebee", "evt_1")
	if err != nil {
		t.Fatalf("get failed delivery: %v", err)
	}
	if failed.Status != "retry_ready" {
		t.Fatalf("expected retry_ready status, got %q", failed.Status)
	}
	if failed.NextAttemptAt == nil {
		t.Fatalf("expected next attempt timestamp to be set")
	}

	retried, claimed, err := store.Claim(ctx, "chargebee", "evt_1", []byte(`{"ok":true}`), 30*time.Second)
	if err != nil {
		t.Fatalf("reclaim retry-ready delivery: %v", err)
	}
	if !claimed {
		t.Fatalf("expected retry-ready delivery to be reclaimable")
	}
	if retried.Attempts != 2 {
		t.Fatalf("expected attempts=2 on reclaim, got %d", retried.Attempts)
	}
	if retried.ClaimID == record.ClaimID {
		t.Fatalf("expected a fresh claim id on reclaim")
	}

	if err := store.Complete(ctx, retried.ClaimID); err != nil {
		t.Fatalf("complete delivery: %v", err)
	}
	processed, err := store.Get(ctx, "chargebee", "evt_1")
	if err != nil {
		t.Fatalf("get processed delivery: %v", err)
	}
	if processed.Status != "processed" {
		t.Fatalf("expected processed status, got %q", processed.Status)
	}
	if processed.NextAttemptAt != nil {
		t.Fatalf("expected next attempt timestamp to be cleared")
	}

	_, claimed, err = store.Claim(ctx, "chargebee", "evt_1", []byte(`{"ok":true}`), 30*time.Second)
	if err != nil {
		t.Fatalf("claim processed delivery: %v", err)
	}
	if claimed {
		t.Fatalf("expected processed delivery to stay deduped")
	}
}

func TestDeliveryStore_FailAtMaxAttemptsMarksDead(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.DeliveryStore()

	record, _, err := store.Claim(ctx, "recurly", "evt_dead", nil, 30*time.Second)
	if err != nil {
		t.Fatalf("claim delivery: %v", err)
	}
	if err := store.Fail(ctx, record.ClaimID, fmt.Errorf("permanent"), time.Now().UTC().Add(time.Minute), 1); err != nil {
		t.Fatalf("fail delivery at max attempts: %v", err)
	}

	dead, err := store.Get(ctx, "recurly", "evt_dead")
	if err != nil {
		t.Fatalf("get dead delivery: %v", err)
	}
	if dead.Status != "dead" {
		t.Fatalf("expected dead status at max attempts, got %q", dead.Status)
	}

	_, claimed, err := store.Claim(ctx, "recurly", "evt_dead", nil, 30*time.Second)
	if err != nil {
		t.Fatalf("claim dead delivery: %v", err)
	}
	if claimed {
		t.Fatalf("expected dead delivery to stay deduped")
	}
}

func TestRetryMappingStore_UpsertAndResolve(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.RetryMappingStore()

	_, found, err := store.MappingForMerchant(ctx, "merchant_missing")
	if err != nil {
		t.Fatalf("resolve missing mapping: %v", err)
	}
	if found {
		t.Fatalf("expected missing merchant to resolve found=false")
	}

	if err := store.UpsertMapping(ctx, "merchant_1", core.RetryMappingConfig{
		StartAfterSeconds: 1800,
		FrequencySeconds:  []int64{1800, 7200},
		Counts:            []int64{2, 3},
	}); err != nil {
		t.Fatalf("upsert mapping: %v", err)
	}

	mapping, found, err := store.MappingForMerchant(ctx, "merchant_1")
	if err != nil {
		t.Fatalf("resolve mapping: %v", err)
	}
	if !found {
		t.Fatalf("expected merchant mapping to be found")
	}
	if mapping.StartAfter != 30*time.Minute {
		t.Fatalf("expected 30m start delay, got %v", mapping.StartAfter)
	}
	if len(mapping.Frequencies) != 2 || mapping.Frequencies[1] != 2*time.Hour {
		t.Fatalf("unexpected frequencies: %v", mapping.Frequencies)
	}

	if err := store.UpsertMapping(ctx, "merchant_1", core.RetryMappingConfig{
		StartAfterSeconds: 3600,
		FrequencySeconds:  []int64{3600},
		Counts:            []int64{5},
	}); err != nil {
		t.Fatalf("upsert mapping update: %v", err)
	}
	updated, _, err := store.MappingForMerchant(ctx, "merchant_1")
	if err != nil {
		t.Fatalf("resolve updated mapping: %v", err)
	}
	if updated.StartAfter != time.Hour {
		t.Fatalf("expected update to replace start delay, got %v", updated.StartAfter)
	}

	var mappingCount int
	if err := client.DB().NewRaw(
		"SELECT COUNT(*) FROM recovery_retry_mappings WHERE merchant_id = ?",
		"merchant_1",
	).Scan(ctx, &mappingCount); err != nil {
		t.Fatalf("count mapping rows: %v", err)
	}
	if mappingCount != 1 {
		t.Fatalf("expected upsert to keep one row per merchant, got %d", mappingCount)
	}
}

func TestRetryMappingStore_DrivesScheduleProvider(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.RetryMappingStore()

	if err := store.UpsertMapping(ctx, "merchant_sched", core.RetryMappingConfig{
		StartAfterSeconds: 600,
		FrequencySeconds:  []int64{1200},
		Counts:            []int64{2},
	}); err != nil {
		t.Fatalf("upsert mapping: %v", err)
	}

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	fallback, err := schedule.MappingFromConfig(core.DefaultConfig().RetryMapping)
	if err != nil {
		t.Fatalf("fallback mapping: %v", err)
	}
	provider, err := schedule.NewProvider(fallback,
		schedule.WithMappingResolver(store),
		schedule.WithClock(func() time.Time { return now }),
	)
	if err != nil {
		t.Fatalf("new schedule provider: %v", err)
	}

	at, err := provider.NextScheduleTime(ctx, "merchant_sched", 1)
	if err != nil {
		t.Fatalf("next schedule time: %v", err)
	}
	if got := at.Sub(now); got != 10*time.Minute {
		t.Fatalf("expected merchant override delay 10m, got %v", got)
	}

	fallbackAt, err := provider.NextScheduleTime(ctx, "merchant_other", 1)
	if err != nil {
		t.Fatalf("fallback schedule time: %v", err)
	}
	if got := fallbackAt.Sub(now); got != time.Hour {
		t.Fatalf("expected fallback delay 1h, got %v", got)
	}
}

func TestWebhookProcessor_UsesSQLLedgerForDedupe(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}

	handler := &countingHandler{}
	processor := webhooks.NewProcessor(factory.DeliveryStore(), handler)

	account := core.BillingConnectorAccount{
		ID:          "mca_ledger",
		MerchantID:  "merchant_ledger",
		ProfileID:   "profile_ledger",
		ConnectorID: "chargebee",
	}
	req := core.WebhookRequest{
		ConnectorID:    "chargebee",
		SourceVerified: true,
		EventType:      core.EventTypeRecoveryPaymentFailure,
		Metadata:       map[string]any{"delivery_id": "evt_ledger_1"},
	}

	result, err := processor.Process(ctx, account, req)
	if err != nil {
		t.Fatalf("process webhook: %v", err)
	}
	if !result.Accepted {
		t.Fatalf("expected first delivery accepted")
	}
	if handler.calls != 1 {
		t.Fatalf("expected one handler invocation, got %d", handler.calls)
	}

	second, err := processor.Process(ctx, account, req)
	if err != nil {
		t.Fatalf("process duplicate webhook: %v", err)
	}
	if second.Metadata["deduped"] != true {
		t.Fatalf("expected duplicate delivery to be deduped")
	}
	if handler.calls != 1 {
		t.Fatalf("expected duplicate to skip handler, got %d calls", handler.calls)
	}
}

type countingHandler struct {
	calls int
}

func (h *countingHandler) Handle(
	_ context.Context,
	_ core.BillingConnectorAccount,
	_ core.WebhookRequest,
) (core.Outcome, error) {
	h.calls++
	return core.NoEffectOutcome(), nil
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:recovery-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
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

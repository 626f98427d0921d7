package sqlstore

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-revenue-recovery/core"
	"github.com/uptrace/bun"
)

const taskStatusNew = "new"

// ProcessTrackerStore persists retry tasks. The primary key is the
// deterministic task id, so a second scheduling decision for the same
// intent collides at insert time instead of diverging into a second row.
type ProcessTrackerStore struct {
	db   *bun.DB
	repo repository.Repository[*processTrackerRecord]
}

func NewProcessTrackerStore(db *bun.DB) (*ProcessTrackerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*processTrackerRecord](db, processTrackerHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid process tracker repository wiring: %w", err)
		}
	}
	return &ProcessTrackerStore{db: db, repo: repo}, nil
}

func (s *ProcessTrackerStore) InsertTask(ctx context.Context, task core.RetryTask) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: process tracker store is not configured")
	}
	taskID := strings.TrimSpace(task.ID)
	if taskID == "" {
		return fmt.Errorf("sqlstore: task id is required")
	}

	now := time.Now().UTC()
	record := &processTrackerRecord{
		ID:     taskID,
		Name:   task.Name,
		Runner: task.Runner,
		Tags:   append([]string(nil), task.Tags...),
		TrackingData: map[string]any{
			"billing_connector_account_id": task.TrackingData.BillingConnectorAccountID,
			"payment_intent_id":            task.TrackingData.PaymentIntentID,
			"merchant_id":                  task.TrackingData.MerchantID,
			"profile_id":                   task.TrackingData.ProfileID,
			"payment_attempt_id":           task.TrackingData.PaymentAttemptID,
		},
		RetryCount:   task.RetryCount,
		ScheduleTime: task.ScheduleTime.UTC(),
		Status:       taskStatusNew,
		Version:      task.Version,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "retry task already scheduled for intent").
				WithCode(http.StatusConflict).
				WithTextCode(core.RecoveryErrorTaskPersistence).
				WithMetadata(map[string]any{"task_id": taskID})
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "retry task insert failed").
			WithTextCode(core.RecoveryErrorTaskPersistence).
			WithMetadata(map[string]any{"task_id": taskID})
	}
	return nil
}

// GetTask loads a persisted task by its deterministic id.
func (s *ProcessTrackerStore) GetTask(ctx context.Context, taskID string) (core.RetryTask, error) {
	if s == nil || s.db == nil {
		return core.RetryTask{}, fmt.Errorf("sqlstore: process tracker store is not configured")
	}
	record := &processTrackerRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", strings.TrimSpace(taskID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return core.RetryTask{}, err
	}
	return processTrackerToDomain(record), nil
}

func processTrackerToDomain(record *processTrackerRecord) core.RetryTask {
	if record == nil {
		return core.RetryTask{}
	}
	task := core.RetryTask{
		ID:           record.ID,
		Name:         record.Name,
		Runner:       record.Runner,
		Tags:         append([]string(nil), record.Tags...),
		RetryCount:   record.RetryCount,
		ScheduleTime: record.ScheduleTime,
		Version:      record.Version,
	}
	if record.TrackingData != nil {
		task.TrackingData = core.TaskTrackingData{
			BillingConnectorAccountID: stringField(record.TrackingData, "billing_connector_account_id"),
			PaymentIntentID:           stringField(record.TrackingData, "payment_intent_id"),
			MerchantID:                stringField(record.TrackingData, "merchant_id"),
			ProfileID:                 stringField(record.TrackingData, "profile_id"),
			PaymentAttemptID:          stringField(record.TrackingData, "payment_attempt_id"),
		}
	}
	return task
}

func stringField(fields map[string]any, key string) string {
	value, ok := fields[key]
	if !ok || value == nil {
		return ""
	}
	text, ok := value.(string)
	if !ok {
		return fmt.Sprint(value)
	}
	return text
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}

var _ core.TaskStore = (*ProcessTrackerStore)(nil)

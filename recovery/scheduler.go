package recovery

import (
	"context"
	"fmt"
	"strings"

	"github.com/goliatone/go-revenue-recovery/core"
)

const (
	// TaskNameExecuteWorkflow identifies the recovery workflow the external
	// executor runs when the task comes due.
	TaskNameExecuteWorkflow = "EXECUTE_WORKFLOW"
	// TaskRunnerPassiveRecovery tags tasks for the passive recovery runner.
	TaskRunnerPassiveRecovery = "PASSIVE_RECOVERY_WORKFLOW"
	// TaskVersion marks the tracking-data schema the executor should expect.
	TaskVersion = "v2"

	metricTasksAdded = "recovery.tasks_added.total"
)

// TaskTagPassiveRecovery is attached to every scheduled retry task.
var TaskTagPassiveRecovery = []string{"PCR"}

// TaskID builds the deterministic task identifier for an intent. Repeated
// scheduling decisions for the same intent produce the same id, so the task
// store's uniqueness constraint collapses them into one row.
func TaskID(intentID string) string {
	return fmt.Sprintf("%s_%s_%s", TaskRunnerPassiveRecovery, TaskNameExecuteWorkflow, intentID)
}

// Scheduler decides whether a failed payment is still within the merchant's
// retry budget and, when it is, durably inserts the retry task.
type Scheduler struct {
	schedule core.ScheduleProvider
	tasks    core.TaskStore
	notifier core.TaskNotifier
	metrics  core.MetricsRecorder
	logger   core.Logger
}

func NewScheduler(
	schedule core.ScheduleProvider,
	tasks core.TaskStore,
	notifier core.TaskNotifier,
	metrics core.MetricsRecorder,
	logger core.Logger,
) *Scheduler {
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}
	return &Scheduler{
		schedule: schedule,
		tasks:    tasks,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
	}
}

// Schedule inserts the durable retry task for the intent's next attempt.
// Retries are scheduled only while the retry count has not exceeded the
// merchant threshold; once exceeded the result is a no-effect, not an error.
func (s *Scheduler) Schedule(
	ctx context.Context,
	account core.BillingConnectorAccount,
	intent core.RecoveryPaymentIntent,
	attempt *core.RecoveryPaymentAttempt,
) (core.Outcome, error) {
	if account.RetryThreshold == nil {
		return core.Outcome{}, thresholdUnavailableError(account.ID)
	}
	retryCount, ok := intent.RetryCount()
	if !ok {
		return core.Outcome{}, retryCountUnavailableError(intent.ID)
	}

	if retryCount > *account.RetryThreshold {
		if s.logger != nil {
			s.logger.Info("retry budget exhausted, not scheduling",
				"payment_intent_id", intent.ID,
				"retry_count", retryCount,
				"retry_threshold", *account.RetryThreshold,
			)
		}
		return core.NoEffectOutcome(), nil
	}

	scheduleTime, err := s.schedule.NextScheduleTime(ctx, account.MerchantID, retryCount+1)
	if err != nil {
		return core.Outcome{}, scheduleTimeError(err, intent.ID, retryCount+1)
	}

	if attempt == nil || strings.TrimSpace(attempt.ID) == "" {
		return core.Outcome{}, missingAttemptIDError(intent.ID)
	}

	task := core.RetryTask{
		ID:     TaskID(intent.ID),
		Name:   TaskNameExecuteWorkflow,
		Runner: TaskRunnerPassiveRecovery,
		Tags:   append([]string(nil), TaskTagPassiveRecovery...),
		TrackingData: core.TaskTrackingData{
			BillingConnectorAccountID: account.ID,
			PaymentIntentID:           intent.ID,
			MerchantID:                account.MerchantID,
			ProfileID:                 account.ProfileID,
			PaymentAttemptID:          attempt.ID,
		},
		RetryCount:   retryCount,
		ScheduleTime: scheduleTime,
		Version:      TaskVersion,
	}

	if err := s.tasks.InsertTask(ctx, task); err != nil {
		return core.Outcome{}, taskPersistenceError(err, task.ID)
	}

	s.metrics.IncCounter(ctx, metricTasksAdded, 1, map[string]string{
		"merchant_id":  account.MerchantID,
		"connector_id": account.ConnectorID,
	})

	if s.notifier != nil {
		if err := s.notifier.NotifyScheduled(ctx, task); err != nil && s.logger != nil {
			s.logger.Warn("scheduled task notification failed",
				"task_id", task.ID,
				"error", err.Error(),
			)
		}
	}

	return core.PaymentOutcome(intent.ID, intent.Status), nil
}

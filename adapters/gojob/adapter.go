package gojob

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-revenue-recovery/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
)

// JobIDExecuteRecovery is the queue job id consumed by the workflow executor
// that replays a scheduled recovery attempt.
const JobIDExecuteRecovery = "recovery.workflow.execute"

// DedupPolicyIgnore drops an enqueue that collides with an in-flight message
// holding the same idempotency key. The process tracker row is the durable
// record; the queue message is only a nudge.
const DedupPolicyIgnore = "ignore"

// TaskEnqueuerAdapter bridges the scheduler's notifier port to a go-job
// queue. The task id doubles as the idempotency key so a re-delivered webhook
// cannot fan out duplicate workflow executions.
type TaskEnqueuerAdapter struct {
	enqueuer queue.Enqueuer
}

func NewTaskEnqueuerAdapter(enqueuer queue.Enqueuer) *TaskEnqueuerAdapter {
	return &TaskEnqueuerAdapter{enqueuer: enqueuer}
}

func (a *TaskEnqueuerAdapter) NotifyScheduled(ctx context.Context, task core.RetryTask) error {
	if a == nil || a.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	msg := ToExecutionMessage(task)
	if msg == nil {
		return fmt.Errorf("gojob: retry task id is required")
	}
	return a.enqueuer.Enqueue(ctx, msg)
}

// ToExecutionMessage maps a durable retry task to the go-job message shape.
func ToExecutionMessage(task core.RetryTask) *job.ExecutionMessage {
	taskID := strings.TrimSpace(task.ID)
	if taskID == "" {
		return nil
	}
	return &job.ExecutionMessage{
		JobID:          JobIDExecuteRecovery,
		Parameters:     taskParameters(task),
		IdempotencyKey: taskID,
		DedupPolicy:    job.DeduplicationPolicy(DedupPolicyIgnore),
	}
}

func taskParameters(task core.RetryTask) map[string]any {
	params := map[string]any{
		"task_id":       strings.TrimSpace(task.ID),
		"task_name":     strings.TrimSpace(task.Name),
		"runner":        strings.TrimSpace(task.Runner),
		"retry_count":   task.RetryCount,
		"schedule_time": task.ScheduleTime.UTC().Format(time.RFC3339),
		"version":       strings.TrimSpace(task.Version),

		"billing_connector_account_id": task.TrackingData.BillingConnectorAccountID,
		"payment_intent_id":            task.TrackingData.PaymentIntentID,
		"merchant_id":                  task.TrackingData.MerchantID,
		"profile_id":                   task.TrackingData.ProfileID,
		"payment_attempt_id":           task.TrackingData.PaymentAttemptID,
	}
	if len(task.Tags) > 0 {
		params["tags"] = append([]string(nil), task.Tags...)
	}
	return params
}

var _ core.TaskNotifier = (*TaskEnqueuerAdapter)(nil)

package core

// RecoveryAction is the decision the flow derives from an incoming event
// and the trigger source of the most recent recovery attempt.
type RecoveryAction string

const (
	ActionCancelInvoice          RecoveryAction = "cancel_invoice"
	ActionScheduleFailedPayment  RecoveryAction = "schedule_failed_payment"
	ActionSuccessPaymentExternal RecoveryAction = "success_payment_external"
	ActionPendingPayment         RecoveryAction = "pending_payment"
	ActionNoAction               RecoveryAction = "no_action"
	ActionInvalid                RecoveryAction = "invalid_action"
)

// ActionForEvent classifies an incoming webhook event into a recovery
// action. Total and deterministic: a nil triggeredBy means no prior attempt
// is known, and unrecognized combinations map to ActionInvalid so callers
// can log and no-op instead of aborting the delivery.
func ActionForEvent(eventType EventType, triggeredBy *TriggeredBy) RecoveryAction {
	switch eventType {
	case EventTypeRecoveryPaymentFailure:
		if triggeredBy != nil && *triggeredBy == TriggeredByInternal {
			return ActionNoAction
		}
		return ActionScheduleFailedPayment
	case EventTypeRecoveryPaymentSuccess:
		if triggeredBy != nil && *triggeredBy == TriggeredByInternal {
			return ActionNoAction
		}
		return ActionSuccessPaymentExternal
	case EventTypeRecoveryPaymentPending:
		return ActionPendingPayment
	case EventTypeRecoveryInvoiceCancel:
		return ActionCancelInvoice
	default:
		return ActionInvalid
	}
}

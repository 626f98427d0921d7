package core

import "testing"

func TestRecoveryPaymentIntent_RetryCount(t *testing.T) {
	count := 4
	intent := RecoveryPaymentIntent{
		ID: "pay_1",
		FeatureMetadata: &IntentFeatureMetadata{
			RevenueRecovery: &IntentRevenueRecoveryMetadata{TotalRetryCount: &count},
		},
	}
	got, ok := intent.RetryCount()
	if !ok || got != 4 {
		t.Fatalf("expected retry count 4, got %d ok=%v", got, ok)
	}

	bare := RecoveryPaymentIntent{ID: "pay_2"}
	if _, ok := bare.RetryCount(); ok {
		t.Fatalf("expected missing retry count on bare intent")
	}

	empty := RecoveryPaymentIntent{
		ID:              "pay_3",
		FeatureMetadata: &IntentFeatureMetadata{RevenueRecovery: &IntentRevenueRecoveryMetadata{}},
	}
	if _, ok := empty.RetryCount(); ok {
		t.Fatalf("expected missing retry count when counter is nil")
	}
}

func TestRecoveryPaymentAttempt_TriggeredBy(t *testing.T) {
	attempt := RecoveryPaymentAttempt{
		ID: "att_1",
		FeatureMetadata: &AttemptFeatureMetadata{
			RevenueRecovery: &AttemptRevenueRecoveryMetadata{AttemptTriggeredBy: TriggeredByExternal},
		},
	}
	got := attempt.TriggeredBy()
	if got == nil || *got != TriggeredByExternal {
		t.Fatalf("expected external trigger, got %v", got)
	}
	if (RecoveryPaymentAttempt{ID: "att_2"}).TriggeredBy() != nil {
		t.Fatalf("expected nil trigger without metadata")
	}
}

func TestBillingConnectorAccount_PaymentAccountID(t *testing.T) {
	account := BillingConnectorAccount{
		ID: "mca_billing",
		AccountReferenceMap: map[string]string{
			"gw_us": "mca_stripe_us",
		},
	}
	id, ok := account.PaymentAccountID("gw_us")
	if !ok || id != "mca_stripe_us" {
		t.Fatalf("expected mapped account, got %q ok=%v", id, ok)
	}
	if _, ok := account.PaymentAccountID("gw_eu"); ok {
		t.Fatalf("expected missing mapping for unknown reference")
	}
	if _, ok := account.PaymentAccountID(""); ok {
		t.Fatalf("expected missing mapping for empty reference")
	}
}

func TestAttemptStatus_IntentStatus(t *testing.T) {
	if AttemptStatusCharged.IntentStatus() != IntentStatusSucceeded {
		t.Fatalf("charged attempts should mark the intent succeeded")
	}
	if AttemptStatusFailure.IntentStatus() != IntentStatusFailed {
		t.Fatalf("failed attempts should mark the intent failed")
	}
	if AttemptStatusPending.IntentStatus() != IntentStatusProcessing {
		t.Fatalf("pending attempts should leave the intent processing")
	}
}

func TestPaymentsSyncResponse_Conversions(t *testing.T) {
	response := PaymentsSyncResponse{
		MerchantReferenceID:         "inv_1",
		ConnectorTransactionID:      "txn_1",
		AmountMinor:                 2599,
		Currency:                    "USD",
		Status:                      AttemptStatusFailure,
		ErrorCode:                   "card_declined",
		ConnectorAccountReferenceID: "gw_us",
	}

	invoice := response.InvoiceData()
	if invoice.MerchantReferenceID != "inv_1" || invoice.AmountMinor != 2599 || invoice.Currency != "USD" {
		t.Fatalf("unexpected invoice data: %+v", invoice)
	}

	attempt := response.AttemptData()
	if attempt.ConnectorTransactionID != "txn_1" {
		t.Fatalf("unexpected attempt transaction id: %q", attempt.ConnectorTransactionID)
	}
	if attempt.Status != AttemptStatusFailure || attempt.ErrorCode != "card_declined" {
		t.Fatalf("unexpected attempt status payload: %+v", attempt)
	}
	if attempt.ConnectorAccountReferenceID != "gw_us" {
		t.Fatalf("expected account reference to carry over")
	}
}

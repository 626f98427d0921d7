package schedule

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goliatone/go-revenue-recovery/core"
)

func testMapping() Mapping {
	return MappingFromConfig(core.RetryMappingConfig{
		StartAfterSeconds: 3600,
		FrequencySeconds:  []int64{3600, 14400, 86400},
		Counts:            []int64{3, 3, 4},
	})
}

func TestMapping_DelayForAttempt(t *testing.T) {
	mapping := testMapping()

	cases := []struct {
		attempt  int
		want     time.Duration
		schedule bool
	}{
		{attempt: 0, schedule: false},
		{attempt: 1, want: time.Hour, schedule: true},
		{attempt: 2, want: time.Hour, schedule: true},
		{attempt: 4, want: time.Hour, schedule: true},
		{attempt: 5, want: 4 * time.Hour, schedule: true},
		{attempt: 7, want: 4 * time.Hour, schedule: true},
		{attempt: 8, want: 24 * time.Hour, schedule: true},
		{attempt: 11, want: 24 * time.Hour, schedule: true},
		{attempt: 12, schedule: false},
		{attempt: 100, schedule: false},
	}
	for _, tc := range cases {
		got, ok := mapping.DelayForAttempt(tc.attempt)
		if ok != tc.schedule {
			t.Fatalf("attempt %d: schedulable = %v, want %v", tc.attempt, ok, tc.schedule)
		}
		if ok && got != tc.want {
			t.Fatalf("attempt %d: delay = %s, want %s", tc.attempt, got, tc.want)
		}
	}
}

func TestMapping_DelaysAreNonDecreasing(t *testing.T) {
	mapping := testMapping()
	previous := time.Duration(0)
	for attempt := 1; attempt < int(mapping.MaxAttempts()); attempt++ {
		delay, ok := mapping.DelayForAttempt(attempt)
		if !ok {
			t.Fatalf("attempt %d unexpectedly exhausted", attempt)
		}
		if delay < previous {
			t.Fatalf("attempt %d: delay %s regressed below %s", attempt, delay, previous)
		}
		previous = delay
	}
}

func TestMapping_MaxAttempts(t *testing.T) {
	if got := testMapping().MaxAttempts(); got != 11 {
		t.Fatalf("max attempts = %d, want 11", got)
	}
}

type stubResolver struct {
	mapping Mapping
	found   bool
	err     error

	lastMerchantID string
}

func (s *stubResolver) MappingForMerchant(_ context.Context, merchantID string) (Mapping, bool, error) {
	s.lastMerchantID = merchantID
	return s.mapping, s.found, s.err
}

func TestProvider_NextScheduleTime(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	provider := NewProvider(testMapping(), WithClock(func() time.Time { return now }))

	got, err := provider.NextScheduleTime(context.Background(), "merchant_1", 5)
	if err != nil {
		t.Fatalf("NextScheduleTime: %v", err)
	}
	if want := now.Add(4 * time.Hour); !got.Equal(want) {
		t.Fatalf("schedule time = %s, want %s", got, want)
	}
}

func TestProvider_NextScheduleTime_Exhausted(t *testing.T) {
	provider := NewProvider(testMapping())

	_, err := provider.NextScheduleTime(context.Background(), "merchant_1", 12)
	if err == nil {
		t.Fatalf("expected exhausted mapping error")
	}
	if !core.HasRecoveryCode(err, core.RecoveryErrorScheduleTime) {
		t.Fatalf("expected %s, got %v", core.RecoveryErrorScheduleTime, err)
	}
}

func TestProvider_NextScheduleTime_InvalidAttemptNumber(t *testing.T) {
	provider := NewProvider(testMapping())

	_, err := provider.NextScheduleTime(context.Background(), "merchant_1", 0)
	if err == nil {
		t.Fatalf("expected error for non-positive attempt number")
	}
	if !core.HasRecoveryCode(err, core.RecoveryErrorBadInput) {
		t.Fatalf("expected %s, got %v", core.RecoveryErrorBadInput, err)
	}
}

func TestProvider_MerchantMappingOverridesDefault(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	resolver := &stubResolver{
		mapping: Mapping{
			StartAfter:  30 * time.Minute,
			Frequencies: []time.Duration{time.Hour},
			Counts:      []int64{2},
		},
		found: true,
	}
	provider := NewProvider(testMapping(),
		WithMappingResolver(resolver),
		WithClock(func() time.Time { return now }),
	)

	got, err := provider.NextScheduleTime(context.Background(), "merchant_2", 1)
	if err != nil {
		t.Fatalf("NextScheduleTime: %v", err)
	}
	if want := now.Add(30 * time.Minute); !got.Equal(want) {
		t.Fatalf("schedule time = %s, want %s", got, want)
	}
	if resolver.lastMerchantID != "merchant_2" {
		t.Fatalf("resolver saw merchant %q", resolver.lastMerchantID)
	}
}

func TestProvider_ResolverFailureFallsBack(t *testing.T) {
	now := time.Date(2026, time.March, 14, 9, 30, 0, 0, time.UTC)
	resolver := &stubResolver{err: errors.New("store offline")}
	provider := NewProvider(testMapping(),
		WithMappingResolver(resolver),
		WithClock(func() time.Time { return now }),
	)

	got, err := provider.NextScheduleTime(context.Background(), "merchant_3", 1)
	if err != nil {
		t.Fatalf("expected fallback to default mapping, got %v", err)
	}
	if want := now.Add(time.Hour); !got.Equal(want) {
		t.Fatalf("schedule time = %s, want %s", got, want)
	}
}

package schedule

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-revenue-recovery/core"
)

// MappingResolver looks up a merchant-specific retry mapping. The
// boolean reports whether the merchant has one; false without error
// falls back to the provider default.
type MappingResolver interface {
	MappingForMerchant(ctx context.Context, merchantID string) (Mapping, bool, error)
}

// Provider resolves schedule times from a per-merchant mapping with a
// configured default fallback.
type Provider struct {
	fallback Mapping
	resolver MappingResolver
	logger   core.Logger
	now      func() time.Time
}

type ProviderOption func(*Provider)

func WithMappingResolver(resolver MappingResolver) ProviderOption {
	return func(p *Provider) {
		p.resolver = resolver
	}
}

func WithLogger(logger core.Logger) ProviderOption {
	return func(p *Provider) {
		if logger != nil {
			p.logger = logger
		}
	}
}

func WithClock(now func() time.Time) ProviderOption {
	return func(p *Provider) {
		if now != nil {
			p.now = now
		}
	}
}

func NewProvider(fallback Mapping, opts ...ProviderOption) *Provider {
	provider := &Provider{
		fallback: fallback,
		logger:   glog.Ensure(nil),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(provider)
		}
	}
	return provider
}

// NextScheduleTime resolves the wall-clock time of the given 1-based
// attempt number for the merchant. An exhausted mapping returns a
// schedule-unavailable error.
func (p *Provider) NextScheduleTime(ctx context.Context, merchantID string, attemptNumber int) (time.Time, error) {
	if p == nil {
		return time.Time{}, scheduleBadInput("schedule provider is not configured", nil)
	}
	if attemptNumber < 1 {
		return time.Time{}, scheduleBadInput("attempt number must be positive", map[string]any{
			"attempt_number": attemptNumber,
		})
	}

	mapping, err := p.mappingFor(ctx, merchantID)
	if err != nil {
		return time.Time{}, err
	}

	delay, ok := mapping.DelayForAttempt(attemptNumber)
	if !ok {
		return time.Time{}, scheduleUnavailable("retry mapping exhausted", map[string]any{
			"merchant_id":    merchantID,
			"attempt_number": attemptNumber,
			"max_attempts":   mapping.MaxAttempts(),
		})
	}
	return p.now().Add(delay), nil
}

func (p *Provider) mappingFor(ctx context.Context, merchantID string) (Mapping, error) {
	merchantID = strings.TrimSpace(merchantID)
	if p.resolver == nil || merchantID == "" {
		return p.fallback, nil
	}

	mapping, found, err := p.resolver.MappingForMerchant(ctx, merchantID)
	if err != nil {
		p.logger.Warn("merchant retry mapping lookup failed, using default",
			"merchant_id", merchantID,
			"error", err,
		)
		return p.fallback, nil
	}
	if !found {
		return p.fallback, nil
	}
	return mapping, nil
}

var _ core.ScheduleProvider = (*Provider)(nil)

package core

import (
	"fmt"
	"strings"
)

// RetryMappingConfig is the default bucketed backoff table used when a
// merchant has no mapping of their own. Frequencies and counts pair up:
// the first Counts[0] retries wait FrequencySeconds[0] seconds, the next
// Counts[1] wait FrequencySeconds[1], and so on.
type RetryMappingConfig struct {
	StartAfterSeconds int64   `koanf:"start_after_seconds" mapstructure:"start_after_seconds"`
	FrequencySeconds  []int64 `koanf:"frequency_seconds" mapstructure:"frequency_seconds"`
	Counts            []int64 `koanf:"counts" mapstructure:"counts"`
}

type Config struct {
	ServiceName string `koanf:"service_name" mapstructure:"service_name"`
	// PaymentSyncConnectors lists billing connectors whose webhook bodies
	// cannot be trusted and therefore require the synchronous payment
	// status call before reconciliation.
	PaymentSyncConnectors []string           `koanf:"payment_sync_connectors" mapstructure:"payment_sync_connectors"`
	RetryMapping          RetryMappingConfig `koanf:"retry_mapping" mapstructure:"retry_mapping"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName:           "revenue-recovery",
		PaymentSyncConnectors: []string{"recurly"},
		RetryMapping: RetryMappingConfig{
			StartAfterSeconds: 3600,
			FrequencySeconds:  []int64{3600, 14400, 86400},
			Counts:            []int64{3, 3, 4},
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	seen := map[string]struct{}{}
	for i, connectorID := range c.PaymentSyncConnectors {
		normalized := strings.TrimSpace(strings.ToLower(connectorID))
		if normalized == "" {
			return fmt.Errorf("core: payment_sync_connectors[%d] must not be blank", i)
		}
		if _, dup := seen[normalized]; dup {
			return fmt.Errorf("core: payment_sync_connectors lists %q more than once", normalized)
		}
		seen[normalized] = struct{}{}
	}
	return c.RetryMapping.Validate()
}

func (m RetryMappingConfig) Validate() error {
	if m.StartAfterSeconds < 0 {
		return fmt.Errorf("core: retry_mapping.start_after_seconds must not be negative")
	}
	if len(m.FrequencySeconds) != len(m.Counts) {
		return fmt.Errorf(
			"core: retry_mapping frequency_seconds and counts must pair up, got %d and %d",
			len(m.FrequencySeconds),
			len(m.Counts),
		)
	}
	previous := int64(0)
	for i, frequency := range m.FrequencySeconds {
		if frequency <= 0 {
			return fmt.Errorf("core: retry_mapping.frequency_seconds[%d] must be positive", i)
		}
		if frequency < previous {
			return fmt.Errorf("core: retry_mapping.frequency_seconds must be non-decreasing")
		}
		if m.Counts[i] <= 0 {
			return fmt.Errorf("core: retry_mapping.counts[%d] must be positive", i)
		}
		previous = frequency
	}
	return nil
}

// RequiresPaymentSync reports whether the connector is configured as
// needing the synchronous billing payment-status call.
func (c Config) RequiresPaymentSync(connectorID string) bool {
	connectorID = strings.TrimSpace(strings.ToLower(connectorID))
	if connectorID == "" {
		return false
	}
	for _, candidate := range c.PaymentSyncConnectors {
		if strings.TrimSpace(strings.ToLower(candidate)) == connectorID {
			return true
		}
	}
	return false
}

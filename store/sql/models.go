package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type processTrackerRecord struct {
	bun.BaseModel `bun:"table:recovery_process_tracker,alias:rpt"`

	ID           string         `bun:"id,pk"`
	Name         string         `bun:"name,notnull"`
	Runner       string         `bun:"runner,notnull"`
	Tags         []string       `bun:"tags,type:jsonb,notnull"`
	TrackingData map[string]any `bun:"tracking_data,type:jsonb,notnull"`
	RetryCount   int            `bun:"retry_count,notnull"`
	ScheduleTime time.Time      `bun:"schedule_time,notnull"`
	Status       string         `bun:"status,notnull"`
	Version      string         `bun:"version,notnull"`
	CreatedAt    time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt    time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type deliveryRecord struct {
	bun.BaseModel `bun:"table:recovery_webhook_deliveries,alias:rwd"`

	ID             string     `bun:"id,pk"`
	ClaimID        string     `bun:"claim_id,notnull"`
	ConnectorID    string     `bun:"connector_id,notnull"`
	DeliveryID     string     `bun:"delivery_id,notnull"`
	Status         string     `bun:"status,notnull"`
	Attempts       int        `bun:"attempts,notnull"`
	NextAttemptAt  *time.Time `bun:"next_attempt_at,nullzero"`
	LeaseExpiresAt *time.Time `bun:"lease_expires_at,nullzero"`
	LastError      string     `bun:"last_error"`
	Payload        []byte     `bun:"payload"`
	CreatedAt      time.Time  `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt      time.Time  `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type retryMappingRecord struct {
	bun.BaseModel `bun:"table:recovery_retry_mappings,alias:rrm"`

	ID                string    `bun:"id,pk"`
	MerchantID        string    `bun:"merchant_id,notnull"`
	StartAfterSeconds int64     `bun:"start_after_seconds,notnull"`
	FrequencySeconds  []int64   `bun:"frequency_seconds,type:jsonb,notnull"`
	Counts            []int64   `bun:"counts,type:jsonb,notnull"`
	CreatedAt         time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt         time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

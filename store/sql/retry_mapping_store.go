package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-revenue-recovery/core"
	"github.com/goliatone/go-revenue-recovery/schedule"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RetryMappingStore persists per-merchant retry backoff mappings. Merchants
// without a row fall back to the configured default mapping.
type RetryMappingStore struct {
	db   *bun.DB
	repo repository.Repository[*retryMappingRecord]
}

func NewRetryMappingStore(db *bun.DB) (*RetryMappingStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*retryMappingRecord](db, retryMappingHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid retry mapping repository wiring: %w", err)
		}
	}
	return &RetryMappingStore{db: db, repo: repo}, nil
}

func (s *RetryMappingStore) MappingForMerchant(
	ctx context.Context,
	merchantID string,
) (schedule.Mapping, bool, error) {
	if s == nil || s.db == nil {
		return schedule.Mapping{}, false, fmt.Errorf("sqlstore: retry mapping store is not configured")
	}
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return schedule.Mapping{}, false, fmt.Errorf("sqlstore: merchant id is required")
	}

	record := &retryMappingRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.merchant_id = ?", merchantID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return schedule.Mapping{}, false, nil
		}
		return schedule.Mapping{}, false, err
	}
	return schedule.MappingFromConfig(core.RetryMappingConfig{
		StartAfterSeconds: record.StartAfterSeconds,
		FrequencySeconds:  append([]int64(nil), record.FrequencySeconds...),
		Counts:            append([]int64(nil), record.Counts...),
	}), true, nil
}

// UpsertMapping stores or replaces the merchant's mapping after validating
// the bucket pairing.
func (s *RetryMappingStore) UpsertMapping(
	ctx context.Context,
	merchantID string,
	mapping core.RetryMappingConfig,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: retry mapping store is not configured")
	}
	merchantID = strings.TrimSpace(merchantID)
	if merchantID == "" {
		return fmt.Errorf("sqlstore: merchant id is required")
	}
	if err := mapping.Validate(); err != nil {
		return err
	}

	now := time.Now().UTC()
	record := &retryMappingRecord{
		ID:                uuid.NewString(),
		MerchantID:        merchantID,
		StartAfterSeconds: mapping.StartAfterSeconds,
		FrequencySeconds:  append([]int64(nil), mapping.FrequencySeconds...),
		Counts:            append([]int64(nil), mapping.Counts...),
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	_, err := s.db.NewInsert().
		Model(record).
		On("CONFLICT (merchant_id) DO UPDATE").
		Set("start_after_seconds = EXCLUDED.start_after_seconds").
		Set("frequency_seconds = EXCLUDED.frequency_seconds").
		Set("counts = EXCLUDED.counts").
		Set("updated_at = EXCLUDED.updated_at").
		Exec(ctx)
	return err
}

var _ schedule.MappingResolver = (*RetryMappingStore)(nil)

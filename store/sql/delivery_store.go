package sqlstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	repository "github.com/goliatone/go-repository-bun"
	"github.com/goliatone/go-revenue-recovery/webhooks"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DeliveryStore is the durable webhook delivery ledger. Row uniqueness on
// (connector_id, delivery_id) is what turns duplicate redeliveries into
// deduped claims.
type DeliveryStore struct {
	db   *bun.DB
	repo repository.Repository[*deliveryRecord]
	now  func() time.Time
}

func NewDeliveryStore(db *bun.DB) (*DeliveryStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*deliveryRecord](db, deliveryHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid delivery repository wiring: %w", err)
		}
	}
	return &DeliveryStore{
		db:   db,
		repo: repo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *DeliveryStore) Claim(
	ctx context.Context,
	connectorID string,
	deliveryID string,
	payload []byte,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	connectorID = strings.TrimSpace(connectorID)
	deliveryID = strings.TrimSpace(deliveryID)
	if connectorID == "" || deliveryID == "" {
		return webhooks.DeliveryRecord{}, false, fmt.Errorf("sqlstore: connector id and delivery id are required")
	}
	if lease <= 0 {
		lease = 30 * time.Second
	}

	now := s.now()
	leaseExpiry := now.Add(lease)
	record := &deliveryRecord{
		ID:             uuid.NewString(),
		ClaimID:        uuid.NewString(),
		ConnectorID:    connectorID,
		DeliveryID:     deliveryID,
		Status:         webhooks.DeliveryStatusProcessing,
		Attempts:       1,
		LeaseExpiresAt: &leaseExpiry,
		Payload:        append([]byte(nil), payload...),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if _, err := s.db.NewInsert().Model(record).Exec(ctx); err != nil {
		if isUniqueViolation(err) {
			return s.reclaim(ctx, connectorID, deliveryID, lease)
		}
		return webhooks.DeliveryRecord{}, false, err
	}
	return deliveryToDomain(record), true, nil
}

// reclaim re-takes a row that already exists. A processed row or a row
// whose claim lease is still live dedupes; a retry-ready, pending, or
// lease-expired row is claimed again under a fresh claim id.
func (s *DeliveryStore) reclaim(
	ctx context.Context,
	connectorID string,
	deliveryID string,
	lease time.Duration,
) (webhooks.DeliveryRecord, bool, error) {
	existing := &deliveryRecord{}
	err := s.db.NewSelect().
		Model(existing).
		Where("?TableAlias.connector_id = ?", connectorID).
		Where("?TableAlias.delivery_id = ?", deliveryID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}

	now := s.now()
	switch existing.Status {
	case webhooks.DeliveryStatusProcessed, webhooks.DeliveryStatusDead:
		return deliveryToDomain(existing), false, nil
	case webhooks.DeliveryStatusProcessing:
		if existing.LeaseExpiresAt != nil && existing.LeaseExpiresAt.After(now) {
			return deliveryToDomain(existing), false, nil
		}
	}

	claimID := uuid.NewString()
	leaseExpiry := now.Add(lease)
	_, err = s.db.NewUpdate().
		Model((*deliveryRecord)(nil)).
		Set("claim_id = ?", claimID).
		Set("status = ?", webhooks.DeliveryStatusProcessing).
		Set("attempts = ?", existing.Attempts+1).
		Set("lease_expires_at = ?", leaseExpiry).
		Set("updated_at = ?", now).
		Where("id = ?", existing.ID).
		Exec(ctx)
	if err != nil {
		return webhooks.DeliveryRecord{}, false, err
	}

	existing.ClaimID = claimID
	existing.Status = webhooks.DeliveryStatusProcessing
	existing.Attempts++
	existing.LeaseExpiresAt = &leaseExpiry
	existing.UpdatedAt = now
	return deliveryToDomain(existing), true, nil
}

func (s *DeliveryStore) Get(
	ctx context.Context,
	connectorID string,
	deliveryID string,
) (webhooks.DeliveryRecord, error) {
	if s == nil || s.db == nil {
		return webhooks.DeliveryRecord{}, fmt.Errorf("sqlstore: delivery store is not configured")
	}
	record := &deliveryRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.connector_id = ?", strings.TrimSpace(connectorID)).
		Where("?TableAlias.delivery_id = ?", strings.TrimSpace(deliveryID)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if err == sql.ErrNoRows {
			return webhooks.DeliveryRecord{}, fmt.Errorf(
				"sqlstore: delivery not found for connector %q delivery %q",
				connectorID,
				deliveryID,
			)
		}
		return webhooks.DeliveryRecord{}, err
	}
	return deliveryToDomain(record), nil
}

func (s *DeliveryStore) Complete(ctx context.Context, claimID string) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery store is not configured")
	}
	_, err := s.db.NewUpdate().
		Model((*deliveryRecord)(nil)).
		Set("status = ?", webhooks.DeliveryStatusProcessed).
		Set("next_attempt_at = NULL").
		Set("lease_expires_at = NULL").
		Set("updated_at = ?", s.now()).
		Where("claim_id = ?", strings.TrimSpace(claimID)).
		Exec(ctx)
	return err
}

func (s *DeliveryStore) Fail(
	ctx context.Context,
	claimID string,
	cause error,
	nextAttemptAt time.Time,
	maxAttempts int,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: delivery store is not configured")
	}
	claimID = strings.TrimSpace(claimID)

	existing := &deliveryRecord{}
	err := s.db.NewSelect().
		Model(existing).
		Where("?TableAlias.claim_id = ?", claimID).
		Limit(1).
		Scan(ctx)
	if err != nil {
		return err
	}

	status := webhooks.DeliveryStatusRetryReady
	if maxAttempts > 0 && existing.Attempts >= maxAttempts {
		status = webhooks.DeliveryStatusDead
	}
	lastError := ""
	if cause != nil {
		lastError = strings.TrimSpace(cause.Error())
	}

	_, err = s.db.NewUpdate().
		Model((*deliveryRecord)(nil)).
		Set("status = ?", status).
		Set("next_attempt_at = ?", nextAttemptAt.UTC()).
		Set("lease_expires_at = NULL").
		Set("last_error = ?", lastError).
		Set("updated_at = ?", s.now()).
		Where("claim_id = ?", claimID).
		Exec(ctx)
	return err
}

func deliveryToDomain(record *deliveryRecord) webhooks.DeliveryRecord {
	if record == nil {
		return webhooks.DeliveryRecord{}
	}
	result := webhooks.DeliveryRecord{
		ID:          record.ID,
		ClaimID:     record.ClaimID,
		ConnectorID: record.ConnectorID,
		DeliveryID:  record.DeliveryID,
		Status:      record.Status,
		Attempts:    record.Attempts,
		CreatedAt:   record.CreatedAt,
		UpdatedAt:   record.UpdatedAt,
	}
	if record.NextAttemptAt != nil {
		value := *record.NextAttemptAt
		result.NextAttemptAt = &value
	}
	return result
}

var _ webhooks.DeliveryLedger = (*DeliveryStore)(nil)

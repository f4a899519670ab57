package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/goodmarket/reward-engine/model"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrDuplicateKey is returned by Insert when the (task_type,
// idempotency_key) unique constraint fires. The constraint, not the
// preceding read, is the authoritative duplicate signal.
var ErrDuplicateKey = errors.New("idempotency key already recorded")

type ClaimRepository struct {
	db *gorm.DB
}

func NewClaimRepository(db *gorm.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

func (r *ClaimRepository) FindByIdempotencyKey(ctx context.Context, taskType, key string) (*model.ClaimRecord, error) {
	var rec model.ClaimRecord
	err := r.db.WithContext(ctx).
		Where("task_type = ? AND idempotency_key = ?", taskType, key).
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ClaimRepository) FindPending(ctx context.Context, wallet, taskType string) (*model.ClaimRecord, error) {
	var rec model.ClaimRecord
	err := r.db.WithContext(ctx).
		Where("wallet = ? AND task_type = ? AND status = ?", strings.ToLower(wallet), taskType, model.ClaimStatusPending).
		Order("created_at desc").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// FindLastRelevant returns the most recent record for the wallet+task
// in one of the given statuses since the cutoff. Rejected records are
// intentionally excluded by callers: rejection resets eligibility.
func (r *ClaimRepository) FindLastRelevant(ctx context.Context, wallet, taskType string, statuses []string, since time.Time) (*model.ClaimRecord, error) {
	var rec model.ClaimRecord
	err := r.db.WithContext(ctx).
		Where("wallet = ? AND task_type = ? AND status IN ? AND created_at >= ?",
			strings.ToLower(wallet), taskType, statuses, since).
		Order("created_at desc").
		First(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (r *ClaimRepository) FindByID(ctx context.Context, id uint64) (*model.ClaimRecord, error) {
	var rec model.ClaimRecord
	err := r.db.WithContext(ctx).First(&rec, id).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

// Insert creates the record, relying on the unique index for
// idempotency. DoNothing + RowsAffected == 0 means another writer won.
func (r *ClaimRepository) Insert(ctx context.Context, rec *model.ClaimRecord) error {
	rec.Wallet = strings.ToLower(rec.Wallet)
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "task_type"}, {Name: "idempotency_key"}},
			DoNothing: true,
		}).
		Create(rec)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return ErrDuplicateKey
	}
	return nil
}

// UpdateStatus advances a pending record to a terminal state. The
// status guard in the WHERE clause makes the transition single-shot.
func (r *ClaimRepository) UpdateStatus(ctx context.Context, id uint64, status string, txHash *string, reason string, reviewedBy *string) error {
	now := time.Now().UTC()
	updates := map[string]interface{}{
		"status":      status,
		"reason":      reason,
		"resolved_at": &now,
	}
	if txHash != nil {
		updates["tx_hash"] = txHash
	}
	if reviewedBy != nil {
		updates["reviewed_by"] = reviewedBy
	}
	res := r.db.WithContext(ctx).
		Model(&model.ClaimRecord{}).
		Where("id = ? AND status = ?", id, model.ClaimStatusPending).
		Updates(updates)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// UpdateAmount rewrites a pending record's reward. Terminal records
// keep the amount that was actually paid.
func (r *ClaimRepository) UpdateAmount(ctx context.Context, id uint64, amount string) error {
	res := r.db.WithContext(ctx).
		Model(&model.ClaimRecord{}).
		Where("id = ? AND status = ?", id, model.ClaimStatusPending).
		Update("reward_amount", amount)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// ListByWallet returns a wallet's claim history for a task, newest first.
func (r *ClaimRepository) ListByWallet(ctx context.Context, wallet, taskType string, limit int) ([]*model.ClaimRecord, error) {
	var recs []*model.ClaimRecord
	q := r.db.WithContext(ctx).
		Where("wallet = ? AND task_type = ?", strings.ToLower(wallet), taskType).
		Order("created_at desc")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

// ListPendingReview returns the review queue, oldest first. An empty
// taskType spans all tasks.
func (r *ClaimRepository) ListPendingReview(ctx context.Context, taskType string, limit int) ([]*model.ClaimRecord, error) {
	var recs []*model.ClaimRecord
	q := r.db.WithContext(ctx).
		Where("status = ?", model.ClaimStatusPending).
		Order("created_at asc")
	if taskType != "" {
		q = q.Where("task_type = ?", taskType)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Find(&recs).Error; err != nil {
		return nil, err
	}
	return recs, nil
}

package model

import (
	"time"

	"gorm.io/gorm"
)

// Claim statuses. A record is created pending and moves to exactly one
// terminal state; rows are never deleted, they are the proof of payment.
const (
	ClaimStatusPending   = "pending"
	ClaimStatusCompleted = "completed"
	ClaimStatusFailed    = "failed"
	ClaimStatusRejected  = "rejected"
)

// Task types paid out by the engine.
const (
	TaskLearnAndEarn     = "learn_and_earn"
	TaskTelegram         = "telegram_task"
	TaskTwitter          = "twitter_task"
	TaskFacebook         = "facebook_task"
	TaskCommunityStories = "community_stories"
)

// ClaimRecord is one logical reward request. IdempotencyKey is
// task-specific (post URL, quiz session id, submission id) and unique
// per task; at most one record per key may ever reach completed.
type ClaimRecord struct {
	ID             uint64     `gorm:"primaryKey" json:"id"`
	IdempotencyKey string     `gorm:"size:512;not null;index:idx_task_key,unique,priority:2" json:"idempotency_key"`
	TaskType       string     `gorm:"size:32;not null;index:idx_task_key,unique,priority:1;index:idx_wallet_task,priority:2" json:"task_type"`
	Wallet         string     `gorm:"size:64;not null;index:idx_wallet_task,priority:1" json:"wallet"`
	RewardAmount   string     `gorm:"type:text;not null" json:"reward_amount"` // wei, decimal string
	Status         string     `gorm:"size:20;not null;default:pending;index" json:"status"`
	TxHash         *string    `gorm:"size:128" json:"tx_hash,omitempty"`
	Reason         string     `gorm:"type:text" json:"reason,omitempty"`
	ReviewedBy     *string    `gorm:"size:64" json:"reviewed_by,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	ResolvedAt     *time.Time `json:"resolved_at,omitempty"`
}

// Terminal reports whether the record can no longer transition.
func (c *ClaimRecord) Terminal() bool {
	return c.Status != ClaimStatusPending
}

func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&ClaimRecord{})
}

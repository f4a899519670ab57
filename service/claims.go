package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/goodmarket/reward-engine/model"
	"github.com/goodmarket/reward-engine/repository"
)

// ClaimStore is the persistence contract the engine needs. Reads must
// be strongly consistent with writes or the guard's race window widens;
// the duplicate signal of record is the store's uniqueness constraint.
type ClaimStore interface {
	FindByIdempotencyKey(ctx context.Context, taskType, key string) (*model.ClaimRecord, error)
	FindPending(ctx context.Context, wallet, taskType string) (*model.ClaimRecord, error)
	FindLastRelevant(ctx context.Context, wallet, taskType string, statuses []string, since time.Time) (*model.ClaimRecord, error)
	FindByID(ctx context.Context, id uint64) (*model.ClaimRecord, error)
	Insert(ctx context.Context, rec *model.ClaimRecord) error
	UpdateStatus(ctx context.Context, id uint64, status string, txHash *string, reason string, reviewedBy *string) error
	UpdateAmount(ctx context.Context, id uint64, amount string) error
}

// UBIChecker proves a wallet recently claimed its UBI. Auto-disbursing
// tasks refuse to pay wallets that cannot show a recent claim.
type UBIChecker interface {
	Verify(ctx context.Context, wallet string) VerificationResult
}

// Admission is the guard's verdict on one claim attempt.
type Admission struct {
	Allowed        bool         `json:"allowed"`
	Reason         RejectReason `json:"reason,omitempty"`
	Message        string       `json:"message,omitempty"`
	NextEligibleAt *time.Time   `json:"next_eligible_at,omitempty"`
}

// SubmitRequest carries one claim attempt. The payout amount is never
// part of it: the server derives the reward from the task's configured
// tiers, so callers cannot choose what they are paid.
type SubmitRequest struct {
	TaskType       string
	Wallet         string
	IdempotencyKey string

	// Video marks a video submission, which pays the task's video
	// reward tier when one is configured.
	Video bool
}

type SubmitResult struct {
	Admission    Admission          `json:"admission"`
	Record       *model.ClaimRecord `json:"record,omitempty"`
	Disbursement *DisburseResult    `json:"disbursement,omitempty"`
}

// ClaimService ties the guard, cooldown policy, payout pool and claim
// ledger together. All user-facing flows go through here.
type ClaimService struct {
	store   ClaimStore
	pool    *PayoutPool
	rewards *RewardContract
	ubi     UBIChecker
	tasks   map[string]*TaskConfig
	now     func() time.Time
}

func NewClaimService(store ClaimStore, pool *PayoutPool, rewards *RewardContract, ubi UBIChecker, tasks map[string]*TaskConfig) *ClaimService {
	return &ClaimService{
		store:   store,
		pool:    pool,
		rewards: rewards,
		ubi:     ubi,
		tasks:   tasks,
		now:     func() time.Time { return time.Now().UTC() },
	}
}

func (s *ClaimService) Task(name string) (*TaskConfig, bool) {
	t, ok := s.tasks[name]
	return t, ok
}

// Admit runs the pre-payout checks in order: key reuse, pending review,
// cooldown, participation window. It must be called before any
// transaction is built; the definitive duplicate check is still the
// insert itself.
func (s *ClaimService) Admit(ctx context.Context, taskType, key, wallet string) (Admission, error) {
	task, ok := s.tasks[taskType]
	if !ok {
		return Admission{}, fmt.Errorf("unknown task type %q", taskType)
	}
	if !ValidWallet(wallet) {
		return Admission{}, ErrInvalidWallet
	}

	existing, err := s.store.FindByIdempotencyKey(ctx, taskType, key)
	if err != nil {
		return Admission{}, err
	}
	if existing != nil {
		if sameWallet(existing.Wallet, wallet) {
			msg := "You already used this submission. Please create a new one."
			reason := RejectDuplicateSameWallet
			if existing.Status == model.ClaimStatusPending {
				msg = "You already submitted this. Please wait for review."
			}
			return Admission{Reason: reason, Message: msg}, nil
		}
		return Admission{
			Reason:  RejectDuplicateOtherWallet,
			Message: "This submission has already been claimed by another user.",
		}, nil
	}

	pending, err := s.store.FindPending(ctx, wallet, taskType)
	if err != nil {
		return Admission{}, err
	}
	if pending != nil {
		return Admission{
			Reason:  RejectPendingReview,
			Message: "Your previous submission is awaiting review.",
		}, nil
	}

	next, err := s.NextEligible(ctx, wallet, taskType)
	if err != nil {
		return Admission{}, err
	}
	if next.After(s.now()) {
		return Admission{
			Reason:         RejectCooldownActive,
			Message:        fmt.Sprintf("You can claim again at %s.", next.Format(time.RFC3339)),
			NextEligibleAt: &next,
		}, nil
	}

	if !task.Window.Contains(s.now()) {
		return Admission{
			Reason: RejectOutsideWindow,
			Message: fmt.Sprintf("Submissions open on day %d and close on day %d of each month (UTC).",
				task.Window.StartDay, task.Window.EndDay),
		}, nil
	}

	return Admission{Allowed: true}, nil
}

// NextEligible computes the wallet's cooldown boundary: the creation
// time of the last relevant record plus the task cooldown. Rejected
// records are excluded, so a rejection re-opens eligibility instantly;
// failed records are excluded too since an infrastructure fault is not
// the user's doing.
func (s *ClaimService) NextEligible(ctx context.Context, wallet, taskType string) (time.Time, error) {
	task, ok := s.tasks[taskType]
	if !ok {
		return time.Time{}, fmt.Errorf("unknown task type %q", taskType)
	}
	statuses := []string{model.ClaimStatusCompleted}
	if task.Cooldown.PendingCounts {
		statuses = append(statuses, model.ClaimStatusPending)
	}
	since := s.now().Add(-task.Cooldown.Duration)
	last, err := s.store.FindLastRelevant(ctx, wallet, taskType, statuses, since)
	if err != nil {
		return time.Time{}, err
	}
	if last == nil {
		return s.now(), nil
	}
	return last.CreatedAt.Add(task.Cooldown.Duration), nil
}

// Submit admits the claim, records it pending, and for auto-disbursing
// tasks immediately pays out. Review-gated tasks stay pending until an
// admin approves.
func (s *ClaimService) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	task, ok := s.tasks[req.TaskType]
	if !ok {
		return nil, fmt.Errorf("unknown task type %q", req.TaskType)
	}

	admission, err := s.Admit(ctx, req.TaskType, req.IdempotencyKey, req.Wallet)
	if err != nil {
		return nil, err
	}
	if !admission.Allowed {
		return &SubmitResult{Admission: admission}, nil
	}

	// Auto-disbursing tasks pay out with no human in the loop, so the
	// wallet must prove a recent UBI claim first. A chain outage is an
	// error here, never a pass.
	if task.AutoDisburse && task.RequireUBIClaim {
		if s.ubi == nil {
			return nil, fmt.Errorf("%s requires ubi verification but no verifier is configured", task.Name)
		}
		switch vr := s.ubi.Verify(ctx, req.Wallet); vr.Status {
		case VerifySuccess:
		case VerifyNoClaim:
			log.Printf("%s: rejecting %s, no recent ubi claim", task.Name, MaskWallet(req.Wallet))
			return &SubmitResult{Admission: Admission{
				Reason:  RejectNoUBIClaim,
				Message: "Claim your daily G$ UBI first, then try again.",
			}}, nil
		default:
			return nil, fmt.Errorf("ubi verification unavailable: %w", ErrNetwork)
		}
	}

	amount := task.DefaultReward
	if req.Video && task.VideoReward != nil {
		amount = task.VideoReward
	}

	rec := &model.ClaimRecord{
		IdempotencyKey: req.IdempotencyKey,
		TaskType:       req.TaskType,
		Wallet:         req.Wallet,
		RewardAmount:   amount.String(),
		Status:         model.ClaimStatusPending,
	}
	if err := s.store.Insert(ctx, rec); err != nil {
		if errors.Is(err, repository.ErrDuplicateKey) {
			// Another writer won the race between Admit and Insert.
			return &SubmitResult{Admission: Admission{
				Reason:  RejectDuplicateOtherWallet,
				Message: "This submission has already been claimed.",
			}}, nil
		}
		return nil, err
	}
	log.Printf("%s: claim %d recorded pending for %s", req.TaskType, rec.ID, MaskWallet(req.Wallet))

	if !task.AutoDisburse {
		return &SubmitResult{Admission: admission, Record: rec}, nil
	}
	return s.settle(ctx, task, rec, amount, nil)
}

// Approve disburses a pending claim and completes it. A disbursement
// failure marks the record failed without touching the wallet's
// cooldown; the operator retries once the platform-side fault clears.
// A non-nil amountWei replaces the recorded reward; this is the only
// place a caller may set a payout amount, and it sits behind the admin
// token.
func (s *ClaimService) Approve(ctx context.Context, id uint64, adminWallet string, amountWei *big.Int) (*SubmitResult, error) {
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Terminal() {
		return nil, fmt.Errorf("claim %d not found or already processed", id)
	}
	task, ok := s.tasks[rec.TaskType]
	if !ok {
		return nil, fmt.Errorf("claim %d has unknown task type %q", id, rec.TaskType)
	}

	amount, ok := new(big.Int).SetString(rec.RewardAmount, 10)
	if !ok {
		return nil, fmt.Errorf("claim %d has malformed amount %q", id, rec.RewardAmount)
	}
	if amountWei != nil {
		if amountWei.Cmp(task.MinAmount) < 0 || amountWei.Cmp(task.MaxAmount) > 0 {
			return nil, fmt.Errorf("amount must be between %.2f and %.2f G$",
				FromWei(task.MinAmount), FromWei(task.MaxAmount))
		}
		if err := s.store.UpdateAmount(ctx, id, amountWei.String()); err != nil {
			return nil, err
		}
		amount = amountWei
		rec.RewardAmount = amountWei.String()
	}

	log.Printf("%s: admin %s approving claim %d", rec.TaskType, MaskWallet(adminWallet), id)
	return s.settle(ctx, task, rec, amount, &adminWallet)
}

// Reject marks a pending claim rejected. Unlike failed, the record no
// longer counts toward the cooldown, so the user may resubmit at once.
func (s *ClaimService) Reject(ctx context.Context, id uint64, adminWallet, reason string) (*model.ClaimRecord, error) {
	rec, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if rec == nil || rec.Terminal() {
		return nil, fmt.Errorf("claim %d not found or already processed", id)
	}
	if err := s.store.UpdateStatus(ctx, id, model.ClaimStatusRejected, nil, reason, &adminWallet); err != nil {
		return nil, err
	}
	log.Printf("%s: claim %d rejected by %s, wallet eligible again", rec.TaskType, id, MaskWallet(adminWallet))
	return s.store.FindByID(ctx, id)
}

// settle runs the payout and advances the record. A receipt timeout is
// recorded as failed with the tx hash kept for reconciliation; the
// engine never resubmits a transaction whose fate is unknown.
func (s *ClaimService) settle(ctx context.Context, task *TaskConfig, rec *model.ClaimRecord, amount *big.Int, reviewedBy *string) (*SubmitResult, error) {
	var result DisburseResult
	if task.UseRewardContract && s.rewards != nil {
		result = s.rewards.DisburseReward(ctx, task, rec.Wallet, amount, rec.IdempotencyKey)
	} else {
		result = <-s.pool.Submit(ctx, task, rec.Wallet, amount)
	}

	var txHash *string
	if result.TxHash != "" {
		txHash = &result.TxHash
	}

	status := model.ClaimStatusFailed
	reason := result.Message
	if result.Success {
		status = model.ClaimStatusCompleted
		reason = ""
	} else if result.ErrorKind == ErrKindReceiptTimeout {
		reason = "receipt timeout, pending manual reconciliation: " + result.Message
	}

	if err := s.store.UpdateStatus(ctx, rec.ID, status, txHash, reason, reviewedBy); err != nil {
		return nil, err
	}
	updated, err := s.store.FindByID(ctx, rec.ID)
	if err != nil {
		return nil, err
	}
	return &SubmitResult{
		Admission:    Admission{Allowed: true},
		Record:       updated,
		Disbursement: &result,
	}, nil
}

func sameWallet(a, b string) bool {
	return strings.EqualFold(a, b)
}

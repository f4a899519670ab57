package service

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"gorm.io/gorm"

	"github.com/goodmarket/reward-engine/model"
	"github.com/goodmarket/reward-engine/repository"
)

// fakeUBI answers every verification with a canned status.
type fakeUBI struct {
	status string
}

func (f *fakeUBI) Verify(ctx context.Context, wallet string) VerificationResult {
	return VerificationResult{Status: f.status, Wallet: wallet}
}

// fakeStore is an in-memory ClaimStore enforcing the same uniqueness
// the database index does.
type fakeStore struct {
	mu   sync.Mutex
	seq  uint64
	recs []*model.ClaimRecord
}

func (s *fakeStore) FindByIdempotencyKey(ctx context.Context, taskType, key string) (*model.ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.TaskType == taskType && r.IdempotencyKey == key {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindPending(ctx context.Context, wallet, taskType string) (*model.ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.Wallet == strings.ToLower(wallet) && r.TaskType == taskType && r.Status == model.ClaimStatusPending {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) FindLastRelevant(ctx context.Context, wallet, taskType string, statuses []string, since time.Time) (*model.ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var last *model.ClaimRecord
	for _, r := range s.recs {
		if r.Wallet != strings.ToLower(wallet) || r.TaskType != taskType || r.CreatedAt.Before(since) {
			continue
		}
		match := false
		for _, st := range statuses {
			if r.Status == st {
				match = true
				break
			}
		}
		if !match {
			continue
		}
		if last == nil || r.CreatedAt.After(last.CreatedAt) {
			last = r
		}
	}
	if last == nil {
		return nil, nil
	}
	cp := *last
	return &cp, nil
}

func (s *fakeStore) FindByID(ctx context.Context, id uint64) (*model.ClaimRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.ID == id {
			cp := *r
			return &cp, nil
		}
	}
	return nil, nil
}

func (s *fakeStore) Insert(ctx context.Context, rec *model.ClaimRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.TaskType == rec.TaskType && r.IdempotencyKey == rec.IdempotencyKey {
			return repository.ErrDuplicateKey
		}
	}
	s.seq++
	rec.ID = s.seq
	rec.Wallet = strings.ToLower(rec.Wallet)
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	cp := *rec
	s.recs = append(s.recs, &cp)
	return nil
}

func (s *fakeStore) UpdateAmount(ctx context.Context, id uint64, amount string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.ID == id && r.Status == model.ClaimStatusPending {
			r.RewardAmount = amount
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

func (s *fakeStore) UpdateStatus(ctx context.Context, id uint64, status string, txHash *string, reason string, reviewedBy *string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range s.recs {
		if r.ID == id && r.Status == model.ClaimStatusPending {
			r.Status = status
			r.TxHash = txHash
			r.Reason = reason
			r.ReviewedBy = reviewedBy
			now := time.Now().UTC()
			r.ResolvedAt = &now
			return nil
		}
	}
	return nil
}

func newTestClaimService(t *testing.T, chain *fakeChain) (*ClaimService, *fakeStore, *PayoutPool) {
	t.Helper()
	d, telegram := newTestDisburser(t, chain)
	fundChain(chain, telegram.Custodian.Address(), 1, 1_000_000)

	telegram.Cooldown = CooldownRule{Duration: 24 * time.Hour, PendingCounts: true}
	telegram.DefaultReward = ToWei(1000)

	learn := &TaskConfig{
		Name:            model.TaskLearnAndEarn,
		Custodian:       telegram.Custodian,
		Cooldown:        CooldownRule{Duration: 24 * time.Hour},
		MinAmount:       ToWei(1),
		MaxAmount:       ToWei(10000),
		DefaultReward:   ToWei(500),
		GasLimit:        250_000,
		AutoDisburse:    true,
		RequireUBIClaim: true,
	}
	stories := &TaskConfig{
		Name:          model.TaskCommunityStories,
		Custodian:     telegram.Custodian,
		Cooldown:      CooldownRule{Duration: 24 * time.Hour, PendingCounts: true},
		MinAmount:     ToWei(1),
		MaxAmount:     ToWei(10000),
		DefaultReward: ToWei(2000),
		VideoReward:   ToWei(5000),
		GasLimit:      250_000,
		Window:        &MonthlyWindow{StartDay: 26, EndDay: 30},
	}

	tasks := map[string]*TaskConfig{
		model.TaskTelegram:         telegram,
		model.TaskLearnAndEarn:     learn,
		model.TaskCommunityStories: stories,
	}

	pool := NewPayoutPool(d, 2)
	t.Cleanup(pool.Shutdown)

	store := &fakeStore{}
	svc := NewClaimService(store, pool, nil, &fakeUBI{status: VerifySuccess}, tasks)
	return svc, store, pool
}

func submitTelegram(t *testing.T, svc *ClaimService, key, wallet string) *SubmitResult {
	t.Helper()
	res, err := svc.Submit(context.Background(), SubmitRequest{
		TaskType:       model.TaskTelegram,
		Wallet:         wallet,
		IdempotencyKey: key,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	return res
}

func TestSubmitRecordsPendingClaim(t *testing.T) {
	svc, _, _ := newTestClaimService(t, newFakeChain())

	res := submitTelegram(t, svc, "msg-1", testWallet)

	if !res.Admission.Allowed {
		t.Fatalf("expected admission, got %s", res.Admission.Reason)
	}
	if res.Record.Status != model.ClaimStatusPending {
		t.Fatalf("review-gated task must stay pending, got %s", res.Record.Status)
	}
	if res.Disbursement != nil {
		t.Fatal("no payout may happen before approval")
	}
}

func TestSubmitDuplicateKeySameWallet(t *testing.T) {
	svc, _, _ := newTestClaimService(t, newFakeChain())
	submitTelegram(t, svc, "msg-1", testWallet)

	res := submitTelegram(t, svc, "msg-1", testWallet)

	if res.Admission.Allowed {
		t.Fatal("duplicate key must be rejected")
	}
	if res.Admission.Reason != RejectDuplicateSameWallet {
		t.Fatalf("expected duplicate_claim_same_wallet, got %s", res.Admission.Reason)
	}
}

func TestSubmitDuplicateKeyOtherWallet(t *testing.T) {
	svc, _, _ := newTestClaimService(t, newFakeChain())
	submitTelegram(t, svc, "msg-1", testWallet)

	res := submitTelegram(t, svc, "msg-1", "0x2222222222222222222222222222222222222222")

	if res.Admission.Reason != RejectDuplicateOtherWallet {
		t.Fatalf("expected duplicate_claim_other_wallet, got %s", res.Admission.Reason)
	}
}

func TestSubmitWhilePendingReview(t *testing.T) {
	svc, _, _ := newTestClaimService(t, newFakeChain())
	submitTelegram(t, svc, "msg-1", testWallet)

	res := submitTelegram(t, svc, "msg-2", testWallet)

	if res.Admission.Reason != RejectPendingReview {
		t.Fatalf("expected awaiting_review, got %s", res.Admission.Reason)
	}
}

func TestApproveDisbursesAndBlocksViaCooldown(t *testing.T) {
	svc, _, _ := newTestClaimService(t, newFakeChain())
	first := submitTelegram(t, svc, "msg-1", testWallet)

	approved, err := svc.Approve(context.Background(), first.Record.ID, "0x3333333333333333333333333333333333333333", nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Record.Status != model.ClaimStatusCompleted {
		t.Fatalf("expected completed, got %s", approved.Record.Status)
	}
	if approved.Record.TxHash == nil || *approved.Record.TxHash == "" {
		t.Fatal("completed claim must carry its tx hash")
	}

	res := submitTelegram(t, svc, "msg-2", testWallet)
	if res.Admission.Reason != RejectCooldownActive {
		t.Fatalf("expected cooldown_active after payout, got %s", res.Admission.Reason)
	}
	if res.Admission.NextEligibleAt == nil {
		t.Fatal("cooldown rejection must carry the next eligible time")
	}
}

func TestApproveTwiceFails(t *testing.T) {
	svc, _, _ := newTestClaimService(t, newFakeChain())
	first := submitTelegram(t, svc, "msg-1", testWallet)
	admin := "0x3333333333333333333333333333333333333333"

	if _, err := svc.Approve(context.Background(), first.Record.ID, admin, nil); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if _, err := svc.Approve(context.Background(), first.Record.ID, admin, nil); err == nil {
		t.Fatal("second approval of the same claim must fail")
	}
}

func TestRejectReopensEligibility(t *testing.T) {
	svc, _, _ := newTestClaimService(t, newFakeChain())
	first := submitTelegram(t, svc, "msg-1", testWallet)

	rec, err := svc.Reject(context.Background(), first.Record.ID, "0x3333333333333333333333333333333333333333", "off-topic post")
	if err != nil {
		t.Fatalf("reject: %v", err)
	}
	if rec.Status != model.ClaimStatusRejected {
		t.Fatalf("expected rejected, got %s", rec.Status)
	}

	// A rejection must not burn the wallet's cooldown.
	res := submitTelegram(t, svc, "msg-2", testWallet)
	if !res.Admission.Allowed {
		t.Fatalf("wallet must be eligible right after rejection, got %s", res.Admission.Reason)
	}
}

func TestFailedPayoutLeavesCooldownUntouched(t *testing.T) {
	chain := newFakeChain()
	svc, _, _ := newTestClaimService(t, chain)
	first := submitTelegram(t, svc, "msg-1", testWallet)

	// Drain the treasury before approval so the payout fails.
	chain.mu.Lock()
	chain.callFn = func(msg ethereum.CallMsg, _ *big.Int) ([]byte, error) {
		return uint256Bytes(big.NewInt(0)), nil
	}
	chain.mu.Unlock()

	approved, err := svc.Approve(context.Background(), first.Record.ID, "0x3333333333333333333333333333333333333333", nil)
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Record.Status != model.ClaimStatusFailed {
		t.Fatalf("expected failed, got %s", approved.Record.Status)
	}

	res := submitTelegram(t, svc, "msg-2", testWallet)
	if !res.Admission.Allowed {
		t.Fatalf("failed payout must not extend cooldown, got %s", res.Admission.Reason)
	}
}

func TestAutoDisburseCompletesImmediately(t *testing.T) {
	svc, _, _ := newTestClaimService(t, newFakeChain())

	res, err := svc.Submit(context.Background(), SubmitRequest{
		TaskType:       model.TaskLearnAndEarn,
		Wallet:         testWallet,
		IdempotencyKey: "quiz-42",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Record.Status != model.ClaimStatusCompleted {
		t.Fatalf("expected completed, got %s", res.Record.Status)
	}
	if res.Disbursement == nil || !res.Disbursement.Success {
		t.Fatalf("expected successful disbursement, got %+v", res.Disbursement)
	}
	if want := ToWei(500).String(); res.Record.RewardAmount != want {
		t.Fatalf("auto-disburse must pay the configured reward, got %s want %s", res.Record.RewardAmount, want)
	}
}

func TestAutoDisburseRequiresRecentUBIClaim(t *testing.T) {
	chain := newFakeChain()
	svc, store, _ := newTestClaimService(t, chain)
	svc.ubi = &fakeUBI{status: VerifyNoClaim}

	res, err := svc.Submit(context.Background(), SubmitRequest{
		TaskType:       model.TaskLearnAndEarn,
		Wallet:         testWallet,
		IdempotencyKey: "quiz-42",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Admission.Allowed {
		t.Fatal("wallet without a recent ubi claim must not be paid")
	}
	if res.Admission.Reason != RejectNoUBIClaim {
		t.Fatalf("expected no_recent_ubi_claim, got %s", res.Admission.Reason)
	}
	if chain.sentCount() != 0 {
		t.Fatalf("no transaction may be broadcast, got %d", chain.sentCount())
	}
	store.mu.Lock()
	recorded := len(store.recs)
	store.mu.Unlock()
	if recorded != 0 {
		t.Fatalf("unverified submission must not be recorded, got %d records", recorded)
	}
}

func TestAutoDisburseFailsClosedOnVerifierOutage(t *testing.T) {
	chain := newFakeChain()
	svc, _, _ := newTestClaimService(t, chain)
	svc.ubi = &fakeUBI{status: VerifyError}

	_, err := svc.Submit(context.Background(), SubmitRequest{
		TaskType:       model.TaskLearnAndEarn,
		Wallet:         testWallet,
		IdempotencyKey: "quiz-42",
	})
	if !errors.Is(err, ErrNetwork) {
		t.Fatalf("verifier outage must surface as a network error, got %v", err)
	}
	if chain.sentCount() != 0 {
		t.Fatalf("no transaction may be broadcast, got %d", chain.sentCount())
	}
}

func TestApproveWithAmountOverride(t *testing.T) {
	svc, _, _ := newTestClaimService(t, newFakeChain())
	first := submitTelegram(t, svc, "msg-1", testWallet)
	admin := "0x3333333333333333333333333333333333333333"

	approved, err := svc.Approve(context.Background(), first.Record.ID, admin, ToWei(750))
	if err != nil {
		t.Fatalf("approve: %v", err)
	}
	if approved.Record.Status != model.ClaimStatusCompleted {
		t.Fatalf("expected completed, got %s", approved.Record.Status)
	}
	if want := ToWei(750).String(); approved.Record.RewardAmount != want {
		t.Fatalf("override not persisted, got %s want %s", approved.Record.RewardAmount, want)
	}
}

func TestApproveRejectsOutOfRangeOverride(t *testing.T) {
	chain := newFakeChain()
	svc, store, _ := newTestClaimService(t, chain)
	first := submitTelegram(t, svc, "msg-1", testWallet)
	admin := "0x3333333333333333333333333333333333333333"

	if _, err := svc.Approve(context.Background(), first.Record.ID, admin, ToWei(50_000)); err == nil {
		t.Fatal("out-of-range override must fail before any payout")
	}
	if chain.sentCount() != 0 {
		t.Fatalf("no transaction may be broadcast, got %d", chain.sentCount())
	}
	rec, _ := store.FindByID(context.Background(), first.Record.ID)
	if rec.Status != model.ClaimStatusPending {
		t.Fatalf("claim must stay pending after a bad override, got %s", rec.Status)
	}
}

func TestConcurrentSubmitsSameKeyCreateOneRecord(t *testing.T) {
	svc, store, _ := newTestClaimService(t, newFakeChain())

	const writers = 16
	results := make([]*SubmitResult, writers)
	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			wallet := testWallet
			if i%2 == 1 {
				wallet = "0x2222222222222222222222222222222222222222"
			}
			res, err := svc.Submit(context.Background(), SubmitRequest{
				TaskType:       model.TaskTelegram,
				Wallet:         wallet,
				IdempotencyKey: "msg-race",
			})
			if err != nil {
				t.Errorf("submit %d: %v", i, err)
				return
			}
			results[i] = res
		}(i)
	}
	wg.Wait()

	winners := 0
	for _, res := range results {
		if res != nil && res.Admission.Allowed {
			winners++
		}
	}
	if winners != 1 {
		t.Fatalf("exactly one concurrent submit may win, got %d", winners)
	}
	store.mu.Lock()
	recorded := len(store.recs)
	store.mu.Unlock()
	if recorded != 1 {
		t.Fatalf("the key must map to exactly one record, got %d", recorded)
	}
}

func TestWindowRejectsOutsideDays(t *testing.T) {
	svc, _, _ := newTestClaimService(t, newFakeChain())
	svc.now = func() time.Time { return time.Date(2026, 8, 15, 12, 0, 0, 0, time.UTC) }

	res, err := svc.Submit(context.Background(), SubmitRequest{
		TaskType:       model.TaskCommunityStories,
		Wallet:         testWallet,
		IdempotencyKey: "story-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if res.Admission.Reason != RejectOutsideWindow {
		t.Fatalf("expected outside_participation_window, got %s", res.Admission.Reason)
	}

	svc.now = func() time.Time { return time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC) }
	res, err = svc.Submit(context.Background(), SubmitRequest{
		TaskType:       model.TaskCommunityStories,
		Wallet:         testWallet,
		IdempotencyKey: "story-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if !res.Admission.Allowed {
		t.Fatalf("expected admission inside window, got %s", res.Admission.Reason)
	}
}

func TestVideoSubmissionPaysVideoTier(t *testing.T) {
	svc, _, _ := newTestClaimService(t, newFakeChain())
	svc.now = func() time.Time { return time.Date(2026, 8, 27, 12, 0, 0, 0, time.UTC) }

	res, err := svc.Submit(context.Background(), SubmitRequest{
		TaskType:       model.TaskCommunityStories,
		Wallet:         testWallet,
		IdempotencyKey: "story-video-1",
		Video:          true,
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if want := ToWei(5000).String(); res.Record.RewardAmount != want {
		t.Fatalf("video submission recorded %s, want %s", res.Record.RewardAmount, want)
	}

	res, err = svc.Submit(context.Background(), SubmitRequest{
		TaskType:       model.TaskCommunityStories,
		Wallet:         "0x2222222222222222222222222222222222222222",
		IdempotencyKey: "story-text-1",
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}
	if want := ToWei(2000).String(); res.Record.RewardAmount != want {
		t.Fatalf("text submission recorded %s, want %s", res.Record.RewardAmount, want)
	}
}

func TestNextEligibleWithoutHistory(t *testing.T) {
	svc, _, _ := newTestClaimService(t, newFakeChain())

	next, err := svc.NextEligible(context.Background(), testWallet, model.TaskTelegram)
	if err != nil {
		t.Fatalf("next eligible: %v", err)
	}
	if next.After(time.Now().UTC()) {
		t.Fatal("wallet with no history must be eligible immediately")
	}
}

func TestUnknownTask(t *testing.T) {
	svc, _, _ := newTestClaimService(t, newFakeChain())

	if _, err := svc.Submit(context.Background(), SubmitRequest{
		TaskType:       "bogus_task",
		Wallet:         testWallet,
		IdempotencyKey: "k",
	}); err == nil {
		t.Fatal("expected error for unknown task")
	}
}

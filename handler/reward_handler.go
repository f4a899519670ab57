package handler

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/goodmarket/reward-engine/model"
	"github.com/goodmarket/reward-engine/repository"
	"github.com/goodmarket/reward-engine/service"
)

type RewardHandler struct {
	claims   *service.ClaimService
	verifier *service.UBIVerifier
	balances *service.BalanceReader
	repo     *repository.ClaimRepository
}

func NewRewardHandler(claims *service.ClaimService, verifier *service.UBIVerifier, balances *service.BalanceReader, repo *repository.ClaimRepository) *RewardHandler {
	return &RewardHandler{claims: claims, verifier: verifier, balances: balances, repo: repo}
}

// POST /api/rewards/verify
func (h *RewardHandler) VerifyUBI(c *gin.Context) {
	var req struct {
		Wallet string `json:"wallet" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet is required"})
		return
	}

	result := h.verifier.Verify(c.Request.Context(), req.Wallet)
	status := http.StatusOK
	if result.Status == service.VerifyError {
		status = http.StatusServiceUnavailable
	}
	c.JSON(status, result)
}

// GET /api/rewards/balance
func (h *RewardHandler) GetBalance(c *gin.Context) {
	wallet := c.Query("wallet")
	if !service.ValidWallet(wallet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet address"})
		return
	}

	balance, err := h.balances.TokenBalance(c.Request.Context(), common.HexToAddress(wallet))
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"wallet":      wallet,
		"balance_wei": balance.String(),
		"balance":     service.FromWei(balance),
	})
}

// GET /api/rewards/:task/eligibility
func (h *RewardHandler) GetEligibility(c *gin.Context) {
	task := c.Param("task")
	wallet := c.Query("wallet")
	if !service.ValidWallet(wallet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet address"})
		return
	}

	next, err := h.claims.NextEligible(c.Request.Context(), wallet, task)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	now := time.Now().UTC()
	resp := gin.H{"task": task, "wallet": wallet, "eligible": !next.After(now)}
	if next.After(now) {
		resp["next_eligible_at"] = next.Format(time.RFC3339)
	}
	c.JSON(http.StatusOK, resp)
}

// POST /api/rewards/:task/claims
func (h *RewardHandler) SubmitClaim(c *gin.Context) {
	task := c.Param("task")
	// No amount field: the reward comes from the task's configured
	// tiers, never from the caller.
	var req struct {
		Wallet         string `json:"wallet" binding:"required"`
		Key            string `json:"key" binding:"required"`
		SubmissionType string `json:"submission_type"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "wallet and key are required"})
		return
	}
	if !service.ValidWallet(req.Wallet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet address"})
		return
	}

	sub := service.SubmitRequest{
		TaskType:       task,
		Wallet:         req.Wallet,
		IdempotencyKey: req.Key,
		Video:          req.SubmissionType == "video",
	}

	result, err := h.claims.Submit(c.Request.Context(), sub)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, service.ErrNetwork) {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	if !result.Admission.Allowed {
		c.JSON(http.StatusConflict, result)
		return
	}
	c.JSON(http.StatusOK, result)
}

// GET /api/rewards/:task/claims
func (h *RewardHandler) GetClaimHistory(c *gin.Context) {
	task := c.Param("task")
	wallet := c.Query("wallet")
	limit, _ := strconv.Atoi(c.Query("limit"))
	if !service.ValidWallet(wallet) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet address"})
		return
	}

	records, err := h.repo.ListByWallet(c.Request.Context(), wallet, task, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"total": len(records), "records": records})
}

// GET /api/rewards/tasks
func (h *RewardHandler) ListTasks(c *gin.Context) {
	names := []string{
		model.TaskLearnAndEarn, model.TaskTelegram, model.TaskTwitter,
		model.TaskFacebook, model.TaskCommunityStories,
	}
	tasks := make([]gin.H, 0, len(names))
	for _, name := range names {
		t, ok := h.claims.Task(name)
		if !ok {
			continue
		}
		entry := gin.H{
			"name":           t.Name,
			"reward":         service.FromWei(t.DefaultReward),
			"cooldown_hours": int(t.Cooldown.Duration.Hours()),
			"needs_review":   !t.AutoDisburse,
		}
		if t.Window != nil {
			entry["window"] = gin.H{"start_day": t.Window.StartDay, "end_day": t.Window.EndDay}
		}
		tasks = append(tasks, entry)
	}
	c.JSON(http.StatusOK, gin.H{"tasks": tasks})
}

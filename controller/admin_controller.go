package controller

import (
	"math/big"
	"net/http"
	"strconv"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"

	"github.com/goodmarket/reward-engine/repository"
	"github.com/goodmarket/reward-engine/service"
)

// AdminController exposes the review queue and treasury operations.
// Routes under /api/admin sit behind the admin token middleware.
type AdminController struct {
	ClaimService *service.ClaimService
	Repo         *repository.ClaimRepository
	Balances     *service.BalanceReader
	Rewards      *service.RewardContract
}

// GET /api/admin/claims/pending
func (c *AdminController) GetPendingClaims(ctx *gin.Context) {
	taskType := ctx.Query("task")
	limit, _ := strconv.Atoi(ctx.Query("limit"))
	if limit <= 0 {
		limit = 100
	}

	records, err := c.Repo.ListPendingReview(ctx.Request.Context(), taskType, limit)
	if err != nil {
		ctx.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"total": len(records), "records": records})
}

// POST /api/admin/claims/:id/approve
func (c *AdminController) ApproveClaim(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid claim id"})
		return
	}
	// The reviewer may override the reward here; this is the only
	// surface that accepts an amount, and it sits behind the admin
	// token.
	var req struct {
		AdminWallet string   `json:"admin_wallet" binding:"required"`
		Amount      *float64 `json:"amount"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "admin_wallet is required"})
		return
	}

	var amount *big.Int
	if req.Amount != nil {
		if *req.Amount <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
			return
		}
		amount = service.ToWei(*req.Amount)
	}

	result, err := c.ClaimService.Approve(ctx.Request.Context(), id, req.AdminWallet, amount)
	if err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, result)
}

// POST /api/admin/claims/:id/reject
func (c *AdminController) RejectClaim(ctx *gin.Context) {
	id, err := strconv.ParseUint(ctx.Param("id"), 10, 64)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid claim id"})
		return
	}
	var req struct {
		AdminWallet string `json:"admin_wallet" binding:"required"`
		Reason      string `json:"reason"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "admin_wallet is required"})
		return
	}
	if req.Reason == "" {
		req.Reason = "rejected by reviewer"
	}

	record, err := c.ClaimService.Reject(ctx.Request.Context(), id, req.AdminWallet, req.Reason)
	if err != nil {
		ctx.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{"record": record})
}

// GET /api/admin/treasury/:task
func (c *AdminController) GetTreasury(ctx *gin.Context) {
	taskName := ctx.Param("task")
	task, ok := c.ClaimService.Task(taskName)
	if !ok || task.Custodian == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "unknown task"})
		return
	}

	addr := task.Custodian.Address()
	token, err := c.Balances.TokenBalance(ctx.Request.Context(), addr)
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	native, err := c.Balances.NativeBalance(ctx.Request.Context(), addr)
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"task":          taskName,
		"custodian":     addr.Hex(),
		"token_balance": service.FromWei(token),
		"gas_balance":   service.FromWei(native),
	})
}

// GET /api/admin/contract/stats
func (c *AdminController) GetContractStats(ctx *gin.Context) {
	if c.Rewards == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "reward contract not configured"})
		return
	}
	stats, err := c.Rewards.ContractStats(ctx.Request.Context())
	if err != nil {
		ctx.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}
	paused, _ := c.Rewards.Paused(ctx.Request.Context())
	ctx.JSON(http.StatusOK, gin.H{
		"balance":         service.FromWei(stats.Balance),
		"total_deposited": service.FromWei(stats.Deposited),
		"total_disbursed": service.FromWei(stats.Disbursed),
		"total_withdrawn": service.FromWei(stats.Withdrawn),
		"paused":          paused,
	})
}

// GET /api/admin/contract/users/:wallet
func (c *AdminController) GetContractUserStats(ctx *gin.Context) {
	if c.Rewards == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "reward contract not configured"})
		return
	}
	wallet := ctx.Param("wallet")
	stats, err := c.Rewards.UserStats(ctx.Request.Context(), wallet)
	if err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	ctx.JSON(http.StatusOK, gin.H{
		"wallet":        common.HexToAddress(wallet).Hex(),
		"total_rewards": service.FromWei(stats.TotalRewards),
		"reward_count":  stats.RewardCount.Uint64(),
	})
}

// POST /api/admin/contract/deposit
func (c *AdminController) DepositToContract(ctx *gin.Context) {
	if c.Rewards == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "reward contract not configured"})
		return
	}
	var req struct {
		Amount float64 `json:"amount" binding:"required"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil || req.Amount <= 0 {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "positive amount is required"})
		return
	}

	result := c.Rewards.Deposit(ctx.Request.Context(), service.ToWei(req.Amount))
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	ctx.JSON(status, result)
}

// POST /api/admin/contract/withdraw
func (c *AdminController) WithdrawFromContract(ctx *gin.Context) {
	if c.Rewards == nil {
		ctx.JSON(http.StatusNotFound, gin.H{"error": "reward contract not configured"})
		return
	}
	var req struct {
		Amount *float64 `json:"amount"`
	}
	if err := ctx.ShouldBindJSON(&req); err != nil {
		ctx.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}

	var amount *big.Int
	if req.Amount != nil {
		if *req.Amount <= 0 {
			ctx.JSON(http.StatusBadRequest, gin.H{"error": "amount must be positive"})
			return
		}
		amount = service.ToWei(*req.Amount)
	}

	result := c.Rewards.Withdraw(ctx.Request.Context(), amount)
	status := http.StatusOK
	if !result.Success {
		status = http.StatusUnprocessableEntity
	}
	ctx.JSON(status, result)
}

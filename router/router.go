package router

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/goodmarket/reward-engine/controller"
	"github.com/goodmarket/reward-engine/handler"
)

func SetupRouter(rewardHandler *handler.RewardHandler, admin *controller.AdminController, adminToken string) *gin.Engine {
	r := gin.Default()
	r.Use(requestID())

	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	api := r.Group("/api/rewards")
	{
		api.POST("/verify", rewardHandler.VerifyUBI)
		api.GET("/balance", rewardHandler.GetBalance)
		api.GET("/tasks", rewardHandler.ListTasks)
		api.GET("/:task/eligibility", rewardHandler.GetEligibility)
		api.POST("/:task/claims", rewardHandler.SubmitClaim)
		api.GET("/:task/claims", rewardHandler.GetClaimHistory)
	}

	adm := r.Group("/api/admin", adminAuth(adminToken))
	{
		adm.GET("/claims/pending", admin.GetPendingClaims)
		adm.POST("/claims/:id/approve", admin.ApproveClaim)
		adm.POST("/claims/:id/reject", admin.RejectClaim)
		adm.GET("/treasury/:task", admin.GetTreasury)
		adm.GET("/contract/stats", admin.GetContractStats)
		adm.GET("/contract/users/:wallet", admin.GetContractUserStats)
		adm.POST("/contract/deposit", admin.DepositToContract)
		adm.POST("/contract/withdraw", admin.WithdrawFromContract)
	}

	return r
}

// requestID tags every response so payout attempts can be correlated
// with server logs.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Request-ID", id)
		c.Next()
	}
}

// adminAuth gates the review and treasury routes on a static bearer
// token. An empty configured token disables the admin surface entirely.
func adminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin API disabled"})
			return
		}
		got := c.GetHeader("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		c.Next()
	}
}

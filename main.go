package main

import (
	"log"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"github.com/goodmarket/reward-engine/config"
	"github.com/goodmarket/reward-engine/controller"
	"github.com/goodmarket/reward-engine/handler"
	"github.com/goodmarket/reward-engine/model"
	"github.com/goodmarket/reward-engine/repository"
	"github.com/goodmarket/reward-engine/router"
	"github.com/goodmarket/reward-engine/service"
)

func main() {
	config.Load()
	cc := config.Chain()

	db := initDB()
	repo := repository.NewClaimRepository(db)

	chain, err := service.DialChain(cc)
	if err != nil {
		log.Fatalf("chain dial: %v", err)
	}

	token := common.HexToAddress(cc.TokenContract)
	balances := service.NewBalanceReader(chain, token)
	resolver := service.NewBlockRangeResolver(chain, cc.BlocksPerHour)
	verifier := service.NewUBIVerifier(chain, resolver, token, common.HexToAddress(cc.UBIProxy))

	tasks := service.LoadTaskCatalog(cc)
	if len(tasks) == 0 {
		log.Fatal("no task custodians configured, nothing to serve")
	}

	disburser := service.NewDisburser(chain, balances, cc)
	pool := service.NewPayoutPool(disburser, cc.PayoutWorkers)
	defer pool.Shutdown()

	var rewards *service.RewardContract
	if learn, ok := tasks[model.TaskLearnAndEarn]; ok {
		rewards = service.NewRewardContract(chain, disburser, learn.Custodian, cc)
	}

	claims := service.NewClaimService(repo, pool, rewards, verifier, tasks)

	rewardHandler := handler.NewRewardHandler(claims, verifier, balances, repo)
	admin := &controller.AdminController{
		ClaimService: claims,
		Repo:         repo,
		Balances:     balances,
		Rewards:      rewards,
	}

	r := router.SetupRouter(rewardHandler, admin, config.Get("ADMIN_API_TOKEN", ""))

	addr := ":" + config.Get("PORT", "8080")
	log.Printf("reward engine listening on %s (chain %d)", addr, cc.ChainID)
	if err := r.Run(addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}

func initDB() *gorm.DB {
	db, err := gorm.Open(postgres.Open(config.DSN()), &gorm.Config{})
	if err != nil {
		log.Fatalf("database open: %v", err)
	}
	if err := model.AutoMigrate(db); err != nil {
		log.Fatalf("database migrate: %v", err)
	}
	return db
}

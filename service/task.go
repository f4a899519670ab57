package service

import (
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/goodmarket/reward-engine/config"
	"github.com/goodmarket/reward-engine/model"
)

// CooldownRule makes the eligibility policy explicit per task instead
// of implicit in control flow. PendingCounts covers tasks that gate on
// submission rather than approval. Rejected records never extend the
// cooldown: a reviewer rejection makes the wallet immediately eligible
// again, while an infrastructure failure leaves the window untouched.
type CooldownRule struct {
	Duration      time.Duration
	PendingCounts bool
}

// MonthlyWindow restricts submissions to a slice of each month
// (community stories run the 26th through the 30th, UTC).
type MonthlyWindow struct {
	StartDay int
	EndDay   int
}

func (w *MonthlyWindow) Contains(t time.Time) bool {
	if w == nil {
		return true
	}
	day := t.UTC().Day()
	return day >= w.StartDay && day <= w.EndDay
}

// TaskConfig parameterizes the one generic disbursement pipeline for a
// task module. Each module supplies only its custodial key, bounds, and
// idempotency-key shape; the pipeline itself is shared.
type TaskConfig struct {
	Name          string
	Custodian     *CustodialAccount
	Cooldown      CooldownRule
	MinAmount     *big.Int
	MaxAmount     *big.Int
	DefaultReward *big.Int

	// VideoReward, when set, replaces DefaultReward for submissions
	// marked as video content.
	VideoReward *big.Int
	GasLimit      uint64
	Window        *MonthlyWindow

	// AutoDisburse pays out at submission time (quiz completions);
	// otherwise the claim waits pending until a reviewer approves.
	AutoDisburse bool

	// RequireUBIClaim gates auto-disbursement on a recent UBI claim by
	// the recipient wallet. Without it an unreviewed task would pay any
	// address that shows up.
	RequireUBIClaim bool

	// UseRewardContract routes payouts through the on-chain rewards
	// contract, whose processedRewards mapping is checked atomically in
	// the paying transaction. Strictly stronger than the off-chain
	// guard; preferred where a contract is deployed.
	UseRewardContract bool
}

// LoadTaskCatalog builds the five task modules from the environment.
// Tasks without a configured key are skipped with a warning so a
// partially configured deployment still serves the remaining tasks.
func LoadTaskCatalog(cc config.ChainConfig) map[string]*TaskConfig {
	catalog := make(map[string]*TaskConfig)

	specs := []struct {
		name          string
		keyEnvs       []string
		mnemonicIndex uint32
		defaultReward float64
		videoReward   float64
		pendingCounts bool
		autoDisburse  bool
		requireUBI    bool
		window        *MonthlyWindow
		useContract   bool
	}{
		{model.TaskLearnAndEarn, []string{"LEARN_WALLET_PRIVATE_KEY"}, 0, 500, 0, false, true, true, nil, cc.RewardContract != ""},
		{model.TaskTelegram, []string{"TELEGRAM_TASK_KEY", "TASK_KEY"}, 1, 1000, 0, true, false, false, nil, false},
		{model.TaskTwitter, []string{"TWITTER_TASK_KEY", "TASK_KEY"}, 2, 1000, 0, true, false, false, nil, false},
		{model.TaskFacebook, []string{"FACEBOOK_TASK_KEY", "TASK_KEY"}, 3, 1000, 0, true, false, false, nil, false},
		{model.TaskCommunityStories, []string{"COMMUNITY_KEY"}, 4, 2000, 5000, true, false, false, &MonthlyWindow{
			StartDay: config.GetInt("STORIES_WINDOW_START_DAY", 26),
			EndDay:   config.GetInt("STORIES_WINDOW_END_DAY", 30),
		}, false},
	}

	for _, s := range specs {
		account := resolveCustodian(s.keyEnvs, cc.PlatformMnemonic, s.mnemonicIndex)
		if account == nil {
			log.Printf("task %s: no custodial key configured, task disabled", s.name)
			continue
		}

		prefix := strings.ToUpper(s.name)
		cooldown := time.Duration(config.GetInt(prefix+"_COOLDOWN_HOURS", 24)) * time.Hour

		var videoReward *big.Int
		if s.videoReward > 0 {
			videoReward = ToWei(config.GetFloat(prefix+"_VIDEO_REWARD", s.videoReward))
		}

		catalog[s.name] = &TaskConfig{
			Name:              s.name,
			Custodian:         account,
			Cooldown:          CooldownRule{Duration: cooldown, PendingCounts: s.pendingCounts},
			MinAmount:         ToWei(config.GetFloat(prefix+"_MIN_REWARD", 1)),
			MaxAmount:         ToWei(config.GetFloat(prefix+"_MAX_REWARD", 10000)),
			DefaultReward:     ToWei(config.GetFloat(prefix+"_REWARD", s.defaultReward)),
			VideoReward:       videoReward,
			GasLimit:          uint64(config.GetInt(prefix+"_GAS_LIMIT", int(cc.TransferGasCap))),
			Window:            s.window,
			AutoDisburse:      s.autoDisburse,
			RequireUBIClaim:   s.requireUBI,
			UseRewardContract: s.useContract,
		}
		log.Printf("task %s: custodian %s, cooldown %s", s.name, MaskWallet(account.Address().Hex()), cooldown)
	}
	return catalog
}

func resolveCustodian(keyEnvs []string, mnemonic string, index uint32) *CustodialAccount {
	for _, env := range keyEnvs {
		hexKey := config.Get(env, "")
		if hexKey == "" {
			continue
		}
		account, err := CustodianFromHex(hexKey)
		if err != nil {
			log.Printf("custodian %s: %v", env, err)
			continue
		}
		return account
	}
	if mnemonic != "" {
		account, err := CustodianFromMnemonic(mnemonic, index)
		if err != nil {
			log.Printf("custodian derivation index %d: %v", index, err)
			return nil
		}
		return account
	}
	return nil
}

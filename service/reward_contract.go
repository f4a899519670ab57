package service

import (
	"context"
	"fmt"
	"log"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"

	"github.com/goodmarket/reward-engine/config"
)

// LearnAndEarnRewards contract surface. The contract keys every payout
// by keccak256(recipient, quizId) and reverts on replays, so the
// dedupe check runs inside the paying transaction itself.
const rewardContractABIJSON = `[
	{"inputs":[{"name":"amount","type":"uint256"}],"name":"deposit","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"recipient","type":"address"},{"name":"amount","type":"uint256"},{"name":"quizId","type":"string"}],"name":"disburseReward","outputs":[{"name":"","type":"bytes32"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"recipients","type":"address[]"},{"name":"amounts","type":"uint256[]"},{"name":"quizIds","type":"string[]"}],"name":"batchDisburseRewards","outputs":[{"name":"","type":"bytes32[]"}],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[{"name":"amount","type":"uint256"}],"name":"withdraw","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"withdrawAll","outputs":[],"stateMutability":"nonpayable","type":"function"},
	{"inputs":[],"name":"getContractBalance","outputs":[{"name":"","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"user","type":"address"}],"name":"getUserStats","outputs":[{"name":"totalRewards","type":"uint256"},{"name":"rewardCount","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"getContractStats","outputs":[{"name":"balance","type":"uint256"},{"name":"deposited","type":"uint256"},{"name":"disbursed","type":"uint256"},{"name":"withdrawn","type":"uint256"}],"stateMutability":"view","type":"function"},
	{"inputs":[],"name":"paused","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"recipient","type":"address"},{"name":"quizId","type":"string"}],"name":"isQuizRewardClaimed","outputs":[{"name":"","type":"bool"}],"stateMutability":"view","type":"function"},
	{"inputs":[{"name":"recipient","type":"address"},{"name":"quizId","type":"string"}],"name":"getRewardId","outputs":[{"name":"","type":"bytes32"}],"stateMutability":"pure","type":"function"}
]`

var rewardContractABI = mustABI(rewardContractABIJSON)

const (
	approveGasLimit = 100_000
	depositGasLimit = 200_000
)

// ContractStats mirrors getContractStats: lifetime totals in wei.
type ContractStats struct {
	Balance   *big.Int `json:"balance"`
	Deposited *big.Int `json:"deposited"`
	Disbursed *big.Int `json:"disbursed"`
	Withdrawn *big.Int `json:"withdrawn"`
}

type UserStats struct {
	TotalRewards *big.Int `json:"total_rewards"`
	RewardCount  *big.Int `json:"reward_count"`
}

// RewardContract drives the deployed LearnAndEarnRewards contract. The
// owner key signs every state-changing call; reads go straight through
// eth_call.
type RewardContract struct {
	chain     ChainBackend
	disburser *Disburser
	owner     *CustodialAccount
	address   common.Address
	token     common.Address
	gasLimit  uint64
}

// NewRewardContract returns nil when no contract address is configured;
// callers fall back to direct ERC-20 transfers.
func NewRewardContract(chain ChainBackend, disburser *Disburser, owner *CustodialAccount, cc config.ChainConfig) *RewardContract {
	if cc.RewardContract == "" || owner == nil {
		return nil
	}
	log.Printf("reward contract enabled at %s", cc.RewardContract)
	return &RewardContract{
		chain:     chain,
		disburser: disburser,
		owner:     owner,
		address:   common.HexToAddress(cc.RewardContract),
		token:     common.HexToAddress(cc.TokenContract),
		gasLimit:  cc.ContractGasCap,
	}
}

// DisburseReward pays amountWei to recipient through the contract,
// keyed by the claim's idempotency key. A replayed key fails the
// pre-check here and would revert on chain regardless.
func (r *RewardContract) DisburseReward(ctx context.Context, task *TaskConfig, recipient string, amountWei *big.Int, key string) DisburseResult {
	if !ValidWallet(recipient) {
		return DisburseResult{ErrorKind: ErrKindInvalidWallet, Message: "invalid recipient wallet address"}
	}
	if amountWei == nil || amountWei.Sign() <= 0 ||
		amountWei.Cmp(task.MinAmount) < 0 || amountWei.Cmp(task.MaxAmount) > 0 {
		return DisburseResult{
			ErrorKind: ErrKindAmountOutOfRange,
			Message: fmt.Sprintf("reward must be between %.2f and %.2f G$",
				FromWei(task.MinAmount), FromWei(task.MaxAmount)),
		}
	}

	if paused, err := r.Paused(ctx); err == nil && paused {
		return DisburseResult{ErrorKind: ErrKindSendError, Message: "reward contract is paused"}
	}
	if claimed, err := r.IsQuizRewardClaimed(ctx, recipient, key); err == nil && claimed {
		return DisburseResult{
			ErrorKind: ErrKindOnChainRevert,
			Message:   "reward already processed on-chain for this submission",
		}
	}

	balance, err := r.ContractBalance(ctx)
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindNetwork, Message: "could not read contract balance: " + err.Error()}
	}
	if balance.Cmp(amountWei) < 0 {
		log.Printf("%s: contract holds %.6f G$, needs %.6f G$", task.Name, FromWei(balance), FromWei(amountWei))
		return DisburseResult{
			ErrorKind: ErrKindInsufficientBalance,
			Message:   fmt.Sprintf("reward contract holds %.6f G$, needs %.6f G$", FromWei(balance), FromWei(amountWei)),
		}
	}

	input, err := rewardContractABI.Pack("disburseReward", common.HexToAddress(recipient), amountWei, key)
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindSendError, Message: "pack disburseReward: " + err.Error()}
	}

	log.Printf("%s: disbursing %.6f G$ to %s via contract", task.Name, FromWei(amountWei), MaskWallet(recipient))
	return r.send(ctx, r.address, input, r.gasLimit, task.Name)
}

// Deposit moves amountWei of G$ from the owner wallet into the
// contract, approving first when the standing allowance is short.
func (r *RewardContract) Deposit(ctx context.Context, amountWei *big.Int) DisburseResult {
	allowance, err := r.allowance(ctx)
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindNetwork, Message: "allowance read failed: " + err.Error()}
	}
	if allowance.Cmp(amountWei) < 0 {
		input, err := erc20ABI.Pack("approve", r.address, amountWei)
		if err != nil {
			return DisburseResult{ErrorKind: ErrKindSendError, Message: "pack approve: " + err.Error()}
		}
		log.Printf("reward contract: approving %.6f G$ spend", FromWei(amountWei))
		if res := r.send(ctx, r.token, input, approveGasLimit, "reward-contract"); !res.Success {
			return res
		}
	}

	input, err := rewardContractABI.Pack("deposit", amountWei)
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindSendError, Message: "pack deposit: " + err.Error()}
	}
	log.Printf("reward contract: depositing %.6f G$", FromWei(amountWei))
	return r.send(ctx, r.address, input, depositGasLimit, "reward-contract")
}

// Withdraw pulls amountWei of G$ back to the owner wallet; nil amount
// withdraws everything.
func (r *RewardContract) Withdraw(ctx context.Context, amountWei *big.Int) DisburseResult {
	var (
		input []byte
		err   error
	)
	if amountWei == nil {
		input, err = rewardContractABI.Pack("withdrawAll")
	} else {
		input, err = rewardContractABI.Pack("withdraw", amountWei)
	}
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindSendError, Message: "pack withdraw: " + err.Error()}
	}
	return r.send(ctx, r.address, input, depositGasLimit, "reward-contract")
}

func (r *RewardContract) ContractBalance(ctx context.Context) (*big.Int, error) {
	out, err := r.view(ctx, "getContractBalance")
	if err != nil {
		return nil, err
	}
	return out[0].(*big.Int), nil
}

func (r *RewardContract) ContractStats(ctx context.Context) (*ContractStats, error) {
	out, err := r.view(ctx, "getContractStats")
	if err != nil {
		return nil, err
	}
	return &ContractStats{
		Balance:   out[0].(*big.Int),
		Deposited: out[1].(*big.Int),
		Disbursed: out[2].(*big.Int),
		Withdrawn: out[3].(*big.Int),
	}, nil
}

func (r *RewardContract) UserStats(ctx context.Context, wallet string) (*UserStats, error) {
	if !ValidWallet(wallet) {
		return nil, ErrInvalidWallet
	}
	out, err := r.view(ctx, "getUserStats", common.HexToAddress(wallet))
	if err != nil {
		return nil, err
	}
	return &UserStats{TotalRewards: out[0].(*big.Int), RewardCount: out[1].(*big.Int)}, nil
}

func (r *RewardContract) Paused(ctx context.Context) (bool, error) {
	out, err := r.view(ctx, "paused")
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

func (r *RewardContract) IsQuizRewardClaimed(ctx context.Context, recipient, key string) (bool, error) {
	out, err := r.view(ctx, "isQuizRewardClaimed", common.HexToAddress(recipient), key)
	if err != nil {
		return false, err
	}
	return out[0].(bool), nil
}

// RewardID returns the contract's deterministic id for a recipient and
// submission key, for reconciliation against on-chain state.
func (r *RewardContract) RewardID(ctx context.Context, recipient, key string) (string, error) {
	out, err := r.view(ctx, "getRewardId", common.HexToAddress(recipient), key)
	if err != nil {
		return "", err
	}
	id := out[0].([32]byte)
	return common.BytesToHash(id[:]).Hex(), nil
}

func (r *RewardContract) allowance(ctx context.Context) (*big.Int, error) {
	input, err := erc20ABI.Pack("allowance", r.owner.Address(), r.address)
	if err != nil {
		return nil, fmt.Errorf("pack allowance: %w", err)
	}
	out, err := r.chain.CallContract(ctx, ethereum.CallMsg{To: &r.token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("allowance call: %w", err)
	}
	results, err := erc20ABI.Unpack("allowance", out)
	if err != nil || len(results) == 0 {
		return nil, fmt.Errorf("unpack allowance: %w", err)
	}
	return results[0].(*big.Int), nil
}

func (r *RewardContract) view(ctx context.Context, method string, args ...interface{}) ([]interface{}, error) {
	input, err := rewardContractABI.Pack(method, args...)
	if err != nil {
		return nil, fmt.Errorf("pack %s: %w", method, err)
	}
	out, err := r.chain.CallContract(ctx, ethereum.CallMsg{To: &r.address, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("%s call: %w", method, err)
	}
	results, err := rewardContractABI.Unpack(method, out)
	if err != nil || len(results) == 0 {
		return nil, fmt.Errorf("unpack %s: %w", method, err)
	}
	return results, nil
}

// send runs one owner-signed contract call through the shared
// build-sign-send-confirm pipeline, serialized on the owner key.
func (r *RewardContract) send(ctx context.Context, to common.Address, input []byte, gasLimit uint64, label string) DisburseResult {
	release := r.owner.Acquire()
	defer release()

	native, err := r.chain.NativeBalance(ctx, r.owner.Address())
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindNetwork, Message: "could not read native balance: " + err.Error()}
	}
	if native.Cmp(r.disburser.minGasWei) < 0 {
		log.Printf("%s: owner %s below gas floor (%.4f CELO)", label, MaskWallet(r.owner.Address().Hex()), FromWei(native))
		return DisburseResult{
			ErrorKind: ErrKindInsufficientGas,
			Message:   fmt.Sprintf("contract owner wallet needs CELO for gas, has %.4f", FromWei(native)),
		}
	}

	nonce, err := r.chain.NonceAt(ctx, r.owner.Address())
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindNetwork, Message: "nonce fetch failed: " + err.Error()}
	}
	gasPrice, err := r.chain.GasPrice(ctx)
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindNetwork, Message: "gas price fetch failed: " + err.Error()}
	}
	return r.disburser.sendCall(ctx, r.owner, to, input, gasLimit, nonce, BufferGasPrice(gasPrice), label)
}

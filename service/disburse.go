package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/goodmarket/reward-engine/config"
)

// Disburser is the one build-sign-send-confirm pipeline shared by every
// task module. Task modules differ only in their TaskConfig.
type Disburser struct {
	chain          ChainBackend
	balances       *BalanceReader
	token          common.Address
	chainID        int64
	minGasWei      *big.Int
	receiptTimeout time.Duration
	pollInterval   time.Duration
	explorerBase   string
}

func NewDisburser(chain ChainBackend, balances *BalanceReader, cc config.ChainConfig) *Disburser {
	return &Disburser{
		chain:          chain,
		balances:       balances,
		token:          common.HexToAddress(cc.TokenContract),
		chainID:        cc.ChainID,
		minGasWei:      ToWei(cc.MinGasCelo),
		receiptTimeout: time.Duration(cc.ReceiptTimeout) * time.Second,
		pollInterval:   2 * time.Second,
		explorerBase:   cc.ExplorerTxBase,
	}
}

// Disburse pays amountWei of G$ to recipient from the task's custodial
// key. Steps run in strict order: bounds, gas balance, token balance,
// nonce, price, build, sign, send, receipt. At most one chain
// transaction is produced per invocation, and transactions whose fate
// is unknown are never resubmitted.
func (d *Disburser) Disburse(ctx context.Context, task *TaskConfig, recipient string, amountWei *big.Int) DisburseResult {
	if !ValidWallet(recipient) {
		return DisburseResult{ErrorKind: ErrKindInvalidWallet, Message: "invalid recipient wallet address"}
	}
	if task.Custodian == nil {
		return DisburseResult{ErrorKind: ErrKindSendError, Message: "custodial key not configured"}
	}
	if amountWei == nil || amountWei.Sign() <= 0 ||
		amountWei.Cmp(task.MinAmount) < 0 || amountWei.Cmp(task.MaxAmount) > 0 {
		return DisburseResult{
			ErrorKind: ErrKindAmountOutOfRange,
			Message: fmt.Sprintf("reward must be between %.2f and %.2f G$",
				FromWei(task.MinAmount), FromWei(task.MaxAmount)),
		}
	}

	// One in-flight transaction per custodial key. Concurrent payouts
	// from the same key would read the same pending nonce.
	release := task.Custodian.Acquire()
	defer release()

	from := task.Custodian.Address()
	log.Printf("%s: disbursing %.6f G$ to %s", task.Name, FromWei(amountWei), MaskWallet(recipient))

	native, err := d.balances.NativeBalance(ctx, from)
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindNetwork, Message: "could not read native balance: " + err.Error()}
	}
	if native.Cmp(d.minGasWei) < 0 {
		log.Printf("%s: custodian %s below gas floor (%.4f CELO)", task.Name, MaskWallet(from.Hex()), FromWei(native))
		return DisburseResult{
			ErrorKind: ErrKindInsufficientGas,
			Message:   fmt.Sprintf("payout wallet needs CELO for gas, has %.4f", FromWei(native)),
		}
	}

	tokenBalance, err := d.balances.TokenBalance(ctx, from)
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindNetwork, Message: "could not read token balance: " + err.Error()}
	}
	if tokenBalance.Cmp(amountWei) < 0 {
		log.Printf("%s: treasury has %.6f G$, needs %.6f G$", task.Name, FromWei(tokenBalance), FromWei(amountWei))
		return DisburseResult{
			ErrorKind: ErrKindInsufficientBalance,
			Message:   fmt.Sprintf("treasury has %.6f G$, needs %.6f G$", FromWei(tokenBalance), FromWei(amountWei)),
		}
	}

	nonce, err := d.chain.NonceAt(ctx, from)
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindNetwork, Message: "nonce fetch failed: " + err.Error()}
	}
	gasPrice, err := d.chain.GasPrice(ctx)
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindNetwork, Message: "gas price fetch failed: " + err.Error()}
	}
	gasPrice = BufferGasPrice(gasPrice)

	input, err := erc20ABI.Pack("transfer", common.HexToAddress(recipient), amountWei)
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindSendError, Message: "pack transfer: " + err.Error()}
	}

	// Fixed gas limit sized for simple transfers; tuned per chain via
	// config, not estimated per call.
	result := d.sendCall(ctx, task.Custodian, d.token, input, task.GasLimit, nonce, gasPrice, task.Name)
	if result.Success {
		log.Printf("%s: disbursed %.6f G$ to %s, tx %s", task.Name, FromWei(amountWei), MaskWallet(recipient), result.TxHash)
	}
	return result
}

// sendCall builds, signs, broadcasts, and confirms one contract call.
// The caller must hold the custodial account's lock; the nonce and gas
// price were fetched under that lock.
func (d *Disburser) sendCall(ctx context.Context, account *CustodialAccount, to common.Address, input []byte, gasLimit, nonce uint64, gasPrice *big.Int, label string) DisburseResult {
	tx := types.NewTransaction(nonce, to, big.NewInt(0), gasLimit, gasPrice, input)
	signed, err := account.SignTx(tx, d.chainID)
	if err != nil {
		return DisburseResult{ErrorKind: ErrKindSendError, Message: "sign: " + err.Error()}
	}

	txHash := signed.Hash().Hex()
	if err := d.chain.SendTransaction(ctx, signed); err != nil {
		// Not retried: a timed-out broadcast may still land on chain.
		log.Printf("%s: broadcast failed: %v", label, err)
		return DisburseResult{ErrorKind: ErrKindSendError, Message: "broadcast failed: " + err.Error()}
	}
	log.Printf("%s: transaction sent: %s", label, txHash)

	receipt, err := d.waitReceipt(ctx, signed.Hash())
	if err != nil {
		log.Printf("%s: receipt wait for %s: %v", label, txHash, err)
		return DisburseResult{
			ErrorKind:   ErrKindReceiptTimeout,
			TxHash:      txHash,
			ExplorerURL: d.explorerBase + txHash,
			Message:     "transaction status unknown, flagged for manual reconciliation",
		}
	}

	if receipt.Status == types.ReceiptStatusSuccessful {
		return DisburseResult{
			Success:     true,
			TxHash:      txHash,
			ExplorerURL: d.explorerBase + txHash,
			GasUsed:     receipt.GasUsed,
			BlockNumber: receipt.BlockNumber.Uint64(),
		}
	}

	kind, msg := d.classifyRevert(ctx, account.Address(), to, input, receipt.BlockNumber)
	log.Printf("%s: transaction %s failed on-chain: %s", label, txHash, msg)
	return DisburseResult{
		ErrorKind:   kind,
		TxHash:      txHash,
		ExplorerURL: d.explorerBase + txHash,
		Message:     msg,
	}
}

// waitReceipt polls for the transaction receipt within the bounded
// timeout. Unknown-fate transactions surface as an error, never as a
// silent retry.
func (d *Disburser) waitReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	deadline := time.Now().Add(d.receiptTimeout)
	for {
		receipt, err := d.chain.TransactionReceipt(ctx, txHash)
		if err == nil && receipt != nil {
			return receipt, nil
		}
		if err != nil && !errors.Is(err, ethereum.NotFound) && !errors.Is(err, ErrNetwork) {
			return nil, err
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("no receipt after %s", d.receiptTimeout)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d.pollInterval):
		}
	}
}

// classifyRevert replays the failed call at its mined block to recover
// a revert reason.
func (d *Disburser) classifyRevert(ctx context.Context, from, to common.Address, input []byte, block *big.Int) (ErrorKind, string) {
	_, err := d.chain.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: input}, block)
	if err == nil {
		return ErrKindFailedOnChain, "transaction mined but failed; replay gave no reason"
	}
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "insufficient funds") || strings.Contains(msg, "insufficient balance"):
		return ErrKindInsufficientBalance, "insufficient funds in treasury wallet"
	case strings.Contains(msg, "execution reverted"):
		return ErrKindOnChainRevert, err.Error()
	default:
		return ErrKindFailedOnChain, err.Error()
	}
}

// BufferGasPrice applies the 20% buffer against underpriced or stuck
// transactions: floor(price * 1.2).
func BufferGasPrice(price *big.Int) *big.Int {
	buffered := new(big.Int).Mul(price, big.NewInt(12))
	return buffered.Div(buffered, big.NewInt(10))
}

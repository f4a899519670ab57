package service

import (
	"context"
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// Minimal ERC-20 ABI: balance/decimals reads, transfer payouts, and the
// approve/allowance pair used when funding the rewards contract.
const erc20ABIJSON = `[
	{"constant":true,"inputs":[{"name":"_owner","type":"address"}],"name":"balanceOf","outputs":[{"name":"balance","type":"uint256"}],"type":"function"},
	{"constant":true,"inputs":[],"name":"decimals","outputs":[{"name":"","type":"uint8"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"_to","type":"address"},{"name":"_value","type":"uint256"}],"name":"transfer","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":false,"inputs":[{"name":"_spender","type":"address"},{"name":"_value","type":"uint256"}],"name":"approve","outputs":[{"name":"","type":"bool"}],"type":"function"},
	{"constant":true,"inputs":[{"name":"_owner","type":"address"},{"name":"_spender","type":"address"}],"name":"allowance","outputs":[{"name":"","type":"uint256"}],"type":"function"}
]`

var erc20ABI = mustABI(erc20ABIJSON)

func mustABI(src string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(src))
	if err != nil {
		panic(err)
	}
	return parsed
}

// BalanceReader reads ERC-20 token balances for custodial and user
// accounts through eth_call.
type BalanceReader struct {
	chain ChainBackend
	token common.Address
}

func NewBalanceReader(chain ChainBackend, token common.Address) *BalanceReader {
	return &BalanceReader{chain: chain, token: token}
}

// TokenBalance returns the raw 18-decimal balance of account.
func (b *BalanceReader) TokenBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	input, err := erc20ABI.Pack("balanceOf", account)
	if err != nil {
		return nil, fmt.Errorf("pack balanceOf: %w", err)
	}
	out, err := b.chain.CallContract(ctx, ethereum.CallMsg{To: &b.token, Data: input}, nil)
	if err != nil {
		return nil, fmt.Errorf("balanceOf call: %w", err)
	}
	results, err := erc20ABI.Unpack("balanceOf", out)
	if err != nil || len(results) == 0 {
		return nil, fmt.Errorf("unpack balanceOf: %w", err)
	}
	balance, ok := results[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("unexpected balanceOf result type %T", results[0])
	}
	return balance, nil
}

// TokenDecimals reads the token's decimals. G$ uses 18 but the value is
// read rather than assumed so a config mistake surfaces loudly.
func (b *BalanceReader) TokenDecimals(ctx context.Context) (uint8, error) {
	input, err := erc20ABI.Pack("decimals")
	if err != nil {
		return 0, fmt.Errorf("pack decimals: %w", err)
	}
	out, err := b.chain.CallContract(ctx, ethereum.CallMsg{To: &b.token, Data: input}, nil)
	if err != nil {
		return 0, fmt.Errorf("decimals call: %w", err)
	}
	results, err := erc20ABI.Unpack("decimals", out)
	if err != nil || len(results) == 0 {
		return 0, fmt.Errorf("unpack decimals: %w", err)
	}
	decimals, ok := results[0].(uint8)
	if !ok {
		return 0, fmt.Errorf("unexpected decimals result type %T", results[0])
	}
	return decimals, nil
}

// NativeBalance returns the account's CELO balance in wei; the payout
// key needs native funds for gas.
func (b *BalanceReader) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	return b.chain.NativeBalance(ctx, account)
}

package service

import (
	"context"
	"errors"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/goodmarket/reward-engine/config"
)

// Per-call timeouts. Log queries are the heaviest read; receipt polling
// has its own generous budget in the disburser.
const (
	headTimeout = 10 * time.Second
	logsTimeout = 15 * time.Second
	callTimeout = 30 * time.Second
)

// ChainBackend is the slice of node functionality the engine consumes.
// ChainClient is the production implementation; tests substitute a fake
// so no network is involved.
type ChainBackend interface {
	LatestBlock(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
	HeaderTime(ctx context.Context, blockNumber uint64) (time.Time, error)
	NonceAt(ctx context.Context, account common.Address) (uint64, error)
	GasPrice(ctx context.Context) (*big.Int, error)
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
	CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)
	NativeBalance(ctx context.Context, account common.Address) (*big.Int, error)
}

// ChainClient wraps a single ethclient connection. It is constructed
// once at startup and injected everywhere; there is no package-level
// client. No retry policy lives here, callers own that decision.
type ChainClient struct {
	eth     *ethclient.Client
	chainID *big.Int
}

func DialChain(cfg config.ChainConfig) (*ChainClient, error) {
	client, err := ethclient.Dial(cfg.RPCURL)
	if err != nil {
		return nil, err
	}
	return &ChainClient{eth: client, chainID: big.NewInt(cfg.ChainID)}, nil
}

func (c *ChainClient) ChainID() *big.Int {
	return new(big.Int).Set(c.chainID)
}

func (c *ChainClient) LatestBlock(ctx context.Context) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()
	n, err := c.eth.BlockNumber(ctx)
	if err != nil {
		return 0, wrapNetErr(err)
	}
	return n, nil
}

func (c *ChainClient) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	ctx, cancel := context.WithTimeout(ctx, logsTimeout)
	defer cancel()
	logs, err := c.eth.FilterLogs(ctx, q)
	if err != nil {
		return nil, wrapNetErr(err)
	}
	return logs, nil
}

func (c *ChainClient) HeaderTime(ctx context.Context, blockNumber uint64) (time.Time, error) {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()
	header, err := c.eth.HeaderByNumber(ctx, new(big.Int).SetUint64(blockNumber))
	if err != nil {
		return time.Time{}, wrapNetErr(err)
	}
	return time.Unix(int64(header.Time), 0).UTC(), nil
}

func (c *ChainClient) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	n, err := c.eth.PendingNonceAt(ctx, account)
	if err != nil {
		return 0, wrapNetErr(err)
	}
	return n, nil
}

func (c *ChainClient) GasPrice(ctx context.Context) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	p, err := c.eth.SuggestGasPrice(ctx)
	if err != nil {
		return nil, wrapNetErr(err)
	}
	return p, nil
}

func (c *ChainClient) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	if err := c.eth.SendTransaction(ctx, tx); err != nil {
		return wrapNetErr(err)
	}
	return nil
}

func (c *ChainClient) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()
	r, err := c.eth.TransactionReceipt(ctx, txHash)
	if err != nil {
		return nil, wrapNetErr(err)
	}
	return r, nil
}

func (c *ChainClient) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	ctx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()
	out, err := c.eth.CallContract(ctx, msg, blockNumber)
	if err != nil {
		return nil, wrapNetErr(err)
	}
	return out, nil
}

func (c *ChainClient) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	ctx, cancel := context.WithTimeout(ctx, headTimeout)
	defer cancel()
	b, err := c.eth.BalanceAt(ctx, account, nil)
	if err != nil {
		return nil, wrapNetErr(err)
	}
	return b, nil
}

// wrapNetErr keeps JSON-RPC error envelopes as-is (the node answered)
// and folds transport failures into ErrNetwork so callers can
// distinguish "chain said no" from "chain unreachable".
func wrapNetErr(err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) {
		return err
	}
	var dataErr rpc.DataError
	if errors.As(err, &dataErr) {
		return err
	}
	if errors.Is(err, ethereum.NotFound) {
		return err
	}
	return errors.Join(ErrNetwork, err)
}

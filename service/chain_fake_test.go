package service

import (
	"context"
	"errors"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// fakeChain is an in-memory ChainBackend. Logs are matched against
// filter queries the way a node would, so the verifier's topic layouts
// are exercised for real.
type fakeChain struct {
	mu sync.Mutex

	latest    uint64
	latestErr error

	logs    []types.Log
	logsErr error

	headerTimes map[uint64]time.Time

	nonce    uint64
	gasPrice *big.Int

	sent        []*types.Transaction
	sendErr     error
	receiptFor  map[common.Hash]*types.Receipt
	autoReceipt *uint64 // receipt status minted at send time; nil leaves the tx unconfirmed

	callFn func(msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error)

	native map[common.Address]*big.Int
}

func newFakeChain() *fakeChain {
	success := types.ReceiptStatusSuccessful
	return &fakeChain{
		latest:      1_000_000,
		headerTimes: make(map[uint64]time.Time),
		gasPrice:    big.NewInt(5_000_000_000),
		receiptFor:  make(map[common.Hash]*types.Receipt),
		autoReceipt: &success,
		native:      make(map[common.Address]*big.Int),
	}
}

func (f *fakeChain) LatestBlock(ctx context.Context) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.latestErr != nil {
		return 0, f.latestErr
	}
	return f.latest, nil
}

func (f *fakeChain) FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.logsErr != nil {
		return nil, f.logsErr
	}
	var out []types.Log
	for _, l := range f.logs {
		if !matchesQuery(l, q) {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func matchesQuery(l types.Log, q ethereum.FilterQuery) bool {
	if q.FromBlock != nil && l.BlockNumber < q.FromBlock.Uint64() {
		return false
	}
	if q.ToBlock != nil && l.BlockNumber > q.ToBlock.Uint64() {
		return false
	}
	if len(q.Addresses) > 0 {
		found := false
		for _, a := range q.Addresses {
			if a == l.Address {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for i, want := range q.Topics {
		if len(want) == 0 {
			continue
		}
		if i >= len(l.Topics) {
			return false
		}
		found := false
		for _, w := range want {
			if w == l.Topics[i] {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func (f *fakeChain) HeaderTime(ctx context.Context, blockNumber uint64) (time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.headerTimes[blockNumber]; ok {
		return t, nil
	}
	return time.Time{}, errors.New("header not found")
}

func (f *fakeChain) NonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.nonce, nil
}

func (f *fakeChain) GasPrice(ctx context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeChain) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, tx)
	f.nonce++
	if f.autoReceipt != nil {
		f.receiptFor[tx.Hash()] = &types.Receipt{
			Status:      *f.autoReceipt,
			TxHash:      tx.Hash(),
			GasUsed:     60_000,
			BlockNumber: new(big.Int).SetUint64(f.latest),
		}
	}
	return nil
}

func (f *fakeChain) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if r, ok := f.receiptFor[txHash]; ok {
		return r, nil
	}
	return nil, ethereum.NotFound
}

func (f *fakeChain) CallContract(ctx context.Context, msg ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	f.mu.Lock()
	fn := f.callFn
	f.mu.Unlock()
	if fn != nil {
		return fn(msg, blockNumber)
	}
	return uint256Bytes(big.NewInt(0)), nil
}

func (f *fakeChain) NativeBalance(ctx context.Context, account common.Address) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if b, ok := f.native[account]; ok {
		return new(big.Int).Set(b), nil
	}
	return big.NewInt(0), nil
}

func (f *fakeChain) sentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func uint256Bytes(v *big.Int) []byte {
	return common.BigToHash(v).Bytes()
}

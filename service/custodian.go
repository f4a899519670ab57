package service

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"strings"
	"sync"

	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tyler-smith/go-bip39"
)

// CustodialAccount is one platform-held payout key. Signing happens
// in-process and the key is never serialized or logged. The mutex
// serializes in-flight transactions per key: two concurrent payouts
// from one account would race on eth_getTransactionCount and collide
// on the nonce.
type CustodialAccount struct {
	key     *ecdsa.PrivateKey
	address common.Address
	mu      sync.Mutex
}

func (a *CustodialAccount) Address() common.Address {
	return a.address
}

// Acquire takes the per-account transaction slot; the returned func
// releases it. One in-flight transaction per key is a hard invariant,
// not an optimization.
func (a *CustodialAccount) Acquire() func() {
	a.mu.Lock()
	return a.mu.Unlock
}

// SignTx signs a transaction with the custodial key using EIP-155
// replay protection.
func (a *CustodialAccount) SignTx(tx *types.Transaction, chainID int64) (*types.Transaction, error) {
	return types.SignTx(tx, types.LatestSignerForChainID(big.NewInt(chainID)), a.key)
}

// CustodianFromHex loads an account from a raw hex private key, with or
// without the 0x prefix.
func CustodianFromHex(hexKey string) (*CustodialAccount, error) {
	hexKey = strings.TrimSpace(hexKey)
	if hexKey == "" {
		return nil, ErrNoCustodian
	}
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return &CustodialAccount{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

// CustodianFromMnemonic derives the account at m/44'/60'/0'/0/index
// from a BIP-39 platform mnemonic. Each task module gets its own index
// so treasuries stay separated.
func CustodianFromMnemonic(mnemonic string, index uint32) (*CustodialAccount, error) {
	if !bip39.IsMnemonicValid(mnemonic) {
		return nil, fmt.Errorf("invalid mnemonic")
	}
	seed := bip39.NewSeed(mnemonic, "")

	master, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("master key: %w", err)
	}

	path := []uint32{
		hdkeychain.HardenedKeyStart + 44,
		hdkeychain.HardenedKeyStart + 60,
		hdkeychain.HardenedKeyStart + 0,
		0,
		index,
	}
	node := master
	for _, step := range path {
		if node, err = node.Derive(step); err != nil {
			return nil, fmt.Errorf("derive m/44'/60'/0'/0/%d: %w", index, err)
		}
	}

	priv, err := node.ECPrivKey()
	if err != nil {
		return nil, fmt.Errorf("private key: %w", err)
	}
	key := priv.ToECDSA()
	return &CustodialAccount{key: key, address: crypto.PubkeyToAddress(key.PublicKey)}, nil
}

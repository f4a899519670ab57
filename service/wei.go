package service

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

var weiPerToken = new(big.Float).SetInt(new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil))

// ToWei converts a human G$ amount to 18-decimal token units, truncating
// toward zero.
func ToWei(amount float64) *big.Int {
	f := new(big.Float).Mul(big.NewFloat(amount), weiPerToken)
	wei, _ := f.Int(nil)
	return wei
}

// FromWei converts token units back to a human G$ amount.
func FromWei(wei *big.Int) float64 {
	if wei == nil {
		return 0
	}
	f := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerToken)
	out, _ := f.Float64()
	return out
}

// ValidWallet reports whether s is a well-formed 20-byte hex address.
func ValidWallet(s string) bool {
	return common.IsHexAddress(s)
}

// MaskWallet shortens an address for logs. Keys and full recipient
// addresses stay out of the log stream.
func MaskWallet(addr string) string {
	if len(addr) < 10 {
		return addr
	}
	return addr[:6] + "..." + addr[len(addr)-4:]
}

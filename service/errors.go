package service

import "errors"

// ErrorKind classifies disbursement failures for the web layer. Gas and
// balance shortfalls are platform-side ("try again later"); duplicate
// and cooldown rejections are user-side with no retry path but waiting.
type ErrorKind string

const (
	ErrKindNone                ErrorKind = ""
	ErrKindNetwork             ErrorKind = "network_error"
	ErrKindInvalidWallet       ErrorKind = "invalid_wallet"
	ErrKindAmountOutOfRange    ErrorKind = "amount_out_of_range"
	ErrKindInsufficientGas     ErrorKind = "insufficient_gas"
	ErrKindInsufficientBalance ErrorKind = "insufficient_balance"
	ErrKindSendError           ErrorKind = "send_error"
	ErrKindOnChainRevert       ErrorKind = "on_chain_revert"
	ErrKindFailedOnChain       ErrorKind = "failed_on_chain"

	// ErrKindReceiptTimeout means the transaction's fate is unknown.
	// The engine never resubmits such a claim; operators reconcile it
	// manually using the surfaced tx hash.
	ErrKindReceiptTimeout ErrorKind = "receipt_timeout"
)

// RejectReason is returned by the idempotency guard.
type RejectReason string

const (
	RejectDuplicateSameWallet  RejectReason = "duplicate_claim_same_wallet"
	RejectDuplicateOtherWallet RejectReason = "duplicate_claim_other_wallet"
	RejectPendingReview        RejectReason = "awaiting_review"
	RejectNoUBIClaim           RejectReason = "no_recent_ubi_claim"
	RejectCooldownActive       RejectReason = "cooldown_active"
	RejectOutsideWindow        RejectReason = "outside_participation_window"
)

var (
	ErrNetwork       = errors.New("rpc endpoint unreachable")
	ErrInvalidWallet = errors.New("invalid wallet address")
	ErrNoCustodian   = errors.New("custodial key not configured")
)

// DisburseResult reports the outcome of one payout attempt. TxHash is
// set as soon as a transaction was broadcast, even on failure, so the
// claim can be looked up on the explorer.
type DisburseResult struct {
	Success     bool      `json:"success"`
	TxHash      string    `json:"tx_hash,omitempty"`
	ErrorKind   ErrorKind `json:"error_kind,omitempty"`
	Message     string    `json:"message,omitempty"`
	ExplorerURL string    `json:"explorer_url,omitempty"`
	GasUsed     uint64    `json:"gas_used,omitempty"`
	BlockNumber uint64    `json:"block_number,omitempty"`
}

// Retryable reports whether the failure is platform-side and the same
// claim may be retried later without risking a double payment.
func (r DisburseResult) Retryable() bool {
	switch r.ErrorKind {
	case ErrKindInsufficientGas, ErrKindInsufficientBalance, ErrKindNetwork:
		return true
	}
	return false
}

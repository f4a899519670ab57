package service

import (
	"context"
	"fmt"
	"log"
	"math/big"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// Verification verdicts.
const (
	VerifySuccess = "success"
	VerifyNoClaim = "no_claim"
	VerifyError   = "error"
)

// Activity classification: direct G$ transfers from the UBI proxy count
// as claims, everything else from the proxy is an auxiliary event.
const (
	ActivityUBIClaim = "ubi_claim"
	ActivityUBIEvent = "ubi_event"
)

// The claim verifier looks back at least 24h; extended to 7 days to
// tolerate gaps between claiming and verifying.
const (
	cutoffHours       = 24
	lookbackHours     = 24 * 7
	maxListedActivity = 5
)

var transferSig = common.HexToHash("0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef")

// Issuer-specific issuance events. Each signature places the claimer at
// a different position, so the layout is a lookup table: events that
// index the claimer get a wallet topic filter, the rest are fetched
// unfiltered and matched locally against the padded wallet.
var issuanceEvents = []struct {
	Name           string
	Sig            common.Hash
	ClaimerIndexed bool
}{
	{"ubi claimed", common.HexToHash("0x89ed24731df6b066e4c5186901fffdba18cd9a10f07494aff900bdee260d1304"), true},
	{"ubi calculated", common.HexToHash("0x836fa39995340265746dfe9587d9fe5c5de35b7bce778afd9b124ce1cfeafdc4"), false},
	{"ubi cycle calculated", common.HexToHash("0x83e0d535b9e84324e0a25922406398d6ff5f96d0c686204ee490e16d7670566f"), false},
}

const noClaimMessage = "You need to claim G$ once every 24 hours to access GoodMarket.\n\n" +
	"Claim G$ using:\n" +
	"- MiniPay app (built into Opera Mini)\n" +
	"- goodwallet.xyz\n" +
	"- gooddapp.org"

// UBIActivity is one decoded on-chain event. Ephemeral: read from the
// chain per verification, never persisted.
type UBIActivity struct {
	Contract        string  `json:"contract"`
	ContractAddress string  `json:"contract_address"`
	Block           uint64  `json:"block"`
	TxHash          string  `json:"tx_hash"`
	Timestamp       string  `json:"timestamp"`
	Method          string  `json:"method"`
	ActivityType    string  `json:"activity_type"`
	Amount          float64 `json:"amount"`
	AmountKnown     bool    `json:"amount_known"`
}

func (a UBIActivity) AmountLabel() string {
	if !a.AmountKnown {
		return "Event logged"
	}
	return fmt.Sprintf("%.6f G$", a.Amount)
}

type VerificationSummary struct {
	TotalActivities int          `json:"total_activities"`
	Claims          int          `json:"claims"`
	Events          int          `json:"events"`
	Latest          *UBIActivity `json:"latest_activity,omitempty"`
}

type VerificationResult struct {
	Status     string               `json:"status"`
	Message    string               `json:"message"`
	Wallet     string               `json:"wallet,omitempty"`
	Activities []UBIActivity        `json:"activities,omitempty"`
	Summary    *VerificationSummary `json:"summary,omitempty"`
}

// UBIVerifier proves a wallet recently received G$ from the canonical
// issuing contract by scanning event logs. It gates access to the rest
// of the platform.
type UBIVerifier struct {
	chain    ChainBackend
	resolver *BlockRangeResolver
	token    common.Address
	ubiProxy common.Address
	now      func() time.Time
}

func NewUBIVerifier(chain ChainBackend, resolver *BlockRangeResolver, token, ubiProxy common.Address) *UBIVerifier {
	return &UBIVerifier{
		chain:    chain,
		resolver: resolver,
		token:    token,
		ubiProxy: ubiProxy,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Verify returns success with the decoded activity list, no_claim when
// the window holds nothing for the wallet, or error when the chain is
// unreachable. A failed sub-query only degrades completeness; the chain
// being unreachable must never read as "user has not claimed".
func (v *UBIVerifier) Verify(ctx context.Context, wallet string) VerificationResult {
	if !ValidWallet(wallet) {
		return VerificationResult{Status: VerifyError, Message: "Invalid wallet address format", Wallet: wallet}
	}

	hours := uint64(cutoffHours)
	if lookbackHours > hours {
		hours = lookbackHours
	}
	from, to, err := v.resolver.Resolve(ctx, hours)
	if err != nil {
		return VerificationResult{
			Status:  VerifyError,
			Message: "UBI verification is temporarily unavailable, please try again shortly",
			Wallet:  wallet,
		}
	}

	walletAddr := common.HexToAddress(wallet)
	walletTopic := addressTopic(walletAddr)

	var activities []UBIActivity

	// G$ transfers from the UBI proxy to the wallet.
	transferLogs, err := v.chain.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{v.token},
		Topics: [][]common.Hash{
			{transferSig},
			{addressTopic(v.ubiProxy)},
			{walletTopic},
		},
	})
	if err != nil {
		log.Printf("ubi verify: transfer query failed for %s: %v", MaskWallet(wallet), err)
	} else {
		for _, l := range transferLogs {
			activities = append(activities, v.decodeActivity(ctx, l, "UBI claim", ActivityUBIClaim))
		}
	}

	// Auxiliary issuance events emitted by the proxy itself.
	for _, ev := range issuanceEvents {
		topics := [][]common.Hash{{ev.Sig}}
		if ev.ClaimerIndexed {
			topics = append(topics, []common.Hash{walletTopic})
		}
		logs, err := v.chain.FilterLogs(ctx, ethereum.FilterQuery{
			FromBlock: new(big.Int).SetUint64(from),
			ToBlock:   new(big.Int).SetUint64(to),
			Addresses: []common.Address{v.ubiProxy},
			Topics:    topics,
		})
		if err != nil {
			log.Printf("ubi verify: %s query failed for %s: %v", ev.Name, MaskWallet(wallet), err)
			continue
		}
		for _, l := range logs {
			if !ev.ClaimerIndexed && !topicsContain(l.Topics, walletTopic) {
				continue
			}
			activities = append(activities, v.decodeActivity(ctx, l, ev.Name, ActivityUBIEvent))
		}
	}

	if len(activities) == 0 {
		return VerificationResult{Status: VerifyNoClaim, Message: noClaimMessage, Wallet: wallet}
	}

	sort.Slice(activities, func(i, j int) bool {
		return activities[i].Block > activities[j].Block
	})

	summary := &VerificationSummary{TotalActivities: len(activities), Latest: &activities[0]}
	for _, a := range activities {
		if a.ActivityType == ActivityUBIClaim {
			summary.Claims++
		} else {
			summary.Events++
		}
	}

	return VerificationResult{
		Status:     VerifySuccess,
		Message:    buildSuccessMessage(activities, summary),
		Wallet:     wallet,
		Activities: activities,
		Summary:    summary,
	}
}

func (v *UBIVerifier) decodeActivity(ctx context.Context, l types.Log, method, activityType string) UBIActivity {
	act := UBIActivity{
		Contract:        "UBI Proxy",
		ContractAddress: v.ubiProxy.Hex(),
		Block:           l.BlockNumber,
		TxHash:          l.TxHash.Hex(),
		Method:          method,
		ActivityType:    activityType,
		Timestamp:       v.formatBlockTime(ctx, l.BlockNumber),
	}

	// Amount lives in the data field as a big-endian uint256; some
	// issuance events index it as topic 2 instead.
	if len(l.Data) > 0 {
		act.Amount = FromWei(new(big.Int).SetBytes(l.Data))
		act.AmountKnown = true
	} else if len(l.Topics) > 2 {
		act.Amount = FromWei(new(big.Int).SetBytes(l.Topics[2].Bytes()))
		act.AmountKnown = true
	}
	return act
}

// formatBlockTime renders "2h ago | Aug 29 2026 10:04:05 (+00:00 UTC)".
// Header fetch failures degrade to the plain block number.
func (v *UBIVerifier) formatBlockTime(ctx context.Context, blockNumber uint64) string {
	blockTime, err := v.chain.HeaderTime(ctx, blockNumber)
	if err != nil {
		return fmt.Sprintf("Block #%d", blockNumber)
	}
	diff := v.now().Sub(blockTime)
	var relative string
	switch {
	case diff >= 24*time.Hour:
		relative = fmt.Sprintf("%dd ago", int(diff.Hours())/24)
	case diff >= time.Hour:
		relative = fmt.Sprintf("%dh ago", int(diff.Hours()))
	default:
		relative = fmt.Sprintf("%dm ago", int(diff.Minutes()))
	}
	return fmt.Sprintf("%s | %s (+00:00 UTC)", relative, blockTime.Format("Jan 02 2006 15:04:05"))
}

func buildSuccessMessage(activities []UBIActivity, summary *VerificationSummary) string {
	var b strings.Builder
	b.WriteString("UBI verification success\n\n")
	fmt.Fprintf(&b, "Found %d UBI activities from the UBI Proxy contract\n", summary.TotalActivities)
	fmt.Fprintf(&b, "  UBI claims: %d\n", summary.Claims)
	fmt.Fprintf(&b, "  Events: %d\n\n", summary.Events)

	latest := summary.Latest
	b.WriteString("Most recent activity:\n")
	fmt.Fprintf(&b, "  Type: %s\n", latest.Method)
	fmt.Fprintf(&b, "  Amount: %s\n", latest.AmountLabel())
	fmt.Fprintf(&b, "  Block: #%d\n", latest.Block)
	fmt.Fprintf(&b, "  Time: %s\n", latest.Timestamp)
	fmt.Fprintf(&b, "  Tx: %s...\n", shortHash(latest.TxHash))

	if len(activities) > 1 {
		b.WriteString("\nRecent UBI activities:\n")
		for i, a := range activities {
			if i == maxListedActivity {
				fmt.Fprintf(&b, "  ... and %d more activities\n", len(activities)-maxListedActivity)
				break
			}
			fmt.Fprintf(&b, "  %d. %s (%s) - %s\n", i+1, a.AmountLabel(), a.Method, a.Timestamp)
		}
	}
	return b.String()
}

func shortHash(h string) string {
	if len(h) <= 16 {
		return h
	}
	return h[:16]
}

func addressTopic(addr common.Address) common.Hash {
	return common.BytesToHash(addr.Bytes())
}

func topicsContain(topics []common.Hash, want common.Hash) bool {
	for _, t := range topics {
		if t == want {
			return true
		}
	}
	return false
}

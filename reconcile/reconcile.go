package reconcile

import (
	"math/big"
	"strings"

	"github.com/bridgewatch/bridgewatch/log"
	"github.com/bridgewatch/bridgewatch/watcher"
)

// SuspectReason classifies why a claim was flagged.
type SuspectReason string

const (
	// ReasonNoMatchingTransfer marks a claim whose txid matches no observed
	// transfer. The primary fraud signal.
	ReasonNoMatchingTransfer = SuspectReason("no_matching_transfer")
	// ReasonParameterMismatch marks a claim that references a real transfer
	// but disagrees with it on amount or recipient. The secondary fraud
	// signal.
	ReasonParameterMismatch = SuspectReason("parameter_mismatch")
)

// Mismatch records one disagreeing field between a claim and the transfer it
// references.
type Mismatch struct {
	Field    string `json:"field"`
	Expected string `json:"expected"`
	Actual   string `json:"actual"`
}

// CompletedTransfer pairs a transfer with the claim that settled it.
type CompletedTransfer struct {
	Transfer watcher.Event `json:"transfer"`
	Claim    watcher.Event `json:"claim"`
}

// SuspiciousClaim is a claim flagged by reconciliation, with the reason and,
// for parameter mismatches, the matched transfer and the disagreeing fields.
type SuspiciousClaim struct {
	Claim      watcher.Event  `json:"claim"`
	Reason     SuspectReason  `json:"reason"`
	Transfer   *watcher.Event `json:"transfer,omitempty"`
	Mismatches []Mismatch     `json:"parameterMismatches,omitempty"`
}

// Result holds the three disjoint classification outputs. Every transfer
// appears in exactly one of Completed or Pending; a claim appears in
// Suspicious only if flagged, otherwise it rides along inside Completed.
type Result struct {
	Completed  []CompletedTransfer `json:"completedTransfers"`
	Pending    []watcher.Event     `json:"pendingTransfers"`
	Suspicious []SuspiciousClaim   `json:"suspiciousClaims"`
}

// Config tunes the validation strictness where deployed contracts differ.
type Config struct {
	// SkipMissingRecipient relaxes recipient validation when the transfer's
	// destination address is empty, instead of treating the absence as a
	// mismatch.
	SkipMissingRecipient bool `mapstructure:"SkipMissingRecipient"`
	// SignedRepatriationReward reinterprets the uint256 reward of
	// repatriation events as a two's-complement signed value, for contract
	// deployments that emit it signed.
	SignedRepatriationReward bool `mapstructure:"SignedRepatriationReward"`
}

// Aggregate classifies claims and transfers into completed, pending and
// suspicious. It is pure: same inputs, same outputs, no hidden state, so it
// can be recomputed from scratch every time new events arrive.
//
// Matching is by transaction-hash identity only. A claim's txid must equal
// the hash of the transaction that emitted the transfer event, compared
// case-insensitively for 0x-hex values. Amount and recipient are then
// revalidated because a txid match alone proves the transfer exists, not
// that the claim describes it honestly.
func Aggregate(claims, transfers []watcher.Event, cfg Config) Result {
	logger := log.WithFields("module", "reconcile")

	if cfg.SignedRepatriationReward {
		transfers = signRepatriationRewards(transfers)
	}

	// transfers indexed by the hash of their own transaction
	index := make(map[string]int, len(transfers))
	for i, t := range transfers {
		key := t.CorrelationKey()
		if key == "" {
			continue
		}
		if prev, dup := index[key]; dup {
			logger.Warnf("duplicate transfer correlation key %s (events %s and %s)",
				key, transfers[prev].IdentityKey(), t.IdentityKey())
			continue
		}
		index[key] = i
	}

	var res Result
	claimed := make(map[int]bool, len(claims))

	for _, c := range claims {
		if c.Claim == nil {
			continue
		}
		i, ok := index[c.CorrelationKey()]
		if !ok {
			res.Suspicious = append(res.Suspicious, SuspiciousClaim{
				Claim:  c,
				Reason: ReasonNoMatchingTransfer,
			})
			continue
		}
		t := transfers[i]
		mismatches := validate(c, t, cfg)
		if len(mismatches) > 0 {
			res.Suspicious = append(res.Suspicious, SuspiciousClaim{
				Claim:      c,
				Reason:     ReasonParameterMismatch,
				Transfer:   &t,
				Mismatches: mismatches,
			})
			// the transfer itself stays pending, its only claim is a lie
			continue
		}
		claimed[i] = true
		res.Completed = append(res.Completed, CompletedTransfer{Transfer: t, Claim: c})
	}

	for i, t := range transfers {
		if !claimed[i] {
			res.Pending = append(res.Pending, t)
		}
	}
	return res
}

// validate compares the claim's asserted parameters against the transfer's
// actual ones. Returns the disagreeing fields, empty when consistent.
func validate(c, t watcher.Event, cfg Config) []Mismatch {
	var out []Mismatch
	claim := c.Claim
	transfer := t.Transfer

	if transfer.Amount == nil || claim.Amount == nil || transfer.Amount.Cmp(claim.Amount) != 0 {
		out = append(out, Mismatch{
			Field:    "amount",
			Expected: bigString(transfer.Amount),
			Actual:   bigString(claim.Amount),
		})
	}

	// an expatriation's foreign_address, or a repatriation's home_address,
	// names who may claim on the destination side
	expected := transfer.DestinationAddress
	if expected == "" && cfg.SkipMissingRecipient {
		return out
	}
	actual := claim.RecipientAddress.Hex()
	if !equalAddressString(expected, actual) {
		out = append(out, Mismatch{
			Field:    "recipientAddress",
			Expected: expected,
			Actual:   actual,
		})
	}
	return out
}

// signRepatriationRewards reinterprets uint256-decoded repatriation rewards
// as two's-complement signed values. Input events are not mutated.
func signRepatriationRewards(transfers []watcher.Event) []watcher.Event {
	out := make([]watcher.Event, len(transfers))
	copy(out, transfers)
	for i, t := range out {
		if t.Type != watcher.EventNewRepatriation || t.Transfer == nil || t.Transfer.Reward == nil {
			continue
		}
		if t.Transfer.Reward.Bit(255) == 0 {
			continue
		}
		tr := *t.Transfer
		tr.Reward = new(big.Int).Sub(tr.Reward, new(big.Int).Lsh(big.NewInt(1), 256))
		out[i].Transfer = &tr
	}
	return out
}

func equalAddressString(a, b string) bool {
	return strings.EqualFold(watcher.NormalizeHex(a), watcher.NormalizeHex(b))
}

func bigString(v *big.Int) string {
	if v == nil {
		return ""
	}
	return v.String()
}

package watcher

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// EventType discriminates the decoded bridge events.
type EventType string

const (
	EventNewClaim        = EventType("NewClaim")
	EventNewExpatriation = EventType("NewExpatriation")
	EventNewRepatriation = EventType("NewRepatriation")
	EventOther           = EventType("Other")
)

// TransferTypes lists the event types that represent a transfer leaving or
// returning to a chain. Claims are matched against these.
var TransferTypes = []EventType{EventNewExpatriation, EventNewRepatriation}

// LogSource tags which adapter produced a log entry, so consumers know how
// much fidelity to expect from it.
type LogSource string

const (
	SourceRPC      = LogSource("rpc")
	SourceExplorer = LogSource("explorer")
	SourceScrape   = LogSource("scrape")
	SourceRelay    = LogSource("relay")
)

// LogEntry is the network-agnostic representation of one emitted log.
// Degraded sources (HTML scraping) only populate BlockNumber and Source;
// such entries carry no identity key and must not enter the cache.
type LogEntry struct {
	Address          common.Address `json:"address"`
	Topics           []common.Hash  `json:"topics"`
	Data             string         `json:"data"`
	BlockNumber      uint64         `json:"blockNumber"`
	TransactionHash  string         `json:"transactionHash"`
	LogIndex         uint64         `json:"logIndex"`
	BlockHash        common.Hash    `json:"blockHash"`
	TransactionIndex uint64         `json:"transactionIndex"`
	Removed          bool           `json:"removed"`
	Source           LogSource      `json:"source"`
}

// IdentityKey uniquely identifies a log within a network's canonical chain
// history. It is the deduplication key used everywhere.
func (l LogEntry) IdentityKey() string {
	return fmt.Sprintf("%s:%d", NormalizeHex(l.TransactionHash), l.LogIndex)
}

// Degraded reports whether the entry came from a block-numbers-only source
// and therefore has no usable identity key.
func (l LogEntry) Degraded() bool {
	return l.TransactionHash == ""
}

// Transfer holds the decoded fields shared by expatriations and
// repatriations. DestinationAddress is the foreign_address of an
// expatriation or the home_address of a repatriation; it is a plain string
// because the destination chain may not use EVM-shaped addresses.
type Transfer struct {
	SenderAddress      common.Address `json:"senderAddress"`
	Amount             *big.Int       `json:"amount"`
	Reward             *big.Int       `json:"reward"`
	DestinationAddress string         `json:"destinationAddress"`
	Data               string         `json:"data"`
}

// Claim holds the decoded fields of a NewClaim event. TxID is the claimed
// reference to the originating transfer, either a transaction hash or an
// opaque cross-chain reference string.
type Claim struct {
	ClaimNum         uint64         `json:"claimNum"`
	AuthorAddress    common.Address `json:"authorAddress"`
	SenderAddress    string         `json:"senderAddress"`
	RecipientAddress common.Address `json:"recipientAddress"`
	TxID             string         `json:"txid"`
	TxTs             uint32         `json:"txts"`
	Amount           *big.Int       `json:"amount"`
	Reward           *big.Int       `json:"reward"`
	Stake            *big.Int       `json:"stake"`
	Data             string         `json:"data"`
	ExpiryTs         uint32         `json:"expiryTs"`
}

// Event is a decoded, typed bridge event. Exactly one of Transfer or Claim
// is set for transfer/claim types; both are nil for EventOther.
type Event struct {
	Log  LogEntry  `json:"log"`
	Type EventType `json:"type"`

	NetworkKey    string         `json:"networkKey"`
	BridgeAddress common.Address `json:"bridgeAddress"`

	Transfer *Transfer `json:"transfer,omitempty"`
	Claim    *Claim    `json:"claim,omitempty"`
}

// IdentityKey of the underlying log.
func (e Event) IdentityKey() string {
	return e.Log.IdentityKey()
}

// CorrelationKey is the value used to match claims to transfers: a claim
// correlates through its claimed txid, a transfer through the hash of its
// own transaction. Transfer events deliberately have no txid field of their
// own.
func (e Event) CorrelationKey() string {
	if e.Type == EventNewClaim && e.Claim != nil {
		return NormalizeHex(e.Claim.TxID)
	}
	return NormalizeHex(e.Log.TransactionHash)
}

// IsTransfer reports whether the event is an expatriation or repatriation.
func (e Event) IsTransfer() bool {
	return e.Type == EventNewExpatriation || e.Type == EventNewRepatriation
}

// NormalizeHex lower-cases hex-shaped strings so correlation and identity
// comparisons are case-insensitive. Non-hex reference strings (e.g. Obyte
// unit ids on the other side of a bridge) are preserved verbatim since they
// are case sensitive.
func NormalizeHex(s string) string {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strings.ToLower(s)
	}
	return s
}

// Partition splits decoded events into claims and transfers, dropping
// anything else.
func Partition(events []Event) (claims, transfers []Event) {
	for _, e := range events {
		switch e.Type {
		case EventNewClaim:
			claims = append(claims, e)
		case EventNewExpatriation, EventNewRepatriation:
			transfers = append(transfers, e)
		}
	}
	return claims, transfers
}

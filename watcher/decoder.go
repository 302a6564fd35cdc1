package watcher

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/bridgewatch/bridgewatch/log"
)

var (
	newClaimEventSignature = crypto.Keccak256Hash([]byte(
		"NewClaim(uint256,address,string,address,string,uint32,uint256,int256,uint256,string,uint32)"))
	newExpatriationEventSignature = crypto.Keccak256Hash([]byte(
		"NewExpatriation(address,uint256,int256,string,string)"))
	newRepatriationEventSignature = crypto.Keccak256Hash([]byte(
		"NewRepatriation(address,uint256,uint256,string,string)"))
)

// eventsABI is the single source of truth for the bridge event schemas.
// Every adapter and the orchestrator classify topics through this table,
// none keeps a private copy.
const eventsABI = `[
	{"type":"event","name":"NewClaim","inputs":[
		{"name":"claim_num","type":"uint256","indexed":false},
		{"name":"author_address","type":"address","indexed":false},
		{"name":"sender_address","type":"string","indexed":false},
		{"name":"recipient_address","type":"address","indexed":false},
		{"name":"txid","type":"string","indexed":false},
		{"name":"txts","type":"uint32","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"reward","type":"int256","indexed":false},
		{"name":"stake","type":"uint256","indexed":false},
		{"name":"data","type":"string","indexed":false},
		{"name":"expiry_ts","type":"uint32","indexed":false}
	]},
	{"type":"event","name":"NewExpatriation","inputs":[
		{"name":"sender_address","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"reward","type":"int256","indexed":false},
		{"name":"foreign_address","type":"string","indexed":false},
		{"name":"data","type":"string","indexed":false}
	]},
	{"type":"event","name":"NewRepatriation","inputs":[
		{"name":"sender_address","type":"address","indexed":false},
		{"name":"amount","type":"uint256","indexed":false},
		{"name":"reward","type":"uint256","indexed":false},
		{"name":"home_address","type":"string","indexed":false},
		{"name":"data","type":"string","indexed":false}
	]}
]`

// Signatures returns the topic0 hashes of the three bridge events, for use
// as a combined getLogs topic filter.
func Signatures() []common.Hash {
	return []common.Hash{
		newClaimEventSignature,
		newExpatriationEventSignature,
		newRepatriationEventSignature,
	}
}

// EventTypeOf classifies a log by its topic0 against the signature table.
func EventTypeOf(topic0 common.Hash) EventType {
	switch topic0 {
	case newClaimEventSignature:
		return EventNewClaim
	case newExpatriationEventSignature:
		return EventNewExpatriation
	case newRepatriationEventSignature:
		return EventNewRepatriation
	default:
		return EventOther
	}
}

// Decoder converts canonical log entries into typed bridge events.
type Decoder struct {
	abi abi.ABI
	log *log.Logger
}

// NewDecoder builds a Decoder from the embedded event schemas.
func NewDecoder() (*Decoder, error) {
	parsed, err := abi.JSON(strings.NewReader(eventsABI))
	if err != nil {
		return nil, fmt.Errorf("error parsing bridge events ABI: %w", err)
	}
	return &Decoder{
		abi: parsed,
		log: log.WithFields("module", "decoder"),
	}, nil
}

// Decode converts one log into a typed event. Logs whose topic0 is not in
// the signature table decode to EventOther with no fields populated.
func (d *Decoder) Decode(networkKey string, l LogEntry) (Event, error) {
	event := Event{
		Log:           l,
		Type:          EventOther,
		NetworkKey:    networkKey,
		BridgeAddress: l.Address,
	}
	if len(l.Topics) == 0 {
		return event, nil
	}
	event.Type = EventTypeOf(l.Topics[0])
	if event.Type == EventOther {
		return event, nil
	}

	data := common.FromHex(l.Data)
	values, err := d.abi.Events[string(event.Type)].Inputs.Unpack(data)
	if err != nil {
		return Event{}, fmt.Errorf("error unpacking %s log %s: %w", event.Type, l.IdentityKey(), err)
	}

	switch event.Type {
	case EventNewClaim:
		event.Claim, err = claimFromValues(values)
	case EventNewExpatriation, EventNewRepatriation:
		event.Transfer, err = transferFromValues(event.Type, values)
	}
	if err != nil {
		return Event{}, fmt.Errorf("error reading fields of %s log %s: %w", event.Type, l.IdentityKey(), err)
	}
	return event, nil
}

// DecodeBatch decodes all given logs, skipping entries that fail to decode
// (with a warning) instead of aborting the batch. Degraded block-number-only
// entries and unknown event types are dropped.
func (d *Decoder) DecodeBatch(networkKey string, logs []LogEntry) []Event {
	events := make([]Event, 0, len(logs))
	for _, l := range logs {
		if l.Degraded() {
			d.log.Debugf("skipping degraded log from %s at block %d", l.Source, l.BlockNumber)
			continue
		}
		event, err := d.Decode(networkKey, l)
		if err != nil {
			d.log.Warnf("skipping undecodable log: %v", err)
			continue
		}
		if event.Type == EventOther {
			continue
		}
		events = append(events, event)
	}
	return events
}

func claimFromValues(values []interface{}) (*Claim, error) {
	const expectedFields = 11
	if len(values) != expectedFields {
		return nil, fmt.Errorf("expected %d fields, got %d", expectedFields, len(values))
	}
	claimNum, ok := values[0].(*big.Int)
	if !ok {
		return nil, fmt.Errorf("claim_num is not uint256")
	}
	c := &Claim{
		ClaimNum: claimNum.Uint64(),
	}
	var err error
	if c.AuthorAddress, err = asAddress(values[1], "author_address"); err != nil {
		return nil, err
	}
	if c.SenderAddress, err = asString(values[2], "sender_address"); err != nil {
		return nil, err
	}
	if c.RecipientAddress, err = asAddress(values[3], "recipient_address"); err != nil {
		return nil, err
	}
	if c.TxID, err = asString(values[4], "txid"); err != nil {
		return nil, err
	}
	if c.TxTs, err = asUint32(values[5], "txts"); err != nil {
		return nil, err
	}
	if c.Amount, err = asBigInt(values[6], "amount"); err != nil {
		return nil, err
	}
	if c.Reward, err = asBigInt(values[7], "reward"); err != nil {
		return nil, err
	}
	if c.Stake, err = asBigInt(values[8], "stake"); err != nil {
		return nil, err
	}
	if c.Data, err = asString(values[9], "data"); err != nil {
		return nil, err
	}
	if c.ExpiryTs, err = asUint32(values[10], "expiry_ts"); err != nil {
		return nil, err
	}
	return c, nil
}

func transferFromValues(t EventType, values []interface{}) (*Transfer, error) {
	const expectedFields = 5
	if len(values) != expectedFields {
		return nil, fmt.Errorf("expected %d fields, got %d", expectedFields, len(values))
	}
	tr := &Transfer{}
	var err error
	if tr.SenderAddress, err = asAddress(values[0], "sender_address"); err != nil {
		return nil, err
	}
	if tr.Amount, err = asBigInt(values[1], "amount"); err != nil {
		return nil, err
	}
	// reward is signed on expatriations (negative means discount), unsigned
	// on repatriations. Both unpack to *big.Int.
	if tr.Reward, err = asBigInt(values[2], "reward"); err != nil {
		return nil, err
	}
	destField := "foreign_address"
	if t == EventNewRepatriation {
		destField = "home_address"
	}
	if tr.DestinationAddress, err = asString(values[3], destField); err != nil {
		return nil, err
	}
	if tr.Data, err = asString(values[4], "data"); err != nil {
		return nil, err
	}
	return tr, nil
}

func asAddress(v interface{}, name string) (common.Address, error) {
	a, ok := v.(common.Address)
	if !ok {
		return common.Address{}, fmt.Errorf("%s is not an address", name)
	}
	return a, nil
}

func asString(v interface{}, name string) (string, error) {
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%s is not a string", name)
	}
	return s, nil
}

func asBigInt(v interface{}, name string) (*big.Int, error) {
	b, ok := v.(*big.Int)
	if !ok {
		return nil, fmt.Errorf("%s is not a big integer", name)
	}
	return b, nil
}

func asUint32(v interface{}, name string) (uint32, error) {
	u, ok := v.(uint32)
	if !ok {
		return 0, fmt.Errorf("%s is not a uint32", name)
	}
	return u, nil
}

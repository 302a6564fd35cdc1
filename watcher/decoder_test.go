package watcher

import (
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"
)

func TestEventTypeOf(t *testing.T) {
	t.Parallel()

	require.Equal(t, EventNewClaim, EventTypeOf(newClaimEventSignature))
	require.Equal(t, EventNewExpatriation, EventTypeOf(newExpatriationEventSignature))
	require.Equal(t, EventNewRepatriation, EventTypeOf(newRepatriationEventSignature))
	require.Equal(t, EventOther, EventTypeOf(common.HexToHash("0xdead")))

	require.Len(t, Signatures(), 3)
}

func TestDecodeNewClaim(t *testing.T) {
	t.Parallel()

	d, err := NewDecoder()
	require.NoError(t, err)

	author := common.HexToAddress("0x1111111111111111111111111111111111111111")
	recipient := common.HexToAddress("0x2222222222222222222222222222222222222222")
	data, err := d.abi.Events["NewClaim"].Inputs.Pack(
		big.NewInt(42),
		author,
		"SENDERADDRESS",
		recipient,
		"0xAABBCC",
		uint32(1700000000),
		big.NewInt(5000),
		big.NewInt(-25),
		big.NewInt(10000),
		"somedata",
		uint32(1700090000),
	)
	require.NoError(t, err)

	l := LogEntry{
		Address:         common.HexToAddress("0x3333333333333333333333333333333333333333"),
		Topics:          []common.Hash{newClaimEventSignature},
		Data:            "0x" + common.Bytes2Hex(data),
		BlockNumber:     123,
		TransactionHash: "0xf00",
		LogIndex:        1,
		Source:          SourceRPC,
	}
	event, err := d.Decode("Ethereum", l)
	require.NoError(t, err)
	require.Equal(t, EventNewClaim, event.Type)
	require.Equal(t, "Ethereum", event.NetworkKey)
	require.Equal(t, l.Address, event.BridgeAddress)
	require.Nil(t, event.Transfer)
	require.NotNil(t, event.Claim)

	require.Equal(t, uint64(42), event.Claim.ClaimNum)
	require.Equal(t, author, event.Claim.AuthorAddress)
	require.Equal(t, "SENDERADDRESS", event.Claim.SenderAddress)
	require.Equal(t, recipient, event.Claim.RecipientAddress)
	require.Equal(t, "0xAABBCC", event.Claim.TxID)
	require.Equal(t, uint32(1700000000), event.Claim.TxTs)
	require.Equal(t, big.NewInt(5000), event.Claim.Amount)
	require.Equal(t, big.NewInt(-25), event.Claim.Reward)
	require.Equal(t, big.NewInt(10000), event.Claim.Stake)
	require.Equal(t, uint32(1700090000), event.Claim.ExpiryTs)
}

func TestDecodeNewExpatriation(t *testing.T) {
	t.Parallel()

	d, err := NewDecoder()
	require.NoError(t, err)

	sender := common.HexToAddress("0x4444444444444444444444444444444444444444")
	data, err := d.abi.Events["NewExpatriation"].Inputs.Pack(
		sender,
		big.NewInt(777),
		big.NewInt(7),
		"FOREIGNADDR",
		"",
	)
	require.NoError(t, err)

	l := LogEntry{
		Topics:          []common.Hash{newExpatriationEventSignature},
		Data:            "0x" + common.Bytes2Hex(data),
		TransactionHash: "0xbeef",
		Source:          SourceRPC,
	}
	event, err := d.Decode("BSC", l)
	require.NoError(t, err)
	require.Equal(t, EventNewExpatriation, event.Type)
	require.Nil(t, event.Claim)
	require.NotNil(t, event.Transfer)
	require.Equal(t, sender, event.Transfer.SenderAddress)
	require.Equal(t, big.NewInt(777), event.Transfer.Amount)
	require.Equal(t, big.NewInt(7), event.Transfer.Reward)
	require.Equal(t, "FOREIGNADDR", event.Transfer.DestinationAddress)
}

func TestDecodeUnknownTopic(t *testing.T) {
	t.Parallel()

	d, err := NewDecoder()
	require.NoError(t, err)

	event, err := d.Decode("Ethereum", LogEntry{
		Topics: []common.Hash{common.HexToHash("0x01")},
	})
	require.NoError(t, err)
	require.Equal(t, EventOther, event.Type)
	require.Nil(t, event.Claim)
	require.Nil(t, event.Transfer)
}

func TestDecodeBatchSkipsBadLogs(t *testing.T) {
	t.Parallel()

	d, err := NewDecoder()
	require.NoError(t, err)

	sender := common.HexToAddress("0x4444444444444444444444444444444444444444")
	data, err := d.abi.Events["NewRepatriation"].Inputs.Pack(
		sender, big.NewInt(10), big.NewInt(1), "HOMEADDR", "",
	)
	require.NoError(t, err)

	logs := []LogEntry{
		{BlockNumber: 5, Source: SourceScrape}, // degraded
		{Topics: []common.Hash{newClaimEventSignature}, Data: "0x00", TransactionHash: "0x1"},
		{Topics: []common.Hash{common.HexToHash("0x02")}, TransactionHash: "0x2"},
		{
			Topics:          []common.Hash{newRepatriationEventSignature},
			Data:            "0x" + common.Bytes2Hex(data),
			TransactionHash: "0x3",
		},
	}

	events := d.DecodeBatch("Polygon", logs)
	require.Len(t, events, 1)
	require.Equal(t, EventNewRepatriation, events[0].Type)
	require.Equal(t, "HOMEADDR", events[0].Transfer.DestinationAddress)
}

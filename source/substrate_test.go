package source

import (
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/bridgewatch/bridgewatch/watcher"
)

func TestParseRelayQuantity(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name     string
		raw      string
		expected uint64
		wantErr  bool
	}{
		{name: "hex string", raw: `"0x2a"`, expected: 42},
		{name: "decimal string", raw: `"42"`, expected: 42},
		{name: "bare number", raw: `42`, expected: 42},
		{name: "null", raw: `null`, expected: 0},
		{name: "missing", raw: ``, expected: 0},
		{name: "garbage", raw: `{"no":1}`, wantErr: true},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got, err := parseRelayQuantity(json.RawMessage(tc.raw))
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, tc.expected, got)
		})
	}
}

func TestRelayLogConversion(t *testing.T) {
	t.Parallel()

	s := &SubstrateSource{networkKey: "Astar"}
	raw := []byte(`{
		"address": "0xABCDEF0123456789abcdef0123456789ABCDEF01",
		"topics": ["0x1111111111111111111111111111111111111111111111111111111111111111"],
		"data": "0x00",
		"blockNumber": "0x64",
		"transactionHash": "0xFEED",
		"logIndex": 2,
		"blockHash": "0x2222222222222222222222222222222222222222222222222222222222222222",
		"transactionIndex": "5"
	}`)
	var l relayLog
	require.NoError(t, json.Unmarshal(raw, &l))

	entry, err := s.toLogEntry(l)
	require.NoError(t, err)
	require.Equal(t, common.HexToAddress("0xABCDEF0123456789abcdef0123456789ABCDEF01"), entry.Address)
	require.Equal(t, uint64(100), entry.BlockNumber)
	require.Equal(t, "0xfeed", entry.TransactionHash)
	require.Equal(t, uint64(2), entry.LogIndex)
	require.Equal(t, uint64(5), entry.TransactionIndex)
	require.Equal(t, watcher.SourceRelay, entry.Source)
	require.False(t, entry.Degraded())
}

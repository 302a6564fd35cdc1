package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/bridgewatch/bridgewatch/log"
	"github.com/bridgewatch/bridgewatch/watcher"
)

// SubstrateSource retrieves EVM-compatible logs of a Substrate-hosted EVM
// through a relay node instead of native eth_getLogs. Field values arrive
// as node-native wrappers (hex strings for quantities, sometimes plain
// numbers) and are re-encoded into the canonical log shape. The relay does
// not filter by address reliably, so address filtering happens client-side.
type SubstrateSource struct {
	networkKey string
	client     *rpc.Client
	log        *log.Logger
}

// NewSubstrateSource dials the relay node.
func NewSubstrateSource(networkKey, relayURL string) (*SubstrateSource, error) {
	client, err := rpc.Dial(relayURL)
	if err != nil {
		return nil, err
	}
	return &SubstrateSource{
		networkKey: networkKey,
		client:     client,
		log:        log.WithFields("source", "relay", "network", networkKey),
	}, nil
}

// Kind implements Source.
func (s *SubstrateSource) Kind() watcher.LogSource {
	return watcher.SourceRelay
}

// relayLog mirrors the node-native log shape: quantities may arrive as hex
// strings or JSON numbers depending on the relay version.
type relayLog struct {
	Address          string          `json:"address"`
	Topics           []string        `json:"topics"`
	Data             string          `json:"data"`
	BlockNumber      json.RawMessage `json:"blockNumber"`
	TransactionHash  string          `json:"transactionHash"`
	LogIndex         json.RawMessage `json:"logIndex"`
	BlockHash        string          `json:"blockHash"`
	TransactionIndex json.RawMessage `json:"transactionIndex"`
	Removed          bool            `json:"removed"`
}

// FetchLogs implements Source.
func (s *SubstrateSource) FetchLogs(
	ctx context.Context, address common.Address, topics []common.Hash, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	filter := map[string]interface{}{
		"fromBlock": fmt.Sprintf("0x%x", fromBlock),
		"toBlock":   fmt.Sprintf("0x%x", toBlock),
	}
	if len(topics) > 0 {
		topicStrs := make([]string, 0, len(topics))
		for _, t := range topics {
			topicStrs = append(topicStrs, strings.ToLower(t.Hex()))
		}
		filter["topics"] = []interface{}{topicStrs}
	}

	var rawLogs []relayLog
	if err := s.client.CallContext(ctx, &rawLogs, "eth_getLogs", filter); err != nil {
		return nil, fmt.Errorf("relay log query failed: %w", err)
	}

	res := make([]watcher.LogEntry, 0, len(rawLogs))
	for _, l := range rawLogs {
		entry, err := s.toLogEntry(l)
		if err != nil {
			s.log.Warnf("skipping unconvertible relay log: %v", err)
			continue
		}
		// client-side address filter
		if entry.Address != address {
			continue
		}
		res = append(res, entry)
	}
	return res, nil
}

// FetchLogsAllTypes implements Source.
func (s *SubstrateSource) FetchLogsAllTypes(
	ctx context.Context, address common.Address, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	return s.FetchLogs(ctx, address, nil, fromBlock, toBlock)
}

func (s *SubstrateSource) toLogEntry(l relayLog) (watcher.LogEntry, error) {
	blockNumber, err := parseRelayQuantity(l.BlockNumber)
	if err != nil {
		return watcher.LogEntry{}, fmt.Errorf("blockNumber: %w", err)
	}
	logIndex, err := parseRelayQuantity(l.LogIndex)
	if err != nil {
		return watcher.LogEntry{}, fmt.Errorf("logIndex: %w", err)
	}
	txIndex, err := parseRelayQuantity(l.TransactionIndex)
	if err != nil {
		return watcher.LogEntry{}, fmt.Errorf("transactionIndex: %w", err)
	}
	topics := make([]common.Hash, 0, len(l.Topics))
	for _, t := range l.Topics {
		topics = append(topics, common.HexToHash(t))
	}
	return watcher.LogEntry{
		Address:          common.HexToAddress(l.Address),
		Topics:           topics,
		Data:             l.Data,
		BlockNumber:      blockNumber,
		TransactionHash:  watcher.NormalizeHex(l.TransactionHash),
		LogIndex:         logIndex,
		BlockHash:        common.HexToHash(l.BlockHash),
		TransactionIndex: txIndex,
		Removed:          l.Removed,
		Source:           watcher.SourceRelay,
	}, nil
}

// parseRelayQuantity numerifies a node-native quantity that may be a hex
// string, a decimal string or a bare JSON number.
func parseRelayQuantity(raw json.RawMessage) (uint64, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return 0, nil
	}
	var asString string
	if err := json.Unmarshal(raw, &asString); err == nil {
		return parseHexQuantity(asString)
	}
	var asNumber uint64
	if err := json.Unmarshal(raw, &asNumber); err == nil {
		return asNumber, nil
	}
	return 0, fmt.Errorf("unparsable quantity %s", string(raw))
}

// LatestBlock returns the relay's current block height.
func (s *SubstrateSource) LatestBlock(ctx context.Context) (uint64, error) {
	var result string
	if err := s.client.CallContext(ctx, &result, "eth_blockNumber"); err != nil {
		return 0, err
	}
	return parseHexQuantity(result)
}

// TestConnection implements Source through the relay's block height call.
func (s *SubstrateSource) TestConnection(ctx context.Context) bool {
	var result string
	if err := s.client.CallContext(ctx, &result, "eth_blockNumber"); err != nil {
		s.log.Debugf("connectivity self-test failed: %v", err)
		return false
	}
	return result != ""
}

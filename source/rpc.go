package source

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/bridgewatch/bridgewatch/log"
	"github.com/bridgewatch/bridgewatch/watcher"
)

// EthClienter is the subset of the eth client consumed by the RPC source.
type EthClienter interface {
	ethereum.LogFilterer
	ethereum.BlockNumberReader
}

// RPCSource fetches logs through a native eth_getLogs JSON-RPC call. It is
// the primary, full-fidelity strategy of every EVM network.
type RPCSource struct {
	networkKey string
	client     EthClienter
	log        *log.Logger
}

// NewRPCSource dials the network's RPC endpoint.
func NewRPCSource(networkKey, url string) (*RPCSource, error) {
	client, err := ethclient.Dial(url)
	if err != nil {
		return nil, err
	}
	return NewRPCSourceWithClient(networkKey, client), nil
}

// NewRPCSourceWithClient wraps an already connected client. Used by tests.
func NewRPCSourceWithClient(networkKey string, client EthClienter) *RPCSource {
	return &RPCSource{
		networkKey: networkKey,
		client:     client,
		log:        log.WithFields("source", "rpc", "network", networkKey),
	}
}

// Kind implements Source.
func (s *RPCSource) Kind() watcher.LogSource {
	return watcher.SourceRPC
}

// FetchLogs implements Source.
func (s *RPCSource) FetchLogs(
	ctx context.Context, address common.Address, topics []common.Hash, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	query := ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(fromBlock),
		ToBlock:   new(big.Int).SetUint64(toBlock),
		Addresses: []common.Address{address},
	}
	if len(topics) > 0 {
		query.Topics = [][]common.Hash{topics}
	}
	logs, err := s.client.FilterLogs(ctx, query)
	if err != nil {
		return nil, err
	}
	res := make([]watcher.LogEntry, 0, len(logs))
	for _, l := range logs {
		res = append(res, fromEthLog(l, watcher.SourceRPC))
	}
	return res, nil
}

// FetchLogsAllTypes implements Source.
func (s *RPCSource) FetchLogsAllTypes(
	ctx context.Context, address common.Address, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	return s.FetchLogs(ctx, address, nil, fromBlock, toBlock)
}

// LatestBlock returns the current block height.
func (s *RPCSource) LatestBlock(ctx context.Context) (uint64, error) {
	return s.client.BlockNumber(ctx)
}

// TestConnection implements Source: the cheapest possible call is the
// current block height.
func (s *RPCSource) TestConnection(ctx context.Context) bool {
	_, err := s.client.BlockNumber(ctx)
	if err != nil {
		s.log.Debugf("connectivity self-test failed: %v", err)
		return false
	}
	return true
}

package source

import (
	"context"
	"errors"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/bridgewatch/bridgewatch/watcher"
)

var (
	// ErrRateLimited signals that a provider answered with HTTP 429 or an
	// equivalent rate-limit response. It feeds circuit breaker bookkeeping
	// instead of being treated as an ordinary error.
	ErrRateLimited = errors.New("provider rate limited the request")
	// ErrRangeTooWide signals that the provider rejected the requested
	// block span. It is never surfaced to callers: the chunker reacts by
	// splitting the request.
	ErrRangeTooWide = errors.New("block range too wide for provider")
	// ErrNoBlockHeight is returned when none of a network's sources can
	// report the current block height.
	ErrNoBlockHeight = errors.New("source does not report block height")
	// ErrAllSourcesFailed is returned when every source in a failover
	// chain failed for a request.
	ErrAllSourcesFailed = errors.New("all sources failed")
)

// Source is a per-network strategy answering "give me raw logs for address
// A, topic filter T, block range R". Implementations are independently
// swappable and callers treat them uniformly.
type Source interface {
	// FetchLogs returns logs of the given address whose topic0 is one of
	// topics, within [fromBlock, toBlock] inclusive.
	FetchLogs(ctx context.Context, address common.Address, topics []common.Hash, fromBlock, toBlock uint64) ([]watcher.LogEntry, error)
	// FetchLogsAllTypes returns every log of the address in the range,
	// to be classified downstream.
	FetchLogsAllTypes(ctx context.Context, address common.Address, fromBlock, toBlock uint64) ([]watcher.LogEntry, error)
	// TestConnection performs the cheapest possible connectivity probe.
	TestConnection(ctx context.Context) bool
	// Kind tags the fidelity of the entries this source produces.
	Kind() watcher.LogSource
}

// IsRateLimitErr reports whether err carries a rate-limit signal.
func IsRateLimitErr(err error) bool {
	return errors.Is(err, ErrRateLimited)
}

// isRangeLimitErr detects provider range rejections, both our own sentinel
// and the usual provider wordings.
func isRangeLimitErr(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRangeTooWide) {
		return true
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "block range") ||
		strings.Contains(msg, "query returned more than") ||
		strings.Contains(msg, "range is too large")
}

// fromEthLog converts a go-ethereum log into the canonical shape.
func fromEthLog(l types.Log, kind watcher.LogSource) watcher.LogEntry {
	topics := make([]common.Hash, len(l.Topics))
	copy(topics, l.Topics)
	return watcher.LogEntry{
		Address:          l.Address,
		Topics:           topics,
		Data:             "0x" + common.Bytes2Hex(l.Data),
		BlockNumber:      l.BlockNumber,
		TransactionHash:  strings.ToLower(l.TxHash.Hex()),
		LogIndex:         uint64(l.Index),
		BlockHash:        l.BlockHash,
		TransactionIndex: uint64(l.TxIndex),
		Removed:          l.Removed,
		Source:           kind,
	}
}

package source

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bridgewatch/bridgewatch/log"
	"github.com/bridgewatch/bridgewatch/registry"
	"github.com/bridgewatch/bridgewatch/watcher"
)

const (
	// MaxChunkHours caps how many hours worth of blocks one getLogs request
	// may span. Wider historical windows are split into sequential chunks.
	MaxChunkHours = 48
	// MinInterChunkDelay spaces out chunk requests to avoid provider-side
	// rate limiting.
	MinInterChunkDelay = time.Second
)

// BlockHeighter is implemented by sources that can report the current
// block height.
type BlockHeighter interface {
	LatestBlock(ctx context.Context) (uint64, error)
}

// ChunkedSource wraps a Source and transparently splits wide block ranges
// into sequential chunks issued in chronological order, so that networks
// with getLogs span limits and long historical windows can be scanned with
// bounded requests. Range-limit rejections from the provider trigger
// further splitting instead of reaching the caller.
type ChunkedSource struct {
	inner           Source
	network         registry.Network
	interChunkDelay time.Duration
	log             *log.Logger
}

// NewChunkedSource wraps inner with the chunking policy of the given
// network. A delay below MinInterChunkDelay is raised to it.
func NewChunkedSource(inner Source, network registry.Network, interChunkDelay time.Duration) *ChunkedSource {
	if interChunkDelay < MinInterChunkDelay {
		interChunkDelay = MinInterChunkDelay
	}
	return &ChunkedSource{
		inner:           inner,
		network:         network,
		interChunkDelay: interChunkDelay,
		log:             log.WithFields("source", "chunker", "network", network.Key),
	}
}

// Kind implements Source.
func (c *ChunkedSource) Kind() watcher.LogSource {
	return c.inner.Kind()
}

// BlocksForWindow converts a historical window in hours into a block span
// using the network's average block time.
func (c *ChunkedSource) BlocksForWindow(hours uint64) uint64 {
	blockTime := c.network.AvgBlockTimeSeconds
	if blockTime == 0 {
		blockTime = 1
	}
	return hours * 3600 / blockTime
}

// chunkSpan is the widest block span a single request may cover: 48 hours
// worth of blocks, or the network's own getLogs limit if stricter.
func (c *ChunkedSource) chunkSpan() uint64 {
	span := c.BlocksForWindow(MaxChunkHours)
	if c.network.GetLogsBlockRangeLimit > 0 && c.network.GetLogsBlockRangeLimit < span {
		span = c.network.GetLogsBlockRangeLimit
	}
	if span == 0 {
		span = 1
	}
	return span
}

// FetchLogs implements Source.
func (c *ChunkedSource) FetchLogs(
	ctx context.Context, address common.Address, topics []common.Hash, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	fetch := func(ctx context.Context, from, to uint64) ([]watcher.LogEntry, error) {
		return c.inner.FetchLogs(ctx, address, topics, from, to)
	}
	return c.fetchChunked(ctx, fetch, fromBlock, toBlock)
}

// FetchLogsAllTypes implements Source.
func (c *ChunkedSource) FetchLogsAllTypes(
	ctx context.Context, address common.Address, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	fetch := func(ctx context.Context, from, to uint64) ([]watcher.LogEntry, error) {
		return c.inner.FetchLogsAllTypes(ctx, address, from, to)
	}
	return c.fetchChunked(ctx, fetch, fromBlock, toBlock)
}

type rangeFetchFunc func(ctx context.Context, from, to uint64) ([]watcher.LogEntry, error)

// fetchChunked issues one request per chunk, oldest chunk first, with a
// fixed delay between chunks. Chunk boundaries neither skip nor duplicate
// blocks: chunk N's toBlock is chunk N+1's fromBlock - 1.
func (c *ChunkedSource) fetchChunked(
	ctx context.Context, fetch rangeFetchFunc, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	if fromBlock > toBlock {
		return nil, nil
	}
	span := c.chunkSpan()
	var res []watcher.LogEntry
	for start := fromBlock; start <= toBlock; {
		end := toBlock
		if toBlock-start >= span {
			end = start + span - 1
		}
		if start > fromBlock {
			if err := c.sleep(ctx); err != nil {
				return res, err
			}
		}
		c.log.Debugf("fetching chunk [%d, %d] of [%d, %d]", start, end, fromBlock, toBlock)
		logs, err := c.fetchSplitting(ctx, fetch, start, end)
		if err != nil {
			return nil, err
		}
		res = append(res, logs...)
		if end == ^uint64(0) {
			break
		}
		start = end + 1
	}
	return res, nil
}

// fetchSplitting retries a provider range rejection by halving the span.
func (c *ChunkedSource) fetchSplitting(
	ctx context.Context, fetch rangeFetchFunc, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	logs, err := fetch(ctx, fromBlock, toBlock)
	if err == nil {
		return logs, nil
	}
	if !isRangeLimitErr(err) || fromBlock >= toBlock {
		return nil, err
	}
	mid := fromBlock + (toBlock-fromBlock)/2
	c.log.Infof("provider rejected range [%d, %d], splitting at %d", fromBlock, toBlock, mid)
	left, err := c.fetchSplitting(ctx, fetch, fromBlock, mid)
	if err != nil {
		return nil, err
	}
	if err := c.sleep(ctx); err != nil {
		return left, err
	}
	right, err := c.fetchSplitting(ctx, fetch, mid+1, toBlock)
	if err != nil {
		return nil, err
	}
	return append(left, right...), nil
}

func (c *ChunkedSource) sleep(ctx context.Context) error {
	timer := time.NewTimer(c.interChunkDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// TestConnection implements Source.
func (c *ChunkedSource) TestConnection(ctx context.Context) bool {
	return c.inner.TestConnection(ctx)
}

// LatestBlock delegates to the wrapped source when it reports block height.
func (c *ChunkedSource) LatestBlock(ctx context.Context) (uint64, error) {
	if bh, ok := c.inner.(BlockHeighter); ok {
		return bh.LatestBlock(ctx)
	}
	return 0, ErrNoBlockHeight
}

package source

import (
	"context"
	"fmt"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/bridgewatch/bridgewatch/registry"
	"github.com/bridgewatch/bridgewatch/watcher"
)

// fakeSource records the ranges it was asked for and replies with one log
// per request, or errors according to its knobs.
type fakeSource struct {
	kind       watcher.LogSource
	ranges     [][2]uint64
	maxSpan    uint64 // reject wider ranges with a range error, 0 disables
	failuresAt map[int]error
	calls      int
	height     uint64
}

func (f *fakeSource) FetchLogs(
	_ context.Context, _ common.Address, _ []common.Hash, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	f.calls++
	if err, ok := f.failuresAt[f.calls]; ok {
		return nil, err
	}
	if f.maxSpan > 0 && toBlock-fromBlock+1 > f.maxSpan {
		return nil, fmt.Errorf("%w: [%d, %d]", ErrRangeTooWide, fromBlock, toBlock)
	}
	f.ranges = append(f.ranges, [2]uint64{fromBlock, toBlock})
	return []watcher.LogEntry{{
		BlockNumber:     fromBlock,
		TransactionHash: fmt.Sprintf("0x%d", fromBlock),
		Source:          f.kind,
	}}, nil
}

func (f *fakeSource) FetchLogsAllTypes(
	ctx context.Context, address common.Address, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	return f.FetchLogs(ctx, address, nil, fromBlock, toBlock)
}

func (f *fakeSource) TestConnection(context.Context) bool { return true }

func (f *fakeSource) Kind() watcher.LogSource {
	if f.kind == "" {
		return watcher.SourceRPC
	}
	return f.kind
}

func (f *fakeSource) LatestBlock(context.Context) (uint64, error) {
	if f.height == 0 {
		return 0, ErrNoBlockHeight
	}
	return f.height, nil
}

func testNetwork(rangeLimit uint64) registry.Network {
	return registry.Network{
		Key: "Testnet",
		// one block per hour keeps the block arithmetic readable
		AvgBlockTimeSeconds:    3600,
		GetLogsBlockRangeLimit: rangeLimit,
	}
}

func TestBlocksForWindow(t *testing.T) {
	t.Parallel()

	c := NewChunkedSource(&fakeSource{}, registry.Network{AvgBlockTimeSeconds: 12}, 0)
	require.Equal(t, uint64(300), c.BlocksForWindow(1))
	require.Equal(t, uint64(21600), c.BlocksForWindow(72))
}

func TestChunkBoundaries(t *testing.T) {
	t.Parallel()

	inner := &fakeSource{}
	c := NewChunkedSource(inner, testNetwork(10), MinInterChunkDelay)

	logs, err := c.FetchLogs(context.Background(), common.Address{}, nil, 100, 124)
	require.NoError(t, err)
	require.Len(t, logs, 3)
	require.Equal(t, [][2]uint64{{100, 109}, {110, 119}, {120, 124}}, inner.ranges)

	// neither skipped nor duplicated blocks
	for i := 1; i < len(inner.ranges); i++ {
		require.Equal(t, inner.ranges[i-1][1]+1, inner.ranges[i][0])
	}
}

func TestChunkSingleRequestWithinSpan(t *testing.T) {
	t.Parallel()

	inner := &fakeSource{}
	c := NewChunkedSource(inner, testNetwork(0), MinInterChunkDelay)

	// 48h of one-block-per-hour fits in a single request
	_, err := c.FetchLogs(context.Background(), common.Address{}, nil, 1, 48)
	require.NoError(t, err)
	require.Equal(t, [][2]uint64{{1, 48}}, inner.ranges)
}

func TestChunkEmptyRange(t *testing.T) {
	t.Parallel()

	inner := &fakeSource{}
	c := NewChunkedSource(inner, testNetwork(0), MinInterChunkDelay)

	logs, err := c.FetchLogs(context.Background(), common.Address{}, nil, 50, 49)
	require.NoError(t, err)
	require.Empty(t, logs)
	require.Zero(t, inner.calls)
}

func TestChunkSplitsOnProviderRangeRejection(t *testing.T) {
	t.Parallel()

	// the provider's real limit is stricter than what the network claims
	inner := &fakeSource{maxSpan: 6}
	c := NewChunkedSource(inner, testNetwork(20), MinInterChunkDelay)

	logs, err := c.FetchLogs(context.Background(), common.Address{}, nil, 1, 20)
	require.NoError(t, err)
	require.NotEmpty(t, logs)

	covered := uint64(0)
	for _, r := range inner.ranges {
		require.LessOrEqual(t, r[1]-r[0]+1, uint64(6))
		covered += r[1] - r[0] + 1
	}
	require.Equal(t, uint64(20), covered)
}

func TestChunkCancellation(t *testing.T) {
	t.Parallel()

	inner := &fakeSource{}
	c := NewChunkedSource(inner, testNetwork(10), MinInterChunkDelay)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.FetchLogs(ctx, common.Address{}, nil, 1, 100)
	require.ErrorIs(t, err, context.Canceled)
	// only the first chunk went out before the inter-chunk pause noticed
	require.Equal(t, 1, inner.calls)
}

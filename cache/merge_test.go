package cache

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/bridgewatch/bridgewatch/watcher"
)

func event(txHash string, logIndex, blockNumber uint64) watcher.Event {
	return watcher.Event{
		Log: watcher.LogEntry{
			TransactionHash: txHash,
			LogIndex:        logIndex,
			BlockNumber:     blockNumber,
			Source:          watcher.SourceRPC,
		},
		Type: watcher.EventNewExpatriation,
	}
}

func TestMergeUnion(t *testing.T) {
	t.Parallel()

	cached := []watcher.Event{
		event("0xaaa", 0, 100),
		event("0xbbb", 1, 90),
	}
	fresh := []watcher.Event{
		event("0xccc", 0, 110),
		event("0xAAA", 0, 100), // same identity as cached, different case
	}

	merged := Merge(cached, fresh)
	require.Len(t, merged, 3)
	// most recent first
	require.Equal(t, uint64(110), merged[0].Log.BlockNumber)
	require.Equal(t, uint64(100), merged[1].Log.BlockNumber)
	require.Equal(t, uint64(90), merged[2].Log.BlockNumber)
}

func TestMergeNeverLosesCachedEvents(t *testing.T) {
	t.Parallel()

	cached := []watcher.Event{
		event("0xaaa", 0, 100),
		event("0xbbb", 0, 90),
	}
	// a degraded fetch knows only block numbers
	degraded := []watcher.Event{
		{Log: watcher.LogEntry{BlockNumber: 120, Source: watcher.SourceScrape}},
	}

	merged := Merge(cached, degraded)
	require.Len(t, merged, 2)
	for _, e := range merged {
		require.False(t, e.Log.Degraded())
	}
}

func TestMergeIdempotent(t *testing.T) {
	t.Parallel()

	a := []watcher.Event{event("0xaaa", 0, 100)}
	b := []watcher.Event{event("0xbbb", 0, 200), event("0xaaa", 0, 100)}

	once := Merge(a, b)
	twice := Merge(once, b)
	require.Equal(t, once, twice)
}

func TestMergeEmptyInputs(t *testing.T) {
	t.Parallel()

	require.Empty(t, Merge(nil, nil))

	only := []watcher.Event{event("0xaaa", 0, 1)}
	require.Equal(t, only, Merge(nil, only))
	require.Equal(t, only, Merge(only, nil))
}

func TestMostRecentBlock(t *testing.T) {
	t.Parallel()

	_, ok := MostRecentBlock(nil)
	require.False(t, ok)

	max, ok := MostRecentBlock([]watcher.Event{
		event("0xaaa", 0, 5),
		event("0xbbb", 0, 42),
		event("0xccc", 0, 17),
	})
	require.True(t, ok)
	require.Equal(t, uint64(42), max)
}

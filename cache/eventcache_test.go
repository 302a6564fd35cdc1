package cache

import (
	"path"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/bridgewatch/bridgewatch/watcher"
)

var (
	testNetwork = "Ethereum"
	testBridge  = common.HexToAddress("0x1234567890123456789012345678901234567890")
)

func newTestCache(t *testing.T) *EventCache {
	t.Helper()
	dbPath := path.Join(t.TempDir(), "cache.sqlite")
	c, err := New(dbPath, 0)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Close()) })
	return c
}

func TestCacheMissReturnsNil(t *testing.T) {
	c := newTestCache(t)

	events, err := c.Get(testNetwork, testBridge, watcher.EventNewClaim)
	require.NoError(t, err)
	require.Nil(t, events)

	_, ok, err := c.MostRecentBlock(testNetwork, testBridge, watcher.EventNewClaim)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestCachePutGetRoundtrip(t *testing.T) {
	c := newTestCache(t)

	stored := []watcher.Event{
		event("0xbbb", 0, 200),
		event("0xaaa", 1, 100),
	}
	require.NoError(t, c.Put(testNetwork, testBridge, watcher.EventNewExpatriation, stored))

	got, err := c.Get(testNetwork, testBridge, watcher.EventNewExpatriation)
	require.NoError(t, err)
	require.Equal(t, stored, got)

	max, ok, err := c.MostRecentBlock(testNetwork, testBridge, watcher.EventNewExpatriation)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, uint64(200), max)

	// other event types of the same bridge stay independent
	other, err := c.Get(testNetwork, testBridge, watcher.EventNewClaim)
	require.NoError(t, err)
	require.Nil(t, other)
}

func TestCachePutOverwrites(t *testing.T) {
	c := newTestCache(t)

	require.NoError(t, c.Put(testNetwork, testBridge, watcher.EventNewClaim,
		[]watcher.Event{event("0xaaa", 0, 100)}))
	require.NoError(t, c.Put(testNetwork, testBridge, watcher.EventNewClaim,
		[]watcher.Event{event("0xbbb", 0, 200)}))

	got, err := c.Get(testNetwork, testBridge, watcher.EventNewClaim)
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, "0xbbb:0", got[0].IdentityKey())
}

func TestCacheTTLExpiryEvicts(t *testing.T) {
	c := newTestCache(t)

	now := time.Now()
	c.now = func() time.Time { return now }
	require.NoError(t, c.Put(testNetwork, testBridge, watcher.EventNewClaim,
		[]watcher.Event{event("0xaaa", 0, 100)}))

	// still fresh just within the TTL
	c.now = func() time.Time { return now.Add(DefaultTTL - time.Minute) }
	got, err := c.Get(testNetwork, testBridge, watcher.EventNewClaim)
	require.NoError(t, err)
	require.Len(t, got, 1)

	// expired
	c.now = func() time.Time { return now.Add(DefaultTTL + time.Minute) }
	got, err = c.Get(testNetwork, testBridge, watcher.EventNewClaim)
	require.NoError(t, err)
	require.Nil(t, got)

	// the entry was evicted, not just hidden
	c.now = func() time.Time { return now }
	got, err = c.Get(testNetwork, testBridge, watcher.EventNewClaim)
	require.NoError(t, err)
	require.Nil(t, got)
}

func TestCacheUpdateMerges(t *testing.T) {
	c := newTestCache(t)

	merged, err := c.Update(testNetwork, testBridge, watcher.EventNewExpatriation,
		[]watcher.Event{event("0xaaa", 0, 100)})
	require.NoError(t, err)
	require.Len(t, merged, 1)

	// a later degraded fetch must not shrink the cached set
	merged, err = c.Update(testNetwork, testBridge, watcher.EventNewExpatriation,
		[]watcher.Event{
			{Log: watcher.LogEntry{BlockNumber: 300, Source: watcher.SourceScrape}},
			event("0xbbb", 0, 200),
		})
	require.NoError(t, err)
	require.Len(t, merged, 2)
	require.Equal(t, "0xbbb:0", merged[0].IdentityKey())
	require.Equal(t, "0xaaa:0", merged[1].IdentityKey())

	got, err := c.Get(testNetwork, testBridge, watcher.EventNewExpatriation)
	require.NoError(t, err)
	require.Equal(t, merged, got)
}

package cache

import (
	"sort"

	"github.com/bridgewatch/bridgewatch/watcher"
)

// Merge unions cached and fresh event lists, deduplicating by identity key
// (transaction hash + log index). Cached events are never dropped, even
// when the fresh batch came from a degraded source and is missing entries
// the cache already knows. Degraded entries themselves carry no identity
// key and are not cacheable. The result is ordered by block number
// descending, the most-recent-first convention used throughout.
//
// Merge is pure and idempotent: Merge(Merge(a, b), b) == Merge(a, b).
func Merge(cached, fresh []watcher.Event) []watcher.Event {
	merged := make([]watcher.Event, 0, len(cached)+len(fresh))
	seen := make(map[string]struct{}, len(cached)+len(fresh))
	for _, list := range [][]watcher.Event{cached, fresh} {
		for _, e := range list {
			if e.Log.Degraded() {
				continue
			}
			key := e.IdentityKey()
			if _, ok := seen[key]; ok {
				continue
			}
			seen[key] = struct{}{}
			merged = append(merged, e)
		}
	}
	sort.SliceStable(merged, func(i, j int) bool {
		return merged[i].Log.BlockNumber > merged[j].Log.BlockNumber
	})
	return merged
}

// MostRecentBlock returns the highest block number across the given events
// and false when the list is empty.
func MostRecentBlock(events []watcher.Event) (uint64, bool) {
	var max uint64
	found := false
	for _, e := range events {
		if e.Log.BlockNumber >= max {
			max = e.Log.BlockNumber
			found = true
		}
	}
	return max, found
}

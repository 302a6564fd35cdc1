package cache

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/russross/meddler"

	"github.com/bridgewatch/bridgewatch/cache/migrations"
	"github.com/bridgewatch/bridgewatch/db"
	"github.com/bridgewatch/bridgewatch/log"
	"github.com/bridgewatch/bridgewatch/watcher"
)

const (
	// DefaultTTL is how long a cache entry stays valid after its last write.
	DefaultTTL = 24 * time.Hour
	// formatVersion of persisted records, bumped on breaking changes so
	// stale formats can be migrated or discarded on read.
	formatVersion = 1
)

// EventCache persists previously observed events per (network, bridge
// address, event type), so repeat scans only need to search the unseen
// tail of the chain. Expired entries are evicted lazily on read.
type EventCache struct {
	db  *sql.DB
	ttl time.Duration
	log *log.Logger

	// writes are serialized per cache key so that a read-merge-write is a
	// single logical transaction and concurrent discovery passes for the
	// same bridge cannot lose updates
	mu       sync.Mutex
	keyLocks map[string]*sync.Mutex

	// now is stubbed by tests
	now func() time.Time
}

// cacheRow mirrors the cached_events table.
type cacheRow struct {
	NetworkKey string          `meddler:"network_key"`
	BridgeAddr common.Address  `meddler:"bridge_addr,address"`
	EventType  string          `meddler:"event_type"`
	UpdatedAt  int64           `meddler:"updated_at"`
	Version    int             `meddler:"version"`
	LastBlock  uint64          `meddler:"last_block"`
	Events     []watcher.Event `meddler:"events,json"`
}

// New opens (and migrates) the cache DB at dbPath. A zero ttl means
// DefaultTTL.
func New(dbPath string, ttl time.Duration) (*EventCache, error) {
	if err := migrations.RunMigrations(dbPath); err != nil {
		return nil, err
	}
	database, err := db.NewSQLiteDB(dbPath)
	if err != nil {
		return nil, err
	}
	if ttl == 0 {
		ttl = DefaultTTL
	}
	return &EventCache{
		db:       database,
		ttl:      ttl,
		log:      log.WithFields("module", "eventcache"),
		keyLocks: make(map[string]*sync.Mutex),
		now:      time.Now,
	}, nil
}

// Close releases the underlying DB.
func (c *EventCache) Close() error {
	return c.db.Close()
}

func cacheKey(networkKey string, bridgeAddr common.Address, eventType watcher.EventType) string {
	return fmt.Sprintf("%s|%s|%s", networkKey, bridgeAddr.Hex(), eventType)
}

func (c *EventCache) lockFor(key string) *sync.Mutex {
	c.mu.Lock()
	defer c.mu.Unlock()
	l, ok := c.keyLocks[key]
	if !ok {
		l = &sync.Mutex{}
		c.keyLocks[key] = l
	}
	return l
}

// Get returns the cached events for the key, or nil on cache miss, TTL
// expiry or unknown record version. Expired entries are evicted.
func (c *EventCache) Get(
	networkKey string, bridgeAddr common.Address, eventType watcher.EventType,
) ([]watcher.Event, error) {
	row, err := c.read(networkKey, bridgeAddr, eventType)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if row == nil {
		return nil, nil
	}
	return row.Events, nil
}

// MostRecentBlock returns the highest cached block number for the key, used
// to shrink the next scan's fromBlock. The second return is false on cache
// miss or expiry.
func (c *EventCache) MostRecentBlock(
	networkKey string, bridgeAddr common.Address, eventType watcher.EventType,
) (uint64, bool, error) {
	row, err := c.read(networkKey, bridgeAddr, eventType)
	if err != nil {
		if errors.Is(err, db.ErrNotFound) {
			return 0, false, nil
		}
		return 0, false, err
	}
	if row == nil || len(row.Events) == 0 {
		return 0, false, nil
	}
	return row.LastBlock, true, nil
}

// read fetches one row, evicting and reporting nil if it expired or has an
// unknown format version.
func (c *EventCache) read(
	networkKey string, bridgeAddr common.Address, eventType watcher.EventType,
) (*cacheRow, error) {
	row := &cacheRow{}
	err := meddler.QueryRow(c.db, row, `
		SELECT * FROM cached_events
		WHERE network_key = $1 AND bridge_addr = $2 AND event_type = $3;
	`, networkKey, bridgeAddr.Hex(), string(eventType))
	if err != nil {
		return nil, db.ReturnErrNotFound(err)
	}
	age := c.now().Sub(time.Unix(row.UpdatedAt, 0))
	if age > c.ttl || row.Version != formatVersion {
		c.log.Debugf("evicting cache entry %s (age %s, version %d)",
			cacheKey(networkKey, bridgeAddr, eventType), age, row.Version)
		if err := c.delete(networkKey, bridgeAddr, eventType); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return row, nil
}

// Put overwrites the stored list for the key. Callers are expected to pass
// the full post-merge list, not a delta.
func (c *EventCache) Put(
	networkKey string, bridgeAddr common.Address, eventType watcher.EventType, events []watcher.Event,
) error {
	lock := c.lockFor(cacheKey(networkKey, bridgeAddr, eventType))
	lock.Lock()
	defer lock.Unlock()
	return c.write(networkKey, bridgeAddr, eventType, events)
}

// Update performs the read-merge-write cycle as a single logical
// transaction, serialized per cache key, and returns the merged list.
func (c *EventCache) Update(
	networkKey string, bridgeAddr common.Address, eventType watcher.EventType, fresh []watcher.Event,
) ([]watcher.Event, error) {
	lock := c.lockFor(cacheKey(networkKey, bridgeAddr, eventType))
	lock.Lock()
	defer lock.Unlock()

	cached, err := c.Get(networkKey, bridgeAddr, eventType)
	if err != nil {
		return nil, err
	}
	merged := Merge(cached, fresh)
	if err := c.write(networkKey, bridgeAddr, eventType, merged); err != nil {
		return nil, err
	}
	return merged, nil
}

func (c *EventCache) write(
	networkKey string, bridgeAddr common.Address, eventType watcher.EventType, events []watcher.Event,
) error {
	if err := c.delete(networkKey, bridgeAddr, eventType); err != nil {
		return err
	}
	lastBlock, _ := MostRecentBlock(events)
	row := &cacheRow{
		NetworkKey: networkKey,
		BridgeAddr: bridgeAddr,
		EventType:  string(eventType),
		UpdatedAt:  c.now().Unix(),
		Version:    formatVersion,
		LastBlock:  lastBlock,
		Events:     events,
	}
	return meddler.Insert(c.db, "cached_events", row)
}

func (c *EventCache) delete(
	networkKey string, bridgeAddr common.Address, eventType watcher.EventType,
) error {
	_, err := c.db.Exec(`
		DELETE FROM cached_events
		WHERE network_key = $1 AND bridge_addr = $2 AND event_type = $3;
	`, networkKey, bridgeAddr.Hex(), string(eventType))
	return err
}

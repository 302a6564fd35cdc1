package discovery

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"github.com/bridgewatch/bridgewatch/cache"
	"github.com/bridgewatch/bridgewatch/config/types"
	"github.com/bridgewatch/bridgewatch/log"
	"github.com/bridgewatch/bridgewatch/registry"
	"github.com/bridgewatch/bridgewatch/resilience"
	"github.com/bridgewatch/bridgewatch/source"
	"github.com/bridgewatch/bridgewatch/watcher"
)

// ErrNoData is returned when not a single bridge produced a result, so
// callers can tell "no transfers happened" apart from "we could not check".
var ErrNoData = errors.New("no bridge could be discovered, all sources failed")

// Config tunes the discovery pass.
type Config struct {
	// WindowHours is the historical window scanned per bridge.
	WindowHours uint64 `mapstructure:"WindowHours"`
	// InterBridgeDelay spaces out bridges that may share an RPC quota.
	InterBridgeDelay types.Duration `mapstructure:"InterBridgeDelay"`
	// InterChunkDelay spaces out chunked getLogs requests within one bridge.
	InterChunkDelay types.Duration `mapstructure:"InterChunkDelay"`
	// MaxRetryAttemptsAfterError bounds retries of one source call.
	MaxRetryAttemptsAfterError int `mapstructure:"MaxRetryAttemptsAfterError"`
	// RetryAfterErrorPeriod is the base backoff delay between retries.
	RetryAfterErrorPeriod types.Duration `mapstructure:"RetryAfterErrorPeriod"`
}

// BridgeResult is the outcome of discovering one bridge. Err is set and the
// event slices empty when every source for that bridge failed; one bridge
// failing never aborts the pass.
type BridgeResult struct {
	Bridge    registry.BridgeDescriptor `json:"bridge"`
	Claims    []watcher.Event           `json:"claims"`
	Transfers []watcher.Event           `json:"transfers"`
	FromBlock uint64                    `json:"fromBlock"`
	ToBlock   uint64                    `json:"toBlock"`
	// Degraded maps a lower fidelity source kind to the block numbers where
	// it saw bridge activity that could not be decoded into events. These
	// are reported to the consumer but never written to the cache.
	Degraded map[watcher.LogSource][]uint64 `json:"degraded,omitempty"`
	Err      error                          `json:"-"`
}

// Events returns the union of claims and transfers.
func (r BridgeResult) Events() int {
	return len(r.Claims) + len(r.Transfers)
}

// Stats are the aggregate counters of one discovery pass.
type Stats struct {
	BridgesAttempted int `json:"bridgesAttempted"`
	BridgesSucceeded int `json:"bridgesSucceeded"`
	TotalEvents      int `json:"totalEvents"`
	TotalTransfers   int `json:"totalTransfers"`
	TotalClaims      int `json:"totalClaims"`
	DegradedBlocks   int `json:"degradedBlocks"`
}

// Snapshot is the full result of a discovery pass: per-bridge results plus
// the cross-bridge union the reconciler consumes. Claims and transfers from
// different bridges are pooled because a cross-chain claim always lives on a
// different bridge instance than its transfer.
type Snapshot struct {
	Results   []BridgeResult  `json:"perBridgeResults"`
	Claims    []watcher.Event `json:"claims"`
	Transfers []watcher.Event `json:"transfers"`
	Stats     Stats           `json:"aggregateStats"`
}

// Discoverer walks the registered bridges, fetches their event logs through
// each network's failover source chain, decodes them and folds them into the
// cache. All per-network state (breakers, limiters, source chains) is owned
// by the Discoverer, so independent instances never share throttling state.
type Discoverer struct {
	reg     *registry.Registry
	cache   *cache.EventCache
	decoder *watcher.Decoder
	cfg     Config
	log     *log.Logger

	sources map[string]*source.ChunkedSource
	monitor *resilience.HealthMonitor
}

// New builds a Discoverer with one source chain per registered network.
// Networks with no usable source at all are rejected up front.
func New(reg *registry.Registry, eventCache *cache.EventCache, cfg Config) (*Discoverer, error) {
	decoder, err := watcher.NewDecoder()
	if err != nil {
		return nil, err
	}
	d := &Discoverer{
		reg:     reg,
		cache:   eventCache,
		decoder: decoder,
		cfg:     cfg,
		log:     log.WithFields("module", "discovery"),
		sources: make(map[string]*source.ChunkedSource),
		monitor: resilience.NewHealthMonitor(),
	}
	for _, n := range reg.Networks() {
		if err := d.buildSourceChain(n); err != nil {
			return nil, fmt.Errorf("error building source chain for %s: %w", n.Key, err)
		}
	}
	return d, nil
}

// buildSourceChain assembles the ordered fallback list for one network:
// relay or direct RPC first, then the explorer REST API, then the HTML
// scrape of last resort. The chain is wrapped in the network's breaker and
// limiter, and finally in the range chunker.
func (d *Discoverer) buildSourceChain(n registry.Network) error {
	var sources []source.Source
	if n.RelayURL != "" {
		s, err := source.NewSubstrateSource(n.Key, n.RelayURL)
		if err != nil {
			return err
		}
		sources = append(sources, s)
	} else if n.RPCURL != "" {
		s, err := source.NewRPCSource(n.Key, n.RPCURL)
		if err != nil {
			return err
		}
		sources = append(sources, s)
	}
	if n.ExplorerAPIURL != "" {
		sources = append(sources, source.NewExplorerSource(n.Key, n.ExplorerAPIURL, n.ExplorerAPIKey))
	}
	if n.ExplorerBaseURL != "" {
		sources = append(sources, source.NewScrapeSource(n.Key, n.ExplorerBaseURL))
	}
	if len(sources) == 0 {
		return fmt.Errorf("network %s has no RPC, relay or explorer configured", n.Key)
	}

	breaker := resilience.NewCircuitBreaker(resilience.DefaultCircuitBreakerConfig())
	var limiter *rate.Limiter
	if n.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(n.RequestsPerSecond), 1)
	}
	rh := resilience.NewRetryHandler(
		d.cfg.MaxRetryAttemptsAfterError, d.cfg.RetryAfterErrorPeriod.Duration,
	)
	failover := source.NewFailoverSource(n.Key, sources, breaker, rh, limiter)
	d.sources[n.Key] = source.NewChunkedSource(failover, n, d.cfg.InterChunkDelay.Duration)
	d.monitor.Register(n.Key, failover, breaker)
	return nil
}

// CheckHealth runs the connectivity self-test on every network chain.
func (d *Discoverer) CheckHealth(ctx context.Context) []resilience.NetworkHealth {
	return d.monitor.Check(ctx)
}

// Discover scans the given bridges over the historical window on its own
// goroutine and streams each bridge's result as it completes. The returned
// channel is closed when the pass ends; consumers typically fold the stream
// into a Snapshot. Bridges are processed sequentially with an inter-bridge
// delay; multiple bridges commonly share one network's RPC quota, so a
// parallel fan-out would trade wall time for rate limiting.
//
// On context cancellation the stream ends early; results already sent stay
// valid, so consumers keep the bridges that completed.
func (d *Discoverer) Discover(
	ctx context.Context, bridges []registry.BridgeDescriptor, windowHours uint64,
) <-chan BridgeResult {
	if windowHours == 0 {
		windowHours = d.cfg.WindowHours
	}
	results := make(chan BridgeResult, 1)
	go func() {
		defer close(results)
		for i, bridge := range bridges {
			if i > 0 {
				if err := d.pause(ctx); err != nil {
					return
				}
			}
			res := d.discoverBridge(ctx, bridge, windowHours)
			select {
			case results <- res:
			case <-ctx.Done():
				return
			}
			if errors.Is(res.Err, context.Canceled) || errors.Is(res.Err, context.DeadlineExceeded) {
				return
			}
		}
	}()
	return results
}

// DiscoverAll drains the Discover stream into a snapshot. On context
// cancellation the snapshot accumulated so far is returned together with the
// context error. ErrNoData is returned when every bridge failed.
func (d *Discoverer) DiscoverAll(
	ctx context.Context, bridges []registry.BridgeDescriptor, windowHours uint64,
) (*Snapshot, error) {
	snap := &Snapshot{}
	for res := range d.Discover(ctx, bridges, windowHours) {
		snap.Fold(res)
	}
	if err := ctx.Err(); err != nil {
		return snap, err
	}
	if snap.Stats.BridgesAttempted > 0 && snap.Stats.BridgesSucceeded == 0 {
		return snap, ErrNoData
	}
	return snap, nil
}

// Fold accumulates one streamed result into the snapshot.
func (s *Snapshot) Fold(res BridgeResult) {
	s.Results = append(s.Results, res)
	s.Stats.BridgesAttempted++
	if res.Err != nil {
		return
	}
	s.Stats.BridgesSucceeded++
	s.Claims = append(s.Claims, res.Claims...)
	s.Transfers = append(s.Transfers, res.Transfers...)
	s.Stats.TotalClaims += len(res.Claims)
	s.Stats.TotalTransfers += len(res.Transfers)
	s.Stats.TotalEvents += res.Events()
	for _, blocks := range res.Degraded {
		s.Stats.DegradedBlocks += len(blocks)
	}
}

// discoverBridge fetches, decodes and caches one bridge's events. All three
// event signatures go out as a single combined topic filter, one request per
// chunk instead of three.
func (d *Discoverer) discoverBridge(
	ctx context.Context, bridge registry.BridgeDescriptor, windowHours uint64,
) BridgeResult {
	res := BridgeResult{Bridge: bridge}

	src, ok := d.sources[bridge.NetworkKey]
	if !ok {
		res.Err = fmt.Errorf("%w: %s", registry.ErrUnknownNetwork, bridge.NetworkKey)
		return res
	}
	toBlock, err := src.LatestBlock(ctx)
	if err != nil {
		res.Err = fmt.Errorf("error getting block height of %s: %w", bridge.NetworkKey, err)
		return res
	}
	res.ToBlock = toBlock
	res.FromBlock = d.scanStart(bridge, src, toBlock, windowHours)

	logs, err := src.FetchLogs(ctx, bridge.Address, watcher.Signatures(), res.FromBlock, res.ToBlock)
	if err != nil {
		res.Err = fmt.Errorf("error fetching logs of %s: %w", bridge.String(), err)
		return res
	}
	events := d.decoder.DecodeBatch(bridge.NetworkKey, logs)
	res.Claims, res.Transfers = watcher.Partition(events)
	res.Degraded = degradedBlocks(logs)

	if err := d.persist(bridge, events); err != nil {
		// the fetch succeeded, keep the result and only log the cache failure
		d.log.Errorf("error caching events of %s: %v", bridge.String(), err)
	}

	// the cache may hold events the degraded fresh fetch missed
	res.Claims, res.Transfers = d.enrichFromCache(bridge, res.Claims, res.Transfers)
	d.log.Infof("discovered %s: %d claims, %d transfers in blocks [%d, %d]",
		bridge.String(), len(res.Claims), len(res.Transfers), res.FromBlock, res.ToBlock)
	return res
}

// degradedBlocks collects, per lower fidelity source, the block numbers of
// entries that carry no decodable log payload. Such entries prove bridge
// activity without telling what happened, so they surface on the result
// instead of the cache.
func degradedBlocks(logs []watcher.LogEntry) map[watcher.LogSource][]uint64 {
	var bySource map[watcher.LogSource][]uint64
	seen := make(map[watcher.LogSource]map[uint64]bool)
	for _, l := range logs {
		if !l.Degraded() {
			continue
		}
		if bySource == nil {
			bySource = make(map[watcher.LogSource][]uint64)
		}
		if seen[l.Source] == nil {
			seen[l.Source] = make(map[uint64]bool)
		}
		if seen[l.Source][l.BlockNumber] {
			continue
		}
		seen[l.Source][l.BlockNumber] = true
		bySource[l.Source] = append(bySource[l.Source], l.BlockNumber)
	}
	for _, blocks := range bySource {
		sort.Slice(blocks, func(i, j int) bool { return blocks[i] < blocks[j] })
	}
	return bySource
}

// scanStart picks the scan's first block: the window start, shrunk forward
// to just past the most recent cached block when every event type of this
// bridge has a live cache entry.
func (d *Discoverer) scanStart(
	bridge registry.BridgeDescriptor, src *source.ChunkedSource, toBlock, windowHours uint64,
) uint64 {
	windowBlocks := src.BlocksForWindow(windowHours)
	start := uint64(0)
	if toBlock > windowBlocks {
		start = toBlock - windowBlocks + 1
	}

	cachedStart := ^uint64(0)
	for _, t := range trackedTypes() {
		last, ok, err := d.cache.MostRecentBlock(bridge.NetworkKey, bridge.Address, t)
		if err != nil || !ok {
			return start
		}
		if last+1 < cachedStart {
			cachedStart = last + 1
		}
	}
	if cachedStart > start {
		d.log.Debugf("shrinking scan of %s from block %d to cached %d",
			bridge.String(), start, cachedStart)
		return cachedStart
	}
	return start
}

// persist merges each event type's fresh batch into the cache. Types with no
// fresh events still get an update so their TTL reflects the scan.
func (d *Discoverer) persist(bridge registry.BridgeDescriptor, events []watcher.Event) error {
	byType := make(map[watcher.EventType][]watcher.Event)
	for _, e := range events {
		byType[e.Type] = append(byType[e.Type], e)
	}
	for _, t := range trackedTypes() {
		if _, err := d.cache.Update(bridge.NetworkKey, bridge.Address, t, byType[t]); err != nil {
			return err
		}
	}
	return nil
}

// enrichFromCache unions the freshly fetched events with what the cache
// already knew, deduped by identity key. A degraded fetch must never shrink
// the observable event set.
func (d *Discoverer) enrichFromCache(
	bridge registry.BridgeDescriptor, claims, transfers []watcher.Event,
) ([]watcher.Event, []watcher.Event) {
	for _, t := range trackedTypes() {
		cached, err := d.cache.Get(bridge.NetworkKey, bridge.Address, t)
		if err != nil || cached == nil {
			continue
		}
		if t == watcher.EventNewClaim {
			claims = cache.Merge(claims, cached)
		} else {
			transfers = cache.Merge(transfers, cached)
		}
	}
	return claims, transfers
}

func trackedTypes() []watcher.EventType {
	return []watcher.EventType{
		watcher.EventNewClaim,
		watcher.EventNewExpatriation,
		watcher.EventNewRepatriation,
	}
}

func (d *Discoverer) pause(ctx context.Context) error {
	delay := d.cfg.InterBridgeDelay.Duration
	if delay <= 0 {
		delay = time.Second
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

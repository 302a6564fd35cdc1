package resilience

import (
	"context"
	"sort"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/bridgewatch/bridgewatch/log"
)

// ConnectionTester is the cheapest possible connectivity probe of one
// network: current block height or a narrow log query over a known address.
type ConnectionTester interface {
	TestConnection(ctx context.Context) bool
}

// NetworkHealth is the outcome of probing one network.
type NetworkHealth struct {
	NetworkKey string
	Healthy    bool
	Circuit    CircuitState
}

// HealthMonitor runs connectivity self-tests across all registered networks
// and reports per-network status alongside circuit breaker state.
type HealthMonitor struct {
	mu       sync.Mutex
	testers  map[string]ConnectionTester
	breakers map[string]*CircuitBreaker
	log      *log.Logger
}

// NewHealthMonitor creates an empty monitor.
func NewHealthMonitor() *HealthMonitor {
	return &HealthMonitor{
		testers:  make(map[string]ConnectionTester),
		breakers: make(map[string]*CircuitBreaker),
		log:      log.WithFields("module", "healthmonitor"),
	}
}

// Register adds a network's tester and breaker to the monitor.
func (h *HealthMonitor) Register(networkKey string, tester ConnectionTester, breaker *CircuitBreaker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.testers[networkKey] = tester
	h.breakers[networkKey] = breaker
}

// Check probes every registered network and returns results sorted by
// network key. Networks are probed concurrently, they share nothing.
func (h *HealthMonitor) Check(ctx context.Context) []NetworkHealth {
	h.mu.Lock()
	keys := make([]string, 0, len(h.testers))
	for k := range h.testers {
		keys = append(keys, k)
	}
	h.mu.Unlock()
	sort.Strings(keys)

	results := make([]NetworkHealth, len(keys))
	g, ctx := errgroup.WithContext(ctx)
	for i, key := range keys {
		i, key := i, key
		h.mu.Lock()
		tester := h.testers[key]
		breaker := h.breakers[key]
		h.mu.Unlock()

		g.Go(func() error {
			healthy := tester.TestConnection(ctx)
			state := CircuitClosed
			if breaker != nil {
				state = breaker.State()
			}
			if !healthy {
				h.log.Warnf("network %s failed the connectivity self-test", key)
			}
			results[i] = NetworkHealth{
				NetworkKey: key,
				Healthy:    healthy,
				Circuit:    state,
			}
			return nil
		})
	}
	_ = g.Wait() // probes report status, they never error
	return results
}

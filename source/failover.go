package source

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"golang.org/x/time/rate"

	"github.com/bridgewatch/bridgewatch/log"
	"github.com/bridgewatch/bridgewatch/resilience"
	"github.com/bridgewatch/bridgewatch/watcher"
)

// FailoverSource tries an explicit, ordered priority list of sources
// (typically rpc, then explorer API, then HTML scrape). The order is fixed
// at construction and never inferred from error contents. Each attempt goes
// through the network's rate limiter, bounded retries with backoff, and the
// network's circuit breaker; a rate-limit signal counts against the breaker
// and advances the chain.
type FailoverSource struct {
	networkKey string
	sources    []Source
	breaker    *resilience.CircuitBreaker
	rh         *resilience.RetryHandler
	limiter    *rate.Limiter
	log        *log.Logger
}

// NewFailoverSource builds the chain. limiter may be nil to disable rate
// limiting.
func NewFailoverSource(
	networkKey string,
	sources []Source,
	breaker *resilience.CircuitBreaker,
	rh *resilience.RetryHandler,
	limiter *rate.Limiter,
) *FailoverSource {
	return &FailoverSource{
		networkKey: networkKey,
		sources:    sources,
		breaker:    breaker,
		rh:         rh,
		limiter:    limiter,
		log:        log.WithFields("source", "failover", "network", networkKey),
	}
}

// Kind reports the primary source's fidelity. Entries fetched through a
// fallback carry their own Source tag, so per-entry fidelity survives even
// when the chain advanced past the primary.
func (f *FailoverSource) Kind() watcher.LogSource {
	if len(f.sources) == 0 {
		return watcher.SourceRPC
	}
	return f.sources[0].Kind()
}

// FetchLogs implements Source.
func (f *FailoverSource) FetchLogs(
	ctx context.Context, address common.Address, topics []common.Hash, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	return f.fetch(ctx, func(ctx context.Context, s Source) ([]watcher.LogEntry, error) {
		return s.FetchLogs(ctx, address, topics, fromBlock, toBlock)
	})
}

// FetchLogsAllTypes implements Source.
func (f *FailoverSource) FetchLogsAllTypes(
	ctx context.Context, address common.Address, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	return f.fetch(ctx, func(ctx context.Context, s Source) ([]watcher.LogEntry, error) {
		return s.FetchLogsAllTypes(ctx, address, fromBlock, toBlock)
	})
}

func (f *FailoverSource) fetch(
	ctx context.Context,
	call func(ctx context.Context, s Source) ([]watcher.LogEntry, error),
) ([]watcher.LogEntry, error) {
	var errs []error
	for _, s := range f.sources {
		logs, err := f.fetchWithRetries(ctx, s, call)
		if err == nil {
			return logs, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return nil, err
		}
		f.log.Warnf("source %s failed, trying next in the chain: %v", s.Kind(), err)
		errs = append(errs, fmt.Errorf("%s: %w", s.Kind(), err))
	}
	return nil, fmt.Errorf("%w on %s: %v", ErrAllSourcesFailed, f.networkKey, errors.Join(errs...))
}

func (f *FailoverSource) fetchWithRetries(
	ctx context.Context,
	s Source,
	call func(ctx context.Context, s Source) ([]watcher.LogEntry, error),
) ([]watcher.LogEntry, error) {
	attempts := 0
	for {
		if f.breaker != nil && !f.breaker.Allow() {
			return nil, fmt.Errorf("circuit open for %s", f.networkKey)
		}
		if f.limiter != nil {
			if err := f.limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}
		logs, err := call(ctx, s)
		if err == nil {
			if f.breaker != nil {
				f.breaker.RecordSuccess()
			}
			return logs, nil
		}
		// range rejections belong to the chunker, not to the retry loop
		if isRangeLimitErr(err) {
			return nil, err
		}
		if f.breaker != nil {
			f.breaker.RecordFailure()
		}
		if IsRateLimitErr(err) {
			// move straight to the next source, the breaker already took
			// note; hammering a throttled provider only makes it worse
			return nil, err
		}
		attempts++
		f.log.Debugf("attempt %d on %s failed: %v", attempts, s.Kind(), err)
		if handleErr := f.rh.Handle(ctx, "fetchLogs", attempts); handleErr != nil {
			return nil, fmt.Errorf("%v (last attempt: %w)", handleErr, err)
		}
	}
}

// TestConnection reports true when any source in the chain answers.
func (f *FailoverSource) TestConnection(ctx context.Context) bool {
	for _, s := range f.sources {
		if s.TestConnection(ctx) {
			return true
		}
	}
	return false
}

// LatestBlock asks each source in priority order until one reports height.
func (f *FailoverSource) LatestBlock(ctx context.Context) (uint64, error) {
	for _, s := range f.sources {
		bh, ok := s.(BlockHeighter)
		if !ok {
			continue
		}
		height, err := bh.LatestBlock(ctx)
		if err == nil {
			return height, nil
		}
	}
	return 0, ErrNoBlockHeight
}

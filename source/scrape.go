package source

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bridgewatch/bridgewatch/log"
	"github.com/bridgewatch/bridgewatch/watcher"
)

const (
	scrapeHTTPTimeout = 30 * time.Second
	// explorers cap the body size of listing pages, but be defensive about
	// reading arbitrary remote HTML
	scrapeMaxBodyBytes = 4 << 20
)

// blockLinkRe matches anchors to block detail pages in the transaction
// listing of the usual explorer frontends, e.g. href="/block/12345".
var blockLinkRe = regexp.MustCompile(`href="[^"]*/block/(\d+)["/?#]`)

// ScrapeSource is the fallback of last resort: it extracts block numbers
// from the HTML of a public explorer's address page. The result is
// degraded - block numbers only, no transaction hashes or log indexes - and
// callers must treat it as such.
type ScrapeSource struct {
	networkKey string
	baseURL    string
	httpClient *http.Client
	log        *log.Logger
}

// NewScrapeSource builds the scraper for one network's public explorer.
func NewScrapeSource(networkKey, baseURL string) *ScrapeSource {
	return &ScrapeSource{
		networkKey: networkKey,
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{Timeout: scrapeHTTPTimeout},
		log:        log.WithFields("source", "scrape", "network", networkKey),
	}
}

// Kind implements Source.
func (s *ScrapeSource) Kind() watcher.LogSource {
	return watcher.SourceScrape
}

// FetchLogs implements Source. The topic filter cannot be honored by a
// scraped page and is ignored; downstream classification drops what it
// cannot decode.
func (s *ScrapeSource) FetchLogs(
	ctx context.Context, address common.Address, _ []common.Hash, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	return s.FetchLogsAllTypes(ctx, address, fromBlock, toBlock)
}

// FetchLogsAllTypes implements Source.
func (s *ScrapeSource) FetchLogsAllTypes(
	ctx context.Context, address common.Address, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	body, err := s.fetchAddressPage(ctx, address)
	if err != nil {
		return nil, err
	}

	blockNums := extractBlockNumbers(body)
	entries := make([]watcher.LogEntry, 0, len(blockNums))
	for _, num := range blockNums {
		if num < fromBlock || num > toBlock {
			continue
		}
		entries = append(entries, watcher.LogEntry{
			Address:     address,
			BlockNumber: num,
			Source:      watcher.SourceScrape,
		})
	}
	s.log.Infof("scraped %d candidate blocks for %s in range [%d, %d]",
		len(entries), address.Hex(), fromBlock, toBlock)
	return entries, nil
}

func (s *ScrapeSource) fetchAddressPage(ctx context.Context, address common.Address) (string, error) {
	pageURL := fmt.Sprintf("%s/address/%s", s.baseURL, strings.ToLower(address.Hex()))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return "", err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode == http.StatusTooManyRequests {
		return "", ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("explorer page returned status %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, scrapeMaxBodyBytes))
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// extractBlockNumbers pulls the numeric block number out of every block
// detail link, deduplicates and sorts descending (most recent first).
func extractBlockNumbers(body string) []uint64 {
	matches := blockLinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[uint64]struct{}, len(matches))
	nums := make([]uint64, 0, len(matches))
	for _, m := range matches {
		num, err := strconv.ParseUint(m[1], 10, 64)
		if err != nil {
			continue
		}
		if _, ok := seen[num]; ok {
			continue
		}
		seen[num] = struct{}{}
		nums = append(nums, num)
	}
	sort.Slice(nums, func(i, j int) bool { return nums[i] > nums[j] })
	return nums
}

// TestConnection implements Source: the explorer frontend answering at all
// is the best probe available for a scraped source.
func (s *ScrapeSource) TestConnection(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL, nil)
	if err != nil {
		return false
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		s.log.Debugf("connectivity self-test failed: %v", err)
		return false
	}
	defer resp.Body.Close() //nolint:errcheck
	return resp.StatusCode == http.StatusOK
}

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/bridgewatch/bridgewatch/log"
	"github.com/bridgewatch/bridgewatch/watcher"
)

const (
	explorerPageSize    = 1000
	explorerHTTPTimeout = 30 * time.Second
)

// ExplorerSource fetches logs through a block explorer's REST API
// (etherscan-style "get logs" endpoint). It is the secondary strategy, used
// when the direct RPC fails or its circuit is open.
type ExplorerSource struct {
	networkKey string
	apiURL     string
	apiKey     string
	httpClient *http.Client
	log        *log.Logger
}

// NewExplorerSource builds the REST client for one network's explorer.
func NewExplorerSource(networkKey, apiURL, apiKey string) *ExplorerSource {
	return &ExplorerSource{
		networkKey: networkKey,
		apiURL:     strings.TrimSuffix(apiURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{Timeout: explorerHTTPTimeout},
		log:        log.WithFields("source", "explorer", "network", networkKey),
	}
}

// Kind implements Source.
func (s *ExplorerSource) Kind() watcher.LogSource {
	return watcher.SourceExplorer
}

type explorerLogResponse struct {
	Status  string        `json:"status"`
	Message string        `json:"message"`
	Result  []explorerLog `json:"result"`
}

type explorerLog struct {
	Address          string   `json:"address"`
	Topics           []string `json:"topics"`
	Data             string   `json:"data"`
	BlockNumber      string   `json:"blockNumber"`
	TransactionHash  string   `json:"transactionHash"`
	LogIndex         string   `json:"logIndex"`
	TransactionIndex string   `json:"transactionIndex"`
}

// FetchLogs implements Source. The explorer API filters by a single topic0
// per request, so a multi-topic filter becomes one request per topic.
func (s *ExplorerSource) FetchLogs(
	ctx context.Context, address common.Address, topics []common.Hash, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	if len(topics) == 0 {
		return s.fetchPaged(ctx, address, nil, fromBlock, toBlock)
	}
	var res []watcher.LogEntry
	for i := range topics {
		logs, err := s.fetchPaged(ctx, address, &topics[i], fromBlock, toBlock)
		if err != nil {
			return nil, err
		}
		res = append(res, logs...)
	}
	return res, nil
}

// FetchLogsAllTypes implements Source.
func (s *ExplorerSource) FetchLogsAllTypes(
	ctx context.Context, address common.Address, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	return s.fetchPaged(ctx, address, nil, fromBlock, toBlock)
}

func (s *ExplorerSource) fetchPaged(
	ctx context.Context, address common.Address, topic0 *common.Hash, fromBlock, toBlock uint64,
) ([]watcher.LogEntry, error) {
	var res []watcher.LogEntry
	for page := 1; ; page++ {
		logs, err := s.fetchPage(ctx, address, topic0, fromBlock, toBlock, page)
		if err != nil {
			return nil, err
		}
		res = append(res, logs...)
		if len(logs) < explorerPageSize {
			return res, nil
		}
	}
}

func (s *ExplorerSource) fetchPage(
	ctx context.Context, address common.Address, topic0 *common.Hash, fromBlock, toBlock uint64, page int,
) ([]watcher.LogEntry, error) {
	params := url.Values{}
	params.Set("module", "logs")
	params.Set("action", "getLogs")
	params.Set("address", strings.ToLower(address.Hex()))
	params.Set("fromBlock", strconv.FormatUint(fromBlock, 10))
	params.Set("toBlock", strconv.FormatUint(toBlock, 10))
	params.Set("page", strconv.Itoa(page))
	params.Set("offset", strconv.Itoa(explorerPageSize))
	if topic0 != nil {
		params.Set("topic0", strings.ToLower(topic0.Hex()))
	}
	if s.apiKey != "" {
		params.Set("apikey", s.apiKey)
	}

	var resp explorerLogResponse
	if err := s.get(ctx, params, &resp); err != nil {
		return nil, err
	}
	// the explorer answers status "0" both for errors and for empty result
	// sets; only the former carries a non-empty error message
	if resp.Status != "1" && len(resp.Result) == 0 {
		if strings.Contains(strings.ToLower(resp.Message), "rate limit") {
			return nil, ErrRateLimited
		}
		if resp.Message != "" && !strings.EqualFold(resp.Message, "No records found") {
			return nil, fmt.Errorf("explorer api error: %s", resp.Message)
		}
	}

	logs := make([]watcher.LogEntry, 0, len(resp.Result))
	for _, l := range resp.Result {
		entry, err := s.toLogEntry(l)
		if err != nil {
			s.log.Warnf("skipping unparsable explorer log: %v", err)
			continue
		}
		logs = append(logs, entry)
	}
	return logs, nil
}

func (s *ExplorerSource) get(ctx context.Context, params url.Values, out interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.apiURL+"?"+params.Encode(), nil)
	if err != nil {
		return err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close() //nolint:errcheck
	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrRateLimited
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("explorer api returned status %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (s *ExplorerSource) toLogEntry(l explorerLog) (watcher.LogEntry, error) {
	blockNumber, err := parseHexQuantity(l.BlockNumber)
	if err != nil {
		return watcher.LogEntry{}, fmt.Errorf("blockNumber %q: %w", l.BlockNumber, err)
	}
	// some explorers return an empty logIndex for index 0
	var logIndex uint64
	if l.LogIndex != "" && l.LogIndex != "0x" {
		logIndex, err = parseHexQuantity(l.LogIndex)
		if err != nil {
			return watcher.LogEntry{}, fmt.Errorf("logIndex %q: %w", l.LogIndex, err)
		}
	}
	var txIndex uint64
	if l.TransactionIndex != "" && l.TransactionIndex != "0x" {
		txIndex, err = parseHexQuantity(l.TransactionIndex)
		if err != nil {
			return watcher.LogEntry{}, fmt.Errorf("transactionIndex %q: %w", l.TransactionIndex, err)
		}
	}
	topics := make([]common.Hash, 0, len(l.Topics))
	for _, t := range l.Topics {
		topics = append(topics, common.HexToHash(t))
	}
	return watcher.LogEntry{
		Address:          common.HexToAddress(l.Address),
		Topics:           topics,
		Data:             l.Data,
		BlockNumber:      blockNumber,
		TransactionHash:  watcher.NormalizeHex(l.TransactionHash),
		LogIndex:         logIndex,
		TransactionIndex: txIndex,
		Source:           watcher.SourceExplorer,
	}, nil
}

// LatestBlock implements BlockHeighter through the explorer's
// eth_blockNumber proxy action, so the fallback chain can still report
// height when the direct RPC is down.
func (s *ExplorerSource) LatestBlock(ctx context.Context) (uint64, error) {
	params := url.Values{}
	params.Set("module", "proxy")
	params.Set("action", "eth_blockNumber")
	if s.apiKey != "" {
		params.Set("apikey", s.apiKey)
	}
	var resp struct {
		Result string `json:"result"`
	}
	if err := s.get(ctx, params, &resp); err != nil {
		return 0, err
	}
	if resp.Result == "" {
		return 0, fmt.Errorf("explorer api returned an empty block height")
	}
	return parseHexQuantity(resp.Result)
}

// TestConnection implements Source through the same proxy action.
func (s *ExplorerSource) TestConnection(ctx context.Context) bool {
	if _, err := s.LatestBlock(ctx); err != nil {
		s.log.Debugf("connectivity self-test failed: %v", err)
		return false
	}
	return true
}

// parseHexQuantity parses RPC quantities that may arrive either hex ("0x10")
// or decimal ("16") encoded, depending on the explorer.
func parseHexQuantity(s string) (uint64, error) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		return strconv.ParseUint(s[2:], 16, 64)
	}
	return strconv.ParseUint(s, 10, 64)
}

package source

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/require"

	"github.com/bridgewatch/bridgewatch/watcher"
)

const scrapeTestPage = `
<html><body>
<table>
<tr><td><a href="/tx/0xaaa">0xaaa...</a></td><td><a href="/block/19000123">19000123</a></td></tr>
<tr><td><a href="/tx/0xbbb">0xbbb...</a></td><td><a href="/block/19000050?tab=txs">19000050</a></td></tr>
<tr><td><a href="/tx/0xccc">0xccc...</a></td><td><a href="https://scan.example.com/block/19000123/">19000123</a></td></tr>
<tr><td><a href="/blocks/all">not a block link</a></td></tr>
<tr><td><a href="/block/0xdeadbeef">hash link, skipped</a></td></tr>
</table>
</body></html>`

func TestExtractBlockNumbers(t *testing.T) {
	t.Parallel()

	nums := extractBlockNumbers(scrapeTestPage)
	// deduplicated and sorted most recent first
	require.Equal(t, []uint64{19000123, 19000050}, nums)
}

func TestExtractBlockNumbersEmptyPage(t *testing.T) {
	t.Parallel()

	require.Empty(t, extractBlockNumbers("<html><body>nothing here</body></html>"))
}

func TestScrapeFetchLogs(t *testing.T) {
	t.Parallel()

	address := common.HexToAddress("0x1234567890123456789012345678901234567890")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/address/"+address.Hex(), r.URL.Path,
			"expected lowercase address path")
		fmt.Fprint(w, scrapeTestPage)
	}))
	defer srv.Close()

	s := NewScrapeSource("Testnet", srv.URL)
	entries, err := s.FetchLogsAllTypes(context.Background(), address, 19000100, 19999999)
	require.NoError(t, err)
	require.Len(t, entries, 1)

	entry := entries[0]
	require.Equal(t, uint64(19000123), entry.BlockNumber)
	require.Equal(t, watcher.SourceScrape, entry.Source)
	require.True(t, entry.Degraded())
}

func TestScrapeRateLimited(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	s := NewScrapeSource("Testnet", srv.URL)
	_, err := s.FetchLogsAllTypes(context.Background(), common.Address{}, 1, 10)
	require.ErrorIs(t, err, ErrRateLimited)
}

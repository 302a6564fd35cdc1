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

func TestParseHexQuantity(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		input    string
		expected uint64
		wantErr  bool
	}{
		{input: "0x10", expected: 16},
		{input: "0X10", expected: 16},
		{input: "16", expected: 16},
		{input: "0", expected: 0},
		{input: "nonsense", wantErr: true},
		{input: "", wantErr: true},
	}
	for _, tc := range testCases {
		got, err := parseHexQuantity(tc.input)
		if tc.wantErr {
			require.Error(t, err, tc.input)
			continue
		}
		require.NoError(t, err, tc.input)
		require.Equal(t, tc.expected, got, tc.input)
	}
}

func TestExplorerFetchLogs(t *testing.T) {
	t.Parallel()

	address := common.HexToAddress("0x1234567890123456789012345678901234567890")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "logs", q.Get("module"))
		require.Equal(t, "getLogs", q.Get("action"))
		require.Equal(t, "100", q.Get("fromBlock"))
		require.Equal(t, "200", q.Get("toBlock"))
		require.Equal(t, "secret", q.Get("apikey"))

		fmt.Fprint(w, `{"status":"1","message":"OK","result":[
			{"address":"0x1234567890123456789012345678901234567890",
			 "topics":["0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"],
			 "data":"0x00",
			 "blockNumber":"0x96",
			 "transactionHash":"0xDEAD",
			 "logIndex":"0x1",
			 "transactionIndex":"0x0"},
			{"address":"0x1234567890123456789012345678901234567890",
			 "topics":[],
			 "data":"0x",
			 "blockNumber":"151",
			 "transactionHash":"0xbeef",
			 "logIndex":"",
			 "transactionIndex":""}
		]}`)
	}))
	defer srv.Close()

	s := NewExplorerSource("Testnet", srv.URL, "secret")
	logs, err := s.FetchLogsAllTypes(context.Background(), address, 100, 200)
	require.NoError(t, err)
	require.Len(t, logs, 2)

	require.Equal(t, uint64(150), logs[0].BlockNumber)
	require.Equal(t, "0xdead", logs[0].TransactionHash)
	require.Equal(t, uint64(1), logs[0].LogIndex)
	require.Equal(t, watcher.SourceExplorer, logs[0].Source)

	// decimal block number and empty logIndex are tolerated
	require.Equal(t, uint64(151), logs[1].BlockNumber)
	require.Equal(t, uint64(0), logs[1].LogIndex)
}

func TestExplorerEmptyResult(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"No records found","result":[]}`)
	}))
	defer srv.Close()

	s := NewExplorerSource("Testnet", srv.URL, "")
	logs, err := s.FetchLogsAllTypes(context.Background(), common.Address{}, 1, 10)
	require.NoError(t, err)
	require.Empty(t, logs)
}

func TestExplorerRateLimit(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		handler http.HandlerFunc
	}{
		{
			name: "http 429",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				w.WriteHeader(http.StatusTooManyRequests)
			},
		},
		{
			name: "rate limit message",
			handler: func(w http.ResponseWriter, _ *http.Request) {
				fmt.Fprint(w, `{"status":"0","message":"Max rate limit reached","result":[]}`)
			},
		},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			s := NewExplorerSource("Testnet", srv.URL, "")
			_, err := s.FetchLogsAllTypes(context.Background(), common.Address{}, 1, 10)
			require.ErrorIs(t, err, ErrRateLimited)
		})
	}
}

func TestExplorerAPIError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"status":"0","message":"Invalid address format","result":[]}`)
	}))
	defer srv.Close()

	s := NewExplorerSource("Testnet", srv.URL, "")
	_, err := s.FetchLogsAllTypes(context.Background(), common.Address{}, 1, 10)
	require.ErrorContains(t, err, "Invalid address format")
}

func TestExplorerLatestBlock(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		require.Equal(t, "proxy", q.Get("module"))
		require.Equal(t, "eth_blockNumber", q.Get("action"))
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":83,"result":"0x100"}`)
	}))
	defer srv.Close()

	s := NewExplorerSource("Testnet", srv.URL, "")
	height, err := s.LatestBlock(context.Background())
	require.NoError(t, err)
	require.Equal(t, uint64(256), height)

	empty := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":83,"result":""}`)
	}))
	defer empty.Close()
	_, err = NewExplorerSource("Testnet", empty.URL, "").LatestBlock(context.Background())
	require.Error(t, err)
}

func TestExplorerTestConnection(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "proxy", r.URL.Query().Get("module"))
		fmt.Fprint(w, `{"jsonrpc":"2.0","id":83,"result":"0x134e82a"}`)
	}))
	defer srv.Close()

	s := NewExplorerSource("Testnet", srv.URL, "")
	require.True(t, s.TestConnection(context.Background()))

	down := NewExplorerSource("Testnet", "http://127.0.0.1:1", "")
	require.False(t, down.TestConnection(context.Background()))
}

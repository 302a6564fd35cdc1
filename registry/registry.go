package registry

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

var (
	// ErrUnknownNetwork is returned when a network key is not registered
	ErrUnknownNetwork = errors.New("unknown network")
)

// BridgeRole identifies on which side of a bridge pair a contract sits.
type BridgeRole string

const (
	RoleExport        = BridgeRole("export")
	RoleImport        = BridgeRole("import")
	RoleImportWrapper = BridgeRole("import_wrapper")
	RoleExportWrapper = BridgeRole("export_wrapper")
)

// Network holds the static connection parameters of one chain. It is
// provided by the external bridge directory and consumed as-is, already
// validated.
type Network struct {
	// Key is the canonical network identifier, e.g. "Ethereum", "BSC"
	Key string `mapstructure:"Key"`
	// RPCURL endpoint used for direct eth_getLogs queries
	RPCURL string `mapstructure:"RPCURL"`
	// ChainID of the network
	ChainID uint64 `mapstructure:"ChainID"`
	// AvgBlockTimeSeconds is used to convert historical windows expressed in
	// hours into block spans
	AvgBlockTimeSeconds uint64 `mapstructure:"AvgBlockTimeSeconds"`
	// ExplorerAPIURL is the block explorer REST endpoint used as fallback.
	// Empty if the network has no explorer API
	ExplorerAPIURL string `mapstructure:"ExplorerAPIURL"`
	// ExplorerAPIKey authenticates explorer REST calls. Empty for explorers
	// with an unauthenticated free tier
	ExplorerAPIKey string `mapstructure:"ExplorerAPIKey"`
	// ExplorerBaseURL is the public explorer website, used by the HTML
	// scraping fallback of last resort
	ExplorerBaseURL string `mapstructure:"ExplorerBaseURL"`
	// RelayURL is set for Substrate-hosted EVMs whose logs are fetched
	// through a relay node instead of native eth_getLogs
	RelayURL string `mapstructure:"RelayURL"`
	// GetLogsBlockRangeLimit is the widest block span the RPC accepts on a
	// single eth_getLogs call. Zero means unrestricted
	GetLogsBlockRangeLimit uint64 `mapstructure:"GetLogsBlockRangeLimit"`
	// RequestsPerSecond caps the request rate against this network's
	// providers. Zero disables the limiter
	RequestsPerSecond float64 `mapstructure:"RequestsPerSecond"`
}

// BridgeDescriptor is the static identity of one deployed bridge contract.
type BridgeDescriptor struct {
	NetworkKey string         `mapstructure:"NetworkKey"`
	Address    common.Address `mapstructure:"Address"`
	Role       BridgeRole     `mapstructure:"Role"`

	HomeNetwork      string `mapstructure:"HomeNetwork"`
	HomeTokenSymbol  string `mapstructure:"HomeTokenSymbol"`
	HomeTokenAddress string `mapstructure:"HomeTokenAddress"`

	ForeignNetwork      string `mapstructure:"ForeignNetwork"`
	ForeignTokenSymbol  string `mapstructure:"ForeignTokenSymbol"`
	ForeignTokenAddress string `mapstructure:"ForeignTokenAddress"`

	StakeTokenSymbol string `mapstructure:"StakeTokenSymbol"`
}

// String returns a short human readable identity used in logs.
func (b BridgeDescriptor) String() string {
	return fmt.Sprintf("%s:%s (%s)", b.NetworkKey, b.Address.Hex(), b.Role)
}

// IsTransferSide reports whether events emitted by this contract are
// expatriations (export side) rather than repatriations.
func (b BridgeDescriptor) IsTransferSide() bool {
	return b.Role == RoleExport || b.Role == RoleExportWrapper
}

// Registry is the read-only directory of networks and deployed bridges.
type Registry struct {
	networks map[string]Network
	bridges  []BridgeDescriptor
}

// New builds a Registry from the injected directory data.
func New(networks []Network, bridges []BridgeDescriptor) *Registry {
	m := make(map[string]Network, len(networks))
	for _, n := range networks {
		m[n.Key] = n
	}
	return &Registry{
		networks: m,
		bridges:  bridges,
	}
}

// Network returns the network registered under key.
func (r *Registry) Network(key string) (Network, error) {
	n, ok := r.networks[key]
	if !ok {
		return Network{}, fmt.Errorf("%w: %s", ErrUnknownNetwork, key)
	}
	return n, nil
}

// Networks returns all registered networks.
func (r *Registry) Networks() []Network {
	res := make([]Network, 0, len(r.networks))
	for _, n := range r.networks {
		res = append(res, n)
	}
	return res
}

// Bridges returns all registered bridge descriptors.
func (r *Registry) Bridges() []BridgeDescriptor {
	return r.bridges
}

// BridgesOnNetwork returns the bridges deployed on the given network.
func (r *Registry) BridgesOnNetwork(key string) []BridgeDescriptor {
	res := []BridgeDescriptor{}
	for _, b := range r.bridges {
		if b.NetworkKey == key {
			res = append(res, b)
		}
	}
	return res
}

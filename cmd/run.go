package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ethereum/go-ethereum/common"
	"github.com/urfave/cli/v2"

	"github.com/bridgewatch/bridgewatch/cache"
	"github.com/bridgewatch/bridgewatch/config"
	"github.com/bridgewatch/bridgewatch/discovery"
	"github.com/bridgewatch/bridgewatch/log"
	"github.com/bridgewatch/bridgewatch/reconcile"
	"github.com/bridgewatch/bridgewatch/registry"
	"github.com/bridgewatch/bridgewatch/version"
	"github.com/bridgewatch/bridgewatch/watcher"
)

// Report is what the run command emits: the discovery stats, the
// reconciliation classification and whatever only the lower fidelity
// sources managed to see.
type Report struct {
	Stats          discovery.Stats                           `json:"aggregateStats"`
	Reconciliation reconcile.Result                          `json:"reconciliation"`
	BridgeErrors   map[string]string                         `json:"bridgeErrors,omitempty"`
	Degraded       map[string]map[watcher.LogSource][]uint64 `json:"degraded,omitempty"`
}

// RunCmd performs one discovery plus reconciliation pass and writes the
// report as JSON.
func RunCmd(cliCtx *cli.Context) error {
	c, err := config.Load(cliCtx)
	if err != nil {
		return err
	}
	log.Init(c.Log)
	if c.Log.Environment == log.EnvironmentDevelopment {
		version.PrintVersion(os.Stdout)
	}

	ctx, cancel := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	reg := c.Registry()
	bridges, err := selectBridges(reg, cliCtx.StringSlice(config.FlagBridges))
	if err != nil {
		return err
	}
	if len(bridges) == 0 {
		return fmt.Errorf("no bridges configured")
	}

	eventCache, err := cache.New(c.Cache.DBPath, c.Cache.TTL.Duration)
	if err != nil {
		return fmt.Errorf("error opening the event cache: %w", err)
	}
	defer eventCache.Close()

	disc, err := discovery.New(reg, eventCache, c.Discovery)
	if err != nil {
		return err
	}
	snap := &discovery.Snapshot{}
	for res := range disc.Discover(ctx, bridges, cliCtx.Uint64(config.FlagWindow)) {
		switch {
		case res.Err != nil:
			log.Warnf("bridge %s failed: %v", res.Bridge.String(), res.Err)
		case len(res.Degraded) > 0:
			log.Warnf("bridge %s: %d events plus undecodable activity from a degraded source",
				res.Bridge.String(), res.Events())
		default:
			log.Infof("bridge %s: %d events", res.Bridge.String(), res.Events())
		}
		snap.Fold(res)
	}
	if err := discoveryErr(ctx, snap); err != nil {
		if !partialUsable(snap) {
			return err
		}
		log.Warnf("continuing with partial discovery results: %v", err)
	}

	report := Report{
		Stats:          snap.Stats,
		Reconciliation: reconcile.Aggregate(snap.Claims, snap.Transfers, c.Reconcile),
		BridgeErrors:   bridgeErrors(snap),
		Degraded:       degradedByBridge(snap),
	}
	log.Infof("reconciled %d completed, %d pending, %d suspicious",
		len(report.Reconciliation.Completed),
		len(report.Reconciliation.Pending),
		len(report.Reconciliation.Suspicious))

	return writeReport(cliCtx.String(config.FlagOutputFile), report)
}

// discoveryErr mirrors the stream's end state: cancellation wins, then "not
// a single bridge answered".
func discoveryErr(ctx context.Context, snap *discovery.Snapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if snap.Stats.BridgesAttempted > 0 && snap.Stats.BridgesSucceeded == 0 {
		return discovery.ErrNoData
	}
	return nil
}

// partialUsable reports whether a failed discovery pass still produced
// results worth reconciling.
func partialUsable(snap *discovery.Snapshot) bool {
	return snap != nil && snap.Stats.BridgesSucceeded > 0
}

func degradedByBridge(snap *discovery.Snapshot) map[string]map[watcher.LogSource][]uint64 {
	var out map[string]map[watcher.LogSource][]uint64
	for _, res := range snap.Results {
		if len(res.Degraded) == 0 {
			continue
		}
		if out == nil {
			out = make(map[string]map[watcher.LogSource][]uint64)
		}
		out[res.Bridge.String()] = res.Degraded
	}
	return out
}

func bridgeErrors(snap *discovery.Snapshot) map[string]string {
	var errs map[string]string
	for _, res := range snap.Results {
		if res.Err == nil {
			continue
		}
		if errs == nil {
			errs = make(map[string]string)
		}
		errs[res.Bridge.String()] = res.Err.Error()
	}
	return errs
}

// selectBridges filters the configured bridges down to the addresses given
// on the command line, or returns all of them when no filter was given.
func selectBridges(reg *registry.Registry, filter []string) ([]registry.BridgeDescriptor, error) {
	all := reg.Bridges()
	if len(filter) == 0 {
		return all, nil
	}
	wanted := make(map[common.Address]bool, len(filter))
	for _, f := range filter {
		if !common.IsHexAddress(f) {
			return nil, fmt.Errorf("invalid bridge address %q", f)
		}
		wanted[common.HexToAddress(f)] = true
	}
	res := make([]registry.BridgeDescriptor, 0, len(wanted))
	for _, b := range all {
		if wanted[b.Address] {
			res = append(res, b)
		}
	}
	if len(res) == 0 {
		return nil, fmt.Errorf("no configured bridge matches %s", strings.Join(filter, ", "))
	}
	return res, nil
}

func writeReport(path string, report Report) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return err
	}
	data = append(data, '\n')
	if path == "" {
		_, err = os.Stdout.Write(data)
		return err
	}
	return os.WriteFile(path, data, 0600)
}

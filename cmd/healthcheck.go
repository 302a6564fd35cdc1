package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"text/tabwriter"

	"github.com/urfave/cli/v2"

	"github.com/bridgewatch/bridgewatch/cache"
	"github.com/bridgewatch/bridgewatch/config"
	"github.com/bridgewatch/bridgewatch/discovery"
	"github.com/bridgewatch/bridgewatch/log"
)

// HealthcheckCmd probes every configured network with its cheapest call and
// prints a per-network status table. Exits non-zero when any network is
// unreachable.
func HealthcheckCmd(cliCtx *cli.Context) error {
	c, err := config.Load(cliCtx)
	if err != nil {
		return err
	}
	log.Init(c.Log)

	ctx, cancel := signal.NotifyContext(cliCtx.Context, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	eventCache, err := cache.New(c.Cache.DBPath, c.Cache.TTL.Duration)
	if err != nil {
		return fmt.Errorf("error opening the event cache: %w", err)
	}
	defer eventCache.Close()

	disc, err := discovery.New(c.Registry(), eventCache, c.Discovery)
	if err != nil {
		return err
	}

	results := disc.CheckHealth(ctx)
	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "NETWORK\tHEALTHY\tCIRCUIT")
	unhealthy := 0
	for _, r := range results {
		fmt.Fprintf(w, "%s\t%t\t%s\n", r.NetworkKey, r.Healthy, r.Circuit)
		if !r.Healthy {
			unhealthy++
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}
	if unhealthy > 0 {
		return fmt.Errorf("%d of %d networks failed the connectivity test", unhealthy, len(results))
	}
	return nil
}

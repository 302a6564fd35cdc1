package main

import (
	"log"
	"os"

	"github.com/urfave/cli/v2"

	"github.com/bridgewatch/bridgewatch/cmd"
	"github.com/bridgewatch/bridgewatch/config"
	"github.com/bridgewatch/bridgewatch/version"
)

const appName = "bridgewatch"

var (
	configFileFlag = cli.StringFlag{
		Name:     config.FlagCfg,
		Aliases:  []string{"c"},
		Usage:    "Configuration `FILE`",
		Required: true,
	}
	windowFlag = cli.Uint64Flag{
		Name:  config.FlagWindow,
		Usage: "Historical window to scan, in hours (overrides the config)",
	}
	bridgesFlag = cli.StringSliceFlag{
		Name:  config.FlagBridges,
		Usage: "Restrict the run to the given bridge contract addresses",
	}
	outputFileFlag = cli.StringFlag{
		Name:    config.FlagOutputFile,
		Aliases: []string{"o"},
		Usage:   "Write the reconciliation report to `FILE` instead of stdout",
	}
)

func main() {
	app := cli.NewApp()
	app.Name = appName
	app.Version = version.Version

	app.Commands = []*cli.Command{
		{
			Name:    "version",
			Aliases: []string{},
			Usage:   "Application version and build",
			Action:  cmd.VersionCmd,
		},
		{
			Name:    "run",
			Aliases: []string{},
			Usage:   "Discover bridge events and reconcile claims against transfers",
			Action:  cmd.RunCmd,
			Flags:   []cli.Flag{&configFileFlag, &windowFlag, &bridgesFlag, &outputFileFlag},
		},
		{
			Name:    "healthcheck",
			Aliases: []string{},
			Usage:   "Probe connectivity of every configured network",
			Action:  cmd.HealthcheckCmd,
			Flags:   []cli.Flag{&configFileFlag},
		},
	}
	err := app.Run(os.Args)
	if err != nil {
		log.Fatal(err)
		os.Exit(1)
	}
}

package cmd

import (
	"os"

	"github.com/urfave/cli/v2"

	"github.com/bridgewatch/bridgewatch/version"
)

func VersionCmd(*cli.Context) error {
	version.PrintVersion(os.Stdout)
	return nil
}

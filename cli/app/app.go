package app

import (
	"fmt"
	"os"
	"runtime"

	"github.com/nspcc-dev/nexa-sim/cli/server"
	"github.com/nspcc-dev/nexa-sim/pkg/config"
	"github.com/urfave/cli"
)

func versionPrinter(c *cli.Context) {
	_, _ = fmt.Fprintf(c.App.Writer, "Nexa simulator\nVersion: %s\nGoVersion: %s\n",
		config.Version,
		runtime.Version(),
	)
}

// New creates a nexa-sim instance of [cli.App] with all commands included.
func New() *cli.App {
	cli.VersionPrinter = versionPrinter
	ctl := cli.NewApp()
	ctl.Name = "nexa-sim"
	ctl.Version = config.Version
	ctl.Usage = "Proof-of-work blockchain simulator with real-time event streaming"
	ctl.ErrWriter = os.Stdout

	ctl.Commands = append(ctl.Commands, server.NewCommands()...)
	return ctl
}

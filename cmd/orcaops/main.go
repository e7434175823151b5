package main

import (
	"os"

	"github.com/catalystcommunity/app-utils-go/logging"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "orcaops",
		Usage: "submit and inspect containerized jobs and workflows",
		Commands: []*cli.Command{
			runCommand,
			getCommand,
			listCommand,
			gcCommand,
			workflowCommand,
			metricsCommand,
		},
	}

	if err := app.Run(os.Args); err != nil {
		logging.Log.WithError(err).Fatal("orcaops: command failed")
	}
}

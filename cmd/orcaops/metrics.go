package main

import (
	"net/http"

	"github.com/urfave/cli/v2"

	"github.com/orcaops/orcaops/internal/config"
	"github.com/orcaops/orcaops/internal/metrics"
)

var metricsCommand = &cli.Command{
	Name:  "metrics-server",
	Usage: "Serve the Prometheus /metrics endpoint (blocks until interrupted)",
	Action: func(ctx *cli.Context) error {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		return http.ListenAndServe(config.MetricsAddr, mux)
	},
}

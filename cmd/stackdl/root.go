package main

import (
	"github.com/spf13/cobra"

	"github.com/datallboy/stackdl/internal/infra/config"
	"github.com/datallboy/stackdl/internal/transport/httpdl"
)

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "stackdl",
		Short:         "Download manager with per-group admission limits",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "", "path to config.yaml (default ./config.yaml)")

	cmd.AddCommand(
		newServeCmd(opts),
		newGetCmd(opts),
		newConfigCmd(opts),
	)
	return cmd
}

func sessionOptions(t config.TransportConfig) httpdl.Options {
	opts := httpdl.DefaultOptions()
	opts.Timeout = t.Timeout
	opts.BandwidthLimit = t.BandwidthLimit
	if t.UserAgent != "" {
		opts.UserAgent = t.UserAgent
	}
	if t.ProgressInterval > 0 {
		opts.ProgressInterval = t.ProgressInterval
	}
	return opts
}

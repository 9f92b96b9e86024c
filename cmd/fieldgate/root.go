package main

import (
	"fmt"

	"fieldgate/global/config"
	"fieldgate/logger"

	"github.com/spf13/cobra"
)

// version is stamped at build time with -ldflags "-X main.version=...".
var version = "dev"

// newRootCmd creates the root fieldgate command with all subcommands attached.
func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:           "fieldgate",
		Short:         "Realtime presence, messaging and alert fanout gateway",
		Long:          "fieldgate keeps WebSocket sessions for operators and field workers,\nfans alerts and dashboard deltas out across instances and carries the\noperator/worker chat.",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.SetVersionTemplate("fieldgate {{.Version}}\n")
	cmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to the YAML config (FIELDGATE_* env overrides apply)")

	load := func() (*config.AppConfig, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, err
		}
		logger.SetLevel(cfg.Log.Level)
		return cfg, nil
	}

	cmd.AddCommand(
		newServeCmd(load),
		newPublishCmd(load),
		newTokenCmd(load),
		newVersionCmd(),
	)
	return cmd
}

type configLoader func() (*config.AppConfig, error)

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, _ []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "fieldgate %s\n", version)
		},
	}
}

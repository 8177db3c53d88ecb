// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package main

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/keystone-commerce/keystone/internal/config"
	"github.com/keystone-commerce/keystone/internal/logging"
	"github.com/keystone-commerce/keystone/internal/xdg"
)

const serviceName = "keystone"

// NewRootCmd builds the command tree.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keystone",
		Short: "Keystone credential service",
		Long: `Keystone issues and validates access tokens, manages customer accounts,
and runs password recovery for the storefront.`,
		SilenceUsage: true,
	}

	cmd.PersistentFlags().String("config", "", "config file (default: $XDG_CONFIG_HOME/keystone/config.yaml)")
	config.RegisterFlags(cmd.PersistentFlags())

	cmd.AddCommand(NewServeCmd())
	cmd.AddCommand(NewMigrateCmd())
	cmd.AddCommand(NewPurgeResetsCmd())
	return cmd
}

// loadConfig reads configuration for cmd. An explicit --config must exist;
// the XDG default is optional.
func loadConfig(cmd *cobra.Command, skipValidation bool) (*config.Config, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, err
	}
	optional := false
	if path == "" {
		path, optional = xdg.ConfigFile(), true
	}
	return config.Load(config.LoadOptions{
		File:           path,
		Optional:       optional,
		Flags:          cmd.Flags(),
		SkipValidation: skipValidation,
	})
}

func newLogger(cmd *cobra.Command, cfg *config.Config) (*slog.Logger, error) {
	level, err := logging.ParseLevel(cfg.Log.Level)
	if err != nil {
		return nil, err
	}
	return logging.SetDefault(logging.Options{
		Service: serviceName,
		Version: version,
		Format:  cfg.Log.Format,
		Level:   level,
		Writer:  cmd.ErrOrStderr(),
	}), nil
}

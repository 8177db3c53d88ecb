// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keystone Contributors

package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/keystone-commerce/keystone/internal/config"
)

// NewPurgeResetsCmd creates the purge-resets subcommand.
func NewPurgeResetsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "purge-resets",
		Short: "Delete expired password reset tokens",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd, false)
			if err != nil {
				return err
			}
			logger, err := newLogger(cmd, cfg)
			if err != nil {
				return err
			}
			n, err := purgeResets(cmd.Context(), cfg, logger)
			if err != nil {
				return err
			}
			cmd.Printf("Removed %d expired reset token(s)\n", n)
			return nil
		},
	}
}

func purgeResets(ctx context.Context, cfg *config.Config, logger *slog.Logger) (n int64, err error) {
	a, err := buildApp(ctx, cfg, logger, nil)
	if err != nil {
		return 0, err
	}
	defer func() {
		if closeErr := a.Close(context.WithoutCancel(ctx)); closeErr != nil && err == nil {
			err = closeErr
		}
	}()
	return a.coordinator.PurgeExpiredResets(ctx)
}

package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newServeCmd(cfg *cliConfig) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and accept backups until signaled to stop",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), cfg)
		},
	}
}

func runServe(ctx context.Context, cfg *cliConfig) error {
	application, err := buildApp(cfg)
	if err != nil {
		return err
	}
	defer application.Close()

	application.logger.Info("starting backupd",
		zap.String("version", version),
		zap.String("config_dir", cfg.options.ConfigStoreRoot),
		zap.String("repo_base", cfg.options.RepositoryBasePath),
		zap.String("log_level", cfg.options.LogLevel),
	)

	if err := application.sched.Start(ctx); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	defer func() {
		if err := application.sched.Stop(); err != nil {
			application.logger.Warn("scheduler shutdown error", zap.Error(err))
		}
	}()

	stopNotify, done := signalContext()
	defer stopNotify()

	application.logger.Info("backupd running, waiting for signal")
	<-done

	application.logger.Info("backupd stopping")
	return nil
}

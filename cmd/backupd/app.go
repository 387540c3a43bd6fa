package main

import (
	"fmt"

	"go.uber.org/zap"

	"github.com/arkeepbackup/backupd/internal/configstore"
	"github.com/arkeepbackup/backupd/internal/credential"
	"github.com/arkeepbackup/backupd/internal/engine"
	"github.com/arkeepbackup/backupd/internal/jobregistry"
	"github.com/arkeepbackup/backupd/internal/jobsink"
	"github.com/arkeepbackup/backupd/internal/logging"
	"github.com/arkeepbackup/backupd/internal/logstore"
	"github.com/arkeepbackup/backupd/internal/orchestrator"
	"github.com/arkeepbackup/backupd/internal/protocol"
	"github.com/arkeepbackup/backupd/internal/scheduler"
	"github.com/arkeepbackup/backupd/internal/storagemonitor"
)

// app bundles every collaborator a subcommand might need. Not every
// subcommand uses every field — CRUD commands only touch configStore,
// operational commands touch the rest too.
type app struct {
	logger      *zap.Logger
	configStore *configstore.Store
	creds       *credential.Store
	jobs        *jobregistry.Registry
	jobsRepo    *jobsink.Repository
	logs        *logstore.Store
	orch        *orchestrator.Orchestrator
	sched       *scheduler.Scheduler

	closeDB func() error
}

// buildApp wires every collaborator the same way the teacher's run()
// wires repositories/auth/scheduler/servers in cmd/server/main.go, generalized
// from HTTP+gRPC server construction to a single in-process daemon.
func buildApp(cfg *cliConfig) (*app, error) {
	if err := cfg.options.Validate(); err != nil {
		return nil, err
	}
	if err := requireMasterKey(cfg); err != nil {
		return nil, err
	}

	logger, err := logging.New(cfg.options.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	keyBytes := make([]byte, 32)
	copy(keyBytes, []byte(cfg.masterKey))
	creds, err := credential.New(keyBytes, cfg.options.PBKDF2Iterations)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize credential store: %w", err)
	}

	configStore, err := configstore.New(cfg.options.ConfigStoreRoot, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open configuration store: %w", err)
	}

	logs, err := logstore.Open(cfg.options.StateDir+"/backup-logs.ndjson", logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open log store: %w", err)
	}

	protocols := protocol.NewRegistry(logger)
	protocols.Register(protocol.NewSMBDriver(cfg.options.StateDir+"/mounts", logger))
	protocols.Register(protocol.NewSSHDriver(cfg.options.StateDir+"/mounts", logger))
	protocols.Register(protocol.NewRsyncDriver(cfg.options.StateDir+"/mounts", logger))

	storage := storagemonitor.New(storagemonitor.Thresholds{
		WarningPercent:   cfg.options.WarningPercent,
		CriticalPercent:  cfg.options.CriticalPercent,
		ExhaustedPercent: cfg.options.ExhaustedPercent,
		MinimumFreeBytes: cfg.options.MinimumFreeBytes,
	})
	engineClient := engine.NewClient(cfg.options.EngineBinaryPath)

	gormDB, err := jobsink.Open(jobsink.Config{
		Driver:   cfg.options.DBDriver,
		DSN:      cfg.options.DBDSN,
		Logger:   logger,
		LogLevel: gormLogLevel(cfg.options.LogLevel),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open job sink: %w", err)
	}
	jobRepo := jobsink.NewRepository(gormDB)

	jobs := jobregistry.New(jobRepo, cfg.options.CompletedJobTTL, logger)

	opts := orchestrator.DefaultOptions()
	opts.RepositoryBasePath = cfg.options.RepositoryBasePath
	opts.RestoreRoot = cfg.options.RestoreRoot
	opts.WakeWait = cfg.options.WakeWaitSeconds

	orch := orchestrator.New(configStore, protocols, storage, engineClient, jobs, creds, logs, opts, logger)

	sched, err := scheduler.New(configStore, orch, jobs, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to create scheduler: %w", err)
	}

	closeDB := func() error {
		sqlDB, err := gormDB.DB()
		if err != nil {
			return err
		}
		return sqlDB.Close()
	}

	return &app{
		logger:      logger,
		configStore: configStore,
		creds:       creds,
		jobs:        jobs,
		jobsRepo:    jobRepo,
		logs:        logs,
		orch:        orch,
		sched:       sched,
		closeDB:     closeDB,
	}, nil
}

func (a *app) Close() {
	if err := a.closeDB(); err != nil {
		a.logger.Warn("error closing job sink", zap.Error(err))
	}
	a.logger.Sync() //nolint:errcheck
}

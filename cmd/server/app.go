package main

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/kamikazebr/madric/internal/server/config"
	"github.com/kamikazebr/madric/internal/server/metrics"
	"github.com/kamikazebr/madric/internal/server/routeros"
	"github.com/kamikazebr/madric/internal/server/services"
	"github.com/kamikazebr/madric/internal/server/storage"
	"github.com/kamikazebr/madric/pkg/utils"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// app holds the wired services shared by serve and the admin commands
type app struct {
	store    storage.Store
	registry *prometheus.Registry
	hosts    *services.HostCache
	devices  *services.DeviceService
	vouchers *services.VoucherService
	access   *services.AccessService
	logger   *zap.Logger
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return nil, fmt.Errorf("invalid %s: %w", config.EnvLogLevel, err)
	}
	zcfg := zap.NewProductionConfig()
	zcfg.Level = zap.NewAtomicLevelAt(lvl)
	return zcfg.Build()
}

func openStore(ctx context.Context, cfg config.StorageConfig, logger *zap.Logger) (storage.Store, error) {
	switch cfg.Backend {
	case config.BackendPostgres:
		db, err := storage.NewPostgresDB(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := db.Migrate(ctx, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		return storage.NewPostgresStore(db), nil
	case config.BackendBolt:
		if dir := filepath.Dir(cfg.BoltPath); dir != "." {
			if err := utils.MkdirAllWithOwnership(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create %s: %w", dir, err)
			}
		}
		store, err := storage.NewBoltStore(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		if err := utils.FixFileOwnership(cfg.BoltPath); err != nil {
			logger.Warn("Failed to fix bolt file ownership", zap.String("path", cfg.BoltPath), zap.Error(err))
		}
		return store, nil
	case config.BackendFirestore:
		return storage.NewFirestoreStore(ctx, cfg.FirebaseCredentialsPath, cfg.FirestoreProjectID)
	default:
		return nil, fmt.Errorf("unknown storage backend %q", cfg.Backend)
	}
}

func newApp(ctx context.Context, cfg config.Config, logger *zap.Logger) (*app, error) {
	store, err := openStore(ctx, cfg.Storage, logger)
	if err != nil {
		return nil, err
	}
	logger.Info("Storage ready", zap.String("backend", cfg.Storage.Backend))

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(registry)

	var applier services.ScriptApplier
	if cfg.Router.Enabled() {
		sshCfg, err := cfg.Router.SSHConfig()
		if err != nil {
			store.Close()
			return nil, err
		}
		dialer, err := routeros.NewSSHDialer(sshCfg, logger)
		if err != nil {
			store.Close()
			return nil, fmt.Errorf("failed to configure router transport: %w", err)
		}
		applier = routeros.NewProvisioner(dialer, logger)
		logger.Info("Router transport configured", zap.String("addr", cfg.Router.Addr))
	} else {
		logger.Warn("ROUTER_ADDR not set, scripts are served but never pushed")
	}
	if !cfg.PublicBaseURLSet {
		logger.Warn("PUBLIC_BASE_URL not set, router access sync is disabled",
			zap.String("fallback_url", cfg.PublicBaseURL),
		)
	}

	var notifier services.Notifier
	if cfg.Email.Enabled() {
		email, err := services.NewEmailService(cfg.Email)
		if err != nil {
			store.Close()
			return nil, err
		}
		notifier = email
	}

	hosts := services.NewHostCache(services.DefaultHostTTL, logger)

	devices := services.NewDeviceService(store.Devices(), services.DeviceServiceConfig{
		PublicBaseURL:  cfg.PublicBaseURL,
		Topology:       cfg.Topology,
		PushOnRegister: cfg.Router.PushOnRegister,
		TokenSecret:    cfg.RegistrationTokenSecret,
		TokenTTL:       cfg.RegistrationTokenTTL,
	}, applier, notifier, m, logger)

	return &app{
		store:    store,
		registry: registry,
		hosts:    hosts,
		devices:  devices,
		vouchers: services.NewVoucherService(store.Vouchers(), m, logger),
		access:   services.NewAccessService(store.Vouchers(), hosts, m),
		logger:   logger,
	}, nil
}

func (a *app) Close() {
	a.hosts.Stop()
	if err := a.store.Close(); err != nil {
		a.logger.Warn("Failed to close storage", zap.Error(err))
	}
}

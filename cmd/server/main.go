package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kamikazebr/madric/internal/server/api"
	"github.com/kamikazebr/madric/internal/server/config"
	"github.com/kamikazebr/madric/pkg/version"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

const binaryName = "madric-server"

var rootCmd = &cobra.Command{
	Use:   binaryName,
	Short: "Madric hotspot backend - router provisioning and voucher access control",
	Long:  "Provisions MikroTik routers into captive-portal hotspots and decides which clients may pass based on redeemed vouchers",
	// Default to serve command if no subcommand provided
	RunE: runServe,
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	RunE:  runServe,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
			fmt.Println(version.GetVersionInfo())
			return
		}
		fmt.Println(version.GetVersion(binaryName))
	},
}

func init() {
	versionCmd.Flags().BoolP("verbose", "v", false, "Show commit, build time and Go version")
	rootCmd.AddCommand(serveCmd, adminCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadConfig reads .env (if present) and the environment
func loadConfig() (config.Config, *zap.Logger, error) {
	envErr := godotenv.Load()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return config.Config{}, nil, err
	}
	logger, err := newLogger(cfg.LogLevel)
	if err != nil {
		return config.Config{}, nil, err
	}
	if envErr != nil {
		logger.Debug(".env file not found, using environment variables")
	}
	return cfg, logger, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	logger.Info("Starting "+binaryName, zap.String("version", version.GetVersion(binaryName)))

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		logger.Error("Failed to initialize", zap.Error(err))
		return err
	}
	defer a.Close()

	handler := api.NewRouter(api.RouterConfig{
		Devices:          a.devices,
		Vouchers:         a.vouchers,
		Access:           a.access,
		Hosts:            a.hosts,
		Store:            a.store,
		AdminTokenSecret: cfg.AdminTokenSecret,
		Gatherer:         a.registry,
		Logger:           logger,
	})

	// Registration blocks while the script is pushed, one SSH round trip per command
	srv := &http.Server{
		Addr:         cfg.Addr(),
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 3 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("Server listening",
			zap.String("addr", srv.Addr),
			zap.String("public_url", cfg.PublicBaseURL),
			zap.String("storage", cfg.Storage.Backend),
			zap.Bool("router", cfg.Router.Enabled()),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		logger.Error("Server failed", zap.Error(err))
		return err
	case sig := <-quit:
		logger.Info("Server shutting down", zap.String("signal", sig.String()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
		return err
	}

	logger.Info("Server stopped")
	return nil
}

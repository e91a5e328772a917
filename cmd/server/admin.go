package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kamikazebr/madric/internal/client/ui"
	"github.com/kamikazebr/madric/internal/server/config"
	"github.com/kamikazebr/madric/internal/server/hotspot"
	"github.com/kamikazebr/madric/internal/server/setup"
	"github.com/kamikazebr/madric/pkg/models"
	"github.com/kamikazebr/madric/pkg/utils"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Administrative commands",
	Long:  "Administrative commands for managing vouchers, devices and the router",
}

var issueVouchersCmd = &cobra.Command{
	Use:   "issue-vouchers",
	Short: "Issue new unused vouchers",
	RunE:  runIssueVouchersCommand,
}

var listVouchersCmd = &cobra.Command{
	Use:   "list-vouchers",
	Short: "List vouchers, optionally filtered by state or MAC",
	RunE:  runListVouchersCommand,
}

var listDevicesCmd = &cobra.Command{
	Use:   "list-devices",
	Short: "List linked routers",
	RunE:  runListDevicesCommand,
}

var linkDeviceCmd = &cobra.Command{
	Use:   "link-device",
	Short: "Link a router and print its registration URL as a QR code",
	RunE:  runLinkDeviceCommand,
}

var printScriptCmd = &cobra.Command{
	Use:   "print-script",
	Short: "Print the provisioning script for the configured topology",
	RunE:  runPrintScriptCommand,
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Push the provisioning script to the configured router over SSH",
	RunE:  runProvisionCommand,
}

var adminTokenCmd = &cobra.Command{
	Use:   "admin-token",
	Short: "Mint a bearer token for the /admin API",
	RunE:  runAdminTokenCommand,
}

var setupDBCmd = &cobra.Command{
	Use:   "setup-db",
	Short: "Start a local PostgreSQL container and write DATABASE_URL to .env",
	RunE:  runSetupDBCommand,
}

var installServiceCmd = &cobra.Command{
	Use:   "install-service",
	Short: "Install and start a systemd unit running madric-server serve",
	RunE:  runInstallServiceCommand,
}

var uninstallServiceCmd = &cobra.Command{
	Use:   "uninstall-service",
	Short: "Stop and remove the systemd unit",
	RunE:  runUninstallServiceCommand,
}

func init() {
	issueVouchersCmd.Flags().Int("count", 1, "Number of vouchers to issue")
	issueVouchersCmd.Flags().Float64("amount", 0, "Price recorded on each voucher")
	issueVouchersCmd.Flags().Int("duration", 60, "Access time in minutes")

	listVouchersCmd.Flags().String("status", "all", "Filter by state: all, used or unused")
	listVouchersCmd.Flags().String("mac", "", "Only vouchers redeemed by this MAC")
	listVouchersCmd.Flags().Int("limit", 100, "Maximum number of vouchers")

	listDevicesCmd.Flags().Int("limit", 100, "Maximum number of devices")

	linkDeviceCmd.Flags().String("id", "", "Device id (generated when empty)")

	printScriptCmd.Flags().StringP("output", "o", "", "Write the script to a file instead of stdout")

	adminTokenCmd.Flags().String("subject", "operator", "Token subject")
	adminTokenCmd.Flags().Duration("ttl", 24*time.Hour, "Token lifetime")

	installServiceCmd.Flags().String("user", setup.InvokingUser(), "Account the service runs as")
	installServiceCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	adminCmd.AddCommand(
		issueVouchersCmd,
		listVouchersCmd,
		listDevicesCmd,
		linkDeviceCmd,
		printScriptCmd,
		provisionCmd,
		adminTokenCmd,
		setupDBCmd,
		installServiceCmd,
		uninstallServiceCmd,
	)
}

// withApp loads configuration, wires the services and runs fn
func withApp(fn func(ctx context.Context, a *app) error) error {
	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx := context.Background()
	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer a.Close()
	return fn(ctx, a)
}

func runIssueVouchersCommand(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	amount, _ := cmd.Flags().GetFloat64("amount")
	duration, _ := cmd.Flags().GetInt("duration")

	return withApp(func(ctx context.Context, a *app) error {
		vouchers, err := a.vouchers.Issue(ctx, count, amount, duration)
		if err != nil {
			return err
		}
		fmt.Printf("Issued %d vouchers (%d minutes each):\n", len(vouchers), duration)
		printVouchers(vouchers)
		return nil
	})
}

func runListVouchersCommand(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	mac, _ := cmd.Flags().GetString("mac")
	limit, _ := cmd.Flags().GetInt("limit")

	filter := models.VoucherFilter{Limit: limit}
	switch strings.ToLower(status) {
	case "all":
	case "used":
		used := true
		filter.Used = &used
	case "unused":
		used := false
		filter.Used = &used
	default:
		return fmt.Errorf("invalid --status %q: must be all, used or unused", status)
	}
	if mac != "" {
		filter.UsedBy = &mac
	}

	return withApp(func(ctx context.Context, a *app) error {
		vouchers, err := a.vouchers.List(ctx, filter)
		if err != nil {
			return err
		}
		if len(vouchers) == 0 {
			fmt.Println("No vouchers found.")
			return nil
		}
		fmt.Printf("Vouchers (%d):\n", len(vouchers))
		printVouchers(vouchers)
		return nil
	})
}

func printVouchers(vouchers []models.Voucher) {
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("%-10s %-8s %-9s %-6s %-18s %-20s\n", "Code", "Amount", "Minutes", "Used", "MAC", "Used At")
	fmt.Println(strings.Repeat("=", 80))
	for _, v := range vouchers {
		used, mac, usedAt := "No", "-", "-"
		if v.Used {
			used = "Yes"
		}
		if v.UsedBy != nil {
			mac = *v.UsedBy
		}
		if v.UsedAt != nil {
			usedAt = v.UsedAt.Format("2006-01-02 15:04:05")
		}
		fmt.Printf("%-10s %-8.2f %-9d %-6s %-18s %-20s\n", v.Code, v.Amount, v.DurationMinutes, used, mac, usedAt)
	}
	fmt.Println(strings.Repeat("=", 80))
}

func runListDevicesCommand(cmd *cobra.Command, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")

	return withApp(func(ctx context.Context, a *app) error {
		devices, err := a.devices.ListDevices(ctx, limit)
		if err != nil {
			return err
		}
		if len(devices) == 0 {
			fmt.Println("No devices linked.")
			return nil
		}

		fmt.Printf("Devices (%d):\n", len(devices))
		fmt.Println(strings.Repeat("=", 80))
		fmt.Printf("%-36s %-10s %-15s %-20s\n", "ID", "Status", "IP", "Connected At")
		fmt.Println(strings.Repeat("=", 80))
		for _, d := range devices {
			ip, connectedAt := "-", "-"
			if d.IP != nil {
				ip = *d.IP
			}
			if d.ConnectedAt != nil {
				connectedAt = d.ConnectedAt.Format("2006-01-02 15:04:05")
			}
			fmt.Printf("%-36s %-10s %-15s %-20s\n", d.ID, d.Status, ip, connectedAt)
		}
		fmt.Println(strings.Repeat("=", 80))
		return nil
	})
}

func runLinkDeviceCommand(cmd *cobra.Command, args []string) error {
	id, _ := cmd.Flags().GetString("id")

	return withApp(func(ctx context.Context, a *app) error {
		result, err := a.devices.LinkDevice(ctx, id)
		if err != nil {
			return err
		}
		if !result.Created {
			fmt.Printf("Device %s already linked (status: %s)\n", result.Device.ID, result.Device.Status)
		} else {
			fmt.Printf("Device %s linked\n", result.Device.ID)
		}
		fmt.Println()
		if err := ui.PrintQRCode(os.Stdout, result.RegistrationURL); err != nil {
			fmt.Printf("(QR code unavailable: %v)\n", err)
		}
		fmt.Printf("Registration URL: %s\n", result.RegistrationURL)
		fmt.Println()
		fmt.Println("On the router run:")
		fmt.Printf("  /tool fetch url=\"%s\" dst-path=madric.rsc; /import madric.rsc\n", result.RegistrationURL)
		return nil
	})
}

func runPrintScriptCommand(cmd *cobra.Command, args []string) error {
	output, _ := cmd.Flags().GetString("output")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	script, err := hotspot.BuildScript(cfg.Topology)
	if err != nil {
		return err
	}
	if output == "" {
		fmt.Print(script.String())
		return nil
	}

	if dir := filepath.Dir(output); dir != "." {
		if err := utils.MkdirAllWithOwnership(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := utils.WriteFileWithOwnership(output, []byte(script.String()), 0644); err != nil {
		return fmt.Errorf("failed to write script: %w", err)
	}
	fmt.Printf("Wrote %d commands to %s\n", len(script.Commands()), output)
	return nil
}

func runProvisionCommand(cmd *cobra.Command, args []string) error {
	return withApp(func(ctx context.Context, a *app) error {
		result, err := a.devices.Provision(ctx)
		if err != nil {
			return err
		}
		fmt.Printf("Router provisioned: %d commands in %s\n", result.Commands, result.Duration.Round(time.Millisecond))
		return nil
	})
}

func runAdminTokenCommand(cmd *cobra.Command, args []string) error {
	subject, _ := cmd.Flags().GetString("subject")
	ttl, _ := cmd.Flags().GetDuration("ttl")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if cfg.AdminTokenSecret == "" {
		return fmt.Errorf("%s is not set", config.EnvAdminTokenSecret)
	}
	token, expiresAt, err := utils.GenerateJWT(subject, utils.RoleAdmin, cfg.AdminTokenSecret, ttl, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(token)
	fmt.Fprintf(os.Stderr, "Expires at %s\n", expiresAt.Format(time.RFC3339))
	return nil
}

// runSetupDBCommand skips full config validation, which would reject the
// postgres backend before DATABASE_URL exists.
func runSetupDBCommand(cmd *cobra.Command, args []string) error {
	_ = godotenv.Load()

	logger, err := newLogger(os.Getenv(config.EnvLogLevel))
	if err != nil {
		logger, _ = newLogger("info")
	}
	defer logger.Sync()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	databaseURL, err := setup.NewPostgresSetup(logger).Ensure(ctx, os.Getenv(config.EnvDatabaseURL))
	if err != nil {
		logger.Error("Database setup failed", zap.Error(err))
		return err
	}
	fmt.Printf("%s=%s\n", config.EnvDatabaseURL, databaseURL)
	fmt.Printf("Set %s=%s to use it\n", config.EnvStorageBackend, config.BackendPostgres)
	return nil
}

func runInstallServiceCommand(cmd *cobra.Command, args []string) error {
	user, _ := cmd.Flags().GetString("user")
	yes, _ := cmd.Flags().GetBool("yes")

	cfg, logger, err := loadConfig()
	if err != nil {
		return err
	}
	defer logger.Sync()

	exePath, err := os.Executable()
	if err != nil {
		return fmt.Errorf("failed to locate executable: %w", err)
	}
	workDir, err := os.Getwd()
	if err != nil {
		return err
	}

	unit := setup.ServiceUnit{
		ExePath:       exePath,
		WorkDir:       workDir,
		User:          user,
		AfterPostgres: cfg.Storage.Backend == config.BackendPostgres,
	}
	if _, err := os.Stat(filepath.Join(workDir, ".env")); err == nil {
		unit.EnvFile = filepath.Join(workDir, ".env")
	}

	installer := setup.NewServiceInstaller(logger)
	if !yes {
		content, err := unit.Render()
		if err != nil {
			return err
		}
		fmt.Printf("%s:\n\n%s\n", installer.UnitPath(), content)
		ok, err := ui.Confirm("Install and start this service?")
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled")
			return nil
		}
	}

	if err := installer.Install(context.Background(), unit); err != nil {
		return err
	}
	fmt.Println("Service installed. Logs: journalctl -u " + setup.ServiceName + " -f")
	return nil
}

func runUninstallServiceCommand(cmd *cobra.Command, args []string) error {
	logger, err := newLogger(os.Getenv(config.EnvLogLevel))
	if err != nil {
		return err
	}
	defer logger.Sync()

	return setup.NewServiceInstaller(logger).Uninstall(context.Background())
}

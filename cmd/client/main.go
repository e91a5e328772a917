package main

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kamikazebr/madric/internal/client/api"
	"github.com/kamikazebr/madric/internal/client/config"
	"github.com/kamikazebr/madric/internal/client/ui"
	"github.com/kamikazebr/madric/pkg/models"
	"github.com/kamikazebr/madric/pkg/utils"
	"github.com/kamikazebr/madric/pkg/version"
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:           "madric",
	Short:         "Madric hotspot client",
	Long:          "CLI for linking routers, redeeming vouchers and operating a madric server",
	SilenceUsage:  true,
	SilenceErrors: true,
}

var loginCmd = &cobra.Command{
	Use:   "login [server-url]",
	Short: "Save the server URL and an admin token",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLogin,
}

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Delete the saved configuration",
	RunE:  runLogout,
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show server health and who the admin token belongs to",
	RunE:  runStatus,
}

var linkCmd = &cobra.Command{
	Use:   "link [device-id]",
	Short: "Link a router and show its registration QR code",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runLink,
}

var deviceCmd = &cobra.Command{
	Use:   "device [device-id]",
	Short: "Show a router's registration status",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runDevice,
}

var redeemCmd = &cobra.Command{
	Use:   "redeem <code> <mac>",
	Short: "Redeem a voucher for a client MAC",
	Args:  cobra.ExactArgs(2),
	RunE:  runRedeem,
}

var checkCmd = &cobra.Command{
	Use:   "check <mac>",
	Short: "Ask whether a client MAC may pass",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

var vouchersCmd = &cobra.Command{
	Use:   "vouchers",
	Short: "Issue and list vouchers (admin)",
}

var vouchersIssueCmd = &cobra.Command{
	Use:   "issue",
	Short: "Issue new vouchers",
	RunE:  runVouchersIssue,
}

var vouchersListCmd = &cobra.Command{
	Use:   "list",
	Short: "List vouchers",
	RunE:  runVouchersList,
}

var hostsCmd = &cobra.Command{
	Use:   "hosts",
	Short: "List clients the router polled for recently (admin)",
	RunE:  runHosts,
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Push the hotspot script to the router (admin)",
	RunE:  runProvision,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersion("madric"))
	},
}

func init() {
	loginCmd.Flags().String("token", "", "Admin token from 'madric-server admin admin-token'")

	vouchersIssueCmd.Flags().Int("count", 1, "Number of vouchers")
	vouchersIssueCmd.Flags().Float64("amount", 0, "Price recorded on each voucher")
	vouchersIssueCmd.Flags().Int("duration", 60, "Access time in minutes")

	vouchersListCmd.Flags().String("status", "all", "all, used or unused")
	vouchersListCmd.Flags().String("mac", "", "Only vouchers redeemed by this MAC")
	vouchersListCmd.Flags().Int("limit", 0, "Maximum number of vouchers")

	provisionCmd.Flags().BoolP("yes", "y", false, "Skip the confirmation prompt")

	vouchersCmd.AddCommand(vouchersIssueCmd, vouchersListCmd)
	rootCmd.AddCommand(loginCmd, logoutCmd, statusCmd, linkCmd, deviceCmd, redeemCmd, checkCmd,
		vouchersCmd, hostsCmd, provisionCmd, versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, ui.ErrorStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func newClient() (*api.Client, *config.Config, error) {
	cfg, err := config.LoadOrDefault()
	if err != nil {
		return nil, nil, err
	}
	if !cfg.HasToken(time.Now()) && cfg.AdminToken != "" {
		fmt.Fprintln(os.Stderr, ui.WarningStyle.Render("Saved admin token has expired"))
	}
	return api.NewClient(cfg.ServerURL, cfg.AdminToken), cfg, nil
}

func runLogin(cmd *cobra.Command, args []string) error {
	token, _ := cmd.Flags().GetString("token")

	cfg, err := config.LoadOrDefault()
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.ServerURL = strings.TrimRight(args[0], "/")
	}

	client := api.NewClient(cfg.ServerURL, token)
	health, err := client.HealthCheck()
	if err != nil {
		return fmt.Errorf("server %s not reachable: %w", cfg.ServerURL, err)
	}
	fmt.Printf("Server: %s (version %s)\n", cfg.ServerURL, health["version"])

	cfg.AdminToken = token
	cfg.ExpiresAt = time.Time{}
	if token != "" {
		claims, err := utils.PeekClaims(token)
		if err != nil {
			return err
		}
		if claims.ExpiresAt != nil {
			cfg.ExpiresAt = claims.ExpiresAt.Time
		}
		subject, err := client.Whoami()
		if err != nil {
			return err
		}
		fmt.Printf("Admin: %s (expires %s)\n", subject, cfg.ExpiresAt.Local().Format(time.RFC1123))
	}

	if err := cfg.Save(); err != nil {
		return err
	}
	fmt.Println(ui.SuccessStyle.Render("✓ Configuration saved"))
	return nil
}

func runLogout(cmd *cobra.Command, args []string) error {
	if err := config.Delete(); err != nil && !os.IsNotExist(err) {
		return err
	}
	fmt.Println("Logged out")
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	client, cfg, err := newClient()
	if err != nil {
		return err
	}

	health, err := client.HealthCheck()
	if err != nil {
		return err
	}
	fmt.Printf("Server:  %s\n", cfg.ServerURL)
	fmt.Printf("Health:  %s\n", health["status"])
	fmt.Printf("Version: %s\n", health["version"])

	if cfg.AdminToken == "" {
		fmt.Println("Admin:   not logged in")
		return nil
	}
	subject, err := client.Whoami()
	if err != nil {
		fmt.Printf("Admin:   %v\n", err)
		return nil
	}
	fmt.Printf("Admin:   %s\n", subject)
	return nil
}

func runLink(cmd *cobra.Command, args []string) error {
	client, cfg, err := newClient()
	if err != nil {
		return err
	}

	id := ""
	if len(args) == 1 {
		id = args[0]
	}
	resp, err := client.LinkDevice(id)
	if err != nil {
		return err
	}

	fmt.Println(ui.TitleStyle.Render("Device " + resp.ID))
	fmt.Println()
	if err := ui.PrintQRCode(os.Stdout, resp.RegistrationURL); err != nil {
		fmt.Println(ui.WarningStyle.Render(err.Error()))
	}
	fmt.Printf("Registration URL: %s\n\n", resp.RegistrationURL)
	fmt.Println("On the router run:")
	fmt.Printf("  /tool fetch url=\"%s\" dst-path=madric.rsc; /import madric.rsc\n", resp.RegistrationURL)

	cfg.DeviceID = resp.ID
	return cfg.Save()
}

func runDevice(cmd *cobra.Command, args []string) error {
	client, cfg, err := newClient()
	if err != nil {
		return err
	}

	id := cfg.DeviceID
	if len(args) == 1 {
		id = args[0]
	}
	if id == "" && cfg.AdminToken != "" {
		if id, err = pickDevice(client); err != nil {
			return err
		}
	}
	if id == "" {
		return errors.New("no device id given and none linked from this machine")
	}

	status, err := client.DeviceStatus(id)
	if err != nil {
		return err
	}
	fmt.Printf("Device:    %s\n", status.ID)
	fmt.Printf("Status:    %s\n", status.Status)
	fmt.Printf("Linked:    %s\n", status.CreatedAt)
	if status.ConnectedAt != nil {
		fmt.Printf("Connected: %s\n", *status.ConnectedAt)
	}
	if status.IP != nil {
		fmt.Printf("IP:        %s\n", *status.IP)
	}
	return nil
}

func pickDevice(client *api.Client) (string, error) {
	devices, err := client.ListDevices()
	if err != nil {
		return "", err
	}
	if len(devices) == 0 {
		return "", errors.New("no devices linked yet")
	}

	options := make([]ui.SelectOption, len(devices))
	for i, d := range devices {
		options[i] = ui.SelectOption{Label: d.ID, Description: d.Status, Value: d.ID}
	}
	opt, err := ui.Select("Which device?", options)
	if err != nil {
		return "", err
	}
	if opt == nil {
		return "", errors.New("cancelled")
	}
	return opt.Value, nil
}

func runRedeem(cmd *cobra.Command, args []string) error {
	if !utils.IsValidMAC(args[1]) {
		return fmt.Errorf("invalid MAC address %q", args[1])
	}
	client, _, err := newClient()
	if err != nil {
		return err
	}

	resp, err := client.Redeem(args[0], args[1])
	if err != nil {
		return err
	}
	if !resp.Success {
		return errors.New(resp.Message)
	}
	fmt.Println(ui.SuccessStyle.Render("✓ " + resp.Message))
	return nil
}

func runCheck(cmd *cobra.Command, args []string) error {
	if !utils.IsValidMAC(args[0]) {
		return fmt.Errorf("invalid MAC address %q", args[0])
	}
	client, _, err := newClient()
	if err != nil {
		return err
	}

	resp, err := client.CheckAccess(args[0])
	if err != nil {
		return err
	}
	fmt.Printf("%s: %s\n", args[0], ui.Allowed(resp.Allow))
	if resp.Message != "" {
		fmt.Println(ui.HelpStyle.Render(resp.Message))
	}
	if resp.Remaining != nil {
		fmt.Printf("Remaining: %s\n", time.Duration(*resp.Remaining)*time.Second)
	}
	return nil
}

func runVouchersIssue(cmd *cobra.Command, args []string) error {
	count, _ := cmd.Flags().GetInt("count")
	amount, _ := cmd.Flags().GetFloat64("amount")
	duration, _ := cmd.Flags().GetInt("duration")

	client, _, err := newClient()
	if err != nil {
		return err
	}
	vouchers, err := client.IssueVouchers(count, amount, duration)
	if err != nil {
		return err
	}
	printVouchers(vouchers)
	return nil
}

func runVouchersList(cmd *cobra.Command, args []string) error {
	status, _ := cmd.Flags().GetString("status")
	mac, _ := cmd.Flags().GetString("mac")
	limit, _ := cmd.Flags().GetInt("limit")

	var used *bool
	switch status {
	case "all":
	case "used", "unused":
		v := status == "used"
		used = &v
	default:
		return fmt.Errorf("invalid --status %q: must be all, used or unused", status)
	}

	client, _, err := newClient()
	if err != nil {
		return err
	}
	vouchers, err := client.ListVouchers(used, mac, limit)
	if err != nil {
		return err
	}
	if len(vouchers) == 0 {
		fmt.Println("No vouchers found.")
		return nil
	}
	printVouchers(vouchers)
	return nil
}

func printVouchers(vouchers []models.Voucher) {
	fmt.Printf("%-10s %-8s %-9s %-18s\n", "CODE", "AMOUNT", "MINUTES", "USED BY")
	for _, v := range vouchers {
		usedBy := "-"
		if v.UsedBy != nil {
			usedBy = *v.UsedBy
		}
		fmt.Printf("%-10s %-8.2f %-9d %-18s\n", v.Code, v.Amount, v.DurationMinutes, usedBy)
	}
}

func runHosts(cmd *cobra.Command, args []string) error {
	client, _, err := newClient()
	if err != nil {
		return err
	}
	hosts, err := client.ListHosts()
	if err != nil {
		return err
	}
	if len(hosts) == 0 {
		fmt.Println("No recent polls.")
		return nil
	}

	fmt.Printf("%-18s %-8s %s\n", "MAC", "ACCESS", "LAST SEEN")
	for _, h := range hosts {
		fmt.Printf("%-18s %-8s %s ago\n", h.MAC, ui.Allowed(h.Allow), time.Since(h.LastSeen).Round(time.Second))
	}
	return nil
}

func runProvision(cmd *cobra.Command, args []string) error {
	yes, _ := cmd.Flags().GetBool("yes")

	client, cfg, err := newClient()
	if err != nil {
		return err
	}

	if !yes {
		ok, err := ui.Confirm("Push the hotspot script to the router?",
			ui.WithDescription("Server: "+cfg.ServerURL+". Existing hotspot settings are replaced."),
			ui.WithDefaultNo())
		if err != nil {
			return err
		}
		if !ok {
			fmt.Println("Cancelled")
			return nil
		}
	}

	resp, err := client.Provision()
	if err != nil {
		return err
	}
	fmt.Println(ui.SuccessStyle.Render(fmt.Sprintf("✓ %s (%d commands)", resp.Message, resp.Commands)))
	return nil
}

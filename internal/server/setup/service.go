package setup

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/template"

	"go.uber.org/zap"
)

const ServiceName = "madric-server"

var unitTemplate = template.Must(template.New("unit").Parse(`[Unit]
Description=Madric hotspot backend
After=network-online.target{{if .AfterPostgres}} docker.service{{end}}
Wants=network-online.target

[Service]
Type=simple
WorkingDirectory={{.WorkDir}}
{{- if .EnvFile}}
EnvironmentFile=-{{.EnvFile}}
{{- end}}
ExecStart={{.ExePath}} serve
Restart=always
RestartSec=10
{{- if .User}}
User={{.User}}
{{- end}}

[Install]
WantedBy=multi-user.target
`))

// ServiceUnit describes the systemd unit running "madric-server serve"
type ServiceUnit struct {
	ExePath string
	WorkDir string
	// Optional .env file loaded by systemd in addition to the one godotenv reads
	EnvFile string
	User    string
	// Orders the unit after docker when the database runs in the local container
	AfterPostgres bool
}

// Render returns the unit file contents
func (u ServiceUnit) Render() (string, error) {
	if !filepath.IsAbs(u.ExePath) || !filepath.IsAbs(u.WorkDir) {
		return "", fmt.Errorf("executable and working directory must be absolute paths")
	}
	var b bytes.Buffer
	if err := unitTemplate.Execute(&b, u); err != nil {
		return "", err
	}
	return b.String(), nil
}

// ServiceInstaller writes the unit and enables it through systemctl
type ServiceInstaller struct {
	// UnitDir defaults to /etc/systemd/system
	UnitDir string

	run    Runner
	logger *zap.Logger
}

func NewServiceInstaller(logger *zap.Logger) *ServiceInstaller {
	return &ServiceInstaller{
		UnitDir: "/etc/systemd/system",
		run:     execRunner,
		logger:  logger,
	}
}

// UnitPath is where the unit file is written
func (i *ServiceInstaller) UnitPath() string {
	return filepath.Join(i.UnitDir, ServiceName+".service")
}

// Install writes the unit, reloads systemd, enables the unit and (re)starts it
func (i *ServiceInstaller) Install(ctx context.Context, unit ServiceUnit) error {
	content, err := unit.Render()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(i.UnitDir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", i.UnitDir, err)
	}
	if err := os.WriteFile(i.UnitPath(), []byte(content), 0644); err != nil {
		return fmt.Errorf("failed to write service file: %w", err)
	}
	i.logger.Info("Service file written", zap.String("path", i.UnitPath()))

	steps := [][]string{
		{"daemon-reload"},
		{"enable", ServiceName},
		{"restart", ServiceName},
	}
	for _, args := range steps {
		if out, err := i.run(ctx, "systemctl", args...); err != nil {
			return fmt.Errorf("systemctl %s failed: %w: %s", args[0], err, bytes.TrimSpace(out))
		}
	}
	i.logger.Info("Service enabled and started", zap.String("service", ServiceName))
	return nil
}

// Uninstall stops and disables the unit and removes its file. A missing unit is not an error.
func (i *ServiceInstaller) Uninstall(ctx context.Context) error {
	if _, err := os.Stat(i.UnitPath()); os.IsNotExist(err) {
		i.logger.Info("Service not installed")
		return nil
	}

	for _, verb := range []string{"stop", "disable"} {
		if out, err := i.run(ctx, "systemctl", verb, ServiceName); err != nil {
			i.logger.Warn("systemctl failed", zap.String("verb", verb), zap.ByteString("output", out), zap.Error(err))
		}
	}
	if err := os.Remove(i.UnitPath()); err != nil {
		return fmt.Errorf("failed to remove service file: %w", err)
	}
	if _, err := i.run(ctx, "systemctl", "daemon-reload"); err != nil {
		i.logger.Warn("systemctl daemon-reload failed", zap.Error(err))
	}
	return nil
}

// InvokingUser is the account behind sudo, empty when not running under sudo
func InvokingUser() string {
	return os.Getenv("SUDO_USER")
}

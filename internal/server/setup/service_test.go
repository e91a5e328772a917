package setup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
)

type fakeSystemctl struct {
	calls []string
	fail  string
}

func (f *fakeSystemctl) run(ctx context.Context, name string, args ...string) ([]byte, error) {
	call := name + " " + strings.Join(args, " ")
	f.calls = append(f.calls, call)
	if f.fail != "" && strings.HasPrefix(call, f.fail) {
		return []byte("unit masked"), errors.New("exit status 1")
	}
	return nil, nil
}

func TestServiceUnit_Render(t *testing.T) {
	unit := ServiceUnit{
		ExePath:       "/usr/local/bin/madric-server",
		WorkDir:       "/var/lib/madric",
		EnvFile:       "/var/lib/madric/.env",
		User:          "madric",
		AfterPostgres: true,
	}
	content, err := unit.Render()
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}

	for _, want := range []string{
		"After=network-online.target docker.service\n",
		"WorkingDirectory=/var/lib/madric\n",
		"EnvironmentFile=-/var/lib/madric/.env\n",
		"ExecStart=/usr/local/bin/madric-server serve\n",
		"User=madric\n",
		"WantedBy=multi-user.target\n",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("Unit missing %q:\n%s", want, content)
		}
	}

	minimal, err := ServiceUnit{ExePath: "/usr/bin/madric-server", WorkDir: "/"}.Render()
	if err != nil {
		t.Fatalf("Render failed: %v", err)
	}
	if strings.Contains(minimal, "User=") || strings.Contains(minimal, "EnvironmentFile") {
		t.Errorf("Optional fields rendered:\n%s", minimal)
	}

	if _, err := (ServiceUnit{ExePath: "madric-server", WorkDir: "/"}).Render(); err == nil {
		t.Error("Expected error for relative executable path")
	}
}

func TestServiceInstaller_InstallAndUninstall(t *testing.T) {
	systemctl := &fakeSystemctl{}
	i := NewServiceInstaller(zap.NewNop())
	i.UnitDir = filepath.Join(t.TempDir(), "system")
	i.run = systemctl.run

	unit := ServiceUnit{ExePath: "/usr/local/bin/madric-server", WorkDir: "/var/lib/madric"}
	if err := i.Install(context.Background(), unit); err != nil {
		t.Fatalf("Install failed: %v", err)
	}
	if _, err := os.Stat(i.UnitPath()); err != nil {
		t.Fatalf("Unit file missing: %v", err)
	}
	want := []string{
		"systemctl daemon-reload",
		"systemctl enable madric-server",
		"systemctl restart madric-server",
	}
	if strings.Join(systemctl.calls, "|") != strings.Join(want, "|") {
		t.Errorf("calls = %v, want %v", systemctl.calls, want)
	}

	systemctl.calls = nil
	if err := i.Uninstall(context.Background()); err != nil {
		t.Fatalf("Uninstall failed: %v", err)
	}
	if _, err := os.Stat(i.UnitPath()); !os.IsNotExist(err) {
		t.Error("Unit file still present")
	}
	if err := i.Uninstall(context.Background()); err != nil {
		t.Errorf("Second uninstall should be a no-op, got %v", err)
	}
}

func TestServiceInstaller_EnableFailure(t *testing.T) {
	systemctl := &fakeSystemctl{fail: "systemctl enable"}
	i := NewServiceInstaller(zap.NewNop())
	i.UnitDir = t.TempDir()
	i.run = systemctl.run

	err := i.Install(context.Background(), ServiceUnit{ExePath: "/usr/bin/madric-server", WorkDir: "/"})
	if err == nil || !strings.Contains(err.Error(), "unit masked") {
		t.Fatalf("Expected enable failure with output, got %v", err)
	}
	if len(systemctl.calls) != 2 {
		t.Errorf("Expected restart to be skipped, calls = %v", systemctl.calls)
	}
}

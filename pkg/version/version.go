package version

import (
	"fmt"
	"runtime"
	"strings"
)

// Build information, set with -ldflags "-X github.com/kamikazebr/madric/pkg/version.Version=..."
var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildTime = "unknown"
	GitDirty  = ""
)

// Info is the build metadata reported by /health and the version command
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
	Dirty     bool   `json:"dirty"`
	GoVersion string `json:"goVersion"`
}

func Get() Info {
	return Info{
		Version:   Version,
		Commit:    GitCommit,
		BuildTime: BuildTime,
		Dirty:     GitDirty == "true",
		GoVersion: runtime.Version(),
	}
}

// GetVersion formats a one-line banner:
// madric-server v0.1.0 (abc1234 2026-03-14T10:00:00Z)
func GetVersion(name string) string {
	info := Get()
	commit := info.Commit
	if info.Dirty {
		commit += "-dirty"
	}
	return fmt.Sprintf("%s %s (%s %s)", name, info.Version, commit, info.BuildTime)
}

// GetVersionInfo returns the multi-line form printed by "version --verbose"
func GetVersionInfo() string {
	info := Get()
	state := "clean"
	if info.Dirty {
		state = "dirty"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Version:    %s\n", info.Version)
	fmt.Fprintf(&b, "Git commit: %s (%s)\n", info.Commit, state)
	fmt.Fprintf(&b, "Built:      %s\n", info.BuildTime)
	fmt.Fprintf(&b, "Go version: %s", info.GoVersion)
	return b.String()
}

// SSHClientVersion is the identification string sent to the router.
// RFC 4253 forbids spaces and '-' is the field separator, so both are replaced.
func SSHClientVersion(name string) string {
	v := strings.NewReplacer(" ", "_", "-", "_").Replace(name + "_" + Version)
	return "SSH-2.0-" + v
}

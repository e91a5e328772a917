package routeros

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// TransportError reports the directive that failed and how far the script got.
// Everything before Index was applied; the router is left partially configured
// and the caller is expected to re-run the whole (idempotent) script.
type TransportError struct {
	Index   int
	Command string
	Err     error
}

func (e *TransportError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("router transport: %v", e.Err)
	}
	return fmt.Sprintf("router transport: command %d %q: %v", e.Index+1, e.Command, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ApplyResult summarises a script run
type ApplyResult struct {
	Commands int
	Duration time.Duration
}

// Provisioner pushes scripts to the router, one session per script
type Provisioner struct {
	dialer Dialer
	logger *zap.Logger
}

func NewProvisioner(dialer Dialer, logger *zap.Logger) *Provisioner {
	return &Provisioner{
		dialer: dialer,
		logger: logger,
	}
}

// Apply opens a session, sends every directive of script strictly in order, each
// awaited before the next, and closes the session on every exit path.
// The first failing directive aborts the run.
func (p *Provisioner) Apply(ctx context.Context, script Script) (ApplyResult, error) {
	start := time.Now()
	commands := script.Commands()

	session, err := p.dialer.Dial(ctx)
	if err != nil {
		p.logger.Error("Failed to open router session", zap.Error(err))
		return ApplyResult{Duration: time.Since(start)}, &TransportError{Index: -1, Err: err}
	}
	defer func() {
		if err := session.Close(); err != nil {
			p.logger.Warn("Failed to close router session", zap.Error(err))
		}
	}()

	for i, cmd := range commands {
		if _, err := session.Run(ctx, cmd); err != nil {
			p.logger.Error("Router rejected provisioning command",
				zap.Int("index", i),
				zap.Int("total", len(commands)),
				zap.String("command", cmd),
				zap.Error(err))
			return ApplyResult{Commands: i, Duration: time.Since(start)}, &TransportError{Index: i, Command: cmd, Err: err}
		}
	}

	result := ApplyResult{Commands: len(commands), Duration: time.Since(start)}
	p.logger.Info("Provisioning script applied",
		zap.Int("commands", result.Commands),
		zap.Duration("duration", result.Duration))
	return result, nil
}

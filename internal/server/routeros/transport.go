package routeros

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/ssh"
)

const (
	DefaultDialTimeout    = 10 * time.Second
	DefaultCommandTimeout = 15 * time.Second
)

var (
	// ErrCommandRejected is returned when the router answers a directive with an error message
	ErrCommandRejected = errors.New("command rejected by router")
	// ErrCommandTimeout is returned when a directive does not complete within the command timeout
	ErrCommandTimeout = errors.New("command timed out")
	// ErrSessionClosed is returned when a session is used after Close or after a timeout tore it down
	ErrSessionClosed = errors.New("router session closed")
)

// rejectionMarkers are the prefixes the router CLI prints when it refuses a directive.
// The exit status of an exec channel is 0 in these cases, so output has to be inspected.
var rejectionMarkers = []string{
	"failure:",
	"syntax error",
	"bad command name",
	"expected end of command",
	"input does not match any value",
	"invalid value for argument",
	"no such item",
	"already have",
}

// Session executes directives one at a time over a single authenticated connection
type Session interface {
	Run(ctx context.Context, command string) (string, error)
	Close() error
}

// Dialer opens sessions to the router
type Dialer interface {
	Dial(ctx context.Context) (Session, error)
}

// SSHConfig holds router connection settings. Nothing here has a compiled-in default
// except the timeouts.
type SSHConfig struct {
	Addr     string
	User     string
	Password string
	// PEM encoded private key, used instead of or alongside Password
	PrivateKey []byte
	// SHA256 fingerprint ("SHA256:...") of the router host key. Empty disables verification.
	HostKeyFingerprint string
	DialTimeout        time.Duration
	CommandTimeout     time.Duration
	// Sent during the handshake; golang.org/x/crypto picks a default when empty
	ClientVersion string
}

type SSHDialer struct {
	cfg       SSHConfig
	clientCfg *ssh.ClientConfig
	logger    *zap.Logger
}

// NewSSHDialer validates cfg and prepares the client configuration
func NewSSHDialer(cfg SSHConfig, logger *zap.Logger) (*SSHDialer, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("router address is required")
	}
	if cfg.User == "" {
		return nil, fmt.Errorf("router user is required")
	}
	if cfg.DialTimeout <= 0 {
		cfg.DialTimeout = DefaultDialTimeout
	}
	if cfg.CommandTimeout <= 0 {
		cfg.CommandTimeout = DefaultCommandTimeout
	}
	if _, _, err := net.SplitHostPort(cfg.Addr); err != nil {
		cfg.Addr = net.JoinHostPort(cfg.Addr, "22")
	}

	var auth []ssh.AuthMethod
	if len(cfg.PrivateKey) > 0 {
		signer, err := ssh.ParsePrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, fmt.Errorf("failed to parse router private key: %w", err)
		}
		auth = append(auth, ssh.PublicKeys(signer))
	}
	if cfg.Password != "" {
		auth = append(auth, ssh.Password(cfg.Password))
	}
	if len(auth) == 0 {
		return nil, fmt.Errorf("router password or private key is required")
	}

	hostKeyCallback := ssh.InsecureIgnoreHostKey()
	if cfg.HostKeyFingerprint != "" {
		expected := cfg.HostKeyFingerprint
		hostKeyCallback = func(hostname string, remote net.Addr, key ssh.PublicKey) error {
			if got := ssh.FingerprintSHA256(key); got != expected {
				return fmt.Errorf("router host key mismatch: got %s, want %s", got, expected)
			}
			return nil
		}
	} else {
		logger.Warn("Router host key verification disabled, set ROUTER_HOST_KEY_FINGERPRINT to pin it",
			zap.String("addr", cfg.Addr))
	}

	return &SSHDialer{
		cfg: cfg,
		clientCfg: &ssh.ClientConfig{
			User:            cfg.User,
			Auth:            auth,
			HostKeyCallback: hostKeyCallback,
			Timeout:         cfg.DialTimeout,
			ClientVersion:   cfg.ClientVersion,
		},
		logger: logger,
	}, nil
}

// Dial connects and authenticates. The TCP connect and SSH handshake together are
// bounded by the dial timeout.
func (d *SSHDialer) Dial(ctx context.Context) (Session, error) {
	dialer := net.Dialer{Timeout: d.cfg.DialTimeout}
	conn, err := dialer.DialContext(ctx, "tcp", d.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to router %s: %w", d.cfg.Addr, err)
	}

	if err := conn.SetDeadline(time.Now().Add(d.cfg.DialTimeout)); err != nil {
		conn.Close()
		return nil, err
	}
	c, chans, reqs, err := ssh.NewClientConn(conn, d.cfg.Addr, d.clientCfg)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("router handshake failed: %w", err)
	}
	if err := conn.SetDeadline(time.Time{}); err != nil {
		c.Close()
		return nil, err
	}

	d.logger.Debug("Router session opened", zap.String("addr", d.cfg.Addr), zap.String("user", d.cfg.User))

	return &sshSession{
		client:         ssh.NewClient(c, chans, reqs),
		commandTimeout: d.cfg.CommandTimeout,
		logger:         d.logger,
	}, nil
}

type sshSession struct {
	client         *ssh.Client
	commandTimeout time.Duration
	logger         *zap.Logger

	mu     sync.Mutex
	closed bool
}

type runResult struct {
	output []byte
	err    error
}

// Run executes one directive on its own exec channel and waits for it to finish
func (s *sshSession) Run(ctx context.Context, command string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return "", ErrSessionClosed
	}

	sess, err := s.client.NewSession()
	if err != nil {
		return "", fmt.Errorf("failed to open channel: %w", err)
	}
	defer sess.Close()

	done := make(chan runResult, 1)
	go func() {
		out, err := sess.CombinedOutput(command)
		done <- runResult{output: out, err: err}
	}()

	timer := time.NewTimer(s.commandTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		output := strings.TrimSpace(string(res.output))
		if res.err != nil {
			return output, fmt.Errorf("%s: %w", output, res.err)
		}
		if reason := Rejection(command, output); reason != "" {
			return output, fmt.Errorf("%w: %s", ErrCommandRejected, reason)
		}
		return output, nil
	case <-timer.C:
		s.abandon()
		return "", ErrCommandTimeout
	case <-ctx.Done():
		s.abandon()
		return "", ctx.Err()
	}
}

// abandon tears the connection down so a hung directive cannot block the caller.
// Caller holds s.mu.
func (s *sshSession) abandon() {
	s.closed = true
	if err := s.client.Close(); err != nil {
		s.logger.Debug("Closing abandoned router session", zap.Error(err))
	}
}

func (s *sshSession) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}
	s.closed = true
	return s.client.Close()
}

// Rejection returns the router's error text if output reports that command was refused,
// or "" if the command succeeded. Removals are best-effort: a removal that found
// nothing to remove is not a failure.
func Rejection(command, output string) string {
	lower := strings.ToLower(output)
	for _, marker := range rejectionMarkers {
		idx := strings.Index(lower, marker)
		if idx < 0 {
			continue
		}
		if marker == "no such item" && IsRemoval(command) {
			continue
		}
		line := output[idx:]
		if nl := strings.IndexByte(line, '\n'); nl >= 0 {
			line = line[:nl]
		}
		return strings.TrimSpace(line)
	}
	return ""
}

// IsRemoval reports whether command is a "<menu> remove ..." directive
func IsRemoval(command string) bool {
	fields := strings.Fields(command)
	for i, f := range fields {
		if strings.HasPrefix(f, "[") {
			return false
		}
		if f == "remove" && i > 0 {
			return true
		}
	}
	return false
}

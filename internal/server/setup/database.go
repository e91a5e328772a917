package setup

import (
	"context"
	"database/sql"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const (
	DefaultPostgresUser   = "madric"
	DefaultPostgresDB     = "madric"
	PostgresContainerName = "madric-postgres"
	PostgresImage         = "postgres:15-alpine"
)

// Runner executes an external command and returns its combined output
type Runner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// PostgresSetup brings up a local PostgreSQL container for the postgres storage
// backend when no reachable DATABASE_URL is configured.
type PostgresSetup struct {
	Container string
	User      string
	Database  string
	Password  string
	// EnvPath is the .env file DATABASE_URL is appended to; empty skips it
	EnvPath string

	run       Runner
	pollEvery time.Duration
	portFree  func(port int) bool
	reachable func(ctx context.Context, databaseURL string) bool
	logger    *zap.Logger
}

func NewPostgresSetup(logger *zap.Logger) *PostgresSetup {
	return &PostgresSetup{
		Container: PostgresContainerName,
		User:      DefaultPostgresUser,
		Database:  DefaultPostgresDB,
		Password:  postgresPassword(),
		EnvPath:   ".env",
		run:       execRunner,
		pollEvery: time.Second,
		portFree:  isPortAvailable,
		reachable: isDatabaseAccessible,
		logger:    logger,
	}
}

// postgresPassword returns POSTGRES_PASSWORD or a throwaway one for local setups
func postgresPassword() string {
	if pw := os.Getenv("POSTGRES_PASSWORD"); pw != "" {
		return pw
	}
	return "madric_local_" + strconv.FormatInt(time.Now().Unix()%100000, 10)
}

// Ensure returns a usable DATABASE_URL. It tries, in order: the given URL,
// an already running container, an existing stopped container, a new container.
func (s *PostgresSetup) Ensure(ctx context.Context, databaseURL string) (string, error) {
	if databaseURL != "" {
		if s.reachable(ctx, databaseURL) {
			s.logger.Info("Database already configured and accessible")
			return databaseURL, nil
		}
		s.logger.Warn("DATABASE_URL set but database not accessible, setting up a container")
	}

	if _, err := s.run(ctx, "docker", "--version"); err != nil {
		return "", fmt.Errorf(`Docker is required for automatic database setup.

Please install Docker:
  curl -fsSL https://get.docker.com | sh

Or set DATABASE_URL in the .env file`)
	}

	port, err := s.startContainer(ctx)
	if err != nil {
		return "", err
	}

	s.logger.Info("Waiting for PostgreSQL to be ready", zap.Int("port", port))
	if err := s.waitReady(ctx, 30); err != nil {
		return "", err
	}

	databaseURL = s.URL(port)
	if err := s.appendEnv(databaseURL); err != nil {
		return "", fmt.Errorf("failed to update %s: %w", s.EnvPath, err)
	}
	s.logger.Info("Database setup complete", zap.String("container", s.Container), zap.Int("port", port))
	return databaseURL, nil
}

// URL builds the connection string for the container published on port
func (s *PostgresSetup) URL(port int) string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.User, s.Password),
		Host:     net.JoinHostPort("localhost", strconv.Itoa(port)),
		Path:     "/" + s.Database,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

func (s *PostgresSetup) startContainer(ctx context.Context) (int, error) {
	out, err := s.run(ctx, "docker", "ps", "-a", "--filter", "name=^"+s.Container+"$", "--format", "{{.Names}} {{.State}}")
	if err != nil {
		return 0, fmt.Errorf("failed to list containers: %w", err)
	}
	fields := strings.Fields(strings.TrimSpace(string(out)))

	if len(fields) == 2 && fields[0] == s.Container {
		port, err := s.publishedPort(ctx)
		if err != nil {
			return 0, err
		}
		if fields[1] == "running" {
			s.logger.Info("PostgreSQL container already running", zap.Int("port", port))
			return port, nil
		}
		s.logger.Info("Starting existing PostgreSQL container", zap.Int("port", port))
		if out, err := s.run(ctx, "docker", "start", s.Container); err != nil {
			return 0, fmt.Errorf("failed to start existing container: %w (output: %s)", err, strings.TrimSpace(string(out)))
		}
		return port, nil
	}

	port := s.freePort()
	args := []string{
		"run", "-d",
		"--name", s.Container,
		"-e", "POSTGRES_USER=" + s.User,
		"-e", "POSTGRES_PASSWORD=" + s.Password,
		"-e", "POSTGRES_DB=" + s.Database,
		"-p", fmt.Sprintf("%d:5432", port),
		"--restart", "unless-stopped",
		PostgresImage,
	}
	s.logger.Info("Starting PostgreSQL container", zap.Int("port", port))
	if out, err := s.run(ctx, "docker", args...); err != nil {
		return 0, fmt.Errorf("docker run failed: %w (output: %s)", err, strings.TrimSpace(string(out)))
	}
	return port, nil
}

// publishedPort reads the host port mapped to 5432, e.g. "0.0.0.0:5433"
func (s *PostgresSetup) publishedPort(ctx context.Context) (int, error) {
	out, err := s.run(ctx, "docker", "port", s.Container, "5432")
	if err != nil {
		return 0, fmt.Errorf("failed to read container port: %w", err)
	}
	line := strings.TrimSpace(strings.SplitN(string(out), "\n", 2)[0])
	idx := strings.LastIndex(line, ":")
	if idx < 0 {
		return 0, fmt.Errorf("unexpected docker port output %q", line)
	}
	port, err := strconv.Atoi(line[idx+1:])
	if err != nil {
		return 0, fmt.Errorf("unexpected docker port output %q", line)
	}
	return port, nil
}

func (s *PostgresSetup) waitReady(ctx context.Context, attempts int) error {
	for i := 0; i < attempts; i++ {
		if _, err := s.run(ctx, "docker", "exec", s.Container, "pg_isready", "-U", s.User); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(s.pollEvery):
		}
	}
	return fmt.Errorf("PostgreSQL did not become ready after %d attempts", attempts)
}

// freePort picks 5432 or the first free port up to 5450
func (s *PostgresSetup) freePort() int {
	for port := 5432; port <= 5450; port++ {
		if s.portFree(port) {
			return port
		}
	}
	s.logger.Warn("No free port between 5432 and 5450, trying 5432")
	return 5432
}

func (s *PostgresSetup) appendEnv(databaseURL string) error {
	if s.EnvPath == "" {
		return nil
	}

	content := ""
	if data, err := os.ReadFile(s.EnvPath); err == nil {
		content = string(data)
	}
	if strings.Contains(content, "DATABASE_URL=") {
		return nil
	}

	f, err := os.OpenFile(s.EnvPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	var b strings.Builder
	if len(content) > 0 && !strings.HasSuffix(content, "\n") {
		b.WriteString("\n")
	}
	b.WriteString("# Added by madric-server setup-db\n")
	b.WriteString("DATABASE_URL=" + databaseURL + "\n")
	if _, err := f.WriteString(b.String()); err != nil {
		return err
	}

	s.logger.Info("DATABASE_URL added to env file", zap.String("path", s.EnvPath))
	return nil
}

func isPortAvailable(port int) bool {
	ln, err := net.Listen("tcp", ":"+strconv.Itoa(port))
	if err != nil {
		return false
	}
	ln.Close()
	return true
}

func isDatabaseAccessible(ctx context.Context, databaseURL string) bool {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return false
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	return db.PingContext(ctx) == nil
}

// ABOUTME: Entry point for the pushgate authentication and push server
// ABOUTME: Serves HTTP/WebSocket clients and manages the credential store

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"

	"github.com/seaward/pushgate/internal/config"
	"github.com/seaward/pushgate/internal/credstore"
	"github.com/seaward/pushgate/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
                  _                 _
  _ __  _   _ ___| |__   __ _  __ _| |_ ___
 | '_ \| | | / __| '_ \ / _' |/ _' | __/ _ \
 | |_) | |_| \__ \ | | | (_| | (_| | ||  __/
 | .__/ \__,_|___/_| |_|\__, |\__,_|\__\___|
 |_|                    |___/
`

// getConfigPath returns the path to the pushgate config file.
// Priority: PUSHGATE_CONFIG env var > XDG_CONFIG_HOME/pushgate/config.yaml > ~/.config/pushgate/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("PUSHGATE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "pushgate", "config.yaml")
}

func main() {
	if len(os.Args) < 2 {
		fmt.Println("Usage: pushgate <command>")
		fmt.Println()
		fmt.Println("Commands:")
		fmt.Println("  serve                        Start the server")
		fmt.Println("  adduser UID [ROLE,...]       Add a user (password read from stdin)")
		fmt.Println("  deluser UID                  Remove a user")
		fmt.Println("  health                       Check server health")
		os.Exit(1)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "adduser":
		err = runAddUser()
	case "deluser":
		err = runDelUser()
	case "health":
		err = runHealth(ctx)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", os.Args[1])
		os.Exit(1)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func runServe(ctx context.Context) error {
	configPath := getConfigPath()

	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	// Version info
	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	// Load configuration
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:  %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Listen:  %s\n", cfg.Server.Addr)
	green.Print("    ▶ ")
	fmt.Printf("Users:   %s (%s)\n", cfg.Users.Path, backendName(cfg))
	green.Print("    ▶ ")
	fmt.Printf("Auth:    %s\n", authName(cfg))
	fmt.Println()

	logger.Info("starting pushgate",
		"config", configPath,
		"addr", cfg.Server.Addr,
		"auth_method", authName(cfg),
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

func backendName(cfg *config.Config) string {
	if cfg.Users.Backend == "" {
		return "file"
	}
	return cfg.Users.Backend
}

func authName(cfg *config.Config) string {
	if cfg.Auth.Method == "" {
		return "shared"
	}
	return cfg.Auth.Method
}

// openStore opens the configured credential store for the user commands.
func openStore(cfg *config.Config) (credstore.Store, error) {
	logger := setupLogger(cfg.Logging)
	if cfg.Users.Backend == "sqlite" {
		return credstore.NewSQLiteStore(cfg.Users.Path, cfg.Users.MaxAttempts, logger)
	}
	return credstore.NewFileStore(cfg.Users.Path, cfg.Users.MaxAttempts, logger)
}

func runAddUser() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: pushgate adduser UID [ROLE,...]")
	}
	uid := os.Args[2]
	var roles []string
	if len(os.Args) > 3 {
		roles = strings.Split(os.Args[3], ",")
	}

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	users, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	fmt.Print("Password: ")
	reader := bufio.NewReader(os.Stdin)
	line, err := reader.ReadString('\n')
	if err != nil {
		return fmt.Errorf("reading password: %w", err)
	}
	password := strings.TrimRight(line, "\r\n")
	if password == "" {
		return fmt.Errorf("empty password")
	}

	if err := users.AddUser(uid, []byte(password), roles); err != nil {
		return fmt.Errorf("adding user: %w", err)
	}

	fmt.Printf("Added user %q with roles %v\n", uid, roles)
	return nil
}

func runDelUser() error {
	if len(os.Args) < 3 {
		return fmt.Errorf("usage: pushgate deluser UID")
	}
	uid := os.Args[2]

	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	users, err := openStore(cfg)
	if err != nil {
		return fmt.Errorf("opening store: %w", err)
	}

	if !users.RemoveUser(uid) {
		return fmt.Errorf("no such user %q", uid)
	}

	fmt.Printf("Removed user %q\n", uid)
	return nil
}

func runHealth(ctx context.Context) error {
	cfg, err := config.Load(getConfigPath())
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/health", cfg.Server.Addr)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d", resp.StatusCode)
	}

	fmt.Println("healthy")
	return nil
}

func setupLogger(cfg config.LoggingConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = &colorHandler{
			level: level,
		}
	}

	return slog.New(handler)
}

// colorHandler provides colorized log output with thread-safe writes.
type colorHandler struct {
	mu     sync.Mutex
	level  slog.Level
	attrs  []slog.Attr
	groups []string
}

func (h *colorHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *colorHandler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	var buf strings.Builder

	// Format timestamp
	buf.WriteString(color.HiBlackString(r.Time.Format("15:04:05") + " "))

	// Colorize level
	switch r.Level {
	case slog.LevelDebug:
		buf.WriteString(color.MagentaString("DBG "))
	case slog.LevelInfo:
		buf.WriteString(color.CyanString("INF "))
	case slog.LevelWarn:
		buf.WriteString(color.YellowString("WRN "))
	case slog.LevelError:
		buf.WriteString(color.New(color.FgRed, color.Bold).Sprint("ERR "))
	default:
		buf.WriteString("??? ")
	}

	// Print message
	buf.WriteString(r.Message)

	// Print handler-level attrs first (from WithAttrs)
	for _, a := range h.attrs {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
	}

	// Print record attrs
	r.Attrs(func(a slog.Attr) bool {
		buf.WriteString(color.HiBlackString(" " + a.Key + "="))
		buf.WriteString(a.Value.String())
		return true
	})

	buf.WriteString("\n")
	fmt.Print(buf.String())
	return nil
}

func (h *colorHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	newAttrs := make([]slog.Attr, len(h.attrs), len(h.attrs)+len(attrs))
	copy(newAttrs, h.attrs)
	newAttrs = append(newAttrs, attrs...)
	return &colorHandler{
		level:  h.level,
		attrs:  newAttrs,
		groups: h.groups,
	}
}

func (h *colorHandler) WithGroup(name string) slog.Handler {
	newGroups := make([]string, len(h.groups), len(h.groups)+1)
	copy(newGroups, h.groups)
	newGroups = append(newGroups, name)
	return &colorHandler{
		level:  h.level,
		attrs:  h.attrs,
		groups: newGroups,
	}
}

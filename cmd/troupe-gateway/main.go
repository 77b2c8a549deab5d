// ABOUTME: Entry point for the troupe-gateway conversation server
// ABOUTME: Hosts multi-persona sessions behind the HTTP, WebSocket, and SSE API

package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"syscall"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/troupe-gateway/internal/config"
	"github.com/2389/troupe-gateway/internal/gateway"
	"github.com/2389/troupe-gateway/internal/persona"
	"github.com/2389/troupe-gateway/internal/store"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
 _                                                _
| |_ _ __ ___  _   _ _ __   ___       __ _  __ _| |_ _____      ____ _ _   _
| __| '__/ _ \| | | | '_ \ / _ \_____/ _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| |_| | | (_) | |_| | |_) |  __/_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \__|_|  \___/ \__,_| .__/ \___|      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                    |_|               |___/                             |___/
`

// getConfigPath returns the path to the gateway config file.
// Priority: TROUPE_CONFIG env var > XDG_CONFIG_HOME/troupe/gateway.yaml > ~/.config/troupe/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("TROUPE_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "gateway.yaml" // fallback
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "troupe", "gateway.yaml")
}

// getDataPath returns the path to the troupe data directory.
// Priority: XDG_DATA_HOME/troupe > ~/.local/share/troupe
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "troupe")
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, "Usage: troupe-gateway [command]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Commands:")
	fmt.Fprintln(w, "  serve      Start the gateway server (default)")
	fmt.Fprintln(w, "  init       Create a config file and seed the built-in personas")
	fmt.Fprintln(w, "  health     Check gateway health")
	fmt.Fprintln(w, "  personas   List personas on a running gateway")
	fmt.Fprintln(w, "  version    Print the version")
}

func main() {
	// Provider API keys may live in a .env file; missing files are fine.
	_ = godotenv.Load()

	cmd := "serve"
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch cmd {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(ctx)
	case "health":
		err = runHealth(ctx)
	case "personas":
		err = runPersonas(ctx)
	case "version":
		fmt.Printf("troupe-gateway %s\n", version)
	case "help", "-h", "--help":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage(os.Stderr)
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
		if errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("no config at %s (run 'troupe-gateway init' to create one)", configPath)
		}
		return fmt.Errorf("loading config: %w", err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging)

	// Startup info
	green := color.New(color.FgGreen)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.Addr())
	green.Print("    ▶ ")
	fmt.Printf("Providers: %s\n", strings.Join(cfg.Providers.Order, ", "))

	// Tailscale status
	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	fmt.Println()

	logger.Info("starting troupe-gateway",
		"config", configPath,
		"addr", cfg.Server.Addr(),
		"providers", strings.Join(cfg.Providers.Order, ","),
	)

	// Create and run gateway
	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
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

func runHealth(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	// Make HTTP request to health endpoint with context
	url := fmt.Sprintf("http://%s/health", cfg.Server.Addr())
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

func runPersonas(ctx context.Context) error {
	configPath := getConfigPath()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	url := fmt.Sprintf("http://%s/api/personas", cfg.Server.Addr())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("listing personas failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("listing personas failed: status %d", resp.StatusCode)
	}

	var payload struct {
		Personas []persona.Persona `json:"personas"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return fmt.Errorf("decoding response: %w", err)
	}

	if len(payload.Personas) == 0 {
		fmt.Println("no personas")
		return nil
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)

	gray.Printf("  %-14s %-20s %6s %7s  %s\n", "NAME", "DISPLAY", "TEMP", "LENGTH", "TRAITS")
	for _, p := range payload.Personas {
		cyan.Printf("  %-14s", p.Name)
		fmt.Printf(" %-20s %6.2f %7d  %s\n",
			p.DisplayName, p.Temperature, p.TargetLength, strings.Join(p.Traits, ", "))
	}

	return nil
}

func runInit(ctx context.Context) error {
	reader := bufio.NewReader(os.Stdin)

	fmt.Println("troupe-gateway configuration setup")
	fmt.Println("==================================")
	fmt.Println()

	// Default paths
	defaultConfigPath := getConfigPath()
	defaultDataPath := getDataPath()
	defaultDbPath := filepath.Join(defaultDataPath, "gateway.db")

	// Output filename
	outputFile := prompt(reader, "Config file path", defaultConfigPath)

	// Check if file exists
	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if strings.ToLower(overwrite) != "yes" && strings.ToLower(overwrite) != "y" {
			fmt.Println("Aborted.")
			return nil
		}
	}

	// Server configuration
	fmt.Println("\n--- Server Configuration ---")
	host := prompt(reader, "HTTP host", "localhost")
	portStr := prompt(reader, "HTTP port", "8080")
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return fmt.Errorf("invalid port %q", portStr)
	}

	// Database
	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDbPath)

	// Providers
	fmt.Println("\n--- Provider Configuration ---")
	fmt.Println("Hosted providers read their API keys from the environment")
	fmt.Println("(OPENAI_API_KEY, ANTHROPIC_API_KEY, ...); a .env file works too.")
	orderStr := prompt(reader, "Provider order (comma-separated)", "openai, anthropic, demo")
	var order []string
	for _, name := range strings.Split(orderStr, ",") {
		if name = strings.TrimSpace(name); name != "" {
			order = append(order, name)
		}
	}
	if len(order) == 0 {
		order = []string{"demo"}
	}

	// Cache
	fmt.Println("\n--- Cache Configuration ---")
	cacheBackend := prompt(reader, "Cache backend (memory/redis)", "memory")
	var redisAddr string
	if cacheBackend == "redis" {
		redisAddr = prompt(reader, "Redis address", "localhost:6379")
	}

	// Tailscale
	fmt.Println("\n--- Tailscale Configuration ---")
	enableTailscale := prompt(reader, "Enable Tailscale?", "no")
	tailscaleEnabled := strings.ToLower(enableTailscale) == "yes" || strings.ToLower(enableTailscale) == "y"

	var tsHostname, tsAuthKey string
	var tsEphemeral bool
	if tailscaleEnabled {
		tsHostname = prompt(reader, "Tailscale hostname", "troupe-gateway")
		tsAuthKey = prompt(reader, "Tailscale auth key (leave empty to use TS_AUTHKEY)", "")
		ephemeralStr := prompt(reader, "Ephemeral node?", "no")
		tsEphemeral = strings.ToLower(ephemeralStr) == "yes" || strings.ToLower(ephemeralStr) == "y"
	}

	// Logging
	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (pretty/json)", "pretty")

	// Metrics
	fmt.Println("\n--- Metrics Configuration ---")
	enableMetrics := prompt(reader, "Enable Prometheus metrics?", "no")
	metricsEnabled := strings.ToLower(enableMetrics) == "yes" || strings.ToLower(enableMetrics) == "y"

	// Generate config
	var cfg strings.Builder
	cfg.WriteString("# troupe-gateway configuration\n")
	cfg.WriteString("# Generated by troupe-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  host: \"%s\"\n", host))
	cfg.WriteString(fmt.Sprintf("  port: %d\n", port))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: \"%s\"\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("providers:\n")
	cfg.WriteString("  order: [" + strings.Join(order, ", ") + "]\n")
	for _, name := range order {
		// ${VAR} references expand against the environment at load time,
		// so keys never land in the config file itself.
		switch name {
		case "openai":
			cfg.WriteString("  openai:\n    api_key: \"${OPENAI_API_KEY}\"\n")
		case "anthropic":
			cfg.WriteString("  anthropic:\n    api_key: \"${ANTHROPIC_API_KEY}\"\n")
		case "deepseek":
			cfg.WriteString("  deepseek:\n    api_key: \"${DEEPSEEK_API_KEY}\"\n")
		case "gemini":
			cfg.WriteString("  gemini:\n    api_key: \"${GEMINI_API_KEY}\"\n")
		case "openrouter":
			cfg.WriteString("  openrouter:\n    api_key: \"${OPENROUTER_API_KEY}\"\n")
		case "lmstudio":
			cfg.WriteString("  lmstudio:\n    base_url: \"http://localhost:1234/v1\"\n")
		case "ollama":
			cfg.WriteString("  ollama:\n    base_url: \"http://localhost:11434\"\n")
		}
	}
	cfg.WriteString("\n")

	cfg.WriteString("cache:\n")
	cfg.WriteString(fmt.Sprintf("  backend: \"%s\"\n", cacheBackend))
	cfg.WriteString("  ttl: \"5m\"\n")
	if cacheBackend == "redis" {
		cfg.WriteString("  redis:\n")
		cfg.WriteString(fmt.Sprintf("    addr: \"%s\"\n", redisAddr))
	}
	cfg.WriteString("\n")

	cfg.WriteString("tailscale:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", tailscaleEnabled))
	if tailscaleEnabled {
		cfg.WriteString(fmt.Sprintf("  hostname: \"%s\"\n", tsHostname))
		if tsAuthKey != "" {
			cfg.WriteString(fmt.Sprintf("  auth_key: \"%s\"\n", tsAuthKey))
		}
		cfg.WriteString(fmt.Sprintf("  ephemeral: %t\n", tsEphemeral))
	}
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: \"%s\"\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: \"%s\"\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", metricsEnabled))
	cfg.WriteString("  path: \"/metrics\"\n")

	// Ensure config directory exists
	configDir := filepath.Dir(outputFile)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file may carry a tailscale auth key, keep it private.
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	// Ensure data directory exists
	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	// Seed the built-in personas so the first serve has speakers ready.
	st, err := store.NewSQLiteStore(dbPath)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}
	defer st.Close()

	quiet := slog.New(slog.NewTextHandler(io.Discard, nil))
	count, err := gateway.SeedPersonas(ctx, st, persona.NewRegistry(quiet), quiet)
	if err != nil {
		return fmt.Errorf("seeding personas: %w", err)
	}

	green := color.New(color.FgGreen)
	fmt.Println()
	green.Printf("  ✓ Config:   %s\n", outputFile)
	green.Printf("  ✓ Database: %s\n", dbPath)
	green.Printf("  ✓ Personas: %d available\n", count)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  troupe-gateway serve\n")

	return nil
}

func prompt(reader *bufio.Reader, question, defaultVal string) string {
	if defaultVal != "" {
		fmt.Printf("%s [%s]: ", question, defaultVal)
	} else {
		fmt.Printf("%s: ", question)
	}

	input, err := reader.ReadString('\n')
	if err != nil {
		// On EOF or error, return default
		fmt.Println()
		return defaultVal
	}
	input = strings.TrimSpace(input)

	if input == "" {
		return defaultVal
	}
	return input
}

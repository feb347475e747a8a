// ABOUTME: Entry point for the kook-bridge binary
// ABOUTME: Runs supervised KOOK gateway sessions bridging accounts to a host runtime

package main

import (
	"bufio"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/fatih/color"

	"github.com/2389/kook-bridge/internal/config"
	"github.com/2389/kook-bridge/internal/host"
	"github.com/2389/kook-bridge/internal/monitor"
)

const banner = `
 _                _          _          _     _
| | _____   ___  | | __     | |__  _ __(_) __| | __ _  ___
| |/ / _ \ / _ \ | |/ /_____| '_ \| '__| |/ _' |/ _' |/ _ \
|   < (_) | (_) ||   <______| |_) | |  | | (_| | (_| |  __/
|_|\_\___/ \___/ |_|\_\     |_.__/|_|  |_|\__,_|\__, |\___|
                                                |___/
`

// getConfigPath returns the path to the bridge config file.
// Priority: KOOK_BRIDGE_CONFIG env var > XDG_CONFIG_HOME/kook-bridge/config.yaml > ~/.config/kook-bridge/config.yaml
func getConfigPath() string {
	if envPath := os.Getenv("KOOK_BRIDGE_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "kook-bridge", "config.yaml")
}

func main() {
	// Check for init command
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Print banner
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()

	// Load config
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	// Setup logger
	logger := setupLogger(cfg.Logging.Level, cfg.Logging.Format)

	// Print startup info
	green := color.New(color.FgGreen)
	green.Print("    ▶ ")
	fmt.Printf("Config:   %s\n", configPath)
	green.Print("    ▶ ")
	fmt.Printf("Gateway:  %s\n", gatewayLabel(cfg))
	green.Print("    ▶ ")
	fmt.Printf("Host:     %s\n", cfg.Host.URL)
	green.Print("    ▶ ")
	fmt.Printf("Accounts: %d\n", len(cfg.Accounts))
	fmt.Println()

	// Setup graceful shutdown context first - all operations should respect it
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	runtime := host.NewGatewayRuntime(cfg.Host.URL)

	logger.Info("starting bridge")
	return monitor.New(cfg, runtime, nil, logger).Run(ctx)
}

func gatewayLabel(cfg *config.Config) string {
	if cfg.Gateway.BaseURL != "" {
		return cfg.Gateway.BaseURL
	}
	return "https://www.kookapp.cn"
}

func setupLogger(level, format string) *slog.Logger {
	var logLevel slog.Level
	switch level {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

func runInit() error {
	cyan := color.New(color.FgCyan)
	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	cyan.Print(banner)
	fmt.Println("    Interactive Setup")
	fmt.Println("    -----------------")
	fmt.Println()

	configPath := getConfigPath()

	// Check if config already exists
	if _, err := os.Stat(configPath); err == nil {
		yellow.Printf("    Config already exists at %s\n", configPath)
		fmt.Print("    Overwrite? [y/N]: ")
		reader := bufio.NewReader(os.Stdin)
		answer, _ := reader.ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			fmt.Println("    Aborted.")
			return nil
		}
		fmt.Println()
	}

	reader := bufio.NewReader(os.Stdin)

	// Gather config values
	green.Print("    ▶ ")
	fmt.Print("Account name [main]: ")
	accountName, _ := reader.ReadString('\n')
	accountName = strings.TrimSpace(accountName)
	if accountName == "" {
		accountName = "main"
	}

	green.Print("    ▶ ")
	fmt.Print("Bot token: ")
	token, _ := reader.ReadString('\n')
	token = strings.TrimSpace(token)

	green.Print("    ▶ ")
	fmt.Print("Host runtime URL [http://localhost:8080]: ")
	hostURL, _ := reader.ReadString('\n')
	hostURL = strings.TrimSpace(hostURL)
	if hostURL == "" {
		hostURL = "http://localhost:8080"
	}

	// Generate config
	configText := fmt.Sprintf(`# kook-bridge configuration
# Generated by kook-bridge init

logging:
  level: info
  format: text

host:
  url: "%s"

defaults:
  # disabled | open | allowlist
  group_policy: allowlist
  # open | allowlist | pairing
  dm_policy: pairing
  require_mention: true
  history_limit: 10

accounts:
  %s:
    token: "%s"
    # allowed_groups: []
    # allowed_users: []
`, hostURL, accountName, token)

	// Ensure config directory exists
	configDir := filepath.Dir(configPath)
	if err := os.MkdirAll(configDir, 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// Write config file
	if err := os.WriteFile(configPath, []byte(configText), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	fmt.Println()
	green.Printf("    ✓ Config written to %s\n", configPath)
	fmt.Println()
	fmt.Println("    Next steps:")
	fmt.Println("    1. Run: kook-bridge")
	fmt.Println()

	return nil
}

// ABOUTME: Entry point for the discuss-gateway server
// ABOUTME: Subcommands to serve, write a config, issue tokens and query a running gateway

package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/joho/godotenv"

	"github.com/2389/discuss-gateway/internal/auth"
	"github.com/2389/discuss-gateway/internal/config"
	"github.com/2389/discuss-gateway/internal/gateway"
)

// Version is set by goreleaser at build time.
var version = "dev"

const banner = `
     _ _                                                      _
  __| (_)___  ___ _   _ ___ ___        __ _  __ _| |_ _____      ____ _ _   _
 / _' | / __|/ __| | | / __/ __|_____ / _' |/ _' | __/ _ \ \ /\ / / _' | | | |
| (_| | \__ \ (__| |_| \__ \__ \_____| (_| | (_| | ||  __/\ V  V / (_| | |_| |
 \__,_|_|___/\___|\__,_|___/___/      \__, |\__,_|\__\___| \_/\_/ \__,_|\__, |
                                      |___/                             |___/
`

// defaultTokenTTL is how long tokens from the token command stay valid.
const defaultTokenTTL = 30 * 24 * time.Hour

// getConfigPath returns the path to the gateway config file.
// Priority: DISCUSS_CONFIG env var > XDG_CONFIG_HOME/discuss/gateway.yaml > ~/.config/discuss/gateway.yaml
func getConfigPath() string {
	if envPath := os.Getenv("DISCUSS_CONFIG"); envPath != "" {
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

	return filepath.Join(configDir, "discuss", "gateway.yaml")
}

// getDataPath returns the path to the discuss data directory.
// Priority: XDG_DATA_HOME/discuss > ~/.local/share/discuss
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data" // fallback
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "discuss")
}

// loadConfig reads the config file, or runs from defaults and environment when there is none.
func loadConfig() (*config.Config, string, error) {
	configPath := getConfigPath()
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && os.Getenv("DISCUSS_CONFIG") == "" {
		cfg, err := config.FromEnv()
		if err != nil {
			return nil, "", fmt.Errorf("loading config from environment: %w", err)
		}
		return cfg, "(environment)", nil
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, "", fmt.Errorf("loading config: %w", err)
	}
	return cfg, configPath, nil
}

func usage() {
	fmt.Println("Usage: discuss-gateway <command>")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve                        Start the gateway server")
	fmt.Println("  init                         Create a new config file interactively")
	fmt.Println("  token --user ID [--name N]   Issue a signed access token")
	fmt.Println("  health                       Check gateway health")
	fmt.Println("  rooms                        List live rooms")
}

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	// A missing .env is normal
	_ = godotenv.Load()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var err error
	switch os.Args[1] {
	case "serve":
		err = runServe(ctx)
	case "init":
		err = runInit(os.Stdin)
	case "token":
		err = runToken(os.Args[2:], os.Stdout)
	case "health":
		err = runHealth(ctx)
	case "rooms":
		err = runRooms(ctx)
	case "help", "-h", "--help":
		usage()
		return
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
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	gray := color.New(color.FgHiBlack)
	gray.Printf("    version: %s\n\n", version)

	cfg, source, err := loadConfig()
	if err != nil {
		return err
	}

	logger := setupLogger(cfg.Logging)

	green := color.New(color.FgGreen)
	yellow := color.New(color.FgYellow)

	green.Print("    ▶ ")
	fmt.Printf("Config:    %s\n", source)
	green.Print("    ▶ ")
	fmt.Printf("HTTP:      %s\n", cfg.Server.HTTPAddr)
	if cfg.Server.GRPCAddr != "" {
		green.Print("    ▶ ")
		fmt.Printf("gRPC:      %s\n", cfg.Server.GRPCAddr)
	}
	green.Print("    ▶ ")
	fmt.Printf("Database:  %s (%s)\n", cfg.Database.Path, cfg.Database.Driver)

	if cfg.Auth.JWTSecret == "" {
		yellow.Print("    ! ")
		fmt.Println("Auth:      disabled (guests only)")
	}

	if cfg.Tailscale.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Tailscale: ")
		cyan.Print(cfg.Tailscale.Hostname)
		if cfg.Tailscale.Ephemeral {
			gray.Print(" (ephemeral)")
		}
		fmt.Println()
	}

	if cfg.Retention.Enabled {
		green.Print("    ▶ ")
		fmt.Printf("Retention: %s, ttl %s\n", cfg.Retention.Cron, cfg.Retention.TTL)
	}

	fmt.Println()

	logger.Info("starting discuss-gateway",
		"config", source,
		"http_addr", cfg.Server.HTTPAddr,
		"grpc_addr", cfg.Server.GRPCAddr,
	)

	gw, err := gateway.New(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating gateway: %w", err)
	}

	return gw.Run(ctx)
}

// runToken signs a token for a user with the configured secret.
func runToken(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	userID := fs.String("user", "", "user id (sub claim)")
	name := fs.String("name", "", "display name")
	avatar := fs.String("avatar", "", "avatar reference")
	ttl := fs.Duration("ttl", defaultTokenTTL, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected argument: %s", fs.Arg(0))
	}

	if strings.TrimSpace(*userID) == "" {
		return errors.New("--user is required")
	}
	if *ttl <= 0 {
		return errors.New("--ttl must be positive")
	}

	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwt_secret is not configured")
	}

	token, err := auth.NewJWTVerifier([]byte(cfg.Auth.JWTSecret)).Generate(auth.Claims{
		Subject: strings.TrimSpace(*userID),
		Name:    strings.TrimSpace(*name),
		Picture: *avatar,
	}, *ttl)
	if err != nil {
		return fmt.Errorf("generating token: %w", err)
	}

	_, err = fmt.Fprintln(out, token)
	return err
}

// getFromGateway fetches a path from the running gateway and returns the status and body.
func getFromGateway(ctx context.Context, path string) (int, []byte, error) {
	cfg, _, err := loadConfig()
	if err != nil {
		return 0, nil, err
	}

	url := fmt.Sprintf("http://%s%s", cfg.Server.HTTPAddr, path)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("creating request: %w", err)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, fmt.Errorf("reading response: %w", err)
	}
	return resp.StatusCode, body, nil
}

func runHealth(ctx context.Context) error {
	status, body, err := getFromGateway(ctx, "/health/ready")
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("unhealthy: status %d: %s", status, strings.TrimSpace(string(body)))
	}

	fmt.Println(string(body))
	return nil
}

func runRooms(ctx context.Context) error {
	status, body, err := getFromGateway(ctx, "/api/rooms")
	if err != nil {
		return fmt.Errorf("listing rooms failed: %w", err)
	}
	if status != http.StatusOK {
		return fmt.Errorf("listing rooms failed: status %d", status)
	}

	rooms, err := parseRooms(body)
	if err != nil {
		return err
	}
	if len(rooms.Rooms) == 0 {
		fmt.Println("no live rooms")
		return nil
	}

	cyan := color.New(color.FgCyan)
	for _, r := range rooms.Rooms {
		cyan.Printf("  %-40s", r.TopicID)
		fmt.Printf(" %3d connected  since %s\n", r.Occupancy, r.CreatedAt.Local().Format(time.DateTime))
	}
	return nil
}

func parseRooms(body []byte) (gateway.RoomsResponse, error) {
	var rooms gateway.RoomsResponse
	if err := json.Unmarshal(body, &rooms); err != nil {
		return rooms, fmt.Errorf("decoding rooms: %w", err)
	}
	return rooms, nil
}

// generateSecret returns a random base64 secret long enough for auth.jwt_secret.
func generateSecret() (string, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generating JWT secret: %w", err)
	}
	return base64.StdEncoding.EncodeToString(b), nil
}

func runInit(in io.Reader) error {
	reader := bufio.NewReader(in)

	fmt.Println("discuss-gateway configuration setup")
	fmt.Println("===================================")
	fmt.Println()

	defaultDBPath := filepath.Join(getDataPath(), "discuss.db")

	outputFile := prompt(reader, "Config file path", getConfigPath())

	if _, err := os.Stat(outputFile); err == nil {
		overwrite := prompt(reader, "File exists. Overwrite?", "no")
		if !isYes(overwrite) {
			fmt.Println("Aborted.")
			return nil
		}
	}

	fmt.Println("\n--- Server Configuration ---")
	httpAddr := prompt(reader, "HTTP address", "localhost:8080")
	grpcAddr := prompt(reader, "gRPC health address (empty to disable)", "")

	fmt.Println("\n--- Database Configuration ---")
	dbPath := prompt(reader, "SQLite database path", defaultDBPath)

	fmt.Println("\n--- Authentication ---")
	secret := ""
	if isYes(prompt(reader, "Generate a JWT secret? (no means guests only)", "yes")) {
		var err error
		if secret, err = generateSecret(); err != nil {
			return err
		}
	}

	fmt.Println("\n--- Retention ---")
	retentionEnabled := isYes(prompt(reader, "Purge deleted messages on a schedule?", "no"))

	fmt.Println("\n--- Logging Configuration ---")
	logLevel := prompt(reader, "Log level (debug/info/warn/error)", "info")
	logFormat := prompt(reader, "Log format (text/json)", "text")

	var cfg strings.Builder
	cfg.WriteString("# discuss-gateway configuration\n")
	cfg.WriteString("# Generated by discuss-gateway init\n\n")

	cfg.WriteString("server:\n")
	cfg.WriteString(fmt.Sprintf("  http_addr: %q\n", httpAddr))
	cfg.WriteString(fmt.Sprintf("  grpc_addr: %q\n", grpcAddr))
	cfg.WriteString("\n")

	cfg.WriteString("database:\n")
	cfg.WriteString(fmt.Sprintf("  path: %q\n", dbPath))
	cfg.WriteString("\n")

	cfg.WriteString("auth:\n")
	cfg.WriteString(fmt.Sprintf("  jwt_secret: %q\n", secret))
	cfg.WriteString("\n")

	cfg.WriteString("chat:\n")
	cfg.WriteString("  history_limit: 50\n")
	cfg.WriteString("  idle_timeout: \"5m\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("retention:\n")
	cfg.WriteString(fmt.Sprintf("  enabled: %t\n", retentionEnabled))
	cfg.WriteString("  cron: \"0 3 * * *\"\n")
	cfg.WriteString("  ttl: \"720h\"\n")
	cfg.WriteString("\n")

	cfg.WriteString("logging:\n")
	cfg.WriteString(fmt.Sprintf("  level: %q\n", logLevel))
	cfg.WriteString(fmt.Sprintf("  format: %q\n", logFormat))
	cfg.WriteString("\n")

	cfg.WriteString("metrics:\n")
	cfg.WriteString("  enabled: false\n")
	cfg.WriteString("  path: \"/metrics\"\n")

	if err := os.MkdirAll(filepath.Dir(outputFile), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	// The file may hold the JWT secret
	if err := os.WriteFile(outputFile, []byte(cfg.String()), 0600); err != nil {
		return fmt.Errorf("writing config file: %w", err)
	}

	dataDir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	fmt.Printf("\nConfig written to %s\n", outputFile)
	fmt.Printf("Data directory: %s\n", dataDir)
	fmt.Println("\nTo start the server:")
	fmt.Printf("  discuss-gateway serve\n")

	return nil
}

func isYes(s string) bool {
	s = strings.ToLower(strings.TrimSpace(s))
	return s == "yes" || s == "y"
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

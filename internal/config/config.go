// Package config parses command-line flags and MAKE_AGENT_* environment
// variables into validated configuration structs.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/pflag"

	"github.com/bitteprotocol/make-agent/internal/domain"
)

// Well-known protocol constants.
const (
	SpecPath         = ".well-known/ai-plugin.json"
	MainnetWalletURL = "https://wallet.bitte.ai"
	TestnetWalletURL = "https://testnet.wallet.bitte.ai"
	DefaultSSHHost   = "serveo.net"

	playgroundPath = "/smart-actions/prompt/what%20can%20you%20help%20me%20with%3F?mode=debug&agentId="
)

// State backends.
const (
	StateEnv    = "env"
	StateSQLite = "sqlite"
	StateMemory = "memory"
)

const (
	defaultLocalPort   = 3000
	defaultTimeout     = 30 * time.Second
	defaultSettleDelay = time.Second
	defaultDebounce    = 250 * time.Millisecond
	defaultStatePath   = ".make-agent/state.db"
)

// NetworkURLs are the wallet endpoints for one network.
type NetworkURLs struct {
	Wallet      string
	Registry    string
	Playground  string
	SignMessage string
	SignSuccess string
}

// URLsFor derives endpoints from the mainnet or testnet wallet, or from
// override when it is non-empty.
func URLsFor(testnet bool, override string) NetworkURLs {
	wallet := MainnetWalletURL
	if testnet {
		wallet = TestnetWalletURL
	}
	if v := normalizeBaseURL(override); v != "" {
		wallet = v
	}
	return NetworkURLs{
		Wallet:      wallet,
		Registry:    wallet + "/api/ai-plugins",
		Playground:  wallet + playgroundPath,
		SignMessage: wallet + "/sign-message",
		SignSuccess: wallet + "/success",
	}
}

// SpecURL returns the plugin manifest location under baseURL.
func SpecURL(baseURL string) string {
	return strings.TrimSuffix(baseURL, "/") + "/" + SpecPath
}

// RegistryConfig holds the settings shared by every command that talks to
// the wallet or the plugin registry.
type RegistryConfig struct {
	Testnet      bool
	WalletURL    string
	StateBackend string
	StatePath    string
	LogLevel     string
	Timeout      time.Duration
	// Dir is the project directory. Env-file state lives here and the dev
	// session watches it.
	Dir string
}

// URLs resolves the configured network endpoints.
func (c RegistryConfig) URLs() NetworkURLs {
	return URLsFor(c.Testnet, c.WalletURL)
}

// DevConfig configures the dev session orchestrator.
type DevConfig struct {
	RegistryConfig

	Port         int
	Tunnel       domain.TunnelKind
	TunnelServer string
	TunnelAPIKey string
	TunnelName   string
	SSHHost      string
	SSHKeyPath   string
	SettleDelay  time.Duration
	Debounce     time.Duration
}

func bindRegistryFlags(fs *pflag.FlagSet, cfg *RegistryConfig) {
	fs.BoolVarP(&cfg.Testnet, "testnet", "t", cfg.Testnet, "Use testnet instead of mainnet")
	fs.StringVar(&cfg.WalletURL, "wallet-url", cfg.WalletURL, "Wallet base URL override")
	fs.StringVar(&cfg.StateBackend, "state", cfg.StateBackend, "State backend: env|sqlite|memory")
	fs.StringVar(&cfg.StatePath, "state-path", cfg.StatePath, "SQLite state path (with --state=sqlite)")
	fs.StringVar(&cfg.LogLevel, "log-level", cfg.LogLevel, "Log level: debug|info|warn|error")
	fs.DurationVar(&cfg.Timeout, "timeout", cfg.Timeout, "HTTP request timeout")
	fs.StringVar(&cfg.Dir, "dir", cfg.Dir, "Project directory (default: current directory)")
}

func defaultRegistryConfig() RegistryConfig {
	return RegistryConfig{
		Testnet:      envBoolOrDefault("MAKE_AGENT_TESTNET", false),
		WalletURL:    envOrDefault("MAKE_AGENT_WALLET_URL", ""),
		StateBackend: envOrDefault("MAKE_AGENT_STATE", StateEnv),
		StatePath:    envOrDefault("MAKE_AGENT_STATE_PATH", defaultStatePath),
		LogLevel:     envOrDefault("MAKE_AGENT_LOG_LEVEL", "info"),
		Timeout:      defaultTimeout,
		Dir:          envOrDefault("MAKE_AGENT_DIR", ""),
	}
}

func (c *RegistryConfig) validate() error {
	c.StateBackend = strings.ToLower(strings.TrimSpace(c.StateBackend))
	switch c.StateBackend {
	case StateEnv, StateSQLite, StateMemory:
	default:
		return errors.New("state backend must be one of: env, sqlite, memory")
	}
	if c.StateBackend == StateSQLite && strings.TrimSpace(c.StatePath) == "" {
		return errors.New("missing --state-path for sqlite state")
	}
	if c.Timeout <= 0 {
		return errors.New("timeout must be > 0")
	}
	c.WalletURL = normalizeBaseURL(c.WalletURL)
	if strings.TrimSpace(c.Dir) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return fmt.Errorf("resolve working directory: %w", err)
		}
		c.Dir = wd
	}
	return nil
}

// ParseRegistryFlags parses the shared flags for a named subcommand and
// returns the remaining positional arguments.
func ParseRegistryFlags(name string, args []string) (RegistryConfig, []string, error) {
	cfg := defaultRegistryConfig()
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	bindRegistryFlags(fs, &cfg)
	if err := fs.Parse(args); err != nil {
		return cfg, nil, err
	}
	if err := cfg.validate(); err != nil {
		return cfg, nil, err
	}
	return cfg, fs.Args(), nil
}

// ParseDevFlags parses flags for the dev command.
func ParseDevFlags(args []string) (DevConfig, error) {
	cfg := DevConfig{
		RegistryConfig: defaultRegistryConfig(),
		Port:           envIntOrDefault("MAKE_AGENT_PORT", defaultLocalPort),
		Tunnel:         domain.TunnelKind(envOrDefault("MAKE_AGENT_TUNNEL", string(domain.TunnelSSHReverse))),
		TunnelServer:   envOrDefault("MAKE_AGENT_TUNNEL_SERVER", ""),
		TunnelAPIKey:   envOrDefault("MAKE_AGENT_TUNNEL_API_KEY", ""),
		TunnelName:     envOrDefault("MAKE_AGENT_TUNNEL_NAME", ""),
		SSHHost:        envOrDefault("MAKE_AGENT_SSH_HOST", DefaultSSHHost),
		SSHKeyPath:     envOrDefault("MAKE_AGENT_SSH_KEY", defaultSSHKeyPath()),
		SettleDelay:    defaultSettleDelay,
		Debounce:       defaultDebounce,
	}

	tunnel := string(cfg.Tunnel)
	fs := pflag.NewFlagSet("dev", pflag.ContinueOnError)
	bindRegistryFlags(fs, &cfg.RegistryConfig)
	fs.IntVarP(&cfg.Port, "port", "p", cfg.Port, "Local port of the agent server")
	fs.StringVar(&tunnel, "tunnel", tunnel, "Tunnel strategy: hosted|ssh")
	fs.StringVar(&cfg.TunnelServer, "tunnel-server", cfg.TunnelServer, "Hosted tunnel server URL")
	fs.StringVar(&cfg.TunnelAPIKey, "tunnel-api-key", cfg.TunnelAPIKey, "Hosted tunnel API key")
	fs.StringVar(&cfg.TunnelName, "tunnel-name", cfg.TunnelName, "Requested hosted subdomain")
	fs.StringVar(&cfg.SSHHost, "ssh-host", cfg.SSHHost, "SSH reverse tunnel host")
	fs.StringVar(&cfg.SSHKeyPath, "ssh-key", cfg.SSHKeyPath, "SSH key path (generated on first use)")
	fs.DurationVar(&cfg.SettleDelay, "settle", cfg.SettleDelay, "Delay between tunnel start and authentication")
	fs.DurationVar(&cfg.Debounce, "debounce", cfg.Debounce, "File change debounce window")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if rest := fs.Args(); len(rest) > 0 {
		return cfg, fmt.Errorf("unexpected arguments: %s", strings.Join(rest, " "))
	}

	if err := cfg.RegistryConfig.validate(); err != nil {
		return cfg, err
	}
	cfg.Tunnel = domain.TunnelKind(strings.ToLower(strings.TrimSpace(tunnel)))
	if !cfg.Tunnel.Valid() {
		return cfg, errors.New("tunnel must be one of: hosted, ssh")
	}
	if cfg.Port <= 0 || cfg.Port > 65535 {
		return cfg, errors.New("local port must be between 1 and 65535")
	}
	if cfg.Tunnel == domain.TunnelHosted {
		cfg.TunnelServer = normalizeBaseURL(cfg.TunnelServer)
		if cfg.TunnelServer == "" {
			return cfg, errors.New("hosted tunnel requires --tunnel-server or MAKE_AGENT_TUNNEL_SERVER")
		}
		if strings.TrimSpace(cfg.TunnelAPIKey) == "" {
			return cfg, errors.New("hosted tunnel requires --tunnel-api-key or MAKE_AGENT_TUNNEL_API_KEY")
		}
	}
	if cfg.Tunnel == domain.TunnelSSHReverse && strings.TrimSpace(cfg.SSHHost) == "" {
		return cfg, errors.New("ssh tunnel requires --ssh-host")
	}
	if cfg.SettleDelay < 0 || cfg.Debounce < 0 {
		return cfg, errors.New("settle and debounce must be >= 0")
	}
	return cfg, nil
}

func defaultSSHKeyPath() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(".ssh", "serveo_key")
	}
	return filepath.Join(home, ".ssh", "serveo_key")
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envIntOrDefault(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}

func envBoolOrDefault(key string, def bool) bool {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(key))) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	}
	return def
}

// normalizeBaseURL trims whitespace and trailing slashes and assumes https
// when no scheme is given.
func normalizeBaseURL(v string) string {
	v = strings.TrimSpace(v)
	if v == "" {
		return ""
	}
	if !strings.Contains(v, "://") {
		v = "https://" + v
	}
	return strings.TrimRight(v, "/")
}

package config

import (
	"embed"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

//go:embed example.yaml
var exampleConfig embed.FS

// EnvPrefix is the prefix for all environment overrides (ZAPLINE_NSEC, ZAPLINE_REDIS_URL, ...)
const EnvPrefix = "ZAPLINE"

// Config represents the complete zapline configuration
type Config struct {
	Identity    Identity    `yaml:"identity"`
	Relays      Relays      `yaml:"relays"`
	Zaps        Zaps        `yaml:"zaps"`
	Threads     Threads     `yaml:"threads"`
	Feed        Feed        `yaml:"feed"`
	Inbox       Inbox       `yaml:"inbox"`
	Caching     Caching     `yaml:"caching"`
	Logging     Logging     `yaml:"logging"`
	Metrics     Metrics     `yaml:"metrics"`
	Preferences Preferences `yaml:"preferences"`
}

// Identity contains Nostr identity information
type Identity struct {
	Npub string `yaml:"npub"`
	// Nsec is never read from the config file, only from ZAPLINE_NSEC
	Nsec string `yaml:"-"`
}

// Relays contains relay configuration
type Relays struct {
	Seeds  []string    `yaml:"seeds"`
	Policy RelayPolicy `yaml:"policy"`
}

// RelayPolicy defines per-operation deadlines and publish retry behavior
type RelayPolicy struct {
	ConnectTimeoutMs      int `yaml:"connect_timeout_ms"`
	LookupTimeoutMs       int `yaml:"lookup_timeout_ms"`
	NotificationTimeoutMs int `yaml:"notification_timeout_ms"`
	AggregateTimeoutMs    int `yaml:"aggregate_timeout_ms"`
	PublishAttempts       int `yaml:"publish_attempts"`
	PublishBackoffMs      int `yaml:"publish_backoff_ms"`
	PublishTimeoutMs      int `yaml:"publish_timeout_ms"`
}

// Zaps configures the settlement engine
type Zaps struct {
	DefaultAmountSats         int64    `yaml:"default_amount_sats"`
	PollIntervalSeconds       int      `yaml:"poll_interval_seconds"`
	ConfirmationWindowSeconds int      `yaml:"confirmation_window_seconds"`
	InvoiceTimeoutMs          int      `yaml:"invoice_timeout_ms"`
	ChannelTimeoutMs          int      `yaml:"channel_timeout_ms"`
	ReceiptRelays             []string `yaml:"receipt_relays"`
	// ProviderCommand is an optional local payment command; the invoice is appended as last argument
	ProviderCommand []string `yaml:"provider_command"`
	// NWCURI holds a nostr+walletconnect descriptor; loaded from ZAPLINE_NWC_URI only
	NWCURI string `yaml:"-"`
}

// Threads configures thread reconstruction
type Threads struct {
	MaxDepth int `yaml:"max_depth"`
}

// Feed configures the author scope of the following feed
type Feed struct {
	Scope FeedScope `yaml:"scope"`
}

// FeedScope defines which followed authors are included
type FeedScope struct {
	AllowlistPubkeys []string `yaml:"allowlist_pubkeys"`
	DenylistPubkeys  []string `yaml:"denylist_pubkeys"`
	MaxAuthors       int      `yaml:"max_authors"`
}

// Inbox contains inbox/notification settings
type Inbox struct {
	NoiseFilters NoiseFilters `yaml:"noise_filters"`
}

// NoiseFilters defines filters to reduce noise in reaction breakdowns and notifications
type NoiseFilters struct {
	AllowedReactionChars []string `yaml:"allowed_reaction_chars"`
	HideOwnEvents        bool     `yaml:"hide_own_events"`
}

// Caching configures the read-through query cache
type Caching struct {
	Enabled   bool     `yaml:"enabled"`
	Engine    string   `yaml:"engine"` // memory|redis
	RedisURL  string   `yaml:"redis_url"`
	Namespace string   `yaml:"namespace"`
	TTL       CacheTTL `yaml:"ttl"`
}

// CacheTTL contains per-query-family TTLs in seconds
type CacheTTL struct {
	Reactions int `yaml:"reactions"`
	Reposts   int `yaml:"reposts"`
	Zaps      int `yaml:"zaps"`
	Default   int `yaml:"default"`
}

// Logging configures logging
type Logging struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// Metrics configures the prometheus endpoint
type Metrics struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

// Preferences locates the persisted preference record
type Preferences struct {
	Path string `yaml:"path"`
}

// envOverrides are the values accepted from the environment
type envOverrides struct {
	Nsec     string   `envconfig:"NSEC"`
	Npub     string   `envconfig:"NPUB"`
	RedisURL string   `envconfig:"REDIS_URL"`
	NWCURI   string   `envconfig:"NWC_URI"`
	LogLevel string   `envconfig:"LOG_LEVEL"`
	Relays   []string `envconfig:"RELAYS"`
}

// Load reads and parses a configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return finish(&cfg)
}

// LoadOrDefault loads path when it exists and falls back to Default otherwise
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		}
	}
	return finish(Default())
}

func finish(cfg *Config) (*Config, error) {
	applyDefaults(cfg)

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// applyDefaults fills in missing configuration fields with sensible defaults
func applyDefaults(cfg *Config) {
	defaults := Default()

	if len(cfg.Relays.Seeds) == 0 {
		cfg.Relays.Seeds = defaults.Relays.Seeds
	}
	p, dp := &cfg.Relays.Policy, defaults.Relays.Policy
	setInt(&p.ConnectTimeoutMs, dp.ConnectTimeoutMs)
	setInt(&p.LookupTimeoutMs, dp.LookupTimeoutMs)
	setInt(&p.NotificationTimeoutMs, dp.NotificationTimeoutMs)
	setInt(&p.AggregateTimeoutMs, dp.AggregateTimeoutMs)
	setInt(&p.PublishAttempts, dp.PublishAttempts)
	setInt(&p.PublishBackoffMs, dp.PublishBackoffMs)
	setInt(&p.PublishTimeoutMs, dp.PublishTimeoutMs)

	z, dz := &cfg.Zaps, defaults.Zaps
	if z.DefaultAmountSats == 0 {
		z.DefaultAmountSats = dz.DefaultAmountSats
	}
	setInt(&z.PollIntervalSeconds, dz.PollIntervalSeconds)
	setInt(&z.ConfirmationWindowSeconds, dz.ConfirmationWindowSeconds)
	setInt(&z.InvoiceTimeoutMs, dz.InvoiceTimeoutMs)
	setInt(&z.ChannelTimeoutMs, dz.ChannelTimeoutMs)

	setInt(&cfg.Threads.MaxDepth, defaults.Threads.MaxDepth)

	if cfg.Caching.Engine == "" {
		cfg.Caching.Engine = defaults.Caching.Engine
	}
	if cfg.Caching.Namespace == "" {
		cfg.Caching.Namespace = defaults.Caching.Namespace
	}
	t, dt := &cfg.Caching.TTL, defaults.Caching.TTL
	setInt(&t.Reactions, dt.Reactions)
	setInt(&t.Reposts, dt.Reposts)
	setInt(&t.Zaps, dt.Zaps)
	setInt(&t.Default, dt.Default)

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = defaults.Logging.Level
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = defaults.Logging.Format
	}
	if cfg.Metrics.Listen == "" {
		cfg.Metrics.Listen = defaults.Metrics.Listen
	}
}

func setInt(v *int, def int) {
	if *v == 0 {
		*v = def
	}
}

// applyEnvOverrides applies ZAPLINE_* environment variables to config
func applyEnvOverrides(cfg *Config) error {
	var env envOverrides
	if err := envconfig.Process(EnvPrefix, &env); err != nil {
		return err
	}

	if env.Nsec != "" {
		cfg.Identity.Nsec = env.Nsec
	}
	if env.Npub != "" {
		cfg.Identity.Npub = env.Npub
	}
	if env.RedisURL != "" {
		cfg.Caching.RedisURL = env.RedisURL
	}
	if env.NWCURI != "" {
		cfg.Zaps.NWCURI = env.NWCURI
	}
	if env.LogLevel != "" {
		cfg.Logging.Level = env.LogLevel
	}
	if len(env.Relays) > 0 {
		cfg.Relays.Seeds = env.Relays
	}

	return nil
}

// GetExampleConfig returns the embedded example configuration
func GetExampleConfig() ([]byte, error) {
	return exampleConfig.ReadFile("example.yaml")
}

// Default returns a configuration with sensible defaults
func Default() *Config {
	return &Config{
		Relays: Relays{
			Seeds: []string{
				"wss://relay.damus.io",
				"wss://nos.lol",
				"wss://relay.nostr.band",
			},
			Policy: RelayPolicy{
				ConnectTimeoutMs:      5000,
				LookupTimeoutMs:       1500,
				NotificationTimeoutMs: 3000,
				AggregateTimeoutMs:    5000,
				PublishAttempts:       3,
				PublishBackoffMs:      1000,
				PublishTimeoutMs:      5000,
			},
		},
		Zaps: Zaps{
			DefaultAmountSats:         21,
			PollIntervalSeconds:       5,
			ConfirmationWindowSeconds: 300,
			InvoiceTimeoutMs:          10000,
			ChannelTimeoutMs:          30000,
		},
		Threads: Threads{
			MaxDepth: 3,
		},
		Feed: Feed{
			Scope: FeedScope{
				MaxAuthors: 1000,
			},
		},
		Inbox: Inbox{
			NoiseFilters: NoiseFilters{
				HideOwnEvents: true,
			},
		},
		Caching: Caching{
			Enabled:   true,
			Engine:    "memory",
			Namespace: "zapline:",
			TTL: CacheTTL{
				Reactions: 30,
				Reposts:   30,
				Zaps:      30,
				Default:   60,
			},
		},
		Logging: Logging{
			Level:  "info",
			Format: "text",
		},
		Metrics: Metrics{
			Enabled: false,
			Listen:  "127.0.0.1:9464",
		},
		Preferences: Preferences{
			Path: "zapline-preferences.json",
		},
	}
}

// validCacheEngines defines allowed cache engines
var validCacheEngines = map[string]bool{
	"memory": true,
	"redis":  true,
}

// validLogLevels defines allowed log levels
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// Validate checks if a configuration is valid
func Validate(cfg *Config) error {
	if cfg.Identity.Npub != "" && !strings.HasPrefix(cfg.Identity.Npub, "npub1") {
		return fmt.Errorf("identity.npub must start with 'npub1'")
	}

	if len(cfg.Relays.Seeds) == 0 {
		return fmt.Errorf("at least one relay seed is required")
	}
	for _, seed := range cfg.Relays.Seeds {
		if !strings.HasPrefix(seed, "wss://") && !strings.HasPrefix(seed, "ws://") {
			return fmt.Errorf("relay seed must start with ws:// or wss://: %s", seed)
		}
	}
	for _, r := range cfg.Zaps.ReceiptRelays {
		if !strings.HasPrefix(r, "wss://") && !strings.HasPrefix(r, "ws://") {
			return fmt.Errorf("zaps.receipt_relays entry must start with ws:// or wss://: %s", r)
		}
	}

	if cfg.Relays.Policy.PublishAttempts < 1 || cfg.Relays.Policy.PublishAttempts > 10 {
		return fmt.Errorf("relays.policy.publish_attempts must be between 1 and 10")
	}

	if cfg.Zaps.DefaultAmountSats < 1 {
		return fmt.Errorf("zaps.default_amount_sats must be positive")
	}
	if cfg.Zaps.PollIntervalSeconds >= cfg.Zaps.ConfirmationWindowSeconds {
		return fmt.Errorf("zaps.poll_interval_seconds must be shorter than zaps.confirmation_window_seconds")
	}

	if cfg.Threads.MaxDepth < 1 || cfg.Threads.MaxDepth > 100 {
		return fmt.Errorf("threads.max_depth must be between 1 and 100")
	}

	if cfg.Caching.Enabled && !validCacheEngines[cfg.Caching.Engine] {
		return fmt.Errorf("invalid cache engine: %s (must be one of: memory, redis)", cfg.Caching.Engine)
	}
	if cfg.Caching.Enabled && cfg.Caching.Engine == "redis" && cfg.Caching.RedisURL == "" {
		return fmt.Errorf("caching.redis_url is required when caching.engine is redis")
	}

	if !validLogLevels[cfg.Logging.Level] {
		return fmt.Errorf("invalid log level: %s (must be one of: debug, info, warn, error)", cfg.Logging.Level)
	}

	return nil
}

func ms(v int) time.Duration { return time.Duration(v) * time.Millisecond }

// LookupTimeout is the deadline for single-record lookups
func (p RelayPolicy) LookupTimeout() time.Duration { return ms(p.LookupTimeoutMs) }

// NotificationTimeout is the deadline for notification queries
func (p RelayPolicy) NotificationTimeout() time.Duration { return ms(p.NotificationTimeoutMs) }

// AggregateTimeout is the deadline for aggregate queries
func (p RelayPolicy) AggregateTimeout() time.Duration { return ms(p.AggregateTimeoutMs) }

// ConnectTimeout bounds relay dialing
func (p RelayPolicy) ConnectTimeout() time.Duration { return ms(p.ConnectTimeoutMs) }

// PublishBackoff is the fixed wait between publish attempts
func (p RelayPolicy) PublishBackoff() time.Duration { return ms(p.PublishBackoffMs) }

// PublishTimeout bounds a single publish attempt
func (p RelayPolicy) PublishTimeout() time.Duration { return ms(p.PublishTimeoutMs) }

// PollInterval is the receipt polling period
func (z Zaps) PollInterval() time.Duration {
	return time.Duration(z.PollIntervalSeconds) * time.Second
}

// ConfirmationWindow is how long a manual payment is awaited
func (z Zaps) ConfirmationWindow() time.Duration {
	return time.Duration(z.ConfirmationWindowSeconds) * time.Second
}

// InvoiceTimeout bounds LNURL requests
func (z Zaps) InvoiceTimeout() time.Duration { return ms(z.InvoiceTimeoutMs) }

// ChannelTimeout bounds a single payment channel attempt
func (z Zaps) ChannelTimeout() time.Duration { return ms(z.ChannelTimeoutMs) }

// TTLFor returns the cache TTL for a query family
func (c Caching) TTLFor(family string) time.Duration {
	seconds := c.TTL.Default
	switch family {
	case "reactions":
		seconds = c.TTL.Reactions
	case "reposts":
		seconds = c.TTL.Reposts
	case "zaps":
		seconds = c.TTL.Zaps
	}
	return time.Duration(seconds) * time.Second
}

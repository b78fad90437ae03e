package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/shopspring/decimal"
	"github.com/stellar/go/network"
	"github.com/stellar/go/strkey"
	"gopkg.in/yaml.v3"

	"github.com/dandalion98/mirrorbot/internal/clients"
	"github.com/dandalion98/mirrorbot/internal/services/sizing"
)

const (
	// GeneratedPath file written by the setup wizard.
	GeneratedPath = "config.gen.yaml"
	// SeedEnv overrides source.seed so the secret can stay out of the YAML file.
	SeedEnv = "MIRROR_SOURCE_SEED"

	NetworkPublic  = "public"
	NetworkTestnet = "testnet"

	defaultCleanupDelay = 5 * time.Second
	defaultStaleAfter   = 5 * time.Minute
	defaultWALDir       = "./wal"
	defaultWebAddr      = ":8080"
	defaultLogLevel     = "info"
)

// Config validated settings for one mirror pair.
type Config struct {
	Network    string
	Passphrase string
	HorizonURL string
	// Source account that places the mirrored offers.
	SourceAddress string
	SourceSeed    string
	// Target account being mirrored.
	Target       string
	Buy          sizing.Policy
	Sell         sizing.Policy
	CleanupDelay time.Duration
	// StaleAfter zero disables the stale-effect guard.
	StaleAfter time.Duration
	DryRun     bool
	WALDir     string
	WebAddr    string
	// RateLimit Horizon requests per second.
	RateLimit float64
	LogLevel  string
}

// SideTmp sizing section as written in YAML. MaxPremium is read for buys,
// MaxDiscount for sells.
type SideTmp struct {
	Mode        string `yaml:"mode,omitempty"`
	MaxAmount   string `yaml:"max_amount,omitempty"`
	MaxPremium  string `yaml:"max_premium,omitempty"`
	MaxDiscount string `yaml:"max_discount,omitempty"`
}

// SourceTmp source account section.
type SourceTmp struct {
	Address string `yaml:"address"`
	Seed    string `yaml:"seed,omitempty"`
}

// ConfigTmp raw YAML document before validation.
type ConfigTmp struct {
	Network      string    `yaml:"network"`
	HorizonURL   string    `yaml:"horizon_url,omitempty"`
	Source       SourceTmp `yaml:"source"`
	Target       string    `yaml:"target"`
	Buy          SideTmp   `yaml:"buy,omitempty"`
	Sell         *SideTmp  `yaml:"sell,omitempty"`
	CleanupDelay string    `yaml:"cleanup_delay,omitempty"`
	StaleAfter   string    `yaml:"stale_after,omitempty"`
	DryRun       bool      `yaml:"dry_run,omitempty"`
	WALDir       string    `yaml:"wal_dir,omitempty"`
	WebAddr      string    `yaml:"web_addr,omitempty"`
	RateLimit    string    `yaml:"rate_limit,omitempty"`
	LogLevel     string    `yaml:"log_level,omitempty"`
}

// Flags command-line options.
type Flags struct {
	Path  string
	Setup bool
}

// ParseFlags reads -config and -setup.
func ParseFlags() Flags {
	path := flag.String("config", "config.yaml", "path to yaml config")
	setup := flag.Bool("setup", false, "run the interactive configuration wizard")
	flag.Parse()

	return Flags{Path: *path, Setup: *setup}
}

// Load reads the YAML file at path. Variables from a .env file in the working
// directory are loaded first; a missing .env is not an error.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	f, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(err, "read config %s", path)
	}

	return Parse(f)
}

// Parse converts a YAML document into a validated Config.
func Parse(data []byte) (Config, error) {
	var tmp ConfigTmp
	if err := yaml.Unmarshal(data, &tmp); err != nil {
		return Config{}, errors.Wrap(err, "parse yaml config")
	}
	if seed := os.Getenv(SeedEnv); seed != "" {
		tmp.Source.Seed = seed
	}

	return tmp.toConfig()
}

func (c ConfigTmp) toConfig() (Config, error) {
	conf := Config{
		SourceAddress: strings.TrimSpace(c.Source.Address),
		SourceSeed:    strings.TrimSpace(c.Source.Seed),
		Target:        strings.TrimSpace(c.Target),
		DryRun:        c.DryRun,
		WALDir:        c.WALDir,
		WebAddr:       c.WebAddr,
		LogLevel:      strings.ToLower(c.LogLevel),
	}

	switch strings.ToLower(c.Network) {
	case "", NetworkPublic:
		conf.Network = NetworkPublic
		conf.Passphrase = network.PublicNetworkPassphrase
		conf.HorizonURL = clients.PublicHorizonURL
	case NetworkTestnet:
		conf.Network = NetworkTestnet
		conf.Passphrase = network.TestNetworkPassphrase
		conf.HorizonURL = clients.TestnetHorizonURL
	default:
		return Config{}, fmt.Errorf("incorrect 'network' param in yaml config: %q, expected public or testnet", c.Network)
	}
	if c.HorizonURL != "" {
		conf.HorizonURL = strings.TrimRight(c.HorizonURL, "/")
	}

	if !strkey.IsValidEd25519PublicKey(conf.SourceAddress) {
		return Config{}, fmt.Errorf("incorrect 'source.address' param in yaml config: %q", conf.SourceAddress)
	}
	if !strkey.IsValidEd25519PublicKey(conf.Target) {
		return Config{}, fmt.Errorf("incorrect 'target' param in yaml config: %q", conf.Target)
	}
	if conf.SourceAddress == conf.Target {
		return Config{}, errors.New("source and target must be different accounts")
	}
	if conf.SourceSeed == "" && !conf.DryRun {
		return Config{}, fmt.Errorf("source seed is required unless dry_run is set, use %s or 'source.seed'", SeedEnv)
	}
	if conf.SourceSeed != "" && !strkey.IsValidEd25519SecretSeed(conf.SourceSeed) {
		return Config{}, errors.New("incorrect source seed: not a valid secret seed")
	}

	var err error
	conf.Buy, err = c.Buy.policy("buy", c.Buy.MaxPremium)
	if err != nil {
		return Config{}, err
	}

	// sell falls back to the buy section, premium becoming the discount
	sell := c.Sell
	if sell == nil {
		sell = &SideTmp{Mode: c.Buy.Mode, MaxAmount: c.Buy.MaxAmount, MaxDiscount: c.Buy.MaxPremium}
	}
	conf.Sell, err = sell.policy("sell", sell.MaxDiscount)
	if err != nil {
		return Config{}, err
	}

	conf.CleanupDelay, err = parseDuration("cleanup_delay", c.CleanupDelay, defaultCleanupDelay)
	if err != nil {
		return Config{}, err
	}
	if conf.CleanupDelay <= 0 {
		return Config{}, fmt.Errorf("incorrect 'cleanup_delay' param in yaml config: must be positive, got %s", conf.CleanupDelay)
	}
	conf.StaleAfter, err = parseDuration("stale_after", c.StaleAfter, defaultStaleAfter)
	if err != nil {
		return Config{}, err
	}
	if conf.StaleAfter < 0 {
		return Config{}, fmt.Errorf("incorrect 'stale_after' param in yaml config: must not be negative, got %s", conf.StaleAfter)
	}

	conf.RateLimit = clients.DefaultHorizonRate
	if c.RateLimit != "" {
		conf.RateLimit, err = strconv.ParseFloat(c.RateLimit, 64)
		if err != nil || conf.RateLimit <= 0 {
			return Config{}, fmt.Errorf("incorrect 'rate_limit' param in yaml config (must be a positive number): %q", c.RateLimit)
		}
	}

	if conf.WALDir == "" {
		conf.WALDir = defaultWALDir
	}
	if conf.WebAddr == "" {
		conf.WebAddr = defaultWebAddr
	}
	switch conf.LogLevel {
	case "":
		conf.LogLevel = defaultLogLevel
	case "debug", "info", "warn", "error":
	default:
		return Config{}, fmt.Errorf("incorrect 'log_level' param in yaml config: %q", c.LogLevel)
	}

	return conf, nil
}

func (s SideTmp) policy(side, slippageStr string) (sizing.Policy, error) {
	mode, err := sizing.ParseMode(strings.ToLower(s.Mode))
	if err != nil {
		return sizing.Policy{}, errors.Wrapf(err, "incorrect '%s.mode' param in yaml config", side)
	}

	maxAmount := decimal.Zero
	if s.MaxAmount != "" {
		maxAmount, err = decimal.NewFromString(s.MaxAmount)
		if err != nil {
			return sizing.Policy{}, fmt.Errorf("incorrect '%s.max_amount' param in yaml config (must be a decimal), error: %w", side, err)
		}
	}

	slippage := sizing.DefaultSlippage
	if slippageStr != "" {
		slippage, err = decimal.NewFromString(slippageStr)
		if err != nil {
			return sizing.Policy{}, fmt.Errorf("incorrect %s slippage param in yaml config (must be a decimal), error: %w", side, err)
		}
	}

	p, err := sizing.NewPolicy(mode, maxAmount, slippage)
	if err != nil {
		return sizing.Policy{}, errors.Wrapf(err, "%s policy", side)
	}
	return p, nil
}

func parseDuration(key, value string, def time.Duration) (time.Duration, error) {
	if value == "" {
		return def, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("incorrect '%s' param in yaml config (e.g. 5s), error: %w", key, err)
	}
	return d, nil
}

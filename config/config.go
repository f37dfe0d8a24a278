package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"nwenvelope/internal/envelope"
)

// Config holds all application configuration. Values come from struct
// defaults, then an optional YAML file named by NWE_CONFIG, then env vars.
type Config struct {
	// Infrastructure
	RedisAddr     string `yaml:"redis_addr" default:"localhost:6379" validate:"required"`
	RedisPassword string `yaml:"redis_password"`
	SQLitePath    string `yaml:"sqlite_path" default:"data/candles.db"`
	MetricsAddr   string `yaml:"metrics_addr" default:":9090"`
	HTTPAddr      string `yaml:"http_addr" default:":9095"`
	GatewayAddr   string `yaml:"gateway_addr" default:":9096"`

	// Subscription: comma-separated "exchange:token" pairs
	SubscribeTokens string `yaml:"subscribe_tokens" default:"NSE:99926000"`

	// Dynamic Timeframes (comma-separated seconds, e.g. "60,300,900")
	EnabledTFs string `yaml:"enabled_tfs" default:"60,300"`

	ConsumerGroup string `yaml:"consumer_group" default:"nwengine"`
	ConsumerName  string `yaml:"consumer_name" default:"nwengine-1"`

	Envelope EnvelopeConfig `yaml:"envelope"`

	LogLevel string `yaml:"log_level" default:"info" validate:"oneof=debug info warn error"`
}

// EnvelopeConfig carries the kernel parameters for the live engine.
type EnvelopeConfig struct {
	Bandwidth       float64 `yaml:"bandwidth" default:"8" validate:"gt=0"`
	Window          int     `yaml:"window" default:"500" validate:"min=1"`
	ErrorMultiplier float64 `yaml:"mult" default:"3" validate:"gte=0"`
	// Live mode; the full-history replay is offline-only.
	Mode        string `yaml:"mode" default:"non_repaint" validate:"oneof=non_repaint repaint_on_last"`
	HistoryBars int    `yaml:"history_bars" default:"1000" validate:"gtefield=Window"`
}

// Params converts the envelope section to computation parameters.
func (e EnvelopeConfig) Params() envelope.Params {
	return envelope.Params{
		Bandwidth:       e.Bandwidth,
		Window:          e.Window,
		ErrorMultiplier: e.ErrorMultiplier,
	}
}

// ParsedMode returns the envelope mode. Validate guarantees it parses.
func (e EnvelopeConfig) ParsedMode() envelope.Mode {
	m, _ := envelope.ParseMode(e.Mode)
	return m
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	v.RegisterStructValidation(validateHistory, EnvelopeConfig{})
	return v
}

// validateHistory requires enough history for the live mode to reproduce
// the full-series envelope at the newest bar.
func validateHistory(sl validator.StructLevel) {
	e := sl.Current().Interface().(EnvelopeConfig)
	if e.Window < 1 {
		return
	}
	if need := e.Params().MinHistory(e.ParsedMode()); e.HistoryBars < need {
		sl.ReportError(e.HistoryBars, "HistoryBars", "HistoryBars", "minhistory", strconv.Itoa(need))
	}
}

// Load reads configuration with sensible defaults. An unreadable NWE_CONFIG
// file or a failed validation is returned as an error.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := defaults.Set(cfg); err != nil {
		return nil, fmt.Errorf("config defaults: %w", err)
	}

	if path := os.Getenv("NWE_CONFIG"); path != "" {
		if err := overlayYAML(cfg, path); err != nil {
			return nil, err
		}
	}

	applyEnv(cfg)

	if err := validate.Struct(cfg); err != nil {
		return nil, describe(err)
	}
	return cfg, nil
}

func overlayYAML(cfg *Config, path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func applyEnv(c *Config) {
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.RedisPassword = getEnv("REDIS_PASSWORD", c.RedisPassword)
	c.SQLitePath = getEnv("SQLITE_PATH", c.SQLitePath)
	c.MetricsAddr = getEnv("METRICS_ADDR", c.MetricsAddr)
	c.HTTPAddr = getEnv("HTTP_ADDR", c.HTTPAddr)
	c.GatewayAddr = getEnv("GATEWAY_ADDR", c.GatewayAddr)
	c.SubscribeTokens = getEnv("SUBSCRIBE_TOKENS", c.SubscribeTokens)
	c.EnabledTFs = getEnv("ENABLED_TFS", c.EnabledTFs)
	c.ConsumerGroup = getEnv("CONSUMER_GROUP", c.ConsumerGroup)
	c.ConsumerName = getEnv("CONSUMER_NAME", c.ConsumerName)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)

	c.Envelope.Bandwidth = getEnvFloat("NWE_BANDWIDTH", c.Envelope.Bandwidth)
	c.Envelope.Window = getEnvInt("NWE_WINDOW", c.Envelope.Window)
	c.Envelope.ErrorMultiplier = getEnvFloat("NWE_MULT", c.Envelope.ErrorMultiplier)
	c.Envelope.Mode = getEnv("NWE_MODE", c.Envelope.Mode)
	c.Envelope.HistoryBars = getEnvInt("NWE_HISTORY_BARS", c.Envelope.HistoryBars)
}

func describe(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return fmt.Errorf("config: %w", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %s=%s (got %v)", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value()))
	}
	return fmt.Errorf("config: %s: %w", strings.Join(msgs, "; "), err)
}

// Instrument is one "exchange:token" subscription.
type Instrument struct {
	Exchange string
	Token    string
}

// Key returns "exchange:token".
func (i Instrument) Key() string { return i.Exchange + ":" + i.Token }

// ParseInstruments parses SubscribeTokens. Entries without an exchange
// prefix default to NSE.
func (c *Config) ParseInstruments() []Instrument {
	parts := strings.Split(c.SubscribeTokens, ",")
	out := make([]Instrument, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		exch, tok, ok := strings.Cut(p, ":")
		if !ok {
			exch, tok = "NSE", p
		}
		if exch == "" || tok == "" {
			log.Warn().Str("component", "config").Str("value", p).Msg("skipping invalid instrument")
			continue
		}
		out = append(out, Instrument{Exchange: exch, Token: tok})
	}
	return out
}

// ParseTFs parses the EnabledTFs string into a slice of timeframe durations in seconds.
func (c *Config) ParseTFs() []int {
	parts := strings.Split(c.EnabledTFs, ",")
	tfs := make([]int, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		n, err := strconv.Atoi(p)
		if err != nil || n <= 0 {
			log.Warn().Str("component", "config").Str("value", p).Msg("skipping invalid TF value")
			continue
		}
		tfs = append(tfs, n)
	}
	return tfs
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Warn().Str("component", "config").Str("key", key).Str("value", v).Msg("ignoring non-integer env value")
		return fallback
	}
	return n
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Warn().Str("component", "config").Str("key", key).Str("value", v).Msg("ignoring non-numeric env value")
		return fallback
	}
	return f
}

// Package config loads go-hrd settings from defaults, a YAML file and HRD_
// environment variables, in that order of precedence.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
	"gopkg.in/yaml.v3"

	"github.com/teslashibe/go-hrd/pkg/fusion"
	"github.com/teslashibe/go-hrd/pkg/session"
)

// EnvPrefix prefixes every environment override, e.g. HRD_SERVER_ADDR.
const EnvPrefix = "HRD"

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("config: invalid")

// Server configures the HTTP listener shared by the bridge and operator API.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Log configures internal/log.
type Log struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"` // text or json
}

// Session configures the interaction state machine.
type Session struct {
	ActiveDetection bool     `mapstructure:"active_detection"`
	WarmUp          int      `mapstructure:"warm_up"`
	MinConfidence   float64  `mapstructure:"min_confidence"`
	Affirmative     []string `mapstructure:"affirmative"`
	Negative        []string `mapstructure:"negative"`
}

// Fusion configures camera selection and the classifier vector layout.
type Fusion struct {
	Threshold float64 `mapstructure:"threshold"`
	Layout    string  `mapstructure:"layout"`
}

// Timeline configures the motion ticker and audio alignment.
type Timeline struct {
	Tick       time.Duration `mapstructure:"tick"`
	AlignAudio bool          `mapstructure:"align_audio"`
}

// Face configures the facial analysis service.
type Face struct {
	URL     string        `mapstructure:"url"`
	Every   uint64        `mapstructure:"every"`
	Timeout time.Duration `mapstructure:"timeout"`
}

// Telemetry configures the CSV files and the session store. An empty path
// disables that sink.
type Telemetry struct {
	AUPath    string `mapstructure:"au_path"`
	MLPath    string `mapstructure:"ml_path"`
	StorePath string `mapstructure:"store_path"`
}

// Config is the full go-hrd configuration.
type Config struct {
	Server    Server    `mapstructure:"server"`
	Log       Log       `mapstructure:"log"`
	Session   Session   `mapstructure:"session"`
	Fusion    Fusion    `mapstructure:"fusion"`
	Timeline  Timeline  `mapstructure:"timeline"`
	Face      Face      `mapstructure:"face"`
	Telemetry Telemetry `mapstructure:"telemetry"`
}

// DefaultConfig returns the deployment defaults.
func DefaultConfig() *Config {
	sc := session.DefaultConfig()
	return &Config{
		Server: Server{Addr: ":8080", ShutdownTimeout: 5 * time.Second},
		Log:    Log{Level: "info", Format: "text"},
		Session: Session{
			WarmUp:        sc.WarmUp,
			MinConfidence: sc.MinConfidence,
			Affirmative:   sc.Affirmative,
			Negative:      sc.Negative,
		},
		Fusion:   Fusion{Threshold: fusion.DefaultThreshold, Layout: string(fusion.LayoutPaired)},
		Timeline: Timeline{Tick: 8 * time.Millisecond, AlignAudio: true},
		Face:     Face{URL: "http://localhost:8091", Every: 10, Timeout: 2 * time.Second},
		Telemetry: Telemetry{
			AUPath:    filepath.Join("data", "au_intensities.csv"),
			MLPath:    filepath.Join("data", "ml_output.csv"),
			StorePath: filepath.Join("data", "session.db"),
		},
	}
}

// settings flattens c into viper keys. Durations are rendered as strings so
// the same map serves as defaults and as the YAML dump.
func settings(c *Config) map[string]any {
	return map[string]any{
		"server.addr":              c.Server.Addr,
		"server.shutdown_timeout":  c.Server.ShutdownTimeout.String(),
		"log.level":                c.Log.Level,
		"log.format":               c.Log.Format,
		"session.active_detection": c.Session.ActiveDetection,
		"session.warm_up":          c.Session.WarmUp,
		"session.min_confidence":   c.Session.MinConfidence,
		"session.affirmative":      c.Session.Affirmative,
		"session.negative":         c.Session.Negative,
		"fusion.threshold":         c.Fusion.Threshold,
		"fusion.layout":            c.Fusion.Layout,
		"timeline.tick":            c.Timeline.Tick.String(),
		"timeline.align_audio":     c.Timeline.AlignAudio,
		"face.url":                 c.Face.URL,
		"face.every":               c.Face.Every,
		"face.timeout":             c.Face.Timeout.String(),
		"telemetry.au_path":        c.Telemetry.AUPath,
		"telemetry.ml_path":        c.Telemetry.MLPath,
		"telemetry.store_path":     c.Telemetry.StorePath,
	}
}

// Path returns the config file to load: explicit wins, then
// config/<CONFIG_ENV>/config.yaml when it exists. Empty means defaults only.
func Path(explicit string) string {
	if explicit != "" {
		return explicit
	}
	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	p := filepath.Join("config", env, "config.yaml")
	if _, err := os.Stat(p); err == nil {
		return p
	}
	return ""
}

// Load reads the configuration. path may be empty; see Path.
func Load(path string) (*Config, error) {
	v := viper.New()
	for k, val := range settings(DefaultConfig()) {
		v.SetDefault(k, val)
	}

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if p := Path(path); p != "" {
		v.SetConfigFile(p)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", p, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...)
	}

	if c.Server.Addr == "" {
		return invalid("server.addr is required")
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return invalid("log.format must be text or json, got %q", c.Log.Format)
	}
	if c.Session.WarmUp < 0 {
		return invalid("session.warm_up must not be negative")
	}
	if c.Session.MinConfidence < 0 || c.Session.MinConfidence > 1 {
		return invalid("session.min_confidence must be between 0 and 1")
	}
	if len(c.Session.Affirmative) == 0 || len(c.Session.Negative) == 0 {
		return invalid("session.affirmative and session.negative need at least one phrase")
	}
	if c.Fusion.Threshold <= 0 || c.Fusion.Threshold > 1 {
		return invalid("fusion.threshold must be in (0, 1]")
	}
	if _, err := fusion.ParseLayout(c.Fusion.Layout); err != nil {
		return invalid("fusion.layout: %v", err)
	}
	if c.Timeline.Tick <= 0 {
		return invalid("timeline.tick must be positive")
	}
	if c.Face.Every == 0 {
		return invalid("face.every must be at least 1")
	}
	if c.Face.URL == "" {
		return invalid("face.url is required")
	}
	return nil
}

// SessionConfig returns the state machine settings.
func (c *Config) SessionConfig() session.Config {
	return session.Config{
		WarmUp:        c.Session.WarmUp,
		MinConfidence: c.Session.MinConfidence,
		Affirmative:   c.Session.Affirmative,
		Negative:      c.Session.Negative,
	}
}

// Layout returns the validated vector layout.
func (c *Config) Layout() fusion.Layout {
	l, _ := fusion.ParseLayout(c.Fusion.Layout)
	return l
}

// YAML renders the configuration as a nested YAML document.
func (c *Config) YAML() ([]byte, error) {
	doc := map[string]map[string]any{}
	for k, val := range settings(c) {
		section, key, _ := strings.Cut(k, ".")
		if doc[section] == nil {
			doc[section] = map[string]any{}
		}
		doc[section][key] = val
	}
	return yaml.Marshal(doc)
}

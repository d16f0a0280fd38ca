// Package config loads the nightfall runtime configuration from YAML with
// environment overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xingyang1991/nightfall/internal/budget"
	"github.com/xingyang1991/nightfall/internal/logging"
	"github.com/xingyang1991/nightfall/internal/policy"
	"github.com/xingyang1991/nightfall/internal/router"
	"github.com/xingyang1991/nightfall/internal/toolbus"
)

// Config holds all nightfall configuration.
type Config struct {
	Router    router.Config   `yaml:"router"`
	Rules     []router.Rule   `yaml:"rules"`
	Policy    policy.Limits   `yaml:"policy"`
	ToolBus   ToolBusConfig   `yaml:"toolbus"`
	Budget    BudgetConfig    `yaml:"budget"`
	Audit     AuditConfig     `yaml:"audit"`
	Storage   StorageConfig   `yaml:"storage"`
	Generator GeneratorConfig `yaml:"generator"`
	Skills    SkillsConfig    `yaml:"skills"`
	Session   SessionConfig   `yaml:"session"`
	Logging   logging.Config  `yaml:"logging"`
}

// ToolBusConfig configures provider calls. Durations use time.ParseDuration
// syntax.
type ToolBusConfig struct {
	Mode             string `yaml:"mode"` // live, record, replay
	Timeout          string `yaml:"timeout"`
	MaxAttempts      int    `yaml:"maxAttempts"`
	Backoff          string `yaml:"backoff"`
	FailureThreshold int    `yaml:"failureThreshold"`
	Window           string `yaml:"window"`
	Cooldown         string `yaml:"cooldown"`
}

// BudgetConfig maps surface ids to their minimum re-push interval.
type BudgetConfig struct {
	Intervals map[string]string `yaml:"intervals"`
}

type AuditConfig struct {
	Capacity int `yaml:"capacity"`
	// JSONLPath, when set, mirrors every record to a JSON-lines file.
	JSONLPath string `yaml:"jsonlPath"`
}

type StorageConfig struct {
	// DatabasePath is the SQLite file. Empty disables durable storage.
	DatabasePath string `yaml:"databasePath"`
}

type GeneratorConfig struct {
	Provider    string  `yaml:"provider"` // gemini, none
	Model       string  `yaml:"model"`
	APIKey      string  `yaml:"apiKey"`
	Timeout     string  `yaml:"timeout"`
	Temperature float32 `yaml:"temperature"`
}

type SkillsConfig struct {
	// Dirs are scanned for SKILL.md skill directories.
	Dirs        []string `yaml:"dirs"`
	SearchLimit int      `yaml:"searchLimit"`
}

type SessionConfig struct {
	TTL         string `yaml:"ttl"`
	MaxSessions int    `yaml:"maxSessions"`
}

const (
	ProviderGemini = "gemini"
	ProviderNone   = "none"
)

// ValidProviders lists the supported generative providers.
var ValidProviders = []string{ProviderGemini, ProviderNone}

// DefaultConfig returns the built-in configuration.
func DefaultConfig() *Config {
	tb := toolbus.DefaultConfig()
	intervals := map[string]string{}
	for surface, d := range budget.DefaultIntervals() {
		intervals[surface] = d.String()
	}
	return &Config{
		Router: router.DefaultConfig(),
		Rules: []router.Rule{
			{Skill: "late_bite", Phrases: []string{"hungry", "late night food", "something to eat", "夜宵"}},
			{Skill: "focus_session", Phrases: []string{"need to focus", "deep work", "study session"}},
		},
		Policy: policy.DefaultLimits(),
		ToolBus: ToolBusConfig{
			Mode:             string(toolbus.ModeLive),
			Timeout:          tb.Timeout.String(),
			MaxAttempts:      tb.MaxAttempts,
			Backoff:          tb.Backoff.String(),
			FailureThreshold: tb.Breaker.FailureThreshold,
			Window:           tb.Breaker.Window.String(),
			Cooldown:         tb.Breaker.Cooldown.String(),
		},
		Budget: BudgetConfig{Intervals: intervals},
		Audit:  AuditConfig{Capacity: 200},
		Storage: StorageConfig{
			DatabasePath: filepath.Join(".nightfall", "nightfall.db"),
		},
		Generator: GeneratorConfig{
			Provider:    ProviderGemini,
			Model:       "gemini-2.5-flash",
			Timeout:     "20s",
			Temperature: 0.7,
		},
		Skills: SkillsConfig{
			Dirs:        []string{"skills"},
			SearchLimit: 6,
		},
		Session: SessionConfig{
			TTL:         "24h",
			MaxSessions: 4096,
		},
		Logging: logging.Config{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads path over the defaults and then applies environment overrides.
// A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	} else if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save writes the configuration as YAML, creating the directory if needed.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("NIGHTFALL_DB"); v != "" {
		c.Storage.DatabasePath = v
	}
	if v := os.Getenv("NIGHTFALL_TOOL_MODE"); v != "" {
		c.ToolBus.Mode = strings.ToLower(v)
	}
	if v := os.Getenv("NIGHTFALL_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("NIGHTFALL_SKILLS_DIR"); v != "" {
		c.Skills.Dirs = filepath.SplitList(v)
	}
	if v := os.Getenv("NIGHTFALL_AUDIT_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Audit.Capacity = n
		}
	}
	if v := os.Getenv("GEMINI_API_KEY"); v != "" {
		c.Generator.APIKey = v
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error

	r := c.Router
	if r.MinTopScore < 0 || r.MinTopScore > 1 {
		errs = append(errs, fmt.Errorf("router.minTopScore must be within [0,1], got %v", r.MinTopScore))
	}
	if r.MinGap < 0 || r.MinGap > 1 {
		errs = append(errs, fmt.Errorf("router.minGap must be within [0,1], got %v", r.MinGap))
	}
	if r.MaxChoices < 1 {
		errs = append(errs, errors.New("router.maxChoices must be >= 1"))
	}
	if r.LabelRunes < 1 {
		errs = append(errs, errors.New("router.labelRunes must be >= 1"))
	}
	for i, rule := range c.Rules {
		if strings.TrimSpace(rule.Skill) == "" || len(rule.Phrases) == 0 {
			errs = append(errs, fmt.Errorf("rules[%d] needs a skill and at least one phrase", i))
		}
	}

	if !toolbus.Mode(c.ToolBus.Mode).Valid() {
		errs = append(errs, fmt.Errorf("invalid toolbus.mode: %q (valid: live, record, replay)", c.ToolBus.Mode))
	}
	if c.ToolBus.MaxAttempts < 1 {
		errs = append(errs, errors.New("toolbus.maxAttempts must be >= 1"))
	}
	if c.ToolBus.FailureThreshold < 1 {
		errs = append(errs, errors.New("toolbus.failureThreshold must be >= 1"))
	}
	for name, v := range map[string]string{
		"toolbus.timeout":   c.ToolBus.Timeout,
		"toolbus.backoff":   c.ToolBus.Backoff,
		"toolbus.window":    c.ToolBus.Window,
		"toolbus.cooldown":  c.ToolBus.Cooldown,
		"generator.timeout": c.Generator.Timeout,
		"session.ttl":       c.Session.TTL,
	} {
		if _, err := time.ParseDuration(v); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", name, err))
		}
	}
	for surface, v := range c.Budget.Intervals {
		if d, err := time.ParseDuration(v); err != nil || d < 0 {
			errs = append(errs, fmt.Errorf("budget.intervals.%s: invalid duration %q", surface, v))
		}
	}

	if c.Audit.Capacity < 0 {
		errs = append(errs, errors.New("audit.capacity must be >= 0"))
	}
	if c.Policy.CandidatePool < 1 || c.Policy.Title < 1 {
		errs = append(errs, errors.New("policy limits must be positive"))
	}

	validProvider := false
	for _, p := range ValidProviders {
		if c.Generator.Provider == p {
			validProvider = true
			break
		}
	}
	if !validProvider {
		errs = append(errs, fmt.Errorf("invalid generator.provider: %s (valid: %v)", c.Generator.Provider, ValidProviders))
	}

	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// GeneratorEnabled reports whether fs skills get a generative provider.
func (c *Config) GeneratorEnabled() bool {
	return c.Generator.Provider == ProviderGemini && c.Generator.APIKey != ""
}

// ToolBusOptions returns the parsed hub configuration. Unparseable durations
// fall back to the toolbus defaults.
func (c *Config) ToolBusOptions() toolbus.Config {
	def := toolbus.DefaultConfig()
	return toolbus.Config{
		Timeout:     parseDuration(c.ToolBus.Timeout, def.Timeout),
		MaxAttempts: c.ToolBus.MaxAttempts,
		Backoff:     parseDuration(c.ToolBus.Backoff, def.Backoff),
		Breaker: toolbus.BreakerConfig{
			FailureThreshold: c.ToolBus.FailureThreshold,
			Window:           parseDuration(c.ToolBus.Window, def.Breaker.Window),
			Cooldown:         parseDuration(c.ToolBus.Cooldown, def.Breaker.Cooldown),
		},
	}
}

func (c *Config) ToolMode() toolbus.Mode { return toolbus.Mode(c.ToolBus.Mode) }

// BudgetIntervals returns the parsed per-surface intervals, skipping
// entries that do not parse.
func (c *Config) BudgetIntervals() map[string]time.Duration {
	out := make(map[string]time.Duration, len(c.Budget.Intervals))
	for surface, v := range c.Budget.Intervals {
		if d, err := time.ParseDuration(v); err == nil && d >= 0 {
			out[surface] = d
		}
	}
	return out
}

// GetGeneratorTimeout returns the generator timeout as a duration.
func (c *Config) GetGeneratorTimeout() time.Duration {
	return parseDuration(c.Generator.Timeout, 20*time.Second)
}

// GetSessionTTL returns the session TTL as a duration.
func (c *Config) GetSessionTTL() time.Duration {
	return parseDuration(c.Session.TTL, 24*time.Hour)
}

func parseDuration(s string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil {
		return def
	}
	return d
}

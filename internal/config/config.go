// Package config loads planmux workspace configuration from
// .planmux/config.yaml with PMX_* environment overrides.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Claim holds the timing knobs of the two-phase consensus claim. The
// substrate gives no propagation guarantee, so these delays are the only
// lever for trading convergence speed against false conflict reports.
type Claim struct {
	// CheckDelay is T0: how long after the claim write to re-read the
	// claim state.
	CheckDelay time.Duration `mapstructure:"check-delay"`
	// ContestExtension is the extra wait before re-reading when the
	// first re-read shows multiple assignees.
	ContestExtension time.Duration `mapstructure:"contest-extension"`
	// PropagationExtension is the extra wait before re-reading when the
	// first re-read shows zero assignees (suspected replication lag).
	PropagationExtension time.Duration `mapstructure:"propagation-extension"`
}

// Gates holds execution gate pipeline settings.
type Gates struct {
	// TestTimeout bounds the test-run step.
	TestTimeout time.Duration `mapstructure:"test-timeout"`
	// AgentTimeout bounds the external coding subprocess.
	AgentTimeout time.Duration `mapstructure:"agent-timeout"`
}

// Config is the full workspace configuration.
type Config struct {
	// Actor is this agent's substrate username; it is what gets written
	// into the assignee field on claim.
	Actor string `mapstructure:"actor"`

	Owner string `mapstructure:"owner"`
	Repo  string `mapstructure:"repo"`
	Token string `mapstructure:"token"`

	BaseBranch  string `mapstructure:"base-branch"`
	Remote      string `mapstructure:"remote"`
	ReviewerCap int    `mapstructure:"reviewer-cap"`

	Claim Claim `mapstructure:"claim"`
	Gates Gates `mapstructure:"gates"`

	Telemetry bool `mapstructure:"telemetry"`
}

// Defaults documented in the coordination design: T0 5s, extensions 10s,
// test runs bounded at 120s, coding subprocess at 600s.
func setDefaults(v *viper.Viper) {
	v.SetDefault("base-branch", "main")
	v.SetDefault("remote", "origin")
	v.SetDefault("reviewer-cap", 3)
	v.SetDefault("claim.check-delay", 5*time.Second)
	v.SetDefault("claim.contest-extension", 10*time.Second)
	v.SetDefault("claim.propagation-extension", 10*time.Second)
	v.SetDefault("gates.test-timeout", 120*time.Second)
	v.SetDefault("gates.agent-timeout", 600*time.Second)
	v.SetDefault("telemetry", false)
}

// Load reads configuration for the workspace rooted at or above dir.
// A missing config file is not an error; defaults and environment
// variables still apply.
func Load(dir string) (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix("PMX")
	v.AutomaticEnv()

	if path, err := findConfigYaml(dir); err == nil {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if cfg.Actor == "" {
		cfg.Actor = os.Getenv("PMX_ACTOR")
	}
	if cfg.Token == "" {
		cfg.Token = os.Getenv("GITHUB_TOKEN")
	}
	return &cfg, nil
}

// findConfigYaml walks up parent directories looking for
// .planmux/config.yaml.
func findConfigYaml(dir string) (string, error) {
	if dir == "" {
		cwd, err := os.Getwd()
		if err != nil {
			return "", fmt.Errorf("failed to get working directory: %w", err)
		}
		dir = cwd
	}
	for d := dir; ; d = filepath.Dir(d) {
		path := filepath.Join(d, ".planmux", "config.yaml")
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		if d == filepath.Dir(d) {
			break
		}
	}
	return "", fmt.Errorf("no .planmux/config.yaml found")
}

// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the master configuration for the bot.
type Config struct {
	// Services configures the chat connections.
	Services ServicesConfig `yaml:"services"`

	// Agents maps agent names (what users type after ".agent") to
	// their provider configuration.
	Agents map[string]AgentConfig `yaml:"agents"`

	// Commands configures shell command policy and timeouts.
	Commands CommandsConfig `yaml:"commands"`

	// System configures directories, admins, and pacing.
	System SystemConfig `yaml:"system"`
}

// ServicesConfig holds the connected chat services.
type ServicesConfig struct {
	Matrix MatrixConfig `yaml:"matrix"`
}

// MatrixConfig identifies the bot account on a homeserver.
type MatrixConfig struct {
	Homeserver string `yaml:"homeserver"`
	Username   string `yaml:"username"`

	// Password is the account password. Leave it empty and set
	// CredentialsFile to keep secrets out of the config file.
	Password string `yaml:"password"`

	// CredentialsFile points to a sealed bundle (see lib/sealed)
	// holding the password and agent API keys.
	CredentialsFile string `yaml:"credentials_file"`

	DisplayName string `yaml:"display_name"`
}

// AgentConfig configures one model provider entry.
type AgentConfig struct {
	// Preset names an embedded preset whose values fill any fields
	// left empty here. When empty, a preset matching Provider is
	// used if one exists.
	Preset string `yaml:"preset"`

	// Provider selects the API dialect: "anthropic" or "openai".
	Provider string `yaml:"provider"`

	Model string `yaml:"model"`

	// ModelFallbacks are tried in order when the active model fails
	// fatally (gone, overloaded beyond retries).
	ModelFallbacks []string `yaml:"model_fallbacks"`

	// FallbackAgent is switched to when every model of this agent
	// has failed.
	FallbackAgent string `yaml:"fallback_agent"`

	BaseURL string `yaml:"base_url"`

	// APIKey is the literal key. Prefer APIKeyEnv or the sealed
	// credentials bundle.
	APIKey    string `yaml:"api_key"`
	APIKeyEnv string `yaml:"api_key_env"`

	// RequestsPerMinute caps calls across all rooms using this
	// agent's provider identity. Zero means no cap.
	RequestsPerMinute int `yaml:"requests_per_minute"`
}

// CommandsConfig is the shell command policy.
type CommandsConfig struct {
	// Default decides commands matching no list: "ask" parks them
	// for approval, "allowed" runs them, "blocked" rejects them.
	Default string `yaml:"default"`

	// Prefix lists. Blocked wins over allowed wins over ask.
	Ask     []string `yaml:"ask"`
	Allowed []string `yaml:"allowed"`
	Blocked []string `yaml:"blocked"`

	Timeouts TimeoutsConfig `yaml:"timeouts"`
}

// TimeoutsConfig bounds command execution, in seconds.
type TimeoutsConfig struct {
	Default int `yaml:"default"`

	// Long applies to commands whose first word is in LongCommands
	// (build tools, test runners, installers).
	Long         int      `yaml:"long"`
	LongCommands []string `yaml:"long_commands"`
}

// SystemConfig configures directories and operation.
type SystemConfig struct {
	// ProjectsDir is where ".new" creates project sandboxes.
	ProjectsDir string `yaml:"projects_dir"`

	// DataDir holds room state and run journals.
	DataDir string `yaml:"data_dir"`

	// Admin lists user IDs allowed to use the admin shell
	// (case-insensitive comparison).
	Admin []string `yaml:"admin"`

	// ActionDelay is a pause in seconds between executed actions,
	// for rooms where humans read along. Zero disables it.
	ActionDelay int `yaml:"action_delay"`
}

// Decision is the command policy outcome.
type Decision string

const (
	DecisionAllowed Decision = "allowed"
	DecisionAsk     Decision = "ask"
	DecisionBlocked Decision = "blocked"
)

// Decide applies the prefix lists to a command. Blocked wins over
// allowed wins over ask; commands matching no list get the configured
// default. A leading "sudo" is stripped so the policy applies to the
// command actually run.
func (commands CommandsConfig) Decide(command string) Decision {
	if rest, ok := strings.CutPrefix(command, "sudo "); ok {
		command = strings.TrimLeft(rest, " ")
	}
	if matchesAnyPrefix(command, commands.Blocked) {
		return DecisionBlocked
	}
	if matchesAnyPrefix(command, commands.Allowed) {
		return DecisionAllowed
	}
	if matchesAnyPrefix(command, commands.Ask) {
		return DecisionAsk
	}
	switch commands.Default {
	case string(DecisionAllowed):
		return DecisionAllowed
	case string(DecisionBlocked):
		return DecisionBlocked
	}
	return DecisionAsk
}

func matchesAnyPrefix(command string, prefixes []string) bool {
	for _, prefix := range prefixes {
		if prefix == "" {
			continue
		}
		if command == prefix || len(command) > len(prefix) &&
			command[:len(prefix)] == prefix && command[len(prefix)] == ' ' {
			return true
		}
	}
	return false
}

// DefaultTimeout returns the default command timeout as a Duration.
func (timeouts TimeoutsConfig) DefaultTimeout() time.Duration {
	return time.Duration(timeouts.Default) * time.Second
}

// LongTimeout returns the long command timeout as a Duration.
func (timeouts TimeoutsConfig) LongTimeout() time.Duration {
	return time.Duration(timeouts.Long) * time.Second
}

// ResolveAPIKey returns the agent's API key: the literal value if set,
// otherwise the named environment variable.
func (agent AgentConfig) ResolveAPIKey() (string, error) {
	if agent.APIKey != "" {
		return agent.APIKey, nil
	}
	if agent.APIKeyEnv != "" {
		if value := os.Getenv(agent.APIKeyEnv); value != "" {
			return value, nil
		}
		return "", fmt.Errorf("config: environment variable %s is not set", agent.APIKeyEnv)
	}
	return "", fmt.Errorf("config: agent has neither api_key nor api_key_env")
}

// Default returns the default configuration. These defaults make the
// zero config usable for local experiments; real deployments load a
// file on top.
func Default() *Config {
	return &Config{
		Agents: make(map[string]AgentConfig),
		Commands: CommandsConfig{
			Default: string(DecisionAsk),
			Timeouts: TimeoutsConfig{
				Default: 60,
				Long:    600,
			},
		},
		System: SystemConfig{
			ProjectsDir: "projects",
			DataDir:     "data",
		},
	}
}

// Load loads configuration from the FOREMAN_CONFIG environment
// variable. There are no fallbacks: if FOREMAN_CONFIG is not set,
// this fails.
func Load() (*Config, error) {
	configPath := os.Getenv("FOREMAN_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("FOREMAN_CONFIG environment variable not set; " +
			"set it to the path of your foreman.yaml config file, or use --config")
	}
	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path, applies
// presets, expands variables, and validates. The config file is the
// single source of truth; environment variables do not override
// values.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	if err := cfg.applyPresets(); err != nil {
		return nil, err
	}
	cfg.expandVariables()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: %s: %w", path, err)
	}
	return cfg, nil
}

// applyPresets fills empty agent fields from the named (or
// provider-matching) embedded preset.
func (c *Config) applyPresets() error {
	presets, err := Presets()
	if err != nil {
		return err
	}
	for name, agent := range c.Agents {
		presetName := agent.Preset
		if presetName == "" {
			presetName = agent.Provider
		}
		preset, ok := presets[presetName]
		if !ok {
			if agent.Preset != "" {
				return fmt.Errorf("config: agent %q names unknown preset %q", name, agent.Preset)
			}
			continue
		}
		if agent.Provider == "" {
			agent.Provider = preset.Provider
		}
		if agent.Model == "" {
			agent.Model = preset.Model
		}
		if len(agent.ModelFallbacks) == 0 {
			agent.ModelFallbacks = append([]string(nil), preset.ModelFallbacks...)
		}
		if agent.BaseURL == "" {
			agent.BaseURL = preset.BaseURL
		}
		if agent.APIKeyEnv == "" && agent.APIKey == "" {
			agent.APIKeyEnv = preset.APIKeyEnv
		}
		if agent.RequestsPerMinute == 0 {
			agent.RequestsPerMinute = preset.RequestsPerMinute
		}
		c.Agents[name] = agent
	}
	return nil
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// and secret fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.System.DataDir = expandVars(c.System.DataDir, vars)
	vars["DATA_DIR"] = c.System.DataDir

	c.System.ProjectsDir = expandVars(c.System.ProjectsDir, vars)
	c.Services.Matrix.CredentialsFile = expandVars(c.Services.Matrix.CredentialsFile, vars)
	c.Services.Matrix.Password = expandVars(c.Services.Matrix.Password, vars)
	for name, agent := range c.Agents {
		agent.APIKey = expandVars(agent.APIKey, vars)
		agent.BaseURL = expandVars(agent.BaseURL, vars)
		c.Agents[name] = agent
	}
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	matrix := c.Services.Matrix
	if matrix.Homeserver == "" {
		errs = append(errs, fmt.Errorf("services.matrix.homeserver is required"))
	}
	if matrix.Username == "" {
		errs = append(errs, fmt.Errorf("services.matrix.username is required"))
	}
	if matrix.Password == "" && matrix.CredentialsFile == "" {
		errs = append(errs, fmt.Errorf("services.matrix needs password or credentials_file"))
	}

	if len(c.Agents) == 0 {
		errs = append(errs, fmt.Errorf("at least one agent is required"))
	}
	for name, agent := range c.Agents {
		if agent.Provider != "anthropic" && agent.Provider != "openai" {
			errs = append(errs, fmt.Errorf("agent %q: unknown provider %q", name, agent.Provider))
		}
		if agent.Model == "" {
			errs = append(errs, fmt.Errorf("agent %q: model is required", name))
		}
		if agent.RequestsPerMinute < 0 {
			errs = append(errs, fmt.Errorf("agent %q: requests_per_minute must not be negative", name))
		}
		if agent.FallbackAgent != "" {
			if _, ok := c.Agents[agent.FallbackAgent]; !ok {
				errs = append(errs, fmt.Errorf("agent %q: fallback_agent %q is not configured",
					name, agent.FallbackAgent))
			}
		}
	}

	switch c.Commands.Default {
	case string(DecisionAsk), string(DecisionAllowed), string(DecisionBlocked):
	default:
		errs = append(errs, fmt.Errorf("commands.default must be %q, %q, or %q",
			DecisionAsk, DecisionAllowed, DecisionBlocked))
	}
	if c.Commands.Timeouts.Default <= 0 {
		errs = append(errs, fmt.Errorf("commands.timeouts.default must be positive"))
	}
	if c.Commands.Timeouts.Long < c.Commands.Timeouts.Default {
		errs = append(errs, fmt.Errorf("commands.timeouts.long must not be below the default timeout"))
	}

	if c.System.ProjectsDir == "" {
		errs = append(errs, fmt.Errorf("system.projects_dir is required"))
	}
	if c.System.DataDir == "" {
		errs = append(errs, fmt.Errorf("system.data_dir is required"))
	}
	if c.System.ActionDelay < 0 {
		errs = append(errs, fmt.Errorf("system.action_delay must not be negative"))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

// Credentials is the schema of the sealed credentials bundle named by
// services.matrix.credentials_file.
type Credentials struct {
	MatrixPassword string `yaml:"matrix_password"`

	// APIKeys maps agent names to literal API keys.
	APIKeys map[string]string `yaml:"api_keys"`
}

// ApplyCredentials overlays an unsealed credentials bundle onto the
// configuration. The bundle's Matrix password and per-agent API keys
// replace whatever the config file carried.
func (c *Config) ApplyCredentials(plaintext []byte) error {
	var creds Credentials
	decoder := yaml.NewDecoder(bytes.NewReader(plaintext))
	decoder.KnownFields(true)
	if err := decoder.Decode(&creds); err != nil {
		return fmt.Errorf("config: parsing credentials bundle: %w", err)
	}

	if creds.MatrixPassword != "" {
		c.Services.Matrix.Password = creds.MatrixPassword
	}
	for name, key := range creds.APIKeys {
		agent, ok := c.Agents[name]
		if !ok {
			return fmt.Errorf("config: credentials bundle names unknown agent %q", name)
		}
		agent.APIKey = key
		c.Agents[name] = agent
	}
	return nil
}

// EnsureDirs creates the data and projects directories if they don't
// exist.
func (c *Config) EnsureDirs() error {
	for _, path := range []string{
		c.System.DataDir,
		filepath.Join(c.System.DataDir, "journals"),
		c.System.ProjectsDir,
	} {
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("config: creating %s: %w", path, err)
		}
	}
	return nil
}

// StatePath returns the room state file location under the data
// directory.
func (c *Config) StatePath() string {
	return filepath.Join(c.System.DataDir, "state.json")
}

// JournalDir returns the run journal directory under the data
// directory.
func (c *Config) JournalDir() string {
	return filepath.Join(c.System.DataDir, "journals")
}

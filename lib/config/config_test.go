// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "foreman.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

const minimalConfig = `
services:
  matrix:
    homeserver: https://matrix.example.org
    username: "@foreman:example.org"
    password: hunter2
agents:
  claude:
    provider: anthropic
`

func TestLoadFileMinimal(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Services.Matrix.Homeserver != "https://matrix.example.org" {
		t.Errorf("homeserver = %q", cfg.Services.Matrix.Homeserver)
	}
	if cfg.Commands.Default != "ask" {
		t.Errorf("commands.default = %q, want ask", cfg.Commands.Default)
	}
	if cfg.System.ProjectsDir != "projects" {
		t.Errorf("projects_dir = %q", cfg.System.ProjectsDir)
	}
}

func TestPresetFillsAgentDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, minimalConfig))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	agent := cfg.Agents["claude"]
	if agent.Model == "" {
		t.Error("preset did not fill model")
	}
	if agent.BaseURL != "https://api.anthropic.com" {
		t.Errorf("base_url = %q", agent.BaseURL)
	}
	if agent.APIKeyEnv != "ANTHROPIC_API_KEY" {
		t.Errorf("api_key_env = %q", agent.APIKeyEnv)
	}
	if agent.RequestsPerMinute == 0 {
		t.Error("preset did not fill requests_per_minute")
	}
}

func TestExplicitValuesWinOverPreset(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, `
services:
  matrix:
    homeserver: https://matrix.example.org
    username: "@foreman:example.org"
    password: hunter2
agents:
  claude:
    provider: anthropic
    model: claude-opus-4-1
    requests_per_minute: 5
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	agent := cfg.Agents["claude"]
	if agent.Model != "claude-opus-4-1" {
		t.Errorf("model = %q, preset overrode explicit value", agent.Model)
	}
	if agent.RequestsPerMinute != 5 {
		t.Errorf("requests_per_minute = %d", agent.RequestsPerMinute)
	}
}

func TestUnknownPresetRejected(t *testing.T) {
	_, err := LoadFile(writeConfig(t, `
services:
  matrix:
    homeserver: https://matrix.example.org
    username: "@foreman:example.org"
    password: hunter2
agents:
  claude:
    preset: nonexistent
`))
	if err == nil || !strings.Contains(err.Error(), "unknown preset") {
		t.Errorf("err = %v, want unknown preset", err)
	}
}

func TestUnknownKeysRejected(t *testing.T) {
	_, err := LoadFile(writeConfig(t, minimalConfig+`
sytem:
  projects_dir: /tmp
`))
	if err == nil {
		t.Error("typoed top-level key accepted")
	}
}

func TestValidateMissingFields(t *testing.T) {
	_, err := LoadFile(writeConfig(t, `
services:
  matrix:
    homeserver: https://matrix.example.org
agents:
  claude:
    provider: anthropic
`))
	if err == nil {
		t.Fatal("config without username/password validated")
	}
	for _, want := range []string{"username", "password"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %v does not mention %s", err, want)
		}
	}
}

func TestValidateUnknownProvider(t *testing.T) {
	_, err := LoadFile(writeConfig(t, `
services:
  matrix:
    homeserver: https://matrix.example.org
    username: "@foreman:example.org"
    password: hunter2
agents:
  local:
    provider: carrier-pigeon
    model: rfc1149
`))
	if err == nil || !strings.Contains(err.Error(), "unknown provider") {
		t.Errorf("err = %v", err)
	}
}

func TestValidateFallbackAgentMustExist(t *testing.T) {
	_, err := LoadFile(writeConfig(t, `
services:
  matrix:
    homeserver: https://matrix.example.org
    username: "@foreman:example.org"
    password: hunter2
agents:
  claude:
    provider: anthropic
    fallback_agent: ghost
`))
	if err == nil || !strings.Contains(err.Error(), "fallback_agent") {
		t.Errorf("err = %v", err)
	}
}

func TestExpandVariables(t *testing.T) {
	t.Setenv("FOREMAN_TEST_SECRET", "s3cret")
	cfg, err := LoadFile(writeConfig(t, `
services:
  matrix:
    homeserver: https://matrix.example.org
    username: "@foreman:example.org"
    password: ${FOREMAN_TEST_SECRET}
agents:
  claude:
    provider: anthropic
system:
  data_dir: ${FOREMAN_TEST_UNSET:-/var/lib/foreman}
`))
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Services.Matrix.Password != "s3cret" {
		t.Errorf("password = %q", cfg.Services.Matrix.Password)
	}
	if cfg.System.DataDir != "/var/lib/foreman" {
		t.Errorf("data_dir = %q", cfg.System.DataDir)
	}
}

func TestDecide(t *testing.T) {
	t.Parallel()

	commands := CommandsConfig{
		Default: "ask",
		Allowed: []string{"go test", "ls"},
		Ask:     []string{"go"},
		Blocked: []string{"shutdown"},
	}

	cases := []struct {
		command string
		want    Decision
	}{
		{"go test ./...", DecisionAllowed},
		{"go test", DecisionAllowed},
		{"go build", DecisionAsk},
		{"ls -la", DecisionAllowed},
		{"lsof", DecisionAsk}, // prefix match is word-bounded
		{"shutdown -h now", DecisionBlocked},
		{"sudo shutdown -h now", DecisionBlocked},
		{"cargo build", DecisionAsk},
	}
	for _, testCase := range cases {
		if got := commands.Decide(testCase.command); got != testCase.want {
			t.Errorf("Decide(%q) = %s, want %s", testCase.command, got, testCase.want)
		}
	}

	permissive := CommandsConfig{Default: "allowed"}
	if got := permissive.Decide("anything goes"); got != DecisionAllowed {
		t.Errorf("permissive default: got %s", got)
	}
	locked := CommandsConfig{Default: "blocked", Allowed: []string{"ls"}}
	if got := locked.Decide("ls"); got != DecisionAllowed {
		t.Errorf("locked-down allowlist: got %s", got)
	}
	if got := locked.Decide("rm -rf /"); got != DecisionBlocked {
		t.Errorf("locked-down default: got %s", got)
	}
}

func TestResolveAPIKey(t *testing.T) {
	t.Setenv("FOREMAN_TEST_KEY", "from-env")

	literal := AgentConfig{APIKey: "literal"}
	if key, err := literal.ResolveAPIKey(); err != nil || key != "literal" {
		t.Errorf("literal: %q, %v", key, err)
	}

	env := AgentConfig{APIKeyEnv: "FOREMAN_TEST_KEY"}
	if key, err := env.ResolveAPIKey(); err != nil || key != "from-env" {
		t.Errorf("env: %q, %v", key, err)
	}

	missing := AgentConfig{APIKeyEnv: "FOREMAN_TEST_MISSING"}
	if _, err := missing.ResolveAPIKey(); err == nil {
		t.Error("missing env var resolved")
	}

	neither := AgentConfig{}
	if _, err := neither.ResolveAPIKey(); err == nil {
		t.Error("agent without key sources resolved")
	}
}

func TestApplyCredentials(t *testing.T) {
	t.Parallel()

	cfg := Default()
	cfg.Agents["claude"] = AgentConfig{Provider: "anthropic", Model: "claude-sonnet-4-5"}

	bundle := []byte("matrix_password: fromswamp\napi_keys:\n  claude: sk-ant-test\n")
	if err := cfg.ApplyCredentials(bundle); err != nil {
		t.Fatalf("ApplyCredentials: %v", err)
	}
	if cfg.Services.Matrix.Password != "fromswamp" {
		t.Errorf("password = %q", cfg.Services.Matrix.Password)
	}
	if cfg.Agents["claude"].APIKey != "sk-ant-test" {
		t.Errorf("api_key = %q", cfg.Agents["claude"].APIKey)
	}

	unknown := []byte("api_keys:\n  ghost: key\n")
	if err := cfg.ApplyCredentials(unknown); err == nil {
		t.Error("bundle naming unknown agent accepted")
	}
}

func TestPresetsParse(t *testing.T) {
	t.Parallel()

	presets, err := Presets()
	if err != nil {
		t.Fatalf("Presets: %v", err)
	}
	for _, name := range []string{"anthropic", "openai"} {
		preset, ok := presets[name]
		if !ok {
			t.Errorf("preset %q missing", name)
			continue
		}
		if preset.Provider != name {
			t.Errorf("preset %q has provider %q", name, preset.Provider)
		}
		if preset.Model == "" || preset.BaseURL == "" || preset.APIKeyEnv == "" {
			t.Errorf("preset %q incomplete: %+v", name, preset)
		}
	}
}

func TestEnsureDirs(t *testing.T) {
	t.Parallel()

	base := t.TempDir()
	cfg := Default()
	cfg.System.DataDir = filepath.Join(base, "data")
	cfg.System.ProjectsDir = filepath.Join(base, "projects")

	if err := cfg.EnsureDirs(); err != nil {
		t.Fatalf("EnsureDirs: %v", err)
	}
	for _, path := range []string{cfg.System.DataDir, cfg.JournalDir(), cfg.System.ProjectsDir} {
		info, err := os.Stat(path)
		if err != nil || !info.IsDir() {
			t.Errorf("%s not created: %v", path, err)
		}
	}
	if cfg.StatePath() != filepath.Join(cfg.System.DataDir, "state.json") {
		t.Errorf("StatePath = %q", cfg.StatePath())
	}
}

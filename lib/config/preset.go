// Copyright 2026 The Foreman Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"embed"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/tidwall/jsonc"
)

//go:embed presets/*.jsonc
var presetFiles embed.FS

// Preset carries per-provider defaults. Presets are authored as JSONC
// (JSON with comments and trailing commas) and embedded at compile
// time.
type Preset struct {
	Provider          string   `json:"provider"`
	BaseURL           string   `json:"base_url"`
	APIKeyEnv         string   `json:"api_key_env"`
	Model             string   `json:"model"`
	ModelFallbacks    []string `json:"model_fallbacks"`
	RequestsPerMinute int      `json:"requests_per_minute"`
}

// Presets returns the embedded presets keyed by name (the filename
// without extension). An error here indicates a bug in the embedded
// content, not a runtime condition.
func Presets() (map[string]Preset, error) {
	entries, err := presetFiles.ReadDir("presets")
	if err != nil {
		return nil, fmt.Errorf("config: reading embedded presets: %w", err)
	}

	presets := make(map[string]Preset, len(entries))
	for _, entry := range entries {
		if entry.IsDir() || filepath.Ext(entry.Name()) != ".jsonc" {
			continue
		}
		path := "presets/" + entry.Name()
		data, err := presetFiles.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: reading embedded preset %s: %w", path, err)
		}

		var preset Preset
		if err := json.Unmarshal(jsonc.ToJSON(data), &preset); err != nil {
			return nil, fmt.Errorf("config: parsing embedded preset %s: %w", path, err)
		}

		name := strings.TrimSuffix(entry.Name(), ".jsonc")
		presets[name] = preset
	}
	return presets, nil
}

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Store.Backend)
	assert.Equal(t, Tier{Variants: 3, Results: 5, Pages: 5}, cfg.Tier("quick"))
	assert.Equal(t, Tier{Variants: 5, Results: 10, Pages: 10}, cfg.Tier("standard"))
	assert.Equal(t, Tier{Variants: 8, Results: 10, Pages: 15}, cfg.Tier("deep"))
	assert.Equal(t, cfg.Tier("standard"), cfg.Tier("unknown"))
	assert.Equal(t, 5, cfg.Pipeline.MaxAssets)
}

func TestFromYAMLKeepsDefaultsForMissingKeys(t *testing.T) {
	cfg, err := FromYAML([]byte(`
agent:
  provider: gemini
  model: gemini-2.5-flash
webhooks:
  - url: https://hooks.example.com/citescope
    events: [job.completed]
schedules:
  - name: nightly
    cron: "0 3 * * *"
    domain: example.com
    topic: running shoes
    config:
      depth: quick
`))
	require.NoError(t, err)
	assert.Equal(t, "gemini", cfg.Agent.Provider)
	assert.Equal(t, 4096, cfg.Agent.MaxTokens)
	assert.Equal(t, "127.0.0.1:8080", cfg.Server.Addr)
	require.Len(t, cfg.Webhooks, 1)
	require.Len(t, cfg.Schedules, 1)
	assert.Equal(t, "quick", cfg.Schedules[0].Config.Depth)
	assert.Len(t, cfg.Pipeline.Tiers, 3)
}

func TestFromYAMLRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"backend":       "store:\n  backend: postgres\n",
		"redis addr":    "store:\n  backend: redis\n",
		"provider":      "agent:\n  provider: openai\n",
		"missing tier":  "pipeline:\n  tiers:\n    quick: {variants: 1, results: 1, pages: 1}\n",
		"zero tier":     "pipeline:\n  tiers:\n    quick: {variants: 0, results: 1, pages: 1}\n    standard: {variants: 1, results: 1, pages: 1}\n    deep: {variants: 1, results: 1, pages: 1}\n",
		"webhook url":   "webhooks:\n  - events: [job.failed]\n",
		"duplicate job": "schedules:\n  - {name: a, cron: '@daily', domain: a.com, topic: t}\n  - {name: a, cron: '@daily', domain: b.com, topic: t}\n",
		"bad yaml":      "server: [",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := FromYAML([]byte(raw))
			assert.Error(t, err)
		})
	}
}

func TestLoadFromWorkspace(t *testing.T) {
	dir := t.TempDir()
	_, err := Load(dir)
	require.Error(t, err)

	cfg, err := LoadOrDefault(dir)
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.Store.Backend)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "citescope.yml"), []byte("store:\n  cache_size: 16\n"), 0o644))
	cfg, err = Load(dir)
	require.NoError(t, err)
	assert.Equal(t, 16, cfg.Store.CacheSize)
}

func TestApplyOverrides(t *testing.T) {
	cfg := Default()
	env := map[string]string{
		"agent.api_key":       "sk-test",
		"search.api_key":      "brave",
		"pipeline.max_assets": "2",
	}
	require.NoError(t, cfg.ApplyOverrides(func(k string) string { return env[k] }))
	assert.Equal(t, "sk-test", cfg.Agent.APIKey)
	assert.Equal(t, "brave", cfg.Search.APIKey)
	assert.Equal(t, 2, cfg.Pipeline.MaxAssets)

	err := cfg.ApplyOverrides(func(k string) string {
		if k == "pipeline.max_assets" {
			return "many"
		}
		return ""
	})
	assert.Error(t, err)
	assert.Contains(t, OverrideKeys(), "agent.api_key")
}

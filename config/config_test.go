package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rustyeddy/tradeguard/risk"
)

func TestDefault(t *testing.T) {
	t.Parallel()

	cfg := Default()
	require.NoError(t, cfg.Validate())

	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, 1.0, cfg.Risk.BaseRiskPercent)
	assert.Equal(t, time.Hour, cfg.Risk.TiltCooldown)
	assert.Equal(t, 30*time.Minute, cfg.Risk.NewsWindow)
	assert.Equal(t, time.Second, cfg.Monitor.Interval)
	assert.Equal(t, "sqlite", cfg.Journal.Backend)
	assert.Equal(t, "0 0 0 * * *", cfg.Cron.Rollover)
	assert.Equal(t, 6.0, cfg.Risk.Tiers["base"].DailyLossLimitPercent)
	assert.Equal(t, 8.5, cfg.Risk.Tiers["premium"].DailyLossLimitPercent)
}

func TestLoadYAMLFillsDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tg.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
log:
  level: debug
risk:
  base_risk_percent: 0.5
  tilt_cooldown: 45m
  timezone: America/New_York
  tiers:
    base:     {daily_loss_limit_percent: 5, risk_multiplier: 1}
    advanced: {daily_loss_limit_percent: 7, risk_multiplier: 1.25}
    elite:    {daily_loss_limit_percent: 8, risk_multiplier: 1.5}
    premium:  {daily_loss_limit_percent: 9, risk_multiplier: 2}
journal:
  backend: csv
  path: ./out
instruments:
  - name: eur-usd
    base_currency: EUR
    quote_currency: USD
    pip_size: 0.0001
    pip_value_per_lot: 9.5
    min_lot: 0.01
    max_lot: 50
    lot_step: 0.01
`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 0.5, cfg.Risk.BaseRiskPercent)
	assert.Equal(t, 45*time.Minute, cfg.Risk.TiltCooldown)
	assert.Equal(t, 0.25, cfg.Risk.KellyFraction)
	assert.Equal(t, "csv", cfg.Journal.Backend)

	l, err := cfg.Limits()
	require.NoError(t, err)
	assert.Equal(t, 5.0, l.Tiers[risk.TierBase].DailyLossLimitPercent)
	assert.Equal(t, "America/New_York", l.Location.String())
	assert.Equal(t, []time.Weekday{time.Saturday, time.Sunday}, l.WeekendDays)

	reg, err := cfg.Registry()
	require.NoError(t, err)
	eu, err := reg.Lookup("EUR_USD")
	require.NoError(t, err)
	assert.Equal(t, 9.5, eu.PipValuePerLot)
	_, err = reg.Lookup("USD_JPY")
	assert.NoError(t, err, "built-ins are kept")
}

func TestLoadJSONFallback(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "tg.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"journal": {"backend": "none"}, "monitor": {"interval": 250000000}}`), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, "none", cfg.Journal.Backend)
	assert.Equal(t, 250*time.Millisecond, cfg.Monitor.Interval)
}

func TestValidateRejects(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"journal backend", func(c *Config) { c.Journal.Backend = "mongo" }},
		{"log level", func(c *Config) { c.Log.Level = "loud" }},
		{"timezone", func(c *Config) { c.Risk.Timezone = "Mars/Olympus" }},
		{"weekday", func(c *Config) { c.Risk.WeekendDays = []string{"caturday"} }},
		{"missing tier", func(c *Config) { delete(c.Risk.Tiers, "elite") }},
		{"unknown tier", func(c *Config) { c.Risk.Tiers["gold"] = TierConfig{DailyLossLimitPercent: 1, RiskMultiplier: 1} }},
		{"base risk", func(c *Config) { c.Risk.BaseRiskPercent = 0 }},
		{"redis addr", func(c *Config) { c.Redis.Enabled = true; c.Redis.Addr = "" }},
		{"metrics path", func(c *Config) { c.Metrics.Path = "metrics" }},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"TRADEGUARD_LOG_LEVEL":       "warn",
		"TRADEGUARD_REDIS_ENABLED":   "true",
		"TRADEGUARD_REDIS_ADDR":      "redis:6380",
		"TRADEGUARD_JOURNAL_BACKEND": "none",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.applyEnv(lookup))
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.True(t, cfg.Redis.Enabled)
	assert.Equal(t, "redis:6380", cfg.Redis.Addr)
	assert.Equal(t, "none", cfg.Journal.Backend)

	env["TRADEGUARD_METRICS_ENABLED"] = "maybe"
	assert.Error(t, Default().applyEnv(lookup))
}

func TestLoadWithEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("TRADEGUARD_JOURNAL_BACKEND=csv\nTRADEGUARD_JOURNAL_PATH="+dir+"\n"), 0o644))
	t.Setenv("TRADEGUARD_JOURNAL_BACKEND", "")
	t.Setenv("TRADEGUARD_JOURNAL_PATH", "")
	require.NoError(t, os.Unsetenv("TRADEGUARD_JOURNAL_BACKEND"))
	require.NoError(t, os.Unsetenv("TRADEGUARD_JOURNAL_PATH"))

	cfg, err := LoadWithEnv("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "csv", cfg.Journal.Backend)
	assert.Equal(t, dir, cfg.Journal.Path)

	_, err = LoadWithEnv("", filepath.Join(dir, "missing.env"))
	assert.NoError(t, err)
}

func TestSaveRoundTrip(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"tg.yaml", "tg.json"} {
		path := filepath.Join(t.TempDir(), name)
		cfg := Default()
		cfg.Risk.TiltCooldown = 90 * time.Minute
		require.NoError(t, cfg.SaveToFile(path))

		loaded, err := LoadFromFile(path)
		require.NoError(t, err, name)
		assert.Equal(t, 90*time.Minute, loaded.Risk.TiltCooldown, name)
		assert.Equal(t, cfg.Risk.Tiers, loaded.Risk.Tiers, name)
	}
}

func TestUserProfile(t *testing.T) {
	t.Parallel()

	p, err := UserConfig{ID: "u1", Tier: "elite", Experience: 6000, TiltThreshold: 4}.Profile()
	require.NoError(t, err)
	assert.Equal(t, risk.TierElite, p.Tier)
	assert.Equal(t, 6000, p.Experience)
	assert.Equal(t, 4, p.TiltThreshold)
	assert.Equal(t, 3.0, p.MaxRiskPercent)
	assert.Equal(t, 3.0, p.MedicModeThreshold)

	_, err = UserConfig{ID: "u2", Tier: "gold"}.Profile()
	assert.Error(t, err)
}

package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/rustyeddy/tradeguard/market"
	"github.com/rustyeddy/tradeguard/news"
	"github.com/rustyeddy/tradeguard/pkg/logger"
	"github.com/rustyeddy/tradeguard/risk"
)

// EnvPrefix is prepended to every environment override.
const EnvPrefix = "TRADEGUARD_"

var validate = validator.New()

// Config is the complete process configuration.
type Config struct {
	Log         logger.Config           `json:"log" yaml:"log"`
	Risk        RiskConfig              `json:"risk" yaml:"risk"`
	Instruments []market.InstrumentSpec `json:"instruments,omitempty" yaml:"instruments,omitempty" validate:"dive"`
	News        []news.Event            `json:"news,omitempty" yaml:"news,omitempty"`
	Users       []UserConfig            `json:"users,omitempty" yaml:"users,omitempty" validate:"dive"`
	Monitor     MonitorConfig           `json:"monitor" yaml:"monitor"`
	Journal     JournalConfig           `json:"journal" yaml:"journal"`
	Redis       RedisConfig             `json:"redis" yaml:"redis"`
	Metrics     MetricsConfig           `json:"metrics" yaml:"metrics"`
	Cron        CronConfig              `json:"cron" yaml:"cron"`
}

type TierConfig struct {
	DailyLossLimitPercent float64 `json:"daily_loss_limit_percent" yaml:"daily_loss_limit_percent" validate:"gt=0,lte=100"`
	RiskMultiplier        float64 `json:"risk_multiplier" yaml:"risk_multiplier" validate:"gt=0"`
}

// RiskConfig mirrors risk.Limits. Durations are Go duration strings in YAML
// and nanoseconds in JSON.
type RiskConfig struct {
	Tiers map[string]TierConfig `json:"tiers" yaml:"tiers" validate:"dive,keys,oneof=base advanced elite premium,endkeys"`

	BaseRiskPercent    float64 `json:"base_risk_percent" yaml:"base_risk_percent" default:"1" validate:"gt=0,lte=100"`
	KellyFraction      float64 `json:"kelly_fraction" yaml:"kelly_fraction" default:"0.25" validate:"gt=0,lte=1"`
	KellyCapPercent    float64 `json:"kelly_cap_percent" yaml:"kelly_cap_percent" default:"25" validate:"gt=0,lte=100"`
	KellyMinExperience int     `json:"kelly_min_experience" yaml:"kelly_min_experience" default:"2000" validate:"gte=0"`

	TiltCooldown        time.Duration `json:"tilt_cooldown" yaml:"tilt_cooldown" default:"1h" validate:"gte=0"`
	TiltLockoutStrikes  int           `json:"tilt_lockout_strikes" yaml:"tilt_lockout_strikes" default:"2" validate:"gte=1"`
	RecoveryWins        int           `json:"recovery_wins" yaml:"recovery_wins" default:"2" validate:"gte=1"`
	NewsWindow          time.Duration `json:"news_window" yaml:"news_window" default:"30m" validate:"gte=0"`
	MedicRiskMultiplier float64       `json:"medic_risk_multiplier" yaml:"medic_risk_multiplier" default:"0.5" validate:"gt=0,lte=1"`
	MedicMaxPositions   int           `json:"medic_max_positions" yaml:"medic_max_positions" default:"1" validate:"gte=0"`

	WeekendDays           []string `json:"weekend_days" yaml:"weekend_days"`
	WeekendRiskMultiplier float64  `json:"weekend_risk_multiplier" yaml:"weekend_risk_multiplier" default:"0.5" validate:"gt=0,lte=1"`
	WeekendMaxPositions   int      `json:"weekend_max_positions" yaml:"weekend_max_positions" default:"1" validate:"gte=0"`

	Timezone string `json:"timezone" yaml:"timezone" default:"UTC"`
}

// UserConfig seeds a risk profile from the tier defaults; zero fields keep
// the default.
type UserConfig struct {
	ID                     string  `json:"id" yaml:"id" validate:"required"`
	Tier                   string  `json:"tier" yaml:"tier" default:"base" validate:"oneof=base advanced elite premium"`
	Experience             int     `json:"experience" yaml:"experience" validate:"gte=0"`
	MaxRiskPercent         float64 `json:"max_risk_percent,omitempty" yaml:"max_risk_percent,omitempty" validate:"gte=0,lte=100"`
	MaxConcurrentPositions int     `json:"max_concurrent_positions,omitempty" yaml:"max_concurrent_positions,omitempty" validate:"gte=0"`
	DailyLossLimitPercent  float64 `json:"daily_loss_limit_percent,omitempty" yaml:"daily_loss_limit_percent,omitempty" validate:"gte=0,lte=100"`
	WinRate                float64 `json:"win_rate,omitempty" yaml:"win_rate,omitempty" validate:"gte=0,lte=1"`
	AvgRiskReward          float64 `json:"avg_risk_reward,omitempty" yaml:"avg_risk_reward,omitempty" validate:"gte=0"`
	TiltThreshold          int     `json:"tilt_threshold,omitempty" yaml:"tilt_threshold,omitempty" validate:"gte=0"`
	MedicModeThreshold     float64 `json:"medic_mode_threshold,omitempty" yaml:"medic_mode_threshold,omitempty" validate:"gte=0"`
}

func (u UserConfig) Profile() (risk.RiskProfile, error) {
	tier := risk.TierBase
	if u.Tier != "" {
		t, err := risk.ParseTier(u.Tier)
		if err != nil {
			return risk.RiskProfile{}, err
		}
		tier = t
	}
	p := risk.DefaultProfile(u.ID, tier, u.Experience)
	if u.MaxRiskPercent > 0 {
		p.MaxRiskPercent = u.MaxRiskPercent
	}
	if u.MaxConcurrentPositions > 0 {
		p.MaxConcurrentPositions = u.MaxConcurrentPositions
	}
	if u.DailyLossLimitPercent > 0 {
		p.DailyLossLimitPercent = u.DailyLossLimitPercent
	}
	if u.WinRate > 0 {
		p.WinRate = u.WinRate
	}
	if u.AvgRiskReward > 0 {
		p.AvgRiskReward = u.AvgRiskReward
	}
	if u.TiltThreshold > 0 {
		p.TiltThreshold = u.TiltThreshold
	}
	if u.MedicModeThreshold > 0 {
		p.MedicModeThreshold = u.MedicModeThreshold
	}
	return p, nil
}

type MonitorConfig struct {
	Interval      time.Duration `json:"interval" yaml:"interval" default:"1s" validate:"gt=0"`
	ActionTimeout time.Duration `json:"action_timeout" yaml:"action_timeout" default:"5s" validate:"gt=0"`
}

type JournalConfig struct {
	Backend string `json:"backend" yaml:"backend" default:"sqlite" validate:"oneof=none csv sqlite"`
	// Path is the database file for sqlite and the output directory for csv.
	Path string `json:"path" yaml:"path" default:"./tradeguard.db"`
}

type RedisConfig struct {
	Enabled  bool   `json:"enabled" yaml:"enabled"`
	Addr     string `json:"addr" yaml:"addr" default:"localhost:6379" validate:"required_if=Enabled true"`
	Password string `json:"password,omitempty" yaml:"password,omitempty"`
	DB       int    `json:"db" yaml:"db" validate:"gte=0"`
	Prefix   string `json:"prefix" yaml:"prefix" default:"tradeguard:notifications"`
}

type MetricsConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Addr    string `json:"addr" yaml:"addr" default:":9090"`
	Path    string `json:"path" yaml:"path" default:"/metrics" validate:"startswith=/"`
}

type CronConfig struct {
	// Rollover uses the six-field (seconds first) cron syntax.
	Rollover string `json:"rollover" yaml:"rollover" default:"0 0 0 * * *" validate:"required"`
}

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	if err := cfg.applyDefaults(); err != nil {
		panic(err)
	}
	return cfg
}

// LoadFromFile loads configuration from a YAML or JSON file, fills
// defaults, applies environment overrides and validates.
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	cfg := &Config{}

	// Try YAML first, fall back to JSON
	if err := yaml.Unmarshal(data, cfg); err != nil {
		if jerr := json.Unmarshal(data, cfg); jerr != nil {
			return nil, fmt.Errorf("parse config (tried YAML and JSON): %w", errors.Join(err, jerr))
		}
	}

	return finish(cfg)
}

// LoadWithEnv loads envFile (when non-empty and present) into the process
// environment and then loads path. An empty path yields Default plus
// environment overrides.
func LoadWithEnv(path, envFile string) (*Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("load env file: %w", err)
		}
	}
	if path == "" {
		return finish(&Config{})
	}
	return LoadFromFile(path)
}

func finish(cfg *Config) (*Config, error) {
	if err := cfg.applyDefaults(); err != nil {
		return nil, err
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() error {
	if err := defaults.Set(c); err != nil {
		return fmt.Errorf("apply defaults: %w", err)
	}
	if len(c.Risk.Tiers) == 0 {
		c.Risk.Tiers = make(map[string]TierConfig)
		for t, tl := range risk.DefaultLimits().Tiers {
			c.Risk.Tiers[string(t)] = TierConfig{
				DailyLossLimitPercent: tl.DailyLossLimitPercent,
				RiskMultiplier:        tl.RiskMultiplier,
			}
		}
	}
	if c.Risk.WeekendDays == nil {
		c.Risk.WeekendDays = []string{"saturday", "sunday"}
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	str("LOG_LEVEL", &c.Log.Level)
	str("LOG_FORMAT", &c.Log.Format)
	str("JOURNAL_BACKEND", &c.Journal.Backend)
	str("JOURNAL_PATH", &c.Journal.Path)
	str("REDIS_ADDR", &c.Redis.Addr)
	str("REDIS_PASSWORD", &c.Redis.Password)
	str("METRICS_ADDR", &c.Metrics.Addr)
	str("TIMEZONE", &c.Risk.Timezone)

	for key, dst := range map[string]*bool{
		"REDIS_ENABLED":   &c.Redis.Enabled,
		"METRICS_ENABLED": &c.Metrics.Enabled,
	} {
		v, ok := lookup(EnvPrefix + key)
		if !ok || v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, key, err)
		}
		*dst = b
	}
	return nil
}

// Validate checks struct tags and the fields tags cannot express.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return err
	}
	if _, err := time.LoadLocation(c.Risk.Timezone); err != nil {
		return fmt.Errorf("risk.timezone: %w", err)
	}
	if _, err := parseWeekdays(c.Risk.WeekendDays); err != nil {
		return fmt.Errorf("risk.weekend_days: %w", err)
	}
	for _, t := range []risk.Tier{risk.TierBase, risk.TierAdvanced, risk.TierElite, risk.TierPremium} {
		if _, ok := c.Risk.Tiers[string(t)]; !ok {
			return fmt.Errorf("risk.tiers: missing tier %q", t)
		}
	}
	return nil
}

// Limits converts the risk section into engine limits.
func (c *Config) Limits() (risk.Limits, error) {
	loc, err := time.LoadLocation(c.Risk.Timezone)
	if err != nil {
		return risk.Limits{}, fmt.Errorf("risk.timezone: %w", err)
	}
	days, err := parseWeekdays(c.Risk.WeekendDays)
	if err != nil {
		return risk.Limits{}, fmt.Errorf("risk.weekend_days: %w", err)
	}

	tiers := make(map[risk.Tier]risk.TierLimits, len(c.Risk.Tiers))
	for name, tc := range c.Risk.Tiers {
		t, err := risk.ParseTier(name)
		if err != nil {
			return risk.Limits{}, err
		}
		tiers[t] = risk.TierLimits{
			DailyLossLimitPercent: tc.DailyLossLimitPercent,
			RiskMultiplier:        tc.RiskMultiplier,
		}
	}

	r := c.Risk
	return risk.Limits{
		Tiers:                 tiers,
		BaseRiskPercent:       r.BaseRiskPercent,
		KellyFraction:         r.KellyFraction,
		KellyCapPercent:       r.KellyCapPercent,
		KellyMinExperience:    r.KellyMinExperience,
		TiltCooldown:          r.TiltCooldown,
		TiltLockoutStrikes:    r.TiltLockoutStrikes,
		RecoveryWins:          r.RecoveryWins,
		NewsWindow:            r.NewsWindow,
		MedicRiskMultiplier:   r.MedicRiskMultiplier,
		MedicMaxPositions:     r.MedicMaxPositions,
		WeekendDays:           days,
		WeekendRiskMultiplier: r.WeekendRiskMultiplier,
		WeekendMaxPositions:   r.WeekendMaxPositions,
		Location:              loc,
	}, nil
}

// Registry returns the built-in instruments with the configured specs
// merged over them.
func (c *Config) Registry() (*market.Registry, error) {
	reg, err := market.NewRegistry(market.DefaultInstruments...)
	if err != nil {
		return nil, err
	}
	for _, s := range c.Instruments {
		if err := reg.Add(s); err != nil {
			return nil, err
		}
	}
	return reg, nil
}

// SaveToFile saves configuration to a file (JSON or YAML based on extension)
func (c *Config) SaveToFile(path string) error {
	var (
		data []byte
		err  error
	)

	if strings.HasSuffix(path, ".yaml") || strings.HasSuffix(path, ".yml") {
		data, err = yaml.Marshal(c)
	} else {
		data, err = json.MarshalIndent(c, "", "  ")
	}
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

var weekdays = map[string]time.Weekday{
	"sunday": time.Sunday, "sun": time.Sunday,
	"monday": time.Monday, "mon": time.Monday,
	"tuesday": time.Tuesday, "tue": time.Tuesday,
	"wednesday": time.Wednesday, "wed": time.Wednesday,
	"thursday": time.Thursday, "thu": time.Thursday,
	"friday": time.Friday, "fri": time.Friday,
	"saturday": time.Saturday, "sat": time.Saturday,
}

func parseWeekdays(names []string) ([]time.Weekday, error) {
	out := make([]time.Weekday, 0, len(names))
	for _, n := range names {
		d, ok := weekdays[strings.ToLower(strings.TrimSpace(n))]
		if !ok {
			return nil, fmt.Errorf("unknown weekday %q", n)
		}
		out = append(out, d)
	}
	return out, nil
}

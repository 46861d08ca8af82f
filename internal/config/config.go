package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	envPrefix          = "DLUNCH"
	defaultHTTPAddress = "0.0.0.0:8080"
	defaultDatabase    = "dlunch.db"
	defaultLogLevel    = "info"
	defaultGroupName   = "dlunch"

	defaultTokenTTLMinutes    = 30
	defaultMinLeadTimeSeconds = 60
	defaultDayOffsetSeconds   = 0
	defaultMaxProposalsPerDay = 2
	defaultMinEaters          = 2
)

// AppConfig captures runtime configuration for the API server. All engine
// parameters are fixed at construction time and never mutated afterwards.
type AppConfig struct {
	HTTPAddress   string
	DatabasePath  string
	LogLevel      string
	SigningSecret string
	OwnerSubject  string
	TokenTTL      time.Duration

	GroupName          string
	MinLeadTime        time.Duration
	DayOffsetSeconds   int64
	MaxProposalsPerDay int
	MinEaters          int
}

// NewViper returns a viper instance with defaults and env bindings configured.
func NewViper() *viper.Viper {
	configViper := viper.New()
	ApplyDefaults(configViper)
	return configViper
}

// ApplyDefaults configures defaults and env bindings on the provided viper instance.
func ApplyDefaults(configViper *viper.Viper) {
	configViper.SetEnvPrefix(envPrefix)
	configViper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	configViper.AutomaticEnv()

	configViper.SetDefault("http.address", defaultHTTPAddress)
	configViper.SetDefault("database.path", defaultDatabase)
	configViper.SetDefault("log.level", defaultLogLevel)
	configViper.SetDefault("auth.token_ttl_minutes", defaultTokenTTLMinutes)
	configViper.SetDefault("group.name", defaultGroupName)
	configViper.SetDefault("engine.min_lead_time_s", defaultMinLeadTimeSeconds)
	configViper.SetDefault("engine.day_offset_s", defaultDayOffsetSeconds)
	configViper.SetDefault("engine.max_proposals_per_day", defaultMaxProposalsPerDay)
	configViper.SetDefault("engine.min_eaters", defaultMinEaters)
}

// Load parses runtime configuration from viper.
func Load(configViper *viper.Viper) (AppConfig, error) {
	cfg := AppConfig{
		HTTPAddress:        configViper.GetString("http.address"),
		DatabasePath:       configViper.GetString("database.path"),
		LogLevel:           configViper.GetString("log.level"),
		SigningSecret:      configViper.GetString("auth.signing_secret"),
		OwnerSubject:       configViper.GetString("auth.owner_subject"),
		TokenTTL:           time.Duration(configViper.GetInt("auth.token_ttl_minutes")) * time.Minute,
		GroupName:          configViper.GetString("group.name"),
		MinLeadTime:        time.Duration(configViper.GetInt64("engine.min_lead_time_s")) * time.Second,
		DayOffsetSeconds:   configViper.GetInt64("engine.day_offset_s"),
		MaxProposalsPerDay: configViper.GetInt("engine.max_proposals_per_day"),
		MinEaters:          configViper.GetInt("engine.min_eaters"),
	}

	if err := cfg.validate(); err != nil {
		return AppConfig{}, err
	}

	return cfg, nil
}

func (c AppConfig) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("auth.signing_secret is required")
	}
	if strings.TrimSpace(c.OwnerSubject) == "" {
		return fmt.Errorf("auth.owner_subject is required")
	}
	if strings.TrimSpace(c.DatabasePath) == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.MinLeadTime < 0 {
		return fmt.Errorf("engine.min_lead_time_s must not be negative")
	}
	if c.MaxProposalsPerDay <= 0 {
		return fmt.Errorf("engine.max_proposals_per_day must be positive")
	}
	if c.MinEaters < 0 {
		return fmt.Errorf("engine.min_eaters must not be negative")
	}
	return nil
}

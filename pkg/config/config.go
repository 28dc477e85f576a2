// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads Pulse configuration.
//
// Sources are layered, later ones winning:
//
//  1. Default() values
//  2. An optional YAML file (pulse.yaml)
//  3. Environment variables
//  4. /run/secrets/<name> for API keys that are still empty
//
// # Usage
//
//	cfg, err := config.Load("")          // defaults + env
//	cfg, err := config.Load("pulse.yaml") // defaults + file + env
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// SecretsDir is where container secrets are mounted. Overridable in tests.
var SecretsDir = "/run/secrets"

// Config is the root configuration document.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Log       LogConfig       `yaml:"log"`
	Primary   ProviderConfig  `yaml:"primary"`
	Secondary ProviderConfig  `yaml:"secondary"`
	Provider  ProviderTuning  `yaml:"provider"`
	Retry     RetryConfig     `yaml:"retry"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Chat      ChatConfig      `yaml:"chat"`
	Spin      SpinConfig      `yaml:"spin"`
	Analysis  AnalysisConfig  `yaml:"analysis"`
	Levels    LevelConfig     `yaml:"levels"`
}

// ServerConfig holds HTTP service settings.
type ServerConfig struct {
	Port    int    `yaml:"port"`
	GinMode string `yaml:"gin_mode"`
	// OTelEndpoint is an OTLP gRPC collector address, "stdout", or empty to
	// disable tracing export.
	OTelEndpoint string `yaml:"otel_endpoint"`
}

// LogConfig mirrors logging.Config in serializable form.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Dir    string `yaml:"dir"`
}

// ProviderConfig describes one OpenAI-compatible chat-completion endpoint.
// A provider with an empty APIKey is not configured.
type ProviderConfig struct {
	Name    string `yaml:"name"`
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Configured reports whether the provider has an API key.
func (p ProviderConfig) Configured() bool {
	return strings.TrimSpace(p.APIKey) != ""
}

// ProviderTuning applies to every provider client.
type ProviderTuning struct {
	Timeout time.Duration `yaml:"timeout"`
	// RequestsPerSecond paces outbound calls per provider. 0 disables pacing.
	RequestsPerSecond float64 `yaml:"requests_per_second"`
}

// RetryConfig controls retries on provider rate-limit errors.
type RetryConfig struct {
	MaxRetries int           `yaml:"max_retries"`
	BaseDelay  time.Duration `yaml:"base_delay"`
}

// RateLimitConfig controls the per-identity request limiter.
type RateLimitConfig struct {
	Requests      int           `yaml:"requests"`
	Window        time.Duration `yaml:"window"`
	Store         string        `yaml:"store"`
	BadgerPath    string        `yaml:"badger_path"`
	SweepSchedule string        `yaml:"sweep_schedule"`
}

// ChatConfig controls the conversational assistant.
type ChatConfig struct {
	HistoryTurns int `yaml:"history_turns"`
	DailyLimit   int `yaml:"daily_limit"`
}

// SpinConfig controls the daily reward-wheel allowance. 0 disables the gate.
type SpinConfig struct {
	DailyLimit int `yaml:"daily_limit"`
}

// AnalysisConfig bounds the text handed to analyzers.
type AnalysisConfig struct {
	MinChars int `yaml:"min_chars"`
	MaxChars int `yaml:"max_chars"`
}

// LevelConfig is the XP curve.
type LevelConfig struct {
	BasePerLevel float64 `yaml:"base_per_level"`
	Multiplier   float64 `yaml:"multiplier"`
}

// Store names accepted by RateLimitConfig.Store.
const (
	StoreMemory = "memory"
	StoreBadger = "badger"
)

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: 12310, GinMode: "release"},
		Log:    LogConfig{Level: "info"},
		Primary: ProviderConfig{
			Name:    "openai",
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
		},
		Secondary: ProviderConfig{
			Name:    "groq",
			BaseURL: "https://api.groq.com/openai/v1",
			Model:   "llama-3.1-8b-instant",
		},
		Provider: ProviderTuning{Timeout: 30 * time.Second, RequestsPerSecond: 5},
		Retry:    RetryConfig{MaxRetries: 3, BaseDelay: time.Second},
		RateLimit: RateLimitConfig{
			Requests:      10,
			Window:        time.Minute,
			Store:         StoreMemory,
			SweepSchedule: "@every 5m",
		},
		Chat:     ChatConfig{HistoryTurns: 10, DailyLimit: 20},
		Spin:     SpinConfig{DailyLimit: 1},
		Analysis: AnalysisConfig{MinChars: 5, MaxChars: 2000},
		Levels:   LevelConfig{BasePerLevel: 1000, Multiplier: 1.5},
	}
}

// Load builds a Config from defaults, the optional file at path, the
// environment, and mounted secrets, then validates it.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	applySecrets(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks ranges that the rest of the system relies on.
func (c Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Retry.MaxRetries < 0 {
		errs = append(errs, errors.New("retry.max_retries must be >= 0"))
	}
	if c.Retry.BaseDelay < 0 {
		errs = append(errs, errors.New("retry.base_delay must be >= 0"))
	}
	if c.RateLimit.Requests < 1 {
		errs = append(errs, errors.New("rate_limit.requests must be >= 1"))
	}
	if c.RateLimit.Window <= 0 {
		errs = append(errs, errors.New("rate_limit.window must be positive"))
	}
	switch c.RateLimit.Store {
	case StoreMemory, StoreBadger:
	default:
		errs = append(errs, fmt.Errorf("rate_limit.store %q is not one of memory, badger", c.RateLimit.Store))
	}
	if c.Chat.HistoryTurns < 0 {
		errs = append(errs, errors.New("chat.history_turns must be >= 0"))
	}
	if c.Chat.DailyLimit < 0 || c.Spin.DailyLimit < 0 {
		errs = append(errs, errors.New("chat.daily_limit and spin.daily_limit must be >= 0"))
	}
	if c.Analysis.MinChars < 0 || (c.Analysis.MaxChars > 0 && c.Analysis.MaxChars < c.Analysis.MinChars) {
		errs = append(errs, errors.New("analysis.max_chars must be >= analysis.min_chars"))
	}
	if c.Levels.BasePerLevel < 1 || c.Levels.Multiplier < 1 {
		errs = append(errs, errors.New("levels.base_per_level and levels.multiplier must be >= 1"))
	}
	return errors.Join(errs...)
}

// =============================================================================
// Environment
// =============================================================================

func applyEnv(cfg *Config) error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = strings.Trim(v, "\"' ")
		}
	}
	num := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	float := func(key string, dst *float64) {
		if v := os.Getenv(key); v != "" {
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = f
		}
	}
	dur := func(key string, dst *time.Duration) {
		if v := os.Getenv(key); v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = d
		}
	}

	num("PULSE_PORT", &cfg.Server.Port)
	str("GIN_MODE", &cfg.Server.GinMode)
	str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Server.OTelEndpoint)

	str("PULSE_LOG_LEVEL", &cfg.Log.Level)
	str("PULSE_LOG_FORMAT", &cfg.Log.Format)
	str("PULSE_LOG_DIR", &cfg.Log.Dir)

	str("OPENAI_API_KEY", &cfg.Primary.APIKey)
	str("OPENAI_BASE_URL", &cfg.Primary.BaseURL)
	str("OPENAI_MODEL", &cfg.Primary.Model)
	str("GROQ_API_KEY", &cfg.Secondary.APIKey)
	str("GROQ_BASE_URL", &cfg.Secondary.BaseURL)
	str("GROQ_MODEL", &cfg.Secondary.Model)

	dur("PULSE_PROVIDER_TIMEOUT", &cfg.Provider.Timeout)
	float("PULSE_PROVIDER_RPS", &cfg.Provider.RequestsPerSecond)

	num("PULSE_RETRY_MAX", &cfg.Retry.MaxRetries)
	dur("PULSE_RETRY_BASE_DELAY", &cfg.Retry.BaseDelay)

	num("PULSE_RATE_LIMIT", &cfg.RateLimit.Requests)
	dur("PULSE_RATE_WINDOW", &cfg.RateLimit.Window)
	str("PULSE_RATE_STORE", &cfg.RateLimit.Store)
	str("PULSE_BADGER_PATH", &cfg.RateLimit.BadgerPath)
	str("PULSE_SWEEP_SCHEDULE", &cfg.RateLimit.SweepSchedule)

	num("PULSE_CHAT_HISTORY", &cfg.Chat.HistoryTurns)
	num("PULSE_CHAT_DAILY_LIMIT", &cfg.Chat.DailyLimit)
	num("PULSE_SPIN_DAILY_LIMIT", &cfg.Spin.DailyLimit)
	num("PULSE_ANALYSIS_MAX_CHARS", &cfg.Analysis.MaxChars)

	float("PULSE_LEVEL_BASE", &cfg.Levels.BasePerLevel)
	float("PULSE_LEVEL_MULTIPLIER", &cfg.Levels.Multiplier)

	return errors.Join(errs...)
}

// applySecrets reads API keys from mounted secret files when the key is
// still empty after file and environment.
func applySecrets(cfg *Config) {
	read := func(name string, dst *string) {
		if *dst != "" {
			return
		}
		data, err := os.ReadFile(SecretsDir + "/" + name)
		if err == nil {
			*dst = strings.TrimSpace(string(data))
		}
	}
	read("openai_api_key", &cfg.Primary.APIKey)
	read("groq_api_key", &cfg.Secondary.APIKey)
}

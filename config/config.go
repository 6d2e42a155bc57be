// Package config loads router and worker configuration from three layered
// sources (highest precedence last): an optional .env file, a YAML file, and
// environment variables — the same three-layer pattern the rest of this
// corpus uses for service configuration.
package config

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	koanf "github.com/knadh/koanf/v2"
	"github.com/sirupsen/logrus"
)

// Strategy names the Router Dispatcher's selection policy (spec.md §4.5).
type Strategy string

const (
	CacheAware  Strategy = "cache_aware"
	RoundRobin  Strategy = "round_robin"
	LeastLoaded Strategy = "least_loaded"
)

// RouterConfig holds every knob the router process needs (spec.md §6).
type RouterConfig struct {
	ListenAddr            string   `koanf:"listen_addr" validate:"required"`
	Strategy              Strategy `koanf:"strategy" validate:"oneof=cache_aware round_robin least_loaded"`
	ProxyMode             bool     `koanf:"proxy_mode"`
	BlockSizeTokens       int      `koanf:"block_size_tokens" validate:"gt=0"`
	StaleWorkerTimeoutMS  int64    `koanf:"stale_worker_timeout_ms" validate:"gt=0"`
	SpeculativeLoadAddend float64  `koanf:"speculative_load_addend_ms" validate:"gte=0"`
	SpeculativeLoadTTLMS  int64    `koanf:"speculative_load_ttl_ms" validate:"gt=0"`
	MetricsAddr           string   `koanf:"metrics_addr"`
	LogLevel              string  `koanf:"log_level"`
}

// WorkerConfig holds every knob a worker process needs (spec.md §3, §4.3).
type WorkerConfig struct {
	ListenAddr         string  `koanf:"listen_addr" validate:"required"`
	WorkerID           string  `koanf:"worker_id" validate:"required"`
	RouterURL          string  `koanf:"router_url" validate:"required"`
	BlockSizeTokens    int     `koanf:"block_size_tokens" validate:"gt=0"`
	CapacityBlocks     int     `koanf:"capacity_blocks" validate:"gt=0"`
	PrefillBaseMS      float64 `koanf:"prefill_base_ms" validate:"gte=0"`
	PrefillPerBlockMS  float64 `koanf:"prefill_per_block_ms" validate:"gte=0"`
	DecodePerTokenMS   float64 `koanf:"decode_per_token_ms" validate:"gte=0"`
	HeartbeatPeriodMS  int64   `koanf:"heartbeat_period_ms" validate:"gt=0"`
	SyncPeriodMS       int64   `koanf:"sync_period_ms" validate:"gt=0"`
	MetricsAddr        string  `koanf:"metrics_addr"`
	LogLevel           string  `koanf:"log_level"`
}

// DefaultRouterConfig mirrors spec.md §4.3 and §9's documented defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		ListenAddr:            ":8080",
		Strategy:              CacheAware,
		ProxyMode:             false,
		BlockSizeTokens:       16,
		StaleWorkerTimeoutMS:  10_000,
		SpeculativeLoadAddend: 50,
		SpeculativeLoadTTLMS:  2_000,
		MetricsAddr:           ":9090",
		LogLevel:              "info",
	}
}

// DefaultWorkerConfig mirrors spec.md §4.3's default latency constants.
func DefaultWorkerConfig() WorkerConfig {
	return WorkerConfig{
		ListenAddr:        ":8081",
		BlockSizeTokens:   16,
		CapacityBlocks:    924,
		PrefillBaseMS:     5.0,
		PrefillPerBlockMS: 2.5,
		DecodePerTokenMS:  15.0,
		HeartbeatPeriodMS: 1_000,
		SyncPeriodMS:      5_000,
		MetricsAddr:       ":9091",
		LogLevel:          "info",
	}
}

var validate = validator.New()

// LoadRouterConfig layers envPath (.env, optional), yamlPath (optional) over
// DefaultRouterConfig(), then applies ROUTER_-prefixed environment variables,
// where "__" maps to ".".
func LoadRouterConfig(envPath, yamlPath string) (RouterConfig, error) {
	cfg := DefaultRouterConfig()
	k, err := load(envPath, yamlPath, "ROUTER_")
	if err != nil {
		return cfg, err
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		logrus.WithError(err).Error("config: router unmarshal failed")
		return cfg, err
	}
	if err := validate.Struct(&cfg); err != nil {
		logrus.WithError(err).Error("config: router validation failed")
		return cfg, err
	}
	return cfg, nil
}

// LoadWorkerConfig is LoadRouterConfig's counterpart for worker processes,
// prefixed WORKER_.
func LoadWorkerConfig(envPath, yamlPath string) (WorkerConfig, error) {
	cfg := DefaultWorkerConfig()
	k, err := load(envPath, yamlPath, "WORKER_")
	if err != nil {
		return cfg, err
	}
	if err := k.Unmarshal("", &cfg); err != nil {
		logrus.WithError(err).Error("config: worker unmarshal failed")
		return cfg, err
	}
	if err := validate.Struct(&cfg); err != nil {
		logrus.WithError(err).Error("config: worker validation failed")
		return cfg, err
	}
	return cfg, nil
}

func load(envPath, yamlPath, envPrefix string) (*koanf.Koanf, error) {
	k := koanf.New(".")
	envKey := func(s string) string {
		return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(s, envPrefix), "__", "."))
	}

	// The .env file is optional (absence is not an error) and is loaded
	// first, so the YAML file and the process environment both override it.
	if envPath != "" {
		if vars, err := godotenv.Read(envPath); err == nil {
			for key, val := range vars {
				if strings.HasPrefix(key, envPrefix) {
					_ = k.Set(envKey(key), val)
				}
			}
		}
	}

	if yamlPath != "" {
		if err := k.Load(file.Provider(yamlPath), yaml.Parser()); err != nil {
			logrus.WithError(err).WithField("file", yamlPath).Error("config: yaml load failed")
			return nil, err
		}
	}

	if err := k.Load(env.Provider(envPrefix, ".", envKey), nil); err != nil {
		logrus.WithError(err).Error("config: env overlay failed")
		return nil, err
	}

	return k, nil
}

// StaleWindow returns cfg's stale-worker timeout as a time.Duration, for
// callers that prefer durations to raw milliseconds.
func (c RouterConfig) StaleWindow() time.Duration {
	return time.Duration(c.StaleWorkerTimeoutMS) * time.Millisecond
}

// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package config loads and validates the subsystem settings from an optional
// yaml file plus environment overrides. Invalid values are repaired to
// documented defaults with a logged warning rather than failing startup.
package config

import (
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultMaxStorageGB            = 10.0
	DefaultWarningThresholdPercent = 80.0
	DefaultCacheTTL                = 60 * time.Second
	DefaultStoreTimeout            = 2 * time.Second
	DefaultCleanupMaxAge           = 720 * time.Hour
)

type Settings struct {
	Server   Server   `yaml:"server"`
	Logging  Logging  `yaml:"logging"`
	Storage  Storage  `yaml:"storage"`
	Redis    Redis    `yaml:"redis"`
	Database Database `yaml:"database"`
	Cleanup  Cleanup  `yaml:"cleanup"`

	mu sync.RWMutex
}

type Logging struct {
	Level string `yaml:"level" env-default:"info" env:"LOG_LEVEL" env-description:"logging level such as debug, info, error"`
}

type Server struct {
	Port       uint   `yaml:"port" env-default:"8080" env:"SERVER_PORT" env-description:"server port"`
	AdminToken string `yaml:"admin_token" env:"ADMIN_TOKEN" env-description:"static token required on admin endpoints"`
}

// Storage carries the quota inputs. The zero or out-of-range cases are
// repaired in Validate, not rejected.
type Storage struct {
	MaxStorageGB            float64       `yaml:"max_storage_gb" env-default:"10.0" env:"MAX_STORAGE_GB" env-description:"storage quota in GB"`
	WarningThresholdPercent float64       `yaml:"warning_threshold_percent" env-default:"80.0" env:"STORAGE_WARNING_THRESHOLD_PERCENT" env-description:"percentage of the quota at which warnings begin"`
	// pointer so an explicit false in the yaml file is distinguishable from
	// "not set"; nil is repaired to enabled in Validate
	MonitoringEnabled       *bool         `yaml:"monitoring_enabled" env:"STORAGE_MONITORING_ENABLED" env-description:"enable quota enforcement"`
	DataDir                 string        `yaml:"data_dir" env-default:"/var/lib/storage-sentinel/data" env:"STORAGE_DATA_DIR" env-description:"directory whose usage is monitored"`
	CacheTTL                time.Duration `yaml:"cache_ttl" env-default:"60s" env:"STORAGE_CACHE_TTL" env-description:"usage metrics cache lifetime"`
}

type Redis struct {
	Addr        string        `yaml:"addr" env-default:"localhost:6379" env:"REDIS_ADDR" env-description:"redis host:port"`
	Password    string        `yaml:"password" env:"REDIS_PASSWORD" env-description:"redis password"`
	DB          int           `yaml:"db" env-default:"0" env:"REDIS_DB" env-description:"redis database number"`
	DialTimeout time.Duration `yaml:"dial_timeout" env-default:"2s" env:"REDIS_DIAL_TIMEOUT" env-description:"redis connect timeout"`
	OpTimeout   time.Duration `yaml:"op_timeout" env-default:"2s" env:"REDIS_OP_TIMEOUT" env-description:"per-operation timeout"`
}

type Database struct {
	Path string `yaml:"path" env-default:"/var/lib/storage-sentinel/overrides.db" env:"DATABASE_PATH" env-description:"sqlite database path for overrides"`
}

type Cleanup struct {
	MaxAge time.Duration `yaml:"max_age" env-default:"720h" env:"CLEANUP_MAX_AGE" env-description:"age past which cleanup purges files"`
}

// NewSettings reads the given config files (may be empty) and the process
// environment, then validates the result.
func NewSettings(configFiles ...string) (*Settings, error) {
	var cfg Settings
	read := false
	for _, cfgFile := range configFiles {
		if cfgFile == "" {
			continue
		}

		if _, err := os.Stat(cfgFile); os.IsNotExist(err) {
			return nil, fmt.Errorf("no config %s", cfgFile)
		}

		if err := cleanenv.ReadConfig(cfgFile, &cfg); err != nil {
			return nil, fmt.Errorf("config read %s: %w", cfgFile, err)
		}
		read = true
	}

	if !read {
		if err := cleanenv.ReadEnv(&cfg); err != nil {
			return nil, errors.Wrap(err, "failed to read environment")
		}
	}

	cfg.Validate()
	return &cfg, nil
}

// Validate repairs out-of-range values section by section. It never fails; the
// quota subsystem must come up even when misconfigured.
func (s *Settings) Validate() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.Storage.validate()
	s.Redis.validate()
	s.Server.validate()
	if s.Cleanup.MaxAge <= 0 {
		s.Cleanup.MaxAge = DefaultCleanupMaxAge
	}
	if s.Logging.Level == "" {
		s.Logging.Level = "info"
	}
}

func (st *Storage) validate() {
	if st.MaxStorageGB <= 0 {
		log.Warn().Float64("max_storage_gb", st.MaxStorageGB).
			Float64("default", DefaultMaxStorageGB).
			Msg("invalid storage limit, using default")
		st.MaxStorageGB = DefaultMaxStorageGB
	}
	if st.WarningThresholdPercent <= 0 || st.WarningThresholdPercent >= 100 {
		log.Warn().Float64("warning_threshold_percent", st.WarningThresholdPercent).
			Float64("default", DefaultWarningThresholdPercent).
			Msg("invalid warning threshold, using default")
		st.WarningThresholdPercent = DefaultWarningThresholdPercent
	}
	if st.CacheTTL <= 0 {
		st.CacheTTL = DefaultCacheTTL
	}
	if st.MonitoringEnabled == nil {
		enabled := true
		st.MonitoringEnabled = &enabled
	}
	if st.DataDir == "" {
		st.DataDir = "/var/lib/storage-sentinel/data"
	}
}

func (r *Redis) validate() {
	if r.Addr == "" {
		r.Addr = "localhost:6379"
	}
	if r.DialTimeout <= 0 {
		r.DialTimeout = DefaultStoreTimeout
	}
	if r.OpTimeout <= 0 {
		r.OpTimeout = DefaultStoreTimeout
	}
}

func (sv *Server) validate() {
	if sv.Port == 0 {
		sv.Port = 8080
	}
}

// Reload re-reads the Storage section from the environment for operational
// tuning without a restart. File-based values are not re-read.
func (s *Settings) Reload() error {
	var fresh Storage
	if err := cleanenv.ReadEnv(&fresh); err != nil {
		return errors.Wrap(err, "failed to reload environment")
	}

	s.mu.Lock()
	s.Storage = fresh
	s.mu.Unlock()

	s.Validate()
	log.Info().
		Float64("max_storage_gb", s.MaxStorageGB()).
		Float64("warning_threshold_percent", s.WarningThresholdPercent()).
		Bool("monitoring_enabled", s.MonitoringEnabled()).
		Msg("storage settings reloaded")
	return nil
}

// MaxStorageGB returns the configured storage quota in GB.
func (s *Settings) MaxStorageGB() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Storage.MaxStorageGB
}

// WarningThresholdPercent returns the warning threshold as a percentage of the quota.
func (s *Settings) WarningThresholdPercent() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Storage.WarningThresholdPercent
}

// WarningThresholdGB returns the warning threshold expressed in GB.
func (s *Settings) WarningThresholdGB() float64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Storage.MaxStorageGB * s.Storage.WarningThresholdPercent / 100
}

// MonitoringEnabled reports whether quota enforcement is switched on.
// Enforcement defaults to on when the flag was never configured.
func (s *Settings) MonitoringEnabled() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Storage.MonitoringEnabled == nil || *s.Storage.MonitoringEnabled
}

// DataDir returns the monitored directory.
func (s *Settings) DataDir() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Storage.DataDir
}

// CacheTTL returns the usage metrics cache lifetime.
func (s *Settings) CacheTTL() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.Storage.CacheTTL
}

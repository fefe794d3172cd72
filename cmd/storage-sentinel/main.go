// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/renderhaus/storage-sentinel/app/build"
	"github.com/renderhaus/storage-sentinel/app/config"
	"github.com/renderhaus/storage-sentinel/app/domain/cleanup"
	"github.com/renderhaus/storage-sentinel/app/domain/enforcer"
	"github.com/renderhaus/storage-sentinel/app/domain/health"
	"github.com/renderhaus/storage-sentinel/app/domain/usage"
	"github.com/renderhaus/storage-sentinel/app/handlers"
	apphttp "github.com/renderhaus/storage-sentinel/app/http"
	"github.com/renderhaus/storage-sentinel/app/logging"
	"github.com/renderhaus/storage-sentinel/app/storage/repo"
	"github.com/renderhaus/storage-sentinel/app/storage/sqlite"
	"github.com/renderhaus/storage-sentinel/app/store"
	"github.com/renderhaus/storage-sentinel/app/types"
)

const shutdownGrace = 10 * time.Second

func main() {
	var configFile string
	var memoryState bool
	flag.StringVar(&configFile, "config", configFile, "Path to the configuration file")
	flag.BoolVar(&memoryState, "memory-state", false, "Keep blocking state in process memory instead of Redis")
	flag.Parse()

	settings, err := config.NewSettings(configFile)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load settings")
	}

	clock := &types.Clock{}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logging.NewLogger(
		logging.WithLevel(settings.Logging.Level),
		logging.WithVersion(build.GetVersion()),
	)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create the logger")
	}
	ctx = logger.WithContext(ctx)

	var kv types.KVStore
	if memoryState {
		kv = store.NewMemoryStore()
	} else {
		redisStore := store.NewRedisStore(settings.Redis)
		defer redisStore.Close()
		if err := redisStore.Ping(ctx); err != nil {
			// enforcement fails closed while the store is down; keep starting
			logger.Warn().Err(err).Str("addr", settings.Redis.Addr).Msg("state store unreachable at startup")
		}
		kv = redisStore
	}

	db, err := sqlite.NewSQLiteDriver(settings.Database.Path)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open override database")
	}
	overrides, err := repo.NewOverrideStore(clock, db)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize override store")
	}

	calc, err := usage.NewCalculator(settings, clock)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize usage calculator")
	}

	enf := enforcer.New(settings, calc, kv, overrides, clock)
	checker := health.New(settings, calc, enf, kv, clock)

	coord := cleanup.New(calc, enf, clock, cleanup.WithLockDir(settings.DataDir()))
	coord.Register("purge_old_files", cleanup.PurgeOlderThan(settings.DataDir(), settings.Cleanup.MaxAge, clock))

	srv := apphttp.NewServer(settings,
		apphttp.RouteSegment{Route: "/healthz", Hook: handlers.NewHealthAPI(checker).Routes()},
		apphttp.RouteSegment{Route: "/status", Hook: handlers.NewStatusAPI(settings, calc, enf, clock).Routes()},
		apphttp.RouteSegment{Route: "/admin", Hook: handlers.NewAdminAPI(settings, enf, overrides, coord).Routes()},
	)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("server shutdown failed")
		}
	}()

	logger.Info().
		Str("version", build.GetVersion()).
		Str("addr", srv.Addr).
		Float64("limit_gb", settings.MaxStorageGB()).
		Msg("storage sentinel starting")
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("server failed")
	}
	logger.Info().Msg("storage sentinel stopped")
}

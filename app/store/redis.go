// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"

	"github.com/renderhaus/storage-sentinel/app/config"
	"github.com/renderhaus/storage-sentinel/app/types"
)

// RedisStore implements types.KVStore against a Redis server. Every operation
// is bounded by the configured timeout so a slow or dead store surfaces as
// ErrStateStore instead of hanging an enforcement check.
type RedisStore struct {
	client    *redis.Client
	opTimeout time.Duration
}

var _ types.KVStore = (*RedisStore)(nil)

// NewRedisStore creates a RedisStore from the Redis settings section.
func NewRedisStore(cfg config.Redis) *RedisStore {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.Addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		DialTimeout:  cfg.DialTimeout,
		ReadTimeout:  cfg.OpTimeout,
		WriteTimeout: cfg.OpTimeout,
	})
	return &RedisStore{client: client, opTimeout: cfg.OpTimeout}
}

func (s *RedisStore) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, s.opTimeout)
}

func (s *RedisStore) Get(ctx context.Context, key string) (string, bool, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	val, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, errors.Wrapf(types.ErrStateStore, "get %s: %v", key, err)
	}
	return val, true, nil
}

func (s *RedisStore) Set(ctx context.Context, key, value string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Set(ctx, key, value, 0).Err(); err != nil {
		return errors.Wrapf(types.ErrStateStore, "set %s: %v", key, err)
	}
	return nil
}

func (s *RedisStore) Delete(ctx context.Context, key string) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Del(ctx, key).Err(); err != nil {
		return errors.Wrapf(types.ErrStateStore, "delete %s: %v", key, err)
	}
	return nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	if err := s.client.Ping(ctx).Err(); err != nil {
		return errors.Wrapf(types.ErrStateStore, "ping: %v", err)
	}
	return nil
}

// Close releases the underlying client connections.
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"sync"

	"github.com/pkg/errors"

	"github.com/renderhaus/storage-sentinel/app/types"
)

// MemoryStore is an in-process types.KVStore. It backs single-process
// deployments without Redis and the test suite. Cross-process consistency
// obviously does not apply.
type MemoryStore struct {
	mu     sync.RWMutex
	data   map[string]string
	closed bool
}

var _ types.KVStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{data: make(map[string]string)}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, errors.Wrap(types.ErrStateStore, "store closed")
	}
	val, ok := s.data[key]
	return val, ok, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Wrap(types.ErrStateStore, "store closed")
	}
	s.data[key] = value
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.Wrap(types.ErrStateStore, "store closed")
	}
	delete(s.data, key)
	return nil
}

func (s *MemoryStore) Ping(context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.Wrap(types.ErrStateStore, "store closed")
	}
	return nil
}

// Close marks the store unreachable. Subsequent operations fail.
func (s *MemoryStore) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

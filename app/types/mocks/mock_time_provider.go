// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package mocks holds test doubles for the types package interfaces.
package mocks

import (
	"sync"
	"time"
)

// MockClock implements types.TimeProvider with a manually driven clock, so
// tests steer override expiry and cache aging deterministically.
type MockClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewMockClock(start time.Time) *MockClock {
	return &MockClock{now: start}
}

func (c *MockClock) GetCurrentTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AdvanceTime moves the clock forward by d.
func (c *MockClock) AdvanceTime(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// TimeProvider abstracts the wall clock so expiry and cache-TTL behavior can
// be tested with a controllable clock.
type TimeProvider interface {
	// GetCurrentTime returns the current time.
	GetCurrentTime() time.Time
}

// Clock is the production TimeProvider backed by time.Now.
type Clock struct{}

func (Clock) GetCurrentTime() time.Time {
	return time.Now().UTC()
}

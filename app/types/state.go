// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"encoding/json"
	"time"
)

// CheckResult is the outcome of a pre-operation storage check.
type CheckResult int

const (
	// Allowed means usage is under the limit and the operation may proceed.
	Allowed CheckResult = iota

	// AllowedOverrideActive means usage is over the limit but an
	// administrative override permits the operation.
	AllowedOverrideActive

	// BlockedLimitExceeded means usage is over the limit and no override is
	// in effect.
	BlockedLimitExceeded

	// BlockedOverrideExpired means usage is over the limit and the only
	// override on record has lapsed.
	BlockedOverrideExpired

	// CheckError means the check itself could not be answered. Callers must
	// treat this as "not allowed".
	CheckError
)

func (r CheckResult) String() string {
	switch r {
	case Allowed:
		return "allowed"
	case AllowedOverrideActive:
		return "allowed_override_active"
	case BlockedLimitExceeded:
		return "blocked_limit_exceeded"
	case BlockedOverrideExpired:
		return "blocked_override_expired"
	case CheckError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalJSON emits the string form so API payloads stay readable.
func (r CheckResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// Permitted reports whether the protected operation may start.
func (r CheckResult) Permitted() bool {
	return r == Allowed || r == AllowedOverrideActive
}

// BlockingState is the cross-process record indicating the protected operation
// is disallowed. It lives in the shared state store and is only ever written as
// a whole snapshot or deleted, never partially updated.
type BlockingState struct {
	Blocked      bool       `json:"blocked"`
	Reason       string     `json:"reason"`
	BlockedAt    *time.Time `json:"blocked_at,omitempty"`
	StorageGB    float64    `json:"storage_gb"`
	LimitGB      float64    `json:"limit_gb"`
	UsagePercent float64    `json:"usage_percent"`
	LastChecked  time.Time  `json:"last_checked"`
}

// EnforcementStatistics are monotonically increasing counters persisted in the
// shared state store for observability. Increments are best-effort; a failed
// write never blocks an enforcement check.
type EnforcementStatistics struct {
	TotalChecks        uint64     `json:"total_checks"`
	BlocksEnforced     uint64     `json:"blocks_enforced"`
	AutomaticUnblocks  uint64     `json:"automatic_unblocks"`
	LimitExceededCount uint64     `json:"limit_exceeded_count"`
	OverrideBypasses   uint64     `json:"override_bypasses"`
	LastBlockTime      *time.Time `json:"last_block_time,omitempty"`
	LastUnblockTime    *time.Time `json:"last_unblock_time,omitempty"`
}

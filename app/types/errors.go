// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import "errors"

// The closed error taxonomy of the subsystem. Call sites wrap these with
// github.com/pkg/errors for detail and test with errors.Is, which forces every
// caller to pick a side of the fail-closed / fail-open split explicitly.
var (
	// ErrConfiguration marks invalid or missing settings. Recovered locally
	// with documented defaults; never fatal at startup.
	ErrConfiguration = errors.New("invalid configuration")

	// ErrCalculation marks a filesystem traversal failure. The enforcer
	// treats a check it cannot answer as "not allowed".
	ErrCalculation = errors.New("usage calculation failed")

	// ErrStateStore marks a connectivity or timeout failure against the
	// shared state store. Fail-closed for blocking-state reads, best-effort
	// for statistics writes.
	ErrStateStore = errors.New("state store unavailable")

	// ErrStorageCheck marks an enforcement check that could not be answered.
	ErrStorageCheck = errors.New("storage check failed")

	// ErrOverrideValidation marks bad administrative input, rejected before
	// any persistence.
	ErrOverrideValidation = errors.New("invalid override request")

	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
)

// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import "context"

// KVStore is the shared key-value store holding all cross-process state.
// Implementations must bound every operation with a timeout; a timeout or
// connectivity failure surfaces as ErrStateStore so callers can fail closed.
type KVStore interface {
	// Get returns the value for key and whether the key existed at all.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set overwrites the value for key as a whole.
	Set(ctx context.Context, key, value string) error

	// Delete removes the key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping probes store liveness.
	Ping(ctx context.Context) error
}

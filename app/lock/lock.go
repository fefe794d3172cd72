// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package lock provides an advisory cross-process lock over the monitored
// directory so that cleanup never runs concurrently from two processes.
package lock

import (
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

const dirLockName = ".cleanup.lock"

// TryWithDirLock attempts the exclusive lock for dir without blocking. It
// reports false without running fn when another process holds the lock;
// otherwise it runs fn and releases the lock afterwards.
func TryWithDirLock(dir string, fn func() error) (bool, error) {
	fileLock := flock.New(filepath.Join(dir, dirLockName))
	acquired, err := fileLock.TryLock()
	if err != nil {
		return false, err
	}
	if !acquired {
		return false, nil
	}
	defer func() {
		_ = fileLock.Unlock()
		_ = os.Remove(fileLock.Path())
	}()

	return true, fn()
}

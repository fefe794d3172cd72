// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package build contains build information for the application.
package build

import "fmt"

// These values are replaced at compile time using the -X build flag:
//
//	-X github.com/renderhaus/storage-sentinel/app/build.Rev=${REVISION}
//	-X github.com/renderhaus/storage-sentinel/app/build.Tag=${TAG}
//	-X github.com/renderhaus/storage-sentinel/app/build.Time=${BUILD_TIME}
var (
	Rev  = "latest"
	Tag  = "latest"
	Time = "latest"
)

// GetVersion returns a human-readable version string.
func GetVersion() string {
	return fmt.Sprintf("%s.%s-%s", Tag, Rev, Time)
}

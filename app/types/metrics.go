// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import "time"

// BytesPerGB is the conversion factor used for every GB-denominated field.
const BytesPerGB = float64(1024 * 1024 * 1024)

// StorageMetrics is a snapshot of the monitored directory produced by the usage
// calculator. Values are never mutated after creation; a newer snapshot
// supersedes an older one.
type StorageMetrics struct {
	TotalBytes      uint64    `json:"total_bytes"`
	TotalGB         float64   `json:"total_gb"`
	LimitGB         float64   `json:"limit_gb"`
	UsagePercent    float64   `json:"usage_percent"`
	LimitExceeded   bool      `json:"limit_exceeded"`
	WarningExceeded bool      `json:"warning_exceeded"`
	CalculatedAt    time.Time `json:"calculated_at"`
}

// NewStorageMetrics derives the GB and threshold fields from a raw byte total.
func NewStorageMetrics(totalBytes uint64, limitGB, warningThresholdPercent float64, at time.Time) *StorageMetrics {
	totalGB := float64(totalBytes) / BytesPerGB

	var usagePercent float64
	if limitGB > 0 {
		usagePercent = totalGB / limitGB * 100
	}

	return &StorageMetrics{
		TotalBytes:      totalBytes,
		TotalGB:         totalGB,
		LimitGB:         limitGB,
		UsagePercent:    usagePercent,
		LimitExceeded:   totalGB >= limitGB,
		WarningExceeded: usagePercent >= warningThresholdPercent,
		CalculatedAt:    at,
	}
}

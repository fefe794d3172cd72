// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package handlers provides HTTP handlers.
package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

func replyJSON(w http.ResponseWriter, r *http.Request, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if payload == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("failed to encode response")
	}
}

// replyError sends a client-safe error body. Internal error detail stays in
// the logs, never in the response.
func replyError(w http.ResponseWriter, r *http.Request, status int, message string) {
	replyJSON(w, r, status, map[string]string{"error": message})
}

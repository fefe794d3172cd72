// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"crypto/subtle"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/renderhaus/storage-sentinel/app/config"
	"github.com/renderhaus/storage-sentinel/app/domain/cleanup"
	"github.com/renderhaus/storage-sentinel/app/domain/enforcer"
	"github.com/renderhaus/storage-sentinel/app/types"
)

// AdminAPI exposes the privileged override, block and cleanup operations. All
// routes require the configured admin token.
type AdminAPI struct {
	settings  *config.Settings
	enf       *enforcer.Enforcer
	overrides types.OverrideStore
	coord     *cleanup.Coordinator
}

func NewAdminAPI(settings *config.Settings, enf *enforcer.Enforcer, overrides types.OverrideStore, coord *cleanup.Coordinator) *AdminAPI {
	return &AdminAPI{settings: settings, enf: enf, overrides: overrides, coord: coord}
}

func (a *AdminAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(a.requireToken)
	r.Post("/override", a.ActivateOverride)
	r.Get("/override", a.GetOverride)
	r.Delete("/override/{id}", a.DeactivateOverride)
	r.Post("/block", a.Block)
	r.Delete("/block", a.Unblock)
	r.Post("/cleanup", a.RunCleanup)
	r.Post("/reload", a.ReloadSettings)
	return r
}

// requireToken denies everything when no token is configured.
func (a *AdminAPI) requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := a.settings.Server.AdminToken
		if token == "" {
			replyError(w, r, http.StatusServiceUnavailable, "admin endpoints are not configured")
			return
		}
		supplied := r.Header.Get("X-Admin-Token")
		if subtle.ConstantTimeCompare([]byte(token), []byte(supplied)) != 1 {
			replyError(w, r, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type overrideRequest struct {
	DurationHours int    `json:"duration_hours"`
	AdminUserID   string `json:"admin_user_id"`
	Reason        string `json:"reason"`
}

func (a *AdminAPI) ActivateOverride(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req overrideRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		replyError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}

	override, err := a.overrides.Activate(r.Context(), req.DurationHours, req.AdminUserID, req.Reason)
	if err != nil {
		if errors.Is(err, types.ErrOverrideValidation) {
			replyError(w, r, http.StatusBadRequest, err.Error())
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("override activation failed")
		replyError(w, r, http.StatusInternalServerError, "override activation failed")
		return
	}

	replyJSON(w, r, http.StatusCreated, override)
}

func (a *AdminAPI) GetOverride(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	override, err := a.overrides.ActiveOverride(r.Context())
	if err != nil {
		if errors.Is(err, types.ErrNotFound) {
			replyError(w, r, http.StatusNotFound, "no active override")
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("override lookup failed")
		replyError(w, r, http.StatusInternalServerError, "override lookup failed")
		return
	}

	replyJSON(w, r, http.StatusOK, override)
}

func (a *AdminAPI) DeactivateOverride(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	id := chi.URLParam(r, "id")
	if err := a.overrides.Deactivate(r.Context(), id); err != nil {
		if errors.Is(err, types.ErrNotFound) {
			replyError(w, r, http.StatusNotFound, "override not found")
			return
		}
		log.Ctx(r.Context()).Error().Err(err).Msg("override deactivation failed")
		replyError(w, r, http.StatusInternalServerError, "override deactivation failed")
		return
	}

	replyJSON(w, r, http.StatusNoContent, nil)
}

type blockRequest struct {
	Reason string `json:"reason"`
}

func (a *AdminAPI) Block(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	var req blockRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		replyError(w, r, http.StatusBadRequest, "malformed request body")
		return
	}
	if req.Reason == "" {
		replyError(w, r, http.StatusBadRequest, "reason is required")
		return
	}

	if err := a.enf.Block(r.Context(), req.Reason); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("manual block failed")
		replyError(w, r, http.StatusInternalServerError, "failed to write blocking state")
		return
	}
	replyJSON(w, r, http.StatusNoContent, nil)
}

func (a *AdminAPI) Unblock(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if err := a.enf.Unblock(r.Context()); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("manual unblock failed")
		replyError(w, r, http.StatusInternalServerError, "failed to clear blocking state")
		return
	}
	replyJSON(w, r, http.StatusNoContent, nil)
}

func (a *AdminAPI) RunCleanup(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	dryRun, _ := strconv.ParseBool(r.URL.Query().Get("dry_run"))
	summary := a.coord.Run(r.Context(), dryRun)
	replyJSON(w, r, http.StatusOK, summary)
}

func (a *AdminAPI) ReloadSettings(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()

	if err := a.settings.Reload(); err != nil {
		log.Ctx(r.Context()).Error().Err(err).Msg("settings reload failed")
		replyError(w, r, http.StatusInternalServerError, "settings reload failed")
		return
	}
	replyJSON(w, r, http.StatusNoContent, nil)
}

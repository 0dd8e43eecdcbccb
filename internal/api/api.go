/*
Copyright (C) 2026 Almanac Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package api exposes the HTTP surface: task and settings CRUD plus the
// scheduling run endpoints. Authentication is handled upstream; requests
// carry the acting user in the X-User-ID header.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/almanac-app/almanac/internal/cache"
	"github.com/almanac-app/almanac/internal/calendar"
	"github.com/almanac-app/almanac/internal/config"
	"github.com/almanac-app/almanac/internal/models"
	"github.com/almanac-app/almanac/internal/scheduler"
	"github.com/almanac-app/almanac/internal/scoring"
	"github.com/almanac-app/almanac/internal/slots"
	"github.com/almanac-app/almanac/internal/store"
)

const userHeader = "X-User-ID"

// API exposes HTTP handlers.
type API struct {
	store  *store.Store
	cache  *cache.Cache
	cfg    *config.Config
	logger zerolog.Logger
}

// New creates the API router wrapper.
func New(st *store.Store, ca *cache.Cache, cfg *config.Config, logger zerolog.Logger) *API {
	return &API{
		store:  st,
		cache:  ca,
		cfg:    cfg,
		logger: logger.With().Str("component", "api").Logger(),
	}
}

// Routes registers all endpoints on the router.
func (a *API) Routes(r chi.Router) {
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", a.handleHealth)

		r.Get("/tasks", a.handleTasksList)
		r.Post("/tasks", a.handleTaskCreate)

		r.Get("/settings", a.handleSettingsGet)
		r.Put("/settings", a.handleSettingsUpdate)

		r.Post("/schedule/run", a.handleScheduleRun)
		r.Post("/schedule/clear", a.handleScheduleClear)
	})
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (a *API) handleTasksList(w http.ResponseWriter, r *http.Request) {
	userStore, ok := a.userStore(w, r)
	if !ok {
		return
	}
	tasks, err := userStore.Tasks(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("listing tasks failed")
		writeError(w, http.StatusInternalServerError, "tasks_list_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": tasks})
}

func (a *API) handleTaskCreate(w http.ResponseWriter, r *http.Request) {
	userStore, ok := a.userStore(w, r)
	if !ok {
		return
	}
	var task models.Task
	if err := json.NewDecoder(r.Body).Decode(&task); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if task.Title == "" {
		writeError(w, http.StatusBadRequest, "title_required")
		return
	}
	if err := userStore.CreateTask(r.Context(), &task); err != nil {
		a.logger.Error().Err(err).Msg("creating task failed")
		writeError(w, http.StatusInternalServerError, "task_create_failed")
		return
	}
	writeJSON(w, http.StatusCreated, task)
}

func (a *API) handleSettingsGet(w http.ResponseWriter, r *http.Request) {
	userStore, ok := a.userStore(w, r)
	if !ok {
		return
	}
	settings, err := a.settingsFor(r, userStore)
	if err != nil {
		a.logger.Error().Err(err).Msg("fetching settings failed")
		writeError(w, http.StatusInternalServerError, "settings_fetch_failed")
		return
	}
	writeJSON(w, http.StatusOK, settings)
}

func (a *API) handleSettingsUpdate(w http.ResponseWriter, r *http.Request) {
	userStore, ok := a.userStore(w, r)
	if !ok {
		return
	}
	var settings models.AutoScheduleSettings
	if err := json.NewDecoder(r.Body).Decode(&settings); err != nil {
		writeError(w, http.StatusBadRequest, "invalid_body")
		return
	}
	if settings.WorkHourStart < 0 || settings.WorkHourEnd > 24 || settings.WorkHourStart >= settings.WorkHourEnd {
		writeError(w, http.StatusBadRequest, "invalid_work_hours")
		return
	}
	if settings.Timezone != "" {
		if _, err := time.LoadLocation(settings.Timezone); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_timezone")
			return
		}
	}
	if err := userStore.SaveSettings(r.Context(), settings); err != nil {
		a.logger.Error().Err(err).Msg("saving settings failed")
		writeError(w, http.StatusInternalServerError, "settings_save_failed")
		return
	}
	a.cache.InvalidateSettings(r.Context(), userStore.UserID())
	writeJSON(w, http.StatusOK, settings)
}

// handleScheduleRun assembles a fresh calendar service, scorer, slot
// manager, and scheduler per run. All run-scoped state (event cache,
// conflict ledger) lives and dies with this request.
func (a *API) handleScheduleRun(w http.ResponseWriter, r *http.Request) {
	userStore, ok := a.userStore(w, r)
	if !ok {
		return
	}
	ctx := r.Context()

	settings, err := a.settingsFor(r, userStore)
	if err != nil {
		a.logger.Error().Err(err).Msg("fetching settings failed")
		writeError(w, http.StatusInternalServerError, "settings_fetch_failed")
		return
	}

	loc := a.location(settings)
	cal := calendar.New(userStore, userStore, loc, a.cfg.CalendarCacheTTL, a.logger)
	scorer := scoring.NewScorer(settings, loc, scoring.NewLedger())
	manager := slots.New(cal, scorer, userStore, settings, loc, a.logger)
	svc := scheduler.New(manager, userStore, a.cfg.LookaheadWindows, a.logger)

	tasks, err := userStore.PendingTasks(ctx)
	if err != nil {
		a.logger.Error().Err(err).Msg("listing pending tasks failed")
		writeError(w, http.StatusInternalServerError, "tasks_list_failed")
		return
	}

	scheduled, err := svc.ScheduleMultipleTasks(ctx, tasks)
	if err != nil {
		a.logger.Error().Err(err).Msg("scheduling run failed")
		writeError(w, http.StatusInternalServerError, "scheduling_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tasks": scheduled})
}

func (a *API) handleScheduleClear(w http.ResponseWriter, r *http.Request) {
	userStore, ok := a.userStore(w, r)
	if !ok {
		return
	}
	cleared, err := userStore.ClearSchedules(r.Context())
	if err != nil {
		a.logger.Error().Err(err).Msg("clearing schedules failed")
		writeError(w, http.StatusInternalServerError, "schedule_clear_failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}

// settingsFor reads the user's settings through the Redis cache, falling
// back to storage on a miss.
func (a *API) settingsFor(r *http.Request, userStore *store.UserStore) (models.AutoScheduleSettings, error) {
	ctx := r.Context()
	if settings, ok := a.cache.Settings(ctx, userStore.UserID()); ok {
		return settings, nil
	}
	settings, err := userStore.Settings(ctx)
	if err != nil {
		return models.AutoScheduleSettings{}, err
	}
	a.cache.SetSettings(ctx, userStore.UserID(), settings)
	return settings, nil
}

// location resolves the user's timezone, falling back to the deployment
// default and finally UTC.
func (a *API) location(settings models.AutoScheduleSettings) *time.Location {
	for _, name := range []string{settings.Timezone, a.cfg.DefaultTimezone} {
		if name == "" {
			continue
		}
		if loc, err := time.LoadLocation(name); err == nil {
			return loc
		}
	}
	return time.UTC
}

func (a *API) userStore(w http.ResponseWriter, r *http.Request) (*store.UserStore, bool) {
	userID := r.Header.Get(userHeader)
	if userID == "" {
		writeError(w, http.StatusUnauthorized, "missing_user")
		return nil, false
	}
	return a.store.User(userID), true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, map[string]string{"error": code})
}

/*
Copyright (C) 2026 Almanac Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scheduler places tasks onto the calendar. A run scores every
// unlocked task's best achievable slot, then commits placements greedily
// in best-score-first order so high-value tasks claim their optimal slot
// before lower-value tasks can take it.
package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/almanac-app/almanac/internal/models"
	"github.com/almanac-app/almanac/internal/slots"
	"github.com/almanac-app/almanac/internal/telemetry"
)

// prelimBatchSize bounds the concurrency of the preliminary scoring pass.
const prelimBatchSize = 8

// TaskStore persists schedule assignments and refetches results.
type TaskStore interface {
	UpdateTaskSchedule(ctx context.Context, taskID string, start, end time.Time, durationMinutes int, score float64) error
	TasksByID(ctx context.Context, ids []string) ([]models.Task, error)
}

// Service runs one scheduling pass. Instantiate one per run: the slot
// manager it wraps carries run-scoped state.
type Service struct {
	manager *slots.Manager
	store   TaskStore
	windows []time.Duration
	logger  zerolog.Logger
	now     func() time.Time
}

// New constructs a scheduling service. Windows are the lookahead horizons
// tried in order until one yields slots.
func New(manager *slots.Manager, store TaskStore, windows []time.Duration, logger zerolog.Logger) *Service {
	if len(windows) == 0 {
		windows = []time.Duration{7 * 24 * time.Hour}
	}
	return &Service{
		manager: manager,
		store:   store,
		windows: windows,
		logger:  logger.With().Str("component", "scheduler").Logger(),
		now:     time.Now,
	}
}

// SetNow replaces the clock for deterministic tests.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// ScheduleTask places a single task, or leaves it untouched when no slot
// is open in any lookahead window.
func (s *Service) ScheduleTask(ctx context.Context, task models.Task) (models.Task, error) {
	scheduled, err := s.ScheduleMultipleTasks(ctx, []models.Task{task})
	if err != nil {
		return models.Task{}, err
	}
	for _, t := range scheduled {
		if t.ID == task.ID {
			return t, nil
		}
	}
	return task, nil
}

// ScheduleMultipleTasks schedules every unlocked task in the set and
// returns the full refetched set, locked tasks included. Tasks with no
// open slot are skipped, not failed; a storage error during a commit
// aborts the remaining batch.
func (s *Service) ScheduleMultipleTasks(ctx context.Context, tasks []models.Task) ([]models.Task, error) {
	ctx, span := telemetry.StartSpan(ctx, "scheduler", "scheduler.run")
	defer span.End()

	timer := time.Now()
	defer func() {
		telemetry.SchedulingRunDuration.Observe(time.Since(timer).Seconds())
	}()

	var toSchedule []models.Task
	for _, task := range tasks {
		if !task.ScheduleLocked {
			toSchedule = append(toSchedule, task)
		}
	}

	prelim, err := s.preliminaryScores(ctx, toSchedule)
	if err != nil {
		telemetry.SchedulingRunsTotal.WithLabelValues("error").Inc()
		telemetry.RecordError(span, err)
		return nil, err
	}

	sort.SliceStable(toSchedule, func(i, j int) bool {
		return prelim[toSchedule[i].ID] > prelim[toSchedule[j].ID]
	})

	scheduled := 0
	for i := range toSchedule {
		placed, err := s.commitTask(ctx, &toSchedule[i])
		if err != nil {
			telemetry.SchedulingRunsTotal.WithLabelValues("error").Inc()
			telemetry.RecordError(span, err)
			return nil, err
		}
		if placed {
			scheduled++
			telemetry.TasksScheduledTotal.Inc()
		} else {
			telemetry.TasksSkippedTotal.Inc()
		}
	}

	telemetry.SchedulingRunsTotal.WithLabelValues("success").Inc()
	telemetry.AddSpanAttributes(span, map[string]any{
		"tasks.total":     len(tasks),
		"tasks.scheduled": scheduled,
	})
	s.logger.Info().
		Int("tasks", len(tasks)).
		Int("scheduled", scheduled).
		Int("skipped", len(toSchedule)-scheduled).
		Msg("scheduling run complete")

	ids := make([]string, len(tasks))
	for i, task := range tasks {
		ids[i] = task.ID
	}
	return s.store.TasksByID(ctx, ids)
}

// preliminaryScores computes each task's best achievable slot score, in
// concurrent batches. Tasks do not interact here: each scores against the
// same read-only ledger snapshot, so ordering within a batch is free.
func (s *Service) preliminaryScores(ctx context.Context, tasks []models.Task) (map[string]float64, error) {
	scores := make(map[string]float64, len(tasks))
	var mu sync.Mutex
	var firstErr error

	for offset := 0; offset < len(tasks); offset += prelimBatchSize {
		end := offset + prelimBatchSize
		if end > len(tasks) {
			end = len(tasks)
		}
		var wg sync.WaitGroup
		for _, task := range tasks[offset:end] {
			wg.Add(1)
			go func(task models.Task) {
				defer wg.Done()
				best, err := s.bestSlot(ctx, task)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				if best != nil {
					scores[task.ID] = best.Score
				} else {
					scores[task.ID] = 0
				}
			}(task)
		}
		wg.Wait()
		if firstErr != nil {
			return nil, firstErr
		}
	}
	return scores, nil
}

// bestSlot tries each lookahead window in order and returns the top slot
// of the first window that yields any, or nil when none do.
func (s *Service) bestSlot(ctx context.Context, task models.Task) (*models.TimeSlot, error) {
	start := s.now()
	for _, window := range s.windows {
		found, err := s.manager.FindAvailableSlots(ctx, task, start, start.Add(window))
		if err != nil {
			return nil, fmt.Errorf("finding slots for task %s: %w", task.ID, err)
		}
		if len(found) > 0 {
			return &found[0], nil
		}
	}
	return nil, nil
}

// commitTask persists the task's best slot and records it in the manager's
// ledger so the rest of the pass sees the interval as occupied. Returns
// false when no window yields a slot.
func (s *Service) commitTask(ctx context.Context, task *models.Task) (bool, error) {
	best, err := s.bestSlot(ctx, *task)
	if err != nil {
		return false, err
	}
	if best == nil {
		s.logger.Debug().Str("task_id", task.ID).Msg("no open slot, task skipped")
		return false, nil
	}

	duration := task.DurationOrDefault()
	if err := s.store.UpdateTaskSchedule(ctx, task.ID, best.Start, best.End, duration, best.Score); err != nil {
		return false, fmt.Errorf("persisting schedule for task %s: %w", task.ID, err)
	}

	task.ScheduledStart = &best.Start
	task.ScheduledEnd = &best.End
	task.DurationMinutes = duration
	task.AutoScheduled = true
	task.ScheduleScore = best.Score

	s.manager.AddScheduledTaskConflict(*task)

	s.logger.Debug().
		Str("task_id", task.ID).
		Time("start", best.Start).
		Float64("score", best.Score).
		Msg("task scheduled")
	return true, nil
}

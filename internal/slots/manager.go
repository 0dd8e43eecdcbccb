/*
Copyright (C) 2026 Almanac Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package slots finds and ranks open time slots for a task. The manager
// owns the per-run pipeline: generate candidates, filter by work hours,
// drop conflicting slots, tag buffer adequacy, score, sort.
package slots

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/almanac-app/almanac/internal/calendar"
	"github.com/almanac-app/almanac/internal/models"
	"github.com/almanac-app/almanac/internal/scoring"
	"github.com/almanac-app/almanac/internal/telemetry"
)

// minLeadTime keeps same-day slots from starting immediately.
const minLeadTime = 15 * time.Minute

// slotGrid is the boundary candidate starts are rounded up to.
const slotGrid = 30 * time.Minute

// TaskSource supplies the scheduled tasks used to seed the conflict ledger.
type TaskSource interface {
	AutoScheduledTasks(ctx context.Context) ([]models.Task, error)
}

// Manager runs the slot search pipeline for one scheduling run. It must
// not be shared across runs for different users: the ledger it carries
// is scoped to a single run.
type Manager struct {
	cal      *calendar.Service
	scorer   *scoring.Scorer
	ledger   *scoring.Ledger
	tasks    TaskSource
	settings models.AutoScheduleSettings
	loc      *time.Location
	logger   zerolog.Logger
	now      func() time.Time

	mu     sync.Mutex
	loaded bool
}

// New constructs a manager sharing the scorer's ledger.
func New(cal *calendar.Service, scorer *scoring.Scorer, tasks TaskSource, settings models.AutoScheduleSettings, loc *time.Location, logger zerolog.Logger) *Manager {
	if loc == nil {
		loc = time.UTC
	}
	return &Manager{
		cal:      cal,
		scorer:   scorer,
		ledger:   scorer.Ledger(),
		tasks:    tasks,
		settings: settings,
		loc:      loc,
		logger:   logger.With().Str("component", "slots").Logger(),
		now:      time.Now,
	}
}

// SetNow replaces the clock for deterministic tests.
func (m *Manager) SetNow(now func() time.Time) {
	m.now = now
}

// FindAvailableSlots returns the open slots for the task between start
// and end, sorted best-first.
func (m *Manager) FindAvailableSlots(ctx context.Context, task models.Task, start, end time.Time) ([]models.TimeSlot, error) {
	timer := time.Now()
	defer func() {
		telemetry.SlotSearchDuration.Observe(time.Since(timer).Seconds())
	}()

	if err := m.ensureLedger(ctx); err != nil {
		return nil, err
	}

	candidates := m.generateSlots(task, start, end)
	candidates = m.filterWorkHours(candidates)

	survivors, err := m.removeConflicts(ctx, candidates, task.ID)
	if err != nil {
		return nil, err
	}

	m.applyBufferTimes(survivors)

	for i := range survivors {
		survivors[i].Score = m.scorer.ScoreSlot(survivors[i], task).Total
	}

	sort.SliceStable(survivors, func(i, j int) bool {
		return survivors[i].Score > survivors[j].Score
	})

	m.logger.Debug().
		Str("task_id", task.ID).
		Int("candidates", len(candidates)).
		Int("available", len(survivors)).
		Msg("slot search complete")

	return survivors, nil
}

// IsSlotAvailable reports whether a single slot is free: within work
// hours, no calendar conflicts, no ledger conflict.
func (m *Manager) IsSlotAvailable(ctx context.Context, slot models.TimeSlot) (bool, error) {
	if err := m.ensureLedger(ctx); err != nil {
		return false, err
	}
	if !m.withinWorkHours(slot.Start, slot.End) {
		return false, nil
	}
	conflicts, err := m.cal.FindConflicts(ctx, slot.Span(), m.settings.SelectedCalendars, "")
	if err != nil {
		return false, fmt.Errorf("checking slot availability: %w", err)
	}
	if len(conflicts) > 0 {
		return false, nil
	}
	return !m.ledger.Overlapping(slot.Span()), nil
}

// AddScheduledTaskConflict records a just-committed task so later slot
// searches in the same run treat its interval as occupied.
func (m *Manager) AddScheduledTaskConflict(task models.Task) {
	if !task.IsScheduled() {
		return
	}
	m.ledger.Add(task.ProjectID, models.Span{
		Start: *task.ScheduledStart,
		End:   *task.ScheduledEnd,
	})
}

// ensureLedger seeds the conflict ledger from storage on the first slot
// search. Later searches reuse the in-memory ledger, which the scheduler
// appends to as it commits tasks.
func (m *Manager) ensureLedger(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.loaded {
		return nil
	}
	scheduled, err := m.tasks.AutoScheduledTasks(ctx)
	if err != nil {
		return fmt.Errorf("loading scheduled tasks: %w", err)
	}
	m.ledger.Replace(scheduled)
	m.loaded = true
	m.logger.Debug().Int("tasks", len(scheduled)).Msg("conflict ledger seeded")
	return nil
}

// generateSlots emits fixed-duration candidates stepping from the search
// start to the search end. The cursor never resets to the next work-hour
// start: slots that drift out of work hours are rejected by the filter
// stage, not here.
func (m *Manager) generateSlots(task models.Task, start, end time.Time) []models.TimeSlot {
	now := m.now().In(m.loc)
	localStart := start.In(m.loc)
	localEnd := roundUp(end.In(m.loc), slotGrid)
	duration := task.Duration()

	var cursor time.Time
	if sameDate(localStart, now) {
		cursor = now.Add(minLeadTime)
		if cursor.Hour() >= m.settings.WorkHourEnd {
			next := cursor.AddDate(0, 0, 1)
			cursor = time.Date(next.Year(), next.Month(), next.Day(), m.settings.WorkHourStart, 0, 0, 0, m.loc)
		}
	} else {
		cursor = time.Date(localStart.Year(), localStart.Month(), localStart.Day(), m.settings.WorkHourStart, 0, 0, 0, m.loc)
	}
	cursor = roundUp(cursor, slotGrid)

	var out []models.TimeSlot
	for cursor.Before(localEnd) {
		slotEnd := cursor.Add(duration)
		out = append(out, models.TimeSlot{
			Start:       cursor,
			End:         slotEnd,
			EnergyLevel: m.settings.EnergyLevelAt(cursor.Hour()),
		})
		cursor = slotEnd
	}
	return out
}

// filterWorkHours keeps slots whose local start lands on a work day
// inside the work-hour window, marking survivors.
func (m *Manager) filterWorkHours(candidates []models.TimeSlot) []models.TimeSlot {
	out := candidates[:0]
	for _, slot := range candidates {
		if !m.withinWorkHours(slot.Start, slot.End) {
			continue
		}
		slot.WithinWorkHours = true
		out = append(out, slot)
	}
	return out
}

// withinWorkHours is the hour-granular work-hours predicate shared by the
// filter stage and buffer tagging.
func (m *Manager) withinWorkHours(start, end time.Time) bool {
	localStart := start.In(m.loc)
	localEnd := end.In(m.loc)
	if !m.settings.IsWorkDay(int(localStart.Weekday())) {
		return false
	}
	startHour := localStart.Hour()
	endHour := localEnd.Hour()
	return startHour >= m.settings.WorkHourStart &&
		endHour <= m.settings.WorkHourEnd &&
		startHour < m.settings.WorkHourEnd
}

// removeConflicts batch-checks all candidates against the calendar in one
// fetch, then against the in-memory ledger. Slots with any conflict are
// dropped.
func (m *Manager) removeConflicts(ctx context.Context, candidates []models.TimeSlot, excludeTaskID string) ([]models.TimeSlot, error) {
	if len(candidates) == 0 {
		return nil, nil
	}
	spans := make([]models.Span, len(candidates))
	for i, slot := range candidates {
		spans[i] = slot.Span()
	}
	conflicts, err := m.cal.FindBatchConflicts(ctx, spans, m.settings.SelectedCalendars, excludeTaskID)
	if err != nil {
		return nil, fmt.Errorf("checking slot conflicts: %w", err)
	}

	out := candidates[:0]
	for i, slot := range candidates {
		slot.Conflicts = conflicts[i]
		if len(slot.Conflicts) > 0 {
			continue
		}
		if m.ledger.Overlapping(slot.Span()) {
			continue
		}
		out = append(out, slot)
	}
	return out, nil
}

// applyBufferTimes marks slots whose surrounding buffer windows both fall
// inside work hours. Buffers are not conflict-checked and do not block
// adjacent scheduling.
func (m *Manager) applyBufferTimes(slots []models.TimeSlot) {
	buffer := time.Duration(m.settings.BufferMinutes) * time.Minute
	for i := range slots {
		before := m.withinWorkHours(slots[i].Start.Add(-buffer), slots[i].Start)
		after := m.withinWorkHours(slots[i].End, slots[i].End.Add(buffer))
		slots[i].HasBufferTime = before && after
	}
}

func roundUp(t time.Time, step time.Duration) time.Time {
	rounded := t.Truncate(step)
	if rounded.Before(t) {
		rounded = rounded.Add(step)
	}
	return rounded
}

func sameDate(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month() && a.Day() == b.Day()
}

/*
Copyright (C) 2026 Almanac Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package scoring ranks candidate time slots for a task with a weighted
// multi-factor score. Scoring is pure: no I/O, only settings, the
// in-memory ledger of already-scheduled tasks, the slot, and the task.
package scoring

import (
	"math"
	"time"

	"github.com/almanac-app/almanac/internal/models"
)

// Factor weights. Deadline proximity dominates so overdue tasks
// consistently outrank non-overdue high-priority tasks.
const (
	weightWorkHourAlignment = 1.0
	weightEnergyLevelMatch  = 1.5
	weightProjectProximity  = 0.5
	weightBufferAdequacy    = 0.8
	weightTimePreference    = 1.2
	weightDeadlineProximity = 3.0
	weightPriority          = 1.8

	weightTotal = weightWorkHourAlignment + weightEnergyLevelMatch + weightProjectProximity +
		weightBufferAdequacy + weightTimePreference + weightDeadlineProximity + weightPriority
)

// Time-of-day preference bands, local hours.
const (
	morningStart   = 5
	morningEnd     = 12
	afternoonStart = 12
	afternoonEnd   = 17
	eveningStart   = 17
	eveningEnd     = 22
)

// Factors is the per-factor score breakdown, each in [0, 2].
type Factors struct {
	WorkHourAlignment float64 `json:"work_hour_alignment"`
	EnergyLevelMatch  float64 `json:"energy_level_match"`
	ProjectProximity  float64 `json:"project_proximity"`
	BufferAdequacy    float64 `json:"buffer_adequacy"`
	TimePreference    float64 `json:"time_preference"`
	DeadlineProximity float64 `json:"deadline_proximity"`
	Priority          float64 `json:"priority"`
}

// Score is the weighted total plus its breakdown.
type Score struct {
	Total   float64 `json:"total"`
	Factors Factors `json:"factors"`
}

// Scorer scores slots against one user's settings and the run's ledger.
type Scorer struct {
	settings models.AutoScheduleSettings
	loc      *time.Location
	ledger   *Ledger
	now      func() time.Time
}

// NewScorer constructs a scorer sharing the run's ledger.
func NewScorer(settings models.AutoScheduleSettings, loc *time.Location, ledger *Ledger) *Scorer {
	if loc == nil {
		loc = time.UTC
	}
	if ledger == nil {
		ledger = NewLedger()
	}
	return &Scorer{
		settings: settings,
		loc:      loc,
		ledger:   ledger,
		now:      time.Now,
	}
}

// SetNow replaces the clock for deterministic tests.
func (s *Scorer) SetNow(now func() time.Time) {
	s.now = now
}

// Ledger exposes the shared ledger.
func (s *Scorer) Ledger() *Ledger {
	return s.ledger
}

// UpdateScheduledTasks rebuilds the ledger wholesale from a task list.
func (s *Scorer) UpdateScheduledTasks(tasks []models.Task) {
	s.ledger.Replace(tasks)
}

// ScoreSlot computes the weighted multi-factor score of a slot for a task.
func (s *Scorer) ScoreSlot(slot models.TimeSlot, task models.Task) Score {
	factors := Factors{
		WorkHourAlignment: boolScore(slot.WithinWorkHours),
		EnergyLevelMatch:  s.energyLevelMatch(slot, task),
		ProjectProximity:  s.projectProximity(slot, task),
		BufferAdequacy:    boolScore(slot.HasBufferTime),
		TimePreference:    s.timePreference(slot, task),
		DeadlineProximity: s.deadlineProximity(slot, task),
		Priority:          priorityScore(task.Priority),
	}

	total := (factors.WorkHourAlignment*weightWorkHourAlignment +
		factors.EnergyLevelMatch*weightEnergyLevelMatch +
		factors.ProjectProximity*weightProjectProximity +
		factors.BufferAdequacy*weightBufferAdequacy +
		factors.TimePreference*weightTimePreference +
		factors.DeadlineProximity*weightDeadlineProximity +
		factors.Priority*weightPriority) / weightTotal

	return Score{Total: total, Factors: factors}
}

func boolScore(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// energyLevelMatch compares the task's energy preference to the slot's
// derived level on the ordinal scale high/medium/low. Exact match scores
// 1.0, adjacent 0.5, opposite 0. Missing data on either side is neutral.
func (s *Scorer) energyLevelMatch(slot models.TimeSlot, task models.Task) float64 {
	if task.EnergyLevel == "" || slot.EnergyLevel == nil {
		return 0.5
	}
	distance := energyOrdinal(task.EnergyLevel) - energyOrdinal(*slot.EnergyLevel)
	if distance < 0 {
		distance = -distance
	}
	switch distance {
	case 0:
		return 1.0
	case 1:
		return 0.5
	default:
		return 0
	}
}

func energyOrdinal(level models.EnergyLevel) int {
	switch level {
	case models.EnergyHigh:
		return 0
	case models.EnergyMedium:
		return 1
	default:
		return 2
	}
}

// timePreference scores band membership when the task states a preference.
// Without one it decays exponentially with distance from now, halving
// every 7 days, so nearer slots are preferred.
func (s *Scorer) timePreference(slot models.TimeSlot, task models.Task) float64 {
	hour := slot.Start.In(s.loc).Hour()
	switch task.PreferredTime {
	case models.PreferMorning:
		return hourBand(hour, morningStart, morningEnd)
	case models.PreferAfternoon:
		return hourBand(hour, afternoonStart, afternoonEnd)
	case models.PreferEvening:
		return hourBand(hour, eveningStart, eveningEnd)
	}

	daysFromNow := slot.Start.Sub(s.now()).Hours() / 24
	return math.Exp(-(math.Ln2 / 7) * daysFromNow)
}

func hourBand(hour, start, end int) float64 {
	if hour >= start && hour < end {
		return 1
	}
	return 0
}

// deadlineProximity is the dominant factor. Overdue tasks score above 1.0
// (approaching but never exceeding 2.0), discounted the further out the
// slot is. Non-overdue tasks decay with distance from the deadline,
// capped just below the overdue floor.
func (s *Scorer) deadlineProximity(slot models.TimeSlot, task models.Task) float64 {
	if task.DueDate == nil {
		return 0.5
	}

	now := s.now()
	due := *task.DueDate

	if due.Before(now) {
		daysOverdue := now.Sub(due).Hours() / 24
		baseScore := math.Min(2.0, 1.0+daysOverdue/14)
		daysUntilSlot := slot.Start.Sub(now).Hours() / 24
		timePenalty := math.Min(0.5, daysUntilSlot/14)
		return baseScore * (1 - timePenalty)
	}

	daysToDeadline := due.Sub(slot.Start).Hours() / 24
	return math.Min(0.99, math.Exp(-daysToDeadline/3))
}

// projectProximity rewards slots close to other tasks in the same project.
// Neutral when grouping is off, the task has no project, or nothing is
// ledgered for that project yet.
func (s *Scorer) projectProximity(slot models.TimeSlot, task models.Task) float64 {
	if task.ProjectID == "" || !s.settings.GroupByProject {
		return 0.5
	}
	spans := s.ledger.Spans(task.ProjectID)
	if len(spans) == 0 {
		return 0.5
	}

	minHours := math.Inf(1)
	for _, span := range spans {
		startGap := math.Abs(slot.Start.Sub(span.Start).Hours())
		endGap := math.Abs(slot.End.Sub(span.End).Hours())
		gap := math.Min(startGap, endGap)
		if gap < minHours {
			minHours = gap
		}
	}
	return math.Exp(-minHours / 4)
}

func priorityScore(priority models.Priority) float64 {
	switch priority {
	case models.PriorityHigh:
		return 1.0
	case models.PriorityMedium:
		return 0.75
	case models.PriorityLow:
		return 0.5
	default:
		return 0.25
	}
}

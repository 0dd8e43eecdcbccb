/*
Copyright (C) 2026 Almanac Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package calendar answers conflict queries against external calendar events
// and already-scheduled tasks, caching event fetches by week-aligned range.
package calendar

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/almanac-app/almanac/internal/models"
	"github.com/almanac-app/almanac/internal/telemetry"
	"github.com/rs/zerolog"
)

// DefaultCacheTTL bounds how long a cached event range is served.
const DefaultCacheTTL = 30 * time.Minute

// EventSource supplies external calendar events.
type EventSource interface {
	EventsBetween(ctx context.Context, feedIDs []string, start, end time.Time) ([]models.CalendarEvent, error)
}

// TaskSource supplies already-scheduled tasks for conflict checks.
type TaskSource interface {
	ScheduledTasksBetween(ctx context.Context, start, end time.Time, excludeTaskID string) ([]models.Task, error)
}

// eventCache is the single-slot cache of one week-aligned fetch.
// Valid only for the same sorted feed-id set, within the TTL, and for
// requested ranges whose week-aligned bounds fall inside the cached bounds.
type eventCache struct {
	events    []models.CalendarEvent
	startDay  time.Time
	endDay    time.Time
	feedIDs   []string // sorted
	fetchedAt time.Time
}

// Service fetches calendar events and reports slot conflicts.
// One instance per scheduling run; the cache is a single mutable slot and
// is not meant to be shared across concurrent runs for different users.
type Service struct {
	events EventSource
	tasks  TaskSource
	loc    *time.Location
	ttl    time.Duration
	logger zerolog.Logger
	now    func() time.Time

	mu     sync.Mutex
	cached *eventCache
}

// New constructs a calendar service. A non-positive ttl falls back to the default.
func New(events EventSource, tasks TaskSource, loc *time.Location, ttl time.Duration, logger zerolog.Logger) *Service {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		events: events,
		tasks:  tasks,
		loc:    loc,
		ttl:    ttl,
		logger: logger,
		now:    time.Now,
	}
}

// SetNow replaces the clock. Tests use this for deterministic TTL checks.
func (s *Service) SetNow(now func() time.Time) {
	s.now = now
}

// WeekStart snaps to local midnight of the Sunday at or before t.
func WeekStart(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, -int(lt.Weekday()))
}

// WeekEnd snaps to local midnight of the Saturday at or after t.
func WeekEnd(t time.Time, loc *time.Location) time.Time {
	lt := t.In(loc)
	midnight := time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, loc)
	return midnight.AddDate(0, 0, int(time.Saturday)-int(lt.Weekday()))
}

// Events returns all events from the given feeds intersecting [start, end].
// An empty feed set short-circuits to an empty result without a fetch.
// Fetches cover the full week-aligned range plus one padding day and replace
// the cache wholesale.
func (s *Service) Events(ctx context.Context, start, end time.Time, feedIDs []string) ([]models.CalendarEvent, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}

	sorted := make([]string, len(feedIDs))
	copy(sorted, feedIDs)
	sort.Strings(sorted)

	weekStart := WeekStart(start, s.loc)
	weekEnd := WeekEnd(end, s.loc)

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cacheValid(sorted, weekStart, weekEnd) {
		telemetry.CalendarCacheHits.Inc()
		return filterEvents(s.cached.events, start, end), nil
	}
	telemetry.CalendarCacheMisses.Inc()

	fetchEnd := weekEnd.AddDate(0, 0, 1)
	events, err := s.events.EventsBetween(ctx, sorted, weekStart, fetchEnd)
	if err != nil {
		return nil, err
	}

	s.cached = &eventCache{
		events:    events,
		startDay:  weekStart,
		endDay:    weekEnd,
		feedIDs:   sorted,
		fetchedAt: s.now(),
	}
	s.logger.Debug().
		Time("start_day", weekStart).
		Time("end_day", weekEnd).
		Int("events", len(events)).
		Msg("calendar event cache refreshed")

	return filterEvents(events, start, end), nil
}

// Invalidate drops the cached events. Mutation paths call this so a
// long-lived service does not serve stale conflict data for up to the TTL.
func (s *Service) Invalidate() {
	s.mu.Lock()
	s.cached = nil
	s.mu.Unlock()
}

func (s *Service) cacheValid(sortedIDs []string, weekStart, weekEnd time.Time) bool {
	c := s.cached
	if c == nil {
		return false
	}
	if s.now().Sub(c.fetchedAt) > s.ttl {
		return false
	}
	if !equalIDs(c.feedIDs, sortedIDs) {
		return false
	}
	return !weekStart.Before(c.startDay) && !weekEnd.After(c.endDay)
}

func equalIDs(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func filterEvents(events []models.CalendarEvent, start, end time.Time) []models.CalendarEvent {
	out := make([]models.CalendarEvent, 0, len(events))
	for _, ev := range events {
		if ev.StartsAt.Before(end) && ev.EndsAt.After(start) {
			out = append(out, ev)
		}
	}
	return out
}

// FindConflicts reports conflicts for one slot. The first overlapping
// calendar event wins: it is returned alone and task conflicts are not
// checked for that slot. With no event conflict, every overlapping
// scheduled task is reported.
func (s *Service) FindConflicts(ctx context.Context, slot models.Span, feedIDs []string, excludeTaskID string) ([]models.Conflict, error) {
	events, err := s.Events(ctx, slot.Start, slot.End, feedIDs)
	if err != nil {
		return nil, err
	}
	if conflict, ok := firstEventConflict(events, slot); ok {
		return []models.Conflict{conflict}, nil
	}

	tasks, err := s.tasks.ScheduledTasksBetween(ctx, slot.Start, slot.End, excludeTaskID)
	if err != nil {
		return nil, err
	}
	return taskConflicts(tasks, slot), nil
}

// FindBatchConflicts checks many slots with a single event and task fetch
// over the union range. Per slot, results are identical to FindConflicts.
func (s *Service) FindBatchConflicts(ctx context.Context, slots []models.Span, feedIDs []string, excludeTaskID string) ([][]models.Conflict, error) {
	if len(slots) == 0 {
		return nil, nil
	}

	union := slots[0]
	for _, slot := range slots[1:] {
		if slot.Start.Before(union.Start) {
			union.Start = slot.Start
		}
		if slot.End.After(union.End) {
			union.End = slot.End
		}
	}

	events, err := s.Events(ctx, union.Start, union.End, feedIDs)
	if err != nil {
		return nil, err
	}
	tasks, err := s.tasks.ScheduledTasksBetween(ctx, union.Start, union.End, excludeTaskID)
	if err != nil {
		return nil, err
	}

	results := make([][]models.Conflict, len(slots))
	for i, slot := range slots {
		if conflict, ok := firstEventConflict(events, slot); ok {
			results[i] = []models.Conflict{conflict}
			continue
		}
		results[i] = taskConflicts(tasks, slot)
	}
	return results, nil
}

func firstEventConflict(events []models.CalendarEvent, slot models.Span) (models.Conflict, bool) {
	for _, ev := range events {
		if ev.StartsAt.Before(slot.End) && ev.EndsAt.After(slot.Start) {
			return models.Conflict{
				Type:  models.ConflictCalendarEvent,
				Start: ev.StartsAt,
				End:   ev.EndsAt,
				Title: ev.Title,
				Source: models.ConflictSource{
					Type: models.ConflictCalendarEvent,
					ID:   ev.ID,
				},
			}, true
		}
	}
	return models.Conflict{}, false
}

func taskConflicts(tasks []models.Task, slot models.Span) []models.Conflict {
	var conflicts []models.Conflict
	for _, task := range tasks {
		if !task.IsScheduled() {
			continue
		}
		if task.ScheduledStart.Before(slot.End) && task.ScheduledEnd.After(slot.Start) {
			conflicts = append(conflicts, models.Conflict{
				Type:  models.ConflictTask,
				Start: *task.ScheduledStart,
				End:   *task.ScheduledEnd,
				Title: task.Title,
				Source: models.ConflictSource{
					Type: models.ConflictTask,
					ID:   task.ID,
				},
			})
		}
	}
	return conflicts
}

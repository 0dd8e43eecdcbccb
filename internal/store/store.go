/*
Copyright (C) 2026 Almanac Contributors

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package store is the gorm-backed persistence layer. All task, event,
// and settings access is scoped to one user through UserStore.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/almanac-app/almanac/internal/models"
)

// Store wraps the shared database handle.
type Store struct {
	db *gorm.DB
}

// New constructs a store from a connected database.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// User returns a store scoped to one user's records.
func (s *Store) User(userID string) *UserStore {
	return &UserStore{db: s.db, userID: userID}
}

// UserStore answers queries for a single user.
type UserStore struct {
	db     *gorm.DB
	userID string
}

// UserID returns the owning user id.
func (u *UserStore) UserID() string {
	return u.userID
}

// Tasks returns all of the user's tasks.
func (u *UserStore) Tasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	err := u.db.WithContext(ctx).
		Where("user_id = ?", u.userID).
		Order("created_at").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return tasks, nil
}

// PendingTasks returns the tasks eligible for a scheduling run.
func (u *UserStore) PendingTasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	err := u.db.WithContext(ctx).
		Where("user_id = ? AND completed = ?", u.userID, false).
		Order("created_at").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("listing pending tasks: %w", err)
	}
	return tasks, nil
}

// AutoScheduledTasks returns the user's auto-scheduled, uncompleted tasks
// that hold a scheduled interval. Seeds the run's conflict ledger.
func (u *UserStore) AutoScheduledTasks(ctx context.Context) ([]models.Task, error) {
	var tasks []models.Task
	err := u.db.WithContext(ctx).
		Where("user_id = ? AND auto_scheduled = ? AND completed = ?", u.userID, true, false).
		Where("scheduled_start IS NOT NULL AND scheduled_end IS NOT NULL").
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("listing scheduled tasks: %w", err)
	}
	return tasks, nil
}

// ScheduledTasksBetween returns scheduled tasks overlapping [start, end),
// excluding one task id when set.
func (u *UserStore) ScheduledTasksBetween(ctx context.Context, start, end time.Time, excludeTaskID string) ([]models.Task, error) {
	q := u.db.WithContext(ctx).
		Where("user_id = ? AND completed = ?", u.userID, false).
		Where("scheduled_start < ? AND scheduled_end > ?", end, start)
	if excludeTaskID != "" {
		q = q.Where("id <> ?", excludeTaskID)
	}
	var tasks []models.Task
	if err := q.Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("listing scheduled tasks in range: %w", err)
	}
	return tasks, nil
}

// TasksByID returns the tasks matching the id list, in storage order.
func (u *UserStore) TasksByID(ctx context.Context, ids []string) ([]models.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var tasks []models.Task
	err := u.db.WithContext(ctx).
		Where("user_id = ? AND id IN ?", u.userID, ids).
		Find(&tasks).Error
	if err != nil {
		return nil, fmt.Errorf("fetching tasks by id: %w", err)
	}
	return tasks, nil
}

// CreateTask inserts a task, assigning an id when absent.
func (u *UserStore) CreateTask(ctx context.Context, task *models.Task) error {
	if task.ID == "" {
		task.ID = uuid.NewString()
	}
	task.UserID = u.userID
	if err := u.db.WithContext(ctx).Create(task).Error; err != nil {
		return fmt.Errorf("creating task: %w", err)
	}
	return nil
}

// UpdateTaskSchedule persists one task's schedule assignment.
func (u *UserStore) UpdateTaskSchedule(ctx context.Context, taskID string, start, end time.Time, durationMinutes int, score float64) error {
	result := u.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("id = ? AND user_id = ?", taskID, u.userID).
		Updates(map[string]any{
			"scheduled_start":  start,
			"scheduled_end":    end,
			"duration_minutes": durationMinutes,
			"auto_scheduled":   true,
			"schedule_score":   score,
		})
	if result.Error != nil {
		return fmt.Errorf("updating task schedule: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("updating task schedule: task %s not found", taskID)
	}
	return nil
}

// ClearSchedules wipes the scheduled fields of every auto-scheduled,
// unlocked task.
func (u *UserStore) ClearSchedules(ctx context.Context) (int64, error) {
	result := u.db.WithContext(ctx).
		Model(&models.Task{}).
		Where("user_id = ? AND auto_scheduled = ? AND schedule_locked = ?", u.userID, true, false).
		Updates(map[string]any{
			"scheduled_start": nil,
			"scheduled_end":   nil,
			"auto_scheduled":  false,
			"schedule_score":  0,
		})
	if result.Error != nil {
		return 0, fmt.Errorf("clearing schedules: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// EventsBetween returns calendar events from the given feeds overlapping
// [start, end).
func (u *UserStore) EventsBetween(ctx context.Context, feedIDs []string, start, end time.Time) ([]models.CalendarEvent, error) {
	if len(feedIDs) == 0 {
		return nil, nil
	}
	var events []models.CalendarEvent
	err := u.db.WithContext(ctx).
		Where("user_id = ? AND feed_id IN ?", u.userID, feedIDs).
		Where("starts_at < ? AND ends_at > ?", end, start).
		Order("starts_at").
		Find(&events).Error
	if err != nil {
		return nil, fmt.Errorf("listing calendar events: %w", err)
	}
	return events, nil
}

// Settings returns the user's scheduling settings, falling back to
// defaults when none are stored yet.
func (u *UserStore) Settings(ctx context.Context) (models.AutoScheduleSettings, error) {
	var settings models.AutoScheduleSettings
	err := u.db.WithContext(ctx).
		Where("user_id = ?", u.userID).
		First(&settings).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return DefaultSettings(u.userID), nil
	}
	if err != nil {
		return models.AutoScheduleSettings{}, fmt.Errorf("fetching settings: %w", err)
	}
	return settings, nil
}

// SaveSettings upserts the user's scheduling settings.
func (u *UserStore) SaveSettings(ctx context.Context, settings models.AutoScheduleSettings) error {
	settings.UserID = u.userID
	err := u.db.WithContext(ctx).Save(&settings).Error
	if err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

// DefaultSettings is the configuration applied before a user saves their
// own: Monday through Friday, nine to five, UTC.
func DefaultSettings(userID string) models.AutoScheduleSettings {
	return models.AutoScheduleSettings{
		UserID:        userID,
		Timezone:      "UTC",
		WorkDays:      []int{1, 2, 3, 4, 5},
		WorkHourStart: 9,
		WorkHourEnd:   17,
		BufferMinutes: 15,
	}
}

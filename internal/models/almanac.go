package models

import (
	"time"
)

// Priority enumerates task priority levels.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityMedium Priority = "medium"
	PriorityLow    Priority = "low"
	PriorityNone   Priority = "none"
)

// EnergyLevel is a coarse label for both tasks and times of day.
type EnergyLevel string

const (
	EnergyHigh   EnergyLevel = "high"
	EnergyMedium EnergyLevel = "medium"
	EnergyLow    EnergyLevel = "low"
)

// PreferredTime names a broad time-of-day band.
type PreferredTime string

const (
	PreferMorning   PreferredTime = "morning"
	PreferAfternoon PreferredTime = "afternoon"
	PreferEvening   PreferredTime = "evening"
)

// DefaultTaskDurationMinutes applies when a task has no duration set.
const DefaultTaskDurationMinutes = 30

// Task is a user task, optionally placed on the calendar by the scheduler.
type Task struct {
	ID              string `gorm:"type:uuid;primaryKey"`
	UserID          string `gorm:"type:uuid;index"`
	ProjectID       string `gorm:"type:uuid;index"`
	Title           string `gorm:"index"`
	DurationMinutes int
	DueDate         *time.Time
	StartDate       *time.Time
	Priority        Priority      `gorm:"type:varchar(16)"`
	EnergyLevel     EnergyLevel   `gorm:"type:varchar(16)"`
	PreferredTime   PreferredTime `gorm:"type:varchar(16)"`
	AutoScheduled   bool          `gorm:"index"`
	ScheduleLocked  bool
	Completed       bool `gorm:"index"`
	ScheduledStart  *time.Time
	ScheduledEnd    *time.Time
	ScheduleScore   float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// DurationOrDefault returns the task duration in minutes, defaulting to 30.
func (t Task) DurationOrDefault() int {
	if t.DurationMinutes <= 0 {
		return DefaultTaskDurationMinutes
	}
	return t.DurationMinutes
}

// Duration returns the effective task duration.
func (t Task) Duration() time.Duration {
	return time.Duration(t.DurationOrDefault()) * time.Minute
}

// IsScheduled reports whether both scheduled endpoints are set.
func (t Task) IsScheduled() bool {
	return t.ScheduledStart != nil && t.ScheduledEnd != nil
}

// Project groups tasks for proximity scoring.
type Project struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	UserID    string `gorm:"type:uuid;index"`
	Name      string `gorm:"index"`
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CalendarFeed is an external calendar the user has connected.
type CalendarFeed struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	UserID    string `gorm:"type:uuid;index"`
	Name      string
	Provider  string `gorm:"type:varchar(32)"`
	Selected  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// CalendarEvent is a synced event from an external feed.
type CalendarEvent struct {
	ID        string `gorm:"type:uuid;primaryKey"`
	FeedID    string `gorm:"type:uuid;index"`
	UserID    string `gorm:"type:uuid;index"`
	Title     string
	StartsAt  time.Time `gorm:"index"`
	EndsAt    time.Time `gorm:"index"`
	AllDay    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// AutoScheduleSettings is the per-user scheduling configuration.
type AutoScheduleSettings struct {
	UserID            string `gorm:"type:uuid;primaryKey"`
	Timezone          string `gorm:"type:varchar(64)"`
	WorkDays          []int  `gorm:"serializer:json"`
	WorkHourStart     int
	WorkHourEnd       int
	BufferMinutes     int
	SelectedCalendars []string `gorm:"serializer:json"`
	GroupByProject    bool
	HighEnergyStart   *int
	HighEnergyEnd     *int
	MediumEnergyStart *int
	MediumEnergyEnd   *int
	LowEnergyStart    *int
	LowEnergyEnd      *int
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// IsWorkDay reports whether the weekday (0=Sunday) is a configured work day.
func (s AutoScheduleSettings) IsWorkDay(weekday int) bool {
	for _, d := range s.WorkDays {
		if d == weekday {
			return true
		}
	}
	return false
}

// EnergyLevelAt derives the energy level for a local hour from the configured
// windows. Returns nil when no window is set or the hour is outside all of them.
func (s AutoScheduleSettings) EnergyLevelAt(hour int) *EnergyLevel {
	if inHourWindow(hour, s.HighEnergyStart, s.HighEnergyEnd) {
		level := EnergyHigh
		return &level
	}
	if inHourWindow(hour, s.MediumEnergyStart, s.MediumEnergyEnd) {
		level := EnergyMedium
		return &level
	}
	if inHourWindow(hour, s.LowEnergyStart, s.LowEnergyEnd) {
		level := EnergyLow
		return &level
	}
	return nil
}

func inHourWindow(hour int, start, end *int) bool {
	if start == nil || end == nil {
		return false
	}
	return hour >= *start && hour < *end
}

// ConflictType distinguishes conflict origins.
type ConflictType string

const (
	ConflictCalendarEvent ConflictType = "calendar_event"
	ConflictTask          ConflictType = "task"
)

// ConflictSource identifies the record that produced a conflict.
type ConflictSource struct {
	Type ConflictType `json:"type"`
	ID   string       `json:"id"`
}

// Conflict records one overlap between a candidate slot and existing items.
type Conflict struct {
	Type   ConflictType   `json:"type"`
	Start  time.Time      `json:"start"`
	End    time.Time      `json:"end"`
	Title  string         `json:"title"`
	Source ConflictSource `json:"source"`
}

// Span is a half-open time interval [Start, End).
type Span struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Overlaps reports whether two intervals intersect.
func (s Span) Overlaps(start, end time.Time) bool {
	return s.Start.Before(end) && s.End.After(start)
}

// TimeSlot is a candidate interval considered for placing one task.
// Slots are created, scored, and discarded within a single slot search.
type TimeSlot struct {
	Start           time.Time
	End             time.Time
	Score           float64
	Conflicts       []Conflict
	EnergyLevel     *EnergyLevel
	WithinWorkHours bool
	HasBufferTime   bool
}

// Span returns the slot interval.
func (ts TimeSlot) Span() Span {
	return Span{Start: ts.Start, End: ts.End}
}

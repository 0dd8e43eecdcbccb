package slots

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/almanac-app/almanac/internal/calendar"
	"github.com/almanac-app/almanac/internal/models"
	"github.com/almanac-app/almanac/internal/scoring"
)

// Wednesday, 10:05 local. Round-up lands the first same-day slot on 10:30.
var managerNow = time.Date(2026, 3, 4, 10, 5, 0, 0, time.UTC)

// fakeStorage backs both the calendar service and the ledger seed.
type fakeStorage struct {
	events    []models.CalendarEvent
	scheduled []models.Task
}

func (f *fakeStorage) EventsBetween(ctx context.Context, feedIDs []string, start, end time.Time) ([]models.CalendarEvent, error) {
	return f.events, nil
}

func (f *fakeStorage) ScheduledTasksBetween(ctx context.Context, start, end time.Time, excludeTaskID string) ([]models.Task, error) {
	var out []models.Task
	for _, task := range f.scheduled {
		if task.ID != excludeTaskID {
			out = append(out, task)
		}
	}
	return out, nil
}

func (f *fakeStorage) AutoScheduledTasks(ctx context.Context) ([]models.Task, error) {
	return f.scheduled, nil
}

func workWeekSettings() models.AutoScheduleSettings {
	intp := func(v int) *int { return &v }
	return models.AutoScheduleSettings{
		WorkDays:          []int{1, 2, 3, 4, 5},
		WorkHourStart:     9,
		WorkHourEnd:       17,
		BufferMinutes:     30,
		SelectedCalendars: []string{"feed-1"},
		HighEnergyStart:   intp(9),
		HighEnergyEnd:     intp(12),
	}
}

func newTestManager(storage *fakeStorage, settings models.AutoScheduleSettings) *Manager {
	cal := calendar.New(storage, storage, time.UTC, 30*time.Minute, zerolog.Nop())
	cal.SetNow(func() time.Time { return managerNow })

	scorer := scoring.NewScorer(settings, time.UTC, scoring.NewLedger())
	scorer.SetNow(func() time.Time { return managerNow })

	m := New(cal, scorer, storage, settings, time.UTC, zerolog.Nop())
	m.SetNow(func() time.Time { return managerNow })
	return m
}

func TestFindAvailableSlotsSameDay(t *testing.T) {
	m := newTestManager(&fakeStorage{}, workWeekSettings())
	task := models.Task{ID: "task-1", DurationMinutes: 30}

	found, err := m.FindAvailableSlots(context.Background(), task, managerNow, managerNow.Add(6*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(found) == 0 {
		t.Fatal("expected slots on a free work day")
	}

	earliest := found[0]
	for _, slot := range found[1:] {
		if slot.Start.Before(earliest.Start) {
			earliest = slot
		}
	}
	wantFirst := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	if !earliest.Start.Equal(wantFirst) {
		t.Errorf("earliest slot starts %v, want %v (now + lead time, rounded up)", earliest.Start, wantFirst)
	}

	for _, slot := range found {
		if !slot.WithinWorkHours {
			t.Errorf("slot %v not marked within work hours", slot.Start)
		}
		if slot.Start.Hour() < 9 || slot.Start.Hour() >= 17 {
			t.Errorf("slot %v outside work hours", slot.Start)
		}
		if slot.End.Sub(slot.Start) != 30*time.Minute {
			t.Errorf("slot %v has wrong duration %v", slot.Start, slot.End.Sub(slot.Start))
		}
	}

	// 10:30 is inside the configured high-energy window.
	if earliest.EnergyLevel == nil || *earliest.EnergyLevel != models.EnergyHigh {
		t.Errorf("earliest slot energy = %v, want high", earliest.EnergyLevel)
	}
}

func TestFindAvailableSlotsAfterWorkHoursJumpsToNextDay(t *testing.T) {
	m := newTestManager(&fakeStorage{}, workWeekSettings())
	lateNow := time.Date(2026, 3, 4, 16, 50, 0, 0, time.UTC)
	m.SetNow(func() time.Time { return lateNow })

	found, err := m.FindAvailableSlots(context.Background(), models.Task{ID: "task-1"}, lateNow, lateNow.Add(24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(found) == 0 {
		t.Fatal("expected slots on the next work day")
	}

	wantFirst := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	for _, slot := range found {
		if slot.Start.Before(wantFirst) {
			t.Errorf("slot %v before next-day work start %v", slot.Start, wantFirst)
		}
	}
}

func TestFindAvailableSlotsSkipsNonWorkDays(t *testing.T) {
	m := newTestManager(&fakeStorage{}, workWeekSettings())
	// Friday evening through Monday.
	friday := time.Date(2026, 3, 6, 18, 0, 0, 0, time.UTC)
	m.SetNow(func() time.Time { return friday })

	found, err := m.FindAvailableSlots(context.Background(), models.Task{ID: "task-1"}, friday, friday.AddDate(0, 0, 4))
	if err != nil {
		t.Fatal(err)
	}
	for _, slot := range found {
		wd := int(slot.Start.Weekday())
		if wd == 0 || wd == 6 {
			t.Errorf("slot %v lands on a weekend", slot.Start)
		}
	}
}

func TestFindAvailableSlotsDropsCalendarConflicts(t *testing.T) {
	busy := models.Span{
		Start: time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 4, 11, 30, 0, 0, time.UTC),
	}
	storage := &fakeStorage{events: []models.CalendarEvent{
		{ID: "ev-1", FeedID: "feed-1", Title: "standup", StartsAt: busy.Start, EndsAt: busy.End},
	}}
	m := newTestManager(storage, workWeekSettings())

	found, err := m.FindAvailableSlots(context.Background(), models.Task{ID: "task-1"}, managerNow, managerNow.Add(6*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if len(found) == 0 {
		t.Fatal("expected slots around the busy interval")
	}
	for _, slot := range found {
		if slot.Start.Before(busy.End) && slot.End.After(busy.Start) {
			t.Errorf("slot %v overlaps the calendar event", slot.Start)
		}
	}
}

func TestFindAvailableSlotsRespectsLedger(t *testing.T) {
	m := newTestManager(&fakeStorage{}, workWeekSettings())

	committed := time.Date(2026, 3, 4, 10, 30, 0, 0, time.UTC)
	committedEnd := committed.Add(30 * time.Minute)
	m.AddScheduledTaskConflict(models.Task{
		ID:             "earlier-in-batch",
		ScheduledStart: &committed,
		ScheduledEnd:   &committedEnd,
	})

	found, err := m.FindAvailableSlots(context.Background(), models.Task{ID: "task-1"}, managerNow, managerNow.Add(6*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	for _, slot := range found {
		if slot.Start.Before(committedEnd) && slot.End.After(committed) {
			t.Errorf("slot %v overlaps a ledgered task", slot.Start)
		}
	}
}

func TestFindAvailableSlotsSeedsLedgerFromStorage(t *testing.T) {
	stored := time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC)
	storedEnd := stored.Add(time.Hour)
	storage := &fakeStorage{scheduled: []models.Task{
		{ID: "persisted", ScheduledStart: &stored, ScheduledEnd: &storedEnd},
	}}
	m := newTestManager(storage, workWeekSettings())

	found, err := m.FindAvailableSlots(context.Background(), models.Task{ID: "task-1"}, managerNow, managerNow.Add(6*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	for _, slot := range found {
		if slot.Start.Before(storedEnd) && slot.End.After(stored) {
			t.Errorf("slot %v overlaps a stored scheduled task", slot.Start)
		}
	}
}

func TestBufferTagging(t *testing.T) {
	m := newTestManager(&fakeStorage{}, workWeekSettings())

	// Search a future day so generation starts at the work-hour boundary.
	thursday := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	found, err := m.FindAvailableSlots(context.Background(), models.Task{ID: "task-1"}, thursday, thursday.Add(12*time.Hour))
	if err != nil {
		t.Fatal(err)
	}

	byStart := make(map[int]models.TimeSlot)
	for _, slot := range found {
		byStart[slot.Start.Hour()*60+slot.Start.Minute()] = slot
	}

	first, ok := byStart[9*60]
	if !ok {
		t.Fatal("expected a slot at work-hour start")
	}
	if first.HasBufferTime {
		t.Error("slot at the work-hour boundary has no room for a leading buffer")
	}

	mid, ok := byStart[10*60]
	if !ok {
		t.Fatal("expected a mid-morning slot")
	}
	if !mid.HasBufferTime {
		t.Error("mid-morning slot should have buffer room on both sides")
	}
}

func TestSlotsSortedByScore(t *testing.T) {
	m := newTestManager(&fakeStorage{}, workWeekSettings())

	found, err := m.FindAvailableSlots(context.Background(), models.Task{ID: "task-1", PreferredTime: models.PreferMorning}, managerNow, managerNow.AddDate(0, 0, 2))
	if err != nil {
		t.Fatal(err)
	}
	if len(found) < 2 {
		t.Fatal("expected multiple slots")
	}
	for i := 1; i < len(found); i++ {
		if found[i].Score > found[i-1].Score {
			t.Errorf("slots out of order at %d: %v after %v", i, found[i].Score, found[i-1].Score)
		}
	}
}

func TestIsSlotAvailable(t *testing.T) {
	busy := models.Span{
		Start: time.Date(2026, 3, 4, 13, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 4, 14, 0, 0, 0, time.UTC),
	}
	storage := &fakeStorage{events: []models.CalendarEvent{
		{ID: "ev-1", FeedID: "feed-1", StartsAt: busy.Start, EndsAt: busy.End},
	}}
	m := newTestManager(storage, workWeekSettings())
	ctx := context.Background()

	free := models.TimeSlot{
		Start: time.Date(2026, 3, 4, 11, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 4, 11, 30, 0, 0, time.UTC),
	}
	if ok, err := m.IsSlotAvailable(ctx, free); err != nil || !ok {
		t.Errorf("free in-hours slot should be available, got %v, %v", ok, err)
	}

	conflicting := models.TimeSlot{
		Start: busy.Start.Add(30 * time.Minute),
		End:   busy.End.Add(30 * time.Minute),
	}
	if ok, err := m.IsSlotAvailable(ctx, conflicting); err != nil || ok {
		t.Errorf("slot over a calendar event should be unavailable, got %v, %v", ok, err)
	}

	evening := models.TimeSlot{
		Start: time.Date(2026, 3, 4, 20, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 3, 4, 20, 30, 0, 0, time.UTC),
	}
	if ok, err := m.IsSlotAvailable(ctx, evening); err != nil || ok {
		t.Errorf("out-of-hours slot should be unavailable, got %v, %v", ok, err)
	}
}

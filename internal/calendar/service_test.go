package calendar

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/almanac-app/almanac/internal/models"
)

type fakeEventSource struct {
	events []models.CalendarEvent
	calls  int

	lastStart time.Time
	lastEnd   time.Time
}

func (f *fakeEventSource) EventsBetween(ctx context.Context, feedIDs []string, start, end time.Time) ([]models.CalendarEvent, error) {
	f.calls++
	f.lastStart = start
	f.lastEnd = end
	return f.events, nil
}

type fakeTaskSource struct {
	tasks []models.Task
	calls int
}

func (f *fakeTaskSource) ScheduledTasksBetween(ctx context.Context, start, end time.Time, excludeTaskID string) ([]models.Task, error) {
	f.calls++
	var out []models.Task
	for _, task := range f.tasks {
		if task.ID == excludeTaskID {
			continue
		}
		out = append(out, task)
	}
	return out, nil
}

// 2026-03-01 is a Sunday.
var wednesday = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func event(id string, start time.Time, d time.Duration) models.CalendarEvent {
	return models.CalendarEvent{ID: id, FeedID: "feed-1", Title: id, StartsAt: start, EndsAt: start.Add(d)}
}

func scheduledTask(id string, start time.Time, d time.Duration) models.Task {
	end := start.Add(d)
	return models.Task{ID: id, Title: id, ScheduledStart: &start, ScheduledEnd: &end}
}

func newTestService(events *fakeEventSource, tasks *fakeTaskSource) *Service {
	svc := New(events, tasks, time.UTC, 30*time.Minute, zerolog.Nop())
	svc.SetNow(func() time.Time { return wednesday })
	return svc
}

func TestWeekAlignment(t *testing.T) {
	tests := []struct {
		name      string
		input     time.Time
		wantStart time.Time
		wantEnd   time.Time
	}{
		{
			name:      "mid-week",
			input:     wednesday,
			wantStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "sunday is its own week start",
			input:     time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC),
			wantStart: time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC),
		},
		{
			name:      "week spanning a month boundary",
			input:     time.Date(2026, 3, 31, 12, 0, 0, 0, time.UTC),
			wantStart: time.Date(2026, 3, 29, 0, 0, 0, 0, time.UTC),
			wantEnd:   time.Date(2026, 4, 4, 0, 0, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := WeekStart(tt.input, time.UTC); !got.Equal(tt.wantStart) {
				t.Errorf("WeekStart = %v, want %v", got, tt.wantStart)
			}
			if got := WeekEnd(tt.input, time.UTC); !got.Equal(tt.wantEnd) {
				t.Errorf("WeekEnd = %v, want %v", got, tt.wantEnd)
			}
		})
	}
}

func TestEventsFetchesWeekAlignedRangeWithPadding(t *testing.T) {
	events := &fakeEventSource{}
	svc := newTestService(events, &fakeTaskSource{})

	_, err := svc.Events(context.Background(), wednesday, wednesday.Add(2*time.Hour), []string{"feed-1"})
	if err != nil {
		t.Fatal(err)
	}

	wantStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	wantEnd := time.Date(2026, 3, 8, 0, 0, 0, 0, time.UTC)
	if !events.lastStart.Equal(wantStart) || !events.lastEnd.Equal(wantEnd) {
		t.Errorf("fetched [%v, %v], want [%v, %v]", events.lastStart, events.lastEnd, wantStart, wantEnd)
	}
}

func TestEventsCacheReuse(t *testing.T) {
	events := &fakeEventSource{events: []models.CalendarEvent{
		event("ev-1", wednesday.Add(time.Hour), time.Hour),
	}}
	svc := newTestService(events, &fakeTaskSource{})
	ctx := context.Background()
	feeds := []string{"feed-1"}

	if _, err := svc.Events(ctx, wednesday, wednesday.Add(time.Hour), feeds); err != nil {
		t.Fatal(err)
	}
	if events.calls != 1 {
		t.Fatalf("first call should fetch, got %d calls", events.calls)
	}

	// Different range, same week: served from cache.
	got, err := svc.Events(ctx, wednesday.Add(30*time.Minute), wednesday.Add(3*time.Hour), feeds)
	if err != nil {
		t.Fatal(err)
	}
	if events.calls != 1 {
		t.Errorf("contained range should hit cache, got %d calls", events.calls)
	}
	if len(got) != 1 || got[0].ID != "ev-1" {
		t.Errorf("cached result filtered wrong: %+v", got)
	}

	// Range outside the cached result window but inside the same week:
	// still a hit, filtering drops the event.
	got, err = svc.Events(ctx, wednesday.Add(5*time.Hour), wednesday.Add(6*time.Hour), feeds)
	if err != nil {
		t.Fatal(err)
	}
	if events.calls != 1 {
		t.Errorf("same-week range should hit cache, got %d calls", events.calls)
	}
	if len(got) != 0 {
		t.Errorf("filter should drop non-overlapping events, got %+v", got)
	}

	// Feed-id order must not matter.
	svc.Invalidate()
	if _, err := svc.Events(ctx, wednesday, wednesday.Add(time.Hour), []string{"feed-2", "feed-1"}); err != nil {
		t.Fatal(err)
	}
	if _, err := svc.Events(ctx, wednesday, wednesday.Add(time.Hour), []string{"feed-1", "feed-2"}); err != nil {
		t.Fatal(err)
	}
	if events.calls != 2 {
		t.Errorf("reordered feed ids should hit cache, got %d calls", events.calls)
	}
}

func TestEventsCacheInvalidation(t *testing.T) {
	events := &fakeEventSource{}
	svc := newTestService(events, &fakeTaskSource{})
	ctx := context.Background()

	if _, err := svc.Events(ctx, wednesday, wednesday.Add(time.Hour), []string{"feed-1"}); err != nil {
		t.Fatal(err)
	}

	// Different feed set refetches.
	if _, err := svc.Events(ctx, wednesday, wednesday.Add(time.Hour), []string{"feed-2"}); err != nil {
		t.Fatal(err)
	}
	if events.calls != 2 {
		t.Errorf("changed feed set should refetch, got %d calls", events.calls)
	}

	// Range reaching into the next week refetches.
	if _, err := svc.Events(ctx, wednesday, wednesday.AddDate(0, 0, 5), []string{"feed-2"}); err != nil {
		t.Fatal(err)
	}
	if events.calls != 3 {
		t.Errorf("range past cached week should refetch, got %d calls", events.calls)
	}

	// TTL expiry refetches, served-stale never happens past the boundary.
	svc.SetNow(func() time.Time { return wednesday.Add(31 * time.Minute) })
	if _, err := svc.Events(ctx, wednesday, wednesday.AddDate(0, 0, 5), []string{"feed-2"}); err != nil {
		t.Fatal(err)
	}
	if events.calls != 4 {
		t.Errorf("expired cache should refetch, got %d calls", events.calls)
	}

	// Explicit invalidation refetches.
	svc.Invalidate()
	if _, err := svc.Events(ctx, wednesday, wednesday.AddDate(0, 0, 5), []string{"feed-2"}); err != nil {
		t.Fatal(err)
	}
	if events.calls != 5 {
		t.Errorf("invalidated cache should refetch, got %d calls", events.calls)
	}
}

func TestEventsEmptyFeedSet(t *testing.T) {
	events := &fakeEventSource{events: []models.CalendarEvent{
		event("ev-1", wednesday, time.Hour),
	}}
	svc := newTestService(events, &fakeTaskSource{})

	got, err := svc.Events(context.Background(), wednesday, wednesday.Add(time.Hour), nil)
	if err != nil {
		t.Fatal(err)
	}
	if got != nil {
		t.Errorf("empty feed set should yield nil, got %+v", got)
	}
	if events.calls != 0 {
		t.Errorf("empty feed set should not fetch, got %d calls", events.calls)
	}
}

func TestFindConflictsFirstEventWins(t *testing.T) {
	slotStart := wednesday.Add(time.Hour)
	events := &fakeEventSource{events: []models.CalendarEvent{
		event("ev-1", slotStart, time.Hour),
		event("ev-2", slotStart.Add(15*time.Minute), time.Hour),
	}}
	tasks := &fakeTaskSource{tasks: []models.Task{
		scheduledTask("task-1", slotStart, time.Hour),
	}}
	svc := newTestService(events, tasks)

	conflicts, err := svc.FindConflicts(context.Background(), models.Span{Start: slotStart, End: slotStart.Add(time.Hour)}, []string{"feed-1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 1 {
		t.Fatalf("want exactly one conflict, got %d", len(conflicts))
	}
	if conflicts[0].Type != models.ConflictCalendarEvent || conflicts[0].Source.ID != "ev-1" {
		t.Errorf("want first event conflict, got %+v", conflicts[0])
	}
	if tasks.calls != 0 {
		t.Errorf("event conflict should short-circuit the task check, got %d task fetches", tasks.calls)
	}
}

func TestFindConflictsReportsAllTaskOverlaps(t *testing.T) {
	slotStart := wednesday.Add(time.Hour)
	tasks := &fakeTaskSource{tasks: []models.Task{
		scheduledTask("task-1", slotStart, 30*time.Minute),
		scheduledTask("task-2", slotStart.Add(30*time.Minute), time.Hour),
		scheduledTask("task-3", slotStart.Add(3*time.Hour), time.Hour),
	}}
	svc := newTestService(&fakeEventSource{}, tasks)

	conflicts, err := svc.FindConflicts(context.Background(), models.Span{Start: slotStart, End: slotStart.Add(time.Hour)}, []string{"feed-1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 2 {
		t.Fatalf("want both overlapping task conflicts, got %d", len(conflicts))
	}
	for _, c := range conflicts {
		if c.Type != models.ConflictTask {
			t.Errorf("want task conflict, got %+v", c)
		}
	}
}

func TestFindConflictsExcludesOwnTask(t *testing.T) {
	slotStart := wednesday.Add(time.Hour)
	tasks := &fakeTaskSource{tasks: []models.Task{
		scheduledTask("task-1", slotStart, time.Hour),
	}}
	svc := newTestService(&fakeEventSource{}, tasks)

	conflicts, err := svc.FindConflicts(context.Background(), models.Span{Start: slotStart, End: slotStart.Add(time.Hour)}, []string{"feed-1"}, "task-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(conflicts) != 0 {
		t.Errorf("task being scheduled should not conflict with itself, got %+v", conflicts)
	}
}

func TestBatchConflictsMatchSerial(t *testing.T) {
	eventData := []models.CalendarEvent{
		event("ev-1", wednesday.Add(2*time.Hour), time.Hour),
	}
	taskData := []models.Task{
		scheduledTask("task-1", wednesday.Add(4*time.Hour), time.Hour),
	}

	slots := []models.Span{
		{Start: wednesday, End: wednesday.Add(time.Hour)},                               // free
		{Start: wednesday.Add(2 * time.Hour), End: wednesday.Add(3 * time.Hour)},        // event conflict
		{Start: wednesday.Add(4 * time.Hour), End: wednesday.Add(5 * time.Hour)},        // task conflict
		{Start: wednesday.Add(150 * time.Minute), End: wednesday.Add(270 * time.Minute)}, // both, event wins
	}

	batchEvents := &fakeEventSource{events: eventData}
	batchTasks := &fakeTaskSource{tasks: taskData}
	batchSvc := newTestService(batchEvents, batchTasks)

	batch, err := batchSvc.FindBatchConflicts(context.Background(), slots, []string{"feed-1"}, "")
	if err != nil {
		t.Fatal(err)
	}
	if len(batch) != len(slots) {
		t.Fatalf("batch results length %d, want %d", len(batch), len(slots))
	}
	if batchEvents.calls != 1 || batchTasks.calls != 1 {
		t.Errorf("batch should fetch once, got %d event and %d task fetches", batchEvents.calls, batchTasks.calls)
	}

	serialSvc := newTestService(&fakeEventSource{events: eventData}, &fakeTaskSource{tasks: taskData})
	for i, slot := range slots {
		serial, err := serialSvc.FindConflicts(context.Background(), slot, []string{"feed-1"}, "")
		if err != nil {
			t.Fatal(err)
		}
		if len(serial) != len(batch[i]) {
			t.Fatalf("slot %d: serial %d conflicts, batch %d", i, len(serial), len(batch[i]))
		}
		for j := range serial {
			if serial[j].Source != batch[i][j].Source || serial[j].Type != batch[i][j].Type {
				t.Errorf("slot %d conflict %d: serial %+v != batch %+v", i, j, serial[j], batch[i][j])
			}
		}
	}
}

package scoring

import (
	"sync"

	"github.com/almanac-app/almanac/internal/models"
)

// NoProject is the ledger bucket for tasks without a project. Using a
// sentinel key keeps project-less tasks inside the in-memory conflict
// record so they still block double-booking within a batch.
const NoProject = "none"

// Ledger tracks time ranges already committed in the current scheduling
// run, keyed by project. It is rebuilt lazily at the start of a run and
// appended to as tasks are committed.
type Ledger struct {
	mu        sync.RWMutex
	byProject map[string][]models.Span
}

// NewLedger creates an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{byProject: make(map[string][]models.Span)}
}

// ProjectKey maps a task's project to its ledger bucket.
func ProjectKey(projectID string) string {
	if projectID == "" {
		return NoProject
	}
	return projectID
}

// Replace rebuilds the ledger wholesale from a task list. Tasks without
// scheduled times are skipped.
func (l *Ledger) Replace(tasks []models.Task) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.byProject = make(map[string][]models.Span)
	for _, task := range tasks {
		if !task.IsScheduled() {
			continue
		}
		key := ProjectKey(task.ProjectID)
		l.byProject[key] = append(l.byProject[key], models.Span{
			Start: *task.ScheduledStart,
			End:   *task.ScheduledEnd,
		})
	}
}

// Add appends one committed span to a project bucket.
func (l *Ledger) Add(projectID string, span models.Span) {
	l.mu.Lock()
	defer l.mu.Unlock()
	key := ProjectKey(projectID)
	l.byProject[key] = append(l.byProject[key], span)
}

// Spans returns a snapshot of the spans recorded for a project.
func (l *Ledger) Spans(projectID string) []models.Span {
	l.mu.RLock()
	defer l.mu.RUnlock()
	spans := l.byProject[ProjectKey(projectID)]
	out := make([]models.Span, len(spans))
	copy(out, spans)
	return out
}

// Overlapping reports whether any recorded span intersects [start, end).
func (l *Ledger) Overlapping(span models.Span) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, spans := range l.byProject {
		for _, s := range spans {
			if s.Overlaps(span.Start, span.End) {
				return true
			}
		}
	}
	return false
}

// Empty reports whether nothing has been recorded yet.
func (l *Ledger) Empty() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byProject) == 0
}

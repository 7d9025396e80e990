// Package waitresume tracks paused executions by the event they wait for and wakes them
// when that event arrives.
package waitresume

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Entry is one paused execution in the index.
type Entry struct {
	ExecutionID    string     `json:"execution_id"`
	WorkflowID     string     `json:"workflow_id"`
	NodeID         string     `json:"node_id"`
	EventType      string     `json:"event_type"`
	CorrelationKey string     `json:"correlation_key,omitempty"`
	ResumeAt       *time.Time `json:"resume_at,omitempty"`
}

// Matches reports whether an incoming event addresses this entry. An entry without a
// correlation key accepts every event of its type.
func (e Entry) Matches(eventType, correlationKey string) bool {
	if e.EventType != eventType {
		return false
	}

	return e.CorrelationKey == "" || e.CorrelationKey == correlationKey
}

// Index maps (event type, execution id) to paused executions, plus a deadline ordering
// for the timer sweep.
type Index interface {
	Add(ctx context.Context, entry Entry) error
	Remove(ctx context.Context, executionID string) error
	Find(ctx context.Context, eventType string) ([]Entry, error)
	Due(ctx context.Context, now time.Time) ([]Entry, error)
}

// MemoryIndex is an in-process Index. It is rebuilt from persisted paused executions
// on startup.
type MemoryIndex struct {
	mu      sync.RWMutex
	entries map[string]Entry
	byEvent map[string]map[string]struct{}
}

func NewMemoryIndex() *MemoryIndex {
	return &MemoryIndex{
		entries: make(map[string]Entry),
		byEvent: make(map[string]map[string]struct{}),
	}
}

func (m *MemoryIndex) Add(_ context.Context, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(entry.ExecutionID)

	m.entries[entry.ExecutionID] = entry

	ids, ok := m.byEvent[entry.EventType]
	if !ok {
		ids = make(map[string]struct{})
		m.byEvent[entry.EventType] = ids
	}

	ids[entry.ExecutionID] = struct{}{}

	return nil
}

func (m *MemoryIndex) Remove(_ context.Context, executionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.removeLocked(executionID)

	return nil
}

func (m *MemoryIndex) removeLocked(executionID string) {
	existing, ok := m.entries[executionID]
	if !ok {
		return
	}

	delete(m.entries, executionID)

	ids := m.byEvent[existing.EventType]
	delete(ids, executionID)

	if len(ids) == 0 {
		delete(m.byEvent, existing.EventType)
	}
}

func (m *MemoryIndex) Find(_ context.Context, eventType string) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Entry, 0, len(m.byEvent[eventType]))
	for id := range m.byEvent[eventType] {
		out = append(out, m.entries[id])
	}

	sortByID(out)

	return out, nil
}

func (m *MemoryIndex) Due(_ context.Context, now time.Time) ([]Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []Entry

	for _, entry := range m.entries {
		if entry.ResumeAt != nil && !entry.ResumeAt.After(now) {
			out = append(out, entry)
		}
	}

	sortByDeadline(out)

	return out, nil
}

func sortByDeadline(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool {
		if entries[i].ResumeAt.Equal(*entries[j].ResumeAt) {
			return entries[i].ExecutionID < entries[j].ExecutionID
		}

		return entries[i].ResumeAt.Before(*entries[j].ResumeAt)
	})
}

func sortByID(entries []Entry) {
	sort.Slice(entries, func(i, j int) bool { return entries[i].ExecutionID < entries[j].ExecutionID })
}

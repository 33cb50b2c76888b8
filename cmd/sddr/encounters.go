package main

import (
	"sync"

	"github.com/hrissan/sddr/circular"
	"github.com/hrissan/sddr/events"
)

// encounterLog keeps the most recent events for the HTTP endpoint.
type encounterLog struct {
	mu     sync.Mutex
	limit  int
	recent circular.Buffer[events.EncounterEvent]
	total  int
}

func newEncounterLog(limit int) *encounterLog {
	l := &encounterLog{limit: max(limit, 1)}
	l.recent.Reserve(l.limit)
	return l
}

func (l *encounterLog) add(ev *events.EncounterEvent) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.recent.Len() == l.limit {
		l.recent.PopFront()
	}
	l.recent.PushBack(*ev)
	l.total++
}

// snapshot returns events oldest first, and how many were ever added.
func (l *encounterLog) snapshot() ([]events.EncounterEvent, int) {
	l.mu.Lock()
	defer l.mu.Unlock()
	first, second := l.recent.Slices()
	result := make([]events.EncounterEvent, 0, len(first)+len(second))
	result = append(result, first...)
	return append(result, second...), l.total
}

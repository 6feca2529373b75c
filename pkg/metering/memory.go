package metering

import (
	"context"
	"sync"
	"time"
)

// MemoryMeter keeps events in process memory. It backs lite mode,
// where no Postgres is configured, and tests.
type MemoryMeter struct {
	mu     sync.RWMutex
	events []Event
}

func NewMemoryMeter() *MemoryMeter {
	return &MemoryMeter{}
}

func (m *MemoryMeter) Record(_ context.Context, event Event) error {
	if err := event.Validate(); err != nil {
		return err
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now().UTC()
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, event)
	return nil
}

func (m *MemoryMeter) RecordBatch(_ context.Context, events []Event) error {
	now := time.Now().UTC()
	stamped := make([]Event, 0, len(events))
	for _, event := range events {
		if err := event.Validate(); err != nil {
			return err
		}
		if event.Timestamp.IsZero() {
			event.Timestamp = now
		}
		stamped = append(stamped, event)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, stamped...)
	return nil
}

func (m *MemoryMeter) RunUsage(_ context.Context, testRunID string, period Period) (*Usage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	usage := &Usage{
		TestRunID:  testRunID,
		Period:     period,
		Counts:     make(map[EventType]int64),
		LastUpdate: time.Now().UTC(),
	}
	for _, e := range m.events {
		if e.TestRunID != testRunID {
			continue
		}
		if e.Timestamp.Before(period.Start) || !e.Timestamp.Before(period.End) {
			continue
		}
		usage.Counts[e.EventType] += e.Quantity
		if e.EventType == EventEvaluation {
			usage.CostUSD += e.CostUSD
		}
	}

	usage.EstimatedSavedUSD = estimateSavings(usage.Counts, usage.CostUSD)
	return usage, nil
}

package observability

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// TimelineEntryType categorizes pipeline events.
type TimelineEntryType string

const (
	EntryVerdict   TimelineEntryType = "VERDICT"
	EntryCacheHit  TimelineEntryType = "CACHE_HIT"
	EntryJobState  TimelineEntryType = "JOB_STATE"
	EntryRendition TimelineEntryType = "RENDITION"
	EntryDegraded  TimelineEntryType = "DEGRADED"
	EntryDownload  TimelineEntryType = "DOWNLOAD"
)

// DefaultTimelineCapacity bounds the in-memory event buffer.
const DefaultTimelineCapacity = 4096

// TimelineEntry is a single pipeline event.
type TimelineEntry struct {
	EntryID     string                 `json:"entry_id"`
	EntryType   TimelineEntryType      `json:"entry_type"`
	TestRunID   string                 `json:"test_run_id,omitempty"`
	ReportID    string                 `json:"report_id,omitempty"`
	Timestamp   time.Time              `json:"timestamp"`
	Summary     string                 `json:"summary"`
	ContentHash string                 `json:"content_hash"`
	Details     map[string]interface{} `json:"details,omitempty"`
}

// TimelineQuery filters timeline entries.
type TimelineQuery struct {
	TestRunID string             `json:"test_run_id,omitempty"`
	ReportID  string             `json:"report_id,omitempty"`
	EntryType *TimelineEntryType `json:"entry_type,omitempty"`
	After     *time.Time         `json:"after,omitempty"`
	Before    *time.Time         `json:"before,omitempty"`
	Limit     int                `json:"limit,omitempty"`
}

// Timeline is a bounded in-memory record of recent pipeline events,
// queryable by test run or report. It is a debugging surface, not an
// audit log: the oldest entries fall off once the buffer fills.
type Timeline struct {
	mu      sync.RWMutex
	entries []TimelineEntry
	cap     int
	seq     int64
	clock   func() time.Time
}

// NewTimeline creates a timeline holding at most capacity entries.
// Non-positive capacity takes the default.
func NewTimeline(capacity int) *Timeline {
	if capacity <= 0 {
		capacity = DefaultTimelineCapacity
	}
	return &Timeline{
		entries: make([]TimelineEntry, 0, capacity),
		cap:     capacity,
		clock:   time.Now,
	}
}

// WithClock overrides clock for testing.
func (t *Timeline) WithClock(clock func() time.Time) *Timeline {
	t.clock = clock
	return t
}

// Record appends an entry, evicting the oldest when full.
func (t *Timeline) Record(entry TimelineEntry) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.seq++
	if entry.EntryID == "" {
		entry.EntryID = fmt.Sprintf("tl-%d", t.seq)
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = t.clock()
	}

	data, err := json.Marshal(entry.Details)
	if err != nil {
		return err
	}
	h := sha256.Sum256(data)
	entry.ContentHash = "sha256:" + hex.EncodeToString(h[:])

	if len(t.entries) >= t.cap {
		t.entries = t.entries[1:]
	}
	t.entries = append(t.entries, entry)

	return nil
}

// Query retrieves entries matching the query, oldest first.
func (t *Timeline) Query(q TimelineQuery) []TimelineEntry {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var results []TimelineEntry
	for _, e := range t.entries {
		if q.TestRunID != "" && e.TestRunID != q.TestRunID {
			continue
		}
		if q.ReportID != "" && e.ReportID != q.ReportID {
			continue
		}
		if q.EntryType != nil && e.EntryType != *q.EntryType {
			continue
		}
		if q.After != nil && e.Timestamp.Before(*q.After) {
			continue
		}
		if q.Before != nil && e.Timestamp.After(*q.Before) {
			continue
		}
		results = append(results, e)
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})

	if q.Limit > 0 && len(results) > q.Limit {
		results = results[:q.Limit]
	}

	return results
}

// Count returns total retained entries.
func (t *Timeline) Count() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.entries)
}

package reportstore

import (
	"container/list"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"github.com/visiongate/visiongate/pkg/contracts"
)

const (
	defaultFallbackJobs       = 500
	defaultFallbackRenditions = 100
)

type renditionKey struct {
	reportID string
	format   contracts.ReportFormat
}

type jobEntry struct {
	id  string
	job contracts.ReportJob
}

type renditionEntry struct {
	key  renditionKey
	data []byte
}

// fallbackCache is the bounded degraded-mode store. Jobs and rendition
// bytes are evicted least recently used, oldest first, so a long outage
// loses the oldest work rather than exhausting memory.
type fallbackCache struct {
	mu sync.Mutex

	jobs     map[string]*list.Element
	jobOrder *list.List
	jobCap   int

	renditions     map[renditionKey]*list.Element
	renditionOrder *list.List
	renditionCap   int
}

func newFallbackCache(jobCap, renditionCap int) *fallbackCache {
	if jobCap <= 0 {
		jobCap = defaultFallbackJobs
	}
	if renditionCap <= 0 {
		renditionCap = defaultFallbackRenditions
	}
	return &fallbackCache{
		jobs:           make(map[string]*list.Element),
		jobOrder:       list.New(),
		jobCap:         jobCap,
		renditions:     make(map[renditionKey]*list.Element),
		renditionOrder: list.New(),
		renditionCap:   renditionCap,
	}
}

func (c *fallbackCache) saveJob(job contracts.ReportJob) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.jobs[job.ReportID]; ok {
		elem.Value.(*jobEntry).job = job
		c.jobOrder.MoveToFront(elem)
		return true
	}
	c.jobs[job.ReportID] = c.jobOrder.PushFront(&jobEntry{id: job.ReportID, job: job})
	for len(c.jobs) > c.jobCap {
		oldest := c.jobOrder.Back()
		if oldest == nil {
			break
		}
		c.jobOrder.Remove(oldest)
		delete(c.jobs, oldest.Value.(*jobEntry).id)
	}
	return true
}

func (c *fallbackCache) getJob(reportID string) (contracts.ReportJob, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.jobs[reportID]
	if !ok {
		return contracts.ReportJob{}, false
	}
	c.jobOrder.MoveToFront(elem)
	return elem.Value.(*jobEntry).job, true
}

func (c *fallbackCache) hasJob(reportID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.jobs[reportID]
	return ok
}

func (c *fallbackCache) listJobs(filter Filter) []contracts.ReportJob {
	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []contracts.ReportJob
	for elem := c.jobOrder.Front(); elem != nil; elem = elem.Next() {
		job := elem.Value.(*jobEntry).job
		if filter.TestRunID != "" && job.TestRunID != filter.TestRunID {
			continue
		}
		if filter.Status != "" && job.Status != filter.Status {
			continue
		}
		matched = append(matched, job)
	}

	if filter.Offset > 0 {
		if filter.Offset >= len(matched) {
			return nil
		}
		matched = matched[filter.Offset:]
	}
	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched
}

func (c *fallbackCache) saveRendition(reportID string, format contracts.ReportFormat, data []byte) (contracts.StorageLocation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := renditionKey{reportID: reportID, format: format}
	stored := make([]byte, len(data))
	copy(stored, data)

	if elem, ok := c.renditions[key]; ok {
		elem.Value.(*renditionEntry).data = stored
		c.renditionOrder.MoveToFront(elem)
	} else {
		c.renditions[key] = c.renditionOrder.PushFront(&renditionEntry{key: key, data: stored})
		for len(c.renditions) > c.renditionCap {
			oldest := c.renditionOrder.Back()
			if oldest == nil {
				break
			}
			c.renditionOrder.Remove(oldest)
			delete(c.renditions, oldest.Value.(*renditionEntry).key)
		}
	}

	sum := sha256.Sum256(data)
	return contracts.StorageLocation{
		Backend:   "fallback-cache",
		Path:      "fallback/" + reportID + "/report." + string(format),
		Checksum:  "sha256:" + hex.EncodeToString(sum[:]),
		SizeBytes: int64(len(data)),
	}, true
}

func (c *fallbackCache) getRendition(reportID string, format contracts.ReportFormat) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.renditions[renditionKey{reportID: reportID, format: format}]
	if !ok {
		return nil, false
	}
	c.renditionOrder.MoveToFront(elem)
	data := elem.Value.(*renditionEntry).data
	out := make([]byte, len(data))
	copy(out, data)
	return out, true
}

func (c *fallbackCache) size() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.jobs) + len(c.renditions)
}

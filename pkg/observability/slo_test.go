package observability

import (
	"testing"
	"time"
)

func TestSLOSetTarget(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   OpCollect,
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.999,
		WindowHours: 24,
	})

	status, err := tracker.Status(OpCollect)
	if err != nil {
		t.Fatal(err)
	}
	if !status.InCompliance {
		t.Fatal("expected compliance with no observations")
	}
}

func TestSLOInCompliance(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   OpRender,
		LatencyP99:  1000 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	for i := 0; i < 100; i++ {
		tracker.Record(SLOObservation{Operation: OpRender, Latency: 100 * time.Millisecond, Success: true})
	}

	status, _ := tracker.Status(OpRender)
	if !status.InCompliance {
		t.Fatal("expected in compliance")
	}
	if status.CurrentSuccess != 1.0 {
		t.Fatalf("expected 100%% success rate, got %.2f", status.CurrentSuccess)
	}
}

func TestSLOOutOfCompliance(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   OpEvaluate,
		LatencyP99:  500 * time.Millisecond,
		SuccessRate: 0.99,
		WindowHours: 1,
	})

	// 90 success + 10 failures = 90%, below the 99% target.
	for i := 0; i < 90; i++ {
		tracker.Record(SLOObservation{Operation: OpEvaluate, Latency: 100 * time.Millisecond, Success: true})
	}
	for i := 0; i < 10; i++ {
		tracker.Record(SLOObservation{Operation: OpEvaluate, Latency: 100 * time.Millisecond, Success: false})
	}

	status, _ := tracker.Status(OpEvaluate)
	if status.InCompliance {
		t.Fatal("expected out of compliance")
	}
}

func TestSLOBurnRate(t *testing.T) {
	tracker := NewSLOTracker()
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   OpPersist,
		LatencyP99:  1000 * time.Millisecond,
		SuccessRate: 0.99, // 1% error budget
		WindowHours: 1,
	})

	// 5% error rate burns the budget at 5x.
	for i := 0; i < 95; i++ {
		tracker.Record(SLOObservation{Operation: OpPersist, Latency: 10 * time.Millisecond, Success: true})
	}
	for i := 0; i < 5; i++ {
		tracker.Record(SLOObservation{Operation: OpPersist, Latency: 10 * time.Millisecond, Success: false})
	}

	status, _ := tracker.Status(OpPersist)
	if status.BurnRate < 4.0 {
		t.Fatalf("expected high burn rate, got %.2f", status.BurnRate)
	}
}

func TestSLOWindowFiltering(t *testing.T) {
	now := time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)
	tracker := NewSLOTracker().WithClock(func() time.Time { return now })
	tracker.SetTarget(&SLOTarget{
		SLOID:       "slo-1",
		Operation:   OpDownload,
		LatencyP99:  time.Second,
		SuccessRate: 0.9,
		WindowHours: 1,
	})

	// Failures outside the window must not count against the budget.
	tracker.Record(SLOObservation{Operation: OpDownload, Latency: 5 * time.Millisecond, Success: false, Timestamp: now.Add(-2 * time.Hour)})
	tracker.Record(SLOObservation{Operation: OpDownload, Latency: 5 * time.Millisecond, Success: true, Timestamp: now.Add(-10 * time.Minute)})

	status, err := tracker.Status(OpDownload)
	if err != nil {
		t.Fatal(err)
	}
	if status.ObservationCount != 1 {
		t.Fatalf("expected 1 windowed observation, got %d", status.ObservationCount)
	}
	if !status.InCompliance {
		t.Fatal("expected compliance once stale failure aged out")
	}
}

func TestSLONoTarget(t *testing.T) {
	tracker := NewSLOTracker()
	_, err := tracker.Status("nonexistent")
	if err == nil {
		t.Fatal("expected error for missing target")
	}
}

func TestSLODefaultTargets(t *testing.T) {
	tracker := NewSLOTracker()
	for _, target := range DefaultTargets() {
		tracker.SetTarget(target)
	}
	for _, op := range []string{OpEvaluate, OpCollect, OpRender, OpPersist, OpDownload} {
		if _, err := tracker.Status(op); err != nil {
			t.Errorf("expected default target for %s: %v", op, err)
		}
	}
}

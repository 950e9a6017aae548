package pipelineserv

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	changerepo "github.com/changegate/changegate/database/change"
	"github.com/changegate/changegate/domain"
)

type memRuns struct {
	mu sync.Mutex
	m  map[string]domain.PipelineRun
}

func newMemRuns() *memRuns {
	return &memRuns{m: map[string]domain.PipelineRun{}}
}

func (r *memRuns) Upsert(ctx context.Context, run domain.PipelineRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	run.UpdatedAt = time.Now()
	r.m[run.ChangeID] = run
	return nil
}

func (r *memRuns) Get(ctx context.Context, changeID string) (domain.PipelineRun, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	run, ok := r.m[changeID]
	if !ok {
		return domain.PipelineRun{}, domain.ErrNotFound
	}
	return run, nil
}

type stubChanges struct {
	known map[string]bool
}

func (r *stubChanges) Get(ctx context.Context, id string) (domain.Change, error) {
	if !r.known[id] {
		return domain.Change{}, domain.ErrNotFound
	}
	return domain.Change{ID: id, Status: domain.ChangePending}, nil
}

func (r *stubChanges) Create(ctx context.Context, change domain.Change) error { return nil }

func (r *stubChanges) UpdateDraft(ctx context.Context, id, title, description string, riskScore int) error {
	return nil
}

func (r *stubChanges) SetBranch(ctx context.Context, id, branch string) error { return nil }

func (r *stubChanges) ClearBranch(ctx context.Context, id string) error { return nil }

func (r *stubChanges) TransitionStatus(ctx context.Context, id string, from, to domain.ChangeStatus) (bool, error) {
	return false, nil
}

var _ changerepo.Repository = (*stubChanges)(nil)

type stubReevaluator struct {
	calls []string
}

func (s *stubReevaluator) Reevaluate(ctx context.Context, changeID string) error {
	s.calls = append(s.calls, changeID)
	return nil
}

func newTestService(known ...string) (Service, *memRuns, *stubReevaluator) {
	changes := &stubChanges{known: map[string]bool{}}
	for _, id := range known {
		changes.known[id] = true
	}
	runs := newMemRuns()
	reev := &stubReevaluator{}
	return NewService(runs, changes, reev), runs, reev
}

func TestMapStatus(t *testing.T) {
	cases := []struct {
		external string
		want     domain.PipelineStatus
	}{
		{"success", domain.PipelinePassed},
		{"passed", domain.PipelinePassed},
		{"SUCCESS", domain.PipelinePassed},
		{"failure", domain.PipelineFailed},
		{"failed", domain.PipelineFailed},
		{"cancelled", domain.PipelineFailed},
		{"canceled", domain.PipelineFailed},
		{"timed_out", domain.PipelineFailed},
		{"in_progress", domain.PipelineRunning},
		{"queued", domain.PipelineRunning},
		{"running", domain.PipelineRunning},
		{"", domain.PipelinePending},
		{"something_new", domain.PipelinePending},
	}

	for _, tc := range cases {
		if got := MapStatus(tc.external); got != tc.want {
			t.Errorf("MapStatus(%q) = %s, want %s", tc.external, got, tc.want)
		}
	}
}

func TestIngestRecordsRun(t *testing.T) {
	service, _, reev := newTestService("c1")

	resp, err := service.Ingest(context.Background(), domain.PipelineReport{
		ChangeID: "c1",
		Status:   "in_progress",
		RunID:    "run-42",
		RunURL:   "https://ci.example.com/run-42",
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if resp.Run.Status != domain.PipelineRunning {
		t.Errorf("status = %s, want RUNNING", resp.Run.Status)
	}
	if resp.Run.CompletedAt != nil {
		t.Errorf("running report must not set completed_at")
	}
	if len(reev.calls) != 0 {
		t.Errorf("non-passed report must not trigger reevaluation")
	}
}

func TestIngestPassedTriggersReevaluation(t *testing.T) {
	service, _, reev := newTestService("c1")

	resp, err := service.Ingest(context.Background(), domain.PipelineReport{
		ChangeID: "c1",
		Status:   "success",
		Checks: []domain.CheckResult{
			{Name: "lint", Status: "passed"},
			{Name: "unit", Status: "passed"},
		},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if resp.Run.Status != domain.PipelinePassed {
		t.Errorf("status = %s, want PASSED", resp.Run.Status)
	}
	if resp.Run.CompletedAt == nil {
		t.Errorf("passed report must set completed_at")
	}
	if len(reev.calls) != 1 || reev.calls[0] != "c1" {
		t.Errorf("reevaluate calls = %v, want [c1]", reev.calls)
	}
}

func TestIngestIdempotent(t *testing.T) {
	service, _, _ := newTestService("c1")

	report := domain.PipelineReport{ChangeID: "c1", Status: "failed", RunID: "run-1"}

	first, err := service.Ingest(context.Background(), report)
	if err != nil {
		t.Fatalf("first Ingest failed: %v", err)
	}
	second, err := service.Ingest(context.Background(), report)
	if err != nil {
		t.Fatalf("second Ingest failed: %v", err)
	}

	if first.Run.Status != second.Run.Status || first.Run.RunID != second.Run.RunID {
		t.Errorf("replayed report changed state: %+v vs %+v", first.Run, second.Run)
	}
}

func TestIngestLastWriteWins(t *testing.T) {
	service, runs, _ := newTestService("c1")

	for _, status := range []string{"queued", "running", "failure"} {
		if _, err := service.Ingest(context.Background(), domain.PipelineReport{
			ChangeID: "c1", Status: status,
		}); err != nil {
			t.Fatalf("Ingest(%s) failed: %v", status, err)
		}
	}

	run, err := runs.Get(context.Background(), "c1")
	if err != nil {
		t.Fatal(err)
	}
	if run.Status != domain.PipelineFailed {
		t.Errorf("status = %s, want FAILED (latest report)", run.Status)
	}
}

func TestIngestUnknownChange(t *testing.T) {
	service, _, _ := newTestService()

	_, err := service.Ingest(context.Background(), domain.PipelineReport{
		ChangeID: "missing", Status: "success",
	})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestIngestEmptyChangeID(t *testing.T) {
	service, _, _ := newTestService()

	_, err := service.Ingest(context.Background(), domain.PipelineReport{Status: "success"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Fatalf("err = %v, want ErrValidation", err)
	}
}

func TestGateDisabledAlwaysPasses(t *testing.T) {
	gate := NewGate(newMemRuns(), false)

	passed, err := gate.IsPassed(context.Background(), "c1")
	if err != nil {
		t.Fatalf("IsPassed failed: %v", err)
	}
	if !passed {
		t.Errorf("disabled gate must pass every change")
	}
}

func TestGateEnabled(t *testing.T) {
	runs := newMemRuns()
	gate := NewGate(runs, true)
	ctx := context.Background()

	// No report yet: gate holds.
	passed, err := gate.IsPassed(ctx, "c1")
	if err != nil {
		t.Fatalf("IsPassed failed: %v", err)
	}
	if passed {
		t.Errorf("gate must hold before CI reports")
	}

	if err := runs.Upsert(ctx, domain.PipelineRun{ChangeID: "c1", Status: domain.PipelineFailed}); err != nil {
		t.Fatal(err)
	}
	if passed, _ = gate.IsPassed(ctx, "c1"); passed {
		t.Errorf("gate must hold on FAILED run")
	}

	if err := runs.Upsert(ctx, domain.PipelineRun{ChangeID: "c1", Status: domain.PipelinePassed}); err != nil {
		t.Fatal(err)
	}
	if passed, _ = gate.IsPassed(ctx, "c1"); !passed {
		t.Errorf("gate must open on PASSED run")
	}
}

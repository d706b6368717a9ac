package fleet

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"aqmap-bk/internal/pkg/client/dockerd"
)

type fakeBackend struct {
	workloads []dockerd.Workload
	stats     map[string]dockerd.RawCounters
	logs      map[string]string
	statsErr  error
	logsErr   error
}

func (f *fakeBackend) List(ctx context.Context, all bool) ([]dockerd.Workload, error) {
	return f.workloads, nil
}

func (f *fakeBackend) Start(ctx context.Context, spec dockerd.StartSpec) (dockerd.Workload, error) {
	return dockerd.Workload{Name: spec.Name, Status: "running"}, nil
}

func (f *fakeBackend) Stop(ctx context.Context, name string, timeout time.Duration) error {
	return nil
}

func (f *fakeBackend) Remove(ctx context.Context, name string, force bool) error {
	return nil
}

func (f *fakeBackend) Stats(ctx context.Context, name string) (dockerd.RawCounters, error) {
	if f.statsErr != nil {
		return dockerd.RawCounters{}, f.statsErr
	}
	return f.stats[name], nil
}

func (f *fakeBackend) Logs(ctx context.Context, name string, tail int) (string, error) {
	if f.logsErr != nil {
		return "", f.logsErr
	}
	return f.logs[name], nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestParseProgressWaypoint(t *testing.T) {
	p := ParseProgress("starting\nWaypoint 5/25: (1.0, 2.0)\n")
	if p.Current != 5 || p.Total != 25 {
		t.Fatalf("expected 5/25, got %d/%d", p.Current, p.Total)
	}
	if p.Percent != 20.0 {
		t.Fatalf("expected 20.0 percent, got %v", p.Percent)
	}
	if p.Complete {
		t.Fatalf("mission should not be complete")
	}
}

func TestParseProgressLastMatchWins(t *testing.T) {
	p := ParseProgress("Waypoint 1/25: (0, 0)\nWaypoint 7/25: (3, 4)\n")
	if p.Current != 7 {
		t.Fatalf("expected last waypoint 7, got %d", p.Current)
	}
}

func TestParseProgressCompleteMarkerForcesFull(t *testing.T) {
	p := ParseProgress("Waypoint 24/25: (9, 9)\nMISSION COMPLETE!\n")
	if !p.Complete {
		t.Fatalf("expected complete")
	}
	if p.Percent != 100 {
		t.Fatalf("expected forced 100 percent, got %v", p.Percent)
	}
	if p.Current != 24 || p.Total != 25 {
		t.Fatalf("numeric fields should survive: got %d/%d", p.Current, p.Total)
	}
}

func TestParseProgressNoMatch(t *testing.T) {
	p := ParseProgress("booting ros nodes\n")
	if p.Current != 0 || p.Total != 0 || p.Percent != 0 || p.Complete {
		t.Fatalf("expected zero progress, got %+v", p)
	}
}

func TestCPUPercentZeroSystemDelta(t *testing.T) {
	rc := dockerd.RawCounters{CPUTotal: 100, PreCPUTotal: 50, SystemCPU: 1000, PreSystemCPU: 1000}
	if got := CPUPercent(rc); got != 0 {
		t.Fatalf("expected 0 on zero system delta, got %v", got)
	}
}

func TestCPUPercent(t *testing.T) {
	rc := dockerd.RawCounters{CPUTotal: 200, PreCPUTotal: 100, SystemCPU: 1400, PreSystemCPU: 1000}
	if got := CPUPercent(rc); got != 25.0 {
		t.Fatalf("expected 25.0, got %v", got)
	}
}

func TestMemPercentZeroLimit(t *testing.T) {
	if got := MemPercent(dockerd.RawCounters{MemUsage: 10}); got != 0 {
		t.Fatalf("expected 0 on zero limit, got %v", got)
	}
}

func TestListSnapshotsSortedAndFiltered(t *testing.T) {
	backend := &fakeBackend{
		workloads: []dockerd.Workload{
			{Name: "aquatic-trial-12", Status: "exited"},
			{Name: "unrelated", Status: "running"},
			{Name: "aquatic-trial-3", Status: "exited"},
			{Name: "aquatic-trial-x", Status: "exited"},
		},
	}
	a := NewAggregator(backend, "aquatic-trial", t.TempDir(), discard())

	snaps, err := a.ListSnapshots(context.Background())
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	if len(snaps) != 3 {
		t.Fatalf("expected 3 fleet workloads, got %d", len(snaps))
	}
	// non-numeric suffix sorts first as trial 0
	if snaps[0].TrialID != 0 || snaps[1].TrialID != 3 || snaps[2].TrialID != 12 {
		t.Fatalf("unexpected order: %d, %d, %d", snaps[0].TrialID, snaps[1].TrialID, snaps[2].TrialID)
	}
}

func TestListSnapshotsBestEffortSampling(t *testing.T) {
	backend := &fakeBackend{
		workloads: []dockerd.Workload{
			{Name: "aquatic-trial-1", Status: "running"},
		},
		statsErr: errors.New("backend timeout"),
		logsErr:  errors.New("backend timeout"),
	}
	a := NewAggregator(backend, "aquatic-trial", t.TempDir(), discard())

	snaps, err := a.ListSnapshots(context.Background())
	if err != nil {
		t.Fatalf("sampling failures must not fail the snapshot: %v", err)
	}
	if snaps[0].Stats != nil || snaps[0].Mission != nil {
		t.Fatalf("degraded samples should be absent, got %+v", snaps[0])
	}
}

func TestListSnapshotsRunningOnlySampling(t *testing.T) {
	backend := &fakeBackend{
		workloads: []dockerd.Workload{
			{Name: "aquatic-trial-1", Status: "running"},
			{Name: "aquatic-trial-2", Status: "exited"},
		},
		stats: map[string]dockerd.RawCounters{
			"aquatic-trial-1": {CPUTotal: 200, PreCPUTotal: 100, SystemCPU: 2000, PreSystemCPU: 1000, MemUsage: 512 * 1024 * 1024, MemLimit: 1024 * 1024 * 1024},
		},
		logs: map[string]string{
			"aquatic-trial-1": "Waypoint 10/20: (0, 0)",
		},
	}
	a := NewAggregator(backend, "aquatic-trial", t.TempDir(), discard())

	snaps, err := a.ListSnapshots(context.Background())
	if err != nil {
		t.Fatalf("ListSnapshots: %v", err)
	}
	running, exited := snaps[0], snaps[1]
	if running.Stats == nil || running.Mission == nil {
		t.Fatalf("running workload should carry samples")
	}
	if running.Stats.CPUPercent != 10.0 {
		t.Fatalf("expected cpu 10.0, got %v", running.Stats.CPUPercent)
	}
	if running.Stats.MemPercent != 50.0 {
		t.Fatalf("expected mem 50.0, got %v", running.Stats.MemPercent)
	}
	if running.Mission.Current != 10 || running.Mission.Percent != 50.0 {
		t.Fatalf("unexpected mission sample: %+v", running.Mission)
	}
	if exited.Stats != nil || exited.Mission != nil {
		t.Fatalf("exited workload must not be sampled")
	}
}

func TestTrialIDDerivation(t *testing.T) {
	a := NewAggregator(&fakeBackend{}, "aquatic-trial", t.TempDir(), discard())
	if id, ok := a.TrialID("aquatic-trial-42"); !ok || id != 42 {
		t.Fatalf("expected 42, got %d ok=%v", id, ok)
	}
	if _, ok := a.TrialID("postgres"); ok {
		t.Fatalf("foreign names must be rejected")
	}
	if id, ok := a.TrialID("aquatic-trial-old"); !ok || id != 0 {
		t.Fatalf("non-numeric suffix should map to 0, got %d ok=%v", id, ok)
	}
}

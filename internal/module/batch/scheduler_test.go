package batch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"aqmap-bk/internal/pkg/broadcast"
	"aqmap-bk/internal/pkg/client/dockerd"
	"aqmap-bk/internal/pkg/fleet"
)

type fakeBackend struct {
	mu        sync.Mutex
	workloads map[string]*dockerd.Workload
	startErr  map[string]error
	stopped   []string
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		workloads: make(map[string]*dockerd.Workload),
		startErr:  make(map[string]error),
	}
}

func (f *fakeBackend) List(ctx context.Context, all bool) ([]dockerd.Workload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]dockerd.Workload, 0, len(f.workloads))
	for _, w := range f.workloads {
		if !all && w.Status != "running" {
			continue
		}
		out = append(out, *w)
	}
	return out, nil
}

func (f *fakeBackend) Start(ctx context.Context, spec dockerd.StartSpec) (dockerd.Workload, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.startErr[spec.Name]; err != nil {
		return dockerd.Workload{}, err
	}
	w := &dockerd.Workload{Name: spec.Name, Status: "running", Created: time.Now()}
	f.workloads[spec.Name] = w
	return *w, nil
}

func (f *fakeBackend) Stop(ctx context.Context, name string, timeout time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	w, ok := f.workloads[name]
	if !ok {
		return dockerd.ErrNotFound
	}
	w.Status = "exited"
	f.stopped = append(f.stopped, name)
	return nil
}

func (f *fakeBackend) Remove(ctx context.Context, name string, force bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.workloads[name]; !ok {
		return dockerd.ErrNotFound
	}
	delete(f.workloads, name)
	return nil
}

func (f *fakeBackend) Stats(ctx context.Context, name string) (dockerd.RawCounters, error) {
	return dockerd.RawCounters{}, errors.New("no stats in tests")
}

func (f *fakeBackend) Logs(ctx context.Context, name string, tail int) (string, error) {
	return "", errors.New("no logs in tests")
}

func (f *fakeBackend) setExited(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if w, ok := f.workloads[name]; ok {
		w.Status = "exited"
	}
}

func (f *fakeBackend) exitAll() {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, w := range f.workloads {
		w.Status = "exited"
	}
}

type eventRecorder struct {
	mu     sync.Mutex
	events []interface{}
}

func (r *eventRecorder) Send(v interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, v)
	return nil
}

func (r *eventRecorder) countTagged(tag string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.events {
		if h, ok := e.(gin.H); ok && h["event"] == tag {
			n++
		}
	}
	return n
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestScheduler(t *testing.T, backend *fakeBackend) (*Scheduler, *eventRecorder, string) {
	t.Helper()
	dataDir := t.TempDir()
	agg := fleet.NewAggregator(backend, "aquatic-trial", dataDir, discard())
	hub := broadcast.NewHub(discard())
	rec := &eventRecorder{}
	hub.Register(rec)
	cfg := Config{
		Image:    "aquatic-sim:latest",
		Command:  []string{"mission"},
		BasePort: 6080,
		VNCPort:  6080,
		DataDir:  dataDir,
		MountDir: "/data/missions",
		// keep the background loop inert; tests drive reconcile directly
		ReconcileInterval: time.Hour,
	}
	s := NewScheduler(backend, agg, hub, cfg, discard())
	t.Cleanup(s.Cancel)
	return s, rec, dataDir
}

func TestStartFillsCapacity(t *testing.T) {
	backend := newFakeBackend()
	s, _, _ := newTestScheduler(t, backend)

	started, err := s.Start(context.Background(), 1, 5, 2)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(started) != 2 || started[0] != 1 || started[1] != 2 {
		t.Fatalf("expected trials 1,2 started, got %v", started)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	want := []int{3, 4, 5}
	if len(s.pending) != len(want) {
		t.Fatalf("expected pending %v, got %v", want, s.pending)
	}
	for i, id := range want {
		if s.pending[i] != id {
			t.Fatalf("expected pending %v, got %v", want, s.pending)
		}
	}
}

func TestStartCapacityLargerThanRange(t *testing.T) {
	backend := newFakeBackend()
	s, _, _ := newTestScheduler(t, backend)

	started, err := s.Start(context.Background(), 3, 4, 10)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(started) != 2 {
		t.Fatalf("expected min(c, range)=2 dispatches, got %d", len(started))
	}
	if st := s.Status(); st.Pending != 0 {
		t.Fatalf("expected empty pending, got %d", st.Pending)
	}
}

func TestStartDispatchFailureMarksFailed(t *testing.T) {
	backend := newFakeBackend()
	backend.startErr["aquatic-trial-1"] = errors.New("image missing")
	s, _, _ := newTestScheduler(t, backend)

	started, err := s.Start(context.Background(), 1, 5, 2)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(started) != 2 || started[0] != 2 || started[1] != 3 {
		t.Fatalf("expected 2,3 started after 1 failed, got %v", started)
	}
	st := s.Status()
	if st.Failed != 1 || st.FailedTrials[0] != 1 {
		t.Fatalf("expected trial 1 failed, got %+v", st)
	}
}

func TestReconcileClassifiesByArtifact(t *testing.T) {
	backend := newFakeBackend()
	s, _, dataDir := newTestScheduler(t, backend)

	if _, err := s.Start(context.Background(), 1, 2, 2); err != nil {
		t.Fatalf("Start: %v", err)
	}

	// trial 1 saved samples, trial 2 exited empty-handed
	artifactDir := filepath.Join(dataDir, "trial_1", "radial")
	if err := os.MkdirAll(artifactDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(artifactDir, "radial_samples.csv"), []byte("x,y\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	backend.setExited("aquatic-trial-1")
	backend.setExited("aquatic-trial-2")

	done, err := s.reconcile(context.Background())
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if !done {
		t.Fatalf("expected terminal cycle")
	}
	st := s.Status()
	if st.Completed != 1 || st.CompletedTrials[0] != 1 {
		t.Fatalf("expected trial 1 completed, got %+v", st)
	}
	if st.Failed != 1 || st.FailedTrials[0] != 2 {
		t.Fatalf("expected trial 2 failed, got %+v", st)
	}
	if st.Progress != 100.0 {
		t.Fatalf("expected progress 100, got %v", st.Progress)
	}
}

func TestReconcileRefillsLowestFirst(t *testing.T) {
	backend := newFakeBackend()
	s, _, _ := newTestScheduler(t, backend)

	if _, err := s.Start(context.Background(), 1, 6, 2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	backend.setExited("aquatic-trial-1")

	if _, err := s.reconcile(context.Background()); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	// trial 1 exited, capacity backfilled with the lowest pending id
	backend.mu.Lock()
	_, started3 := backend.workloads["aquatic-trial-3"]
	_, started4 := backend.workloads["aquatic-trial-4"]
	backend.mu.Unlock()
	if !started3 {
		t.Fatalf("expected trial 3 dispatched next")
	}
	if started4 {
		t.Fatalf("trial 4 dispatched ahead of capacity")
	}
}

func TestQueueSetsStayDisjoint(t *testing.T) {
	backend := newFakeBackend()
	s, _, _ := newTestScheduler(t, backend)

	if _, err := s.Start(context.Background(), 1, 6, 3); err != nil {
		t.Fatalf("Start: %v", err)
	}
	for cycle := 0; cycle < 4; cycle++ {
		backend.exitAll()
		if _, err := s.reconcile(context.Background()); err != nil {
			t.Fatalf("reconcile: %v", err)
		}

		s.mu.Lock()
		for _, id := range s.pending {
			if contains(s.completed, id) || contains(s.failed, id) {
				t.Fatalf("trial %d in pending and a terminal set", id)
			}
		}
		for _, id := range s.completed {
			if contains(s.failed, id) {
				t.Fatalf("trial %d in completed and failed", id)
			}
		}
		s.mu.Unlock()
	}
}

func TestTerminalEventEmittedOnce(t *testing.T) {
	backend := newFakeBackend()
	s, rec, dataDir := newTestScheduler(t, backend)

	if _, err := s.Start(context.Background(), 1, 1, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := os.MkdirAll(filepath.Join(dataDir, "trial_1"), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, "trial_1", "radial_samples.csv"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	backend.setExited("aquatic-trial-1")

	done, err := s.reconcile(context.Background())
	if err != nil || !done {
		t.Fatalf("expected terminal cycle, done=%v err=%v", done, err)
	}
	if s.isActive() {
		t.Fatalf("batch should be inactive after terminal cycle")
	}

	// a further cycle is a no-op and must not emit another terminal event
	if done, err := s.reconcile(context.Background()); err != nil || !done {
		t.Fatalf("post-terminal reconcile: done=%v err=%v", done, err)
	}
	if n := rec.countTagged("batch_complete"); n != 1 {
		t.Fatalf("expected exactly one batch_complete, got %d", n)
	}
}

func TestCancelAfterStart(t *testing.T) {
	backend := newFakeBackend()
	s, _, _ := newTestScheduler(t, backend)

	if _, err := s.Start(context.Background(), 1, 5, 2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	s.Cancel()

	if st := s.Status(); st.Active || st.Pending != 0 {
		t.Fatalf("expected inactive empty-pending status, got %+v", st)
	}
	// running workloads continue unaffected
	running, _ := backend.List(context.Background(), false)
	if len(running) != 2 {
		t.Fatalf("expected 2 workloads still running, got %d", len(running))
	}

	// idempotent
	s.Cancel()
}

func TestStartReplacesActiveBatch(t *testing.T) {
	backend := newFakeBackend()
	s, _, _ := newTestScheduler(t, backend)

	if _, err := s.Start(context.Background(), 1, 5, 2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	// replacement counts the two already-running workloads against capacity
	started, err := s.Start(context.Background(), 10, 12, 3)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	if len(started) != 1 || started[0] != 10 {
		t.Fatalf("expected only trial 10 dispatched, got %v", started)
	}
	st := s.Status()
	if st.Batch.StartTrial != 10 || st.Batch.EndTrial != 12 {
		t.Fatalf("expected replacement batch, got %+v", st.Batch)
	}
	// the prior batch's workloads keep running
	running, _ := backend.List(context.Background(), false)
	if len(running) != 3 {
		t.Fatalf("expected 3 running workloads, got %d", len(running))
	}
}

func TestStopAll(t *testing.T) {
	backend := newFakeBackend()
	s, _, _ := newTestScheduler(t, backend)

	if _, err := s.Start(context.Background(), 1, 3, 3); err != nil {
		t.Fatalf("Start: %v", err)
	}
	stopped, err := s.StopAll(context.Background())
	if err != nil {
		t.Fatalf("StopAll: %v", err)
	}
	if len(stopped) != 3 {
		t.Fatalf("expected 3 stopped, got %v", stopped)
	}
	if st := s.Status(); st.Active {
		t.Fatalf("batch should be cancelled")
	}
}

func TestStatusNoBatch(t *testing.T) {
	backend := newFakeBackend()
	s, _, _ := newTestScheduler(t, backend)

	st := s.Status()
	if st.Active || st.Batch != nil || st.Progress != 0 {
		t.Fatalf("expected empty status, got %+v", st)
	}
}

func TestStatusMarshalKeepsZeroKeys(t *testing.T) {
	backend := newFakeBackend()
	s, _, _ := newTestScheduler(t, backend)

	// idle and freshly-started statuses both carry every count and list key
	check := func(label string, st Status) {
		raw, err := json.Marshal(st)
		if err != nil {
			t.Fatalf("%s: %v", label, err)
		}
		var doc map[string]interface{}
		if err := json.Unmarshal(raw, &doc); err != nil {
			t.Fatalf("%s: %v", label, err)
		}
		for _, key := range []string{
			"pending", "pending_trials",
			"completed", "completed_trials",
			"failed", "failed_trials",
			"progress",
		} {
			v, ok := doc[key]
			if !ok {
				t.Fatalf("%s: key %q missing from %s", label, key, raw)
			}
			if v == nil {
				t.Fatalf("%s: key %q is null in %s", label, key, raw)
			}
		}
	}

	check("idle", s.Status())
	if _, ok := mustUnmarshal(t, s.Status())["batch"]; ok {
		t.Fatalf("idle status should drop the batch key")
	}

	if _, err := s.Start(context.Background(), 1, 5, 2); err != nil {
		t.Fatalf("Start: %v", err)
	}
	check("active", s.Status())
	if _, ok := mustUnmarshal(t, s.Status())["batch"]; !ok {
		t.Fatalf("active status should carry the batch key")
	}
}

func mustUnmarshal(t *testing.T, st Status) map[string]interface{} {
	t.Helper()
	raw, err := json.Marshal(st)
	if err != nil {
		t.Fatal(err)
	}
	var doc map[string]interface{}
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatal(err)
	}
	return doc
}

// blockingObserver stalls inside Send until released, like a websocket peer
// that stopped reading.
type blockingObserver struct {
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func newBlockingObserver() *blockingObserver {
	return &blockingObserver{entered: make(chan struct{}), release: make(chan struct{})}
}

func (b *blockingObserver) Send(v interface{}) error {
	b.once.Do(func() { close(b.entered) })
	<-b.release
	return nil
}

func TestStatusNotBlockedByStalledObserver(t *testing.T) {
	backend := newFakeBackend()
	s, _, _ := newTestScheduler(t, backend)

	obs := newBlockingObserver()
	s.hub.Register(obs)

	startDone := make(chan error, 1)
	go func() {
		_, err := s.Start(context.Background(), 1, 5, 2)
		startDone <- err
	}()

	select {
	case <-obs.entered:
	case <-time.After(2 * time.Second):
		t.Fatalf("broadcast never reached the observer")
	}

	// the broadcast is stalled in Send; status queries must still answer
	done := make(chan Status, 1)
	go func() { done <- s.Status() }()
	select {
	case st := <-done:
		if !st.Active {
			t.Fatalf("expected active batch, got %+v", st)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Status blocked behind a stalled observer")
	}

	close(obs.release)
	if err := <-startDone; err != nil {
		t.Fatalf("Start: %v", err)
	}
}

func TestStatusPendingPreviewBounded(t *testing.T) {
	backend := newFakeBackend()
	s, _, _ := newTestScheduler(t, backend)

	if _, err := s.Start(context.Background(), 1, 30, 1); err != nil {
		t.Fatalf("Start: %v", err)
	}
	st := s.Status()
	if st.Pending != 29 {
		t.Fatalf("expected 29 pending, got %d", st.Pending)
	}
	if len(st.PendingTrials) != 10 || st.PendingTrials[0] != 2 {
		t.Fatalf("expected first 10 pending ids starting at 2, got %v", st.PendingTrials)
	}
}

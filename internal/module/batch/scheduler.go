package batch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"aqmap-bk/internal/pkg/broadcast"
	"aqmap-bk/internal/pkg/client/dockerd"
	"aqmap-bk/internal/pkg/fleet"
)

// Config carries the trial-derived container settings.
type Config struct {
	Image             string
	Command           []string
	BasePort          int
	VNCPort           int
	DataDir           string // host dir holding trial_<id> subdirs
	MountDir          string // container-side bind target
	ReconcileInterval time.Duration
	StopTimeout       time.Duration
}

// Batch is the metadata of the one active batch.
type Batch struct {
	StartTrial int       `json:"start_trial"`
	EndTrial   int       `json:"end_trial"`
	Concurrent int       `json:"concurrent"`
	Total      int       `json:"total"`
	StartedAt  time.Time `json:"started_at"`
}

// Status is the batch status document served to the dashboard. The count and
// list keys are always present, zero-valued when idle; only batch is dropped
// when none exists.
type Status struct {
	Active          bool    `json:"active"`
	Batch           *Batch  `json:"batch,omitempty"`
	Pending         int     `json:"pending"`
	PendingTrials   []int   `json:"pending_trials"`
	Completed       int     `json:"completed"`
	CompletedTrials []int   `json:"completed_trials"`
	Failed          int     `json:"failed"`
	FailedTrials    []int   `json:"failed_trials"`
	Progress        float64 `json:"progress"`
}

// Scheduler owns the single active batch and converges it against observed
// fleet state. All queue mutation happens under mu: gin handlers and the
// reconcile loop run on different goroutines.
type Scheduler struct {
	backend dockerd.API
	fleet   *fleet.Aggregator
	hub     *broadcast.Hub
	cfg     Config
	logger  *slog.Logger

	mu         sync.Mutex
	batch      *Batch
	active     bool
	pending    []int
	completed  []int
	failed     []int
	cancelLoop context.CancelFunc
}

func NewScheduler(backend dockerd.API, agg *fleet.Aggregator, hub *broadcast.Hub, cfg Config, logger *slog.Logger) *Scheduler {
	if cfg.ReconcileInterval <= 0 {
		cfg.ReconcileInterval = 5 * time.Second
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = 10 * time.Second
	}
	return &Scheduler{backend: backend, fleet: agg, hub: hub, cfg: cfg, logger: logger}
}

// Start replaces any active batch with a fresh one covering [startTrial,
// endTrial] and fills capacity synchronously, so the caller observes the
// initial set of dispatched trials. Replacing a batch only detaches its
// bookkeeping; workloads it started keep running.
func (s *Scheduler) Start(ctx context.Context, startTrial, endTrial, concurrent int) ([]int, error) {
	if startTrial < 1 || endTrial < startTrial {
		return nil, fmt.Errorf("invalid trial range [%d, %d]", startTrial, endTrial)
	}
	if concurrent < 1 {
		return nil, fmt.Errorf("concurrent must be at least 1")
	}

	snaps, err := s.fleet.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to query fleet state: %w", err)
	}
	running := fleet.RunningCount(snaps)

	s.mu.Lock()
	if s.cancelLoop != nil {
		s.cancelLoop()
		s.cancelLoop = nil
	}
	s.batch = &Batch{
		StartTrial: startTrial,
		EndTrial:   endTrial,
		Concurrent: concurrent,
		Total:      endTrial - startTrial + 1,
		StartedAt:  time.Now(),
	}
	s.active = true
	s.pending = make([]int, 0, s.batch.Total)
	for id := startTrial; id <= endTrial; id++ {
		s.pending = append(s.pending, id)
	}
	s.completed = nil
	s.failed = nil

	started := make([]int, 0, concurrent)
	for running < concurrent && len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		if _, err := s.Dispatch(ctx, next); err != nil {
			s.logger.Error("unable to dispatch trial", "trial", next, "err", err)
			s.markFailedLocked(next)
			continue
		}
		started = append(started, next)
		running++
	}

	loopCtx, cancel := context.WithCancel(context.Background())
	s.cancelLoop = cancel
	go s.run(loopCtx)
	st := s.statusLocked()
	s.mu.Unlock()

	// broadcast with the lock released: a stalled observer must not block
	// status queries
	s.hub.Broadcast(gin.H{
		"event":        "batch_started",
		"trials":       started,
		"batch_status": st,
	})
	return started, nil
}

// Cancel deactivates the batch and clears pending. Running workloads are
// unaffected. Idempotent.
func (s *Scheduler) Cancel() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = false
	s.pending = nil
	s.batch = nil
	if s.cancelLoop != nil {
		s.cancelLoop()
		s.cancelLoop = nil
	}
}

// StopAll cancels the batch and stops every running fleet workload.
func (s *Scheduler) StopAll(ctx context.Context) ([]string, error) {
	s.Cancel()

	snaps, err := s.fleet.ListSnapshots(ctx)
	if err != nil {
		return nil, fmt.Errorf("unable to query fleet state: %w", err)
	}
	stopped := make([]string, 0, len(snaps))
	for _, snap := range snaps {
		if snap.Status != "running" {
			continue
		}
		if err := s.backend.Stop(ctx, snap.Name, s.cfg.StopTimeout); err != nil {
			return stopped, fmt.Errorf("unable to stop %s: %w", snap.Name, err)
		}
		stopped = append(stopped, snap.Name)
	}
	return stopped, nil
}

// Status returns the current batch status document; {active: false} when no
// batch exists.
func (s *Scheduler) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Scheduler) statusLocked() Status {
	if s.batch == nil {
		return Status{
			Active:          false,
			PendingTrials:   []int{},
			CompletedTrials: []int{},
			FailedTrials:    []int{},
		}
	}
	preview := s.pending
	if len(preview) > 10 {
		preview = preview[:10]
	}
	resolved := len(s.completed) + len(s.failed)
	progress := round1(float64(resolved) / float64(s.batch.Total) * 100)
	b := *s.batch
	return Status{
		Active:          s.active,
		Batch:           &b,
		Pending:         len(s.pending),
		PendingTrials:   append([]int{}, preview...),
		Completed:       len(s.completed),
		CompletedTrials: append([]int{}, s.completed...),
		Failed:          len(s.failed),
		FailedTrials:    append([]int{}, s.failed...),
		Progress:        progress,
	}
}

// Dispatch force-removes any stale workload for the trial and starts a fresh
// one with trial-derived configuration. Prior resource history for the name
// is discarded.
func (s *Scheduler) Dispatch(ctx context.Context, trialID int) (dockerd.Workload, error) {
	name := s.fleet.WorkloadName(trialID)

	trialDir := s.fleet.DataDir(trialID)
	if err := os.MkdirAll(trialDir, 0o777); err != nil {
		return dockerd.Workload{}, fmt.Errorf("unable to create trial data dir: %w", err)
	}
	// The workload writes as an unprivileged container user.
	_ = os.Chmod(s.cfg.DataDir, 0o777)
	_ = os.Chmod(trialDir, 0o777)

	if err := s.backend.Remove(ctx, name, true); err != nil && !errors.Is(err, dockerd.ErrNotFound) {
		return dockerd.Workload{}, fmt.Errorf("unable to remove stale workload %s: %w", name, err)
	}

	spec := dockerd.StartSpec{
		Name:    name,
		Image:   s.cfg.Image,
		Command: s.cfg.Command,
		Env: map[string]string{
			"TRIAL_ID":      strconv.Itoa(trialID),
			"ROS_DOMAIN_ID": strconv.Itoa(trialID % 100),
			"HEADLESS":      "1",
		},
		Binds:        []string{s.cfg.DataDir + ":" + s.cfg.MountDir + ":rw"},
		PortBindings: map[int]int{s.cfg.VNCPort: s.cfg.BasePort + trialID},
	}
	w, err := s.backend.Start(ctx, spec)
	if err != nil {
		return dockerd.Workload{}, fmt.Errorf("unable to start workload %s: %w", name, err)
	}
	return w, nil
}

// run is the reconciliation loop: level-triggered, fixed period, one batch.
func (s *Scheduler) run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ReconcileInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
		if !s.isActive() {
			return
		}
		done, err := s.reconcile(ctx)
		if err != nil {
			s.logger.Error("reconcile cycle failed", "err", err)
			continue
		}
		if done {
			return
		}
	}
}

func (s *Scheduler) isActive() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// reconcile runs one cycle: classify exited workloads, refill capacity,
// publish, and detect the terminal condition. Order matters: observers never
// see a newly dispatched trial without that cycle's completions.
func (s *Scheduler) reconcile(ctx context.Context) (bool, error) {
	snaps, err := s.fleet.ListSnapshots(ctx)
	if err != nil {
		return false, err
	}

	s.mu.Lock()
	if !s.active {
		s.mu.Unlock()
		return true, nil
	}

	for _, snap := range snaps {
		if snap.Status != "exited" {
			continue
		}
		if hasCompletionArtifact(s.fleet.DataDir(snap.TrialID)) {
			s.markCompletedLocked(snap.TrialID)
		} else {
			s.markFailedLocked(snap.TrialID)
		}
	}

	// events collected here go out after the lock is released; a stalled
	// observer must not block status queries
	var events []gin.H
	running := fleet.RunningCount(snaps)
	for running < s.batch.Concurrent && len(s.pending) > 0 {
		next := s.pending[0]
		s.pending = s.pending[1:]
		if _, err := s.Dispatch(ctx, next); err != nil {
			s.logger.Error("unable to dispatch trial", "trial", next, "err", err)
			s.markFailedLocked(next)
			continue
		}
		running++
		events = append(events, gin.H{
			"event":        "trial_started",
			"trial_id":     next,
			"batch_status": s.statusLocked(),
		})
	}

	events = append(events, gin.H{
		"event":        "batch_update",
		"batch_status": s.statusLocked(),
	})

	done := false
	if len(s.pending) == 0 && running == 0 {
		s.active = false
		done = true
		events = append(events, gin.H{
			"event":        "batch_complete",
			"batch_status": s.statusLocked(),
		})
	}
	s.mu.Unlock()

	for _, e := range events {
		s.hub.Broadcast(e)
	}
	return done, nil
}

// markCompletedLocked moves a trial out of pending into completed. A trial
// never returns to pending once classified.
func (s *Scheduler) markCompletedLocked(trialID int) {
	s.removePendingLocked(trialID)
	if !contains(s.completed, trialID) && !contains(s.failed, trialID) {
		s.completed = append(s.completed, trialID)
	}
}

func (s *Scheduler) markFailedLocked(trialID int) {
	s.removePendingLocked(trialID)
	if !contains(s.failed, trialID) && !contains(s.completed, trialID) {
		s.failed = append(s.failed, trialID)
	}
}

func (s *Scheduler) removePendingLocked(trialID int) {
	for i, id := range s.pending {
		if id == trialID {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return
		}
	}
}

func contains(ids []int, id int) bool {
	for _, cur := range ids {
		if cur == id {
			return true
		}
	}
	return false
}

// hasCompletionArtifact reports whether the trial saved sampling output, the
// sole signal separating a successful exit from a failed one.
func hasCompletionArtifact(dir string) bool {
	found := false
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() && strings.HasSuffix(d.Name(), "_samples.csv") {
			found = true
			return filepath.SkipAll
		}
		return nil
	})
	return found
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

package fleet

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"aqmap-bk/internal/pkg/client/dockerd"
)

// Resource is one best-effort resource sample for a running workload.
type Resource struct {
	CPUPercent float64 `json:"cpu_percent"`
	MemUsageMB float64 `json:"mem_usage_mb"`
	MemPercent float64 `json:"mem_percent"`
}

// Snapshot is the per-workload view the dashboard renders. Stats and Mission
// are nil when the corresponding sub-query degraded.
type Snapshot struct {
	Name    string    `json:"name"`
	TrialID int       `json:"trial_id"`
	Status  string    `json:"status"`
	VNCPort int       `json:"vnc_port,omitempty"`
	Stats   *Resource `json:"stats,omitempty"`
	Mission *Progress `json:"mission,omitempty"`
	Created time.Time `json:"created"`
}

// Aggregator derives fleet state from the workload backend. Snapshots are
// recomputed on every call and never cached.
type Aggregator struct {
	backend dockerd.API
	prefix  string
	dataDir string
	logTail int
	logger  *slog.Logger
	sf      singleflight.Group
}

func NewAggregator(backend dockerd.API, prefix, dataDir string, logger *slog.Logger) *Aggregator {
	return &Aggregator{
		backend: backend,
		prefix:  prefix,
		dataDir: dataDir,
		logTail: 50,
		logger:  logger,
	}
}

// WorkloadName returns the backend name for a trial identifier.
func (a *Aggregator) WorkloadName(trialID int) string {
	return fmt.Sprintf("%s-%d", a.prefix, trialID)
}

// TrialID derives the trial identifier from a workload name. Names outside
// the fleet convention return ok=false; a non-numeric suffix yields id 0.
func (a *Aggregator) TrialID(name string) (int, bool) {
	suffix, found := strings.CutPrefix(name, a.prefix+"-")
	if !found {
		return 0, false
	}
	id, err := strconv.Atoi(suffix)
	if err != nil {
		return 0, true
	}
	return id, true
}

// DataDir returns the host data directory for a trial.
func (a *Aggregator) DataDir(trialID int) string {
	return filepath.Join(a.dataDir, fmt.Sprintf("trial_%d", trialID))
}

// BaseDataDir returns the root under which per-trial data directories live.
func (a *Aggregator) BaseDataDir() string {
	return a.dataDir
}

// ListSnapshots queries all fleet workloads and derives their display state.
// Resource and progress sampling are best-effort: either sub-query failing
// leaves the field nil without failing the listing. Concurrent callers share
// one backend round trip.
func (a *Aggregator) ListSnapshots(ctx context.Context) ([]Snapshot, error) {
	v, err, _ := a.sf.Do("snapshots", func() (interface{}, error) {
		return a.listSnapshots(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.([]Snapshot), nil
}

func (a *Aggregator) listSnapshots(ctx context.Context) ([]Snapshot, error) {
	workloads, err := a.backend.List(ctx, true)
	if err != nil {
		return nil, fmt.Errorf("unable to list fleet workloads: %w", err)
	}

	snapshots := make([]Snapshot, 0, len(workloads))
	for _, w := range workloads {
		id, ok := a.TrialID(w.Name)
		if !ok {
			continue
		}
		s := Snapshot{
			Name:    w.Name,
			TrialID: id,
			Status:  w.Status,
			VNCPort: w.PublishedPort,
			Created: w.Created,
		}
		if w.Status == "running" {
			if rc, err := a.backend.Stats(ctx, w.Name); err != nil {
				a.logger.Debug("stats sample degraded", "workload", w.Name, "err", err)
			} else {
				s.Stats = &Resource{
					CPUPercent: round1(CPUPercent(rc)),
					MemUsageMB: round1(float64(rc.MemUsage) / 1024 / 1024),
					MemPercent: round1(MemPercent(rc)),
				}
			}
			if logs, err := a.backend.Logs(ctx, w.Name, a.logTail); err != nil {
				a.logger.Debug("progress sample degraded", "workload", w.Name, "err", err)
			} else {
				p := ParseProgress(logs)
				s.Mission = &p
			}
		}
		snapshots = append(snapshots, s)
	}

	sort.Slice(snapshots, func(i, j int) bool {
		return snapshots[i].TrialID < snapshots[j].TrialID
	})
	return snapshots, nil
}

// RunningCount counts running snapshots.
func RunningCount(snapshots []Snapshot) int {
	n := 0
	for _, s := range snapshots {
		if s.Status == "running" {
			n++
		}
	}
	return n
}

// CPUPercent computes utilization from two cumulative counter samples. A zero
// system delta yields 0 rather than a division error.
func CPUPercent(rc dockerd.RawCounters) float64 {
	cpuDelta := float64(rc.CPUTotal) - float64(rc.PreCPUTotal)
	systemDelta := float64(rc.SystemCPU) - float64(rc.PreSystemCPU)
	if systemDelta <= 0 {
		return 0
	}
	return cpuDelta / systemDelta * 100
}

// MemPercent is used/limit*100; an unset limit yields 0.
func MemPercent(rc dockerd.RawCounters) float64 {
	if rc.MemLimit == 0 {
		return 0
	}
	return float64(rc.MemUsage) / float64(rc.MemLimit) * 100
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

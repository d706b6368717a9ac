package sysinfo

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

type ExecCommandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

// Stats is the host resource view. Every field is best-effort: a failed
// sample degrades to its zero value, GPU to nil.
type Stats struct {
	CPUPercent    float64  `json:"cpu_percent"`
	MemoryPercent float64  `json:"memory_percent"`
	MemoryUsedGB  float64  `json:"memory_used_gb"`
	MemoryTotalGB float64  `json:"memory_total_gb"`
	GPU           *GPUStat `json:"gpu"`
}

type GPUStat struct {
	Utilization   int    `json:"utilization"`
	MemoryUsedMB  int    `json:"memory_used_mb"`
	MemoryTotalMB int    `json:"memory_total_mb"`
	Name          string `json:"name"`
}

// Sampler reads host CPU/memory counters and queries the GPU through
// nvidia-smi. The exec function is injectable for tests.
type Sampler struct {
	execCommand ExecCommandFunc
	logger      *slog.Logger
}

func NewSampler(execCommand ExecCommandFunc, logger *slog.Logger) *Sampler {
	if execCommand == nil {
		execCommand = exec.CommandContext
	}
	return &Sampler{execCommand: execCommand, logger: logger}
}

// Sample collects the current host stats. It never returns an error; callers
// always get a renderable document.
func (s *Sampler) Sample(ctx context.Context) Stats {
	var st Stats

	if percents, err := cpu.PercentWithContext(ctx, 100*time.Millisecond, false); err == nil && len(percents) > 0 {
		st.CPUPercent = percents[0]
	} else if err != nil {
		s.logger.Debug("host cpu sample degraded", "err", err)
	}

	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		st.MemoryPercent = vm.UsedPercent
		st.MemoryUsedGB = round1(float64(vm.Used) / 1024 / 1024 / 1024)
		st.MemoryTotalGB = round1(float64(vm.Total) / 1024 / 1024 / 1024)
	} else {
		s.logger.Debug("host memory sample degraded", "err", err)
	}

	st.GPU = s.sampleGPU(ctx)
	return st
}

func (s *Sampler) sampleGPU(ctx context.Context) *GPUStat {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	cmd := s.execCommand(ctx, "nvidia-smi",
		"--query-gpu=utilization.gpu,memory.used,memory.total,name",
		"--format=csv,noheader,nounits")
	output, err := cmd.Output()
	if err != nil {
		s.logger.Debug("gpu query degraded", "err", err)
		return nil
	}
	gpu, err := parseGPUQuery(string(output))
	if err != nil {
		s.logger.Debug("unable to parse nvidia-smi output", "output", string(output), "err", err)
		return nil
	}
	return gpu
}

// parseGPUQuery parses the first line of
// "util, mem.used, mem.total, name" csv output.
func parseGPUQuery(output string) (*GPUStat, error) {
	line, _, _ := strings.Cut(strings.TrimSpace(output), "\n")
	parts := strings.Split(line, ", ")
	if len(parts) < 4 {
		return nil, fmt.Errorf("expected 4 csv fields, got %d", len(parts))
	}
	util, err := strconv.Atoi(strings.TrimSpace(parts[0]))
	if err != nil {
		return nil, fmt.Errorf("bad utilization field: %w", err)
	}
	used, err := strconv.Atoi(strings.TrimSpace(parts[1]))
	if err != nil {
		return nil, fmt.Errorf("bad memory.used field: %w", err)
	}
	total, err := strconv.Atoi(strings.TrimSpace(parts[2]))
	if err != nil {
		return nil, fmt.Errorf("bad memory.total field: %w", err)
	}
	return &GPUStat{
		Utilization:   util,
		MemoryUsedMB:  used,
		MemoryTotalMB: total,
		Name:          strings.TrimSpace(strings.Join(parts[3:], ", ")),
	}, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

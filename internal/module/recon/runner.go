package recon

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"
)

// ExecCommandFunc builds the reconstruction subprocess. Injected so tests can
// substitute a short-lived command.
type ExecCommandFunc func(ctx context.Context, name string, arg ...string) *exec.Cmd

// Proc tracks one reconstruction subprocess from start to exit.
type Proc struct {
	cmd       *exec.Cmd
	startedAt time.Time
	done      chan struct{}
	waitErr   error
}

func (p *Proc) running() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// Status is the reconstruction state document for one trial.
type Status struct {
	TrialID  int      `json:"trial_id"`
	Status   string   `json:"status"` // not_started | running | success | failed
	ExitCode int      `json:"exit_code,omitempty"`
	Errors   []string `json:"errors,omitempty"`
	LogFile  string   `json:"log_file,omitempty"`
}

// ResultEntry is one reconstruction quality row parsed from a metrics file.
type ResultEntry struct {
	Method string  `json:"method"`
	Field  string  `json:"field"`
	Kernel string  `json:"kernel"`
	RMSE   float64 `json:"rmse"`
	NRMSE  float64 `json:"nrmse"`
}

// Runner manages at most one reconstruction subprocess per trial. Output goes
// to reconstruction.log in the trial's results directory.
type Runner struct {
	execCommand ExecCommandFunc
	python      string
	script      string
	workdir     string
	resultsDir  string
	logger      *slog.Logger

	mu    sync.Mutex
	procs map[int]*Proc
}

func NewRunner(execCommand ExecCommandFunc, python, script, workdir, resultsDir string, logger *slog.Logger) *Runner {
	if execCommand == nil {
		execCommand = exec.CommandContext
	}
	return &Runner{
		execCommand: execCommand,
		python:      python,
		script:      script,
		workdir:     workdir,
		resultsDir:  resultsDir,
		logger:      logger,
		procs:       make(map[int]*Proc),
	}
}

// ResultsDir returns the results directory for a trial.
func (r *Runner) ResultsDir(trialID int) string {
	return filepath.Join(r.resultsDir, fmt.Sprintf("trial_%d", trialID))
}

func (r *Runner) logPath(trialID int) string {
	return filepath.Join(r.ResultsDir(trialID), "reconstruction.log")
}

// Start launches the reconstruction pipeline for a trial. A previous run for
// the same trial is killed first; its partial log is overwritten.
func (r *Runner) Start(trialID int) error {
	r.Kill(trialID)

	dir := r.ResultsDir(trialID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("unable to create results dir: %w", err)
	}
	logFile, err := os.Create(r.logPath(trialID))
	if err != nil {
		return fmt.Errorf("unable to create reconstruction log: %w", err)
	}

	cmd := r.execCommand(context.Background(), r.python, r.script, "all", strconv.Itoa(trialID), "all")
	cmd.Dir = r.workdir
	cmd.Stdout = logFile
	cmd.Stderr = logFile
	if err := cmd.Start(); err != nil {
		logFile.Close()
		return fmt.Errorf("unable to start reconstruction: %w", err)
	}

	p := &Proc{cmd: cmd, startedAt: time.Now(), done: make(chan struct{})}
	r.mu.Lock()
	r.procs[trialID] = p
	r.mu.Unlock()

	r.logger.Info("reconstruction started", "trial", trialID, "pid", cmd.Process.Pid)
	go func() {
		p.waitErr = cmd.Wait()
		logFile.Close()
		close(p.done)
		if p.waitErr != nil {
			r.logger.Warn("reconstruction exited with error", "trial", trialID, "err", p.waitErr)
		} else {
			r.logger.Info("reconstruction finished", "trial", trialID)
		}
	}()
	return nil
}

// Kill terminates a running reconstruction for the trial, reporting whether
// one was running.
func (r *Runner) Kill(trialID int) bool {
	r.mu.Lock()
	p := r.procs[trialID]
	r.mu.Unlock()
	if p == nil || !p.running() {
		return false
	}
	if err := p.cmd.Process.Kill(); err != nil {
		r.logger.Warn("unable to kill reconstruction", "trial", trialID, "err", err)
		return false
	}
	<-p.done
	return true
}

// Status reports the reconstruction state for a trial. Failure states carry
// the last error-looking lines from the log so the dashboard can show a cause.
func (r *Runner) Status(trialID int) Status {
	r.mu.Lock()
	p := r.procs[trialID]
	r.mu.Unlock()

	st := Status{TrialID: trialID, LogFile: r.logPath(trialID)}
	if p == nil {
		if _, err := os.Stat(r.logPath(trialID)); err != nil {
			st.Status = "not_started"
			st.LogFile = ""
			return st
		}
		// a log from a previous process lifetime; classify by its content
		st.Errors = errorLines(r.logPath(trialID), 5)
		if len(st.Errors) > 0 {
			st.Status = "failed"
		} else {
			st.Status = "success"
		}
		return st
	}
	if p.running() {
		st.Status = "running"
		return st
	}
	if p.waitErr == nil {
		st.Status = "success"
		return st
	}
	st.Status = "failed"
	st.ExitCode = p.cmd.ProcessState.ExitCode()
	st.Errors = errorLines(r.logPath(trialID), 5)
	return st
}

// errorLines returns the last n lines of the file that look like errors.
func errorLines(path string, n int) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		l := strings.ToLower(line)
		if strings.Contains(l, "error") || strings.Contains(l, "exception") ||
			strings.Contains(l, "traceback") || strings.Contains(l, "failed") {
			lines = append(lines, strings.TrimSpace(line))
		}
	}
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	return lines
}

// Results walks the trial's results tree for metrics files. The pipeline
// writes them as <method>/<field>/<kernel>/<field>_<kernel>_metrics.csv; that
// layout is the contract. The girard method only produces a meaningful rbf
// variant, so its other kernels are skipped.
func (r *Runner) Results(trialID int) ([]ResultEntry, error) {
	root := r.ResultsDir(trialID)
	if _, err := os.Stat(root); err != nil {
		return nil, err
	}

	var entries []ResultEntry
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), "_metrics.csv") {
			return err
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return relErr
		}
		parts := strings.Split(filepath.ToSlash(rel), "/")
		if len(parts) != 4 {
			return nil
		}
		method, field, kernel := parts[0], parts[1], parts[2]
		if d.Name() != field+"_"+kernel+"_metrics.csv" {
			return nil
		}
		if method == "girard" && kernel != "rbf" {
			return nil
		}
		e, parseErr := parseMetrics(path)
		if parseErr != nil {
			r.logger.Debug("skipping unreadable metrics file", "path", path, "err", parseErr)
			return nil
		}
		e.Method, e.Field, e.Kernel = method, field, kernel
		entries = append(entries, e)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(entries, func(i, j int) bool {
		a, b := entries[i], entries[j]
		if a.Field != b.Field {
			return a.Field < b.Field
		}
		if a.Method != b.Method {
			return a.Method < b.Method
		}
		return a.Kernel < b.Kernel
	})
	return entries, nil
}

// Image is one rendered reconstruction plot.
type Image struct {
	Name string `json:"name"`
	Path string `json:"path"`
	URL  string `json:"url"`
}

// Images lists the rendered plots under the trial's results tree. A missing
// tree yields an empty list, not an error.
func (r *Runner) Images(trialID int) []Image {
	root := r.ResultsDir(trialID)
	images := []Image{}
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(d.Name(), ".png") {
			return nil
		}
		rel, relErr := filepath.Rel(root, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)
		images = append(images, Image{
			Name: d.Name(),
			Path: rel,
			URL:  fmt.Sprintf("/api/v1/reconstruct/%d/image/%s", trialID, rel),
		})
		return nil
	})
	sort.Slice(images, func(i, j int) bool { return images[i].Path < images[j].Path })
	return images
}

// ImagePath resolves a relative image path inside the trial's results tree.
// Paths escaping the tree are rejected.
func (r *Runner) ImagePath(trialID int, rel string) (string, error) {
	root := r.ResultsDir(trialID)
	full := filepath.Join(root, filepath.FromSlash(rel))
	if full != root && !strings.HasPrefix(full, root+string(os.PathSeparator)) {
		return "", fmt.Errorf("path %q escapes the results tree", rel)
	}
	if info, err := os.Stat(full); err != nil || info.IsDir() {
		return "", fmt.Errorf("no image at %q", rel)
	}
	return full, nil
}

// parseMetrics reads the rmse/nrmse columns from the first data row.
func parseMetrics(path string) (ResultEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return ResultEntry{}, err
	}
	defer f.Close()

	rd := csv.NewReader(f)
	header, err := rd.Read()
	if err != nil {
		return ResultEntry{}, err
	}
	row, err := rd.Read()
	if err != nil {
		return ResultEntry{}, err
	}

	var e ResultEntry
	for i, col := range header {
		if i >= len(row) {
			break
		}
		switch strings.ToLower(strings.TrimSpace(col)) {
		case "rmse":
			e.RMSE, _ = strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
		case "nrmse":
			e.NRMSE, _ = strconv.ParseFloat(strings.TrimSpace(row[i]), 64)
		}
	}
	return e, nil
}

// internal/reporting/reporter.go
package reporting

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/xkilldash9x/canary-cli/internal/agent"
	"github.com/xkilldash9x/canary-cli/internal/browser"
	"github.com/xkilldash9x/canary-cli/internal/config"
)

// Artifact file names inside a run directory.
const (
	TraceLinesFile     = "trace.jsonl"
	ExecutionTraceFile = "execution_trace.json"
	stagingDirName     = ".staging"
)

// Final statuses recorded in execution_trace.json.
const (
	StatusCompleted = "completed"
	StatusError     = "error"
	StatusFatal     = "fatal"
)

// Scrubber masks secrets in text written to disk.
type Scrubber interface {
	Scrub(text string) string
}

type nopScrubber struct{}

func (nopScrubber) Scrub(text string) string { return text }

// Verdict is the outcome handed to Finalize.
type Verdict struct {
	Health      agent.Health
	Description string
	// Err is set when the run ended on a fatal error.
	Err error
}

// Status maps the verdict onto a final status string.
func (v Verdict) Status() string {
	switch {
	case v.Err != nil:
		return StatusFatal
	case v.Health == agent.HealthOK:
		return StatusCompleted
	default:
		return StatusError
	}
}

// ExecutionTrace is the run summary written by Finalize.
type ExecutionTrace struct {
	RunID                  string       `json:"run_id"`
	RunType                string       `json:"run_type"`
	Timestamp              time.Time    `json:"timestamp"`
	Steps                  []agent.Step `json:"steps"`
	FinalStatus            string       `json:"final_status"`
	FinalHealth            string       `json:"final_health"`
	FinalHealthDescription string       `json:"final_health_description"`
	TotalSteps             int          `json:"total_steps"`
}

// Result tells the caller where Finalize left things.
type Result struct {
	TracePath string
	// QueueEntry is the published queue directory, empty when nothing was enqueued.
	QueueEntry string
}

// Option customizes a Reporter.
type Option func(*Reporter)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option { return func(r *Reporter) { r.now = now } }

// WithScrubber masks secrets in markup checkpoints.
func WithScrubber(s Scrubber) Option { return func(r *Reporter) { r.scrubber = s } }

// Reporter writes the artifacts of one run. It implements agent.StepObserver
// and agent.Capturer.
type Reporter struct {
	runID       string
	runType     string
	dir         string
	queueDir    string
	screenshots bool
	scrubber    Scrubber
	now         func() time.Time
	logger      *zap.Logger

	mu        sync.Mutex
	startedAt time.Time
	steps     []agent.Step
	trace     *os.File
	finalized bool
}

var (
	_ agent.StepObserver = (*Reporter)(nil)
	_ agent.Capturer     = (*Reporter)(nil)
)

// NewReporter creates <root>/<UTC yyyymmdd-hhmmss>-<short run id>/ and opens
// the step trace.
func NewReporter(cfg config.ArtifactsConfig, runID, runType string, logger *zap.Logger, opts ...Option) (*Reporter, error) {
	r := &Reporter{
		runID:       runID,
		runType:     runType,
		queueDir:    cfg.QueueDir,
		screenshots: cfg.Screenshots,
		scrubber:    nopScrubber{},
		now:         time.Now,
		logger:      logger.Named("reporter").With(zap.String("run_id", runID)),
	}
	for _, opt := range opts {
		opt(r)
	}

	r.startedAt = r.now().UTC()
	r.dir = filepath.Join(cfg.Root, r.startedAt.Format("20060102-150405")+"-"+shortID(runID))
	if err := os.MkdirAll(r.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create run directory: %w", err)
	}

	trace, err := os.OpenFile(filepath.Join(r.dir, TraceLinesFile), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open step trace: %w", err)
	}
	r.trace = trace

	r.logger.Info("Run artifacts directory ready.", zap.String("dir", r.dir))
	return r, nil
}

// Dir is the run directory.
func (r *Reporter) Dir() string { return r.dir }

// RunID is the run this reporter belongs to.
func (r *Reporter) RunID() string { return r.runID }

func shortID(runID string) string {
	id := strings.ReplaceAll(runID, "-", "")
	if len(id) > 8 {
		id = id[:8]
	}
	if id == "" {
		id = "run"
	}
	return id
}

var unsafeName = regexp.MustCompile(`[^A-Za-z0-9_-]+`)

// sanitizeName makes a model-chosen capture name safe to use as a file name.
func sanitizeName(name string) string {
	clean := strings.Trim(unsafeName.ReplaceAllString(name, "_"), "_")
	if len(clean) > 64 {
		clean = clean[:64]
	}
	if clean == "" {
		clean = "capture"
	}
	return clean
}

// RecordStep checkpoints the page after a step and appends the step to the
// trace. Artifact failures are logged, never returned; the run continues.
func (r *Reporter) RecordStep(ctx context.Context, s *agent.Session, step agent.Step) {
	label := string(step.Kind)
	if step.Call != nil {
		label = step.Call.Name
	}
	base := fmt.Sprintf("step-%03d-%s", step.Turn, sanitizeName(label))
	if _, err := r.checkpoint(ctx, s.Browser(), base); err != nil {
		r.logger.Warn("Step checkpoint failed.", zap.Int("turn", step.Turn), zap.Error(err))
	}

	line, err := json.Marshal(step)
	if err != nil {
		r.logger.Error("Failed to encode step.", zap.Int("turn", step.Turn), zap.Error(err))
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.steps = append(r.steps, step)
	if r.trace == nil {
		return
	}
	if _, err := r.trace.Write(append(line, '\n')); err != nil {
		r.logger.Warn("Failed to append to step trace.", zap.Error(err))
	}
}

// PhaseTerminal captures post_login after authentication and final after the conversation.
func (r *Reporter) PhaseTerminal(ctx context.Context, s *agent.Session, phase agent.Phase) {
	name := "final"
	if phase == agent.PhaseAuthenticating {
		name = "post_login"
	}
	if _, err := r.Capture(ctx, s.Browser(), name); err != nil {
		r.logger.Warn("Phase capture failed.", zap.String("capture", name), zap.Error(err))
	}
}

// Capture saves the page markup and, when enabled, a screenshot under name.
// It returns the markup path.
func (r *Reporter) Capture(ctx context.Context, drv browser.Driver, name string) (string, error) {
	return r.checkpoint(ctx, drv, sanitizeName(name))
}

func (r *Reporter) checkpoint(ctx context.Context, drv browser.Driver, base string) (string, error) {
	if drv == nil {
		return "", fmt.Errorf("no browser to capture %s from", base)
	}

	markup, err := drv.HTML(ctx)
	if err != nil {
		return "", fmt.Errorf("reading markup for %s: %w", base, err)
	}
	htmlPath := filepath.Join(r.dir, base+".html")
	if err := os.WriteFile(htmlPath, []byte(r.scrubber.Scrub(markup)), 0o644); err != nil {
		return "", fmt.Errorf("writing %s: %w", htmlPath, err)
	}

	if r.screenshots {
		png, err := drv.Screenshot(ctx)
		if err != nil {
			return htmlPath, fmt.Errorf("taking screenshot for %s: %w", base, err)
		}
		if err := os.WriteFile(filepath.Join(r.dir, base+".png"), png, 0o644); err != nil {
			return htmlPath, fmt.Errorf("writing screenshot for %s: %w", base, err)
		}
	}
	return htmlPath, nil
}

// Finalize writes execution_trace.json and, for an ERROR verdict, publishes
// the run directory to the monitoring queue. Calling it again is a no-op.
func (r *Reporter) Finalize(v Verdict) (Result, error) {
	r.mu.Lock()
	if r.finalized {
		r.mu.Unlock()
		return Result{TracePath: filepath.Join(r.dir, ExecutionTraceFile)}, nil
	}
	r.finalized = true
	steps := append([]agent.Step(nil), r.steps...)
	var closeErr error
	if r.trace != nil {
		closeErr = r.trace.Close()
		r.trace = nil
	}
	r.mu.Unlock()

	if v.Health == agent.HealthUnset {
		v.Health = agent.HealthError
	}
	description := v.Description
	if description == "" && v.Err != nil {
		description = fmt.Sprintf("fatal: %v", v.Err)
	}
	description = r.scrubber.Scrub(description)

	trace := ExecutionTrace{
		RunID:                  r.runID,
		RunType:                r.runType,
		Timestamp:              r.startedAt,
		Steps:                  steps,
		FinalStatus:            v.Status(),
		FinalHealth:            string(v.Health),
		FinalHealthDescription: description,
		TotalSteps:             len(steps),
	}
	if trace.Steps == nil {
		trace.Steps = []agent.Step{}
	}

	res := Result{TracePath: filepath.Join(r.dir, ExecutionTraceFile)}
	data, err := json.MarshalIndent(trace, "", "  ")
	if err != nil {
		return res, fmt.Errorf("failed to encode execution trace: %w", err)
	}
	if err := os.WriteFile(res.TracePath, data, 0o644); err != nil {
		return res, fmt.Errorf("failed to write execution trace: %w", err)
	}
	r.logger.Info("Execution trace saved.", zap.String("path", res.TracePath), zap.String("final_status", trace.FinalStatus))

	if v.Health != agent.HealthError {
		return res, closeErr
	}

	entry, err := r.enqueue(Manifest{
		RunID:             r.runID,
		RunType:           r.runType,
		CreatedAt:         r.now().UTC(),
		Health:            string(v.Health),
		HealthDescription: description,
	})
	res.QueueEntry = entry
	return res, errors.Join(closeErr, err)
}

// enqueue copies the run directory into a staging directory, writes the
// manifest there and renames it into place. Readers never see a partial entry.
func (r *Reporter) enqueue(m Manifest) (string, error) {
	final := filepath.Join(r.queueDir, r.runID)
	if _, err := os.Stat(final); err == nil {
		r.logger.Info("Queue entry already exists; leaving it untouched.", zap.String("entry", final))
		return final, nil
	}

	stagingRoot := filepath.Join(r.queueDir, stagingDirName)
	if err := os.MkdirAll(stagingRoot, 0o755); err != nil {
		return "", fmt.Errorf("failed to create queue staging area: %w", err)
	}
	staging, err := os.MkdirTemp(stagingRoot, r.runID+"-")
	if err != nil {
		return "", fmt.Errorf("failed to create staging directory: %w", err)
	}
	cleanup := func() {
		if rmErr := os.RemoveAll(staging); rmErr != nil {
			r.logger.Warn("Failed to remove staging directory.", zap.String("dir", staging), zap.Error(rmErr))
		}
	}

	if err := copyFiles(r.dir, staging); err != nil {
		cleanup()
		return "", err
	}
	m, err = buildManifest(staging, m)
	if err != nil {
		cleanup()
		return "", err
	}
	if err := WriteManifest(staging, m); err != nil {
		cleanup()
		return "", err
	}

	if err := os.Rename(staging, final); err != nil {
		cleanup()
		if _, statErr := os.Stat(final); statErr == nil {
			r.logger.Info("Queue entry published concurrently; keeping the existing one.", zap.String("entry", final))
			return final, nil
		}
		return "", fmt.Errorf("failed to publish queue entry: %w", err)
	}

	r.logger.Info("Run enqueued for monitoring.",
		zap.String("entry", final),
		zap.Int("files", len(m.Files)),
		zap.String("digest", m.Digest),
	)
	return final, nil
}

func copyFiles(src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to list run directory: %w", err)
	}
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		data, err := os.ReadFile(filepath.Join(src, e.Name()))
		if err != nil {
			return fmt.Errorf("failed to read %s: %w", e.Name(), err)
		}
		if err := os.WriteFile(filepath.Join(dst, e.Name()), data, 0o644); err != nil {
			return fmt.Errorf("failed to copy %s: %w", e.Name(), err)
		}
	}
	return nil
}

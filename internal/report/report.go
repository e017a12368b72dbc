// Package report records the outcome of a pipeline run as YAML and renders
// a short summary for the terminal.
package report

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/Iron-Ham/ciftiprep/internal/manifest"
	"github.com/Iron-Ham/ciftiprep/internal/runner"
	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// FileName is the report file written into the subject directory.
const FileName = "ciftiprep_run.yaml"

// Report describes one pipeline run for one subject.
type Report struct {
	RunID     string              `yaml:"run_id"`
	Subject   string              `yaml:"subject"`
	Started   time.Time           `yaml:"started"`
	Finished  time.Time           `yaml:"finished"`
	DryRun    bool                `yaml:"dry_run"`
	Phase     string              `yaml:"phase"`
	Error     string              `yaml:"error,omitempty"`
	Counts    runner.Counts       `yaml:"counts"`
	Steps     []runner.Step       `yaml:"steps"`
	Manifests []manifest.Manifest `yaml:"manifests,omitempty"`
}

// New builds a report from recorded steps and manifests. Counts are derived
// from steps.
func New(runID, subject string, started, finished time.Time, dryRun bool, steps []runner.Step, manifests []manifest.Manifest) *Report {
	return &Report{
		RunID:     runID,
		Subject:   subject,
		Started:   started,
		Finished:  finished,
		DryRun:    dryRun,
		Counts:    runner.Count(steps),
		Steps:     steps,
		Manifests: manifests,
	}
}

// Duration returns how long the run took.
func (r *Report) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// Failed returns the failed steps.
func (r *Report) Failed() []runner.Step {
	var failed []runner.Step
	for _, s := range r.Steps {
		if s.Failed() {
			failed = append(failed, s)
		}
	}
	return failed
}

// Path returns the report location inside a subject directory.
func Path(subjectDir string) string {
	return filepath.Join(subjectDir, FileName)
}

// Write marshals the report to path, creating parent directories.
func Write(fs afero.Fs, path string, r *Report) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal report: %w", err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create report directory: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Read loads a report written by Write.
func Read(fs afero.Fs, path string) (*Report, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}
	var r Report
	if err := yaml.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	return &r, nil
}

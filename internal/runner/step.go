package runner

import (
	"strings"
	"time"
)

// Outcome is the tagged result of one step.
type Outcome string

// Step outcomes.
const (
	OutcomeOK      Outcome = "ok"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
	OutcomeDryRun  Outcome = "dry-run"
)

// Kind distinguishes external invocations from file operations.
type Kind string

// Step kinds.
const (
	KindCommand Kind = "command"
	KindCopy    Kind = "copy"
	KindMkdir   Kind = "mkdir"
	KindWrite   Kind = "write"
)

// Step records one action issued through a Sequencer.
type Step struct {
	Index    int           `yaml:"index"`
	Kind     Kind          `yaml:"kind"`
	Command  string        `yaml:"command"`
	Args     []string      `yaml:"args,omitempty"`
	Outcome  Outcome       `yaml:"outcome"`
	ExitCode int           `yaml:"exit_code,omitempty"`
	Duration time.Duration `yaml:"duration"`
	Error    string        `yaml:"error,omitempty"`
	Reason   string        `yaml:"reason,omitempty"` // why a step was skipped
}

// CommandLine renders the step as a single shell-like line.
func (s Step) CommandLine() string {
	if len(s.Args) == 0 {
		return s.Command
	}
	return s.Command + " " + strings.Join(s.Args, " ")
}

// Failed reports whether the step failed.
func (s Step) Failed() bool {
	return s.Outcome == OutcomeFailed
}

// Counts tallies steps by outcome.
type Counts struct {
	OK      int `yaml:"ok"`
	Failed  int `yaml:"failed"`
	Skipped int `yaml:"skipped"`
	DryRun  int `yaml:"dry_run"`
}

// Total returns the number of counted steps.
func (c Counts) Total() int {
	return c.OK + c.Failed + c.Skipped + c.DryRun
}

// Count tallies a slice of steps by outcome.
func Count(steps []Step) Counts {
	var c Counts
	for _, s := range steps {
		switch s.Outcome {
		case OutcomeOK:
			c.OK++
		case OutcomeFailed:
			c.Failed++
		case OutcomeSkipped:
			c.Skipped++
		case OutcomeDryRun:
			c.DryRun++
		}
	}
	return c
}

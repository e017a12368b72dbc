// Package runner issues ordered external tool invocations and file operations
// for one subject, recording a tagged outcome for each.
//
// Dry run and the failure policy are explicit Options fixed at construction;
// nothing is read from process-wide state.
package runner

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/logging"
	"github.com/spf13/afero"
)

// Options control how a Sequencer executes steps.
type Options struct {
	// DryRun logs every action and reports success without performing it.
	DryRun bool
	// StepTimeout bounds each external invocation; 0 disables the limit.
	StepTimeout time.Duration
	// ContinueOnError logs failed invocations and keeps going instead of
	// returning the failure to the caller.
	ContinueOnError bool
	// ScratchDir is the parent of scratch directories; empty uses the system temp dir.
	ScratchDir string
}

// Sequencer runs external invocations one at a time and records their outcomes.
// It is safe for concurrent use, though the pipeline drives it sequentially.
type Sequencer struct {
	exec   Executor
	fs     afero.Fs
	logger *logging.Logger
	opts   Options

	mu    sync.Mutex
	steps []Step
}

// New creates a Sequencer. A nil logger discards output.
func New(executor Executor, fs afero.Fs, logger *logging.Logger, opts Options) *Sequencer {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Sequencer{
		exec:   executor,
		fs:     fs,
		logger: logger,
		opts:   opts,
	}
}

// Options returns the options the Sequencer was created with.
func (s *Sequencer) Options() Options { return s.opts }

// Fs returns the filesystem file operations run against.
func (s *Sequencer) Fs() afero.Fs { return s.fs }

// Logger returns the Sequencer's logger.
func (s *Sequencer) Logger() *logging.Logger { return s.logger }

// log returns the logger carried by ctx, falling back to the Sequencer's own.
// Callers scope entries to a phase, hemisphere or mesh through the context.
func (s *Sequencer) log(ctx context.Context) *logging.Logger {
	return logging.FromContext(ctx, s.logger)
}

// Run issues one external invocation. The command line is logged before it
// runs. A failure is returned as a ToolError unless ContinueOnError is set, in
// which case it is logged and recorded and Run returns nil.
func (s *Sequencer) Run(ctx context.Context, name string, args ...string) error {
	_, err := s.invoke(ctx, name, args, false)
	return err
}

// Output issues one external invocation and returns its trimmed standard
// output. In dry run the output is empty. Failures are always returned since
// callers cannot proceed without the output.
func (s *Sequencer) Output(ctx context.Context, name string, args ...string) (string, error) {
	out, err := s.invoke(ctx, name, args, true)
	return strings.TrimSpace(string(out)), err
}

func (s *Sequencer) invoke(ctx context.Context, name string, args []string, capture bool) ([]byte, error) {
	step := Step{Kind: KindCommand, Command: name, Args: append([]string(nil), args...)}
	log := s.log(ctx)

	if err := ctx.Err(); err != nil {
		return nil, errors.Wrapf(errors.ErrCanceled, "before %s", name)
	}

	if s.opts.DryRun {
		log.Info("dry run", "cmd", step.CommandLine())
		step.Outcome = OutcomeDryRun
		s.record(step)
		return nil, nil
	}

	log.Info("command", "cmd", step.CommandLine())

	runCtx := ctx
	if s.opts.StepTimeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, s.opts.StepTimeout)
		defer cancel()
	}

	start := time.Now()
	var (
		out []byte
		err error
	)
	if capture {
		out, err = s.exec.Output(runCtx, name, args...)
	} else {
		out, err = s.exec.Run(runCtx, name, args...)
	}
	step.Duration = time.Since(start)

	if err == nil {
		step.Outcome = OutcomeOK
		s.record(step)
		log.Debug("command finished", "cmd", name, "duration", step.Duration)
		return out, nil
	}

	failure := s.classify(runCtx, ctx, name, args, out, err)
	step.Outcome = OutcomeFailed
	step.ExitCode = exitCode(err)
	step.Error = failure.Error()
	s.record(step)
	log.Error("command failed",
		"cmd", step.CommandLine(),
		"exit_code", step.ExitCode,
		"error", failure.Error(),
	)

	if ctx.Err() != nil {
		return out, errors.Wrapf(errors.ErrCanceled, "during %s", name)
	}
	if s.opts.ContinueOnError && !capture {
		return out, nil
	}
	return out, failure
}

func (s *Sequencer) classify(runCtx, parent context.Context, name string, args []string, out []byte, err error) error {
	if runCtx.Err() == context.DeadlineExceeded && parent.Err() == nil {
		return errors.NewTimeoutError(name+" "+strings.Join(args, " "), s.opts.StepTimeout).WithCause(err)
	}
	return errors.NewToolError(name, args, err).
		WithExitCode(exitCode(err)).
		WithOutput(string(out))
}

func exitCode(err error) int {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// Skip records a step that was deliberately not performed, such as an
// optional input that is absent.
func (s *Sequencer) Skip(ctx context.Context, what, reason string) {
	s.log(ctx).Info("skipped", "step", what, "reason", reason)
	s.record(Step{Kind: KindCommand, Command: what, Outcome: OutcomeSkipped, Reason: reason})
}

// Exists reports whether path exists. It always consults the filesystem,
// including in dry run.
func (s *Sequencer) Exists(path string) bool {
	ok, err := afero.Exists(s.fs, path)
	return err == nil && ok
}

// MkdirAll creates a directory and its parents.
func (s *Sequencer) MkdirAll(ctx context.Context, path string) error {
	return s.fileOp(ctx, KindMkdir, "mkdir -p", []string{path}, func() error {
		return s.fs.MkdirAll(path, 0o755)
	})
}

// WriteFile writes data to path, replacing any existing file.
func (s *Sequencer) WriteFile(ctx context.Context, path string, data []byte) error {
	return s.fileOp(ctx, KindWrite, "write", []string{path}, func() error {
		return afero.WriteFile(s.fs, path, data, 0o644)
	})
}

// Copy copies the file at src to dst, replacing any existing file.
func (s *Sequencer) Copy(ctx context.Context, src, dst string) error {
	return s.fileOp(ctx, KindCopy, "copy", []string{src, dst}, func() error {
		return copyFile(s.fs, src, dst)
	})
}

func (s *Sequencer) fileOp(ctx context.Context, kind Kind, name string, args []string, op func() error) error {
	step := Step{Kind: kind, Command: name, Args: args}
	log := s.log(ctx)
	if s.opts.DryRun {
		log.Info("dry run", "cmd", step.CommandLine())
		step.Outcome = OutcomeDryRun
		s.record(step)
		return nil
	}

	log.Debug("file operation", "cmd", step.CommandLine())
	start := time.Now()
	err := op()
	step.Duration = time.Since(start)
	if err != nil {
		step.Outcome = OutcomeFailed
		step.Error = err.Error()
		s.record(step)
		log.Error("file operation failed", "cmd", step.CommandLine(), "error", err.Error())
		return fmt.Errorf("%s %s: %w", name, strings.Join(args, " "), err)
	}
	step.Outcome = OutcomeOK
	s.record(step)
	return nil
}

func copyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return err
	}
	defer func() { _ = in.Close() }()

	info, err := in.Stat()
	if err != nil {
		return err
	}

	if err := fs.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := fs.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return err
	}
	return out.Close()
}

// WithScratchDir creates a private scratch directory, calls fn with it, and
// removes the directory on every exit path, including when fn fails or panics.
// The directory is created even in dry run so fn can compute paths inside it.
func (s *Sequencer) WithScratchDir(ctx context.Context, prefix string, fn func(dir string) error) (err error) {
	log := s.log(ctx)
	if s.opts.ScratchDir != "" {
		if err := s.fs.MkdirAll(s.opts.ScratchDir, 0o755); err != nil {
			return fmt.Errorf("failed to create scratch parent: %w", err)
		}
	}
	dir, err := afero.TempDir(s.fs, s.opts.ScratchDir, prefix)
	if err != nil {
		return fmt.Errorf("failed to create scratch directory: %w", err)
	}
	log.Debug("scratch directory created", "dir", dir)

	defer func() {
		if rmErr := s.fs.RemoveAll(dir); rmErr != nil {
			log.Warn("failed to remove scratch directory", "dir", dir, "error", rmErr.Error())
			if err == nil {
				err = fmt.Errorf("failed to remove scratch directory: %w", rmErr)
			}
			return
		}
		log.Debug("scratch directory removed", "dir", dir)
	}()

	return fn(dir)
}

func (s *Sequencer) record(step Step) {
	s.mu.Lock()
	defer s.mu.Unlock()
	step.Index = len(s.steps) + 1
	s.steps = append(s.steps, step)
}

// Steps returns a copy of every recorded step in issue order.
func (s *Sequencer) Steps() []Step {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Step, len(s.steps))
	copy(out, s.steps)
	return out
}

// Failed returns the recorded steps that failed.
func (s *Sequencer) Failed() []Step {
	var failed []Step
	for _, step := range s.Steps() {
		if step.Failed() {
			failed = append(failed, step)
		}
	}
	return failed
}

// Err returns an error wrapping ErrStepsFailed if any recorded step failed.
func (s *Sequencer) Err() error {
	failed := s.Failed()
	if len(failed) == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d steps, first: %s",
		errors.ErrStepsFailed, len(failed), len(s.Steps()), failed[0].CommandLine())
}

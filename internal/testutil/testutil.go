// Package testutil provides testing utilities for ciftiprep tests.
package testutil

import (
	"context"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"
)

// Call records a single command invocation.
type Call struct {
	Name string
	Args []string
}

// Line renders the call as a single command line.
func (c Call) Line() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}

// Sub returns the first argument, which is the subcommand for wb_command.
func (c Call) Sub() string {
	if len(c.Args) == 0 {
		return ""
	}
	return c.Args[0]
}

// Executor is a test double for runner.Executor that records every
// invocation instead of running it.
type Executor struct {
	// FailWhen returns a non-nil error for invocations that should fail.
	FailWhen func(name string, args []string) error
	// OutputFor returns the output of an invocation.
	OutputFor func(name string, args []string) []byte
	// OnRun is called for every invocation after it is recorded.
	OnRun func(name string, args []string)

	mu    sync.Mutex
	calls []Call
}

// NewExecutor creates a recording executor where every call succeeds.
func NewExecutor() *Executor {
	return &Executor{}
}

// Run records the invocation.
func (e *Executor) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	return e.handle(ctx, name, args)
}

// Output records the invocation.
func (e *Executor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	return e.handle(ctx, name, args)
}

func (e *Executor) handle(ctx context.Context, name string, args []string) ([]byte, error) {
	e.mu.Lock()
	e.calls = append(e.calls, Call{Name: name, Args: append([]string(nil), args...)})
	e.mu.Unlock()

	if e.OnRun != nil {
		e.OnRun(name, args)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var out []byte
	if e.OutputFor != nil {
		out = e.OutputFor(name, args)
	}
	if e.FailWhen != nil {
		if err := e.FailWhen(name, args); err != nil {
			return out, err
		}
	}
	return out, nil
}

// Calls returns every recorded invocation in order.
func (e *Executor) Calls() []Call {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Call, len(e.calls))
	copy(out, e.calls)
	return out
}

// CallsWith returns the invocations whose first argument is sub,
// such as "-set-structure".
func (e *Executor) CallsWith(sub string) []Call {
	var out []Call
	for _, c := range e.Calls() {
		if c.Sub() == sub {
			out = append(out, c)
		}
	}
	return out
}

// Count returns the number of invocations whose first argument is sub.
func (e *Executor) Count(sub string) int {
	return len(e.CallsWith(sub))
}

// CountName returns the number of invocations of a binary.
func (e *Executor) CountName(name string) int {
	n := 0
	for _, c := range e.Calls() {
		if c.Name == name {
			n++
		}
	}
	return n
}

// Reset forgets every recorded invocation.
func (e *Executor) Reset() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls = nil
}

// WriteFiles creates files on fs. The files map contains paths to contents.
func WriteFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()

	for path, content := range files {
		if err := fs.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("failed to create directory for %s: %v", path, err)
		}
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatalf("failed to write %s: %v", path, err)
		}
	}
}

// FreeSurferSubject describes a fake recon-all output tree.
type FreeSurferSubject struct {
	SubjectsDir string
	Subject     string
	// Annots lists the annotation basenames present for both hemispheres.
	Annots []string
}

// Setup writes the FreeSurfer subject tree to fs and returns the subject directory.
func (s FreeSurferSubject) Setup(t *testing.T, fs afero.Fs) string {
	t.Helper()

	dir := filepath.Join(s.SubjectsDir, s.Subject)
	files := make(map[string]string)
	for _, vol := range []string{"T1", "brainmask", "wmparc", "aparc+aseg", "aparc.a2009s+aseg", "brain.finalsurfs"} {
		files[filepath.Join(dir, "mri", vol+".mgz")] = vol
	}
	for _, prefix := range []string{"lh", "rh"} {
		for _, surf := range []string{"white", "pial", "sphere", "sphere.reg", "sulc", "curv", "thickness"} {
			files[filepath.Join(dir, "surf", prefix+"."+surf)] = surf
		}
		for _, annot := range s.Annots {
			files[filepath.Join(dir, "label", prefix+"."+annot+".annot")] = annot
		}
	}
	WriteFiles(t, fs, files)
	return dir
}

// SkipIfNoTool skips the test if a binary is not on PATH.
func SkipIfNoTool(t *testing.T, name string) {
	t.Helper()

	if _, err := exec.LookPath(name); err != nil {
		t.Skipf("%s not available", name)
	}
}

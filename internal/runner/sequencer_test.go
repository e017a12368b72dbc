package runner

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	cerrors "github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/logging"
	"github.com/Iron-Ham/ciftiprep/internal/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestSequencer(exec Executor, opts Options) (*Sequencer, afero.Fs, *bytes.Buffer) {
	fs := afero.NewMemMapFs()
	var buf bytes.Buffer
	logger := logging.NewWriterLogger(&buf, logging.LevelDebug)
	return New(exec, fs, logger, opts), fs, &buf
}

func failOn(sub string) func(string, []string) error {
	return func(_ string, args []string) error {
		if len(args) > 0 && args[0] == sub {
			return errors.New("exit status 1")
		}
		return nil
	}
}

func TestSequencer_Run(t *testing.T) {
	exec := testutil.NewExecutor()
	seq, _, logs := newTestSequencer(exec, Options{})
	ctx := context.Background()

	require.NoError(t, seq.Run(ctx, "wb_command", "-set-structure", "a.surf.gii", "CORTEX_LEFT"))
	require.NoError(t, seq.Run(ctx, "mris_convert", "lh.white", "a.surf.gii"))

	calls := exec.Calls()
	require.Len(t, calls, 2)
	assert.Equal(t, "wb_command -set-structure a.surf.gii CORTEX_LEFT", calls[0].Line())

	steps := seq.Steps()
	require.Len(t, steps, 2)
	assert.Equal(t, 1, steps[0].Index)
	assert.Equal(t, OutcomeOK, steps[0].Outcome)
	assert.Equal(t, KindCommand, steps[1].Kind)
	assert.NoError(t, seq.Err())

	assert.Contains(t, logs.String(), `"cmd":"wb_command -set-structure a.surf.gii CORTEX_LEFT"`)
}

func TestSequencer_FailFast(t *testing.T) {
	exec := testutil.NewExecutor()
	exec.FailWhen = failOn("-metric-resample")
	exec.OutputFor = func(string, []string) []byte { return []byte("ERROR: bad sphere") }
	seq, _, _ := newTestSequencer(exec, Options{})

	err := seq.Run(context.Background(), "wb_command", "-metric-resample", "in", "cur", "new")
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, cerrors.ErrToolFailed))

	var toolErr *cerrors.ToolError
	require.True(t, cerrors.As(err, &toolErr))
	assert.Equal(t, "wb_command", toolErr.Command)
	assert.Contains(t, toolErr.Output, "bad sphere")

	failed := seq.Failed()
	require.Len(t, failed, 1)
	assert.Equal(t, OutcomeFailed, failed[0].Outcome)
	assert.Equal(t, -1, failed[0].ExitCode)

	aggregated := seq.Err()
	assert.True(t, cerrors.Is(aggregated, cerrors.ErrStepsFailed))
	assert.Contains(t, aggregated.Error(), "-metric-resample")
}

func TestSequencer_ContinueOnError(t *testing.T) {
	exec := testutil.NewExecutor()
	exec.FailWhen = failOn("-metric-mask")
	seq, _, logs := newTestSequencer(exec, Options{ContinueOnError: true})
	ctx := context.Background()

	assert.NoError(t, seq.Run(ctx, "wb_command", "-metric-mask", "a", "b", "c"))
	assert.NoError(t, seq.Run(ctx, "wb_command", "-metric-dilate", "a"))

	assert.Len(t, exec.Calls(), 2)
	counts := Count(seq.Steps())
	assert.Equal(t, Counts{OK: 1, Failed: 1}, counts)
	assert.Error(t, seq.Err())
	assert.Contains(t, logs.String(), `"level":"ERROR"`)
}

func TestSequencer_OutputAlwaysReturnsFailures(t *testing.T) {
	exec := testutil.NewExecutor()
	exec.FailWhen = func(string, []string) error { return errors.New("exit status 1") }
	seq, _, _ := newTestSequencer(exec, Options{ContinueOnError: true})

	_, err := seq.Output(context.Background(), "mri_info", "--cras", "brain.mgz")
	assert.Error(t, err)
}

func TestSequencer_Output(t *testing.T) {
	exec := testutil.NewExecutor()
	exec.OutputFor = func(string, []string) []byte { return []byte("  1.5 -2 3\n") }
	seq, _, _ := newTestSequencer(exec, Options{})

	out, err := seq.Output(context.Background(), "mri_info", "--cras", "brain.mgz")
	require.NoError(t, err)
	assert.Equal(t, "1.5 -2 3", out)
}

func TestSequencer_DryRun(t *testing.T) {
	exec := testutil.NewExecutor()
	seq, fs, logs := newTestSequencer(exec, Options{DryRun: true})
	ctx := context.Background()
	require.NoError(t, afero.WriteFile(fs, "/tpl/L.atlasroi.shape.gii", []byte("roi"), 0o644))

	require.NoError(t, seq.Run(ctx, "flirt", "-in", "a"))
	out, err := seq.Output(ctx, "mri_info", "--cras", "b")
	require.NoError(t, err)
	assert.Empty(t, out)
	require.NoError(t, seq.MkdirAll(ctx, "/out/T1w"))
	require.NoError(t, seq.WriteFile(ctx, "/out/T1w/c_ras.mat", []byte("1 0 0 0")))
	require.NoError(t, seq.Copy(ctx, "/tpl/L.atlasroi.shape.gii", "/out/L.atlasroi.shape.gii"))

	assert.Empty(t, exec.Calls(), "dry run must not reach the executor")
	assert.False(t, seq.Exists("/out/T1w"), "dry run must not create directories")
	assert.False(t, seq.Exists("/out/L.atlasroi.shape.gii"), "dry run must not copy")
	assert.True(t, seq.Exists("/tpl/L.atlasroi.shape.gii"), "Exists consults the real filesystem")

	counts := Count(seq.Steps())
	assert.Equal(t, 5, counts.DryRun)
	assert.Equal(t, 5, counts.Total())
	assert.Contains(t, logs.String(), `"msg":"dry run"`)
	assert.Contains(t, logs.String(), "flirt -in a")
}

func TestSequencer_Timeout(t *testing.T) {
	exec := testutil.NewExecutor()
	exec.OnRun = func(string, []string) { time.Sleep(50 * time.Millisecond) }
	exec.FailWhen = func(string, []string) error { return context.DeadlineExceeded }
	seq, _, _ := newTestSequencer(exec, Options{StepTimeout: 10 * time.Millisecond})

	err := seq.Run(context.Background(), "fnirt", "--in=a")
	require.Error(t, err)
	assert.True(t, cerrors.Is(err, cerrors.ErrTimeout), "got %v", err)
}

func TestSequencer_CanceledContext(t *testing.T) {
	exec := testutil.NewExecutor()
	seq, _, _ := newTestSequencer(exec, Options{ContinueOnError: true})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := seq.Run(ctx, "wb_command", "-surface-resample")
	assert.True(t, cerrors.Is(err, cerrors.ErrCanceled))
	assert.Empty(t, exec.Calls())
}

func TestSequencer_Skip(t *testing.T) {
	seq, _, logs := newTestSequencer(testutil.NewExecutor(), Options{})
	seq.Skip(context.Background(), "label aparc.DKTatlas", "annotation not found")

	steps := seq.Steps()
	require.Len(t, steps, 1)
	assert.Equal(t, OutcomeSkipped, steps[0].Outcome)
	assert.Equal(t, "annotation not found", steps[0].Reason)
	assert.NoError(t, seq.Err())
	assert.Contains(t, logs.String(), "annotation not found")
}

func TestSequencer_FileOperations(t *testing.T) {
	seq, fs, _ := newTestSequencer(testutil.NewExecutor(), Options{})
	require.NoError(t, afero.WriteFile(fs, "/tpl/roi.shape.gii", []byte("roi-data"), 0o644))

	require.NoError(t, seq.MkdirAll(context.Background(), "/out/a/b"))
	assert.True(t, seq.Exists("/out/a/b"))

	require.NoError(t, seq.WriteFile(context.Background(), "/out/a/file.txt", []byte("hello")))
	data, err := afero.ReadFile(fs, "/out/a/file.txt")
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, seq.Copy(context.Background(), "/tpl/roi.shape.gii", "/out/new/roi.shape.gii"))
	data, err = afero.ReadFile(fs, "/out/new/roi.shape.gii")
	require.NoError(t, err)
	assert.Equal(t, "roi-data", string(data))

	err = seq.Copy(context.Background(), "/tpl/missing.shape.gii", "/out/missing.shape.gii")
	assert.Error(t, err)
	assert.Len(t, seq.Failed(), 1)
}

func TestSequencer_WithScratchDir(t *testing.T) {
	t.Run("removes directory on success", func(t *testing.T) {
		seq, fs, _ := newTestSequencer(testutil.NewExecutor(), Options{ScratchDir: "/scratch"})
		var scratch string

		err := seq.WithScratchDir(context.Background(), "distortion", func(dir string) error {
			scratch = dir
			assert.True(t, strings.HasPrefix(dir, "/scratch/distortion"), dir)
			return afero.WriteFile(fs, dir+"/area.shape.gii", []byte("x"), 0o644)
		})
		require.NoError(t, err)
		exists, _ := afero.Exists(fs, scratch)
		assert.False(t, exists)
	})

	t.Run("removes directory on failure", func(t *testing.T) {
		seq, fs, _ := newTestSequencer(testutil.NewExecutor(), Options{ScratchDir: "/scratch"})
		var scratch string
		boom := errors.New("boom")

		err := seq.WithScratchDir(context.Background(), "distortion", func(dir string) error {
			scratch = dir
			return boom
		})
		assert.ErrorIs(t, err, boom)
		exists, _ := afero.Exists(fs, scratch)
		assert.False(t, exists)
	})

	t.Run("removes directory on panic", func(t *testing.T) {
		seq, fs, _ := newTestSequencer(testutil.NewExecutor(), Options{ScratchDir: "/scratch"})
		var scratch string

		assert.Panics(t, func() {
			_ = seq.WithScratchDir(context.Background(), "distortion", func(dir string) error {
				scratch = dir
				panic("boom")
			})
		})
		exists, _ := afero.Exists(fs, scratch)
		assert.False(t, exists)
	})
}

func TestSequencer_ContextLogger(t *testing.T) {
	exec := testutil.NewExecutor()
	exec.FailWhen = failOn("-label-resample")
	seq, fs, base := newTestSequencer(exec, Options{ContinueOnError: true})
	require.NoError(t, afero.WriteFile(fs, "/tpl/roi.shape.gii", []byte("roi"), 0o644))

	var scoped bytes.Buffer
	logger := logging.NewWriterLogger(&scoped, logging.LevelDebug).
		WithRun("run-1").WithPhase("resample").WithHemisphere("R").WithMesh("32k_fs_LR")
	ctx := logging.NewContext(context.Background(), logger)

	require.NoError(t, seq.Run(ctx, "wb_command", "-label-resample", "in", "out"))
	require.NoError(t, seq.Copy(ctx, "/tpl/roi.shape.gii", "/out/roi.shape.gii"))
	seq.Skip(ctx, "resample aparc", "label was not imported")

	assert.Empty(t, base.String(), "scoped entries should not reach the sequencer logger")

	var failed []logging.Entry
	for _, line := range strings.Split(strings.TrimSpace(scoped.String()), "\n") {
		entry, err := logging.ParseEntry(line)
		require.NoError(t, err)
		assert.Equal(t, "run-1", entry.RunID, entry.Message)
		assert.Equal(t, "resample", entry.Phase, entry.Message)
		assert.Equal(t, "R", entry.Hemisphere, entry.Message)
		assert.Equal(t, "32k_fs_LR", entry.Mesh, entry.Message)
		if entry.Message == "command failed" {
			failed = append(failed, entry)
		}
	}
	assert.Len(t, failed, 1)
	assert.Len(t, seq.Steps(), 3)
}

func TestCLIExecutor(t *testing.T) {
	testutil.SkipIfNoTool(t, "echo")

	out, err := NewCLIExecutor().Output(context.Background(), "echo", "hello")
	require.NoError(t, err)
	assert.Equal(t, "hello\n", string(out))

	_, err = NewCLIExecutor().Run(context.Background(), "sh", "-c", "exit 3")
	if err != nil {
		var exitErr interface{ ExitCode() int }
		if errors.As(err, &exitErr) {
			assert.Equal(t, 3, exitErr.ExitCode())
		}
	}
}

package batch

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	cerrors "github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/logging"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func subjectsFs(t *testing.T) afero.Fs {
	t.Helper()

	fs := afero.NewMemMapFs()
	for _, dir := range []string{
		"/fs/sub-02/mri", "/fs/sub-02/surf",
		"/fs/sub-01/mri", "/fs/sub-01/surf",
		"/fs/sub-03/mri",
		"/fs/fsaverage/mri", "/fs/fsaverage/surf",
		"/fs/pilot/mri", "/fs/pilot/surf",
	} {
		require.NoError(t, fs.MkdirAll(dir, 0o755))
	}
	require.NoError(t, afero.WriteFile(fs, "/fs/sub-04", []byte("not a dir"), 0o644))
	return fs
}

func TestDiscover(t *testing.T) {
	fs := subjectsFs(t)

	tests := []struct {
		name    string
		pattern string
		want    []string
	}{
		{name: "all", pattern: "*", want: []string{"pilot", "sub-01", "sub-02"}},
		{name: "prefix", pattern: "sub-*", want: []string{"sub-01", "sub-02"}},
		{name: "alternatives", pattern: "{pilot,sub-02}", want: []string{"pilot", "sub-02"}},
		{name: "no match", pattern: "ctl-*", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Discover(fs, "/fs", tt.pattern)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDiscover_Errors(t *testing.T) {
	fs := subjectsFs(t)

	_, err := Discover(fs, "/fs", "sub-[")
	require.Error(t, err)
	assert.True(t, cerrors.IsFatal(err))
	assert.Contains(t, err.Error(), "batch.match")

	_, err = Discover(fs, "/missing", "*")
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrMissingInput)
}

func TestRun_AllSucceed(t *testing.T) {
	subjects := []string{"a", "b", "c", "d"}
	var mu sync.Mutex
	var seen []string

	outcomes := Run(context.Background(), subjects, 2, func(_ context.Context, s string) error {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
		return nil
	}, nil)

	require.Len(t, outcomes, len(subjects))
	for i, o := range outcomes {
		assert.Equal(t, subjects[i], o.Subject)
		assert.False(t, o.Failed())
	}
	assert.ElementsMatch(t, subjects, seen)
	assert.NoError(t, Err(outcomes))
}

func TestRun_FailureDoesNotStopOthers(t *testing.T) {
	boom := errors.New("boom")
	outcomes := Run(context.Background(), []string{"a", "b", "c"}, 1, func(_ context.Context, s string) error {
		if s == "b" {
			return boom
		}
		return nil
	}, nil)

	assert.False(t, outcomes[0].Failed())
	assert.True(t, outcomes[1].Failed())
	assert.False(t, outcomes[2].Failed())

	err := Err(outcomes)
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "b: boom")
}

func TestRun_FatalFailure(t *testing.T) {
	var buf bytes.Buffer
	logger := logging.NewWriterLogger(&buf, logging.LevelInfo)
	unimplemented := cerrors.NewConfigError("MSMSulc surface registration is not implemented", cerrors.ErrRegistrationNotImplemented)

	outcomes := Run(context.Background(), []string{"a", "b"}, 1, func(_ context.Context, s string) error {
		if s == "a" {
			return cerrors.NewToolError("flirt", nil, errors.New("exit status 1"))
		}
		return unimplemented
	}, logger)

	err := Err(outcomes)
	require.Error(t, err)
	assert.True(t, cerrors.IsFatal(err))
	assert.Equal(t, cerrors.ExitConfig, cerrors.ExitCode(err))
	assert.Contains(t, buf.String(), `"severity":"critical"`)
	assert.Contains(t, buf.String(), `"severity":"error"`)
}

func TestRun_BoundedParallelism(t *testing.T) {
	var running, peak atomic.Int32

	Run(context.Background(), []string{"a", "b", "c", "d", "e", "f"}, 2, func(_ context.Context, _ string) error {
		n := running.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(10 * time.Millisecond)
		running.Add(-1)
		return nil
	}, nil)

	assert.LessOrEqual(t, peak.Load(), int32(2))
	assert.GreaterOrEqual(t, peak.Load(), int32(1))
}

func TestRun_Canceled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls atomic.Int32
	outcomes := Run(ctx, []string{"a", "b"}, 0, func(_ context.Context, _ string) error {
		calls.Add(1)
		return nil
	}, nil)

	assert.Zero(t, calls.Load())
	for _, o := range outcomes {
		assert.ErrorIs(t, o.Err, cerrors.ErrCanceled)
		assert.ErrorIs(t, o.Err, context.Canceled)
	}
}

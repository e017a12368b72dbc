// Package batch runs the conversion over many subjects of a FreeSurfer
// subjects directory with bounded parallelism.
//
// Each subject is an independent unit of work with its own Sequencer, so
// subjects never share step records or spec accumulators. Failures are
// collected per subject; one failing subject does not stop the others.
package batch

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/logging"
	"github.com/gobwas/glob"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/afero"
)

// excludedPrefixes are FreeSurfer template subjects that live alongside
// real subjects in SUBJECTS_DIR.
var excludedPrefixes = []string{"fsaverage", "cvs_avg35", "bert"}

// Discover returns the recon-all subjects in subjectsDir whose names match
// pattern, sorted by name. A subject is a directory with both mri/ and surf/.
func Discover(fs afero.Fs, subjectsDir, pattern string) ([]string, error) {
	g, err := glob.Compile(pattern)
	if err != nil {
		return nil, errors.NewConfigError("invalid subject pattern", err).
			WithSetting("batch.match").
			WithValue(pattern)
	}

	entries, err := afero.ReadDir(fs, subjectsDir)
	if err != nil {
		return nil, errors.NewConfigError("cannot read FreeSurfer subjects directory", errors.Join(errors.ErrMissingInput, err)).
			WithSetting("paths.fs_subjects_dir").
			WithValue(subjectsDir)
	}

	var subjects []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !g.Match(name) || excluded(name) {
			continue
		}
		if !isReconAll(fs, filepath.Join(subjectsDir, name)) {
			continue
		}
		subjects = append(subjects, name)
	}
	sort.Strings(subjects)
	return subjects, nil
}

func excluded(name string) bool {
	for _, prefix := range excludedPrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func isReconAll(fs afero.Fs, dir string) bool {
	for _, sub := range []string{"mri", "surf"} {
		ok, err := afero.DirExists(fs, filepath.Join(dir, sub))
		if err != nil || !ok {
			return false
		}
	}
	return true
}

// RunFunc converts one subject.
type RunFunc func(ctx context.Context, subject string) error

// Outcome is the result of one subject.
type Outcome struct {
	Subject  string
	Err      error
	Duration time.Duration
}

// Failed reports whether the subject failed.
func (o Outcome) Failed() bool { return o.Err != nil }

// Run converts every subject with at most maxParallel running at once. It
// returns one Outcome per subject in input order. Subjects not yet started
// when ctx is canceled fail with ErrCanceled.
func Run(ctx context.Context, subjects []string, maxParallel int, fn RunFunc, logger *logging.Logger) []Outcome {
	if logger == nil {
		logger = logging.NopLogger()
	}
	if maxParallel < 1 {
		maxParallel = 1
	}

	outcomes := make([]Outcome, len(subjects))
	p := pool.New().WithMaxGoroutines(maxParallel)
	for i, subject := range subjects {
		p.Go(func() {
			log := logger.WithSubject(subject)
			if err := ctx.Err(); err != nil {
				outcomes[i] = Outcome{Subject: subject, Err: fmt.Errorf("%w: %w", errors.ErrCanceled, err)}
				return
			}

			log.Info("subject started", "index", i+1, "total", len(subjects))
			start := time.Now()
			err := fn(ctx, subject)
			outcomes[i] = Outcome{Subject: subject, Err: err, Duration: time.Since(start)}
			if err != nil {
				log.Error("subject failed",
					"error", err.Error(),
					"severity", errors.GetSeverity(err).String(),
				)
				return
			}
			log.Info("subject finished", "duration", outcomes[i].Duration)
		})
	}
	p.Wait()
	return outcomes
}

// Err joins the errors of failed subjects, each prefixed by its subject.
func Err(outcomes []Outcome) error {
	var errs []error
	for _, o := range outcomes {
		if o.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", o.Subject, o.Err))
		}
	}
	return errors.Join(errs...)
}

package pipeline

import (
	"time"

	"github.com/Iron-Ham/ciftiprep/internal/logging"
)

// Option configures a Pipeline.
type Option func(*pipelineOptions)

type pipelineOptions struct {
	logger      *logging.Logger
	runID       string
	now         func() time.Time
	writeReport bool
}

// WithLogger sets the run logger. Defaults to the Sequencer's logger. During
// Run the Sequencer logs command lines through the same logger, scoped to the
// current phase, hemisphere and mesh.
func WithLogger(logger *logging.Logger) Option {
	return func(o *pipelineOptions) {
		o.logger = logger
	}
}

// WithRunID sets the run identifier recorded in the report.
func WithRunID(id string) Option {
	return func(o *pipelineOptions) {
		o.runID = id
	}
}

// WithClock overrides the clock used for report timestamps.
func WithClock(now func() time.Time) Option {
	return func(o *pipelineOptions) {
		o.now = now
	}
}

// WithoutReport disables writing the YAML run report into the subject tree.
func WithoutReport() Option {
	return func(o *pipelineOptions) {
		o.writeReport = false
	}
}

package pipeline

import (
	"github.com/Iron-Ham/ciftiprep/internal/config"
	"github.com/Iron-Ham/ciftiprep/internal/report"
	"github.com/Iron-Ham/ciftiprep/internal/runner"
	"github.com/Iron-Ham/ciftiprep/internal/wb"
)

// Phase is a stage of a pipeline run.
type Phase string

const (
	// PhasePending indicates Run has not started.
	PhasePending Phase = "pending"

	// PhaseLayout creates the subject folder tree.
	PhaseLayout Phase = "layout"

	// PhaseVolumes converts FreeSurfer volumes into the T1w folder.
	PhaseVolumes Phase = "volumes"

	// PhaseRegistration registers the T1w volume to MNI space.
	PhaseRegistration Phase = "registration"

	// PhaseNative imports native surfaces, metrics and labels.
	PhaseNative Phase = "native"

	// PhaseResample resamples onto the standard meshes.
	PhaseResample Phase = "resample"

	// PhaseDense builds CIFTI dense maps for every mesh.
	PhaseDense Phase = "dense"

	// PhaseDone indicates the run completed.
	PhaseDone Phase = "done"

	// PhaseFailed indicates the run stopped on an error.
	PhaseFailed Phase = "failed"
)

// String returns the string representation of the phase.
func (p Phase) String() string {
	return string(p)
}

// IsTerminal returns true if this phase represents a final state.
func (p Phase) IsTerminal() bool {
	return p == PhaseDone || p == PhaseFailed
}

// Phases returns the working phases in execution order.
func Phases() []Phase {
	return []Phase{PhaseLayout, PhaseVolumes, PhaseRegistration, PhaseNative, PhaseResample, PhaseDense}
}

// Config holds required dependencies for creating a Pipeline.
type Config struct {
	Settings  *config.Config    // Validated configuration
	Sequencer *runner.Sequencer // Issues every external invocation and file operation
	Subject   string            // Subject identifier under the FreeSurfer subjects dir
}

// SurfaceOptions are the independent optional effects of ConvertSurface.
type SurfaceOptions struct {
	// Type is the primary surface type; empty omits -surface-type.
	Type wb.SurfaceType
	// Secondary is the anatomical subtype; empty omits -surface-secondary-type.
	Secondary wb.SecondaryType
	// Affine is a world-coordinate matrix applied after conversion; empty skips it.
	Affine string
	// AddToSpec is the spec file the surface is appended to; empty skips it.
	AddToSpec string
}

// Result is the outcome of Run.
type Result struct {
	Phase  Phase
	Report *report.Report
}

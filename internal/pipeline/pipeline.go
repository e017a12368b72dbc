package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/Iron-Ham/ciftiprep/internal/config"
	"github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/logging"
	"github.com/Iron-Ham/ciftiprep/internal/manifest"
	"github.com/Iron-Ham/ciftiprep/internal/mesh"
	"github.com/Iron-Ham/ciftiprep/internal/report"
	"github.com/Iron-Ham/ciftiprep/internal/runner"
	"github.com/google/uuid"
)

// Pipeline converts one subject.
//
// A Pipeline is single use: Run walks every phase once. The exported
// operations may also be called on their own, which is how they are tested.
type Pipeline struct {
	mu     sync.RWMutex
	phase  Phase
	cfg    *config.Config
	seq    *runner.Sequencer
	layout *mesh.Layout
	tpl    mesh.Templates
	specs  *manifest.Accumulator
	logger *logging.Logger
	opts   pipelineOptions

	// Per-run state threaded from earlier phases to later ones.
	cras       string
	regSpheres map[mesh.Hemisphere]string
	metrics    map[string]bool
	labels     map[string]map[mesh.Hemisphere]bool
}

// New creates a Pipeline for one subject, resolving its layout.
func New(cfg Config, opts ...Option) (*Pipeline, error) {
	if cfg.Settings == nil {
		return nil, errors.New("pipeline: Settings is required")
	}
	if cfg.Sequencer == nil {
		return nil, errors.New("pipeline: Sequencer is required")
	}

	s := cfg.Settings
	required := []struct {
		setting string
		value   string
	}{
		{"paths.hcp_data_dir", s.Paths.HCPDataDir},
		{"paths.fs_subjects_dir", s.Paths.FSSubjectsDir},
		{"paths.template_dir", s.Paths.TemplateDir},
		{"paths.fsl_standard_dir", s.Paths.FSLStandardDir},
	}
	for _, r := range required {
		if r.value == "" {
			return nil, errors.NewConfigError("required path is not set", errors.ErrMissingInput).
				WithSetting(r.setting)
		}
	}

	layout, err := mesh.Resolve(mesh.Params{
		Subject:       cfg.Subject,
		WorkDir:       s.Paths.HCPDataDir,
		FSSubjectsDir: s.Paths.FSSubjectsDir,
		HighRes:       s.Meshes.HighRes,
		LowRes:        s.Meshes.LowRes,
		RegName:       string(s.Registration.Surface),
	})
	if err != nil {
		return nil, err
	}

	po := pipelineOptions{now: time.Now, writeReport: true}
	for _, opt := range opts {
		opt(&po)
	}
	if po.logger == nil {
		po.logger = cfg.Sequencer.Logger()
	}
	if po.runID == "" {
		po.runID = uuid.NewString()
	}

	return &Pipeline{
		phase:      PhasePending,
		cfg:        s,
		seq:        cfg.Sequencer,
		layout:     layout,
		tpl:        mesh.Templates{Dir: s.Paths.TemplateDir},
		specs:      manifest.NewAccumulator(cfg.Sequencer, s.Tools.WBCommand),
		logger:     po.logger.WithRun(po.runID).WithSubject(layout.Subject),
		opts:       po,
		regSpheres: make(map[mesh.Hemisphere]string),
		metrics:    make(map[string]bool),
		labels:     make(map[string]map[mesh.Hemisphere]bool),
	}, nil
}

// Layout returns the resolved subject layout.
func (p *Pipeline) Layout() *mesh.Layout { return p.layout }

// Manifests returns the spec file accumulator.
func (p *Pipeline) Manifests() *manifest.Accumulator { return p.specs }

// RunID returns the run identifier.
func (p *Pipeline) RunID() string { return p.opts.runID }

// Phase returns the current phase.
func (p *Pipeline) Phase() Phase {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.phase
}

func (p *Pipeline) setPhase(phase Phase) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.phase = phase
}

// Run executes every phase in order and returns the run report. The
// registration method is resolved before the first phase, so an unimplemented
// method fails the run before any tool is invoked. Any other fatal error stops
// the run at once; with ContinueOnError, failed steps are collected and
// reported at the end as an error wrapping ErrStepsFailed.
//
// Every entry logged during the run, including the Sequencer's command
// entries, carries the run and subject, plus the phase, hemisphere and mesh
// where one applies.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	ctx = logging.NewContext(ctx, p.logger)
	started := p.opts.now()
	dryRun := p.seq.Options().DryRun
	p.logger.Info("run started",
		"dry_run", dryRun,
		"continue_on_error", p.seq.Options().ContinueOnError,
		"meshes", p.layout.Keys(),
	)

	err := p.resolveRegistration()
	if err != nil {
		p.logger.Error("registration unavailable", "error", err.Error())
	} else {
		err = p.runPhases(ctx)
	}
	if err == nil {
		err = p.seq.Err()
	}

	final := PhaseDone
	if err != nil {
		final = PhaseFailed
	}
	p.setPhase(final)

	rep := report.New(p.opts.runID, p.layout.Subject, started, p.opts.now(), dryRun, p.seq.Steps(), p.specs.Manifests())
	rep.Phase = final.String()
	if err != nil {
		rep.Error = err.Error()
	}

	if p.opts.writeReport && !dryRun {
		path := report.Path(p.layout.SubjectDir)
		if werr := report.Write(p.seq.Fs(), path, rep); werr != nil {
			p.logger.Warn("failed to write run report", "path", path, "error", werr.Error())
		}
	}

	if err != nil {
		p.logger.Error("run failed",
			"error", err.Error(),
			"fatal", errors.IsFatal(err),
			"failed_steps", rep.Counts.Failed,
		)
	} else {
		p.logger.Info("run finished", "steps", rep.Counts.Total(), "duration", rep.Duration())
	}
	return &Result{Phase: final, Report: rep}, err
}

func (p *Pipeline) runPhases(ctx context.Context) error {
	phases := []struct {
		phase Phase
		run   func(context.Context) error
	}{
		{PhaseLayout, p.createLayout},
		{PhaseVolumes, p.convertVolumes},
		{PhaseRegistration, p.registerVolumes},
		{PhaseNative, p.importNative},
		{PhaseResample, p.resampleMeshes},
		{PhaseDense, p.createDenseMaps},
	}

	for _, ph := range phases {
		p.setPhase(ph.phase)
		log := p.log(ctx).WithPhase(ph.phase.String())
		log.Info("phase started")
		if err := ph.run(logging.NewContext(ctx, log)); err != nil {
			log.Error("phase failed", "error", err.Error())
			return err
		}
	}
	return nil
}

// resolveRegistration resolves the registration sphere of both hemispheres.
func (p *Pipeline) resolveRegistration() error {
	for _, h := range mesh.Hemispheres() {
		sphere, err := p.ResolveRegistrationSphere(h)
		if err != nil {
			return err
		}
		p.regSpheres[h] = sphere
	}
	return nil
}

// log returns the logger scoped by ctx.
func (p *Pipeline) log(ctx context.Context) *logging.Logger {
	return logging.FromContext(ctx, p.logger)
}

// withHemisphere scopes the entries logged under the returned context to h.
func (p *Pipeline) withHemisphere(ctx context.Context, h mesh.Hemisphere) context.Context {
	return logging.NewContext(ctx, p.log(ctx).WithHemisphere(h.String()))
}

// withMesh scopes the entries logged under the returned context to m.
func (p *Pipeline) withMesh(ctx context.Context, m mesh.Mesh) context.Context {
	return logging.NewContext(ctx, p.log(ctx).WithMesh(m.Name))
}

func (p *Pipeline) createLayout(ctx context.Context) error {
	for _, dir := range p.layout.Folders() {
		if err := p.seq.MkdirAll(ctx, dir); err != nil {
			return err
		}
	}
	return nil
}

// wb issues one wb_command invocation.
func (p *Pipeline) wb(ctx context.Context, args ...string) error {
	return p.seq.Run(ctx, p.cfg.Tools.WBCommand, args...)
}

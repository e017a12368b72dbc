// Package pipeline converts one FreeSurfer subject into the HCP surface and
// volume layout.
//
// Every numerically meaningful operation is delegated to external tools
// (mri_convert, mris_convert, flirt, fnirt, wb_command, ...) issued through a
// [runner.Sequencer]. This package decides which tools run, in which order, on
// which paths, and which optional inputs are skipped.
//
// # Operations
//
// The building blocks are exported so they can be exercised on their own:
//
//   - [Pipeline.ConvertSurface] imports a FreeSurfer surface, tags it, and
//     optionally applies an affine and appends it to a spec file.
//   - [Pipeline.ComputeArealDistortion] derives the log2 area ratio between two
//     spheres inside a scratch directory that is always removed.
//   - [ResolveRegistrationSphere] picks the resampling reference sphere and
//     fails with a fatal ConfigError for unimplemented methods.
//   - [Pipeline.CopyAtlasROIFromTemplate] copies the template cortex ROI when
//     one exists.
//   - [Pipeline.DilateAndMaskMetric] dilates and masks the maps configured
//     for masking and leaves the others untouched.
//
// # Phases
//
// [Pipeline.Run] walks the phases in order: layout, volumes, registration,
// native, resample, dense. The native and resample phases iterate the
// hemispheres, and resample additionally iterates the high resolution mesh
// followed by every low resolution mesh.
//
// # Usage
//
//	seq := runner.New(runner.NewCLIExecutor(), afero.NewOsFs(), logger, runner.Options{})
//	p, err := pipeline.New(pipeline.Config{
//	    Settings:  cfg,
//	    Sequencer: seq,
//	    Subject:   "subject_1",
//	}, pipeline.WithLogger(logger))
//	if err != nil {
//	    return err
//	}
//	result, err := p.Run(ctx)
package pipeline

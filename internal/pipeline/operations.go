package pipeline

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/Iron-Ham/ciftiprep/internal/config"
	"github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/mesh"
	"github.com/Iron-Ham/ciftiprep/internal/wb"
)

// ConvertSurface imports a FreeSurfer surface as GIFTI and tags it with the
// hemisphere's structure. The affine and the spec append are independent
// optional effects, each issued exactly once when requested.
func (p *Pipeline) ConvertSurface(ctx context.Context, src, dst string, h mesh.Hemisphere, o SurfaceOptions) error {
	if err := p.seq.Run(ctx, p.cfg.Tools.MRISConvert, wb.MRISConvert(src, dst)...); err != nil {
		return err
	}
	if err := p.wb(ctx, wb.SetStructure(dst, h.Structure(), o.Type, o.Secondary)...); err != nil {
		return err
	}
	if o.Affine != "" {
		if err := p.wb(ctx, wb.SurfaceApplyAffine(dst, o.Affine, dst)...); err != nil {
			return err
		}
	}
	if o.AddToSpec != "" {
		if err := p.specs.Add(ctx, o.AddToSpec, h.Structure(), dst); err != nil {
			return err
		}
	}
	return nil
}

// ComputeArealDistortion writes the log2 ratio of per-vertex areas of
// postSphere over preSphere to out, named "<prefix>_Areal_Distortion_<suffix>".
// The intermediate area metrics live in a scratch directory that is removed
// whether or not the computation succeeds.
func (p *Pipeline) ComputeArealDistortion(ctx context.Context, preSphere, postSphere, out, prefix, suffix string) error {
	return p.seq.WithScratchDir(ctx, "areal_distortion_", func(dir string) error {
		preArea := filepath.Join(dir, "sphere.shape.gii")
		postArea := filepath.Join(dir, "spherereg.shape.gii")

		if err := p.wb(ctx, wb.SurfaceVertexAreas(preSphere, preArea)...); err != nil {
			return err
		}
		if err := p.wb(ctx, wb.SurfaceVertexAreas(postSphere, postArea)...); err != nil {
			return err
		}
		if err := p.wb(ctx, wb.MetricMath(wb.ArealDistortionExp, out,
			wb.Var{Name: "sphere", File: preArea},
			wb.Var{Name: "spherereg", File: postArea},
		)...); err != nil {
			return err
		}
		if err := p.wb(ctx, wb.SetMapNames(out, fmt.Sprintf("%s_Areal_Distortion_%s", prefix, suffix))...); err != nil {
			return err
		}
		return p.wb(ctx, wb.MetricPalette(out, "MODE_AUTO_SCALE",
			"-palette-name", "ROY-BIG-BL",
			"-thresholding", "THRESHOLD_TYPE_NORMAL", "THRESHOLD_TEST_SHOW_OUTSIDE", "-1", "1",
		)...)
	})
}

// ResolveRegistrationSphere returns the native sphere used as the resampling
// reference for h. FS registration returns the projected sphere.reg.reg_LR in
// the atlas-space native folder. MSMSulc is recognized but not implemented and
// fails with a fatal ConfigError; no fallback is attempted.
func ResolveRegistrationSphere(method config.RegistrationMethod, layout *mesh.Layout, h mesh.Hemisphere) (string, error) {
	switch method {
	case config.RegistrationFS:
		return layout.AtlasNative().Surface(h, layout.RegSphere), nil
	case config.RegistrationMSMSulc:
		return "", errors.NewConfigError("MSMSulc surface registration is not implemented", errors.ErrRegistrationNotImplemented).
			WithSetting("registration.surface").
			WithValue(string(method))
	default:
		return "", errors.NewConfigError("unknown surface registration method", errors.ErrUnknownRegistration).
			WithSetting("registration.surface").
			WithValue(string(method))
	}
}

// ResolveRegistrationSphere resolves the registration sphere of h using the
// configured method.
func (p *Pipeline) ResolveRegistrationSphere(h mesh.Hemisphere) (string, error) {
	return ResolveRegistrationSphere(p.cfg.Registration.Surface, p.layout, h)
}

// CopyAtlasROIFromTemplate copies the template cortex ROI of m into the
// subject tree for each hemisphere. A missing template is not an error: the
// hemisphere is skipped and no copy is issued.
func (p *Pipeline) CopyAtlasROIFromTemplate(ctx context.Context, m mesh.Mesh) error {
	for _, h := range mesh.Hemispheres() {
		if err := ctx.Err(); err != nil {
			return err
		}
		src := p.tpl.AtlasROI(h, m)
		if !p.seq.Exists(src) {
			p.seq.Skip(ctx, "copy "+filepath.Base(src), "template atlas ROI not found")
			continue
		}
		if err := p.seq.Copy(ctx, src, m.AtlasROI(h)); err != nil {
			return err
		}
	}
	return nil
}

// DilateAndMaskMetric dilates (when configured) and masks every map that has
// masking enabled, in place, for both hemispheres. Maps with masking disabled
// issue no invocation.
func (p *Pipeline) DilateAndMaskMetric(ctx context.Context, m mesh.Mesh, maps []config.DScalarConfig) error {
	for _, d := range maps {
		if !d.MaskMedialWall {
			continue
		}
		for _, h := range mesh.Hemispheres() {
			metric := m.Metric(h, d.Name)
			if d.Dilate {
				if err := p.wb(ctx, wb.MetricDilate(metric, m.Surface(h, "midthickness"), wb.DefaultDilateMM, metric)...); err != nil {
					return err
				}
			}
			if err := p.wb(ctx, wb.MetricMask(metric, cortexROI(m, h), metric)...); err != nil {
				return err
			}
		}
	}
	return nil
}

// cortexROI is the subject medial wall ROI on native meshes and the atlas ROI
// on standard meshes.
func cortexROI(m mesh.Mesh, h mesh.Hemisphere) string {
	if m.IsNative() {
		return m.MedialWallROI(h)
	}
	return m.AtlasROI(h)
}

package pipeline

import (
	"context"

	"github.com/Iron-Ham/ciftiprep/internal/mesh"
	"github.com/Iron-Ham/ciftiprep/internal/wb"
)

// resampleMeshes resamples the native surfaces, metrics and labels onto the
// high resolution mesh and then every low resolution mesh.
func (p *Pipeline) resampleMeshes(ctx context.Context) error {
	for _, m := range p.layout.Targets() {
		mctx := p.withMesh(ctx, m)
		p.log(mctx).Info("resampling")
		if err := p.resampleMesh(mctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) resampleMesh(ctx context.Context, m mesh.Mesh) error {
	if err := p.CopyAtlasROIFromTemplate(ctx, m); err != nil {
		return err
	}
	for _, h := range mesh.Hemispheres() {
		if err := p.resampleHemisphere(p.withHemisphere(ctx, h), m, h); err != nil {
			return err
		}
	}

	if err := p.addVolumes(ctx, m.Spec(), p.layout.AtlasVolume); err != nil {
		return err
	}
	if !m.HighRes {
		if err := p.addVolumes(ctx, p.layout.T1wLowRes(m).Spec(), p.layout.T1wVolume); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) resampleHemisphere(ctx context.Context, m mesh.Mesh, h mesh.Hemisphere) error {
	regSphere, err := p.requireRegistration(h)
	if err != nil {
		return err
	}
	atlas := p.layout.AtlasNative()

	sphere := m.Surface(h, "sphere")
	if err := p.seq.Copy(ctx, p.tpl.StandardSphere(h, m), sphere); err != nil {
		return err
	}
	if err := p.specs.Add(ctx, m.Spec(), h.Structure(), sphere); err != nil {
		return err
	}

	if flat := p.tpl.FlatSurface(h, m); p.seq.Exists(flat) {
		out := m.Surface(h, "flat")
		if err := p.seq.Copy(ctx, flat, out); err != nil {
			return err
		}
		if err := p.specs.Add(ctx, m.Spec(), h.Structure(), out); err != nil {
			return err
		}
	} else {
		p.seq.Skip(ctx, "copy flat surface", "template flat surface not found: "+flat)
	}

	if err := p.resampleSurfaces(ctx, atlas, m, h, regSphere, sphere); err != nil {
		return err
	}
	if err := p.inflate(ctx, m, h, p.meshInflationScale(m)); err != nil {
		return err
	}

	if err := p.resampleMetrics(ctx, m, h, regSphere, sphere); err != nil {
		return err
	}
	if err := p.resampleLabels(ctx, m, h, regSphere, sphere); err != nil {
		return err
	}

	if m.HighRes {
		return nil
	}
	// Structural-space copies of the low resolution surfaces.
	t1w := p.layout.T1wLowRes(m)
	if err := p.resampleSurfaces(ctx, p.layout.T1wNative(), t1w, h, regSphere, sphere); err != nil {
		return err
	}
	return p.inflate(ctx, t1w, h, p.meshInflationScale(m))
}

// resampleSurfaces resamples white, midthickness and pial from src onto dst
// and appends them to dst's spec file.
func (p *Pipeline) resampleSurfaces(ctx context.Context, src, dst mesh.Mesh, h mesh.Hemisphere, regSphere, sphere string) error {
	for _, s := range resampledSurfaces {
		out := dst.Surface(h, s.name)
		if err := p.wb(ctx, wb.SurfaceResample(src.Surface(h, s.name), regSphere, sphere, out)...); err != nil {
			return err
		}
		if err := p.specs.Add(ctx, dst.Spec(), h.Structure(), out); err != nil {
			return err
		}
	}
	return nil
}

// resampleMetrics resamples every produced map with area correction. Masked
// maps use the native medial wall ROI as the source ROI and are masked with
// the atlas ROI afterwards. Without a template atlas ROI the native ROI is
// resampled to stand in for it.
func (p *Pipeline) resampleMetrics(ctx context.Context, m mesh.Mesh, h mesh.Hemisphere, regSphere, sphere string) error {
	atlas := p.layout.AtlasNative()
	currentArea, newArea := atlas.Surface(h, "midthickness"), m.Surface(h, "midthickness")

	if !p.seq.Exists(p.tpl.AtlasROI(h, m)) {
		if err := p.wb(ctx, wb.MetricResample(atlas.MedialWallROI(h), regSphere, sphere, m.AtlasROI(h), currentArea, newArea, "")...); err != nil {
			return err
		}
	}

	for _, d := range p.producedMaps() {
		roi := ""
		if d.MaskMedialWall {
			roi = atlas.MedialWallROI(h)
		}
		out := m.Metric(h, d.Name)
		if err := p.wb(ctx, wb.MetricResample(atlas.Metric(h, d.Name), regSphere, sphere, out, currentArea, newArea, roi)...); err != nil {
			return err
		}
		if d.MaskMedialWall {
			if err := p.wb(ctx, wb.MetricMask(out, m.AtlasROI(h), out)...); err != nil {
				return err
			}
		}
	}
	return nil
}

// resampleLabels resamples the labels imported for h. Labels whose
// annotation was absent are skipped.
func (p *Pipeline) resampleLabels(ctx context.Context, m mesh.Mesh, h mesh.Hemisphere, regSphere, sphere string) error {
	atlas := p.layout.AtlasNative()
	for _, lbl := range p.cfg.Labels {
		if !p.labels[lbl.Name][h] {
			p.seq.Skip(ctx, "resample "+lbl.Name, "label was not imported")
			continue
		}
		if err := p.wb(ctx, wb.LabelResample(atlas.Label(h, lbl.Name), regSphere, sphere, m.Label(h, lbl.Name))...); err != nil {
			return err
		}
	}
	return nil
}

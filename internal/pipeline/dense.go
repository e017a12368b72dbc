package pipeline

import (
	"context"

	"github.com/Iron-Ham/ciftiprep/internal/mesh"
	"github.com/Iron-Ham/ciftiprep/internal/wb"
)

// createDenseMaps combines the hemisphere maps of the native mesh and every
// standard mesh into CIFTI dense scalars and dense labels.
func (p *Pipeline) createDenseMaps(ctx context.Context) error {
	meshes := append([]mesh.Mesh{p.layout.AtlasNative()}, p.layout.Targets()...)
	for _, m := range meshes {
		mctx := p.withMesh(ctx, m)
		if err := p.denseScalars(mctx, m); err != nil {
			return err
		}
		if err := p.denseLabels(mctx, m); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) denseScalars(ctx context.Context, m mesh.Mesh) error {
	for _, d := range p.producedMaps() {
		in := wb.Hemispheres{
			Left:  m.Metric(mesh.Left, d.Name),
			Right: m.Metric(mesh.Right, d.Name),
		}
		if d.MaskMedialWall {
			in.LeftROI = cortexROI(m, mesh.Left)
			in.RightROI = cortexROI(m, mesh.Right)
		}
		out := m.DScalar(d.Name)
		for _, args := range [][]string{
			wb.CiftiCreateDenseScalar(out, in),
			wb.SetMapNames(out, p.layout.Subject+d.MapPostfix),
			wb.CiftiPalette(out, d.PaletteMode, out, d.PaletteArgs()...),
		} {
			if err := p.wb(ctx, args...); err != nil {
				return err
			}
		}
		if err := p.specs.Add(ctx, m.Spec(), structureInvalid, out); err != nil {
			return err
		}
	}
	return nil
}

// denseLabels builds a dense label only for labels imported for both
// hemispheres.
func (p *Pipeline) denseLabels(ctx context.Context, m mesh.Mesh) error {
	for _, lbl := range p.cfg.Labels {
		if !p.hasLabel(lbl.Name) {
			p.seq.Skip(ctx, "dense label "+lbl.Name, "label missing for a hemisphere")
			continue
		}
		out := m.DLabel(lbl.Name)
		in := wb.Hemispheres{
			Left:     m.Label(mesh.Left, lbl.Name),
			LeftROI:  cortexROI(m, mesh.Left),
			Right:    m.Label(mesh.Right, lbl.Name),
			RightROI: cortexROI(m, mesh.Right),
		}
		if err := p.wb(ctx, wb.CiftiCreateLabel(out, in)...); err != nil {
			return err
		}
		if err := p.wb(ctx, wb.SetMapNames(out, p.layout.Subject+"_"+lbl.Name)...); err != nil {
			return err
		}
		if err := p.specs.Add(ctx, m.Spec(), structureInvalid, out); err != nil {
			return err
		}
	}
	return nil
}

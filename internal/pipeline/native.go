package pipeline

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/Iron-Ham/ciftiprep/internal/config"
	"github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/mesh"
	"github.com/Iron-Ham/ciftiprep/internal/wb"
)

const (
	// structureInvalid is the spec file structure for volumes.
	structureInvalid = "INVALID"

	// fsLRVertices is the vertex count of a 32k fs_LR hemisphere, the
	// reference for scaling inflation iterations.
	fsLRVertices = 32492

	// defaultInflationScale is used when the vertex count is unknown.
	defaultInflationScale = 2.5
)

// anatomicalSurface is a surface name and its anatomical subtype.
type anatomicalSurface struct {
	name      string
	secondary wb.SecondaryType
}

// importedSurfaces are the FreeSurfer surfaces imported per hemisphere.
var importedSurfaces = []anatomicalSurface{
	{"white", wb.SecondaryGrayWhite},
	{"pial", wb.SecondaryPial},
}

// resampledSurfaces are carried from the native mesh to every standard mesh.
var resampledSurfaces = []anatomicalSurface{
	{"white", wb.SecondaryGrayWhite},
	{"midthickness", wb.SecondaryMidthickness},
	{"pial", wb.SecondaryPial},
}

// importNative imports the FreeSurfer surfaces, metrics and labels onto the
// native meshes of both hemispheres.
func (p *Pipeline) importNative(ctx context.Context) error {
	for _, h := range mesh.Hemispheres() {
		hctx := p.withMesh(p.withHemisphere(ctx, h), p.layout.AtlasNative())
		p.log(hctx).Info("importing native hemisphere")
		if err := p.importHemisphere(hctx, h); err != nil {
			return err
		}
	}

	ctx = p.withMesh(ctx, p.layout.AtlasNative())
	t1w, atlas := p.layout.T1wNative(), p.layout.AtlasNative()
	if err := p.addVolumes(ctx, t1w.Spec(), p.layout.T1wVolume); err != nil {
		return err
	}
	if err := p.addVolumes(ctx, atlas.Spec(), p.layout.AtlasVolume); err != nil {
		return err
	}
	return p.DilateAndMaskMetric(ctx, atlas, p.producedMaps())
}

func (p *Pipeline) importHemisphere(ctx context.Context, h mesh.Hemisphere) error {
	l := p.layout
	t1w, atlas := l.T1wNative(), l.AtlasNative()

	for _, s := range importedSurfaces {
		if err := p.ConvertSurface(ctx, l.FSSurf(h, s.name), t1w.Surface(h, s.name), h, SurfaceOptions{
			Type:      wb.SurfaceAnatomical,
			Secondary: s.secondary,
			Affine:    p.cras,
			AddToSpec: t1w.Spec(),
		}); err != nil {
			return err
		}
	}

	mid := t1w.Surface(h, "midthickness")
	if err := p.wb(ctx, wb.SurfaceAverage(mid, t1w.Surface(h, "white"), t1w.Surface(h, "pial"))...); err != nil {
		return err
	}
	if err := p.wb(ctx, wb.SetStructure(mid, h.Structure(), wb.SurfaceAnatomical, wb.SecondaryMidthickness)...); err != nil {
		return err
	}
	if err := p.specs.Add(ctx, t1w.Spec(), h.Structure(), mid); err != nil {
		return err
	}

	for _, s := range resampledSurfaces {
		out := atlas.Surface(h, s.name)
		if err := p.wb(ctx, wb.SurfaceApplyWarpfield(t1w.Surface(h, s.name), l.Xfm(invWarpFile), out, l.Xfm(warpFile))...); err != nil {
			return err
		}
		if err := p.specs.Add(ctx, atlas.Spec(), h.Structure(), out); err != nil {
			return err
		}
	}

	scale, err := p.nativeInflationScale(ctx, mid)
	if err != nil {
		return err
	}
	for _, m := range []mesh.Mesh{t1w, atlas} {
		if err := p.inflate(ctx, m, h, scale); err != nil {
			return err
		}
	}

	for _, name := range []string{"sphere", "sphere.reg"} {
		if err := p.ConvertSurface(ctx, l.FSSurf(h, name), atlas.Surface(h, name), h, SurfaceOptions{
			Type:      wb.SurfaceSpherical,
			AddToSpec: atlas.Spec(),
		}); err != nil {
			return err
		}
	}

	// The FreeSurfer registration is moved onto fs_LR through fsaverage.
	high := l.HighRes()
	if err := p.wb(ctx, wb.SurfaceSphereProjectUnproject(
		atlas.Surface(h, "sphere.reg"),
		p.tpl.FSAverageSphere(h, high),
		p.tpl.FSToFSLRSphere(h, high),
		atlas.Surface(h, "sphere.reg.reg_LR"),
	)...); err != nil {
		return err
	}

	sphere, err := p.requireRegistration(h)
	if err != nil {
		return err
	}

	if err := p.importMetrics(ctx, h); err != nil {
		return err
	}
	if err := p.medialWallROI(ctx, h); err != nil {
		return err
	}
	if err := p.arealDistortion(ctx, h, sphere); err != nil {
		return err
	}
	return p.importLabels(ctx, h)
}

// inflate generates the inflated and very inflated surfaces of m from its
// midthickness and appends both to the mesh's spec file.
func (p *Pipeline) inflate(ctx context.Context, m mesh.Mesh, h mesh.Hemisphere, scale float64) error {
	inflated, veryInflated := m.Surface(h, "inflated"), m.Surface(h, "very_inflated")
	if err := p.wb(ctx, wb.SurfaceGenerateInflated(m.Surface(h, "midthickness"), inflated, veryInflated, scale)...); err != nil {
		return err
	}
	for _, s := range []string{inflated, veryInflated} {
		if err := p.specs.Add(ctx, m.Spec(), h.Structure(), s); err != nil {
			return err
		}
	}
	return nil
}

// nativeInflationScale scales the inflation iterations by the surface's
// vertex count relative to 32k fs_LR.
func (p *Pipeline) nativeInflationScale(ctx context.Context, surface string) (float64, error) {
	out, err := p.seq.Output(ctx, p.cfg.Tools.WBCommand, wb.VertexCount(surface)...)
	if err != nil {
		return 0, err
	}
	n, perr := strconv.Atoi(strings.TrimSpace(out))
	if perr != nil || n <= 0 {
		p.log(ctx).Debug("vertex count unknown, using default inflation scale",
			"surface", surface,
			"scale", defaultInflationScale,
		)
		return defaultInflationScale, nil
	}
	return InflationScale(n), nil
}

// InflationScale returns the inflation iterations scale for a surface with n
// vertices.
func InflationScale(n int) float64 {
	return 0.75 * float64(n) / fsLRVertices
}

// meshInflationScale returns the inflation iterations scale of a standard
// mesh: configured for the high resolution mesh, 0.75 * k / 32 otherwise.
func (p *Pipeline) meshInflationScale(m mesh.Mesh) float64 {
	if m.HighRes {
		return p.cfg.Meshes.HighResInflationScale
	}
	return 0.75 * float64(m.ResolutionK()) / 32
}

// importMetrics converts the per-vertex FreeSurfer maps onto the native
// atlas-space mesh and applies their transform, name and palette.
func (p *Pipeline) importMetrics(ctx context.Context, h mesh.Hemisphere) error {
	atlas := p.layout.AtlasNative()
	for _, d := range p.cfg.DScalars {
		if d.FSName == "" {
			continue
		}
		out := atlas.Metric(h, d.Name)
		if err := p.seq.Run(ctx, p.cfg.Tools.MRISConvert, wb.MRISConvertMetric(p.layout.FSSurf(h, d.FSName), p.layout.FSSurf(h, "white"), out)...); err != nil {
			return err
		}
		if err := p.wb(ctx, wb.SetStructure(out, h.Structure(), wb.SurfaceNone, wb.SecondaryNone)...); err != nil {
			return err
		}
		switch d.Transform {
		case config.TransformNegate:
			if err := p.wb(ctx, wb.NegateMetric(out)...); err != nil {
				return err
			}
		case config.TransformAbs:
			if err := p.wb(ctx, wb.AbsMetric(out)...); err != nil {
				return err
			}
		}
		if err := p.wb(ctx, wb.SetMapNames(out, p.mapName(h, d.MapPostfix))...); err != nil {
			return err
		}
		if err := p.wb(ctx, wb.MetricPalette(out, d.PaletteMode, d.PaletteArgs()...)...); err != nil {
			return err
		}
		p.metrics[d.Name] = true
	}
	return nil
}

// medialWallROI derives the cortex ROI from thickness: vertices with
// positive thickness, holes filled and islands removed.
func (p *Pipeline) medialWallROI(ctx context.Context, h mesh.Hemisphere) error {
	atlas := p.layout.AtlasNative()
	thickness, err := p.thicknessMetric(ctx, h)
	if err != nil {
		return err
	}

	roi := atlas.MedialWallROI(h)
	mid := atlas.Surface(h, "midthickness")
	for _, args := range [][]string{
		wb.ThresholdROI(thickness, roi),
		wb.MetricFillHoles(mid, roi, roi),
		wb.MetricRemoveIslands(mid, roi, roi),
		wb.SetMapNames(roi, p.mapName(h, "_ROI")),
	} {
		if err := p.wb(ctx, args...); err != nil {
			return err
		}
	}
	return nil
}

// thicknessMetric returns the imported thickness metric, importing it when
// no configured map reads FreeSurfer thickness.
func (p *Pipeline) thicknessMetric(ctx context.Context, h mesh.Hemisphere) (string, error) {
	atlas := p.layout.AtlasNative()
	for _, d := range p.cfg.DScalars {
		if d.FSName == "thickness" && p.metrics[d.Name] {
			return atlas.Metric(h, d.Name), nil
		}
	}
	out := atlas.Metric(h, "thickness")
	if err := p.seq.Run(ctx, p.cfg.Tools.MRISConvert, wb.MRISConvertMetric(p.layout.FSSurf(h, "thickness"), p.layout.FSSurf(h, "white"), out)...); err != nil {
		return "", err
	}
	if err := p.wb(ctx, wb.AbsMetric(out)...); err != nil {
		return "", err
	}
	return out, nil
}

// ArealDistortionName is the metric name of the areal distortion of a
// registration method.
func ArealDistortionName(regName string) string {
	return "ArealDistortion_" + regName
}

// arealDistortion computes the areal distortion of the registration sphere
// when a derived map asks for it.
func (p *Pipeline) arealDistortion(ctx context.Context, h mesh.Hemisphere, regSphere string) error {
	name := ArealDistortionName(p.layout.RegName)
	for _, d := range p.cfg.DScalars {
		if d.FSName != "" {
			continue
		}
		if d.Name != name {
			p.seq.Skip(ctx, "derive "+d.Name, fmt.Sprintf("no derivation for %q", d.Name))
			continue
		}
		atlas := p.layout.AtlasNative()
		prefix := p.layout.Subject + "_" + h.String()
		if err := p.ComputeArealDistortion(ctx, atlas.Surface(h, "sphere"), regSphere, atlas.Metric(h, d.Name), prefix, p.layout.RegName); err != nil {
			return err
		}
		p.metrics[d.Name] = true
	}
	return nil
}

// importLabels converts the configured annotations. Absent annotations are
// skipped and later excluded from resampling and dense labels.
func (p *Pipeline) importLabels(ctx context.Context, h mesh.Hemisphere) error {
	atlas := p.layout.AtlasNative()
	for _, lbl := range p.cfg.Labels {
		annot := p.layout.FSAnnot(h, lbl.FSName)
		if !p.seq.Exists(annot) {
			p.seq.Skip(ctx, "import "+lbl.Name, "annotation not found: "+annot)
			p.log(ctx).Info("skipping label", "label", lbl.Name, "annot", annot)
			continue
		}
		out := atlas.Label(h, lbl.Name)
		for _, inv := range []invocation{
			{p.cfg.Tools.MRISConvert, wb.MRISConvertAnnot(annot, p.layout.FSSurf(h, "white"), out)},
			{p.cfg.Tools.WBCommand, wb.SetStructure(out, h.Structure(), wb.SurfaceNone, wb.SecondaryNone)},
			{p.cfg.Tools.WBCommand, wb.SetMapNames(out, p.mapName(h, "_"+lbl.Name))},
			{p.cfg.Tools.WBCommand, wb.GiftiLabelAddPrefix(out, h.String()+"_", out)},
		} {
			if err := p.seq.Run(ctx, inv.tool, inv.args...); err != nil {
				return err
			}
		}
		if p.labels[lbl.Name] == nil {
			p.labels[lbl.Name] = make(map[mesh.Hemisphere]bool)
		}
		p.labels[lbl.Name][h] = true
	}
	return nil
}

// addVolumes appends the T1w volumes produced by path to a spec file.
func (p *Pipeline) addVolumes(ctx context.Context, spec string, path func(string) string) error {
	for _, name := range []string{"T1w", "T1w_brain"} {
		if err := p.specs.Add(ctx, spec, structureInvalid, path(name)); err != nil {
			return err
		}
	}
	return nil
}

// producedMaps returns the configured maps that were imported or derived.
func (p *Pipeline) producedMaps() []config.DScalarConfig {
	var out []config.DScalarConfig
	for _, d := range p.cfg.DScalars {
		if p.metrics[d.Name] {
			out = append(out, d)
		}
	}
	return out
}

// hasLabel reports whether label was imported for every hemisphere.
func (p *Pipeline) hasLabel(name string) bool {
	for _, h := range mesh.Hemispheres() {
		if !p.labels[name][h] {
			return false
		}
	}
	return true
}

// mapName is "<subject>_<H><postfix>".
func (p *Pipeline) mapName(h mesh.Hemisphere, postfix string) string {
	return p.layout.Subject + "_" + h.String() + postfix
}

// requireRegistration fails when the registration sphere of h has not been
// resolved.
func (p *Pipeline) requireRegistration(h mesh.Hemisphere) (string, error) {
	sphere, ok := p.regSpheres[h]
	if !ok {
		return "", errors.NewConfigError("registration sphere not resolved", errors.ErrMissingInput).
			WithSetting("registration.surface").
			WithValue(h.String())
	}
	return sphere, nil
}

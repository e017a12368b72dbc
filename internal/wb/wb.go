// Package wb builds argument lists for Connectome Workbench, FreeSurfer and
// FSL command-line tools.
//
// Every builder is pure: it returns the flat, ordered argument slice for one
// invocation without the binary name, which the caller supplies from config.
// Argument order and flag names are the whole contract with these tools.
package wb

import (
	"strconv"
)

// SurfaceType is the primary surface type written by -set-structure.
type SurfaceType string

// Surface types understood by wb_command.
const (
	SurfaceNone         SurfaceType = ""
	SurfaceAnatomical   SurfaceType = "ANATOMICAL"
	SurfaceInflated     SurfaceType = "INFLATED"
	SurfaceVeryInflated SurfaceType = "VERY_INFLATED"
	SurfaceSpherical    SurfaceType = "SPHERICAL"
	SurfaceFlat         SurfaceType = "FLAT"
)

// SecondaryType is the anatomical surface subtype written by -set-structure.
type SecondaryType string

// Secondary surface types understood by wb_command.
const (
	SecondaryNone         SecondaryType = ""
	SecondaryGrayWhite    SecondaryType = "GRAY_WHITE"
	SecondaryPial         SecondaryType = "PIAL"
	SecondaryMidthickness SecondaryType = "MIDTHICKNESS"
)

// Resampling methods.
const (
	MethodBarycentric  = "BARYCENTRIC"
	MethodAdaBaryArea  = "ADAP_BARY_AREA"
	DefaultDilateMM    = 10.0
	ArealDistortionExp = "ln(spherereg / sphere) / ln(2)"
)

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

// SetStructure tags a GIFTI file with its structure and, for surfaces, its
// type. The secondary type flag appears only when secondary is set.
func SetStructure(file, structure string, typ SurfaceType, secondary SecondaryType) []string {
	args := []string{"-set-structure", file, structure}
	if typ != SurfaceNone {
		args = append(args, "-surface-type", string(typ))
	}
	if secondary != SecondaryNone {
		args = append(args, "-surface-secondary-type", string(secondary))
	}
	return args
}

// SurfaceApplyAffine applies a world-coordinate affine to a surface.
func SurfaceApplyAffine(in, affine, out string) []string {
	return []string{"-surface-apply-affine", in, affine, out}
}

// SurfaceApplyWarpfield applies an FNIRT warp to a surface. invWarp maps the
// target space back to the source; fnirtWarp is the forward warp.
func SurfaceApplyWarpfield(in, invWarp, out, fnirtWarp string) []string {
	return []string{"-surface-apply-warpfield", in, invWarp, out, "-fnirt", fnirtWarp}
}

// AddToSpecFile appends one file to a spec file under a structure.
func AddToSpecFile(spec, structure, file string) []string {
	return []string{"-add-to-spec-file", spec, structure, file}
}

// SurfaceVertexAreas writes per-vertex areas of a surface to a metric.
func SurfaceVertexAreas(surface, out string) []string {
	return []string{"-surface-vertex-areas", surface, out}
}

// Var binds a metric-math variable name to a file.
type Var struct {
	Name string
	File string
}

// MetricMath evaluates expr over the bound variables into out.
func MetricMath(expr, out string, vars ...Var) []string {
	args := []string{"-metric-math", expr, out}
	for _, v := range vars {
		args = append(args, "-var", v.Name, v.File)
	}
	return args
}

// NegateMetric flips the sign of a metric in place.
func NegateMetric(file string) []string {
	return MetricMath("var * -1", file, Var{Name: "var", File: file})
}

// AbsMetric replaces a metric with its absolute value in place.
func AbsMetric(file string) []string {
	return MetricMath("abs(var)", file, Var{Name: "var", File: file})
}

// ThresholdROI writes a binary ROI of the vertices where a metric is positive.
func ThresholdROI(metric, out string) []string {
	return MetricMath("thickness > 0", out, Var{Name: "thickness", File: metric})
}

// SetMapNames names the first map of a metric or CIFTI file.
func SetMapNames(file, name string) []string {
	return []string{"-set-map-names", file, "-map", "1", name}
}

// MetricPalette sets the display palette of a metric.
func MetricPalette(file, mode string, options ...string) []string {
	args := []string{"-metric-palette", file, mode}
	return append(args, options...)
}

// CiftiPalette sets the display palette of a CIFTI file.
func CiftiPalette(in, mode, out string, options ...string) []string {
	args := []string{"-cifti-palette", in, mode, out}
	return append(args, options...)
}

// SurfaceAverage averages surfaces with matching topology into out.
func SurfaceAverage(out string, surfaces ...string) []string {
	args := []string{"-surface-average", out}
	for _, s := range surfaces {
		args = append(args, "-surf", s)
	}
	return args
}

// SurfaceGenerateInflated writes inflated and very inflated surfaces.
func SurfaceGenerateInflated(anatomical, inflated, veryInflated string, iterationsScale float64) []string {
	return []string{
		"-surface-generate-inflated", anatomical, inflated, veryInflated,
		"-iterations-scale", formatFloat(iterationsScale),
	}
}

// SurfaceResample resamples a surface between spheres.
func SurfaceResample(in, currentSphere, newSphere, out string) []string {
	return []string{"-surface-resample", in, currentSphere, newSphere, MethodBarycentric, out}
}

// MetricResample resamples a metric with area correction. roi restricts the
// source vertices and is omitted when empty.
func MetricResample(in, currentSphere, newSphere, out, currentArea, newArea, roi string) []string {
	args := []string{
		"-metric-resample", in, currentSphere, newSphere, MethodAdaBaryArea, out,
		"-area-surfs", currentArea, newArea,
	}
	if roi != "" {
		args = append(args, "-current-roi", roi)
	}
	return args
}

// LabelResample resamples a label keeping the largest weight per vertex.
func LabelResample(in, currentSphere, newSphere, out string) []string {
	return []string{"-label-resample", in, currentSphere, newSphere, MethodBarycentric, out, "-largest"}
}

// MetricMask zeroes metric values outside mask.
func MetricMask(metric, mask, out string) []string {
	return []string{"-metric-mask", metric, mask, out}
}

// MetricDilate fills gaps in a metric from the nearest good vertex.
func MetricDilate(metric, surface string, distance float64, out string) []string {
	return []string{"-metric-dilate", metric, surface, formatFloat(distance), out, "-nearest"}
}

// MetricFillHoles fills holes in an ROI metric.
func MetricFillHoles(surface, metric, out string) []string {
	return []string{"-metric-fill-holes", surface, metric, out}
}

// MetricRemoveIslands removes disconnected islands from an ROI metric.
func MetricRemoveIslands(surface, metric, out string) []string {
	return []string{"-metric-remove-islands", surface, metric, out}
}

// GiftiLabelAddPrefix prefixes every label name in a GIFTI label file.
func GiftiLabelAddPrefix(in, prefix, out string) []string {
	return []string{"-gifti-label-add-prefix", in, prefix, out}
}

// SurfaceSphereProjectUnproject moves a registration between sphere pairs.
func SurfaceSphereProjectUnproject(sphereIn, projectTo, unprojectFrom, out string) []string {
	return []string{"-surface-sphere-project-unproject", sphereIn, projectTo, unprojectFrom, out}
}

// Hemispheres pairs a left and right input with their ROIs for CIFTI creation.
type Hemispheres struct {
	Left, LeftROI   string
	Right, RightROI string
}

// CiftiCreateDenseScalar combines two hemisphere metrics into a dscalar.
func CiftiCreateDenseScalar(out string, h Hemispheres) []string {
	args := []string{"-cifti-create-dense-scalar", out, "-left-metric", h.Left}
	if h.LeftROI != "" {
		args = append(args, "-roi-left", h.LeftROI)
	}
	args = append(args, "-right-metric", h.Right)
	if h.RightROI != "" {
		args = append(args, "-roi-right", h.RightROI)
	}
	return args
}

// CiftiCreateLabel combines two hemisphere labels into a dlabel.
func CiftiCreateLabel(out string, h Hemispheres) []string {
	args := []string{"-cifti-create-label", out, "-left-label", h.Left}
	if h.LeftROI != "" {
		args = append(args, "-roi-left", h.LeftROI)
	}
	args = append(args, "-right-label", h.Right)
	if h.RightROI != "" {
		args = append(args, "-roi-right", h.RightROI)
	}
	return args
}

// VolumeLabelImport converts a parcellation volume into a label volume.
func VolumeLabelImport(in, lut, out string) []string {
	return []string{"-volume-label-import", in, lut, out, "-drop-unused-labels"}
}

// ShowScene renders one scene of a scene file to an image.
func ShowScene(scene string, index int, image string, width, height int) []string {
	return []string{"-show-scene", scene, strconv.Itoa(index), image, strconv.Itoa(width), strconv.Itoa(height)}
}

// VertexCount queries the number of vertices of a surface or metric.
func VertexCount(file string) []string {
	return []string{"-file-information", file, "-only-number-of-vertices"}
}

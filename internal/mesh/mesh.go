// Package mesh resolves the on-disk layout of a converted subject.
//
// Everything here is pure: Resolve performs no I/O and returns the same Layout
// for the same Params. The naming conventions are bit-relevant for Connectome
// Workbench, which locates files by name inside spec files and scenes.
package mesh

import (
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Iron-Ham/ciftiprep/internal/errors"
)

// Hemisphere is one cortical hemisphere, identified by its HCP letter.
type Hemisphere string

// The two hemispheres, in processing order.
const (
	Left  Hemisphere = "L"
	Right Hemisphere = "R"
)

// Hemispheres returns both hemispheres in processing order.
func Hemispheres() []Hemisphere {
	return []Hemisphere{Left, Right}
}

// String returns the hemisphere letter.
func (h Hemisphere) String() string { return string(h) }

// Structure returns the CIFTI structure tag consumed by wb_command.
func (h Hemisphere) Structure() string {
	if h == Right {
		return "CORTEX_RIGHT"
	}
	return "CORTEX_LEFT"
}

// FSPrefix returns the FreeSurfer file prefix ("lh" or "rh").
func (h Hemisphere) FSPrefix() string {
	if h == Right {
		return "rh"
	}
	return "lh"
}

// Space is the coordinate space and vertex correspondence of a mesh.
type Space int

const (
	// SpaceNativeT1w is the subject's own mesh in native structural space.
	SpaceNativeT1w Space = iota
	// SpaceNativeAtlas is the subject's own mesh warped into MNI space.
	SpaceNativeAtlas
	// SpaceStandard is a standard fs_LR mesh with atlas vertex correspondence.
	SpaceStandard
)

func (s Space) String() string {
	switch s {
	case SpaceNativeT1w:
		return "native-t1w"
	case SpaceNativeAtlas:
		return "native-atlas"
	case SpaceStandard:
		return "standard"
	default:
		return "unknown"
	}
}

// NativeResolution is the resolution label of subject meshes.
const NativeResolution = "native"

// Mesh describes where one mesh variant of a subject lives and how its files
// are named.
type Mesh struct {
	Key         string // Logical key, e.g. "T1wNative" or "32k_fs_LR"
	Name        string // File name infix, e.g. "native" or "32k_fs_LR"
	Resolution  string // "native" or the vertex-count label without the k suffix
	Space       Space
	HighRes     bool   // The high resolution atlas mesh
	T1w         bool   // Coordinates in native structural volume space
	Folder      string // Surfaces, metrics, labels and the spec file
	DenseFolder string // CIFTI dense maps
	Subject     string
}

// IsNative reports whether the mesh is the subject's own tessellation.
func (m Mesh) IsNative() bool {
	return m.Resolution == NativeResolution
}

// ResolutionK returns the vertex-count label as an integer (e.g. 32), or 0
// for native meshes.
func (m Mesh) ResolutionK() int {
	k, err := strconv.Atoi(m.Resolution)
	if err != nil {
		return 0
	}
	return k
}

func (m Mesh) file(h Hemisphere, name, ext string) string {
	return filepath.Join(m.Folder, fmt.Sprintf("%s.%s.%s.%s.%s", m.Subject, h, name, m.Name, ext))
}

// Surface returns the GIFTI surface path for a named surface.
func (m Mesh) Surface(h Hemisphere, name string) string {
	return m.file(h, name, "surf.gii")
}

// Metric returns the GIFTI shape path for a named metric.
func (m Mesh) Metric(h Hemisphere, name string) string {
	return m.file(h, name, "shape.gii")
}

// Label returns the GIFTI label path for a named label.
func (m Mesh) Label(h Hemisphere, name string) string {
	return m.file(h, name, "label.gii")
}

// MedialWallROI returns the subject's cortex ROI metric.
func (m Mesh) MedialWallROI(h Hemisphere) string {
	return m.Metric(h, "roi")
}

// AtlasROI returns the template cortex ROI metric copied into the subject tree.
func (m Mesh) AtlasROI(h Hemisphere) string {
	return m.Metric(h, "atlasroi")
}

// DScalar returns the CIFTI dense scalar path for a named map.
func (m Mesh) DScalar(name string) string {
	return filepath.Join(m.DenseFolder, fmt.Sprintf("%s.%s.%s.dscalar.nii", m.Subject, name, m.Name))
}

// DLabel returns the CIFTI dense label path for a named label.
func (m Mesh) DLabel(name string) string {
	return filepath.Join(m.DenseFolder, fmt.Sprintf("%s.%s.%s.dlabel.nii", m.Subject, name, m.Name))
}

// Spec returns the wb spec file of the mesh.
func (m Mesh) Spec() string {
	return filepath.Join(m.Folder, fmt.Sprintf("%s.%s.wb.spec", m.Subject, m.Name))
}

// NormalizeResolution validates a vertex-count label ("32", "32k") and returns
// it without the k suffix.
func NormalizeResolution(label string) (string, error) {
	s := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(label)), "k")
	k, err := strconv.Atoi(s)
	if err != nil || k <= 0 {
		return "", errors.NewConfigError("invalid mesh resolution", errors.ErrInvalidResolution).
			WithSetting("resolution").
			WithValue(label)
	}
	return strconv.Itoa(k), nil
}

// StandardMeshName returns the fs_LR mesh name for a normalized label.
func StandardMeshName(res string) string {
	return res + "k_fs_LR"
}

// RegistrationSphereName returns the native surface name produced by a
// surface registration method.
func RegistrationSphereName(regName string) (string, error) {
	switch regName {
	case "FS":
		return "sphere.reg.reg_LR", nil
	case "MSMSulc":
		return "sphere.MSMSulc", nil
	default:
		return "", errors.NewConfigError("unknown surface registration method", errors.ErrUnknownRegistration).
			WithSetting("registration.surface").
			WithValue(regName)
	}
}

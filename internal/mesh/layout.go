package mesh

import (
	"fmt"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/ciftiprep/internal/errors"
)

// Logical keys of the native meshes.
const (
	KeyT1wNative        = "T1wNative"
	KeyAtlasSpaceNative = "AtlasSpaceNative"
)

// Params are the inputs to Resolve.
type Params struct {
	Subject       string
	WorkDir       string   // HCP data root; the subject tree is WorkDir/Subject
	FSSubjectsDir string   // FreeSurfer SUBJECTS_DIR
	HighRes       string   // e.g. "164"
	LowRes        []string // e.g. ["32"]
	RegName       string   // surface registration method, e.g. "FS"
}

// Layout is the resolved set of meshes and folders for one subject.
type Layout struct {
	Subject      string
	SubjectDir   string
	T1wDir       string
	AtlasDir     string // MNINonLinear
	XfmsDir      string
	ROIsDir      string
	ResultsDir   string
	FSSubjectDir string
	RegName      string
	RegSphere    string // native surface name used as the resampling reference

	meshes  map[string]Mesh
	order   []string // T1wNative, AtlasSpaceNative, high-res, low-res..., T1w low-res...
	highKey string
	lowKeys []string
	t1wKeys []string
}

// Resolve computes the layout of a subject. It performs no I/O.
func Resolve(p Params) (*Layout, error) {
	subject := strings.TrimSpace(p.Subject)
	if subject == "" || strings.ContainsAny(subject, `/\`) || subject == "." || subject == ".." {
		return nil, errors.NewConfigError("subject id must be a plain directory name", errors.ErrInvalidSubject).
			WithSetting("subject").
			WithValue(p.Subject)
	}

	high, err := NormalizeResolution(p.HighRes)
	if err != nil {
		return nil, err
	}

	lows := make([]string, 0, len(p.LowRes))
	seen := map[string]bool{high: true}
	for _, label := range p.LowRes {
		low, err := NormalizeResolution(label)
		if err != nil {
			return nil, err
		}
		if seen[low] {
			return nil, errors.NewConfigError("duplicate mesh resolution", errors.ErrInvalidResolution).
				WithSetting("meshes.low_res").
				WithValue(label)
		}
		seen[low] = true
		lows = append(lows, low)
	}

	regSphere, err := RegistrationSphereName(p.RegName)
	if err != nil {
		return nil, err
	}

	subjectDir := filepath.Join(p.WorkDir, subject)
	l := &Layout{
		Subject:      subject,
		SubjectDir:   subjectDir,
		T1wDir:       filepath.Join(subjectDir, "T1w"),
		AtlasDir:     filepath.Join(subjectDir, "MNINonLinear"),
		FSSubjectDir: filepath.Join(p.FSSubjectsDir, subject),
		RegName:      p.RegName,
		RegSphere:    regSphere,
		meshes:       make(map[string]Mesh),
	}
	l.XfmsDir = filepath.Join(l.AtlasDir, "xfms")
	l.ROIsDir = filepath.Join(l.AtlasDir, "ROIs")
	l.ResultsDir = filepath.Join(l.AtlasDir, "Results")

	nativeT1w := filepath.Join(l.T1wDir, "Native")
	nativeAtlas := filepath.Join(l.AtlasDir, "Native")
	l.add(Mesh{
		Key:         KeyT1wNative,
		Name:        NativeResolution,
		Resolution:  NativeResolution,
		Space:       SpaceNativeT1w,
		T1w:         true,
		Folder:      nativeT1w,
		DenseFolder: nativeT1w,
	})
	l.add(Mesh{
		Key:         KeyAtlasSpaceNative,
		Name:        NativeResolution,
		Resolution:  NativeResolution,
		Space:       SpaceNativeAtlas,
		Folder:      nativeAtlas,
		DenseFolder: nativeAtlas,
	})

	l.highKey = StandardMeshName(high)
	l.add(Mesh{
		Key:         l.highKey,
		Name:        StandardMeshName(high),
		Resolution:  high,
		Space:       SpaceStandard,
		HighRes:     true,
		Folder:      l.AtlasDir,
		DenseFolder: l.AtlasDir,
	})

	for _, low := range lows {
		folder := fmt.Sprintf("fsaverage_LR%sk", low)
		key := StandardMeshName(low)
		l.lowKeys = append(l.lowKeys, key)
		l.add(Mesh{
			Key:         key,
			Name:        StandardMeshName(low),
			Resolution:  low,
			Space:       SpaceStandard,
			Folder:      filepath.Join(l.AtlasDir, folder),
			DenseFolder: filepath.Join(l.AtlasDir, folder),
		})
	}
	for _, low := range lows {
		folder := filepath.Join(l.T1wDir, fmt.Sprintf("fsaverage_LR%sk", low))
		key := "T1w_" + StandardMeshName(low)
		l.t1wKeys = append(l.t1wKeys, key)
		l.add(Mesh{
			Key:         key,
			Name:        StandardMeshName(low),
			Resolution:  low,
			Space:       SpaceStandard,
			T1w:         true,
			Folder:      folder,
			DenseFolder: folder,
		})
	}

	return l, nil
}

func (l *Layout) add(m Mesh) {
	m.Subject = l.Subject
	l.meshes[m.Key] = m
	l.order = append(l.order, m.Key)
}

// Mesh returns the mesh registered under key.
func (l *Layout) Mesh(key string) (Mesh, bool) {
	m, ok := l.meshes[key]
	return m, ok
}

// Keys returns every mesh key in resolution order.
func (l *Layout) Keys() []string {
	return append([]string(nil), l.order...)
}

// Meshes returns every mesh in resolution order.
func (l *Layout) Meshes() []Mesh {
	out := make([]Mesh, 0, len(l.order))
	for _, key := range l.order {
		out = append(out, l.meshes[key])
	}
	return out
}

// T1wNative returns the native mesh in structural space.
func (l *Layout) T1wNative() Mesh { return l.meshes[KeyT1wNative] }

// AtlasNative returns the native mesh in MNI space.
func (l *Layout) AtlasNative() Mesh { return l.meshes[KeyAtlasSpaceNative] }

// HighRes returns the high resolution atlas mesh.
func (l *Layout) HighRes() Mesh { return l.meshes[l.highKey] }

// LowRes returns the low resolution atlas meshes in configuration order.
func (l *Layout) LowRes() []Mesh {
	out := make([]Mesh, 0, len(l.lowKeys))
	for _, key := range l.lowKeys {
		out = append(out, l.meshes[key])
	}
	return out
}

// T1wLowRes returns the structural-space counterpart of a low resolution mesh.
func (l *Layout) T1wLowRes(low Mesh) Mesh {
	return l.meshes["T1w_"+low.Name]
}

// Targets returns the standard meshes resampled to, high resolution first.
func (l *Layout) Targets() []Mesh {
	return append([]Mesh{l.HighRes()}, l.LowRes()...)
}

// Folders returns every directory the pipeline writes into, parents first.
func (l *Layout) Folders() []string {
	folders := []string{l.SubjectDir, l.T1wDir, l.AtlasDir, l.XfmsDir, l.ROIsDir, l.ResultsDir}
	seen := make(map[string]bool, len(folders))
	for _, f := range folders {
		seen[f] = true
	}
	for _, m := range l.Meshes() {
		for _, f := range []string{m.Folder, m.DenseFolder} {
			if !seen[f] {
				seen[f] = true
				folders = append(folders, f)
			}
		}
	}
	return folders
}

// FSSurf returns a FreeSurfer surf/ input, e.g. lh.white.
func (l *Layout) FSSurf(h Hemisphere, name string) string {
	return filepath.Join(l.FSSubjectDir, "surf", h.FSPrefix()+"."+name)
}

// FSAnnot returns a FreeSurfer annotation input, e.g. lh.aparc.annot.
func (l *Layout) FSAnnot(h Hemisphere, name string) string {
	return filepath.Join(l.FSSubjectDir, "label", h.FSPrefix()+"."+name+".annot")
}

// FSVolume returns a FreeSurfer mri/ volume, e.g. T1.mgz.
func (l *Layout) FSVolume(name string) string {
	return filepath.Join(l.FSSubjectDir, "mri", name+".mgz")
}

// T1wVolume returns a NIfTI volume in the T1w folder.
func (l *Layout) T1wVolume(name string) string {
	return filepath.Join(l.T1wDir, name+".nii.gz")
}

// AtlasVolume returns a NIfTI volume in the MNINonLinear folder.
func (l *Layout) AtlasVolume(name string) string {
	return filepath.Join(l.AtlasDir, name+".nii.gz")
}

// Xfm returns a file in the transforms folder.
func (l *Layout) Xfm(name string) string {
	return filepath.Join(l.XfmsDir, name)
}

// Templates names files in the standard mesh atlas directory.
type Templates struct {
	Dir string
}

// FSAverageSphere is the fsaverage sphere of the FreeSurfer registration.
func (t Templates) FSAverageSphere(h Hemisphere, high Mesh) string {
	return filepath.Join(t.Dir, "fs_"+h.String(),
		fmt.Sprintf("fsaverage.%s.sphere.%sk_fs_%s.surf.gii", h, high.Resolution, h))
}

// FSToFSLRSphere is the fsaverage-to-fs_LR deformed sphere.
func (t Templates) FSToFSLRSphere(h Hemisphere, high Mesh) string {
	return filepath.Join(t.Dir, "fs_"+h.String(),
		fmt.Sprintf("fs_%s-to-fs_LR_fsaverage.%s_LR.spherical_std.%sk_fs_%s.surf.gii", h, h, high.Resolution, h))
}

// StandardSphere is the fs_LR sphere of a standard mesh.
func (t Templates) StandardSphere(h Hemisphere, m Mesh) string {
	if m.HighRes {
		return filepath.Join(t.Dir, fmt.Sprintf("fsaverage.%s_LR.spherical_std.%s.surf.gii", h, m.Name))
	}
	return filepath.Join(t.Dir, fmt.Sprintf("%s.sphere.%s.surf.gii", h, m.Name))
}

// AtlasROI is the template cortex ROI of a standard mesh.
func (t Templates) AtlasROI(h Hemisphere, m Mesh) string {
	return filepath.Join(t.Dir, fmt.Sprintf("%s.atlasroi.%s.shape.gii", h, m.Name))
}

// FlatSurface is the colin flat map of a standard mesh.
func (t Templates) FlatSurface(h Hemisphere, m Mesh) string {
	return filepath.Join(t.Dir, fmt.Sprintf("colin.cerebral.%s.flat.%s.surf.gii", h, m.Name))
}

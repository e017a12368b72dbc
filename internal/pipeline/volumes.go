package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/wb"
)

// labelVolumes are the FreeSurfer parcellation volumes converted with
// nearest-neighbour reslicing, keyed by source name.
var labelVolumes = []struct {
	src, dst string
}{
	{"brainmask", "brainmask_fs"},
	{"wmparc", "wmparc"},
	{"aparc+aseg", "aparc+aseg"},
	{"aparc.a2009s+aseg", "aparc.a2009s+aseg"},
}

// Nonlinear transforms between T1w and MNI152 space, in the xfms folder.
const (
	warpFile    = "acpc_dc2standard.nii.gz"
	invWarpFile = "standard2acpc_dc.nii.gz"
)

// invocation is one external tool call.
type invocation struct {
	tool string
	args []string
}

// parcellations are the converted label volumes that are imported as label
// volumes and warped to MNI space.
var parcellations = []string{"wmparc", "aparc+aseg", "aparc.a2009s+aseg"}

// convertVolumes brings the FreeSurfer volumes into the T1w folder and
// builds the brain-extracted T1w.
func (p *Pipeline) convertVolumes(ctx context.Context) error {
	t := p.cfg.Tools
	l := p.layout

	if err := p.seq.Run(ctx, t.MRIConvert, wb.MRIConvert(l.FSVolume("T1"), l.T1wVolume("T1w"))...); err != nil {
		return err
	}
	for _, v := range labelVolumes {
		if err := p.seq.Run(ctx, t.MRIConvert, wb.MRIConvertLike(l.FSVolume(v.src), l.FSVolume("T1"), l.T1wVolume(v.dst))...); err != nil {
			return err
		}
	}

	mask := l.T1wVolume("brainmask_fs")
	if err := p.seq.Run(ctx, t.FSLMaths, wb.FSLMathsBinarize(mask, mask)...); err != nil {
		return err
	}
	if err := p.seq.Run(ctx, t.FSLMaths, wb.FSLMathsMask(l.T1wVolume("T1w"), mask, l.T1wVolume("T1w_brain"))...); err != nil {
		return err
	}

	return p.importLabelVolumes(ctx, l.T1wVolume)
}

// importLabelVolumes attaches the FreeSurfer colour table to every
// parcellation volume produced by path.
func (p *Pipeline) importLabelVolumes(ctx context.Context, path func(string) string) error {
	lut := p.cfg.Paths.FreeSurferLUT
	if lut == "" {
		p.seq.Skip(ctx, "volume-label-import", "paths.freesurfer_lut is not set")
		return nil
	}
	for _, name := range parcellations {
		vol := path(name)
		if err := p.wb(ctx, wb.VolumeLabelImport(vol, lut, vol)...); err != nil {
			return err
		}
	}
	return nil
}

// registerVolumes registers the T1w volume to MNI152 space with FSL, warps
// the volumes into MNINonLinear and writes the FreeSurfer-to-T1w affine.
func (p *Pipeline) registerVolumes(ctx context.Context) error {
	t := p.cfg.Tools
	l := p.layout
	std := p.cfg.Paths.FSLStandardDir
	ref := filepath.Join(std, "MNI152_T1_2mm.nii.gz")
	refBrain := filepath.Join(std, "MNI152_T1_2mm_brain.nii.gz")
	refMask := filepath.Join(std, "MNI152_T1_2mm_brain_mask_dil.nii.gz")

	linear := l.Xfm("T1w2StandardLinear.mat")
	warp := l.Xfm(warpFile)
	invWarp := l.Xfm(invWarpFile)

	steps := []invocation{
		{t.FLIRT, wb.FLIRT(l.T1wVolume("T1w_brain"), refBrain, linear, l.Xfm("T1w2StandardLinearImage.nii.gz"), p.cfg.Registration.VolumeDOF)},
		{t.FNIRT, wb.FNIRT(wb.FNIRTArgs{
			In:      l.T1wVolume("T1w"),
			Ref:     ref,
			RefMask: refMask,
			Affine:  linear,
			Config:  p.cfg.Registration.FNIRTConfig,
			Warp:    warp,
			Out:     l.Xfm("T1w2Standard_NonlinearImage.nii.gz"),
		})},
		{t.InvWarp, wb.InvWarp(warp, l.T1wVolume("T1w"), invWarp)},
		{t.ApplyWarp, wb.ApplyWarp(l.T1wVolume("T1w"), ref, warp, l.AtlasVolume("T1w"), wb.InterpSpline)},
		{t.ApplyWarp, wb.ApplyWarp(l.T1wVolume("T1w_brain"), ref, warp, l.AtlasVolume("T1w_brain"), wb.InterpSpline)},
		{t.ApplyWarp, wb.ApplyWarp(l.T1wVolume("brainmask_fs"), ref, warp, l.AtlasVolume("brainmask_fs"), wb.InterpNN)},
	}
	for _, name := range parcellations {
		steps = append(steps, invocation{t.ApplyWarp, wb.ApplyWarp(l.T1wVolume(name), ref, warp, l.AtlasVolume(name), wb.InterpNN)})
	}

	for _, s := range steps {
		if err := p.seq.Run(ctx, s.tool, s.args...); err != nil {
			return err
		}
	}

	if err := p.importLabelVolumes(ctx, l.AtlasVolume); err != nil {
		return err
	}
	return p.writeCRAS(ctx)
}

// writeCRAS reads the centre RAS offset of the FreeSurfer conformed volume
// and writes the matching translation as a 4x4 world matrix. Surfaces
// converted by mris_convert are in that offset frame and need it applied to
// line up with the T1w volume.
func (p *Pipeline) writeCRAS(ctx context.Context) error {
	out, err := p.seq.Output(ctx, p.cfg.Tools.MRIInfo, wb.MRIInfoCRAS(p.layout.FSVolume("brain.finalsurfs"))...)
	if err != nil {
		return err
	}

	var offset [3]float64
	if !p.seq.Options().DryRun {
		offset, err = ParseCRAS(out)
		if err != nil {
			return err
		}
	}

	path := p.layout.Xfm("c_ras.mat")
	if err := p.seq.WriteFile(ctx, path, []byte(CRASMatrix(offset))); err != nil {
		return err
	}
	p.cras = path
	p.log(ctx).Debug("center RAS offset", "x", offset[0], "y", offset[1], "z", offset[2])
	return nil
}

// ParseCRAS parses the three floats printed by mri_info --cras.
func ParseCRAS(out string) ([3]float64, error) {
	var v [3]float64
	fields := strings.Fields(out)
	if len(fields) != 3 {
		return v, errors.NewValidationError("mri_info --cras output must have three values").
			WithField("cras").
			WithValue(out).
			WithCause(errors.ErrInvalidInput)
	}
	for i, f := range fields {
		n, err := strconv.ParseFloat(f, 64)
		if err != nil {
			return v, errors.NewValidationError("mri_info --cras output is not numeric").
				WithField("cras").
				WithValue(out).
				WithCause(err)
		}
		v[i] = n
	}
	return v, nil
}

// CRASMatrix formats a translation by offset as a 4x4 matrix in the plain
// text form read by -surface-apply-affine.
func CRASMatrix(offset [3]float64) string {
	var b strings.Builder
	for i := 0; i < 3; i++ {
		row := []string{"0", "0", "0", strconv.FormatFloat(offset[i], 'f', -1, 64)}
		row[i] = "1"
		fmt.Fprintln(&b, strings.Join(row, " "))
	}
	fmt.Fprintln(&b, "0 0 0 1")
	return b.String()
}

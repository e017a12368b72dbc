package wb

import "strconv"

// FLIRT computes a linear registration of in to ref and writes the matrix.
func FLIRT(in, ref, omat, out string, dof int) []string {
	return []string{"-in", in, "-ref", ref, "-omat", omat, "-out", out, "-dof", strconv.Itoa(dof)}
}

// FNIRTArgs are the inputs of a nonlinear registration.
type FNIRTArgs struct {
	In       string
	Ref      string
	RefMask  string
	Affine   string
	Config   string
	Warp     string // --fout
	Jacobian string
	Out      string // --iout
}

// FNIRT computes a nonlinear registration.
func FNIRT(a FNIRTArgs) []string {
	args := []string{
		"--in=" + a.In,
		"--ref=" + a.Ref,
		"--aff=" + a.Affine,
		"--config=" + a.Config,
		"--fout=" + a.Warp,
		"--iout=" + a.Out,
	}
	if a.RefMask != "" {
		args = append(args, "--refmask="+a.RefMask)
	}
	if a.Jacobian != "" {
		args = append(args, "--jout="+a.Jacobian)
	}
	return args
}

// InvWarp inverts a warp field.
func InvWarp(warp, ref, out string) []string {
	return []string{"--warp=" + warp, "--ref=" + ref, "--out=" + out}
}

// Interpolation methods for applywarp.
const (
	InterpSpline = "spline"
	InterpNN     = "nn"
)

// ApplyWarp resamples a volume through a relative warp.
func ApplyWarp(in, ref, warp, out, interp string) []string {
	return []string{"--rel", "--interp=" + interp, "-i", in, "-r", ref, "-w", warp, "-o", out}
}

// FSLMathsBinarize binarizes a volume.
func FSLMathsBinarize(in, out string) []string {
	return []string{in, "-bin", out}
}

// FSLMathsMask masks a volume.
func FSLMathsMask(in, mask, out string) []string {
	return []string{in, "-mas", mask, out}
}

package wb

// MRISConvert converts a FreeSurfer surface to GIFTI.
func MRISConvert(in, out string) []string {
	return []string{in, out}
}

// MRISConvertMetric converts a FreeSurfer per-vertex file (curv, sulc,
// thickness) sampled on surface to a GIFTI metric.
func MRISConvertMetric(values, surface, out string) []string {
	return []string{"-c", values, surface, out}
}

// MRISConvertAnnot converts a FreeSurfer annotation to a GIFTI label.
func MRISConvertAnnot(annot, surface, out string) []string {
	return []string{"--annot", annot, surface, out}
}

// MRIConvert converts a FreeSurfer volume to NIfTI.
func MRIConvert(in, out string) []string {
	return []string{in, out}
}

// MRIConvertLike converts a volume resliced like a reference, with
// nearest-neighbour interpolation for label volumes.
func MRIConvertLike(in, like, out string) []string {
	return []string{"-rt", "nearest", "-rl", like, in, out}
}

// MRIInfoCRAS prints the center RAS offset of a volume.
func MRIInfoCRAS(volume string) []string {
	return []string{"--cras", volume}
}

package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/Iron-Ham/ciftiprep/internal/mesh"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "meshes.high_res")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidRegistrationMethods returns the recognized surface registration methods
func ValidRegistrationMethods() []RegistrationMethod {
	return []RegistrationMethod{RegistrationFS, RegistrationMSMSulc}
}

// ValidTransforms returns the recognized metric transforms
func ValidTransforms() []MetricTransform {
	return []MetricTransform{TransformNone, TransformNegate, TransformAbs}
}

// ValidPaletteModes returns the palette modes accepted by wb_command -metric-palette
func ValidPaletteModes() []string {
	return []string{"MODE_AUTO_SCALE", "MODE_AUTO_SCALE_ABSOLUTE_PERCENTAGE", "MODE_AUTO_SCALE_PERCENTAGE", "MODE_USER_SCALE"}
}

// ValidQCModes returns the recognized QC visualization modes
func ValidQCModes() []string {
	return []string{"native", "MNIfsaverage32k"}
}

// ValidVolumeDOF returns the degrees of freedom flirt accepts for 3D registration
func ValidVolumeDOF() []int {
	return []int{6, 7, 9, 12}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	// Validate Meshes config
	errors = append(errors, c.validateMeshes()...)

	// Validate Registration config
	errors = append(errors, c.validateRegistration()...)

	// Validate map configs
	errors = append(errors, c.validateDScalars()...)
	errors = append(errors, c.validateLabels()...)

	// Validate Execution config
	errors = append(errors, c.validateExecution()...)

	// Validate Tools config
	errors = append(errors, c.validateTools()...)

	// Validate QC config
	errors = append(errors, c.validateQC()...)

	// Validate Batch config
	errors = append(errors, c.validateBatch()...)

	// Validate Logging config
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validateMeshes() []ValidationError {
	var errors []ValidationError

	high, err := mesh.NormalizeResolution(c.Meshes.HighRes)
	if err != nil {
		errors = append(errors, ValidationError{
			Field:   "meshes.high_res",
			Value:   c.Meshes.HighRes,
			Message: "must be a positive vertex-count label such as 164 or 164k",
		})
	}

	seen := make(map[string]bool)
	for i, label := range c.Meshes.LowRes {
		field := fmt.Sprintf("meshes.low_res[%d]", i)
		norm, err := mesh.NormalizeResolution(label)
		if err != nil {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   label,
				Message: "must be a positive vertex-count label such as 32 or 32k",
			})
			continue
		}
		if seen[norm] {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   label,
				Message: "duplicate low resolution mesh",
			})
		}
		seen[norm] = true
		if high != "" && norm == high {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   label,
				Message: "must differ from meshes.high_res",
			})
		}
	}

	if c.Meshes.HighResInflationScale <= 0 {
		errors = append(errors, ValidationError{
			Field:   "meshes.high_res_inflation_scale",
			Value:   c.Meshes.HighResInflationScale,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateRegistration() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidRegistrationMethods(), c.Registration.Surface) {
		errors = append(errors, ValidationError{
			Field:   "registration.surface",
			Value:   c.Registration.Surface,
			Message: fmt.Sprintf("must be one of: %v", ValidRegistrationMethods()),
		})
	}

	if !slices.Contains(ValidVolumeDOF(), c.Registration.VolumeDOF) {
		errors = append(errors, ValidationError{
			Field:   "registration.volume_dof",
			Value:   c.Registration.VolumeDOF,
			Message: fmt.Sprintf("must be one of: %v", ValidVolumeDOF()),
		})
	}

	if strings.TrimSpace(c.Registration.FNIRTConfig) == "" {
		errors = append(errors, ValidationError{
			Field:   "registration.fnirt_config",
			Value:   c.Registration.FNIRTConfig,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateDScalars() []ValidationError {
	var errors []ValidationError

	seen := make(map[string]bool)
	for i, d := range c.DScalars {
		prefix := fmt.Sprintf("dscalars[%d]", i)

		if strings.TrimSpace(d.Name) == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".name",
				Value:   d.Name,
				Message: "must not be empty",
			})
		} else if strings.ContainsAny(d.Name, "/ ") {
			errors = append(errors, ValidationError{
				Field:   prefix + ".name",
				Value:   d.Name,
				Message: "must not contain path separators or spaces",
			})
		} else if seen[d.Name] {
			errors = append(errors, ValidationError{
				Field:   prefix + ".name",
				Value:   d.Name,
				Message: "duplicate map name",
			})
		}
		seen[d.Name] = true

		if !slices.Contains(ValidTransforms(), d.Transform) {
			errors = append(errors, ValidationError{
				Field:   prefix + ".transform",
				Value:   d.Transform,
				Message: fmt.Sprintf("must be one of: %v", ValidTransforms()),
			})
		}

		if d.PaletteMode != "" && !slices.Contains(ValidPaletteModes(), d.PaletteMode) {
			errors = append(errors, ValidationError{
				Field:   prefix + ".palette_mode",
				Value:   d.PaletteMode,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidPaletteModes(), ", ")),
			})
		}

		if d.Dilate && !d.MaskMedialWall {
			errors = append(errors, ValidationError{
				Field:   prefix + ".dilate",
				Value:   d.Dilate,
				Message: "requires mask_medialwall",
			})
		}
	}

	return errors
}

func (c *Config) validateLabels() []ValidationError {
	var errors []ValidationError

	seen := make(map[string]bool)
	for i, l := range c.Labels {
		prefix := fmt.Sprintf("labels[%d]", i)

		if strings.TrimSpace(l.Name) == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".name",
				Value:   l.Name,
				Message: "must not be empty",
			})
		} else if seen[l.Name] {
			errors = append(errors, ValidationError{
				Field:   prefix + ".name",
				Value:   l.Name,
				Message: "duplicate label name",
			})
		}
		seen[l.Name] = true

		if strings.TrimSpace(l.FSName) == "" {
			errors = append(errors, ValidationError{
				Field:   prefix + ".fs_name",
				Value:   l.FSName,
				Message: "must not be empty",
			})
		}
	}

	return errors
}

func (c *Config) validateExecution() []ValidationError {
	var errors []ValidationError

	if c.Execution.StepTimeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "execution.step_timeout",
			Value:   c.Execution.StepTimeout,
			Message: "must be non-negative (0 disables the limit)",
		})
	}

	return errors
}

func (c *Config) validateTools() []ValidationError {
	var errors []ValidationError

	tools := []struct {
		field string
		value string
	}{
		{"tools.wb_command", c.Tools.WBCommand},
		{"tools.mris_convert", c.Tools.MRISConvert},
		{"tools.mri_convert", c.Tools.MRIConvert},
		{"tools.mri_info", c.Tools.MRIInfo},
		{"tools.flirt", c.Tools.FLIRT},
		{"tools.fnirt", c.Tools.FNIRT},
		{"tools.invwarp", c.Tools.InvWarp},
		{"tools.applywarp", c.Tools.ApplyWarp},
		{"tools.fslmaths", c.Tools.FSLMaths},
	}
	for _, tool := range tools {
		if strings.TrimSpace(tool.value) == "" {
			errors = append(errors, ValidationError{
				Field:   tool.field,
				Value:   tool.value,
				Message: "must not be empty",
			})
		}
	}

	return errors
}

func (c *Config) validateQC() []ValidationError {
	var errors []ValidationError

	for i, mode := range c.QC.Modes {
		if !slices.Contains(ValidQCModes(), mode) {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("qc.modes[%d]", i),
				Value:   mode,
				Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidQCModes(), ", ")),
			})
		}
	}

	for i, scene := range c.QC.Scenes {
		if scene < 1 {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("qc.scenes[%d]", i),
				Value:   scene,
				Message: "scene indexes start at 1",
			})
		}
	}

	if c.QC.Width <= 0 {
		errors = append(errors, ValidationError{
			Field:   "qc.width",
			Value:   c.QC.Width,
			Message: "must be positive",
		})
	}
	if c.QC.Height <= 0 {
		errors = append(errors, ValidationError{
			Field:   "qc.height",
			Value:   c.QC.Height,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateBatch() []ValidationError {
	var errors []ValidationError

	if c.Batch.MaxParallel < 1 {
		errors = append(errors, ValidationError{
			Field:   "batch.max_parallel",
			Value:   c.Batch.MaxParallel,
			Message: "must be at least 1",
		})
	}

	if strings.TrimSpace(c.Batch.Match) == "" {
		errors = append(errors, ValidationError{
			Field:   "batch.match",
			Value:   c.Batch.Match,
			Message: "must not be empty (use * to match every subject)",
		})
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if !slices.Contains(ValidLogLevels(), strings.ToLower(c.Logging.Level)) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}

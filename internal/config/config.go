package config

import (
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Config represents the complete ciftiprep configuration
type Config struct {
	Paths        PathsConfig        `mapstructure:"paths" yaml:"paths"`
	Meshes       MeshesConfig       `mapstructure:"meshes" yaml:"meshes"`
	Registration RegistrationConfig `mapstructure:"registration" yaml:"registration"`
	DScalars     []DScalarConfig    `mapstructure:"dscalars" yaml:"dscalars"`
	Labels       []LabelConfig      `mapstructure:"labels" yaml:"labels"`
	Execution    ExecutionConfig    `mapstructure:"execution" yaml:"execution"`
	Tools        ToolsConfig        `mapstructure:"tools" yaml:"tools"`
	QC           QCConfig           `mapstructure:"qc" yaml:"qc"`
	Batch        BatchConfig        `mapstructure:"batch" yaml:"batch"`
	Logging      LoggingConfig      `mapstructure:"logging" yaml:"logging"`
}

// PathsConfig controls where inputs are read from and outputs are written to
type PathsConfig struct {
	// HCPDataDir is the root of the converted HCP-style dataset (env HCP_DATA)
	HCPDataDir string `mapstructure:"hcp_data_dir" yaml:"hcp_data_dir"`
	// FSSubjectsDir is the FreeSurfer SUBJECTS_DIR holding recon-all outputs (env SUBJECTS_DIR)
	FSSubjectsDir string `mapstructure:"fs_subjects_dir" yaml:"fs_subjects_dir"`
	// TemplateDir holds the standard mesh atlases (fs_LR spheres, atlasroi, flat maps)
	TemplateDir string `mapstructure:"template_dir" yaml:"template_dir"`
	// FSLStandardDir holds the MNI152 reference volumes (default $FSLDIR/data/standard)
	FSLStandardDir string `mapstructure:"fsl_standard_dir" yaml:"fsl_standard_dir"`
	// FreeSurferLUT is the color table used to import volume labels
	FreeSurferLUT string `mapstructure:"freesurfer_lut" yaml:"freesurfer_lut"`
	// QCDir is where QC scenes and snapshots are written (default <hcp_data_dir>/qc_recon_all)
	QCDir string `mapstructure:"qc_dir" yaml:"qc_dir"`
	// ScratchDir is the parent for private scratch directories (default: system temp dir)
	ScratchDir string `mapstructure:"scratch_dir" yaml:"scratch_dir"`
}

// MeshesConfig selects the target mesh resolutions
type MeshesConfig struct {
	// HighRes is the vertex-count label of the high resolution atlas mesh (default: "164")
	HighRes string `mapstructure:"high_res" yaml:"high_res"`
	// LowRes lists the vertex-count labels of low resolution meshes (default: ["32"])
	LowRes []string `mapstructure:"low_res" yaml:"low_res"`
	// HighResInflationScale is the -iterations-scale used for inflating high-res surfaces (default: 2.5)
	HighResInflationScale float64 `mapstructure:"high_res_inflation_scale" yaml:"high_res_inflation_scale"`
}

// RegistrationMethod names a surface registration method.
type RegistrationMethod string

// Recognized surface registration methods
const (
	// RegistrationFS uses the FreeSurfer sphere.reg projected onto fs_LR.
	RegistrationFS RegistrationMethod = "FS"
	// RegistrationMSMSulc is recognized but not implemented.
	RegistrationMSMSulc RegistrationMethod = "MSMSulc"
)

// UnmarshalText normalizes the case of recognized method names. Unknown names
// are kept verbatim so Validate can report them.
func (m *RegistrationMethod) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))
	switch strings.ToLower(s) {
	case "fs":
		*m = RegistrationFS
	case "msmsulc":
		*m = RegistrationMSMSulc
	default:
		*m = RegistrationMethod(s)
	}
	return nil
}

// RegistrationConfig controls surface and volume registration
type RegistrationConfig struct {
	// Surface is the surface registration method: "FS" or "MSMSulc" (default: "FS")
	Surface RegistrationMethod `mapstructure:"surface" yaml:"surface"`
	// VolumeDOF is the degrees of freedom of the linear registration to MNI space (default: 12)
	VolumeDOF int `mapstructure:"volume_dof" yaml:"volume_dof"`
	// FNIRTConfig is the fnirt --config value (default: "T1_2_MNI152_2mm")
	FNIRTConfig string `mapstructure:"fnirt_config" yaml:"fnirt_config"`
}

// MetricTransform is an in-place transform applied to an imported metric.
type MetricTransform string

// Recognized metric transforms
const (
	TransformNone   MetricTransform = "none"
	TransformNegate MetricTransform = "negate"
	TransformAbs    MetricTransform = "abs"
)

// DScalarConfig describes one scalar surface map and its dense scalar output
type DScalarConfig struct {
	// Name is the logical map name used in file names (e.g. "sulc", "thickness")
	Name string `mapstructure:"name" yaml:"name"`
	// FSName is the FreeSurfer surf/ file suffix to import from; empty for derived maps
	FSName string `mapstructure:"fs_name" yaml:"fs_name,omitempty"`
	// MapPostfix is appended to "<subject>_<H>" to form the map name
	MapPostfix string `mapstructure:"map_postfix" yaml:"map_postfix"`
	// Transform is applied after import: "none", "negate" or "abs"
	Transform MetricTransform `mapstructure:"transform" yaml:"transform"`
	// PaletteMode is the wb_command palette mode (e.g. MODE_AUTO_SCALE_PERCENTAGE)
	PaletteMode string `mapstructure:"palette_mode" yaml:"palette_mode"`
	// PaletteOptions are extra palette flags, whitespace separated
	PaletteOptions string `mapstructure:"palette_options" yaml:"palette_options"`
	// MaskMedialWall masks the map with the medial wall ROI
	MaskMedialWall bool `mapstructure:"mask_medialwall" yaml:"mask_medialwall"`
	// Dilate dilates the map into ROI gaps before masking (only when MaskMedialWall)
	Dilate bool `mapstructure:"dilate" yaml:"dilate"`
}

// PaletteArgs splits PaletteOptions into command arguments.
func (d DScalarConfig) PaletteArgs() []string {
	return strings.Fields(d.PaletteOptions)
}

// LabelConfig describes one FreeSurfer annotation to import
type LabelConfig struct {
	// Name is the logical label name used in output file names
	Name string `mapstructure:"name" yaml:"name"`
	// FSName is the annotation basename under <subject>/label (e.g. "aparc.a2009s")
	FSName string `mapstructure:"fs_name" yaml:"fs_name"`
}

// ExecutionConfig controls how external invocations run
type ExecutionConfig struct {
	// DryRun logs every invocation without running it (default: false)
	DryRun bool `mapstructure:"dry_run" yaml:"dry_run"`
	// ContinueOnError keeps going after a failed invocation instead of stopping (default: false)
	ContinueOnError bool `mapstructure:"continue_on_error" yaml:"continue_on_error"`
	// StepTimeout bounds every single invocation; 0 disables the limit (default: 0)
	StepTimeout time.Duration `mapstructure:"step_timeout" yaml:"step_timeout"`
}

// ToolsConfig names the external binaries
type ToolsConfig struct {
	WBCommand   string `mapstructure:"wb_command" yaml:"wb_command"`
	MRISConvert string `mapstructure:"mris_convert" yaml:"mris_convert"`
	MRIConvert  string `mapstructure:"mri_convert" yaml:"mri_convert"`
	MRIInfo     string `mapstructure:"mri_info" yaml:"mri_info"`
	FLIRT       string `mapstructure:"flirt" yaml:"flirt"`
	FNIRT       string `mapstructure:"fnirt" yaml:"fnirt"`
	InvWarp     string `mapstructure:"invwarp" yaml:"invwarp"`
	ApplyWarp   string `mapstructure:"applywarp" yaml:"applywarp"`
	FSLMaths    string `mapstructure:"fslmaths" yaml:"fslmaths"`
}

// QCConfig controls QC scene generation
type QCConfig struct {
	// Modes lists the visualization modes to generate (default: ["native", "MNIfsaverage32k"])
	Modes []string `mapstructure:"modes" yaml:"modes"`
	// TemplateDir overrides the embedded scene templates when set
	TemplateDir string `mapstructure:"template_dir" yaml:"template_dir"`
	// Scenes are the scene indexes rendered to PNG (default: [1, 2, 3])
	Scenes []int `mapstructure:"scenes" yaml:"scenes"`
	// Width and Height are the snapshot size in pixels
	Width  int `mapstructure:"width" yaml:"width"`
	Height int `mapstructure:"height" yaml:"height"`
	// Render controls whether snapshots are rendered after writing scenes (default: true)
	Render bool `mapstructure:"render" yaml:"render"`
}

// BatchConfig controls multi-subject runs
type BatchConfig struct {
	// MaxParallel is the number of subjects processed at once (default: 1)
	MaxParallel int `mapstructure:"max_parallel" yaml:"max_parallel"`
	// Match is a glob selecting subject directory names (default: "*")
	Match string `mapstructure:"match" yaml:"match"`
}

// LoggingConfig controls logging behavior
type LoggingConfig struct {
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level" yaml:"level"`
	// Dir overrides the log directory; empty logs into the subject's output directory
	Dir string `mapstructure:"dir" yaml:"dir"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Paths: PathsConfig{},
		Meshes: MeshesConfig{
			HighRes:               "164",
			LowRes:                []string{"32"},
			HighResInflationScale: 2.5,
		},
		Registration: RegistrationConfig{
			Surface:     RegistrationFS,
			VolumeDOF:   12,
			FNIRTConfig: "T1_2_MNI152_2mm",
		},
		DScalars: DefaultDScalars(),
		Labels:   DefaultLabels(),
		Execution: ExecutionConfig{
			DryRun:          false,
			ContinueOnError: false,
			StepTimeout:     0, // No limit by default
		},
		Tools: ToolsConfig{
			WBCommand:   "wb_command",
			MRISConvert: "mris_convert",
			MRIConvert:  "mri_convert",
			MRIInfo:     "mri_info",
			FLIRT:       "flirt",
			FNIRT:       "fnirt",
			InvWarp:     "invwarp",
			ApplyWarp:   "applywarp",
			FSLMaths:    "fslmaths",
		},
		QC: QCConfig{
			Modes:  []string{"native", "MNIfsaverage32k"},
			Scenes: []int{1, 2, 3},
			Width:  900,
			Height: 800,
			Render: true,
		},
		Batch: BatchConfig{
			MaxParallel: 1,
			Match:       "*",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// DefaultDScalars returns the scalar maps produced for every subject.
func DefaultDScalars() []DScalarConfig {
	grayPalette := "-pos-percent 2 98 -palette-name Gray_Interp -disp-pos true -disp-neg true -disp-zero true"
	return []DScalarConfig{
		{
			Name:           "sulc",
			FSName:         "sulc",
			MapPostfix:     "_Sulc",
			Transform:      TransformNegate,
			PaletteMode:    "MODE_AUTO_SCALE_PERCENTAGE",
			PaletteOptions: grayPalette,
		},
		{
			Name:           "curvature",
			FSName:         "curv",
			MapPostfix:     "_Curvature",
			Transform:      TransformNegate,
			PaletteMode:    "MODE_AUTO_SCALE_PERCENTAGE",
			PaletteOptions: grayPalette,
			MaskMedialWall: true,
			Dilate:         true,
		},
		{
			Name:           "thickness",
			FSName:         "thickness",
			MapPostfix:     "_Thickness",
			Transform:      TransformAbs,
			PaletteMode:    "MODE_AUTO_SCALE_PERCENTAGE",
			PaletteOptions: "-pos-percent 4 96 -interpolate true -palette-name videen_style -disp-pos true -disp-neg false -disp-zero false",
			MaskMedialWall: true,
			Dilate:         true,
		},
		{
			Name:           "ArealDistortion_FS",
			MapPostfix:     "_ArealDistortion_FS",
			Transform:      TransformNone,
			PaletteMode:    "MODE_USER_SCALE",
			PaletteOptions: "-pos-user 0 1 -neg-user 0 -1 -interpolate true -palette-name ROY-BIG-BL -disp-pos true -disp-neg true -disp-zero false",
		},
	}
}

// DefaultLabels returns the FreeSurfer annotations imported for every subject.
func DefaultLabels() []LabelConfig {
	return []LabelConfig{
		{Name: "aparc", FSName: "aparc"},
		{Name: "aparc.a2009s", FSName: "aparc.a2009s"},
		{Name: "aparc.DKTatlas", FSName: "aparc.DKTatlas"},
		{Name: "BA_exvivo", FSName: "BA_exvivo"},
	}
}

// DScalar returns the scalar map config with the given name.
func (c *Config) DScalar(name string) (DScalarConfig, bool) {
	for _, d := range c.DScalars {
		if d.Name == name {
			return d, true
		}
	}
	return DScalarConfig{}, false
}

// ResolveQCDir returns the QC output directory, defaulting to
// <hcp_data_dir>/qc_recon_all.
func (p *PathsConfig) ResolveQCDir() string {
	if p.QCDir != "" {
		return expandHome(p.QCDir)
	}
	return filepath.Join(p.HCPDataDir, "qc_recon_all")
}

// expandHome expands a leading ~ to the user's home directory.
func expandHome(path string) string {
	if strings.HasPrefix(path, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	} else if path == "~" {
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	}
	return path
}

// envBindings maps config keys to the conventional neuroimaging environment
// variables that may supply them, in priority order after the CIFTIPREP_ form.
var envBindings = map[string][]string{
	"paths.hcp_data_dir":    {"CIFTIPREP_PATHS_HCP_DATA_DIR", "HCP_DATA"},
	"paths.fs_subjects_dir": {"CIFTIPREP_PATHS_FS_SUBJECTS_DIR", "SUBJECTS_DIR"},
	"paths.template_dir":    {"CIFTIPREP_PATHS_TEMPLATE_DIR", "CIFTIPREP_TEMPLATES"},
}

// SetDefaults registers default values and environment bindings with viper
func SetDefaults() {
	defaults := Default()

	// Paths defaults
	viper.SetDefault("paths.hcp_data_dir", defaults.Paths.HCPDataDir)
	viper.SetDefault("paths.fs_subjects_dir", defaults.Paths.FSSubjectsDir)
	viper.SetDefault("paths.template_dir", defaults.Paths.TemplateDir)
	viper.SetDefault("paths.fsl_standard_dir", defaultFSLStandardDir())
	viper.SetDefault("paths.freesurfer_lut", defaultFreeSurferLUT())
	viper.SetDefault("paths.qc_dir", defaults.Paths.QCDir)
	viper.SetDefault("paths.scratch_dir", defaults.Paths.ScratchDir)

	// Mesh defaults
	viper.SetDefault("meshes.high_res", defaults.Meshes.HighRes)
	viper.SetDefault("meshes.low_res", defaults.Meshes.LowRes)
	viper.SetDefault("meshes.high_res_inflation_scale", defaults.Meshes.HighResInflationScale)

	// Registration defaults
	viper.SetDefault("registration.surface", string(defaults.Registration.Surface))
	viper.SetDefault("registration.volume_dof", defaults.Registration.VolumeDOF)
	viper.SetDefault("registration.fnirt_config", defaults.Registration.FNIRTConfig)

	// Map defaults
	viper.SetDefault("dscalars", defaults.DScalars)
	viper.SetDefault("labels", defaults.Labels)

	// Execution defaults
	viper.SetDefault("execution.dry_run", defaults.Execution.DryRun)
	viper.SetDefault("execution.continue_on_error", defaults.Execution.ContinueOnError)
	viper.SetDefault("execution.step_timeout", defaults.Execution.StepTimeout)

	// Tool defaults
	viper.SetDefault("tools.wb_command", defaults.Tools.WBCommand)
	viper.SetDefault("tools.mris_convert", defaults.Tools.MRISConvert)
	viper.SetDefault("tools.mri_convert", defaults.Tools.MRIConvert)
	viper.SetDefault("tools.mri_info", defaults.Tools.MRIInfo)
	viper.SetDefault("tools.flirt", defaults.Tools.FLIRT)
	viper.SetDefault("tools.fnirt", defaults.Tools.FNIRT)
	viper.SetDefault("tools.invwarp", defaults.Tools.InvWarp)
	viper.SetDefault("tools.applywarp", defaults.Tools.ApplyWarp)
	viper.SetDefault("tools.fslmaths", defaults.Tools.FSLMaths)

	// QC defaults
	viper.SetDefault("qc.modes", defaults.QC.Modes)
	viper.SetDefault("qc.template_dir", defaults.QC.TemplateDir)
	viper.SetDefault("qc.scenes", defaults.QC.Scenes)
	viper.SetDefault("qc.width", defaults.QC.Width)
	viper.SetDefault("qc.height", defaults.QC.Height)
	viper.SetDefault("qc.render", defaults.QC.Render)

	// Batch defaults
	viper.SetDefault("batch.max_parallel", defaults.Batch.MaxParallel)
	viper.SetDefault("batch.match", defaults.Batch.Match)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.dir", defaults.Logging.Dir)

	for key, envs := range envBindings {
		_ = viper.BindEnv(append([]string{key}, envs...)...)
	}
}

func defaultFSLStandardDir() string {
	if fslDir := os.Getenv("FSLDIR"); fslDir != "" {
		return filepath.Join(fslDir, "data", "standard")
	}
	return ""
}

func defaultFreeSurferLUT() string {
	if fsHome := os.Getenv("FREESURFER_HOME"); fsHome != "" {
		return filepath.Join(fsHome, "FreeSurferColorLUT.txt")
	}
	return ""
}

// DecodeHook returns the mapstructure hooks used to decode viper settings:
// durations from strings, comma separated lists, and text-unmarshalled enums.
func DecodeHook() mapstructure.DecodeHookFunc {
	return mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
		transformHook,
	)
}

// transformHook lower-cases metric transform names so "Negate" and "ABS" work.
func transformHook(from, to reflect.Type, data any) (any, error) {
	if from.Kind() != reflect.String || to != reflect.TypeOf(MetricTransform("")) {
		return data, nil
	}
	s := strings.ToLower(strings.TrimSpace(reflect.ValueOf(data).String()))
	if s == "" {
		return string(TransformNone), nil
	}
	return s, nil
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg, viper.DecodeHook(DecodeHook())); err != nil {
		return nil, err
	}

	cfg.Paths.HCPDataDir = expandHome(cfg.Paths.HCPDataDir)
	cfg.Paths.FSSubjectsDir = expandHome(cfg.Paths.FSSubjectsDir)
	cfg.Paths.TemplateDir = expandHome(cfg.Paths.TemplateDir)

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "ciftiprep")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ciftiprep"
	}
	return filepath.Join(home, ".config", "ciftiprep")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}

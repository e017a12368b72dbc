package cmd

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/Iron-Ham/ciftiprep/internal/config"
	"github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/logging"
	"github.com/Iron-Ham/ciftiprep/internal/mesh"
	"github.com/Iron-Ham/ciftiprep/internal/pipeline"
	"github.com/Iron-Ham/ciftiprep/internal/report"
	"github.com/Iron-Ham/ciftiprep/internal/runner"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Replaced in tests so commands run against a recording executor and an
// in-memory filesystem.
var (
	newExecutor = func() runner.Executor { return runner.NewCLIExecutor() }
	newFs       = afero.NewOsFs
)

// flagBindings ties config keys to the flags that override them.
var flagBindings = []struct {
	key  string
	flag string
}{
	{"config", "config"},
	{"paths.hcp_data_dir", "hcp-data-dir"},
	{"paths.fs_subjects_dir", "fs-subjects-dir"},
	{"paths.template_dir", "template-dir"},
	{"execution.dry_run", "dry-run"},
	{"execution.continue_on_error", "continue-on-error"},
	{"execution.step_timeout", "step-timeout"},
	{"meshes.low_res", "resample-to-lowres"},
	{"registration.surface", "reg-name"},
	{"qc.modes", "mode"},
	{"qc.render", "render"},
	{"batch.match", "match"},
	{"batch.max_parallel", "max-parallel"},
}

// NewRootCmd builds the ciftiprep command tree.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "ciftiprep [flags] <Subject>",
		Short: "Convert FreeSurfer recon-all output to HCP-style CIFTI files",
		Long: `ciftiprep converts one FreeSurfer recon-all subject into an HCP-style
directory tree: GIFTI surfaces on the native, high resolution and low
resolution meshes, CIFTI dense scalar and label maps, registered volumes
and Connectome Workbench spec files.

Paths may come from flags, CIFTIPREP_* environment variables, HCP_DATA and
SUBJECTS_DIR, or a config file, in that order of precedence.`,
		Args:              cobra.ExactArgs(1),
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: initConfig,
		RunE:              runConvert,
	}

	flags := root.PersistentFlags()
	flags.StringP("config", "c", "", "config file (default is $HOME/.config/ciftiprep/config.yaml)")
	flags.String("hcp-data-dir", "", "root of the HCP-style output tree (env HCP_DATA)")
	flags.String("fs-subjects-dir", "", "FreeSurfer SUBJECTS_DIR holding recon-all output (env SUBJECTS_DIR)")
	flags.String("template-dir", "", "directory of standard mesh templates")
	flags.Bool("dry-run", false, "log every command without running it")
	flags.Bool("continue-on-error", false, "keep going after a failed command")
	flags.Duration("step-timeout", 0, "time limit for each external command (0 disables)")
	flags.BoolP("verbose", "v", false, "mirror log output to stderr")
	flags.Bool("debug", false, "log at debug level")
	flags.StringSlice("resample-to-lowres", nil, "low resolution meshes to produce, e.g. 32,59")
	flags.String("reg-name", "", "surface registration method: FS or MSMSulc")

	root.AddCommand(newQCCmd())
	root.AddCommand(newBatchCmd())
	root.AddCommand(newMeshesCmd())
	root.AddCommand(newLogsCmd())
	root.AddCommand(newConfigCmd())
	return root
}

// Execute runs the root command. Canceling ctx stops the running command
// between steps.
func Execute(ctx context.Context) error {
	return NewRootCmd().ExecuteContext(ctx)
}

func initConfig(cmd *cobra.Command, _ []string) error {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	for _, b := range flagBindings {
		if f := cmd.Flags().Lookup(b.flag); f != nil {
			_ = viper.BindPFlag(b.key, f)
		}
	}

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath(".")
	}

	viper.SetEnvPrefix("CIFTIPREP")
	// e.g. CIFTIPREP_EXECUTION_STEP_TIMEOUT for execution.step_timeout
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return errors.NewConfigError("failed to read config file", err).
				WithSetting("config").
				WithValue(viper.GetString("config"))
		}
	}
	return nil
}

// loadConfig decodes and validates the effective configuration.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, errors.NewConfigError("invalid configuration", err)
	}
	if debug, _ := cmd.Flags().GetBool("debug"); debug {
		cfg.Logging.Level = "debug"
	}
	return cfg, nil
}

// newLogger opens the log of one subject. Logs go to logging.dir when set,
// otherwise into the subject's output directory. A dry run without
// logging.dir logs to stderr so nothing is created on disk.
func newLogger(cmd *cobra.Command, cfg *config.Config, subject string) (*logging.Logger, error) {
	var mirror io.Writer
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		mirror = cmd.ErrOrStderr()
	}

	dir := cfg.Logging.Dir
	if dir == "" {
		if cfg.Execution.DryRun || cfg.Paths.HCPDataDir == "" {
			return logging.NewWriterLogger(cmd.ErrOrStderr(), cfg.Logging.Level), nil
		}
		dir = filepath.Join(cfg.Paths.HCPDataDir, subject)
	}
	return logging.NewLogger(dir, cfg.Logging.Level, mirror)
}

func newSequencer(cfg *config.Config, logger *logging.Logger) *runner.Sequencer {
	return runner.New(newExecutor(), newFs(), logger, runner.Options{
		DryRun:          cfg.Execution.DryRun,
		StepTimeout:     cfg.Execution.StepTimeout,
		ContinueOnError: cfg.Execution.ContinueOnError,
		ScratchDir:      cfg.Paths.ScratchDir,
	})
}

// resolveLayout resolves a subject layout from the configuration alone.
func resolveLayout(cfg *config.Config, subject string) (*mesh.Layout, error) {
	return mesh.Resolve(mesh.Params{
		Subject:       subject,
		WorkDir:       cfg.Paths.HCPDataDir,
		FSSubjectsDir: cfg.Paths.FSSubjectsDir,
		HighRes:       cfg.Meshes.HighRes,
		LowRes:        cfg.Meshes.LowRes,
		RegName:       string(cfg.Registration.Surface),
	})
}

// convertSubject runs the full pipeline for one subject.
func convertSubject(ctx context.Context, cfg *config.Config, subject string, logger *logging.Logger) (*pipeline.Result, error) {
	p, err := pipeline.New(pipeline.Config{
		Settings:  cfg,
		Sequencer: newSequencer(cfg, logger),
		Subject:   subject,
	}, pipeline.WithLogger(logger))
	if err != nil {
		return nil, err
	}
	return p.Run(ctx)
}

func runConvert(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd, cfg, args[0])
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	res, err := convertSubject(cmd.Context(), cfg, args[0], logger)
	if res != nil && res.Report != nil {
		if werr := report.WriteSummary(cmd.OutOrStdout(), res.Report, styled(cmd)); werr != nil {
			logger.Warn("failed to print summary", "error", werr.Error())
		}
	}
	return err
}

// styled reports whether command output goes to a terminal.
func styled(cmd *cobra.Command) bool {
	f, ok := cmd.OutOrStdout().(*os.File)
	return ok && report.IsTerminal(f)
}

package cmd

import (
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/logging"
	"github.com/spf13/cobra"
)

func newLogsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs <Subject>",
		Short: "View the run log of a subject",
		Long: `View and filter the structured run log of a subject.

The log is read from logging.dir when set, otherwise from the subject's
output directory.

Examples:
  # Last 50 entries
  ciftiprep logs subject_1

  # Failures of the right hemisphere on the 32k mesh
  ciftiprep logs subject_1 --level error --hemisphere R --mesh 32k_fs_LR

  # Everything from the last hour as CSV
  ciftiprep logs subject_1 -n 0 --since 1h --format csv`,
		Args: cobra.ExactArgs(1),
		RunE: runLogs,
	}

	flags := cmd.Flags()
	flags.IntP("tail", "n", 50, "number of entries to show (0 for all)")
	flags.String("level", "", "minimum level: debug, info, warn, error")
	flags.Duration("since", 0, "only entries newer than this duration")
	flags.String("run", "", "only entries of this run id")
	flags.String("phase", "", "only entries of this phase")
	flags.String("hemisphere", "", "only entries of this hemisphere (L or R)")
	flags.String("mesh", "", "only entries of this mesh, e.g. native or 32k_fs_LR")
	flags.String("grep", "", "only entries whose message contains this text")
	flags.String("format", logging.FormatText, "output format: text, json, csv")
	return cmd
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	subject := args[0]

	dir := cfg.Logging.Dir
	if dir == "" {
		if cfg.Paths.HCPDataDir == "" {
			return errors.NewConfigError("cannot locate the run log", errors.ErrMissingInput).
				WithSetting("paths.hcp_data_dir")
		}
		dir = filepath.Join(cfg.Paths.HCPDataDir, subject)
	}

	flags := cmd.Flags()
	filter := logging.Filter{Subject: subject}
	filter.Level, _ = flags.GetString("level")
	filter.RunID, _ = flags.GetString("run")
	filter.Phase, _ = flags.GetString("phase")
	filter.Hemisphere, _ = flags.GetString("hemisphere")
	filter.Mesh, _ = flags.GetString("mesh")
	filter.Contains, _ = flags.GetString("grep")
	if since, _ := flags.GetDuration("since"); since > 0 {
		filter.Since = time.Now().Add(-since)
	}
	if filter.Level != "" && !validLevel(filter.Level) {
		return fmt.Errorf("invalid level %q (valid: %v)", filter.Level, logging.ValidLevels())
	}

	entries, err := logging.ReadEntries(newFs(), dir)
	if err != nil {
		return err
	}
	entries = logging.FilterEntries(entries, filter)
	if tail, _ := flags.GetInt("tail"); tail > 0 && len(entries) > tail {
		entries = entries[len(entries)-tail:]
	}

	format, _ := flags.GetString("format")
	return logging.WriteEntries(cmd.OutOrStdout(), entries, format)
}

func validLevel(level string) bool {
	return slices.Contains(logging.ValidLevels(), strings.ToUpper(level))
}

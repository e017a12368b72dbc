package cmd

import (
	"context"

	"github.com/Iron-Ham/ciftiprep/internal/batch"
	"github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/logging"
	"github.com/Iron-Ham/ciftiprep/internal/report"
	"github.com/spf13/cobra"
)

func newBatchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [Subject...]",
		Short: "Convert many subjects of the FreeSurfer subjects directory",
		Long: `Convert every recon-all subject of the FreeSurfer subjects directory whose
name matches --match, or the subjects named as arguments.

Subjects run independently with at most --max-parallel at once. A failed
subject does not stop the others; the command fails if any subject failed.`,
		RunE: runBatch,
	}
	cmd.Flags().String("match", "*", "glob selecting subject directory names")
	cmd.Flags().Int("max-parallel", 1, "number of subjects converted at once")
	return cmd
}

func runBatch(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	subjects := args
	if len(subjects) == 0 {
		if cfg.Paths.FSSubjectsDir == "" {
			return errors.NewConfigError("batch needs the FreeSurfer subjects directory", errors.ErrMissingInput).
				WithSetting("paths.fs_subjects_dir")
		}
		subjects, err = batch.Discover(newFs(), cfg.Paths.FSSubjectsDir, cfg.Batch.Match)
		if err != nil {
			return err
		}
	}
	if len(subjects) == 0 {
		return errors.NewConfigError("no subjects matched", errors.ErrMissingInput).
			WithSetting("batch.match").
			WithValue(cfg.Batch.Match)
	}

	progress := logging.NopLogger()
	if verbose, _ := cmd.Flags().GetBool("verbose"); verbose {
		progress = logging.NewWriterLogger(cmd.ErrOrStderr(), cfg.Logging.Level)
	}
	progress.Info("batch started", "subjects", len(subjects), "max_parallel", cfg.Batch.MaxParallel)

	outcomes := batch.Run(cmd.Context(), subjects, cfg.Batch.MaxParallel, func(ctx context.Context, subject string) error {
		logger, err := newLogger(cmd, cfg, subject)
		if err != nil {
			return err
		}
		defer func() { _ = logger.Close() }()

		_, err = convertSubject(ctx, cfg, subject, logger)
		return err
	}, progress)

	if err := report.WriteBatchSummary(cmd.OutOrStdout(), outcomes, styled(cmd)); err != nil {
		progress.Warn("failed to print summary", "error", err.Error())
	}
	return batch.Err(outcomes)
}

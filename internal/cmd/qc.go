package cmd

import (
	"fmt"

	"github.com/Iron-Ham/ciftiprep/internal/qc"
	"github.com/spf13/cobra"
)

func newQCCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "qc <Subject>",
		Short: "Write and render QC scenes for a converted subject",
		Long: `Write Connectome Workbench scene files for visual quality control of a
converted subject and render each configured scene to a PNG snapshot.

Scenes are written to <qc_dir>/<Subject>/<Subject>_<mode>.scene, where
qc_dir defaults to <hcp_data_dir>/qc_recon_all.`,
		Args: cobra.ExactArgs(1),
		RunE: runQC,
	}
	cmd.Flags().StringSlice("mode", nil, "visualization modes: native, MNIfsaverage32k (default all)")
	cmd.Flags().Bool("render", true, "render snapshots with wb_command -show-scene")
	return cmd
}

func runQC(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	layout, err := resolveLayout(cfg, args[0])
	if err != nil {
		return err
	}

	logger, err := newLogger(cmd, cfg, layout.Subject)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Close() }()

	log := logger.WithSubject(layout.Subject)
	seq := newSequencer(cfg, log)
	scenes, genErr := qc.NewGenerator(seq, cfg, log).GenerateAll(cmd.Context(), layout)
	for _, scene := range scenes {
		fmt.Fprintln(cmd.OutOrStdout(), scene)
	}
	if genErr != nil {
		return genErr
	}
	return seq.Err()
}

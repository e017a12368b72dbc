package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

type layoutView struct {
	Subject      string     `yaml:"subject"`
	SubjectDir   string     `yaml:"subject_dir"`
	FSSubjectDir string     `yaml:"fs_subject_dir"`
	Registration string     `yaml:"registration"`
	Meshes       []meshView `yaml:"meshes"`
}

type meshView struct {
	Key         string `yaml:"key"`
	Name        string `yaml:"name"`
	Space       string `yaml:"space"`
	Folder      string `yaml:"folder"`
	DenseFolder string `yaml:"dense_folder"`
	Spec        string `yaml:"spec"`
}

func newMeshesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "meshes <Subject>",
		Short: "Print the resolved output layout of a subject",
		Long: `Print the meshes a conversion of the subject would produce and the folders
and spec files each is written to. Nothing is read or written.`,
		Args: cobra.ExactArgs(1),
		RunE: runMeshes,
	}
}

func runMeshes(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	layout, err := resolveLayout(cfg, args[0])
	if err != nil {
		return err
	}

	view := layoutView{
		Subject:      layout.Subject,
		SubjectDir:   layout.SubjectDir,
		FSSubjectDir: layout.FSSubjectDir,
		Registration: layout.RegName,
	}
	for _, m := range layout.Meshes() {
		view.Meshes = append(view.Meshes, meshView{
			Key:         m.Key,
			Name:        m.Name,
			Space:       m.Space.String(),
			Folder:      m.Folder,
			DenseFolder: m.DenseFolder,
			Spec:        m.Spec(),
		})
	}

	data, err := yaml.Marshal(view)
	if err != nil {
		return fmt.Errorf("failed to encode layout: %w", err)
	}
	_, err = cmd.OutOrStdout().Write(data)
	return err
}

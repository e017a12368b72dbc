// Package qc writes per-subject Connectome Workbench scene files for visual
// quality control and renders them to images.
//
// Scene templates are plain text containing placeholder tokens. [Personalize]
// substitutes every token in a single pass and refuses to return text that
// still contains one, so a scene never points at a literal placeholder path.
//
// Default templates for each [Mode] are embedded in the binary; a directory
// named by qc.template_dir overrides them file by file.
package qc

import (
	"context"
	"embed"
	"fmt"
	"path/filepath"
	"slices"
	"strings"

	"github.com/Iron-Ham/ciftiprep/internal/config"
	"github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/logging"
	"github.com/Iron-Ham/ciftiprep/internal/mesh"
	"github.com/Iron-Ham/ciftiprep/internal/runner"
	"github.com/Iron-Ham/ciftiprep/internal/wb"
	"github.com/spf13/afero"
)

//go:embed templates/*.scene
var templates embed.FS

// Token is a placeholder recognized in scene templates.
type Token string

// Recognized tokens.
const (
	TokenHCPDataPath    Token = "HCP_DATA_PATH"
	TokenHCPDataRelPath Token = "HCP_DATA_RELPATH"
	TokenSubject        Token = "SUBJID"
	TokenSurfsMeshName  Token = "SURFS_MESHNAME"
	TokenSurfsFolder    Token = "SURFS_FOLDER"
	TokenDenseFolder    Token = "DENSE_FOLDER"
	TokenT1wVolume      Token = "T1W_VOLUME"
)

// Tokens returns every recognized token.
func Tokens() []Token {
	return []Token{
		TokenHCPDataPath,
		TokenHCPDataRelPath,
		TokenSubject,
		TokenSurfsMeshName,
		TokenSurfsFolder,
		TokenDenseFolder,
		TokenT1wVolume,
	}
}

// Mode is a QC visualization mode.
type Mode string

// Supported modes.
const (
	ModeNative Mode = "native"
	ModeMNI32k Mode = "MNIfsaverage32k"
)

// mni32kResolution is the low resolution mesh shown by ModeMNI32k.
const mni32kResolution = "32"

// Modes returns every supported mode.
func Modes() []Mode {
	return []Mode{ModeNative, ModeMNI32k}
}

// ParseMode validates a mode name.
func ParseMode(s string) (Mode, error) {
	m := Mode(s)
	if !slices.Contains(Modes(), m) {
		return "", errors.NewConfigError("unknown qc mode", errors.ErrUnknownQCMode).
			WithSetting("qc.modes").
			WithValue(s)
	}
	return m, nil
}

// Values maps tokens to their substitution.
type Values map[Token]string

// Personalize replaces every recognized token in template. Each token present
// in template must have a value. The result must not contain any recognized
// token, including one introduced by a substituted value.
func Personalize(template string, values Values) (string, error) {
	pairs := make([]string, 0, 2*len(values))
	// Longer tokens first so no token is matched as part of another.
	tokens := Tokens()
	slices.SortStableFunc(tokens, func(a, b Token) int { return len(b) - len(a) })
	for _, tok := range tokens {
		v, ok := values[tok]
		if !ok {
			if strings.Contains(template, string(tok)) {
				return "", errors.NewValidationError("no value for template token").
					WithField(string(tok)).
					WithCause(errors.ErrUnresolvedToken)
			}
			continue
		}
		pairs = append(pairs, string(tok), v)
	}

	out := strings.NewReplacer(pairs...).Replace(template)
	for _, tok := range tokens {
		if strings.Contains(out, string(tok)) {
			return "", errors.NewValidationError("template token left unresolved").
				WithField(string(tok)).
				WithCause(errors.ErrUnresolvedToken)
		}
	}
	return out, nil
}

// ModeValues computes the token values of mode for a subject whose scene
// file lives in sceneDir.
func ModeValues(layout *mesh.Layout, hcpDataDir, sceneDir string, mode Mode) (Values, error) {
	rel, err := filepath.Rel(sceneDir, hcpDataDir)
	if err != nil {
		return nil, errors.NewConfigError("qc directory is not relative to the HCP data directory", err).
			WithSetting("paths.qc_dir").
			WithValue(sceneDir)
	}

	v := Values{
		TokenHCPDataPath:    hcpDataDir,
		TokenHCPDataRelPath: rel,
		TokenSubject:        layout.Subject,
	}

	var (
		m      mesh.Mesh
		volume string
	)
	switch mode {
	case ModeNative:
		m = layout.T1wNative()
		volume = layout.T1wVolume("T1w")
	case ModeMNI32k:
		var ok bool
		m, ok = layout.Mesh(mesh.StandardMeshName(mni32kResolution))
		if !ok {
			return nil, errors.NewConfigError("MNIfsaverage32k mode needs the 32k mesh", errors.ErrMissingInput).
				WithSetting("meshes.low_res")
		}
		volume = layout.AtlasVolume("T1w")
	default:
		_, err := ParseMode(string(mode))
		return nil, err
	}

	v[TokenSurfsMeshName] = m.Name
	v[TokenSurfsFolder] = relTo(hcpDataDir, m.Folder)
	v[TokenDenseFolder] = relTo(hcpDataDir, m.DenseFolder)
	v[TokenT1wVolume] = relTo(hcpDataDir, volume)
	return v, nil
}

// relTo returns path relative to base, or path itself when it is not below
// base.
func relTo(base, path string) string {
	rel, err := filepath.Rel(base, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		return path
	}
	return rel
}

// Generator writes and renders QC scenes through a Sequencer.
type Generator struct {
	seq    *runner.Sequencer
	cfg    *config.Config
	logger *logging.Logger
}

// NewGenerator creates a Generator. A nil logger discards output.
func NewGenerator(seq *runner.Sequencer, cfg *config.Config, logger *logging.Logger) *Generator {
	if logger == nil {
		logger = logging.NopLogger()
	}
	return &Generator{seq: seq, cfg: cfg, logger: logger}
}

// ScenePath returns <qc>/<subject>/<subject>_<mode>.scene.
func ScenePath(qcDir, subject string, mode Mode) string {
	return filepath.Join(qcDir, subject, fmt.Sprintf("%s_%s.scene", subject, mode))
}

// Template returns the scene template of mode, read from the override
// directory when it holds one.
func (g *Generator) Template(mode Mode) (string, error) {
	name := string(mode) + ".scene"
	if dir := g.cfg.QC.TemplateDir; dir != "" {
		path := filepath.Join(dir, name)
		if g.seq.Exists(path) {
			data, err := afero.ReadFile(g.seq.Fs(), path)
			if err != nil {
				return "", fmt.Errorf("failed to read scene template %s: %w", path, err)
			}
			return string(data), nil
		}
		g.logger.Debug("no template override, using embedded", "mode", string(mode), "dir", dir)
	}
	data, err := templates.ReadFile("templates/" + name)
	if err != nil {
		return "", fmt.Errorf("failed to read embedded template %s: %w", name, err)
	}
	return string(data), nil
}

// Generate writes the personalized scene of mode for the subject and, when
// rendering is enabled, issues one show-scene per configured scene index.
// It returns the scene file path.
func (g *Generator) Generate(ctx context.Context, layout *mesh.Layout, mode Mode) (string, error) {
	if _, err := ParseMode(string(mode)); err != nil {
		return "", err
	}

	qcDir := g.cfg.Paths.ResolveQCDir()
	scene := ScenePath(qcDir, layout.Subject, mode)
	sceneDir := filepath.Dir(scene)

	tmpl, err := g.Template(mode)
	if err != nil {
		return "", err
	}
	values, err := ModeValues(layout, g.cfg.Paths.HCPDataDir, sceneDir, mode)
	if err != nil {
		return "", err
	}
	text, err := Personalize(tmpl, values)
	if err != nil {
		return "", err
	}

	if err := g.seq.MkdirAll(ctx, sceneDir); err != nil {
		return "", err
	}
	if err := g.seq.WriteFile(ctx, scene, []byte(text)); err != nil {
		return "", err
	}
	g.logger.Info("scene written", "mode", string(mode), "scene", scene)

	if !g.cfg.QC.Render {
		return scene, nil
	}
	for _, idx := range g.cfg.QC.Scenes {
		image := filepath.Join(sceneDir, fmt.Sprintf("%s_%s_%d.png", layout.Subject, mode, idx))
		if err := g.seq.Run(ctx, g.cfg.Tools.WBCommand, wb.ShowScene(scene, idx, image, g.cfg.QC.Width, g.cfg.QC.Height)...); err != nil {
			return scene, err
		}
	}
	return scene, nil
}

// GenerateAll generates every configured mode in order.
func (g *Generator) GenerateAll(ctx context.Context, layout *mesh.Layout) ([]string, error) {
	var scenes []string
	for _, name := range g.cfg.QC.Modes {
		mode, err := ParseMode(name)
		if err != nil {
			return scenes, err
		}
		scene, err := g.Generate(ctx, layout, mode)
		if err != nil {
			return scenes, err
		}
		scenes = append(scenes, scene)
	}
	return scenes, nil
}

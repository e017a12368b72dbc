package qc

import (
	"context"
	"strings"
	"testing"

	"github.com/Iron-Ham/ciftiprep/internal/config"
	cerrors "github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/mesh"
	"github.com/Iron-Ham/ciftiprep/internal/runner"
	"github.com/Iron-Ham/ciftiprep/internal/testutil"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLayout(t *testing.T, lowRes ...string) *mesh.Layout {
	t.Helper()

	if lowRes == nil {
		lowRes = []string{"32"}
	}
	l, err := mesh.Resolve(mesh.Params{
		Subject:       "subject_1",
		WorkDir:       "/hcp",
		FSSubjectsDir: "/fs",
		HighRes:       "164",
		LowRes:        lowRes,
		RegName:       "FS",
	})
	require.NoError(t, err)
	return l
}

func allValues() Values {
	return Values{
		TokenHCPDataPath:    "/hcp",
		TokenHCPDataRelPath: "../..",
		TokenSubject:        "subject_1",
		TokenSurfsMeshName:  "native",
		TokenSurfsFolder:    "subject_1/T1w/Native",
		TokenDenseFolder:    "subject_1/T1w/Native",
		TokenT1wVolume:      "subject_1/T1w/T1w.nii.gz",
	}
}

func TestPersonalize_RemovesEveryToken(t *testing.T) {
	var b strings.Builder
	b.WriteString("filler text <Scene>\n")
	for i, tok := range Tokens() {
		b.WriteString(string(tok))
		if i%2 == 0 {
			b.WriteString("/some/path ")
		} else {
			b.WriteString(".surf.gii\n")
		}
		b.WriteString(string(tok))
	}
	b.WriteString("\n</Scene> trailing filler")

	out, err := Personalize(b.String(), allValues())
	require.NoError(t, err)
	for _, tok := range Tokens() {
		assert.NotContains(t, out, string(tok))
	}
	assert.True(t, strings.HasPrefix(out, "filler text <Scene>\n/hcp/some/path "))
	assert.True(t, strings.HasSuffix(out, "</Scene> trailing filler"))
}

func TestPersonalize_EmbeddedTemplates(t *testing.T) {
	for _, mode := range Modes() {
		t.Run(string(mode), func(t *testing.T) {
			data, err := templates.ReadFile("templates/" + string(mode) + ".scene")
			require.NoError(t, err)

			out, err := Personalize(string(data), allValues())
			require.NoError(t, err)
			for _, tok := range Tokens() {
				assert.NotContains(t, out, string(tok))
			}
			assert.Contains(t, out, "subject_1.L.pial.native.surf.gii")
		})
	}
}

func TestPersonalize_Errors(t *testing.T) {
	t.Run("missing value", func(t *testing.T) {
		values := allValues()
		delete(values, TokenT1wVolume)

		_, err := Personalize("<File>T1W_VOLUME</File>", values)
		require.Error(t, err)
		assert.ErrorIs(t, err, cerrors.ErrUnresolvedToken)
		assert.Contains(t, err.Error(), "T1W_VOLUME")
	})

	t.Run("missing value for absent token is fine", func(t *testing.T) {
		values := allValues()
		delete(values, TokenT1wVolume)

		out, err := Personalize("SUBJID only", values)
		require.NoError(t, err)
		assert.Equal(t, "subject_1 only", out)
	})

	t.Run("value reintroduces a token", func(t *testing.T) {
		values := allValues()
		values[TokenSubject] = "SURFS_FOLDER"

		_, err := Personalize("SUBJID", values)
		require.Error(t, err)
		assert.ErrorIs(t, err, cerrors.ErrUnresolvedToken)
	})

	t.Run("single pass", func(t *testing.T) {
		values := allValues()
		values[TokenHCPDataPath] = "/data/SUBJID"

		_, err := Personalize("HCP_DATA_PATH", values)
		require.Error(t, err, "substituted values are not substituted again")
	})
}

func TestParseMode(t *testing.T) {
	for _, m := range Modes() {
		got, err := ParseMode(string(m))
		require.NoError(t, err)
		assert.Equal(t, m, got)
	}

	_, err := ParseMode("MNIfsaverage164k")
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrUnknownQCMode)
	assert.True(t, cerrors.IsFatal(err))
}

func TestModeValues(t *testing.T) {
	l := testLayout(t)

	t.Run("native", func(t *testing.T) {
		v, err := ModeValues(l, "/hcp", "/hcp/qc_recon_all/subject_1", ModeNative)
		require.NoError(t, err)
		assert.Equal(t, Values{
			TokenHCPDataPath:    "/hcp",
			TokenHCPDataRelPath: "../..",
			TokenSubject:        "subject_1",
			TokenSurfsMeshName:  "native",
			TokenSurfsFolder:    "subject_1/T1w/Native",
			TokenDenseFolder:    "subject_1/T1w/Native",
			TokenT1wVolume:      "subject_1/T1w/T1w.nii.gz",
		}, v)
	})

	t.Run("MNI 32k", func(t *testing.T) {
		v, err := ModeValues(l, "/hcp", "/hcp/qc_recon_all/subject_1", ModeMNI32k)
		require.NoError(t, err)
		assert.Equal(t, "32k_fs_LR", v[TokenSurfsMeshName])
		assert.Equal(t, "subject_1/MNINonLinear/fsaverage_LR32k", v[TokenSurfsFolder])
		assert.Equal(t, "subject_1/MNINonLinear/T1w.nii.gz", v[TokenT1wVolume])
	})

	t.Run("MNI 32k without the 32k mesh", func(t *testing.T) {
		_, err := ModeValues(testLayout(t, "59"), "/hcp", "/hcp/qc", ModeMNI32k)
		require.Error(t, err)
		assert.ErrorIs(t, err, cerrors.ErrMissingInput)
	})

	t.Run("unknown mode", func(t *testing.T) {
		_, err := ModeValues(l, "/hcp", "/hcp/qc", Mode("bogus"))
		assert.ErrorIs(t, err, cerrors.ErrUnknownQCMode)
	})
}

func newTestGenerator(t *testing.T, mutate func(*config.Config)) (*Generator, *testutil.Executor, afero.Fs) {
	t.Helper()

	cfg := config.Default()
	cfg.Paths.HCPDataDir = "/hcp"
	if mutate != nil {
		mutate(cfg)
	}
	exec := testutil.NewExecutor()
	fs := afero.NewMemMapFs()
	seq := runner.New(exec, fs, nil, runner.Options{})
	return NewGenerator(seq, cfg, nil), exec, fs
}

func TestGenerate(t *testing.T) {
	g, exec, fs := newTestGenerator(t, nil)
	l := testLayout(t)

	scene, err := g.Generate(context.Background(), l, ModeNative)
	require.NoError(t, err)
	assert.Equal(t, "/hcp/qc_recon_all/subject_1/subject_1_native.scene", scene)

	data, err := afero.ReadFile(fs, scene)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<BaseDirectory>../..</BaseDirectory>")
	assert.Contains(t, string(data), "subject_1/T1w/Native/subject_1.L.white.native.surf.gii")

	calls := exec.CallsWith("-show-scene")
	require.Len(t, calls, 3)
	assert.Equal(t, []string{
		"-show-scene", scene, "1", "/hcp/qc_recon_all/subject_1/subject_1_native_1.png", "900", "800",
	}, calls[0].Args)
}

func TestGenerate_NoRender(t *testing.T) {
	g, exec, _ := newTestGenerator(t, func(c *config.Config) { c.QC.Render = false })

	_, err := g.Generate(context.Background(), testLayout(t), ModeMNI32k)
	require.NoError(t, err)
	assert.Empty(t, exec.Calls())
}

func TestGenerate_TemplateOverride(t *testing.T) {
	g, _, fs := newTestGenerator(t, func(c *config.Config) {
		c.QC.TemplateDir = "/custom"
		c.QC.Render = false
	})
	testutil.WriteFiles(t, fs, map[string]string{
		"/custom/native.scene": "custom SUBJID SURFS_MESHNAME",
	})

	native, err := g.Generate(context.Background(), testLayout(t), ModeNative)
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, native)
	require.NoError(t, err)
	assert.Equal(t, "custom subject_1 native", string(data))

	// No override for this mode: the embedded template is used.
	mni, err := g.Generate(context.Background(), testLayout(t), ModeMNI32k)
	require.NoError(t, err)
	data, err = afero.ReadFile(fs, mni)
	require.NoError(t, err)
	assert.Contains(t, string(data), "<SceneFile")
}

func TestGenerate_AdjacentTokens(t *testing.T) {
	g, _, fs := newTestGenerator(t, func(c *config.Config) { c.QC.TemplateDir = "/custom" })
	testutil.WriteFiles(t, fs, map[string]string{
		"/custom/native.scene": "value SUBJID_SUBJID",
	})

	out, err := g.Generate(context.Background(), testLayout(t), ModeNative)
	require.NoError(t, err)
	data, err := afero.ReadFile(fs, out)
	require.NoError(t, err)
	assert.Equal(t, "value subject_1_subject_1", string(data))
}

func TestGenerateAll(t *testing.T) {
	g, exec, _ := newTestGenerator(t, nil)

	scenes, err := g.GenerateAll(context.Background(), testLayout(t))
	require.NoError(t, err)
	assert.Equal(t, []string{
		"/hcp/qc_recon_all/subject_1/subject_1_native.scene",
		"/hcp/qc_recon_all/subject_1/subject_1_MNIfsaverage32k.scene",
	}, scenes)
	assert.Equal(t, 6, exec.Count("-show-scene"))
}

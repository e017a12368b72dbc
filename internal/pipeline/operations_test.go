package pipeline

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/Iron-Ham/ciftiprep/internal/config"
	cerrors "github.com/Iron-Ham/ciftiprep/internal/errors"
	"github.com/Iron-Ham/ciftiprep/internal/mesh"
	"github.com/Iron-Ham/ciftiprep/internal/runner"
	"github.com/Iron-Ham/ciftiprep/internal/testutil"
	"github.com/Iron-Ham/ciftiprep/internal/wb"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSubject = "subject_1"

func testSettings() *config.Config {
	cfg := config.Default()
	cfg.Paths = config.PathsConfig{
		HCPDataDir:     "/hcp",
		FSSubjectsDir:  "/fs",
		TemplateDir:    "/templates",
		FSLStandardDir: "/fsl/data/standard",
		FreeSurferLUT:  "/freesurfer/FreeSurferColorLUT.txt",
	}
	return cfg
}

type harness struct {
	p    *Pipeline
	exec *testutil.Executor
	seq  *runner.Sequencer
	fs   afero.Fs
}

func newHarness(t *testing.T, cfg *config.Config, opts runner.Options) *harness {
	t.Helper()

	exec := testutil.NewExecutor()
	fs := afero.NewMemMapFs()
	seq := runner.New(exec, fs, nil, opts)
	p, err := New(Config{Settings: cfg, Sequencer: seq, Subject: testSubject}, WithRunID("test-run"))
	require.NoError(t, err)
	return &harness{p: p, exec: exec, seq: seq, fs: fs}
}

func TestConvertSurface_SecondaryType(t *testing.T) {
	tests := []struct {
		name      string
		secondary wb.SecondaryType
		want      bool
	}{
		{"with secondary", wb.SecondaryGrayWhite, true},
		{"without secondary", wb.SecondaryNone, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testSettings(), runner.Options{})
			l := h.p.Layout()
			for _, hemi := range mesh.Hemispheres() {
				err := h.p.ConvertSurface(context.Background(), l.FSSurf(hemi, "white"), l.T1wNative().Surface(hemi, "white"), hemi, SurfaceOptions{
					Type:      wb.SurfaceAnatomical,
					Secondary: tt.secondary,
				})
				require.NoError(t, err)
			}

			calls := h.exec.CallsWith("-set-structure")
			require.Len(t, calls, 2)
			for _, c := range calls {
				assert.Equal(t, tt.want, contains(c.Args, "-surface-secondary-type"), c.Line())
				assert.True(t, contains(c.Args, "-surface-type"))
			}
		})
	}
}

func TestConvertSurface_Affine(t *testing.T) {
	tests := []struct {
		name   string
		affine string
		want   int
	}{
		{"with affine", "/hcp/subject_1/MNINonLinear/xfms/c_ras.mat", 2},
		{"without affine", "", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testSettings(), runner.Options{})
			l := h.p.Layout()
			for _, hemi := range mesh.Hemispheres() {
				dst := l.T1wNative().Surface(hemi, "pial")
				require.NoError(t, h.p.ConvertSurface(context.Background(), l.FSSurf(hemi, "pial"), dst, hemi, SurfaceOptions{Affine: tt.affine}))
			}

			calls := h.exec.CallsWith("-surface-apply-affine")
			assert.Len(t, calls, tt.want)
			for _, c := range calls {
				assert.Equal(t, tt.affine, c.Args[2])
			}
			assert.Zero(t, h.exec.Count("-add-to-spec-file"))
		})
	}
}

func TestConvertSurface_AddToSpec(t *testing.T) {
	tests := []struct {
		name string
		add  bool
		want int
	}{
		{"add to spec", true, 2},
		{"no spec", false, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t, testSettings(), runner.Options{})
			l := h.p.Layout()
			spec := ""
			if tt.add {
				spec = l.T1wNative().Spec()
			}
			for _, hemi := range mesh.Hemispheres() {
				dst := l.T1wNative().Surface(hemi, "white")
				require.NoError(t, h.p.ConvertSurface(context.Background(), l.FSSurf(hemi, "white"), dst, hemi, SurfaceOptions{AddToSpec: spec}))
			}

			assert.Equal(t, tt.want, h.exec.Count("-add-to-spec-file"))
			assert.Zero(t, h.exec.Count("-surface-apply-affine"))
			assert.Equal(t, tt.want, h.p.Manifests().Len())
			if tt.add {
				entries := h.p.Manifests().Entries(spec)
				require.Len(t, entries, 2)
				assert.Equal(t, "CORTEX_LEFT", entries[0].Structure)
				assert.Equal(t, "CORTEX_RIGHT", entries[1].Structure)
			}
		})
	}
}

func TestConvertSurface_WhiteNoOptionalFlags(t *testing.T) {
	h := newHarness(t, testSettings(), runner.Options{})
	l := h.p.Layout()
	require.Equal(t, testSubject, l.Subject)

	for _, hemi := range []mesh.Hemisphere{mesh.Left, mesh.Right} {
		dst := l.T1wNative().Surface(hemi, "white")
		require.NoError(t, h.p.ConvertSurface(context.Background(), l.FSSurf(hemi, "white"), dst, hemi, SurfaceOptions{}))
	}

	assert.Equal(t, 2, h.exec.Count("-set-structure"))
	assert.Equal(t, 0, h.exec.Count("-surface-apply-affine"))
	assert.Equal(t, 0, h.exec.Count("-add-to-spec-file"))
	assert.Equal(t, 2, h.exec.CountName("mris_convert"))

	calls := h.exec.CallsWith("-set-structure")
	assert.Equal(t, "/hcp/subject_1/T1w/Native/subject_1.L.white.native.surf.gii", calls[0].Args[1])
	assert.Equal(t, "CORTEX_RIGHT", calls[1].Args[2])
}

func TestConvertSurface_FailureStopsSequence(t *testing.T) {
	h := newHarness(t, testSettings(), runner.Options{})
	h.exec.FailWhen = func(name string, _ []string) error {
		if name == "mris_convert" {
			return errors.New("exit status 1")
		}
		return nil
	}
	l := h.p.Layout()

	err := h.p.ConvertSurface(context.Background(), l.FSSurf(mesh.Left, "white"), l.T1wNative().Surface(mesh.Left, "white"), mesh.Left, SurfaceOptions{
		Affine:    "/tmp/c_ras.mat",
		AddToSpec: l.T1wNative().Spec(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, cerrors.ErrToolFailed)
	assert.Len(t, h.exec.Calls(), 1)
	assert.Zero(t, h.p.Manifests().Len())
}

func TestResolveRegistrationSphere(t *testing.T) {
	layout, err := mesh.Resolve(mesh.Params{
		Subject:       testSubject,
		WorkDir:       "/hcp",
		FSSubjectsDir: "/fs",
		HighRes:       "164",
		LowRes:        []string{"32"},
		RegName:       "FS",
	})
	require.NoError(t, err)

	t.Run("FS returns the projected native sphere", func(t *testing.T) {
		for _, h := range mesh.Hemispheres() {
			sphere, err := ResolveRegistrationSphere(config.RegistrationFS, layout, h)
			require.NoError(t, err)
			assert.Equal(t, layout.AtlasNative().Surface(h, "sphere.reg.reg_LR"), sphere)
		}

		again, err := ResolveRegistrationSphere(config.RegistrationFS, layout, mesh.Left)
		require.NoError(t, err)
		assert.Equal(t, "/hcp/subject_1/MNINonLinear/Native/subject_1.L.sphere.reg.reg_LR.native.surf.gii", again)
	})

	t.Run("MSMSulc fails with a fatal labeled error", func(t *testing.T) {
		sphere, err := ResolveRegistrationSphere(config.RegistrationMSMSulc, layout, mesh.Left)
		require.Error(t, err)
		assert.Empty(t, sphere)
		assert.ErrorIs(t, err, cerrors.ErrRegistrationNotImplemented)
		assert.True(t, cerrors.IsFatal(err))

		var cfgErr *cerrors.ConfigError
		require.True(t, cerrors.As(err, &cfgErr))
		assert.Equal(t, "registration.surface", cfgErr.Setting)
		assert.Equal(t, "MSMSulc", cfgErr.Value)
		assert.Equal(t, cerrors.ExitConfig, cerrors.ExitCode(err))
	})

	t.Run("unknown method", func(t *testing.T) {
		_, err := ResolveRegistrationSphere(config.RegistrationMethod("bogus"), layout, mesh.Left)
		require.Error(t, err)
		assert.ErrorIs(t, err, cerrors.ErrUnknownRegistration)
		assert.NotErrorIs(t, err, cerrors.ErrRegistrationNotImplemented)
	})
}

func TestCopyAtlasROIFromTemplate(t *testing.T) {
	t.Run("absent template issues no copy", func(t *testing.T) {
		h := newHarness(t, testSettings(), runner.Options{})
		m := h.p.Layout().HighRes()

		require.NoError(t, h.p.CopyAtlasROIFromTemplate(context.Background(), m))

		counts := stepKinds(h.seq.Steps())
		assert.Zero(t, counts[runner.KindCopy])
		assert.Equal(t, 2, runner.Count(h.seq.Steps()).Skipped)
		assert.Empty(t, h.exec.Calls())
	})

	t.Run("present template is copied", func(t *testing.T) {
		h := newHarness(t, testSettings(), runner.Options{})
		m := h.p.Layout().HighRes()
		tpl := mesh.Templates{Dir: "/templates"}
		testutil.WriteFiles(t, h.fs, map[string]string{
			tpl.AtlasROI(mesh.Left, m):  "roi-left",
			tpl.AtlasROI(mesh.Right, m): "roi-right",
		})

		require.NoError(t, h.p.CopyAtlasROIFromTemplate(context.Background(), m))

		assert.Equal(t, 2, stepKinds(h.seq.Steps())[runner.KindCopy])
		data, err := afero.ReadFile(h.fs, m.AtlasROI(mesh.Left))
		require.NoError(t, err)
		assert.Equal(t, "roi-left", string(data))
	})

	t.Run("one hemisphere present", func(t *testing.T) {
		h := newHarness(t, testSettings(), runner.Options{})
		m := h.p.Layout().HighRes()
		tpl := mesh.Templates{Dir: "/templates"}
		testutil.WriteFiles(t, h.fs, map[string]string{tpl.AtlasROI(mesh.Right, m): "roi-right"})

		require.NoError(t, h.p.CopyAtlasROIFromTemplate(context.Background(), m))

		assert.Equal(t, 1, stepKinds(h.seq.Steps())[runner.KindCopy])
		exists, err := afero.Exists(h.fs, m.AtlasROI(mesh.Left))
		require.NoError(t, err)
		assert.False(t, exists)
	})
}

func TestDilateAndMaskMetric(t *testing.T) {
	unmasked := config.DScalarConfig{Name: "sulc", MaskMedialWall: false, Dilate: false}
	maskOnly := config.DScalarConfig{Name: "myelin", MaskMedialWall: true}
	dilated := config.DScalarConfig{Name: "thickness", MaskMedialWall: true, Dilate: true}

	t.Run("masking disabled issues no invocation", func(t *testing.T) {
		h := newHarness(t, testSettings(), runner.Options{})
		require.NoError(t, h.p.DilateAndMaskMetric(context.Background(), h.p.Layout().AtlasNative(), []config.DScalarConfig{unmasked}))
		assert.Empty(t, h.exec.Calls())
		assert.Empty(t, h.seq.Steps())
	})

	t.Run("mask only", func(t *testing.T) {
		h := newHarness(t, testSettings(), runner.Options{})
		require.NoError(t, h.p.DilateAndMaskMetric(context.Background(), h.p.Layout().AtlasNative(), []config.DScalarConfig{unmasked, maskOnly}))
		assert.Len(t, h.exec.Calls(), 2)
		assert.Zero(t, h.exec.Count("-metric-dilate"))
		assert.Equal(t, 2, h.exec.Count("-metric-mask"))
	})

	t.Run("dilate then mask", func(t *testing.T) {
		h := newHarness(t, testSettings(), runner.Options{})
		m := h.p.Layout().AtlasNative()
		require.NoError(t, h.p.DilateAndMaskMetric(context.Background(), m, []config.DScalarConfig{dilated}))

		calls := h.exec.Calls()
		require.Len(t, calls, 4)
		assert.Equal(t, "-metric-dilate", calls[0].Sub())
		assert.Equal(t, "-metric-mask", calls[1].Sub())
		assert.Equal(t, []string{
			"-metric-dilate", m.Metric(mesh.Left, "thickness"), m.Surface(mesh.Left, "midthickness"), "10", m.Metric(mesh.Left, "thickness"), "-nearest",
		}, calls[0].Args)
		assert.Equal(t, m.MedialWallROI(mesh.Left), calls[1].Args[2])
	})

	t.Run("standard mesh masks with the atlas roi", func(t *testing.T) {
		h := newHarness(t, testSettings(), runner.Options{})
		m := h.p.Layout().HighRes()
		require.NoError(t, h.p.DilateAndMaskMetric(context.Background(), m, []config.DScalarConfig{maskOnly}))

		calls := h.exec.CallsWith("-metric-mask")
		require.Len(t, calls, 2)
		assert.Equal(t, m.AtlasROI(mesh.Right), calls[1].Args[2])
	})
}

func TestComputeArealDistortion(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		h := newHarness(t, testSettings(), runner.Options{})
		atlas := h.p.Layout().AtlasNative()
		out := atlas.Metric(mesh.Left, "ArealDistortion_FS")

		err := h.p.ComputeArealDistortion(context.Background(),
			atlas.Surface(mesh.Left, "sphere"), atlas.Surface(mesh.Left, "sphere.reg.reg_LR"),
			out, "subject_1_L", "FS")
		require.NoError(t, err)

		subs := make([]string, 0)
		for _, c := range h.exec.Calls() {
			subs = append(subs, c.Sub())
		}
		assert.Equal(t, []string{
			"-surface-vertex-areas", "-surface-vertex-areas", "-metric-math", "-set-map-names", "-metric-palette",
		}, subs)

		math := h.exec.CallsWith("-metric-math")[0]
		assert.Equal(t, wb.ArealDistortionExp, math.Args[1])
		assert.Equal(t, out, math.Args[2])

		names := h.exec.CallsWith("-set-map-names")[0]
		assert.Equal(t, "subject_1_L_Areal_Distortion_FS", names.Args[len(names.Args)-1])

		palette := h.exec.CallsWith("-metric-palette")[0]
		assert.True(t, contains(palette.Args, "ROY-BIG-BL"))

		assertScratchRemoved(t, h)
	})

	t.Run("scratch removed on failure", func(t *testing.T) {
		h := newHarness(t, testSettings(), runner.Options{})
		h.exec.FailWhen = func(_ string, args []string) error {
			if len(args) > 0 && args[0] == "-metric-math" {
				return errors.New("exit status 1")
			}
			return nil
		}
		atlas := h.p.Layout().AtlasNative()

		err := h.p.ComputeArealDistortion(context.Background(),
			atlas.Surface(mesh.Right, "sphere"), atlas.Surface(mesh.Right, "sphere.reg.reg_LR"),
			atlas.Metric(mesh.Right, "ArealDistortion_FS"), "subject_1_R", "FS")
		require.Error(t, err)
		assert.ErrorIs(t, err, cerrors.ErrToolFailed)
		assert.Zero(t, h.exec.Count("-set-map-names"))

		assertScratchRemoved(t, h)
	})

	t.Run("scratch removed on cancellation", func(t *testing.T) {
		h := newHarness(t, testSettings(), runner.Options{})
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		atlas := h.p.Layout().AtlasNative()

		err := h.p.ComputeArealDistortion(ctx,
			atlas.Surface(mesh.Left, "sphere"), atlas.Surface(mesh.Left, "sphere.reg.reg_LR"),
			atlas.Metric(mesh.Left, "ArealDistortion_FS"), "subject_1_L", "FS")
		require.Error(t, err)
		assert.ErrorIs(t, err, cerrors.ErrCanceled)

		entries, err := afero.Glob(h.fs, filepath.Join(os.TempDir(), "areal_distortion_*"))
		require.NoError(t, err)
		assert.Empty(t, entries)
	})
}

// assertScratchRemoved checks that the directory of the vertex area outputs
// no longer exists.
func assertScratchRemoved(t *testing.T, h *harness) {
	t.Helper()

	areas := h.exec.CallsWith("-surface-vertex-areas")
	require.NotEmpty(t, areas)
	dir := filepath.Dir(areas[0].Args[2])
	assert.True(t, strings.Contains(filepath.Base(dir), "areal_distortion_"), dir)

	exists, err := afero.DirExists(h.fs, dir)
	require.NoError(t, err)
	assert.False(t, exists, "scratch directory %s should be removed", dir)
}

func stepKinds(steps []runner.Step) map[runner.Kind]int {
	out := make(map[runner.Kind]int)
	for _, s := range steps {
		if s.Outcome == runner.OutcomeSkipped {
			continue
		}
		out[s.Kind]++
	}
	return out
}

func contains(args []string, want string) bool {
	for _, a := range args {
		if a == want {
			return true
		}
	}
	return false
}

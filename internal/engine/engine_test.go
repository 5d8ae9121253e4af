package engine

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ivlev/holocine/internal/config"
	"github.com/ivlev/holocine/internal/manifest"
	"github.com/ivlev/holocine/internal/pipeline"
	"github.com/ivlev/holocine/internal/system"
)

type fakeGenerator struct {
	calls int
	req   pipeline.Request
	err   error
}

func (g *fakeGenerator) Generate(_ context.Context, _ pipeline.Handle, req pipeline.Request) error {
	g.calls++
	g.req = req
	if g.err != nil {
		return g.err
	}
	return os.WriteFile(req.OutputPath, []byte("mp4"), 0644)
}

type fakePoster struct {
	err error
}

func (f *fakePoster) ExtractPoster(_ context.Context, _, posterPath string, _, _ int) error {
	if f.err != nil {
		return f.err
	}
	return os.WriteFile(posterPath, []byte("png"), 0644)
}

// newProject lays out checkpoints for the job's variant under a temp root.
func newProject(t *testing.T, job *config.Job, gen pipeline.Generator) *GenerationProject {
	t.Helper()
	root := t.TempDir()
	cfg := &config.Config{
		ModelRoot:     root,
		CodeDir:       filepath.Join(root, "code"),
		OutputDir:     filepath.Join(root, "output"),
		Device:        "cuda",
		OffloadDevice: "cpu",
		BuildVersion:  "test",
	}
	for _, ck := range pipeline.CheckpointSet(cfg, job.Attention) {
		require.NoError(t, os.MkdirAll(filepath.Dir(ck.Path), 0755))
		require.NoError(t, os.WriteFile(ck.Path, []byte("weights"), 0644))
	}

	p := NewGenerationProject(cfg, job, gen, &fakePoster{}, log.New(io.Discard))
	p.Probe = func(context.Context, string) (system.VideoInfo, error) {
		return system.VideoInfo{Width: job.Width, Height: job.Height, Frames: job.NumFrames, FrameRate: float64(job.FPS)}, nil
	}
	return p
}

func TestRun(t *testing.T) {
	job := config.DemoJob()
	gen := &fakeGenerator{}
	p := newProject(t, job, gen)

	m, err := p.Run(context.Background())
	require.NoError(t, err)

	want := filepath.Join(p.Config.OutputDir, "hospital_italiano_holocine.mp4")
	assert.Equal(t, 1, gen.calls)
	assert.Equal(t, want, m.Output)
	assert.Equal(t, job.ShotCaptions, gen.req.ShotCaptions)
	assert.FileExists(t, want)

	assert.Equal(t, filepath.Join(p.Config.OutputDir, "hospital_italiano_holocine.png"), m.Poster)
	require.NotNil(t, m.Video)
	assert.Equal(t, 81, m.Video.Frames)
	assert.Len(t, m.Checkpoints, 4)
	assert.Equal(t, pipeline.OffloadVRAM, m.Offload)

	saved, err := manifest.Read(manifest.PathFor(want))
	require.NoError(t, err)
	assert.Equal(t, "test", saved.Build)
	assert.Equal(t, job.OutputName, saved.Job.OutputName)

	assert.NoFileExists(t, filepath.Join(p.Config.OutputDir, "benchmark.log"))
}

func TestRunInvalidJobSkipsGeneration(t *testing.T) {
	job := config.DemoJob()
	gen := &fakeGenerator{}
	p := newProject(t, job, gen)
	p.Job.Steps = 0

	_, err := p.Run(context.Background())
	require.Error(t, err)
	assert.Zero(t, gen.calls)
}

func TestRunMissingCheckpointSkipsGeneration(t *testing.T) {
	job := config.DemoJob()
	gen := &fakeGenerator{}
	p := newProject(t, job, gen)
	p.Job.Attention = config.AttentionSparse // no sparse weights were laid out

	_, err := p.Run(context.Background())
	var missing *pipeline.MissingCheckpointsError
	require.True(t, errors.As(err, &missing))
	assert.Len(t, missing.Paths, 4)
	assert.Zero(t, gen.calls)
}

func TestRunGeneratorFailure(t *testing.T) {
	boom := &pipeline.GenerationError{ExitCode: 1, Stderr: "CUDA out of memory"}
	gen := &fakeGenerator{err: boom}
	p := newProject(t, config.DemoJob(), gen)

	m, err := p.Run(context.Background())
	assert.Nil(t, m)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, 1, gen.calls)
}

func TestRunPostProcessingFailuresOnlyWarn(t *testing.T) {
	gen := &fakeGenerator{}
	p := newProject(t, config.DemoJob(), gen)
	p.Poster = &fakePoster{err: errors.New("no ffmpeg")}
	p.Probe = func(context.Context, string) (system.VideoInfo, error) {
		return system.VideoInfo{}, errors.New("no ffprobe")
	}

	m, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Empty(t, m.Poster)
	assert.Nil(t, m.Video)
}

func TestRunWritesBenchmarkLog(t *testing.T) {
	p := newProject(t, config.DemoJob(), &fakeGenerator{})
	p.Config.ShowStats = true

	_, err := p.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(p.Config.OutputDir, "benchmark.log"))
	require.NoError(t, err)
	assert.Contains(t, string(data), "Output: hospital_italiano_holocine")
	assert.Contains(t, string(data), "Shots: 3")
}

func TestCheck(t *testing.T) {
	job := config.DemoJob()
	p := newProject(t, job, &fakeGenerator{})

	h, size, err := p.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(4*len("weights")), size)
	assert.Len(t, h.Checkpoints, 4)
}

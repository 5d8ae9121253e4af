package engine

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/ivlev/holocine/internal/config"
	"github.com/ivlev/holocine/internal/manifest"
	"github.com/ivlev/holocine/internal/pipeline"
	"github.com/ivlev/holocine/internal/system"
	"github.com/ivlev/holocine/internal/video"
)

// ProbeFunc inspects a finished video.
type ProbeFunc func(ctx context.Context, path string) (system.VideoInfo, error)

// GenerationProject drives one job from preflight to the manifest on disk.
type GenerationProject struct {
	Config    *config.Config
	Job       *config.Job
	Generator pipeline.Generator
	Poster    video.PosterExtractor
	Probe     ProbeFunc
	Logger    *log.Logger
}

func NewGenerationProject(cfg *config.Config, job *config.Job, gen pipeline.Generator, poster video.PosterExtractor, logger *log.Logger) *GenerationProject {
	if logger == nil {
		logger = log.Default()
	}
	return &GenerationProject{
		Config:    cfg,
		Job:       job,
		Generator: gen,
		Poster:    poster,
		Probe:     system.GetVideoInfo,
		Logger:    logger,
	}
}

// Check validates the job and confirms every checkpoint is on disk. It
// returns the handle that Run would use and the checkpoint bytes.
func (p *GenerationProject) Check(ctx context.Context) (pipeline.Handle, int64, error) {
	if err := p.Job.Validate(); err != nil {
		return pipeline.Handle{}, 0, fmt.Errorf("invalid job: %w", err)
	}
	h := pipeline.NewHandle(p.Config, p.Job.Attention)
	size, err := pipeline.Preflight(ctx, h)
	if err != nil {
		return pipeline.Handle{}, 0, err
	}
	return h, size, nil
}

func (p *GenerationProject) Run(ctx context.Context) (*manifest.Manifest, error) {
	startTime := time.Now()

	h, size, err := p.Check(ctx)
	if err != nil {
		return nil, err
	}
	preflightTime := time.Since(startTime)

	p.logResources(ctx, size)

	p.Logger.Info("generating",
		"output", p.Job.OutputName,
		"shots", len(p.Job.ShotCaptions),
		"frames", p.Job.NumFrames,
		"size", fmt.Sprintf("%dx%d", p.Job.Width, p.Job.Height),
		"steps", p.Job.Steps,
		"fps", p.Job.FPS,
		"seed", p.Job.Seed,
		"attention", p.Job.Attention,
	)

	generateStart := time.Now()
	outputPath, err := pipeline.Invoke(ctx, p.Generator, h, p.Job, p.Config.OutputDir)
	if err != nil {
		return nil, err
	}
	generateTime := time.Since(generateStart)
	p.Logger.Info("video written", "path", outputPath, "took", generateTime.Round(time.Second))

	m := &manifest.Manifest{
		Version:     manifest.Version,
		Build:       p.Config.BuildVersion,
		CreatedAt:   time.Now().UTC(),
		Job:         p.Job,
		Device:      h.Device,
		Offload:     h.Offload,
		Checkpoints: h.Checkpoints,
		Output:      outputPath,
	}

	m.Video = p.probe(ctx, outputPath)
	m.Poster = p.poster(ctx, outputPath)

	m.Timings = manifest.Timings{
		Preflight: preflightTime.Seconds(),
		Generate:  generateTime.Seconds(),
		Total:     time.Since(startTime).Seconds(),
	}

	manifestPath := manifest.PathFor(outputPath)
	if err := manifest.Write(m, manifestPath); err != nil {
		p.Logger.Warn("could not write manifest", "path", manifestPath, "err", err)
	}

	if p.Config.ShowStats {
		p.report(m)
	}
	return m, nil
}

func (p *GenerationProject) logResources(ctx context.Context, checkpointBytes int64) {
	res, err := system.HostResources(ctx)
	if err != nil {
		p.Logger.Warn("could not read host resources", "err", err)
		return
	}
	p.Logger.Info("host",
		"ram_total", system.HumanBytes(res.TotalRAM),
		"ram_available", system.HumanBytes(res.AvailableRAM),
		"cpus", res.LogicalCPUs,
		"checkpoints", system.HumanBytes(uint64(checkpointBytes)),
	)
	if res.LowMemory(checkpointBytes) {
		p.Logger.Warn("available RAM is below the checkpoint size, offloading may fail")
	}
}

func (p *GenerationProject) probe(ctx context.Context, outputPath string) *system.VideoInfo {
	if p.Probe == nil {
		return nil
	}
	info, err := p.Probe(ctx, outputPath)
	if err != nil {
		p.Logger.Warn("could not probe output", "err", err)
		return nil
	}
	if info.Frames > 0 && info.Frames != p.Job.NumFrames {
		p.Logger.Warn("frame count differs from request", "want", p.Job.NumFrames, "got", info.Frames)
	}
	return &info
}

func (p *GenerationProject) poster(ctx context.Context, outputPath string) string {
	if p.Poster == nil {
		return ""
	}
	posterPath := strings.TrimSuffix(outputPath, filepath.Ext(outputPath)) + ".png"
	if err := p.Poster.ExtractPoster(ctx, outputPath, posterPath, p.Job.Width, p.Job.Height); err != nil {
		p.Logger.Warn("could not extract poster", "err", err)
		return ""
	}
	return posterPath
}

func (p *GenerationProject) report(m *manifest.Manifest) {
	fmt.Printf(
		"--- [PERFORMANCE REPORT] ---\n"+
			"Build: %s\n"+
			"Total Time: %.2fs\n"+
			"Preflight: %.2fs\n"+
			"Generation: %.2fs\n"+
			"Seconds per step: %.2f\n"+
			"----------------------------\n",
		m.Build, m.Timings.Total, m.Timings.Preflight, m.Timings.Generate, m.Timings.Generate/float64(p.Job.Steps),
	)

	logEntry := fmt.Sprintf("[%s] Build: %s | Output: %s | Shots: %d | Frames: %d | Steps: %d | Total: %.2fs | Generate: %.2fs\n",
		time.Now().Format("2006-01-02 15:04:05"),
		m.Build,
		p.Job.OutputName,
		len(p.Job.ShotCaptions),
		p.Job.NumFrames,
		p.Job.Steps,
		m.Timings.Total,
		m.Timings.Generate,
	)

	logPath := filepath.Join(p.Config.OutputDir, "benchmark.log")
	f, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		p.Logger.Warn("could not write benchmark.log", "err", err)
		return
	}
	defer f.Close()
	f.WriteString(logEntry)
}

package pipeline

import (
	"context"
	"fmt"
	"os"

	"github.com/ivlev/holocine/internal/config"
)

const (
	DTypeBF16   = "bfloat16"
	OffloadVRAM = "vram_management"
)

// Handle describes the model the external pipeline must construct.
type Handle struct {
	Checkpoints []Checkpoint `json:"checkpoints" yaml:"checkpoints"`
	Device      string       `json:"device" yaml:"device"`
	DType       string       `json:"torch_dtype" yaml:"torch_dtype"`
	Offload     string       `json:"offload" yaml:"offload"`
}

// NewHandle builds the handle for an attention variant from the fixed
// checkpoint list, with VRAM management enabled.
func NewHandle(cfg *config.Config, variant string) Handle {
	return Handle{
		Checkpoints: CheckpointSet(cfg, variant),
		Device:      cfg.Device,
		DType:       DTypeBF16,
		Offload:     OffloadVRAM,
	}
}

// Request carries the resolved arguments of the external inference call.
// Field names match its keyword arguments.
type Request struct {
	OutputPath     string   `json:"output_path"`
	GlobalCaption  string   `json:"global_caption"`
	ShotCaptions   []string `json:"shot_captions"`
	NegativePrompt string   `json:"negative_prompt"`
	NumFrames      int      `json:"num_frames"`
	Height         int      `json:"height"`
	Width          int      `json:"width"`
	Steps          int      `json:"num_inference_steps"`
	FPS            int      `json:"fps"`
	Quality        int      `json:"quality"`
	Seed           int64    `json:"seed"`
	Tiled          bool     `json:"tiled"`
}

// NewRequest resolves a job into call arguments. Shot captions are copied
// through in order.
func NewRequest(job *config.Job, outputDir string) Request {
	shots := make([]string, len(job.ShotCaptions))
	copy(shots, job.ShotCaptions)

	return Request{
		OutputPath:     job.OutputPath(outputDir),
		GlobalCaption:  job.GlobalCaption,
		ShotCaptions:   shots,
		NegativePrompt: job.NegativePrompt,
		NumFrames:      job.NumFrames,
		Height:         job.Height,
		Width:          job.Width,
		Steps:          job.Steps,
		FPS:            job.FPS,
		Quality:        job.Quality,
		Seed:           job.Seed,
		Tiled:          job.Tiled,
	}
}

// Generator runs the external generation function once.
type Generator interface {
	Generate(ctx context.Context, h Handle, req Request) error
}

// Invoke calls the generator for a job and returns the written video path.
// Errors from the generator are returned wrapped and never retried.
func Invoke(ctx context.Context, gen Generator, h Handle, job *config.Job, outputDir string) (string, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return "", fmt.Errorf("create output dir: %w", err)
	}

	req := NewRequest(job, outputDir)
	if err := gen.Generate(ctx, h, req); err != nil {
		return "", fmt.Errorf("generate %s: %w", job.OutputName, err)
	}
	return req.OutputPath, nil
}

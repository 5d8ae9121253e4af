package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// DefaultJobPath is read when no config file is given on the command line.
const DefaultJobPath = "/mnt/output/video_config.json"

// VideoExt is appended to the output name to form the output file name.
const VideoExt = ".mp4"

const (
	AttentionSparse = "sparse"
	AttentionFull   = "full"
)

const (
	DefaultNumFrames = 81
	DefaultHeight    = 480
	DefaultWidth     = 832
	DefaultSteps     = 30
	DefaultFPS       = 15
	DefaultSeed      = 42
	DefaultQuality   = 5
)

// Job is one generation request as read from the job file.
type Job struct {
	OutputName     string   `json:"output_name" yaml:"output_name"`
	GlobalCaption  string   `json:"global_caption" yaml:"global_caption"`
	ShotCaptions   []string `json:"shot_captions" yaml:"shot_captions"`
	NegativePrompt string   `json:"negative_prompt" yaml:"negative_prompt"`
	NumFrames      int      `json:"num_frames" yaml:"num_frames"`
	Height         int      `json:"height" yaml:"height"`
	Width          int      `json:"width" yaml:"width"`
	Steps          int      `json:"steps" yaml:"steps"`
	FPS            int      `json:"fps" yaml:"fps"`
	Seed           int64    `json:"seed" yaml:"seed"`
	Quality        int      `json:"quality" yaml:"quality"`
	Tiled          bool     `json:"tiled" yaml:"tiled"`
	Attention      string   `json:"attention" yaml:"attention"`
}

// jobFile mirrors Job with pointers so absent keys can be told apart from zeros.
type jobFile struct {
	OutputName     *string  `json:"output_name"`
	GlobalCaption  *string  `json:"global_caption"`
	ShotCaptions   []string `json:"shot_captions"`
	NegativePrompt *string  `json:"negative_prompt"`
	NumFrames      *int     `json:"num_frames"`
	Height         *int     `json:"height"`
	Width          *int     `json:"width"`
	Steps          *int     `json:"steps"`
	FPS            *int     `json:"fps"`
	Seed           *int64   `json:"seed"`
	Quality        *int     `json:"quality"`
	Tiled          *bool    `json:"tiled"`
	Attention      *string  `json:"attention"`
}

// ParseError reports a job file that could not be read or decoded.
type ParseError struct {
	Path string
	Err  error
}

func (e *ParseError) Error() string {
	if e.Path == "" {
		return fmt.Sprintf("parse job config: %v", e.Err)
	}
	return fmt.Sprintf("parse job config %s: %v", e.Path, e.Err)
}

func (e *ParseError) Unwrap() error {
	return e.Err
}

// LoadJob reads and decodes a job file. An empty path selects DefaultJobPath.
func LoadJob(path string) (*Job, error) {
	if path == "" {
		path = DefaultJobPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ParseError{Path: path, Err: err}
	}

	job, err := ParseJob(data)
	if err != nil {
		var pe *ParseError
		if errors.As(err, &pe) {
			pe.Path = path
		}
		return nil, err
	}
	return job, nil
}

// ParseJob decodes a job document and fills defaults for absent optional fields.
func ParseJob(data []byte) (*Job, error) {
	var f jobFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, &ParseError{Err: err}
	}

	var missing []string
	if f.OutputName == nil {
		missing = append(missing, "output_name")
	}
	if f.GlobalCaption == nil {
		missing = append(missing, "global_caption")
	}
	if f.ShotCaptions == nil {
		missing = append(missing, "shot_captions")
	}
	if len(missing) > 0 {
		return nil, &ParseError{Err: fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))}
	}

	job := &Job{
		OutputName:     *f.OutputName,
		GlobalCaption:  *f.GlobalCaption,
		ShotCaptions:   f.ShotCaptions,
		NegativePrompt: strOr(f.NegativePrompt, ""),
		NumFrames:      intOr(f.NumFrames, DefaultNumFrames),
		Height:         intOr(f.Height, DefaultHeight),
		Width:          intOr(f.Width, DefaultWidth),
		Steps:          intOr(f.Steps, DefaultSteps),
		FPS:            intOr(f.FPS, DefaultFPS),
		Seed:           DefaultSeed,
		Quality:        intOr(f.Quality, DefaultQuality),
		Tiled:          true,
		Attention:      strOr(f.Attention, AttentionSparse),
	}
	if f.Seed != nil {
		job.Seed = *f.Seed
	}
	if f.Tiled != nil {
		job.Tiled = *f.Tiled
	}
	return job, nil
}

// Validate checks the fields that the inference entry point cannot recover from.
func (j *Job) Validate() error {
	if strings.TrimSpace(j.OutputName) == "" {
		return fmt.Errorf("output_name is empty")
	}
	if strings.ContainsAny(j.OutputName, `/\`) || j.OutputName == "." || j.OutputName == ".." {
		return fmt.Errorf("output_name %q must be a plain file name", j.OutputName)
	}
	if len(j.ShotCaptions) == 0 {
		return fmt.Errorf("shot_captions is empty")
	}
	for i, c := range j.ShotCaptions {
		if strings.TrimSpace(c) == "" {
			return fmt.Errorf("shot_captions[%d] is empty", i)
		}
	}

	positive := []struct {
		name string
		v    int
	}{
		{"num_frames", j.NumFrames},
		{"height", j.Height},
		{"width", j.Width},
		{"steps", j.Steps},
		{"fps", j.FPS},
	}
	for _, p := range positive {
		if p.v <= 0 {
			return fmt.Errorf("%s must be positive, got %d", p.name, p.v)
		}
	}

	switch j.Attention {
	case AttentionSparse, AttentionFull:
	default:
		return fmt.Errorf("attention must be %q or %q, got %q", AttentionSparse, AttentionFull, j.Attention)
	}
	return nil
}

// OutputPath is the video file the job produces inside dir.
func (j *Job) OutputPath(dir string) string {
	return filepath.Join(dir, j.OutputName+VideoExt)
}

// Duration is the clip length in seconds implied by frame count and fps.
func (j *Job) Duration() float64 {
	if j.FPS <= 0 {
		return 0
	}
	return float64(j.NumFrames) / float64(j.FPS)
}

// DemoJob is the built-in hospital corridor job, three shots with full attention.
func DemoJob() *Job {
	return &Job{
		OutputName:     "hospital_italiano_holocine",
		GlobalCaption:  "A professional Italian doctor in white medical coat walking through a modern hospital corridor with natural lighting and medical equipment visible",
		NegativePrompt: "色调艳丽，过曝，静态，细节模糊不清，字幕，风格，作品，画作，画面，静止，整体发灰，最差质量，低质量",
		ShotCaptions: []string{
			"Medium shot of Italian doctor entering hospital corridor, professional appearance, confident walk",
			"Close-up of doctor's face showing friendly expression, hospital environment in background",
			"Wide shot following doctor walking past medical equipment and windows with natural light",
		},
		NumFrames: DefaultNumFrames,
		Height:    DefaultHeight,
		Width:     DefaultWidth,
		Steps:     DefaultSteps,
		FPS:       DefaultFPS,
		Seed:      DefaultSeed,
		Quality:   DefaultQuality,
		Tiled:     true,
		Attention: AttentionFull,
	}
}

func intOr(p *int, def int) int {
	if p == nil {
		return def
	}
	return *p
}

func strOr(p *string, def string) string {
	if p == nil {
		return def
	}
	return *p
}

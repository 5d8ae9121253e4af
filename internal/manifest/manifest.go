package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ivlev/holocine/internal/config"
	"github.com/ivlev/holocine/internal/pipeline"
	"github.com/ivlev/holocine/internal/system"
)

const Version = "1.0"

// Manifest records how a clip was produced. It is stored next to the video.
type Manifest struct {
	Version     string                `yaml:"version"`
	Build       string                `yaml:"build,omitempty"`
	CreatedAt   time.Time             `yaml:"created_at"`
	Job         *config.Job           `yaml:"job"`
	Device      string                `yaml:"device"`
	Offload     string                `yaml:"offload"`
	Checkpoints []pipeline.Checkpoint `yaml:"checkpoints"`
	Output      string                `yaml:"output"`
	Poster      string                `yaml:"poster,omitempty"`
	Video       *system.VideoInfo     `yaml:"video,omitempty"`
	Timings     Timings               `yaml:"timings"`
}

// Timings are wall-clock durations in seconds.
type Timings struct {
	Preflight float64 `yaml:"preflight"`
	Generate  float64 `yaml:"generate"`
	Total     float64 `yaml:"total"`
}

// PathFor returns the manifest path for a video: same name, .yaml extension.
func PathFor(videoPath string) string {
	return strings.TrimSuffix(videoPath, filepath.Ext(videoPath)) + ".yaml"
}

// Write writes a manifest to a YAML file
func Write(m *Manifest, path string) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return err
	}

	return os.WriteFile(path, data, 0644)
}

// Read reads a manifest from a YAML file
func Read(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, err
	}

	return &m, nil
}

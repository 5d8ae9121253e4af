package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
)

const (
	DefaultModelRoot       = "/mnt/models/HoloCine"
	DefaultOutputDir       = "/mnt/output"
	DefaultPython          = "python3"
	DefaultInferenceModule = "HoloCine_inference_full_attention"
	DefaultDevice          = "cuda"
	DefaultVisibleDevices  = "0,1,2,3"
	DefaultAllocConf       = "expandable_segments:True"
	DefaultOffloadDevice   = "cpu"
)

// Config holds runtime settings of the runner. Job parameters live in Job.
type Config struct {
	ModelRoot       string
	CodeDir         string
	OutputDir       string
	Python          string
	InferenceModule string
	Device          string
	VisibleDevices  string
	AllocConf       string
	OffloadDevice   string
	ShowStats       bool
	BuildVersion    string
}

// Load reads settings from the environment. A .env file in the working
// directory is applied first; variables already set in the process win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return FromEnv(os.Getenv), nil
}

// FromEnv builds a Config from a lookup function, falling back to defaults.
func FromEnv(getenv func(string) string) *Config {
	get := func(key, def string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return def
	}

	root := get("HOLOCINE_ROOT", DefaultModelRoot)
	stats, _ := strconv.ParseBool(getenv("HOLOCINE_STATS"))

	return &Config{
		ModelRoot:       root,
		CodeDir:         get("HOLOCINE_CODE_DIR", filepath.Join(root, "code")),
		OutputDir:       get("HOLOCINE_OUTPUT_DIR", DefaultOutputDir),
		Python:          get("HOLOCINE_PYTHON", DefaultPython),
		InferenceModule: get("HOLOCINE_INFERENCE_MODULE", DefaultInferenceModule),
		Device:          get("HOLOCINE_DEVICE", DefaultDevice),
		VisibleDevices:  get("CUDA_VISIBLE_DEVICES", DefaultVisibleDevices),
		AllocConf:       get("PYTORCH_ALLOC_CONF", DefaultAllocConf),
		OffloadDevice:   get("HOLOCINE_OFFLOAD_DEVICE", DefaultOffloadDevice),
		ShowStats:       stats,
	}
}

// ChildEnv returns the variables that must be present in the inference
// process before torch is imported.
func (c *Config) ChildEnv() []string {
	return []string{
		"PYTORCH_ALLOC_CONF=" + c.AllocConf,
		"CUDA_VISIBLE_DEVICES=" + c.VisibleDevices,
	}
}

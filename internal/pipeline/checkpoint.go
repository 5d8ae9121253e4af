package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/ivlev/holocine/internal/config"
)

// Checkpoint is one weights file loaded into the pipeline.
type Checkpoint struct {
	Path          string `json:"path" yaml:"path"`
	OffloadDevice string `json:"offload_device" yaml:"offload_device"`
}

// CheckpointSet returns the fixed, ordered weights list for an attention
// variant: T5 encoder, high-noise DiT, low-noise DiT, VAE.
//
// The sparse weights ship inside the code checkout with a nested Wan2.2
// directory; the full-attention weights sit next to it under the model root.
func CheckpointSet(cfg *config.Config, variant string) []Checkpoint {
	var base, wan string
	switch variant {
	case config.AttentionFull:
		base = filepath.Join(cfg.ModelRoot, "checkpoints")
		wan = filepath.Join(base, "Wan2.2-T2V-A14B")
	default:
		variant = config.AttentionSparse
		base = filepath.Join(cfg.CodeDir, "checkpoints")
		wan = filepath.Join(base, "Wan2.2-T2V-A14B", "Wan2.2-T2V-A14B")
	}
	dit := filepath.Join(base, "HoloCine_dit", variant)

	paths := []string{
		filepath.Join(wan, "models_t5_umt5-xxl-enc-bf16.pth"),
		filepath.Join(dit, variant+"_high_noise.safetensors"),
		filepath.Join(dit, variant+"_low_noise.safetensors"),
		filepath.Join(wan, "Wan2.1_VAE.pth"),
	}

	set := make([]Checkpoint, len(paths))
	for i, p := range paths {
		set[i] = Checkpoint{Path: p, OffloadDevice: cfg.OffloadDevice}
	}
	return set
}

// MissingCheckpointsError lists every checkpoint that could not be found.
type MissingCheckpointsError struct {
	Paths []string
}

func (e *MissingCheckpointsError) Error() string {
	return fmt.Sprintf("missing checkpoints: %s", strings.Join(e.Paths, ", "))
}

// Preflight stats every checkpoint of the handle and returns their total size.
func Preflight(ctx context.Context, h Handle) (int64, error) {
	var (
		mu      sync.Mutex
		total   int64
		missing []string
	)

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for _, ck := range h.Checkpoints {
		ck := ck
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			info, err := os.Stat(ck.Path)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, os.ErrNotExist):
				missing = append(missing, ck.Path)
				return nil
			case err != nil:
				return fmt.Errorf("stat %s: %w", ck.Path, err)
			case info.IsDir():
				return fmt.Errorf("checkpoint %s is a directory", ck.Path)
			}
			total += info.Size()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return 0, err
	}
	if len(missing) > 0 {
		// keep the handle's order regardless of which goroutine finished first
		ordered := make([]string, 0, len(missing))
		for _, ck := range h.Checkpoints {
			for _, m := range missing {
				if m == ck.Path {
					ordered = append(ordered, m)
					break
				}
			}
		}
		return 0, &MissingCheckpointsError{Paths: ordered}
	}
	return total, nil
}

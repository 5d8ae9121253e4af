package system

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
)

// Resources is a snapshot of the host the pipeline offloads weights onto.
type Resources struct {
	TotalRAM     uint64
	AvailableRAM uint64
	LogicalCPUs  int
}

func HostResources(ctx context.Context) (Resources, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return Resources{}, fmt.Errorf("read memory stats: %w", err)
	}
	cpus, err := cpu.CountsWithContext(ctx, true)
	if err != nil {
		return Resources{}, fmt.Errorf("count cpus: %w", err)
	}
	return Resources{
		TotalRAM:     vm.Total,
		AvailableRAM: vm.Available,
		LogicalCPUs:  cpus,
	}, nil
}

// LowMemory reports whether offloaded weights of the given size would not fit
// in the RAM currently available.
func (r Resources) LowMemory(need int64) bool {
	return need > 0 && uint64(need) > r.AvailableRAM
}

// HumanBytes formats a byte count with a binary unit, e.g. "12.5 GiB".
func HumanBytes(n uint64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := uint64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// FindLatestJob returns the most recently modified .json file in dir.
func FindLatestJob(dir string) (string, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		return "", err
	}

	var latestFile string
	var latestTime time.Time

	for _, f := range files {
		if f.IsDir() || !strings.HasSuffix(strings.ToLower(f.Name()), ".json") {
			continue
		}
		info, err := f.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(latestTime) {
			latestTime = info.ModTime()
			latestFile = filepath.Join(dir, f.Name())
		}
	}

	if latestFile == "" {
		return "", fmt.Errorf("no job files found in %s", dir)
	}
	return latestFile, nil
}

// VideoInfo is what ffprobe reports about a finished clip.
type VideoInfo struct {
	Width     int     `yaml:"width"`
	Height    int     `yaml:"height"`
	Frames    int     `yaml:"frames"`
	FrameRate float64 `yaml:"frame_rate"`
	Duration  float64 `yaml:"duration"`
}

type probeOutput struct {
	Streams []struct {
		Width      int    `json:"width"`
		Height     int    `json:"height"`
		NbFrames   string `json:"nb_frames"`
		RFrameRate string `json:"r_frame_rate"`
	} `json:"streams"`
	Format struct {
		Duration string `json:"duration"`
	} `json:"format"`
}

func GetVideoInfo(ctx context.Context, path string) (VideoInfo, error) {
	cmd := exec.CommandContext(ctx, "ffprobe",
		"-v", "error",
		"-select_streams", "v:0",
		"-show_entries", "stream=width,height,nb_frames,r_frame_rate:format=duration",
		"-of", "json",
		path,
	)
	out, err := cmd.Output()
	if err != nil {
		return VideoInfo{}, fmt.Errorf("ffprobe %s: %w", path, err)
	}
	return parseProbe(out)
}

func parseProbe(data []byte) (VideoInfo, error) {
	var p probeOutput
	if err := json.Unmarshal(data, &p); err != nil {
		return VideoInfo{}, fmt.Errorf("decode ffprobe output: %w", err)
	}
	if len(p.Streams) == 0 {
		return VideoInfo{}, fmt.Errorf("no video stream")
	}

	s := p.Streams[0]
	info := VideoInfo{Width: s.Width, Height: s.Height}
	info.Frames, _ = strconv.Atoi(s.NbFrames)
	info.Duration, _ = strconv.ParseFloat(p.Format.Duration, 64)

	if num, den, ok := strings.Cut(s.RFrameRate, "/"); ok {
		n, err1 := strconv.ParseFloat(num, 64)
		d, err2 := strconv.ParseFloat(den, 64)
		if err1 == nil && err2 == nil && d != 0 {
			info.FrameRate = n / d
		}
	}
	return info, nil
}

package system

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFindLatestJob(t *testing.T) {
	dir := t.TempDir()
	names := []string{"a.json", "b.JSON", "c.json", "notes.txt"}
	base := time.Now().Add(-time.Hour)
	for i, n := range names {
		p := filepath.Join(dir, n)
		require.NoError(t, os.WriteFile(p, []byte("{}"), 0644))
		mt := base.Add(time.Duration(i) * time.Minute)
		require.NoError(t, os.Chtimes(p, mt, mt))
	}
	require.NoError(t, os.Mkdir(filepath.Join(dir, "z.json"), 0755))

	latest, err := FindLatestJob(dir)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "c.json"), latest)
}

func TestFindLatestJobEmpty(t *testing.T) {
	_, err := FindLatestJob(t.TempDir())
	assert.Error(t, err)

	_, err = FindLatestJob(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}

func TestParseProbe(t *testing.T) {
	out := []byte(`{
		"programs": [],
		"streams": [{"width": 832, "height": 480, "r_frame_rate": "15/1", "nb_frames": "81"}],
		"format": {"duration": "5.400000"}
	}`)

	info, err := parseProbe(out)
	require.NoError(t, err)
	assert.Equal(t, VideoInfo{Width: 832, Height: 480, Frames: 81, FrameRate: 15, Duration: 5.4}, info)
}

func TestParseProbeNoStream(t *testing.T) {
	_, err := parseProbe([]byte(`{"streams": [], "format": {}}`))
	assert.Error(t, err)

	_, err = parseProbe([]byte(`not json`))
	assert.Error(t, err)
}

func TestHumanBytes(t *testing.T) {
	assert.Equal(t, "512 B", HumanBytes(512))
	assert.Equal(t, "1.5 KiB", HumanBytes(1536))
	assert.Equal(t, "2.0 GiB", HumanBytes(2<<30))
}

func TestLowMemory(t *testing.T) {
	r := Resources{AvailableRAM: 1 << 30}
	assert.True(t, r.LowMemory(2<<30))
	assert.False(t, r.LowMemory(1<<20))
	assert.False(t, r.LowMemory(0))
}

func TestHostResources(t *testing.T) {
	res, err := HostResources(context.Background())
	if err != nil {
		t.Skipf("host stats unavailable: %v", err)
	}
	assert.NotZero(t, res.TotalRAM)
	assert.Positive(t, res.LogicalCPUs)
}

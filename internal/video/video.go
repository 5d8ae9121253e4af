package video

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/png"
	"io"
	"os"
	"os/exec"

	"golang.org/x/image/draw"
)

// PosterExtractor produces a still preview image for a generated clip.
type PosterExtractor interface {
	ExtractPoster(ctx context.Context, videoPath, posterPath string, width, height int) error
}

// FFmpegPoster grabs the first frame through ffmpeg and downscales it.
type FFmpegPoster struct {
	MaxWidth int
}

func (e *FFmpegPoster) ExtractPoster(ctx context.Context, videoPath, posterPath string, width, height int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", width, height)
	}

	args := e.buildFFmpegArgs(videoPath, width, height)
	cmd := exec.CommandContext(ctx, "ffmpeg", args...)

	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe error: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start error: %w", err)
	}

	frame, readErr := readRawRGBA(stdout, width, height)
	// drain so ffmpeg can exit even if we stopped early
	io.Copy(io.Discard, stdout)

	if err := cmd.Wait(); err != nil {
		return fmt.Errorf("ffmpeg wait error: %w, output: %s", err, stderr.String())
	}
	if readErr != nil {
		return fmt.Errorf("read frame error: %w", readErr)
	}

	return writePNG(posterPath, Downscale(frame, e.MaxWidth))
}

func (e *FFmpegPoster) buildFFmpegArgs(videoPath string, width, height int) []string {
	return []string{
		"-v", "error",
		"-i", videoPath,
		"-frames:v", "1",
		"-vf", fmt.Sprintf("scale=%d:%d", width, height),
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-",
	}
}

// readRawRGBA reads exactly one width x height RGBA frame.
func readRawRGBA(r io.Reader, width, height int) (*image.RGBA, error) {
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	if _, err := io.ReadFull(r, img.Pix); err != nil {
		return nil, err
	}
	return img, nil
}

// Downscale shrinks img to maxWidth keeping the aspect ratio. Images that
// already fit, or a non-positive maxWidth, are returned unchanged.
func Downscale(img image.Image, maxWidth int) image.Image {
	b := img.Bounds()
	if maxWidth <= 0 || b.Dx() <= maxWidth {
		return img
	}

	h := b.Dy() * maxWidth / b.Dx()
	if h < 1 {
		h = 1
	}
	dst := image.NewRGBA(image.Rect(0, 0, maxWidth, h))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(f, img); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

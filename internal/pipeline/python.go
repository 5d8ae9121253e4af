package pipeline

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/ivlev/holocine/internal/config"
)

//go:embed bridge.py
var bridgeScript string

// stderrTailSize bounds how much child stderr is kept for error reports.
const stderrTailSize = 4096

// GenerationError is returned when the inference process exits unsuccessfully.
type GenerationError struct {
	ExitCode int
	Stderr   string
	Err      error
}

func (e *GenerationError) Error() string {
	msg := fmt.Sprintf("inference exited with code %d", e.ExitCode)
	if tail := strings.TrimSpace(e.Stderr); tail != "" {
		lines := strings.Split(tail, "\n")
		msg += ": " + lines[len(lines)-1]
	}
	return msg
}

func (e *GenerationError) Unwrap() error {
	return e.Err
}

// PythonGenerator runs the external inference entry point in a child
// interpreter. The handle and request are sent as JSON on stdin.
type PythonGenerator struct {
	Python  string
	Module  string
	WorkDir string
	Env     []string
	Logger  *log.Logger
}

// NewPythonGenerator configures a generator from runtime settings.
func NewPythonGenerator(cfg *config.Config, logger *log.Logger) *PythonGenerator {
	if logger == nil {
		logger = log.Default()
	}
	return &PythonGenerator{
		Python:  cfg.Python,
		Module:  cfg.InferenceModule,
		WorkDir: cfg.CodeDir,
		Env:     cfg.ChildEnv(),
		Logger:  logger.WithPrefix("inference"),
	}
}

type bridgePayload struct {
	Module  string  `json:"module"`
	Handle  Handle  `json:"handle"`
	Request Request `json:"request"`
}

func (g *PythonGenerator) Generate(ctx context.Context, h Handle, req Request) error {
	payload, err := json.Marshal(bridgePayload{Module: g.Module, Handle: h, Request: req})
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	cmd := g.command(ctx, payload)

	tail := &tailBuffer{max: stderrTailSize}
	stdout := &lineWriter{emit: func(line string) { g.Logger.Info(line) }}
	stderr := &lineWriter{emit: func(line string) { g.Logger.Debug(line) }}
	cmd.Stdout = stdout
	cmd.Stderr = io.MultiWriter(tail, stderr)

	g.Logger.Debug("starting", "python", g.Python, "dir", g.WorkDir, "module", g.Module)
	err = cmd.Run()
	stdout.Flush()
	stderr.Flush()

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return &GenerationError{ExitCode: exitErr.ExitCode(), Stderr: tail.String(), Err: err}
		}
		return fmt.Errorf("run %s: %w", g.Python, err)
	}
	return nil
}

func (g *PythonGenerator) command(ctx context.Context, payload []byte) *exec.Cmd {
	cmd := exec.CommandContext(ctx, g.Python, "-c", bridgeScript)
	cmd.Dir = g.WorkDir
	cmd.Env = append(os.Environ(), g.Env...)
	cmd.Env = append(cmd.Env, "PYTHONUNBUFFERED=1")
	cmd.Stdin = bytes.NewReader(payload)
	return cmd
}

// lineWriter splits a byte stream into lines and hands each to emit.
type lineWriter struct {
	buf  bytes.Buffer
	emit func(string)
}

func (w *lineWriter) Write(p []byte) (int, error) {
	w.buf.Write(p)
	for {
		line, err := w.buf.ReadString('\n')
		if err != nil {
			// incomplete line, keep it for the next write
			w.buf.Reset()
			w.buf.WriteString(line)
			break
		}
		if s := strings.TrimRight(line, "\r\n"); s != "" {
			w.emit(s)
		}
	}
	return len(p), nil
}

func (w *lineWriter) Flush() {
	if s := strings.TrimRight(w.buf.String(), "\r\n"); s != "" {
		w.emit(s)
	}
	w.buf.Reset()
}

// tailBuffer keeps the last max bytes written to it.
type tailBuffer struct {
	max int
	buf []byte
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.max; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	return string(t.buf)
}

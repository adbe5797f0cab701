package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// ImageTypes are the MIME types routed to OCR.
var ImageTypes = []string{
	"image/png",
	"image/jpeg",
	"image/tiff",
	"image/bmp",
	"image/gif",
	"image/webp",
}

// CommandRunner executes an external program and returns its stdout.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) ([]byte, error)
}

// ExecRunner runs commands with os/exec.
type ExecRunner struct{}

func (ExecRunner) Run(ctx context.Context, name string, args ...string) ([]byte, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return nil, fmt.Errorf("%s: %w: %s", name, err, msg)
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return stdout.Bytes(), nil
}

// Image runs tesseract over the image bytes.
type Image struct {
	runner    CommandRunner
	command   string
	languages string
}

// NewImage builds the OCR strategy. Empty values fall back to tesseract/eng
// and the exec runner.
func NewImage(runner CommandRunner, command, languages string) *Image {
	if runner == nil {
		runner = ExecRunner{}
	}
	if strings.TrimSpace(command) == "" {
		command = "tesseract"
	}
	if strings.TrimSpace(languages) == "" {
		languages = "eng"
	}
	return &Image{runner: runner, command: command, languages: languages}
}

func (*Image) Name() string { return "ocr" }

func (s *Image) Extract(ctx context.Context, data []byte, _ string) (string, error) {
	if len(data) == 0 {
		return "", errors.New("empty image data")
	}

	tmp, err := os.CreateTemp("", "ocr-*")
	if err != nil {
		return "", fmt.Errorf("ocr temp file: %w", err)
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return "", fmt.Errorf("ocr temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("ocr temp file: %w", err)
	}

	out, err := s.runner.Run(ctx, s.command, tmp.Name(), "stdout", "-l", s.languages)
	if err != nil {
		return "", fmt.Errorf("ocr: %w", err)
	}
	return strings.TrimSpace(string(out)), nil
}

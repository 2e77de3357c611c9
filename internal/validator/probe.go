package validator

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"
)

// DefaultProbeTimeout bounds a single ffprobe invocation.
const DefaultProbeTimeout = 5 * time.Second

// FFProbe estimates audio duration by piping the upload through ffprobe.
type FFProbe struct {
	Path    string
	Timeout time.Duration
}

// NewFFProbe creates a probe using the given ffprobe binary.
func NewFFProbe(path string) *FFProbe {
	return &FFProbe{Path: path, Timeout: DefaultProbeTimeout}
}

// Estimate returns the audio duration in seconds. Any subprocess failure,
// timeout or unparseable output is returned as an error; callers fall back
// to the size heuristic.
func (p *FFProbe) Estimate(ctx context.Context, data []byte) (float64, error) {
	timeout := p.Timeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, p.Path,
		"-v", "quiet",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		"-i", "pipe:0",
	)
	cmd.Stdin = bytes.NewReader(data)

	out, err := cmd.Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe: %w", err)
	}

	duration, err := strconv.ParseFloat(strings.TrimSpace(string(out)), 64)
	if err != nil {
		return 0, fmt.Errorf("parse ffprobe output %q: %w", strings.TrimSpace(string(out)), err)
	}

	return duration, nil
}

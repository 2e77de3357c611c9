package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

// WhisperCLI runs transcriptions through the whisper.cpp command line binary.
type WhisperCLI struct {
	Executable string
	Logger     *zap.Logger
}

// NewWhisperCLI creates an engine backed by the given whisper-cli binary.
func NewWhisperCLI(executable string, logger *zap.Logger) *WhisperCLI {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WhisperCLI{Executable: executable, Logger: logger}
}

// Transcribe invokes whisper-cli with JSON output and parses the transcript.
func (w *WhisperCLI) Transcribe(ctx context.Context, req Request) (Result, error) {
	if strings.TrimSpace(req.AudioPath) == "" {
		return Result{}, errors.New("audio path is required")
	}
	if strings.TrimSpace(req.Model.Path) == "" {
		return Result{}, errors.New("model path is required")
	}

	outBase := filepath.Join(os.TempDir(), fmt.Sprintf("whisperd-%d", time.Now().UnixNano()))
	jsonOut := outBase + ".json"

	args := []string{
		"-m", req.Model.Path,
		"-f", req.AudioPath,
		"-oj",
		"-of", outBase,
		"-np",
	}
	lang := strings.TrimSpace(req.Language)
	if lang != "" && lang != "auto" {
		args = append(args, "-l", lang)
	}
	if req.Temperature > 0 {
		args = append(args, "--temperature", strconv.FormatFloat(req.Temperature, 'f', -1, 64))
	}

	cmd := exec.CommandContext(ctx, w.Executable, args...)
	var stderr bytes.Buffer
	cmd.Stdout = io.Discard
	cmd.Stderr = &stderr

	w.Logger.Debug("running whisper engine",
		zap.String("engine", w.Executable),
		zap.Strings("args", args))

	if err := cmd.Run(); err != nil {
		errText := strings.TrimSpace(stderr.String())
		if errText != "" {
			return Result{}, fmt.Errorf("whisper transcribe failed: %w (%s)", err, errText)
		}
		return Result{}, fmt.Errorf("whisper transcribe failed: %w", err)
	}

	defer os.Remove(jsonOut)
	data, err := os.ReadFile(jsonOut)
	if err != nil {
		return Result{}, fmt.Errorf("read whisper output: %w", err)
	}

	return parseOutput(data)
}

// whisper.cpp -oj output shape.
type cliOutput struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

func parseOutput(data []byte) (Result, error) {
	var out cliOutput
	if err := json.Unmarshal(data, &out); err != nil {
		return Result{}, fmt.Errorf("parse whisper output: %w", err)
	}

	res := Result{Language: out.Result.Language}

	var parts []string
	for i, seg := range out.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" {
			continue
		}
		parts = append(parts, text)
		res.Segments = append(res.Segments, Segment{
			ID:    i,
			Start: float64(seg.Offsets.From) / 1000,
			End:   float64(seg.Offsets.To) / 1000,
			Text:  text,
		})
	}

	res.Text = strings.Join(parts, " ")
	if n := len(res.Segments); n > 0 {
		res.Duration = res.Segments[n-1].End
	}

	return res, nil
}

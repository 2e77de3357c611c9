// Package validator provides audio upload validation: size limits, format
// detection, integrity checks and duration bounding. All checks run before a
// job is admitted to the expensive transcription stage.
package validator

import (
	"bytes"
	"context"
	"mime"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"whisperd/internal/apperr"
)

// webmMagic is the EBML header that starts WebM (and Matroska) files.
var webmMagic = []byte{0x1a, 0x45, 0xdf, 0xa3}

// magicNumbers maps known byte prefixes to formats, checked in order against
// the first 12 bytes.
var magicNumbers = []struct {
	prefix []byte
	format string
}{
	{[]byte("ID3"), "mp3"},
	{[]byte{0xff, 0xfb}, "mp3"},
	{[]byte{0xff, 0xf3}, "mp3"},
	{[]byte("RIFF"), "wav"},
	{[]byte("fLaC"), "flac"},
	{[]byte("OggS"), "ogg"},
	{webmMagic, "webm"},
}

// mimeToFormat maps declared MIME types to formats.
var mimeToFormat = map[string]string{
	"audio/mpeg":  "mp3",
	"audio/mp3":   "mp3",
	"audio/wav":   "wav",
	"audio/wave":  "wav",
	"audio/x-wav": "wav",
	"audio/mp4":   "m4a",
	"audio/m4a":   "m4a",
	"audio/x-m4a": "m4a",
	"video/mp4":   "mp4",
	"audio/webm":  "webm",
	"video/webm":  "webm",
}

// Result is the outcome of a successful validation.
type Result struct {
	Format   string
	Duration float64
	// Estimated is true when Duration came from the size heuristic rather
	// than the probe.
	Estimated bool
}

// DurationProbe estimates audio duration. Implementations must treat any
// failure as "unavailable"; the validator falls back to a size heuristic.
type DurationProbe interface {
	Estimate(ctx context.Context, data []byte) (float64, error)
}

// Validator validates raw audio uploads. It holds no mutable state and is
// safe for concurrent use.
type Validator struct {
	maxFileSize int64
	maxDuration float64
	allowed     []string
	probe       DurationProbe
	logger      *zap.Logger
}

// New creates a validator. probe may be nil, in which case duration is always
// estimated from file size.
func New(maxFileSize int64, maxDuration float64, allowedFormats []string, probe DurationProbe, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{
		maxFileSize: maxFileSize,
		maxDuration: maxDuration,
		allowed:     allowedFormats,
		probe:       probe,
		logger:      logger,
	}
}

// Validate runs the full pipeline: size check, format detection, integrity
// check, duration estimation and duration check. Each stage is cheaper than
// the next. Failures are classified apperr errors.
func (v *Validator) Validate(ctx context.Context, data []byte, filename, declaredMime string) (Result, error) {
	if int64(len(data)) > v.maxFileSize {
		return Result{}, apperr.FileTooLarge(int64(len(data)), v.maxFileSize)
	}

	format, err := v.detectFormat(data, filename, declaredMime)
	if err != nil {
		return Result{}, err
	}
	v.logger.Debug("format detected", zap.String("filename", filename), zap.String("format", format))

	if err := checkIntegrity(data, format); err != nil {
		return Result{}, err
	}

	duration, estimated := v.estimateDuration(ctx, data)
	v.logger.Debug("duration checked",
		zap.String("filename", filename),
		zap.Float64("duration", duration),
		zap.Bool("estimated", estimated))

	if duration > v.maxDuration {
		return Result{}, apperr.DurationExceeded(duration, v.maxDuration)
	}

	return Result{Format: format, Duration: duration, Estimated: estimated}, nil
}

// detectFormat runs the three detection tiers in order: file extension,
// declared MIME type, magic numbers. The first tier that yields an allowed
// format wins.
func (v *Validator) detectFormat(data []byte, filename, declaredMime string) (string, error) {
	ext := strings.TrimPrefix(strings.ToLower(filepath.Ext(filename)), ".")
	if v.isAllowed(ext) {
		return ext, nil
	}

	if declaredMime != "" {
		mediaType, _, err := mime.ParseMediaType(declaredMime)
		if err == nil {
			if format, ok := mimeToFormat[mediaType]; ok && v.isAllowed(format) {
				return format, nil
			}
		}
	}

	if format := detectByMagicNumber(data); format != "" && v.isAllowed(format) {
		return format, nil
	}

	return "", apperr.UnsupportedFormat("unknown", v.allowed)
}

func (v *Validator) isAllowed(format string) bool {
	if format == "" {
		return false
	}
	for _, allowed := range v.allowed {
		if format == allowed {
			return true
		}
	}
	return false
}

// detectByMagicNumber inspects the first 12 bytes against known prefixes.
// Returns "" when nothing matches.
func detectByMagicNumber(data []byte) string {
	header := data
	if len(header) > 12 {
		header = header[:12]
	}

	for _, magic := range magicNumbers {
		if bytes.HasPrefix(header, magic.prefix) {
			return magic.format
		}
	}

	// MP4 family: ftyp box marker sits after the 4-byte box size.
	if len(header) >= 8 && bytes.Equal(header[4:8], []byte("ftyp")) {
		return "mp4"
	}

	return ""
}

// checkIntegrity verifies format-specific markers in the first 1KB. MP3 has
// no mandatory prefix; a frameless mp3 is tolerated here and surfaces later
// as an engine failure instead.
func checkIntegrity(data []byte, format string) error {
	if len(data) == 0 {
		return apperr.CorruptedFile("file is empty")
	}

	chunk := data
	if len(chunk) > 1024 {
		chunk = chunk[:1024]
	}

	switch format {
	case "wav":
		if !bytes.HasPrefix(chunk, []byte("RIFF")) {
			return apperr.CorruptedFile("invalid WAV file header")
		}
	case "mp4", "m4a":
		if !bytes.Contains(chunk, []byte("ftyp")) {
			return apperr.CorruptedFile("invalid MP4/M4A file header")
		}
	case "webm":
		if !bytes.Contains(chunk, webmMagic) {
			return apperr.CorruptedFile("invalid WebM file header")
		}
	}

	return nil
}

// estimateDuration asks the probe first and falls back to a size heuristic
// assuming roughly 1MB per minute at 128kbps.
func (v *Validator) estimateDuration(ctx context.Context, data []byte) (duration float64, estimated bool) {
	if v.probe != nil {
		d, err := v.probe.Estimate(ctx, data)
		if err == nil {
			return d, false
		}
		v.logger.Warn("duration probe unavailable, using size estimate", zap.Error(err))
	}

	sizeMB := float64(len(data)) / (1024 * 1024)
	return sizeMB * 60, true
}

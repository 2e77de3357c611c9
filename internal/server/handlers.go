package server

import (
	"io"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"whisperd/internal/apperr"
	"whisperd/internal/engine"
	"whisperd/internal/service"
)

// transcribeResponse is the default JSON response shape.
type transcribeResponse struct {
	Text string `json:"text"`
}

// verboseTranscribeResponse is returned for response_format=verbose_json.
type verboseTranscribeResponse struct {
	Task     string           `json:"task"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Text     string           `json:"text"`
	Segments []engine.Segment `json:"segments"`
}

// handleTranscribe services POST /v1/audio/transcriptions: multipart audio
// upload, optional model/language/response_format/temperature fields.
func (s *Server) handleTranscribe(w http.ResponseWriter, r *http.Request) {
	requestID := RequestID(r.Context())

	file, header, err := r.FormFile("file")
	if err != nil {
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		s.logger.Error("failed to read upload", zap.Error(err), zap.String("request_id", requestID))
		http.Error(w, "failed to read upload", http.StatusBadRequest)
		return
	}

	if len(data) == 0 {
		writeError(w, r, apperr.UnsupportedFormat("empty", s.allowedFormats))
		return
	}

	filename := header.Filename
	if filename == "" {
		filename = "audio.mp3"
	}

	params := service.Params{
		Model:          r.FormValue("model"),
		Language:       r.FormValue("language"),
		ResponseFormat: r.FormValue("response_format"),
	}
	if raw := r.FormValue("temperature"); raw != "" {
		temp, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			http.Error(w, "invalid temperature", http.StatusBadRequest)
			return
		}
		params.Temperature = temp
	}

	s.logger.Info("received transcription request",
		zap.String("filename", filename),
		zap.String("content_type", header.Header.Get("Content-Type")),
		zap.String("language", params.Language),
		zap.String("response_format", params.ResponseFormat),
		zap.String("request_id", requestID))

	result, err := s.svc.Transcribe(r.Context(), data, filename, header.Header.Get("Content-Type"), params, requestID)
	if err != nil {
		writeError(w, r, err)
		return
	}

	switch params.ResponseFormat {
	case "text":
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		io.WriteString(w, result.Text)
	case "verbose_json":
		segments := result.Segments
		if segments == nil {
			segments = []engine.Segment{}
		}
		writeJSON(w, http.StatusOK, verboseTranscribeResponse{
			Task:     "transcribe",
			Language: result.Language,
			Duration: result.Duration,
			Text:     result.Text,
			Segments: segments,
		})
	default:
		writeJSON(w, http.StatusOK, transcribeResponse{Text: result.Text})
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	Workers       any    `json:"workers"`
	ModelLoaded   bool   `json:"model_loaded"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// handleHealth services GET /health with a non-blocking snapshot.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:        "healthy",
		Workers:       s.pool.GetStatus(),
		ModelLoaded:   s.handle.IsLoaded(),
		UptimeSeconds: int64(time.Since(s.started).Seconds()),
	})
}

// handleRoot services GET / with API information.
func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"name":        "whisperd",
		"version":     version,
		"description": "HTTP server for audio transcription with admission-controlled workers",
		"endpoints": map[string]string{
			"transcribe": "/v1/audio/transcriptions",
			"health":     "/health",
		},
	})
}

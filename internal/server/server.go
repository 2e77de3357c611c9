// Package server exposes the HTTP API: transcription upload, health and API
// info endpoints.
package server

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"whisperd/internal/apperr"
	"whisperd/internal/model"
	"whisperd/internal/service"
	"whisperd/internal/worker"
)

const version = "0.1.0"

// multipart framing adds overhead on top of the audio payload, so the
// request-level limit sits above the file size limit.
const uploadSlack = 1 << 20

// Server wires the HTTP surface to the transcription service.
type Server struct {
	svc            *service.Transcriber
	pool           *worker.Pool
	handle         *model.Handle
	logger         *zap.Logger
	maxFileSize    int64
	allowedFormats []string
	started        time.Time
}

// New creates the HTTP server front end.
func New(svc *service.Transcriber, pool *worker.Pool, handle *model.Handle, maxFileSize int64, allowedFormats []string, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		svc:            svc,
		pool:           pool,
		handle:         handle,
		logger:         logger,
		maxFileSize:    maxFileSize,
		allowedFormats: allowedFormats,
		started:        time.Now(),
	}
}

// Handler returns the full handler chain: CORS, request ID, access logging,
// size limit, then the router.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/v1/audio/transcriptions", s.handleTranscribe).Methods(http.MethodPost)
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/", s.handleRoot).Methods(http.MethodGet)

	var h http.Handler = r
	h = requestSizeMiddleware(s.maxFileSize + uploadSlack)(h)
	h = loggingMiddleware(s.logger)(h)
	h = requestIDMiddleware(h)
	h = corsMiddleware(h)
	return h
}

type errorBody struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
	RequestID string `json:"request_id"`
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := apperr.StatusOf(err)

	var body errorBody
	body.RequestID = RequestID(r.Context())
	body.Error.Type = string(apperr.KindOf(err))
	body.Error.Code = strconv.Itoa(status)

	if classified, ok := apperr.As(err); ok {
		body.Error.Message = classified.Message
	} else {
		body.Error.Message = "Internal server error"
	}

	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

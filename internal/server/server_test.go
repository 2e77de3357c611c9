package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"whisperd/internal/engine"
	"whisperd/internal/model"
	"whisperd/internal/service"
	"whisperd/internal/validator"
	"whisperd/internal/worker"
)

type stubEngine struct {
	block   chan struct{}
	started chan struct{}
	result  engine.Result
}

func (e *stubEngine) Transcribe(context.Context, engine.Request) (engine.Result, error) {
	if e.started != nil {
		e.started <- struct{}{}
	}
	if e.block != nil {
		<-e.block
	}
	return e.result, nil
}

type fixedProbe struct{ d float64 }

func (p fixedProbe) Estimate(context.Context, []byte) (float64, error) { return p.d, nil }

func newTestHandler(t *testing.T, eng engine.Engine, capacity int) (http.Handler, *worker.Pool) {
	t.Helper()

	handle := model.NewHandle("test", func(context.Context) (model.Ref, error) {
		return model.Ref{Name: "test", Path: "/models/test.bin"}, nil
	}, nil)
	pool := worker.NewPool(1, capacity, handle, eng, nil)
	pool.Start()
	t.Cleanup(func() { pool.Stop(time.Second) })

	v := validator.New(25*1024*1024, 1500, []string{"mp3", "wav"}, fixedProbe{d: 5}, nil)
	svc := service.New(v, pool, "", t.TempDir(), nil)
	srv := New(svc, pool, handle, 25*1024*1024, []string{"mp3", "wav"}, nil)
	return srv.Handler(), pool
}

func multipartBody(t *testing.T, filename string, data []byte, fields map[string]string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	fw, err := w.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	for k, v := range fields {
		require.NoError(t, w.WriteField(k, v))
	}
	require.NoError(t, w.Close())
	return &buf, w.FormDataContentType()
}

func postTranscription(t *testing.T, h http.Handler, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()

	body, contentType := multipartBody(t, filename, data, fields)
	req := httptest.NewRequest(http.MethodPost, "/v1/audio/transcriptions", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestTranscribeJSONResponse(t *testing.T) {
	t.Parallel()

	eng := &stubEngine{result: engine.Result{Text: "hello", Language: "en", Duration: 2}}
	h, _ := newTestHandler(t, eng, 2)

	rec := postTranscription(t, h, "clip.mp3", []byte("ID3 audio"), nil)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "hello", resp["text"])
	require.NotEmpty(t, rec.Header().Get("X-Request-ID"))
}

func TestTranscribeTextResponse(t *testing.T) {
	t.Parallel()

	eng := &stubEngine{result: engine.Result{Text: "plain words"}}
	h, _ := newTestHandler(t, eng, 2)

	rec := postTranscription(t, h, "clip.mp3", []byte("ID3 audio"), map[string]string{"response_format": "text"})
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	require.Equal(t, "plain words", rec.Body.String())
}

func TestTranscribeVerboseJSONResponse(t *testing.T) {
	t.Parallel()

	eng := &stubEngine{result: engine.Result{
		Text:     "two segments",
		Language: "en",
		Duration: 8.5,
		Segments: []engine.Segment{
			{ID: 0, Start: 0, End: 4, Text: "two"},
			{ID: 1, Start: 4, End: 8.5, Text: "segments"},
		},
	}}
	h, _ := newTestHandler(t, eng, 2)

	rec := postTranscription(t, h, "clip.mp3", []byte("ID3 audio"), map[string]string{"response_format": "verbose_json"})
	require.Equal(t, http.StatusOK, rec.Code)

	var resp verboseTranscribeResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "transcribe", resp.Task)
	require.Equal(t, "en", resp.Language)
	require.Equal(t, 8.5, resp.Duration)
	require.Len(t, resp.Segments, 2)
}

func TestRejectUnknownFormat(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, &stubEngine{}, 2)

	rec := postTranscription(t, h, "test.xyz", []byte("invalid data"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "invalid_file_format", resp.Error.Type)
	require.Equal(t, "400", resp.Error.Code)
	require.NotEmpty(t, resp.RequestID)
}

func TestRejectWhenSaturated(t *testing.T) {
	t.Parallel()

	eng := &stubEngine{block: make(chan struct{}), started: make(chan struct{}, 1)}
	h, pool := newTestHandler(t, eng, 1)

	done := make(chan struct{})
	go func() {
		defer close(done)
		postTranscription(t, h, "a.mp3", []byte("ID3 one"), nil)
	}()
	<-eng.started
	require.Equal(t, 1, pool.GetStatus().ActiveRequests)

	rec := postTranscription(t, h, "b.mp3", []byte("ID3 two"), nil)
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)

	var resp errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "server_busy", resp.Error.Type)

	close(eng.block)
	<-done
}

func TestOversizedContentLengthRejectedEarly(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, &stubEngine{}, 2)

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/transcriptions", bytes.NewReader([]byte("x")))
	req.Header.Set("Content-Type", "multipart/form-data; boundary=x")
	req.ContentLength = 100 * 1024 * 1024
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)

	var resp errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "file_too_large", resp.Error.Type)
}

func TestEmptyUploadRejected(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, &stubEngine{}, 2)

	rec := postTranscription(t, h, "a.mp3", nil, nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	var resp errorBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "invalid_file_format", resp.Error.Type)
	require.Contains(t, resp.Error.Message, "empty")
}

func TestMissingFileField(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, &stubEngine{}, 2)

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	require.NoError(t, w.WriteField("language", "en"))
	require.NoError(t, w.Close())

	req := httptest.NewRequest(http.MethodPost, "/v1/audio/transcriptions", &buf)
	req.Header.Set("Content-Type", w.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthEndpoint(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, &stubEngine{}, 2)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Status      string        `json:"status"`
		Workers     worker.Status `json:"workers"`
		ModelLoaded bool          `json:"model_loaded"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "healthy", resp.Status)
	require.Equal(t, 1, resp.Workers.NumWorkers)
	require.Equal(t, 2, resp.Workers.MaxConcurrent)
	require.False(t, resp.ModelLoaded)
}

func TestRequestIDEchoed(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, &stubEngine{}, 2)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestRootEndpoint(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, &stubEngine{}, 2)

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body, _ := io.ReadAll(rec.Body)
	require.Contains(t, string(body), "whisperd")
}

func TestCORSPreflight(t *testing.T) {
	t.Parallel()

	h, _ := newTestHandler(t, &stubEngine{}, 2)

	req := httptest.NewRequest(http.MethodOptions, "/v1/audio/transcriptions", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

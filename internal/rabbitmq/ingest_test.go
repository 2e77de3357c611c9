package rabbitmq

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"whisperd/internal/apperr"
	"whisperd/internal/service"
)

type fakePublisher struct {
	successes []TranscriptionResult
	errors    []string
	retries   []TranscriptionRequest
}

func (f *fakePublisher) PublishSuccess(requestID, text, language string, duration float64) error {
	f.successes = append(f.successes, TranscriptionResult{
		RequestID: requestID, Text: text, Language: language, Duration: duration, Success: true,
	})
	return nil
}

func (f *fakePublisher) PublishError(requestID, errorMessage string) error {
	f.errors = append(f.errors, requestID+": "+errorMessage)
	return nil
}

func (f *fakePublisher) PublishRetry(request TranscriptionRequest) error {
	f.retries = append(f.retries, request)
	return nil
}

type fakeTranscriber struct {
	result *service.Transcript
	err    error
	gotLen int
}

func (f *fakeTranscriber) Transcribe(_ context.Context, data []byte, _, _ string, _ service.Params, _ string) (*service.Transcript, error) {
	f.gotLen = len(data)
	return f.result, f.err
}

func newIngest(svc transcriber, pub publisher) *Ingest {
	return &Ingest{svc: svc, producer: pub, logger: zap.NewNop()}
}

func audioFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.mp3")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHandleSuccessPublishesResult(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	svc := &fakeTranscriber{result: &service.Transcript{Text: "hi", Language: "en", Duration: 2}}
	ing := newIngest(svc, pub)

	path := audioFile(t, "ID3 data")
	ing.handle(context.Background(), Delivery{Request: TranscriptionRequest{
		RequestID: "r1", AudioFilePath: path,
	}})

	require.Len(t, pub.successes, 1)
	require.Equal(t, "r1", pub.successes[0].RequestID)
	require.Equal(t, "hi", pub.successes[0].Text)
	require.Equal(t, len("ID3 data"), svc.gotLen)
	require.Empty(t, pub.errors)
	require.Empty(t, pub.retries)
}

func TestHandleMissingFilePublishesError(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	ing := newIngest(&fakeTranscriber{}, pub)

	ing.handle(context.Background(), Delivery{Request: TranscriptionRequest{
		RequestID: "r2", AudioFilePath: "/nope/missing.mp3",
	}})

	require.Len(t, pub.errors, 1)
	require.Contains(t, pub.errors[0], "Audio file not found")
	require.Empty(t, pub.retries)
}

func TestHandleTransientFailureRetries(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	svc := &fakeTranscriber{err: apperr.ServerBusy(4)}
	ing := newIngest(svc, pub)

	path := audioFile(t, "ID3 data")
	ing.handle(context.Background(), Delivery{Request: TranscriptionRequest{
		RequestID: "r3", AudioFilePath: path, RetryCount: 0,
	}})

	require.Len(t, pub.retries, 1)
	require.Equal(t, 1, pub.retries[0].RetryCount)
	require.Empty(t, pub.errors)
	require.Empty(t, pub.successes)
}

func TestHandleExhaustedRetriesPublishesError(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	svc := &fakeTranscriber{err: apperr.Transcription(os.ErrDeadlineExceeded)}
	ing := newIngest(svc, pub)

	path := audioFile(t, "ID3 data")
	ing.handle(context.Background(), Delivery{Request: TranscriptionRequest{
		RequestID: "r4", AudioFilePath: path, RetryCount: MaxRetries,
	}})

	require.Empty(t, pub.retries)
	require.Len(t, pub.errors, 1)
}

func TestHandlePermanentErrorNeverRetried(t *testing.T) {
	t.Parallel()

	pub := &fakePublisher{}
	svc := &fakeTranscriber{err: apperr.UnsupportedFormat("unknown", []string{"mp3"})}
	ing := newIngest(svc, pub)

	path := audioFile(t, "garbage")
	ing.handle(context.Background(), Delivery{Request: TranscriptionRequest{
		RequestID: "r5", AudioFilePath: path,
	}})

	require.Empty(t, pub.retries)
	require.Len(t, pub.errors, 1)
	require.Contains(t, pub.errors[0], "Unsupported file format")
}

func TestShouldRetry(t *testing.T) {
	t.Parallel()

	require.True(t, ShouldRetry(0))
	require.True(t, ShouldRetry(MaxRetries-1))
	require.False(t, ShouldRetry(MaxRetries))
}

package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"whisperd/internal/model"
)

func TestParseOutput(t *testing.T) {
	t.Parallel()

	data := []byte(`{
		"result": {"language": "en"},
		"transcription": [
			{"offsets": {"from": 0, "to": 4500}, "text": " Hello there."},
			{"offsets": {"from": 4500, "to": 9200}, "text": " General Kenobi."},
			{"offsets": {"from": 9200, "to": 9300}, "text": "  "}
		]
	}`)

	res, err := parseOutput(data)
	require.NoError(t, err)
	require.Equal(t, "Hello there. General Kenobi.", res.Text)
	require.Equal(t, "en", res.Language)
	require.Len(t, res.Segments, 2)
	require.Equal(t, 0.0, res.Segments[0].Start)
	require.Equal(t, 4.5, res.Segments[0].End)
	require.Equal(t, 9.2, res.Duration)
}

func TestParseOutputEmptyTranscription(t *testing.T) {
	t.Parallel()

	res, err := parseOutput([]byte(`{"result": {"language": "auto"}, "transcription": []}`))
	require.NoError(t, err)
	require.Empty(t, res.Text)
	require.Zero(t, res.Duration)
}

func TestParseOutputInvalidJSON(t *testing.T) {
	t.Parallel()

	_, err := parseOutput([]byte("not json"))
	require.Error(t, err)
}

func TestTranscribeRequiresPaths(t *testing.T) {
	t.Parallel()

	eng := NewWhisperCLI("whisper-cli", nil)

	_, err := eng.Transcribe(context.Background(), Request{Model: model.Ref{Path: "/m.bin"}})
	require.Error(t, err)

	_, err = eng.Transcribe(context.Background(), Request{AudioPath: "/a.wav"})
	require.Error(t, err)
}

package dashscope

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/grillmaster/grillmaster/internal/config"
	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/httpclient"
	"github.com/grillmaster/grillmaster/internal/models"
	"github.com/grillmaster/grillmaster/internal/providers"
)

const testTranscription = `{
  "file_url": "https://example.com/audio.opus",
  "transcripts": [
    {
      "channel_id": 0,
      "text": "こんにちは。",
      "sentences": [
        {"sentence_id": 1, "begin_time": 0, "end_time": 1800, "text": "こんにちは。", "words": []}
      ]
    }
  ]
}`

type fakeStaging struct {
	uploads  atomic.Int32
	deletes  atomic.Int32
	lastKey  string
	audioURL string
}

func (f *fakeStaging) Upload(ctx context.Context, key, localPath string) (string, error) {
	f.uploads.Add(1)
	f.lastKey = key
	return f.audioURL, nil
}

func (f *fakeStaging) Delete(key string) error {
	f.deletes.Add(1)
	return nil
}

func writeAudio(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "audio.opus")
	require.NoError(t, os.WriteFile(path, make([]byte, size), 0o644))
	return path
}

func newTestClient(cfg config.ASRConfig, st staging) *Client {
	if cfg.Model == "" {
		cfg.Model = "fun-asr"
	}
	if cfg.APIKey == "" {
		cfg.APIKey = "sk-test"
	}
	cfg.PollInterval = time.Millisecond
	if cfg.PollAttempts == 0 {
		cfg.PollAttempts = 5
	}
	return newWithDeps(cfg, httpclient.NewWithDefaults(), st)
}

func TestRunASR_Success(t *testing.T) {
	var polls atomic.Int32
	var submitHeaders http.Header
	var submitBody map[string]any

	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("POST /api/v1/services/audio/asr/transcription", func(w http.ResponseWriter, r *http.Request) {
		submitHeaders = r.Header.Clone()
		_ = json.NewDecoder(r.Body).Decode(&submitBody)
		_, _ = w.Write([]byte(`{"output":{"task_id":"task-1","task_status":"PENDING"}}`))
	})
	mux.HandleFunc("GET /api/v1/tasks/task-1", func(w http.ResponseWriter, r *http.Request) {
		if polls.Add(1) < 3 {
			_, _ = w.Write([]byte(`{"output":{"task_id":"task-1","task_status":"RUNNING"}}`))
			return
		}
		resp := map[string]any{"output": map[string]any{
			"task_id":     "task-1",
			"task_status": "SUCCEEDED",
			"results": []map[string]any{{
				"subtask_status":    "SUCCEEDED",
				"transcription_url": server.URL + "/result.json",
			}},
		}}
		_ = json.NewEncoder(w).Encode(resp)
	})
	mux.HandleFunc("GET /result.json", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testTranscription))
	})

	st := &fakeStaging{audioURL: "https://bucket.example.com/audio.opus"}
	client := newTestClient(config.ASRConfig{APIURL: server.URL}, st)

	dir := t.TempDir()
	req := providers.ASRRequest{
		ProjectID:      models.NewULID(),
		AudioPath:      writeAudio(t, 64),
		OutputJSONPath: filepath.Join(dir, "asr.json"),
		OutputSRTPath:  filepath.Join(dir, "asr.srt"),
	}
	require.NoError(t, client.RunASR(context.Background(), req))

	assert.Equal(t, "enable", submitHeaders.Get("X-DashScope-Async"))
	assert.Equal(t, "Bearer sk-test", submitHeaders.Get("Authorization"))
	assert.Equal(t, "fun-asr", submitBody["model"])
	input := submitBody["input"].(map[string]any)
	assert.Equal(t, []any{"https://bucket.example.com/audio.opus"}, input["file_urls"])
	params := submitBody["parameters"].(map[string]any)
	assert.Equal(t, []any{"ja"}, params["language_hints"])

	jsonData, err := os.ReadFile(req.OutputJSONPath)
	require.NoError(t, err)
	assert.JSONEq(t, testTranscription, string(jsonData))

	srtData, err := os.ReadFile(req.OutputSRTPath)
	require.NoError(t, err)
	assert.Contains(t, string(srtData), "こんにちは。")
	assert.Contains(t, string(srtData), "00:00:00,000 --> 00:00:01,800")

	assert.Equal(t, int32(1), st.uploads.Load())
	assert.Equal(t, int32(1), st.deletes.Load(), "staged audio is removed on success")
	assert.True(t, strings.HasPrefix(st.lastKey, "asr-staging/"+req.ProjectID.String()+"/"))
}

func TestRunASR_FailedTaskIsNotRetryable(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("POST /api/v1/services/audio/asr/transcription", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":{"task_id":"task-2","task_status":"PENDING"}}`))
	})
	mux.HandleFunc("GET /api/v1/tasks/task-2", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":{"task_id":"task-2","task_status":"FAILED"},"code":"InvalidFile","message":"unsupported codec"}`))
	})

	st := &fakeStaging{audioURL: "https://bucket.example.com/audio.opus"}
	client := newTestClient(config.ASRConfig{APIURL: server.URL}, st)

	dir := t.TempDir()
	err := client.RunASR(context.Background(), providers.ASRRequest{
		ProjectID:      models.NewULID(),
		AudioPath:      writeAudio(t, 64),
		OutputJSONPath: filepath.Join(dir, "asr.json"),
		OutputSRTPath:  filepath.Join(dir, "asr.srt"),
	})
	require.Error(t, err)
	assert.False(t, errs.IsRetryable(err))
	assert.Contains(t, err.Error(), "FAILED")
	assert.Contains(t, err.Error(), "unsupported codec")
	assert.Equal(t, int32(1), st.deletes.Load(), "staged audio is removed on failure too")
}

func TestRunASR_RateLimitedSubmitIsRetryable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
		_, _ = w.Write([]byte(`{"code":"Throttling","message":"rate limited"}`))
	}))
	defer server.Close()

	st := &fakeStaging{audioURL: "https://bucket.example.com/audio.opus"}
	client := newTestClient(config.ASRConfig{APIURL: server.URL}, st)

	dir := t.TempDir()
	err := client.RunASR(context.Background(), providers.ASRRequest{
		ProjectID:      models.NewULID(),
		AudioPath:      writeAudio(t, 64),
		OutputJSONPath: filepath.Join(dir, "asr.json"),
		OutputSRTPath:  filepath.Join(dir, "asr.srt"),
	})
	require.Error(t, err)
	assert.True(t, errs.IsRetryable(err))
	assert.Contains(t, err.Error(), "rate limited")
}

func TestRunASR_PollExhaustionIsRetryable(t *testing.T) {
	mux := http.NewServeMux()
	server := httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("POST /api/v1/services/audio/asr/transcription", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":{"task_id":"task-3","task_status":"PENDING"}}`))
	})
	mux.HandleFunc("GET /api/v1/tasks/task-3", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"output":{"task_id":"task-3","task_status":"RUNNING"}}`))
	})

	st := &fakeStaging{audioURL: "https://bucket.example.com/audio.opus"}
	cfg := config.ASRConfig{APIURL: server.URL, PollAttempts: 3}
	client := newTestClient(cfg, st)

	dir := t.TempDir()
	err := client.RunASR(context.Background(), providers.ASRRequest{
		ProjectID:      models.NewULID(),
		AudioPath:      writeAudio(t, 64),
		OutputJSONPath: filepath.Join(dir, "asr.json"),
		OutputSRTPath:  filepath.Join(dir, "asr.srt"),
	})
	require.Error(t, err)
	assert.True(t, errs.IsRetryable(err))
	assert.Contains(t, err.Error(), "did not finish within 3 polls")
}

func TestRunASR_OversizedAudioRejectedBeforeUpload(t *testing.T) {
	st := &fakeStaging{audioURL: "https://bucket.example.com/audio.opus"}
	cfg := config.ASRConfig{APIURL: "http://unused.invalid", MaxAudioSize: 16}
	client := newTestClient(cfg, st)

	dir := t.TempDir()
	err := client.RunASR(context.Background(), providers.ASRRequest{
		ProjectID:      models.NewULID(),
		AudioPath:      writeAudio(t, 64),
		OutputJSONPath: filepath.Join(dir, "asr.json"),
		OutputSRTPath:  filepath.Join(dir, "asr.srt"),
	})
	require.Error(t, err)
	assert.False(t, errs.IsRetryable(err))
	assert.Contains(t, err.Error(), "exceeding")
	assert.Equal(t, int32(0), st.uploads.Load())
}

// Package dashscope transcribes audio through Alibaba Cloud's DashScope
// asynchronous transcription API. The audio is staged in OSS so DashScope
// can fetch it, the task is polled until it settles, and the transcription
// JSON is normalized into SRT cues.
package dashscope

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/grillmaster/grillmaster/internal/config"
	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/eventlog"
	"github.com/grillmaster/grillmaster/internal/httpclient"
	"github.com/grillmaster/grillmaster/internal/providers"
	"github.com/grillmaster/grillmaster/internal/providers/ossbucket"
	"github.com/grillmaster/grillmaster/internal/subtitle"
)

const (
	stepName = "run_asr"

	defaultPollInterval = 2 * time.Second
	defaultPollAttempts = 600

	statusSucceeded = "SUCCEEDED"
	statusFailed    = "FAILED"
	statusCanceled  = "CANCELED"
)

// staging is the slice of the OSS layer the client uses.
type staging interface {
	Upload(ctx context.Context, key, localPath string) (string, error)
	Delete(key string) error
}

// Client runs DashScope transcription tasks.
type Client struct {
	cfg     config.ASRConfig
	http    *httpclient.Client
	staging staging
}

// New creates a live transcription client backed by the given OSS staging.
func New(cfg config.ASRConfig, st *ossbucket.Staging) *Client {
	return newWithDeps(cfg, httpclient.NewWithDefaults(), st)
}

func newWithDeps(cfg config.ASRConfig, hc *httpclient.Client, st staging) *Client {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	if cfg.PollAttempts <= 0 {
		cfg.PollAttempts = defaultPollAttempts
	}
	return &Client{cfg: cfg, http: hc, staging: st}
}

type submitResponse struct {
	RequestID string `json:"request_id"`
	Output    struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

type taskResponse struct {
	RequestID string `json:"request_id"`
	Output    struct {
		TaskID     string `json:"task_id"`
		TaskStatus string `json:"task_status"`
		Results    []struct {
			FileURL          string `json:"file_url"`
			TranscriptionURL string `json:"transcription_url"`
			SubtaskStatus    string `json:"subtask_status"`
			Message          string `json:"message"`
		} `json:"results"`
	} `json:"output"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// RunASR stages the audio, submits a transcription task, polls it to
// completion, and writes the transcription JSON plus the normalized SRT.
// The staged object is deleted whether the task succeeds or fails.
func (c *Client) RunASR(ctx context.Context, req providers.ASRRequest) error {
	if err := c.checkAudioSize(req.AudioPath); err != nil {
		return err
	}

	key := ossbucket.StagingKey(req.ProjectID)
	logInfo(ctx, req.Logger, fmt.Sprintf("Staging audio in OSS as %s", key))
	fileURL, err := c.staging.Upload(ctx, key, req.AudioPath)
	if err != nil {
		return err
	}
	defer func() {
		if delErr := c.staging.Delete(key); delErr != nil {
			logWarn(ctx, req.Logger, fmt.Sprintf("Failed to remove staged audio %s: %v", key, delErr))
		}
	}()

	taskID, err := c.submit(ctx, fileURL)
	if err != nil {
		return err
	}
	logInfo(ctx, req.Logger, fmt.Sprintf("Transcription task submitted: %s", taskID))

	transcriptionURL, err := c.poll(ctx, taskID, req.Logger)
	if err != nil {
		return err
	}

	payload, err := c.fetchTranscription(ctx, transcriptionURL)
	if err != nil {
		return err
	}
	if err := os.WriteFile(req.OutputJSONPath, payload, 0o644); err != nil {
		return errs.NewPipeline(stepName, "writing transcription JSON", false, err)
	}

	srt, err := subtitle.TranscriptionToSRT(payload)
	if err != nil {
		return errs.NewPipeline(stepName, "converting transcription to SRT", false, err)
	}
	if err := os.WriteFile(req.OutputSRTPath, []byte(srt), 0o644); err != nil {
		return errs.NewPipeline(stepName, "writing SRT", false, err)
	}
	logInfo(ctx, req.Logger, "Transcription completed")
	return nil
}

func (c *Client) checkAudioSize(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		return errs.NewPipeline(stepName, "reading audio file", false, err)
	}
	limit := int64(c.cfg.MaxAudioSize)
	if limit > 0 && info.Size() > limit {
		return errs.NewPipeline(stepName,
			fmt.Sprintf("audio file is %d bytes, exceeding the %d byte transcription limit", info.Size(), limit),
			false, nil)
	}
	return nil
}

func (c *Client) submit(ctx context.Context, fileURL string) (string, error) {
	body := map[string]any{
		"model": c.cfg.Model,
		"input": map[string]any{
			"file_urls": []string{fileURL},
		},
		"parameters": map[string]any{
			"language_hints": []string{"ja"},
		},
	}
	headers := map[string]string{
		"Authorization":     "Bearer " + c.cfg.APIKey,
		"X-DashScope-Async": "enable",
	}

	url := c.cfg.APIURL + "/api/v1/services/audio/asr/transcription"
	httpReq, err := httpclient.NewJSONRequest(ctx, http.MethodPost, url, headers, body)
	if err != nil {
		return "", errs.NewPipeline(stepName, "building transcription request", false, err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return "", errs.NewPipeline(stepName, "submitting transcription task", true, err)
	}
	if resp.StatusCode != http.StatusOK {
		return "", c.statusError(resp, "transcription submit")
	}

	var out submitResponse
	if err := httpclient.DecodeJSON(resp, &out); err != nil {
		return "", errs.NewPipeline(stepName, "decoding transcription submit response", false, err)
	}
	if out.Output.TaskID == "" {
		return "", errs.NewPipeline(stepName,
			fmt.Sprintf("transcription submit returned no task id (code=%s message=%s)", out.Code, out.Message),
			false, nil)
	}
	return out.Output.TaskID, nil
}

// poll queries the task until it reaches a terminal status. SUCCEEDED yields
// the transcription result URL; FAILED and CANCELED are permanent; running
// out of attempts is a retryable timeout.
func (c *Client) poll(ctx context.Context, taskID string, logger *eventlog.TaskLogger) (string, error) {
	url := c.cfg.APIURL + "/api/v1/tasks/" + taskID
	headers := map[string]string{"Authorization": "Bearer " + c.cfg.APIKey}

	for attempt := 0; attempt < c.cfg.PollAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return "", ctx.Err()
			case <-time.After(c.cfg.PollInterval):
			}
		}

		httpReq, err := httpclient.NewJSONRequest(ctx, http.MethodGet, url, headers, nil)
		if err != nil {
			return "", errs.NewPipeline(stepName, "building task poll request", false, err)
		}
		resp, err := c.http.Do(httpReq)
		if err != nil {
			return "", errs.NewPipeline(stepName, "polling transcription task", true, err)
		}
		if resp.StatusCode != http.StatusOK {
			return "", c.statusError(resp, "transcription poll")
		}

		var out taskResponse
		if err := httpclient.DecodeJSON(resp, &out); err != nil {
			return "", errs.NewPipeline(stepName, "decoding task poll response", false, err)
		}

		switch out.Output.TaskStatus {
		case statusSucceeded:
			return transcriptionURL(out)
		case statusFailed, statusCanceled:
			return "", errs.NewPipeline(stepName,
				fmt.Sprintf("transcription task %s ended with status %s (code=%s message=%s)",
					taskID, out.Output.TaskStatus, out.Code, out.Message),
				false, nil)
		default:
			logDebug(ctx, logger, fmt.Sprintf("Transcription task %s status: %s", taskID, out.Output.TaskStatus))
		}
	}

	return "", errs.NewPipeline(stepName,
		fmt.Sprintf("transcription task %s did not finish within %d polls", taskID, c.cfg.PollAttempts),
		true, nil)
}

func transcriptionURL(out taskResponse) (string, error) {
	if len(out.Output.Results) == 0 {
		return "", errs.NewPipeline(stepName, "transcription succeeded but returned no results", false, nil)
	}
	result := out.Output.Results[0]
	if result.SubtaskStatus != statusSucceeded {
		return "", errs.NewPipeline(stepName,
			fmt.Sprintf("transcription subtask ended with status %s: %s", result.SubtaskStatus, result.Message),
			false, nil)
	}
	if result.TranscriptionURL == "" {
		return "", errs.NewPipeline(stepName, "transcription succeeded but returned no result URL", false, nil)
	}
	return result.TranscriptionURL, nil
}

func (c *Client) fetchTranscription(ctx context.Context, url string) ([]byte, error) {
	resp, err := c.http.Get(ctx, url)
	if err != nil {
		return nil, errs.NewPipeline(stepName, "fetching transcription result", true, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, errs.NewPipeline(stepName,
			fmt.Sprintf("fetching transcription result returned HTTP %d", resp.StatusCode),
			errs.RetryableHTTPStatus(resp.StatusCode), nil)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errs.NewPipeline(stepName, "reading transcription result", true, err)
	}
	if !json.Valid(data) {
		return nil, errs.NewPipeline(stepName, "transcription result is not valid JSON", false, nil)
	}
	return data, nil
}

// statusError maps a non-200 DashScope response to a pipeline error,
// consuming the body for its error message. 429 and 5xx are retryable.
func (c *Client) statusError(resp *http.Response, operation string) error {
	defer resp.Body.Close()

	msg := fmt.Sprintf("%s returned HTTP %d", operation, resp.StatusCode)
	var apiErr struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	}
	if body, err := io.ReadAll(io.LimitReader(resp.Body, 4096)); err == nil {
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Message != "" {
			msg = fmt.Sprintf("%s (code=%s): %s", msg, apiErr.Code, apiErr.Message)
		}
	}
	return errs.NewPipeline(stepName, msg, errs.RetryableHTTPStatus(resp.StatusCode), nil)
}

func logInfo(ctx context.Context, l *eventlog.TaskLogger, msg string) {
	if l != nil {
		l.Info(ctx, msg)
	}
}

func logWarn(ctx context.Context, l *eventlog.TaskLogger, msg string) {
	if l != nil {
		l.Warn(ctx, msg)
	}
}

func logDebug(ctx context.Context, l *eventlog.TaskLogger, msg string) {
	if l != nil {
		l.Debug(ctx, msg)
	}
}

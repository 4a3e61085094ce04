// Package gemini translates SRT subtitles to Traditional Chinese through
// the Gemini REST API. The audio file is uploaded once to Gemini file
// storage (keyed by a content-derived name, so retries reuse it), then a
// multi-turn generateContent conversation translates the subtitles,
// resuming with a continuation prompt whenever a turn is cut off by the
// output token limit.
package gemini

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/grillmaster/grillmaster/internal/config"
	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/eventlog"
	"github.com/grillmaster/grillmaster/internal/httpclient"
	"github.com/grillmaster/grillmaster/internal/providers"
	"github.com/grillmaster/grillmaster/internal/subtitle"
)

const (
	stepName = "translate_subtitles"

	defaultBaseURL            = "https://generativelanguage.googleapis.com"
	defaultContinuationPrompt = "繼續"
	defaultUSDToTWD           = 32.0

	audioMIMEType = "audio/ogg"
	breakMarker   = "\n<BREAK>\n"

	// maxContinuations bounds the resume loop; a translation that is still
	// hitting MAX_TOKENS after this many turns is considered stuck.
	maxContinuations = 10

	finishStop      = "STOP"
	finishMaxTokens = "MAX_TOKENS"

	fileStateActive     = "ACTIVE"
	fileStateFailed     = "FAILED"
	filePollInterval    = 2 * time.Second
	filePollMaxAttempts = 150
)

// Client is the live Gemini translation provider.
type Client struct {
	cfg          config.GeminiConfig
	http         *httpclient.Client
	baseURL      string
	pollInterval time.Duration
}

// New creates a translation client with production defaults.
func New(cfg config.GeminiConfig) *Client {
	hcCfg := httpclient.DefaultConfig()
	// Long-form translation turns regularly run for many minutes.
	hcCfg.Timeout = 45 * time.Minute
	return newWithDeps(cfg, httpclient.New(hcCfg), defaultBaseURL)
}

func newWithDeps(cfg config.GeminiConfig, hc *httpclient.Client, baseURL string) *Client {
	if cfg.ContinuationPrompt == "" {
		cfg.ContinuationPrompt = defaultContinuationPrompt
	}
	if cfg.USDToTWD <= 0 {
		cfg.USDToTWD = defaultUSDToTWD
	}
	return &Client{cfg: cfg, http: hc, baseURL: baseURL, pollInterval: filePollInterval}
}

type filePart struct {
	MimeType string `json:"mimeType"`
	FileURI  string `json:"fileUri"`
}

type part struct {
	Text     string    `json:"text,omitempty"`
	FileData *filePart `json:"fileData,omitempty"`
}

type message struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type safetySetting struct {
	Category  string `json:"category"`
	Threshold string `json:"threshold"`
}

type generateRequest struct {
	SystemInstruction *message        `json:"systemInstruction,omitempty"`
	Contents          []message       `json:"contents"`
	SafetySettings    []safetySetting `json:"safetySettings,omitempty"`
	GenerationConfig  map[string]any  `json:"generationConfig,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content      message `json:"content"`
		FinishReason string  `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata usageMetadata `json:"usageMetadata"`
	Error         *apiError     `json:"error"`
}

type apiError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status"`
}

type storedFile struct {
	Name     string `json:"name"`
	URI      string `json:"uri"`
	State    string `json:"state"`
	MimeType string `json:"mimeType"`
}

// Translate uploads the audio, runs the translation conversation, and
// writes the joined result to req.OutputSRTPath.
func (c *Client) Translate(ctx context.Context, req providers.TranslationRequest) (*providers.TranslationResult, error) {
	srtData, err := os.ReadFile(req.ASRSRTPath)
	if err != nil {
		return nil, errs.NewPipeline(stepName, "reading source SRT", false, err)
	}

	file, err := c.ensureFile(ctx, c.storageName(req.ProjectID.String()), req.AudioPath, req.Logger)
	if err != nil {
		return nil, err
	}

	userMessage := c.makeUserMessage(req.TranslationHint, string(srtData))
	history := []message{{
		Role: "user",
		Parts: []part{
			{FileData: &filePart{MimeType: file.MimeType, FileURI: file.URI}},
			{Text: userMessage},
		},
	}}

	logInfo(ctx, req.Logger, "Requesting translation; long videos can take many minutes")

	var (
		turns        []string
		totalUsage   usageMetadata
		totalCostUSD float64
	)
	for turn := 0; ; turn++ {
		resp, err := c.generate(ctx, history)
		if err != nil {
			return nil, err
		}

		totalUsage.PromptTokenCount += resp.UsageMetadata.PromptTokenCount
		totalUsage.CachedContentTokenCount += resp.UsageMetadata.CachedContentTokenCount
		totalUsage.CandidatesTokenCount += resp.UsageMetadata.CandidatesTokenCount
		totalUsage.ThoughtsTokenCount += resp.UsageMetadata.ThoughtsTokenCount
		totalCostUSD += calculateCost(c.cfg.Model, resp.UsageMetadata)

		if len(resp.Candidates) == 0 {
			return nil, errs.NewPipeline(stepName, "model returned no candidates", false, nil)
		}
		candidate := resp.Candidates[0]
		turns = append(turns, textOf(candidate.Content))

		switch candidate.FinishReason {
		case finishStop:
		case finishMaxTokens:
			if turn >= maxContinuations {
				return nil, errs.NewPipeline(stepName,
					fmt.Sprintf("translation still incomplete after %d continuations", maxContinuations),
					false, nil)
			}
			logInfo(ctx, req.Logger,
				fmt.Sprintf("Output truncated by token limit, requesting continuation (%d/%d)", turn+1, maxContinuations))
			history = append(history, candidate.Content, message{
				Role:  "user",
				Parts: []part{{Text: c.cfg.ContinuationPrompt}},
			})
			continue
		default:
			return nil, errs.NewPipeline(stepName,
				fmt.Sprintf("model stopped with finish reason %s", candidate.FinishReason), false, nil)
		}
		break
	}

	joined := strings.Join(turns, breakMarker)
	cues, err := subtitle.ParseSRT(strings.ReplaceAll(joined, breakMarker, "\n"))
	if err != nil {
		return nil, errs.NewPipeline(stepName, "model output is not valid SRT", false, err)
	}
	if err := os.WriteFile(req.OutputSRTPath, []byte(subtitle.RenderSRT(cues)), 0o644); err != nil {
		return nil, errs.NewPipeline(stepName, "writing translated SRT", false, err)
	}

	costTWD := totalCostUSD * c.cfg.USDToTWD
	logInfo(ctx, req.Logger, fmt.Sprintf("Translation completed in %d turn(s), cost NT$%.2f", len(turns), costTWD))

	return &providers.TranslationResult{
		Provider:     "gemini",
		Model:        c.cfg.Model,
		InputTokens:  totalUsage.PromptTokenCount,
		OutputTokens: totalUsage.CandidatesTokenCount + totalUsage.ThoughtsTokenCount,
		TotalCostTWD: costTWD,
	}, nil
}

// storageName derives the Gemini file resource name. Hashing in the model
// and API key keeps files from leaking across accounts while letting a
// retried task find the audio it already uploaded.
func (c *Client) storageName(key string) string {
	sum := md5.Sum([]byte(key + ":" + c.cfg.Model + ":" + c.cfg.APIKey))
	return hex.EncodeToString(sum[:])
}

func (c *Client) makeUserMessage(hint, srtText string) string {
	msg := "請根據所附資料，將以下 SRT 文本翻譯為繁體中文。"
	if hint != "" {
		msg += "\n節目介紹: " + hint
	}
	msg += "\nSRT 文本:\n---\n" + srtText
	return msg
}

func (c *Client) generate(ctx context.Context, history []message) (*generateResponse, error) {
	body := generateRequest{
		SystemInstruction: &message{Parts: []part{{Text: systemInstruction}}},
		Contents:          history,
		SafetySettings: []safetySetting{
			{Category: "HARM_CATEGORY_HARASSMENT", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_HATE_SPEECH", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_SEXUALLY_EXPLICIT", Threshold: "BLOCK_NONE"},
			{Category: "HARM_CATEGORY_DANGEROUS_CONTENT", Threshold: "BLOCK_NONE"},
		},
		GenerationConfig: map[string]any{
			"thinkingConfig": map[string]any{"thinkingLevel": "HIGH"},
		},
	}

	url := fmt.Sprintf("%s/v1beta/models/%s:generateContent", c.baseURL, c.cfg.Model)
	httpReq, err := httpclient.NewJSONRequest(ctx, http.MethodPost, url, c.authHeaders(), body)
	if err != nil {
		return nil, errs.NewPipeline(stepName, "building generate request", false, err)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errs.NewPipeline(stepName, "calling Gemini", true, err)
	}

	var out generateResponse
	if decodeErr := httpclient.DecodeJSON(resp, &out); decodeErr != nil {
		if resp.StatusCode != http.StatusOK {
			return nil, errs.NewPipeline(stepName,
				fmt.Sprintf("Gemini returned HTTP %d", resp.StatusCode),
				errs.RetryableHTTPStatus(resp.StatusCode), nil)
		}
		return nil, errs.NewPipeline(stepName, "decoding Gemini response", false, decodeErr)
	}
	if resp.StatusCode != http.StatusOK {
		msg := fmt.Sprintf("Gemini returned HTTP %d", resp.StatusCode)
		if out.Error != nil {
			msg = fmt.Sprintf("%s (%s): %s", msg, out.Error.Status, out.Error.Message)
		}
		return nil, errs.NewPipeline(stepName, msg, errs.RetryableHTTPStatus(resp.StatusCode), nil)
	}
	return &out, nil
}

// ensureFile returns the stored audio file, uploading it first if Gemini
// does not have it yet.
func (c *Client) ensureFile(ctx context.Context, name, audioPath string, logger *eventlog.TaskLogger) (*storedFile, error) {
	if file, err := c.getFile(ctx, name); err != nil {
		return nil, err
	} else if file != nil {
		logInfo(ctx, logger, "Audio already present in Gemini file storage")
		return c.awaitActive(ctx, file)
	}

	logInfo(ctx, logger, "Uploading audio to Gemini file storage")
	file, err := c.uploadFile(ctx, name, audioPath)
	if err != nil {
		return nil, err
	}
	return c.awaitActive(ctx, file)
}

func (c *Client) getFile(ctx context.Context, name string) (*storedFile, error) {
	url := fmt.Sprintf("%s/v1beta/files/%s", c.baseURL, name)
	httpReq, err := httpclient.NewJSONRequest(ctx, http.MethodGet, url, c.authHeaders(), nil)
	if err != nil {
		return nil, errs.NewPipeline(stepName, "building file lookup request", false, err)
	}
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errs.NewPipeline(stepName, "looking up stored audio", true, err)
	}
	if resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusForbidden {
		resp.Body.Close()
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, errs.NewPipeline(stepName,
			fmt.Sprintf("file lookup returned HTTP %d", resp.StatusCode),
			errs.RetryableHTTPStatus(resp.StatusCode), nil)
	}
	var file storedFile
	if err := httpclient.DecodeJSON(resp, &file); err != nil {
		return nil, errs.NewPipeline(stepName, "decoding file lookup response", false, err)
	}
	return &file, nil
}

// uploadFile performs the two-phase resumable upload: a start request that
// yields an upload URL, then a single upload-and-finalize with the bytes.
func (c *Client) uploadFile(ctx context.Context, name, audioPath string) (*storedFile, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, errs.NewPipeline(stepName, "reading audio file", false, err)
	}

	startURL := fmt.Sprintf("%s/upload/v1beta/files", c.baseURL)
	startHeaders := c.authHeaders()
	startHeaders["X-Goog-Upload-Protocol"] = "resumable"
	startHeaders["X-Goog-Upload-Command"] = "start"
	startHeaders["X-Goog-Upload-Header-Content-Length"] = strconv.FormatInt(info.Size(), 10)
	startHeaders["X-Goog-Upload-Header-Content-Type"] = audioMIMEType

	startBody := map[string]any{"file": map[string]any{"name": "files/" + name}}
	startReq, err := httpclient.NewJSONRequest(ctx, http.MethodPost, startURL, startHeaders, startBody)
	if err != nil {
		return nil, errs.NewPipeline(stepName, "building upload start request", false, err)
	}
	startResp, err := c.http.Do(startReq)
	if err != nil {
		return nil, errs.NewPipeline(stepName, "starting audio upload", true, err)
	}
	startResp.Body.Close()
	if startResp.StatusCode != http.StatusOK {
		return nil, errs.NewPipeline(stepName,
			fmt.Sprintf("upload start returned HTTP %d", startResp.StatusCode),
			errs.RetryableHTTPStatus(startResp.StatusCode), nil)
	}
	uploadURL := startResp.Header.Get("X-Goog-Upload-URL")
	if uploadURL == "" {
		return nil, errs.NewPipeline(stepName, "upload start returned no upload URL", false, nil)
	}

	audio, err := os.Open(audioPath)
	if err != nil {
		return nil, errs.NewPipeline(stepName, "opening audio file", false, err)
	}
	defer audio.Close()

	uploadReq, err := http.NewRequestWithContext(ctx, http.MethodPost, uploadURL, audio)
	if err != nil {
		return nil, errs.NewPipeline(stepName, "building upload request", false, err)
	}
	uploadReq.ContentLength = info.Size()
	uploadReq.Header.Set("X-Goog-Upload-Offset", "0")
	uploadReq.Header.Set("X-Goog-Upload-Command", "upload, finalize")

	uploadResp, err := c.http.Do(uploadReq)
	if err != nil {
		return nil, errs.NewPipeline(stepName, "uploading audio", true, err)
	}
	if uploadResp.StatusCode != http.StatusOK {
		uploadResp.Body.Close()
		return nil, errs.NewPipeline(stepName,
			fmt.Sprintf("audio upload returned HTTP %d", uploadResp.StatusCode),
			errs.RetryableHTTPStatus(uploadResp.StatusCode), nil)
	}

	var out struct {
		File storedFile `json:"file"`
	}
	if err := httpclient.DecodeJSON(uploadResp, &out); err != nil {
		return nil, errs.NewPipeline(stepName, "decoding upload response", false, err)
	}
	return &out.File, nil
}

// awaitActive polls a freshly uploaded file until Gemini finishes
// processing it.
func (c *Client) awaitActive(ctx context.Context, file *storedFile) (*storedFile, error) {
	name := strings.TrimPrefix(file.Name, "files/")
	for attempt := 0; attempt < filePollMaxAttempts; attempt++ {
		switch file.State {
		case fileStateActive:
			return file, nil
		case fileStateFailed:
			return nil, errs.NewPipeline(stepName, "Gemini failed to process the uploaded audio", false, nil)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(c.pollInterval):
		}

		refreshed, err := c.getFile(ctx, name)
		if err != nil {
			return nil, err
		}
		if refreshed == nil {
			return nil, errs.NewPipeline(stepName, "uploaded audio disappeared from Gemini file storage", false, nil)
		}
		file = refreshed
	}
	return nil, errs.NewPipeline(stepName, "timed out waiting for Gemini to process the audio", true, nil)
}

func (c *Client) authHeaders() map[string]string {
	return map[string]string{"x-goog-api-key": c.cfg.APIKey}
}

func textOf(m message) string {
	var b strings.Builder
	for _, p := range m.Parts {
		b.WriteString(p.Text)
	}
	return b.String()
}

func logInfo(ctx context.Context, l *eventlog.TaskLogger, msg string) {
	if l != nil {
		l.Info(ctx, msg)
	}
}

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/grillmaster/grillmaster/internal/errs"
	"github.com/grillmaster/grillmaster/internal/eventlog"
	"github.com/grillmaster/grillmaster/internal/models"
	"github.com/grillmaster/grillmaster/internal/providers"
	"github.com/grillmaster/grillmaster/internal/retry"
	"github.com/grillmaster/grillmaster/internal/store"
	"github.com/grillmaster/grillmaster/internal/subprocess"
	"github.com/grillmaster/grillmaster/internal/subtitle"
)

// Canonical file names inside a project directory.
const (
	videoFile         = "video.mp4"
	audioFile         = "audio.opus"
	asrJSONFile       = "asr.json"
	asrSRTFile        = "asr.srt"
	asrVTTFile        = "asr.vtt"
	translatedSRTFile = "video.srt"
	translatedVTTFile = "video.vtt"
	metadataFile      = "metadata.info.json"
	concatFile        = "concat.txt"
)

// StepContext carries the per-task paths and the checkpoint snapshot into
// step bodies.
type StepContext struct {
	Item              QueueItem
	ProjectDir        string
	SourceURL         string
	VideoPath         string
	AudioPath         string
	ASRJSONPath       string
	ASRSRTPath        string
	TranslatedSRTPath string
	TranslatedVTTPath string
	States            map[string]*models.TaskStepState
}

type stepDef struct {
	ID            string
	Percent       int
	Message       string
	ProjectStatus models.ProjectStatus
	Run           func(r *Runner, ctx context.Context, sc *StepContext, log *eventlog.TaskLogger) (any, error)
}

// Step ids, exported for services and tests that reference checkpoints.
const (
	StepFetchMetadata      = "fetch_metadata"
	StepDownloadVideo      = "download_video"
	StepExtractAudio       = "extract_audio"
	StepRunASR             = "run_asr"
	StepTranslateSubtitles = "translate_subtitles"
	StepBuildVTT           = "build_vtt"
	StepFinalizeProject    = "finalize_project"
)

var stepTable = []stepDef{
	{StepFetchMetadata, 10, "Fetching video metadata", models.ProjectStatusDownloading, (*Runner).stepFetchMetadata},
	{StepDownloadVideo, 25, "Downloading video", models.ProjectStatusDownloading, (*Runner).stepDownloadVideo},
	{StepExtractAudio, 40, "Extracting audio track", models.ProjectStatusASR, (*Runner).stepExtractAudio},
	{StepRunASR, 55, "Running speech recognition", models.ProjectStatusASR, (*Runner).stepRunASR},
	{StepTranslateSubtitles, 75, "Translating subtitles", models.ProjectStatusTranslating, (*Runner).stepTranslateSubtitles},
	{StepBuildVTT, 88, "Building subtitle file", models.ProjectStatusTranslating, (*Runner).stepBuildVTT},
	{StepFinalizeProject, 95, "Finalizing project", models.ProjectStatusTranslating, (*Runner).stepFinalizeProject},
}

// Checkpoint outputs. The JSON keys are part of the persisted state and are
// read back by finalize_project, including across retries and restarts.

type fetchMetadataOutput struct {
	Title        string `json:"title"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
	SourceURL    string `json:"sourceUrl"`
}

type downloadVideoOutput struct {
	MediaPath    string `json:"mediaPath"`
	ThumbnailURL string `json:"thumbnailUrl,omitempty"`
}

type extractAudioOutput struct {
	AudioPath string `json:"audioPath"`
}

type runASROutput struct {
	ASRJSONPath string `json:"asrJsonPath"`
	ASRSRTPath  string `json:"asrSrtPath"`
}

type translationSummary struct {
	Provider     string  `json:"llmProvider"`
	Model        string  `json:"llmModel"`
	InputTokens  int64   `json:"inputTokens"`
	OutputTokens int64   `json:"outputTokens"`
	TotalCostTWD float64 `json:"totalCostTwd"`
}

type translateOutput struct {
	Translation translationSummary `json:"translation"`
}

type buildVTTOutput struct {
	SubtitlePath string `json:"subtitlePath"`
}

type finalizeOutput struct {
	MediaPath    string `json:"mediaPath"`
	SubtitlePath string `json:"subtitlePath"`
}

func (r *Runner) stepFetchMetadata(ctx context.Context, sc *StepContext, log *eventlog.TaskLogger) (any, error) {
	result, err := retry.Do(ctx, retry.Options{MaxRetries: 2, BaseDelay: 500 * time.Millisecond},
		func() (*subprocess.Result, error) {
			res, runErr := subprocess.Run(ctx, subprocess.Spec{
				Path:         r.ytdlpBin,
				Args:         []string{"--dump-single-json", "--skip-download", sc.SourceURL},
				Dir:          sc.ProjectDir,
				OnStdoutLine: func(line string) { log.Trace(ctx, line) },
				OnStderrLine: func(line string) { log.Debug(ctx, line) },
				ShouldCancel: r.cancelPredicate(ctx, sc.Item.TaskID),
			})
			if runErr != nil {
				return nil, asRetryable(StepFetchMetadata, "fetching metadata", runErr)
			}
			return res, nil
		})
	if err != nil {
		return nil, err
	}

	rawJSON := lastNonEmptyLine(result.Stdout)
	if rawJSON == "" {
		return nil, errs.NewPipeline(StepFetchMetadata, "yt-dlp produced no metadata", false, nil)
	}
	var meta struct {
		Title     string `json:"title"`
		Thumbnail string `json:"thumbnail"`
	}
	if err := json.Unmarshal([]byte(rawJSON), &meta); err != nil {
		return nil, errs.NewPipeline(StepFetchMetadata, "parsing yt-dlp metadata", false, err)
	}
	if meta.Title == "" {
		meta.Title = strings.TrimSuffix(filepath.Base(sc.VideoPath), ".mp4")
	}

	if err := os.WriteFile(filepath.Join(sc.ProjectDir, metadataFile), []byte(rawJSON), 0o644); err != nil {
		return nil, errs.NewPipeline(StepFetchMetadata, "writing metadata file", false, err)
	}

	patch := store.ProjectPatch{
		Status:    statusPtr(models.ProjectStatusDownloading),
		SourceURL: &sc.SourceURL,
		Title:     &meta.Title,
	}
	if meta.Thumbnail != "" {
		patch.ThumbnailURL = &meta.Thumbnail
	}
	if err := r.store.UpdateProjectFromPipeline(ctx, sc.Item.ProjectID, patch); err != nil {
		return nil, err
	}

	log.Info(ctx, fmt.Sprintf("Video title: %s", meta.Title))
	return fetchMetadataOutput{Title: meta.Title, ThumbnailURL: meta.Thumbnail, SourceURL: sc.SourceURL}, nil
}

func (r *Runner) stepDownloadVideo(ctx context.Context, sc *StepContext, log *eventlog.TaskLogger) (any, error) {
	_, err := retry.Do(ctx, retry.Options{MaxRetries: 2, BaseDelay: time.Second},
		func() (struct{}, error) {
			return struct{}{}, r.downloadAndAssemble(ctx, sc, log)
		})
	if err != nil {
		return nil, err
	}

	output := downloadVideoOutput{
		MediaPath: relProjectPath(sc.Item.ProjectID, videoFile),
	}
	if poster := findPoster(sc.ProjectDir); poster != "" {
		output.ThumbnailURL = relProjectPath(sc.Item.ProjectID, poster)
	}
	return output, nil
}

// downloadAndAssemble is the retried unit of download_video: fetch the
// video parts and merge them into video.mp4. A pre-existing video.mp4 means
// an earlier attempt already finished the expensive part.
func (r *Runner) downloadAndAssemble(ctx context.Context, sc *StepContext, log *eventlog.TaskLogger) error {
	if _, err := os.Stat(sc.VideoPath); err == nil {
		log.Debug(ctx, "video.mp4 already present, skipping download")
		return nil
	}

	args := []string{
		"-f", "bestvideo+bestaudio/best",
		"--merge-output-format", "mp4",
		"--write-thumbnail",
		"--convert-thumbnails", "jpg",
		"--write-info-json",
		"--embed-metadata",
		"--embed-chapters",
		"--embed-thumbnail",
		"-o", filepath.Join(sc.ProjectDir, "%(playlist_index|0)s.%(ext)s"),
		"-o", "infojson:" + filepath.Join(sc.ProjectDir, "metadata"),
		"-o", "thumbnail:" + filepath.Join(sc.ProjectDir, "poster"),
		sc.SourceURL,
	}
	_, err := subprocess.Run(ctx, subprocess.Spec{
		Path:         r.ytdlpBin,
		Args:         args,
		Dir:          sc.ProjectDir,
		OnStdoutLine: func(line string) { log.Trace(ctx, line) },
		OnStderrLine: func(line string) { log.Debug(ctx, line) },
		ShouldCancel: r.cancelPredicate(ctx, sc.Item.TaskID),
	})
	if err != nil {
		return asRetryable(StepDownloadVideo, "downloading video", err)
	}

	parts, err := listVideoParts(sc.ProjectDir)
	if err != nil {
		return errs.NewPipeline(StepDownloadVideo, "listing downloaded parts", false, err)
	}
	switch len(parts) {
	case 0:
		return errs.NewPipeline(StepDownloadVideo, "yt-dlp produced no mp4 output", true, nil)
	case 1:
		if err := os.Rename(filepath.Join(sc.ProjectDir, parts[0]), sc.VideoPath); err != nil {
			return errs.NewPipeline(StepDownloadVideo, "renaming downloaded video", false, err)
		}
		return nil
	default:
		return r.concatParts(ctx, sc, parts, log)
	}
}

// concatParts merges multiple playlist parts into one video.mp4 via the
// ffmpeg concat demuxer, then removes the partials.
func (r *Runner) concatParts(ctx context.Context, sc *StepContext, parts []string, log *eventlog.TaskLogger) error {
	var b strings.Builder
	for _, part := range parts {
		// The concat demuxer uses single-quoted paths with '' escaping.
		b.WriteString(fmt.Sprintf("file '%s'\n", strings.ReplaceAll(part, "'", "''")))
	}
	concatPath := filepath.Join(sc.ProjectDir, concatFile)
	if err := os.WriteFile(concatPath, []byte(b.String()), 0o644); err != nil {
		return errs.NewPipeline(StepDownloadVideo, "writing concat list", false, err)
	}

	log.Info(ctx, fmt.Sprintf("Merging %d playlist parts", len(parts)))
	_, err := subprocess.Run(ctx, subprocess.Spec{
		Path: r.ffmpegBin,
		Args: []string{
			"-y", "-f", "concat", "-safe", "0",
			"-i", concatFile,
			"-c", "copy", "-movflags", "faststart",
			videoFile,
		},
		Dir:          sc.ProjectDir,
		OnStderrLine: func(line string) { log.Debug(ctx, line) },
		ShouldCancel: r.cancelPredicate(ctx, sc.Item.TaskID),
	})
	if err != nil {
		return asRetryable(StepDownloadVideo, "merging playlist parts", err)
	}

	for _, part := range parts {
		if err := os.Remove(filepath.Join(sc.ProjectDir, part)); err != nil {
			log.Warn(ctx, fmt.Sprintf("Failed to remove partial %s: %v", part, err))
		}
	}
	if err := os.Remove(concatPath); err != nil {
		log.Warn(ctx, fmt.Sprintf("Failed to remove concat list: %v", err))
	}
	return nil
}

func (r *Runner) stepExtractAudio(ctx context.Context, sc *StepContext, log *eventlog.TaskLogger) (any, error) {
	_, err := retry.Do(ctx, retry.Options{MaxRetries: 2, BaseDelay: 800 * time.Millisecond},
		func() (struct{}, error) {
			_, runErr := subprocess.Run(ctx, subprocess.Spec{
				Path: r.ffmpegBin,
				Args: []string{
					"-y", "-i", videoFile,
					"-ac", "1", "-ar", "16000", "-b:a", "24k",
					audioFile,
				},
				Dir:          sc.ProjectDir,
				OnStderrLine: func(line string) { log.Debug(ctx, line) },
				ShouldCancel: r.cancelPredicate(ctx, sc.Item.TaskID),
			})
			if runErr != nil {
				return struct{}{}, asRetryable(StepExtractAudio, "extracting audio", runErr)
			}
			return struct{}{}, nil
		})
	if err != nil {
		return nil, err
	}
	return extractAudioOutput{AudioPath: relProjectPath(sc.Item.ProjectID, audioFile)}, nil
}

func (r *Runner) stepRunASR(ctx context.Context, sc *StepContext, log *eventlog.TaskLogger) (any, error) {
	err := r.asr.RunASR(ctx, providers.ASRRequest{
		ProjectID:      sc.Item.ProjectID,
		AudioPath:      sc.AudioPath,
		OutputJSONPath: sc.ASRJSONPath,
		OutputSRTPath:  sc.ASRSRTPath,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	srtData, err := os.ReadFile(sc.ASRSRTPath)
	if err != nil {
		return nil, errs.NewPipeline(StepRunASR, "reading transcription SRT", false, err)
	}
	vttPath := filepath.Join(sc.ProjectDir, asrVTTFile)
	if err := os.WriteFile(vttPath, []byte(subtitle.SRTToVTT(string(srtData))), 0o644); err != nil {
		return nil, errs.NewPipeline(StepRunASR, "writing transcription VTT", false, err)
	}

	asrVTT := relProjectPath(sc.Item.ProjectID, asrVTTFile)
	if err := r.store.UpdateProjectFromPipeline(ctx, sc.Item.ProjectID, store.ProjectPatch{
		ASRVTTPath: &asrVTT,
	}); err != nil {
		return nil, err
	}

	return runASROutput{
		ASRJSONPath: relProjectPath(sc.Item.ProjectID, asrJSONFile),
		ASRSRTPath:  relProjectPath(sc.Item.ProjectID, asrSRTFile),
	}, nil
}

func (r *Runner) stepTranslateSubtitles(ctx context.Context, sc *StepContext, log *eventlog.TaskLogger) (any, error) {
	projectDetail, err := r.store.GetProjectByID(ctx, sc.Item.ProjectID)
	if err != nil {
		return nil, err
	}
	if projectDetail == nil {
		return nil, errs.NewPipeline(StepTranslateSubtitles, "project disappeared mid-pipeline", false, nil)
	}

	result, err := r.translator.Translate(ctx, providers.TranslationRequest{
		ProjectID:       sc.Item.ProjectID,
		ASRSRTPath:      sc.ASRSRTPath,
		AudioPath:       sc.AudioPath,
		OutputSRTPath:   sc.TranslatedSRTPath,
		TranslationHint: projectDetail.Project.TranslationHint,
		Logger:          log,
	})
	if err != nil {
		return nil, err
	}

	if err := r.store.UpdateProjectFromPipeline(ctx, sc.Item.ProjectID, store.ProjectPatch{
		Status:       statusPtr(models.ProjectStatusTranslating),
		LLMCostTWD:   &result.TotalCostTWD,
		LLMProvider:  &result.Provider,
		LLMModel:     &result.Model,
		InputTokens:  &result.InputTokens,
		OutputTokens: &result.OutputTokens,
	}); err != nil {
		return nil, err
	}

	return translateOutput{Translation: translationSummary{
		Provider:     result.Provider,
		Model:        result.Model,
		InputTokens:  result.InputTokens,
		OutputTokens: result.OutputTokens,
		TotalCostTWD: result.TotalCostTWD,
	}}, nil
}

func (r *Runner) stepBuildVTT(ctx context.Context, sc *StepContext, log *eventlog.TaskLogger) (any, error) {
	srtData, err := os.ReadFile(sc.TranslatedSRTPath)
	if err != nil {
		return nil, errs.NewPipeline(StepBuildVTT, "reading translated SRT", false, err)
	}
	if err := os.WriteFile(sc.TranslatedVTTPath, []byte(subtitle.SRTToVTT(string(srtData))), 0o644); err != nil {
		return nil, errs.NewPipeline(StepBuildVTT, "writing translated VTT", false, err)
	}
	return buildVTTOutput{SubtitlePath: relProjectPath(sc.Item.ProjectID, translatedVTTFile)}, nil
}

func (r *Runner) stepFinalizeProject(ctx context.Context, sc *StepContext, log *eventlog.TaskLogger) (any, error) {
	fetch, _ := decodeCheckpoint[fetchMetadataOutput](sc.States, StepFetchMetadata)
	download, _ := decodeCheckpoint[downloadVideoOutput](sc.States, StepDownloadVideo)
	translation, _ := decodeCheckpoint[translateOutput](sc.States, StepTranslateSubtitles)

	subtitlePath := relProjectPath(sc.Item.ProjectID, translatedVTTFile)
	patch := store.ProjectPatch{
		Status:       statusPtr(models.ProjectStatusCompleted),
		SubtitlePath: &subtitlePath,
	}
	if fetch.Title != "" {
		patch.Title = &fetch.Title
	}
	if fetch.SourceURL != "" {
		patch.SourceURL = &fetch.SourceURL
	}
	switch {
	case download.ThumbnailURL != "":
		patch.ThumbnailURL = &download.ThumbnailURL
	case fetch.ThumbnailURL != "":
		patch.ThumbnailURL = &fetch.ThumbnailURL
	}
	mediaPath := download.MediaPath
	if mediaPath == "" {
		mediaPath = relProjectPath(sc.Item.ProjectID, videoFile)
	}
	patch.MediaPath = &mediaPath
	if translation.Translation.Provider != "" {
		t := translation.Translation
		patch.LLMProvider = &t.Provider
		patch.LLMModel = &t.Model
		patch.LLMCostTWD = &t.TotalCostTWD
		patch.InputTokens = &t.InputTokens
		patch.OutputTokens = &t.OutputTokens
	}

	if err := r.store.UpdateProjectFromPipeline(ctx, sc.Item.ProjectID, patch); err != nil {
		return nil, err
	}

	log.Info(ctx, "Project finalized")
	return finalizeOutput{MediaPath: mediaPath, SubtitlePath: subtitlePath}, nil
}

// decodeCheckpoint reads a persisted step output. Undecodable or missing
// checkpoints come back as the zero value.
func decodeCheckpoint[T any](states map[string]*models.TaskStepState, step string) (T, bool) {
	var out T
	state, ok := states[step]
	if !ok || state.OutputJSON == "" {
		return out, false
	}
	if err := json.Unmarshal([]byte(state.OutputJSON), &out); err != nil {
		return out, false
	}
	return out, true
}

// asRetryable wraps a subprocess failure for the retry helper, leaving
// cancellations untouched so they are never retried.
func asRetryable(step, message string, err error) error {
	if errs.IsCanceled(err) {
		return err
	}
	return errs.NewPipeline(step, message, true, err)
}

func marshalOutput(output any, logger *slog.Logger, step string) string {
	if output == nil {
		return ""
	}
	data, err := json.Marshal(output)
	if err != nil {
		logger.Warn("failed to marshal step output",
			slog.String("step", step),
			slog.String("error", err.Error()))
		return ""
	}
	return string(data)
}

func lastNonEmptyLine(s string) string {
	lines := strings.Split(s, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if line := strings.TrimSpace(lines[i]); line != "" {
			return line
		}
	}
	return ""
}

// listVideoParts returns downloaded *.mp4 files (excluding the final
// video.mp4), sorted lexicographically to preserve playlist order.
func listVideoParts(dir string) ([]string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, "*.mp4"))
	if err != nil {
		return nil, err
	}
	var parts []string
	for _, match := range matches {
		name := filepath.Base(match)
		if name == videoFile {
			continue
		}
		parts = append(parts, name)
	}
	sort.Strings(parts)
	return parts, nil
}

func findPoster(dir string) string {
	matches, err := filepath.Glob(filepath.Join(dir, "poster.*"))
	if err != nil || len(matches) == 0 {
		return ""
	}
	sort.Strings(matches)
	return filepath.Base(matches[0])
}

func relProjectPath(projectID models.ULID, name string) string {
	return projectID.String() + "/" + name
}

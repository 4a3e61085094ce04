// Package config provides configuration management for grillmaster using Viper.
// It supports configuration from files, environment variables, and defaults.
//
// Two spellings are accepted for every pipeline-related setting: the nested
// GRILLMASTER_* form produced by the env key replacer, and the flat legacy
// names (PIPELINE_MODE, DASHSCOPE_API_KEY, ...) the service has always read.
package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
)

// Pipeline modes.
const (
	ModeMock = "mock"
	ModeLive = "live"
)

// Default configuration values.
const (
	defaultServerPort      = 8686
	defaultServerTimeout   = 30 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultMaxOpenConns    = 6
	defaultMaxIdleConns    = 3
	defaultConnMaxIdleTime = 30 * time.Minute
	defaultDatabasePath    = "data/grillmaster.db"
	defaultProjectsDir     = "projects"
	defaultASRAPIURL       = "https://dashscope.aliyuncs.com"
	defaultASRModel        = "fun-asr-2025-11-07"
	defaultASRPollInterval = 2 * time.Second
	defaultASRPollAttempts = 600
	defaultGeminiModel     = "gemini-3-pro-preview"
	defaultContinuation    = "繼續"
	defaultUSDToTWD        = 32.0
	defaultJanitorSchedule = "@hourly"
	defaultMaxAudioSize    = "2GB"
)

// Config holds all configuration for the application.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	ASR      ASRConfig      `mapstructure:"asr"`
	OSS      OSSConfig      `mapstructure:"oss"`
	Gemini   GeminiConfig   `mapstructure:"gemini"`
	Janitor  JanitorConfig  `mapstructure:"janitor"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	CORSOrigins     []string      `mapstructure:"cors_origins"`
}

// DatabaseConfig holds database connection configuration.
type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // sqlite, postgres, mysql
	Path            string        `mapstructure:"path"`   // sqlite file path
	DSN             string        `mapstructure:"dsn"`    // postgres/mysql DSN
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `mapstructure:"conn_max_idle_time"`
	LogLevel        string        `mapstructure:"log_level"` // silent, error, warn, info
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level     string `mapstructure:"level"`  // trace, debug, info, warn, error
	Format    string `mapstructure:"format"` // json, text
	AddSource bool   `mapstructure:"add_source"`
}

// PipelineConfig holds pipeline runtime configuration.
type PipelineConfig struct {
	Mode        string `mapstructure:"mode"`         // mock, live
	ProjectsDir string `mapstructure:"projects_dir"` // per-project working directories
	YtDlpBin    string `mapstructure:"yt_dlp_bin"`   // yt-dlp executable name or path
	FFmpegBin   string `mapstructure:"ffmpeg_bin"`   // ffmpeg executable name or path
}

// ASRConfig holds DashScope transcription configuration.
type ASRConfig struct {
	APIURL       string        `mapstructure:"api_url"`
	APIKey       string        `mapstructure:"api_key"`
	Model        string        `mapstructure:"model"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
	PollAttempts int           `mapstructure:"poll_attempts"`
	// MaxAudioSize is the largest audio file the staging upload accepts.
	// Supports human-readable values like "2GB" or raw byte counts; 0 disables
	// the check. DashScope rejects oversized files only after the upload, so
	// catching them locally saves the round trip.
	MaxAudioSize ByteSize `mapstructure:"max_audio_size"`
}

// OSSConfig holds the staging bucket credentials for ASR uploads.
type OSSConfig struct {
	Region          string `mapstructure:"region"`
	Bucket          string `mapstructure:"bucket"`
	AccessKeyID     string `mapstructure:"access_key_id"`
	AccessKeySecret string `mapstructure:"access_key_secret"`
}

// GeminiConfig holds translation provider configuration.
type GeminiConfig struct {
	APIKey             string  `mapstructure:"api_key"`
	Model              string  `mapstructure:"model"`
	ContinuationPrompt string  `mapstructure:"continuation_prompt"`
	USDToTWD           float64 `mapstructure:"usd_to_twd"`
}

// JanitorConfig holds the deleted-directory sweep configuration.
// Retention 0 disables the sweep entirely; renamed _deleted_* directories
// are then kept forever. Retention accepts extended units like "30d" or "2w".
type JanitorConfig struct {
	Retention Duration `mapstructure:"retention"`
	Schedule  string   `mapstructure:"schedule"`
}

// Load reads configuration from file and environment variables.
// Environment variables take precedence over file configuration.
// Nested variables are prefixed with GRILLMASTER_ and use underscores,
// e.g. GRILLMASTER_SERVER_PORT=8686; the flat legacy names in legacyEnv
// are accepted as well.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	SetDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/grillmaster")
		v.AddConfigPath("$HOME/.grillmaster")
	}

	v.SetEnvPrefix("GRILLMASTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	bindLegacyEnv(v)

	if err := v.ReadInConfig(); err != nil {
		var configFileNotFoundError viper.ConfigFileNotFoundError
		if !errors.As(err, &configFileNotFoundError) {
			return nil, fmt.Errorf("reading config file: %w", err)
		}
		// Config file not found is OK - we'll use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(mapstructure.ComposeDecodeHookFunc(
		mapstructure.StringToTimeDurationHookFunc(),
		mapstructure.StringToSliceHookFunc(","),
		mapstructure.TextUnmarshallerHookFunc(),
	))); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// SetDefaults configures default values for all configuration options.
// This should be called before reading the config file to ensure defaults are in place.
func SetDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", defaultServerPort)
	v.SetDefault("server.read_timeout", defaultServerTimeout)
	v.SetDefault("server.write_timeout", defaultServerTimeout)
	v.SetDefault("server.shutdown_timeout", defaultShutdownTimeout)
	v.SetDefault("server.cors_origins", []string{"*"})

	// Database defaults
	v.SetDefault("database.driver", "sqlite")
	v.SetDefault("database.path", defaultDatabasePath)
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.max_open_conns", defaultMaxOpenConns)
	v.SetDefault("database.max_idle_conns", defaultMaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", time.Hour)
	v.SetDefault("database.conn_max_idle_time", defaultConnMaxIdleTime)
	v.SetDefault("database.log_level", "warn")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.add_source", false)

	// Pipeline defaults
	v.SetDefault("pipeline.mode", ModeMock)
	v.SetDefault("pipeline.projects_dir", defaultProjectsDir)
	v.SetDefault("pipeline.yt_dlp_bin", "yt-dlp")
	v.SetDefault("pipeline.ffmpeg_bin", "ffmpeg")

	// ASR defaults
	v.SetDefault("asr.api_url", defaultASRAPIURL)
	v.SetDefault("asr.api_key", "")
	v.SetDefault("asr.model", defaultASRModel)
	v.SetDefault("asr.poll_interval", defaultASRPollInterval)
	v.SetDefault("asr.poll_attempts", defaultASRPollAttempts)
	v.SetDefault("asr.max_audio_size", defaultMaxAudioSize)

	// OSS defaults
	v.SetDefault("oss.region", "")
	v.SetDefault("oss.bucket", "")
	v.SetDefault("oss.access_key_id", "")
	v.SetDefault("oss.access_key_secret", "")

	// Gemini defaults
	v.SetDefault("gemini.api_key", "")
	v.SetDefault("gemini.model", defaultGeminiModel)
	v.SetDefault("gemini.continuation_prompt", defaultContinuation)
	v.SetDefault("gemini.usd_to_twd", defaultUSDToTWD)

	// Janitor defaults
	v.SetDefault("janitor.retention", "0s")
	v.SetDefault("janitor.schedule", defaultJanitorSchedule)
}

// legacyEnv maps config keys to the flat environment variable names the
// service has always recognized.
var legacyEnv = map[string]string{
	"pipeline.mode":         "PIPELINE_MODE",
	"pipeline.yt_dlp_bin":   "YT_DLP_BIN",
	"pipeline.ffmpeg_bin":   "FFMPEG_BIN",
	"database.path":         "SQLITE_DB_PATH",
	"asr.api_url":           "DASHSCOPE_API_URL",
	"asr.api_key":           "DASHSCOPE_API_KEY",
	"asr.model":             "FUN_ASR_MODEL",
	"oss.region":            "OSS_REGION",
	"oss.bucket":            "OSS_BUCKET",
	"oss.access_key_id":     "OSS_ACCESS_KEY_ID",
	"oss.access_key_secret": "OSS_ACCESS_KEY_SECRET",
	"gemini.api_key":        "GEMINI_API_KEY",
	"gemini.model":          "GEMINI_MODEL",
}

// bindLegacyEnv registers both spellings for every legacy variable. The
// prefixed form wins when both are set because viper checks bindings in
// registration order.
func bindLegacyEnv(v *viper.Viper) {
	for key, env := range legacyEnv {
		// BindEnv only fails with zero arguments.
		_ = v.BindEnv(key, "GRILLMASTER_"+strings.ToUpper(strings.ReplaceAll(key, ".", "_")), env)
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	const maxPort = 65535
	if c.Server.Port < 1 || c.Server.Port > maxPort {
		return fmt.Errorf("server.port must be between 1 and %d", maxPort)
	}

	validDrivers := map[string]bool{"sqlite": true, "postgres": true, "mysql": true}
	if !validDrivers[c.Database.Driver] {
		return fmt.Errorf("database.driver must be one of: sqlite, postgres, mysql")
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		return fmt.Errorf("database.path is required for the sqlite driver")
	}
	if c.Database.Driver != "sqlite" && c.Database.DSN == "" {
		return fmt.Errorf("database.dsn is required for the %s driver", c.Database.Driver)
	}

	validLevels := map[string]bool{"trace": true, "debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[c.Logging.Level] {
		return fmt.Errorf("logging.level must be one of: trace, debug, info, warn, error")
	}
	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[c.Logging.Format] {
		return fmt.Errorf("logging.format must be one of: json, text")
	}

	if c.Pipeline.Mode != ModeMock && c.Pipeline.Mode != ModeLive {
		return fmt.Errorf("pipeline.mode must be one of: %s, %s", ModeMock, ModeLive)
	}
	if c.Pipeline.ProjectsDir == "" {
		return fmt.Errorf("pipeline.projects_dir is required")
	}

	if c.ASR.PollAttempts < 1 {
		return fmt.Errorf("asr.poll_attempts must be at least 1")
	}
	if c.ASR.PollInterval <= 0 {
		return fmt.Errorf("asr.poll_interval must be positive")
	}
	if c.ASR.MaxAudioSize < 0 {
		return fmt.Errorf("asr.max_audio_size must not be negative")
	}

	if c.Gemini.USDToTWD <= 0 {
		return fmt.Errorf("gemini.usd_to_twd must be positive")
	}

	if c.Janitor.Retention < 0 {
		return fmt.Errorf("janitor.retention must not be negative")
	}

	return nil
}

// MissingLiveCredentials returns the legacy names of every credential that
// live mode requires but is unset. An empty result means live mode can run.
func (c *Config) MissingLiveCredentials() []string {
	var missing []string
	if c.ASR.APIKey == "" {
		missing = append(missing, "DASHSCOPE_API_KEY")
	}
	if c.OSS.Region == "" {
		missing = append(missing, "OSS_REGION")
	}
	if c.OSS.Bucket == "" {
		missing = append(missing, "OSS_BUCKET")
	}
	if c.OSS.AccessKeyID == "" {
		missing = append(missing, "OSS_ACCESS_KEY_ID")
	}
	if c.OSS.AccessKeySecret == "" {
		missing = append(missing, "OSS_ACCESS_KEY_SECRET")
	}
	if c.Gemini.APIKey == "" {
		missing = append(missing, "GEMINI_API_KEY")
	}
	return missing
}

// IsLive reports whether live provider adapters are selected.
func (c *PipelineConfig) IsLive() bool {
	return c.Mode == ModeLive
}

// ProjectDir returns the working directory for one project.
func (c *PipelineConfig) ProjectDir(projectID string) string {
	return filepath.Join(c.ProjectsDir, projectID)
}

// Address returns the server address in host:port format.
func (c *ServerConfig) Address() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// Redacted returns a copy with every secret replaced by "***" for display.
func (c *Config) Redacted() Config {
	out := *c
	mask := func(s string) string {
		if s == "" {
			return s
		}
		return "***"
	}
	out.ASR.APIKey = mask(out.ASR.APIKey)
	out.OSS.AccessKeyID = mask(out.OSS.AccessKeyID)
	out.OSS.AccessKeySecret = mask(out.OSS.AccessKeySecret)
	out.Gemini.APIKey = mask(out.Gemini.APIKey)
	return out
}

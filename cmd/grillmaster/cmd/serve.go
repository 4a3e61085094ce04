package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/grillmaster/grillmaster/internal/database"
	"github.com/grillmaster/grillmaster/internal/database/migrations"
	"github.com/grillmaster/grillmaster/internal/errs"
	internalhttp "github.com/grillmaster/grillmaster/internal/http"
	"github.com/grillmaster/grillmaster/internal/http/handlers"
	"github.com/grillmaster/grillmaster/internal/pipeline"
	"github.com/grillmaster/grillmaster/internal/providers"
	"github.com/grillmaster/grillmaster/internal/providers/dashscope"
	"github.com/grillmaster/grillmaster/internal/providers/gemini"
	"github.com/grillmaster/grillmaster/internal/providers/mock"
	"github.com/grillmaster/grillmaster/internal/providers/ossbucket"
	"github.com/grillmaster/grillmaster/internal/service"
	"github.com/grillmaster/grillmaster/internal/startup"
	"github.com/grillmaster/grillmaster/internal/store"
	"github.com/grillmaster/grillmaster/internal/version"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the grillmaster server",
	Long: `Start the grillmaster HTTP server and pipeline worker.

The server provides:
- REST API for submitting videos and controlling pipeline tasks
- Health check endpoint
- OpenAPI documentation at /docs`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("host", "", "Host to bind to")
	serveCmd.Flags().Int("port", 0, "Port to listen on")
	serveCmd.Flags().String("database", "", "SQLite database file path")
	serveCmd.Flags().String("projects-dir", "", "Directory for per-project working files")
	serveCmd.Flags().String("mode", "", "Provider mode (mock or live)")
}

// applyServeFlags overrides config values with explicitly set CLI flags.
func applyServeFlags(cmd *cobra.Command) {
	cmd.Flags().Visit(func(f *pflag.Flag) {
		switch f.Name {
		case "host":
			appConfig.Server.Host = f.Value.String()
		case "port":
			appConfig.Server.Port, _ = cmd.Flags().GetInt("port")
		case "database":
			appConfig.Database.Path = f.Value.String()
		case "projects-dir":
			appConfig.Pipeline.ProjectsDir = f.Value.String()
		case "mode":
			appConfig.Pipeline.Mode = f.Value.String()
		}
	})
}

// buildProviders constructs the ASR and translation backends for the
// configured mode. Live mode refuses to start with incomplete credentials.
func buildProviders(logger *slog.Logger) (providers.ASRProvider, providers.Translator, error) {
	if !appConfig.Pipeline.IsLive() {
		logger.Info("using mock providers, no external calls will be made")
		return mock.NewASR(), mock.NewTranslator(), nil
	}

	if missing := appConfig.MissingLiveCredentials(); len(missing) > 0 {
		return nil, nil, errs.MissingCredentials(missing)
	}

	staging, err := ossbucket.New(appConfig.OSS)
	if err != nil {
		return nil, nil, fmt.Errorf("initializing OSS staging: %w", err)
	}

	return dashscope.New(appConfig.ASR, staging), gemini.New(appConfig.Gemini), nil
}

func runServe(cmd *cobra.Command, args []string) error {
	applyServeFlags(cmd)
	logger := slog.Default()

	if err := os.MkdirAll(appConfig.Pipeline.ProjectsDir, 0o755); err != nil {
		return fmt.Errorf("creating projects directory: %w", err)
	}

	db, err := database.New(appConfig.Database, logger, nil)
	if err != nil {
		return fmt.Errorf("initializing database: %w", err)
	}
	defer db.Close()

	migrator := migrations.NewMigrator(db.DB, logger)
	migrator.RegisterAll(migrations.AllMigrations())
	if err := migrator.Up(context.Background()); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	st := store.New(db)

	asr, translator, err := buildProviders(logger)
	if err != nil {
		return err
	}

	// The runner constructor also settles tasks interrupted by the
	// previous shutdown.
	runner, err := pipeline.New(pipeline.Config{
		Store:      st,
		Pipeline:   appConfig.Pipeline,
		ASR:        asr,
		Translator: translator,
		Logger:     logger,
	})
	if err != nil {
		return fmt.Errorf("initializing pipeline runner: %w", err)
	}
	defer runner.Stop()

	janitor := startup.NewJanitor(appConfig.Janitor, appConfig.Pipeline.ProjectsDir, logger)
	if err := janitor.Start(); err != nil {
		return fmt.Errorf("starting janitor: %w", err)
	}
	defer janitor.Stop()

	projectService := service.NewProjectService(st, runner, appConfig, logger)
	taskService := service.NewTaskService(st, runner, logger)

	server := internalhttp.NewServer(appConfig.Server, logger, version.Version)

	handlers.NewHealthHandler(version.Version).
		WithDB(db).
		WithRunner(runner).
		WithDataDir(appConfig.Pipeline.ProjectsDir).
		Register(server.API())
	handlers.NewProjectHandler(projectService).Register(server.API())
	handlers.NewTaskHandler(taskService).Register(server.API())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigChan
		logger.Info("received shutdown signal", slog.String("signal", sig.String()))
		cancel()
	}()

	logger.Info("starting grillmaster server",
		slog.String("host", appConfig.Server.Host),
		slog.Int("port", appConfig.Server.Port),
		slog.String("mode", appConfig.Pipeline.Mode),
		slog.String("version", version.Version),
	)

	return server.ListenAndServe(ctx)
}

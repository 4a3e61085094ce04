package handlers_test

import (
	"context"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/require"

	"github.com/grillmaster/grillmaster/internal/config"
	"github.com/grillmaster/grillmaster/internal/database"
	"github.com/grillmaster/grillmaster/internal/database/migrations"
	"github.com/grillmaster/grillmaster/internal/http/handlers"
	"github.com/grillmaster/grillmaster/internal/pipeline"
	"github.com/grillmaster/grillmaster/internal/service"
	"github.com/grillmaster/grillmaster/internal/store"
)

type fakeQueue struct {
	items  []pipeline.QueueItem
	reject bool
}

func (q *fakeQueue) Enqueue(item pipeline.QueueItem) bool {
	if q.reject {
		return false
	}
	q.items = append(q.items, item)
	return true
}

type fakeRunnerStatus struct {
	depth  int
	active bool
}

func (r *fakeRunnerStatus) QueueDepth() int { return r.depth }
func (r *fakeRunnerStatus) Active() bool    { return r.active }

type testEnv struct {
	router   *chi.Mux
	store    *store.Store
	db       *database.DB
	queue    *fakeQueue
	projects *service.ProjectService
	tasks    *service.TaskService
	dataDir  string
}

func setupEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := database.New(config.DatabaseConfig{
		Driver:   "sqlite",
		Path:     ":memory:",
		LogLevel: "silent",
	}, nil, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	migrator := migrations.NewMigrator(db.DB, nil)
	migrator.RegisterAll(migrations.AllMigrations())
	require.NoError(t, migrator.Up(context.Background()))

	st := store.New(db)
	queue := &fakeQueue{}
	dataDir := t.TempDir()
	cfg := &config.Config{
		Pipeline: config.PipelineConfig{Mode: "mock", ProjectsDir: dataDir},
	}

	projects := service.NewProjectService(st, queue, cfg, nil)
	tasks := service.NewTaskService(st, queue, nil)

	router := chi.NewRouter()
	api := humachi.New(router, huma.DefaultConfig("grillmaster API", "test"))
	handlers.NewProjectHandler(projects).Register(api)
	handlers.NewTaskHandler(tasks).Register(api)
	handlers.NewHealthHandler("test").
		WithDB(db).
		WithRunner(&fakeRunnerStatus{depth: 2, active: true}).
		WithDataDir(dataDir).
		Register(api)

	return &testEnv{
		router:   router,
		store:    st,
		db:       db,
		queue:    queue,
		projects: projects,
		tasks:    tasks,
		dataDir:  dataDir,
	}
}

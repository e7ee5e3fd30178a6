package seqflow

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/RealZimboGuy/seqflow/internal/config"
	"github.com/RealZimboGuy/seqflow/internal/controllers"
	internal "github.com/RealZimboGuy/seqflow/internal/domain"
	"github.com/RealZimboGuy/seqflow/internal/engine"
	"github.com/RealZimboGuy/seqflow/internal/factory"
	"github.com/RealZimboGuy/seqflow/internal/repository"
	"github.com/RealZimboGuy/seqflow/internal/scheduler"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/core"
	"github.com/RealZimboGuy/seqflow/pkg/seqflow/domain"

	"github.com/lmittmann/tint"
	"golang.org/x/crypto/bcrypt"
)

// App holds everything wired on top of one database connection.
type App struct {
	DB           *sql.DB
	MachineRepo  *repository.MachineRepository
	ActionRepo   *repository.MachineActionRepository
	ExecutorRepo *repository.ExecutorRepository
	UserRepo     *repository.UserRepository
	Manager      *engine.MachineManager
	Factory      *factory.Factory
}

// NewApp opens the configured database, runs migrations and builds the
// scheduler backend named by SEQFLOW_SCHEDULER.
func NewApp() (*App, error) {
	pipeline, err := config.LoadPipeline(config.GetSystemSettingString(config.PIPELINE_CONFIG))
	if err != nil {
		return nil, err
	}
	backend, err := scheduler.NewFromSettings()
	if err != nil {
		return nil, err
	}
	db, err := repository.Open()
	if err != nil {
		return nil, err
	}
	clock := core.RealClock{}

	a := &App{
		DB:           db,
		MachineRepo:  repository.NewMachineRepository(db, clock),
		ActionRepo:   repository.NewMachineActionRepository(db),
		ExecutorRepo: repository.NewExecutorRepository(db),
		UserRepo:     repository.NewUserRepository(db, clock),
		Factory:      factory.NewFactory(pipeline, clock),
	}
	a.Manager = engine.NewMachineManager(a.MachineRepo, a.ActionRepo, a.ExecutorRepo, scheduler.NewTaskManager(backend), clock)
	slog.Info("Scheduler selected", "backend", backend.Name(), "output_root", pipeline.OutputRoot)
	return a, nil
}

func (a *App) Close() error {
	return a.DB.Close()
}

// RegisterRoutes mounts the json api.
func (a *App) RegisterRoutes(mux *http.ServeMux) {
	controllers.NewBaseController(a.UserRepo).RegisterRoutes(mux)
	controllers.NewMachinesController(a.Manager, a.Manager.Operator, a.Factory, a.UserRepo).RegisterRoutes(mux)
	controllers.NewTasksController(a.Manager.Operator, a.UserRepo).RegisterRoutes(mux)
	controllers.NewActionsController(a.ActionRepo, a.UserRepo).RegisterRoutes(mux)
	controllers.NewExecutorsController(a.ExecutorRepo, a.UserRepo).RegisterRoutes(mux)
	controllers.NewUsersController(a.UserRepo).RegisterRoutes(mux)
}

// Start boots the engine and the HTTP server. It blocks until ctx is
// cancelled or the server fails.
func Start(ctx context.Context, mux *http.ServeMux) error {
	a, err := NewApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	dur := config.GetSystemSettingDuration(config.ENGINE_CHECK_DB_INTERVAL)
	go a.Manager.StartEngine(ctx, dur)

	if mux == nil {
		mux = http.NewServeMux()
	}
	a.RegisterRoutes(mux)

	addr := ":" + config.GetSystemSettingString(config.ENGINE_SERVER_WEB_PORT)
	if v := os.Getenv("HTTP_ADDR"); v != "" {
		addr = v
	}
	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 10*time.Second)
		defer done()
		srv.Shutdown(shutdownCtx)
	}()

	slog.Info("Starting HTTP server", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("HTTP server failed", "error", err)
		return err
	}
	return nil
}

// SubmitRunFile loads a run description, writes its sample sheets and stores
// the run machine for the engine to pick up.
func (a *App) SubmitRunFile(ctx context.Context, path string, opts factory.RunOptions) (*domain.FiniteStateMachine, error) {
	run, err := factory.LoadRunFile(path)
	if err != nil {
		return nil, err
	}
	m, err := a.Factory.CreateRunMachine(run, opts)
	if err != nil {
		return nil, err
	}
	if err := a.Factory.WriteSampleSheets(run); err != nil {
		return nil, fmt.Errorf("write sample sheets: %w", err)
	}
	if err := a.Manager.Submit(ctx, m); err != nil {
		return nil, err
	}
	return m, nil
}

// AddUser creates an enabled user, there is no other way to get the first one.
func (a *App) AddUser(username, password, apiKey string) (int64, error) {
	if existing, err := a.UserRepo.FindByUsername(username); err != nil {
		return 0, err
	} else if existing != nil {
		return 0, fmt.Errorf("user %s already exists", username)
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return 0, err
	}
	u := &internal.User{
		Username: username,
		Password: string(hash),
		ApiKey:   sql.NullString{String: apiKey, Valid: apiKey != ""},
		Enabled:  sql.NullBool{Bool: true, Valid: true},
	}
	return a.UserRepo.Save(u)
}

func SetupLogger() {
	w := os.Stderr
	slog.SetDefault(slog.New(
		tint.NewHandler(w, &tint.Options{
			Level:      slog.LevelInfo,
			TimeFormat: time.RFC3339Nano,
		}),
	))
}

package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
	"github.com/pressly/goose/v3"
	"github.com/redis/go-redis/v9"

	"github.com/changegate/changegate/api"
	"github.com/changegate/changegate/config"
	changerepo "github.com/changegate/changegate/database/change"
	pipelinerepo "github.com/changegate/changegate/database/pipeline"
	reviewrepo "github.com/changegate/changegate/database/review"
	userrepo "github.com/changegate/changegate/database/user"
	"github.com/changegate/changegate/notify"
	lifecycleserv "github.com/changegate/changegate/service/lifecycle"
	pipelineserv "github.com/changegate/changegate/service/pipeline"
	reviewserv "github.com/changegate/changegate/service/review"
	userserv "github.com/changegate/changegate/service/user"
	"github.com/changegate/changegate/tokencache"
	"github.com/changegate/changegate/vcs"
)

const shutdownTimeout = 15 * time.Second

type App struct{}

func New() *App {
	return &App{}
}

func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	if err := godotenv.Load(); err != nil {
		slog.Warn(".env file not found", "error", err)
	}

	config, err := config.NewConfig()
	if err != nil {
		slog.Warn("failed to read config", "error", err)
		return fmt.Errorf("failed to read config: %w", err)
	}

	pool, err := a.initDatabase(config)
	if err != nil {
		slog.Warn("failed to connect to db", "error", err)
		return fmt.Errorf("failed to connect to db: %w", err)
	}
	defer pool.Close()

	err = a.runMigrations(config)
	if err != nil {
		slog.Warn("failed to apply migrations", "error", err)
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	server := api.NewServer(ctx, config)
	notifier := notify.NewPool(notify.LogSender{}, 2, 64)

	a.initService(ctx, config, pool, notifier, server)

	go func() {
		if err := server.Run(); err != nil {
			slog.Error("error occured while running http server", "error", err)
			os.Exit(1)
		}
	}()

	slog.Info("server running", "addr", config.ServerPort)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutting down")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server shutdown failed", "error", err)
	}
	notifier.Close()

	return nil
}

func (a *App) initDatabase(config config.Config) (*pgxpool.Pool, error) {
	slog.Info("connecting to DB", "conn", config.DBConnectionString)

	var pool *pgxpool.Pool
	var err error

	for i := 0; i < 10; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)

		pool, err = pgxpool.New(ctx, config.DBConnectionString)
		if err == nil {
			if pingErr := pool.Ping(ctx); pingErr == nil {
				cancel()
				slog.Info("successfully connected to DB")
				return pool, nil
			} else {
				err = pingErr
			}
		}

		cancel()

		slog.Warn(fmt.Sprintf("DB not ready, attempt %d: %v\n", i+1, err))
		time.Sleep(5 * time.Second)
	}

	return pool, fmt.Errorf("failed to connect to DB after 10 attempts: %w", err)
}

func (a *App) runMigrations(config config.Config) error {
	slog.Info("running database migrations")

	db, err := sql.Open("pgx", config.DBConnectionString)
	if err != nil {
		return fmt.Errorf("failed to open sql.DB for migrations: %w", err)
	}
	defer db.Close()

	if err := goose.Up(db, "./migrations"); err != nil {
		return fmt.Errorf("failed to apply migrations: %w", err)
	}

	slog.Info("migrations applied successfully")

	return nil
}

func (a *App) initService(ctx context.Context, cfg config.Config, db *pgxpool.Pool, notifier *notify.Pool, server *api.Server) {
	tokens := tokencache.New(a.tokenStore(cfg), tokencache.StaticExchanger{Value: cfg.GitHubToken})

	backend := vcs.NewGitHubBackend(cfg.GitHubOwner, cfg.GitHubRepo, tokens)
	writer := vcs.NewObjectWriter(backend)
	staging := vcs.NewStagingManager(writer, backend, cfg.MainBranch, cfg.BranchPrefix)

	changeRepo := changerepo.NewRepo(db)
	reviewRepo := reviewrepo.NewRepo(db)
	userRepo := userrepo.NewRepo(db)
	pipelineRepo := pipelinerepo.NewRepo(db)

	lifecycleService := lifecycleserv.NewService(changeRepo, staging, notifier)
	gate := pipelineserv.NewGate(pipelineRepo, cfg.CIEnabled)
	reviewService := reviewserv.NewService(changeRepo, reviewRepo, userRepo, gate, lifecycleService, notifier)
	pipelineService := pipelineserv.NewService(pipelineRepo, changeRepo, reviewService)
	userService := userserv.NewService(userRepo)

	server.HandleRoutes(ctx, cfg, lifecycleService, reviewService, pipelineService, userService)
}

// tokenStore selects where installation tokens live: Redis when
// configured (shared across instances), process memory otherwise.
func (a *App) tokenStore(cfg config.Config) tokencache.Store {
	if cfg.RedisAddr == "" {
		return tokencache.NewMemoryStore()
	}

	slog.Info("using redis token store", "addr", cfg.RedisAddr)

	return tokencache.NewRedisStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr}), "changegate")
}

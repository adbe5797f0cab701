package bootstrap

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"docextract-backend/internal/documents"
	"docextract-backend/internal/extract"
	"docextract-backend/internal/queue"
	"docextract-backend/internal/reconcile"
	"docextract-backend/internal/services/health"
	"docextract-backend/internal/shared/auth"
	"docextract-backend/internal/shared/config"
	"docextract-backend/internal/shared/server"
	"docextract-backend/internal/shared/server/middleware"
	"docextract-backend/internal/shared/storage/db"
	"docextract-backend/internal/shared/storage/object"
	localstore "docextract-backend/internal/shared/storage/object/local"
	s3store "docextract-backend/internal/shared/storage/object/s3"
	"docextract-backend/internal/shared/telemetry"
	"docextract-backend/internal/workerproc"
)

// App holds shared dependencies for every binary.
type App struct {
	Config    config.Config
	Router    *gin.Engine
	DB        *sql.DB
	Store     object.ObjectStore
	Queue     queue.Queue
	Repo      documents.Repo
	Registry  *extract.Registry
	Service   *documents.Service
	Handler   *documents.Handler
	Processor *workerproc.Processor
	Health    *health.Service
}

// Build prepares dependencies and the HTTP router.
func Build(cfg config.Config) (*App, error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}
	ctx := context.Background()

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}

	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}

	q, err := buildQueue(ctx, cfg)
	if err != nil {
		return nil, err
	}

	app := &App{
		Config: cfg,
		DB:     sqlDB,
		Store:  store,
		Queue:  q,
		Health: health.NewService(time.Now()),
	}

	if sqlDB != nil {
		app.Repo = &documents.PGRepo{DB: sqlDB}
		app.Health.Register("database", sqlDB.PingContext)
	} else {
		app.Repo = documents.NewMemoryRepo()
	}

	app.Registry = extract.NewDefaultRegistry(extract.Options{
		OCRCommand:   cfg.OCRCommand,
		OCRLanguages: cfg.OCRLanguages,
	})
	app.Service = &documents.Service{Store: store, Repo: app.Repo, Queue: q}
	app.Handler = documents.NewHandler(app.Service, documents.Limits{
		MaxFileBytes: cfg.MaxUploadBytes,
		MaxFiles:     cfg.MaxUploadFiles,
		AllowedMIME:  cfg.AllowedMIME,
	})
	app.Processor = &workerproc.Processor{Repo: app.Repo, Store: store, Registry: app.Registry}

	verifier, err := auth.NewVerifier(cfg.JWTSecret, cfg.Env == "production")
	if err != nil {
		return nil, err
	}

	app.Router = server.NewRouter(server.Deps{
		Config:    cfg,
		Documents: app.Handler,
		Health:    app.Health,
		Verifier:  verifier,
		Limiter:   middleware.NewRateLimiter(nil),
	})

	return app, nil
}

// Runner returns a queue consumer configured from the app settings.
func (a *App) Runner() *workerproc.Runner {
	return &workerproc.Runner{
		Queue:           a.Queue,
		Processor:       a.Processor,
		Concurrency:     a.Config.Pipeline.Concurrency,
		ShutdownTimeout: a.Config.ShutdownTimeout,
	}
}

// Sweeper returns the stale-document reconciler.
func (a *App) Sweeper() *reconcile.Sweeper {
	return &reconcile.Sweeper{
		Repo:       a.Repo,
		Queue:      a.Queue,
		Interval:   a.Config.ReconcileInterval,
		StaleAfter: a.Config.ReconcileStaleAge,
		BatchSize:  a.Config.ReconcileBatchSize,
	}
}

// RunPipeline consumes the queue and sweeps stale documents until ctx is
// cancelled or the queue closes.
func (a *App) RunPipeline(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	sweepCtx, stopSweep := context.WithCancel(gctx)
	g.Go(func() error {
		defer stopSweep()
		return a.Runner().Run(ctx)
	})
	g.Go(func() error {
		a.Sweeper().Run(sweepCtx)
		return nil
	})
	return g.Wait()
}

// Close releases the queue and database.
func (a *App) Close() error {
	var firstErr error
	if a.Queue != nil {
		if err := a.Queue.Close(); err != nil {
			firstErr = err
		}
	}
	if a.DB != nil && !db.IsLambdaRuntime() {
		if err := a.DB.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.db.memory_fallback", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	defaults := db.DefaultServerOptions()
	if db.IsLambdaRuntime() {
		defaults = db.DefaultLambdaOptions()
	}
	opts, err := db.OptionsFromEnv(defaults)
	if err != nil {
		return nil, err
	}

	var sqlDB *sql.DB
	if db.IsLambdaRuntime() {
		sqlDB, err = db.GetSingleton(ctx, cfg.DatabaseURL, opts)
	} else {
		sqlDB, err = db.Connect(ctx, cfg.DatabaseURL, opts)
	}
	if err != nil {
		if cfg.IsDevLike() {
			telemetry.Warn("bootstrap.db.memory_fallback", map[string]any{"error": err})
			return nil, nil
		}
		return nil, err
	}

	if err := db.RunMigrations(ctx, sqlDB); err != nil {
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		if strings.TrimSpace(cfg.S3Bucket) == "" {
			return nil, fmt.Errorf("OBJECT_STORE=s3 requires S3_BUCKET")
		}
		return s3store.New(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3Prefix, cfg.SSEKMSKeyID)
	default:
		return localstore.New(cfg.Pipeline.StorageRoot), nil
	}
}

func buildQueue(ctx context.Context, cfg config.Config) (queue.Queue, error) {
	endpoint := cfg.Pipeline.QueueEndpoint
	switch cfg.QueueBackend {
	case "sqs":
		return queue.NewSQSQueue(ctx, cfg.AWSRegion, endpoint, cfg.VisibilityTimeout)
	case "redis":
		client, err := queue.NewRedisClient(ctx, endpoint)
		if err != nil {
			return nil, err
		}
		return queue.NewRedisQueue(ctx, client, cfg.QueueName, consumerName(), cfg.VisibilityTimeout)
	case "amqp":
		return queue.NewAMQPQueue(endpoint, cfg.QueueName, cfg.Pipeline.Concurrency)
	default:
		return queue.NewMemoryQueue(cfg.VisibilityTimeout), nil
	}
}

func consumerName() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "worker"
	}
	return fmt.Sprintf("%s-%d", host, os.Getpid())
}

package platform

import (
	"context"
	"database/sql"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/jonboulle/clockwork"
	"github.com/ktqueue/ktqueue/internal/auth"
	"github.com/ktqueue/ktqueue/internal/catalog"
	"github.com/ktqueue/ktqueue/internal/cloner"
	"github.com/ktqueue/ktqueue/internal/jobs"
	"github.com/ktqueue/ktqueue/internal/nodes"
	"github.com/ktqueue/ktqueue/internal/repos"
	"github.com/ktqueue/ktqueue/internal/watcher"
	"github.com/ktqueue/ktqueue/internal/webui"
	"github.com/ktqueue/ktqueue/pkg/bus"
	"github.com/ktqueue/ktqueue/pkg/config"
	"github.com/ktqueue/ktqueue/pkg/httpserver"
	"github.com/ktqueue/ktqueue/pkg/kube"
	"github.com/ktqueue/ktqueue/pkg/logging"
	"github.com/ktqueue/ktqueue/pkg/storage"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"k8s.io/client-go/kubernetes"
)

// Deps are the external connections the server is assembled from.
type Deps struct {
	DB        *sql.DB
	Redis     *redis.Client
	Publisher bus.Publisher
	Kube      kubernetes.Interface
	Git       cloner.Git
	Clock     clockwork.Clock
	Checks    []httpserver.Check
	Logger    zerolog.Logger
}

// App is the assembled server: one mux for the API and the web console,
// plus the pod watcher that runs beside it.
type App struct {
	Handler http.Handler
	Watcher *watcher.Watcher
	Jobs    *jobs.Service
}

// NewApp wires every service and handler from cfg and deps.
func NewApp(cfg config.Config, deps Deps) (*App, error) {
	logger := deps.Logger
	if deps.Publisher == nil {
		deps.Publisher = bus.NopPublisher{}
	}
	if deps.Git == nil {
		deps.Git = cloner.ExecGit{}
	}

	authenticator := auth.NewAuthenticator(cfg.CookieSecret, cfg.SessionTTL)
	sessions := auth.NewRedisSessionStore(deps.Redis, cfg.SessionTTL)
	authSvc := auth.NewService(
		auth.NewPostgresRepository(deps.DB),
		sessions,
		authenticator,
		deps.Publisher,
		cfg.AutoRegister,
		logger.With().Str("component", "auth").Logger(),
	)
	cookies := auth.Cookies{Secure: cfg.SecureCookies, TTL: cfg.SessionTTL}

	reposSvc := repos.NewService(repos.NewPostgresRepository(deps.DB), logger.With().Str("component", "repos").Logger())
	gitCloner := cloner.New(cfg.DataRoot, reposSvc, deps.Git, logger.With().Str("component", "cloner").Logger())

	manifest := jobs.DefaultManifestConfig(cfg.JobNamespace, cfg.DataRoot)
	jobsRepo := jobs.NewPostgresRepository(deps.DB)
	jobsSvc := jobs.NewService(jobs.Deps{
		Repo:      jobsRepo,
		Kube:      deps.Kube,
		Cloner:    gitCloner,
		Logs:      jobs.NewLogStore(cfg.DataRoot),
		Publisher: deps.Publisher,
		Clock:     deps.Clock,
		Logger:    logger.With().Str("component", "jobs").Logger(),
	}, manifest)

	nodesSvc := nodes.NewService(deps.Kube, cfg.JobNamespace)
	catalogSvc := catalog.NewService(catalog.NewPostgresRepository(deps.DB), cfg.ImageRegistry)

	consoleUI, err := webui.NewHandler(webui.Deps{
		Identity: authSvc,
		Login:    authSvc,
		Jobs:     jobsSvc,
		Repos:    reposSvc,
		Cookies:  cookies,
		Logger:   logger.With().Str("component", "webui").Logger(),
	})
	if err != nil {
		return nil, err
	}

	dataGuard := auth.Guard(authSvc, cfg.AuthRequired)
	mux := httpserver.NewMux(cfg.ServiceName, deps.Checks...)
	auth.NewHandler(authSvc, cookies).Register(mux)
	jobs.NewHandler(jobsSvc, dataGuard).Register(mux)
	repos.NewHandler(reposSvc, dataGuard, auth.Require(authSvc)).Register(mux)
	nodes.NewHandler(nodesSvc, dataGuard).Register(mux)
	catalog.NewHandler(catalogSvc, dataGuard).Register(mux)
	consoleUI.Register(mux)

	w := watcher.New(deps.Kube, cfg.JobNamespace, jobsRepo, jobsSvc, deps.Publisher, deps.Clock,
		logger.With().Str("component", "watcher").Logger())

	return &App{Handler: mux, Watcher: w, Jobs: jobsSvc}, nil
}

// RunServer starts the API server, the web console and the pod watcher and
// blocks until SIGINT or SIGTERM.
func RunServer(serviceName string) error {
	cfg, err := config.Load(serviceName)
	if err != nil {
		return err
	}

	logger := logging.WithLevel(logging.New(cfg.AppName, cfg.ServiceName, cfg.Env), cfg.LogLevel)
	logger.Info().Msg("loading shared dependencies")

	db, err := storage.NewPostgres(cfg.PostgresURL)
	if err != nil {
		return err
	}
	defer db.Close()

	redisClient := storage.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	checks := []httpserver.Check{storage.PostgresCheck{DB: db}, storage.RedisCheck{Client: redisClient}}

	var publisher bus.Publisher = bus.NopPublisher{}
	if cfg.NATSURL != "" {
		natsConn, err := bus.Connect(cfg.NATSURL, logger)
		if err != nil {
			return err
		}
		defer natsConn.Close()
		publisher = natsConn
		checks = append(checks, bus.Check{Conn: natsConn})
	}

	kubeClient, err := kube.NewClientset(cfg.Kubeconfig)
	if err != nil {
		return err
	}
	checks = append(checks, kube.Check{Clientset: kubeClient})

	app, err := NewApp(cfg, Deps{
		DB:        db,
		Redis:     redisClient,
		Publisher: publisher,
		Kube:      kubeClient,
		Checks:    checks,
		Logger:    logger,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.WatcherEnabled {
		go func() {
			if err := app.Watcher.Run(ctx); err != nil {
				logger.Error().Err(err).Msg("pod watcher exited")
			}
		}()
	} else {
		logger.Warn().Msg("pod watcher disabled, job status will not follow pods")
	}

	return httpserver.Run(ctx, logger, cfg.HTTPPort, app.Handler, cfg.ShutdownTimeout)
}

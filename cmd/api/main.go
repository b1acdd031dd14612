package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/entomolab/casetrace/internal/application"
	appanalysis "github.com/entomolab/casetrace/internal/application/analysis"
	appauth "github.com/entomolab/casetrace/internal/application/auth"
	appcases "github.com/entomolab/casetrace/internal/application/cases"
	appdash "github.com/entomolab/casetrace/internal/application/dashboard"
	appdetections "github.com/entomolab/casetrace/internal/application/detections"
	apppoller "github.com/entomolab/casetrace/internal/application/poller"
	appuploads "github.com/entomolab/casetrace/internal/application/uploads"
	"github.com/entomolab/casetrace/internal/config"
	"github.com/entomolab/casetrace/internal/domain/analysis"
	"github.com/entomolab/casetrace/internal/domain/cases"
	"github.com/entomolab/casetrace/internal/domain/detecterrors"
	"github.com/entomolab/casetrace/internal/domain/detections"
	"github.com/entomolab/casetrace/internal/domain/uploads"
	"github.com/entomolab/casetrace/internal/domain/users"
	mysqlp "github.com/entomolab/casetrace/internal/infra/db/mysql"
	postgresp "github.com/entomolab/casetrace/internal/infra/db/postgres"
	detectorClient "github.com/entomolab/casetrace/internal/infra/detector/openai"
	"github.com/entomolab/casetrace/internal/infra/httpserver"
	minioStore "github.com/entomolab/casetrace/internal/infra/storage"
	"github.com/entomolab/casetrace/internal/middleware"
)

type repositories struct {
	users       users.Repository
	cases       cases.Repository
	uploads     uploads.Repository
	detections  detections.Repository
	analyses    analysis.Repository
	detecterror detecterrors.Repository
}

func main() {
	log := zerolog.New(os.Stdout).With().Timestamp().Str("service", "casetrace").Logger()

	path := "config.yaml"
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		path = v
	}

	cfg, err := config.Load(path)
	if err != nil {
		log.Fatal().Err(err).Msg("config load error")
	}

	ctx := context.Background()

	db, repos, err := openDatabase(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("database init error")
	}
	defer db.Close()

	store, err := minioStore.New(ctx,
		cfg.Minio.Endpoint,
		cfg.Minio.Region,
		cfg.Minio.BucketName,
		cfg.Minio.AccessKey,
		cfg.Minio.SecretKey,
		cfg.Minio.UseSSL,
		cfg.Minio.PublicBucket,
		cfg.Minio.PresignTTL,
	)
	if err != nil {
		log.Fatal().Err(err).Msg("minio init error")
	}

	detector := detectorClient.NewClient(cfg.Detector.APIKey, cfg.Detector.Model)
	clock := application.SystemClock{}

	authSvc := &appauth.Service{
		Repo:     repos.users,
		Secret:   []byte(cfg.Auth.JWTSecret),
		TokenTTL: cfg.Auth.TokenTTL,
		Clock:    clock,
	}
	analysisSvc := &appanalysis.Service{
		Repo:       repos.analyses,
		Cases:      repos.cases,
		Detections: repos.detections,
		Clock:      clock,
	}
	dashboardSvc := appdash.NewService(repos.cases, repos.uploads, repos.detections, repos.analyses, clock)
	detectionsSvc := &appdetections.Service{
		Repo:      repos.detections,
		Uploads:   repos.uploads,
		Detector:  detector,
		Artifacts: store,
		Errors:    repos.detecterror,
		Clock:     clock,
		Log:       log,
		Analysis:  analysisSvc,
		Dashboard: dashboardSvc,
	}
	casesSvc := &appcases.Service{
		Repo:       repos.cases,
		Uploads:    repos.uploads,
		Detections: repos.detections,
		Analyses:   repos.analyses,
		Images:     store,
		Clock:      clock,
		Log:        log,
	}

	jobPoller := apppoller.New(repos.uploads, detectionsSvc, log, apppoller.Options{
		BaseInterval: cfg.Poller.BaseInterval,
		MaxInterval:  cfg.Poller.MaxInterval,
		IdleAfter:    cfg.Poller.IdleAfter,
	})

	uploadsSvc := &appuploads.Service{
		Repo:         repos.uploads,
		Cases:        repos.cases,
		Images:       store,
		Clock:        clock,
		MaxSizeBytes: cfg.Upload.MaxSizeBytes,
		Notifier:     jobPoller,
	}

	pollerCtx, stopPoller := context.WithCancel(ctx)
	jobPoller.Start(pollerCtx)

	scheduler := cron.New()
	// requeue uploads stuck in processing, e.g. after a crash mid-job
	scheduler.AddFunc("@every 10m", func() {
		cutoff := time.Now().Add(-cfg.Retention.StuckAfter)
		n, err := repos.uploads.RequeueStuck(context.Background(), cutoff)
		if err != nil {
			log.Error().Err(err).Msg("requeueing stuck uploads")
			return
		}
		if n > 0 {
			log.Info().Int64("requeued", n).Msg("requeued stuck uploads")
			jobPoller.Notify()
		}
	})
	scheduler.AddFunc("@daily", func() {
		cutoff := time.Now().Add(-cfg.Retention.ErrorsMaxAge)
		n, err := repos.detecterror.PruneOlderThan(context.Background(), cutoff)
		if err != nil {
			log.Error().Err(err).Msg("pruning detect errors")
			return
		}
		log.Info().Int64("pruned", n).Msg("pruned old detect errors")
	})
	scheduler.Start()

	mux := chi.NewRouter()
	mux.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	mux.Use(middleware.Logging(log))
	mux.Use(middleware.Metrics)
	mux.Use(middleware.JWTAuth(authSvc))
	mux.Use(middleware.RateLimitMiddleware(cfg.RateLimit.Capacity, cfg.RateLimit.RefillRate))

	mux.Method("GET", "/metrics", promhttp.Handler())
	mux.Get("/health", middleware.HealthHandler(map[string]middleware.HealthChecker{
		"database":     &middleware.DatabaseHealthChecker{DB: db},
		"object_store": &middleware.ObjectStoreHealthChecker{Ping: store.Healthy},
	}))
	mux.Get("/ready", middleware.ReadinessHandler)
	mux.Get("/live", middleware.LivenessHandler)

	mux.Mount("/", httpserver.NewRouter(authSvc, casesSvc, uploadsSvc, detectionsSvc, analysisSvc, dashboardSvc, log))

	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("addr", addr).Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("server error")
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Info().Msg("shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown error")
	}

	cronCtx := scheduler.Stop()
	<-cronCtx.Done()
	stopPoller()
	jobPoller.Wait()
}

func openDatabase(ctx context.Context, cfg *config.Config) (*sql.DB, repositories, error) {
	switch cfg.Database.Driver {
	case "mysql":
		db, err := mysqlp.Connect(ctx, cfg.MySQLDSN())
		if err != nil {
			return nil, repositories{}, fmt.Errorf("mysql connect: %w", err)
		}
		if err := mysqlp.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, fmt.Errorf("mysql migrate: %w", err)
		}
		return db, repositories{
			users:       mysqlp.NewUserRepository(db),
			cases:       mysqlp.NewCaseRepository(db),
			uploads:     mysqlp.NewUploadRepository(db),
			detections:  mysqlp.NewDetectionRepository(db),
			analyses:    mysqlp.NewAnalysisRepository(db),
			detecterror: mysqlp.NewDetectErrorRepository(db),
		}, nil
	case "postgres":
		db, err := postgresp.Connect(ctx, cfg.PostgresDSN())
		if err != nil {
			return nil, repositories{}, fmt.Errorf("postgres connect: %w", err)
		}
		if err := postgresp.Migrate(db); err != nil {
			db.Close()
			return nil, repositories{}, fmt.Errorf("postgres migrate: %w", err)
		}
		return db, repositories{
			users:       postgresp.NewUserRepository(db),
			cases:       postgresp.NewCaseRepository(db),
			uploads:     postgresp.NewUploadRepository(db),
			detections:  postgresp.NewDetectionRepository(db),
			analyses:    postgresp.NewAnalysisRepository(db),
			detecterror: postgresp.NewDetectErrorRepository(db),
		}, nil
	default:
		return nil, repositories{}, fmt.Errorf("unsupported database driver: %s", cfg.Database.Driver)
	}
}

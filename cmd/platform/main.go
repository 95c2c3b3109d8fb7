package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/psique-app/platform/internal/appointment"
	"github.com/psique-app/platform/internal/assessment"
	"github.com/psique-app/platform/internal/audit"
	authapi "github.com/psique-app/platform/internal/auth"
	"github.com/psique-app/platform/internal/notification"
	"github.com/psique-app/platform/internal/report"
	"github.com/psique-app/platform/internal/shared/auth"
	"github.com/psique-app/platform/internal/shared/cache"
	"github.com/psique-app/platform/internal/shared/config"
	"github.com/psique-app/platform/internal/shared/database"
	"github.com/psique-app/platform/internal/shared/events"
	"github.com/psique-app/platform/internal/shared/logging"
	"github.com/psique-app/platform/internal/shared/metrics"
	secmiddleware "github.com/psique-app/platform/internal/shared/middleware"
	"github.com/psique-app/platform/internal/shared/storage"
	"github.com/psique-app/platform/internal/statistics"
	"github.com/psique-app/platform/internal/student"
	"github.com/psique-app/platform/internal/user"
)

const version = "1.0.0"

// App holds all application dependencies
type App struct {
	Config *config.Config
	Log    *zap.Logger
	DB     *database.DB
	Bus    events.EventBus
	Redis  *cache.RedisCache
	Cache  cache.Cache
	Files  storage.Store
	Mail   *notification.Service
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, "platform")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()
	zap.ReplaceGlobals(log)

	// Cancelled on shutdown; stops subscriptions and mail workers.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	app := &App{Config: cfg, Log: log, Cache: cache.Nop{}}

	// Database (optional - without it only health and metrics are served)
	db, err := database.New(ctx, cfg.Database)
	if err != nil {
		log.Warn("database not available, running in limited mode", zap.Error(err))
	} else {
		app.DB = db
		defer db.Close()

		if err := database.Migrate(ctx, db.Pool, log); err != nil {
			log.Warn("migration failed", zap.Error(err))
		}
	}

	// Event bus: KurrentDB when reachable, in-memory otherwise
	bus, transport := events.NewEventBus(cfg.KurrentDB, log)
	app.Bus = bus
	defer bus.Close()
	log.Info("event bus initialized", zap.String("transport", transport))

	if cfg.Redis.Enabled {
		redisCache, err := cache.NewRedisCache(ctx, cfg.Redis, log)
		if err != nil {
			log.Warn("redis not available, statistics are not cached", zap.Error(err))
		} else {
			app.Redis = redisCache
			app.Cache = redisCache
			defer redisCache.Close()
		}
	}

	files, err := storage.New(ctx, cfg.Storage, log)
	if err != nil {
		log.Warn("file storage not available, image uploads are disabled", zap.Error(err))
	} else {
		app.Files = files
	}

	mailer, err := notification.NewMailer(cfg.Mail, log)
	if err != nil {
		log.Fatal("failed to configure mailer", zap.Error(err))
	}
	app.Mail = notification.NewService(mailer, notification.DefaultServiceConfig(), log)
	if err := app.Mail.Start(ctx); err != nil {
		log.Fatal("failed to start notification service", zap.Error(err))
	}
	defer app.Mail.Stop()

	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(secmiddleware.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(secmiddleware.SecurityHeaders)
	r.Use(metrics.Middleware)
	r.Use(secmiddleware.CORS(secmiddleware.DefaultCORSConfig(cfg.Server.CORSOrigins)))

	// Health checks (unauthenticated)
	r.Get("/health", healthHandler(app))
	r.Get("/ready", readyHandler(app))
	r.Handle("/metrics", metrics.Handler())
	r.Get("/", infoHandler)

	if local, ok := app.Files.(*storage.LocalStore); ok {
		prefix := uploadsPrefix(cfg.Storage.PublicBaseURL)
		r.Handle(prefix+"/*", http.StripPrefix(prefix, local.Handler()))
	}

	if app.DB != nil {
		if err := mountAPI(ctx, r, app); err != nil {
			log.Fatal("failed to start API", zap.Error(err))
		}
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	done := make(chan struct{})
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down server")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("server shutdown error", zap.Error(err))
		}
		cancel()
		close(done)
	}()

	log.Info("server starting",
		zap.String("env", cfg.Server.Env),
		zap.Int("port", cfg.Server.Port),
		zap.Bool("database", app.DB != nil),
		zap.Bool("redis", app.Redis != nil),
		zap.String("storage", cfg.Storage.Backend),
		zap.String("mail", cfg.Mail.Provider),
	)

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatal("server error", zap.Error(err))
	}

	<-done
	log.Info("server stopped")
}

// mountAPI wires every module that needs the database under /api.
func mountAPI(ctx context.Context, r chi.Router, app *App) error {
	cfg, log := app.Config, app.Log

	users := user.NewRepository(app.DB.Pool)
	students := student.NewRepository(app.DB.Pool)
	assessments := assessment.NewRepository(app.DB.Pool)
	appointments := appointment.NewRepository(app.DB.Pool)
	auditLog := audit.NewRepository(app.DB.Pool)

	if _, err := user.SeedDefaultAdmin(ctx, users, cfg.Auth, log); err != nil {
		log.Warn("default admin seeding failed", zap.Error(err))
	}

	if err := audit.NewSubscriber(auditLog, app.Bus, log).Start(ctx); err != nil {
		return fmt.Errorf("audit subscriber: %w", err)
	}

	limiter := secmiddleware.NewIPRateLimiter(cfg.RateLimit.LoginRPS, cfg.RateLimit.LoginBurst)
	sessions := authapi.SessionConfig{
		JWTSecret:   cfg.Auth.JWTSecret,
		TokenTTL:    cfg.Auth.TokenTTL,
		ResetTTL:    cfg.Auth.ResetTTL,
		FrontendURL: cfg.Auth.FrontendURL,
	}

	authHandler := authapi.NewHandler(users, app.Mail, app.Bus, limiter, sessions, log)
	userHandler := user.NewHandler(users, app.Files, app.Bus, cfg.Auth.JWTSecret, cfg.Storage.MaxImageBytes, log)
	studentHandler := student.NewHandler(students, assessments, appointments, users, app.Bus, app.Cache, log)
	assessmentHandler := assessment.NewHandler(assessments, students, app.Bus, app.Cache, log)
	appointmentHandler := appointment.NewHandler(appointments, students, app.Bus, log)
	statisticsHandler := statistics.NewHandler(statistics.NewRepository(app.DB.Pool), app.Cache, cfg.Redis.StatsTTL, log)
	reportHandler := report.NewHandler(assessments, students, log)
	auditHandler := audit.NewHandler(auditLog)

	r.Route("/api", func(r chi.Router) {
		r.Mount("/auth", authHandler.Routes())
		r.Mount("/users", userHandler.Routes())
		r.Mount("/psicologist", userHandler.PsychologistRoutes())

		r.Group(func(r chi.Router) {
			r.Use(auth.Middleware(cfg.Auth.JWTSecret, users))

			r.Mount("/students", studentHandler.Routes())
			r.Mount("/suicide-assessments", assessmentHandler.Routes())
			r.Mount("/appointments", appointmentHandler.Routes())
			r.Mount("/statistics", statisticsHandler.Routes())
			r.Mount("/pdfassessement", reportHandler.AssessmentRoutes())
			r.Mount("/pdfreport", reportHandler.StudentRoutes())
			r.Mount("/audit", auditHandler.Routes())
		})
	})
	return nil
}

// uploadsPrefix is the path the local store's public URLs are served under.
func uploadsPrefix(publicBaseURL string) string {
	u, err := url.Parse(publicBaseURL)
	if err != nil || u.Path == "" || u.Path == "/" {
		return "/uploads"
	}
	return strings.TrimRight(u.Path, "/")
}

func infoHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"name":    "Psique Clinical Risk Platform",
		"version": version,
		"docs":    "/api",
	})
}

func healthHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]string{
			"status": "healthy",
		})
	}
}

func readyHandler(app *App) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"server": "ready",
		}

		if app.DB != nil {
			if err := app.DB.Health(r.Context()); err != nil {
				checks["database"] = "not ready: " + err.Error()
			} else {
				checks["database"] = "ready"
			}
		} else {
			checks["database"] = "not configured"
		}

		if err := app.Bus.Health(); err != nil {
			checks["event_store"] = "not ready: " + err.Error()
		} else {
			checks["event_store"] = "ready"
		}

		if app.Redis != nil {
			if err := app.Redis.Ping(r.Context()); err != nil {
				checks["redis"] = "not ready: " + err.Error()
			} else {
				checks["redis"] = "ready"
			}
		} else {
			checks["redis"] = "not configured"
		}

		allReady := true
		for _, status := range checks {
			if status != "ready" && status != "not configured" {
				allReady = false
				break
			}
		}

		status := http.StatusOK
		if !allReady {
			status = http.StatusServiceUnavailable
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(map[string]any{
			"status": map[bool]string{true: "ready", false: "not ready"}[allReady],
			"checks": checks,
		})
	}
}

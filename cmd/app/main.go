package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"bonus_system/internal/api"
	"bonus_system/internal/metrics"
	"bonus_system/internal/middleware"
	"bonus_system/internal/repository"
	"bonus_system/pkg/auth"
	"bonus_system/pkg/logger"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var configFile string

	rootCmd := &cobra.Command{
		Use:          "bonus-system",
		Short:        "Multi-tenant bonus and loyalty service",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configFile, "config", "c", "", "path to the config file (default ./config.yaml)")

	rootCmd.AddCommand(serveCmd(&configFile))
	rootCmd.AddCommand(workerCmd(&configFile))
	rootCmd.AddCommand(migrateCmd(&configFile))

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// setup loads the config and initializes the logger.
func setup(configFile string) (*Config, error) {
	cfg, err := LoadConfig(configFile)
	if err != nil {
		return nil, err
	}
	if err := logger.Initialize(cfg.LogLevel); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	return cfg, nil
}

func serveCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API together with the job workers and the expiry scheduler",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configFile)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return serve(cfg)
		},
	}
}

func serve(cfg *Config) error {
	zapLogger := logger.Logger()

	if cfg.Auth.JWTSecret == "" {
		return errors.New("auth.jwtSecret is required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	hub := api.NewHub()
	defer hub.Close()

	a, err := newApp(ctx, cfg, hub)
	if err != nil {
		return err
	}
	defer a.close()

	if err := a.svc.Auth.EnsureAdmin(ctx, cfg.Auth.AdminEmail, cfg.Auth.AdminPassword); err != nil {
		return err
	}

	scheduler, err := a.startWorkers(ctx)
	if err != nil {
		return err
	}
	defer scheduler.Stop()

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(metrics.Middleware())

	config := cors.DefaultConfig()
	config.AllowAllOrigins = true
	config.AllowMethods = []string{
		http.MethodHead,
		http.MethodGet,
		http.MethodPost,
		http.MethodPut,
		http.MethodPatch,
		http.MethodDelete,
	}
	config.AllowHeaders = []string{"*"}
	config.AllowCredentials = true
	config.MaxAge = 12 * time.Hour

	router.Use(cors.New(config))

	authorization := middleware.NewAuthorization(a.svc.Auth)
	limiter := middleware.NewRateLimiter(cfg.RateLimit)
	telegramAuth := auth.NewTelegramAuth(cfg.Telegram.DebugMode)

	v1 := router.Group("/api/v1")
	api.NewAuthRoutes(v1, a.svc.Auth, cfg.Auth.TokenTTL, cfg.Auth.SecureCookie)
	api.NewProjectRoutes(v1, a.svc.Projects, a.svc.Webhooks, a.svc.Analytics, authorization)
	api.NewUserRoutes(v1, a.svc.Users, a.svc.Bonuses, authorization)
	api.NewEventRoutes(v1, hub, a.svc.Projects, authorization)
	api.NewWebhookRoutes(v1, a.svc.Webhooks, limiter)
	api.NewMiniappRoutes(v1, a.svc.Projects, a.svc.Users, telegramAuth)
	api.NewSystemRoutes(router, v1, a.repo, a.queue, authorization)

	addr := fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		zapLogger.Info("Starting server", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("failed to start server: %w", err)
		}
	case <-ctx.Done():
	}

	zapLogger.Info("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		zapLogger.Error("Failed to shut down server", zap.Error(err))
	}
	return nil
}

func workerCmd(configFile *string) *cobra.Command {
	return &cobra.Command{
		Use:   "worker",
		Short: "Run only the job workers and the expiry scheduler",
		Long: `Run only the job workers and the expiry scheduler.

Workers share jobs through Redis, so redis.addr must be set. Notifications
handled here are sent to Telegram but not to the live event feed, which is
served by the API process.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configFile)
			if err != nil {
				return err
			}
			defer logger.Sync()

			if cfg.Redis.Addr == "" {
				return errors.New("worker mode needs redis.addr, an in-process queue has no producers here")
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := newApp(ctx, cfg, nil)
			if err != nil {
				return err
			}
			defer a.close()

			scheduler, err := a.startWorkers(ctx)
			if err != nil {
				return err
			}
			defer scheduler.Stop()

			logger.Logger().Info("Worker started")
			<-ctx.Done()
			logger.Logger().Info("Worker stopping")
			return nil
		},
	}
}

func migrateCmd(configFile *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply or roll back database migrations",
	}

	up := &cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configFile)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return repository.MigrateUp(cfg.Database)
		},
	}

	var steps int
	down := &cobra.Command{
		Use:   "down",
		Short: "Roll back migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := setup(*configFile)
			if err != nil {
				return err
			}
			defer logger.Sync()
			return repository.MigrateDown(cfg.Database, steps)
		},
	}
	down.Flags().IntVarP(&steps, "steps", "n", 1, "number of migrations to roll back")

	cmd.AddCommand(up, down)
	return cmd
}

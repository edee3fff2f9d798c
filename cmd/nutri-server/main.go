package main

import (
	"context"
	crypto_rand "crypto/rand"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/nutri/nutri/internal/config"
	"github.com/nutri/nutri/internal/domain/access"
	"github.com/nutri/nutri/internal/domain/account"
	"github.com/nutri/nutri/internal/domain/admin"
	"github.com/nutri/nutri/internal/domain/audit"
	"github.com/nutri/nutri/internal/domain/mealplan"
	"github.com/nutri/nutri/internal/domain/profile"
	"github.com/nutri/nutri/internal/domain/scheduling"
	"github.com/nutri/nutri/internal/platform/auth"
	"github.com/nutri/nutri/internal/platform/blobstore"
	"github.com/nutri/nutri/internal/platform/db"
	"github.com/nutri/nutri/internal/platform/middleware"
	"github.com/nutri/nutri/internal/platform/notification"
	"github.com/nutri/nutri/internal/platform/session"
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "nutri-server",
		Short: "Nutrition clinic API server",
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(adminCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}
}

// connect loads the configuration and opens the database pool.
func connect(ctx context.Context) (*config.Config, *pgxpool.Pool, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return nil, nil, err
	}
	return cfg, pool, nil
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	// migrate up
	upCmd := &cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			count, err := db.NewMigrator(pool, dir).Up(ctx)
			if err != nil {
				return fmt.Errorf("migration failed: %w", err)
			}

			fmt.Printf("Applied %d migration(s) successfully.\n", count)
			return nil
		},
	}
	upCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(upCmd)

	// migrate status
	statusCmd := &cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir, _ := cmd.Flags().GetString("dir")

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()
			if dir == "" {
				dir = cfg.MigrationsDir
			}

			statuses, err := db.NewMigrator(pool, dir).Status(ctx)
			if err != nil {
				return fmt.Errorf("failed to get migration status: %w", err)
			}

			fmt.Printf("%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
			fmt.Println("---------- ---------------------------------------- ---------- --------------------")
			for _, s := range statuses {
				status := "pending"
				appliedAt := ""
				if s.Applied {
					status = "applied"
					if s.AppliedAt != nil {
						appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
					}
				}
				fmt.Printf("%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
			}
			return nil
		},
	}
	statusCmd.Flags().String("dir", "", "Path to migrations directory (default MIGRATIONS_DIR)")
	cmd.AddCommand(statusCmd)

	return cmd
}

func adminCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "admin",
		Short: "Manage administrative accounts",
	}

	createCmd := &cobra.Command{
		Use:   "create-super-admin",
		Short: "Create a super admin account",
		RunE: func(cmd *cobra.Command, args []string) error {
			req := &admin.CreateAdminRequest{}
			req.Email, _ = cmd.Flags().GetString("email")
			req.Password, _ = cmd.Flags().GetString("password")
			req.Username, _ = cmd.Flags().GetString("username")
			req.FullName, _ = cmd.Flags().GetString("name")
			if req.Email == "" || req.Password == "" || req.Username == "" {
				return fmt.Errorf("--email, --password and --username are required")
			}

			ctx := context.Background()
			cfg, pool, err := connect(ctx)
			if err != nil {
				return err
			}
			defer pool.Close()

			logger := newLogger(cfg)
			svcs, err := newServices(ctx, cfg, pool, nil, logger)
			if err != nil {
				return err
			}
			defer svcs.close(ctx)

			u, err := svcs.admin.CreateAdmin(ctx, uuid.Nil, req, auth.RoleSuperAdmin)
			if err != nil {
				return err
			}
			fmt.Printf("Created super admin %s (%s)\n", *u.Username, u.ID)
			return nil
		},
	}
	createCmd.Flags().String("email", "", "Email address")
	createCmd.Flags().String("password", "", "Password (admin policy)")
	createCmd.Flags().String("username", "", "Username, at least 8 letters, digits or underscores")
	createCmd.Flags().String("name", "", "Display name")

	cmd.AddCommand(createCmd)
	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg != nil && cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Logger()
}

// resolveSigningKey returns the JWT signing key. An empty secret, accepted
// only in development, yields a random key so tokens die with the process.
// The second return value is true when a random key was generated.
func resolveSigningKey(secret string) ([]byte, bool, error) {
	if secret != "" {
		return []byte(secret), false, nil
	}
	key := make([]byte, 32)
	if _, err := crypto_rand.Read(key); err != nil {
		return nil, false, fmt.Errorf("failed to generate random signing key: %w", err)
	}
	return key, true, nil
}

// services holds every domain service wired against one pool.
type services struct {
	issuer     *auth.TokenIssuer
	hub        *session.Hub
	store      blobstore.Store
	memStore   *blobstore.MemoryStore
	notify     *notification.Service
	dispatcher *notification.Dispatcher
	auditLog   *audit.Logger
	auditSvc   *audit.Service
	profiles   *profile.Service
	router     *access.Router
	account    *account.Service
	admin      *admin.Service
	scheduling *scheduling.Service
	mealplans  *mealplan.Service
}

// newServices builds the dependency graph. store may be nil, in which case it
// is chosen from cfg. The audit logger is started; callers must close it.
func newServices(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, store blobstore.Store, logger zerolog.Logger) (*services, error) {
	key, generated, err := resolveSigningKey(cfg.JWTSecret)
	if err != nil {
		return nil, err
	}
	if generated {
		logger.Warn().Msg("JWT_SECRET not set; using a random signing key")
	}
	s := &services{
		issuer: auth.NewTokenIssuer(key, cfg.JWTIssuer, cfg.JWTTokenTTL),
		hub:    session.NewHub(logger),
	}

	if store == nil {
		switch cfg.StorageDriver {
		case "s3":
			store, err = blobstore.NewS3Store(ctx, cfg.AWSRegion, cfg.S3Bucket, cfg.S3PublicBaseURL)
			if err != nil {
				return nil, err
			}
		default:
			s.memStore = blobstore.NewMemoryStore("http://localhost:" + cfg.Port)
			store = s.memStore
		}
	}
	s.store = store

	senders, err := notification.NewSenders(ctx, notification.SenderConfig{
		EmailProvider:  cfg.EmailProvider,
		EmailFrom:      cfg.EmailFrom,
		EmailFromName:  cfg.EmailFromName,
		SendGridAPIKey: cfg.SendGridAPIKey,
		PushProvider:   cfg.PushProvider,
		SNSTopicPrefix: cfg.SNSTopicPrefix,
		AWSRegion:      cfg.AWSRegion,
	}, logger)
	if err != nil {
		return nil, err
	}
	notifyRepo := notification.NewRepoPG(pool)
	s.notify = notification.NewService(notifyRepo, notification.NewTemplateEngine())
	s.dispatcher = notification.NewDispatcher(notifyRepo, senders.Email, senders.Push, senders.SMS,
		notification.DispatcherConfig{
			PollInterval: cfg.OutboxPollInterval,
			BatchSize:    cfg.OutboxBatchSize,
			MaxAttempts:  cfg.OutboxMaxAttempts,
		}, logger)

	auditRepo := audit.NewRepoPG(pool)
	s.auditSvc = audit.NewService(auditRepo)
	s.auditLog = audit.NewLogger(auditRepo, audit.LoggerConfig{QueueSize: cfg.AuditQueueSize}, logger)
	s.auditLog.Start()

	tx := func(ctx context.Context, fn func(ctx context.Context) error) error {
		return db.RunInTx(ctx, pool, fn)
	}

	roles := access.NewRoleRepoPG(pool)
	settings := admin.NewSettingsRepoPG(pool)
	s.profiles = profile.NewService(profile.NewRepoPG(pool), store)
	resolver := access.NewResolver(roles, logger)
	s.router = access.NewRouter(resolver, s.profiles)

	s.account = account.NewService(account.Deps{
		Identities:  account.NewIdentityRepoPG(pool),
		ResetTokens: account.NewResetTokenRepoPG(pool),
		Profiles:    s.profiles,
		Router:      s.router,
		Tokens:      s.issuer,
		Publisher:   s.hub,
		Notifier:    s.notify,
		Timeouts:    admin.TimeoutSource{Settings: settings},
		Tx:          tx,
	}, account.Config{AppBaseURL: cfg.AppBaseURL}, logger)

	s.admin = admin.NewService(admin.Deps{
		Users:    admin.NewUserRepoPG(pool),
		Settings: settings,
		Roles:    roles,
		Accounts: s.account,
		Profiles: s.profiles,
		Audit:    s.auditLog,
		Tx:       tx,
	}, logger)

	s.scheduling = scheduling.NewService(scheduling.Deps{
		Templates:     scheduling.NewTemplateRepoPG(pool),
		Appointments:  scheduling.NewAppointmentRepoPG(pool),
		Nutritionists: resolver,
		Store:         store,
		Notifier:      s.notify,
		Audit:         s.auditLog,
	}, scheduling.Config{
		DefaultSlotTimes: cfg.DefaultSlotTimes,
		PriceFirstVisit:  cfg.PriceFirstVisit,
		PriceFollowUp:    cfg.PriceFollowUp,
		ReminderLeadTime: cfg.ReminderLeadTime,
	}, logger)

	s.mealplans = mealplan.NewService(mealplan.Deps{
		Plans:    mealplan.NewRepoPG(pool),
		Store:    store,
		Notifier: s.notify,
	}, logger)

	return s, nil
}

// close drains the audit queue.
func (s *services) close(ctx context.Context) {
	_ = s.auditLog.Close(ctx)
}

// newEcho builds the HTTP server with middleware and every route mounted.
func newEcho(cfg *config.Config, pool *pgxpool.Pool, s *services, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.BodyLimit("1M", "12M"))
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Request-ID"},
	}))
	if cfg.RequestTimeout > 0 {
		e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	}

	// Auth middleware
	jwtCfg := auth.JWTConfig{Issuer: s.issuer, Skipper: auth.AuthSkipper}
	if cfg.IsDev() {
		e.Use(auth.DevAuthMiddleware(jwtCfg))
	} else {
		e.Use(auth.JWTMiddleware(jwtCfg))
	}

	apiV1 := e.Group("/api/v1")

	// Rate limiting middleware
	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}
	if rateLimitCfg.RequestsPerSecond <= 0 {
		rateLimitCfg = middleware.DefaultRateLimitConfig()
	}
	apiV1.Use(middleware.RateLimit(rateLimitCfg))

	// Health check
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": "0.1.0",
		})
	})
	e.GET("/health/db", db.HealthHandler(pool))

	if s.memStore != nil {
		blobstore.NewHandler(s.memStore).RegisterRoutes(e)
	}

	account.NewHandler(s.account).RegisterRoutes(apiV1)
	session.NewHandler(s.hub, s.issuer, cfg.CORSOrigins, logger).RegisterRoutes(apiV1)
	access.NewHandler(s.router, s.issuer).RegisterRoutes(apiV1)
	profile.NewHandler(s.profiles).RegisterRoutes(apiV1)
	scheduling.NewHandler(s.scheduling).RegisterRoutes(apiV1)
	mealplan.NewHandler(s.mealplans).RegisterRoutes(apiV1)
	notification.NewHandler(s.notify).RegisterRoutes(apiV1)
	admin.NewHandler(s.admin).RegisterRoutes(apiV1)
	audit.NewHandler(s.auditSvc, s.auditLog).RegisterRoutes(apiV1)

	return e
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		fallback := newLogger(nil)
		fallback.Fatal().Err(err).Msg("failed to load config")
	}
	logger := newLogger(cfg)
	if err := cfg.Validate(); err != nil {
		logger.Fatal().Err(err).Msg("invalid config")
	}

	// Database
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to connect to database")
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	svcs, err := newServices(ctx, cfg, pool, nil, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to build services")
	}
	e := newEcho(cfg, pool, svcs, logger)

	// Notification outbox
	dispatchCtx, dispatchCancel := context.WithCancel(ctx)
	defer dispatchCancel()
	go svcs.dispatcher.Run(dispatchCtx)

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	dispatchCancel()
	if err := svcs.auditLog.Close(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("audit log did not drain")
	}
	logger.Info().Msg("server stopped")
	return nil
}

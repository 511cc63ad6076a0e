package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/medirec/medirec/internal/config"
	"github.com/medirec/medirec/internal/domain/account"
	"github.com/medirec/medirec/internal/domain/admin"
	"github.com/medirec/medirec/internal/domain/inbox"
	"github.com/medirec/medirec/internal/domain/medication"
	"github.com/medirec/medirec/internal/domain/scheduling"
	"github.com/medirec/medirec/internal/platform/auth"
	"github.com/medirec/medirec/internal/platform/db"
	"github.com/medirec/medirec/internal/platform/middleware"
	"github.com/medirec/medirec/migrations"
)

const (
	serviceName     = "medirec"
	migrationSchema = "public"
	shutdownTimeout = 10 * time.Second
	sweepInterval   = time.Minute
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "medirec-server",
		Short:        "Hospital records API server",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer()
		},
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(migrateCmd())
	rootCmd.AddCommand(accountCmd())
	return rootCmd
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

// withPool loads config, opens the pool and runs fn with both.
func withPool(fn func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	return fn(ctx, cfg, pool)
}

func migrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Run database migrations",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				count, err := db.NewMigrator(pool, migrations.FS).Up(ctx, migrationSchema)
				if err != nil {
					return fmt.Errorf("migration failed: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Applied %d migration(s) successfully.\n", count)
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show migration status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withPool(func(ctx context.Context, _ *config.Config, pool *pgxpool.Pool) error {
				statuses, err := db.NewMigrator(pool, migrations.FS).Status(ctx, migrationSchema)
				if err != nil {
					return fmt.Errorf("failed to get migration status: %w", err)
				}
				printStatus(cmd, statuses)
				return nil
			})
		},
	})

	return cmd
}

func printStatus(cmd *cobra.Command, statuses []db.MigrationStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%-10s %-40s %-10s %s\n", "VERSION", "NAME", "STATUS", "APPLIED AT")
	for _, s := range statuses {
		status, appliedAt := "pending", ""
		if s.Applied {
			status = "applied"
			if s.AppliedAt != nil {
				appliedAt = s.AppliedAt.Format("2006-01-02 15:04:05")
			}
		}
		fmt.Fprintf(out, "%-10d %-40s %-10s %s\n", s.Version, s.Name, status, appliedAt)
	}
}

func accountCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "account",
		Short: "Manage accounts",
	}

	createAdmin := &cobra.Command{
		Use:   "create-admin",
		Short: "Create an approved administrator account",
		RunE: func(cmd *cobra.Command, args []string) error {
			name, _ := cmd.Flags().GetString("name")
			email, _ := cmd.Flags().GetString("email")
			password, _ := cmd.Flags().GetString("password")
			if name == "" || email == "" || password == "" {
				return fmt.Errorf("--name, --email and --password are required")
			}

			return withPool(func(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool) error {
				logger := newLogger(cfg)
				svc, err := newAccountService(cfg, pool, nil, logger)
				if err != nil {
					return err
				}
				a, err := svc.CreateApproved(ctx, account.NewAccount{
					Name:     name,
					Email:    email,
					Password: password,
					Roles:    []auth.Role{auth.RoleAdmin},
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created admin account %s (%s)\n", a.Email, a.ID)
				return nil
			})
		},
	}
	createAdmin.Flags().String("name", "", "Display name")
	createAdmin.Flags().String("email", "", "Login email")
	createAdmin.Flags().String("password", "", "Initial password")
	cmd.AddCommand(createAdmin)

	return cmd
}

func newLogger(cfg *config.Config) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().
			Timestamp().Str("service", serviceName).Logger()
	}
	return zerolog.New(os.Stdout).With().Timestamp().Str("service", serviceName).Logger()
}

// services holds the domain services the HTTP layer mounts.
type services struct {
	tokens     *auth.TokenIssuer
	accounts   *account.Service
	admin      *admin.Service
	scheduling *scheduling.Service
	medication *medication.Service
	inbox      *inbox.Service
}

func newAccountService(cfg *config.Config, pool *pgxpool.Pool, metrics account.Metrics, logger zerolog.Logger) (*account.Service, error) {
	svc, _, err := newAccountServiceWithTokens(cfg, pool, metrics, logger)
	return svc, err
}

func newAccountServiceWithTokens(cfg *config.Config, pool *pgxpool.Pool, metrics account.Metrics, logger zerolog.Logger) (*account.Service, *auth.TokenIssuer, error) {
	key, generated, err := cfg.SigningKey()
	if err != nil {
		return nil, nil, err
	}
	if generated {
		logger.Warn().Msg("JWT_SECRET not set; using a random signing key, sessions will not survive restarts")
	}
	tokens := auth.NewTokenIssuer(key, serviceName, cfg.JWTTTL)
	svc := account.NewService(
		account.NewAccountRepoPG(pool),
		account.NewSignupRequestRepoPG(pool),
		db.NewTxRunner(pool),
		auth.NewHasher(cfg.BcryptCost),
		tokens,
		auth.NewTOTP(cfg.TOTPIssuer),
		metrics,
		logger,
	)
	return svc, tokens, nil
}

func newServices(cfg *config.Config, pool *pgxpool.Pool, metrics *middleware.Metrics, logger zerolog.Logger) (*services, error) {
	accounts, tokens, err := newAccountServiceWithTokens(cfg, pool, metrics, logger)
	if err != nil {
		return nil, err
	}
	tx := db.NewTxRunner(pool)
	return &services{
		tokens:   tokens,
		accounts: accounts,
		admin: admin.NewService(
			account.NewAccountRepoPG(pool),
			account.NewSignupRequestRepoPG(pool),
			accounts,
			admin.NewStatsRepoPG(pool),
			tx,
			logger,
		),
		scheduling: scheduling.NewService(scheduling.NewAppointmentRepoPG(pool), accounts, tx, logger),
		medication: medication.NewService(medication.NewPrescriptionRepoPG(pool), accounts, logger),
		inbox:      inbox.NewService(inbox.NewMessageRepoPG(pool), accounts, tx, logger),
	}, nil
}

// newEcho builds the HTTP server. dbHealth serves GET /health/db.
func newEcho(cfg *config.Config, logger zerolog.Logger, metrics *middleware.Metrics, limiter middleware.Limiter, svc *services, dbHealth echo.HandlerFunc) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(metrics.Middleware())
	e.Use(middleware.SecurityHeaders())
	e.Use(echomw.CORSWithConfig(echomw.CORSConfig{
		AllowOrigins: cfg.CORSOrigins,
		AllowMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
		AllowHeaders: []string{echo.HeaderOrigin, echo.HeaderContentType, echo.HeaderAuthorization, middleware.RequestIDHeader},
	}))
	e.Use(middleware.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.Sanitize(logger))
	e.Use(middleware.RequestTimeout(cfg.RequestTimeout))
	e.Use(middleware.RateLimit(limiter, cfg.RateLimitRPS, logger))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{"status": "ok", "service": serviceName})
	})
	if dbHealth != nil {
		e.GET("/health/db", dbHealth)
	}
	e.GET("/metrics", metrics.Handler())

	api := e.Group("/api/v1")
	api.Use(middleware.Audit(logger))
	api.Use(auth.Authenticate(svc.tokens, svc.accounts, auth.AuthSkipper))

	account.NewHandler(svc.accounts).RegisterRoutes(api)
	admin.NewHandler(svc.admin).RegisterRoutes(api)
	scheduling.NewHandler(svc.scheduling).RegisterRoutes(api)
	medication.NewHandler(svc.medication).RegisterRoutes(api)
	inbox.NewHandler(svc.inbox).RegisterRoutes(api)

	return e
}

// newLimiter uses Redis when REDIS_URL is set so every replica shares one
// budget; otherwise it falls back to an in-process token bucket.
func newLimiter(ctx context.Context, cfg *config.Config) (middleware.Limiter, func(), error) {
	rl := middleware.RateLimitConfig{RequestsPerSecond: cfg.RateLimitRPS, BurstSize: cfg.RateLimitBurst}
	if rl.RequestsPerSecond <= 0 {
		rl = middleware.DefaultRateLimitConfig()
	}
	if cfg.RedisURL == "" {
		return middleware.NewMemoryLimiter(rl), func() {}, nil
	}
	limiter, err := middleware.NewRedisLimiterFromURL(ctx, cfg.RedisURL, rl)
	if err != nil {
		return nil, nil, err
	}
	return limiter, func() { _ = limiter.Close() }, nil
}

func runServer() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	logger := newLogger(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := db.NewPool(ctx, cfg.DatabaseURL, cfg.DBMaxConns, cfg.DBMinConns)
	if err != nil {
		return err
	}
	defer pool.Close()
	logger.Info().Msg("connected to database")

	limiter, closeLimiter, err := newLimiter(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeLimiter()

	metrics := middleware.NewMetrics()
	svc, err := newServices(cfg, pool, metrics, logger)
	if err != nil {
		return err
	}
	e := newEcho(cfg, logger, metrics, limiter, svc, db.HealthHandler(pool))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Bool("tls", cfg.TLSEnabled).Msg("starting server")
		var err error
		if cfg.TLSEnabled {
			err = e.StartTLS(addr, cfg.TLSCertFile, cfg.TLSKeyFile)
		} else {
			err = e.Start(addr)
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return e.Shutdown(shutdownCtx)
	})
	if mem, ok := limiter.(*middleware.MemoryLimiter); ok {
		g.Go(func() error {
			sweep(gctx, mem, sweepInterval, logger)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		logger.Error().Err(err).Msg("server stopped with error")
		return err
	}
	logger.Info().Msg("server stopped")
	return nil
}

// sweep drops idle rate-limit buckets until ctx is done.
func sweep(ctx context.Context, l *middleware.MemoryLimiter, every time.Duration, logger zerolog.Logger) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(); n > 0 {
				logger.Debug().Int("removed", n).Msg("swept idle rate limit buckets")
			}
		}
	}
}

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/hibiken/asynq"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/spf13/cobra"

	"github.com/MithilHassan/kbt-express/cmd/kbt/cli"
	"github.com/MithilHassan/kbt-express/internal/app"
	"github.com/MithilHassan/kbt-express/internal/booking"
	"github.com/MithilHassan/kbt-express/internal/observability"
	"github.com/MithilHassan/kbt-express/internal/platform/cache"
	"github.com/MithilHassan/kbt-express/internal/platform/db"
	"github.com/MithilHassan/kbt-express/internal/sequence"
	"github.com/MithilHassan/kbt-express/internal/shared"
	"github.com/MithilHassan/kbt-express/internal/status"
	"github.com/MithilHassan/kbt-express/jobs"
	"github.com/MithilHassan/kbt-express/migrations"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	root := newRootCommand(stop)
	if err := root.ExecuteContext(ctx); err != nil {
		var code exitCode
		if errors.As(err, &code) {
			os.Exit(int(code))
		}
		slog.Default().Error("kbt", slog.Any("error", err))
		os.Exit(1)
	}
}

type exitCode int

func (c exitCode) Error() string { return fmt.Sprintf("exit status %d", int(c)) }

func exitWith(code int) error {
	if code == 0 {
		return nil
	}
	return exitCode(code)
}

func newRootCommand(stop context.CancelFunc) *cobra.Command {
	root := &cobra.Command{
		Use:           "kbt",
		Short:         "KBT Express booking service",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), stop)
		},
	}
	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the HTTP API",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return serve(cmd.Context(), stop)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Apply the embedded database schema",
			RunE: func(cmd *cobra.Command, _ []string) error {
				return migrate(cmd.Context())
			},
		},
		hashTokenCommand(),
		jobsCommand(),
	)
	return root
}

func hashTokenCommand() *cobra.Command {
	var token string
	cmd := &cobra.Command{
		Use:   "hash-token",
		Short: "Print the OPERATOR_TOKEN_HASH value for a token read from --token or stdin",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return exitWith(cli.HashTokenCommand(app.HashToken, cli.HashTokenOptions{
				Token:  token,
				Stdin:  cmd.InOrStdin(),
				Stdout: cmd.OutOrStdout(),
				Stderr: cmd.ErrOrStderr(),
			}))
		},
	}
	cmd.Flags().StringVar(&token, "token", "", "operator token")
	return cmd
}

func jobsCommand() *cobra.Command {
	var jsonOutput bool
	var retention time.Duration

	withJobs := func(cmd *cobra.Command, fn func(*cli.JobsCLI, cli.Output) int) error {
		cfg, err := app.LoadConfig()
		if err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "load config: %v\n", err)
			return exitWith(1)
		}
		redisOpts := redisClientOpt(cfg)
		client := asynq.NewClient(redisOpts)
		inspector := asynq.NewInspector(redisOpts)
		defer func() {
			_ = inspector.Close()
			_ = client.Close()
		}()
		jobsCLI := cli.NewJobsCLI(jobs.NewClientWith(client), client, inspector)
		return exitWith(fn(jobsCLI, cli.Output{
			JSONOutput: jsonOutput,
			Stdout:     cmd.OutOrStdout(),
			Stderr:     cmd.ErrOrStderr(),
		}))
	}

	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect and trigger background jobs",
	}
	render := &cobra.Command{
		Use:   "render BOOKING_ID...",
		Short: "Queue document renders",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withJobs(cmd, func(c *cli.JobsCLI, out cli.Output) int {
				return c.RenderCommand(cmd.Context(), args, out)
			})
		},
	}
	inspect := &cobra.Command{
		Use:   "inspect",
		Short: "Show queue depth",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobs(cmd, func(c *cli.JobsCLI, out cli.Output) int {
				return c.InspectCommand(out)
			})
		},
	}
	inspect.Flags().BoolVar(&jsonOutput, "json", false, "print JSON")
	cleanup := &cobra.Command{
		Use:   "cleanup",
		Short: "Queue an Idempotency-Key purge",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return withJobs(cmd, func(c *cli.JobsCLI, out cli.Output) int {
				return c.CleanupCommand(cmd.Context(), retention, out)
			})
		},
	}
	cleanup.Flags().DurationVar(&retention, "retention", jobs.DefaultIdempotencyRetention, "age of keys to purge")
	cmd.AddCommand(render, inspect, cleanup)
	return cmd
}

func redisClientOpt(cfg *app.Config) asynq.RedisClientOpt {
	return asynq.RedisClientOpt{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB}
}

func migrate(ctx context.Context) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return err
	}
	logger := app.NewLogger(cfg)
	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: 2})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return err
	}
	defer pool.Close()
	applied, err := db.Migrate(ctx, pool, migrations.Files)
	if err != nil {
		logger.Error("migrate", slog.Any("error", err))
		return err
	}
	for _, m := range applied {
		logger.Info("migration applied",
			slog.Int64("version", m.Version),
			slog.String("file", m.Path),
			slog.Duration("took", m.Duration))
	}
	version, err := db.MigrationVersion(ctx, pool, migrations.Files)
	if err != nil {
		logger.Error("read schema version", slog.Any("error", err))
		return err
	}
	logger.Info("schema up to date", slog.Int64("version", version), slog.Int("applied", len(applied)))
	return nil
}

func serve(ctx context.Context, stop context.CancelFunc) error {
	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		return err
	}

	logger := app.NewLogger(cfg)
	loc, err := cfg.Location()
	if err != nil {
		logger.Error("load location", slog.Any("error", err))
		return err
	}

	pool, err := db.New(ctx, cfg.PGDSN, db.Options{MaxConns: cfg.PGMaxConns})
	if err != nil {
		logger.Error("connect database", slog.Any("error", err))
		return err
	}
	defer pool.Close()

	redisClient, err := cache.New(ctx, cache.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword, DB: cfg.RedisDB})
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		return err
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()

	repo := booking.NewRepository(pool)
	allocator, err := sequence.NewAllocator(cfg.BookingPrefix, cfg.BookingWidth)
	if err != nil {
		logger.Error("init allocator", slog.Any("error", err))
		return err
	}
	workflow := status.NewWorkflow(repo, logger)
	bookingService := booking.NewService(repo, allocator, workflow, cfg.Policy(), logger)
	bookingService.SetAuditLogger(shared.NewAuditLogger(pool))
	bookingService.SetIdempotencyStore(shared.NewIdempotencyStore(pool))
	bookingService.SetTrackingCache(cache.NewStore(redisClient, app.TrackingCachePrefix, cfg.TrackingCacheTTL))
	bookingService.SetLocation(loc)
	floor, err := reconcileCounter(ctx, pool, allocator)
	if err != nil {
		logger.Error("reconcile booking counter", slog.Any("error", err))
		return err
	}
	if cfg.SequenceBackend == app.SequenceRedis {
		counter := sequence.NewRedisCounter(redisClient, "")
		if err := counter.Seed(ctx, floor); err != nil {
			logger.Error("seed redis counter", slog.Any("error", err))
			return err
		}
		counter.SetFloor(func(ctx context.Context) (int64, error) {
			return allocator.Floor(ctx, pool)
		})
		bookingService.SetCounter(counter)
	}

	pipeline, err := app.NewDocumentPipeline(cfg, repo, redisClient, metrics.Jobs(), logger)
	if err != nil {
		logger.Error("init document pipeline", slog.Any("error", err))
		return err
	}

	redisOpts := redisClientOpt(cfg)
	jobClient := jobs.NewClient(redisOpts)
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("jobs client close", slog.Any("error", err))
		}
	}()
	inspector := asynq.NewInspector(redisOpts)
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("jobs inspector close", slog.Any("error", err))
		}
	}()

	operator := app.NewOperatorGuard(cfg.OperatorTokenHash, logger)
	bookingHandler := booking.NewHandler(logger, bookingService, booking.HandlerOptions{
		Documents:       pipeline,
		Queue:           jobClient,
		Operator:        operator.Middleware,
		PublicRateLimit: cfg.TrackRateLimit,
	})

	router := app.NewRouter(app.RouterParams{
		Logger:         logger,
		Config:         cfg,
		Metrics:        metrics,
		BookingHandler: bookingHandler,
		JobHandler:     jobs.NewHandler(inspector, logger),
		Operator:       operator.Middleware,
		Checks: []app.HealthCheck{
			{Name: "postgres", Check: pool.Ping},
			{Name: "redis", Check: func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }},
		},
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
		return err
	}
	return nil
}

// reconcileCounter lifts the Postgres counter row past every stored booking
// number and returns the resulting floor. Numbers minted by the Redis backend
// never advance the row, so it can lag behind the bookings table.
func reconcileCounter(ctx context.Context, pool *pgxpool.Pool, allocator *sequence.Allocator) (int64, error) {
	floor, err := allocator.Floor(ctx, pool)
	if err != nil {
		return 0, err
	}
	return sequence.NewPGCounter(pool, "").Raise(ctx, floor)
}

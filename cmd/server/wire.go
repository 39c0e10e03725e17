package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	goredis "github.com/redis/go-redis/v9"
	telebot "gopkg.in/telebot.v3"

	"github.com/Proton-105/globalization/internal/audit"
	"github.com/Proton-105/globalization/internal/database"
	"github.com/Proton-105/globalization/internal/dispatch"
	apperrors "github.com/Proton-105/globalization/internal/errors"
	"github.com/Proton-105/globalization/internal/health"
	"github.com/Proton-105/globalization/internal/idempotency"
	"github.com/Proton-105/globalization/internal/jobs"
	"github.com/Proton-105/globalization/internal/jobs/handlers"
	"github.com/Proton-105/globalization/internal/lifecycle"
	"github.com/Proton-105/globalization/internal/payment"
	"github.com/Proton-105/globalization/internal/push"
	"github.com/Proton-105/globalization/internal/ratelimit"
	"github.com/Proton-105/globalization/internal/repository"
	"github.com/Proton-105/globalization/internal/templates"
	"github.com/Proton-105/globalization/internal/user"
	"github.com/Proton-105/globalization/internal/usercache"
	"github.com/Proton-105/globalization/pkg/config"
	appredis "github.com/Proton-105/globalization/pkg/redis"
)

// application holds the wired components and the background loops to start.
type application struct {
	service  *dispatch.Service
	users    *user.Service
	health   *health.Checker
	limiter  ratelimit.Limiter
	rules    *ratelimit.Rules
	breakers []*apperrors.BreakerSet
	loops    []func(ctx context.Context)
}

func (a *application) start(ctx context.Context) {
	for _, loop := range a.loops {
		go loop(ctx)
	}
}

func build(ctx context.Context, cfg *config.Config, log *slog.Logger, shutdown *lifecycle.Shutdown) (*application, error) {
	app := &application{
		health: health.NewChecker(log, 3*time.Second),
		rules:  ratelimit.NewRules(cfg.RateLimit),
	}

	rdb, err := openRedis(ctx, cfg.Redis, shutdown)
	if err != nil {
		return nil, err
	}
	if rdb != nil {
		app.health.AddCheck("redis", health.NewRedisChecker(rdb.Client))
	}

	db, err := openDatabase(ctx, cfg.Database, log, shutdown)
	if err != nil {
		return nil, err
	}
	if db != nil {
		app.health.AddCheck("postgres", health.NewDBChecker(db))
	}

	memoryLimiter := ratelimit.NewMemoryLimiter()
	app.limiter = memoryLimiter
	if rdb != nil {
		app.limiter = ratelimit.NewAdaptiveLimiter(ratelimit.NewRedisLimiter(rdb.Client, log), memoryLimiter, log)
	}
	limiterCleaner := ratelimit.NewCleaner(redisClientOf(rdb), memoryLimiter, log, 5*time.Minute, time.Hour)
	app.loops = append(app.loops, limiterCleaner.Run)

	pushRouter, err := buildPush(cfg, log, app)
	if err != nil {
		return nil, err
	}

	payRouter, err := buildPayment(cfg, log, rdb, db, app)
	if err != nil {
		return nil, err
	}

	catalog, err := templates.Load(cfg.Templates.Dir, cfg.Templates.DefaultLang, log)
	if err != nil {
		return nil, fmt.Errorf("load templates: %w", err)
	}
	if cfg.Templates.Watch {
		app.loops = append(app.loops, func(ctx context.Context) {
			if err := catalog.Watch(ctx); err != nil {
				log.Error("template watcher stopped", slog.Any("error", err))
			}
		})
	}

	recorder, chain, err := buildAudit(ctx, cfg, log, db, shutdown)
	if err != nil {
		return nil, err
	}
	app.health.AddCheck("audit", health.NewAuditChecker(chain))

	var userRepo repository.UserRepository = repository.NewMemoryUserRepository()
	if db != nil {
		userRepo = repository.NewUserRepository(db, log)
	}
	var cache *usercache.Cache
	if rdb != nil {
		cache = usercache.NewCache(rdb.Client, cfg.Redis.UserCacheTTL)
	}
	app.users = user.NewService(userRepo, cache, log)

	deps := dispatch.Deps{
		Push:      pushRouter,
		Pay:       payRouter,
		Templates: catalog,
		Audit:     recorder,
	}

	if cfg.Jobs.Enabled && rdb != nil {
		redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}
		deps.Queue = jobs.NewManager(redisOpt, log)
		shutdown.Register("jobs client", func(context.Context) error { return deps.Queue.Close() })
	}

	app.service = dispatch.NewService(deps, log)

	if deps.Queue != nil {
		if err := startJobs(cfg, log, app.service, deps.Queue, chain, shutdown); err != nil {
			return nil, err
		}
	}

	return app, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig, shutdown *lifecycle.Shutdown) (*appredis.Client, error) {
	if !cfg.Enabled() {
		return nil, nil
	}

	rdb, err := appredis.New(ctx, cfg)
	if err != nil {
		return nil, err
	}
	shutdown.RegisterLast("redis", func(context.Context) error { return rdb.Close() })
	return rdb, nil
}

func redisClientOf(rdb *appredis.Client) *goredis.Client {
	if rdb == nil {
		return nil
	}
	return rdb.Client
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, log *slog.Logger, shutdown *lifecycle.Shutdown) (*sql.DB, error) {
	if !cfg.Enabled() {
		log.Warn("database is not configured, using in-memory stores")
		return nil, nil
	}

	db, err := sql.Open("postgres", cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	shutdown.RegisterLast("postgres", func(context.Context) error { return db.Close() })

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if cfg.MigrationsDir != "" {
		applied, err := database.NewMigrator(db, log).ApplyDir(ctx, cfg.MigrationsDir)
		if err != nil {
			return nil, fmt.Errorf("apply migrations: %w", err)
		}
		log.Info("database migrations applied", slog.Int("applied", applied))
	}

	return db, nil
}

func buildPush(cfg *config.Config, log *slog.Logger, app *application) (*push.Router, error) {
	router := push.NewRouter(push.Options{
		Concurrency: cfg.Push.Concurrency,
		Timeout:     cfg.Push.Timeout,
		Retry:       retryPolicy(cfg.Push.Retry),
		Limiter:     app.limiter,
		Rules:       app.rules,
	}, log.With(slog.String("component", "push")))

	var tg push.TelegramSender
	if cfg.Push.Telegram.Token != "" {
		bot, err := push.NewTelegramBot(cfg.Push.Telegram.Token, cfg.Push.Timeout)
		if err != nil {
			return nil, fmt.Errorf("create telegram bot: %w", err)
		}
		tg = bot
		app.health.AddCheck("telegram", health.NewTelegramChecker(telegramAPI(bot)))
	}

	for _, ch := range push.FromConfig(cfg.Push, &http.Client{Timeout: cfg.Push.Timeout}, tg, log) {
		router.Register(ch)
	}
	log.Info("push channels registered", slog.Any("channels", router.Channels()))

	app.breakers = append(app.breakers, router.Breakers())
	return router, nil
}

func telegramAPI(bot *telebot.Bot) health.TelegramAPI {
	return bot
}

func buildPayment(cfg *config.Config, log *slog.Logger, rdb *appredis.Client, db *sql.DB, app *application) (*payment.Router, error) {
	var idem idempotency.Manager
	if rdb != nil {
		idem = idempotency.NewManager(idempotency.NewRedisStore(rdb.Client, log), log)
		cleaner := idempotency.NewCleaner(rdb.Client, log, time.Hour, cfg.Payment.IdempotencyTTL)
		app.loops = append(app.loops, cleaner.Run)
	} else {
		log.Warn("redis is not configured, payout idempotency keys are ignored")
	}

	var store payment.Store = payment.NewMemoryStore()
	if db != nil {
		store = repository.NewPayoutRepository(db, log)
	}

	router := payment.NewRouter(payment.Options{
		Currency:       cfg.Payment.Currency,
		Timeout:        cfg.Payment.Timeout,
		IdempotencyTTL: cfg.Payment.IdempotencyTTL,
		Retry:          retryPolicy(cfg.Payment.Retry),
	}, store, idem, log.With(slog.String("component", "payment")))

	for _, provider := range payment.GatewaysFromConfig(cfg.Payment.Providers, &http.Client{Timeout: cfg.Payment.Timeout}) {
		router.Register(provider)
	}
	log.Info("payment providers registered", slog.Any("providers", router.Providers()))

	app.breakers = append(app.breakers, router.Breakers())
	return router, nil
}

func buildAudit(ctx context.Context, cfg *config.Config, log *slog.Logger, db *sql.DB, shutdown *lifecycle.Shutdown) (*audit.Recorder, audit.ChainSource, error) {
	var (
		sinks []audit.Sink
		chain audit.ChainSource
	)

	if db != nil && cfg.Audit.Postgres {
		repo := repository.NewAuditRepository(db, log)
		sinks = append(sinks, repo)
		chain = repo
	}

	if cfg.Audit.File != "" {
		file := audit.NewFileSink(cfg.Audit)
		sinks = append(sinks, file)
		shutdown.Register("audit file", func(context.Context) error { return file.Close() })
	}

	if chain == nil {
		// the chain of record leads the sink list
		memory := audit.NewMemorySink()
		sinks = append([]audit.Sink{memory}, sinks...)
		chain = memory
		log.Warn("audit chain is kept in memory only")
	}

	recorder := audit.NewRecorder(log.With(slog.String("component", "audit")), sinks...)
	if err := recorder.Resume(ctx, chain); err != nil {
		return nil, nil, fmt.Errorf("resume audit chain: %w", err)
	}

	return recorder, chain, nil
}

func startJobs(cfg *config.Config, log *slog.Logger, svc *dispatch.Service, queue jobs.Manager, chain audit.ChainSource, shutdown *lifecycle.Shutdown) error {
	redisOpt := asynq.RedisClientOpt{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}

	worker := jobs.NewWorker(redisOpt, cfg.Jobs.Concurrency, cfg.Jobs.Queues, log)
	worker.RegisterHandler(jobs.TaskTypePushDeliver, handlers.NewPushDeliverHandler(svc, queue, log))
	worker.RegisterHandler(jobs.TaskTypeAuditVerify, handlers.NewAuditVerifyHandler(chain, log))
	if err := worker.Start(); err != nil {
		return fmt.Errorf("start jobs worker: %w", err)
	}
	shutdown.Register("jobs worker", func(context.Context) error {
		worker.Shutdown()
		return nil
	})

	scheduler := jobs.NewScheduler(redisOpt, log)
	if err := scheduler.RegisterTasks(cfg.Audit.VerifyCron); err != nil {
		return fmt.Errorf("register scheduled tasks: %w", err)
	}
	scheduler.Run()
	shutdown.Register("jobs scheduler", func(context.Context) error {
		scheduler.Shutdown()
		return nil
	})

	return nil
}

func retryPolicy(cfg config.RetryConfig) apperrors.RetryPolicy {
	return apperrors.RetryPolicy{
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
		MaxBackoff:     cfg.MaxBackoff,
	}
}

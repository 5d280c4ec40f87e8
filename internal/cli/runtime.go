package cli

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/redis/go-redis/v9"
	tele "gopkg.in/telebot.v4"

	"quizbot/internal/app"
	"quizbot/internal/catalog"
	"quizbot/internal/config"
	"quizbot/internal/domain"
	"quizbot/internal/infra/memory"
	"quizbot/internal/infra/postgres"
	"quizbot/internal/infra/rabbit"
	redisstore "quizbot/internal/infra/redis"
	"quizbot/internal/logger"
	"quizbot/internal/transport/telegram"
)

// runtime holds every component of one process, built explicitly from config.
type runtime struct {
	cfg        *config.Config
	log        *slog.Logger
	redis      *redis.Client
	store      app.SessionStore
	// ping checks the session backend; nil for the in-memory store.
	ping       func(context.Context) error
	hub        *app.ResultHub
	publisher  *rabbit.Publisher
	bot        *tele.Bot
	executor   *app.Executor
	dispatcher *telegram.Dispatcher
}

func loadConfig(path string) (*config.Config, *slog.Logger, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, err
	}
	log, err := logger.New(cfg.Logging, nil)
	if err != nil {
		return nil, nil, err
	}
	slog.SetDefault(log)
	return cfg, log, nil
}

type runtimeOptions struct {
	// offline builds a bot that never polls (one-shot mode).
	offline       bool
	flushPerEvent bool
}

func buildRuntime(ctx context.Context, cfg *config.Config, log *slog.Logger, opts runtimeOptions) (*runtime, error) {
	cat, err := loadCatalog(ctx, cfg)
	if err != nil {
		return nil, err
	}
	for _, w := range catalog.Warnings(cat, app.QuestionLimit, app.OptionLimit) {
		log.LogAttrs(ctx, slog.LevelInfo, "",
			slog.String("event", "catalog.long_content"),
			slog.String("detail", w),
		)
	}

	rt := &runtime{cfg: cfg, log: log, hub: app.NewResultHub(16)}

	if cfg.Redis.Addr == "" {
		rt.store = memory.NewSessionStore()
		log.LogAttrs(ctx, slog.LevelWarn, "",
			slog.String("event", "store.in_memory"),
		)
	} else {
		rt.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		store := redisstore.NewSessionStore(rt.redis, cfg.Redis.Key, log)
		rt.store, rt.ping = store, store.Ping
		pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
		if err := store.Ping(pingCtx); err != nil {
			log.LogAttrs(ctx, slog.LevelWarn, "",
				slog.String("event", "store.ping_failed"),
				slog.String("addr", cfg.Redis.Addr),
				slog.String("err", err.Error()),
			)
		}
		cancel()
	}

	sinks := []app.ResultSink{rt.hub}
	if cfg.Rabbit.URL != "" {
		rt.publisher, err = rabbit.Dial(cfg.Rabbit.URL, cfg.Rabbit.Exchange, cfg.Rabbit.RoutingKey)
		if err != nil {
			// The bot runs without the broker.
			log.LogAttrs(ctx, slog.LevelWarn, "",
				slog.String("event", "rabbit.unavailable"),
				slog.String("err", err.Error()),
			)
		} else {
			sinks = append(sinks, rt.publisher)
		}
	}

	rt.bot, err = telegram.NewBot(cfg, opts.offline)
	if err != nil {
		rt.close()
		return nil, err
	}

	machine := app.NewMachine(cat, app.TextsFor(cfg.Bot.Passphrase), cfg.NotifyStale())
	cache := app.NewSessionCache(rt.store, log)
	rt.executor = app.NewExecutor(cache, machine, telegram.NewOutbound(rt.bot), app.ExecutorOptions{
		Passphrase:    cfg.Bot.Passphrase,
		StartMessage:  cfg.Bot.StartMessage,
		FlushPerEvent: opts.flushPerEvent,
		Sinks:         sinks,
		Logger:        log,
	})
	rt.dispatcher = telegram.NewDispatcher(rt.bot, rt.executor, log)

	log.LogAttrs(ctx, slog.LevelInfo, "",
		slog.String("event", "runtime.ready"),
		slog.Int("quizzes", len(cat.Quizzes)),
		slog.String("catalog", cfg.Catalog.Source),
		slog.Bool("flush_per_event", opts.flushPerEvent),
		slog.Bool("passphrase", cfg.Bot.Passphrase != ""),
	)
	return rt, nil
}

func loadCatalog(ctx context.Context, cfg *config.Config) (domain.Catalog, error) {
	if cfg.Catalog.Source != config.CatalogSourcePostgres {
		return catalog.NewFileLoader(cfg.Catalog.Path).LoadCatalog(ctx)
	}
	pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
	if err != nil {
		return domain.Catalog{}, fmt.Errorf("connect postgres: %w", err)
	}
	defer pool.Close()
	return postgres.NewCatalogLoader(pool).LoadCatalog(ctx)
}

func (rt *runtime) close() {
	if rt.publisher != nil {
		_ = rt.publisher.Close()
	}
	if rt.redis != nil {
		_ = rt.redis.Close()
	}
}

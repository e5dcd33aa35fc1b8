package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/samber/lo"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"dexwatch/config"
	"dexwatch/db"
	"dexwatch/dedup"
	"dexwatch/dexscreener"
	"dexwatch/models"
	"dexwatch/monitor"
	"dexwatch/notify"
	"dexwatch/redisstore"
	"dexwatch/server"
	"dexwatch/stats"
)

func monitorCmd() *cli.Command {
	return &cli.Command{
		Name:  "monitor",
		Usage: "Poll DexScreener and post new events to Telegram",
		Description: `Polls the DexScreener ads, token profile, token boost and order feeds
and posts a message to the configured Telegram chat for each new event.

Serves a small status API with /status, /poll, /metrics and a server-sent
event stream of notifications on --status-addr.

Use --dry-run to print notifications to stdout instead of Telegram.`,
		Flags: append([]cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to TOML configuration file",
				EnvVars: []string{"DEXWATCH_CONFIG"},
			},
			&cli.DurationFlag{
				Name:    "interval",
				Aliases: []string{"i"},
				Value:   30 * time.Second,
				Usage:   "Time between poll cycles",
				EnvVars: []string{"DEXWATCH_INTERVAL"},
			},
			&cli.StringSliceFlag{
				Name:    "kinds",
				Usage:   "Feeds to monitor (ads, profiles, boosts, orders)",
				EnvVars: []string{"DEXWATCH_KINDS"},
			},
			&cli.DurationFlag{
				Name:    "timeout",
				Value:   10 * time.Second,
				Usage:   "Timeout for upstream and Telegram requests",
				EnvVars: []string{"DEXWATCH_TIMEOUT"},
			},
			&cli.IntFlag{
				Name:    "max-order-lookups",
				Value:   50,
				Usage:   "Maximum number of tokens whose paid orders are checked per cycle",
				EnvVars: []string{"DEXWATCH_MAX_ORDER_LOOKUPS"},
			},
			&cli.BoolFlag{
				Name:    "enrich",
				Value:   true,
				Usage:   "Look up name, price and market cap for each new event",
				EnvVars: []string{"DEXWATCH_ENRICH"},
			},
			&cli.IntFlag{
				Name:    "max-retries",
				Value:   3,
				Usage:   "Retries for transient Telegram failures",
				EnvVars: []string{"DEXWATCH_MAX_RETRIES"},
			},
			&cli.BoolFlag{
				Name:    "dry-run",
				Usage:   "Print notifications to stdout instead of sending them",
				EnvVars: []string{"DEXWATCH_DRY_RUN"},
			},
			&cli.BoolFlag{
				Name:    "announce",
				Usage:   "Send a message to the chat when the monitor starts",
				EnvVars: []string{"DEXWATCH_ANNOUNCE"},
			},
			&cli.BoolFlag{
				Name:    "commands",
				Usage:   "Answer /status and /help sent to the bot",
				EnvVars: []string{"DEXWATCH_COMMANDS"},
			},
			databaseFlag(""),
			&cli.StringFlag{
				Name:    "redis-url",
				Usage:   "Remember seen events in Redis instead of SQLite (redis://host:port/db)",
				EnvVars: []string{"DEXWATCH_REDIS_URL"},
			},
			&cli.IntFlag{
				Name:    "max-entries",
				Usage:   "Remember at most this many identities per feed (0 is unbounded)",
				EnvVars: []string{"DEXWATCH_MAX_ENTRIES"},
			},
			&cli.StringFlag{
				Name:    "status-addr",
				Value:   ":3000",
				Usage:   "Listen address of the status server, empty to disable",
				EnvVars: []string{"DEXWATCH_STATUS_ADDR"},
			},
			&cli.StringFlag{
				Name:    "allow-origins",
				Usage:   "CORS origins allowed to read the status API",
				EnvVars: []string{"DEXWATCH_ALLOW_ORIGINS"},
			},
		}, telegramFlags()...),
		Action: func(ctx *cli.Context) error {
			s, err := resolveSettings(ctx)
			if err != nil {
				return err
			}
			return runMonitor(ctx, s)
		},
	}
}

func resolveSettings(ctx *cli.Context) (config.Settings, error) {
	s := config.Default()

	if path := ctx.String("config"); path != "" {
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return s, err
		}
		if err := cfg.Apply(&s); err != nil {
			return s, err
		}
	}

	if ctx.IsSet("interval") {
		s.Interval = ctx.Duration("interval")
	}
	if ctx.IsSet("kinds") {
		kinds, err := config.ParseKinds(ctx.StringSlice("kinds"))
		if err != nil {
			return s, err
		}
		s.Kinds = kinds
	}
	if ctx.IsSet("timeout") {
		s.RequestTimeout = ctx.Duration("timeout")
	}
	if ctx.IsSet("max-order-lookups") {
		s.MaxOrderLookups = ctx.Int("max-order-lookups")
	}
	if ctx.IsSet("enrich") {
		s.Enrich = ctx.Bool("enrich")
	}
	if ctx.IsSet("max-retries") {
		s.MaxRetries = ctx.Int("max-retries")
	}
	if ctx.IsSet("announce") {
		s.Announce = ctx.Bool("announce")
	}
	if ctx.IsSet("commands") {
		s.Commands = ctx.Bool("commands")
	}
	if ctx.IsSet("database") {
		s.Database = ctx.String("database")
	}
	if ctx.IsSet("redis-url") {
		s.RedisURL = ctx.String("redis-url")
	}
	if ctx.IsSet("max-entries") {
		s.MaxEntries = ctx.Int("max-entries")
	}
	if ctx.IsSet("status-addr") {
		s.StatusAddr = ctx.String("status-addr")
	}
	if ctx.IsSet("allow-origins") {
		s.AllowOrigins = ctx.String("allow-origins")
	}
	telegramSettings(ctx, &s)

	if s.Database != "" && s.RedisURL != "" {
		return s, errors.New("--database and --redis-url are mutually exclusive")
	}
	if len(s.Kinds) == 0 {
		return s, errors.New("no feeds selected")
	}
	if s.Interval < time.Second {
		return s, fmt.Errorf("interval %s is too short", s.Interval)
	}
	return s, nil
}

func runMonitor(ctx *cli.Context, s config.Settings) error {
	runCtx, stop := signal.NotifyContext(ctx.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var sink notify.Sink
	var telegram *notify.TelegramClient
	if ctx.Bool("dry-run") {
		log.Info("Dry run, notifications are printed to stdout")
		sink = notify.NewConsoleSink(os.Stdout)
	} else {
		client, err := telegramClient(s)
		if err != nil {
			return err
		}
		bot, err := client.GetMe(runCtx)
		if err != nil {
			return fmt.Errorf("telegram bot check failed: %w", err)
		}
		log.WithField("bot", bot.Username).Info("Connected to Telegram")
		telegram = client
		sink = notify.NewTelegramSink(client, s.ChatID)
	}

	store, closeStore, err := openStore(runCtx, s)
	if err != nil {
		return err
	}
	defer closeStore()

	client := dexscreener.NewClient(dexscreener.DefaultBaseURL, dexscreener.WithTimeout(s.RequestTimeout))
	fetcher := dexscreener.NewFetcher(client, s.MaxOrderLookups)
	tracker := stats.NewTracker()

	dispatcherConfig := notify.DefaultDispatcherConfig()
	dispatcherConfig.MaxRetries = s.MaxRetries
	dispatcher := notify.NewDispatcher(sink, dispatcherConfig, tracker)

	bc := server.NewBroadcaster()
	defer bc.Shutdown()

	opts := []monitor.Option{
		monitor.WithInterval(s.Interval),
		monitor.WithKinds(s.Kinds...),
		monitor.WithObserver(bc),
	}
	if s.Enrich {
		opts = append(opts, monitor.WithEnricher(client))
	}
	m := monitor.New(fetcher, store, dispatcher, tracker, opts...)

	if s.StatusAddr != "" {
		app := server.Server(&server.ServerConfig{
			Poller:       m,
			Snapshot:     tracker.Snapshot,
			Seen:         store.Len,
			Broadcaster:  bc,
			AllowOrigins: s.AllowOrigins,
		})
		go func() {
			log.WithField("addr", s.StatusAddr).Info("Starting status server")
			if err := app.Listen(s.StatusAddr); err != nil {
				log.WithError(err).Error("Status server stopped")
			}
		}()
		defer func() {
			if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
				log.WithError(err).Warn("Status server shutdown failed")
			}
		}()
	}

	if s.Commands && telegram != nil {
		listener := notify.NewCommandListener(telegram, tracker.Snapshot, 5*time.Second)
		go listener.Run(runCtx)
	}

	if s.Announce {
		names := lo.Map(s.Kinds, func(k models.FeedKind, _ int) string { return k.String() })
		text := fmt.Sprintf("🤖 <b>DexScreener monitor started</b>\n\nWatching: %s\nInterval: %s",
			strings.Join(names, ", "), s.Interval)
		if err := dispatcher.Send(runCtx, models.Notification{Text: text}); err != nil {
			if errors.Is(err, notify.ErrUnauthorized) {
				return err
			}
			log.WithError(err).Warn("Failed to send startup message")
		}
	}

	if err := m.Run(runCtx); err != nil {
		return fmt.Errorf("monitor stopped: %w", err)
	}

	log.WithFields(log.Fields{
		"cycles": tracker.Snapshot().Cycles,
		"sent":   tracker.Snapshot().NotificationsSent,
	}).Info("Done!")
	return nil
}

// openStore creates the dedup store, backed by SQLite or Redis when configured
func openStore(ctx context.Context, s config.Settings) (*dedup.Store, func(), error) {
	cfg := dedup.Config{MaxEntries: s.MaxEntries}
	closeStore := func() {}

	switch {
	case s.RedisURL != "":
		rs, err := redisstore.New(ctx, s.RedisURL, redisstore.DefaultPrefix)
		if err != nil {
			return nil, nil, err
		}
		cfg.Persister = rs
		closeStore = func() {
			if err := rs.Close(); err != nil {
				log.WithError(err).Warn("Failed to close Redis client")
			}
		}
	case s.Database != "":
		if err := db.Migrate(s.Database); err != nil {
			return nil, nil, fmt.Errorf("migrate %s: %w", s.Database, err)
		}
		seenDB, err := db.Open(s.Database)
		if err != nil {
			return nil, nil, err
		}
		cfg.Persister = seenDB
		closeStore = func() {
			if err := seenDB.Close(); err != nil {
				log.WithError(err).Warn("Failed to close database")
			}
		}
	}

	store, err := dedup.New(cfg)
	if err != nil {
		closeStore()
		return nil, nil, err
	}
	if err := store.Load(ctx); err != nil {
		closeStore()
		return nil, nil, err
	}
	return store, closeStore, nil
}

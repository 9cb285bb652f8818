package main

import (
	"context"
	"errors"
	"flag"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"agenda/internal/auth"
	"agenda/internal/config"
	"agenda/internal/holiday"
	appLog "agenda/internal/log"
	"agenda/internal/postgres"
	"agenda/internal/reminder"
	"agenda/internal/store"
	"agenda/internal/web"
)

type flagConfig struct {
	configPath  string
	listen      string
	migrateOnly bool
}

func main() {
	// .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		appLog.Warn("failed to load .env", "err", err)
	}

	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.ApplyEnv(nil)

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	appLog.Init(conf.Log.Level, conf.Log.Format, os.Stderr)
	defer appLog.Sync()
	appLog.Info("agenda starting", "version", "0.1.0")

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"week_start", conf.WeekStart,
		"locale", conf.Locale,
		"reminder_schedule", conf.Reminder.Schedule,
		"database", conf.Database.URL != "",
		"redis", conf.Holidays.RedisURL != "",
		"smtp", conf.SMTP.Enabled(),
		"categories", len(conf.Categories),
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, conf, flags); err != nil {
		appLog.Error("agenda stopped with error", err)
		appLog.Sync()
		os.Exit(1)
	}
	appLog.Info("agenda exiting")
}

func run(ctx context.Context, conf *config.Config, flags flagConfig) error {
	st, closeDB, err := openStore(ctx, conf, flags.migrateOnly)
	if err != nil {
		return err
	}
	defer closeDB()
	if flags.migrateOnly {
		appLog.Info("migrations applied; exiting")
		return nil
	}

	signer, err := auth.NewSigner(conf.Auth.JWTSecret, time.Duration(conf.Auth.TokenTTLHours)*time.Hour)
	if err != nil {
		return err
	}

	overlay, closeCache := holidayOverlay(ctx, conf)
	defer closeCache()

	srv := web.NewServer(conf, web.Deps{Store: st, Signer: signer, Overlay: overlay})
	go srv.Hub().Run(ctx)

	sched := reminder.New(st, srv.Hub(), reminderSender(conf), reminder.Options{Schedule: conf.Reminder.Schedule})
	if err := sched.Start(ctx); err != nil {
		return err
	}
	defer sched.Stop()

	return srv.ListenAndServe(ctx)
}

// openStore connects the durable persister when a database is configured and
// loads the collection. Without one, appointments live in memory only.
func openStore(ctx context.Context, conf *config.Config, migrateOnly bool) (*store.Store, func(), error) {
	if conf.Database.URL == "" {
		if migrateOnly {
			return nil, nil, errors.New("-migrate-only needs database.url")
		}
		appLog.Warn("no database configured; appointments are kept in memory")
		return store.New(nil), func() {}, nil
	}

	if err := postgres.Migrate(conf.Database.URL); err != nil {
		return nil, nil, err
	}
	if migrateOnly {
		return nil, func() {}, nil
	}

	pool, err := postgres.Connect(ctx, postgres.Config{
		URL:      conf.Database.URL,
		MaxConns: conf.Database.MaxConns,
		MinConns: conf.Database.MinConns,
	})
	if err != nil {
		return nil, nil, err
	}
	repo := postgres.NewAppointmentRepository(pool)
	st := store.New(repo)
	if err := st.Reload(ctx, repo); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return st, pool.Close, nil
}

// holidayOverlay builds the HTTP source with its disk cache, fronted by
// Redis when configured. A Redis outage at startup only disables the shared
// cache.
func holidayOverlay(ctx context.Context, conf *config.Config) (*holiday.Overlay, func()) {
	var src holiday.Source = holiday.NewHTTPSource(conf.Holidays.URL, conf.Holidays.CacheDir)
	closer := func() {}

	if conf.Holidays.RedisURL != "" {
		ttl := time.Duration(conf.Holidays.RedisTTLHours) * time.Hour
		cache, err := holiday.NewRedisCache(ctx, conf.Holidays.RedisURL, ttl)
		if err != nil {
			appLog.Error("redis holiday cache unavailable; fetching directly", err)
		} else {
			src = holiday.CachedSource{Cache: cache, Source: src}
			closer = func() { _ = cache.Close() }
		}
	}
	return holiday.NewOverlay(src), closer
}

func reminderSender(conf *config.Config) reminder.Sender {
	if !conf.SMTP.Enabled() {
		appLog.Info("smtp not configured; reminders are in-app only")
		return nil
	}
	s, err := reminder.NewSMTPSender(reminder.SMTPConfig{
		Host:     conf.SMTP.Host,
		Port:     conf.SMTP.Port,
		Username: conf.SMTP.Username,
		Password: conf.SMTP.Password,
		From:     conf.SMTP.From,
		FromName: conf.SMTP.FromName,
		UseTLS:   conf.SMTP.UseTLS,
		Location: conf.Location(),
		Locale:   conf.Locale,
	})
	if err != nil {
		appLog.Error("smtp sender disabled", err)
		return nil
	}
	return s
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "./agenda.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.migrateOnly, "migrate-only", false, "Apply database migrations and exit")

	flag.Parse()

	return cfg
}

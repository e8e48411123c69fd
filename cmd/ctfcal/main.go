package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/robfig/cron/v3"

	"ctfcal/internal/config"
	"ctfcal/internal/ics"
	appLog "ctfcal/internal/log"
	"ctfcal/internal/loop"
	"ctfcal/internal/notify"
	"ctfcal/internal/tracker"
	"ctfcal/internal/web"
)

const version = "0.1.0"

// flagConfig holds CLI flag values that override the config file.
type flagConfig struct {
	configPath string
	listen     string
	logLevel   string
	once       bool
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}
	conf.Normalize()

	// CLI flags override config file values if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.Log.Level = flags.logLevel
	}
	appLog.SetLevel(appLog.ParseLevel(conf.Log.Level))

	if err := conf.Validate(); err != nil {
		appLog.Error("invalid config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	appLog.Info("ctfcal starting", "version", version)
	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"feed", ics.RedactURL(conf.Feed.URL),
		"expand_recurring", conf.Feed.ExpandRecurring,
		"reminder_days", fmt.Sprint(conf.Reminders.Days),
		"reminder_hours", conf.Reminders.Hours,
		"destination", conf.Notify.Destination,
		"announce_new", conf.AnnounceNewEvents(),
		"once", flags.once,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	if flags.once {
		os.Exit(runOnce(ctx, conf))
	}
	if err := run(ctx, conf); err != nil {
		appLog.Error("ctfcal failed", err)
		os.Exit(1)
	}
	appLog.Info("ctfcal exiting")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/ctfcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error (overrides config if set)")
	flag.BoolVar(&cfg.once, "once", false, "Run one sync cycle against the log destination, print the listing and exit")

	flag.Parse()

	return cfg
}

// openFeed builds the feed pipeline. The returned cache may be nil.
func openFeed(conf *config.Config) (*ics.Feed, *ics.Cache) {
	var cache *ics.Cache
	if conf.Feed.CachePath != "" {
		c, err := ics.OpenCache(conf.Feed.CachePath)
		if err != nil {
			appLog.Error("feed cache unavailable; fetching without it", err, "path", conf.Feed.CachePath)
		} else {
			cache = c
		}
	}
	feed := ics.NewFeed(ics.NewFetcher(conf.Feed.Timeout, cache), ics.FeedConfig{
		Source:          ics.Source{ID: "ctf", URL: conf.Feed.URL},
		Location:        conf.Location(),
		ExpandRecurring: conf.Feed.ExpandRecurring,
		Horizon:         time.Duration(conf.Feed.HorizonDays) * 24 * time.Hour,
	})
	return feed, cache
}

func trackerOptions(conf *config.Config, announce bool) tracker.Options {
	return tracker.Options{
		Location:      conf.Location(),
		ReminderDays:  conf.Reminders.Days,
		ReminderHours: conf.Reminders.Hours,
		AnnounceNew:   announce,
		NotifyTimeout: conf.Notify.Timeout,
		ListingLimit:  conf.Listing.Limit,
	}
}

func closeCache(cache *ics.Cache) {
	if err := cache.Close(); err != nil {
		appLog.Error("feed cache close failed", err)
	}
}

// runOnce performs a single dry sync. Nothing is announced; the listing goes
// to stdout.
func runOnce(ctx context.Context, conf *config.Config) int {
	feed, cache := openFeed(conf)
	defer closeCache(cache)

	lp := loop.New(0)
	loopCtx, stopLoop := context.WithCancel(ctx)
	go lp.Run(loopCtx)

	svc := tracker.New(feed, notify.Log{}, lp, trackerOptions(conf, false))
	defer func() {
		stopLoop()
		<-lp.Done()
		svc.Stop()
	}()

	if _, err := svc.Sync(ctx); err != nil {
		return 1
	}
	fmt.Println(svc.ListingMessage(ctx))
	return 0
}

func run(ctx context.Context, conf *config.Config) error {
	feed, cache := openFeed(conf)
	defer closeCache(cache)

	lp := loop.New(0)
	go lp.Run(ctx)

	dest := notify.Resolve(conf, nil)
	svc := tracker.New(feed, dest.Notifier, lp, trackerOptions(conf, conf.AnnounceNewEvents()))

	// Initial load. A failure here is retried by the periodic driver.
	if _, err := svc.Sync(ctx); err != nil {
		appLog.Warn("initial sync failed; waiting for next cycle")
	}

	c := cron.New(cron.WithLocation(conf.Location()))
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		_, _ = svc.Sync(ctx)
	}); err != nil {
		return fmt.Errorf("schedule refresh %q: %w", conf.RefreshCron, err)
	}
	c.Start()
	appLog.Info("periodic sync scheduled", "refresh", conf.RefreshCron)

	if tg := dest.Telegram; tg != nil {
		tg.HandleCommand("upcoming", "Liệt kê các sự kiện CTF sắp tới", svc.ListingMessage)
		tg.Start()
		defer tg.Stop()
	}

	webErr := make(chan error, 1)
	if conf.Listen != "" {
		go func() {
			webErr <- web.Serve(ctx, conf, svc)
		}()
	}

	select {
	case <-ctx.Done():
	case err := <-webErr:
		if err != nil {
			appLog.Error("HTTP server failed", err, "listen", conf.Listen)
		}
		<-ctx.Done()
	}

	// Wait for a running cron job, then drain the loop before touching its
	// state from this goroutine.
	select {
	case <-c.Stop().Done():
	case <-time.After(10 * time.Second):
		appLog.Warn("timed out waiting for in-flight sync")
	}
	<-lp.Done()
	svc.Stop()
	return nil
}

package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"uqclock/internal/capture"
	"uqclock/internal/config"
	"uqclock/internal/ics"
	appLog "uqclock/internal/log"
	"uqclock/internal/overlay"
	"uqclock/internal/schedule"
	"uqclock/internal/web"
)

// flagConfig holds CLI flag values; they override the config file.
type flagConfig struct {
	configPath string
	listen     string
	headless   bool
	snapshot   string
	logLevel   string
}

func main() {
	flags := parseFlags()

	conf, err := config.Load(flags.configPath)
	if err != nil {
		// Load already returned defaults; keep running with them.
		appLog.Error("failed to load config, using defaults", err, "config_path", flags.configPath)
	}

	if flags.listen != "" {
		conf.Listen = flags.listen
	}
	if flags.logLevel != "" {
		conf.LogLevel = flags.logLevel
	}
	if lvl, ok := appLog.ParseLevel(conf.LogLevel); ok {
		appLog.SetLevel(lvl)
	} else {
		appLog.Warn("unknown log level, keeping info", "log_level", conf.LogLevel)
	}

	appLog.Info("uqclock starting", "version", "0.1.0")
	appLog.Info("effective config",
		"config_path", flags.configPath,
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"refresh", conf.RefreshCron,
		"calendar_id", conf.CalendarID,
		"horizon_days", conf.HorizonDays,
		"max_results", conf.MaxResults,
		"ignored_titles", len(conf.IgnoredTitles),
		"headless", flags.headless,
		"snapshot", flags.snapshot,
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

	src := ics.NewSource(conf, ics.NewFetcher(conf.CacheDir, nil))
	appLog.Info("event source ready", "source", src.String())

	queue := schedule.NewQueue(src, schedule.Options{
		CalendarID:      conf.CalendarID,
		IgnoredTitles:   conf.IgnoredTitles,
		MaxResults:      conf.MaxResults,
		RetryDelay:      conf.RetryDelay.Std(),
		FailureRetry:    conf.FailureRetry.Std(),
		FreezeOnFailure: conf.FreezeOnFailure,
		FetchTimeout:    conf.FetchTimeout.Std(),
		Async:           true,
	})
	defer queue.Close()

	// First fill happens before the window opens so the first frame is real.
	_ = queue.Refill(ctx)

	if flags.snapshot != "" {
		if err := runSnapshot(ctx, conf, queue, flags.snapshot); err != nil {
			appLog.Error("snapshot failed", err, "path", flags.snapshot)
			os.Exit(1)
		}
		return
	}

	if _, err := schedule.StartCron(ctx, conf.RefreshCron, conf.Location(), queue); err != nil {
		appLog.Error("periodic refresh disabled", err, "refresh", conf.RefreshCron)
	}

	if conf.Listen != "" {
		srv := web.NewServer(conf, queue, nil)
		go func() {
			if err := srv.ListenAndServe(ctx); err != nil {
				appLog.Error("HTTP server stopped", err, "listen", conf.Listen)
			}
		}()
	}

	if flags.headless {
		// No render loop; advance the queue on a wall-clock tick instead.
		queue.Run(ctx, time.Second)
	} else if err := overlay.Run(ctx, queue, overlay.OptionsFromConfig(conf)); err != nil {
		appLog.Error("overlay failed", err)
		cancel()
		queue.Close()
		os.Exit(1)
	}

	cancel()
	// Give the HTTP server a moment to finish shutting down.
	time.Sleep(100 * time.Millisecond)
	appLog.Info("uqclock exiting")
}

// runSnapshot serves the overlay page on a loopback port and captures it.
func runSnapshot(ctx context.Context, conf config.Config, queue web.Queue, path string) error {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return err
	}
	srv := &http.Server{
		Handler:           web.NewServer(conf, queue, nil).Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("snapshot server stopped", err)
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	url := "http://" + ln.Addr().String() + "/overlay"
	appLog.Info("capturing overlay", "url", url, "path", path)
	if err := capture.CaptureOverlayPNG(ctx, capture.Options{URL: url, OutputPath: path}); err != nil {
		return err
	}
	appLog.Info("snapshot written", "path", path)
	return nil
}

func defaultConfigPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(dir, "uqclock", "config.yaml")
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", defaultConfigPath(), "Path to config file (.yaml or .json)")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.BoolVar(&cfg.headless, "headless", false, "Run without the overlay window (status API only)")
	flag.StringVar(&cfg.snapshot, "snapshot", "", "Write a PNG of the overlay to this path and exit")
	flag.StringVar(&cfg.logLevel, "log-level", "", "Log level: debug, info, warn, error")

	flag.Parse()

	return cfg
}

package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/satoqz/rapla-sync/internal/config"
	"github.com/satoqz/rapla-sync/internal/ics"
	appLog "github.com/satoqz/rapla-sync/internal/log"
	"github.com/satoqz/rapla-sync/internal/rapla"
	"github.com/satoqz/rapla-sync/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	once       string
	asJSON     bool
	debug      bool
}

func main() {
	flags := parseFlags()

	if flags.debug {
		appLog.SetLevel(appLog.LevelDebug)
	}

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides the config file listen address.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

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

	if flags.once != "" {
		if err := runOnce(ctx, conf, flags.once, flags.asJSON); err != nil {
			appLog.Error("conversion failed", err, "key", flags.once)
			os.Exit(1)
		}
		return
	}

	appLog.Info("rapla-sync starting",
		"listen", conf.Listen,
		"upstream", conf.Upstream,
		"refresh", conf.RefreshCron,
		"cache_ttl_minutes", conf.CacheTTLMinutes,
		"key_count", len(conf.Keys),
	)

	if err := web.StartServer(ctx, conf); err != nil {
		appLog.Error("server failed", err)
		os.Exit(1)
	}
}

// runOnce converts a single timetable key and writes the result to
// stdout, as iCalendar text or as JSON.
func runOnce(ctx context.Context, conf *config.Config, key string, asJSON bool) error {
	fetcher := rapla.NewFetcher(time.Duration(conf.TimeoutSeconds)*time.Second, conf.UserAgent)

	cal, err := fetcher.FetchCalendar(ctx, rapla.UpstreamURL(conf.Upstream, key), rapla.NewExtractor())
	if err != nil {
		return err
	}

	if asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(cal)
	}

	_, err = os.Stdout.WriteString(ics.Serialize(cal))
	return err
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/rapla-sync/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.once, "once", "", "Convert a single timetable key to stdout and exit")
	flag.BoolVar(&cfg.asJSON, "json", false, "With -once, emit JSON instead of iCalendar text")
	flag.BoolVar(&cfg.debug, "debug", false, "Enable debug logging")

	flag.Parse()

	return cfg
}

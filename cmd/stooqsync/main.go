package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"StooqSync/internal/collector"
	"StooqSync/internal/config"
	"StooqSync/internal/hst"
	"StooqSync/internal/logging"
	"StooqSync/internal/notifier"
	"StooqSync/internal/recorder"
	"StooqSync/internal/scheduler"
	"StooqSync/internal/syncer"
	"StooqSync/internal/textstore"
)

const defaultConfigPath = "config.json"

var (
	configPath string
	runOnce    bool
)

var rootCmd = &cobra.Command{
	Use:           "stooqsync",
	Short:         "Keep local OHLCV series in sync with stooq.com",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func init() {
	if v := os.Getenv("CONFIG_PATH"); v != "" {
		configPath = v
	} else {
		configPath = defaultConfigPath
	}
	flags := rootCmd.Flags()
	flags.StringVarP(&configPath, "config", "c", configPath, "settings file (JSON or YAML)")
	flags.StringVar(&configPath, "json_settings_file", configPath, "alias of --config")
	flags.StringVar(&configPath, "jsf", configPath, "alias of --config")
	flags.StringVar(&configPath, "jf", configPath, "alias of --config")
	flags.BoolVar(&runOnce, "once", false, "run a single update cycle and exit")
}

// legacyArgs accepts the single-dash long flags of earlier releases (-jsf config.json).
func legacyArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		switch {
		case a == "-jsf" || a == "-jf" || a == "-json_settings_file",
			strings.HasPrefix(a, "-jsf=") || strings.HasPrefix(a, "-jf=") || strings.HasPrefix(a, "-json_settings_file="):
			out[i] = "-" + a
		default:
			out[i] = a
		}
	}
	return out
}

func main() {
	if _, err := os.Stat(".env"); err == nil {
		if err := godotenv.Load(".env"); err != nil {
			log.Warnf("load .env: %v", err)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	rootCmd.SetArgs(legacyArgs(os.Args[1:]))
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Errorf("%v", err)
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation: %w", err)
	}
	logCloser, err := logging.Setup(cfg.Log)
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()

	log.Infof("stooqsync starting, config %s, %d symbols", configPath, len(cfg.Symbols))

	// Init fetcher
	fetcher, err := collector.NewStooqFetcher(collector.Options{
		BaseURL:           cfg.BaseURL,
		CertFile:          cfg.CertFile,
		CookieFile:        cfg.CookieFile,
		DisableCookies:    !cfg.CookiesEnabled(),
		Timeout:           cfg.Timeout(),
		Proxy:             cfg.Proxy,
		RequestsPerSecond: cfg.RequestsPerSecond,
	})
	if err != nil {
		return fmt.Errorf("init fetcher: %w", err)
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			log.Warnf("save cookies: %v", err)
		}
	}()
	log.Infof("data source: %s", fetcher.Name())

	// Init stores
	dialect, _ := textstore.ParseDialect(cfg.CSVDialect)
	text, err := textstore.New(cfg.PathCSV, cfg.SymbolCSVSuffix, dialect)
	if err != nil {
		return fmt.Errorf("init csv store: %w", err)
	}
	targets := make([]syncer.Target, 0, len(cfg.Symbols))
	for _, sym := range cfg.Symbols {
		h, err := hst.Open(cfg.PathHST, sym.Symbol+cfg.SymbolHSTSuffix, sym.Period, sym.Digits)
		if err != nil {
			return fmt.Errorf("open history %s: %w", sym.Symbol, err)
		}
		defer h.Close()
		log.Debugf("%s history %s (%s, %d digits)", sym.Symbol, h.Path(), h.Symbol(), h.Digits())
		if last, ok, err := text.Tail(sym); err != nil {
			log.Warnf("%s csv unreadable: %v", sym.Symbol, err)
		} else if ok {
			log.Infof("%s %s last stored bar %s", sym.Symbol, sym.Period, last.Time.Format(time.DateOnly))
		}
		targets = append(targets, syncer.Target{Symbol: sym, History: h})
	}

	// Init recorder
	var rec recorder.Recorder
	if cfg.Database.SQLitePath != "" {
		sr, err := recorder.NewSQLiteRecorder(cfg.Database.SQLitePath)
		if err != nil {
			log.Warnf("init sqlite recorder failed, using noop: %v", err)
			rec = recorder.NewNoopRecorder()
		} else {
			rec = sr
		}
	} else {
		rec = recorder.NewNoopRecorder()
	}
	defer rec.Close()

	// Init Telegram notifier
	var alerter notifier.Alerter = notifier.NoopAlerter{}
	var tn *notifier.TelegramNotifier
	if cfg.Telegram.BotToken != "" {
		tn = notifier.NewTelegramNotifier(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Proxy)
		alerter = tn
	}

	sched := scheduler.NewScheduler(syncer.New(fetcher, text), targets, rec, alerter, cfg.UpdatePeriod, scheduler.Options{
		AbortOnSymbolError: cfg.AbortOnSymbolError,
		CooldownInitial:    cfg.CooldownInitial(),
		CooldownMax:        cfg.CooldownMax(),
	})

	if runOnce {
		if err := sched.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	}

	sched.Start(ctx)
	defer sched.Stop()

	if tn != nil {
		go tn.StartPolling(ctx, sched.HandleCommand)
		log.Info("telegram polling started")
	}

	log.Infof("stooqsync is running, csv %s, hst %s. Press Ctrl+C to stop.",
		absOrSelf(cfg.PathCSV), absOrSelf(cfg.PathHST))

	select {
	case <-ctx.Done():
		log.Info("shutdown signal received, stopping...")
		return nil
	case err := <-sched.Fatal():
		return fmt.Errorf("stopping after fatal error: %w", err)
	}
}

func absOrSelf(p string) string {
	if abs, err := filepath.Abs(p); err == nil {
		return abs
	}
	return p
}

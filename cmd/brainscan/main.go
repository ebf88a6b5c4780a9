package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rewired-gh/brainscan/internal/api"
	"github.com/rewired-gh/brainscan/internal/config"
	"github.com/rewired-gh/brainscan/internal/history"
	"github.com/rewired-gh/brainscan/internal/logger"
	"github.com/rewired-gh/brainscan/internal/session"
	"github.com/rewired-gh/brainscan/internal/storage"
	"github.com/rewired-gh/brainscan/internal/telegram"
	"github.com/rewired-gh/brainscan/internal/workflow"
	"github.com/spf13/pflag"
)

var (
	configPath = pflag.String("config", "", "Path to configuration file")
	_          = pflag.String("api", "", "Screening API base URL")
	_          = pflag.String("session-db", "", "Path to the session database")
	_          = pflag.String("log-level", "", "Log level (debug, info, warn, error)")
)

const usage = `Usage: brainscan [flags] <command> [args]

Commands:
  login      Log in (-u USER -p PASSWORD)
  register   Create an account (--username --email --password --full-name)
  logout     End the session
  whoami     Show the logged-in user
  predict    Analyze one image: predict FILE
  debug      Show the raw diagnostic response: debug FILE
  batch      Analyze several images in one request: batch FILE...
  history    Show recent predictions and analytics
  system     Show backend health, classes and model info
  charts     List result charts (--out DIR to save them)

Flags:
`

// app wires every component for one CLI invocation.
type app struct {
	cfg      *config.Config
	store    *storage.Storage
	client   *api.Client
	session  *session.Manager
	history  *history.Loader
	single   *workflow.Single
	batch    *workflow.Batch
	system   *history.SystemInfoLoader
	charts   *history.ChartsLoader
	notifier *telegram.Client
}

func main() {
	pflag.CommandLine.SetInterspersed(false)
	pflag.Usage = func() {
		fmt.Fprint(os.Stderr, usage)
		pflag.PrintDefaults()
	}
	pflag.Parse()

	args := pflag.Args()
	if len(args) == 0 {
		pflag.Usage()
		os.Exit(2)
	}

	// Load configuration
	cfg, err := config.Load(*configPath, pflag.CommandLine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger.Init(cfg.Logging.Level, cfg.Logging.Format)
	logger.Debug("Configuration loaded (api: %s)", cfg.API.BaseURL)

	a, err := newApp(cfg)
	if err != nil {
		logger.Fatal("%v", err)
	}
	defer a.close()

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Interrupted, cancelling...")
		cancel()
	}()

	if err := a.session.Restore(ctx); err != nil {
		logger.Warn("Stored session could not be restored: %s", api.Describe(err))
	}

	if err := a.run(ctx, args[0], args[1:]); err != nil {
		fmt.Fprintln(os.Stderr, api.Describe(err))
		a.close()
		os.Exit(1)
	}
}

func newApp(cfg *config.Config) (*app, error) {
	store, err := storage.New(cfg.Session.DBPath, cfg.Session.Secret)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}

	client := api.NewClient(cfg.API.BaseURL, cfg.API.Timeout, api.ClientConfig{
		MaxRetries:    cfg.API.MaxRetries,
		RetryWaitTime: cfg.API.RetryWait,
	})

	a := &app{
		cfg:     cfg,
		store:   store,
		client:  client,
		session: session.NewManager(client, store),
		system:  history.NewSystemInfoLoader(client),
		charts:  history.NewChartsLoader(client),
	}
	a.history = history.NewLoader(client, a.session, cfg.History.Limit)

	var notifier workflow.Notifier
	if cfg.Telegram.Enabled {
		a.notifier, err = telegram.NewClient(cfg.Telegram.BotToken, cfg.Telegram.ChatID, cfg.Telegram.MaxRetries, cfg.Telegram.RetryDelayBase)
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize Telegram client: %w", err)
		}
		notifier = a.notifier
		logger.Debug("Telegram alerts enabled")
	}

	a.single = workflow.NewSingle(client, a.session, a.history, notifier)
	a.batch = workflow.NewBatch(client, a.session, a.history)

	a.session.OnAuthenticated(func(ctx context.Context) {
		if err := a.history.Refresh(ctx); err != nil {
			logger.Warn("Failed to refresh history: %v", err)
		}
	})
	a.session.OnCleared(a.single.Reset)
	a.session.OnCleared(a.batch.Reset)
	a.session.OnCleared(a.history.Reset)

	return a, nil
}

func (a *app) close() {
	if a.store == nil {
		return
	}
	if err := a.store.Close(); err != nil {
		logger.Error("Failed to close storage: %v", err)
	}
	a.store = nil
}

func (a *app) run(ctx context.Context, cmd string, args []string) error {
	switch cmd {
	case "login":
		return a.login(ctx, args)
	case "register":
		return a.register(ctx, args)
	case "logout":
		return a.logout(ctx)
	case "whoami":
		return a.whoami()
	case "predict":
		return a.predict(ctx, args)
	case "debug":
		return a.debug(ctx, args)
	case "batch":
		return a.runBatch(ctx, args)
	case "history":
		return a.showHistory(ctx)
	case "system":
		return a.showSystem(ctx)
	case "charts":
		return a.showCharts(ctx, args)
	default:
		pflag.Usage()
		return fmt.Errorf("unknown command: %s", cmd)
	}
}

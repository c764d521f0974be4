package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"whatt/internal/browser"
	"whatt/internal/client"
	"whatt/internal/config"
	"whatt/internal/kv"
	"whatt/internal/logging"
	"whatt/internal/metrics"
	"whatt/internal/responder"
)

var (
	watchConfig  bool
	gotoNewest   bool
	readyTimeout time.Duration
)

// runCmd starts the browser and the polling client
var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Open WhatsApp Web and answer commands until interrupted",
	Long: `Starts (or attaches to) a browser, waits for the chat list to render, then
polls the open conversation and dispatches new messages to the commands
listed in the config.

With --watch the client is rebuilt whenever the config file changes; the
browser session is kept.`,
	RunE: runBot,
}

func init() {
	runCmd.Flags().BoolVar(&watchConfig, "watch", false, "Reload commands and client settings when the config file changes")
	runCmd.Flags().BoolVar(&gotoNewest, "newest", false, "Open the most recent chat after start")
	runCmd.Flags().DurationVar(&readyTimeout, "ready-timeout", 5*time.Minute, "How long to wait for WhatsApp Web to log in")
}

func runBot(cmd *cobra.Command, args []string) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bootLog := logs.Get(logging.CategoryBoot)

	session := browser.NewSession(browserConfig(cfg), logs.Get(logging.CategoryBrowser))
	if err := session.Start(ctx); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	defer func() {
		if err := session.Shutdown(); err != nil {
			bootLog.Warn("browser shutdown failed", zap.Error(err))
		}
	}()

	bootLog.Info("waiting for WhatsApp Web", zap.Duration("timeout", readyTimeout))
	readyCtx, cancelReady := context.WithTimeout(ctx, readyTimeout)
	err := session.WaitReady(readyCtx)
	cancelReady()
	if err != nil {
		return err
	}

	var changes <-chan struct{}
	if watchConfig {
		w, err := newConfigWatcher(configPath, 500*time.Millisecond, logs.Get(logging.CategoryBoot)) // Debounce rapid saves
		if err != nil {
			return fmt.Errorf("watch config: %w", err)
		}
		defer w.Close()
		changes = w.Changes()
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()
	g, gctx := errgroup.WithContext(runCtx)
	if cfg.IsMetricsEnabled() {
		g.Go(func() error { return serveMetrics(gctx, cfg.Metrics.Listen, reg) })
	}
	g.Go(func() error {
		defer cancelRun()
		current := cfg
		for {
			reload, err := runClient(gctx, current, session, reg, changes)
			if err != nil || !reload {
				return err
			}
			next, err := config.Load(configPath)
			if err == nil {
				err = next.Validate()
			}
			if err != nil {
				bootLog.Warn("config change ignored", zap.Error(err))
				continue
			}
			bootLog.Info("config changed, restarting client")
			current = next
		}
	})
	return g.Wait()
}

// runClient runs one client until ctx ends (reload=false) or the config
// changes (reload=true). The seen-set is flushed before it returns.
func runClient(ctx context.Context, c *config.Config, session *browser.Session, reg *prometheus.Registry, changes <-chan struct{}) (reload bool, err error) {
	accessor, err := session.Accessor()
	if err != nil {
		return false, err
	}
	store, err := openStore(c.Store, session)
	if err != nil {
		return false, err
	}
	defer func() {
		if cerr := store.Close(); cerr != nil {
			logs.Get(logging.CategoryStore).Warn("closing store failed", zap.Error(cerr))
		}
	}()

	id := uuid.NewString()
	m, err := metrics.New(reg, id)
	if err != nil {
		return false, err
	}
	defer m.Unregister(reg)

	bot, err := client.New(accessor, store, clientOptions(c),
		client.WithID(id),
		client.WithLogSet(logs),
		client.WithMetrics(m),
	)
	if err != nil {
		return false, err
	}
	if _, err := responder.RegisterAll(bot, bot, c.Commands, logs.Get(logging.CategorySend)); err != nil {
		return false, err
	}

	if err := bot.Start(ctx); err != nil {
		return false, err
	}
	logs.Get(logging.CategoryBoot).Info("client running",
		zap.String("client", id),
		zap.Strings("commands", bot.Commands()),
		zap.String("store", c.Store.Backend))

	if gotoNewest {
		if err := bot.GotoNewestChat(ctx); err != nil {
			logs.Get(logging.CategoryBoot).Warn("could not open newest chat", zap.Error(err))
		}
	}

	select {
	case <-ctx.Done():
	case <-changes:
		reload = true
	case <-bot.Done():
	}
	bot.Stop()
	bot.Wait()
	return reload, nil
}

func openStore(sc config.StoreConfig, session *browser.Session) (kv.Store, error) {
	if sc.Backend == "localstorage" {
		page, err := session.Page()
		if err != nil {
			return nil, err
		}
		return browser.NewLocalStorage(page, 5*time.Second), nil
	}
	store, err := kv.Open(sc.Backend, sc.Path)
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", sc.Backend, err)
	}
	return store, nil
}

func serveMetrics(ctx context.Context, addr string, reg *prometheus.Registry) error {
	log := logs.Get(logging.CategoryMetrics)
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info("serving metrics", zap.String("addr", addr))
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("metrics server: %w", err)
	}
	return nil
}

func clientOptions(c *config.Config) client.Options {
	return client.Options{
		Prefix:          c.Client.Prefix,
		SelfCommands:    c.Client.SelfCommands,
		QueueMode:       c.Client.QueueMode,
		QueueMaxLength:  c.Client.QueueMaxLength,
		PollInterval:    c.GetPollInterval(),
		PersistInterval: c.GetPersistInterval(),
		PersistKey:      c.Store.Key,
		SendRate:        c.Client.SendRate,
		SendBurst:       c.Client.SendBurst,
	}
}

func browserConfig(c *config.Config) browser.Config {
	b := c.Browser
	var launch []string
	if b.Bin != "" || len(b.Flags) > 0 {
		launch = append([]string{b.Bin}, b.Flags...)
	}
	return browser.Config{
		DebuggerURL:       b.DebuggerURL,
		Launch:            launch,
		Headless:          b.Headless,
		UserDataDir:       b.UserDataDir,
		URL:               b.URL,
		ViewportWidth:     b.ViewportWidth,
		ViewportHeight:    b.ViewportHeight,
		NavigationTimeout: b.GetNavigationTimeout(),
		Selectors: browser.Selectors{
			Conversation:    b.Selectors.Conversation,
			ChatList:        b.Selectors.ChatList,
			TextInput:       b.Selectors.TextInput,
			SendControl:     b.Selectors.SendControl,
			IDAttribute:     b.Selectors.IDAttribute,
			MarkerAttribute: b.Selectors.MarkerAttribute,
		},
	}
}

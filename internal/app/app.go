// Package app wires the relay's components together and owns their lifecycle.
//
// Dependencies are constructed once and passed in explicitly; nothing holds
// ambient global state. The chat session and the HTTP listener start
// independently so neither blocks the other's readiness.
package app

import (
	"context"
	"sync"
	"time"

	"editrelay/internal/bridge"
	"editrelay/internal/config"
	"editrelay/internal/storage"
	"editrelay/internal/sweep"
	"editrelay/internal/telegram"
	"editrelay/internal/trello"
	"editrelay/internal/webhook"
	logx "editrelay/pkg/logx"
)

type App struct {
	cfgPath string
	cfg     *config.Config

	logs *logx.Service
	log  logx.Logger

	store   storage.Store
	board   *trello.Client
	session *telegram.Session
	bridge  *bridge.Bridge
	web     *webhook.Server
	sweeper *sweep.Sweeper
	watcher *config.Watcher

	runMu  sync.Mutex
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(cfgPath string) (*App, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	logs, log := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	})
	log = log.With(logx.String("comp", "app"))

	busyTimeout, err := config.ParseDuration("storage.busy_timeout", cfg.Storage.BusyTimeout, 0)
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: busyTimeout,
	}, logs.Logger().With(logx.String("comp", "storage")))
	if err != nil {
		return nil, err
	}

	board := trello.New(trello.Config{
		Key:   cfg.Trello.Key,
		Token: cfg.Trello.Token,
	}, logs.Logger().With(logx.String("comp", "trello")))

	pollTimeout, err := config.ParseDuration("telegram.poll_timeout", cfg.Telegram.PollTimeout, 10*time.Second)
	if err != nil {
		_ = store.Close()
		return nil, err
	}
	session, err := telegram.NewSession(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: pollTimeout,
	}, logs.Logger().With(logx.String("comp", "telegram")))
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	br := bridge.New(session, cfg.Webhook.RatePerSec, logs.Logger().With(logx.String("comp", "bridge")))

	intake := telegram.NewIntake(session, board, store, cfg.Trello.Lists.Requests,
		logs.Logger().With(logx.String("comp", "intake")))
	intake.Register()

	web := webhook.NewServer(webhook.Config{
		Addr:           cfg.Webhook.Addr,
		Path:           cfg.Webhook.Path,
		CompleteListID: cfg.Trello.Lists.Complete,
	}, store, board, br, logs.Logger().With(logx.String("comp", "webhook")))

	a := &App{
		cfgPath: cfgPath,
		cfg:     cfg,
		logs:    logs,
		log:     log,
		store:   store,
		board:   board,
		session: session,
		bridge:  br,
		web:     web,
	}

	if cfg.Sweep.Enabled {
		maxAge, err := config.ParseDuration("sweep.max_age", cfg.Sweep.MaxAge, 14*24*time.Hour)
		if err != nil {
			_ = store.Close()
			return nil, err
		}
		a.sweeper = sweep.New(sweep.Config{
			Schedule:       cfg.Sweep.Schedule,
			MaxAge:         maxAge,
			RequestsListID: cfg.Trello.Lists.Requests,
			TimedOutListID: cfg.Trello.Lists.TimedOut,
		}, board, store, br, logs.Logger().With(logx.String("comp", "sweep")))
	}

	// Hot reload only touches logging; credentials and list IDs are fixed for
	// the process lifetime.
	a.watcher = config.NewWatcher(cfgPath, logs.Logger().With(logx.String("comp", "config")), func(c *config.Config) {
		logs.Apply(logx.Config{
			Level:   c.Logging.Level,
			Console: c.Logging.Console,
			File: logx.FileConfig{
				Enabled: c.Logging.File.Enabled,
				Path:    c.Logging.File.Path,
			},
		})
	})

	return a, nil
}

func (a *App) Start(ctx context.Context) error {
	a.runMu.Lock()
	defer a.runMu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	a.cancel = cancel

	a.bridge.Start(runCtx)
	a.session.Start(runCtx)

	if err := a.web.Start(); err != nil {
		cancel()
		return err
	}

	if a.sweeper != nil {
		if err := a.sweeper.Start(runCtx); err != nil {
			return err
		}
	}

	a.wg.Add(1)
	go func() {
		defer a.wg.Done()
		if err := a.watcher.Watch(runCtx); err != nil {
			a.log.Warn("config watcher stopped", logx.Err(err))
		}
	}()

	a.log.Info("started", logx.String("webhook_addr", a.web.Addr()))
	return nil
}

func (a *App) Stop(ctx context.Context) error {
	a.runMu.Lock()
	cancel := a.cancel
	a.cancel = nil
	a.runMu.Unlock()
	if cancel == nil {
		return nil
	}

	a.log.Info("stopping")
	cancel()

	// Stop intake first so no new notifications originate, then let the
	// bridge drain before the session goes away.
	if a.sweeper != nil {
		sweepCtx, c := context.WithTimeout(ctx, 2*time.Second)
		a.sweeper.Stop(sweepCtx)
		c()
	}

	webCtx, c := context.WithTimeout(ctx, 3*time.Second)
	a.web.Stop(webCtx)
	c()

	brCtx, c := context.WithTimeout(ctx, 3*time.Second)
	a.bridge.Stop(brCtx)
	c()

	a.session.Stop()

	done := make(chan struct{})
	go func() {
		a.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}

	if err := a.store.Close(); err != nil {
		a.log.Warn("store close error", logx.Err(err))
	}
	a.log.Info("stopped")
	_ = a.logs.Close()
	return nil
}

package main

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/Joseda-hg/taskchat/internal/assistant"
	"github.com/Joseda-hg/taskchat/internal/chat"
	"github.com/Joseda-hg/taskchat/internal/config"
	"github.com/Joseda-hg/taskchat/internal/db"
	"github.com/Joseda-hg/taskchat/internal/seed"
	"github.com/Joseda-hg/taskchat/internal/syncer"
	"github.com/Joseda-hg/taskchat/internal/tasks"
	"github.com/Joseda-hg/taskchat/internal/web"
)

const (
	redisTTL     = 24 * time.Hour
	azureRetries = 3
)

// app holds the long-lived components shared by every front-end.
type app struct {
	cfg    config.Config
	logger *log.Logger

	store     *db.Store
	service   *tasks.Service
	executor  *assistant.Executor
	session   *chat.Session
	confirmer syncer.Confirmer

	closers []func() error
}

// loadConfig reads the config file, applies flags and saves the result,
// then layers TASKCHAT_* variables on top. Environment values are never
// written back.
func loadConfig() (config.Config, string, error) {
	cfgPath := configPathFlag
	if cfgPath == "" {
		var err error
		cfgPath, err = config.DefaultConfigPath()
		if err != nil {
			return config.Config{}, "", err
		}
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return config.Config{}, "", err
	}

	if dbPathFlag != "" {
		cfg.DBPath = dbPathFlag
	}
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(filepath.Dir(cfgPath), "taskchat.db")
	}
	if webFlag {
		cfg.Web.Enabled = true
	}
	if portFlag != 0 {
		cfg.Web.Port = portFlag
	}
	if assistantFlag != "" {
		cfg.Assistant.Provider = assistantFlag
	}
	if logLevelFlag != "" {
		cfg.LogLevel = logLevelFlag
	}

	if err := config.Save(cfgPath, cfg); err != nil {
		return config.Config{}, "", err
	}

	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return config.Config{}, "", err
	}
	if err := cfg.Validate(); err != nil {
		return config.Config{}, "", err
	}
	return cfg, cfgPath, nil
}

func newLogger(cfg config.Config) *log.Logger {
	logger := log.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	level, err := log.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = log.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// newFileLogger writes next to the config file so log lines do not draw
// over the terminal UI.
func newFileLogger(cfg config.Config, cfgPath string) (*log.Logger, func(), error) {
	logger := newLogger(cfg)
	file, err := os.OpenFile(filepath.Join(filepath.Dir(cfgPath), "taskchat.log"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, err
	}
	logger.SetOutput(file)
	return logger, func() { _ = file.Close() }, nil
}

func openStore(dbPath string, logger *log.Logger) (*db.Store, func(), error) {
	if err := config.EnsureDir(dbPath); err != nil {
		return nil, nil, err
	}

	sqlDB, err := db.Open(dbPath)
	if err != nil {
		return nil, nil, err
	}

	store := db.NewStore(sqlDB)
	store.Logger = logger
	return store, func() { _ = sqlDB.Close() }, nil
}

func newApp(ctx context.Context, cfg config.Config, logger *log.Logger) (*app, error) {
	a := &app{cfg: cfg, logger: logger}

	store, closeDB, err := openStore(cfg.DBPath, logger)
	if err != nil {
		return nil, err
	}
	a.store = store
	a.closers = append(a.closers, func() error { closeDB(); return nil })

	if _, err := seed.New(store, logger).Run(ctx); err != nil {
		a.Close()
		return nil, err
	}

	confirmer, err := a.newConfirmer()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.confirmer = confirmer

	a.service = tasks.NewService(store, confirmer, logger)
	if err := a.service.Start(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.executor = assistant.NewExecutor(store, logger)

	client, err := a.newChatClient()
	if err != nil {
		a.Close()
		return nil, err
	}
	a.session = chat.NewSession(client, a.executor, logger)

	logger.WithFields(log.Fields{
		"db":        cfg.DBPath,
		"assistant": cfg.Assistant.Provider,
		"sync":      cfg.Sync.Provider,
	}).Info("taskchat started")
	return a, nil
}

func (a *app) newConfirmer() (syncer.Confirmer, error) {
	switch a.cfg.Sync.Provider {
	case "redis":
		confirmer, err := syncer.NewRedisFromURL(a.cfg.Sync.RedisURL, a.cfg.Sync.Channel, redisTTL, a.logger)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, confirmer.Close)
		return confirmer, nil
	case "azqueue":
		return syncer.NewAzureQueue(a.cfg.Sync.AzureConn, a.cfg.Sync.AzureQueue, azureRetries, a.logger)
	default:
		return &syncer.Simulated{
			Delay:       a.cfg.Sync.Delay.Std(),
			FailureRate: a.cfg.Sync.FailureRate,
			Logger:      a.logger,
		}, nil
	}
}

func (a *app) newChatClient() (chat.Client, error) {
	settings := a.cfg.Assistant
	switch settings.Provider {
	case "ollama":
		return chat.NewOllamaClient(chat.OllamaConfig{
			Host:         settings.Host,
			Model:        settings.Model,
			APIKey:       settings.APIKey,
			Timeout:      settings.Timeout.Std(),
			HistoryLimit: settings.HistoryLimit,
		}, a.snapshot, a.logger)
	default:
		return chat.NewMockClient(settings.MockLatency.Std()), nil
	}
}

// snapshot serializes the current tasks for the assistant's system prompt.
func (a *app) snapshot(ctx context.Context) (string, error) {
	return assistant.BuildSnapshot(a.service.Snapshot(), time.Now(), a.cfg.Assistant.SnapshotLimit).JSON()
}

func (a *app) webServer() (*web.Server, error) {
	var auth *web.Auth
	switch {
	case a.cfg.Web.JWKSURL != "":
		jwks, err := web.LoadJWKS(a.cfg.Web.JWKSURL)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { jwks.EndBackground(); return nil })
		auth = web.NewJWKSAuth(jwks)
	case a.cfg.Web.JWTSecret != "":
		auth = web.NewSecretAuth(a.cfg.Web.JWTSecret)
	default:
		a.logger.Warn("web API has no authentication configured")
	}
	return web.NewServer(a.service, a.session, auth, a.logger), nil
}

func (a *app) Close() {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		a.logger.WithError(err).Warn("shutdown")
	}
}

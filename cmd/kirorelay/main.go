// Package main is kirorelay's entry point: it loads configuration, builds
// the credential store, HTTP client, dispatcher, and API server, then runs
// until interrupted.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/kirorelay/kirorelay/internal/apiserver"
	"github.com/kirorelay/kirorelay/internal/config"
	"github.com/kirorelay/kirorelay/internal/credstore"
	"github.com/kirorelay/kirorelay/internal/httpclientfactory"
	"github.com/kirorelay/kirorelay/internal/kirodispatch"
	"github.com/kirorelay/kirorelay/internal/logging"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	Version   = "dev"
	Commit    = "none"
	BuildDate = "unknown"
)

func main() {
	var configPath string
	var credentialPoolPath string
	flag.StringVar(&configPath, "config", "config.yaml", "path to the configuration file")
	flag.StringVar(&credentialPoolPath, "credential-pool", "", "override the credential pool path from the config file")
	flag.Parse()

	_ = godotenv.Load()

	if err := run(configPath, credentialPoolPath); err != nil {
		fmt.Fprintln(os.Stderr, "kirorelay:", err)
		os.Exit(1)
	}
}

func run(configPath, credentialPoolOverride string) error {
	cfg, err := config.LoadConfigOptional(configPath, true)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if credentialPoolOverride != "" {
		cfg.CredentialPoolPath = credentialPoolOverride
	}

	log, err := logging.Setup(cfg.Log.Level, logging.FileOptions{Path: cfg.Log.File})
	if err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}
	log.WithFields(map[string]interface{}{
		"version": Version, "commit": Commit, "built_at": BuildDate,
	}).Info("starting kirorelay")

	creds, err := credstore.LoadPool(cfg.CredentialPoolPath)
	if err != nil {
		return fmt.Errorf("load credential pool: %w", err)
	}

	dispatchCfg := kirodispatch.Config{
		Region:        cfg.Dispatch.Region,
		KiroVersion:   cfg.Dispatch.KiroVersion,
		SystemVersion: cfg.Dispatch.SystemVersion,
		NodeVersion:   cfg.Dispatch.NodeVersion,
	}

	httpClient, err := httpclientfactory.New(httpclientfactory.Options{
		Timeout:    720 * time.Second,
		ProxyURL:   cfg.HTTPClient.ProxyURL,
		TLSBackend: httpclientfactory.TLSBackend(cfg.HTTPClient.TLSBackend),
	})
	if err != nil {
		return fmt.Errorf("build http client: %w", err)
	}

	store := credstore.NewStore(creds, dispatchCfg, httpClient, log)

	stop := make(chan struct{})
	defer close(stop)
	if cfg.CredentialPoolPath != "" {
		go func() {
			if err := credstore.WatchPool(cfg.CredentialPoolPath, log, store.ReplacePool, stop); err != nil {
				log.WithError(err).Warn("credential pool watcher exited")
			}
		}()
	}

	kirodispatch.RegisterMetrics(prometheus.DefaultRegisterer)
	dispatcher := kirodispatch.NewDispatcher(store, httpClient, credstore.Deriver{}, log)

	srv := apiserver.New(dispatcher, store, cfg.APIKeys, log)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	addr := fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	log.WithField("addr", addr).Info("listening")
	return srv.ListenAndServe(ctx, addr)
}

// Command server runs the llmlog capture service: it accepts captured
// network events from the interception host, reconstructs conversations
// through the vendor adapters and serves the stored records.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/llmlog/llmlog/internal/adapter"
	"github.com/llmlog/llmlog/internal/adapter/claude"
	"github.com/llmlog/llmlog/internal/adapter/openai"
	"github.com/llmlog/llmlog/internal/adapter/tongyi"
	"github.com/llmlog/llmlog/internal/api"
	"github.com/llmlog/llmlog/internal/config"
	"github.com/llmlog/llmlog/internal/dedupe"
	"github.com/llmlog/llmlog/internal/logging"
	"github.com/llmlog/llmlog/internal/notify"
	"github.com/llmlog/llmlog/internal/store"
	"github.com/llmlog/llmlog/internal/watcher"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "configuration file path")
	flag.Parse()

	logging.SetupBaseLogger()

	if configPath == "" {
		wd, err := os.Getwd()
		if err != nil {
			log.Fatalf("failed to get working directory: %v", err)
		}
		configPath = filepath.Join(wd, "config.yaml")
	}
	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	if cfg.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	if err = logging.ConfigureLogOutput(cfg.LoggingToFile); err != nil {
		log.Fatalf("failed to configure log output: %v", err)
	}

	st, err := store.Open(cfg.StorePath, store.WithDedupWindow(cfg.DedupWindow()))
	if err != nil {
		log.Fatalf("failed to open conversation store: %v", err)
	}
	defer func() {
		_ = st.Close()
	}()

	var notifier notify.Notifier = notify.Nop{}
	if cfg.NotifyURL != "" {
		notifier = notify.NewWebhook(cfg.NotifyURL)
	}

	registry := adapter.NewRegistry()
	registry.Register(openai.New())
	registry.Register(claude.New(notifier, dedupe.New(cfg.DedupWindow(), cfg.DedupMaxEntries)))
	registry.Register(tongyi.New())

	server := api.NewServer(cfg, st, registry)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	configWatcher, err := watcher.NewWatcher(configPath, server.UpdateConfig)
	if err != nil {
		log.Fatalf("failed to create config watcher: %v", err)
	}
	if err = configWatcher.Start(ctx); err != nil {
		log.Fatalf("failed to start config watcher: %v", err)
	}
	defer func() {
		_ = configWatcher.Stop()
	}()

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err = <-errCh:
		if err != nil {
			log.Fatalf("server failed: %v", err)
		}
	case sig := <-sigCh:
		log.Infof("received %s, shutting down", sig)
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err = server.Stop(shutdownCtx); err != nil {
			log.Errorf("shutdown error: %v", err)
		}
	}
}

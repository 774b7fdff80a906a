package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ashbyte/cliptransfer/internal/clipboard"
	"github.com/ashbyte/cliptransfer/internal/config"
	"github.com/ashbyte/cliptransfer/internal/events"
	"github.com/ashbyte/cliptransfer/internal/observability"
	"github.com/ashbyte/cliptransfer/internal/receiver"
	"github.com/ashbyte/cliptransfer/internal/sender"
	"github.com/ashbyte/cliptransfer/internal/task"
)

func main() {
	sendPath := flag.String("send", "", "file or directory to send")
	listen := flag.Bool("listen", false, "start the receiver's clipboard poll loop")
	downloadDir := flag.String("download-dir", "", "override download.path from config")
	configPath := flag.String("config", "", "path to config.properties (default $HOME/.cliptransfer/config.properties)")
	metricsAddr := flag.String("metrics-addr", "127.0.0.1:9091", "Prometheus metrics listen address")
	flag.Parse()

	logger := observability.NewLogger("cliptransfer", "1.0.0", os.Stdout)

	home, err := config.HomeDir()
	if err != nil {
		logger.Fatal(err, "failed to resolve $HOME/.cliptransfer")
	}

	cfgPath := *configPath
	if cfgPath == "" {
		cfgPath = filepath.Join(home, "config.properties")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Fatal(err, "failed to load config")
	}
	for _, w := range cfg.Warnings {
		logger.Warn("config: " + w)
	}
	if *downloadDir != "" {
		cfg.DownloadPath = *downloadDir
	}

	logger.Info("configuration loaded")

	metrics := observability.NewMetrics()
	healthChecker := observability.NewHealthChecker("1.0.0")

	if shutdown, err := observability.InitTracing(context.Background(), "cliptransfer"); err == nil {
		defer shutdown(context.Background())
	}

	journalPath := filepath.Join(home, "tasks", "tasks.json")
	store, err := task.NewStore(journalPath)
	if err != nil {
		logger.Fatal(err, "failed to open task store")
	}
	store.SetMetrics(metrics)

	clip := clipboard.NewOSAccessor()

	senderSink := events.NewSink[events.SenderEvent](32)
	receiverSink := events.NewSink[events.ReceiverEvent](32)

	senderEngine := sender.New(clip, store, logger, metrics, senderSink)
	receiverEngine := receiver.New(clip, store, logger, metrics, receiverSink, cfg.DownloadPath)

	healthChecker.RegisterCheck("clipboard", observability.ClipboardCheck(func() (bool, error) {
		_, ok := clip.GetText()
		return ok, nil
	}))
	healthChecker.RegisterCheck("journal", observability.JournalWritableCheck(journalPath))
	healthChecker.RegisterCheck("receiver", observability.ReceiverListeningCheck(receiverEngine.IsListening))

	go serveMetrics(*metricsAddr, metrics, healthChecker, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *listen {
		receiverEngine.StartListening(cfg)
		logger.Info("receiver listening")
		defer receiverEngine.StopListening()
	}

	if *sendPath != "" {
		taskID, err := senderEngine.Send(*sendPath, cfg)
		if err != nil {
			logger.Fatal(err, "failed to start send")
		}
		logger.Info("send started: " + taskID)
		for senderEngine.IsRunning() {
			select {
			case <-ctx.Done():
				senderEngine.Stop()
			case <-time.After(100 * time.Millisecond):
			}
		}
	}

	if !*listen && *sendPath == "" {
		logger.Info("nothing to do: pass -send <path> or -listen")
		return
	}

	if *listen {
		<-ctx.Done()
	}
}

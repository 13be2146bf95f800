package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	flag "github.com/spf13/pflag"

	"github.com/lanikai/rtspcam/internal/config"
	"github.com/lanikai/rtspcam/internal/logging"
	"github.com/lanikai/rtspcam/internal/rtspserver"

	_ "github.com/lanikai/rtspcam/internal/capture" // registers the "file" source type
)

func main() {
	flag.Parse()

	if flagHelp {
		help()
		os.Exit(0)
	}
	if flagVersion {
		printVersion()
		os.Exit(0)
	}

	log := logging.DefaultLogger.WithTag("main")

	cfg, err := config.Load(flagConfig)
	if err != nil {
		log.Fatal(err)
	}
	if flagListenAddr != "" {
		cfg.ListenAddr = flagListenAddr
	}
	if flagLogLevel != "" {
		cfg.LogLevel = flagLogLevel
	}
	if level, err := logging.ParseLevel(cfg.LogLevel); err != nil {
		log.Warn("invalid log_level %q: %v", cfg.LogLevel, err)
	} else {
		logging.DefaultLogger.Level = level
	}

	server, err := rtspserver.New(logging.DefaultLogger, cfg)
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	log.Info("listening on %s", cfg.ListenAddr)
	if err := server.ListenAndServe(ctx); err != nil && err != context.Canceled {
		log.Fatal(err)
	}
}

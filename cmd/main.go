// Command mirrorbot mirrors the Stellar DEX trades of a target account
// with a source account.
//
// Usage:
//
//	mirrorbot -config config.yaml
//	mirrorbot -setup (interactive wizard, writes config.gen.yaml)
//
// The source secret seed is read from MIRROR_SOURCE_SEED (a .env file in
// the working directory is loaded) unless dry_run is set.
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/dandalion98/mirrorbot/config"
	"github.com/dandalion98/mirrorbot/internal"
	"github.com/dandalion98/mirrorbot/internal/setup"
)

func main() {
	flags := config.ParseFlags()
	if flags.Setup {
		if err := setup.RunTUI(config.GeneratedPath); err != nil {
			log.Fatal(err)
		}
		flags.Path = config.GeneratedPath
	}

	conf, err := config.Load(flags.Path)
	if err != nil {
		log.Fatal(err)
	}

	logger, err := newLogger(conf.LogLevel)
	if err != nil {
		log.Fatal(err)
	}
	defer logger.Sync()
	zap.ReplaceGlobals(logger)

	if err := internal.PrintBanner(os.Stdout, conf); err != nil {
		logger.Warn("failed to print banner", zap.Error(err))
	}

	bot, err := internal.NewMirrorBot(logger, conf)
	if err != nil {
		logger.Fatal("failed to create mirror bot", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	runErr := bot.Run(ctx)
	if err := bot.Close(); err != nil {
		logger.Error("failed to close mirror bot", zap.Error(err))
	}
	if runErr != nil {
		logger.Fatal("mirror bot stopped", zap.Error(runErr))
	}
	logger.Info("mirror bot stopped")
}

func newLogger(level string) (*zap.Logger, error) {
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, err
	}
	if lvl == zapcore.DebugLevel {
		return zap.NewDevelopment()
	}

	cfg := zap.NewProductionConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}

package main

import (
	"context"
	"fmt"
	"os"

	"github.com/sirupsen/logrus"

	"github.com/dwp-platform/guard/pkg/cli"
	"github.com/dwp-platform/guard/pkg/config"
	"github.com/dwp-platform/guard/pkg/engine"
	"github.com/dwp-platform/guard/pkg/observability"
)

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	logger := setupLogger(cfg.Observability.LogLevel)

	root := cli.NewRootCommand(&cli.Runtime{
		Open: func(ctx context.Context) (cli.Engine, error) {
			return engine.New(ctx, cfg, engine.WithLogger(
				observability.NewLogger(cfg.Observability.Level(), os.Stderr)))
		},
		Out:    os.Stdout,
		Logger: logger,
	})

	if err := root.Execute(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(logLevel string) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(logLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	return logger
}

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/cepro/gpio2mqtt/config"
	"gopkg.in/natefinch/lumberjack.v2"
)

// newLogger returns a text logger writing to stdout, and additionally to a rotated log file if one is configured.
// The returned close func must be called on exit.
func newLogger(cfg config.LogConfig) (*slog.Logger, func() error, error) {

	var level slog.Level
	err := level.UnmarshalText([]byte(cfg.Level))
	if err != nil {
		return nil, nil, fmt.Errorf("parse log level: %w", err)
	}

	var out io.Writer = os.Stdout
	closeFunc := func() error { return nil }

	if cfg.File != "" {
		file := &lumberjack.Logger{
			Filename:   cfg.File,
			MaxSize:    cfg.MaxSizeMB, // lumberjack applies its own defaults to zero values
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAgeDays,
		}
		out = io.MultiWriter(os.Stdout, file)
		closeFunc = file.Close
	}

	logger := slog.New(slog.NewTextHandler(out, &slog.HandlerOptions{Level: level}))
	return logger, closeFunc, nil
}

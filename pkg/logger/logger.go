package logger

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Config holds logger configuration
type Config struct {
	Level       string
	Development bool
	Service     string
	Output      io.Writer
}

// New builds a zerolog logger. Development mode writes human-readable
// console output; otherwise records are JSON lines.
func New(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil || cfg.Level == "" {
		level = zerolog.InfoLevel
	}

	out := cfg.Output
	if out == nil {
		out = os.Stdout
	}
	if cfg.Development {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	ctx := zerolog.New(out).Level(level).With().Timestamp()
	if cfg.Service != "" {
		ctx = ctx.Str("service", cfg.Service)
	}
	if cfg.Development {
		ctx = ctx.Caller()
	}
	return ctx.Logger()
}

// Init builds a logger and installs it as the global log.Logger
func Init(cfg Config) zerolog.Logger {
	zerolog.TimeFieldFormat = time.RFC3339Nano
	l := New(cfg)
	log.Logger = l
	zerolog.DefaultContextLogger = &l
	return l
}

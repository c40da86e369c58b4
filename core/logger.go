package core

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/lmittmann/tint"
	"github.com/mattn/go-isatty"

	"github.com/romakot321/higgsfieldai-api/internals/conf"
	"github.com/romakot321/higgsfieldai-api/internals/env"
)

// InitLogger builds the process logger and installs it as slog's default.
// The env log level wins over the config file.
func InitLogger(config *conf.Config, envs *env.EnvStruct, out io.Writer) *slog.Logger {
	if out == nil {
		out = os.Stderr
	}

	levelName := config.Log.Level
	if envs != nil && envs.LOG_LEVEL != "" {
		levelName = envs.LOG_LEVEL
	}
	level := parseLevel(levelName)

	var handler slog.Handler
	if config.Log.Format == "json" {
		handler = slog.NewJSONHandler(out, &slog.HandlerOptions{Level: level})
	} else {
		handler = tint.NewHandler(out, &tint.Options{
			Level:      level,
			AddSource:  level == slog.LevelDebug,
			TimeFormat: "15:04:05.000",
			NoColor:    !isTerminal(out),
		})
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func parseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

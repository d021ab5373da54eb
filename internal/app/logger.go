package app

import (
	"io"
	"log/slog"
	"os"
)

const serviceName = "repairdesk"

// NewLogger builds the process logger for one repairdesk binary. Every record
// carries the service, the binary's component and APP_ENV. LOG_FORMAT=json
// switches from text to JSON output.
func NewLogger(cfg *Config, component string) *slog.Logger {
	return newLogger(os.Stdout, cfg, component)
}

func newLogger(w io.Writer, cfg *Config, component string) *slog.Logger {
	opts := &slog.HandlerOptions{AddSource: true}
	var handler slog.Handler = slog.NewTextHandler(w, opts)
	env := ""
	if cfg != nil {
		if cfg.LogFormat == "json" {
			handler = slog.NewJSONHandler(w, opts)
		}
		env = cfg.AppEnv
	}
	return slog.New(handler).With(
		slog.String("service", serviceName),
		slog.String("component", component),
		slog.String("env", env),
	)
}

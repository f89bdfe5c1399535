package logging

import (
	"os"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Init configures the global logger. Production default only shows errors
// so the terminal UI stays clean; LOG_LEVEL overrides it.
func Init() {
	level := zerolog.ErrorLevel

	if l, ok := os.LookupEnv("LOG_LEVEL"); ok {
		switch l {
		case "dev", "development", "debug":
			level = zerolog.DebugLevel
		case "info":
			level = zerolog.InfoLevel
		case "warn", "warning":
			level = zerolog.WarnLevel
		case "error", "production", "prod":
			level = zerolog.ErrorLevel
		}
	}

	w := zerolog.ConsoleWriter{Out: os.Stderr}
	log.Logger = zerolog.New(w).Level(level).With().Timestamp().Logger()
}

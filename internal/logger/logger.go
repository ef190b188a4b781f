package logger

import (
	"os"

	log "github.com/sirupsen/logrus"
)

// Init configures the global logger. An unknown level falls back to info.
func Init(level, format string) {
	switch format {
	case "text":
		log.SetFormatter(&log.TextFormatter{FullTimestamp: true})
	default:
		log.SetFormatter(&log.JSONFormatter{})
	}
	log.SetReportCaller(true)

	lvl, err := log.ParseLevel(level)
	if err != nil {
		lvl = log.InfoLevel
	}
	log.SetLevel(lvl)

	log.SetOutput(os.Stdout)
}

package main

import (
	"os"
	"os/signal"
	"strings"

	"github.com/habedi/sessync/cmd"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const debugEnv = "DEBUG_SESSYNC"

func main() {
	configureLogLevelFromEnv()
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	stopChan := setupInterruptListener()
	go handleInterrupt(stopChan, func(msg string) { log.Error().Msg(msg) }, os.Exit)

	cmd.Execute()
}

// configureLogLevelFromEnv enables debug logging when DEBUG_SESSYNC is set to
// anything but an empty, "false" or "0" value. Otherwise logging is disabled.
func configureLogLevelFromEnv() {
	switch strings.ToLower(strings.TrimSpace(os.Getenv(debugEnv))) {
	case "", "false", "0":
		zerolog.SetGlobalLevel(zerolog.Disabled)
	default:
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
}

func setupInterruptListener() chan os.Signal {
	stopChan := make(chan os.Signal, 1)
	signal.Notify(stopChan, os.Interrupt)
	return stopChan
}

// handleInterrupt waits for a signal, logs and exits with status 1.
func handleInterrupt(stopChan chan os.Signal, logFatal func(string), exit func(int)) {
	<-stopChan
	logFatal("Interrupt signal received. Exiting...")
	exit(1)
}

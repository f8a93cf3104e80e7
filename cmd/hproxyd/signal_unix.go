// +build !windows

package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/hargassner/hproxy/internal/orchestrator"
)

// handleSignals translates OS signals into Orchestrator lifecycle
// calls, grounded on signal_unix.go's newSignalHandler/translateSignal
// pair. SIGHUP is logged only: configuration hot-reload already runs
// off config.Watcher's fsnotify subscription, so there is no separate
// "roll" action left to trigger here.
func handleSignals(orch *orchestrator.Orchestrator, log *logrus.Entry) {
	signalHandler := make(chan os.Signal, 1)
	signal.Notify(signalHandler, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	for sig := range signalHandler {
		switch sig {
		case syscall.SIGINT, syscall.SIGTERM:
			log.WithField("signal", sig).Info("hproxyd: shutting down")
			orch.Stop()
			return

		case syscall.SIGHUP:
			log.Info("hproxyd: SIGHUP received, configuration reload is handled by the file watcher")
		}
	}
}

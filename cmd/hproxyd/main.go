// Command hproxyd is the process entry point: flag parsing, config
// load, logger setup, Orchestrator start, signal handling. Kept
// deliberately thin — spec.md names the CLI entry point itself as a
// Non-goal, so this file only wires components together (SPEC_FULL.md
// §5 package layout), the same role the teacher's main.go plays for
// the multiplexer.
package main

import (
	"flag"
	"fmt"
	"os"

	_ "go.uber.org/automaxprocs"

	"github.com/hargassner/hproxy/internal/config"
	"github.com/hargassner/hproxy/internal/diagnostics"
	"github.com/hargassner/hproxy/internal/metrics"
	"github.com/hargassner/hproxy/internal/orchestrator"
)

var (
	flagConfigFile = flag.String("config", "", "Path to the proxy's YAML configuration file.")
	flagVersion    = flag.Bool("version", false, "Print version information and quit.")
)

const versionString = "hproxyd v1.0.0"

func main() {
	flag.Parse()

	if *flagVersion {
		fmt.Println(versionString)
		return
	}
	if *flagConfigFile == "" {
		fmt.Fprintln(os.Stderr, "hproxyd: -config is required")
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load(*flagConfigFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "hproxyd: %s\n", err)
		os.Exit(1)
	}

	log := diagnostics.NewLogger(cfg.Log.Level)
	if cfg.Log.Syslog != "" {
		if err := diagnostics.AttachSyslog(log, "udp", cfg.Log.Syslog); err != nil {
			log.WithError(err).Warn("hproxyd: syslog forwarding disabled")
		}
	}
	entry := log.WithField("service", "hproxyd")

	orch := orchestrator.New(cfg, entry, metrics.New())

	watcher, err := config.NewWatcher(*flagConfigFile, entry, func(next config.Config) {
		entry.Info("hproxyd: configuration reloaded")
		orch.SetConfig(next)
	})
	if err != nil {
		entry.WithError(err).Warn("hproxyd: configuration hot-reload disabled")
	} else {
		defer watcher.Close()
	}

	go handleSignals(orch, entry)

	orch.Run()
}

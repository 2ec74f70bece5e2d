// Command navdoon runs the metrics aggregation daemon: it parses CLI
// flags and an optional INI configuration file, builds a logger, and
// hands both to the supervisor. SIGHUP triggers a reload; SIGTERM and
// SIGINT trigger a graceful shutdown.
package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/farzadghanei/navdoon/internal/config"
	"github.com/farzadghanei/navdoon/internal/logging"
	"github.com/farzadghanei/navdoon/internal/server"
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	cfg, err := config.Load(config.ConfigFilePath())
	if err != nil {
		fmt.Fprintf(os.Stderr, "navdoon: config error: %s\n", err)
		return 1
	}

	log, err := logging.New(logging.Options{
		Level:        cfg.LogLevel,
		File:         cfg.LogFile,
		Stderr:       cfg.LogStderr,
		Syslog:       cfg.LogSyslog,
		SyslogSocket: cfg.SyslogSocket,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "navdoon: logging error: %s\n", err)
		return 1
	}

	sup := server.New(log)
	if err := sup.Start(cfg); err != nil {
		log.WithError(err).Error("failed to start")
		return 1
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGINT)

	for sig := range signals {
		switch sig {
		case syscall.SIGHUP:
			reloaded, err := config.Load(config.ConfigFilePath())
			if err != nil {
				log.WithError(err).Warn("reload: failed to reload configuration, keeping running config")
				continue
			}
			if err := sup.Reload(reloaded); err != nil {
				log.WithError(err).Warn("reload failed")
				continue
			}
			cfg = reloaded
		case syscall.SIGTERM, syscall.SIGINT:
			log.Info("shutting down")
			if err := sup.Stop(cfg.ShutdownTimeout); err != nil {
				log.WithError(err).Error("shutdown error")
				return 1
			}
			return 0
		}
	}

	return 0
}

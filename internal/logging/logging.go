// Package logging builds the logrus logger used throughout the
// process from the log-level / log-stderr / log-file / log-syslog
// configuration surface.
package logging

import (
	"fmt"
	"io"
	"log/syslog"
	"os"

	"github.com/sirupsen/logrus"
	logrus_syslog "github.com/sirupsen/logrus/hooks/syslog"
)

const syslogPriority = syslog.LOG_INFO | syslog.LOG_DAEMON

// Options mirrors the logging rows of the CLI/configuration table.
type Options struct {
	Level        string // e.g. "debug", "info", "warning", "error"
	File         string // path, empty to disable
	Stderr       bool
	Syslog       bool
	SyslogSocket string // UDP "host:port", e.g. "127.0.0.1:514"; empty for local syslog
}

// New builds a *logrus.Logger per Options. Multiple sinks fan out via
// io.MultiWriter for the stream-based ones; syslog is wired as a hook
// since logrus delivers hook output independently of the writer.
func New(opts Options) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	level, err := logrus.ParseLevel(defaultString(opts.Level, "info"))
	if err != nil {
		return nil, fmt.Errorf("invalid log-level %q: %w", opts.Level, err)
	}
	log.SetLevel(level)

	var writers []io.Writer
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}
	if opts.File != "" {
		f, err := os.OpenFile(opts.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, fmt.Errorf("open log-file %s: %w", opts.File, err)
		}
		writers = append(writers, f)
	}

	switch len(writers) {
	case 0:
		log.SetOutput(io.Discard)
	case 1:
		log.SetOutput(writers[0])
	default:
		log.SetOutput(io.MultiWriter(writers...))
	}

	if opts.Syslog {
		network, addr := "", ""
		if opts.SyslogSocket != "" {
			network, addr = "udp", opts.SyslogSocket
		}
		hook, err := logrus_syslog.NewSyslogHook(network, addr, syslogPriority, "navdoon")
		if err != nil {
			return nil, fmt.Errorf("connect syslog: %w", err)
		}
		log.AddHook(hook)
	}

	return log, nil
}

func defaultString(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

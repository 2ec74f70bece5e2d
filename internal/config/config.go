// Package config loads the daemon's configuration surface: defaults,
// then an INI file via github.com/stvp/go-toml-config (the same load a
// justeat/statsdaemon fork uses). The only command-line flag is
// -config-file; the options themselves are not settable from the
// command line.
package config

import (
	"flag"
	"strconv"
	"strings"
	"time"

	toml_config "github.com/stvp/go-toml-config"
)

// Config is the fully resolved, validated configuration the supervisor
// consumes.
type Config struct {
	LogLevel     string
	LogFile      string
	LogStderr    bool
	LogSyslog    bool
	SyslogSocket string

	FlushInterval time.Duration
	FlushStdout   bool
	FlushGraphite []string // host:port
	FlushFile     []string // paths, Carbon format
	FlushFileCSV  []string // paths, CSV format

	CollectUDP []HostPort
	CollectTCP []HostPort

	CollectorThreads      int
	CollectorThreadsLimit int

	User  string
	Group string

	QueueCapacity int // 0 = unbounded

	ShutdownTimeout time.Duration
}

// HostPort is a resolved bind address.
type HostPort struct {
	Host string
	Port int
}

const defaultPort = 8125

var (
	fLogLevel     = toml_config.String("log-level", "info")
	fLogFile      = toml_config.String("log-file", "")
	fLogStderr    = toml_config.Bool("log-stderr", true)
	fLogSyslog    = toml_config.Bool("log-syslog", false)
	fSyslogSocket = toml_config.String("syslog-socket", "")

	fFlushInterval = toml_config.Int("flush-interval", 10)
	fFlushStdout   = toml_config.Bool("flush-stdout", false)
	fFlushGraphite = toml_config.String("flush-graphite", "")
	fFlushFile     = toml_config.String("flush-file", "")
	fFlushFileCSV  = toml_config.String("flush-file-csv", "")

	fCollectUDP = toml_config.String("collect-udp", "127.0.0.1:8125")
	fCollectTCP = toml_config.String("collect-tcp", "127.0.0.1:8125")

	fCollectorThreads      = toml_config.Int("collector-threads", 4)
	fCollectorThreadsLimit = toml_config.Int("collector-threads-limit", 32)

	fUser  = toml_config.String("user", "")
	fGroup = toml_config.String("group", "")

	fQueueCapacity   = toml_config.Int("queue-capacity", 0)
	fShutdownTimeout = toml_config.Int("shutdown-timeout", 5)

	fConfigFile = flag.String("config-file", "", "path to an INI configuration file")
)

// Load parses the INI file at path (if non-empty) into the package-level
// option values and returns the resolved Config; options absent from
// the file keep their defaults. Command-line arguments other than
// -config-file do not affect the result.
func Load(path string) (Config, error) {
	if path != "" {
		if err := toml_config.Parse(path); err != nil {
			return Config{}, err
		}
	}

	udp, err := parseHostPorts(*fCollectUDP, defaultPort)
	if err != nil {
		return Config{}, err
	}
	tcp, err := parseHostPorts(*fCollectTCP, defaultPort)
	if err != nil {
		return Config{}, err
	}

	return Config{
		LogLevel:     *fLogLevel,
		LogFile:      *fLogFile,
		LogStderr:    *fLogStderr,
		LogSyslog:    *fLogSyslog,
		SyslogSocket: *fSyslogSocket,

		FlushInterval: time.Duration(*fFlushInterval) * time.Second,
		FlushStdout:   *fFlushStdout,
		FlushGraphite: splitNonEmpty(*fFlushGraphite, ","),
		FlushFile:     splitNonEmpty(*fFlushFile, "|"),
		FlushFileCSV:  splitNonEmpty(*fFlushFileCSV, "|"),

		CollectUDP: udp,
		CollectTCP: tcp,

		CollectorThreads:      *fCollectorThreads,
		CollectorThreadsLimit: *fCollectorThreadsLimit,

		User:  *fUser,
		Group: *fGroup,

		QueueCapacity:   *fQueueCapacity,
		ShutdownTimeout: time.Duration(*fShutdownTimeout) * time.Second,
	}, nil
}

// ConfigFilePath returns the -config-file flag value, bound once
// flag.Parse has run.
func ConfigFilePath() string {
	return *fConfigFile
}

func splitNonEmpty(s, sep string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, sep)
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// parseHostPorts parses a comma-separated list of "[host][:port]" into
// HostPort values, defaulting host to 127.0.0.1 and port to
// defaultPort.
func parseHostPorts(s string, defaultPort int) ([]HostPort, error) {
	entries := splitNonEmpty(s, ",")
	out := make([]HostPort, 0, len(entries))
	for _, e := range entries {
		host, port := "127.0.0.1", defaultPort
		if strings.Contains(e, ":") {
			h, p, _ := strings.Cut(e, ":")
			if h != "" {
				host = h
			}
			if p != "" {
				parsed, err := strconv.Atoi(p)
				if err != nil {
					return nil, err
				}
				port = parsed
			}
		} else if e != "" {
			host = e
		}
		out = append(out, HostPort{Host: host, Port: port})
	}
	return out, nil
}

package config

// MonitorConfig is the flat, TOML/env/CLI-bindable configuration for the
// uevmon daemon. Field names follow the same flag-name derivation LoadConfig
// uses (fieldNameToFlag): "RecvBufferSize" binds to the "recv-buffer-size"
// CLI flag and the UEVMON_RECV_BUFFER_SIZE env var.
type MonitorConfig struct {
	Config string `help:"Path to configuration file" toml:"-"`

	// Group selects which multicast channel to join: "", "kernel" or "peer".
	Group string `help:"Monitor group: kernel or peer" toml:"monitor.group" env:"GROUP"`

	// Subsystems is a list of "subsystem" or "subsystem:devtype" filter
	// entries, e.g. "block" or "block:disk".
	Subsystems []string `help:"Subsystem (optionally subsystem:devtype) filters" toml:"monitor.subsystems" env:"SUBSYSTEMS"`

	// Tags is a list of tag filter entries, e.g. "seat" or "systemd".
	Tags []string `help:"Tag filters" toml:"monitor.tags" env:"TAGS"`

	// RecvBufferSize sets SO_RCVBUF on the monitor socket, in bytes. Zero
	// leaves the kernel default in place.
	RecvBufferSize int `help:"Socket receive buffer size in bytes" toml:"monitor.recv_buffer_size" env:"RECV_BUFFER_SIZE"`

	// LoggingLevel and LoggingFormat feed logging.Initialize directly;
	// LoggingMonitor overrides the level for the "monitor" module only.
	LoggingLevel   string `help:"Global logging level" default:"info" toml:"logging.level" env:"LOGGING_LEVEL"`
	LoggingFormat  string `help:"Logging format (text or json)" default:"text" toml:"logging.format" env:"LOGGING_FORMAT"`
	LoggingMonitor string `help:"Monitor module logging level" toml:"logging.monitor" env:"LOGGING_MONITOR"`
}

// DefaultMonitorConfig returns a MonitorConfig with the daemon's built-in
// defaults, prior to any TOML/env/CLI overrides being applied by LoadConfig.
func DefaultMonitorConfig() *MonitorConfig {
	return &MonitorConfig{
		Group:          "peer",
		RecvBufferSize: 0,
		LoggingLevel:   "info",
		LoggingFormat:  "text",
	}
}

package cmd

import (
	"errors"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/kestrel-systems/uevmon/internal/config"
	"github.com/kestrel-systems/uevmon/internal/logging"
	"github.com/kestrel-systems/uevmon/internal/metrics"
	"github.com/kestrel-systems/uevmon/internal/systemd"
	"github.com/kestrel-systems/uevmon/pkg/uevent"
	"github.com/spf13/cobra"
)

// CreateMonitorCmd creates the monitor command: a long-running daemon that
// joins a device-event group and logs every device it receives.
func CreateMonitorCmd() *cobra.Command {
	opts := config.DefaultMonitorConfig()

	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the device-event monitor daemon",
		Long: `Joins the kernel or peer device-event multicast group, installs ` +
			`subsystem/tag filters, and logs every matching device until interrupted.`,
		Run: func(cmd *cobra.Command, args []string) {
			if loadErr := config.LoadConfig(opts, cmd); loadErr != nil {
				os.Exit(1)
			}

			loggingConfig := logging.Config{
				Level:  opts.LoggingLevel,
				Format: opts.LoggingFormat,
				Modules: map[string]string{
					"monitor": opts.LoggingMonitor,
				},
			}
			logging.Initialize(loggingConfig)
			logger := logging.GetLogger("monitor")

			mon, err := openMonitor(opts)
			if err != nil {
				logger.Error("Failed to open monitor", "error", err)
				os.Exit(1)
			}
			defer func() { _ = mon.Close() }()

			applyFilters(mon, opts)

			if err := mon.EnableReceiving(); err != nil {
				logger.Error("Failed to enable receiving", "error", err)
				os.Exit(1)
			}

			logger.Info("Monitor started",
				"group", mon.GetGroupContext().String(),
				"subsystems", opts.Subsystems,
				"tags", opts.Tags,
			)

			watcher := config.NewConfigWatcher(
				opts.Config,
				loadMonitorConfigFile,
				logger,
				config.WithDebounce[*config.MonitorConfig](1500*time.Millisecond),
			)
			watcher.OnReload(func(fresh *config.MonitorConfig) {
				opts.Subsystems = fresh.Subsystems
				opts.Tags = fresh.Tags
				if err := mon.FilterRemove(); err != nil {
					logger.Warn("Failed to clear filters on reload", "error", err)
					return
				}
				applyFilters(mon, opts)
				if err := mon.FilterUpdate(); err != nil {
					logger.Warn("Failed to reinstall filters on reload", "error", err)
					return
				}
				logger.Info("Filters reloaded", "subsystems", opts.Subsystems, "tags", opts.Tags)
			})
			if opts.Config != "" {
				if err := watcher.Start(); err != nil {
					logger.Warn("Failed to start config watcher, hot-reload disabled", "error", err)
				} else {
					defer func() { _ = watcher.Stop() }()
				}
			}

			if err := systemd.NotifyReady(); err != nil {
				logger.Debug("sd_notify READY failed (likely not under systemd)", "error", err)
			}

			runReceiveLoop(mon, logger)
		},
	}

	cmd.Flags().StringVar(&opts.Config, "config", "", "Path to configuration file")
	cmd.Flags().StringVar(&opts.Group, "group", opts.Group, "Monitor group: kernel or peer")
	cmd.Flags().StringSliceVar(&opts.Subsystems, "subsystems", opts.Subsystems,
		"Subsystem (optionally subsystem:devtype) filters")
	cmd.Flags().StringSliceVar(&opts.Tags, "tags", opts.Tags, "Tag filters")
	cmd.Flags().IntVar(&opts.RecvBufferSize, "recv-buffer-size", opts.RecvBufferSize,
		"Socket receive buffer size in bytes")
	cmd.Flags().StringVar(&opts.LoggingLevel, "logging-level", opts.LoggingLevel, "Global logging level")
	cmd.Flags().StringVar(&opts.LoggingFormat, "logging-format", opts.LoggingFormat, "Logging format (text or json)")
	cmd.Flags().StringVar(&opts.LoggingMonitor, "logging-monitor", opts.LoggingMonitor, "Monitor module logging level")

	return cmd
}

// openMonitor opens a socket for the configured group, preferring a
// systemd-activated fd when one is available.
func openMonitor(opts *config.MonitorConfig) (*uevent.Monitor, error) {
	if fd, ok := systemd.ActivationFD(); ok {
		group, err := monitorGroupFromName(opts.Group)
		if err != nil {
			return nil, err
		}
		return uevent.FromFD(fd, group, nil)
	}
	mon, err := uevent.FromGroup(opts.Group, nil)
	if err != nil {
		return nil, err
	}
	if opts.RecvBufferSize > 0 {
		if err := mon.SetReceiveBufferSize(opts.RecvBufferSize); err != nil {
			_ = mon.Close()
			return nil, err
		}
	}
	return mon, nil
}

func monitorGroupFromName(name string) (uevent.Group, error) {
	switch name {
	case "", "none":
		return uevent.GroupNone, nil
	case "kernel":
		return uevent.GroupKernel, nil
	case "peer":
		return uevent.GroupPeer, nil
	default:
		return uevent.GroupNone, &uevent.ArgumentError{Msg: "unknown monitor group: " + name}
	}
}

func applyFilters(mon *uevent.Monitor, opts *config.MonitorConfig) {
	for _, entry := range opts.Subsystems {
		subsystem, devtype, hasDevtype := strings.Cut(entry, ":")
		if hasDevtype {
			mon.FilterAddMatchSubsystemDevtype(subsystem, devtype, true)
		} else {
			mon.FilterAddMatchSubsystem(subsystem)
		}
	}
	for _, tag := range opts.Tags {
		mon.FilterAddMatchTag(tag)
	}
}

func loadMonitorConfigFile(path string) (*config.MonitorConfig, error) {
	fresh := config.DefaultMonitorConfig()
	fresh.Config = path
	if err := config.LoadConfig(fresh, nil); err != nil {
		return nil, err
	}
	return fresh, nil
}

// runReceiveLoop blocks until interrupted, logging and counting every
// device the monitor delivers. When ReceiveDevice reports ErrAgain it
// waits 10ms (or for a signal) before reading again instead of spinning.
func runReceiveLoop(mon *uevent.Monitor, logger logging.Logger) {
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	watchdog, watchdogEnabled, err := systemd.WatchdogInterval()
	if err != nil {
		logger.Debug("Watchdog check failed", "error", err)
	}
	var watchdogTick <-chan time.Time
	if watchdogEnabled {
		ticker := time.NewTicker(watchdog / 2)
		defer ticker.Stop()
		watchdogTick = ticker.C
	}

	idle := time.NewTimer(10 * time.Millisecond)
	defer idle.Stop()

	for {
		select {
		case <-sigCh:
			logger.Info("Monitor stopping")
			_ = systemd.NotifyStopping()
			return
		case <-watchdogTick:
			if err := systemd.NotifyWatchdog(); err != nil {
				logger.Debug("Watchdog ping failed", "error", err)
			}
		default:
		}

		device, err := mon.ReceiveDevice()
		switch {
		case err == nil:
			metrics.IncEventReceived(mon.GetGroupContext().String(), device.Subsystem())
			logger.Info("Device event",
				"subsystem", device.Subsystem(),
				"tags", device.Tags(),
			)
		case errors.Is(err, uevent.ErrAgain):
			metrics.IncEventDropped(mon.GetGroupContext().String())
			if !idle.Stop() {
				<-idle.C
			}
			idle.Reset(10 * time.Millisecond)
			select {
			case <-sigCh:
				logger.Info("Monitor stopping")
				_ = systemd.NotifyStopping()
				return
			case <-idle.C:
			}
		default:
			logger.Error("Receive failed", "error", err)
			return
		}
	}
}

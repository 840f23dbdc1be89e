// Package systemd integrates the monitor daemon with systemd socket
// activation and service readiness notification.
package systemd

import (
	"fmt"
	"os"
	"time"

	"github.com/coreos/go-systemd/v22/activation"
	"github.com/coreos/go-systemd/v22/daemon"
)

// activationFiles holds systemd-supplied *os.File wrappers for the process
// lifetime: letting one get garbage collected would run its finalizer and
// close the very fd ActivationFD hands out.
var activationFiles []*os.File

// ActivationFD returns the first file descriptor systemd passed via socket
// activation (a unit using ListenNetlink= for NETLINK_KOBJECT_UEVENT), and
// whether one was available at all. The returned fd is already valid for
// use with uevent.FromFD; the environment variables that advertise it are
// cleared so child processes don't also try to adopt it.
func ActivationFD() (int, bool) {
	if activationFiles == nil {
		activationFiles = activation.Files(true)
	}
	if len(activationFiles) == 0 {
		return -1, false
	}
	return int(activationFiles[0].Fd()), true
}

// NotifyReady tells systemd the daemon has finished starting up (Type=notify
// units wait for this before considering the service active).
func NotifyReady() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyReady)
	return err
}

// NotifyStopping tells systemd the daemon is shutting down.
func NotifyStopping() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyStopping)
	return err
}

// NotifyStatus sends a free-form single-line status string, shown by
// `systemctl status`.
func NotifyStatus(msg string) error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyStatus+msg)
	return err
}

// WatchdogInterval reports the interval the daemon must call NotifyWatchdog
// within, and whether the watchdog is enabled at all (WatchdogSec= set on
// the unit).
func WatchdogInterval() (time.Duration, bool, error) {
	interval, err := daemon.SdWatchdogEnabled(false)
	if err != nil {
		return 0, false, fmt.Errorf("systemd: checking watchdog: %w", err)
	}
	return interval, interval > 0, nil
}

// NotifyWatchdog pings the systemd watchdog.
func NotifyWatchdog() error {
	_, err := daemon.SdNotify(false, daemon.SdNotifyWatchdog)
	return err
}

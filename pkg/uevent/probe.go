package uevent

import (
	"bufio"
	"os"
	"strings"
)

// LivenessProber decides whether the privileged peer device manager appears
// to be running on the host. It gates the "peer" → "none" group downgrade
// in FromGroup. The default implementation is environment-dependent (it
// inspects the filesystem), so it is pluggable for testing.
type LivenessProber interface {
	PeerRunning() bool
}

// defaultProber implements the two-signal heuristic from the design notes:
// the peer is considered absent only when its control socket path doesn't
// exist AND the device filesystem it manages isn't mounted. Either signal
// alone indicating presence is enough to keep the peer group.
type defaultProber struct {
	controlPath string
	mountinfo   string
	deviceFS    string
}

func newDefaultProber() *defaultProber {
	return &defaultProber{
		controlPath: "/run/udev/control",
		mountinfo:   "/proc/self/mountinfo",
		deviceFS:    "devtmpfs",
	}
}

func (p *defaultProber) PeerRunning() bool {
	if _, err := os.Stat(p.controlPath); err == nil {
		return true
	}
	if p.deviceFSMounted() {
		return true
	}
	return false
}

func (p *defaultProber) deviceFSMounted() bool {
	f, err := os.Open(p.mountinfo)
	if err != nil {
		// Can't tell either way; don't claim absence on a probe failure.
		return true
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		// /proc/self/mountinfo fields are separated by " - " into a
		// pre-"-" group and a post-"-" group; the filesystem type is the
		// first field after that separator.
		line := scanner.Text()
		if idx := strings.Index(line, " - "); idx >= 0 {
			fields := strings.Fields(line[idx+3:])
			if len(fields) > 0 && fields[0] == p.deviceFS {
				return true
			}
		}
	}
	return false
}

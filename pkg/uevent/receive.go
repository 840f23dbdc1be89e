package uevent

import (
	"bytes"
	"errors"

	"golang.org/x/sys/unix"
)

// errSoftDrop marks a policy rejection (wrong sender, bad credentials,
// corrupt framing, safety-net mismatch): the caller's receive loop should
// move on to the next datagram without surfacing an error.
var errSoftDrop = errors.New("uevent: datagram dropped by policy")

// errSocketEmpty marks "nothing left to read right now": the caller's
// receive loop should stop and report ErrAgain rather than spin.
var errSocketEmpty = errors.New("uevent: socket has no pending datagram")

// ReceiveDevice performs the public receive operation: it loops
// over single-datagram read attempts until a device passes every filter
// (success), a hard I/O error occurs, or the socket runs dry (ErrAgain).
// The socket is always non-blocking; ReceiveDevice never sleeps. Callers
// that want to wait for the next event integrate GetFD into their own
// readiness mechanism and call ReceiveDevice again once it's readable.
func (m *Monitor) ReceiveDevice() (Device, error) {
	if err := m.checkOpen(); err != nil {
		return nil, err
	}
	for {
		device, err := m.recvOnce()
		switch {
		case err == nil:
			return device, nil
		case errors.Is(err, unix.EINTR):
			continue
		case errors.Is(err, errSoftDrop):
			continue
		case errors.Is(err, errSocketEmpty):
			return nil, ErrAgain
		default:
			return nil, err
		}
	}
}

// recvOnce reads exactly one datagram and attempts to turn it into a
// Device.
func (m *Monitor) recvOnce() (Device, error) {
	buf := make([]byte, recvBufSize)
	oob := make([]byte, unix.CmsgSpace(unix.SizeofUcred))

	n, oobn, recvflags, from, err := unix.Recvmsg(m.core.fd, buf, oob, 0)
	if err != nil {
		if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
			return nil, errSocketEmpty
		}
		if errors.Is(err, unix.EINTR) {
			return nil, unix.EINTR
		}
		return nil, err
	}
	if recvflags&unix.MSG_TRUNC != 0 {
		return nil, errSoftDrop
	}
	if n < minDatagramLen {
		return nil, errSoftDrop
	}
	buf = buf[:n]

	if !m.senderTrusted(from) {
		return nil, errSoftDrop
	}
	if !credentialedByRoot(oob[:oobn]) {
		return nil, errSoftDrop
	}

	device, err := m.decodeDevice(buf)
	if err != nil {
		return nil, errSoftDrop
	}

	if !m.passesUserspaceFilter(device) {
		return nil, errSoftDrop
	}
	return device, nil
}

// senderTrusted applies the per-group source-address policy.
func (m *Monitor) senderTrusted(from unix.Sockaddr) bool {
	nl, ok := from.(*unix.SockaddrNetlink)
	var srcPort uint32
	if ok {
		srcPort = nl.Pid
	}

	switch m.core.group {
	case GroupNone:
		m.core.mu.Lock()
		trusted := m.core.trustedSender
		m.core.mu.Unlock()
		return trusted != nil && *trusted == srcPort
	case GroupKernel:
		return srcPort == 0
	case GroupPeer:
		return true
	default:
		return false
	}
}

// credentialedByRoot extracts SCM_CREDENTIALS from oob and requires the
// sending uid to be 0. A message carrying no credentials at all is
// rejected.
func credentialedByRoot(oob []byte) bool {
	if len(oob) == 0 {
		return false
	}
	scms, err := unix.ParseSocketControlMessage(oob)
	if err != nil {
		return false
	}
	for _, scm := range scms {
		ucred, err := unix.ParseUnixCredentials(&scm)
		if err != nil {
			continue
		}
		if ucred.Uid == 0 {
			return true
		}
	}
	return false
}

// decodeDevice discriminates peer-format from kernel-format payloads and
// builds a Device from the properties range.
func (m *Monitor) decodeDevice(buf []byte) (Device, error) {
	if isPeerFormat(buf) {
		return m.decodePeerFormat(buf)
	}
	return m.decodeKernelFormat(buf)
}

func (m *Monitor) decodePeerFormat(buf []byte) (Device, error) {
	if len(buf) < headerSize {
		return nil, errSoftDrop
	}
	h := decodeHeader(buf)
	if h.magic != magic {
		return nil, errSoftDrop
	}
	if uint64(h.propertiesOff)+32 > uint64(len(buf)) {
		return nil, errSoftDrop
	}

	properties := buf[h.propertiesOff:]
	device, err := m.core.deviceConstructor(properties)
	if err != nil {
		return nil, errSoftDrop
	}
	device.SetInitialized()
	return device, nil
}

// minKernelHeaderLen mirrors sizeof("a@/d"): the shortest possible
// "<action>@<devpath>\0" header line.
const minKernelHeaderLen = len("a@/d") + 1

func (m *Monitor) decodeKernelFormat(buf []byte) (Device, error) {
	if len(buf) < minKernelHeaderLen {
		return nil, errSoftDrop
	}
	nul := bytes.IndexByte(buf, 0)
	if nul < 0 {
		return nil, errSoftDrop
	}
	line := buf[:nul]
	if !bytes.Contains(line, []byte("@/")) {
		return nil, errSoftDrop
	}

	properties := buf[nul+1:]
	device, err := m.core.deviceConstructor(properties)
	if err != nil {
		return nil, errSoftDrop
	}
	return device, nil
}

// passesUserspaceFilter re-checks a device against the filter collections
// by exact string comparison, as a safety net against BPF hash or bloom
// collisions.
func (m *Monitor) passesUserspaceFilter(device Device) bool {
	m.core.mu.Lock()
	subs := cloneSubsystemFilter(m.core.subsystemFilter)
	tags := cloneTagFilter(m.core.tagFilter)
	m.core.mu.Unlock()

	if len(subs) > 0 {
		matched := false
		devtype, hasDevtype := device.Devtype()
		for subsystem, wantDevtype := range subs {
			if device.Subsystem() != subsystem {
				continue
			}
			if wantDevtype == nil {
				matched = true
				break
			}
			if hasDevtype && devtype == *wantDevtype {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	if len(tags) > 0 {
		matched := false
		for tag := range tags {
			if device.HasTag(tag) {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}

	return true
}

package uevent

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"
)

// monitorCore is the refcounted backing resource of a Monitor: one netlink
// socket plus the filter state describing what's installed on it. Several
// *Monitor handles (from Ref) can share one core; the socket and filter
// collections are only released when the last one drops it.
type monitorCore struct {
	refs int32

	fd     int
	group  Group
	bound  bool
	closed bool

	mu                sync.Mutex // guards the fields below
	localAddr         uint32
	trustedSender     *uint32
	subsystemFilter   map[string]*string // subsystem -> devtype, nil = any
	tagFilter         map[string]struct{}
	recvBufSizeIsSet  bool
	deviceConstructor DeviceConstructor
	prober            LivenessProber
}

// Monitor is an owning handle to a device-event socket. Copies of a
// *Monitor value share one core, but the idiomatic way to hand out
// another owning reference is Ref, which bumps the refcount explicitly.
type Monitor struct {
	core     *monitorCore
	released atomic.Bool // set by this handle's first Close
}

// WeakMonitor is a non-owning observer of a Monitor's core. It never
// keeps the backing socket alive by itself; Get returns false once every
// owning Monitor has released the core.
type WeakMonitor struct {
	core *monitorCore
}

// FromGroup creates a Monitor bound to the named multicast group: "" (or
// omitted) selects GroupNone, "kernel" selects GroupKernel, "peer"
// selects GroupPeer. A "peer" request is silently downgraded to
// GroupNone if the peer device manager does not appear to be running;
// pass a nil constructor to use NewSimpleDevice.
func FromGroup(name string, constructor DeviceConstructor) (*Monitor, error) {
	group, err := groupFromName(name)
	if err != nil {
		return nil, err
	}
	if constructor == nil {
		constructor = NewSimpleDevice
	}

	prober := newDefaultProber()
	if group == GroupPeer && !prober.PeerRunning() {
		group = GroupNone
	}

	fd, err := unix.Socket(unix.AF_NETLINK, unix.SOCK_DGRAM|unix.SOCK_CLOEXEC|unix.SOCK_NONBLOCK, netlinkKobjectUevent)
	if err != nil {
		return nil, err
	}

	return newMonitor(fd, group, false, constructor, prober), nil
}

// FromFD adopts an externally supplied, already-bound socket fd (for
// example one obtained from systemd socket activation). The monitor
// records itself as already bound and reads the kernel-assigned port
// back immediately.
func FromFD(fd int, group Group, constructor DeviceConstructor) (*Monitor, error) {
	if fd < 0 {
		return nil, &ArgumentError{Msg: "negative file descriptor"}
	}
	if constructor == nil {
		constructor = NewSimpleDevice
	}

	m := newMonitor(fd, group, true, constructor, newDefaultProber())
	sa, err := unix.Getsockname(fd)
	if err != nil {
		_ = unix.Close(fd)
		return nil, err
	}
	if nl, ok := sa.(*unix.SockaddrNetlink); ok {
		m.core.localAddr = nl.Pid
	}
	return m, nil
}

func newMonitor(fd int, group Group, bound bool, constructor DeviceConstructor, prober LivenessProber) *Monitor {
	core := &monitorCore{
		refs:              1,
		fd:                fd,
		group:             group,
		bound:             bound,
		subsystemFilter:   make(map[string]*string),
		tagFilter:         make(map[string]struct{}),
		deviceConstructor: constructor,
		prober:            prober,
	}
	return &Monitor{core: core}
}

// Ref returns a new owning handle sharing this Monitor's core and bumps
// the refcount. The backing socket is released only once every handle
// returned by Ref (and the original) has called Close.
func (m *Monitor) Ref() *Monitor {
	atomic.AddInt32(&m.core.refs, 1)
	return &Monitor{core: m.core}
}

// Weak returns a non-owning observer of this Monitor. It is useful for
// code that wants to look up the monitor (e.g. for logging or metrics)
// without extending its lifetime.
func (m *Monitor) Weak() WeakMonitor {
	return WeakMonitor{core: m.core}
}

// Get returns the Monitor if it still has at least one owning reference,
// or false once the core has been fully released.
func (w WeakMonitor) Get() (*Monitor, bool) {
	if atomic.LoadInt32(&w.core.refs) <= 0 {
		return nil, false
	}
	return &Monitor{core: w.core}, true
}

// Close releases this handle's reference. When the last reference drops,
// the socket is closed and the filter collections are freed. Calling
// Close more than once per handle is a programmer error but is safe: the
// handle remembers it has released its reference, so later calls are
// no-ops.
func (m *Monitor) Close() error {
	if m.released.Swap(true) {
		return nil
	}
	if atomic.AddInt32(&m.core.refs, -1) > 0 {
		return nil
	}
	return m.disconnect()
}

// Disconnect is an alias for Close.
func (m *Monitor) Disconnect() error { return m.Close() }

func (m *Monitor) disconnect() error {
	m.core.mu.Lock()
	defer m.core.mu.Unlock()
	if m.core.closed {
		return nil
	}
	m.core.closed = true
	m.core.subsystemFilter = nil
	m.core.tagFilter = nil
	return unix.Close(m.core.fd)
}

// checkOpen returns ErrClosed once the core's last reference has been
// released. EnableReceiving, FilterUpdate, FilterRemove, ReceiveDevice and
// SendDevice consult it first; the other accessors do not.
func (m *Monitor) checkOpen() error {
	m.core.mu.Lock()
	closed := m.core.closed
	m.core.mu.Unlock()
	if closed {
		return ErrClosed
	}
	return nil
}

// GetFD returns the monitor's underlying socket file descriptor, for
// integration into an external readiness/poll loop.
func (m *Monitor) GetFD() int { return m.core.fd }

// GetGroupContext returns the multicast group this monitor joined (or
// was downgraded to).
func (m *Monitor) GetGroupContext() Group { return m.core.group }

// LocalAddr returns the kernel-assigned port-id for this socket. It is
// well-defined once the socket exists for an adopted fd, or after the
// first successful EnableReceiving for a freshly created one.
func (m *Monitor) LocalAddr() uint32 {
	m.core.mu.Lock()
	defer m.core.mu.Unlock()
	return m.core.localAddr
}

// SetReceiveBufferSize sets the kernel socket receive buffer size
// (SO_RCVBUF). This typically requires appropriate privileges to exceed
// the system default ceiling.
func (m *Monitor) SetReceiveBufferSize(size int) error {
	if err := unix.SetsockoptInt(m.core.fd, unix.SOL_SOCKET, unix.SO_RCVBUF, size); err != nil {
		return err
	}
	m.core.mu.Lock()
	m.core.recvBufSizeIsSet = true
	m.core.mu.Unlock()
	return nil
}

// AllowUnicastSender restricts unicast (none-group) acceptance to
// datagrams whose source port matches peer's local address. Passing nil
// clears the restriction, meaning no unicast datagram is ever accepted.
func (m *Monitor) AllowUnicastSender(peer *Monitor) error {
	if peer == nil {
		m.core.mu.Lock()
		m.core.trustedSender = nil
		m.core.mu.Unlock()
		return nil
	}
	return m.SetTrustedSenderAddr(peer.LocalAddr())
}

// SetTrustedSenderAddr is the address-based form of AllowUnicastSender,
// useful when the peer's port is known out of band rather than via
// another live Monitor.
func (m *Monitor) SetTrustedSenderAddr(port uint32) error {
	m.core.mu.Lock()
	m.core.trustedSender = &port
	m.core.mu.Unlock()
	return nil
}

// EnableReceiving compiles and installs the current filter, binds the
// socket to its group if it isn't already bound, reads back the
// kernel-assigned port, and enables receipt of sender credentials. It is
// idempotent with respect to re-enabling an already-bound monitor: only
// the filter reinstall and address readback repeat.
func (m *Monitor) EnableReceiving() error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	if err := m.FilterUpdate(); err != nil {
		return err
	}

	if !m.core.bound {
		sa := &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: uint32(m.core.group)}
		if err := unix.Bind(m.core.fd, sa); err != nil {
			return err
		}
		m.core.bound = true
	}

	sa, err := unix.Getsockname(m.core.fd)
	if err != nil {
		return err
	}
	if nl, ok := sa.(*unix.SockaddrNetlink); ok {
		m.core.mu.Lock()
		m.core.localAddr = nl.Pid
		m.core.mu.Unlock()
	}

	return unix.SetsockoptInt(m.core.fd, unix.SOL_SOCKET, unix.SO_PASSCRED, 1)
}

// FilterAddMatchSubsystemDevtype adds a subsystem match. A nil devtype
// (or FilterAddMatchSubsystem) matches any devtype for that subsystem.
// Adding the same subsystem again replaces its devtype.
func (m *Monitor) FilterAddMatchSubsystemDevtype(subsystem string, devtype string, hasDevtype bool) {
	m.core.mu.Lock()
	defer m.core.mu.Unlock()
	if hasDevtype {
		dt := devtype
		m.core.subsystemFilter[subsystem] = &dt
	} else {
		m.core.subsystemFilter[subsystem] = nil
	}
}

// FilterAddMatchSubsystem is a convenience wrapper for
// FilterAddMatchSubsystemDevtype with no devtype.
func (m *Monitor) FilterAddMatchSubsystem(subsystem string) {
	m.FilterAddMatchSubsystemDevtype(subsystem, "", false)
}

// FilterAddMatchTag adds a tag match. Adding the same tag twice is a
// no-op.
func (m *Monitor) FilterAddMatchTag(tag string) {
	m.core.mu.Lock()
	defer m.core.mu.Unlock()
	m.core.tagFilter[tag] = struct{}{}
}

// FilterUpdate recompiles and reinstalls the socket filter from the
// current subsystem/tag collections. It is a no-op if both are empty,
// leaving any previously installed filter in place (see FilterRemove to
// explicitly clear it).
func (m *Monitor) FilterUpdate() error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	m.core.mu.Lock()
	subs := cloneSubsystemFilter(m.core.subsystemFilter)
	tags := cloneTagFilter(m.core.tagFilter)
	m.core.mu.Unlock()

	if len(subs) == 0 && len(tags) == 0 {
		return nil
	}

	prog, err := compileFilter(subs, tags)
	if err != nil {
		return err
	}
	return attachFilter(m.core.fd, prog)
}

// FilterRemove clears both filter collections and installs a filter that
// accepts everything, which acts as "no filter": every datagram the
// joined group delivers reaches the receive path.
func (m *Monitor) FilterRemove() error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	m.core.mu.Lock()
	m.core.subsystemFilter = make(map[string]*string)
	m.core.tagFilter = make(map[string]struct{})
	m.core.mu.Unlock()
	// An "empty" filter is installed as a single unconditional accept:
	// every datagram the joined group delivers now reaches user space,
	// which is the observable meaning of "no filter" for a socket filter
	// API that otherwise defaults to whatever was last attached.
	return attachFilter(m.core.fd, []unix.SockFilter{bpfStmt(bpfRET|bpfK, 0xffffffff)})
}

func attachFilter(fd int, prog []unix.SockFilter) error {
	return unix.SetsockoptSockFprog(fd, unix.SOL_SOCKET, unix.SO_ATTACH_FILTER, &unix.SockFprog{
		Len:    uint16(len(prog)),
		Filter: &prog[0],
	})
}

func cloneSubsystemFilter(in map[string]*string) map[string]*string {
	out := make(map[string]*string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

func cloneTagFilter(in map[string]struct{}) map[string]struct{} {
	out := make(map[string]struct{}, len(in))
	for k := range in {
		out[k] = struct{}{}
	}
	return out
}

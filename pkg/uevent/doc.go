// Package uevent is a pure Go device-event monitor for the kernel's device
// notification broadcast channel (netlink NETLINK_KOBJECT_UEVENT) and for a
// cooperating user-space device manager's multicast rebroadcast of the same
// events in an extended wire format.
//
// A Monitor owns one netlink datagram socket. It can join the "kernel" group
// to see raw kernel uevents, or the "peer" group to see the privileged device
// manager's processed ("libudev"-framed) events, which carry extra hashes
// used to build an in-kernel socket filter. Subscribers add subsystem/devtype
// and tag filters before calling EnableReceiving; the filter is compiled to a
// classic BPF program and installed on the socket so the kernel can discard
// non-matching datagrams before they wake user space.
//
// The socket is always non-blocking. ReceiveDevice reads datagrams until one
// yields a matching device, and returns ErrAgain once the socket is empty;
// callers that want to wait integrate the file descriptor returned by GetFD
// into their own event loop (epoll, kqueue, a runtime netpoller wrapper, ...).
//
// # Wire compatibility
//
// The header layout (see header.go), the h32 string hash, and the bloom64 tag
// digest are part of a byte-exact wire contract shared with a non-Go peer.
// Changing any of them breaks interoperability silently - code reviewers
// touching hash.go or header.go should check the golden vectors in
// hash_test.go first.
package uevent

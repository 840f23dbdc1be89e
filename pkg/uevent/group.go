package uevent

// Group selects which multicast channel a Monitor joins on the kernel's
// device-event netlink family.
type Group int

const (
	// GroupNone joins no multicast group; the socket only ever receives
	// unicast datagrams from a trusted sender (see AllowUnicastSender).
	GroupNone Group = 0
	// GroupKernel receives raw uevents straight from the kernel.
	GroupKernel Group = 1
	// GroupPeer receives the device manager's rebroadcast ("libudev" framed)
	// events.
	GroupPeer Group = 2
)

func (g Group) String() string {
	switch g {
	case GroupNone:
		return "none"
	case GroupKernel:
		return "kernel"
	case GroupPeer:
		return "peer"
	default:
		return "unknown"
	}
}

// groupFromName parses the "from group name" constructor argument: "",
// "kernel" or "peer". Any other string is an invalid argument.
func groupFromName(name string) (Group, error) {
	switch name {
	case "":
		return GroupNone, nil
	case "kernel":
		return GroupKernel, nil
	case "peer":
		return GroupPeer, nil
	default:
		return GroupNone, &ArgumentError{Msg: "unknown monitor group: " + name}
	}
}

// netlinkKobjectUevent is the netlink protocol family used by the kernel's
// device-event broadcast channel (NETLINK_KOBJECT_UEVENT).
const netlinkKobjectUevent = 15

// magic identifies peer-format ("libudev") datagrams on the wire.
const magic uint32 = 0xfeedcafe

// peerPrefix is the fixed 8-byte prefix of a peer-format header.
const peerPrefix = "libudev\x00"

// minDatagramLen is the minimum length of any datagram accepted by the
// receive path; anything shorter is malformed.
const minDatagramLen = 32

// recvBufSize is the size of the fixed receive buffer used for one
// datagram read.
const recvBufSize = 8192

// maxFilterInstructions is the classic-BPF instruction ceiling the kernel
// enforces for a socket filter program.
const maxFilterInstructions = 512

package uevent

import (
	"errors"

	"golang.org/x/sys/unix"
)

// SendDevice serializes device into a peer-format datagram and transmits
// it either to dest's bound port (unicast) or, if dest is nil, to the
// default destination (the
// peer multicast group). A connection-refused error on the default
// destination means nobody is listening for peer traffic right now; that
// is not a failure the caller needs to act on, so it's swallowed.
func (m *Monitor) SendDevice(dest *Monitor, device Device) error {
	if err := m.checkOpen(); err != nil {
		return err
	}
	properties := device.Properties()
	if len(properties) < 32 {
		return &ArgumentError{Msg: "serialized device properties must be at least 32 bytes"}
	}

	h := &header{
		magic:               magic,
		headerSize:          headerSize,
		propertiesOff:       headerSize,
		propertiesLen:       uint32(len(properties)),
		filterSubsystemHash: h32(device.Subsystem()),
	}
	if devtype, ok := device.Devtype(); ok {
		h.filterDevtypeHash = h32(devtype)
	}

	var bloom uint64
	for _, tag := range device.Tags() {
		bloom |= bloom64(tag)
	}
	h.filterTagBloomHi = uint32(bloom >> 32)
	h.filterTagBloomLo = uint32(bloom)

	datagram := make([]byte, 0, headerSize+len(properties))
	datagram = append(datagram, h.encode()...)
	datagram = append(datagram, properties...)

	var to unix.Sockaddr
	explicit := dest != nil
	if explicit {
		to = &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Pid: dest.LocalAddr()}
	} else {
		to = &unix.SockaddrNetlink{Family: unix.AF_NETLINK, Groups: uint32(GroupPeer)}
	}

	err := unix.Sendto(m.core.fd, datagram, 0, to)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, unix.ECONNREFUSED) {
		// Nobody subscribed to the peer group right now; sending to the
		// default destination is fire-and-forget.
		return nil
	}
	return err
}

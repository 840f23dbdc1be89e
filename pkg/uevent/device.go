package uevent

import (
	"bytes"
	"strings"
)

// Device is the capability surface the monitor needs from a device object.
// The device object library itself (construction from a syspath, property
// database persistence, rule evaluation, ...) is deliberately out of
// scope here; this interface is the seam a real implementation plugs into.
type Device interface {
	// Subsystem returns the device's subsystem, e.g. "block" or "net".
	Subsystem() string
	// Devtype returns the device's devtype and whether one is set at all.
	Devtype() (devtype string, ok bool)
	// Tags returns the device's tag set.
	Tags() []string
	// HasTag reports whether the device carries the given tag.
	HasTag(tag string) bool
	// Properties serializes the device's property set as a sequence of
	// "KEY=VALUE\x00" runs, as required for the wire properties buffer.
	Properties() []byte
	// SetInitialized marks the device as having gone through at least one
	// full udev processing pass. Peer-format messages always carry an
	// initialized device; kernel-format messages never do.
	SetInitialized()
	// Initialized reports the flag set by SetInitialized.
	Initialized() bool
}

// DeviceConstructor builds a Device from a raw properties buffer (a
// sequence of "KEY=VALUE\x00" runs). NewSimpleDevice below is a minimal
// reference implementation used by this package's own tests and suitable
// for callers that have no richer device object library.
type DeviceConstructor func(properties []byte) (Device, error)

// SimpleDevice is a reference Device implementation backed by a parsed
// property map. It recognizes the conventional SUBSYSTEM, DEVTYPE and
// TAGS properties (TAGS is colon-separated, e.g. ":seat:systemd:").
type SimpleDevice struct {
	subsystem   string
	devtype     string
	hasDevtype  bool
	tags        map[string]struct{}
	props       []byte
	initialized bool
}

// NewSimpleDevice parses a NUL-delimited properties buffer into a
// SimpleDevice. It never errors: unparsable lines are skipped, mirroring
// how a permissive real device-object library tolerates stray bytes in a
// datagram it didn't fully control the framing of.
func NewSimpleDevice(properties []byte) (Device, error) {
	d := &SimpleDevice{
		tags:  make(map[string]struct{}),
		props: append([]byte(nil), properties...),
	}
	for _, line := range bytes.Split(properties, []byte{0}) {
		if len(line) == 0 {
			continue
		}
		kv := string(line)
		eq := strings.IndexByte(kv, '=')
		if eq < 1 {
			continue
		}
		key, value := kv[:eq], kv[eq+1:]
		switch key {
		case "SUBSYSTEM":
			d.subsystem = value
		case "DEVTYPE":
			d.devtype, d.hasDevtype = value, true
		case "TAGS":
			for _, tag := range strings.Split(value, ":") {
				if tag != "" {
					d.tags[tag] = struct{}{}
				}
			}
		}
	}
	return d, nil
}

// NewSimpleDeviceFromFields builds a SimpleDevice directly from fields,
// for use by SendDevice callers constructing a synthetic event rather
// than relaying a received one.
func NewSimpleDeviceFromFields(subsystem string, devtype string, tags []string, extra map[string]string) *SimpleDevice {
	d := &SimpleDevice{
		subsystem: subsystem,
		tags:      make(map[string]struct{}, len(tags)),
	}
	if devtype != "" {
		d.devtype, d.hasDevtype = devtype, true
	}
	for _, t := range tags {
		d.tags[t] = struct{}{}
	}

	var buf bytes.Buffer
	writeKV := func(k, v string) {
		buf.WriteString(k)
		buf.WriteByte('=')
		buf.WriteString(v)
		buf.WriteByte(0)
	}
	writeKV("SUBSYSTEM", subsystem)
	if d.hasDevtype {
		writeKV("DEVTYPE", devtype)
	}
	if len(tags) > 0 {
		writeKV("TAGS", ":"+strings.Join(tags, ":")+":")
	}
	for k, v := range extra {
		writeKV(k, v)
	}
	d.props = buf.Bytes()
	return d
}

func (d *SimpleDevice) Subsystem() string { return d.subsystem }

func (d *SimpleDevice) Devtype() (string, bool) { return d.devtype, d.hasDevtype }

func (d *SimpleDevice) Tags() []string {
	tags := make([]string, 0, len(d.tags))
	for t := range d.tags {
		tags = append(tags, t)
	}
	return tags
}

func (d *SimpleDevice) HasTag(tag string) bool {
	_, ok := d.tags[tag]
	return ok
}

func (d *SimpleDevice) Properties() []byte { return d.props }

func (d *SimpleDevice) SetInitialized() { d.initialized = true }

func (d *SimpleDevice) Initialized() bool { return d.initialized }

package uevent

import "encoding/binary"

// headerSize is the fixed, tightly packed size of a peer-format header:
// 40 bytes, no padding.
const headerSize = 40

// Field byte offsets within a peer-format datagram. The BPF filter
// compiler (filter.go) uses these literally, so they must stay in sync
// with encode/decode below.
const (
	offPrefix          = 0
	offMagic           = 8
	offHeaderSize      = 12
	offPropertiesOff   = 16
	offPropertiesLen   = 20
	offSubsystemHash   = 24
	offDevtypeHash     = 28
	offTagBloomHi      = 32
	offTagBloomLo      = 36
)

// header is the peer-format ("libudev") wire header. Fields marked BE
// below are stored big-endian on the wire; the rest (header/offset/
// length bookkeeping) are native byte order, matching what both sides
// read back with their own CPU's endianness since they never cross a
// boundary where that would matter.
type header struct {
	magic                uint32 // BE on wire
	headerSize           uint32
	propertiesOff        uint32
	propertiesLen        uint32
	filterSubsystemHash  uint32 // BE on wire
	filterDevtypeHash    uint32 // BE on wire
	filterTagBloomHi     uint32 // BE on wire
	filterTagBloomLo     uint32 // BE on wire
}

// encode serializes h into a fresh headerSize-byte buffer.
func (h *header) encode() []byte {
	buf := make([]byte, headerSize)
	copy(buf[offPrefix:], peerPrefix)
	binary.BigEndian.PutUint32(buf[offMagic:], h.magic)
	binary.NativeEndian.PutUint32(buf[offHeaderSize:], h.headerSize)
	binary.NativeEndian.PutUint32(buf[offPropertiesOff:], h.propertiesOff)
	binary.NativeEndian.PutUint32(buf[offPropertiesLen:], h.propertiesLen)
	binary.BigEndian.PutUint32(buf[offSubsystemHash:], h.filterSubsystemHash)
	binary.BigEndian.PutUint32(buf[offDevtypeHash:], h.filterDevtypeHash)
	binary.BigEndian.PutUint32(buf[offTagBloomHi:], h.filterTagBloomHi)
	binary.BigEndian.PutUint32(buf[offTagBloomLo:], h.filterTagBloomLo)
	return buf
}

// decodeHeader parses a peer-format header out of buf. The caller must
// already have verified buf starts with the "libudev\0" prefix and is at
// least headerSize bytes long.
func decodeHeader(buf []byte) *header {
	return &header{
		magic:               binary.BigEndian.Uint32(buf[offMagic:]),
		headerSize:          binary.NativeEndian.Uint32(buf[offHeaderSize:]),
		propertiesOff:       binary.NativeEndian.Uint32(buf[offPropertiesOff:]),
		propertiesLen:       binary.NativeEndian.Uint32(buf[offPropertiesLen:]),
		filterSubsystemHash: binary.BigEndian.Uint32(buf[offSubsystemHash:]),
		filterDevtypeHash:   binary.BigEndian.Uint32(buf[offDevtypeHash:]),
		filterTagBloomHi:    binary.BigEndian.Uint32(buf[offTagBloomHi:]),
		filterTagBloomLo:    binary.BigEndian.Uint32(buf[offTagBloomLo:]),
	}
}

// isPeerFormat reports whether buf's prefix field identifies it as a
// peer-format message: the first byte(s) equal the NUL-terminated ASCII
// string "libudev".
func isPeerFormat(buf []byte) bool {
	if len(buf) < len(peerPrefix) {
		return false
	}
	return string(buf[:len(peerPrefix)]) == peerPrefix
}

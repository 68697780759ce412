package array

import "encoding/binary"

// HeaderSize is the fixed 8-byte header every Array carries (spec §3/§6).
const HeaderSize = 8

// WriteType distinguishes packed-width sizing (Normal) from raw-byte sizing
// (Ignore, used by ArrayBlob).
type WriteType uint8

const (
	Normal WriteType = 0
	Ignore WriteType = 1
)

// widthOrder is the required on-disk encoding order for width_schema
// (spec §6: "Width schema encoding order {0,1,2,4,8,16,32,64}").
var widthOrder = [8]int{0, 1, 2, 4, 8, 16, 32, 64}

func widthToSchema(width int) uint8 {
	for i, w := range widthOrder {
		if w == width {
			return uint8(i)
		}
	}
	panic("invalid array width")
}

func schemaToWidth(schema uint8) int {
	if int(schema) >= len(widthOrder) {
		return 64
	}
	return widthOrder[schema]
}

// Header is the unpacked form of the 8-byte Array header.
type Header struct {
	IsLeaf    bool
	HasRefs   bool
	Width     int // one of {0,1,2,4,8,16,32,64}
	WriteType WriteType
	Length    int // element or byte count, per WriteType
	Capacity  int // byte capacity of the payload (excludes the header)
}

// packBits lays out: byte0 = flags+width_schema+write_type, bytes1-3 =
// length (24-bit LE), bytes4-6 = capacity (24-bit LE), byte7 = reserved.
func packBits(h Header) uint8 {
	var b uint8
	if h.IsLeaf {
		b |= 1 << 0
	}
	if h.HasRefs {
		b |= 1 << 1
	}
	b |= widthToSchema(h.Width) << 2
	if h.WriteType == Ignore {
		b |= 1 << 5
	}
	return b
}

// MarshalHeader writes h into the first HeaderSize bytes of buf.
func MarshalHeader(h Header, buf []byte) {
	if len(buf) < HeaderSize {
		panic("buffer too small for array header")
	}
	buf[0] = packBits(h)
	put24(buf[1:4], h.Length)
	put24(buf[4:7], h.Capacity)
	buf[7] = 0
}

// UnmarshalHeader reads a Header from the first HeaderSize bytes of buf.
func UnmarshalHeader(buf []byte) Header {
	b := buf[0]
	return Header{
		IsLeaf:    b&(1<<0) != 0,
		HasRefs:   b&(1<<1) != 0,
		Width:     schemaToWidth((b >> 2) & 0x7),
		WriteType: WriteType((b >> 5) & 0x1),
		Length:    get24(buf[1:4]),
		Capacity:  get24(buf[4:7]),
	}
}

func put24(b []byte, v int) {
	var tmp [4]byte
	binary.LittleEndian.PutUint32(tmp[:], uint32(v))
	copy(b, tmp[:3])
}

func get24(b []byte) int {
	var tmp [4]byte
	copy(tmp[:3], b)
	return int(binary.LittleEndian.Uint32(tmp[:]))
}

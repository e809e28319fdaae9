// Package uartframe defines the fixed-size UART frame format used to ship grayscale
// pixel arrays to the FPGA.
//
// Every frame is FrameSize bytes long and is delimited by Header and Trailer:
//
//	meta: AA 00 W_lo W_hi H_lo H_hi SUM 55
//	data: AA 01 CNT  P1   P2   P3   SUM 55
//
// SUM is the low byte of the sum of bytes 1..5. Width and height are little-endian.
// A sequence is always one meta frame followed by ceil(pixels/3) data frames.
package uartframe

import (
	"errors"
	"fmt"
)

// Wire constants
const (
	Header  byte = 0xAA
	Trailer byte = 0x55

	// FrameSize is the length of every serialized frame
	FrameSize = 8

	// PixelsPerFrame is the payload capacity of a data frame
	PixelsPerFrame = 3

	// MaxDimension is the largest width or height a meta frame can carry
	MaxDimension = 0xFFFF
)

// Kind is the frame type byte (offset 1)
type Kind byte

const (
	KindMeta Kind = 0x00
	KindData Kind = 0x01
)

// String returns the name used in transmission logs
func (k Kind) String() string {
	switch k {
	case KindMeta:
		return "meta"
	case KindData:
		return "data"
	default:
		return fmt.Sprintf("unknown(0x%02X)", byte(k))
	}
}

var (
	ErrDimensionMismatch = errors.New("pixel count does not match width*height")
	ErrInvalidDimensions = errors.New("width and height must be between 1 and 65535")
	ErrFrameLength       = errors.New("invalid frame length")
	ErrSentinel          = errors.New("missing frame sentinel")
	ErrUnknownKind       = errors.New("unknown frame type")
	ErrChecksum          = errors.New("checksum mismatch")
	ErrNoMetaFrame       = errors.New("sequence does not start with a meta frame")
)

// Frame is a single tagged UART record. Width/Height are only meaningful for
// KindMeta; Index/Pixels only for KindData.
type Frame struct {
	Kind   Kind
	Width  uint16
	Height uint16
	Index  uint8
	Pixels [PixelsPerFrame]byte
}

// MetaFrame builds the dimension frame that opens every sequence
func MetaFrame(width, height uint16) Frame {
	return Frame{Kind: KindMeta, Width: width, Height: height}
}

// DataFrame builds a pixel frame
func DataFrame(index uint8, pixels [PixelsPerFrame]byte) Frame {
	return Frame{Kind: KindData, Index: index, Pixels: pixels}
}

// payload returns bytes 1..5, the region covered by the checksum
func (f Frame) payload() [5]byte {
	if f.Kind == KindMeta {
		return [5]byte{
			byte(KindMeta),
			byte(f.Width), byte(f.Width >> 8),
			byte(f.Height), byte(f.Height >> 8),
		}
	}
	return [5]byte{byte(f.Kind), f.Index, f.Pixels[0], f.Pixels[1], f.Pixels[2]}
}

// Checksum returns the low byte of the sum of the type and payload bytes
func (f Frame) Checksum() byte {
	return checksum(f.payload())
}

func checksum(p [5]byte) byte {
	var sum byte
	for _, b := range p {
		sum += b
	}
	return sum
}

// Bytes serializes the frame to its wire form
func (f Frame) Bytes() [FrameSize]byte {
	p := f.payload()
	return [FrameSize]byte{Header, p[0], p[1], p[2], p[3], p[4], checksum(p), Trailer}
}

// AppendTo appends the wire form of f to dst
func (f Frame) AppendTo(dst []byte) []byte {
	b := f.Bytes()
	return append(dst, b[:]...)
}

// String returns the frame as space separated uppercase hex
func (f Frame) String() string {
	b := f.Bytes()
	return FormatHex(b[:])
}

// Sequence is the ordered, immutable output of Encode
type Sequence []Frame

// Meta returns the leading meta frame
func (s Sequence) Meta() (Frame, error) {
	if len(s) == 0 || s[0].Kind != KindMeta {
		return Frame{}, ErrNoMetaFrame
	}
	return s[0], nil
}

// Bytes returns the concatenated wire stream
func (s Sequence) Bytes() []byte {
	out := make([]byte, 0, len(s)*FrameSize)
	for _, f := range s {
		out = f.AppendTo(out)
	}
	return out
}

// Raw returns each frame as its own byte slice, the shape handed to a port
func (s Sequence) Raw() [][]byte {
	out := make([][]byte, len(s))
	for i, f := range s {
		b := f.Bytes()
		out[i] = b[:]
	}
	return out
}

// PixelCount returns width*height as declared by the meta frame
func (s Sequence) PixelCount() int {
	meta, err := s.Meta()
	if err != nil {
		return 0
	}
	return int(meta.Width) * int(meta.Height)
}

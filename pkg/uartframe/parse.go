package uartframe

import "fmt"

// Parse decodes a single wire frame, validating length, sentinels, type and checksum
func Parse(b []byte) (Frame, error) {
	if len(b) != FrameSize {
		return Frame{}, fmt.Errorf("%w: expected %d bytes, got %d", ErrFrameLength, FrameSize, len(b))
	}
	if b[0] != Header || b[FrameSize-1] != Trailer {
		return Frame{}, fmt.Errorf("%w: got %02X..%02X", ErrSentinel, b[0], b[FrameSize-1])
	}

	var f Frame
	switch Kind(b[1]) {
	case KindMeta:
		f = MetaFrame(uint16(b[2])|uint16(b[3])<<8, uint16(b[4])|uint16(b[5])<<8)
	case KindData:
		f = DataFrame(b[2], [PixelsPerFrame]byte{b[3], b[4], b[5]})
	default:
		return Frame{}, fmt.Errorf("%w: 0x%02X", ErrUnknownKind, b[1])
	}

	if want := f.Checksum(); b[6] != want {
		return Frame{}, fmt.Errorf("%w: frame carries %02X, computed %02X", ErrChecksum, b[6], want)
	}

	return f, nil
}

// Decode splits a concatenated wire stream into frames
func Decode(stream []byte) (Sequence, error) {
	if len(stream)%FrameSize != 0 {
		return nil, fmt.Errorf("%w: stream of %d bytes is not a multiple of %d",
			ErrFrameLength, len(stream), FrameSize)
	}

	seq := make(Sequence, 0, len(stream)/FrameSize)
	for off := 0; off < len(stream); off += FrameSize {
		f, err := Parse(stream[off : off+FrameSize])
		if err != nil {
			return nil, fmt.Errorf("frame %d: %w", off/FrameSize+1, err)
		}
		seq = append(seq, f)
	}

	return seq, nil
}

// Reassemble recovers the pixel array and dimensions from a sequence,
// dropping the padding of the final data frame
func Reassemble(seq Sequence) ([]byte, int, int, error) {
	meta, err := seq.Meta()
	if err != nil {
		return nil, 0, 0, err
	}

	width, height := int(meta.Width), int(meta.Height)
	total := width * height
	if want := FrameCount(total); len(seq) != want {
		return nil, 0, 0, fmt.Errorf("%w: %dx%d needs %d frames, got %d",
			ErrDimensionMismatch, width, height, want, len(seq))
	}

	pixels := make([]byte, 0, len(seq[1:])*PixelsPerFrame)
	var index uint8
	for i, f := range seq[1:] {
		index++
		if f.Kind != KindData {
			return nil, 0, 0, fmt.Errorf("frame %d: %w: expected data frame", i+2, ErrUnknownKind)
		}
		if f.Index != index {
			return nil, 0, 0, fmt.Errorf("frame %d: out of order index %d, expected %d", i+2, f.Index, index)
		}
		pixels = append(pixels, f.Pixels[:]...)
	}

	return pixels[:total], width, height, nil
}

package uartframe

import "fmt"

// FrameCount returns the number of frames Encode produces for n pixels
func FrameCount(n int) int {
	return (n+PixelsPerFrame-1)/PixelsPerFrame + 1
}

// Encode converts a row-major grayscale pixel array into a frame sequence.
// The first data frame has index 1; indexes wrap modulo 256. The last data
// frame is zero-padded when the pixel count is not a multiple of three.
func Encode(pixels []byte, width, height int) (Sequence, error) {
	if err := validateDimensions(width, height); err != nil {
		return nil, err
	}
	if width*height != len(pixels) {
		return nil, fmt.Errorf("%w: expected %d (%dx%d), got %d",
			ErrDimensionMismatch, width*height, width, height, len(pixels))
	}

	seq := make(Sequence, 0, FrameCount(len(pixels)))
	seq = append(seq, MetaFrame(uint16(width), uint16(height)))

	var index uint8
	for i := 0; i < len(pixels); i += PixelsPerFrame {
		index++

		var chunk [PixelsPerFrame]byte
		copy(chunk[:], pixels[i:min(i+PixelsPerFrame, len(pixels))])

		seq = append(seq, DataFrame(index, chunk))
	}

	return seq, nil
}

func validateDimensions(width, height int) error {
	if width <= 0 || height <= 0 || width > MaxDimension || height > MaxDimension {
		return fmt.Errorf("%w: got %dx%d", ErrInvalidDimensions, width, height)
	}
	return nil
}

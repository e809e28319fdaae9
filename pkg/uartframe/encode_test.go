package uartframe

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func ramp(n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte(i * 7)
	}
	return out
}

func TestEncode_FrameCount(t *testing.T) {
	for _, tc := range []struct {
		width, height int
	}{
		{1, 1}, {2, 1}, {3, 1}, {4, 1}, {5, 1}, {3, 3}, {7, 11}, {64, 64}, {100, 3},
	} {
		n := tc.width * tc.height
		seq, err := Encode(ramp(n), tc.width, tc.height)
		require.NoError(t, err)
		require.Len(t, seq, (n+2)/3+1, "%dx%d", tc.width, tc.height)
		require.Equal(t, FrameCount(n), len(seq))
	}
}

func TestEncode_64x64(t *testing.T) {
	seq, err := Encode(ramp(4096), 64, 64)
	require.NoError(t, err)
	require.Len(t, seq, 1367)
	require.Equal(t, "AA 00 40 00 40 00 80 55", seq[0].String())
	require.Equal(t, 4096, seq.PixelCount())
}

func TestEncode_PadsLastFrame(t *testing.T) {
	seq, err := Encode([]byte{1, 2, 3, 4, 5}, 5, 1)
	require.NoError(t, err)
	require.Len(t, seq, 3)

	require.Equal(t, "AA 00 05 00 01 00 06 55", seq[0].String())
	require.Equal(t, "AA 01 01 01 02 03 08 55", seq[1].String())
	require.Equal(t, "AA 01 02 04 05 00 0C 55", seq[2].String())
	require.Equal(t, byte(0x00), seq[2].Pixels[2])
}

func TestEncode_ChecksumRule(t *testing.T) {
	seq, err := Encode(ramp(300), 20, 15)
	require.NoError(t, err)

	for i, f := range seq {
		b := f.Bytes()
		require.Len(t, b, FrameSize)
		require.Equal(t, Header, b[0], "frame %d", i)
		require.Equal(t, Trailer, b[FrameSize-1], "frame %d", i)

		var sum int
		for _, v := range b[1 : FrameSize-2] {
			sum += int(v)
		}
		require.Equal(t, byte(sum%256), b[FrameSize-2], "frame %d", i)
	}
}

func TestEncode_Deterministic(t *testing.T) {
	pixels := ramp(1000)
	a, err := Encode(pixels, 40, 25)
	require.NoError(t, err)
	b, err := Encode(pixels, 40, 25)
	require.NoError(t, err)

	require.True(t, bytes.Equal(a.Bytes(), b.Bytes()))
}

func TestEncode_IndexWraps(t *testing.T) {
	seq, err := Encode(ramp(771), 771, 1)
	require.NoError(t, err)
	require.Len(t, seq, 258)

	require.Equal(t, uint8(1), seq[1].Index)
	require.Equal(t, uint8(255), seq[255].Index)
	require.Equal(t, uint8(0), seq[256].Index)
	require.Equal(t, uint8(1), seq[257].Index)
}

func TestEncode_DimensionMismatch(t *testing.T) {
	_, err := Encode(ramp(10), 3, 3)
	require.ErrorIs(t, err, ErrDimensionMismatch)
}

func TestEncode_InvalidDimensions(t *testing.T) {
	// an empty image has no meta frame to describe it
	_, err := Encode(nil, 0, 0)
	require.ErrorIs(t, err, ErrInvalidDimensions)

	_, err = Encode(ramp(70000), 70000, 1)
	require.ErrorIs(t, err, ErrInvalidDimensions)
}

func TestSequence_Raw(t *testing.T) {
	seq, err := Encode(ramp(6), 3, 2)
	require.NoError(t, err)

	raw := seq.Raw()
	require.Len(t, raw, 3)
	require.Equal(t, seq.Bytes(), bytes.Join(raw, nil))
}

func TestStats(t *testing.T) {
	st := Stats([]byte{10, 0, 255, 35})
	require.Equal(t, 4, st.Count)
	require.Equal(t, byte(0), st.Min)
	require.Equal(t, byte(255), st.Max)
	require.InDelta(t, 75.0, st.Mean, 1e-9)

	require.Equal(t, PixelStats{}, Stats(nil))
}

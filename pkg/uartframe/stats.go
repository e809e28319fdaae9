package uartframe

// PixelStats summarizes a pixel array for operators before sending
type PixelStats struct {
	Count int     `json:"pixel_count"`
	Min   byte    `json:"min_value"`
	Max   byte    `json:"max_value"`
	Mean  float64 `json:"avg_value"`
}

// Stats computes PixelStats. An empty array yields the zero value.
func Stats(pixels []byte) PixelStats {
	if len(pixels) == 0 {
		return PixelStats{}
	}

	st := PixelStats{Count: len(pixels), Min: pixels[0], Max: pixels[0]}
	var sum int
	for _, p := range pixels {
		st.Min = min(st.Min, p)
		st.Max = max(st.Max, p)
		sum += int(p)
	}
	st.Mean = float64(sum) / float64(len(pixels))

	return st
}

package command

import (
	"fmt"

	"github.com/thereceipt/uart-link/internal/rate"
	"github.com/thereceipt/uart-link/pkg/uartframe"
)

// DataInfo describes the image being sent
type DataInfo struct {
	Width  int `json:"width"`
	Height int `json:"height"`
	uartframe.PixelStats
}

// Preview is everything an operator sees before confirming a transmission
type Preview struct {
	Sequence uartframe.Sequence
	Info     DataInfo
	Rate     rate.Result
	Baud     int
}

// BuildPreview encodes the payload and estimates its send interval at baud
func BuildPreview(p *PixelPayload, baud int, mode rate.Mode) (*Preview, error) {
	pixels, err := p.Bytes()
	if err != nil {
		return nil, err
	}

	seq, err := uartframe.Encode(pixels, p.Width, p.Height)
	if err != nil {
		return nil, fmt.Errorf("failed to encode frames: %w", err)
	}

	est, err := rate.Estimate(baud, len(seq), mode)
	if err != nil {
		return nil, fmt.Errorf("failed to estimate rate: %w", err)
	}

	return &Preview{
		Sequence: seq,
		Info:     DataInfo{Width: p.Width, Height: p.Height, PixelStats: uartframe.Stats(pixels)},
		Rate:     est,
		Baud:     baud,
	}, nil
}

// Map renders the preview for a Result. limit caps the hex frames included;
// limit <= 0 includes every frame.
func (p *Preview) Map(limit int) map[string]interface{} {
	n := len(p.Sequence)
	if limit > 0 && limit < n {
		n = limit
	}
	frames := make([]string, n)
	for i, f := range p.Sequence[:n] {
		frames[i] = f.String()
	}

	return map[string]interface{}{
		"frame_count":        len(p.Sequence),
		"uart_frame_preview": frames,
		"data_info":          p.Info,
		"rate":               p.Rate,
		"baudrate":           p.Baud,
	}
}

// Summary is the confirmation prompt text
func (p *Preview) Summary() string {
	return fmt.Sprintf("%dx%d image, %d pixels in %d frames. ~%.1f ms on the wire at %d bps, sending every %d ms (%s)",
		p.Info.Width, p.Info.Height, p.Info.Count, len(p.Sequence),
		p.Rate.TheoreticalTotalMS, p.Baud, p.Rate.IntervalMS, p.Rate.Mode)
}

package command

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// PixelPayload is a grayscale image as the operator UI submits it: a flat row-major
// array of 0-255 values with its dimensions
type PixelPayload struct {
	Width  int   `json:"width"`
	Height int   `json:"height"`
	Array  []int `json:"array"`
}

// Bytes validates every value and returns the pixels as bytes
func (p *PixelPayload) Bytes() ([]byte, error) {
	if len(p.Array) == 0 || p.Width <= 0 || p.Height <= 0 {
		return nil, fmt.Errorf("invalid pixel payload: width, height and array are required")
	}

	out := make([]byte, len(p.Array))
	for i, v := range p.Array {
		if v < 0 || v > 255 {
			return nil, fmt.Errorf("pixel %d out of range: %d (must be 0-255)", i, v)
		}
		out[i] = byte(v)
	}
	return out, nil
}

// LoadPixels reads a payload from a URL, a .json file, or a raw 8-bit grayscale file.
// Raw files need size in WxH form.
func LoadPixels(ref string, size string) (*PixelPayload, error) {
	if strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://") {
		return loadPixelsFromURL(ref)
	}

	data, err := os.ReadFile(ref)
	if err != nil {
		return nil, fmt.Errorf("failed to read pixel file: %w", err)
	}

	if strings.EqualFold(filepath.Ext(ref), ".json") {
		return parsePixelJSON(data)
	}

	w, h, err := parseSize(size)
	if err != nil {
		return nil, err
	}
	p := &PixelPayload{Width: w, Height: h, Array: make([]int, len(data))}
	for i, b := range data {
		p.Array[i] = int(b)
	}
	return p, nil
}

func parsePixelJSON(data []byte) (*PixelPayload, error) {
	var p PixelPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse pixel JSON: %w", err)
	}
	return &p, nil
}

// loadPixelsFromURL loads a pixel payload from a URL
func loadPixelsFromURL(url string) (*PixelPayload, error) {
	resp, err := http.Get(url)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch pixels from URL: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("failed to fetch pixels: HTTP %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	return parsePixelJSON(data)
}

// parseSize parses "64x64"
func parseSize(s string) (int, int, error) {
	if s == "" {
		return 0, 0, fmt.Errorf("raw pixel files need --size WxH")
	}
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size: %s (expected WxH)", s)
	}
	w, err1 := strconv.Atoi(ws)
	h, err2 := strconv.Atoi(hs)
	if err1 != nil || err2 != nil || w <= 0 || h <= 0 {
		return 0, 0, fmt.Errorf("invalid size: %s (expected WxH)", s)
	}
	return w, h, nil
}

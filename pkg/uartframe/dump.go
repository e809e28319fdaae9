package uartframe

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"strings"
)

// FormatHex renders bytes as "AA 01 02 ..."
func FormatHex(b []byte) string {
	var sb strings.Builder
	sb.Grow(len(b) * 3)
	for i, v := range b {
		if i > 0 {
			sb.WriteByte(' ')
		}
		fmt.Fprintf(&sb, "%02X", v)
	}
	return sb.String()
}

// Dump writes one hex frame per line. limit <= 0 dumps the whole sequence.
func Dump(seq Sequence, limit int) string {
	n := len(seq)
	if limit > 0 && limit < n {
		n = limit
	}

	var sb strings.Builder
	for _, f := range seq[:n] {
		sb.WriteString(f.String())
		sb.WriteByte('\n')
	}
	return sb.String()
}

// ParseDump reads a hex dump produced by Dump (or pasted by an operator) back into frames.
// Blank lines and lines starting with '#' are skipped.
func ParseDump(text string) (Sequence, error) {
	var seq Sequence

	scanner := bufio.NewScanner(strings.NewReader(text))
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" || strings.HasPrefix(raw, "#") {
			continue
		}

		b, err := hex.DecodeString(strings.ReplaceAll(raw, " ", ""))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}

		f, err := Parse(b)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		seq = append(seq, f)
	}

	if err := scanner.Err(); err != nil {
		return nil, err
	}

	return seq, nil
}

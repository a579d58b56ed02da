package codec

import (
	"fmt"
	"math"
	"strings"
	"unicode/utf8"
)

// EncodePayload maps the first L characters of s to code/255; the remaining
// positions stay zero. Longer strings are truncated.
func (c *Codec) EncodePayload(s string) Tensor {
	out := NewTensor(c.PayloadShape()...)
	i := 0
	for _, r := range s {
		if i >= c.payloadLen {
			break
		}
		out.Data[i] = float32(r) / 255
		i++
	}
	return out
}

// DecodePayload reads L positions and maps round(v*255) back to characters.
// A zero code contributes nothing, wherever it occurs, so a character that
// legitimately encodes to zero is lost. Codes that are not valid code points
// decode to utf8.RuneError.
func (c *Codec) DecodePayload(t Tensor) (string, error) {
	if t.Len() < c.payloadLen {
		return "", fmt.Errorf("payload needs %d elements, have %d: %w", c.payloadLen, t.Len(), ErrInvalidOutput)
	}
	var sb strings.Builder
	for _, v := range t.Data[:c.payloadLen] {
		code := math.Round(float64(v) * 255)
		if code == 0 || math.IsNaN(code) {
			continue
		}
		if code < 0 || code > utf8.MaxRune {
			sb.WriteRune(utf8.RuneError)
			continue
		}
		sb.WriteRune(rune(code))
	}
	return sb.String(), nil
}

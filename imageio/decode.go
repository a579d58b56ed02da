// Package imageio turns encoded image bytes into the square rasters the
// watermark codec expects, and writes results back out as PNG.
package imageio

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	"image/png"
	"io"
	"strings"

	_ "image/gif"
	_ "image/jpeg"

	_ "golang.org/x/image/webp"
)

// Decode reads an image and returns it with the detected format name.
func Decode(r io.Reader) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil {
		return nil, "", fmt.Errorf("decode image: %w", err)
	}
	return img, format, nil
}

func DecodeBytes(data []byte) (image.Image, string, error) {
	if len(data) == 0 {
		return nil, "", fmt.Errorf("decode image: empty input")
	}
	return Decode(bytes.NewReader(data))
}

// Base64Bytes decodes plain base64 or a data URL into raw bytes.
func Base64Bytes(input string) ([]byte, error) {
	data, err := base64.StdEncoding.DecodeString(stripDataPrefix(strings.TrimSpace(input)))
	if err != nil {
		return nil, fmt.Errorf("decode base64: %w", err)
	}
	return data, nil
}

// DecodeBase64 accepts plain base64 or a data URL.
func DecodeBase64(input string) (image.Image, string, error) {
	data, err := Base64Bytes(input)
	if err != nil {
		return nil, "", err
	}
	return DecodeBytes(data)
}

func stripDataPrefix(input string) string {
	if strings.HasPrefix(strings.ToLower(input), "data:") {
		if idx := strings.Index(input, ","); idx != -1 {
			return input[idx+1:]
		}
	}
	return input
}

func EncodePNG(w io.Writer, img image.Image) error {
	return png.Encode(w, img)
}

func EncodePNGBytes(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode png: %w", err)
	}
	return buf.Bytes(), nil
}

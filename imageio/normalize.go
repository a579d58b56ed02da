package imageio

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"
)

// SquareCrop returns the centred square of side min(w, h).
func SquareCrop(b image.Rectangle) image.Rectangle {
	w, h := b.Dx(), b.Dy()
	edge := w
	if h < edge {
		edge = h
	}
	x := b.Min.X + (w-edge)/2
	y := b.Min.Y + (h-edge)/2
	return image.Rect(x, y, x+edge, y+edge)
}

// Normalize centre-crops img to a square and rescales it bilinearly to
// size×size. The result is always a fresh opaque *image.NRGBA.
func Normalize(img image.Image, size int) (*image.NRGBA, error) {
	if img == nil {
		return nil, fmt.Errorf("nil image provided")
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", size)
	}
	b := img.Bounds()
	if b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("invalid image dimensions %dx%d", b.Dx(), b.Dy())
	}
	crop := SquareCrop(b)
	dst := image.NewNRGBA(image.Rect(0, 0, size, size))
	if crop.Dx() == size {
		draw.Draw(dst, dst.Rect, img, crop.Min, draw.Src)
	} else {
		draw.BiLinear.Scale(dst, dst.Rect, img, crop, draw.Src, nil)
	}
	for i := 3; i < len(dst.Pix); i += 4 {
		dst.Pix[i] = 0xff
	}
	return dst, nil
}

// LoadNormalized decodes bytes and normalizes them in one step.
func LoadNormalized(data []byte, size int) (*image.NRGBA, error) {
	img, _, err := DecodeBytes(data)
	if err != nil {
		return nil, err
	}
	return Normalize(img, size)
}

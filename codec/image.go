package codec

import (
	"fmt"
	"image"
	"image/color"
	"math"
)

// EncodeImage converts an S×S image into a [1,3,S,S] tensor with values in
// [0,1]. Channel values are read non-premultiplied.
func (c *Codec) EncodeImage(img image.Image) (Tensor, error) {
	if img == nil {
		return Tensor{}, fmt.Errorf("nil image: %w", ErrShapeMismatch)
	}
	b := img.Bounds()
	if b.Dx() != c.size || b.Dy() != c.size {
		return Tensor{}, fmt.Errorf("image is %dx%d, want %dx%d: %w", b.Dx(), b.Dy(), c.size, c.size, ErrShapeMismatch)
	}
	out := NewTensor(c.ImageShape()...)
	plane := c.size * c.size
	if src, ok := img.(*image.NRGBA); ok {
		for y := 0; y < c.size; y++ {
			row := src.Pix[src.PixOffset(b.Min.X, b.Min.Y+y):]
			for x := 0; x < c.size; x++ {
				i := y*c.size + x
				out.Data[i] = float32(row[x*4]) / 255
				out.Data[plane+i] = float32(row[x*4+1]) / 255
				out.Data[2*plane+i] = float32(row[x*4+2]) / 255
			}
		}
		return out, nil
	}
	for y := 0; y < c.size; y++ {
		for x := 0; x < c.size; x++ {
			px := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := y*c.size + x
			out.Data[i] = float32(px.R) / 255
			out.Data[plane+i] = float32(px.G) / 255
			out.Data[2*plane+i] = float32(px.B) / 255
		}
	}
	return out, nil
}

// DecodeImage converts a [1,3,S,S] tensor back into an opaque S×S image.
// Elements past 3*S*S are ignored.
func (c *Codec) DecodeImage(t Tensor) (*image.NRGBA, error) {
	if t.Len() < c.imageElements() {
		return nil, fmt.Errorf("need %d elements for a %dx%d image, have %d: %w",
			c.imageElements(), c.size, c.size, t.Len(), ErrShapeMismatch)
	}
	img := image.NewNRGBA(image.Rect(0, 0, c.size, c.size))
	plane := c.size * c.size
	for i := 0; i < plane; i++ {
		p := img.Pix[i*4 : i*4+4 : i*4+4]
		p[0] = denormalize(t.Data[i])
		p[1] = denormalize(t.Data[plane+i])
		p[2] = denormalize(t.Data[2*plane+i])
		p[3] = 0xff
	}
	return img, nil
}

// denormalize rounds half away from zero, then clamps to [0,255].
func denormalize(v float32) uint8 {
	r := math.Round(float64(v) * 255)
	switch {
	case math.IsNaN(r), r <= 0:
		return 0
	case r >= 255:
		return 255
	}
	return uint8(r)
}

package imageio

import (
	"bytes"
	"encoding/base64"
	"image"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.NRGBA) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

func pngBytes(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func TestSquareCrop(t *testing.T) {
	assert.Equal(t, image.Rect(20, 0, 80, 60), SquareCrop(image.Rect(0, 0, 100, 60)))
	assert.Equal(t, image.Rect(0, 15, 40, 55), SquareCrop(image.Rect(0, 0, 40, 71)))
	assert.Equal(t, image.Rect(5, 5, 15, 15), SquareCrop(image.Rect(5, 5, 15, 15)))
}

func TestNormalize_CropsCentre(t *testing.T) {
	// left and right thirds red, centre green; a centre crop keeps only green
	img := solid(90, 30, color.NRGBA{R: 255, A: 255})
	for y := 0; y < 30; y++ {
		for x := 30; x < 60; x++ {
			img.SetNRGBA(x, y, color.NRGBA{G: 255, A: 255})
		}
	}
	out, err := Normalize(img, 30)
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 30, 30), out.Bounds())
	for i := 0; i < len(out.Pix); i += 4 {
		require.Equal(t, []uint8{0, 255, 0, 255}, out.Pix[i:i+4], "pixel %d", i/4)
	}
}

func TestNormalize_Rescales(t *testing.T) {
	out, err := Normalize(solid(800, 600, color.NRGBA{R: 10, G: 20, B: 30, A: 255}), 400)
	require.NoError(t, err)
	assert.Equal(t, 400, out.Bounds().Dx())
	assert.Equal(t, 400, out.Bounds().Dy())
	assert.Equal(t, color.NRGBA{R: 10, G: 20, B: 30, A: 255}, out.NRGBAAt(200, 200))
}

func TestNormalize_Invalid(t *testing.T) {
	_, err := Normalize(nil, 10)
	assert.Error(t, err)
	_, err = Normalize(solid(4, 4, color.NRGBA{}), 0)
	assert.Error(t, err)
	_, err = Normalize(image.NewNRGBA(image.Rect(0, 0, 0, 5)), 10)
	assert.Error(t, err)
}

func TestDecodeBytesAndBase64(t *testing.T) {
	data := pngBytes(t, solid(3, 2, color.NRGBA{B: 200, A: 255}))

	img, format, err := DecodeBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	assert.Equal(t, image.Rect(0, 0, 3, 2), img.Bounds())

	b64 := base64.StdEncoding.EncodeToString(data)
	_, format, err = DecodeBase64("data:image/png;base64," + b64)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	_, _, err = DecodeBase64(b64)
	require.NoError(t, err)

	_, _, err = DecodeBytes(nil)
	assert.Error(t, err)
	_, _, err = DecodeBytes([]byte("not an image"))
	assert.Error(t, err)
	_, _, err = DecodeBase64("%%%")
	assert.Error(t, err)
}

func TestLoadNormalizedAndEncodePNG(t *testing.T) {
	out, err := LoadNormalized(pngBytes(t, solid(20, 10, color.NRGBA{R: 1, G: 2, B: 3, A: 255})), 8)
	require.NoError(t, err)
	data, err := EncodePNGBytes(out)
	require.NoError(t, err)

	back, format, err := DecodeBytes(data)
	require.NoError(t, err)
	assert.Equal(t, "png", format)
	r, g, b, _ := back.At(4, 4).RGBA()
	assert.Equal(t, []uint32{1, 2, 3}, []uint32{r >> 8, g >> 8, b >> 8})
}

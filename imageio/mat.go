package imageio

import (
	"errors"
	"fmt"
	"image"

	"gocv.io/x/gocv"
)

// DecodeMat decodes encoded bytes with OpenCV. The caller closes the Mat.
func DecodeMat(data []byte) (gocv.Mat, error) {
	mat, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		return gocv.NewMat(), err
	}
	if mat.Empty() {
		// IMDecode returns an empty Mat for unsupported input
		if err := mat.Close(); err != nil {
			return gocv.NewMat(), err
		}
		return gocv.NewMat(), errors.New("decoded image is empty or unsupported format")
	}
	return mat, nil
}

// NormalizeMat centre-crops a BGR Mat, resizes it bilinearly to size×size
// and returns it as an opaque RGB image.
func NormalizeMat(mat gocv.Mat, size int) (*image.NRGBA, error) {
	if mat.Empty() {
		return nil, errors.New("empty mat")
	}
	if size <= 0 {
		return nil, fmt.Errorf("invalid target size %d", size)
	}
	crop := SquareCrop(image.Rect(0, 0, mat.Cols(), mat.Rows()))
	region := mat.Region(crop)
	defer region.Close()

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(region, &resized, image.Pt(size, size), 0, 0, gocv.InterpolationLinear)

	img, err := resized.ToImage()
	if err != nil {
		return nil, fmt.Errorf("mat to image: %w", err)
	}
	out := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			r, g, b, _ := img.At(x, y).RGBA()
			i := out.PixOffset(x, y)
			out.Pix[i] = uint8(r >> 8)
			out.Pix[i+1] = uint8(g >> 8)
			out.Pix[i+2] = uint8(b >> 8)
			out.Pix[i+3] = 0xff
		}
	}
	return out, nil
}

// LoadNormalizedMat is the OpenCV counterpart of LoadNormalized.
func LoadNormalizedMat(data []byte, size int) (*image.NRGBA, error) {
	mat, err := DecodeMat(data)
	if err != nil {
		return nil, err
	}
	defer mat.Close()
	return NormalizeMat(mat, size)
}

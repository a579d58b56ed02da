package codec

import (
	"fmt"
	"image"
)

// AddResidual returns clamp(input+residual, 0, 1) elementwise. The result is a
// fresh buffer carrying the input's shape.
func AddResidual(input, residual Tensor) (Tensor, error) {
	if input.Len() != residual.Len() {
		return Tensor{}, fmt.Errorf("residual add: %d vs %d elements: %w", input.Len(), residual.Len(), ErrShapeMismatch)
	}
	out := Tensor{Shape: append([]int64(nil), input.Shape...), Data: make([]float32, input.Len())}
	for i, v := range input.Data {
		out.Data[i] = clamp01(v + residual.Data[i])
	}
	return out, nil
}

// Scale multiplies every element by factor and clamps to [0,1].
func Scale(t Tensor, factor float32) Tensor {
	out := Tensor{Shape: append([]int64(nil), t.Shape...), Data: make([]float32, t.Len())}
	for i, v := range t.Data {
		out.Data[i] = clamp01(v * factor)
	}
	return out
}

// VisualizeResidual amplifies a residual so it becomes visible and renders it
// as an image. A non-positive factor selects DefaultResidualScale.
func (c *Codec) VisualizeResidual(residual Tensor, factor float32) (*image.NRGBA, error) {
	if factor <= 0 {
		factor = DefaultResidualScale
	}
	return c.DecodeImage(Scale(residual, factor))
}

func clamp01(v float32) float32 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

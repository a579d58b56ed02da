// Package codec converts square RGB rasters and watermark strings to and from
// the flat float32 buffers consumed and produced by the watermark models.
//
// Image tensors are laid out channel-major then row-major: all S*S red values,
// then all green, then all blue. Element c*S*S + y*S + x holds channel c of
// pixel (x, y) divided by 255.
package codec

import (
	"errors"
	"fmt"
)

const (
	DefaultImageSize     = 400
	DefaultPayloadLength = 32
	DefaultResidualScale = float32(5.0)
	Channels             = 3
)

var (
	ErrShapeMismatch = errors.New("tensor shape mismatch")
	ErrInvalidOutput = errors.New("invalid model output")
)

// Tensor is a flat float32 buffer with its logical shape.
type Tensor struct {
	Shape []int64
	Data  []float32
}

// NewTensor allocates a zeroed tensor for the given shape.
func NewTensor(shape ...int64) Tensor {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	if n < 0 {
		n = 0
	}
	return Tensor{Shape: append([]int64(nil), shape...), Data: make([]float32, n)}
}

// Len returns the number of elements held in Data.
func (t Tensor) Len() int {
	return len(t.Data)
}

// Clone returns a deep copy.
func (t Tensor) Clone() Tensor {
	return Tensor{
		Shape: append([]int64(nil), t.Shape...),
		Data:  append([]float32(nil), t.Data...),
	}
}

func (t Tensor) String() string {
	return fmt.Sprintf("Tensor%v(%d elements)", t.Shape, len(t.Data))
}

// Config fixes the raster edge length and the payload length a model pair was
// trained with.
type Config struct {
	ImageSize     int
	PayloadLength int
}

func DefaultConfig() Config {
	return Config{ImageSize: DefaultImageSize, PayloadLength: DefaultPayloadLength}
}

// Codec holds the fixed geometry; it has no mutable state and is safe for
// concurrent use.
type Codec struct {
	size       int
	payloadLen int
}

func New(cfg Config) (*Codec, error) {
	if cfg.ImageSize <= 0 {
		return nil, fmt.Errorf("image size must be positive, got %d", cfg.ImageSize)
	}
	if cfg.PayloadLength <= 0 {
		return nil, fmt.Errorf("payload length must be positive, got %d", cfg.PayloadLength)
	}
	return &Codec{size: cfg.ImageSize, payloadLen: cfg.PayloadLength}, nil
}

func (c *Codec) ImageSize() int {
	return c.size
}

func (c *Codec) PayloadLength() int {
	return c.payloadLen
}

// ImageShape is [1, 3, S, S].
func (c *Codec) ImageShape() []int64 {
	s := int64(c.size)
	return []int64{1, Channels, s, s}
}

// PayloadShape is [1, L].
func (c *Codec) PayloadShape() []int64 {
	return []int64{1, int64(c.payloadLen)}
}

func (c *Codec) imageElements() int {
	return Channels * c.size * c.size
}

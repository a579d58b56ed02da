package iface

import (
	"image"

	"OnnxMarkServer/codec"
)

// Inferer runs one forward pass of an opaque model.
type Inferer interface {
	Infer(inputs ...codec.Tensor) (codec.Tensor, error)
}

// EmbedStrategy turns a cover tensor and a payload tensor into a watermarked
// image tensor using the encoder it is given.
type EmbedStrategy interface {
	Name() string
	Embed(encoder Inferer, cover, payload codec.Tensor) (codec.Tensor, error)
}

// Backend is a loaded encoder/detector pair. Images passed in must already be
// ImageSize()×ImageSize().
type Backend interface {
	Embed(img image.Image, text string) (*image.NRGBA, error)
	EmbedAndVerify(img image.Image, text string) (*image.NRGBA, string, error)
	Detect(img image.Image) (bool, error)
	ExtractPayload(img image.Image) (string, error)
	Residual(img image.Image, scale float32) (*image.NRGBA, error)
	ImageSize() int
	CheckConfig() EngineConfig
	Destroy()
}

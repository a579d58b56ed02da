package engine

import (
	"fmt"

	"OnnxMarkServer/codec"
	iface "OnnxMarkServer/interface"
)

const (
	StrategyResidualAdd = "ResidualAdd"
	StrategyDirectEmbed = "DirectEmbed"
)

// ResidualAdd drives a single-input encoder that returns a perturbation; the
// watermarked image is clamp(cover+residual). The payload is not used.
type ResidualAdd struct{}

func (ResidualAdd) Name() string { return StrategyResidualAdd }

func (ResidualAdd) Embed(encoder iface.Inferer, cover, _ codec.Tensor) (codec.Tensor, error) {
	residual, err := encoder.Infer(cover)
	if err != nil {
		return codec.Tensor{}, err
	}
	return codec.AddResidual(cover, residual)
}

// DirectEmbed drives a two-input encoder (image, payload) that returns the
// finished image.
type DirectEmbed struct{}

func (DirectEmbed) Name() string { return StrategyDirectEmbed }

func (DirectEmbed) Embed(encoder iface.Inferer, cover, payload codec.Tensor) (codec.Tensor, error) {
	return encoder.Infer(cover, payload)
}

// SelectStrategy picks the embedding strategy from the encoder's input count.
func SelectStrategy(inputs int) (iface.EmbedStrategy, error) {
	switch inputs {
	case 1:
		return ResidualAdd{}, nil
	case 2:
		return DirectEmbed{}, nil
	default:
		return nil, fmt.Errorf("%w: encoder with %d inputs", ErrUnsupportedOperation, inputs)
	}
}

// SelectDetectorKind infers whether a detector classifies (two logits) or
// decodes a payload (L values) from its declared output shape.
func SelectDetectorKind(output []int64, payloadLen int) (string, error) {
	n := int64(1)
	for _, d := range output {
		if d > 0 {
			n *= d
		}
	}
	switch {
	case n == 2 && payloadLen != 2:
		return iface.DetectorClassify, nil
	case n == int64(payloadLen):
		return iface.DetectorDecode, nil
	default:
		return "", fmt.Errorf("%w: detector output %v is neither 2 logits nor %d payload values", ErrUnsupportedOperation, output, payloadLen)
	}
}

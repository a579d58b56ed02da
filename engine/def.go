package engine

import (
	"errors"
	"fmt"

	"OnnxMarkServer/codec"
	iface "OnnxMarkServer/interface"
)

const UNREGISTERED = 0x0001
const REGISTERED = 0x0002
const IDLE = 0x0003
const BUSY = 0x0004
const SingleThread = 0x1001
const MultiThread = 0x1002

var ErrUnsupportedOperation = errors.New("operation not supported by this engine")

// EngineParam describes one encoder/detector pair to load.
type EngineParam struct {
	Description   string  `yaml:"description" json:"description"`
	EncoderPath   string  `yaml:"encoderPath" json:"encoderPath"`
	DetectorPath  string  `yaml:"detectorPath" json:"detectorPath"`
	DetectorKind  string  `yaml:"detectorKind" json:"detectorKind"`
	ImageSize     int     `yaml:"imageSize" json:"imageSize"`
	PayloadLength int     `yaml:"payloadLength" json:"payloadLength"`
	ResidualScale float32 `yaml:"residualScale" json:"residualScale"`
}

func (p *EngineParam) SetDefaults() {
	if p.ImageSize == 0 {
		p.ImageSize = codec.DefaultImageSize
	}
	if p.PayloadLength == 0 {
		p.PayloadLength = codec.DefaultPayloadLength
	}
	if p.ResidualScale == 0 {
		p.ResidualScale = codec.DefaultResidualScale
	}
}

func (p EngineParam) Validate() error {
	if p.EncoderPath == "" {
		return fmt.Errorf("encoder path cannot be empty")
	}
	if p.DetectorPath == "" {
		return fmt.Errorf("detector path cannot be empty")
	}
	switch p.DetectorKind {
	case "", iface.DetectorClassify, iface.DetectorDecode:
	default:
		return fmt.Errorf("unknown detector kind %q", p.DetectorKind)
	}
	if p.ImageSize < 0 || p.PayloadLength < 0 {
		return fmt.Errorf("image size and payload length must be positive")
	}
	if p.ResidualScale < 0 {
		return fmt.Errorf("residual scale must not be negative, got %f", p.ResidualScale)
	}
	return nil
}

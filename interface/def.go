package iface

import "errors"

// ErrInferenceUnavailable marks failures of the model itself: not loaded,
// runtime missing, or the run rejected the inputs.
var ErrInferenceUnavailable = errors.New("inference unavailable")

const (
	DetectorClassify = "classify"
	DetectorDecode   = "decode"
)

type ModelConfig struct {
	ModelPath   string    `json:"modelPath"`
	InputNames  []string  `json:"inputNames"`
	OutputNames []string  `json:"outputNames"`
	InputShapes [][]int64 `json:"inputShapes"`
}

type EngineConfig struct {
	Description   string      `json:"description"`
	Encoder       ModelConfig `json:"encoder"`
	Detector      ModelConfig `json:"detector"`
	DetectorKind  string      `json:"detectorKind"`
	Strategy      string      `json:"strategy"`
	ImageSize     int         `json:"imageSize"`
	PayloadLength int         `json:"payloadLength"`
	ResidualScale float32     `json:"residualScale"`
	UseGPU        bool        `json:"useGpu"`
}

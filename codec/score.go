package codec

import "fmt"

const (
	StatusDetected    = "Watermark Detected"
	StatusNotDetected = "Watermark Not Detected"
)

// InterpretDetection reads a two-logit classifier output. The watermark is
// present iff out[1] > out[0]; ties count as absent. No softmax is applied.
func InterpretDetection(out Tensor) (bool, error) {
	if out.Len() < 2 {
		return false, fmt.Errorf("detector returned %d elements, need 2: %w", out.Len(), ErrInvalidOutput)
	}
	return out.Data[1] > out.Data[0], nil
}

// DetectionStatus is the human readable form of a detection result.
func DetectionStatus(detected bool) string {
	if detected {
		return StatusDetected
	}
	return StatusNotDetected
}

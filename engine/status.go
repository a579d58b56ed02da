package engine

import (
	"errors"

	"OnnxMarkServer/codec"
	iface "OnnxMarkServer/interface"
)

const (
	StatusInvalidOutput    = "Invalid output"
	StatusDecryptionFailed = "Decryption failed"
)

// ErrorStatus is the status line shown to a user when an operation fails.
func ErrorStatus(err error) string {
	switch {
	case errors.Is(err, codec.ErrInvalidOutput), errors.Is(err, codec.ErrShapeMismatch):
		return StatusInvalidOutput
	case errors.Is(err, iface.ErrInferenceUnavailable):
		return StatusDecryptionFailed
	case err == nil:
		return ""
	}
	return err.Error()
}

// Package enginetest provides in-memory models for tests that need a
// Watermarker without ONNX Runtime.
package enginetest

import (
	"OnnxMarkServer/codec"
	"OnnxMarkServer/engine"
	iface "OnnxMarkServer/interface"
)

// Func adapts a function to iface.Inferer and counts calls.
type Func struct {
	F     func(inputs ...codec.Tensor) (codec.Tensor, error)
	Calls int
}

func (f *Func) Infer(inputs ...codec.Tensor) (codec.Tensor, error) {
	f.Calls++
	return f.F(inputs...)
}

// ConstResidual returns delta for every element of its single input.
func ConstResidual(delta float32) *Func {
	return &Func{F: func(inputs ...codec.Tensor) (codec.Tensor, error) {
		out := codec.NewTensor(inputs[0].Shape...)
		for i := range out.Data {
			out.Data[i] = delta
		}
		return out, nil
	}}
}

// Logits always returns [notDetected, detected].
func Logits(notDetected, detected float32) *Func {
	return &Func{F: func(...codec.Tensor) (codec.Tensor, error) {
		return codec.Tensor{Shape: []int64{1, 2}, Data: []float32{notDetected, detected}}, nil
	}}
}

// BrightnessClassifier reports a watermark when the mean of the image tensor
// exceeds threshold.
func BrightnessClassifier(threshold float32) *Func {
	return &Func{F: func(inputs ...codec.Tensor) (codec.Tensor, error) {
		var sum float32
		for _, v := range inputs[0].Data {
			sum += v
		}
		mean := sum / float32(len(inputs[0].Data))
		return codec.Tensor{Shape: []int64{1, 2}, Data: []float32{threshold, mean}}, nil
	}}
}

// StashEncoder is a two-input encoder that writes the payload into the first
// pixels of the red plane and leaves the rest of the image untouched.
// StashDecoder reads it back, so the pair round-trips a payload through an
// image.
func StashEncoder() *Func {
	return &Func{F: func(inputs ...codec.Tensor) (codec.Tensor, error) {
		out := inputs[0].Clone()
		copy(out.Data, inputs[1].Data)
		return out, nil
	}}
}

func StashDecoder(payloadLen int) *Func {
	return &Func{F: func(inputs ...codec.Tensor) (codec.Tensor, error) {
		out := codec.NewTensor(1, int64(payloadLen))
		copy(out.Data, inputs[0].Data[:payloadLen])
		return out, nil
	}}
}

// Failing returns err on every call.
func Failing(err error) *Func {
	return &Func{F: func(...codec.Tensor) (codec.Tensor, error) {
		return codec.Tensor{}, err
	}}
}

// NewResidualEngine builds a ResidualAdd engine that brightens by delta and
// a brightness classifier.
func NewResidualEngine(size int, delta float32) *engine.Watermarker {
	w, err := engine.NewWatermarker(engine.EngineParam{
		Description:  "residual",
		EncoderPath:  "mem://residual",
		DetectorPath: "mem://classifier",
		ImageSize:    size,
	}, ConstResidual(delta), BrightnessClassifier(0.5), engine.ResidualAdd{}, iface.DetectorClassify)
	if err != nil {
		panic(err)
	}
	return w
}

// NewPayloadEngine builds a DirectEmbed engine with a payload decoder.
func NewPayloadEngine(size, payloadLen int) *engine.Watermarker {
	w, err := engine.NewWatermarker(engine.EngineParam{
		Description:   "payload",
		EncoderPath:   "mem://stash",
		DetectorPath:  "mem://unstash",
		ImageSize:     size,
		PayloadLength: payloadLen,
	}, StashEncoder(), StashDecoder(payloadLen), engine.DirectEmbed{}, iface.DetectorDecode)
	if err != nil {
		panic(err)
	}
	return w
}

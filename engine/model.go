package engine

import (
	"fmt"
	"sync"
	"time"

	"OnnxMarkServer/codec"
	iface "OnnxMarkServer/interface"
	"OnnxMarkServer/monitor"

	ort "github.com/yalue/onnxruntime_go"
)

// Signature lists a model's float inputs and outputs as declared in the
// .onnx file. Dynamic dimensions are negative.
type Signature struct {
	InputNames   []string
	InputShapes  [][]int64
	OutputNames  []string
	OutputShapes [][]int64
}

// InspectModel reads a model's input/output signature without creating a
// session.
func InspectModel(modelPath string) (Signature, error) {
	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return Signature{}, fmt.Errorf("%w: inspect %s: %v", iface.ErrInferenceUnavailable, modelPath, err)
	}
	sig := Signature{}
	for _, in := range inputs {
		sig.InputNames = append(sig.InputNames, in.Name)
		sig.InputShapes = append(sig.InputShapes, append([]int64(nil), in.Dimensions...))
	}
	for _, out := range outputs {
		sig.OutputNames = append(sig.OutputNames, out.Name)
		sig.OutputShapes = append(sig.OutputShapes, append([]int64(nil), out.Dimensions...))
	}
	if len(sig.InputNames) == 0 || len(sig.OutputNames) == 0 {
		return Signature{}, fmt.Errorf("%w: %s declares %d inputs and %d outputs", iface.ErrInferenceUnavailable, modelPath, len(sig.InputNames), len(sig.OutputNames))
	}
	return sig, nil
}

// resolveShape fills dynamic dimensions of declared from want, position by
// position. A leading dynamic batch dimension always becomes 1.
func resolveShape(declared, want []int64) ([]int64, error) {
	if len(declared) == 0 {
		return append([]int64(nil), want...), nil
	}
	out := make([]int64, len(declared))
	for i, d := range declared {
		switch {
		case d > 0:
			out[i] = d
		case i < len(want) && len(declared) == len(want):
			out[i] = want[i]
		case i == 0:
			out[i] = 1
		default:
			return nil, fmt.Errorf("cannot resolve dynamic dimension %d of %v", i, declared)
		}
	}
	return out, nil
}

func elementCount(shape []int64) int64 {
	n := int64(1)
	for _, d := range shape {
		n *= d
	}
	return n
}

// Model is one ONNX Runtime session. Only the first declared output is read.
type Model struct {
	ModelPath   string
	Role        string
	Signature   Signature
	outputShape []int64
	session     *ort.DynamicAdvancedSession
	mu          sync.Mutex
}

var _ iface.Inferer = (*Model)(nil)

// LoadModel opens a session for modelPath. wantOutput supplies the sizes of
// any dynamic dimensions of the first output.
func LoadModel(modelPath, role string, sig Signature, wantOutput []int64) (*Model, error) {
	outputShape, err := resolveShape(sig.OutputShapes[0], wantOutput)
	if err != nil {
		return nil, fmt.Errorf("%w: %s output: %v", iface.ErrInferenceUnavailable, modelPath, err)
	}
	options, err := newSessionOptions(currentBackend())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", iface.ErrInferenceUnavailable, err)
	}
	defer options.Destroy()
	session, err := ort.NewDynamicAdvancedSession(modelPath, sig.InputNames, sig.OutputNames[:1], options)
	if err != nil {
		return nil, fmt.Errorf("%w: load %s: %v", iface.ErrInferenceUnavailable, modelPath, err)
	}
	return &Model{
		ModelPath:   modelPath,
		Role:        role,
		Signature:   sig,
		outputShape: outputShape,
		session:     session,
	}, nil
}

func (m *Model) Infer(inputs ...codec.Tensor) (codec.Tensor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return codec.Tensor{}, fmt.Errorf("%w: %s model not loaded", iface.ErrInferenceUnavailable, m.Role)
	}
	if len(inputs) != len(m.Signature.InputNames) {
		return codec.Tensor{}, fmt.Errorf("%w: %s model takes %d inputs, got %d", iface.ErrInferenceUnavailable, m.Role, len(m.Signature.InputNames), len(inputs))
	}
	values := make([]ort.Value, 0, len(inputs))
	defer func() {
		for _, v := range values {
			_ = v.Destroy()
		}
	}()
	for i, in := range inputs {
		if elementCount(in.Shape) != int64(in.Len()) {
			return codec.Tensor{}, fmt.Errorf("%w: input %d shape %v does not hold %d elements", iface.ErrInferenceUnavailable, i, in.Shape, in.Len())
		}
		t, err := ort.NewTensor(ort.NewShape(in.Shape...), in.Data)
		if err != nil {
			return codec.Tensor{}, fmt.Errorf("%w: %s input %d: %v", iface.ErrInferenceUnavailable, m.Role, i, err)
		}
		values = append(values, t)
	}
	output, err := ort.NewEmptyTensor[float32](ort.NewShape(m.outputShape...))
	if err != nil {
		return codec.Tensor{}, fmt.Errorf("%w: %s output: %v", iface.ErrInferenceUnavailable, m.Role, err)
	}
	defer output.Destroy()

	start := time.Now()
	err = m.session.Run(values, []ort.Value{output})
	monitor.InferenceSeconds.WithLabelValues(m.Role).Observe(time.Since(start).Seconds())
	if err != nil {
		return codec.Tensor{}, fmt.Errorf("%w: %s run: %v", iface.ErrInferenceUnavailable, m.Role, err)
	}
	return codec.Tensor{
		Shape: append([]int64(nil), m.outputShape...),
		Data:  append([]float32(nil), output.GetData()...),
	}, nil
}

func (m *Model) Destroy() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session != nil {
		_ = m.session.Destroy()
		m.session = nil
	}
}

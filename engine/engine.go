package engine

import (
	"errors"
	"fmt"
	"image"
	"sync"

	"OnnxMarkServer/codec"
	iface "OnnxMarkServer/interface"
	"OnnxMarkServer/logger"
	"OnnxMarkServer/monitor"

	"go.uber.org/zap"
)

// Watermarker ties the codec to an encoder/detector pair. Calls are
// serialised per instance.
type Watermarker struct {
	mu            sync.Mutex
	State         int
	Description   string
	codec         *codec.Codec
	encoder       iface.Inferer
	detector      iface.Inferer
	strategy      iface.EmbedStrategy
	detectorKind  string
	residualScale float32
	config        iface.EngineConfig
	destroy       []func()
}

var _ iface.Backend = (*Watermarker)(nil)

// NewWatermarker assembles a Watermarker from already loaded models.
func NewWatermarker(param EngineParam, encoder, detector iface.Inferer, strategy iface.EmbedStrategy, detectorKind string) (*Watermarker, error) {
	param.SetDefaults()
	c, err := codec.New(codec.Config{ImageSize: param.ImageSize, PayloadLength: param.PayloadLength})
	if err != nil {
		return nil, err
	}
	if strategy == nil {
		return nil, fmt.Errorf("embedding strategy cannot be nil")
	}
	switch detectorKind {
	case iface.DetectorClassify, iface.DetectorDecode:
	default:
		return nil, fmt.Errorf("unknown detector kind %q", detectorKind)
	}
	w := &Watermarker{
		State:         IDLE,
		Description:   param.Description,
		codec:         c,
		encoder:       encoder,
		detector:      detector,
		strategy:      strategy,
		detectorKind:  detectorKind,
		residualScale: param.ResidualScale,
	}
	w.config = iface.EngineConfig{
		Description:   param.Description,
		Encoder:       iface.ModelConfig{ModelPath: param.EncoderPath},
		Detector:      iface.ModelConfig{ModelPath: param.DetectorPath},
		DetectorKind:  detectorKind,
		Strategy:      strategy.Name(),
		ImageSize:     param.ImageSize,
		PayloadLength: param.PayloadLength,
		ResidualScale: param.ResidualScale,
		UseGPU:        currentBackend().InstanceClass != InstanceCpu && currentBackend().InstanceClass != "",
	}
	return w, nil
}

// LoadWatermarker opens both ONNX models and derives the embedding strategy
// and detector kind from their signatures.
func LoadWatermarker(param EngineParam) (*Watermarker, error) {
	param.SetDefaults()
	if err := param.Validate(); err != nil {
		return nil, err
	}
	c, err := codec.New(codec.Config{ImageSize: param.ImageSize, PayloadLength: param.PayloadLength})
	if err != nil {
		return nil, err
	}

	encSig, err := InspectModel(param.EncoderPath)
	if err != nil {
		return nil, err
	}
	strategy, err := SelectStrategy(len(encSig.InputNames))
	if err != nil {
		return nil, err
	}
	detSig, err := InspectModel(param.DetectorPath)
	if err != nil {
		return nil, err
	}
	kind := param.DetectorKind
	if kind == "" {
		kind, err = SelectDetectorKind(detSig.OutputShapes[0], param.PayloadLength)
		if err != nil {
			return nil, err
		}
	}
	detOut := []int64{1, 2}
	if kind == iface.DetectorDecode {
		detOut = c.PayloadShape()
	}

	encoder, err := LoadModel(param.EncoderPath, "encoder", encSig, c.ImageShape())
	if err != nil {
		return nil, err
	}
	detector, err := LoadModel(param.DetectorPath, "detector", detSig, detOut)
	if err != nil {
		encoder.Destroy()
		return nil, err
	}
	w, err := NewWatermarker(param, encoder, detector, strategy, kind)
	if err != nil {
		encoder.Destroy()
		detector.Destroy()
		return nil, err
	}
	w.config.Encoder = modelConfig(encoder)
	w.config.Detector = modelConfig(detector)
	w.destroy = []func(){encoder.Destroy, detector.Destroy}
	logger.Log().Info("Loaded watermark engine",
		zap.String("encoder", param.EncoderPath),
		zap.String("detector", param.DetectorPath),
		zap.String("strategy", strategy.Name()),
		zap.String("detectorKind", kind),
		zap.Int("imageSize", param.ImageSize),
		zap.Int("payloadLength", param.PayloadLength))
	return w, nil
}

func modelConfig(m *Model) iface.ModelConfig {
	return iface.ModelConfig{
		ModelPath:   m.ModelPath,
		InputNames:  m.Signature.InputNames,
		OutputNames: m.Signature.OutputNames,
		InputShapes: m.Signature.InputShapes,
	}
}

func (w *Watermarker) ImageSize() int {
	return w.codec.ImageSize()
}

func (w *Watermarker) Strategy() string {
	return w.strategy.Name()
}

func (w *Watermarker) DetectorKind() string {
	return w.detectorKind
}

func (w *Watermarker) CheckConfig() iface.EngineConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	cfg := w.config
	cfg.Description = w.Description
	return cfg
}

// begin marks the engine busy; the returned func restores IDLE and records
// the outcome of op.
func (w *Watermarker) begin(op string) (func(error), error) {
	w.mu.Lock()
	switch w.State {
	case UNREGISTERED:
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: engine destroyed", iface.ErrInferenceUnavailable)
	case REGISTERED:
		w.mu.Unlock()
		return nil, fmt.Errorf("%w: model not loaded", iface.ErrInferenceUnavailable)
	}
	w.State = BUSY
	return func(err error) {
		w.State = IDLE
		w.mu.Unlock()
		monitor.ObserveOperation(op, err)
	}, nil
}

func (w *Watermarker) infer(m iface.Inferer, inputs ...codec.Tensor) (codec.Tensor, error) {
	if m == nil {
		return codec.Tensor{}, fmt.Errorf("%w: model missing", iface.ErrInferenceUnavailable)
	}
	out, err := m.Infer(inputs...)
	if err != nil && !errors.Is(err, iface.ErrInferenceUnavailable) {
		err = fmt.Errorf("%w: %v", iface.ErrInferenceUnavailable, err)
	}
	return out, err
}

// inferer adapts Watermarker.infer so strategies see wrapped errors.
type inferer struct {
	w *Watermarker
	m iface.Inferer
}

func (i inferer) Infer(inputs ...codec.Tensor) (codec.Tensor, error) {
	return i.w.infer(i.m, inputs...)
}

func (w *Watermarker) embed(img image.Image, text string) (*image.NRGBA, error) {
	cover, err := w.codec.EncodeImage(img)
	if err != nil {
		return nil, err
	}
	if len([]rune(text)) > w.codec.PayloadLength() {
		logger.Log().Warn("watermark text truncated", zap.Int("length", len([]rune(text))), zap.Int("max", w.codec.PayloadLength()))
	}
	out, err := w.strategy.Embed(inferer{w: w, m: w.encoder}, cover, w.codec.EncodePayload(text))
	if err != nil {
		return nil, err
	}
	return w.codec.DecodeImage(out)
}

// Embed watermarks img. ResidualAdd encoders ignore text.
func (w *Watermarker) Embed(img image.Image, text string) (res *image.NRGBA, err error) {
	done, err := w.begin("embed")
	if err != nil {
		return nil, err
	}
	defer func() { done(err) }()
	return w.embed(img, text)
}

func (w *Watermarker) detect(img image.Image) (bool, error) {
	if w.detectorKind != iface.DetectorClassify {
		return false, fmt.Errorf("%w: detect needs a classifying detector, have %s", ErrUnsupportedOperation, w.detectorKind)
	}
	in, err := w.codec.EncodeImage(img)
	if err != nil {
		return false, err
	}
	out, err := w.infer(w.detector, in)
	if err != nil {
		return false, err
	}
	return codec.InterpretDetection(out)
}

func (w *Watermarker) Detect(img image.Image) (detected bool, err error) {
	done, err := w.begin("detect")
	if err != nil {
		return false, err
	}
	defer func() { done(err) }()
	return w.detect(img)
}

func (w *Watermarker) extractPayload(img image.Image) (string, error) {
	if w.detectorKind != iface.DetectorDecode {
		return "", fmt.Errorf("%w: payload extraction needs a decoding detector, have %s", ErrUnsupportedOperation, w.detectorKind)
	}
	in, err := w.codec.EncodeImage(img)
	if err != nil {
		return "", err
	}
	out, err := w.infer(w.detector, in)
	if err != nil {
		return "", err
	}
	return w.codec.DecodePayload(out)
}

func (w *Watermarker) ExtractPayload(img image.Image) (payload string, err error) {
	done, err := w.begin("decode")
	if err != nil {
		return "", err
	}
	defer func() { done(err) }()
	return w.extractPayload(img)
}

// EmbedAndVerify embeds and immediately runs the detector on the quantised
// result. status is the detection status or the recovered payload.
func (w *Watermarker) EmbedAndVerify(img image.Image, text string) (res *image.NRGBA, status string, err error) {
	done, err := w.begin("embed_verify")
	if err != nil {
		return nil, "", err
	}
	defer func() { done(err) }()
	res, err = w.embed(img, text)
	if err != nil {
		return nil, "", err
	}
	if w.detectorKind == iface.DetectorDecode {
		status, err = w.extractPayload(res)
		return res, status, err
	}
	detected, err := w.detect(res)
	if err != nil {
		return res, "", err
	}
	return res, codec.DetectionStatus(detected), nil
}

// Residual renders the encoder's perturbation for img, amplified by scale
// (the engine default when scale <= 0).
func (w *Watermarker) Residual(img image.Image, scale float32) (res *image.NRGBA, err error) {
	done, err := w.begin("residual")
	if err != nil {
		return nil, err
	}
	defer func() { done(err) }()
	if w.strategy.Name() != StrategyResidualAdd {
		return nil, fmt.Errorf("%w: residual needs a %s encoder, have %s", ErrUnsupportedOperation, StrategyResidualAdd, w.strategy.Name())
	}
	cover, err := w.codec.EncodeImage(img)
	if err != nil {
		return nil, err
	}
	residual, err := w.infer(w.encoder, cover)
	if err != nil {
		return nil, err
	}
	if scale <= 0 {
		scale = w.residualScale
	}
	return w.codec.VisualizeResidual(residual, scale)
}

func (w *Watermarker) Destroy() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, f := range w.destroy {
		f()
	}
	w.destroy = nil
	w.encoder = nil
	w.detector = nil
	w.State = UNREGISTERED
}

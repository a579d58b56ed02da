package engine

import (
	"fmt"

	"OnnxMarkServer/logger"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

const (
	InstanceCpu    = "Cpu"
	InstanceCuda   = "Cuda"
	InstanceDml    = "Dml"
	InstanceCoreML = "CoreML"
)

// newSessionOptions maps the configured instance class to an ONNX Runtime
// execution provider. Unknown classes run on the CPU.
func newSessionOptions(cfg BackendConfig) (*ort.SessionOptions, error) {
	options, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("create session options: %w", err)
	}
	if cfg.IntraOpThreads > 0 {
		if err := options.SetIntraOpNumThreads(cfg.IntraOpThreads); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("set intra-op threads: %w", err)
		}
	}
	switch cfg.InstanceClass {
	case InstanceCuda:
		cudaOptions, err := ort.NewCUDAProviderOptions()
		if err != nil {
			options.Destroy()
			return nil, fmt.Errorf("create CUDA provider options: %w", err)
		}
		defer cudaOptions.Destroy()
		if err := cudaOptions.Update(map[string]string{"device_id": "0"}); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("update CUDA provider options: %w", err)
		}
		if err := options.AppendExecutionProviderCUDA(cudaOptions); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("enable CUDA provider: %w", err)
		}
	case InstanceDml:
		if err := options.AppendExecutionProviderDirectML(0); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("enable DirectML provider: %w", err)
		}
	case InstanceCoreML:
		if err := options.AppendExecutionProviderCoreML(0); err != nil {
			options.Destroy()
			return nil, fmt.Errorf("enable CoreML provider: %w", err)
		}
	case InstanceCpu, "":
	default:
		logger.Log().Warn("unknown instance class, running on CPU", zap.String("instanceClass", cfg.InstanceClass))
	}
	return options, nil
}

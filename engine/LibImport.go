package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	"OnnxMarkServer/logger"

	ort "github.com/yalue/onnxruntime_go"
	"go.uber.org/zap"
)

type BackendConfig struct {
	BackendDir     string `yaml:"backendDir"`
	BackendLibName string `yaml:"backendLibName"`
	InstanceClass  string `yaml:"instanceClass"`
	IntraOpThreads int    `yaml:"intraOpThreads"`
}

var (
	backendMu  sync.Mutex
	backendCfg BackendConfig
)

func detArch(system, arch string) (string, error) {
	switch arch {
	case "amd64":
		return fmt.Sprintf("%s-%s", system, "x64"), nil
	case "386":
		return fmt.Sprintf("%s-%s", system, "x86"), nil
	case "arm64":
		return fmt.Sprintf("%s-%s", system, "arm64"), nil
	default:
		return "", fmt.Errorf("architecture %s not supported", arch)
	}
}

func getPlatform() (string, error) {
	switch runtime.GOOS {
	case "windows", "linux", "darwin":
		return detArch(runtime.GOOS, runtime.GOARCH)
	default:
		return "", fmt.Errorf("operating system %s not supported", runtime.GOOS)
	}
}

// DefaultLibName is the ONNX Runtime shared library file name for the
// current platform.
func DefaultLibName() string {
	switch runtime.GOOS {
	case "windows":
		return "onnxruntime.dll"
	case "darwin":
		return "libonnxruntime.dylib"
	default:
		return "libonnxruntime.so"
	}
}

// LocateSharedLibrary looks for name in dir (if set), then next to the
// executable, the working directory, their src/ and .dist/src/ children and
// up to ten parent directories.
func LocateSharedLibrary(dir, name string) (string, error) {
	if name == "" {
		name = DefaultLibName()
	}
	var tried []string
	check := func(d string) (string, bool) {
		if d == "" {
			return "", false
		}
		for _, c := range []string{d, filepath.Join(d, "src"), filepath.Join(d, ".dist", "src")} {
			tried = append(tried, c)
			if p := filepath.Join(c, name); fileExists(p) {
				return p, true
			}
		}
		return "", false
	}
	if dir != "" {
		if filepath.IsAbs(dir) {
			if p, ok := check(dir); ok {
				return p, nil
			}
		} else {
			if exePath, err := os.Executable(); err == nil {
				if p, ok := check(filepath.Join(filepath.Dir(exePath), dir)); ok {
					return p, nil
				}
			}
			if p, ok := check(dir); ok {
				return p, nil
			}
		}
	}
	var starts []string
	if exePath, err := os.Executable(); err == nil {
		starts = append(starts, filepath.Dir(exePath))
	}
	if cwd, err := os.Getwd(); err == nil {
		starts = append(starts, cwd)
	}
	seen := make(map[string]bool)
	for _, start := range starts {
		cur := start
		for i := 0; i < 10; i++ {
			if seen[cur] {
				break
			}
			seen[cur] = true
			if p, ok := check(cur); ok {
				return p, nil
			}
			parent := filepath.Dir(cur)
			if parent == cur {
				break
			}
			cur = parent
		}
	}
	return "", fmt.Errorf("shared library %q not found, tried %d locations: %v", name, len(tried), tried)
}

func fileExists(p string) bool {
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}

// LoadEngine points onnxruntime_go at the runtime library and initialises
// the environment once per process.
func LoadEngine(cfg BackendConfig) error {
	backendMu.Lock()
	defer backendMu.Unlock()
	backendCfg = cfg
	if ort.IsInitialized() {
		return nil
	}
	platform, err := getPlatform()
	if err != nil {
		return err
	}
	libPath, err := LocateSharedLibrary(cfg.BackendDir, cfg.BackendLibName)
	if err != nil {
		return fmt.Errorf("ensure the onnxruntime library exists next to the executable: %w", err)
	}
	ort.SetSharedLibraryPath(libPath)
	if err := ort.InitializeEnvironment(); err != nil {
		return fmt.Errorf("initialize onnxruntime from %s: %w", libPath, err)
	}
	logger.Log().Info("Lib Loaded", zap.String("platform", platform), zap.String("path", libPath))
	return nil
}

// UnloadEngine releases the runtime environment.
func UnloadEngine() {
	backendMu.Lock()
	defer backendMu.Unlock()
	if !ort.IsInitialized() {
		return
	}
	if err := ort.DestroyEnvironment(); err != nil {
		logger.Log().Error("destroy onnxruntime environment", zap.Error(err))
	}
}

func currentBackend() BackendConfig {
	backendMu.Lock()
	defer backendMu.Unlock()
	return backendCfg
}

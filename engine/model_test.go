package engine

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"OnnxMarkServer/codec"
	iface "OnnxMarkServer/interface"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolveShape(t *testing.T) {
	got, err := resolveShape([]int64{-1, 3, -1, -1}, []int64{1, 3, 400, 400})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 400, 400}, got)

	got, err = resolveShape([]int64{-1, 2}, []int64{1, 32})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, got)

	got, err = resolveShape(nil, []int64{1, 32})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 32}, got)

	_, err = resolveShape([]int64{1, -1, -1}, []int64{1, 32})
	assert.Error(t, err)
}

func TestGetPlatform(t *testing.T) {
	p, err := detArch("linux", "amd64")
	require.NoError(t, err)
	assert.Equal(t, "linux-x64", p)
	_, err = detArch("linux", "mips")
	assert.Error(t, err)
}

func TestLocateSharedLibrary(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, "src"), 0o755))
	lib := filepath.Join(dir, "src", "libfake.so")
	require.NoError(t, os.WriteFile(lib, []byte{0}, 0o644))

	got, err := LocateSharedLibrary(dir, "libfake.so")
	require.NoError(t, err)
	assert.Equal(t, lib, got)

	_, err = LocateSharedLibrary(dir, "libmissing-for-test.so")
	assert.Error(t, err)
}

func TestModel_NotLoaded(t *testing.T) {
	m := &Model{Role: "encoder"}
	_, err := m.Infer(codec.NewTensor(1, 3, 2, 2))
	assert.True(t, errors.Is(err, iface.ErrInferenceUnavailable))
	m.Destroy()
}

func TestLoadWatermarker_MissingModels(t *testing.T) {
	_, err := LoadWatermarker(EngineParam{})
	assert.Error(t, err)
}

// TestLoadWatermarker_OnnxRuntime runs against real models when
// ONNXMARK_ENCODER and ONNXMARK_DETECTOR point at them.
func TestLoadWatermarker_OnnxRuntime(t *testing.T) {
	enc, det := os.Getenv("ONNXMARK_ENCODER"), os.Getenv("ONNXMARK_DETECTOR")
	if enc == "" || det == "" {
		t.Skip("ONNXMARK_ENCODER / ONNXMARK_DETECTOR not set")
	}
	if err := LoadEngine(BackendConfig{BackendDir: os.Getenv("ONNXMARK_LIBDIR")}); err != nil {
		t.Skipf("onnxruntime unavailable: %v", err)
	}
	w, err := LoadWatermarker(EngineParam{EncoderPath: enc, DetectorPath: det})
	require.NoError(t, err)
	defer w.Destroy()

	c, err := codec.New(codec.DefaultConfig())
	require.NoError(t, err)
	cover, err := c.DecodeImage(codec.NewTensor(c.ImageShape()...))
	require.NoError(t, err)
	_, err = w.Embed(cover, "test")
	assert.NoError(t, err)
}

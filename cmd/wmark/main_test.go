package main

import (
	"bytes"
	"image"
	"image/png"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"OnnxMarkServer/codec"
	"OnnxMarkServer/engine/enginetest"
	"OnnxMarkServer/httpapi"
	"OnnxMarkServer/imageio"
	"OnnxMarkServer/worker"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeGrey(t *testing.T, size int, v uint8) string {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	path := filepath.Join(t.TempDir(), "in.png")
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, png.Encode(f, img))
	require.NoError(t, f.Close())
	return path
}

func firstRed(t *testing.T, data []byte) uint8 {
	t.Helper()
	img, err := png.Decode(bytes.NewReader(data))
	require.NoError(t, err)
	r, _, _, _ := img.At(0, 0).RGBA()
	return uint8(r >> 8)
}

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	_, err := parseFlags([]string{"-mode", "sign", "-in", "a.png"}, &stderr)
	assert.Error(t, err)
	_, err = parseFlags([]string{"-mode", "detect"}, &stderr)
	assert.Error(t, err)
	_, err = parseFlags([]string{"-in", "a.png", "-server", "http://x"}, &stderr)
	assert.Error(t, err)

	o, err := parseFlags([]string{"-in", "a.png", "-payload", "hi", "-verify"}, &stderr)
	require.NoError(t, err)
	assert.Equal(t, modeEmbed, o.mode)
	assert.True(t, o.verify)
	assert.Equal(t, "hi", o.payload)
}

func TestOutputPath(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	assert.Equal(t, "watermarked_1700000000123.png", outputPath(options{mode: modeEmbed}, now))
	assert.Equal(t, "residual_1700000000123.png", outputPath(options{mode: modeResidual}, now))
	assert.Equal(t, "x.png", outputPath(options{mode: modeEmbed, out: "x.png"}, now))
}

func TestRunLocal(t *testing.T) {
	in := writeGrey(t, 16, 100)
	w := enginetest.NewResidualEngine(8, 0.2)

	res, err := runLocal(options{mode: modeEmbed, in: in, verify: true}, w)
	require.NoError(t, err)
	assert.Equal(t, codec.StatusDetected, res.status)
	img, err := png.Decode(bytes.NewReader(res.image))
	require.NoError(t, err)
	assert.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())

	res, err = runLocal(options{mode: modeDetect, in: in}, w)
	require.NoError(t, err)
	assert.False(t, res.detected)

	_, err = runLocal(options{mode: modeDecode, in: in}, w)
	assert.Error(t, err)

	p := enginetest.NewPayloadEngine(8, 8)
	res, err = runLocal(options{mode: modeEmbed, in: in, payload: "cli"}, p)
	require.NoError(t, err)
	marked := filepath.Join(t.TempDir(), "marked.png")
	require.NoError(t, os.WriteFile(marked, res.image, 0o644))
	res, err = runLocal(options{mode: modeDecode, in: marked}, p)
	require.NoError(t, err)
	assert.Equal(t, "cli", res.payload)
}

func TestWriteResult(t *testing.T) {
	out := filepath.Join(t.TempDir(), "o.png")
	var stdout bytes.Buffer
	require.NoError(t, writeResult(options{mode: modeEmbed, out: out}, result{image: []byte("png"), status: codec.StatusDetected}, &stdout))
	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "png", string(data))
	assert.Contains(t, stdout.String(), codec.StatusDetected)

	stdout.Reset()
	require.NoError(t, writeResult(options{mode: modeDetect}, result{detected: true}, &stdout))
	assert.Equal(t, codec.StatusDetected+"\n", stdout.String())
}

func TestRunRemote(t *testing.T) {
	gin.SetMode(gin.TestMode)
	old := worker.Decode
	worker.Decode = imageio.LoadNormalized
	worker.StartWorker(1)
	t.Cleanup(func() {
		worker.StopWorker()
		worker.RemoveAll()
		worker.Decode = old
	})
	id, err := worker.Add(enginetest.NewResidualEngine(8, 0.2), "remote", 0)
	require.NoError(t, err)
	srv := httptest.NewServer(httpapi.New().Router())
	defer srv.Close()

	in := writeGrey(t, 8, 100)
	client := newRemote(srv.URL)

	res, err := runRemote(options{mode: modeEmbed, in: in, engineID: id, verify: true}, client)
	require.NoError(t, err)
	assert.Equal(t, codec.StatusDetected, res.status)
	assert.Equal(t, uint8(151), firstRed(t, res.image))

	res, err = runRemote(options{mode: modeResidual, in: in, engineID: id, scale: 2}, client)
	require.NoError(t, err)
	assert.Equal(t, uint8(102), firstRed(t, res.image))

	res, err = runRemote(options{mode: modeDetect, in: in, engineID: id}, client)
	require.NoError(t, err)
	assert.False(t, res.detected)

	_, err = runRemote(options{mode: modeDetect, in: in, engineID: "missing"}, client)
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "404"), err.Error())

	var stdout bytes.Buffer
	out := filepath.Join(t.TempDir(), "r.png")
	require.NoError(t, run([]string{"-server", srv.URL, "-engine", id, "-in", in, "-out", out}, &stdout, &stdout))
	_, err = os.Stat(out)
	assert.NoError(t, err)
}

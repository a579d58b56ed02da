// Command wmark embeds, detects and inspects watermarks from the command
// line, either in-process through ONNX Runtime or against a running server.
package main

import (
	"errors"
	"flag"
	"fmt"
	"image"
	"io"
	"os"
	"time"

	"OnnxMarkServer/codec"
	"OnnxMarkServer/config"
	"OnnxMarkServer/engine"
	"OnnxMarkServer/imageio"
	iface "OnnxMarkServer/interface"
	"OnnxMarkServer/logger"

	"go.uber.org/zap"
)

const (
	modeEmbed    = "embed"
	modeDetect   = "detect"
	modeDecode   = "decode"
	modeResidual = "residual"
)

type options struct {
	mode     string
	in       string
	out      string
	payload  string
	verify   bool
	scale    float64
	config   string
	encoder  string
	detector string
	server   string
	engineID string
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	fs := flag.NewFlagSet("wmark", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&o.mode, "mode", modeEmbed, "embed, detect, decode or residual")
	fs.StringVar(&o.in, "in", "", "input image")
	fs.StringVar(&o.out, "out", "", "output PNG (default watermarked_<unixmillis>.png)")
	fs.StringVar(&o.payload, "payload", "", "text to embed")
	fs.BoolVar(&o.verify, "verify", false, "run the detector on the embedded result")
	fs.Float64Var(&o.scale, "scale", 0, "residual amplification (engine default when 0)")
	fs.StringVar(&o.config, "config", "config.yaml", "server config providing backend and model paths")
	fs.StringVar(&o.encoder, "encoder", "", "encoder model, overrides the first configured model")
	fs.StringVar(&o.detector, "detector", "", "detector model, overrides the first configured model")
	fs.StringVar(&o.server, "server", "", "base URL of a running server, e.g. http://127.0.0.1:8080")
	fs.StringVar(&o.engineID, "engine", "", "engine id on the server")
	if err := fs.Parse(args); err != nil {
		return o, err
	}
	switch o.mode {
	case modeEmbed, modeDetect, modeDecode, modeResidual:
	default:
		return o, fmt.Errorf("unknown mode %q", o.mode)
	}
	if o.in == "" {
		return o, errors.New("-in is required")
	}
	if o.server != "" && o.engineID == "" {
		return o, errors.New("-engine is required with -server")
	}
	return o, nil
}

// outputPath is where an image result is written when -out is empty.
func outputPath(o options, now time.Time) string {
	if o.out != "" {
		return o.out
	}
	prefix := "watermarked"
	if o.mode == modeResidual {
		prefix = "residual"
	}
	return fmt.Sprintf("%s_%d.png", prefix, now.UnixMilli())
}

// result is what either mode produces for printing.
type result struct {
	image    []byte
	status   string
	detected bool
	payload  string
}

func writeResult(o options, res result, stdout io.Writer) error {
	switch o.mode {
	case modeEmbed, modeResidual:
		path := outputPath(o, time.Now())
		if err := os.WriteFile(path, res.image, 0o644); err != nil {
			return err
		}
		fmt.Fprintln(stdout, "saved", path)
		if res.status != "" {
			fmt.Fprintln(stdout, res.status)
		}
	case modeDetect:
		fmt.Fprintln(stdout, codec.DetectionStatus(res.detected))
	case modeDecode:
		fmt.Fprintln(stdout, res.payload)
	}
	return nil
}

func loadLocal(o options) (*engine.Watermarker, error) {
	cfg := config.Default()
	if _, err := os.Stat(o.config); err == nil {
		if cfg, err = config.Load(o.config); err != nil {
			return nil, err
		}
	}
	var param engine.EngineParam
	if len(cfg.Models) > 0 {
		param = cfg.Models[0]
	}
	if o.encoder != "" {
		param.EncoderPath = o.encoder
	}
	if o.detector != "" {
		param.DetectorPath = o.detector
	}
	cfg.Backend.InstanceClass = cfg.InstanceClass
	if err := engine.LoadEngine(cfg.Backend); err != nil {
		return nil, err
	}
	return engine.LoadWatermarker(param)
}

// runLocal executes one operation on backend.
func runLocal(o options, backend iface.Backend) (result, error) {
	data, err := os.ReadFile(o.in)
	if err != nil {
		return result{}, err
	}
	img, err := imageio.LoadNormalized(data, backend.ImageSize())
	if err != nil {
		return result{}, err
	}
	var res result
	var out image.Image
	switch o.mode {
	case modeEmbed:
		if o.verify {
			out, res.status, err = backend.EmbedAndVerify(img, o.payload)
		} else {
			out, err = backend.Embed(img, o.payload)
		}
	case modeResidual:
		out, err = backend.Residual(img, float32(o.scale))
	case modeDetect:
		res.detected, err = backend.Detect(img)
	case modeDecode:
		res.payload, err = backend.ExtractPayload(img)
	}
	if err != nil {
		return result{}, fmt.Errorf("%s: %w (%s)", o.mode, err, engine.ErrorStatus(err))
	}
	if out != nil {
		if res.image, err = imageio.EncodePNGBytes(out); err != nil {
			return result{}, err
		}
	}
	return res, nil
}

func run(args []string, stdout, stderr io.Writer) error {
	o, err := parseFlags(args, stderr)
	if err != nil {
		return err
	}
	var res result
	if o.server != "" {
		res, err = runRemote(o, newRemote(o.server))
	} else {
		var w *engine.Watermarker
		if w, err = loadLocal(o); err != nil {
			return err
		}
		defer engine.UnloadEngine()
		defer w.Destroy()
		res, err = runLocal(o, w)
	}
	if err != nil {
		return err
	}
	return writeResult(o, res, stdout)
}

func main() {
	if err := logger.InitDevelopment(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer logger.Sync()
	if err := run(os.Args[1:], os.Stdout, os.Stderr); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		logger.Log().Error("wmark failed", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

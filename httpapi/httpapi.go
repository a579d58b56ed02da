// Package httpapi is the REST surface of the watermark server. Image
// operations go through the shared worker pool, so HTTP and gRPC clients see
// the same engines.
package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"OnnxMarkServer/codec"
	"OnnxMarkServer/engine"
	"OnnxMarkServer/imageio"
	iface "OnnxMarkServer/interface"
	"OnnxMarkServer/logger"
	"OnnxMarkServer/monitor"
	"OnnxMarkServer/worker"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MaxImageBytes bounds a single uploaded image.
const MaxImageBytes = 20 << 20

// Loader opens an engine from its parameters.
type Loader func(engine.EngineParam) (iface.Backend, error)

func loadWatermarker(p engine.EngineParam) (iface.Backend, error) {
	w, err := engine.LoadWatermarker(p)
	if err != nil {
		return nil, err
	}
	return w, nil
}

type Server struct {
	Load Loader
}

func New() *Server {
	return &Server{Load: loadWatermarker}
}

type InitRequest struct {
	engine.EngineParam
	EngineType int `json:"engineType"`
}

type EngineInfo struct {
	Id          string             `json:"id"`
	Description string             `json:"description"`
	EngineType  int                `json:"engineType"`
	Config      iface.EngineConfig `json:"config"`
}

// statusCode maps an operation error to an HTTP status.
func statusCode(err error) int {
	switch {
	case errors.Is(err, worker.ErrEngineNotFound):
		return http.StatusNotFound
	case errors.Is(err, worker.ErrInvalidImage), errors.Is(err, engine.ErrUnsupportedOperation):
		return http.StatusBadRequest
	case errors.Is(err, codec.ErrShapeMismatch), errors.Is(err, codec.ErrInvalidOutput):
		return http.StatusUnprocessableEntity
	case errors.Is(err, iface.ErrInferenceUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, worker.ErrNotRunning):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func fail(c *gin.Context, err error) {
	c.JSON(statusCode(err), gin.H{"error": err.Error(), "status": engine.ErrorStatus(err)})
}

func metrics(c *gin.Context) {
	start := time.Now()
	c.Next()
	route := c.FullPath()
	if route == "" {
		route = "unmatched"
	}
	code := c.Writer.Status()
	monitor.HTTPTotal.WithLabelValues(route, strconv.Itoa(code)).Inc()
	logger.Log().Debug("http request",
		zap.String("method", c.Request.Method),
		zap.String("route", route),
		zap.Int("code", code),
		zap.Duration("latency", time.Since(start)))
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), metrics)
	r.MaxMultipartMemory = MaxImageBytes

	r.GET("/api/ping", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"message": "pong"})
	})
	r.POST("/api/engines", s.initEngine)
	r.GET("/api/engines", s.listEngines)
	r.GET("/api/engines/:id", s.checkEngine)
	r.DELETE("/api/engines/:id", s.destroyEngine)
	r.POST("/api/engines/:id/embed", s.embed)
	r.POST("/api/engines/:id/detect", s.detect)
	r.POST("/api/engines/:id/decode", s.decode)
	r.POST("/api/engines/:id/residual", s.residual)
	r.POST("/api/models/upload", s.uploadModel)
	return r
}

func (s *Server) initEngine(c *gin.Context) {
	var req InitRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	req.SetDefaults()
	if err := req.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.EngineType == engine.MultiThread {
		c.JSON(http.StatusBadRequest, gin.H{"error": "multi-threading is not supported yet"})
		return
	}
	backend, err := s.Load(req.EngineParam)
	if err != nil {
		logger.Log().Error("Failed to initialize engine", zap.String("encoder", req.EncoderPath), zap.Error(err))
		fail(c, err)
		return
	}
	id, err := worker.Add(backend, req.Description, req.EngineType)
	if err != nil {
		backend.Destroy()
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	cfg := backend.CheckConfig()
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"id": id, "strategy": cfg.Strategy, "detectorKind": cfg.DetectorKind}})
}

func info(id string, w worker.WorkerID) EngineInfo {
	return EngineInfo{Id: id, Description: w.Description, EngineType: w.EngineType, Config: w.Backend.CheckConfig()}
}

func (s *Server) listEngines(c *gin.Context) {
	all := worker.All()
	infos := make([]EngineInfo, 0, len(all))
	for id, w := range all {
		infos = append(infos, info(id, w))
	}
	c.JSON(http.StatusOK, gin.H{"data": infos})
}

func (s *Server) checkEngine(c *gin.Context) {
	id := c.Param("id")
	w, err := worker.Get(id)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": info(id, w)})
}

func (s *Server) destroyEngine(c *gin.Context) {
	if err := worker.Remove(c.Param("id")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": "Engine destroyed"})
}

// readImage takes the "image" multipart file, or the "image" form value as
// base64 or a data URL.
func readImage(c *gin.Context) ([]byte, error) {
	if fh, err := c.FormFile("image"); err == nil {
		if fh.Size > MaxImageBytes {
			return nil, fmt.Errorf("%w: %d bytes exceeds limit", worker.ErrInvalidImage, fh.Size)
		}
		f, err := fh.Open()
		if err != nil {
			return nil, err
		}
		defer f.Close()
		return io.ReadAll(io.LimitReader(f, MaxImageBytes))
	}
	raw := c.PostForm("image")
	if raw == "" {
		return nil, fmt.Errorf("%w: missing image", worker.ErrInvalidImage)
	}
	data, err := imageio.Base64Bytes(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", worker.ErrInvalidImage, err)
	}
	return data, nil
}

// run resolves the engine, reads the request image and waits for the worker.
func run(c *gin.Context, job worker.JobPackage) (worker.JobResult, bool) {
	w, err := worker.Get(c.Param("id"))
	if err != nil {
		fail(c, err)
		return worker.JobResult{}, false
	}
	img, err := readImage(c)
	if err != nil {
		fail(c, err)
		return worker.JobResult{}, false
	}
	job.Backend = w.Backend
	job.Image = img
	res, err := worker.Submit(job)
	if err == nil {
		err = res.Err
	}
	if err != nil {
		fail(c, err)
		return res, false
	}
	return res, true
}

func writeImage(c *gin.Context, res worker.JobResult, status string) {
	data, err := imageio.EncodePNGBytes(res.Image)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"image": data, "status": status}})
}

func (s *Server) embed(c *gin.Context) {
	op := worker.OpEmbed
	if verify, _ := strconv.ParseBool(c.Query("verify")); verify {
		op = worker.OpEmbedVerify
	}
	res, ok := run(c, worker.JobPackage{Op: op, Payload: c.PostForm("payload")})
	if !ok {
		return
	}
	writeImage(c, res, res.Text)
}

func (s *Server) detect(c *gin.Context) {
	res, ok := run(c, worker.JobPackage{Op: worker.OpDetect})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"detected": res.Detected, "status": codec.DetectionStatus(res.Detected)}})
}

func (s *Server) decode(c *gin.Context) {
	res, ok := run(c, worker.JobPackage{Op: worker.OpDecode})
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": gin.H{"payload": res.Text}})
}

func (s *Server) residual(c *gin.Context) {
	var scale float64
	if v := c.PostForm("scale"); v != "" {
		var err error
		if scale, err = strconv.ParseFloat(v, 32); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid scale: " + err.Error()})
			return
		}
	}
	res, ok := run(c, worker.JobPackage{Op: worker.OpResidual, Scale: float32(scale)})
	if !ok {
		return
	}
	writeImage(c, res, "")
}

func (s *Server) uploadModel(c *gin.Context) {
	fh, err := c.FormFile("file")
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return
	}
	src, err := fh.Open()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "File upload failed: " + err.Error()})
		return
	}
	defer src.Close()
	dst, path, err := worker.CreateModelFile(fh.Filename)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	n, err := io.Copy(dst, src)
	if cerr := dst.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to save file: " + err.Error()})
		return
	}
	logger.Log().Info("Model uploaded", zap.String("path", path), zap.Int64("bytes", n))
	c.JSON(http.StatusOK, gin.H{"data": path})
}

// Start serves the router on port in the background.
func (s *Server) Start(port int) *http.Server {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Log().Info("HTTP server listening", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("HTTP server failed", zap.Error(err))
		}
	}()
	return srv
}

// Stop shuts srv down, waiting up to timeout for in-flight requests.
func Stop(srv *http.Server, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Log().Warn("HTTP server shutdown", zap.Error(err))
	}
}

package monitor

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"os"
	"sync"
	"time"

	"OnnxMarkServer/logger"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shirou/gopsutil/v4/process"
	"go.uber.org/zap"
)

var (
	PID      process.Process
	Registry = prometheus.NewRegistry()

	memUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "memory_usage_Megabytes",
		Help: "Memory usage in Megabytes",
	})
	cpuUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "cpu_usage_percent",
		Help: "CPU usage in percent",
	})
	GRPCTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "grpc_requests_total",
		Help: "Total number of gRPC requests processed",
	})
	HTTPTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests processed",
	}, []string{"route", "code"})
	Operations = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "watermark_operations_total",
		Help: "Watermark operations by kind and outcome",
	}, []string{"op", "result"})
	InferenceSeconds = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "inference_seconds",
		Help:    "Model forward pass latency",
		Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
	}, []string{"model"})
	Engines = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "engines_loaded",
		Help: "Number of loaded encoder/detector pairs",
	})
)

func init() {
	Registry.MustRegister(memUsage, cpuUsage, GRPCTotal, HTTPTotal, Operations, InferenceSeconds, Engines)
}

// ObserveOperation counts one watermark operation as ok or error.
func ObserveOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	Operations.WithLabelValues(op, result).Inc()
}

var (
	srvMu sync.Mutex
	srv   *http.Server
)

func prom(port int) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(Registry, promhttp.HandlerOpts{Registry: Registry}))
	s := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: mux,
	}
	srvMu.Lock()
	srv = s
	srvMu.Unlock()
	go func() {
		if err := s.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Log().Error("Prometheus server ListenAndServe error", zap.Error(err))
		}
	}()
}

func CheckProcessInfo() {
	memInfo, err := PID.MemoryInfo()
	if err == nil && memInfo != nil {
		memUsage.Set(float64(memInfo.RSS / 1024 / 1024))
	}
	cpuPercent, err := PID.CPUPercent()
	if err == nil {
		cpuUsage.Set(math.Round(cpuPercent*100) / 100)
	}
}

func GotPID() {
	PID.Pid = int32(os.Getpid())
}

// StartMon serves /metrics on port and samples process usage until ctx is
// cancelled.
func StartMon(port int, ctx context.Context) {
	PID = process.Process{}
	GotPID()
	prom(port)
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()
checkPcs:
	for {
		select {
		case <-ctx.Done():
			break checkPcs
		case <-ticker.C:
			CheckProcessInfo()
		}
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	srvMu.Lock()
	s := srv
	srvMu.Unlock()
	if err := s.Shutdown(shutdownCtx); err != nil {
		logger.Log().Error("Prometheus server Shutdown error", zap.Error(err))
	}
}

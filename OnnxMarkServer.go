package main

import (
	"context"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"

	adhoc "OnnxMarkServer/Adhoc"
	"OnnxMarkServer/config"
	"OnnxMarkServer/engine"
	backend "OnnxMarkServer/gRPC"
	"OnnxMarkServer/httpapi"
	"OnnxMarkServer/logger"
	"OnnxMarkServer/monitor"
	"OnnxMarkServer/worker"

	"go.uber.org/zap"
)

func GetOutboundIP() (string, error) {
	// No packet is sent; dialing UDP only resolves the outbound route.
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return "", err
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).IP.String(), nil
}

// preload opens the engines listed in the config. A model that fails to load
// is logged and skipped.
func preload(models []engine.EngineParam) {
	for i, m := range models {
		w, err := engine.LoadWatermarker(m)
		if err != nil {
			logger.Log().Error("Failed to preload engine", zap.Int("index", i), zap.String("encoder", m.EncoderPath), zap.Error(err))
			continue
		}
		if _, err := worker.Add(w, m.Description, engine.SingleThread); err != nil {
			w.Destroy()
			logger.Log().Error("Failed to register engine", zap.Int("index", i), zap.Error(err))
		}
	}
}

func main() {
	cfgPath := flag.String("config", "config.yaml", "path to the YAML config")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	if err := logger.Init(cfg.Development, cfg.LogLevel); err != nil {
		fmt.Fprintln(os.Stderr, "Failed to init logger:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	fmt.Println(strings.Repeat("#", 64))
	fmt.Printf("CPU Cores: %d\n", runtime.NumCPU())
	fmt.Println("  gRPC Port:", cfg.RPCPort)
	fmt.Println("  HTTP Port:", cfg.HTTPPort)
	fmt.Println("Metrics Port:", cfg.MetricsPort)
	fmt.Println("Configured Workers Num:", cfg.WorkersNum)
	fmt.Println(strings.Repeat("#", 64))
	for _, w := range cfg.Normalize() {
		logger.Log().Warn(w)
	}
	if cfg.InstanceClass != engine.InstanceCpu {
		logger.Log().Info("GPU execution provider selected; every worker shares one session per model",
			zap.String("instanceClass", cfg.InstanceClass))
	}

	if err := engine.LoadEngine(cfg.Backend); err != nil {
		logger.Log().Fatal("Failed to load ONNX Runtime", zap.Error(err))
	}
	defer engine.UnloadEngine()

	worker.ModelDir = cfg.ModelDir
	worker.StartWorker(cfg.WorkersNum)
	preload(cfg.Models)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup

	if cfg.UseRegServer {
		ip, err := GetOutboundIP()
		if err != nil {
			logger.Log().Fatal("Failed to get outbound IP", zap.Error(err))
		}
		adhoc.RegServerCfg.SetAddress(cfg.RegServerHost, cfg.RegServerPort)
		wg.Add(1)
		go adhoc.SendAliveMessage(ctx, adhoc.Instance{
			IP:            ip,
			RPCPort:       cfg.RPCPort,
			HTTPPort:      cfg.HTTPPort,
			InstanceClass: cfg.InstanceClass,
		}, &wg)
	} else {
		logger.Log().Info("UseRegServer is set to false, skipping registration")
	}

	server, err := backend.StartGRPCServer(cfg.RPCPort)
	if err != nil {
		logger.Log().Fatal("Failed to start gRPC server", zap.Error(err))
	}
	httpSrv := httpapi.New().Start(cfg.HTTPPort)
	wg.Add(1)
	go func() {
		defer wg.Done()
		monitor.StartMon(cfg.MetricsPort, ctx)
	}()

	select {
	case <-backend.CloseChannel:
		logger.Log().Warn("Shutdown requested over gRPC")
	case <-ctx.Done():
		logger.Log().Warn("Signal received, shutting down")
	}
	stop()
	httpapi.Stop(httpSrv, 5*time.Second)
	server.GracefulStop()
	worker.RemoveAll()
	worker.StopWorker()
	wg.Wait()
	logger.Log().Info("Safely exited")
}

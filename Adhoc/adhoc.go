// Package Adhoc keeps this instance registered with a discovery server by
// posting a heartbeat at a fixed interval.
package Adhoc

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"OnnxMarkServer/logger"
	"OnnxMarkServer/worker"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const TimeOutSeconds = 5

type RegisterRequest struct {
	Id            string   `json:"id"`
	IP            string   `json:"ip"`
	Port          int      `json:"port"`
	HTTPPort      int      `json:"httpPort"`
	InstanceClass string   `json:"instanceClass"`
	Engines       []string `json:"engines"`
	TimeStamp     int64    `json:"timestamp"`
}

type RegisterResponse struct {
	Id      string `json:"id"`
	Success bool   `json:"success"`
}

type RegServerConfig struct {
	Port int
	Addr string
}

func (reg *RegServerConfig) SetAddress(addr string, port int) {
	reg.Addr = addr
	reg.Port = port
}

func (reg RegServerConfig) URL() string {
	return fmt.Sprintf("http://%s:%d/api/register", reg.Addr, reg.Port)
}

var RegServerCfg RegServerConfig

// Instance describes what this process advertises.
type Instance struct {
	IP            string
	RPCPort       int
	HTTPPort      int
	InstanceClass string
}

// EngineList returns the descriptions of the loaded engines, sorted.
func EngineList() []string {
	all := worker.All()
	out := make([]string, 0, len(all))
	for _, w := range all {
		out = append(out, w.Description)
	}
	sort.Strings(out)
	return out
}

type heartbeat struct {
	id     string
	url    string
	inst   Instance
	client *resty.Client
}

func newHeartbeat(url string, inst Instance) *heartbeat {
	return &heartbeat{
		id:     uuid.NewString(),
		url:    url,
		inst:   inst,
		client: resty.New().SetTimeout(TimeOutSeconds * time.Second),
	}
}

func (h *heartbeat) send(ctx context.Context) error {
	var respBody RegisterResponse
	resp, err := h.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(RegisterRequest{
			Id:            h.id,
			IP:            h.inst.IP,
			Port:          h.inst.RPCPort,
			HTTPPort:      h.inst.HTTPPort,
			InstanceClass: h.inst.InstanceClass,
			Engines:       EngineList(),
			TimeStamp:     time.Now().Unix(),
		}).
		SetResult(&respBody).
		Post(h.url)
	if err != nil {
		return fmt.Errorf("request error: %w", err)
	}
	if resp.IsError() {
		return fmt.Errorf("server returned error: %s, body: %s", resp.Status(), resp.String())
	}
	if !respBody.Success {
		return fmt.Errorf("registration rejected for %s", h.id)
	}
	return nil
}

// safeSend logs failures and swallows panics so the loop keeps running.
func (h *heartbeat) safeSend(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("SendAliveMessage panic recovered", zap.Any("panic", r))
		}
	}()
	if err := h.send(ctx); err != nil && ctx.Err() == nil {
		logger.Log().Error("heartbeat failed", zap.String("url", h.url), zap.Error(err))
	}
}

func (h *heartbeat) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	h.safeSend(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Log().Info("SendAliveMessage context cancelled, exiting goroutine.")
			return
		case <-ticker.C:
			h.safeSend(ctx)
		}
	}
}

// SendAliveMessage posts a heartbeat to RegServerCfg every TimeOutSeconds
// until ctx is cancelled.
func SendAliveMessage(ctx context.Context, inst Instance, wg *sync.WaitGroup) {
	defer wg.Done()
	newHeartbeat(RegServerCfg.URL(), inst).run(ctx, TimeOutSeconds*time.Second)
}

package worker

import (
	"errors"
	"fmt"
	"image"
	"maps"
	"runtime"
	"sync"
	"time"

	"OnnxMarkServer/engine"
	"OnnxMarkServer/imageio"
	iface "OnnxMarkServer/interface"
	"OnnxMarkServer/logger"
	"OnnxMarkServer/monitor"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

var (
	ErrEngineNotFound = errors.New("engine not found")
	ErrInvalidImage   = errors.New("invalid image")
	ErrNotRunning     = errors.New("worker pool is not running")
)

type WorkerID struct {
	Backend     iface.Backend
	Description string
	EngineType  int
}

var (
	DSequences = make(map[string]WorkerID)
	mapMu      sync.RWMutex
)

// Add registers a backend and returns its id.
func Add(backend iface.Backend, description string, engineType int) (string, error) {
	if engineType == engine.MultiThread {
		return "", fmt.Errorf("multi-threading is not supported yet")
	}
	if engineType == 0 {
		engineType = engine.SingleThread
	}
	id := uuid.New().String()
	mapMu.Lock()
	DSequences[id] = WorkerID{Backend: backend, Description: description, EngineType: engineType}
	n := len(DSequences)
	mapMu.Unlock()
	monitor.Engines.Set(float64(n))
	logger.Log().Info("Engine added", zap.String("ID", id), zap.String("description", description))
	return id, nil
}

func Get(id string) (WorkerID, error) {
	mapMu.RLock()
	defer mapMu.RUnlock()
	w, ok := DSequences[id]
	if !ok {
		return WorkerID{}, fmt.Errorf("engine with ID %s: %w", id, ErrEngineNotFound)
	}
	return w, nil
}

// Remove destroys and unregisters a backend.
func Remove(id string) error {
	mapMu.Lock()
	w, ok := DSequences[id]
	if !ok {
		mapMu.Unlock()
		return fmt.Errorf("engine with ID %s: %w", id, ErrEngineNotFound)
	}
	delete(DSequences, id)
	n := len(DSequences)
	mapMu.Unlock()
	w.Backend.Destroy()
	monitor.Engines.Set(float64(n))
	logger.Log().Info("Destroyed engine", zap.String("ID", id))
	return nil
}

func All() map[string]WorkerID {
	mapMu.RLock()
	defer mapMu.RUnlock()
	return maps.Clone(DSequences)
}

// RemoveAll destroys every registered backend.
func RemoveAll() {
	mapMu.Lock()
	all := DSequences
	DSequences = make(map[string]WorkerID)
	mapMu.Unlock()
	for _, w := range all {
		w.Backend.Destroy()
	}
	monitor.Engines.Set(0)
}

const (
	OpEmbed = iota
	OpEmbedVerify
	OpDetect
	OpDecode
	OpResidual
)

// JobPackage carries one request for a worker. Image holds encoded bytes.
type JobPackage struct {
	Backend iface.Backend
	Op      int
	Image   []byte
	Payload string
	Scale   float32
	Result  chan JobResult
}

type JobResult struct {
	Image    *image.NRGBA
	Detected bool
	Text     string
	Err      error
}

var (
	JobQueue chan JobPackage
	queueMu  sync.RWMutex
)

// StartWorker creates the job queue and starts workerNum workers on it.
func StartWorker(workerNum int) {
	if workerNum <= 0 {
		workerNum = 1
	}
	queueMu.Lock()
	JobQueue = make(chan JobPackage, workerNum)
	q := JobQueue
	queueMu.Unlock()
	for i := 0; i < workerNum; i++ {
		go runWorker(i, q)
	}
}

// StopWorker closes the queue; workers exit once it drains.
func StopWorker() {
	queueMu.Lock()
	defer queueMu.Unlock()
	if JobQueue != nil {
		close(JobQueue)
		JobQueue = nil
	}
}

// Submit queues a job and waits for its result.
func Submit(job JobPackage) (JobResult, error) {
	queueMu.RLock()
	q := JobQueue
	if q == nil {
		queueMu.RUnlock()
		return JobResult{}, ErrNotRunning
	}
	job.Result = make(chan JobResult, 1)
	q <- job
	queueMu.RUnlock()
	return <-job.Result, nil
}

// Decode is replaceable so tests can run without OpenCV.
var Decode = imageio.LoadNormalizedMat

func runWorker(workerID int, q chan JobPackage) {
	var current *JobPackage
	defer func() {
		if r := recover(); r != nil {
			logger.Log().Error("Worker panic, restarting in 1s", zap.Int("worker", workerID), zap.Any("panic", r))
			if current != nil {
				current.Result <- JobResult{Err: fmt.Errorf("worker panic: %v", r)}
			}
			time.Sleep(1 * time.Second)
			go runWorker(workerID, q)
		}
	}()
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	logger.Log().Debug("Worker created", zap.Int("worker", workerID))
	for job := range q {
		current = &job
		job.Result <- process(job)
		current = nil
	}
}

func process(job JobPackage) JobResult {
	img, err := Decode(job.Image, job.Backend.ImageSize())
	if err != nil {
		return JobResult{Err: fmt.Errorf("%w: %v", ErrInvalidImage, err)}
	}
	var res JobResult
	switch job.Op {
	case OpEmbed:
		res.Image, res.Err = job.Backend.Embed(img, job.Payload)
	case OpEmbedVerify:
		res.Image, res.Text, res.Err = job.Backend.EmbedAndVerify(img, job.Payload)
	case OpDetect:
		res.Detected, res.Err = job.Backend.Detect(img)
	case OpDecode:
		res.Text, res.Err = job.Backend.ExtractPayload(img)
	case OpResidual:
		res.Image, res.Err = job.Backend.Residual(img, job.Scale)
	default:
		res.Err = fmt.Errorf("%w: op %d", engine.ErrUnsupportedOperation, job.Op)
	}
	if res.Err != nil {
		logger.Log().Warn("job failed", zap.Int("op", job.Op), zap.Error(res.Err))
	}
	return res
}

package proto

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"time"

	"OnnxMarkServer/codec"
	"OnnxMarkServer/engine"
	"OnnxMarkServer/imageio"
	iface "OnnxMarkServer/interface"
	"OnnxMarkServer/logger"
	"OnnxMarkServer/monitor"
	"OnnxMarkServer/worker"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

// CloseChannel receives a value when a client asks the server to shut down.
var CloseChannel chan bool

var seqMu sync.Mutex

type Server struct{}

var _ WatermarkServiceServer = (*Server)(nil)

// rpcError turns registry and worker failures into gRPC status errors.
// Codec and inference failures are not errors at this level; they are
// reported in the response body.
func rpcError(err error) error {
	switch {
	case errors.Is(err, worker.ErrEngineNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, worker.ErrInvalidImage):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, worker.ErrNotRunning):
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// failed reports whether err belongs in the response body rather than the
// RPC status.
func failed(err error) bool {
	return errors.Is(err, codec.ErrShapeMismatch) ||
		errors.Is(err, codec.ErrInvalidOutput) ||
		errors.Is(err, iface.ErrInferenceUnavailable) ||
		errors.Is(err, engine.ErrUnsupportedOperation)
}

func submit(id string, job worker.JobPackage) (worker.JobResult, error) {
	w, err := worker.Get(id)
	if err != nil {
		return worker.JobResult{}, rpcError(err)
	}
	job.Backend = w.Backend
	res, err := worker.Submit(job)
	if err != nil {
		return res, rpcError(err)
	}
	if res.Err != nil && !failed(res.Err) {
		return res, rpcError(res.Err)
	}
	return res, nil
}

func (s *Server) InitEngine(ctx context.Context, req *InitEngineRequest) (*InitEngineResponse, error) {
	param := engine.EngineParam{
		Description:   req.Description,
		EncoderPath:   req.EncoderPath,
		DetectorPath:  req.DetectorPath,
		DetectorKind:  req.DetectorKind,
		ImageSize:     int(req.ImageSize),
		PayloadLength: int(req.PayloadLength),
		ResidualScale: req.ResidualScale,
	}
	if err := param.Validate(); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	if int(req.EngineType) == engine.MultiThread {
		return nil, status.Error(codes.InvalidArgument, "multi-threading is not supported yet")
	}
	seqMu.Lock()
	w, err := engine.LoadWatermarker(param)
	seqMu.Unlock()
	if err != nil {
		logger.Log().Error("Failed to initialize engine", zap.String("encoder", req.EncoderPath), zap.Error(err))
		return &InitEngineResponse{Success: false, Message: err.Error()}, nil
	}
	id, err := worker.Add(w, req.Description, int(req.EngineType))
	if err != nil {
		w.Destroy()
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return &InitEngineResponse{
		Success:  true,
		Id:       id,
		Strategy: w.Strategy(),
		Message:  "Successfully initialized engine",
	}, nil
}

func (s *Server) Embed(ctx context.Context, req *EmbedRequest) (*EmbedResponse, error) {
	op := worker.OpEmbed
	if req.Verify {
		op = worker.OpEmbedVerify
	}
	res, err := submit(req.Id, worker.JobPackage{Op: op, Image: req.ImgData, Payload: req.Payload})
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return &EmbedResponse{Success: false, Status: engine.ErrorStatus(res.Err), Message: res.Err.Error()}, nil
	}
	data, err := imageio.EncodePNGBytes(res.Image)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &EmbedResponse{Success: true, ImgData: data, Status: res.Text, Message: "Watermark embedded"}, nil
}

func (s *Server) Detect(ctx context.Context, req *DetectRequest) (*DetectResponse, error) {
	res, err := submit(req.Id, worker.JobPackage{Op: worker.OpDetect, Image: req.ImgData})
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return &DetectResponse{Success: false, Status: engine.ErrorStatus(res.Err), Message: res.Err.Error()}, nil
	}
	return &DetectResponse{Success: true, Detected: res.Detected, Status: codec.DetectionStatus(res.Detected)}, nil
}

func (s *Server) DecodePayload(ctx context.Context, req *DecodePayloadRequest) (*DecodePayloadResponse, error) {
	res, err := submit(req.Id, worker.JobPackage{Op: worker.OpDecode, Image: req.ImgData})
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return &DecodePayloadResponse{Success: false, Message: res.Err.Error()}, nil
	}
	return &DecodePayloadResponse{Success: true, Payload: res.Text}, nil
}

func (s *Server) Residual(ctx context.Context, req *ResidualRequest) (*ResidualResponse, error) {
	res, err := submit(req.Id, worker.JobPackage{Op: worker.OpResidual, Image: req.ImgData, Scale: req.Scale})
	if err != nil {
		return nil, err
	}
	if res.Err != nil {
		return &ResidualResponse{Success: false, Message: res.Err.Error()}, nil
	}
	data, err := imageio.EncodePNGBytes(res.Image)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return &ResidualResponse{Success: true, ImgData: data}, nil
}

func (s *Server) DestroyEngine(ctx context.Context, req *DestroyEngineRequest) (*DestroyEngineResponse, error) {
	if err := worker.Remove(req.Id); err != nil {
		logger.Log().Error("engine not found with ID", zap.String("ID", req.Id))
		return nil, rpcError(err)
	}
	return &DestroyEngineResponse{
		Success: true,
		Message: "Engine destroyed successfully",
	}, nil
}

func engineInfo(id string, w worker.WorkerID) *EngineInfo {
	cfg := w.Backend.CheckConfig()
	return &EngineInfo{
		Id:            id,
		Description:   w.Description,
		EngineType:    int32(w.EngineType),
		EncoderPath:   cfg.Encoder.ModelPath,
		DetectorPath:  cfg.Detector.ModelPath,
		Strategy:      cfg.Strategy,
		DetectorKind:  cfg.DetectorKind,
		ImageSize:     int32(cfg.ImageSize),
		PayloadLength: int32(cfg.PayloadLength),
		ResidualScale: cfg.ResidualScale,
		UseGpu:        cfg.UseGPU,
	}
}

func (s *Server) CheckEngine(ctx context.Context, req *CheckEngineRequest) (*CheckEngineResponse, error) {
	w, err := worker.Get(req.Id)
	if err != nil {
		return nil, rpcError(err)
	}
	return &CheckEngineResponse{
		Success:    true,
		EngineInfo: engineInfo(req.Id, w),
		Message:    "Engine status retrieved successfully",
	}, nil
}

func (s *Server) CheckAllEngine(ctx context.Context, req *emptypb.Empty) (*CheckAllEngineResponse, error) {
	all := worker.All()
	infos := make([]*EngineInfo, 0, len(all))
	for id, w := range all {
		infos = append(infos, engineInfo(id, w))
	}
	return &CheckAllEngineResponse{
		Success: true,
		Engines: infos,
		Message: "All engines status retrieved successfully",
	}, nil
}

func (s *Server) Shutdown(ctx context.Context, req *emptypb.Empty) (*emptypb.Empty, error) {
	logger.Log().Warn("Shutdown requested")
	go func() {
		time.Sleep(2 * time.Second)
		worker.RemoveAll()
		worker.StopWorker()
	}()
	select {
	case CloseChannel <- true:
	default:
	}
	return &emptypb.Empty{}, nil
}

func (s *Server) UploadModel(stream WatermarkService_UploadModelServer) error {
	var outFile *os.File
	var filePath string
	var fileSize int
	defer func() {
		if outFile != nil {
			outFile.Close()
		}
	}()

	for {
		req, err := stream.Recv()
		if err == io.EOF {
			if outFile == nil {
				return status.Error(codes.InvalidArgument, "no file info received")
			}
			if err := outFile.Close(); err != nil {
				return status.Error(codes.Internal, err.Error())
			}
			outFile = nil
			logger.Log().Info("Model uploaded", zap.String("path", filePath), zap.Int("bytes", fileSize))
			return stream.SendAndClose(&UploadFileResponse{
				Success:  true,
				Message:  "File uploaded successfully",
				FilePath: filePath,
			})
		}
		if err != nil {
			return err
		}

		switch {
		case req.FileInfo != nil:
			if outFile != nil {
				return status.Error(codes.InvalidArgument, "file info sent twice")
			}
			outFile, filePath, err = worker.CreateModelFile(req.FileInfo.Name)
			if err != nil {
				return status.Error(codes.InvalidArgument, err.Error())
			}
		case len(req.ChunkData) > 0:
			if outFile == nil {
				return status.Error(codes.FailedPrecondition, "file not opened, please send file info first")
			}
			n, err := outFile.Write(req.ChunkData)
			if err != nil {
				return status.Error(codes.Internal, fmt.Sprintf("failed to write chunk data: %v", err))
			}
			fileSize += n
		}
	}
}

func countUnary(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	monitor.GRPCTotal.Inc()
	resp, err := handler(ctx, req)
	if err != nil {
		logger.Log().Debug("rpc failed", zap.String("method", info.FullMethod), zap.Error(err))
	}
	return resp, err
}

func countStream(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
	monitor.GRPCTotal.Inc()
	return handler(srv, ss)
}

// Serve registers the service on a new server and serves lis in the
// background.
func Serve(lis net.Listener) *grpc.Server {
	if CloseChannel == nil {
		CloseChannel = make(chan bool, 1)
	}
	s := grpc.NewServer(
		grpc.ChainUnaryInterceptor(countUnary),
		grpc.ChainStreamInterceptor(countStream),
	)
	RegisterWatermarkServiceServer(s, &Server{})
	go func() {
		logger.Log().Info("gRPC server listening", zap.String("addr", lis.Addr().String()))
		if err := s.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			logger.Log().Error("Failed to serve gRPC server", zap.Error(err))
		}
	}()
	return s
}

func StartGRPCServer(port int) (*grpc.Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, fmt.Errorf("listen on port %d: %w", port, err)
	}
	return Serve(lis), nil
}

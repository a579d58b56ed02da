package proto

import (
	"context"

	jsoniter "github.com/json-iterator/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/types/known/emptypb"
)

// CodecName is the gRPC content-subtype the service speaks. Clients select it
// with grpc.CallContentSubtype(CodecName); NewClientConn does so by default.
const CodecName = "json"

var json = jsoniter.ConfigCompatibleWithStandardLibrary

type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                       { return CodecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type InitEngineRequest struct {
	Description   string  `json:"description"`
	EncoderPath   string  `json:"encoderPath"`
	DetectorPath  string  `json:"detectorPath"`
	DetectorKind  string  `json:"detectorKind"`
	ImageSize     int32   `json:"imageSize"`
	PayloadLength int32   `json:"payloadLength"`
	ResidualScale float32 `json:"residualScale"`
	EngineType    int32   `json:"engineType"`
}

type InitEngineResponse struct {
	Success  bool   `json:"success"`
	Id       string `json:"id"`
	Strategy string `json:"strategy"`
	Message  string `json:"message"`
}

type EmbedRequest struct {
	Id      string `json:"id"`
	ImgData []byte `json:"imgData"`
	Payload string `json:"payload"`
	Verify  bool   `json:"verify"`
}

type EmbedResponse struct {
	Success bool   `json:"success"`
	ImgData []byte `json:"imgData"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type DetectRequest struct {
	Id      string `json:"id"`
	ImgData []byte `json:"imgData"`
}

type DetectResponse struct {
	Success  bool   `json:"success"`
	Detected bool   `json:"detected"`
	Status   string `json:"status"`
	Message  string `json:"message"`
}

type DecodePayloadRequest struct {
	Id      string `json:"id"`
	ImgData []byte `json:"imgData"`
}

type DecodePayloadResponse struct {
	Success bool   `json:"success"`
	Payload string `json:"payload"`
	Message string `json:"message"`
}

type ResidualRequest struct {
	Id      string  `json:"id"`
	ImgData []byte  `json:"imgData"`
	Scale   float32 `json:"scale"`
}

type ResidualResponse struct {
	Success bool   `json:"success"`
	ImgData []byte `json:"imgData"`
	Message string `json:"message"`
}

type DestroyEngineRequest struct {
	Id string `json:"id"`
}

type DestroyEngineResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

type CheckEngineRequest struct {
	Id string `json:"id"`
}

type EngineInfo struct {
	Id            string  `json:"id"`
	Description   string  `json:"description"`
	EngineType    int32   `json:"engineType"`
	EncoderPath   string  `json:"encoderPath"`
	DetectorPath  string  `json:"detectorPath"`
	Strategy      string  `json:"strategy"`
	DetectorKind  string  `json:"detectorKind"`
	ImageSize     int32   `json:"imageSize"`
	PayloadLength int32   `json:"payloadLength"`
	ResidualScale float32 `json:"residualScale"`
	UseGpu        bool    `json:"useGpu"`
}

type CheckEngineResponse struct {
	Success    bool        `json:"success"`
	EngineInfo *EngineInfo `json:"engineInfo"`
	Message    string      `json:"message"`
}

type CheckAllEngineResponse struct {
	Success bool          `json:"success"`
	Engines []*EngineInfo `json:"engines"`
	Message string        `json:"message"`
}

type FileInfo struct {
	Name string `json:"name"`
}

// UploadFileRequest carries either FileInfo (first message) or ChunkData.
type UploadFileRequest struct {
	FileInfo  *FileInfo `json:"fileInfo,omitempty"`
	ChunkData []byte    `json:"chunkData,omitempty"`
}

type UploadFileResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	FilePath string `json:"filePath"`
}

const serviceName = "watermark.WatermarkService"

type WatermarkServiceServer interface {
	InitEngine(context.Context, *InitEngineRequest) (*InitEngineResponse, error)
	Embed(context.Context, *EmbedRequest) (*EmbedResponse, error)
	Detect(context.Context, *DetectRequest) (*DetectResponse, error)
	DecodePayload(context.Context, *DecodePayloadRequest) (*DecodePayloadResponse, error)
	Residual(context.Context, *ResidualRequest) (*ResidualResponse, error)
	DestroyEngine(context.Context, *DestroyEngineRequest) (*DestroyEngineResponse, error)
	CheckEngine(context.Context, *CheckEngineRequest) (*CheckEngineResponse, error)
	CheckAllEngine(context.Context, *emptypb.Empty) (*CheckAllEngineResponse, error)
	Shutdown(context.Context, *emptypb.Empty) (*emptypb.Empty, error)
	UploadModel(WatermarkService_UploadModelServer) error
}

func unaryHandler[Req any, Resp any](method string, call func(WatermarkServiceServer, context.Context, *Req) (*Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(WatermarkServiceServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + serviceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(WatermarkServiceServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

var WatermarkService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: serviceName,
	HandlerType: (*WatermarkServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		unaryHandler("InitEngine", WatermarkServiceServer.InitEngine),
		unaryHandler("Embed", WatermarkServiceServer.Embed),
		unaryHandler("Detect", WatermarkServiceServer.Detect),
		unaryHandler("DecodePayload", WatermarkServiceServer.DecodePayload),
		unaryHandler("Residual", WatermarkServiceServer.Residual),
		unaryHandler("DestroyEngine", WatermarkServiceServer.DestroyEngine),
		unaryHandler("CheckEngine", WatermarkServiceServer.CheckEngine),
		unaryHandler("CheckAllEngine", WatermarkServiceServer.CheckAllEngine),
		unaryHandler("Shutdown", WatermarkServiceServer.Shutdown),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "UploadModel",
			Handler:       uploadModelHandler,
			ClientStreams: true,
		},
	},
	Metadata: "watermark.proto",
}

func RegisterWatermarkServiceServer(s grpc.ServiceRegistrar, srv WatermarkServiceServer) {
	s.RegisterService(&WatermarkService_ServiceDesc, srv)
}

type WatermarkService_UploadModelServer interface {
	SendAndClose(*UploadFileResponse) error
	Recv() (*UploadFileRequest, error)
	grpc.ServerStream
}

type uploadModelServer struct {
	grpc.ServerStream
}

func (x *uploadModelServer) SendAndClose(m *UploadFileResponse) error {
	return x.ServerStream.SendMsg(m)
}

func (x *uploadModelServer) Recv() (*UploadFileRequest, error) {
	m := new(UploadFileRequest)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func uploadModelHandler(srv any, stream grpc.ServerStream) error {
	return srv.(WatermarkServiceServer).UploadModel(&uploadModelServer{stream})
}

type WatermarkServiceClient interface {
	InitEngine(ctx context.Context, in *InitEngineRequest, opts ...grpc.CallOption) (*InitEngineResponse, error)
	Embed(ctx context.Context, in *EmbedRequest, opts ...grpc.CallOption) (*EmbedResponse, error)
	Detect(ctx context.Context, in *DetectRequest, opts ...grpc.CallOption) (*DetectResponse, error)
	DecodePayload(ctx context.Context, in *DecodePayloadRequest, opts ...grpc.CallOption) (*DecodePayloadResponse, error)
	Residual(ctx context.Context, in *ResidualRequest, opts ...grpc.CallOption) (*ResidualResponse, error)
	DestroyEngine(ctx context.Context, in *DestroyEngineRequest, opts ...grpc.CallOption) (*DestroyEngineResponse, error)
	CheckEngine(ctx context.Context, in *CheckEngineRequest, opts ...grpc.CallOption) (*CheckEngineResponse, error)
	CheckAllEngine(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*CheckAllEngineResponse, error)
	Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error)
	UploadModel(ctx context.Context, opts ...grpc.CallOption) (WatermarkService_UploadModelClient, error)
}

type watermarkServiceClient struct {
	cc grpc.ClientConnInterface
}

func NewWatermarkServiceClient(cc grpc.ClientConnInterface) WatermarkServiceClient {
	return &watermarkServiceClient{cc}
}

func invoke[Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, in any, opts []grpc.CallOption) (*Resp, error) {
	out := new(Resp)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	if err := cc.Invoke(ctx, "/"+serviceName+"/"+method, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *watermarkServiceClient) InitEngine(ctx context.Context, in *InitEngineRequest, opts ...grpc.CallOption) (*InitEngineResponse, error) {
	return invoke[InitEngineResponse](ctx, c.cc, "InitEngine", in, opts)
}

func (c *watermarkServiceClient) Embed(ctx context.Context, in *EmbedRequest, opts ...grpc.CallOption) (*EmbedResponse, error) {
	return invoke[EmbedResponse](ctx, c.cc, "Embed", in, opts)
}

func (c *watermarkServiceClient) Detect(ctx context.Context, in *DetectRequest, opts ...grpc.CallOption) (*DetectResponse, error) {
	return invoke[DetectResponse](ctx, c.cc, "Detect", in, opts)
}

func (c *watermarkServiceClient) DecodePayload(ctx context.Context, in *DecodePayloadRequest, opts ...grpc.CallOption) (*DecodePayloadResponse, error) {
	return invoke[DecodePayloadResponse](ctx, c.cc, "DecodePayload", in, opts)
}

func (c *watermarkServiceClient) Residual(ctx context.Context, in *ResidualRequest, opts ...grpc.CallOption) (*ResidualResponse, error) {
	return invoke[ResidualResponse](ctx, c.cc, "Residual", in, opts)
}

func (c *watermarkServiceClient) DestroyEngine(ctx context.Context, in *DestroyEngineRequest, opts ...grpc.CallOption) (*DestroyEngineResponse, error) {
	return invoke[DestroyEngineResponse](ctx, c.cc, "DestroyEngine", in, opts)
}

func (c *watermarkServiceClient) CheckEngine(ctx context.Context, in *CheckEngineRequest, opts ...grpc.CallOption) (*CheckEngineResponse, error) {
	return invoke[CheckEngineResponse](ctx, c.cc, "CheckEngine", in, opts)
}

func (c *watermarkServiceClient) CheckAllEngine(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*CheckAllEngineResponse, error) {
	return invoke[CheckAllEngineResponse](ctx, c.cc, "CheckAllEngine", in, opts)
}

func (c *watermarkServiceClient) Shutdown(ctx context.Context, in *emptypb.Empty, opts ...grpc.CallOption) (*emptypb.Empty, error) {
	return invoke[emptypb.Empty](ctx, c.cc, "Shutdown", in, opts)
}

type WatermarkService_UploadModelClient interface {
	Send(*UploadFileRequest) error
	CloseAndRecv() (*UploadFileResponse, error)
	grpc.ClientStream
}

type uploadModelClient struct {
	grpc.ClientStream
}

func (x *uploadModelClient) Send(m *UploadFileRequest) error {
	return x.ClientStream.SendMsg(m)
}

func (x *uploadModelClient) CloseAndRecv() (*UploadFileResponse, error) {
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	m := new(UploadFileResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func (c *watermarkServiceClient) UploadModel(ctx context.Context, opts ...grpc.CallOption) (WatermarkService_UploadModelClient, error) {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	stream, err := c.cc.NewStream(ctx, &WatermarkService_ServiceDesc.Streams[0], "/"+serviceName+"/UploadModel", opts...)
	if err != nil {
		return nil, err
	}
	return &uploadModelClient{stream}, nil
}

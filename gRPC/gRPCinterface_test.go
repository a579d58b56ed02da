package proto

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"net"
	"os"
	"path/filepath"
	"testing"

	"OnnxMarkServer/codec"
	"OnnxMarkServer/engine"
	"OnnxMarkServer/engine/enginetest"
	"OnnxMarkServer/imageio"
	"OnnxMarkServer/worker"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
)

func greyPNG(t *testing.T, size int, v uint8) []byte {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func startServer(t *testing.T) WatermarkServiceClient {
	t.Helper()
	oldDecode := worker.Decode
	worker.Decode = imageio.LoadNormalized
	worker.StartWorker(1)

	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	server := Serve(lis)

	conn, err := grpc.NewClient(lis.Addr().String(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)

	t.Cleanup(func() {
		conn.Close()
		server.Stop()
		worker.StopWorker()
		worker.RemoveAll()
		worker.Decode = oldDecode
	})
	return NewWatermarkServiceClient(conn)
}

func TestWatermarkService(t *testing.T) {
	client := startServer(t)
	ctx := context.Background()

	residualID, err := worker.Add(enginetest.NewResidualEngine(8, 0.2), "residual", engine.SingleThread)
	require.NoError(t, err)
	payloadID, err := worker.Add(enginetest.NewPayloadEngine(8, 4), "payload", 0)
	require.NoError(t, err)

	cover := greyPNG(t, 8, 100)

	t.Run("Embed", func(t *testing.T) {
		resp, err := client.Embed(ctx, &EmbedRequest{Id: residualID, ImgData: cover})
		require.NoError(t, err)
		require.True(t, resp.Success, resp.Message)
		img, err := png.Decode(bytes.NewReader(resp.ImgData))
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 8, 8), img.Bounds())
		assert.Equal(t, color.NRGBA{R: 151, G: 151, B: 151, A: 255}, color.NRGBAModel.Convert(img.At(3, 3)))
		assert.Empty(t, resp.Status)
	})

	t.Run("Embed verify", func(t *testing.T) {
		resp, err := client.Embed(ctx, &EmbedRequest{Id: residualID, ImgData: cover, Verify: true})
		require.NoError(t, err)
		require.True(t, resp.Success)
		assert.Equal(t, codec.StatusDetected, resp.Status)

		resp, err = client.Embed(ctx, &EmbedRequest{Id: payloadID, ImgData: cover, Payload: "ok", Verify: true})
		require.NoError(t, err)
		require.True(t, resp.Success)
		assert.Equal(t, "ok", resp.Status)
	})

	t.Run("Detect", func(t *testing.T) {
		resp, err := client.Detect(ctx, &DetectRequest{Id: residualID, ImgData: cover})
		require.NoError(t, err)
		require.True(t, resp.Success)
		assert.False(t, resp.Detected)
		assert.Equal(t, codec.StatusNotDetected, resp.Status)
	})

	t.Run("DecodePayload", func(t *testing.T) {
		embedded, err := client.Embed(ctx, &EmbedRequest{Id: payloadID, ImgData: cover, Payload: "go"})
		require.NoError(t, err)
		resp, err := client.DecodePayload(ctx, &DecodePayloadRequest{Id: payloadID, ImgData: embedded.ImgData})
		require.NoError(t, err)
		require.True(t, resp.Success)
		assert.Equal(t, "go", resp.Payload)
	})

	t.Run("Unsupported operations fail in the body", func(t *testing.T) {
		resp, err := client.DecodePayload(ctx, &DecodePayloadRequest{Id: residualID, ImgData: cover})
		require.NoError(t, err)
		assert.False(t, resp.Success)
		assert.NotEmpty(t, resp.Message)

		res, err := client.Residual(ctx, &ResidualRequest{Id: payloadID, ImgData: cover})
		require.NoError(t, err)
		assert.False(t, res.Success)
	})

	t.Run("Residual", func(t *testing.T) {
		resp, err := client.Residual(ctx, &ResidualRequest{Id: residualID, ImgData: cover, Scale: 2})
		require.NoError(t, err)
		require.True(t, resp.Success)
		img, err := png.Decode(bytes.NewReader(resp.ImgData))
		require.NoError(t, err)
		r, _, _, _ := img.At(0, 0).RGBA()
		assert.Equal(t, uint32(102), r>>8)
	})

	t.Run("Unknown id", func(t *testing.T) {
		_, err := client.Detect(ctx, &DetectRequest{Id: "missing", ImgData: cover})
		assert.Equal(t, codes.NotFound, status.Code(err))
		_, err = client.CheckEngine(ctx, &CheckEngineRequest{Id: "missing"})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})

	t.Run("Invalid image", func(t *testing.T) {
		_, err := client.Detect(ctx, &DetectRequest{Id: residualID, ImgData: []byte("not an image")})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("CheckEngine", func(t *testing.T) {
		resp, err := client.CheckEngine(ctx, &CheckEngineRequest{Id: payloadID})
		require.NoError(t, err)
		info := resp.EngineInfo
		assert.Equal(t, "payload", info.Description)
		assert.Equal(t, engine.StrategyDirectEmbed, info.Strategy)
		assert.Equal(t, "decode", info.DetectorKind)
		assert.Equal(t, int32(8), info.ImageSize)
		assert.Equal(t, int32(4), info.PayloadLength)
		assert.Equal(t, int32(engine.SingleThread), info.EngineType)
	})

	t.Run("CheckAllEngine", func(t *testing.T) {
		resp, err := client.CheckAllEngine(ctx, &emptypb.Empty{})
		require.NoError(t, err)
		assert.Len(t, resp.Engines, 2)
	})

	t.Run("InitEngine rejects bad requests", func(t *testing.T) {
		_, err := client.InitEngine(ctx, &InitEngineRequest{DetectorPath: "d.onnx"})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
		_, err = client.InitEngine(ctx, &InitEngineRequest{EncoderPath: "e.onnx", DetectorPath: "d.onnx", EngineType: engine.MultiThread})
		assert.Equal(t, codes.InvalidArgument, status.Code(err))
	})

	t.Run("DestroyEngine", func(t *testing.T) {
		resp, err := client.DestroyEngine(ctx, &DestroyEngineRequest{Id: residualID})
		require.NoError(t, err)
		assert.True(t, resp.Success)
		_, err = client.DestroyEngine(ctx, &DestroyEngineRequest{Id: residualID})
		assert.Equal(t, codes.NotFound, status.Code(err))
	})
}

func TestUploadModel(t *testing.T) {
	client := startServer(t)
	old := worker.ModelDir
	worker.ModelDir = t.TempDir()
	t.Cleanup(func() { worker.ModelDir = old })

	stream, err := client.UploadModel(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Send(&UploadFileRequest{FileInfo: &FileInfo{Name: "../encoder.onnx"}}))
	require.NoError(t, stream.Send(&UploadFileRequest{ChunkData: []byte("abc")}))
	require.NoError(t, stream.Send(&UploadFileRequest{ChunkData: []byte("def")}))
	resp, err := stream.CloseAndRecv()
	require.NoError(t, err)
	assert.True(t, resp.Success)
	assert.Equal(t, filepath.Join(worker.ModelDir, "encoder.onnx"), resp.FilePath)

	data, err := os.ReadFile(resp.FilePath)
	require.NoError(t, err)
	assert.Equal(t, "abcdef", string(data))
}

func TestUploadModel_ChunkBeforeInfo(t *testing.T) {
	client := startServer(t)
	stream, err := client.UploadModel(context.Background())
	require.NoError(t, err)
	require.NoError(t, stream.Send(&UploadFileRequest{ChunkData: []byte("abc")}))
	_, err = stream.CloseAndRecv()
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestShutdownSignals(t *testing.T) {
	client := startServer(t)
	_, err := client.Shutdown(context.Background(), &emptypb.Empty{})
	require.NoError(t, err)
	select {
	case <-CloseChannel:
	default:
		t.Fatal("shutdown was not signalled")
	}
}

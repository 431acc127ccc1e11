package observer

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"image/jpeg"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/selfie-capture/internal/capture"
	"github.com/example/selfie-capture/internal/logging"
)

// ObserveMethod is the full gRPC method name of the detector.
const ObserveMethod = "/faceobserver.v1.FaceObserver/Observe"

// GRPCObserver calls a remote face detector. Requests and responses are
// google.protobuf.Struct messages.
type GRPCObserver struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

// Dial returns a ready-to-use observer for the detector at addr.
func Dial(ctx context.Context, addr string, logger *zap.Logger) (*GRPCObserver, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("observer.dial", "", err)
		logger.Error("failed to dial face observer", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewGRPCObserver(conn, logger), conn, nil
}

// NewGRPCObserver wraps an existing connection.
func NewGRPCObserver(conn grpc.ClientConnInterface, logger *zap.Logger) *GRPCObserver {
	return &GRPCObserver{conn: conn, logger: logger.Named("face_observer")}
}

// Observe implements capture.FaceObserver.
func (g *GRPCObserver) Observe(ctx context.Context, frame capture.Frame) ([]capture.Observation, error) {
	if frame.Image == nil {
		return nil, capture.ErrNoFrame
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, frame.Image, &jpeg.Options{Quality: 80}); err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	bounds := frame.Image.Bounds()
	req, err := structpb.NewStruct(map[string]interface{}{
		"seq":    float64(frame.Seq),
		"width":  float64(bounds.Dx()),
		"height": float64(bounds.Dy()),
		"frame":  base64.StdEncoding.EncodeToString(buf.Bytes()),
	})
	if err != nil {
		return nil, fmt.Errorf("build observe request: %w", err)
	}

	resp := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, ObserveMethod, req, resp); err != nil {
		wrapped := logging.NewOperationError("observer.observe", "", err)
		g.logger.Debug("face observer call failed", zap.Error(wrapped), zap.Uint64("frame_seq", frame.Seq))
		return nil, wrapped
	}
	return decodeDetection(resp).Observations(frame.Seq), nil
}

// decodeDetection reads {error, stable, faces:[{x,y,width,height,roll,yaw,quality}]}.
func decodeDetection(resp *structpb.Struct) Detection {
	fields := resp.GetFields()
	var d Detection
	if v, ok := fields["error"]; ok {
		d.Error = v.GetStringValue()
	}
	if v, ok := fields["stable"]; ok {
		d.Unstable = !v.GetBoolValue()
	}
	for _, item := range fields["faces"].GetListValue().GetValues() {
		f := item.GetStructValue().GetFields()
		face := Face{
			BoundingBox: capture.Rect{
				X:      f["x"].GetNumberValue(),
				Y:      f["y"].GetNumberValue(),
				Width:  f["width"].GetNumberValue(),
				Height: f["height"].GetNumberValue(),
			},
			Roll: f["roll"].GetNumberValue(),
			Yaw:  f["yaw"].GetNumberValue(),
		}
		if q, ok := f["quality"]; ok {
			quality := q.GetNumberValue()
			face.Quality = &quality
		}
		d.Faces = append(d.Faces, face)
	}
	return d
}

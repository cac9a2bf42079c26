package pb

import (
	"context"
	"encoding/json"

	"google.golang.org/grpc"
	"google.golang.org/grpc/encoding"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Recognizer sidecar wire surface. The sidecar ships its own .proto; these
// hand-rolled stubs mirror it and speak the json content subtype so no
// generated code is needed on the kiosk side.

type BoundingBox struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

type IdentifyRequest struct {
	// FrameRef names the frame in the exchange the detector wrote it to.
	FrameRef string       `json:"frame_ref"`
	Box      *BoundingBox `json:"box"`
	// PadRatio widens the crop on every side before embedding.
	PadRatio float64 `json:"pad_ratio,omitempty"`
}

type Candidate struct {
	SubjectId  string  `json:"subject_id"`
	Confidence float64 `json:"confidence"`
}

type IdentifyResponse struct {
	// Candidates are ordered best first; empty when no face embeds.
	Candidates []*Candidate `json:"candidates"`
}

type GallerySubject struct {
	SubjectId  string   `json:"subject_id"`
	Embeddings [][]byte `json:"embeddings"`
}

type SyncGalleryRequest struct {
	Subjects []*GallerySubject `json:"subjects"`
}

type SyncGalleryResponse struct {
	Loaded int32 `json:"loaded"`
	// SyncedAt is when the sidecar installed the gallery snapshot.
	SyncedAt *timestamppb.Timestamp `json:"synced_at,omitempty"`
}

type RecognizerClient interface {
	Identify(ctx context.Context, in *IdentifyRequest, opts ...grpc.CallOption) (*IdentifyResponse, error)
	SyncGallery(ctx context.Context, in *SyncGalleryRequest, opts ...grpc.CallOption) (*SyncGalleryResponse, error)
}

type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error)      { return json.Marshal(v) }
func (jsonCodec) Unmarshal(data []byte, v interface{}) error { return json.Unmarshal(data, v) }
func (jsonCodec) Name() string                               { return "json" }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type recognizerClient struct {
	cc grpc.ClientConnInterface
}

func NewRecognizerClient(cc grpc.ClientConnInterface) RecognizerClient {
	return &recognizerClient{cc: cc}
}

func (c *recognizerClient) Identify(ctx context.Context, in *IdentifyRequest, opts ...grpc.CallOption) (*IdentifyResponse, error) {
	out := new(IdentifyResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype("json")}, opts...)
	if err := c.cc.Invoke(ctx, "/recognizer.v1.Recognizer/Identify", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *recognizerClient) SyncGallery(ctx context.Context, in *SyncGalleryRequest, opts ...grpc.CallOption) (*SyncGalleryResponse, error) {
	out := new(SyncGalleryResponse)
	opts = append([]grpc.CallOption{grpc.CallContentSubtype("json")}, opts...)
	if err := c.cc.Invoke(ctx, "/recognizer.v1.Recognizer/SyncGallery", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// MockRecognizerClient returns canned responses for tests.
type MockRecognizerClient struct {
	Resp      *IdentifyResponse
	Err       error
	GallerySz int
}

func (m *MockRecognizerClient) Identify(ctx context.Context, in *IdentifyRequest, opts ...grpc.CallOption) (*IdentifyResponse, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if m.Resp != nil {
		return m.Resp, nil
	}
	return &IdentifyResponse{}, nil
}

func (m *MockRecognizerClient) SyncGallery(ctx context.Context, in *SyncGalleryRequest, opts ...grpc.CallOption) (*SyncGalleryResponse, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.GallerySz = len(in.Subjects)
	return &SyncGalleryResponse{Loaded: int32(len(in.Subjects)), SyncedAt: timestamppb.Now()}, nil
}

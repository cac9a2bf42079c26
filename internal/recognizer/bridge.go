package recognizer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"

	"github.com/shiftgate/kiosk/internal/circuitbreaker"
	"github.com/shiftgate/kiosk/internal/directory"
	"github.com/shiftgate/kiosk/internal/monitoring"
	"github.com/shiftgate/kiosk/pb"
)

const (
	// acceptThreshold is the minimum candidate confidence treated as a match.
	acceptThreshold = 0.6
	// retryPadRatio widens the crop on the single retry.
	retryPadRatio = 0.25

	callTimeout = 2 * time.Second
)

// Bridge is the production Identifier talking to the embedder sidecar.
type Bridge struct {
	client  pb.RecognizerClient
	breaker *circuitbreaker.CircuitBreaker
	metrics *monitoring.Metrics
	logger  *log.Logger
}

// Dial opens the sidecar channel. Nil creds dial insecure; the sidecar is a
// localhost container in the default deployment.
func Dial(target string, creds credentials.TransportCredentials) (*grpc.ClientConn, error) {
	if creds == nil {
		creds = insecure.NewCredentials()
	}
	conn, err := grpc.NewClient(target, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to recognizer sidecar: %w", err)
	}
	return conn, nil
}

func NewBridge(client pb.RecognizerClient, metrics *monitoring.Metrics) *Bridge {
	return &Bridge{
		client:  client,
		breaker: circuitbreaker.ForRecognizer(),
		metrics: metrics,
		logger:  log.New(log.Writer(), "[Recognizer] ", log.LstdFlags),
	}
}

// Breaker exposes the sidecar breaker for health reporting.
func (b *Bridge) Breaker() *circuitbreaker.CircuitBreaker { return b.breaker }

// Identify asks the sidecar who the sighting is. A failed or empty first
// attempt gets one retry with a widened crop; anything after that is
// unknown.
func (b *Bridge) Identify(ctx context.Context, frameRef string, box pb.BoundingBox) Match {
	start := time.Now()
	defer func() {
		b.metrics.ObserveRecognizerLatency(time.Since(start).Seconds())
	}()

	match, err := b.attempt(ctx, frameRef, box, 0)
	if breakerRejected(err) {
		b.metrics.RecordRecognizerFailure("circuit_open")
		return Match{}
	}
	if err == nil && match.Known() {
		return match
	}

	match, err = b.attempt(ctx, frameRef, box, retryPadRatio)
	if err != nil {
		if breakerRejected(err) {
			b.metrics.RecordRecognizerFailure("circuit_open")
		} else {
			b.metrics.RecordRecognizerFailure("transport")
			b.logger.Printf("⚠️ Identify failed, treating as unknown: %v", err)
		}
		return Match{}
	}
	if !match.Known() {
		b.metrics.RecordRecognizerFailure("empty")
	}
	return match
}

func (b *Bridge) attempt(ctx context.Context, frameRef string, box pb.BoundingBox, pad float64) (Match, error) {
	callCtx, cancel := context.WithTimeout(ctx, callTimeout)
	defer cancel()

	res, err := b.breaker.ExecuteContext(callCtx, func(c context.Context) (interface{}, error) {
		return b.client.Identify(c, &pb.IdentifyRequest{
			FrameRef: frameRef,
			Box:      &box,
			PadRatio: pad,
		})
	})
	if err != nil {
		return Match{}, err
	}

	resp := res.(*pb.IdentifyResponse)
	if len(resp.Candidates) == 0 {
		return Match{}, nil
	}
	best := resp.Candidates[0]
	if best.Confidence < acceptThreshold {
		return Match{}, nil
	}
	return Match{SubjectID: best.SubjectId, Confidence: best.Confidence}, nil
}

func breakerRejected(err error) bool {
	return errors.Is(err, circuitbreaker.ErrCircuitOpen) ||
		errors.Is(err, circuitbreaker.ErrTooManyRequests)
}

// GallerySync pushes every enrolled face template to the sidecar. Runs at
// startup and after enrolment changes; bypasses the breaker because the
// caller wants the real error.
func (b *Bridge) GallerySync(ctx context.Context, dir directory.Directory) (int, error) {
	subjects, err := dir.AllWithEmbeddings(ctx)
	if err != nil {
		return 0, fmt.Errorf("gallery sync: %w", err)
	}

	req := &pb.SyncGalleryRequest{Subjects: make([]*pb.GallerySubject, 0, len(subjects))}
	for _, s := range subjects {
		req.Subjects = append(req.Subjects, &pb.GallerySubject{
			SubjectId:  s.ID,
			Embeddings: s.Embeddings,
		})
	}

	resp, err := b.client.SyncGallery(ctx, req)
	if err != nil {
		return 0, fmt.Errorf("gallery sync: %w", err)
	}
	b.logger.Printf("✅ Gallery synced: %d subjects loaded", resp.Loaded)
	return int(resp.Loaded), nil
}

var _ Identifier = (*Bridge)(nil)

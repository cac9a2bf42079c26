package engine

import (
	"context"
	"time"

	"github.com/shiftgate/kiosk/internal/intake"
	"github.com/shiftgate/kiosk/internal/sighting"
)

type identifyJob struct {
	detection intake.Detection
}

// detectionPump moves frames from the mailbox into the loop, one at a
// time. The mailbox already keeps only the freshest frame, so a busy loop
// costs dropped frames, never a growing queue.
func (e *Engine) detectionPump(ctx context.Context) {
	for {
		d, ok := e.mailbox.Receive(ctx)
		if !ok {
			e.logger.Printf("📡 detection mailbox closed — vision intake stopped")
			return
		}
		e.post(ctx, &envelope{kind: msgDetection, detection: d})
	}
}

// handleDetection runs the warm-up filter on one frame. Only a ready
// verdict costs a recognition call, and that call happens off-loop.
func (e *Engine) handleDetection(ctx context.Context, d intake.Detection) {
	cfg := e.settings.Current()
	verdict := e.filter.Observe(sighting.Observation{
		Frame:      d.FrameIndex,
		X:          d.Box.X,
		Y:          d.Box.Y,
		W:          d.Box.Width,
		H:          d.Box.Height,
		Confidence: d.Confidence,
	}, e.clock.Now(), sighting.Config{
		Enabled:            cfg.WarmupEnabled,
		Frames:             cfg.WarmupFrames,
		StabilityThreshold: cfg.WarmupStabilityThreshold,
		Cooldown:           cfg.RecognitionCooldown(),
	})

	e.metrics.RecordSightingVerdict(string(verdict.Phase))
	e.emitTrace(verdict)

	if verdict.Phase != sighting.PhaseReady || e.identifier == nil {
		return
	}
	select {
	case e.identifyCh <- identifyJob{detection: d}:
	default:
		// One identification at a time; the recognition cooldown makes
		// a second ready verdict this close rare.
		e.logger.Printf("⚠️  identify worker busy — dropping ready sighting frame=%d", d.FrameIndex)
	}
}

// identifyWorker is the slow lane: it blocks on the recognizer so the loop
// never does, and posts matches back as messages.
func (e *Engine) identifyWorker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case job := <-e.identifyCh:
			start := time.Now()
			match := e.identifier.Identify(ctx, job.detection.FrameRef, job.detection.Box)
			e.metrics.ObserveRecognizerLatency(time.Since(start).Seconds())
			e.post(ctx, &envelope{kind: msgIdentified, match: match, detection: job.detection})
		}
	}
}

// Package intake normalizes everything that can assert an identity at the
// kiosk (detector sightings, badge scans, manual taps) before it reaches the
// attendance engine.
package intake

import (
	"github.com/shiftgate/kiosk/internal/core"
	"github.com/shiftgate/kiosk/internal/shift"
	"github.com/shiftgate/kiosk/pb"
)

// Detection is one detector frame pushed over the websocket.
type Detection struct {
	FrameIndex uint64         `json:"frame_index"`
	Box        pb.BoundingBox `json:"bbox"`
	Confidence float64        `json:"confidence"`
	FrameRef   string         `json:"frame_ref"`
}

// IdentityEvent is a normalized identity submission. Exactly one of
// SubjectID or Code is set: sightings and manual taps carry the subject id,
// badge scans carry the raw code for the engine to resolve.
type IdentityEvent struct {
	SubjectID string
	Code      string
	Method    core.Method
	Intent    shift.Intent
	// Location is the inline destination for manual checkout flows; when
	// nil, location-gated actions park until the picker resolves.
	Location  *core.Location
	Emergency *core.Emergency
}

// Package identity fetches the station's SPIFFE workload identity from a
// SPIRE agent and turns it into transport credentials for the recognizer
// channel.
package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/spiffe/go-spiffe/v2/spiffeid"
	"github.com/spiffe/go-spiffe/v2/spiffetls/tlsconfig"
	"github.com/spiffe/go-spiffe/v2/workloadapi"
	"google.golang.org/grpc/credentials"
)

// Identity wraps the X.509 SVID source obtained from the local SPIRE agent.
// The source rotates certificates in the background and must outlive every
// connection built from it, so a station keeps one for the whole process.
type Identity struct {
	source *workloadapi.X509Source
}

// NewIdentity connects to the SPIRE agent on the given workload API socket.
// The dial is bounded so a missing agent fails startup quickly instead of
// hanging it.
func NewIdentity(socketPath string) (*Identity, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	source, err := workloadapi.NewX509Source(
		ctx,
		workloadapi.WithClientOptions(workloadapi.WithAddr(socketPath)),
	)
	if err != nil {
		return nil, fmt.Errorf("workloadapi.NewX509Source(%s): %w", socketPath, err)
	}
	return &Identity{source: source}, nil
}

// ID reports the SPIFFE ID the agent issued to this station, e.g.
// spiffe://shiftgate.example.com/kiosk/lobby-1.
func (idn *Identity) ID() (string, error) {
	svid, err := idn.source.GetX509SVID()
	if err != nil {
		return "", fmt.Errorf("fetch SVID: %w", err)
	}
	return svid.ID.String(), nil
}

// GRPCCredentials builds mTLS transport credentials for the recognizer
// channel. A non-empty expectedID pins the sidecar's SPIFFE ID; empty accepts
// any peer in the trust domain.
func (idn *Identity) GRPCCredentials(expectedID string) (credentials.TransportCredentials, error) {
	authorizer := tlsconfig.AuthorizeAny()
	if expectedID != "" {
		peer, err := spiffeid.FromString(expectedID)
		if err != nil {
			return nil, fmt.Errorf("invalid SPIFFE ID %q: %w", expectedID, err)
		}
		authorizer = tlsconfig.AuthorizeID(peer)
	}
	return credentials.NewTLS(tlsconfig.MTLSClientConfig(idn.source, idn.source, authorizer)), nil
}

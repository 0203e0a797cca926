package orchestrator

import (
	"go.uber.org/atomic"

	"github.com/go-webrtc/callorch/internal/devices"
	"github.com/go-webrtc/callorch/internal/domain"
	"github.com/go-webrtc/callorch/internal/rtcpeer"
)

// state is the Call data model of spec.md §3, owned exclusively by the
// orchestrator's event-loop goroutine. Every field except the atomic flags
// is read and written only from inside a dispatched request.
type state struct {
	RoomID      string
	Constraints domain.MediaConstraints

	Finished  *atomic.Bool
	Matched   *atomic.Bool
	Connected *atomic.Bool

	LocalStream  *devices.Stream
	RemoteStream *RemoteStream

	ExternalControls domain.ExternalControls

	ICEFailed                    *atomic.Bool
	ListeningForNetworkChange    *atomic.Bool
	RunningDisconnectionStrategy *atomic.Bool

	Peer *rtcpeer.Peer

	networkSub domain.Subscription
}

func newState() *state {
	return &state{
		Finished:                     atomic.NewBool(false),
		Matched:                      atomic.NewBool(false),
		Connected:                    atomic.NewBool(false),
		ICEFailed:                    atomic.NewBool(false),
		ListeningForNetworkChange:    atomic.NewBool(false),
		RunningDisconnectionStrategy: atomic.NewBool(false),
	}
}

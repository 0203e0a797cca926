package domain

import (
	"context"
	"time"
)

// Signaler is the outbound half of the signaling contract (spec §6):
// a bidirectional typed channel carried over whatever transport the host
// wires up. Any transport satisfying this contract qualifies.
type Signaler interface {
	Connect(ctx context.Context, roomID string) error
	Disconnect(ctx context.Context, roomID string) error
	Finish(ctx context.Context, roomID string) error
	SendSDPOffer(ctx context.Context, roomID string, sdp SDPPayload) error
	SendSDPAnswer(ctx context.Context, roomID string, sdp SDPPayload) error
	SendICECandidate(ctx context.Context, roomID string, candidate ICECandidatePayload) error
	Close() error
}

// SignalHandler is the inbound half of the signaling contract: the
// orchestrator implements this and the Signaler delivers events to it.
type SignalHandler interface {
	OnOpen()
	OnClose()
	OnSignalError(err error)
	OnNewPeer(id string)
	OnNewOffer(sdp SDPPayload)
	OnNewAnswer(sdp SDPPayload)
	OnNewICECandidate(candidate ICECandidatePayload)
	OnFinished(id string)
}

// MediaProvider is the pluggable media-device backend (spec §6): camera,
// microphone, and screen acquisition.
type MediaProvider interface {
	EnumerateDevices(ctx context.Context) ([]DeviceInfo, error)
	GetUserMedia(ctx context.Context, constraints MediaConstraints) (LocalStream, error)
	GetDisplayMedia(ctx context.Context, constraints MediaConstraints) (LocalStream, error)
}

// LocalStream is a local media acquisition result: a composite of zero or
// one video track and zero or one audio track, each independently
// enable-toggleable and stoppable, as produced by a MediaProvider.
type LocalStream interface {
	VideoTrack() LocalTrack
	AudioTrack() LocalTrack
	Stop()
}

// LocalTrack is one locally-produced media track.
type LocalTrack interface {
	Kind() DeviceKind
	Enabled() bool
	SetEnabled(bool)
	DeviceID() string
	// SwitchCamera attempts a mobile-style in-place camera flip. Returns
	// false when the runtime does not expose that primitive.
	SwitchCamera() bool
	Stop()
}

// NetworkStatus is the pluggable network-reachability probe (spec §6).
type NetworkStatus interface {
	IsOnline(ctx context.Context, timeout time.Duration) bool
	OnChange(cb func(online bool)) Subscription
}

// Subscription is a removable event-listener handle, resolving the
// "off('change', cb) calls on instead of a removal primitive" ambiguity
// (spec §9) with an explicit Unsubscribe.
type Subscription interface {
	Unsubscribe()
}

// Statistics is the pluggable bitrate-statistics backend (spec §6).
type Statistics interface {
	Find(ctx context.Context, peer RTCPeer) (BitrateSample, error)
}

// RTCPeer is the subset of the host-provided RTC peer-connection surface
// the orchestrator depends on, expressed as an interface so the
// orchestrator can be tested without a real pion/webrtc PeerConnection.
type RTCPeer interface {
	SignalingState() string
	ICEConnectionState() string
	ICEGatheringState() string
	ConnectionState() string

	CreateOffer(ctx context.Context, iceRestart bool) (SDPPayload, error)
	CreateAnswer(ctx context.Context) (SDPPayload, error)
	SetLocalDescription(ctx context.Context, sdp SDPPayload) error
	SetRemoteDescription(ctx context.Context, sdp SDPPayload) error
	AddICECandidate(ctx context.Context, candidate ICECandidatePayload) error
	RestartICE() error

	AddLocalTracks(stream LocalStream) error
	ReplaceLocalTracks(stream LocalStream) error
	SendersCount() int
	CreateDataChannel(label string) error
	SendData(data []byte) error
	DataChannelOpen() bool

	Close() error
}

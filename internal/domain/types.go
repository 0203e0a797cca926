// Package domain holds the data model and external-collaborator
// contracts shared across the call orchestrator's packages.
package domain

import "time"

// SDPPayload is the JSON structure for SDP offer/answer signaling messages.
type SDPPayload struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// ICECandidatePayload is the JSON structure for ICE candidate signaling messages.
type ICECandidatePayload struct {
	SDPMid        string `json:"sdpMid"`
	SDPMLineIndex int    `json:"sdpMLineIndex"`
	Candidate     string `json:"candidate"`
}

// ExternalControls is the peer-reported audio/video-enabled state,
// received over the data channel.
type ExternalControls struct {
	Audio bool `json:"audio"`
	Video bool `json:"video"`
}

// ControlMessage is the data-channel envelope used to push ExternalControls
// to the remote peer.
type ControlMessage struct {
	Type string           `json:"type"`
	Data ExternalControls `json:"data"`
}

// ControlMessageType is the data-channel message type carrying ExternalControls.
const ControlMessageType = "ec"

// DeviceKind enumerates the media device kinds a MediaProvider can report.
type DeviceKind string

const (
	DeviceKindVideoInput  DeviceKind = "videoinput"
	DeviceKindAudioInput  DeviceKind = "audioinput"
	DeviceKindAudioOutput DeviceKind = "audiooutput"
)

// Facing describes which way a video input device points, when known.
type Facing string

const (
	FacingFront Facing = "front"
	FacingBack  Facing = "back"
)

// DeviceInfo describes one enumerated media device.
type DeviceInfo struct {
	DeviceID string
	Kind     DeviceKind
	Label    string
	Facing   Facing // may be empty when unknown
}

// MediaConstraints carries the caller-supplied acquisition preferences for
// Start/ShareScreen/ShareVideo. The fields are opaque key/value pairs so the
// orchestrator never has to understand a particular MediaProvider's
// constraint dialect.
type MediaConstraints struct {
	Video map[string]any
	Audio map[string]any
}

// BandwidthLimit is the configured SDP bandwidth cap. Unlimited disables
// bandwidth-line enforcement entirely.
type BandwidthLimit struct {
	Unlimited  bool
	KilobitsPS int
}

// Unlimited is the sentinel "no cap" bandwidth configuration.
var Unlimited = BandwidthLimit{Unlimited: true}

// Kbps constructs a positive bandwidth cap.
func Kbps(n int) BandwidthLimit {
	return BandwidthLimit{KilobitsPS: n}
}

// BitrateChannel identifies one of the four bitrate-sampling channels.
type BitrateChannel int

const (
	ChannelInboundVideo BitrateChannel = iota
	ChannelOutboundVideo
	ChannelInboundAudio
	ChannelOutboundAudio
)

// Direction-grouped bitrate in kbps, as returned by a Statistics provider.
type DirectionBitrate struct {
	Input  int
	Output int
}

// BitrateSample is the fully populated {video, audio} bitrate record
// returned by a Statistics provider or Bitrate Sampler call.
type BitrateSample struct {
	Video DirectionBitrate
	Audio DirectionBitrate
}

// ByChannel returns the kbps value for the given channel.
func (b BitrateSample) ByChannel(c BitrateChannel) int {
	switch c {
	case ChannelInboundVideo:
		return b.Video.Input
	case ChannelOutboundVideo:
		return b.Video.Output
	case ChannelInboundAudio:
		return b.Audio.Input
	case ChannelOutboundAudio:
		return b.Audio.Output
	default:
		return 0
	}
}

// StatSample is one retained {bytes, timestamp} observation for a single
// bitrate channel.
type StatSample struct {
	Bytes     uint64
	Timestamp time.Time
	Valid     bool
}

// ICEServer is one STUN/TURN server entry for the peer connection's
// RTCConfiguration.
type ICEServer struct {
	URLs       []string
	Username   string
	Credential string
}

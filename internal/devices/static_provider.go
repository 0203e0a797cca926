package devices

import (
	"context"

	"github.com/go-webrtc/callorch/internal/domain"
)

// staticTrack is a fixture domain.LocalTrack: it carries an enabled flag
// and a device ID but never produces real RTP, for demo wiring that needs
// a MediaProvider without OS camera/microphone access.
type staticTrack struct {
	kind     domain.DeviceKind
	deviceID string
	enabled  bool
}

func (t *staticTrack) Kind() domain.DeviceKind { return t.kind }
func (t *staticTrack) Enabled() bool           { return t.enabled }
func (t *staticTrack) SetEnabled(v bool)       { t.enabled = v }
func (t *staticTrack) DeviceID() string        { return t.deviceID }
func (t *staticTrack) SwitchCamera() bool      { return false }
func (t *staticTrack) Stop()                   {}

// staticStream is the domain.LocalStream StaticProvider hands back from
// GetUserMedia/GetDisplayMedia.
type staticStream struct {
	video, audio domain.LocalTrack
}

func (s *staticStream) VideoTrack() domain.LocalTrack { return s.video }
func (s *staticStream) AudioTrack() domain.LocalTrack { return s.audio }
func (s *staticStream) Stop()                         {}

// StaticProvider is a fixture domain.MediaProvider backed by a fixed
// device list, for running the demo CLI and orchestrator tests without
// OS-level camera/microphone/display access.
type StaticProvider struct {
	Devices []domain.DeviceInfo
}

// NewStaticProvider creates a StaticProvider with one front-facing camera,
// one back-facing camera, one microphone, and one speaker.
func NewStaticProvider() *StaticProvider {
	return &StaticProvider{
		Devices: []domain.DeviceInfo{
			{DeviceID: "static-camera-front", Kind: domain.DeviceKindVideoInput, Label: "Static Front Camera", Facing: domain.FacingFront},
			{DeviceID: "static-camera-back", Kind: domain.DeviceKindVideoInput, Label: "Static Back Camera", Facing: domain.FacingBack},
			{DeviceID: "static-mic", Kind: domain.DeviceKindAudioInput, Label: "Static Microphone"},
			{DeviceID: "static-speaker", Kind: domain.DeviceKindAudioOutput, Label: "Static Speaker"},
		},
	}
}

// EnumerateDevices implements domain.MediaProvider.
func (p *StaticProvider) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	return p.Devices, nil
}

// GetUserMedia implements domain.MediaProvider: returns a fixture stream
// using whichever device IDs constraints requested, defaulting to the
// first enumerated device of each kind.
func (p *StaticProvider) GetUserMedia(ctx context.Context, constraints domain.MediaConstraints) (domain.LocalStream, error) {
	return &staticStream{
		video: &staticTrack{kind: domain.DeviceKindVideoInput, deviceID: p.deviceIDFor(constraints.Video, domain.DeviceKindVideoInput), enabled: true},
		audio: &staticTrack{kind: domain.DeviceKindAudioInput, deviceID: p.deviceIDFor(constraints.Audio, domain.DeviceKindAudioInput), enabled: true},
	}, nil
}

// GetDisplayMedia implements domain.MediaProvider: a fixture screen-share
// stream with a synthetic device ID, carrying video only.
func (p *StaticProvider) GetDisplayMedia(ctx context.Context, constraints domain.MediaConstraints) (domain.LocalStream, error) {
	return &staticStream{
		video: &staticTrack{kind: domain.DeviceKindVideoInput, deviceID: "static-screen", enabled: true},
	}, nil
}

func (p *StaticProvider) deviceIDFor(constraint map[string]any, kind domain.DeviceKind) string {
	if id, ok := constraint["deviceId"].(string); ok && id != "" {
		return id
	}
	for _, d := range p.Devices {
		if d.Kind == kind {
			return d.DeviceID
		}
	}
	return ""
}

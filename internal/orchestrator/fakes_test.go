package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/go-webrtc/callorch/internal/config"
	"github.com/go-webrtc/callorch/internal/domain"
)

// fakeTrack and fakeStream mirror devices' coordinator_test.go fixtures;
// kept local since devices' are package-private.
type fakeTrack struct {
	kind    domain.DeviceKind
	enabled bool
}

func (t *fakeTrack) Kind() domain.DeviceKind { return t.kind }
func (t *fakeTrack) Enabled() bool           { return t.enabled }
func (t *fakeTrack) SetEnabled(v bool)       { t.enabled = v }
func (t *fakeTrack) DeviceID() string        { return "" }
func (t *fakeTrack) SwitchCamera() bool      { return false }
func (t *fakeTrack) Stop()                   {}

type fakeStream struct {
	video, audio domain.LocalTrack
	stopped      bool
}

func (s *fakeStream) VideoTrack() domain.LocalTrack { return s.video }
func (s *fakeStream) AudioTrack() domain.LocalTrack { return s.audio }
func (s *fakeStream) Stop()                         { s.stopped = true }

func newFakeStream() *fakeStream {
	return &fakeStream{
		video: &fakeTrack{kind: domain.DeviceKindVideoInput, enabled: true},
		audio: &fakeTrack{kind: domain.DeviceKindAudioInput, enabled: true},
	}
}

type fakeProvider struct {
	acquireErr error
	calls      int
}

func (p *fakeProvider) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	return []domain.DeviceInfo{
		{DeviceID: "cam-1", Kind: domain.DeviceKindVideoInput, Label: "Camera"},
		{DeviceID: "mic-1", Kind: domain.DeviceKindAudioInput, Label: "Mic"},
	}, nil
}

func (p *fakeProvider) GetUserMedia(ctx context.Context, c domain.MediaConstraints) (domain.LocalStream, error) {
	p.calls++
	if p.acquireErr != nil {
		return nil, p.acquireErr
	}
	return newFakeStream(), nil
}

func (p *fakeProvider) GetDisplayMedia(ctx context.Context, c domain.MediaConstraints) (domain.LocalStream, error) {
	return newFakeStream(), nil
}

// rtpFakeTrack is a LocalTrack backed by a real webrtc.TrackLocalStaticSample
// (unlike fakeTrack, which deliberately has no RTP-capable backing), so it
// satisfies rtcpeer's unexported rtpTrack capability and exercises
// AddLocalTracks/ReplaceLocalTracks through an actual pion sender.
type rtpFakeTrack struct {
	kind    domain.DeviceKind
	track   *webrtc.TrackLocalStaticSample
	enabled bool
}

func newRTPFakeTrack(kind domain.DeviceKind, id string) *rtpFakeTrack {
	codec := webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeH264}
	if kind == domain.DeviceKindAudioInput {
		codec = webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus}
	}
	tr, err := webrtc.NewTrackLocalStaticSample(codec, id, "fake-stream")
	if err != nil {
		panic(err)
	}
	return &rtpFakeTrack{kind: kind, track: tr, enabled: true}
}

func (t *rtpFakeTrack) Kind() domain.DeviceKind     { return t.kind }
func (t *rtpFakeTrack) Enabled() bool               { return t.enabled }
func (t *rtpFakeTrack) SetEnabled(v bool)           { t.enabled = v }
func (t *rtpFakeTrack) DeviceID() string            { return t.track.ID() }
func (t *rtpFakeTrack) SwitchCamera() bool          { return false }
func (t *rtpFakeTrack) Stop()                       {}
func (t *rtpFakeTrack) RTPTrack() webrtc.TrackLocal { return t.track }

type rtpFakeStream struct {
	video, audio domain.LocalTrack
}

func (s *rtpFakeStream) VideoTrack() domain.LocalTrack { return s.video }
func (s *rtpFakeStream) AudioTrack() domain.LocalTrack { return s.audio }
func (s *rtpFakeStream) Stop()                         {}

// rtpFakeProvider enumerates two camera devices and mints a fresh
// rtpFakeTrack (with a distinct track ID) on every GetUserMedia call, so a
// device switch is observable by comparing VideoTrack().DeviceID() across
// calls.
type rtpFakeProvider struct {
	n int
}

func (p *rtpFakeProvider) EnumerateDevices(ctx context.Context) ([]domain.DeviceInfo, error) {
	return []domain.DeviceInfo{
		{DeviceID: "cam-1", Kind: domain.DeviceKindVideoInput, Label: "Camera 1"},
		{DeviceID: "cam-2", Kind: domain.DeviceKindVideoInput, Label: "Camera 2"},
	}, nil
}

func (p *rtpFakeProvider) GetUserMedia(ctx context.Context, c domain.MediaConstraints) (domain.LocalStream, error) {
	p.n++
	video := newRTPFakeTrack(domain.DeviceKindVideoInput, fmt.Sprintf("video-%d", p.n))
	audio := newRTPFakeTrack(domain.DeviceKindAudioInput, fmt.Sprintf("audio-%d", p.n))
	return &rtpFakeStream{video: video, audio: audio}, nil
}

func (p *rtpFakeProvider) GetDisplayMedia(ctx context.Context, c domain.MediaConstraints) (domain.LocalStream, error) {
	return p.GetUserMedia(ctx, c)
}

type sdpCall struct {
	roomID string
	sdp    domain.SDPPayload
}

type fakeSignaler struct {
	connectErr    error
	connectCalls  []string
	finishCalls   []string
	disconnectN   int
	offers        []sdpCall
	answers       []sdpCall
	candidates    []domain.ICECandidatePayload
}

func (s *fakeSignaler) Connect(ctx context.Context, roomID string) error {
	s.connectCalls = append(s.connectCalls, roomID)
	return s.connectErr
}
func (s *fakeSignaler) Disconnect(ctx context.Context, roomID string) error {
	s.disconnectN++
	return nil
}
func (s *fakeSignaler) Finish(ctx context.Context, roomID string) error {
	s.finishCalls = append(s.finishCalls, roomID)
	return nil
}
func (s *fakeSignaler) SendSDPOffer(ctx context.Context, roomID string, sdp domain.SDPPayload) error {
	s.offers = append(s.offers, sdpCall{roomID, sdp})
	return nil
}
func (s *fakeSignaler) SendSDPAnswer(ctx context.Context, roomID string, sdp domain.SDPPayload) error {
	s.answers = append(s.answers, sdpCall{roomID, sdp})
	return nil
}
func (s *fakeSignaler) SendICECandidate(ctx context.Context, roomID string, c domain.ICECandidatePayload) error {
	s.candidates = append(s.candidates, c)
	return nil
}
func (s *fakeSignaler) Close() error { return nil }

type fakeNetwork struct {
	online bool
}

func (n *fakeNetwork) IsOnline(ctx context.Context, timeout time.Duration) bool {
	return n.online
}
func (n *fakeNetwork) OnChange(cb func(bool)) domain.Subscription {
	return noopSubscription{}
}

type noopSubscription struct{}

func (noopSubscription) Unsubscribe() {}

type fakeStatistics struct {
	sample domain.BitrateSample
}

func (f *fakeStatistics) Find(ctx context.Context, peer domain.RTCPeer) (domain.BitrateSample, error) {
	return f.sample, nil
}

func newTestOrchestrator(signaler domain.Signaler, network domain.NetworkStatus, provider domain.MediaProvider, stats domain.Statistics) *Orchestrator {
	o := New(config.DefaultOptions(), network, provider, stats, nil)
	o.SetSignaler(signaler)
	return o
}

// Package rtcpeer wraps a single pion/webrtc PeerConnection + DataChannel
// pair and exposes exactly the listener-registration and operation surface
// the Call Orchestrator needs (spec §4.6), generalized from the teacher's
// internal/webrtc.Peer and grounded secondarily on
// livekit-server-sdk-go/transport.go's PCTransport for pending-candidate
// buffering and debounced negotiation.
package rtcpeer

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bep/debounce"
	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	"github.com/pion/webrtc/v4"
	"github.com/sirupsen/logrus"

	"github.com/go-webrtc/callorch/internal/domain"
)

// negotiationDebounce matches livekit-server-sdk-go's PCTransport: several
// OnNegotiationNeeded firings in quick succession collapse into one offer.
const negotiationDebounce = 150 * time.Millisecond

// Config carries the construction-time parameters for a Peer.
type Config struct {
	ICEServers []domain.ICEServer
	DataLabel  string
}

// rtpTrack is the optional capability a concrete domain.LocalTrack may
// implement to expose its underlying pion TrackLocal; LocalTrack itself
// stays free of any pion/webrtc dependency so fixtures/tests never need one.
type rtpTrack interface {
	RTPTrack() webrtc.TrackLocal
}

// Peer wraps one *webrtc.PeerConnection + *webrtc.DataChannel and implements
// domain.RTCPeer, plus an On* listener-registration surface the
// orchestrator wires directly (it owns a *Peer concretely, not just the
// interface, per the spec's cyclic-ownership note).
type Peer struct {
	pc  *webrtc.PeerConnection
	dc  *webrtc.DataChannel
	log *logrus.Entry

	mu                sync.Mutex
	pendingCandidates []webrtc.ICECandidateInit
	remoteDescSet     bool
	debouncedNegotiate func(func())

	onNegotiationNeeded       func()
	onICECandidate            func(domain.ICECandidatePayload)
	onICEConnectionStateChange func(string)
	onConnectionStateChange   func(string)
	onSignalingStateChange    func(string)
	onICEGatheringStateChange func(string)
	onTrack                   func(*webrtc.TrackRemote, *webrtc.RTPReceiver)
	onDataChannelMessage      func([]byte)
	onDataChannelOpen         func()
	onDataChannelClose        func()
}

// New creates a PeerConnection with H264 + PCMU codec registration and a
// NACK responder interceptor (the teacher's exact codec/interceptor setup),
// plus one DataChannel labeled cfg.DataLabel for the external-controls
// protocol.
func New(cfg Config, log *logrus.Entry) (*Peer, error) {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}

	m := &webrtc.MediaEngine{}
	h264 := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:    webrtc.MimeTypeH264,
			ClockRate:   90000,
			SDPFmtpLine: "level-asymmetry-allowed=1;packetization-mode=0;profile-level-id=64001f",
		},
		PayloadType: 121,
	}
	if err := m.RegisterCodec(h264, webrtc.RTPCodecTypeVideo); err != nil {
		return nil, fmt.Errorf("rtcpeer: register h264: %w", err)
	}
	pcmu := webrtc.RTPCodecParameters{
		RTPCodecCapability: webrtc.RTPCodecCapability{
			MimeType:  webrtc.MimeTypePCMU,
			ClockRate: 8000,
			Channels:  1,
		},
		PayloadType: 0,
	}
	if err := m.RegisterCodec(pcmu, webrtc.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("rtcpeer: register pcmu: %w", err)
	}

	reg := &interceptor.Registry{}
	responder, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("rtcpeer: nack responder: %w", err)
	}
	reg.Add(responder)

	api := webrtc.NewAPI(webrtc.WithMediaEngine(m), webrtc.WithInterceptorRegistry(reg))

	var servers []webrtc.ICEServer
	for _, s := range cfg.ICEServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(webrtc.Configuration{
		ICEServers:   servers,
		BundlePolicy: webrtc.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("rtcpeer: new peer connection: %w", err)
	}

	label := cfg.DataLabel
	if label == "" {
		label = "controls"
	}
	dc, err := pc.CreateDataChannel(label, nil)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("rtcpeer: create data channel: %w", err)
	}

	p := &Peer{
		pc:                 pc,
		dc:                 dc,
		log:                log,
		debouncedNegotiate: debounce.New(negotiationDebounce),
	}
	p.wireCallbacks()
	return p, nil
}

func (p *Peer) wireCallbacks() {
	p.pc.OnNegotiationNeeded(func() {
		p.debouncedNegotiate(func() {
			p.mu.Lock()
			cb := p.onNegotiationNeeded
			p.mu.Unlock()
			if cb != nil {
				cb()
			}
		})
	})
	p.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		json := c.ToJSON()
		sdpMid := ""
		if json.SDPMid != nil {
			sdpMid = *json.SDPMid
		}
		sdpMLineIndex := 0
		if json.SDPMLineIndex != nil {
			sdpMLineIndex = int(*json.SDPMLineIndex)
		}
		p.mu.Lock()
		cb := p.onICECandidate
		p.mu.Unlock()
		if cb != nil {
			cb(domain.ICECandidatePayload{SDPMid: sdpMid, SDPMLineIndex: sdpMLineIndex, Candidate: json.Candidate})
		}
	})
	p.pc.OnICEConnectionStateChange(func(s webrtc.ICEConnectionState) {
		p.mu.Lock()
		cb := p.onICEConnectionStateChange
		p.mu.Unlock()
		if cb != nil {
			cb(s.String())
		}
	})
	p.pc.OnConnectionStateChange(func(s webrtc.PeerConnectionState) {
		p.mu.Lock()
		cb := p.onConnectionStateChange
		p.mu.Unlock()
		if cb != nil {
			cb(s.String())
		}
	})
	p.pc.OnSignalingStateChange(func(s webrtc.SignalingState) {
		p.mu.Lock()
		cb := p.onSignalingStateChange
		p.mu.Unlock()
		if cb != nil {
			cb(s.String())
		}
	})
	p.pc.OnICEGatheringStateChange(func(s webrtc.ICEGatheringState) {
		p.mu.Lock()
		cb := p.onICEGatheringStateChange
		p.mu.Unlock()
		if cb != nil {
			cb(s.String())
		}
	})
	p.pc.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		p.mu.Lock()
		cb := p.onTrack
		p.mu.Unlock()
		if cb != nil {
			cb(track, receiver)
		}
	})
	p.dc.OnOpen(func() {
		p.mu.Lock()
		cb := p.onDataChannelOpen
		p.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
	p.dc.OnClose(func() {
		p.mu.Lock()
		cb := p.onDataChannelClose
		p.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
	p.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.mu.Lock()
		cb := p.onDataChannelMessage
		p.mu.Unlock()
		if cb != nil {
			cb(msg.Data)
		}
	})
}

// OnNegotiationNeeded registers the negotiation-needed listener, fired on
// the debounced schedule.
func (p *Peer) OnNegotiationNeeded(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onNegotiationNeeded = cb
}

// OnICECandidate registers the locally-gathered-candidate listener.
func (p *Peer) OnICECandidate(cb func(domain.ICECandidatePayload)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICECandidate = cb
}

// OnICEConnectionStateChange registers the ICE connection state listener.
func (p *Peer) OnICEConnectionStateChange(cb func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICEConnectionStateChange = cb
}

// OnConnectionStateChange registers the overall connection state listener.
func (p *Peer) OnConnectionStateChange(cb func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onConnectionStateChange = cb
}

// OnSignalingStateChange registers the signaling state listener.
func (p *Peer) OnSignalingStateChange(cb func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onSignalingStateChange = cb
}

// OnICEGatheringStateChange registers the ICE gathering state listener.
func (p *Peer) OnICEGatheringStateChange(cb func(string)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onICEGatheringStateChange = cb
}

// OnTrack registers the remote-track listener.
func (p *Peer) OnTrack(cb func(*webrtc.TrackRemote, *webrtc.RTPReceiver)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onTrack = cb
}

// OnDataChannelMessage registers the inbound data-channel message listener.
func (p *Peer) OnDataChannelMessage(cb func([]byte)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDataChannelMessage = cb
}

// OnDataChannelOpen registers the data-channel-open listener.
func (p *Peer) OnDataChannelOpen(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDataChannelOpen = cb
}

// OnDataChannelClose registers the data-channel-close listener.
func (p *Peer) OnDataChannelClose(cb func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onDataChannelClose = cb
}

// SignalingState implements domain.RTCPeer.
func (p *Peer) SignalingState() string { return p.pc.SignalingState().String() }

// ICEConnectionState implements domain.RTCPeer.
func (p *Peer) ICEConnectionState() string { return p.pc.ICEConnectionState().String() }

// ICEGatheringState implements domain.RTCPeer.
func (p *Peer) ICEGatheringState() string { return p.pc.ICEGatheringState().String() }

// ConnectionState implements domain.RTCPeer.
func (p *Peer) ConnectionState() string { return p.pc.ConnectionState().String() }

// CreateOffer creates and sets the local offer description, optionally
// requesting an ICE restart.
func (p *Peer) CreateOffer(ctx context.Context, iceRestart bool) (domain.SDPPayload, error) {
	offer, err := p.pc.CreateOffer(&webrtc.OfferOptions{ICERestart: iceRestart})
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("rtcpeer: create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("rtcpeer: set local description (offer): %w", err)
	}
	return domain.SDPPayload{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

// CreateAnswer creates and sets the local answer description.
func (p *Peer) CreateAnswer(ctx context.Context) (domain.SDPPayload, error) {
	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return domain.SDPPayload{}, fmt.Errorf("rtcpeer: create answer: %w", err)
	}
	if err := p.pc.SetLocalDescription(answer); err != nil {
		return domain.SDPPayload{}, fmt.Errorf("rtcpeer: set local description (answer): %w", err)
	}
	return domain.SDPPayload{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

// SetLocalDescription overwrites the local description with an already
// rewritten SDP (e.g. after sdprewrite.Rewriter has applied a bandwidth cap).
func (p *Peer) SetLocalDescription(ctx context.Context, sdp domain.SDPPayload) error {
	desc := webrtc.SessionDescription{Type: parseSDPType(sdp.Type), SDP: sdp.SDP}
	if err := p.pc.SetLocalDescription(desc); err != nil {
		return fmt.Errorf("rtcpeer: set local description: %w", err)
	}
	return nil
}

// SetRemoteDescription sets the remote description and drains any ICE
// candidates buffered while it was unset.
func (p *Peer) SetRemoteDescription(ctx context.Context, sdp domain.SDPPayload) error {
	desc := webrtc.SessionDescription{Type: parseSDPType(sdp.Type), SDP: sdp.SDP}
	if err := p.pc.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("rtcpeer: set remote description: %w", err)
	}

	p.mu.Lock()
	pending := p.pendingCandidates
	p.pendingCandidates = nil
	p.remoteDescSet = true
	p.mu.Unlock()

	for _, c := range pending {
		if err := p.pc.AddICECandidate(c); err != nil {
			return fmt.Errorf("rtcpeer: add buffered ice candidate: %w", err)
		}
	}
	return nil
}

// AddICECandidate adds candidate immediately if the remote description is
// already set, otherwise buffers it (the teacher's blocking-channel
// approach is replaced with an explicit buffer so callers never block a
// goroutine waiting on another event-loop step).
func (p *Peer) AddICECandidate(ctx context.Context, candidate domain.ICECandidatePayload) error {
	sdpMLineIndex := uint16(candidate.SDPMLineIndex)
	init := webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &candidate.SDPMid,
		SDPMLineIndex: &sdpMLineIndex,
	}

	p.mu.Lock()
	if !p.remoteDescSet {
		p.pendingCandidates = append(p.pendingCandidates, init)
		p.mu.Unlock()
		return nil
	}
	p.mu.Unlock()

	if err := p.pc.AddICECandidate(init); err != nil {
		return fmt.Errorf("rtcpeer: add ice candidate: %w", err)
	}
	return nil
}

// RestartICE always returns an error: pion's PeerConnection has no
// host-side ICE restart primitive. Callers restart ICE by sending an offer
// created with CreateOffer(ctx, true) instead.
func (p *Peer) RestartICE() error {
	return fmt.Errorf("rtcpeer: restart ice: not supported by pion PeerConnection, use an ICE-restart offer")
}

// AddLocalTracks adds stream's video/audio tracks to the peer connection.
// A track that does not implement rtpTrack (e.g. a test fixture) is
// skipped rather than erroring, since not every LocalTrack needs to carry
// real RTP media.
func (p *Peer) AddLocalTracks(stream domain.LocalStream) error {
	for _, track := range []domain.LocalTrack{stream.VideoTrack(), stream.AudioTrack()} {
		if track == nil {
			continue
		}
		rt, ok := track.(rtpTrack)
		if !ok {
			continue
		}
		if _, err := p.pc.AddTrack(rt.RTPTrack()); err != nil {
			return fmt.Errorf("rtcpeer: add track: %w", err)
		}
	}
	return nil
}

// ReplaceLocalTracks swaps in stream's video/audio tracks for whatever the
// peer connection is currently sending, using RTPSender.ReplaceTrack on a
// sender that already matches the track's kind and AddTrack only for a kind
// with no sender yet. pion never detaches a sender once AddTrack has been
// called, so a device switch that called AddLocalTracks again would just
// pile up a second sender for the same kind while the old, stopped track's
// sender keeps sending silence.
func (p *Peer) ReplaceLocalTracks(stream domain.LocalStream) error {
	for _, track := range []domain.LocalTrack{stream.VideoTrack(), stream.AudioTrack()} {
		if track == nil {
			continue
		}
		rt, ok := track.(rtpTrack)
		if !ok {
			continue
		}
		newTrack := rt.RTPTrack()

		var sender *webrtc.RTPSender
		for _, s := range p.pc.GetSenders() {
			if cur := s.Track(); cur != nil && cur.Kind() == newTrack.Kind() {
				sender = s
				break
			}
		}
		if sender != nil {
			if err := sender.ReplaceTrack(newTrack); err != nil {
				return fmt.Errorf("rtcpeer: replace track: %w", err)
			}
			continue
		}
		if _, err := p.pc.AddTrack(newTrack); err != nil {
			return fmt.Errorf("rtcpeer: add track: %w", err)
		}
	}
	return nil
}

// Stats returns the underlying peer connection's current statistics
// report, consulted by Statistics' bitrate sampling.
func (p *Peer) Stats() webrtc.StatsReport {
	return p.pc.GetStats()
}

// SendersCount reports how many RTP senders are currently attached, so a
// caller can check that no duplicate sender has piled up for a kind.
func (p *Peer) SendersCount() int {
	return len(p.pc.GetSenders())
}

// CreateDataChannel replaces the data channel with a freshly created one
// labeled label, rewiring the On* callbacks already registered.
func (p *Peer) CreateDataChannel(label string) error {
	dc, err := p.pc.CreateDataChannel(label, nil)
	if err != nil {
		return fmt.Errorf("rtcpeer: create data channel: %w", err)
	}
	p.mu.Lock()
	p.dc = dc
	p.mu.Unlock()
	p.wireDataChannel(dc)
	return nil
}

func (p *Peer) wireDataChannel(dc *webrtc.DataChannel) {
	dc.OnOpen(func() {
		p.mu.Lock()
		cb := p.onDataChannelOpen
		p.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
	dc.OnClose(func() {
		p.mu.Lock()
		cb := p.onDataChannelClose
		p.mu.Unlock()
		if cb != nil {
			cb()
		}
	})
	dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		p.mu.Lock()
		cb := p.onDataChannelMessage
		p.mu.Unlock()
		if cb != nil {
			cb(msg.Data)
		}
	})
}

// SendData writes data as a binary message on the data channel.
func (p *Peer) SendData(data []byte) error {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	if dc == nil {
		return fmt.Errorf("rtcpeer: no data channel")
	}
	if err := dc.Send(data); err != nil {
		return fmt.Errorf("rtcpeer: send data: %w", err)
	}
	return nil
}

// DataChannelOpen reports whether the data channel is ready to send.
func (p *Peer) DataChannelOpen() bool {
	p.mu.Lock()
	dc := p.dc
	p.mu.Unlock()
	return dc != nil && dc.ReadyState() == webrtc.DataChannelStateOpen
}

// Close nils every callback slot before closing the data channel and peer
// connection, breaking the cyclic-ownership hazard where a late-firing
// pion callback could otherwise reach back into a torn-down orchestrator.
func (p *Peer) Close() error {
	p.mu.Lock()
	p.onNegotiationNeeded = nil
	p.onICECandidate = nil
	p.onICEConnectionStateChange = nil
	p.onConnectionStateChange = nil
	p.onSignalingStateChange = nil
	p.onICEGatheringStateChange = nil
	p.onTrack = nil
	p.onDataChannelMessage = nil
	p.onDataChannelOpen = nil
	p.onDataChannelClose = nil
	dc := p.dc
	pc := p.pc
	p.mu.Unlock()

	if dc != nil {
		dc.Close()
	}
	if pc != nil {
		return pc.Close()
	}
	return nil
}

func parseSDPType(t string) webrtc.SDPType {
	switch t {
	case "offer":
		return webrtc.SDPTypeOffer
	case "answer":
		return webrtc.SDPTypeAnswer
	case "pranswer":
		return webrtc.SDPTypePranswer
	case "rollback":
		return webrtc.SDPTypeRollback
	default:
		return webrtc.SDPTypeOffer
	}
}

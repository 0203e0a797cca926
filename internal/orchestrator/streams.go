package orchestrator

import (
	"io"

	"github.com/pion/webrtc/v4"

	"github.com/go-webrtc/callorch/internal/rtcpeer"
)

// RemoteStream is the peer-stream assembly result of spec.md §4.4's
// "Peer-stream assembly" paragraph: the composite of the remote peer's
// video and audio tracks, as they arrive via successive OnTrack callbacks.
type RemoteStream struct {
	Video *webrtc.TrackRemote
	Audio *webrtc.TrackRemote
}

// HasVideo reports whether a remote video track has been assembled.
func (s *RemoteStream) HasVideo() bool { return s != nil && s.Video != nil }

// HasAudio reports whether a remote audio track has been assembled.
func (s *RemoteStream) HasAudio() bool { return s != nil && s.Audio != nil }

// addTrack folds one inbound track into the remote stream, replacing any
// prior track of the same kind (a fresh negotiation may swap the remote's
// media source, e.g. camera to screen-share).
func (o *Orchestrator) addTrack(track *webrtc.TrackRemote) {
	if o.state.RemoteStream == nil {
		o.state.RemoteStream = &RemoteStream{}
	}
	switch track.Kind() {
	case webrtc.RTPCodecTypeVideo:
		o.state.RemoteStream.Video = track
	case webrtc.RTPCodecTypeAudio:
		o.state.RemoteStream.Audio = track
	}

	// The ended listener spec.md §4.4 calls for is expressed as a read
	// loop: pion's TrackRemote has no separate "ended" callback, so ended
	// is detected the same way EOF would be — the next ReadRTP call
	// returning an error. Draining here also keeps the receiver's RTCP
	// interceptor chain (NACK responder) fed. peer and dump are captured
	// here, on the loop goroutine, rather than read from watchTrack's own
	// goroutine, since state.Peer/videoDump are otherwise only ever
	// touched on the loop goroutine.
	go o.watchTrack(track, o.state.Peer, o.videoDump)
}

func (o *Orchestrator) watchTrack(track *webrtc.TrackRemote, peer *rtcpeer.Peer, dump io.Writer) {
	if track.Kind() == webrtc.RTPCodecTypeVideo && dump != nil {
		if err := peer.DumpVideoTrack(track, dump); err != nil {
			o.log.WithError(err).Debug("orchestrator: video dump track ended")
		}
		o.enqueue(func() { o.handleTrackEnded(track) })
		return
	}
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			o.enqueue(func() { o.handleTrackEnded(track) })
			return
		}
	}
}

func (o *Orchestrator) handleTrackEnded(track *webrtc.TrackRemote) {
	if o.state.RemoteStream == nil {
		return
	}
	switch track.Kind() {
	case webrtc.RTPCodecTypeVideo:
		if o.state.RemoteStream.Video == track {
			o.state.RemoteStream.Video = nil
		}
	case webrtc.RTPCodecTypeAudio:
		if o.state.RemoteStream.Audio == track {
			o.state.RemoteStream.Audio = nil
		}
	}
	o.emitTrackChange()
}

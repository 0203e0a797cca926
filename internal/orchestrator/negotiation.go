package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/go-webrtc/callorch/internal/domain"
	"github.com/go-webrtc/callorch/internal/events"
	"github.com/go-webrtc/callorch/internal/rtcpeer"
)

// The Orchestrator is the domain.SignalHandler for its whole lifetime —
// installed once at construction time by whatever wires the Signaler,
// satisfying spec.md §4.4's "install signaling listeners once".

// OnOpen implements domain.SignalHandler.
func (o *Orchestrator) OnOpen() {
	o.run(func() {
		o.state.Connected.Store(true)
		o.events.EmitChange()
	})
}

// OnClose implements domain.SignalHandler.
func (o *Orchestrator) OnClose() {
	o.run(func() {
		o.state.Connected.Store(false)
		o.events.EmitChange()
	})
}

// OnSignalError implements domain.SignalHandler: signaling errors from the
// server are forwarded verbatim (spec.md §7).
func (o *Orchestrator) OnSignalError(err error) {
	o.run(func() { o.events.EmitError(err) })
}

// OnNewPeer implements domain.SignalHandler: enters the offerer path.
func (o *Orchestrator) OnNewPeer(id string) {
	o.run(func() {
		if o.state.Finished.Load() || o.state.RoomID == "" {
			return
		}
		o.handleNewPeerLocked(context.Background())
	})
}

// OnNewOffer implements domain.SignalHandler: enters the answerer path.
func (o *Orchestrator) OnNewOffer(sdp domain.SDPPayload) {
	o.run(func() { o.handleNewOfferLocked(context.Background(), sdp) })
}

// OnNewAnswer implements domain.SignalHandler.
func (o *Orchestrator) OnNewAnswer(sdp domain.SDPPayload) {
	o.run(func() { o.handleNewAnswerLocked(context.Background(), sdp) })
}

// OnNewICECandidate implements domain.SignalHandler.
func (o *Orchestrator) OnNewICECandidate(candidate domain.ICECandidatePayload) {
	o.run(func() { o.handleNewICECandidateLocked(context.Background(), candidate) })
}

// OnFinished implements domain.SignalHandler: the remote peer hung up.
func (o *Orchestrator) OnFinished(id string) {
	o.run(func() {
		o.cleanLocked()
		o.events.EmitChange()
	})
}

// handlePeerCreationFailedLocked folds peer-connection construction failure
// into the connection-failed recovery path: spec.md §4.4 groups "connection
// failed / peer creation failed" under the same network-probe-gated
// restart-call trigger.
func (o *Orchestrator) handlePeerCreationFailedLocked(ctx context.Context, err error) {
	o.log.WithError(err).Warn("orchestrator: peer connection creation failed")
	if o.state.Finished.Load() {
		return
	}
	roomID := o.state.RoomID
	constraints := o.state.Constraints
	go o.runConnectionFailedRecovery(roomID, constraints)
}

// handleNewPeerLocked is the offerer path (spec.md §4.4).
func (o *Orchestrator) handleNewPeerLocked(ctx context.Context) {
	if o.state.Finished.Load() {
		return
	}
	if err := o.createPeerConnectionLocked(); err != nil {
		o.handlePeerCreationFailedLocked(ctx, err)
		return
	}
	if o.state.LocalStream != nil {
		if err := o.state.Peer.AddLocalTracks(o.state.LocalStream); err != nil {
			o.log.WithError(err).Warn("orchestrator: offerer add local tracks failed")
		}
	}
	// The negotiationneeded listener installed in wirePeerCallbacksLocked fires
	// the actual offer creation once pion observes the added tracks and
	// data channel, matching spec.md's "on negotiationneeded" trigger
	// rather than creating the offer inline here.
}

// handleNewOfferLocked is the answerer path (spec.md §4.4).
func (o *Orchestrator) handleNewOfferLocked(ctx context.Context, sdp domain.SDPPayload) {
	if o.state.Finished.Load() {
		return
	}
	if err := o.createPeerConnectionLocked(); err != nil {
		o.handlePeerCreationFailedLocked(ctx, err)
		return
	}

	if err := o.state.Peer.SetRemoteDescription(ctx, sdp); err != nil {
		o.log.WithError(err).Warn("orchestrator: answerer set remote description failed")
		return
	}
	o.remoteDescriptionSeen = true
	o.drainQueueLocked(ctx)

	if o.state.LocalStream == nil {
		stream, err := o.coord.Acquire(ctx, o.state.Constraints)
		if err != nil {
			o.emitDeviceError(err)
			return
		}
		o.state.LocalStream = stream
	}
	if err := o.state.Peer.AddLocalTracks(o.state.LocalStream); err != nil {
		o.log.WithError(err).Warn("orchestrator: answerer add local tracks failed")
	}

	answer, err := o.state.Peer.CreateAnswer(ctx)
	if err != nil {
		o.log.WithError(err).Warn("orchestrator: create answer failed")
		return
	}
	answer.SDP = o.rewriter.Rewrite(answer.SDP)
	if err := o.state.Peer.SetLocalDescription(ctx, answer); err != nil {
		o.log.WithError(err).Warn("orchestrator: set local description (answer) failed")
		return
	}
	if err := o.signaler.SendSDPAnswer(ctx, o.state.RoomID, answer); err != nil {
		o.log.WithError(err).Warn("orchestrator: send sdp answer failed")
	}
}

// handleNewAnswerLocked accepts an inbound answer only in the states
// spec.md invariant 2 permits.
func (o *Orchestrator) handleNewAnswerLocked(ctx context.Context, sdp domain.SDPPayload) {
	if o.state.Peer == nil {
		return
	}
	switch o.state.Peer.SignalingState() {
	case webrtc.SignalingStateHaveLocalOffer.String(), webrtc.SignalingStateHaveRemotePranswer.String():
	default:
		o.log.WithField("signaling_state", o.state.Peer.SignalingState()).Warn("orchestrator: dropping newAnswer in unexpected signaling state")
		return
	}
	sdp.SDP = o.rewriter.Rewrite(sdp.SDP)
	if err := o.state.Peer.SetRemoteDescription(ctx, sdp); err != nil {
		o.log.WithError(err).Warn("orchestrator: set remote description (answer) failed")
		return
	}
	o.remoteDescriptionSeen = true
	o.drainQueueLocked(ctx)
}

// handleNewICECandidateLocked implements spec.md invariant 1 and the
// "newIceCandidate" negotiation-protocol paragraph.
func (o *Orchestrator) handleNewICECandidateLocked(ctx context.Context, candidate domain.ICECandidatePayload) {
	if o.state.Peer == nil {
		o.queue.Push(candidate)
		return
	}
	if o.hasRemoteDescriptionLocked() {
		if err := o.state.Peer.AddICECandidate(ctx, candidate); err != nil {
			o.log.WithError(err).Warn("orchestrator: add ice candidate failed")
		}
		return
	}
	if o.state.Peer.SignalingState() == webrtc.SignalingStateStable.String() {
		o.log.Warn("orchestrator: dropping ice candidate received in stable state with no remote description")
		return
	}
	o.queue.Push(candidate)
}

// hasRemoteDescriptionLocked reports whether a remote description has been
// set on the current peer connection.
func (o *Orchestrator) hasRemoteDescriptionLocked() bool {
	return o.remoteDescriptionSeen
}

// createAndSendOfferLocked produces, rewrites, sets, and sends a fresh
// offer, matching the "on negotiationneeded" paragraph.
func (o *Orchestrator) createAndSendOfferLocked(ctx context.Context, iceRestart bool) error {
	if o.state.Peer == nil || o.state.Peer.SignalingState() != webrtc.SignalingStateStable.String() {
		return nil
	}
	offer, err := o.state.Peer.CreateOffer(ctx, iceRestart)
	if err != nil {
		return fmt.Errorf("orchestrator: create offer: %w", err)
	}
	offer.SDP = o.rewriter.Rewrite(offer.SDP)
	if err := o.state.Peer.SetLocalDescription(ctx, offer); err != nil {
		return fmt.Errorf("orchestrator: set local description (offer): %w", err)
	}
	if err := o.signaler.SendSDPOffer(ctx, o.state.RoomID, offer); err != nil {
		return fmt.Errorf("orchestrator: send sdp offer: %w", err)
	}
	return nil
}

// drainQueueLocked flushes the ICE candidate queue once a remote
// description exists, per spec.md's "on signalingstatechange" paragraph.
func (o *Orchestrator) drainQueueLocked(ctx context.Context) {
	if !o.remoteDescriptionSeen {
		return
	}
	if err := o.queue.Drain(func(c domain.ICECandidatePayload) error {
		return o.state.Peer.AddICECandidate(ctx, c)
	}); err != nil {
		o.log.WithError(err).Warn("orchestrator: drain ice queue failed")
	}
}

// createPeerConnectionLocked replaces any existing peer connection with a
// fresh one and wires its listener surface (spec.md invariant 3).
func (o *Orchestrator) createPeerConnectionLocked() error {
	if o.state.Peer != nil {
		o.state.Peer.Close()
		o.state.Peer = nil
	}
	o.remoteDescriptionSeen = false
	o.queue.Clear()

	peer, err := rtcpeer.New(rtcpeer.Config{ICEServers: o.opts.ICEServers, DataLabel: dataChannelLabel}, o.log)
	if err != nil {
		return err
	}
	o.wirePeerCallbacksLocked(peer)
	o.state.Peer = peer
	return nil
}

func (o *Orchestrator) wirePeerCallbacksLocked(peer *rtcpeer.Peer) {
	peer.OnNegotiationNeeded(func() {
		o.enqueue(func() {
			if peer != o.state.Peer {
				return
			}
			if err := o.createAndSendOfferLocked(context.Background(), false); err != nil {
				o.log.WithError(err).Warn("orchestrator: negotiationneeded offer failed")
			}
		})
	})
	peer.OnICECandidate(func(c domain.ICECandidatePayload) {
		o.enqueue(func() {
			if peer != o.state.Peer || o.state.Finished.Load() {
				return
			}
			if err := o.signaler.SendICECandidate(context.Background(), o.state.RoomID, c); err != nil {
				o.log.WithError(err).Warn("orchestrator: send ice candidate failed")
			}
		})
	})
	peer.OnICEConnectionStateChange(func(s string) {
		o.enqueue(func() {
			if peer != o.state.Peer {
				return
			}
			o.handleICEConnectionStateChangeLocked(s)
		})
	})
	peer.OnConnectionStateChange(func(s string) {
		o.enqueue(func() {
			if peer != o.state.Peer {
				return
			}
			o.handleConnectionStateChangeLocked(s)
		})
	})
	peer.OnSignalingStateChange(func(s string) {
		o.enqueue(func() {
			if peer != o.state.Peer {
				return
			}
			o.drainQueueLocked(context.Background())
		})
	})
	peer.OnICEGatheringStateChange(func(s string) {
		o.enqueue(func() {
			if peer != o.state.Peer {
				return
			}
			o.handleICEGatheringStateChangeLocked(s)
		})
	})
	peer.OnTrack(func(track *webrtc.TrackRemote, receiver *webrtc.RTPReceiver) {
		o.enqueue(func() {
			if peer != o.state.Peer {
				return
			}
			o.addTrack(track)
			o.emitTrackChange()
		})
	})
	peer.OnDataChannelOpen(func() {
		o.enqueue(func() {
			if peer != o.state.Peer {
				return
			}
			o.state.Matched.Store(true)
			o.pushControlState()
			o.events.EmitChange()
		})
	})
	peer.OnDataChannelClose(func() {
		o.enqueue(func() {
			if peer != o.state.Peer {
				return
			}
			o.state.Matched.Store(false)
			o.events.EmitChange()
		})
	})
	peer.OnDataChannelMessage(func(data []byte) {
		o.enqueue(func() {
			if peer != o.state.Peer {
				return
			}
			o.handleDataChannelMessageLocked(data)
		})
	})
}

// handleDataChannelMessageLocked implements spec.md §4.4's "Data channel"
// paragraph.
func (o *Orchestrator) handleDataChannelMessageLocked(data []byte) {
	var msg domain.ControlMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		o.log.WithError(err).Warn("orchestrator: data channel message parse failed")
		return
	}
	if msg.Type == domain.ControlMessageType {
		o.state.ExternalControls = msg.Data
		o.events.EmitChange()
		return
	}
	var payload any
	if err := json.Unmarshal(data, &payload); err != nil {
		o.log.WithError(err).Warn("orchestrator: data channel message payload parse failed")
		return
	}
	o.events.Emit(events.Event{Kind: events.Message, Payload: payload})
}

func marshalControlMessage(msg domain.ControlMessage) ([]byte, error) {
	return json.Marshal(msg)
}

package orchestrator

import (
	"context"
	"time"

	"github.com/go-webrtc/callorch/internal/domain"
	"github.com/go-webrtc/callorch/internal/rtcpeer"
)

// networkProbeTimeout is the 3-second budget spec.md §4.4 gives the
// connection-failed recovery path's reachability check.
const networkProbeTimeout = 3 * time.Second

// iceGatheringStallDelay is the window spec.md §4.4's ICE-gathering-stall
// detection waits after gathering completes before concluding the
// connection is stuck.
const iceGatheringStallDelay = 3 * time.Second

// bitrateSampleWindow is the spacing between the two bitrate samples the
// disconnection strategy compares.
const bitrateSampleWindow = 4 * time.Second

// bitrateDropThresholdKbps is the magnitude of bitrate drop that triggers
// an ICE restart (spec.md §9 OQ-4: the plausible-intent sign, not the
// source's literal `difference < -100`).
const bitrateDropThresholdKbps = 100

// handleICEConnectionStateChangeLocked drives the ICE-failed reconnection
// trigger of spec.md §4.4. Restart-ICE is purely local (no network round
// trip), so unlike the connection-failed path it completes without
// yielding the loop goroutine; singleflight.Do here formalizes the guard
// spec.md §5 names rather than protecting against genuine concurrency.
func (o *Orchestrator) handleICEConnectionStateChangeLocked(s string) {
	if o.state.Finished.Load() {
		return
	}
	if s == "disconnected" {
		o.startDisconnectionStrategyLocked()
		return
	}
	if s != "failed" {
		return
	}
	o.sf.Do("ice-failed", func() (any, error) {
		if !o.state.ICEFailed.Swap(true) {
			if err := o.state.Peer.RestartICE(); err != nil {
				o.log.WithError(err).Debug("orchestrator: host restartIce failed, offering ICE restart instead")
				if err := o.createAndSendOfferLocked(context.Background(), true); err != nil {
					o.log.WithError(err).Warn("orchestrator: ICE-restart offer failed")
				}
			}
			return nil, nil
		}
		o.events.EmitError(&domain.CallError{Kind: domain.PoorConnectionError})
		return nil, nil
	})
}

// handleConnectionStateChangeLocked drives the connection-failed
// reconnection trigger. The reachability probe genuinely blocks for up to
// networkProbeTimeout, so it runs off the loop goroutine and only
// re-enters via enqueue once it has an answer — satisfying spec.md §5's
// "long-running operations yield, re-check finished on resumption" rule.
func (o *Orchestrator) handleConnectionStateChangeLocked(s string) {
	if s != "failed" || o.state.Finished.Load() {
		return
	}
	roomID := o.state.RoomID
	constraints := o.state.Constraints
	go o.runConnectionFailedRecovery(roomID, constraints)
}

func (o *Orchestrator) runConnectionFailedRecovery(roomID string, constraints domain.MediaConstraints) {
	o.sf.Do("connection-failed", func() (any, error) {
		online := o.network.IsOnline(context.Background(), networkProbeTimeout)
		if online {
			o.enqueue(func() {
				if o.state.Finished.Load() {
					return
				}
				o.restartCallLocked(context.Background())
			})
			return nil, nil
		}

		o.enqueue(func() {
			if o.state.Finished.Load() {
				return
			}
			o.events.EmitError(&domain.CallError{Kind: domain.NoInternetAccessError})
			o.subscribeNetworkChangeLocked(roomID, constraints)
		})
		return nil, nil
	})
}

// subscribeNetworkChangeLocked subscribes to network-change events,
// guarded by ListeningForNetworkChange so overlapping connection-failed
// events while offline don't stack duplicate subscriptions. On the first
// subsequent online transition it restarts and unsubscribes.
func (o *Orchestrator) subscribeNetworkChangeLocked(roomID string, constraints domain.MediaConstraints) {
	if o.state.ListeningForNetworkChange.Swap(true) {
		return
	}
	sub := o.network.OnChange(func(online bool) {
		if !online {
			return
		}
		o.enqueue(func() {
			if o.state.networkSub != nil {
				o.state.networkSub.Unsubscribe()
				o.state.networkSub = nil
			}
			o.state.ListeningForNetworkChange.Store(false)
			if o.state.Finished.Load() {
				return
			}
			o.restartCallLocked(context.Background())
		})
	})
	o.state.networkSub = sub
}

// restartCallLocked is the restart-call procedure: clean() then
// start(previous roomId, previous constraints) then synthesize a local
// newPeer, re-entering the offerer path. Grounded on
// livekit-server-sdk-go/engine.go's restartConnection.
func (o *Orchestrator) restartCallLocked(ctx context.Context) {
	if o.state.Finished.Load() {
		return
	}
	roomID := o.state.RoomID
	constraints := o.state.Constraints
	if roomID == "" {
		return
	}

	o.cleanLocked()
	if err := o.startLocked(ctx, roomID, constraints); err != nil {
		o.log.WithError(err).Warn("orchestrator: restart-call start failed")
		return
	}
	o.handleNewPeerLocked(ctx)
}

// handleICEGatheringStateChangeLocked implements spec.md §4.4's
// "ICE-gathering stall detection" paragraph.
func (o *Orchestrator) handleICEGatheringStateChangeLocked(s string) {
	if !o.opts.AllowIceStalledChecking || s != "complete" {
		return
	}
	peer := o.state.Peer
	roomID := o.state.RoomID
	time.AfterFunc(iceGatheringStallDelay, func() {
		o.enqueue(func() {
			if o.state.Finished.Load() || o.state.Peer != peer || o.state.RoomID != roomID {
				return
			}
			if peer.ICEConnectionState() == "checking" || peer.ConnectionState() == "connecting" {
				o.restartCallLocked(context.Background())
			}
		})
	})
}

// startDisconnectionStrategyLocked implements spec.md §4.4's
// "Bitrate-driven disconnection strategy" paragraph, called on
// iceConnectionState = disconnected. The channel to watch is decided once,
// here, while still on the loop goroutine; the two samples it is computed
// from are taken 4 seconds apart off the loop (via o.stats, which reads
// the peer connection's own stats report and touches no orchestrator
// state), so the loop is never blocked by the sampling window.
func (o *Orchestrator) startDisconnectionStrategyLocked() {
	if !o.opts.AllowBitrateChecking || o.state.Finished.Load() {
		return
	}
	peer := o.state.Peer
	if peer == nil {
		return
	}
	if o.state.RunningDisconnectionStrategy.Swap(true) {
		return
	}
	channel := o.selectBitrateChannelLocked()
	go o.runDisconnectionStrategy(peer, channel)
}

// selectBitrateChannelLocked implements the channel-priority rule: local
// video output if local video is enabled, else peer video input if the
// peer has video, else local audio output, else peer audio input.
func (o *Orchestrator) selectBitrateChannelLocked() domain.BitrateChannel {
	if o.state.LocalStream != nil {
		if v := o.state.LocalStream.VideoTrack(); v != nil && v.Enabled() {
			return domain.ChannelOutboundVideo
		}
	}
	if o.state.RemoteStream.HasVideo() {
		return domain.ChannelInboundVideo
	}
	if o.state.LocalStream != nil && o.state.LocalStream.AudioTrack() != nil {
		return domain.ChannelOutboundAudio
	}
	return domain.ChannelInboundAudio
}

func (o *Orchestrator) runDisconnectionStrategy(peer *rtcpeer.Peer, channel domain.BitrateChannel) {
	defer o.enqueue(func() { o.state.RunningDisconnectionStrategy.Store(false) })

	o.sf.Do("disconnection-strategy", func() (any, error) {
		sample, err := o.stats.Find(context.Background(), peer)
		if err != nil {
			return nil, nil
		}
		before := sample.ByChannel(channel)

		time.Sleep(bitrateSampleWindow)

		after := before
		if sample, err = o.stats.Find(context.Background(), peer); err == nil {
			after = sample.ByChannel(channel)
		}

		if before-after > bitrateDropThresholdKbps {
			o.enqueue(func() {
				if o.state.Finished.Load() || o.state.Peer != peer {
					return
				}
				if err := peer.RestartICE(); err != nil {
					o.log.WithError(err).Debug("orchestrator: host restartIce failed, offering ICE restart instead")
					if err := o.createAndSendOfferLocked(context.Background(), true); err != nil {
						o.log.WithError(err).Warn("orchestrator: bitrate-driven ICE-restart offer failed")
					}
				}
			})
		}
		return nil, nil
	})
}

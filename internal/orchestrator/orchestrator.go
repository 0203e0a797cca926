// Package orchestrator implements the Call Orchestrator (spec.md §4.4):
// the single-goroutine cooperative event loop that owns one Call's peer
// connection, negotiates it, keeps it alive across ICE/network hiccups,
// and exposes the public start/finish/toggle/send operation surface.
//
// Generalized from the teacher's internal/viewer.Viewer, which wires a
// domain.SignalHandler implementation directly to a single peer's
// lifecycle; this package widens that into the full negotiation,
// reconnection, and disconnection-strategy surface of the spec, using
// livekit-server-sdk-go's engine.go reconnection trio as the template for
// the recovery paths.
package orchestrator

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/go-webrtc/callorch/internal/config"
	"github.com/go-webrtc/callorch/internal/devices"
	"github.com/go-webrtc/callorch/internal/domain"
	"github.com/go-webrtc/callorch/internal/events"
	"github.com/go-webrtc/callorch/internal/icequeue"
	"github.com/go-webrtc/callorch/internal/sdprewrite"
)

// dataChannelLabel is the fixed label spec.md §4.4's offerer path creates
// its data channel with.
const dataChannelLabel = "data-channel"

// request is one closure dispatched onto the event-loop goroutine.
type request struct {
	fn   func()
	done chan struct{}
}

// Orchestrator implements the Call Orchestrator. Every exported method is
// safe to call from any goroutine; internally each call is serialized
// through a single dispatcher goroutine (spec.md §5), so state.go's fields
// never need their own lock.
type Orchestrator struct {
	opts     config.Options
	signaler domain.Signaler
	network  domain.NetworkStatus
	coord    *devices.Coordinator
	stats    domain.Statistics
	rewriter *sdprewrite.Rewriter
	events   *events.Emitter
	log      *logrus.Entry

	queue *icequeue.Queue
	sf    singleflight.Group

	inbox     chan request
	closed    chan struct{}
	closeOnce sync.Once

	state *state

	// videoDump, if set, receives every inbound remote video track's
	// depacketized H264 NAL stream, Annex-B framed (see SetVideoDumpWriter).
	videoDump io.Writer

	// remoteDescriptionSeen tracks whether the current peer connection has
	// had a remote description set, reset on every createPeerConnectionLocked.
	// Owned exclusively by the loop goroutine, like state's fields.
	remoteDescriptionSeen bool
}

// New wires an Orchestrator against its collaborators and starts its
// event-loop goroutine. provider backs the Device Coordinator directly so
// callers needing device switching semantics can still reach
// coordinator-level operations (SetActiveDevice/NextVideoDevice) through
// the orchestrator's own methods.
//
// New does not take a domain.Signaler: the signaling transport's own
// constructor typically needs this Orchestrator as its domain.SignalHandler,
// so the two can't be built in either order alone. Call SetSignaler once
// the transport exists to complete the circular dependency, mirroring the
// teacher's viewer.New/SetSignaler split.
func New(opts config.Options, network domain.NetworkStatus, provider domain.MediaProvider, stats domain.Statistics, log *logrus.Entry) *Orchestrator {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	o := &Orchestrator{
		opts:     opts,
		network:  network,
		coord:    devices.New(provider),
		stats:    stats,
		rewriter: sdprewrite.New(opts.Bandwidth, opts.AllowSDPTransform, log),
		events:   events.New(),
		log:      log,
		queue:    icequeue.New(),
		inbox:    make(chan request),
		closed:   make(chan struct{}),
		state:    newState(),
	}
	go o.loop()
	return o
}

// SetSignaler injects the signaling transport after construction. Must be
// called before Start.
func (o *Orchestrator) SetSignaler(s domain.Signaler) {
	o.run(func() { o.signaler = s })
}

// Events returns the orchestrator's public typed pub/sub registry
// (spec.md §4.5).
func (o *Orchestrator) Events() *events.Emitter { return o.events }

// SetVideoDumpWriter enables writing every inbound remote video track's
// depacketized H264 NAL stream to w, Annex-B framed, for debugging or
// recording alongside the orchestrator's own remote-stream assembly.
// Replaces the track drain loop for video tracks only; audio is unaffected.
func (o *Orchestrator) SetVideoDumpWriter(w io.Writer) {
	o.run(func() { o.videoDump = w })
}

func (o *Orchestrator) loop() {
	for {
		select {
		case req := <-o.inbox:
			req.fn()
			close(req.done)
		case <-o.closed:
			return
		}
	}
}

// run dispatches fn onto the loop goroutine and blocks the caller until it
// completes. Must never be called from the loop goroutine itself — use
// enqueue from within a callback that a collaborator (pion, the signaling
// adapter) may invoke reentrantly.
func (o *Orchestrator) run(fn func()) {
	done := make(chan struct{})
	select {
	case o.inbox <- request{fn: fn, done: done}:
	case <-o.closed:
		return
	}
	select {
	case <-done:
	case <-o.closed:
	}
}

// enqueue dispatches fn onto the loop goroutine without blocking the
// caller. Used by collaborator callbacks (peer connection, data channel)
// that may fire synchronously from a call the loop goroutine itself is
// currently making, where a blocking run() would deadlock.
func (o *Orchestrator) enqueue(fn func()) {
	go func() {
		done := make(chan struct{})
		select {
		case o.inbox <- request{fn: fn, done: done}:
			<-done
		case <-o.closed:
		}
	}()
}

// Shutdown stops the event-loop goroutine. It does not perform a
// Finish()/Clean() teardown first — callers wanting a graceful hangup
// should call Finish before Shutdown.
func (o *Orchestrator) Shutdown() {
	o.closeOnce.Do(func() { close(o.closed) })
}

// Finished reports the sticky terminal flag (spec.md invariant 4).
func (o *Orchestrator) Finished() bool { return o.state.Finished.Load() }

// Matched reports whether the data channel is open.
func (o *Orchestrator) Matched() bool { return o.state.Matched.Load() }

// Connected reports whether the signaling transport is subscribed.
func (o *Orchestrator) Connected() bool { return o.state.Connected.Load() }

// LocalStream returns the current local media, or nil.
func (o *Orchestrator) LocalStream() *devices.Stream {
	var s *devices.Stream
	o.run(func() { s = o.state.LocalStream })
	return s
}

// PeerStream returns the assembled remote media, or nil.
func (o *Orchestrator) PeerStream() *RemoteStream {
	var s *RemoteStream
	o.run(func() { s = o.state.RemoteStream })
	return s
}

// ExternalControls returns the peer's last-reported audio/video-enabled state.
func (o *Orchestrator) ExternalControls() domain.ExternalControls {
	var c domain.ExternalControls
	o.run(func() { c = o.state.ExternalControls })
	return c
}

// Start acquires local media, connects signaling if not already connected,
// and waits for the negotiation to be driven by the peer's inbound
// newPeer/newOffer event (spec.md §4.4's `start` operation).
func (o *Orchestrator) Start(ctx context.Context, roomID string, constraints domain.MediaConstraints) error {
	var err error
	o.run(func() { err = o.startLocked(ctx, roomID, constraints) })
	return err
}

func (o *Orchestrator) startLocked(ctx context.Context, roomID string, constraints domain.MediaConstraints) error {
	if o.state.Finished.Load() {
		return nil
	}

	// A LocalStream already present (clean() preserves local tracks
	// specifically so a restart-call's subsequent start() can reuse them
	// instead of re-acquiring) is kept as-is rather than replaced.
	if o.state.LocalStream == nil {
		stream, err := o.coord.Acquire(ctx, constraints)
		if err != nil {
			o.emitDeviceError(err)
			return err
		}
		o.state.LocalStream = stream
	}

	o.state.RoomID = roomID
	o.state.Constraints = constraints

	if !o.state.Connected.Load() {
		if err := o.signaler.Connect(ctx, roomID); err != nil {
			o.log.WithError(err).WithField("room_id", roomID).Warn("orchestrator: signaling connect failed")
			return err
		}
		o.state.Connected.Store(true)
	}

	o.events.EmitChange()
	return nil
}

// Finish is spec.md §4.4's `finish` operation: idempotent, terminal.
func (o *Orchestrator) Finish(ctx context.Context) error {
	var err error
	o.run(func() { err = o.finishLocked(ctx) })
	return err
}

func (o *Orchestrator) finishLocked(ctx context.Context) error {
	if o.state.Finished.Load() {
		o.log.Warn("orchestrator: finish called again after finished")
		return nil
	}
	if o.state.RoomID == "" {
		return fmt.Errorf("orchestrator: finish called with no active room")
	}

	roomID := o.state.RoomID
	o.state.Finished.Store(true)
	o.state.RoomID = ""
	o.state.Constraints = domain.MediaConstraints{}

	o.cleanLocked()

	if o.state.LocalStream != nil {
		o.state.LocalStream.Stop()
		o.state.LocalStream = nil
	}

	if err := o.signaler.Finish(ctx, roomID); err != nil {
		o.log.WithError(err).WithField("room_id", roomID).Warn("orchestrator: signaling finish failed")
	}
	if err := o.signaler.Disconnect(ctx, roomID); err != nil {
		o.log.WithError(err).WithField("room_id", roomID).Warn("orchestrator: signaling disconnect failed")
	}
	o.state.Connected.Store(false)

	o.events.Emit(events.Event{Kind: events.Finish})
	o.events.EmitChange()
	return nil
}

// Clean is spec.md §4.4's `clean` operation: tears down the peer
// connection and data channel without stopping local tracks, so a
// subsequent Start/restart can re-add them.
func (o *Orchestrator) Clean() {
	o.run(o.cleanLocked)
}

func (o *Orchestrator) cleanLocked() {
	if o.state.networkSub != nil {
		o.state.networkSub.Unsubscribe()
		o.state.networkSub = nil
	}
	o.state.ListeningForNetworkChange.Store(false)

	if o.state.Peer != nil {
		if err := o.state.Peer.Close(); err != nil {
			o.log.WithError(err).Debug("orchestrator: close peer during clean")
		}
		o.state.Peer = nil
	}
	o.state.Matched.Store(false)
	o.state.RemoteStream = nil
	o.state.ExternalControls = domain.ExternalControls{}
	o.queue.Clear()
}

// ToggleAudio flips every local audio track's enabled flag and pushes the
// new control state over the data channel.
func (o *Orchestrator) ToggleAudio() {
	o.run(func() { o.toggleLocked(domain.DeviceKindAudioInput) })
}

// ToggleVideo flips every local video track's enabled flag and pushes the
// new control state over the data channel.
func (o *Orchestrator) ToggleVideo() {
	o.run(func() { o.toggleLocked(domain.DeviceKindVideoInput) })
}

func (o *Orchestrator) toggleLocked(kind domain.DeviceKind) {
	if o.state.LocalStream == nil {
		return
	}
	var track domain.LocalTrack
	switch kind {
	case domain.DeviceKindVideoInput:
		track = o.state.LocalStream.VideoTrack()
	case domain.DeviceKindAudioInput:
		track = o.state.LocalStream.AudioTrack()
	}
	if track == nil {
		return
	}
	track.SetEnabled(!track.Enabled())

	o.pushControlState()
	o.events.EmitChange()
}

func (o *Orchestrator) pushControlState() {
	if o.state.Peer == nil || !o.state.Peer.DataChannelOpen() {
		return
	}
	msg := controlMessage(o.state.LocalStream)
	data, err := marshalControlMessage(msg)
	if err != nil {
		o.log.WithError(err).Warn("orchestrator: encode control message")
		return
	}
	if err := o.state.Peer.SendData(data); err != nil {
		o.log.WithError(err).Warn("orchestrator: send control message")
	}
}

func controlMessage(stream *devices.Stream) domain.ControlMessage {
	var controls domain.ExternalControls
	if stream != nil {
		if v := stream.VideoTrack(); v != nil {
			controls.Video = v.Enabled()
		}
		if a := stream.AudioTrack(); a != nil {
			controls.Audio = a.Enabled()
		}
	}
	return domain.ControlMessage{Type: domain.ControlMessageType, Data: controls}
}

// SetActiveDevice remembers deviceID as active for kind, then re-acquires
// and replaces local tracks. Renegotiates with an ICE restart since a new
// MediaStreamTrack requires a fresh offer/answer.
func (o *Orchestrator) SetActiveDevice(ctx context.Context, kind domain.DeviceKind, info domain.DeviceInfo) error {
	var err error
	o.run(func() {
		o.coord.SetActiveDevice(kind, info)
		err = o.reacquireAndRenegotiateLocked(ctx)
	})
	return err
}

// NextVideoDevice rotates to the next videoinput device (wrapping) and
// renegotiates.
func (o *Orchestrator) NextVideoDevice(ctx context.Context) error {
	var err error
	o.run(func() {
		stream, e := o.coord.NextVideoDevice(ctx, o.state.Constraints)
		if e != nil {
			o.emitDeviceError(e)
			err = e
			return
		}
		o.replaceLocalStreamLocked(stream)
		err = o.renegotiateLocked(ctx, true)
	})
	return err
}

func (o *Orchestrator) reacquireAndRenegotiateLocked(ctx context.Context) error {
	stream, err := o.coord.Acquire(ctx, o.state.Constraints)
	if err != nil {
		o.emitDeviceError(err)
		return err
	}
	o.replaceLocalStreamLocked(stream)
	return o.renegotiateLocked(ctx, true)
}

func (o *Orchestrator) replaceLocalStreamLocked(stream *devices.Stream) {
	if o.state.LocalStream != nil {
		o.state.LocalStream.Stop()
	}
	o.state.LocalStream = stream
	o.events.Emit(events.Event{Kind: events.LocalTrackChange})
	o.events.EmitChange()
}

// renegotiateLocked replaces whatever the peer connection is currently
// sending with state.LocalStream's tracks (the existing senders from before
// a device swap stay attached, per ReplaceLocalTracks, rather than going
// stale) and produces a fresh offer, optionally requesting an ICE restart.
func (o *Orchestrator) renegotiateLocked(ctx context.Context, iceRestart bool) error {
	if o.state.Peer == nil || o.state.Finished.Load() {
		return nil
	}
	if o.state.LocalStream != nil {
		if err := o.state.Peer.ReplaceLocalTracks(o.state.LocalStream); err != nil {
			return fmt.Errorf("orchestrator: replace local tracks: %w", err)
		}
	}
	return o.createAndSendOfferLocked(ctx, iceRestart)
}

// ShareScreen tears down and restarts the call acquiring a display-media
// stream instead of the camera ("renegotiation by teardown", spec.md §4.4).
func (o *Orchestrator) ShareScreen(ctx context.Context, constraints domain.MediaConstraints) error {
	return o.shareLocked(ctx, constraints, true)
}

// ShareVideo tears down and restarts the call reverting to the camera.
func (o *Orchestrator) ShareVideo(ctx context.Context, constraints domain.MediaConstraints) error {
	return o.shareLocked(ctx, constraints, false)
}

func (o *Orchestrator) shareLocked(ctx context.Context, constraints domain.MediaConstraints, display bool) error {
	var err error
	o.run(func() {
		if o.state.Finished.Load() {
			return
		}
		roomID := o.state.RoomID
		if roomID == "" {
			err = fmt.Errorf("orchestrator: share called with no active call")
			return
		}
		o.cleanLocked()

		var next *devices.Stream
		if display {
			stream, e := o.coord.AcquireDisplay(ctx, constraints)
			if e != nil {
				o.emitDeviceError(e)
				err = e
				return
			}
			next = &devices.Stream{LocalStream: stream}
		} else {
			ds, e := o.coord.Acquire(ctx, constraints)
			if e != nil {
				o.emitDeviceError(e)
				err = e
				return
			}
			next = ds
		}
		if o.state.LocalStream != nil {
			o.state.LocalStream.Stop()
		}
		o.state.LocalStream = next
		o.state.Constraints = constraints

		o.events.Emit(events.Event{Kind: events.LocalTrackChange})
		o.events.EmitChange()

		o.handleNewPeerLocked(ctx)
	})
	return err
}

// Send forwards data over the open data channel; a silent no-op if it is
// not open.
func (o *Orchestrator) Send(data []byte) error {
	var err error
	o.run(func() {
		if o.state.Peer == nil || !o.state.Peer.DataChannelOpen() {
			return
		}
		err = o.state.Peer.SendData(data)
	})
	return err
}

func (o *Orchestrator) emitDeviceError(err error) {
	o.log.WithError(err).Warn("orchestrator: device error")
	o.events.EmitError(err)
}

func (o *Orchestrator) emitTrackChange() {
	o.events.Emit(events.Event{Kind: events.TrackChange})
}

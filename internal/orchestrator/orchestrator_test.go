package orchestrator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/go-webrtc/callorch/internal/domain"
	"github.com/go-webrtc/callorch/internal/events"
)

func TestOrchestrator_Start_ConnectsSignalingAndAcquiresMedia(t *testing.T) {
	signaler := &fakeSignaler{}
	provider := &fakeProvider{}
	o := newTestOrchestrator(signaler, &fakeNetwork{}, provider, &fakeStatistics{})
	defer o.Shutdown()

	err := o.Start(context.Background(), "room-1", domain.MediaConstraints{})
	require.NoError(t, err)

	assert.Equal(t, []string{"room-1"}, signaler.connectCalls)
	assert.Equal(t, 1, provider.calls)
	assert.NotNil(t, o.LocalStream())
	assert.True(t, o.Connected())
}

// TestOrchestrator_NextVideoDevice_ReplacesSenderTrackWithoutDuplicating
// covers the device-switch regression: before ReplaceLocalTracks existed,
// NextVideoDevice swapped state.LocalStream but the peer connection kept
// sending the old, now-stopped track forever since SendersCount() never
// returns to 0 after the first AddLocalTracks call.
func TestOrchestrator_NextVideoDevice_ReplacesSenderTrackWithoutDuplicating(t *testing.T) {
	provider := &rtpFakeProvider{}
	o := newTestOrchestrator(&fakeSignaler{}, &fakeNetwork{}, provider, &fakeStatistics{})
	defer o.Shutdown()

	require.NoError(t, o.Start(context.Background(), "room-1", domain.MediaConstraints{}))
	o.OnNewPeer("remote-peer")

	var firstVideoID string
	var sendersAfterFirst int
	o.run(func() {
		sendersAfterFirst = o.state.Peer.SendersCount()
		firstVideoID = o.state.LocalStream.VideoTrack().DeviceID()
	})
	require.Equal(t, 2, sendersAfterFirst, "expected one sender per track (video+audio)")

	require.NoError(t, o.NextVideoDevice(context.Background()))

	var sendersAfterSwitch int
	var secondVideoID string
	o.run(func() {
		sendersAfterSwitch = o.state.Peer.SendersCount()
		secondVideoID = o.state.LocalStream.VideoTrack().DeviceID()
	})
	assert.Equal(t, sendersAfterFirst, sendersAfterSwitch, "device switch must not add a duplicate sender")
	assert.NotEqual(t, firstVideoID, secondVideoID, "NextVideoDevice must actually rotate the device")

	require.NoError(t, o.NextVideoDevice(context.Background()))
	o.run(func() {
		assert.Equal(t, sendersAfterFirst, o.state.Peer.SendersCount(), "repeated switches must not accumulate senders")
	})
}

// TestOrchestrator_SetActiveDevice_ReplacesSenderTrackWithoutDuplicating
// covers the same regression via SetActiveDevice's reacquire-and-renegotiate
// path rather than NextVideoDevice's rotate-and-renegotiate path.
func TestOrchestrator_SetActiveDevice_ReplacesSenderTrackWithoutDuplicating(t *testing.T) {
	provider := &rtpFakeProvider{}
	o := newTestOrchestrator(&fakeSignaler{}, &fakeNetwork{}, provider, &fakeStatistics{})
	defer o.Shutdown()

	require.NoError(t, o.Start(context.Background(), "room-1", domain.MediaConstraints{}))
	o.OnNewPeer("remote-peer")

	var sendersBefore int
	o.run(func() { sendersBefore = o.state.Peer.SendersCount() })

	err := o.SetActiveDevice(context.Background(), domain.DeviceKindVideoInput, domain.DeviceInfo{
		DeviceID: "cam-2",
		Kind:     domain.DeviceKindVideoInput,
	})
	require.NoError(t, err)

	o.run(func() {
		assert.Equal(t, sendersBefore, o.state.Peer.SendersCount(), "SetActiveDevice's reacquire must reuse the existing sender")
	})
}

func TestOrchestrator_Start_PropagatesDeviceAcquisitionError(t *testing.T) {
	provider := &fakeProvider{acquireErr: domain.NewDeviceError(domain.DeviceNotFoundError, domain.DeviceTagCamera, nil)}
	o := newTestOrchestrator(&fakeSignaler{}, &fakeNetwork{}, provider, &fakeStatistics{})
	defer o.Shutdown()

	var gotErr error
	o.Events().On(events.Error, func(e events.Event) { gotErr = e.Payload.(error) })

	err := o.Start(context.Background(), "room-1", domain.MediaConstraints{})
	require.Error(t, err)
	require.Error(t, gotErr)
	assert.Nil(t, o.LocalStream())
}

func TestOrchestrator_Finish_RequiresActiveRoom(t *testing.T) {
	o := newTestOrchestrator(&fakeSignaler{}, &fakeNetwork{}, &fakeProvider{}, &fakeStatistics{})
	defer o.Shutdown()

	err := o.Finish(context.Background())
	assert.Error(t, err)
}

// TestOrchestrator_Finish_IsIdempotentAndSticky exercises spec scenario 6
// (teardown idempotence) and invariant 4 (finished is terminal).
func TestOrchestrator_Finish_IsIdempotentAndSticky(t *testing.T) {
	signaler := &fakeSignaler{}
	o := newTestOrchestrator(signaler, &fakeNetwork{}, &fakeProvider{}, &fakeStatistics{})
	defer o.Shutdown()

	require.NoError(t, o.Start(context.Background(), "room-1", domain.MediaConstraints{}))

	changes := 0
	finishes := 0
	o.Events().On(events.Change, func(events.Event) { changes++ })
	o.Events().On(events.Finish, func(events.Event) { finishes++ })

	require.NoError(t, o.Finish(context.Background()))
	assert.True(t, o.Finished())
	assert.Equal(t, 1, finishes)
	assert.Equal(t, 1, changes)
	assert.Equal(t, []string{"room-1"}, signaler.finishCalls)
	assert.Equal(t, 1, signaler.disconnectN)
	assert.Nil(t, o.LocalStream())

	// Second call is a no-op: no further finish/change events, no error.
	require.NoError(t, o.Finish(context.Background()))
	assert.Equal(t, 1, finishes)
	assert.Equal(t, 1, changes)
	assert.Equal(t, []string{"room-1"}, signaler.finishCalls)
}

// TestOrchestrator_ToggleAudio_Idempotence exercises quantified invariant 5:
// toggling twice restores state and causes exactly two change emissions.
func TestOrchestrator_ToggleAudio_Idempotence(t *testing.T) {
	o := newTestOrchestrator(&fakeSignaler{}, &fakeNetwork{}, &fakeProvider{}, &fakeStatistics{})
	defer o.Shutdown()
	require.NoError(t, o.Start(context.Background(), "room-1", domain.MediaConstraints{}))

	before := o.LocalStream().AudioTrack().Enabled()

	changes := 0
	o.Events().On(events.Change, func(events.Event) { changes++ })

	o.ToggleAudio()
	o.ToggleAudio()

	assert.Equal(t, before, o.LocalStream().AudioTrack().Enabled())
	assert.Equal(t, 2, changes)
}

func TestOrchestrator_Send_NoOpWithoutOpenDataChannel(t *testing.T) {
	o := newTestOrchestrator(&fakeSignaler{}, &fakeNetwork{}, &fakeProvider{}, &fakeStatistics{})
	defer o.Shutdown()

	err := o.Send([]byte("hello"))
	assert.NoError(t, err)
}

func TestOrchestrator_ShareScreen_RequiresActiveCall(t *testing.T) {
	o := newTestOrchestrator(&fakeSignaler{}, &fakeNetwork{}, &fakeProvider{}, &fakeStatistics{})
	defer o.Shutdown()

	err := o.ShareScreen(context.Background(), domain.MediaConstraints{})
	assert.Error(t, err)
}

func TestOrchestrator_ShareScreen_ReplacesLocalStreamAndStopsPrevious(t *testing.T) {
	provider := &fakeProvider{}
	o := newTestOrchestrator(&fakeSignaler{}, &fakeNetwork{}, provider, &fakeStatistics{})
	defer o.Shutdown()
	require.NoError(t, o.Start(context.Background(), "room-1", domain.MediaConstraints{}))

	previous := o.LocalStream()

	var trackChanges int
	o.Events().On(events.LocalTrackChange, func(events.Event) { trackChanges++ })

	require.NoError(t, o.ShareScreen(context.Background(), domain.MediaConstraints{}))

	assert.NotSame(t, previous, o.LocalStream())
	assert.Equal(t, 1, trackChanges)
}

func TestOrchestrator_ExternalControls_DefaultsToZeroValue(t *testing.T) {
	o := newTestOrchestrator(&fakeSignaler{}, &fakeNetwork{}, &fakeProvider{}, &fakeStatistics{})
	defer o.Shutdown()

	assert.Equal(t, domain.ExternalControls{}, o.ExternalControls())
}

func TestOrchestrator_Shutdown_UnblocksPendingRun(t *testing.T) {
	o := newTestOrchestrator(&fakeSignaler{}, &fakeNetwork{}, &fakeProvider{}, &fakeStatistics{})
	o.Shutdown()

	done := make(chan struct{})
	go func() {
		o.run(func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("run did not return after shutdown")
	}
}

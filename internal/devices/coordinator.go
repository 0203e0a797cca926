// Package devices implements the Device Coordinator (spec §4.3): default
// device selection, acquisition, and camera-switch logic layered purely on
// top of the domain.MediaProvider contract — this package never talks to
// an OS or browser device API directly.
package devices

import (
	"context"
	"regexp"

	"github.com/go-webrtc/callorch/internal/domain"
)

// backFacingLabel matches device labels that self-report as rear/back
// facing when a MediaProvider doesn't populate DeviceInfo.Facing directly
// (mirrors the label-sniffing fallback browsers force on callers).
var backFacingLabel = regexp.MustCompile(`(?i)back|rear`)

// Selection is the remembered device choice, preserved across
// re-acquisition so a user's pick survives a reconnect.
type Selection struct {
	Video *domain.DeviceInfo
	Audio *domain.DeviceInfo
}

// Stream is the Device Coordinator's acquisition result: the local
// LocalStream plus the DeviceInfo it was acquired from, so callers can
// keep a Selection in sync.
type Stream struct {
	domain.LocalStream
	VideoDevice *domain.DeviceInfo
	AudioDevice *domain.DeviceInfo
}

// Coordinator owns the current Selection and drives a MediaProvider to
// enumerate, acquire, and switch local media devices.
type Coordinator struct {
	provider  domain.MediaProvider
	selection Selection
}

// New creates a Coordinator against provider.
func New(provider domain.MediaProvider) *Coordinator {
	return &Coordinator{provider: provider}
}

// Selection returns the currently remembered device choice.
func (c *Coordinator) Selection() Selection {
	return c.selection
}

// Acquire enumerates devices, applies default selection for any device
// kind not already remembered, and calls GetUserMedia with the result
// folded into constraints. The acquired DeviceInfo choices are remembered
// for subsequent calls (NextVideoDevice, re-acquisition after teardown).
func (c *Coordinator) Acquire(ctx context.Context, constraints domain.MediaConstraints) (*Stream, error) {
	list, err := c.provider.EnumerateDevices(ctx)
	if err != nil {
		return nil, err
	}

	if c.selection.Video == nil {
		c.selection.Video = SelectDefaultVideo(list, nil)
	} else if d := reconcile(list, c.selection.Video); d != nil {
		c.selection.Video = d
	} else {
		c.selection.Video = SelectDefaultVideo(list, nil)
	}
	if c.selection.Audio == nil {
		c.selection.Audio = SelectDefaultAudio(list, nil)
	} else if d := reconcile(list, c.selection.Audio); d != nil {
		c.selection.Audio = d
	} else {
		c.selection.Audio = SelectDefaultAudio(list, nil)
	}

	constraints = withDeviceIDs(constraints, c.selection)
	stream, err := c.provider.GetUserMedia(ctx, constraints)
	if err != nil {
		return nil, err
	}
	return &Stream{LocalStream: stream, VideoDevice: c.selection.Video, AudioDevice: c.selection.Audio}, nil
}

// AcquireDisplay acquires a screen-share stream; unlike Acquire, it never
// consults or updates the remembered camera/microphone Selection.
func (c *Coordinator) AcquireDisplay(ctx context.Context, constraints domain.MediaConstraints) (domain.LocalStream, error) {
	return c.provider.GetDisplayMedia(ctx, constraints)
}

// NextVideoDevice advances the remembered video selection to the next
// videoinput device in enumeration order (wrapping around), and
// re-acquires media with it. Returns a camera-tagged DeviceNotFoundError
// CallError when no videoinput device exists; with a single videoinput
// device, that same device is re-acquired.
func (c *Coordinator) NextVideoDevice(ctx context.Context, constraints domain.MediaConstraints) (*Stream, error) {
	list, err := c.provider.EnumerateDevices(ctx)
	if err != nil {
		return nil, err
	}
	videos := filterKind(list, domain.DeviceKindVideoInput)
	if len(videos) == 0 {
		return nil, domain.NewDeviceError(domain.DeviceNotFoundError, domain.DeviceTagCamera, nil)
	}

	next := videos[0]
	if c.selection.Video != nil {
		for i, d := range videos {
			if d.DeviceID == c.selection.Video.DeviceID {
				next = videos[(i+1)%len(videos)]
				break
			}
		}
	}
	c.selection.Video = &next

	constraints = withDeviceIDs(constraints, c.selection)
	stream, err := c.provider.GetUserMedia(ctx, constraints)
	if err != nil {
		return nil, err
	}
	return &Stream{LocalStream: stream, VideoDevice: c.selection.Video, AudioDevice: c.selection.Audio}, nil
}

// SetActiveDevice remembers deviceID as the active device for kind without
// re-acquiring; the caller re-acquires (via Acquire) when ready.
func (c *Coordinator) SetActiveDevice(kind domain.DeviceKind, info domain.DeviceInfo) {
	switch kind {
	case domain.DeviceKindVideoInput:
		c.selection.Video = &info
	case domain.DeviceKindAudioInput:
		c.selection.Audio = &info
	}
}

// SelectDefaultVideo picks a default video input: the first device whose
// Facing field is FacingFront; otherwise the first device that is not
// back-facing (a populated Facing field decides on its own; only when it is
// empty does a back/rear label mark the device back-facing); otherwise the
// first videoinput device. preferred, when non-nil and still present in
// list, wins outright.
func SelectDefaultVideo(list []domain.DeviceInfo, preferred *domain.DeviceInfo) *domain.DeviceInfo {
	videos := filterKind(list, domain.DeviceKindVideoInput)
	if len(videos) == 0 {
		return nil
	}
	if preferred != nil {
		if d := reconcile(list, preferred); d != nil {
			return d
		}
	}
	for _, d := range videos {
		if d.Facing == domain.FacingFront {
			return &d
		}
	}
	for _, d := range videos {
		if isBackFacing(d) {
			continue
		}
		return &d
	}
	return &videos[0]
}

// SelectDefaultAudio picks the first audioinput device, honoring a still-
// present preferred choice.
func SelectDefaultAudio(list []domain.DeviceInfo, preferred *domain.DeviceInfo) *domain.DeviceInfo {
	audios := filterKind(list, domain.DeviceKindAudioInput)
	if len(audios) == 0 {
		return nil
	}
	if preferred != nil {
		if d := reconcile(list, preferred); d != nil {
			return d
		}
	}
	return &audios[0]
}

func isBackFacing(d domain.DeviceInfo) bool {
	if d.Facing != "" {
		return d.Facing == domain.FacingBack
	}
	return backFacingLabel.MatchString(d.Label)
}

func filterKind(list []domain.DeviceInfo, kind domain.DeviceKind) []domain.DeviceInfo {
	var out []domain.DeviceInfo
	for _, d := range list {
		if d.Kind == kind {
			out = append(out, d)
		}
	}
	return out
}

// reconcile returns the entry of list matching want's DeviceID, or nil if
// that device is no longer present (e.g. unplugged).
func reconcile(list []domain.DeviceInfo, want *domain.DeviceInfo) *domain.DeviceInfo {
	if want == nil {
		return nil
	}
	for _, d := range list {
		if d.DeviceID == want.DeviceID {
			return &d
		}
	}
	return nil
}

func withDeviceIDs(c domain.MediaConstraints, sel Selection) domain.MediaConstraints {
	if sel.Video != nil {
		if c.Video == nil {
			c.Video = map[string]any{}
		}
		c.Video["deviceId"] = sel.Video.DeviceID
	}
	if sel.Audio != nil {
		if c.Audio == nil {
			c.Audio = map[string]any{}
		}
		c.Audio["deviceId"] = sel.Audio.DeviceID
	}
	return c
}

package rtcpeer

import (
	"context"
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/go-webrtc/callorch/internal/bitrate"
	"github.com/go-webrtc/callorch/internal/domain"
)

// statsReporter is satisfied by *Peer; kept as a local interface so
// Statistics never forces a domain.RTCPeer implementation to be a *Peer.
type statsReporter interface {
	Stats() webrtc.StatsReport
}

// Statistics implements domain.Statistics over a bitrate.Sampler, the
// concrete Statistics backend the orchestrator wires when it wants real
// pion/webrtc GetStats()-derived bitrate samples rather than a test double.
type Statistics struct {
	sampler *bitrate.Sampler
}

// NewStatistics creates a Statistics with no retained sampling history.
func NewStatistics() *Statistics {
	return &Statistics{sampler: bitrate.New()}
}

// Find implements domain.Statistics.
func (s *Statistics) Find(ctx context.Context, peer domain.RTCPeer) (domain.BitrateSample, error) {
	reporter, ok := peer.(statsReporter)
	if !ok {
		return domain.BitrateSample{}, fmt.Errorf("rtcpeer: peer %T does not expose Stats()", peer)
	}
	return s.sampler.Sample(reporter.Stats()), nil
}

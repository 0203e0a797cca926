// Package bitrate samples pion/webrtc statistics reports into the
// per-direction per-media bitrate record the orchestrator's disconnection
// strategy and consumers observe.
package bitrate

import (
	"math"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/go-webrtc/callorch/internal/domain"
)

// Sampler retains the most recent {bytes, timestamp} observation per
// channel and turns successive StatsReport snapshots into kbps deltas.
// A Sampler is not safe for concurrent use; the orchestrator samples only
// from its disconnection-strategy goroutine, of which at most one runs at
// a time.
type Sampler struct {
	prev [4]domain.StatSample
}

// New creates a Sampler with no retained history.
func New() *Sampler {
	return &Sampler{}
}

// Sample computes the current BitrateSample from report, updating the
// retained prior sample for each channel it can find data for. A channel
// absent from report contributes 0 and its retained prior sample (if any)
// is left untouched, so a transient missing report does not reset the
// delta computation for that channel once data reappears.
func (s *Sampler) Sample(report webrtc.StatsReport) domain.BitrateSample {
	var out domain.BitrateSample

	out.Video.Input = s.sampleChannel(domain.ChannelInboundVideo, findRTPStat(report, webrtc.StatsTypeInboundRTP, "video"))
	out.Video.Output = s.sampleChannel(domain.ChannelOutboundVideo, findRTPStat(report, webrtc.StatsTypeOutboundRTP, "video"))
	out.Audio.Input = s.sampleChannel(domain.ChannelInboundAudio, findRTPStat(report, webrtc.StatsTypeInboundRTP, "audio"))
	out.Audio.Output = s.sampleChannel(domain.ChannelOutboundAudio, findRTPStat(report, webrtc.StatsTypeOutboundRTP, "audio"))

	return out
}

// rtpStat is the subset of pion/webrtc's inbound/outbound RTP stream stats
// this sampler needs, normalized across the two concrete stat types.
type rtpStat struct {
	found     bool
	bytes     uint64
	timestamp time.Time
}

func findRTPStat(report webrtc.StatsReport, typ webrtc.StatsType, kind string) rtpStat {
	for _, v := range report {
		switch typ {
		case webrtc.StatsTypeInboundRTP:
			st, ok := v.(webrtc.InboundRTPStreamStats)
			if !ok || st.Kind != kind {
				continue
			}
			return rtpStat{found: true, bytes: st.BytesReceived, timestamp: st.Timestamp.Time()}
		case webrtc.StatsTypeOutboundRTP:
			st, ok := v.(webrtc.OutboundRTPStreamStats)
			if !ok || st.Kind != kind {
				continue
			}
			return rtpStat{found: true, bytes: st.BytesSent, timestamp: st.Timestamp.Time()}
		}
	}
	return rtpStat{}
}

func (s *Sampler) sampleChannel(ch domain.BitrateChannel, cur rtpStat) int {
	prev := s.prev[ch]
	if !cur.found {
		return 0
	}

	defer func() {
		s.prev[ch] = domain.StatSample{Bytes: cur.bytes, Timestamp: cur.timestamp, Valid: true}
	}()

	if !prev.Valid {
		return 0
	}

	deltaBytes := int64(cur.bytes) - int64(prev.Bytes)
	deltaMS := cur.timestamp.Sub(prev.Timestamp).Milliseconds()
	if deltaMS <= 0 || deltaBytes < 0 {
		return 0
	}

	return int(math.Floor(8 * float64(deltaBytes) / float64(deltaMS)))
}

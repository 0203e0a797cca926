package bitrate

import (
	"testing"
	"time"

	"github.com/pion/webrtc/v4"
)

func reportAt(t0 time.Time, videoInBytes, videoOutBytes uint64) webrtc.StatsReport {
	ts := webrtc.StatsTimestamp(float64(t0.UnixNano()) / float64(time.Millisecond))
	return webrtc.StatsReport{
		"in-video": webrtc.InboundRTPStreamStats{
			Kind:          "video",
			Timestamp:     ts,
			BytesReceived: videoInBytes,
		},
		"out-video": webrtc.OutboundRTPStreamStats{
			Kind:      "video",
			Timestamp: ts,
			BytesSent: videoOutBytes,
		},
	}
}

func TestSample_FirstCallIsZero(t *testing.T) {
	s := New()
	out := s.Sample(reportAt(time.Now(), 1000, 1000))
	if out.Video.Input != 0 || out.Video.Output != 0 {
		t.Fatalf("expected zero bitrate on first sample, got %+v", out)
	}
}

func TestSample_ComputesFloorKbps(t *testing.T) {
	s := New()
	t0 := time.Now()
	s.Sample(reportAt(t0, 0, 0))
	// 1000 bytes over 1000ms => 8*1000/1000 = 8 kbps
	out := s.Sample(reportAt(t0.Add(time.Second), 1000, 2000))
	if out.Video.Input != 8 {
		t.Errorf("expected input 8 kbps, got %d", out.Video.Input)
	}
	if out.Video.Output != 16 {
		t.Errorf("expected output 16 kbps, got %d", out.Video.Output)
	}
}

func TestSample_IdenticalInputsYieldIdenticalOutputs(t *testing.T) {
	t0 := time.Now()
	r1 := reportAt(t0, 500, 500)
	r2 := reportAt(t0.Add(time.Second), 1500, 1500)

	s1 := New()
	s1.Sample(r1)
	out1 := s1.Sample(r2)

	s2 := New()
	s2.Sample(r1)
	out2 := s2.Sample(r2)

	if out1 != out2 {
		t.Fatalf("expected deterministic output, got %+v vs %+v", out1, out2)
	}
}

func TestSample_MissingChannelContributesZeroWithoutResettingHistory(t *testing.T) {
	s := New()
	t0 := time.Now()
	s.Sample(reportAt(t0, 0, 0))

	empty := webrtc.StatsReport{}
	out := s.Sample(empty)
	if out.Video.Input != 0 {
		t.Fatalf("expected 0 for missing channel, got %d", out.Video.Input)
	}

	out = s.Sample(reportAt(t0.Add(2*time.Second), 2000, 0))
	if out.Video.Input != 8 {
		t.Fatalf("expected history preserved across missing sample, got %d", out.Video.Input)
	}
}

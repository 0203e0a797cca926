package rtcpeer

import (
	"io"

	"github.com/pion/webrtc/v4"
)

// h264StartCode is the Annex B NAL start code prefix DumpVideoTrack writes
// before each extracted NAL unit.
var h264StartCode = []byte{0x00, 0x00, 0x00, 0x01}

// DumpVideoTrack reads RTP packets from track, depacketizes H264 NAL units,
// and writes them Annex-B-framed to w until the track ends or ctx-less read
// fails. Intended for a consumer that wants to record/inspect the raw
// received video (e.g. dumping to a file) alongside the orchestrator's own
// OnTrack handling of the same remote track.
func (p *Peer) DumpVideoTrack(track *webrtc.TrackRemote, w io.Writer) error {
	depack := NewH264Depacketizer()

	for {
		pkt, _, err := track.ReadRTP()
		if err != nil {
			return err
		}

		for _, nalu := range depack.Depacketize(pkt.SequenceNumber, pkt.Payload) {
			if len(nalu) == 0 {
				continue
			}
			if _, err := w.Write(h264StartCode); err != nil {
				return err
			}
			if _, err := w.Write(nalu); err != nil {
				return err
			}
		}
	}
}

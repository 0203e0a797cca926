package rtcpeer

// H264Depacketizer extracts NAL units from RTP H264 payloads. It tracks
// the expected next sequence number so a dropped RTP packet mid-fragment
// discards the in-progress FU-A reassembly instead of emitting a corrupt
// NALU, and keeps its own reassembly buffer so multiple concurrent tracks
// never share state.
type H264Depacketizer struct {
	fuaBuf   []byte
	fuaOK    bool
	expected uint16
	haveSeq  bool
}

// NewH264Depacketizer creates a new depacketizer with its own reassembly buffer.
func NewH264Depacketizer() *H264Depacketizer {
	return &H264Depacketizer{}
}

// Depacketize extracts NAL units from an RTP H264 payload carried at RTP
// sequence number seq. Handles single NAL, STAP-A, and FU-A packet types.
func (d *H264Depacketizer) Depacketize(seq uint16, payload []byte) [][]byte {
	if len(payload) < 1 {
		return nil
	}

	naluType := payload[0] & 0x1f

	switch {
	case naluType >= 1 && naluType <= 23:
		d.resetFUA()
		return [][]byte{payload}

	case naluType == 24:
		d.resetFUA()
		return d.depacketizeSTAPA(payload)

	case naluType == 28:
		return d.depacketizeFUA(seq, payload)

	default:
		return nil
	}
}

func (d *H264Depacketizer) depacketizeSTAPA(payload []byte) [][]byte {
	var nalus [][]byte
	offset := 1 // skip STAP-A header byte

	for offset+2 <= len(payload) {
		size := int(payload[offset])<<8 | int(payload[offset+1])
		offset += 2
		if size == 0 || offset+size > len(payload) {
			break
		}
		nalus = append(nalus, payload[offset:offset+size])
		offset += size
	}
	return nalus
}

func (d *H264Depacketizer) depacketizeFUA(seq uint16, payload []byte) [][]byte {
	if len(payload) < 2 {
		return nil
	}

	if d.haveSeq && d.fuaOK && seq != d.expected {
		d.resetFUA()
	}
	d.expected = seq + 1
	d.haveSeq = true

	fnri := payload[0] & 0xe0 // F + NRI bits from FU indicator
	fuHeader := payload[1]
	start := fuHeader&0x80 != 0
	end := fuHeader&0x40 != 0
	naluType := fuHeader & 0x1f

	if start {
		d.fuaBuf = []byte{fnri | naluType}
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
		d.fuaOK = true
	} else if d.fuaOK {
		d.fuaBuf = append(d.fuaBuf, payload[2:]...)
	} else {
		// mid/end fragment with no matching start: drop.
		return nil
	}

	if end {
		nalu := d.fuaBuf
		ok := d.fuaOK
		d.resetFUA()
		if !ok {
			return nil
		}
		return [][]byte{nalu}
	}

	return nil
}

func (d *H264Depacketizer) resetFUA() {
	d.fuaBuf = nil
	d.fuaOK = false
}

// Package sdprewrite parses locally-generated SDP and enforces the
// configured bandwidth limit before it is set as a local description and
// sent to the peer.
package sdprewrite

import (
	"strconv"
	"strings"

	"github.com/pion/sdp/v3"
	"github.com/sirupsen/logrus"

	"github.com/go-webrtc/callorch/internal/domain"
)

const (
	bandwidthTypeAS   = "AS"
	bandwidthTypeTIAS = "TIAS"
)

// Rewriter enforces bandwidth lines on locally generated SDP and,
// when Transform is enabled, re-serializes the whole session description
// through a structured parse/marshal round trip to sanitize fields the
// receiving browser might reject. With Transform disabled, bandwidth
// enforcement is done as a minimal textual line edit so that an
// already-unlimited, already-compliant SDP passes through unchanged
// (the identity law of spec.md §8).
type Rewriter struct {
	Bandwidth domain.BandwidthLimit
	Transform bool
	Log       *logrus.Entry
}

// New creates a Rewriter with the given bandwidth policy.
func New(bandwidth domain.BandwidthLimit, transform bool, log *logrus.Entry) *Rewriter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Rewriter{Bandwidth: bandwidth, Transform: transform, Log: log}
}

// Rewrite enforces the bandwidth policy on sdpText and returns the result.
func (r *Rewriter) Rewrite(sdpText string) string {
	if r.Transform {
		return r.rewriteStructured(sdpText)
	}
	return r.rewriteTextual(sdpText)
}

// rewriteStructured parses sdpText into a sdp.SessionDescription, enforces
// bandwidth on every media section, and re-serializes. pion/sdp/v3 always
// places a MediaDescription's Bandwidth entries immediately after its
// connection line, matching the insertion point spec.md requires. A parse
// or marshal failure is logged and the original text is returned unchanged
// — negotiation must not abort over a rewrite failure.
func (r *Rewriter) rewriteStructured(sdpText string) string {
	var parsed sdp.SessionDescription
	if err := parsed.Unmarshal([]byte(sdpText)); err != nil {
		r.Log.WithError(err).Warn("sdprewrite: parse failed, using SDP as-is")
		return sdpText
	}

	for _, md := range parsed.MediaDescriptions {
		r.applyBandwidth(md)
	}

	out, err := parsed.Marshal()
	if err != nil {
		r.Log.WithError(err).Warn("sdprewrite: re-serialize failed, using SDP as-is")
		return sdpText
	}
	return string(out)
}

func (r *Rewriter) applyBandwidth(md *sdp.MediaDescription) {
	if r.Bandwidth.Unlimited {
		kept := md.Bandwidth[:0]
		for _, b := range md.Bandwidth {
			if b.Type != bandwidthTypeAS && b.Type != bandwidthTypeTIAS {
				kept = append(kept, b)
			}
		}
		md.Bandwidth = kept
		return
	}

	as := uint64(r.Bandwidth.KilobitsPS)
	tias := as * 1000

	md.Bandwidth = upsertBandwidth(md.Bandwidth, bandwidthTypeAS, as)
	md.Bandwidth = upsertBandwidth(md.Bandwidth, bandwidthTypeTIAS, tias)
}

func upsertBandwidth(existing []sdp.Bandwidth, typ string, value uint64) []sdp.Bandwidth {
	for i := range existing {
		if existing[i].Type == typ {
			existing[i].Bandwidth = value
			return existing
		}
	}
	return append(existing, sdp.Bandwidth{Type: typ, Bandwidth: value})
}

// rewriteTextual performs the same bandwidth enforcement as
// rewriteStructured but as a line-level edit of sdpText, leaving every
// other line byte-for-byte untouched. When the bandwidth limit is
// unlimited and no b=AS/b=TIAS lines are present, this is a true identity
// transform.
func (r *Rewriter) rewriteTextual(sdpText string) string {
	lines := strings.Split(sdpText, "\r\n")
	if len(lines) == 1 {
		lines = strings.Split(sdpText, "\n")
	}

	var out []string
	inMediaSection := false
	for _, line := range lines {
		switch {
		case strings.HasPrefix(line, "m="):
			inMediaSection = true
			out = append(out, line)
		case strings.HasPrefix(line, "b=AS:") || strings.HasPrefix(line, "b=TIAS:"):
			if !inMediaSection {
				out = append(out, line)
			}
			// dropped inside a media section; re-inserted after c=IN below.
		case strings.HasPrefix(line, "c=IN") && inMediaSection:
			out = append(out, line)
			out = append(out, r.bandwidthLines()...)
		default:
			out = append(out, line)
		}
	}

	sep := "\r\n"
	if !strings.Contains(sdpText, "\r\n") {
		sep = "\n"
	}
	return strings.Join(out, sep)
}

func (r *Rewriter) bandwidthLines() []string {
	if r.Bandwidth.Unlimited {
		return nil
	}
	as := r.Bandwidth.KilobitsPS
	tias := as * 1000
	return []string{
		"b=AS:" + strconv.Itoa(as),
		"b=TIAS:" + strconv.Itoa(tias),
	}
}

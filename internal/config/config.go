// Package config defines the orchestrator's Options and the demo CLI's
// environment-variable loading, generalized from the teacher's
// godotenv + required-env-var pattern.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"github.com/go-webrtc/callorch/internal/domain"
)

// Options configures one orchestrator instance (spec §4.4/§9).
type Options struct {
	// Bandwidth caps SDP b=AS/b=TIAS lines; domain.Unlimited disables
	// enforcement.
	Bandwidth domain.BandwidthLimit
	// LogLevel maps 0..5 onto logrus.Level the way spec.md §9 describes
	// the source's numeric logLevel option.
	LogLevel int
	// AllowSDPTransform gates the sdprewrite structured re-serialization
	// path (OQ-2): false keeps the textual byte-preserving rewrite.
	AllowSDPTransform bool
	// AllowIceStalledChecking gates the ICE-gathering-stall timer.
	AllowIceStalledChecking bool
	// AllowBitrateChecking gates the bitrate-driven disconnection
	// strategy (OQ-3: true enables it, the corrected reading).
	AllowBitrateChecking bool
	// ICEServers seeds the peer connection's RTCConfiguration.
	ICEServers []domain.ICEServer
}

// DefaultOptions returns spec.md §9's stated defaults: a 600kbps bandwidth
// cap, warn-level logging, every feature flag off, no ICE servers (caller
// should supply at least a STUN server for real NAT traversal).
func DefaultOptions() Options {
	return Options{
		Bandwidth:               domain.Kbps(600),
		LogLevel:                int(logrus.WarnLevel),
		AllowSDPTransform:       false,
		AllowIceStalledChecking: false,
		AllowBitrateChecking:    false,
	}
}

// LogrusLevel converts LogLevel into a logrus.Level, clamping out-of-range
// values to the nearest valid level.
func (o Options) LogrusLevel() logrus.Level {
	if o.LogLevel < 0 {
		return logrus.PanicLevel
	}
	if o.LogLevel > int(logrus.TraceLevel) {
		return logrus.TraceLevel
	}
	return logrus.Level(o.LogLevel)
}

// CLIConfig holds the demo binary's environment-sourced settings.
type CLIConfig struct {
	SignalURL    string
	RoomID       string
	STUNServer   string
	BandwidthKbps int // 0 means Options.Bandwidth kept its default (600kbps)
	Options      Options
}

// Load reads the demo CLI's configuration from a .env file (if present)
// and environment variables; environment variables take precedence over
// .env values, matching the teacher's godotenv.Load usage.
func Load() (*CLIConfig, error) {
	_ = godotenv.Load()

	signalURL := os.Getenv("CALLORCH_SIGNAL_URL")
	if signalURL == "" {
		return nil, fmt.Errorf("CALLORCH_SIGNAL_URL environment variable is required")
	}

	roomID := os.Getenv("CALLORCH_ROOM_ID")
	if roomID == "" {
		return nil, fmt.Errorf("CALLORCH_ROOM_ID environment variable is required")
	}

	opts := DefaultOptions()

	if v := os.Getenv("CALLORCH_LOG_LEVEL"); v != "" {
		lvl, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("CALLORCH_LOG_LEVEL must be an integer: %w", err)
		}
		opts.LogLevel = lvl
	}

	bandwidthKbps := 0
	if v := os.Getenv("CALLORCH_BANDWIDTH_KBPS"); v != "" {
		kbps, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("CALLORCH_BANDWIDTH_KBPS must be an integer: %w", err)
		}
		bandwidthKbps = kbps
		if kbps > 0 {
			opts.Bandwidth = domain.Kbps(kbps)
		}
	}

	if v := os.Getenv("CALLORCH_ALLOW_SDP_TRANSFORM"); v != "" {
		opts.AllowSDPTransform = v == "true" || v == "1"
	}
	if v := os.Getenv("CALLORCH_ALLOW_ICE_STALL_CHECK"); v != "" {
		opts.AllowIceStalledChecking = v == "true" || v == "1"
	}
	if v := os.Getenv("CALLORCH_ALLOW_BITRATE_CHECK"); v != "" {
		opts.AllowBitrateChecking = v == "true" || v == "1"
	}

	stun := os.Getenv("CALLORCH_STUN_SERVER")
	if stun == "" {
		stun = "stun:stun.l.google.com:19302"
	}
	opts.ICEServers = []domain.ICEServer{{URLs: []string{stun}}}

	return &CLIConfig{
		SignalURL:     signalURL,
		RoomID:        roomID,
		STUNServer:    stun,
		BandwidthKbps: bandwidthKbps,
		Options:       opts,
	}, nil
}

package config

import (
	"testing"

	"github.com/sirupsen/logrus"
)

func clearEnv(t *testing.T) {
	vars := []string{
		"CALLORCH_SIGNAL_URL", "CALLORCH_ROOM_ID", "CALLORCH_LOG_LEVEL",
		"CALLORCH_BANDWIDTH_KBPS", "CALLORCH_ALLOW_SDP_TRANSFORM",
		"CALLORCH_ALLOW_ICE_STALL_CHECK", "CALLORCH_ALLOW_BITRATE_CHECK",
		"CALLORCH_STUN_SERVER",
	}
	for _, v := range vars {
		t.Setenv(v, "")
	}
}

func TestLoad_MissingSignalURLErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALLORCH_ROOM_ID", "room1")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when CALLORCH_SIGNAL_URL is unset")
	}
}

func TestLoad_MissingRoomIDErrors(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALLORCH_SIGNAL_URL", "wss://example.test/ws")

	if _, err := Load(); err == nil {
		t.Fatal("expected error when CALLORCH_ROOM_ID is unset")
	}
}

func TestLoad_DefaultsWhenOptionalVarsUnset(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALLORCH_SIGNAL_URL", "wss://example.test/ws")
	t.Setenv("CALLORCH_ROOM_ID", "room1")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Options.Bandwidth.Unlimited || cfg.Options.Bandwidth.KilobitsPS != 600 {
		t.Fatalf("expected 600kbps cap by default, got %+v", cfg.Options.Bandwidth)
	}
	if cfg.Options.AllowSDPTransform || cfg.Options.AllowIceStalledChecking || cfg.Options.AllowBitrateChecking {
		t.Fatal("expected all feature flags off by default")
	}
	if cfg.Options.LogrusLevel() != logrus.WarnLevel {
		t.Fatalf("expected warn-level logging by default, got %v", cfg.Options.LogrusLevel())
	}
	if len(cfg.Options.ICEServers) != 1 {
		t.Fatalf("expected a default STUN server, got %+v", cfg.Options.ICEServers)
	}
}

func TestLoad_BandwidthKbpsOverridesDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALLORCH_SIGNAL_URL", "wss://example.test/ws")
	t.Setenv("CALLORCH_ROOM_ID", "room1")
	t.Setenv("CALLORCH_BANDWIDTH_KBPS", "500")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Options.Bandwidth.Unlimited || cfg.Options.Bandwidth.KilobitsPS != 500 {
		t.Fatalf("expected 500kbps cap, got %+v", cfg.Options.Bandwidth)
	}
}

func TestLoad_FeatureFlagsParsedFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("CALLORCH_SIGNAL_URL", "wss://example.test/ws")
	t.Setenv("CALLORCH_ROOM_ID", "room1")
	t.Setenv("CALLORCH_ALLOW_SDP_TRANSFORM", "false")
	t.Setenv("CALLORCH_ALLOW_BITRATE_CHECK", "0")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Options.AllowSDPTransform {
		t.Fatal("expected AllowSDPTransform false")
	}
	if cfg.Options.AllowBitrateChecking {
		t.Fatal("expected AllowBitrateChecking false")
	}
	if cfg.Options.AllowIceStalledChecking {
		t.Fatal("expected AllowIceStalledChecking to remain false (unset)")
	}
}

func TestOptions_LogrusLevelClamps(t *testing.T) {
	o := Options{LogLevel: 99}
	if o.LogrusLevel() != logrus.TraceLevel {
		t.Fatalf("expected clamp to TraceLevel, got %v", o.LogrusLevel())
	}
	o.LogLevel = -5
	if o.LogrusLevel() != logrus.PanicLevel {
		t.Fatalf("expected clamp to PanicLevel, got %v", o.LogrusLevel())
	}
}

// Command orchestrator is a demonstration binary: it wires every
// orchestrator collaborator concretely and starts one call, modeled on
// the teacher's cmd/vicostream/main.go wiring order (config → transport →
// peer → handler → signaling → connect).
package main

import (
	"context"
	"os"
	ossignal "os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/go-webrtc/callorch/internal/config"
	"github.com/go-webrtc/callorch/internal/devices"
	"github.com/go-webrtc/callorch/internal/domain"
	"github.com/go-webrtc/callorch/internal/events"
	"github.com/go-webrtc/callorch/internal/network"
	"github.com/go-webrtc/callorch/internal/orchestrator"
	"github.com/go-webrtc/callorch/internal/rtcpeer"
	"github.com/go-webrtc/callorch/internal/signaling"
)

func main() {
	log := logrus.NewEntry(logrus.StandardLogger())

	cfg, err := config.Load()
	if err != nil {
		log.WithError(err).Fatal("orchestrator: load config")
	}
	logrus.SetLevel(cfg.Options.LogrusLevel())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	ossignal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		log.WithField("signal", sig).Info("orchestrator: shutting down")
		cancel()
	}()

	netStatus := network.New(nil, nil, log)
	netStatus.Start(ctx, 0)
	provider := devices.NewStaticProvider()
	stats := rtcpeer.NewStatistics()

	// The orchestrator is the handler the signaling transport delivers
	// events to, but the transport is also the signaler the orchestrator
	// sends through — neither can be built first. Orchestrator.New defers
	// the signaler, resolved by SetSignaler once the adapter exists.
	o := orchestrator.New(cfg.Options, netStatus, provider, stats, log)
	adapter := signaling.New(cfg.SignalURL, o, log)
	o.SetSignaler(adapter)

	if path := os.Getenv("CALLORCH_VIDEO_DUMP_PATH"); path != "" {
		dump, err := os.Create(path)
		if err != nil {
			log.WithError(err).Warn("orchestrator: open video dump file")
		} else {
			defer dump.Close()
			o.SetVideoDumpWriter(dump)
			log.WithField("path", path).Info("orchestrator: dumping remote video to file")
		}
	}

	o.Events().On(events.Change, func(events.Event) {
		log.WithFields(logrus.Fields{
			"matched":   o.Matched(),
			"connected": o.Connected(),
			"finished":  o.Finished(),
		}).Debug("orchestrator: change")
	})
	o.Events().On(events.Error, func(e events.Event) {
		log.WithField("error", e.Payload).Warn("orchestrator: error event")
	})
	o.Events().On(events.TrackChange, func(events.Event) {
		log.Debug("orchestrator: remote track change")
	})

	constraints := domain.MediaConstraints{
		Video: map[string]any{"width": 1280, "height": 720},
		Audio: map[string]any{"noiseSuppression": true},
	}
	if err := o.Start(ctx, cfg.RoomID, constraints); err != nil {
		log.WithError(err).Fatal("orchestrator: start")
	}
	log.WithField("room_id", cfg.RoomID).Info("orchestrator: started")

	<-ctx.Done()

	if err := o.Finish(context.Background()); err != nil {
		log.WithError(err).Warn("orchestrator: finish")
	}
	o.Shutdown()
	if err := adapter.Close(); err != nil {
		log.WithError(err).Warn("orchestrator: close signaling adapter")
	}

	log.Info("orchestrator: done")
}

// Package network implements the pluggable network-reachability probe
// (spec §6) the orchestrator consults only during recovery: "am I online
// right now?" within a bounded timeout, plus change notifications.
package network

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/go-webrtc/callorch/internal/domain"
)

// DefaultProbeURLs mirrors the captive-portal + well-known-host pair
// spec.md §6 names as reachability confirmation targets.
var DefaultProbeURLs = []string{
	"https://captive.apple.com/hotspot-detect.html",
	"https://www.google.com",
}

// DefaultPollInterval is how often Start polls IsOnline in the background.
// OnChange listeners are only ever driven as a side effect of an IsOnline
// call, so without a poll loop a real reachability transition never fires
// them on its own.
const DefaultPollInterval = 10 * time.Second

// pollTimeout bounds each background poll's IsOnline call.
const pollTimeout = 5 * time.Second

// Supervisor implements domain.NetworkStatus by racing HTTP HEAD requests
// against the caller's timeout.
type Supervisor struct {
	client    *http.Client
	probeURLs []string
	log       *logrus.Entry

	mu        sync.Mutex
	listeners map[int]func(bool)
	nextID    int
	lastKnown bool
}

// New creates a Supervisor. An empty probeURLs defaults to DefaultProbeURLs.
func New(client *http.Client, probeURLs []string, log *logrus.Entry) *Supervisor {
	if client == nil {
		client = http.DefaultClient
	}
	if len(probeURLs) == 0 {
		probeURLs = DefaultProbeURLs
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Supervisor{
		client:    client,
		probeURLs: probeURLs,
		log:       log,
		listeners: make(map[int]func(bool)),
		lastKnown: true,
	}
}

// IsOnline races a HEAD request against each configured probe URL; the
// first response (of any status code — reachability, not success, is
// what's being tested) wins and cancels the rest. Returns false if none
// respond within timeout.
func (s *Supervisor) IsOnline(ctx context.Context, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	result := make(chan bool, len(s.probeURLs))
	for _, url := range s.probeURLs {
		go func(url string) {
			req, err := http.NewRequestWithContext(ctx, http.MethodHead, url, nil)
			if err != nil {
				result <- false
				return
			}
			resp, err := s.client.Do(req)
			if err != nil {
				result <- false
				return
			}
			resp.Body.Close()
			result <- true
		}(url)
	}

	online := false
	for range s.probeURLs {
		select {
		case ok := <-result:
			if ok {
				online = true
			}
		case <-ctx.Done():
			s.setLastKnown(online)
			return online
		}
		if online {
			break
		}
	}
	s.setLastKnown(online)
	return online
}

// Start launches a background poll loop that calls IsOnline every interval
// (DefaultPollInterval if interval <= 0) until ctx is done, so a real
// reachability transition reaches OnChange listeners without requiring
// another caller to invoke IsOnline itself. Safe to call at most once per
// Supervisor.
func (s *Supervisor) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.IsOnline(ctx, pollTimeout)
			}
		}
	}()
}

func (s *Supervisor) setLastKnown(online bool) {
	s.mu.Lock()
	changed := s.lastKnown != online
	s.lastKnown = online
	listeners := make([]func(bool), 0, len(s.listeners))
	if changed {
		for _, l := range s.listeners {
			listeners = append(listeners, l)
		}
	}
	s.mu.Unlock()

	for _, l := range listeners {
		l(online)
	}
}

type subscription struct {
	s  *Supervisor
	id int
}

func (sub *subscription) Unsubscribe() {
	sub.s.mu.Lock()
	defer sub.s.mu.Unlock()
	delete(sub.s.listeners, sub.id)
}

// OnChange registers cb to be called whenever IsOnline observes a change
// in reachability. Returns a Subscription with an explicit Unsubscribe,
// resolving spec.md §9's note that the source's off("change", cb)
// erroneously called on instead of a removal primitive.
func (s *Supervisor) OnChange(cb func(online bool)) domain.Subscription {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = cb
	return &subscription{s: s, id: id}
}

// Package signaling implements the Signaling Adapter (spec §4.5, §6): a
// bidirectional typed-event channel over gorilla/websocket, generalized
// from the teacher's one-sided viewer/camera vocabulary to the full
// connect/disconnect/finish/send* and newPeer/newOffer/newAnswer/
// newIceCandidate/finished/error/close contract of domain.Signaler and
// domain.SignalHandler.
package signaling

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/go-webrtc/callorch/internal/domain"
)

// pingInterval matches both the teacher's pingLoop and spec.md §6's
// reference-binding note of a 10-second keepalive timer.
const pingInterval = 10 * time.Second

// envelope is the wire message shape, generalized from the teacher's
// flat per-method struct into the typed {type,from,to,roomId,payload}
// shape used across the pack's own generalized signaling server.
type envelope struct {
	Type    string          `json:"type"`
	From    string          `json:"from,omitempty"`
	To      string          `json:"to,omitempty"`
	RoomID  string          `json:"roomId"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

const (
	typeJoin      = "join"
	typeLeave     = "leave"
	typeFinish    = "finish"
	typePeerJoin  = "peer-joined"
	typeOffer     = "offer"
	typeAnswer    = "answer"
	typeCandidate = "candidate"
	typeFinished  = "finished"
	typeError     = "error"
)

// Adapter implements domain.Signaler over a single gorilla/websocket
// connection, dispatching inbound envelopes to a domain.SignalHandler.
type Adapter struct {
	serverURL string
	handler   domain.SignalHandler
	clientID  string
	log       *logrus.Entry

	mu     sync.Mutex
	conn   *websocket.Conn
	closed chan struct{}
}

// New creates an Adapter that will dial serverURL on Connect and deliver
// inbound events to handler.
func New(serverURL string, handler domain.SignalHandler, log *logrus.Entry) *Adapter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Adapter{
		serverURL: serverURL,
		handler:   handler,
		clientID:  uuid.New().String(),
		log:       log,
	}
}

// Connect dials the signaling WebSocket and announces roomID via a join
// envelope, then starts the read and keepalive-ping loops.
func (a *Adapter) Connect(ctx context.Context, roomID string) error {
	u, err := url.Parse(a.serverURL)
	if err != nil {
		return fmt.Errorf("signaling: parse server url: %w", err)
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		return fmt.Errorf("signaling: dial: %w", err)
	}

	a.mu.Lock()
	a.conn = conn
	a.closed = make(chan struct{})
	a.mu.Unlock()

	if err := a.send(envelope{Type: typeJoin, From: a.clientID, RoomID: roomID}); err != nil {
		return err
	}

	go a.readLoop(roomID)
	go a.pingLoop()

	a.handler.OnOpen()
	return nil
}

// Disconnect announces a leave for roomID; the connection itself is torn
// down by a subsequent Close.
func (a *Adapter) Disconnect(ctx context.Context, roomID string) error {
	return a.send(envelope{Type: typeLeave, From: a.clientID, RoomID: roomID})
}

// Finish announces the call as finished for roomID, notifying any peer
// still connected.
func (a *Adapter) Finish(ctx context.Context, roomID string) error {
	return a.send(envelope{Type: typeFinish, From: a.clientID, RoomID: roomID})
}

// SendSDPOffer sends sdp as an offer envelope for roomID.
func (a *Adapter) SendSDPOffer(ctx context.Context, roomID string, sdp domain.SDPPayload) error {
	return a.sendPayload(typeOffer, roomID, sdp)
}

// SendSDPAnswer sends sdp as an answer envelope for roomID.
func (a *Adapter) SendSDPAnswer(ctx context.Context, roomID string, sdp domain.SDPPayload) error {
	return a.sendPayload(typeAnswer, roomID, sdp)
}

// SendICECandidate sends candidate as a candidate envelope for roomID.
func (a *Adapter) SendICECandidate(ctx context.Context, roomID string, candidate domain.ICECandidatePayload) error {
	return a.sendPayload(typeCandidate, roomID, candidate)
}

// Close tears down the connection idempotently.
func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.closed:
		return nil
	default:
		close(a.closed)
	}
	if a.conn == nil {
		return nil
	}
	return a.conn.Close()
}

func (a *Adapter) sendPayload(typ, roomID string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("signaling: marshal %s payload: %w", typ, err)
	}
	return a.send(envelope{Type: typ, From: a.clientID, RoomID: roomID, Payload: data})
}

func (a *Adapter) send(env envelope) error {
	a.mu.Lock()
	conn := a.conn
	a.mu.Unlock()
	if conn == nil {
		return errors.New("signaling: not connected")
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("signaling: marshal envelope: %w", err)
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.log.WithField("type", env.Type).Debug("signaling: send")
	return conn.WriteMessage(websocket.TextMessage, data)
}

func (a *Adapter) readLoop(roomID string) {
	for {
		a.mu.Lock()
		conn := a.conn
		a.mu.Unlock()
		if conn == nil {
			return
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-a.closed:
				return
			default:
				a.log.WithError(err).Warn("signaling: read error")
				a.handler.OnClose()
				return
			}
		}

		var env envelope
		if err := json.Unmarshal(data, &env); err != nil {
			a.log.WithError(err).Warn("signaling: unmarshal envelope")
			continue
		}
		a.dispatch(env)
	}
}

func (a *Adapter) dispatch(env envelope) {
	switch env.Type {
	case typePeerJoin:
		a.handler.OnNewPeer(env.From)

	case typeOffer:
		var sdp domain.SDPPayload
		if err := json.Unmarshal(env.Payload, &sdp); err != nil {
			a.log.WithError(err).Warn("signaling: unmarshal offer")
			return
		}
		a.handler.OnNewOffer(sdp)

	case typeAnswer:
		var sdp domain.SDPPayload
		if err := json.Unmarshal(env.Payload, &sdp); err != nil {
			a.log.WithError(err).Warn("signaling: unmarshal answer")
			return
		}
		a.handler.OnNewAnswer(sdp)

	case typeCandidate:
		var candidate domain.ICECandidatePayload
		if err := json.Unmarshal(env.Payload, &candidate); err != nil {
			a.log.WithError(err).Warn("signaling: unmarshal candidate")
			return
		}
		a.handler.OnNewICECandidate(candidate)

	case typeFinished:
		a.handler.OnFinished(env.From)

	case typeError:
		a.handler.OnSignalError(errors.New(env.Error))

	default:
		a.log.WithField("type", env.Type).Warn("signaling: unhandled envelope type")
	}
}

func (a *Adapter) pingLoop() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-a.closed:
			return
		case <-ticker.C:
			a.mu.Lock()
			conn := a.conn
			var err error
			if conn != nil {
				err = conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second))
			}
			a.mu.Unlock()
			if err != nil {
				a.log.WithError(err).Warn("signaling: ping error")
				return
			}
		}
	}
}

package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"

	"github.com/lokutor-ai/convo-engine/internal/observe"
	"github.com/lokutor-ai/convo-engine/pkg/session"
	"github.com/lokutor-ai/convo-engine/pkg/vad"
)

// controlFrame is the shape recognized on the wire when a payload parses as
// JSON with a non-empty "type" field (§4.4).
type controlFrame struct {
	Type string `json:"type"`
}

// connection is one session's live websocket, with its own VAD instance and
// a buffered outbound queue so a slow client cannot stall FSM delivery.
type connection struct {
	sessionID string
	session   *session.Session
	fsm       *session.FSM
	ws        *websocket.Conn
	detector  *vad.Detector
	logger    observe.Logger

	out    chan outboundMessage
	closed chan struct{}
}

type outboundMessage struct {
	kind    websocket.MessageType
	payload []byte
}

func newConnection(sessionID string, sess *session.Session, fsm *session.FSM, ws *websocket.Conn, vadThreshold float64, vadSilenceWindow time.Duration, logger observe.Logger) *connection {
	return &connection{
		sessionID: sessionID,
		session:   sess,
		fsm:       fsm,
		ws:        ws,
		detector:  vad.New(vadThreshold, vadSilenceWindow),
		logger:    logger,
		out:       make(chan outboundMessage, outboundQueueSize),
		closed:    make(chan struct{}),
	}
}

// run drives the reader and writer goroutines and blocks until the
// connection closes.
func (c *connection) run(ctx context.Context) {
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		c.writeLoop(ctx)
	}()

	c.readLoop(ctx)

	close(c.closed)
	c.ws.Close(websocket.StatusNormalClosure, "")
	<-writerDone
}

func (c *connection) readLoop(ctx context.Context) {
	for {
		messageType, payload, err := c.ws.Read(ctx)
		if err != nil {
			return
		}
		c.handleInbound(messageType, payload)
	}
}

func (c *connection) handleInbound(messageType websocket.MessageType, payload []byte) {
	var cf controlFrame
	if json.Unmarshal(payload, &cf) == nil && cf.Type != "" {
		c.handleControlFrame(cf.Type, payload)
		return
	}
	c.handleAudioFrame(payload)
}

func (c *connection) handleControlFrame(frameType string, raw []byte) {
	switch frameType {
	case "offer":
		c.sendAnswer()
	case "ice-candidate":
		// Forwarded unchanged to a media negotiation collaborator that is
		// out of scope for the core; nothing to acknowledge here.
	case "start-recording", "stop-recording":
		// Advisory only.
	case "interrupt":
		c.fsm.Post(session.Event{Type: session.EventUserInterrupt})
	default:
		c.logger.Warn("ignoring unrecognized control frame", "session", c.sessionID, "type", frameType)
	}
}

func (c *connection) handleAudioFrame(frame []byte) {
	c.fsm.Post(session.Event{Type: session.EventUserAudio, Frame: frame})

	ev, err := c.detector.Process(frame)
	if err != nil {
		c.logger.Warn("vad rejected frame", "session", c.sessionID, "error", err)
		return
	}
	if ev == nil {
		return
	}
	switch ev.Type {
	case vad.SpeechStarted:
		c.fsm.Post(session.Event{Type: session.EventVADStarted})
	case vad.SpeechEnded:
		c.fsm.Post(session.Event{Type: session.EventVADEnded})
	}
}

func (c *connection) writeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.closed:
			return
		case msg := <-c.out:
			if err := c.ws.Write(ctx, msg.kind, msg.payload); err != nil {
				return
			}
		}
	}
}

// enqueue drops the message (logging it) rather than blocking the caller if
// the outbound queue is full, matching the backpressure posture used for
// inbound audio.
func (c *connection) enqueue(kind websocket.MessageType, payload []byte) {
	select {
	case c.out <- outboundMessage{kind: kind, payload: payload}:
	case <-c.closed:
	default:
		c.logger.Warn("outbound queue full, dropping frame", "session", c.sessionID)
	}
}

func (c *connection) sendJSON(v any) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Warn("failed to marshal outbound frame", "session", c.sessionID, "error", err)
		return
	}
	c.enqueue(websocket.MessageText, payload)
}

func (c *connection) sendReady() {
	c.sendJSON(map[string]any{"type": "ready", "session_id": c.sessionID})
}

func (c *connection) sendAnswer() {
	c.sendJSON(map[string]any{"type": "answer"})
}

func (c *connection) sendStateChange(tr session.Transition) {
	c.sendJSON(map[string]any{
		"type":  "state_change",
		"state": tr.To,
		"transition": map[string]any{
			"from":  tr.From,
			"to":    tr.To,
			"event": tr.Event,
		},
		"timestamp": tr.Timestamp.UnixMilli(),
	})
}

func (c *connection) sendThinking() {
	c.sendJSON(map[string]any{"type": "llm_thinking", "timestamp": time.Now().UnixMilli()})
}

func (c *connection) sendStopTTS() {
	c.sendJSON(map[string]any{"type": "stop-tts", "timestamp": time.Now().UnixMilli()})
}

// sendAudio writes the JSON header line followed by the raw audio bytes as
// a single binary message (§4.4).
func (c *connection) sendAudio(chunk []byte, isFinal bool) error {
	header, err := json.Marshal(map[string]any{
		"type":      "audio",
		"is_final":  isFinal,
		"timestamp": time.Now().UnixMilli(),
	})
	if err != nil {
		return err
	}
	payload := make([]byte, 0, len(header)+1+len(chunk))
	payload = append(payload, header...)
	payload = append(payload, '\n')
	payload = append(payload, chunk...)
	c.enqueue(websocket.MessageBinary, payload)
	return nil
}

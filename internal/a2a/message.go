package a2a

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// MessageType is the closed set of A2A message kinds.
type MessageType string

const (
	Request       MessageType = "request"
	Response      MessageType = "response"
	Notification  MessageType = "notification"
	Error         MessageType = "error"
	Heartbeat     MessageType = "heartbeat"
	WorkflowStart MessageType = "workflow_start"
	WorkflowStep  MessageType = "workflow_step"
	WorkflowEnd   MessageType = "workflow_end"
)

// DefaultPriority is applied when a message does not carry one.
const DefaultPriority = 5

// BrokerID is the reserved target used for registration and heartbeats.
const BrokerID = "broker"

// Payload actions understood by the broker itself.
const (
	ActionRegister = "register"
)

var ErrUnknownMessageType = errors.New("unknown message type")

// Valid reports whether t is one of the defined message types.
func (t MessageType) Valid() bool {
	switch t {
	case Request, Response, Notification, Error, Heartbeat, WorkflowStart, WorkflowStep, WorkflowEnd:
		return true
	}
	return false
}

func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("message type: %w", err)
	}
	mt := MessageType(s)
	if !mt.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownMessageType, s)
	}
	*t = mt
	return nil
}

// Payload is the opaque body of a message.
type Payload map[string]any

// Action returns the "action" field of the payload, or "" when absent.
func (p Payload) Action() string {
	s, _ := p["action"].(string)
	return s
}

// String returns the string value stored under key, or "".
func (p Payload) String(key string) string {
	s, _ := p[key].(string)
	return s
}

// Message is the A2A envelope. Empty TargetAgent, CorrelationID and WorkflowID
// and a zero TTL mean the field is absent on the wire.
type Message struct {
	ID            string
	Type          MessageType
	SourceAgent   string
	TargetAgent   string
	Timestamp     time.Time
	Payload       Payload
	CorrelationID string
	WorkflowID    string
	Priority      int
	TTL           time.Duration

	frame []byte
}

// NewID returns a fresh message identifier.
func NewID() string {
	return uuid.NewString()
}

// NewMessage builds a message with a fresh id, the current time and the
// default priority.
func NewMessage(t MessageType, source, target string, payload Payload) *Message {
	if payload == nil {
		payload = Payload{}
	}
	return &Message{
		ID:          NewID(),
		Type:        t,
		SourceAgent: source,
		TargetAgent: target,
		Timestamp:   time.Now().Truncate(time.Microsecond),
		Payload:     payload,
		Priority:    DefaultPriority,
	}
}

// NewReply builds a response or error addressed back to the sender of req.
func NewReply(req *Message, t MessageType, source string, payload Payload) *Message {
	reply := NewMessage(t, source, req.SourceAgent, payload)
	reply.CorrelationID = req.ID
	reply.WorkflowID = req.WorkflowID
	return reply
}

// IsBroadcast reports whether the message has no explicit target.
func (m *Message) IsBroadcast() bool {
	return m.TargetAgent == ""
}

// Frame returns the JSON text the message was decoded from, or nil for a
// message built locally. Forwarding the frame keeps payload numbers exact.
func (m *Message) Frame() []byte {
	return m.frame
}

type wireMessage struct {
	ID            string      `json:"id"`
	Type          MessageType `json:"type"`
	SourceAgent   string      `json:"source_agent"`
	TargetAgent   *string     `json:"target_agent,omitempty"`
	Timestamp     float64     `json:"timestamp"`
	Payload       Payload     `json:"payload"`
	CorrelationID *string     `json:"correlation_id,omitempty"`
	WorkflowID    *string     `json:"workflow_id,omitempty"`
	Priority      *int        `json:"priority,omitempty"`
	TTL           *float64    `json:"ttl,omitempty"`
}

func optional(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func (m Message) MarshalJSON() ([]byte, error) {
	payload := m.Payload
	if payload == nil {
		payload = Payload{}
	}
	priority := m.Priority
	w := wireMessage{
		ID:            m.ID,
		Type:          m.Type,
		SourceAgent:   m.SourceAgent,
		TargetAgent:   optional(m.TargetAgent),
		Timestamp:     float64(m.Timestamp.UnixMicro()) / 1e6,
		Payload:       payload,
		CorrelationID: optional(m.CorrelationID),
		WorkflowID:    optional(m.WorkflowID),
		Priority:      &priority,
	}
	if m.TTL > 0 {
		ttl := m.TTL.Seconds()
		w.TTL = &ttl
	}
	return json.Marshal(w)
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var w wireMessage
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	if w.ID == "" {
		return errors.New("message id is required")
	}
	if w.Type == "" {
		return fmt.Errorf("%w: missing", ErrUnknownMessageType)
	}

	*m = Message{
		ID:            w.ID,
		Type:          w.Type,
		SourceAgent:   w.SourceAgent,
		TargetAgent:   deref(w.TargetAgent),
		Timestamp:     time.UnixMicro(int64(math.Round(w.Timestamp * 1e6))),
		Payload:       w.Payload,
		CorrelationID: deref(w.CorrelationID),
		WorkflowID:    deref(w.WorkflowID),
		Priority:      DefaultPriority,
	}
	if m.Payload == nil {
		m.Payload = Payload{}
	}
	if w.Priority != nil {
		m.Priority = *w.Priority
	}
	if w.TTL != nil {
		m.TTL = time.Duration(*w.TTL * float64(time.Second))
	}
	return nil
}

// Encode serializes a message to its JSON text frame.
func Encode(m *Message) ([]byte, error) {
	return json.Marshal(m)
}

// Decode parses a JSON text frame.
func Decode(data []byte) (*Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decode a2a message: %w", err)
	}
	m.frame = data
	return &m, nil
}

package model

import (
	"encoding/json"
	"time"

	"PPLive/tools/errs"
)

type EnvelopeType string

// event types, carried between clients through the router
const (
	TypeMessage       EnvelopeType = "message"
	TypeTyping        EnvelopeType = "typing"
	TypeReaction      EnvelopeType = "reaction"
	TypeRead          EnvelopeType = "read"
	TypeDelete        EnvelopeType = "delete"
	TypePresenceJoin  EnvelopeType = "presence-join"
	TypePresenceLeave EnvelopeType = "presence-leave"
)

// control types, only between one client and the server
const (
	TypeHello         EnvelopeType = "hello"
	TypePresenceState EnvelopeType = "presence-state"
	TypeAck           EnvelopeType = "ack"
	TypeError         EnvelopeType = "error"
)

// Durable reports whether events of this type are persisted before delivery.
func (t EnvelopeType) Durable() bool {
	switch t {
	case TypeMessage, TypeReaction, TypeRead, TypeDelete:
		return true
	}
	return false
}

// Envelope is the unit of real-time transport. It is never stored itself.
type Envelope struct {
	Type       EnvelopeType    `json:"type"`
	Data       json.RawMessage `json:"data,omitempty"`
	UserID     string          `json:"userId"`
	Timestamp  int64           `json:"timestamp"` // unix ms
	SessionID  string          `json:"sessionId,omitempty"`
	Recipients []string        `json:"recipients,omitempty"`
	TempID     string          `json:"tempId,omitempty"`
	Seq        uint64          `json:"seq,omitempty"`
}

// NewEnvelope stamps the current time and encodes data.
func NewEnvelope(typ EnvelopeType, userID string, data any) (*Envelope, error) {
	env := &Envelope{Type: typ, UserID: userID, Timestamp: time.Now().UnixMilli()}
	if data != nil {
		if err := env.SetData(data); err != nil {
			return nil, err
		}
	}
	return env, nil
}

// SetData replaces the payload.
func (e *Envelope) SetData(v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return errs.WrapMsg(err, "encode envelope data", "type", e.Type)
	}
	e.Data = raw
	return nil
}

// Decode unmarshals the payload into v.
func (e *Envelope) Decode(v any) error {
	if len(e.Data) == 0 {
		return errs.ErrArgs.WrapMsg("empty envelope data", "type", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return errs.ErrArgs.WrapMsg(err.Error(), "type", e.Type)
	}
	return nil
}

// Clone returns a shallow copy safe to re-stamp; Data is shared and must not be mutated.
func (e *Envelope) Clone() *Envelope {
	c := *e
	if e.Recipients != nil {
		c.Recipients = append([]string(nil), e.Recipients...)
	}
	return &c
}

func (e *Envelope) Marshal() ([]byte, error) { return json.Marshal(e) }

func UnmarshalEnvelope(b []byte) (*Envelope, error) {
	var e Envelope
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, errs.ErrArgs.WrapMsg("bad envelope: " + err.Error())
	}
	if e.Type == "" {
		return nil, errs.ErrArgs.WrapMsg("envelope without type")
	}
	return &e, nil
}

// Payloads per type.

type MessageData struct {
	ID        string `json:"id,omitempty"`
	Content   string `json:"content"`
	CreatedAt int64  `json:"createdAt,omitempty"`
}

type TypingData struct {
	Typing bool `json:"typing"`
}

type ReactionData struct {
	ID    string `json:"id,omitempty"`
	Emoji string `json:"emoji"`
}

type ReadData struct {
	MessageID string `json:"messageId"`
}

type DeleteData struct {
	MessageID string `json:"messageId"`
}

// HelloData opens a connection. The user id comes from the token, not from here.
type HelloData struct {
	SessionID   string `json:"sessionId"`
	DisplayName string `json:"displayName,omitempty"`
	Role        string `json:"role,omitempty"`
}

type PresenceData struct {
	Participant Participant `json:"participant"`
	Count       int         `json:"count"`
}

type PresenceStateData struct {
	Session      Session       `json:"session"`
	Participants []Participant `json:"participants"`
	Count        int           `json:"count"`
	Peak         int           `json:"peak"`
}

// AckData confirms a durable action to its sender when the sender is not
// among the recipients of the broadcast.
type AckData struct {
	ID string `json:"id,omitempty"`
}

type ErrorData struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// ErrorEnvelope builds an error reply for a failed client action.
func ErrorEnvelope(userID, sessionID, tempID string, err error) *Envelope {
	code := errs.Code(err)
	if code == 0 {
		code = errs.ServerInternalError
	}
	raw, _ := json.Marshal(ErrorData{Code: code, Message: err.Error()})
	return &Envelope{
		Type:      TypeError,
		Data:      raw,
		UserID:    userID,
		Timestamp: time.Now().UnixMilli(),
		SessionID: sessionID,
		TempID:    tempID,
	}
}

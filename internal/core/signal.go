package core

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dkeye/strealome/internal/domain"
)

// SystemAuthor marks signals produced by the server itself.
const SystemAuthor domain.UserID = -1

var ErrUnknownSignal = errors.New("unknown signal")

type PayloadTag string

const (
	TagHandshake    PayloadTag = "0"
	TagHandshakeAck PayloadTag = "1"
	TagPing         PayloadTag = "2"
	TagPong         PayloadTag = "3"
	TagEvent        PayloadTag = "4"
)

type EventKind string

const (
	KindJoin     EventKind = "join"
	KindLeave    EventKind = "leave"
	KindTransfer EventKind = "transfer"
	KindChat     EventKind = "chat"
)

// Direction is the declared flow of a payload between client and server.
type Direction uint8

const (
	ToServer Direction = iota
	ToClient
	Bidirectional
)

// Payload is one variant of the signal payload union.
type Payload interface {
	Tag() PayloadTag
	Direction() Direction
}

// Event is a room lifecycle or chat payload.
type Event interface {
	Payload
	Kind() EventKind
}

type Handshake struct {
	ID int64 `json:"id"`
	SN int64 `json:"sn"`
}

type HandshakeAck struct {
	ID int64 `json:"id"`
	SN int64 `json:"sn"`
}

type Ping struct {
	ID int64 `json:"id"`
	SN int64 `json:"sn"`
}

type Pong struct {
	ID int64 `json:"id"`
	SN int64 `json:"sn"`
}

func (Handshake) Tag() PayloadTag    { return TagHandshake }
func (HandshakeAck) Tag() PayloadTag { return TagHandshakeAck }
func (Ping) Tag() PayloadTag         { return TagPing }
func (Pong) Tag() PayloadTag         { return TagPong }

func (Handshake) Direction() Direction    { return ToClient }
func (HandshakeAck) Direction() Direction { return ToServer }
func (Ping) Direction() Direction         { return ToServer }
func (Pong) Direction() Direction         { return ToClient }

type JoinEvent struct {
	UserID         domain.UserID `json:"user_id"`
	NewMemberCount int           `json:"new_member_count"`
}

type LeaveEvent struct {
	UserID         domain.UserID `json:"user_id"`
	NewMemberCount int           `json:"new_member_count"`
}

type TransferEvent struct {
	NewHostID domain.UserID `json:"new_host_id"`
}

// ChatMessage is a chat line. Clients submitting a message fill only
// Content; the server stamps the rest.
type ChatMessage struct {
	ID        int64         `json:"id"`
	AuthorID  domain.UserID `json:"author_id"`
	Content   string        `json:"content"`
	CreatedAt time.Time     `json:"created_at"`
}

type ChatEvent struct {
	Message ChatMessage
}

func (JoinEvent) Tag() PayloadTag     { return TagEvent }
func (LeaveEvent) Tag() PayloadTag    { return TagEvent }
func (TransferEvent) Tag() PayloadTag { return TagEvent }
func (ChatEvent) Tag() PayloadTag     { return TagEvent }

func (JoinEvent) Direction() Direction     { return ToClient }
func (LeaveEvent) Direction() Direction    { return ToClient }
func (TransferEvent) Direction() Direction { return ToClient }
func (ChatEvent) Direction() Direction     { return Bidirectional }

func (JoinEvent) Kind() EventKind     { return KindJoin }
func (LeaveEvent) Kind() EventKind    { return KindLeave }
func (TransferEvent) Kind() EventKind { return KindTransfer }
func (ChatEvent) Kind() EventKind     { return KindChat }

// Signal is one envelope of the wire protocol. A Signal is shared by all
// recipients of a broadcast and must not be mutated after it is sent.
type Signal struct {
	ID      int64
	Author  domain.UserID
	Payload Payload
}

func NewSignal(id int64, author domain.UserID, p Payload) *Signal {
	return &Signal{ID: id, Author: author, Payload: p}
}

// AcceptFromClient reports whether a client may send this signal.
func (s *Signal) AcceptFromClient() bool {
	return s.Payload != nil && s.Payload.Direction() != ToClient
}

type wireSignal struct {
	ID     int64           `json:"id"`
	Author domain.UserID   `json:"a"`
	Tag    PayloadTag      `json:"t"`
	Body   json.RawMessage `json:"p"`
}

type wireEvent struct {
	Kind EventKind       `json:"ev"`
	Data json.RawMessage `json:"d"`
}

func (s *Signal) MarshalJSON() ([]byte, error) {
	if s.Payload == nil {
		return nil, fmt.Errorf("marshal signal %d: nil payload", s.ID)
	}
	var body any = s.Payload
	if ev, ok := s.Payload.(Event); ok {
		data, err := json.Marshal(eventData(ev))
		if err != nil {
			return nil, err
		}
		body = wireEvent{Kind: ev.Kind(), Data: data}
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, err
	}
	return json.Marshal(wireSignal{ID: s.ID, Author: s.Author, Tag: s.Payload.Tag(), Body: raw})
}

func eventData(ev Event) any {
	if chat, ok := ev.(ChatEvent); ok {
		return chat.Message
	}
	return ev
}

func (s *Signal) UnmarshalJSON(data []byte) error {
	var w wireSignal
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	p, err := decodePayload(w.Tag, w.Body)
	if err != nil {
		return err
	}
	*s = Signal{ID: w.ID, Author: w.Author, Payload: p}
	return nil
}

func decodePayload(tag PayloadTag, body json.RawMessage) (Payload, error) {
	switch tag {
	case TagHandshake:
		return decodeAs[Handshake](body)
	case TagHandshakeAck:
		return decodeAs[HandshakeAck](body)
	case TagPing:
		return decodeAs[Ping](body)
	case TagPong:
		return decodeAs[Pong](body)
	case TagEvent:
		var ev wireEvent
		if err := json.Unmarshal(body, &ev); err != nil {
			return nil, err
		}
		return decodeEvent(ev)
	}
	return nil, fmt.Errorf("%w: tag %q", ErrUnknownSignal, tag)
}

func decodeEvent(ev wireEvent) (Payload, error) {
	switch ev.Kind {
	case KindJoin:
		return decodeAs[JoinEvent](ev.Data)
	case KindLeave:
		return decodeAs[LeaveEvent](ev.Data)
	case KindTransfer:
		return decodeAs[TransferEvent](ev.Data)
	case KindChat:
		msg, err := decodeAs[ChatMessage](ev.Data)
		if err != nil {
			return nil, err
		}
		return ChatEvent{Message: msg}, nil
	}
	return nil, fmt.Errorf("%w: event %q", ErrUnknownSignal, ev.Kind)
}

func decodeAs[T any](body json.RawMessage) (T, error) {
	var v T
	if len(body) == 0 {
		return v, errors.New("missing payload")
	}
	err := json.Unmarshal(body, &v)
	return v, err
}

// Encode renders s in wire form.
func Encode(s *Signal) ([]byte, error) { return json.Marshal(s) }

// Decode parses one wire frame.
func Decode(data []byte) (*Signal, error) {
	var s Signal
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("decode signal: %w", err)
	}
	return &s, nil
}

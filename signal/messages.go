// Package signal defines the relay wire protocol and the clients that
// speak it: a websocket client for the production relay and an in-process
// relay for tests.
package signal

import (
	"encoding/json"
	"fmt"

	"github.com/bytedance/sonic"
)

type Type string

// Relay message types. join-room, offer, answer, ice-candidate and
// mute-status flow client-to-relay; the rest flow relay-to-client.
const (
	TypeJoinRoom         Type = "join-room"
	TypeRoomParticipants Type = "room-participants"
	TypeUserJoined       Type = "user-joined"
	TypeUserLeft         Type = "user-left"
	TypeOffer            Type = "offer"
	TypeAnswer           Type = "answer"
	TypeICECandidate     Type = "ice-candidate"
	TypeMuteStatus       Type = "mute-status"
	TypePeerMuteStatus   Type = "peer-mute-status"
	TypeError            Type = "error"
)

// Envelope is the framing shared by every relay message.
type Envelope struct {
	Type    Type            `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// NewEnvelope wraps a payload struct into an Envelope.
func NewEnvelope(t Type, payload any) (*Envelope, error) {
	raw, err := sonic.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s payload: %w", t, err)
	}
	return &Envelope{Type: t, Payload: raw}, nil
}

// DecodePayload unmarshals an envelope's payload into T.
func DecodePayload[T any](env *Envelope) (T, error) {
	var payload T
	if err := sonic.Unmarshal(env.Payload, &payload); err != nil {
		return payload, fmt.Errorf("unmarshaling %s payload: %w", env.Type, err)
	}
	return payload, nil
}

// Descriptor is a transport session description (offer, answer or
// rollback) carried opaquely through the relay.
type Descriptor struct {
	Type string `json:"type"`
	SDP  string `json:"sdp,omitempty"`
}

// Candidate is a transport connectivity candidate carried opaquely
// through the relay.
type Candidate struct {
	Candidate     string `json:"candidate"`
	SDPMid        string `json:"sdpMid,omitempty"`
	SDPMLineIndex uint16 `json:"sdpMLineIndex"`
}

// Participant identifies a room member. SocketID is the relay-assigned
// session identifier and changes across reconnects; ID is the stable user
// identity.
type Participant struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	SocketID  string `json:"socketId"`
	PublicKey string `json:"publicKey,omitempty"`
}

type JoinRoom struct {
	RoomID    string `json:"roomId"`
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	PublicKey string `json:"publicKey,omitempty"`
}

type RoomParticipants struct {
	RoomID       string        `json:"roomId"`
	Participants []Participant `json:"participants"`
}

type UserJoined struct {
	UserID    string `json:"userId"`
	Username  string `json:"username"`
	SocketID  string `json:"socketId"`
	PublicKey string `json:"publicKey,omitempty"`
}

type UserLeft struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	SocketID string `json:"socketId"`
}

// SessionSignal carries an offer or answer. TargetSocketID addresses the
// outbound direction; the relay fills From and FromUser on delivery.
type SessionSignal struct {
	RoomID         string       `json:"roomId"`
	TargetSocketID string       `json:"targetSocketId,omitempty"`
	From           string       `json:"from,omitempty"`
	Descriptor     Descriptor   `json:"descriptor"`
	FromUser       *Participant `json:"fromUser,omitempty"`
}

type CandidateSignal struct {
	RoomID         string    `json:"roomId"`
	TargetSocketID string    `json:"targetSocketId,omitempty"`
	From           string    `json:"from,omitempty"`
	Candidate      Candidate `json:"candidate"`
}

type MuteStatus struct {
	RoomID  string `json:"roomId"`
	IsMuted bool   `json:"isMuted"`
}

type PeerMuteStatus struct {
	SocketID string `json:"socketId"`
	IsMuted  bool   `json:"isMuted"`
}

type ErrorPayload struct {
	Error string `json:"error"`
}

// Relay is the signaling capability the voice engine consumes: addressed
// delivery between endpoints plus room membership events. Incoming is
// closed when the relay connection is lost.
type Relay interface {
	Send(env *Envelope) error
	Incoming() <-chan *Envelope
	Close() error
}

package signal

import (
	"sync"

	"github.com/veilcall/veilcall/shared"
)

// endpointBuffer bounds each endpoint's delivery queue. Deliveries beyond
// the bound are dropped rather than blocking the sender.
const endpointBuffer = 256

// MemoryRelay is an in-process relay for tests. Endpoints sharing one
// MemoryRelay exchange signaling without any network, with the same room
// and addressing semantics as the production relay.
type MemoryRelay struct {
	mu        sync.Mutex
	endpoints map[string]*MemoryEndpoint
}

func NewMemoryRelay() *MemoryRelay {
	return &MemoryRelay{
		endpoints: make(map[string]*MemoryEndpoint),
	}
}

// Connect registers an endpoint under a caller-chosen socket ID.
func (r *MemoryRelay) Connect(socketID string) *MemoryEndpoint {
	r.mu.Lock()
	defer r.mu.Unlock()
	ep := &MemoryEndpoint{
		relay:    r,
		socketID: socketID,
		incoming: make(chan *Envelope, endpointBuffer),
	}
	r.endpoints[socketID] = ep
	return ep
}

// MemoryEndpoint is one connected client of a MemoryRelay.
type MemoryEndpoint struct {
	relay    *MemoryRelay
	socketID string
	incoming chan *Envelope

	userID    string
	username  string
	publicKey string
	roomID    string
	closed    bool
}

var _ Relay = (*MemoryEndpoint)(nil)

func (e *MemoryEndpoint) Incoming() <-chan *Envelope {
	return e.incoming
}

func (e *MemoryEndpoint) Send(env *Envelope) error {
	e.relay.mu.Lock()
	defer e.relay.mu.Unlock()
	if e.closed {
		return shared.ErrRelayDisconnected
	}

	switch env.Type {
	case TypeJoinRoom:
		join, err := DecodePayload[JoinRoom](env)
		if err != nil {
			return err
		}
		return e.relay.handleJoin(e, join)
	case TypeOffer, TypeAnswer:
		sig, err := DecodePayload[SessionSignal](env)
		if err != nil {
			return err
		}
		sig.From = e.socketID
		sig.FromUser = e.participant()
		return e.relay.deliverTo(sig.TargetSocketID, env.Type, sig)
	case TypeICECandidate:
		sig, err := DecodePayload[CandidateSignal](env)
		if err != nil {
			return err
		}
		sig.From = e.socketID
		return e.relay.deliverTo(sig.TargetSocketID, env.Type, sig)
	case TypeMuteStatus:
		mute, err := DecodePayload[MuteStatus](env)
		if err != nil {
			return err
		}
		e.relay.broadcast(e, TypePeerMuteStatus, PeerMuteStatus{
			SocketID: e.socketID,
			IsMuted:  mute.IsMuted,
		})
		return nil
	default:
		return shared.ErrUnknownMessageType
	}
}

func (e *MemoryEndpoint) Close() error {
	e.relay.mu.Lock()
	defer e.relay.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	delete(e.relay.endpoints, e.socketID)
	if e.roomID != "" {
		e.relay.broadcast(e, TypeUserLeft, UserLeft{
			UserID:   e.userID,
			Username: e.username,
			SocketID: e.socketID,
		})
	}
	close(e.incoming)
	return nil
}

func (e *MemoryEndpoint) participant() *Participant {
	return &Participant{
		ID:        e.userID,
		Username:  e.username,
		SocketID:  e.socketID,
		PublicKey: e.publicKey,
	}
}

// handleJoin runs with the relay lock held.
func (r *MemoryRelay) handleJoin(e *MemoryEndpoint, join JoinRoom) error {
	e.userID = join.UserID
	e.username = join.Username
	e.publicKey = join.PublicKey
	e.roomID = join.RoomID

	participants := make([]Participant, 0)
	for _, other := range r.endpoints {
		if other == e || other.roomID != join.RoomID {
			continue
		}
		participants = append(participants, *other.participant())
	}
	r.deliver(e, TypeRoomParticipants, RoomParticipants{
		RoomID:       join.RoomID,
		Participants: participants,
	})
	r.broadcast(e, TypeUserJoined, UserJoined{
		UserID:    join.UserID,
		Username:  join.Username,
		SocketID:  e.socketID,
		PublicKey: join.PublicKey,
	})
	return nil
}

func (r *MemoryRelay) deliverTo(socketID string, t Type, payload any) error {
	target, ok := r.endpoints[socketID]
	if !ok {
		// Addressed peer already gone; the relay drops, it does not error.
		return nil
	}
	r.deliver(target, t, payload)
	return nil
}

func (r *MemoryRelay) broadcast(from *MemoryEndpoint, t Type, payload any) {
	for _, other := range r.endpoints {
		if other == from || other.roomID == "" || other.roomID != from.roomID {
			continue
		}
		r.deliver(other, t, payload)
	}
}

func (r *MemoryRelay) deliver(to *MemoryEndpoint, t Type, payload any) {
	env, err := NewEnvelope(t, payload)
	if err != nil {
		return
	}
	select {
	case to.incoming <- env:
	default:
	}
}

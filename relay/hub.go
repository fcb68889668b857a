package relay

import (
	"go.uber.org/zap"

	"github.com/veilcall/veilcall/shared"
	"github.com/veilcall/veilcall/signal"
)

type inbound struct {
	from *client
	env  *signal.Envelope
}

// Hub owns all room and client state. A single goroutine started by Run
// processes registration, disconnects and signaling traffic, so no state
// is locked.
type Hub struct {
	logger shared.LoggerAdapter

	register   chan *client
	unregister chan *client
	inbound    chan inbound
	done       chan struct{}

	clients map[string]*client
	rooms   map[string]map[string]*client
}

func NewHub(logger shared.LoggerAdapter) *Hub {
	return &Hub{
		logger:     logger,
		register:   make(chan *client),
		unregister: make(chan *client),
		inbound:    make(chan inbound, 64),
		done:       make(chan struct{}),
		clients:    make(map[string]*client),
		rooms:      make(map[string]map[string]*client),
	}
}

// Run processes hub events until Close.
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			for _, c := range h.clients {
				close(c.send)
			}
			h.clients = make(map[string]*client)
			h.rooms = make(map[string]map[string]*client)
			return
		case c := <-h.register:
			h.clients[c.socketID] = c
			h.logger.Info("client connected", zap.String("socket", c.socketID))
		case c := <-h.unregister:
			h.dropClient(c)
		case in := <-h.inbound:
			h.handleMessage(in.from, in.env)
		}
	}
}

func (h *Hub) Close() {
	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

func (h *Hub) dropClient(c *client) {
	if _, ok := h.clients[c.socketID]; !ok {
		return
	}
	delete(h.clients, c.socketID)
	if c.roomID != "" {
		h.leaveRoom(c)
	}
	close(c.send)
	h.logger.Info("client disconnected", zap.String("socket", c.socketID))
}

func (h *Hub) leaveRoom(c *client) {
	room, ok := h.rooms[c.roomID]
	if !ok {
		return
	}
	delete(room, c.socketID)
	if len(room) == 0 {
		delete(h.rooms, c.roomID)
		h.logger.Info("room deleted", zap.String("room", c.roomID))
	} else {
		h.broadcast(c, signal.TypeUserLeft, signal.UserLeft{
			UserID:   c.userID,
			Username: c.username,
			SocketID: c.socketID,
		})
	}
	c.roomID = ""
}

func (h *Hub) handleMessage(from *client, env *signal.Envelope) {
	switch env.Type {
	case signal.TypeJoinRoom:
		join, err := signal.DecodePayload[signal.JoinRoom](env)
		if err != nil {
			h.sendError(from, "malformed join-room payload")
			return
		}
		h.handleJoin(from, join)

	case signal.TypeOffer, signal.TypeAnswer:
		sig, err := signal.DecodePayload[signal.SessionSignal](env)
		if err != nil {
			h.sendError(from, "malformed session signal")
			return
		}
		if from.roomID == "" {
			h.sendError(from, "not in a room")
			return
		}
		sig.From = from.socketID
		sig.FromUser = from.participant()
		h.deliverTo(from.roomID, sig.TargetSocketID, env.Type, sig)

	case signal.TypeICECandidate:
		sig, err := signal.DecodePayload[signal.CandidateSignal](env)
		if err != nil {
			h.sendError(from, "malformed candidate signal")
			return
		}
		if from.roomID == "" {
			h.sendError(from, "not in a room")
			return
		}
		sig.From = from.socketID
		h.deliverTo(from.roomID, sig.TargetSocketID, env.Type, sig)

	case signal.TypeMuteStatus:
		mute, err := signal.DecodePayload[signal.MuteStatus](env)
		if err != nil {
			h.sendError(from, "malformed mute status")
			return
		}
		if from.roomID == "" {
			return
		}
		h.broadcast(from, signal.TypePeerMuteStatus, signal.PeerMuteStatus{
			SocketID: from.socketID,
			IsMuted:  mute.IsMuted,
		})

	default:
		h.logger.Debug("unknown message type",
			zap.String("socket", from.socketID),
			zap.String("type", string(env.Type)))
		h.sendError(from, "unknown message type")
	}
}

func (h *Hub) handleJoin(c *client, join signal.JoinRoom) {
	if c.roomID != "" {
		h.leaveRoom(c)
	}
	c.userID = join.UserID
	c.username = join.Username
	c.publicKey = join.PublicKey
	c.roomID = join.RoomID

	room, ok := h.rooms[join.RoomID]
	if !ok {
		room = make(map[string]*client)
		h.rooms[join.RoomID] = room
	}

	participants := make([]signal.Participant, 0, len(room))
	for _, other := range room {
		participants = append(participants, *other.participant())
	}
	room[c.socketID] = c

	h.sendTo(c, signal.TypeRoomParticipants, signal.RoomParticipants{
		RoomID:       join.RoomID,
		Participants: participants,
	})
	h.broadcast(c, signal.TypeUserJoined, signal.UserJoined{
		UserID:    join.UserID,
		Username:  join.Username,
		SocketID:  c.socketID,
		PublicKey: join.PublicKey,
	})
	h.logger.Info("client joined room",
		zap.String("socket", c.socketID),
		zap.String("user", join.UserID),
		zap.String("room", join.RoomID))
}

// deliverTo forwards an addressed signal within a room. A missing target
// already left; the relay drops silently rather than erroring.
func (h *Hub) deliverTo(roomID, socketID string, t signal.Type, payload any) {
	room, ok := h.rooms[roomID]
	if !ok {
		return
	}
	target, ok := room[socketID]
	if !ok {
		return
	}
	h.sendTo(target, t, payload)
}

func (h *Hub) broadcast(from *client, t signal.Type, payload any) {
	room, ok := h.rooms[from.roomID]
	if !ok {
		return
	}
	for _, other := range room {
		if other == from {
			continue
		}
		h.sendTo(other, t, payload)
	}
}

func (h *Hub) sendError(c *client, msg string) {
	h.sendTo(c, signal.TypeError, signal.ErrorPayload{Error: msg})
}

// sendTo queues an envelope for a client, dropping instead of blocking
// the hub loop on a slow consumer.
func (h *Hub) sendTo(c *client, t signal.Type, payload any) {
	env, err := signal.NewEnvelope(t, payload)
	if err != nil {
		h.logger.Error("encoding envelope", err, zap.String("type", string(t)))
		return
	}
	select {
	case c.send <- env:
	default:
		h.logger.Warn("dropping message for slow client", zap.String("socket", c.socketID))
	}
}

package veilcall

import (
	"crypto/rsa"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/veilcall/veilcall/media"
	"github.com/veilcall/veilcall/secure"
	"github.com/veilcall/veilcall/shared"
	"github.com/veilcall/veilcall/signal"
)

const (
	// opsBuffer bounds the closure queue feeding the dispatch loop.
	opsBuffer = 256

	// defaultBufferedLimit is the data-channel backlog above which a link
	// is considered congested and fresh audio frames are skipped for it.
	defaultBufferedLimit = 64 * 1024

	// securityEventInterval rate-limits security events per peer so a
	// stream of bad frames doesn't flood subscribers.
	securityEventInterval = 5 * time.Second
)

// FrameSink consumes decrypted remote audio frames, e.g. a playback
// buffer. WriteFrame is called from the session's dispatch goroutine and
// must not block.
type FrameSink interface {
	WriteFrame(peerID string, frame []byte)
}

// Session coordinates one participant's presence in a voice room: it
// owns the relay connection, the peer link arena, per-link negotiation
// and key exchange, and encrypted audio fan-out. All state is owned by
// the dispatch goroutine started by Run; public methods hand work to it.
type Session struct {
	logger       shared.LoggerAdapter
	relay        signal.Relay
	newTransport TransportFactory
	identity     *rsa.PrivateKey

	userID      string
	displayName string
	publicKey   string

	roomID string
	peers  map[string]*PeerLink

	playback        FrameSink
	localSpeaking   speakingDetector
	localSpeakingOn bool
	muted           bool

	energyThreshold float64
	bufferedLimit   uint64

	ops       chan func()
	done      chan struct{}
	closeOnce sync.Once

	lmu       sync.Mutex
	listeners map[int]EventHandler
	nextID    int
}

// NewSession creates a session for the given identity. The private key is
// the participant's long-lived identity key; its public half is announced
// to the room for session-key wrapping.
func NewSession(logger shared.LoggerAdapter, relay signal.Relay, factory TransportFactory, identity *rsa.PrivateKey, userID, displayName string) (*Session, error) {
	if logger == nil {
		return nil, shared.ErrNoLogger
	}
	if relay == nil {
		return nil, shared.ErrNoRelay
	}
	if factory == nil {
		return nil, shared.ErrNoTransportFactory
	}
	if identity == nil {
		return nil, shared.ErrNoPrivateKey
	}
	return &Session{
		logger:          logger.With(zap.String("userId", userID)),
		relay:           relay,
		newTransport:    factory,
		identity:        identity,
		userID:          userID,
		displayName:     displayName,
		publicKey:       secure.EncodePublicKey(&identity.PublicKey),
		peers:           make(map[string]*PeerLink),
		energyThreshold: defaultEnergyThreshold,
		bufferedLimit:   defaultBufferedLimit,
		ops:             make(chan func(), opsBuffer),
		done:            make(chan struct{}),
		listeners:       make(map[int]EventHandler),
	}, nil
}

// SetPlayback installs the sink for decrypted remote audio. Call before
// Run.
func (s *Session) SetPlayback(sink FrameSink) {
	s.playback = sink
}

// SetEnergyThreshold overrides the voiced-frame RMS threshold. Call
// before Run.
func (s *Session) SetEnergyThreshold(threshold float64) {
	s.energyThreshold = threshold
}

// Subscribe registers an event handler and returns its cancel func.
// Handlers run on the dispatch goroutine and must not block.
func (s *Session) Subscribe(handler EventHandler) func() {
	s.lmu.Lock()
	defer s.lmu.Unlock()
	id := s.nextID
	s.nextID++
	s.listeners[id] = handler
	return func() {
		s.lmu.Lock()
		defer s.lmu.Unlock()
		delete(s.listeners, id)
	}
}

func (s *Session) emit(ev Event) {
	s.lmu.Lock()
	handlers := make([]EventHandler, 0, len(s.listeners))
	for _, h := range s.listeners {
		handlers = append(handlers, h)
	}
	s.lmu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

// Run drives the session until Close is called or the relay drops. It
// serializes relay events and posted operations onto one goroutine; every
// peer link is owned by this loop.
func (s *Session) Run() error {
	defer s.teardownAll()
	for {
		select {
		case <-s.done:
			return nil
		case op := <-s.ops:
			op()
		case env, ok := <-s.relay.Incoming():
			if !ok {
				// Close also closes the relay; only an unexpected drop
				// counts as a lost connection.
				select {
				case <-s.done:
					return nil
				default:
				}
				s.logger.Warn("relay connection lost")
				s.emit(ConnectionLostEvent{})
				return shared.ErrRelayDisconnected
			}
			s.handleRelayEvent(env)
		}
	}
}

// Done is closed when the session is shut down.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Close shuts the session down. Peer teardown runs on the dispatch
// goroutine as Run returns.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		close(s.done)
		if err := s.relay.Close(); err != nil {
			s.logger.Debug("closing relay", zap.Error(err))
		}
	})
	return nil
}

// do hands a closure to the dispatch loop.
func (s *Session) do(op func()) error {
	select {
	case <-s.done:
		return shared.ErrSessionClosed
	default:
	}
	select {
	case s.ops <- op:
		return nil
	case <-s.done:
		return shared.ErrSessionClosed
	}
}

// call runs a closure on the dispatch loop and waits for its result.
func (s *Session) call(op func() error) error {
	errc := make(chan error, 1)
	if err := s.do(func() { errc <- op() }); err != nil {
		return err
	}
	select {
	case err := <-errc:
		return err
	case <-s.done:
		return shared.ErrSessionClosed
	}
}

// post hands a closure bound to one peer link to the dispatch loop. The
// link is re-looked-up on delivery: transport callbacks race with
// teardown, and a result for a link no longer in the arena is stale.
func (s *Session) post(peerID string, op func(*PeerLink)) {
	_ = s.do(func() {
		link, ok := s.peers[peerID]
		if !ok {
			return
		}
		op(link)
	})
}

// JoinRoom announces this participant to a room. The relay replies with
// room-participants listing everyone already present.
func (s *Session) JoinRoom(roomID string) error {
	return s.call(func() error {
		if s.roomID != "" {
			return fmt.Errorf("%w: %s", shared.ErrAlreadyInRoom, s.roomID)
		}
		env, err := signal.NewEnvelope(signal.TypeJoinRoom, signal.JoinRoom{
			RoomID:    roomID,
			UserID:    s.userID,
			Username:  s.displayName,
			PublicKey: s.publicKey,
		})
		if err != nil {
			return err
		}
		if err := s.relay.Send(env); err != nil {
			return fmt.Errorf("joining room: %w", err)
		}
		s.roomID = roomID
		return nil
	})
}

// Leave tears down every peer link and leaves the current room. The
// session stays usable for a later JoinRoom.
func (s *Session) Leave() error {
	return s.call(func() error {
		if s.roomID == "" {
			return shared.ErrNotInRoom
		}
		for peerID := range s.peers {
			s.teardownLink(peerID, LinkStateClosed)
		}
		s.roomID = ""
		s.localSpeaking.reset()
		s.localSpeakingOn = false
		return nil
	})
}

// Peers returns a snapshot of the current peer links.
func (s *Session) Peers() ([]PeerInfo, error) {
	var infos []PeerInfo
	err := s.call(func() error {
		infos = make([]PeerInfo, 0, len(s.peers))
		for _, link := range s.peers {
			infos = append(infos, link.info())
		}
		return nil
	})
	return infos, err
}

// SendFrame broadcasts one captured audio frame to every secured,
// uncongested peer link, encrypting it separately per link. Frames are
// also sampled for local speaking detection.
func (s *Session) SendFrame(frame []byte) error {
	return s.do(func() { s.broadcastFrame(frame) })
}

// SetMuted flips the local mute state and announces it to the room.
func (s *Session) SetMuted(muted bool) error {
	return s.call(func() error {
		if s.muted == muted {
			return nil
		}
		s.muted = muted
		if s.roomID == "" {
			return nil
		}
		env, err := signal.NewEnvelope(signal.TypeMuteStatus, signal.MuteStatus{
			RoomID:  s.roomID,
			IsMuted: muted,
		})
		if err != nil {
			return err
		}
		return s.relay.Send(env)
	})
}

// RetryKeyExchange re-attempts the session-key handshake for a peer whose
// earlier attempt failed, e.g. because its public key was missing.
func (s *Session) RetryKeyExchange(peerID string) error {
	return s.call(func() error {
		link, ok := s.peers[peerID]
		if !ok {
			return fmt.Errorf("no link for peer %s", peerID)
		}
		if link.audio == nil || !link.channelOpen {
			return shared.ErrChannelNotOpen
		}
		s.startKeyExchange(link)
		return nil
	})
}

func (s *Session) broadcastFrame(frame []byte) {
	voiced := media.RMS(frame) >= s.energyThreshold
	if speaking := s.localSpeaking.observe(voiced); speaking != s.localSpeakingOn {
		s.localSpeakingOn = speaking
		s.emit(SpeakingEvent{Speaking: speaking})
	}
	if s.muted {
		return
	}
	for _, link := range s.peers {
		if !link.ready() {
			continue
		}
		if link.audio.BufferedAmount() > s.bufferedLimit {
			s.logger.Trace("skipping congested link", zap.String("peer", link.peerID))
			continue
		}
		sealed, err := secure.Encrypt(frame, link.sessionKey)
		if err != nil {
			s.logger.Error("encrypting audio frame", err, zap.String("peer", link.peerID))
			continue
		}
		raw, err := EncodeChannelMessage(NewAudioMessage(sealed[:secure.NonceSize], sealed[secure.NonceSize:]))
		if err != nil {
			s.logger.Error("encoding audio frame", err, zap.String("peer", link.peerID))
			continue
		}
		if err := link.audio.Send(raw); err != nil {
			s.logger.Debug("sending audio frame", zap.String("peer", link.peerID), zap.Error(err))
		}
	}
}

func (s *Session) handleRelayEvent(env *signal.Envelope) {
	switch env.Type {
	case signal.TypeRoomParticipants:
		payload, err := signal.DecodePayload[signal.RoomParticipants](env)
		if err != nil {
			s.logger.Error("decoding room participants", err)
			return
		}
		for _, p := range payload.Participants {
			s.ensureLink(p, false)
		}

	case signal.TypeUserJoined:
		payload, err := signal.DecodePayload[signal.UserJoined](env)
		if err != nil {
			s.logger.Error("decoding user joined", err)
			return
		}
		// The side already in the room initiates: it creates the audio
		// channel, which kicks off negotiation, and later generates the
		// session key.
		s.ensureLink(signal.Participant{
			ID:        payload.UserID,
			Username:  payload.Username,
			SocketID:  payload.SocketID,
			PublicKey: payload.PublicKey,
		}, true)

	case signal.TypeUserLeft:
		payload, err := signal.DecodePayload[signal.UserLeft](env)
		if err != nil {
			s.logger.Error("decoding user left", err)
			return
		}
		s.teardownLink(payload.SocketID, LinkStateClosed)

	case signal.TypeOffer:
		payload, err := signal.DecodePayload[signal.SessionSignal](env)
		if err != nil {
			s.logger.Error("decoding offer", err)
			return
		}
		link := s.linkForSignal(payload.From, payload.FromUser)
		if link == nil {
			return
		}
		if err := link.neg.handleOffer(payload.Descriptor); err != nil {
			s.logger.Error("handling offer", err, zap.String("peer", link.peerID))
		}

	case signal.TypeAnswer:
		payload, err := signal.DecodePayload[signal.SessionSignal](env)
		if err != nil {
			s.logger.Error("decoding answer", err)
			return
		}
		link, ok := s.peers[payload.From]
		if !ok {
			s.logger.Debug("dropping answer from unknown peer", zap.String("peer", payload.From))
			return
		}
		if err := link.neg.handleAnswer(payload.Descriptor); err != nil {
			s.logger.Error("handling answer", err, zap.String("peer", link.peerID))
		}

	case signal.TypeICECandidate:
		payload, err := signal.DecodePayload[signal.CandidateSignal](env)
		if err != nil {
			s.logger.Error("decoding candidate", err)
			return
		}
		link, ok := s.peers[payload.From]
		if !ok {
			s.logger.Debug("dropping candidate from unknown peer", zap.String("peer", payload.From))
			return
		}
		if err := link.neg.handleCandidate(payload.Candidate); err != nil {
			s.logger.Error("handling candidate", err, zap.String("peer", link.peerID))
		}

	case signal.TypePeerMuteStatus:
		payload, err := signal.DecodePayload[signal.PeerMuteStatus](env)
		if err != nil {
			s.logger.Error("decoding peer mute status", err)
			return
		}
		link, ok := s.peers[payload.SocketID]
		if !ok {
			return
		}
		if link.muted != payload.IsMuted {
			link.muted = payload.IsMuted
			s.emit(PeerMuteEvent{PeerID: link.peerID, Muted: link.muted})
		}

	case signal.TypeError:
		payload, err := signal.DecodePayload[signal.ErrorPayload](env)
		if err != nil {
			s.logger.Error("decoding relay error", err)
			return
		}
		s.logger.Warn("relay error", zap.String("error", payload.Error))

	default:
		s.logger.Debug("dropping relay message", zap.String("type", string(env.Type)))
	}
}

// linkForSignal resolves the link for an inbound offer, creating one when
// the remote side reached out before we saw its join. The remote identity
// rides along on the signal for exactly that case.
func (s *Session) linkForSignal(from string, fromUser *signal.Participant) *PeerLink {
	if link, ok := s.peers[from]; ok {
		if link.remoteKey == nil && fromUser != nil && fromUser.PublicKey != "" {
			s.adoptRemoteKey(link, fromUser.PublicKey)
		}
		return link
	}
	if fromUser == nil {
		s.logger.Warn("dropping offer from unknown peer without identity", zap.String("peer", from))
		return nil
	}
	p := *fromUser
	p.SocketID = from
	return s.ensureLink(p, false)
}

// ensureLink returns the existing link for a participant or creates one.
// Creation is idempotent per socket ID; a duplicate join announcement
// never resets an in-flight link.
func (s *Session) ensureLink(p signal.Participant, initiator bool) *PeerLink {
	if p.SocketID == "" || p.ID == s.userID {
		return nil
	}
	if link, ok := s.peers[p.SocketID]; ok {
		return link
	}

	transport, err := s.newTransport()
	if err != nil {
		s.logger.Error("creating peer transport", err, zap.String("peer", p.SocketID))
		return nil
	}

	link := &PeerLink{
		peerID:      p.SocketID,
		userID:      p.ID,
		displayName: p.Username,
		// The lexicographically smaller stable user ID takes the polite
		// role, so both sides derive the same assignment independently.
		polite:    s.userID < p.ID,
		initiator: initiator,
		state:     LinkStateNew,
		transport: transport,
	}
	if p.PublicKey != "" {
		key, err := secure.DecodePublicKey(p.PublicKey)
		if err != nil {
			s.logger.Warn("undecodable peer public key", zap.String("peer", p.SocketID), zap.Error(err))
		} else {
			link.remoteKey = key
		}
	}

	logger := s.logger.With(zap.String("peer", p.SocketID), zap.String("peerUser", p.ID))
	link.neg = newNegotiator(logger, transport, link.polite, func(kind signal.Type, desc signal.Descriptor) error {
		return s.sendDescriptor(kind, link.peerID, desc)
	})

	peerID := link.peerID
	transport.OnNegotiationNeeded(func() {
		s.post(peerID, func(l *PeerLink) {
			if err := l.neg.negotiationNeeded(); err != nil {
				s.logger.Error("negotiating", err, zap.String("peer", peerID))
			}
		})
	})
	transport.OnCandidate(func(c signal.Candidate) {
		s.post(peerID, func(l *PeerLink) {
			if err := s.sendCandidate(l.peerID, c); err != nil {
				s.logger.Debug("sending candidate", zap.String("peer", peerID), zap.Error(err))
			}
		})
	})
	transport.OnDataChannel(func(dc DataChannel) {
		s.post(peerID, func(l *PeerLink) {
			if dc.Label() != audioChannelLabel {
				s.logger.Debug("ignoring unexpected data channel", zap.String("label", dc.Label()))
				return
			}
			s.bindAudioChannel(l, dc)
		})
	})
	transport.OnStateChange(func(state LinkState) {
		s.post(peerID, func(l *PeerLink) {
			s.handleLinkState(l, state)
		})
	})

	s.peers[link.peerID] = link
	s.emit(PeerJoinedEvent{PeerID: link.peerID, UserID: link.userID, DisplayName: link.displayName})
	logger.Info("peer link created",
		zap.Bool("polite", link.polite),
		zap.Bool("initiator", link.initiator))

	if initiator {
		ch, err := transport.CreateAudioChannel()
		if err != nil {
			s.logger.Error("creating audio channel", err, zap.String("peer", peerID))
			s.teardownLink(peerID, LinkStateFailed)
			return nil
		}
		s.bindAudioChannel(link, ch)
	}
	return link
}

func (s *Session) bindAudioChannel(link *PeerLink, dc DataChannel) {
	if link.audio != nil {
		s.logger.Debug("replacing audio channel", zap.String("peer", link.peerID))
		_ = link.audio.Close()
	}
	link.audio = dc
	link.channelOpen = false
	peerID := link.peerID
	dc.OnOpen(func() {
		s.post(peerID, func(l *PeerLink) {
			l.channelOpen = true
			if l.initiator {
				s.startKeyExchange(l)
			}
		})
	})
	dc.OnMessage(func(raw []byte) {
		s.post(peerID, func(l *PeerLink) {
			s.handleChannelMessage(l, raw)
		})
	})
}

// startKeyExchange generates a fresh session key, wraps it for the remote
// identity and sends it. The key stays unusable until the remote side
// acknowledges it.
func (s *Session) startKeyExchange(link *PeerLink) {
	if !link.channelOpen || link.secureAck {
		return
	}
	if link.remoteKey == nil {
		s.securityEvent(link, shared.ErrMissingPublicKey)
		return
	}
	key, err := secure.NewSessionKey()
	if err != nil {
		s.logger.Error("generating session key", err, zap.String("peer", link.peerID))
		return
	}
	wrapped, err := secure.WrapKey(key, link.remoteKey)
	if err != nil {
		s.securityEvent(link, err)
		return
	}
	raw, err := EncodeChannelMessage(NewKeyMessage(wrapped))
	if err != nil {
		s.logger.Error("encoding key message", err, zap.String("peer", link.peerID))
		return
	}
	if err := link.audio.Send(raw); err != nil {
		s.logger.Error("sending session key", err, zap.String("peer", link.peerID))
		return
	}
	link.sessionKey = key
	s.logger.Info("session key sent", zap.String("peer", link.peerID))
}

func (s *Session) handleChannelMessage(link *PeerLink, raw []byte) {
	msg, err := DecodeChannelMessage(raw)
	if err != nil {
		s.securityEvent(link, err)
		return
	}
	switch m := msg.(type) {
	case *KeyMessage:
		key, err := secure.UnwrapKey(m.Payload, s.identity)
		if err != nil {
			s.securityEvent(link, err)
			return
		}
		if len(key) != secure.SessionKeySize {
			s.securityEvent(link, fmt.Errorf("%w: %d bytes", shared.ErrKeySize, len(key)))
			return
		}
		link.sessionKey = key
		link.secureAck = true
		ack, err := EncodeChannelMessage(NewKeyAckMessage())
		if err != nil {
			s.logger.Error("encoding key ack", err, zap.String("peer", link.peerID))
			return
		}
		if err := link.audio.Send(ack); err != nil {
			s.logger.Error("sending key ack", err, zap.String("peer", link.peerID))
			return
		}
		s.logger.Info("session key accepted", zap.String("peer", link.peerID))
		s.emit(PeerSecuredEvent{PeerID: link.peerID})

	case *KeyAckMessage:
		if link.sessionKey == nil {
			s.logger.Debug("dropping stray key ack", zap.String("peer", link.peerID))
			return
		}
		if link.secureAck {
			return
		}
		link.secureAck = true
		s.logger.Info("session key acknowledged", zap.String("peer", link.peerID))
		s.emit(PeerSecuredEvent{PeerID: link.peerID})

	case *AudioMessage:
		if !link.ready() {
			s.logger.Debug("dropping audio before key confirmation", zap.String("peer", link.peerID))
			return
		}
		sealed := make([]byte, 0, len(m.IV)+len(m.Data))
		sealed = append(sealed, m.IV...)
		sealed = append(sealed, m.Data...)
		frame, err := secure.Decrypt(sealed, link.sessionKey)
		if err != nil {
			s.securityEvent(link, err)
			return
		}
		if s.playback != nil {
			s.playback.WriteFrame(link.peerID, frame)
		}
		voiced := media.RMS(frame) >= s.energyThreshold
		if speaking := link.speaking.observe(voiced); speaking != link.speakingNow {
			link.speakingNow = speaking
			s.emit(SpeakingEvent{PeerID: link.peerID, Speaking: speaking})
		}
	}
}

func (s *Session) handleLinkState(link *PeerLink, state LinkState) {
	if link.state == state {
		return
	}
	link.state = state
	s.logger.Info("peer link state", zap.String("peer", link.peerID), zap.String("state", state.String()))
	s.emit(PeerStateEvent{PeerID: link.peerID, State: state})
	if state == LinkStateFailed {
		s.logger.Error("peer transport failed", shared.ErrTransportFailed, zap.String("peer", link.peerID))
	}
	if state == LinkStateFailed || state == LinkStateClosed {
		s.teardownLink(link.peerID, state)
	}
}

func (s *Session) securityEvent(link *PeerLink, cause error) {
	if time.Since(link.lastSecurityEvent) < securityEventInterval {
		return
	}
	link.lastSecurityEvent = time.Now()
	s.logger.Warn("security failure on peer link", zap.String("peer", link.peerID), zap.Error(cause))
	s.emit(SecurityEvent{PeerID: link.peerID, Reason: cause})
}

func (s *Session) sendDescriptor(kind signal.Type, peerID string, desc signal.Descriptor) error {
	env, err := signal.NewEnvelope(kind, signal.SessionSignal{
		RoomID:         s.roomID,
		TargetSocketID: peerID,
		Descriptor:     desc,
		FromUser: &signal.Participant{
			ID:        s.userID,
			Username:  s.displayName,
			PublicKey: s.publicKey,
		},
	})
	if err != nil {
		return err
	}
	return s.relay.Send(env)
}

func (s *Session) sendCandidate(peerID string, candidate signal.Candidate) error {
	env, err := signal.NewEnvelope(signal.TypeICECandidate, signal.CandidateSignal{
		RoomID:         s.roomID,
		TargetSocketID: peerID,
		Candidate:      candidate,
	})
	if err != nil {
		return err
	}
	return s.relay.Send(env)
}

func (s *Session) adoptRemoteKey(link *PeerLink, encoded string) {
	key, err := secure.DecodePublicKey(encoded)
	if err != nil {
		s.logger.Warn("undecodable peer public key", zap.String("peer", link.peerID), zap.Error(err))
		return
	}
	link.remoteKey = key
	if link.initiator && link.channelOpen && link.sessionKey == nil {
		s.startKeyExchange(link)
	}
}

// teardownLink removes a link from the arena, discards its key material
// and releases its transport. Safe to call for an already-removed peer.
func (s *Session) teardownLink(peerID string, state LinkState) {
	link, ok := s.peers[peerID]
	if !ok {
		return
	}
	delete(s.peers, peerID)
	link.state = state
	link.discardKeyMaterial()
	if link.audio != nil {
		if err := link.audio.Close(); err != nil {
			s.logger.Debug("closing audio channel", zap.String("peer", peerID), zap.Error(err))
		}
	}
	if err := link.transport.Close(); err != nil {
		s.logger.Debug("closing peer transport", zap.String("peer", peerID), zap.Error(err))
	}
	s.logger.Info("peer link removed", zap.String("peer", peerID))
	s.emit(PeerLeftEvent{PeerID: link.peerID, UserID: link.userID})
}

func (s *Session) teardownAll() {
	for peerID := range s.peers {
		s.teardownLink(peerID, LinkStateClosed)
	}
}

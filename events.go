package veilcall

// Event is the closed set of session notifications. Handlers run on the
// session's dispatch goroutine and must not block.
type Event interface {
	event()
}

// PeerJoinedEvent fires when a link to a new room member is created.
type PeerJoinedEvent struct {
	PeerID      string
	UserID      string
	DisplayName string
}

// PeerLeftEvent fires when a peer's link is torn down.
type PeerLeftEvent struct {
	PeerID string
	UserID string
}

// PeerStateEvent reports a transport lifecycle transition for a peer.
type PeerStateEvent struct {
	PeerID string
	State  LinkState
}

// PeerSecuredEvent fires once a peer's session key is confirmed on both
// sides and encrypted audio may flow.
type PeerSecuredEvent struct {
	PeerID string
}

// SpeakingEvent reports a speaking state flip. PeerID is empty for the
// local participant.
type SpeakingEvent struct {
	PeerID   string
	Speaking bool
}

// PeerMuteEvent reports a remote participant's mute state.
type PeerMuteEvent struct {
	PeerID string
	Muted  bool
}

// SecurityEvent reports a cryptographic failure on a peer link. Repeated
// failures are rate-limited per peer.
type SecurityEvent struct {
	PeerID string
	Reason error
}

// ConnectionLostEvent fires when the relay connection drops.
type ConnectionLostEvent struct{}

func (PeerJoinedEvent) event()     {}
func (PeerLeftEvent) event()       {}
func (PeerStateEvent) event()      {}
func (PeerSecuredEvent) event()    {}
func (SpeakingEvent) event()       {}
func (PeerMuteEvent) event()       {}
func (SecurityEvent) event()       {}
func (ConnectionLostEvent) event() {}

// EventHandler receives session events.
type EventHandler func(Event)

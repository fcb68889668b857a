package veilcall

import (
	"crypto/rsa"
	"time"
)

// PeerLink bundles everything the session holds for one remote
// participant: identity, transport, negotiation state, the audio channel
// and its session key. Links live in the session's peer arena and are
// only touched from the dispatch goroutine, so no field is locked.
type PeerLink struct {
	peerID      string
	userID      string
	displayName string
	remoteKey   *rsa.PublicKey

	polite    bool
	initiator bool
	state     LinkState

	transport PeerTransport
	neg       *negotiator

	audio       DataChannel
	channelOpen bool
	sessionKey  []byte
	secureAck   bool

	muted       bool
	speaking    speakingDetector
	speakingNow bool

	lastSecurityEvent time.Time
}

// PeerInfo is the read-only snapshot of a link handed to callers.
type PeerInfo struct {
	PeerID      string
	UserID      string
	DisplayName string
	State       LinkState
	Secured     bool
	Muted       bool
	Speaking    bool
}

func (l *PeerLink) info() PeerInfo {
	return PeerInfo{
		PeerID:      l.peerID,
		UserID:      l.userID,
		DisplayName: l.displayName,
		State:       l.state,
		Secured:     l.secureAck,
		Muted:       l.muted,
		Speaking:    l.speakingNow,
	}
}

// ready reports whether encrypted audio may flow on this link.
func (l *PeerLink) ready() bool {
	return l.channelOpen && l.secureAck && l.sessionKey != nil
}

// discardKeyMaterial drops the session key and the ack so nothing can be
// encrypted for a link being torn down.
func (l *PeerLink) discardKeyMaterial() {
	for i := range l.sessionKey {
		l.sessionKey[i] = 0
	}
	l.sessionKey = nil
	l.secureAck = false
}

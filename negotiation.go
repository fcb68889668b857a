package veilcall

import (
	"fmt"

	"github.com/veilcall/veilcall/shared"
	"github.com/veilcall/veilcall/signal"
)

// sendDescriptor delivers a local offer or answer to the remote side.
type sendDescriptor func(kind signal.Type, desc signal.Descriptor) error

// negotiator runs perfect negotiation for one peer link. The polite side
// yields on offer collisions by rolling back its own offer; the impolite
// side ignores the colliding remote offer and any candidates that trail
// it. All methods are driven from the session's dispatch goroutine.
type negotiator struct {
	logger    shared.LoggerAdapter
	transport PeerTransport
	polite    bool
	send      sendDescriptor

	makingOffer         bool
	settingRemoteAnswer bool
	ignoreOffer         bool
}

func newNegotiator(logger shared.LoggerAdapter, transport PeerTransport, polite bool, send sendDescriptor) *negotiator {
	return &negotiator{
		logger:    logger,
		transport: transport,
		polite:    polite,
		send:      send,
	}
}

// negotiationNeeded produces and sends a fresh offer. makingOffer is held
// for the whole attempt and released on every exit path so a failed offer
// can't wedge collision detection.
func (n *negotiator) negotiationNeeded() error {
	n.makingOffer = true
	defer func() { n.makingOffer = false }()

	offer, err := n.transport.CreateOffer()
	if err != nil {
		return fmt.Errorf("creating offer: %w", err)
	}
	if err := n.transport.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("applying local offer: %w", err)
	}
	return n.send(signal.TypeOffer, offer)
}

// handleOffer applies a remote offer and replies with an answer. On a
// glare collision the impolite side drops the remote offer entirely; the
// polite side rolls back its own pending offer first.
func (n *negotiator) handleOffer(desc signal.Descriptor) error {
	collision := n.makingOffer || !n.transport.SignalingStable()
	n.ignoreOffer = !n.polite && collision
	if n.ignoreOffer {
		n.logger.Debug("ignoring colliding remote offer")
		return nil
	}

	if collision {
		if err := n.transport.SetLocalDescription(signal.Descriptor{Type: "rollback"}); err != nil {
			return fmt.Errorf("rolling back local offer: %w", err)
		}
	}
	if err := n.transport.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("applying remote offer: %w", err)
	}

	answer, err := n.transport.CreateAnswer()
	if err != nil {
		return fmt.Errorf("creating answer: %w", err)
	}
	if err := n.transport.SetLocalDescription(answer); err != nil {
		return fmt.Errorf("applying local answer: %w", err)
	}
	return n.send(signal.TypeAnswer, answer)
}

// handleAnswer applies a remote answer. Reentrant answers and answers
// arriving in a stable state are stale signaling noise and are dropped.
func (n *negotiator) handleAnswer(desc signal.Descriptor) error {
	if n.settingRemoteAnswer {
		n.logger.Debug("dropping answer received while applying another")
		return nil
	}
	if n.transport.SignalingStable() {
		n.logger.Debug("dropping stray answer in stable state")
		return nil
	}

	n.settingRemoteAnswer = true
	defer func() { n.settingRemoteAnswer = false }()

	if err := n.transport.SetRemoteDescription(desc); err != nil {
		return fmt.Errorf("applying remote answer: %w", err)
	}
	return nil
}

// handleCandidate feeds one trickled remote candidate to the transport.
// Failures are swallowed while a colliding offer is being ignored, since
// those candidates belong to the abandoned negotiation.
func (n *negotiator) handleCandidate(candidate signal.Candidate) error {
	if err := n.transport.AddRemoteCandidate(candidate); err != nil {
		if n.ignoreOffer {
			n.logger.Debug("dropping candidate from ignored offer")
			return nil
		}
		return fmt.Errorf("adding remote candidate: %w", err)
	}
	return nil
}

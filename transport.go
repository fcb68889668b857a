package veilcall

import (
	"fmt"

	"github.com/pion/webrtc/v4"

	"github.com/veilcall/veilcall/signal"
)

// LinkState tracks a peer link's transport lifecycle.
type LinkState int

const (
	LinkStateNew LinkState = iota
	LinkStateNegotiating
	LinkStateConnected
	LinkStateFailed
	LinkStateClosed
)

func (s LinkState) String() string {
	switch s {
	case LinkStateNew:
		return "new"
	case LinkStateNegotiating:
		return "negotiating"
	case LinkStateConnected:
		return "connected"
	case LinkStateFailed:
		return "failed"
	case LinkStateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// PeerTransport is the peer-to-peer transport capability the engine
// drives: descriptor and candidate get/set, a loss-tolerant data channel,
// and connection state notification. The production implementation wraps
// a pion PeerConnection.
type PeerTransport interface {
	CreateOffer() (signal.Descriptor, error)
	CreateAnswer() (signal.Descriptor, error)
	SetLocalDescription(desc signal.Descriptor) error
	SetRemoteDescription(desc signal.Descriptor) error
	AddRemoteCandidate(candidate signal.Candidate) error
	SignalingStable() bool
	CreateAudioChannel() (DataChannel, error)
	OnNegotiationNeeded(handler func())
	OnCandidate(handler func(signal.Candidate))
	OnDataChannel(handler func(DataChannel))
	OnStateChange(handler func(LinkState))
	Close() error
}

// DataChannel is one datagram channel on a peer transport.
type DataChannel interface {
	Label() string
	Send(data []byte) error
	BufferedAmount() uint64
	OnOpen(handler func())
	OnMessage(handler func(data []byte))
	Close() error
}

// TransportFactory creates one PeerTransport per peer link.
type TransportFactory func() (PeerTransport, error)

// audioChannelLabel names the dedicated audio data channel both sides
// recognize.
const audioChannelLabel = "audio"

// NewPionTransportFactory returns a TransportFactory backed by pion
// PeerConnections using the given ICE servers.
func NewPionTransportFactory(iceServers []signal.ICEServer) TransportFactory {
	servers := make([]webrtc.ICEServer, 0, len(iceServers))
	for _, s := range iceServers {
		servers = append(servers, webrtc.ICEServer{
			URLs:       s.URLs,
			Username:   s.Username,
			Credential: s.Credential,
		})
	}
	return func() (PeerTransport, error) {
		pc, err := webrtc.NewPeerConnection(webrtc.Configuration{ICEServers: servers})
		if err != nil {
			return nil, fmt.Errorf("creating peer connection: %w", err)
		}
		return &pionTransport{pc: pc}, nil
	}
}

type pionTransport struct {
	pc *webrtc.PeerConnection
}

var _ PeerTransport = (*pionTransport)(nil)

func (t *pionTransport) CreateOffer() (signal.Descriptor, error) {
	offer, err := t.pc.CreateOffer(nil)
	if err != nil {
		return signal.Descriptor{}, fmt.Errorf("creating offer: %w", err)
	}
	return signal.Descriptor{Type: offer.Type.String(), SDP: offer.SDP}, nil
}

func (t *pionTransport) CreateAnswer() (signal.Descriptor, error) {
	answer, err := t.pc.CreateAnswer(nil)
	if err != nil {
		return signal.Descriptor{}, fmt.Errorf("creating answer: %w", err)
	}
	return signal.Descriptor{Type: answer.Type.String(), SDP: answer.SDP}, nil
}

func (t *pionTransport) SetLocalDescription(desc signal.Descriptor) error {
	return t.pc.SetLocalDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (t *pionTransport) SetRemoteDescription(desc signal.Descriptor) error {
	return t.pc.SetRemoteDescription(webrtc.SessionDescription{
		Type: webrtc.NewSDPType(desc.Type),
		SDP:  desc.SDP,
	})
}

func (t *pionTransport) AddRemoteCandidate(candidate signal.Candidate) error {
	mid := candidate.SDPMid
	index := candidate.SDPMLineIndex
	return t.pc.AddICECandidate(webrtc.ICECandidateInit{
		Candidate:     candidate.Candidate,
		SDPMid:        &mid,
		SDPMLineIndex: &index,
	})
}

func (t *pionTransport) SignalingStable() bool {
	return t.pc.SignalingState() == webrtc.SignalingStateStable
}

func (t *pionTransport) CreateAudioChannel() (DataChannel, error) {
	// Unordered with zero retransmits: resending a stale audio frame is
	// worse than dropping it.
	ordered := false
	var maxRetransmits uint16
	dc, err := t.pc.CreateDataChannel(audioChannelLabel, &webrtc.DataChannelInit{
		Ordered:        &ordered,
		MaxRetransmits: &maxRetransmits,
	})
	if err != nil {
		return nil, fmt.Errorf("creating audio data channel: %w", err)
	}
	return &pionDataChannel{dc: dc}, nil
}

func (t *pionTransport) OnNegotiationNeeded(handler func()) {
	t.pc.OnNegotiationNeeded(handler)
}

func (t *pionTransport) OnCandidate(handler func(signal.Candidate)) {
	t.pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			// End of candidate gathering.
			return
		}
		init := c.ToJSON()
		candidate := signal.Candidate{Candidate: init.Candidate}
		if init.SDPMid != nil {
			candidate.SDPMid = *init.SDPMid
		}
		if init.SDPMLineIndex != nil {
			candidate.SDPMLineIndex = *init.SDPMLineIndex
		}
		handler(candidate)
	})
}

func (t *pionTransport) OnDataChannel(handler func(DataChannel)) {
	t.pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		handler(&pionDataChannel{dc: dc})
	})
}

func (t *pionTransport) OnStateChange(handler func(LinkState)) {
	t.pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateConnecting:
			handler(LinkStateNegotiating)
		case webrtc.PeerConnectionStateConnected:
			handler(LinkStateConnected)
		case webrtc.PeerConnectionStateDisconnected, webrtc.PeerConnectionStateFailed:
			handler(LinkStateFailed)
		case webrtc.PeerConnectionStateClosed:
			handler(LinkStateClosed)
		}
	})
}

func (t *pionTransport) Close() error {
	return t.pc.Close()
}

type pionDataChannel struct {
	dc *webrtc.DataChannel
}

var _ DataChannel = (*pionDataChannel)(nil)

func (c *pionDataChannel) Label() string {
	return c.dc.Label()
}

func (c *pionDataChannel) Send(data []byte) error {
	return c.dc.Send(data)
}

func (c *pionDataChannel) BufferedAmount() uint64 {
	return c.dc.BufferedAmount()
}

func (c *pionDataChannel) OnOpen(handler func()) {
	c.dc.OnOpen(handler)
}

func (c *pionDataChannel) OnMessage(handler func([]byte)) {
	c.dc.OnMessage(func(msg webrtc.DataChannelMessage) {
		handler(msg.Data)
	})
}

func (c *pionDataChannel) Close() error {
	return c.dc.Close()
}

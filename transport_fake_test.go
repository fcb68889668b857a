package veilcall

import (
	"errors"
	"sync"

	"github.com/veilcall/veilcall/signal"
)

// scriptTransport is a hand-driven PeerTransport for single-side tests.
// Signaling stability is set directly by the test.
type scriptTransport struct {
	stable bool

	offerErr     error
	answerErr    error
	localErr     error
	remoteErr    error
	candidateErr error

	offersCreated int
	localDescs    []signal.Descriptor
	remoteDescs   []signal.Descriptor
	candidates    []signal.Candidate
	channels      []*scriptChannel
	closed        bool
}

var _ PeerTransport = (*scriptTransport)(nil)

func newScriptTransport() *scriptTransport {
	return &scriptTransport{stable: true}
}

func (t *scriptTransport) CreateOffer() (signal.Descriptor, error) {
	if t.offerErr != nil {
		return signal.Descriptor{}, t.offerErr
	}
	t.offersCreated++
	return signal.Descriptor{Type: "offer", SDP: "local-offer"}, nil
}

func (t *scriptTransport) CreateAnswer() (signal.Descriptor, error) {
	if t.answerErr != nil {
		return signal.Descriptor{}, t.answerErr
	}
	return signal.Descriptor{Type: "answer", SDP: "local-answer"}, nil
}

func (t *scriptTransport) SetLocalDescription(desc signal.Descriptor) error {
	if t.localErr != nil {
		return t.localErr
	}
	t.localDescs = append(t.localDescs, desc)
	return nil
}

func (t *scriptTransport) SetRemoteDescription(desc signal.Descriptor) error {
	if t.remoteErr != nil {
		return t.remoteErr
	}
	t.remoteDescs = append(t.remoteDescs, desc)
	return nil
}

func (t *scriptTransport) AddRemoteCandidate(candidate signal.Candidate) error {
	if t.candidateErr != nil {
		return t.candidateErr
	}
	t.candidates = append(t.candidates, candidate)
	return nil
}

func (t *scriptTransport) SignalingStable() bool { return t.stable }

func (t *scriptTransport) CreateAudioChannel() (DataChannel, error) {
	ch := newScriptChannel(audioChannelLabel)
	t.channels = append(t.channels, ch)
	return ch, nil
}

func (t *scriptTransport) OnNegotiationNeeded(func())         {}
func (t *scriptTransport) OnCandidate(func(signal.Candidate)) {}
func (t *scriptTransport) OnDataChannel(func(DataChannel))    {}
func (t *scriptTransport) OnStateChange(func(LinkState))      {}

func (t *scriptTransport) Close() error {
	t.closed = true
	return nil
}

// scriptChannel records sends and lets tests drive open/message delivery.
type scriptChannel struct {
	mu        sync.Mutex
	label     string
	sent      [][]byte
	buffered  uint64
	opened    bool
	closed    bool
	onOpen    func()
	onMessage func([]byte)
}

var _ DataChannel = (*scriptChannel)(nil)

func newScriptChannel(label string) *scriptChannel {
	return &scriptChannel{label: label}
}

func (c *scriptChannel) Label() string { return c.label }

func (c *scriptChannel) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return errors.New("channel closed")
	}
	c.sent = append(c.sent, data)
	return nil
}

func (c *scriptChannel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *scriptChannel) setBuffered(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffered = n
}

func (c *scriptChannel) sentMessages() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([][]byte(nil), c.sent...)
}

func (c *scriptChannel) OnOpen(handler func()) {
	c.mu.Lock()
	opened := c.opened
	c.onOpen = handler
	c.mu.Unlock()
	if opened {
		handler()
	}
}

func (c *scriptChannel) OnMessage(handler func([]byte)) {
	c.mu.Lock()
	c.onMessage = handler
	c.mu.Unlock()
}

func (c *scriptChannel) open() {
	c.mu.Lock()
	c.opened = true
	handler := c.onOpen
	c.mu.Unlock()
	if handler != nil {
		handler()
	}
}

func (c *scriptChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

// fakePair wires two fake transports back to back: once both sides settle
// into a stable signaling state after at least one remote description,
// their data channels are cross-connected and opened, mimicking transport
// establishment without any network.
type fakePair struct {
	mu        sync.Mutex
	sides     [2]*fakeTransport
	connected bool
}

func newFakePair() *fakePair {
	return &fakePair{}
}

// factory returns a TransportFactory for one side of the pair.
func (p *fakePair) factory(slot int) TransportFactory {
	return func() (PeerTransport, error) {
		p.mu.Lock()
		defer p.mu.Unlock()
		if p.sides[slot] != nil {
			return nil, errors.New("side already created")
		}
		t := &fakeTransport{pair: p, slot: slot, state: "stable"}
		p.sides[slot] = t
		return t, nil
	}
}

func (p *fakePair) channel(slot int) *fakeChannel {
	p.mu.Lock()
	defer p.mu.Unlock()
	side := p.sides[slot]
	if side == nil || len(side.channels) == 0 {
		return nil
	}
	return side.channels[0]
}

type fakeTransport struct {
	pair *fakePair
	slot int

	state     string
	sawRemote bool
	closed    bool

	onNegotiationNeeded func()
	onCandidate         func(signal.Candidate)
	onDataChannel       func(DataChannel)
	onStateChange       func(LinkState)

	channels []*fakeChannel
}

var _ PeerTransport = (*fakeTransport)(nil)

func (t *fakeTransport) CreateOffer() (signal.Descriptor, error) {
	return signal.Descriptor{Type: "offer", SDP: "sdp-offer"}, nil
}

func (t *fakeTransport) CreateAnswer() (signal.Descriptor, error) {
	return signal.Descriptor{Type: "answer", SDP: "sdp-answer"}, nil
}

func (t *fakeTransport) SetLocalDescription(desc signal.Descriptor) error {
	t.pair.mu.Lock()
	switch desc.Type {
	case "offer":
		t.state = "have-local-offer"
	case "answer", "rollback":
		t.state = "stable"
	}
	after := t.pair.maybeConnectLocked()
	t.pair.mu.Unlock()
	after()
	return nil
}

func (t *fakeTransport) SetRemoteDescription(desc signal.Descriptor) error {
	t.pair.mu.Lock()
	t.sawRemote = true
	switch desc.Type {
	case "offer":
		t.state = "have-remote-offer"
	case "answer":
		t.state = "stable"
	}
	after := t.pair.maybeConnectLocked()
	t.pair.mu.Unlock()
	after()
	return nil
}

func (t *fakeTransport) AddRemoteCandidate(signal.Candidate) error { return nil }

func (t *fakeTransport) SignalingStable() bool {
	t.pair.mu.Lock()
	defer t.pair.mu.Unlock()
	return t.state == "stable"
}

func (t *fakeTransport) CreateAudioChannel() (DataChannel, error) {
	t.pair.mu.Lock()
	ch := newFakeChannel(audioChannelLabel)
	t.channels = append(t.channels, ch)
	negotiate := t.onNegotiationNeeded
	after := t.pair.maybeConnectLocked()
	t.pair.mu.Unlock()
	if negotiate != nil {
		negotiate()
	}
	after()
	return ch, nil
}

func (t *fakeTransport) OnNegotiationNeeded(handler func())         { t.onNegotiationNeeded = handler }
func (t *fakeTransport) OnCandidate(handler func(signal.Candidate)) { t.onCandidate = handler }
func (t *fakeTransport) OnDataChannel(handler func(DataChannel))    { t.onDataChannel = handler }
func (t *fakeTransport) OnStateChange(handler func(LinkState))      { t.onStateChange = handler }

func (t *fakeTransport) Close() error {
	t.pair.mu.Lock()
	defer t.pair.mu.Unlock()
	t.closed = true
	return nil
}

// maybeConnectLocked pairs channels once both sides are stable. It returns
// the callbacks to run after the pair lock is released.
func (p *fakePair) maybeConnectLocked() func() {
	a, b := p.sides[0], p.sides[1]
	if p.connected || a == nil || b == nil {
		return func() {}
	}
	if a.state != "stable" || b.state != "stable" || (!a.sawRemote && !b.sawRemote) {
		return func() {}
	}
	p.connected = true

	var after []func()
	for _, side := range p.sides {
		if side.onStateChange != nil {
			handler := side.onStateChange
			after = append(after, func() { handler(LinkStateConnected) })
		}
	}
	for i, side := range p.sides {
		other := p.sides[1-i]
		for _, ch := range side.channels {
			if ch.buddy != nil {
				continue
			}
			mirror := newFakeChannel(ch.label)
			ch.buddy = mirror
			mirror.buddy = ch
			local, remote := ch, mirror
			announce := other.onDataChannel
			after = append(after, func() {
				if announce != nil {
					announce(remote)
				}
				local.open()
				remote.open()
			})
		}
	}
	return func() {
		for _, f := range after {
			f()
		}
	}
}

// fakeChannel delivers sends synchronously to its buddy. Messages arriving
// before a handler is bound are queued.
type fakeChannel struct {
	mu        sync.Mutex
	label     string
	buddy     *fakeChannel
	opened    bool
	closed    bool
	buffered  uint64
	onOpen    func()
	onMessage func([]byte)
	pending   [][]byte
}

var _ DataChannel = (*fakeChannel)(nil)

func newFakeChannel(label string) *fakeChannel {
	return &fakeChannel{label: label}
}

func (c *fakeChannel) Label() string { return c.label }

func (c *fakeChannel) Send(data []byte) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return errors.New("channel closed")
	}
	buddy := c.buddy
	c.mu.Unlock()
	if buddy == nil {
		return errors.New("channel not connected")
	}
	buddy.deliver(data)
	return nil
}

func (c *fakeChannel) deliver(data []byte) {
	c.mu.Lock()
	if c.onMessage == nil {
		c.pending = append(c.pending, data)
		c.mu.Unlock()
		return
	}
	handler := c.onMessage
	c.mu.Unlock()
	handler(data)
}

func (c *fakeChannel) BufferedAmount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buffered
}

func (c *fakeChannel) setBuffered(n uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buffered = n
}

func (c *fakeChannel) OnOpen(handler func()) {
	c.mu.Lock()
	opened := c.opened
	c.onOpen = handler
	c.mu.Unlock()
	if opened {
		handler()
	}
}

func (c *fakeChannel) OnMessage(handler func([]byte)) {
	c.mu.Lock()
	c.onMessage = handler
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	for _, data := range pending {
		handler(data)
	}
}

func (c *fakeChannel) open() {
	c.mu.Lock()
	if c.opened {
		c.mu.Unlock()
		return
	}
	c.opened = true
	handler := c.onOpen
	c.mu.Unlock()
	if handler != nil {
		handler()
	}
}

func (c *fakeChannel) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

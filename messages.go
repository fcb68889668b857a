package veilcall

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/veilcall/veilcall/shared"
)

// ChannelMessageType tags messages on the per-peer data channel.
type ChannelMessageType string

const (
	ChannelKey    ChannelMessageType = "key"
	ChannelKeyAck ChannelMessageType = "key-ack"
	ChannelAudio  ChannelMessageType = "audio"
)

// ChannelMessage is the tagged-variant model for data-channel traffic,
// decoded exactly once at the transport boundary.
type ChannelMessage interface {
	ChannelType() ChannelMessageType
}

// KeyMessage carries a wrapped session key from the initiating side.
type KeyMessage struct {
	Kind    ChannelMessageType `json:"type"`
	Payload []byte             `json:"payload"`
}

func NewKeyMessage(wrapped []byte) *KeyMessage {
	return &KeyMessage{Kind: ChannelKey, Payload: wrapped}
}

func (m *KeyMessage) ChannelType() ChannelMessageType { return ChannelKey }

// KeyAckMessage confirms receipt of a session key.
type KeyAckMessage struct {
	Kind ChannelMessageType `json:"type"`
}

func NewKeyAckMessage() *KeyAckMessage {
	return &KeyAckMessage{Kind: ChannelKeyAck}
}

func (m *KeyAckMessage) ChannelType() ChannelMessageType { return ChannelKeyAck }

// AudioMessage carries one encrypted audio frame: the fresh nonce and the
// ciphertext with its authentication tag.
type AudioMessage struct {
	Kind ChannelMessageType `json:"type"`
	IV   []byte             `json:"iv"`
	Data []byte             `json:"data"`
}

func NewAudioMessage(iv, data []byte) *AudioMessage {
	return &AudioMessage{Kind: ChannelAudio, IV: iv, Data: data}
}

func (m *AudioMessage) ChannelType() ChannelMessageType { return ChannelAudio }

// EncodeChannelMessage frames a message for the data channel.
func EncodeChannelMessage(msg ChannelMessage) ([]byte, error) {
	raw, err := sonic.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("marshaling %s message: %w", msg.ChannelType(), err)
	}
	return raw, nil
}

// DecodeChannelMessage parses one inbound data-channel message into its
// concrete variant.
func DecodeChannelMessage(raw []byte) (ChannelMessage, error) {
	var probe struct {
		Kind ChannelMessageType `json:"type"`
	}
	if err := sonic.Unmarshal(raw, &probe); err != nil {
		return nil, fmt.Errorf("unmarshaling channel message: %w", err)
	}
	switch probe.Kind {
	case ChannelKey:
		msg := new(KeyMessage)
		if err := sonic.Unmarshal(raw, msg); err != nil {
			return nil, fmt.Errorf("unmarshaling key message: %w", err)
		}
		return msg, nil
	case ChannelKeyAck:
		return NewKeyAckMessage(), nil
	case ChannelAudio:
		msg := new(AudioMessage)
		if err := sonic.Unmarshal(raw, msg); err != nil {
			return nil, fmt.Errorf("unmarshaling audio message: %w", err)
		}
		return msg, nil
	default:
		return nil, fmt.Errorf("%w: %q", shared.ErrUnknownMessageType, probe.Kind)
	}
}

package veilcall

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/veilcall/veilcall/shared"
)

func TestChannelMessageVariants(t *testing.T) {
	raw, err := EncodeChannelMessage(NewKeyMessage([]byte{1, 2, 3}))
	require.NoError(t, err)
	msg, err := DecodeChannelMessage(raw)
	require.NoError(t, err)
	key, ok := msg.(*KeyMessage)
	require.True(t, ok)
	assert.Equal(t, []byte{1, 2, 3}, key.Payload)

	raw, err = EncodeChannelMessage(NewKeyAckMessage())
	require.NoError(t, err)
	msg, err = DecodeChannelMessage(raw)
	require.NoError(t, err)
	assert.Equal(t, ChannelKeyAck, msg.ChannelType())

	raw, err = EncodeChannelMessage(NewAudioMessage([]byte{9}, []byte{8, 7}))
	require.NoError(t, err)
	msg, err = DecodeChannelMessage(raw)
	require.NoError(t, err)
	audio, ok := msg.(*AudioMessage)
	require.True(t, ok)
	assert.Equal(t, []byte{9}, audio.IV)
	assert.Equal(t, []byte{8, 7}, audio.Data)
}

func TestDecodeChannelMessageUnknownType(t *testing.T) {
	_, err := DecodeChannelMessage([]byte(`{"type":"video"}`))
	assert.ErrorIs(t, err, shared.ErrUnknownMessageType)
}

func TestDecodeChannelMessageGarbage(t *testing.T) {
	_, err := DecodeChannelMessage([]byte("not json"))
	assert.Error(t, err)
}

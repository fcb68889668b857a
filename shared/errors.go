package shared

import "errors"

var (
	ErrNoLogger           = errors.New("no logger provided")
	ErrNoRelay            = errors.New("no relay provided")
	ErrNoTransportFactory = errors.New("no transport factory provided")
	ErrNoPrivateKey       = errors.New("no private key provided")
	ErrSessionClosed      = errors.New("session closed")
	ErrAlreadyInRoom      = errors.New("already joined a room")
	ErrNotInRoom          = errors.New("not in a room")
	ErrMissingPublicKey   = errors.New("peer public key not known")
	ErrAuthTagMismatch    = errors.New("authentication tag mismatch")
	ErrDecrypt            = errors.New("decryption failed")
	ErrMalformedKeyWrap   = errors.New("malformed wrapped key payload")
	ErrTransportFailed    = errors.New("peer transport failed")
	ErrRelayDisconnected  = errors.New("relay connection lost")
	ErrUnknownMessageType = errors.New("unknown message type")
	ErrKeySize            = errors.New("invalid session key size")
	ErrChannelNotOpen     = errors.New("data channel not open")
)

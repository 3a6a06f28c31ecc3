package protocol

import "errors"

var (
	// Protocol errors: the packet is dropped, the connection survives.

	ErrUnknownMessage   = errors.New("unknown message id")
	ErrMalformedPayload = errors.New("malformed message payload")

	// Registration errors.

	ErrNoHandler             = errors.New("no handler registered for message")
	ErrNotRegistered         = errors.New("message type not registered")
	ErrDuplicateRegistration = errors.New("message already registered")
	ErrRegistrySealed        = errors.New("registry is sealed")

	ErrHandlerFailed = errors.New("message handler failed")
)

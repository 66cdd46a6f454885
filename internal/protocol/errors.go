package protocol

import "errors"

// Kind classifies a failure.
type Kind byte

const (
	KindUnknown Kind = iota
	ProtocolError
	ValidationError
	AuthorizationError
	CapacityError
	TimeoutError
	DeliveryExhausted
)

var kindNames = map[Kind]string{
	KindUnknown:        "UnknownError",
	ProtocolError:      "ProtocolError",
	ValidationError:    "ValidationError",
	AuthorizationError: "AuthorizationError",
	CapacityError:      "CapacityError",
	TimeoutError:       "TimeoutError",
	DeliveryExhausted:  "DeliveryExhausted",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return kindNames[KindUnknown]
}

// Error is a classified failure. Its message is what the hub puts into the
// "error" field of an error envelope.
type Error struct {
	Kind Kind
	Msg  string
}

func (e *Error) Error() string {
	return e.Msg
}

var (
	ErrMalformed       = &Error{Kind: ProtocolError, Msg: "malformed envelope"}
	ErrMissingType     = &Error{Kind: ProtocolError, Msg: "missing envelope type"}
	ErrUnknownType     = &Error{Kind: ProtocolError, Msg: "unrecognized envelope type"}
	ErrUnexpectedType  = &Error{Kind: ProtocolError, Msg: "envelope type not accepted here"}
	ErrMessageTooLarge = &Error{Kind: ValidationError, Msg: "message too large"}

	ErrInvalidIdentity = &Error{Kind: ValidationError, Msg: "invalid identity: must be 1-32 characters"}
	ErrInvalidChannel  = &Error{Kind: ValidationError, Msg: "invalid channel: must be 1-64 characters"}
	ErrPayloadTooLarge = &Error{Kind: ValidationError, Msg: "payload too large"}

	ErrIdentityInUse     = &Error{Kind: AuthorizationError, Msg: "identity already in use"}
	ErrAlreadyRegistered = &Error{Kind: AuthorizationError, Msg: "connection already registered under another identity"}
	ErrNotRegistered     = &Error{Kind: AuthorizationError, Msg: "not registered"}
	ErrNotSubscribed     = &Error{Kind: AuthorizationError, Msg: "not subscribed to channel"}

	ErrCapacity = &Error{Kind: CapacityError, Msg: "server at capacity"}

	ErrRegistrationTimeout = &Error{Kind: TimeoutError, Msg: "registration deadline exceeded"}
	ErrHeartbeatTimeout    = &Error{Kind: TimeoutError, Msg: "heartbeat timeout"}

	ErrDeliveryExhausted = &Error{Kind: DeliveryExhausted, Msg: "delivery retries exhausted"}
)

// KindOf returns the Kind of the first *Error in err's chain.
func KindOf(err error) Kind {
	var pe *Error
	if errors.As(err, &pe) {
		return pe.Kind
	}
	return KindUnknown
}

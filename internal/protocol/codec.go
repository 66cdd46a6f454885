package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Encode serializes env with its "type" field first.
func Encode(env Envelope) ([]byte, error) {
	if u, ok := env.(Unknown); ok {
		return u.Raw, nil
	}
	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encode %s envelope: %w", env.Type(), err)
	}
	if len(body) < 2 || body[0] != '{' {
		return nil, fmt.Errorf("encode %s envelope: not an object", env.Type())
	}
	head := `{"type":` + strconv.Quote(string(env.Type()))
	if len(body) > 2 {
		head += ","
	}
	out := make([]byte, 0, len(head)+len(body)-1)
	out = append(out, head...)
	out = append(out, body[1:]...)
	return out, nil
}

// MustEncode is Encode for envelopes built from trusted values.
func MustEncode(env Envelope) []byte {
	data, err := Encode(env)
	if err != nil {
		panic(err)
	}
	return data
}

// Decode parses one envelope. Non-objects and a missing type yield a
// ProtocolError; an unrecognized type yields Unknown and no error.
func Decode(data []byte) (Envelope, error) {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, ErrMalformed
	}
	var head struct {
		Type *Type `json:"type"`
	}
	if err := json.Unmarshal(trimmed, &head); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if head.Type == nil || *head.Type == "" {
		return nil, ErrMissingType
	}

	switch *head.Type {
	case TypeRegister:
		return decodeAs[Register](trimmed)
	case TypeRegistered:
		return decodeAs[Registered](trimmed)
	case TypeWelcome:
		return decodeAs[Welcome](trimmed)
	case TypeSubscribe:
		return decodeAs[Subscribe](trimmed)
	case TypeSubscribed:
		return decodeAs[Subscribed](trimmed)
	case TypeUnsubscribe:
		return decodeAs[Unsubscribe](trimmed)
	case TypeUnsubscribed:
		return decodeAs[Unsubscribed](trimmed)
	case TypeMemberJoined:
		return decodeAs[MemberJoined](trimmed)
	case TypeMemberLeft:
		return decodeAs[MemberLeft](trimmed)
	case TypePublish:
		return decodeAs[Publish](trimmed)
	case TypeMessage:
		return decodeAs[Message](trimmed)
	case TypeAck:
		return decodeAs[Ack](trimmed)
	case TypePing:
		return decodeAs[Ping](trimmed)
	case TypePong:
		return decodeAs[Pong](trimmed)
	case TypeError:
		return decodeAs[ErrorReply](trimmed)
	default:
		raw := make(json.RawMessage, len(trimmed))
		copy(raw, trimmed)
		return Unknown{Kind: *head.Type, Raw: raw}, nil
	}
}

func decodeAs[T Envelope](data []byte) (Envelope, error) {
	var env T
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return env, nil
}

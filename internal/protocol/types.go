// Package protocol defines the JSON envelopes exchanged between the hub and
// its clients, together with the error taxonomy and field validation shared
// by both sides.
package protocol

import (
	"encoding/json"
	"time"
)

// Type is the value of the "type" field every envelope carries.
type Type string

const (
	TypeRegister     Type = "register"
	TypeRegistered   Type = "registered"
	TypeWelcome      Type = "welcome"
	TypeSubscribe    Type = "subscribe"
	TypeSubscribed   Type = "subscribed"
	TypeUnsubscribe  Type = "unsubscribe"
	TypeUnsubscribed Type = "unsubscribed"
	TypeMemberJoined Type = "member_joined"
	TypeMemberLeft   Type = "member_left"
	TypePublish      Type = "publish"
	TypeMessage      Type = "message"
	TypeAck          Type = "ack"
	TypePing         Type = "ping"
	TypePong         Type = "pong"
	TypeError        Type = "error"
)

func (t Type) String() string {
	return string(t)
}

// Envelope is the closed set of messages understood on the wire. Anything
// with an unrecognized type decodes to Unknown.
type Envelope interface {
	Type() Type
}

type Register struct {
	ID        string `json:"id"`
	Timestamp int64  `json:"timestamp"`
}

type Registered struct {
	ID        string   `json:"id"`
	Channels  []string `json:"channels"`
	Timestamp int64    `json:"timestamp"`
}

type Welcome struct {
	ClientID  string `json:"clientId"`
	Timestamp int64  `json:"timestamp"`
}

type Subscribe struct {
	Channel   string `json:"channel"`
	Timestamp int64  `json:"timestamp"`
}

type Subscribed struct {
	Channel   string   `json:"channel"`
	Members   []string `json:"members"`
	Timestamp int64    `json:"timestamp"`
}

type Unsubscribe struct {
	Channel   string `json:"channel"`
	Timestamp int64  `json:"timestamp"`
}

type Unsubscribed struct {
	Channel   string   `json:"channel"`
	Members   []string `json:"members"`
	Timestamp int64    `json:"timestamp"`
}

// MemberJoined is broadcast to the other members of a channel.
type MemberJoined struct {
	Channel   string   `json:"channel"`
	Member    string   `json:"member"`
	Members   []string `json:"members"`
	Timestamp int64    `json:"timestamp"`
}

// MemberLeft is broadcast to the remaining members of a channel.
type MemberLeft struct {
	Channel   string   `json:"channel"`
	Member    string   `json:"member"`
	Members   []string `json:"members"`
	Timestamp int64    `json:"timestamp"`
}

// Publish asks the hub to fan a payload out to a channel. MsgID is an
// optional client-local id echoed back as Ack.Ref.
type Publish struct {
	Channel   string          `json:"channel"`
	Payload   json.RawMessage `json:"payload"`
	MsgID     string          `json:"msgId,omitempty"`
	Timestamp int64           `json:"timestamp"`
}

// Message is a delivered publish.
type Message struct {
	MsgID     string          `json:"msgId"`
	Channel   string          `json:"channel"`
	From      string          `json:"from"`
	Payload   json.RawMessage `json:"payload"`
	Timestamp int64           `json:"timestamp"`
}

// Ack travels both ways: hub to publisher means "accepted", recipient to hub
// means "delivered".
type Ack struct {
	MsgID     string `json:"msgId"`
	Ref       string `json:"ref,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

type Ping struct {
	Timestamp int64 `json:"timestamp"`
}

type Pong struct {
	Timestamp int64 `json:"timestamp"`
}

// ErrorReply reports a rejected request to the connection that sent it.
type ErrorReply struct {
	Error     string `json:"error"`
	Ref       string `json:"ref,omitempty"`
	Timestamp int64  `json:"timestamp"`
}

// Unknown keeps the raw bytes of an envelope whose type is not recognized.
type Unknown struct {
	Kind Type
	Raw  json.RawMessage
}

func (Register) Type() Type     { return TypeRegister }
func (Registered) Type() Type   { return TypeRegistered }
func (Welcome) Type() Type      { return TypeWelcome }
func (Subscribe) Type() Type    { return TypeSubscribe }
func (Subscribed) Type() Type   { return TypeSubscribed }
func (Unsubscribe) Type() Type  { return TypeUnsubscribe }
func (Unsubscribed) Type() Type { return TypeUnsubscribed }
func (MemberJoined) Type() Type { return TypeMemberJoined }
func (MemberLeft) Type() Type   { return TypeMemberLeft }
func (Publish) Type() Type      { return TypePublish }
func (Message) Type() Type      { return TypeMessage }
func (Ack) Type() Type          { return TypeAck }
func (Ping) Type() Type         { return TypePing }
func (Pong) Type() Type         { return TypePong }
func (ErrorReply) Type() Type   { return TypeError }
func (u Unknown) Type() Type    { return u.Kind }

// Now returns the wire timestamp for the current instant (Unix milliseconds).
func Now() int64 {
	return time.Now().UnixMilli()
}

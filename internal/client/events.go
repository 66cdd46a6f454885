package client

import "github.com/life-stream-dev/life-stream-go-hub/internal/protocol"

type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateRegistered
	StateReconnecting
)

var stateNames = map[State]string{
	StateDisconnected: "disconnected",
	StateConnecting:   "connecting",
	StateConnected:    "connected",
	StateRegistered:   "registered",
	StateReconnecting: "reconnecting",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "unknown"
}

// Event is delivered on Client.Events.
type Event interface {
	isEvent()
}

type Connected struct{}

// Disconnected reports the end of a connection. Code is the WebSocket
// close status when the peer sent one, -1 otherwise.
type Disconnected struct {
	Code   int
	Reason error
}

type Registered struct {
	Identity string
	Channels []string
}

type MessageReceived struct {
	Message protocol.Message
}

type Subscribed struct {
	Channel string
	Members []string
}

type Unsubscribed struct {
	Channel string
	Members []string
}

type MemberJoined struct {
	Channel string
	Member  string
	Members []string
}

type MemberLeft struct {
	Channel string
	Member  string
	Members []string
}

// PublishAccepted is the hub's acceptance of a publish. Ref is the id
// returned by Client.Publish.
type PublishAccepted struct {
	MsgID string
	Ref   string
}

// ServerError carries the text of an error envelope from the hub.
type ServerError struct {
	Message string
	Ref     string
}

// LocalError is a request refused before reaching the wire.
type LocalError struct {
	Err error
}

// ConnectFailed is a dial attempt that failed or timed out.
type ConnectFailed struct {
	Attempt int
	Err     error
}

func (Connected) isEvent()       {}
func (Disconnected) isEvent()    {}
func (Registered) isEvent()      {}
func (MessageReceived) isEvent() {}
func (Subscribed) isEvent()      {}
func (Unsubscribed) isEvent()    {}
func (MemberJoined) isEvent()    {}
func (MemberLeft) isEvent()      {}
func (PublishAccepted) isEvent() {}
func (ServerError) isEvent()     {}
func (LocalError) isEvent()      {}
func (ConnectFailed) isEvent()   {}

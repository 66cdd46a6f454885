package hub

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/life-stream-dev/life-stream-go-hub/internal/database"
	"github.com/life-stream-dev/life-stream-go-hub/internal/protocol"
)

type fakeSender struct {
	mu      sync.Mutex
	frames  [][]byte
	closed  bool
	code    int
	reason  string
	failing bool
}

func (s *fakeSender) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.failing {
		return errors.New("fake sender unavailable")
	}
	s.frames = append(s.frames, append([]byte(nil), data...))
	return nil
}

func (s *fakeSender) Close(code int, reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	s.code = code
	s.reason = reason
}

func (s *fakeSender) closeCode() (bool, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed, s.code
}

func (s *fakeSender) reset() {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
}

func (s *fakeSender) envelopes(t *testing.T) []protocol.Envelope {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]protocol.Envelope, 0, len(s.frames))
	for _, f := range s.frames {
		env, err := protocol.Decode(f)
		if err != nil {
			t.Fatalf("hub sent undecodable frame %s: %v", f, err)
		}
		out = append(out, env)
	}
	return out
}

func framesOf[T protocol.Envelope](t *testing.T, s *fakeSender) []T {
	t.Helper()
	var out []T
	for _, env := range s.envelopes(t) {
		if v, ok := env.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

type recordingObserver struct {
	mu          sync.Mutex
	redelivered []int
	exhausted   []string
}

func (o *recordingObserver) Redelivered(_ *Message, _ string, attempt int) {
	o.mu.Lock()
	o.redelivered = append(o.redelivered, attempt)
	o.mu.Unlock()
}

func (o *recordingObserver) DeliveryExhausted(msg *Message, recipient string) {
	o.mu.Lock()
	o.exhausted = append(o.exhausted, msg.ID+"/"+recipient)
	o.mu.Unlock()
}

func (o *recordingObserver) snapshot() ([]int, []string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return append([]int(nil), o.redelivered...), append([]string(nil), o.exhausted...)
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.RetryInterval = time.Hour
	return cfg
}

func newTestHub(t *testing.T, cfg Config, opts ...Option) *Hub {
	t.Helper()
	h := New(cfg, opts...)
	t.Cleanup(h.Close)
	return h
}

func connect(t *testing.T, h *Hub) (ConnID, *fakeSender) {
	t.Helper()
	s := &fakeSender{}
	id, err := h.Accept(s)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	return id, s
}

func join(t *testing.T, h *Hub, identity string, channels ...string) (ConnID, *fakeSender) {
	t.Helper()
	id, s := connect(t, h)
	if _, err := h.Register(id, identity); err != nil {
		t.Fatalf("Register(%s): %v", identity, err)
	}
	for _, ch := range channels {
		if _, err := h.Subscribe(identity, ch); err != nil {
			t.Fatalf("Subscribe(%s, %s): %v", identity, ch, err)
		}
	}
	return id, s
}

func eventually(t *testing.T, timeout time.Duration, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func frame(t *testing.T, env protocol.Envelope) []byte {
	t.Helper()
	data, err := protocol.Encode(env)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	return data
}

func TestAcceptSendsWelcome(t *testing.T) {
	h := newTestHub(t, testConfig())
	id, s := connect(t, h)
	welcomes := framesOf[protocol.Welcome](t, s)
	if len(welcomes) != 1 || welcomes[0].ClientID != string(id) {
		t.Fatalf("welcome = %+v, want one for %s", welcomes, id)
	}
}

func TestAcceptRejectsAtCapacity(t *testing.T) {
	cfg := testConfig()
	cfg.MaxConnections = 2
	h := newTestHub(t, cfg)
	connect(t, h)
	connect(t, h)

	s := &fakeSender{}
	_, err := h.Accept(s)
	if !errors.Is(err, protocol.ErrCapacity) || protocol.KindOf(err) != protocol.CapacityError {
		t.Fatalf("Accept over capacity = %v, want ErrCapacity", err)
	}
	if closed, code := s.closeCode(); !closed || code != CloseCapacity.Code {
		t.Fatalf("rejected sender closed=%v code=%d", closed, code)
	}
	if got := h.Stats().Connections; got != 2 {
		t.Fatalf("connections = %d, want 2", got)
	}
}

func TestRegisterIdentityUniqueness(t *testing.T) {
	h := newTestHub(t, testConfig())
	first, _ := join(t, h, "alice")
	second, _ := connect(t, h)

	_, err := h.Register(second, "alice")
	if !errors.Is(err, protocol.ErrIdentityInUse) {
		t.Fatalf("second Register = %v, want ErrIdentityInUse", err)
	}
	if protocol.KindOf(err) != protocol.AuthorizationError {
		t.Fatalf("kind = %v, want AuthorizationError", protocol.KindOf(err))
	}
	if got := h.IdentityOf(first); got != "alice" {
		t.Fatalf("first connection lost its identity: %q", got)
	}

	h.Cleanup(first)
	channels, err := h.Register(second, "alice")
	if err != nil {
		t.Fatalf("Register after cleanup: %v", err)
	}
	if channels == nil || len(channels) != 0 {
		t.Fatalf("channels = %#v, want empty non-nil", channels)
	}
}

func TestRegisterReplacesClosingBinding(t *testing.T) {
	h := newTestHub(t, testConfig())
	old, _ := join(t, h, "alice", "room1")
	_, bob := join(t, h, "bob", "room1")
	bob.reset()

	h.mu.Lock()
	h.conns[old].open = false
	h.mu.Unlock()

	fresh, _ := connect(t, h)
	channels, err := h.Register(fresh, "alice")
	if err != nil {
		t.Fatalf("Register over closing binding: %v", err)
	}
	if len(channels) != 0 {
		t.Fatalf("channels carried over: %v", channels)
	}
	if left := framesOf[protocol.MemberLeft](t, bob); len(left) != 1 || left[0].Member != "alice" {
		t.Fatalf("bob member_left = %+v", left)
	}

	// the late cleanup of the old connection must not unbind the new one
	h.Cleanup(old)
	if got := h.IdentityOf(fresh); got != "alice" {
		t.Fatalf("identity after stale cleanup = %q", got)
	}
}

func TestRegisterValidation(t *testing.T) {
	h := newTestHub(t, testConfig())
	id, _ := connect(t, h)
	for _, identity := range []string{"", strings.Repeat("a", 33)} {
		_, err := h.Register(id, identity)
		if !errors.Is(err, protocol.ErrInvalidIdentity) {
			t.Errorf("Register(%q) = %v, want ErrInvalidIdentity", identity, err)
		}
	}
	if _, err := h.Register("missing", "alice"); !errors.Is(err, ErrUnknownConnection) {
		t.Fatalf("Register on unknown connection = %v", err)
	}
}

func TestRegisterSameConnection(t *testing.T) {
	h := newTestHub(t, testConfig())
	id, _ := join(t, h, "alice", "room1")
	channels, err := h.Register(id, "alice")
	if err != nil {
		t.Fatalf("re-register: %v", err)
	}
	if len(channels) != 1 || channels[0] != "room1" {
		t.Fatalf("re-register channels = %v", channels)
	}
	if _, err := h.Register(id, "mallory"); !errors.Is(err, protocol.ErrAlreadyRegistered) {
		t.Fatalf("register other identity = %v, want ErrAlreadyRegistered", err)
	}
}

func TestSubscribeIsIdempotent(t *testing.T) {
	h := newTestHub(t, testConfig())
	_, alice := join(t, h, "alice", "room1")
	alice.reset()
	join(t, h, "bob")

	first, err := h.Subscribe("bob", "room1")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	second, err := h.Subscribe("bob", "room1")
	if err != nil {
		t.Fatalf("Subscribe again: %v", err)
	}
	if strings.Join(first, ",") != "alice,bob" || strings.Join(second, ",") != "alice,bob" {
		t.Fatalf("members = %v then %v", first, second)
	}
	joined := framesOf[protocol.MemberJoined](t, alice)
	if len(joined) != 1 || joined[0].Member != "bob" || len(joined[0].Members) != 2 {
		t.Fatalf("alice member_joined = %+v, want exactly one for bob", joined)
	}
}

func TestSubscribeValidation(t *testing.T) {
	h := newTestHub(t, testConfig())
	if _, err := h.Subscribe("ghost", "room1"); !errors.Is(err, protocol.ErrNotRegistered) {
		t.Fatalf("unregistered Subscribe = %v", err)
	}
	join(t, h, "alice")
	for _, ch := range []string{"", strings.Repeat("c", 65)} {
		if _, err := h.Subscribe("alice", ch); !errors.Is(err, protocol.ErrInvalidChannel) {
			t.Errorf("Subscribe(%q) = %v, want ErrInvalidChannel", ch, err)
		}
	}
	if got := h.Stats().Channels; got != 0 {
		t.Fatalf("rejected subscribe created %d channels", got)
	}
}

func TestUnsubscribe(t *testing.T) {
	h := newTestHub(t, testConfig())
	join(t, h, "alice", "room1")
	_, bob := join(t, h, "bob", "room1")
	bob.reset()

	members, err := h.Unsubscribe("alice", "room1")
	if err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if strings.Join(members, ",") != "bob" {
		t.Fatalf("members after leave = %v", members)
	}
	if left := framesOf[protocol.MemberLeft](t, bob); len(left) != 1 || left[0].Member != "alice" {
		t.Fatalf("bob member_left = %+v", left)
	}
	if _, err := h.Unsubscribe("alice", "room1"); err != nil {
		t.Fatalf("second Unsubscribe: %v", err)
	}
	if _, err := h.Unsubscribe("bob", "room1"); err != nil {
		t.Fatalf("Unsubscribe last member: %v", err)
	}
	if got := h.Stats().Channels; got != 0 {
		t.Fatalf("empty channel kept, channels = %d", got)
	}
}

func TestPublishAckScenario(t *testing.T) {
	cfg := testConfig()
	cfg.RetryInterval = 40 * time.Millisecond
	h := newTestHub(t, cfg)
	aliceID, alice := join(t, h, "alice", "room1")
	bobID, bob := join(t, h, "bob", "room1")
	alice.reset()
	bob.reset()

	h.HandleFrame(aliceID, frame(t, protocol.Publish{
		Channel: "room1", Payload: json.RawMessage(`{"text":"hi"}`), MsgID: "c-1", Timestamp: protocol.Now(),
	}))

	acks := framesOf[protocol.Ack](t, alice)
	if len(acks) != 1 || acks[0].Ref != "c-1" || acks[0].MsgID == "" {
		t.Fatalf("alice acks = %+v", acks)
	}
	msgs := framesOf[protocol.Message](t, bob)
	if len(msgs) != 1 {
		t.Fatalf("bob messages = %+v", msgs)
	}
	if msgs[0].MsgID != acks[0].MsgID || msgs[0].From != "alice" || string(msgs[0].Payload) != `{"text":"hi"}` {
		t.Fatalf("bob got %+v", msgs[0])
	}
	if echo := framesOf[protocol.Message](t, alice); len(echo) != 1 {
		t.Fatalf("alice should receive her own message once, got %d", len(echo))
	}
	if h.Pending("bob") != 1 || h.Pending("alice") != 0 {
		t.Fatalf("pending bob=%d alice=%d", h.Pending("bob"), h.Pending("alice"))
	}

	h.HandleFrame(bobID, frame(t, protocol.Ack{MsgID: msgs[0].MsgID, Timestamp: protocol.Now()}))
	if h.Pending("bob") != 0 {
		t.Fatalf("ack did not clear pending delivery")
	}
	if h.OnAck("bob", msgs[0].MsgID) {
		t.Fatalf("duplicate ack reported a removal")
	}

	time.Sleep(3 * cfg.RetryInterval)
	if got := len(framesOf[protocol.Message](t, bob)); got != 1 {
		t.Fatalf("bob received %d messages after ack, want 1", got)
	}
	if msg, ok := h.Lookup(acks[0].MsgID); !ok || msg.Channel != "room1" {
		t.Fatalf("Lookup = %+v, %v", msg, ok)
	}
}

func TestPublishRejections(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPayloadSize = 16
	h := newTestHub(t, cfg)
	join(t, h, "alice", "room1")
	join(t, h, "bob", "room2")
	before := h.Stats()

	tests := []struct {
		name    string
		sender  string
		channel string
		payload string
		want    error
	}{
		{"unregistered", "ghost", "room1", `{}`, protocol.ErrNotRegistered},
		{"not a member", "bob", "room1", `{}`, protocol.ErrNotSubscribed},
		{"invalid channel", "alice", "", `{}`, protocol.ErrInvalidChannel},
		{"too large", "alice", "room1", `{"text":"0123456789abcdef"}`, protocol.ErrPayloadTooLarge},
		{"missing payload", "alice", "room1", ``, protocol.ErrMalformed},
		{"null payload", "alice", "room1", `null`, protocol.ErrMalformed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := h.Publish(tt.sender, tt.channel, json.RawMessage(tt.payload))
			if !errors.Is(err, tt.want) {
				t.Fatalf("Publish = %v, want %v", err, tt.want)
			}
		})
	}
	if after := h.Stats(); after != before {
		t.Fatalf("rejected publishes changed state: %+v -> %+v", before, after)
	}
}

func TestRetryExhaustsAfterMaxRetries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 3
	cfg.RetryInterval = 15 * time.Millisecond
	observer := &recordingObserver{}
	h := newTestHub(t, cfg, WithObserver(observer))
	_, alice := join(t, h, "alice", "room1")
	_, bob := join(t, h, "bob", "room1")
	alice.reset()
	bob.reset()

	msgID, err := h.Publish("alice", "room1", json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	eventually(t, 2*time.Second, func() bool {
		_, exhausted := observer.snapshot()
		return len(exhausted) == 1
	}, "delivery exhaustion")

	time.Sleep(3 * cfg.RetryInterval)
	msgs := framesOf[protocol.Message](t, bob)
	if len(msgs) != 1+cfg.MaxRetries {
		t.Fatalf("bob received %d copies, want %d", len(msgs), 1+cfg.MaxRetries)
	}
	for _, m := range msgs {
		if m.MsgID != msgID {
			t.Fatalf("redelivery changed id: %s != %s", m.MsgID, msgID)
		}
	}
	attempts, exhausted := observer.snapshot()
	if len(attempts) != cfg.MaxRetries || attempts[len(attempts)-1] != cfg.MaxRetries {
		t.Fatalf("redelivery attempts = %v", attempts)
	}
	if exhausted[0] != msgID+"/bob" {
		t.Fatalf("exhausted = %v", exhausted)
	}
	if h.Pending("bob") != 0 {
		t.Fatalf("exhausted delivery still pending")
	}
	if errs := framesOf[protocol.ErrorReply](t, alice); len(errs) != 0 {
		t.Fatalf("publisher was told about exhaustion: %+v", errs)
	}
}

func TestOnRetryTimeoutCountsRedeliveries(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	observer := &recordingObserver{}
	h := newTestHub(t, cfg, WithObserver(observer))
	join(t, h, "alice", "room1")
	_, bob := join(t, h, "bob", "room1")
	bob.reset()

	msgID, err := h.Publish("alice", "room1", json.RawMessage(`{"n":1}`))
	if err != nil {
		t.Fatalf("Publish: %v", err)
	}
	for retry := 1; retry <= cfg.MaxRetries; retry++ {
		h.OnRetryTimeout(msgID, "bob")
		if got := len(framesOf[protocol.Message](t, bob)); got != 1+retry {
			t.Fatalf("after retry %d bob has %d copies", retry, got)
		}
		if h.Pending("bob") != 1 {
			t.Fatalf("delivery dropped before the retry budget was spent")
		}
	}

	h.OnRetryTimeout(msgID, "bob")
	if h.Pending("bob") != 0 {
		t.Fatalf("delivery still pending after %d retries", cfg.MaxRetries)
	}
	if got := len(framesOf[protocol.Message](t, bob)); got != 1+cfg.MaxRetries {
		t.Fatalf("bob has %d copies, want %d", got, 1+cfg.MaxRetries)
	}
	attempts, exhausted := observer.snapshot()
	if len(attempts) != cfg.MaxRetries || len(exhausted) != 1 {
		t.Fatalf("attempts = %v, exhausted = %v", attempts, exhausted)
	}

	// expired or unknown entries are ignored
	h.OnRetryTimeout(msgID, "bob")
	h.OnRetryTimeout("unknown", "bob")
	if _, exhausted := observer.snapshot(); len(exhausted) != 1 {
		t.Fatalf("exhaustion reported twice: %v", exhausted)
	}
}

func TestRetrySkipsFailingRecipient(t *testing.T) {
	cfg := testConfig()
	cfg.MaxRetries = 2
	cfg.RetryInterval = 10 * time.Millisecond
	observer := &recordingObserver{}
	h := newTestHub(t, cfg, WithObserver(observer))
	join(t, h, "alice", "room1")
	_, bob := join(t, h, "bob", "room1")
	_, carol := join(t, h, "carol", "room1")
	bob.mu.Lock()
	bob.failing = true
	bob.mu.Unlock()
	carol.reset()

	if _, err := h.Publish("alice", "room1", json.RawMessage(`"x"`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if got := len(framesOf[protocol.Message](t, carol)); got != 1 {
		t.Fatalf("carol received %d messages despite bob failing", got)
	}
	eventually(t, 2*time.Second, func() bool {
		_, exhausted := observer.snapshot()
		return len(exhausted) == 2
	}, "both deliveries exhausted")
}

func TestCleanupCompleteness(t *testing.T) {
	cfg := testConfig()
	cfg.RetryInterval = 20 * time.Millisecond
	store := database.NewMemoryStore()
	h := newTestHub(t, cfg, WithStore(store))
	_, alice := join(t, h, "alice", "room1", "room2")
	bobID, bob := join(t, h, "bob", "room1", "room2", "solo")

	if _, err := h.Publish("alice", "room1", json.RawMessage(`{}`)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if h.Pending("bob") != 1 {
		t.Fatalf("pending bob = %d", h.Pending("bob"))
	}
	alice.reset()
	bob.reset()

	h.Cleanup(bobID)
	h.Cleanup(bobID)

	left := framesOf[protocol.MemberLeft](t, alice)
	if len(left) != 2 {
		t.Fatalf("alice member_left = %+v, want one per shared channel", left)
	}
	for _, l := range left {
		if l.Member != "bob" || strings.Join(l.Members, ",") != "alice" {
			t.Fatalf("unexpected member_left %+v", l)
		}
	}
	if h.Pending("bob") != 0 {
		t.Fatalf("cleanup left pending deliveries")
	}
	stats := h.Stats()
	if stats.Identities != 1 || stats.Channels != 2 || stats.Connections != 1 {
		t.Fatalf("stats after cleanup = %+v", stats)
	}
	if _, err := store.GetSession(context.Background(), "bob"); !errors.Is(err, database.ErrSessionNotFound) {
		t.Fatalf("bob presence still stored: %v", err)
	}

	time.Sleep(4 * cfg.RetryInterval)
	if got := len(bob.envelopes(t)); got != 0 {
		t.Fatalf("bob received %d frames after cleanup", got)
	}
}

func TestStoreMirrorsPresence(t *testing.T) {
	store := database.NewMemoryStore()
	h := newTestHub(t, testConfig(), WithStore(store))
	id, _ := join(t, h, "alice", "room2", "room1")

	session, err := store.GetSession(context.Background(), "alice")
	if err != nil {
		t.Fatalf("GetSession: %v", err)
	}
	if session.ConnID != string(id) || strings.Join(session.Channels, ",") != "room1,room2" {
		t.Fatalf("stored session = %+v", session)
	}
	if _, err := h.Unsubscribe("alice", "room2"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	session, _ = store.GetSession(context.Background(), "alice")
	if strings.Join(session.Channels, ",") != "room1" {
		t.Fatalf("stored channels after leave = %v", session.Channels)
	}
}

func TestRegistrationDeadline(t *testing.T) {
	cfg := testConfig()
	cfg.RegistrationDeadline = 20 * time.Millisecond
	h := newTestHub(t, cfg)
	_, lazy := connect(t, h)
	_, prompt := join(t, h, "alice")

	eventually(t, time.Second, func() bool {
		closed, _ := lazy.closeCode()
		return closed
	}, "registration deadline")
	if _, code := lazy.closeCode(); code != CloseRegistrationTimeout.Code {
		t.Fatalf("close code = %d, want %d", code, CloseRegistrationTimeout.Code)
	}
	eventually(t, time.Second, func() bool { return h.Stats().Connections == 1 }, "cleanup of unregistered connection")

	time.Sleep(2 * cfg.RegistrationDeadline)
	if closed, _ := prompt.closeCode(); closed {
		t.Fatalf("registered connection was closed by the deadline")
	}
}

func TestHeartbeatTimeout(t *testing.T) {
	cfg := testConfig()
	cfg.HeartbeatInterval = 10 * time.Millisecond
	cfg.HeartbeatTimeout = 50 * time.Millisecond
	h := newTestHub(t, cfg)
	_, idle := join(t, h, "idle", "room1")
	busyID, busy := join(t, h, "busy", "room1")

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(5 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				h.HandleFrame(busyID, frame(t, protocol.Ping{Timestamp: protocol.Now()}))
			}
		}
	}()

	eventually(t, time.Second, func() bool {
		closed, _ := idle.closeCode()
		return closed
	}, "heartbeat timeout")
	close(stop)
	<-done

	if _, code := idle.closeCode(); code != CloseHeartbeatTimeout.Code {
		t.Fatalf("close code = %d, want %d", code, CloseHeartbeatTimeout.Code)
	}
	if closed, _ := busy.closeCode(); closed {
		t.Fatalf("active connection timed out")
	}
	if len(framesOf[protocol.Pong](t, busy)) == 0 {
		t.Fatalf("pings were not answered")
	}
	eventually(t, time.Second, func() bool { return strings.Join(h.Members("room1"), ",") == "busy" }, "idle member removal")
}

func TestHandleFrameRejections(t *testing.T) {
	cfg := testConfig()
	cfg.MaxMessageSize = 128
	h := newTestHub(t, cfg)
	id, s := join(t, h, "alice", "room1")

	tests := []struct {
		name string
		data string
		want string
	}{
		{"not json", `hello`, protocol.ErrMalformed.Error()},
		{"array", `[1]`, protocol.ErrMalformed.Error()},
		{"missing type", `{"id":"x"}`, protocol.ErrMissingType.Error()},
		{"unknown type", `{"type":"teleport"}`, protocol.ErrUnknownType.Error()},
		{"server envelope", `{"type":"welcome","clientId":"x","timestamp":1}`, protocol.ErrUnexpectedType.Error()},
		{"oversized", `{"type":"ping","pad":"` + strings.Repeat("x", 200) + `"}`, protocol.ErrMessageTooLarge.Error()},
		{"not subscribed", `{"type":"publish","channel":"other","payload":1,"msgId":"c-9","timestamp":1}`, protocol.ErrNotSubscribed.Error()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s.reset()
			h.HandleFrame(id, []byte(tt.data))
			errs := framesOf[protocol.ErrorReply](t, s)
			if len(errs) != 1 || !strings.HasPrefix(errs[0].Error, tt.want) {
				t.Fatalf("error replies = %+v, want prefix %q", errs, tt.want)
			}
		})
	}

	s.reset()
	h.HandleFrame(id, []byte(`{"type":"publish","channel":"other","payload":1,"msgId":"c-9","timestamp":1}`))
	if errs := framesOf[protocol.ErrorReply](t, s); len(errs) != 1 || errs[0].Ref != "c-9" {
		t.Fatalf("publish rejection lost its ref: %+v", errs)
	}
}

func TestHandleFrameRequestReplies(t *testing.T) {
	h := newTestHub(t, testConfig())
	id, s := connect(t, h)

	h.HandleFrame(id, frame(t, protocol.Register{ID: "alice", Timestamp: protocol.Now()}))
	h.HandleFrame(id, frame(t, protocol.Subscribe{Channel: "room1", Timestamp: protocol.Now()}))
	h.HandleFrame(id, frame(t, protocol.Unsubscribe{Channel: "room1", Timestamp: protocol.Now()}))

	var kinds []string
	for _, env := range s.envelopes(t) {
		kinds = append(kinds, env.Type().String())
	}
	want := "welcome,registered,subscribed,unsubscribed"
	if got := strings.Join(kinds, ","); got != want {
		t.Fatalf("reply sequence = %s, want %s", got, want)
	}
	if reg := framesOf[protocol.Registered](t, s)[0]; reg.ID != "alice" || reg.Channels == nil {
		t.Fatalf("registered = %+v", reg)
	}
}

func TestCloseShutsEveryConnection(t *testing.T) {
	h := New(testConfig())
	_, a := join(t, h, "alice", "room1")
	_, b := connect(t, h)
	h.Close()
	h.Close()
	for _, s := range []*fakeSender{a, b} {
		if closed, code := s.closeCode(); !closed || code != CloseShutdown.Code {
			t.Fatalf("sender closed=%v code=%d", closed, code)
		}
	}
	if _, err := h.Accept(&fakeSender{}); !errors.Is(err, ErrClosed) {
		t.Fatalf("Accept after Close = %v", err)
	}
}

package hub

// Observer receives delivery outcomes that never reach the wire. Callbacks
// run outside the hub lock and must not block.
type Observer interface {
	Redelivered(msg *Message, recipient string, attempt int)
	DeliveryExhausted(msg *Message, recipient string)
}

type noopObserver struct{}

func (noopObserver) Redelivered(*Message, string, int)  {}
func (noopObserver) DeliveryExhausted(*Message, string) {}

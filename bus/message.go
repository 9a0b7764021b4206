package bus

import (
	"time"

	"github.com/nats-io/nats.go/jetstream"
)

// Message is one delivery from a channel. The consumer must settle every
// message exactly one way: Ack on success, Nak to request redelivery
// after a delay, or Term to stop redelivery for good. An unsettled
// message redelivers after the ack wait, so slow consumers see the same
// message again rather than losing it.
type Message interface {
	// Data returns the payload as published.
	Data() []byte
	// Subject returns the concrete subject the message landed on.
	Subject() string
	// Deliveries returns how many times the broker has delivered this
	// message, starting at 1.
	Deliveries() int
	// Ack marks the message processed and advances the group position.
	Ack() error
	// Nak schedules redelivery after the given delay.
	Nak(delay time.Duration) error
	// Term tells the broker to never redeliver this message.
	Term() error
}

type jsMessage struct {
	msg jetstream.Msg
}

func (m *jsMessage) Data() []byte {
	return m.msg.Data()
}

func (m *jsMessage) Subject() string {
	return m.msg.Subject()
}

func (m *jsMessage) Deliveries() int {
	meta, err := m.msg.Metadata()
	if err != nil {
		// Metadata only fails on a malformed reply subject, which a
		// JetStream-delivered message cannot have. Treat as first delivery.
		return 1
	}
	return int(meta.NumDelivered)
}

func (m *jsMessage) Ack() error {
	return m.msg.Ack()
}

func (m *jsMessage) Nak(delay time.Duration) error {
	return m.msg.NakWithDelay(delay)
}

func (m *jsMessage) Term() error {
	return m.msg.Term()
}

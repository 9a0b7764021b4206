// Package bus provides the partitioned event stream connecting the
// pipeline stages. Channels are JetStream streams whose subjects embed
// the ordering key, so every message for a given plot lands on the same
// subject and is observed by a consumer in publish order. Consumer groups
// are durable pull consumers; position advances only on explicit ack.
package bus

import (
	"context"
	stderrors "errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/c360/agrostream/errors"
	"github.com/c360/agrostream/natsclient"
	"github.com/c360/agrostream/pkg/retry"
)

// ErrNoMessage signals an empty poll: the bounded wait elapsed without a
// message. It is distinct from transport errors and is not a failure.
var ErrNoMessage = stderrors.New("no message available")

// Channel names a partitioned, ordered log within the bus.
type Channel struct {
	// Name is the logical channel name reported in logs and responses.
	Name string
	// Stream is the backing JetStream stream name.
	Stream string
	// SubjectPrefix is the subject token prepended to the ordering key.
	SubjectPrefix string
	// MaxAge bounds message retention; zero means broker default.
	MaxAge time.Duration
}

// Validate checks that the channel is fully specified.
func (c Channel) Validate() error {
	if c.Name == "" || c.Stream == "" || c.SubjectPrefix == "" {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Channel", "Validate",
			"name, stream and subject prefix are required")
	}
	if strings.ContainsAny(c.SubjectPrefix, " .*>") {
		return errors.WrapInvalid(errors.ErrInvalidConfig, "Channel", "Validate",
			"subject prefix must be a single subject token")
	}
	return nil
}

// Subject returns the concrete subject for an ordering key.
func (c Channel) Subject(orderingKey string) string {
	return c.SubjectPrefix + "." + Token(orderingKey)
}

// Token sanitizes an ordering key into a valid NATS subject token.
// Distinct keys that sanitize to the same token share a partition, which
// is harmless: ordering is only ever promised per key.
func Token(key string) string {
	if key == "" {
		return "_"
	}
	return strings.Map(func(r rune) rune {
		switch r {
		case '.', '*', '>', ' ', '\t', '\n':
			return '_'
		}
		return r
	}, key)
}

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(ctx context.Context, ch Channel, orderingKey string, payload []byte) error
}

// Bus connects publishers and consumer groups to JetStream.
type Bus struct {
	client *natsclient.Client
}

// New creates a bus over an established NATS client.
func New(client *natsclient.Client) *Bus {
	return &Bus{client: client}
}

// Provision creates or updates the backing streams for the given
// channels, retrying transient broker errors. Called once at startup by
// whichever stage owns the channel.
func (b *Bus) Provision(ctx context.Context, channels ...Channel) error {
	for _, ch := range channels {
		if err := ch.Validate(); err != nil {
			return err
		}

		cfg := jetstream.StreamConfig{
			Name:      ch.Stream,
			Subjects:  []string{ch.SubjectPrefix + ".>"},
			Retention: jetstream.LimitsPolicy,
			Storage:   jetstream.FileStorage,
			MaxAge:    ch.MaxAge,
		}

		err := retry.Do(ctx, retry.Quick(), func() error {
			_, err := b.client.CreateStream(ctx, cfg)
			return err
		})
		if err != nil {
			return errors.WrapTransient(err, "Bus", "Provision",
				fmt.Sprintf("create stream %s", ch.Stream))
		}
	}
	return nil
}

// Publish appends a payload to the channel, keyed for ordering, and waits
// for the broker acknowledgment. Failures are transient from the caller's
// perspective: the message has not entered the stream.
func (b *Bus) Publish(ctx context.Context, ch Channel, orderingKey string, payload []byte) error {
	if err := ch.Validate(); err != nil {
		return err
	}

	if err := b.client.PublishToStream(ctx, ch.Subject(orderingKey), payload); err != nil {
		return errors.WrapTransient(err, "Bus", "Publish",
			fmt.Sprintf("publish to %s", ch.Name))
	}
	return nil
}

// Subscribe binds a durable consumer group to a channel and returns its
// cursor. Distinct groups track positions independently; the same group
// name across processes shares one position.
func (b *Bus) Subscribe(ctx context.Context, ch Channel, group string) (*Cursor, error) {
	if err := ch.Validate(); err != nil {
		return nil, err
	}
	if group == "" {
		return nil, errors.WrapInvalid(errors.ErrInvalidConfig, "Bus", "Subscribe",
			"consumer group is required")
	}

	consumer, err := b.client.PullConsumer(ctx, ch.Stream, jetstream.ConsumerConfig{
		Durable:       group,
		AckPolicy:     jetstream.AckExplicitPolicy,
		DeliverPolicy: jetstream.DeliverAllPolicy,
		FilterSubject: ch.SubjectPrefix + ".>",
		AckWait:       30 * time.Second,
	})
	if err != nil {
		return nil, errors.WrapTransient(err, "Bus", "Subscribe",
			fmt.Sprintf("create consumer %s on %s", group, ch.Stream))
	}

	return &Cursor{channel: ch, group: group, consumer: consumer}, nil
}

// Cursor is a consumer group's position in a channel. Poll and the ack
// methods on the returned messages are the only ways it moves.
type Cursor struct {
	channel  Channel
	group    string
	consumer jetstream.Consumer
}

// Channel returns the channel this cursor reads.
func (c *Cursor) Channel() Channel {
	return c.channel
}

// Group returns the consumer group name.
func (c *Cursor) Group() string {
	return c.group
}

// Poll fetches the next message, waiting at most the given duration.
// Returns ErrNoMessage when the wait elapses with nothing to deliver.
func (c *Cursor) Poll(ctx context.Context, wait time.Duration) (Message, error) {
	if err := ctx.Err(); err != nil {
		return nil, errors.WrapTransient(err, "Cursor", "Poll", "context cancelled")
	}

	msg, err := c.consumer.Next(jetstream.FetchMaxWait(wait))
	if err != nil {
		if stderrors.Is(err, nats.ErrTimeout) || stderrors.Is(err, jetstream.ErrNoMessages) {
			return nil, ErrNoMessage
		}
		return nil, errors.WrapTransient(err, "Cursor", "Poll",
			fmt.Sprintf("fetch from %s", c.channel.Name))
	}

	return &jsMessage{msg: msg}, nil
}

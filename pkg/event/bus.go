// Package event publishes browser session lifecycle events on a watermill
// gochannel pub/sub.
package event

import (
	"context"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	jsoniter "github.com/json-iterator/go"

	"github.com/entrhq/driverpool/pkg/logging"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Topic carries every lifecycle event.
const Topic = "driver.lifecycle"

// Type represents the type of event.
type Type string

const (
	DriverCreated      Type = "driver.created"
	DriverClosed       Type = "driver.closed"
	DriverReopened     Type = "driver.reopened"
	DriverReclaimed    Type = "driver.reclaimed"
	DriverCloseTimeout Type = "driver.close_timeout"
)

// Event describes something that happened to a worker's session.
type Event struct {
	Type   Type      `json:"type"`
	Worker string    `json:"worker"`
	Handle string    `json:"handle,omitempty"`
	Detail string    `json:"detail,omitempty"`
	Time   time.Time `json:"time"`
}

// Bus publishes lifecycle events. A nil *Bus accepts and drops everything.
type Bus struct {
	mu     sync.RWMutex
	pubsub *gochannel.GoChannel
	closed bool
}

// NewBus creates a bus. Watermill's own diagnostics go to logger.
func NewBus(logger *logging.Logger) *Bus {
	var adapter watermill.LoggerAdapter = watermill.NopLogger{}
	if logger != nil {
		adapter = &loggerAdapter{logger: logger}
	}
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{
				OutputChannelBuffer: 64,
				Persistent:          false,
			},
			adapter,
		),
	}
}

// Publish sends e to current subscribers. Events without subscribers are dropped.
func (b *Bus) Publish(e Event) error {
	if b == nil {
		return nil
	}
	if e.Time.IsZero() {
		e.Time = time.Now()
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil
	}

	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	msg := message.NewMessage(watermill.NewUUID(), payload)
	msg.Metadata.Set("type", string(e.Type))
	msg.Metadata.Set("worker", e.Worker)
	return b.pubsub.Publish(Topic, msg)
}

// Subscribe delivers every event published after the call until ctx is done.
func (b *Bus) Subscribe(ctx context.Context) (<-chan Event, error) {
	msgs, err := b.pubsub.Subscribe(ctx, Topic)
	if err != nil {
		return nil, err
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		for msg := range msgs {
			var e Event
			decodeErr := json.Unmarshal(msg.Payload, &e)
			msg.Ack()
			if decodeErr != nil {
				continue
			}
			select {
			case out <- e:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out, nil
}

// Close stops the bus and closes all subscriptions.
func (b *Bus) Close() error {
	if b == nil {
		return nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil
	}
	b.closed = true
	return b.pubsub.Close()
}

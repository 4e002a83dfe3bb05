package bus

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kode4food/caravan"
	"github.com/kode4food/caravan/topic"

	"github.com/kfir-abbou/Dapr/pkg/log"
)

type (
	// Bus is an in-process publish/subscribe message bus. Each named topic
	// delivers every message to every subscriber, and all traffic is
	// mirrored to a tap for observers such as the progress stream
	Bus struct {
		topics   map[string]*channel
		tap      *channel
		topicsMu sync.Mutex
		mu       sync.RWMutex
		wg       sync.WaitGroup
		seq      atomic.Uint64
		closed   bool
	}

	// Message is a JSON payload published on a topic
	Message struct {
		Topic     string          `json:"topic"`
		Data      json.RawMessage `json:"data"`
		Timestamp time.Time       `json:"timestamp"`
		seq       uint64
	}

	// Subscription receives the messages of one topic, or of the tap
	Subscription = topic.Consumer[*Message]

	// Handler processes one message delivered to a subscription
	Handler func(context.Context, *Message) error

	channel struct {
		topic topic.Topic[*Message]
		prod  topic.Producer[*Message]
	}

	// subscription hides the messages a topic retained from before it was
	// created. A caravan cursor starts at the head of the retained log
	subscription struct {
		topic.Consumer[*Message]
		out chan *Message
	}
)

var ErrClosed = errors.New("message bus closed")

// New creates an empty bus
func New() *Bus {
	return &Bus{
		topics: map[string]*channel{},
		tap:    newChannel(),
	}
}

func newChannel() *channel {
	t := caravan.NewTopic[*Message]()
	return &channel{topic: t, prod: t.NewProducer()}
}

// Publish marshals payload and delivers it to every subscriber of name
func (b *Bus) Publish(ctx context.Context, name string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}

	ch := b.channel(name)
	msg := &Message{
		Topic:     name,
		Data:      data,
		Timestamp: time.Now(),
		seq:       b.seq.Add(1),
	}
	for _, c := range []*channel{ch, b.tap} {
		select {
		case c.prod.Send() <- msg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Subscribe returns a subscription receiving messages published to name
// from this point on
func (b *Bus) Subscribe(name string) (Subscription, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return nil, ErrClosed
	}
	return b.newSubscription(b.channel(name)), nil
}

// Tap returns a subscription receiving messages from every topic, from
// this point on
func (b *Bus) Tap() Subscription {
	return b.newSubscription(b.tap)
}

func (b *Bus) newSubscription(ch *channel) Subscription {
	since := b.seq.Load()
	s := &subscription{
		Consumer: ch.topic.NewConsumer(),
		out:      make(chan *Message),
	}
	go s.forward(since)
	return s
}

// Receive returns the channel of messages published after subscribing
func (s *subscription) Receive() <-chan *Message {
	return s.out
}

func (s *subscription) forward(since uint64) {
	defer close(s.out)
	for msg := range s.Consumer.Receive() {
		if msg.seq <= since {
			continue
		}
		select {
		case s.out <- msg:
		case <-s.IsClosed():
			return
		}
	}
}

// Handle subscribes to name and runs handler for each message until ctx is
// done or the bus is closed. Handler errors and panics are logged and do
// not stop delivery
func (b *Bus) Handle(ctx context.Context, name string, handler Handler) error {
	sub, err := b.Subscribe(name)
	if err != nil {
		return err
	}

	b.wg.Go(func() {
		defer sub.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-sub.Receive():
				if !ok {
					return
				}
				b.dispatch(ctx, handler, msg)
			}
		}
	})
	return nil
}

// Close stops accepting messages. Handlers observe shutdown through the
// context passed to Handle
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true

	b.topicsMu.Lock()
	defer b.topicsMu.Unlock()
	for _, ch := range b.topics {
		ch.prod.Close()
	}
	b.tap.prod.Close()
}

// Wait blocks until all handlers registered with Handle have returned
func (b *Bus) Wait() {
	b.wg.Wait()
}

func (b *Bus) channel(name string) *channel {
	b.topicsMu.Lock()
	defer b.topicsMu.Unlock()
	ch, ok := b.topics[name]
	if !ok {
		ch = newChannel()
		b.topics[name] = ch
	}
	return ch
}

func (b *Bus) dispatch(ctx context.Context, handler Handler, msg *Message) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("Message handler panic",
				log.Topic(msg.Topic),
				slog.Any("panic", r))
		}
	}()
	if err := handler(ctx, msg); err != nil {
		slog.Error("Message handler failed",
			log.Topic(msg.Topic),
			log.Error(err))
	}
}

// Decode unmarshals the message payload into dst
func (m *Message) Decode(dst any) error {
	return json.Unmarshal(m.Data, dst)
}

package notify

import (
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
)

// Publisher is the write side of the bus.
type Publisher interface {
	Publish(Message)
}

// Discard drops every message.
var Discard Publisher = discard{}

type discard struct{}

func (discard) Publish(Message) {}

type subscriber struct {
	topic Topic
	ch    chan Message
}

// Bus is a non-blocking publish/subscribe bus. Each subscriber gets a buffered
// channel drained by its own goroutine; when the buffer is full the message is
// dropped for that subscriber.
type Bus struct {
	mu         sync.RWMutex
	subs       map[*subscriber]struct{}
	bufferSize int
	closed     bool
	logger     *log.Logger
}

func NewBus(bufferSize int, logger *log.Logger) *Bus {
	if bufferSize <= 0 {
		bufferSize = 100
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Bus{
		subs:       make(map[*subscriber]struct{}),
		bufferSize: bufferSize,
		logger:     logger,
	}
}

// Subscribe delivers messages of topic to fn asynchronously, in publish order.
// An empty topic receives every message. The returned function unsubscribes.
func (b *Bus) Subscribe(topic Topic, fn func(Message)) func() {
	sub := &subscriber{topic: topic, ch: make(chan Message, b.bufferSize)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		close(sub.ch)
		return func() {}
	}
	b.subs[sub] = struct{}{}
	b.mu.Unlock()

	go func() {
		for msg := range sub.ch {
			b.deliver(fn, msg)
		}
	}()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		if _, ok := b.subs[sub]; ok {
			delete(b.subs, sub)
			close(sub.ch)
		}
	}
}

func (b *Bus) deliver(fn func(Message), msg Message) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.WithFields(log.Fields{"topic": msg.Topic, "panic": r}).Error("notify subscriber panicked")
		}
	}()
	fn(msg)
}

// Publish never blocks.
func (b *Bus) Publish(msg Message) {
	if msg.At.IsZero() {
		msg.At = time.Now().UTC()
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for sub := range b.subs {
		if sub.topic != "" && sub.topic != msg.Topic {
			continue
		}
		select {
		case sub.ch <- msg:
		default:
			b.logger.WithField("topic", msg.Topic).Debug("notify message dropped for slow subscriber")
		}
	}
}

// Close stops delivery to every subscriber. Publishing after Close is a no-op.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for sub := range b.subs {
		close(sub.ch)
		delete(b.subs, sub)
	}
	b.closed = true
}

package mqtt

import "sync"

// Message is one published message.
type Message struct {
	Topic    string
	Retained bool
	Payload  []byte
}

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	mu       sync.Mutex
	messages []Message

	// PublishError, if set, will be returned by Publish.
	PublishError error

	// Closed tracks if Close was called.
	Closed bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Publish records the message.
func (f *FakePublisher) Publish(topic string, retained bool, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.PublishError != nil {
		return f.PublishError
	}
	f.messages = append(f.messages, Message{Topic: topic, Retained: retained, Payload: append([]byte(nil), payload...)})
	return nil
}

// Messages returns a copy of everything published.
func (f *FakePublisher) Messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.messages...)
}

// Close marks the publisher closed.
func (f *FakePublisher) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Closed = true
	return nil
}

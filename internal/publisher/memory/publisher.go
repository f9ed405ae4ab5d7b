// Package memory provides an in-memory Publisher that records preservation
// triggers for inspection in tests.
package memory

import (
	"context"
	"fmt"
	"sync"
)

// PublishedMessage is one recorded preservation trigger.
type PublishedMessage struct {
	Topic   string
	Payload any
}

// Publisher records every publish. FailWith turns subsequent publishes into
// errors so callers' fire-and-forget handling can be exercised.
type Publisher struct {
	mu       sync.RWMutex
	messages []PublishedMessage
	err      error
}

// New returns an empty memory Publisher.
func New() *Publisher {
	return &Publisher{}
}

// FailWith makes every subsequent Publish return err. A nil err restores
// normal recording.
func (p *Publisher) FailWith(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

// Publish records the trigger and returns a sequence-numbered pseudo ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return "", p.err
	}
	p.messages = append(p.messages, PublishedMessage{Topic: topic, Payload: payload})
	return fmt.Sprintf("mem-%d", len(p.messages)), nil
}

// Messages returns every recorded trigger in publish order.
func (p *Publisher) Messages() []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	out := make([]PublishedMessage, len(p.messages))
	copy(out, p.messages)
	return out
}

// ForTopic returns the recorded triggers for one topic.
func (p *Publisher) ForTopic(topic string) []PublishedMessage {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []PublishedMessage
	for _, m := range p.messages {
		if m.Topic == topic {
			out = append(out, m)
		}
	}
	return out
}

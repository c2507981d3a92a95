package broadcast

import (
	"fmt"
	"slices"
	"sync"

	"github.com/blukai/boredparty/internal/debug"
	"github.com/blukai/boredparty/internal/protocol"
	"github.com/hashicorp/go-multierror"
)

// Message is a command waiting to be relayed to every connected client except
// the one it came from.
type Message struct {
	Body   protocol.Command
	Source uint64
	// ReadBy lists clients that were already handed this message.
	ReadBy []uint64
}

func (m *Message) wasReadBy(id uint64) bool {
	return slices.Contains(m.ReadBy, id)
}

// Queue is the fan-out queue shared by all client workers. messages stay in
// FIFO order.
type Queue struct {
	mu       sync.Mutex
	messages []*Message
}

func NewQueue() *Queue {
	return &Queue{}
}

// Push appends a message. the source is usually passed in readBy too, so
// that it counts as delivered to its own author.
func (q *Queue) Push(body protocol.Command, source uint64, readBy ...uint64) {
	debug.Assert(body.Kind != protocol.KindUnknown && body.Kind != protocol.KindIllFormatted, "queued a command that can't be encoded")

	q.mu.Lock()
	defer q.mu.Unlock()

	q.messages = append(q.messages, &Message{
		Body:   body,
		Source: source,
		ReadBy: slices.Clone(readBy),
	})
}

func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	return len(q.messages)
}

// Deliver hands every message reader hasn't seen yet (and didn't author) to
// send, in queue order. messages are marked as read before send is called, a
// failed send does not make a message deliverable again; a dead connection
// must not keep messages from being evicted.
//
// send is called without the queue lock held.
func (q *Queue) Deliver(reader uint64, send func(protocol.Command) error) (int, error) {
	q.mu.Lock()
	var bodies []protocol.Command
	for _, msg := range q.messages {
		if msg.Source == reader || msg.wasReadBy(reader) {
			continue
		}
		msg.ReadBy = append(msg.ReadBy, reader)
		bodies = append(bodies, msg.Body)
	}
	q.mu.Unlock()

	var errs error
	for _, body := range bodies {
		if err := send(body); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("could not deliver %s: %w", body, err))
		}
	}
	return len(bodies), errs
}

// Evict drops messages that every connected client has read and returns how
// many were dropped. clients that left don't hold anything back.
func (q *Queue) Evict(connected []uint64) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	before := len(q.messages)
	q.messages = slices.DeleteFunc(q.messages, func(msg *Message) bool {
		for _, id := range connected {
			if !msg.wasReadBy(id) {
				return false
			}
		}
		return true
	})
	return before - len(q.messages)
}

// Messages returns a copy of what is currently queued.
func (q *Queue) Messages() []Message {
	q.mu.Lock()
	defer q.mu.Unlock()

	out := make([]Message, len(q.messages))
	for i, msg := range q.messages {
		out[i] = Message{
			Body:   msg.Body,
			Source: msg.Source,
			ReadBy: slices.Clone(msg.ReadBy),
		}
	}
	return out
}

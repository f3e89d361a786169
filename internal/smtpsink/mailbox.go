package smtpsink

import (
	"context"
	"sync"

	"github.com/shineum/formmail/internal/email"
)

// Envelope is the SMTP transaction that carried a message.
type Envelope struct {
	From string
	To   []string
}

// Mailbox receives every accepted message. A returned error makes the
// session answer 451 so the client sees a temporary failure.
type Mailbox interface {
	Deliver(ctx context.Context, env Envelope, msg *email.Email) error
}

// MailboxFunc adapts a function to the Mailbox interface.
type MailboxFunc func(ctx context.Context, env Envelope, msg *email.Email) error

// Deliver calls f.
func (f MailboxFunc) Deliver(ctx context.Context, env Envelope, msg *email.Email) error {
	return f(ctx, env, msg)
}

// Received is one message held by a Recorder.
type Received struct {
	Envelope Envelope
	Message  *email.Email
}

// Recorder is a Mailbox that keeps every message in memory.
type Recorder struct {
	mu       sync.Mutex
	messages []Received
}

// Deliver stores msg.
func (r *Recorder) Deliver(_ context.Context, env Envelope, msg *email.Email) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, Received{Envelope: env, Message: msg})
	return nil
}

// Messages returns a copy of everything received so far.
func (r *Recorder) Messages() []Received {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Received, len(r.messages))
	copy(out, r.messages)
	return out
}

// Package delivery defines the interface for outbound mail backends.
package delivery

import (
	"context"
	"fmt"

	"github.com/shineum/formmail/internal/email"
)

// Stages at which a delivery attempt can fail.
const (
	StageConnect = "connect"
	StageAuth    = "auth"
	StageSend    = "send"
)

// Transmitter hands one composed message to a mail backend. Each call is a
// single attempt; implementations never retry.
type Transmitter interface {
	// Send delivers msg. Every failure is reported as a *Error.
	Send(ctx context.Context, msg *email.ComposedMessage) error

	// Name returns the backend name used in logs and metrics.
	Name() string
}

// Error is a failed delivery attempt. Err is kept for logs only and must
// not be shown to the submitter.
type Error struct {
	Backend string
	Stage   string
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s delivery failed at %s: %v", e.Backend, e.Stage, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Package contact turns a validated form submission into one delivery
// attempt and reports how it went.
package contact

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shineum/formmail/internal/config"
	"github.com/shineum/formmail/internal/delivery"
	"github.com/shineum/formmail/internal/email"
	"github.com/shineum/formmail/internal/form"
	"github.com/shineum/formmail/internal/metrics"
)

// Outcome is the result of one submission.
type Outcome struct {
	// Delivered is true when the backend accepted the message.
	Delivered bool

	// MessageID is the Message-ID of the composed message.
	MessageID string

	// Err is the delivery failure, if any. It is meant for logs only.
	Err error
}

// Service composes and sends messages. It is safe for concurrent use; it
// holds nothing but read-only configuration and its collaborators.
type Service struct {
	message     config.MessageConfig
	transmitter delivery.Transmitter
	metrics     *metrics.Metrics
	logger      *slog.Logger
}

// NewService wires a Service. m and logger may be nil.
func NewService(message config.MessageConfig, transmitter delivery.Transmitter, m *metrics.Metrics, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		message:     message,
		transmitter: transmitter,
		metrics:     m,
		logger:      logger,
	}
}

// Backend returns the name of the configured delivery backend.
func (s *Service) Backend() string {
	return s.transmitter.Name()
}

// Submit composes the message for sub and makes exactly one delivery
// attempt. It never panics on delivery failure; the failure is returned in
// the Outcome.
func (s *Service) Submit(ctx context.Context, sub *form.Submission) Outcome {
	msg := email.Compose(sub, s.message)
	log := s.logger.With(
		"message_id", msg.MessageID,
		"backend", s.transmitter.Name(),
		"has_attachment", msg.Attachment != nil,
	)

	start := time.Now()
	err := s.transmitter.Send(ctx, msg)
	s.metrics.ObserveDelivery(s.transmitter.Name(), time.Since(start))

	if err != nil {
		attrs := []any{"error", err}
		var derr *delivery.Error
		if errors.As(err, &derr) {
			attrs = append(attrs, "stage", derr.Stage)
		}
		log.Error("message delivery failed", attrs...)
		s.metrics.ObserveSubmission(metrics.OutcomeDeliveryFailed)
		return Outcome{MessageID: msg.MessageID, Err: err}
	}

	log.Info("message delivered", "duration", time.Since(start))
	s.metrics.ObserveSubmission(metrics.OutcomeDelivered)
	return Outcome{Delivered: true, MessageID: msg.MessageID}
}

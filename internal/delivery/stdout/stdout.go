// Package stdout implements a Transmitter that prints messages to standard
// output instead of sending them. It is meant for local development.
package stdout

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"

	"github.com/shineum/formmail/internal/email"
)

const separator = "========================================\n"

// Transmitter prints email messages in a human-readable format.
type Transmitter struct {
	mu     sync.Mutex
	writer io.Writer
}

// New creates a Transmitter that writes to os.Stdout.
func New() *Transmitter {
	return &Transmitter{writer: os.Stdout}
}

// NewWithWriter creates a Transmitter that writes to w.
func NewWithWriter(w io.Writer) *Transmitter {
	return &Transmitter{writer: w}
}

// Send prints msg. It always succeeds; a failed write is only logged.
func (t *Transmitter) Send(_ context.Context, msg *email.ComposedMessage) error {
	t.Print(msg.Email())
	return nil
}

// Print writes e. The mail sink uses it to show received messages.
func (t *Transmitter) Print(e *email.Email) {
	var b strings.Builder

	b.WriteString(separator)
	fmt.Fprintf(&b, "From: %s\n", e.From)
	fmt.Fprintf(&b, "To: %s\n", strings.Join(e.To, ", "))
	if len(e.Cc) > 0 {
		fmt.Fprintf(&b, "Cc: %s\n", strings.Join(e.Cc, ", "))
	}
	fmt.Fprintf(&b, "Subject: %s\n", e.Subject)
	if e.MessageID != "" {
		fmt.Fprintf(&b, "Message-ID: %s\n", e.MessageID)
	}
	b.WriteString("Body:\n")

	body := e.TextBody
	if body == "" {
		body = e.HtmlBody
	}
	b.WriteString(strings.TrimRight(body, "\r\n") + "\n")

	if len(e.Attachments) > 0 {
		attachments := make([]string, 0, len(e.Attachments))
		for _, att := range e.Attachments {
			attachments = append(attachments, fmt.Sprintf("%s (%s)", att.Filename, formatSize(len(att.Content))))
		}
		fmt.Fprintf(&b, "Attachments: %s\n", strings.Join(attachments, ", "))
	}

	b.WriteString(separator)

	t.mu.Lock()
	defer t.mu.Unlock()
	if _, err := io.WriteString(t.writer, b.String()); err != nil {
		slog.Warn("failed to print message", "error", err)
	}
}

// Name returns the backend name.
func (t *Transmitter) Name() string {
	return "stdout"
}

// formatSize formats a byte count into a human-readable string.
func formatSize(bytes int) string {
	const (
		kb = 1024
		mb = kb * 1024
	)

	switch {
	case bytes >= mb:
		return fmt.Sprintf("%.1f MB", float64(bytes)/float64(mb))
	case bytes >= kb:
		return fmt.Sprintf("%.1f KB", float64(bytes)/float64(kb))
	default:
		return fmt.Sprintf("%d B", bytes)
	}
}

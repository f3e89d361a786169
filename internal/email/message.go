// Package email defines the message types passed between the composer,
// the delivery backends and the SMTP sink.
package email

// ComposedMessage is an outgoing message built from one form submission.
// From, To and Subject always come from configuration.
type ComposedMessage struct {
	From      string
	To        string
	Subject   string
	MessageID string

	// Body is the plain-text part.
	Body string

	// Attachment is nil unless the submission carried both a file name and
	// file content.
	Attachment *Attachment
}

// Email represents a parsed inbound email message with all its components.
type Email struct {
	From        string
	To          []string
	Cc          []string
	Bcc         []string
	Subject     string
	TextBody    string
	HtmlBody    string
	Attachments []Attachment
	RawHeaders  map[string][]string
	MessageID   string
}

// Attachment represents a file attached to an email message.
type Attachment struct {
	Filename    string
	ContentType string
	Content     []byte
}

// Email returns the message in the same shape the parser produces, so the
// stdout printer can render outgoing and received mail alike.
func (m *ComposedMessage) Email() *Email {
	e := &Email{
		From:      m.From,
		To:        []string{m.To},
		Subject:   m.Subject,
		TextBody:  m.Body,
		MessageID: m.MessageID,
	}
	if m.Attachment != nil {
		e.Attachments = []Attachment{*m.Attachment}
	}
	return e
}

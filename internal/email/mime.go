package email

import (
	"fmt"
	"io"
	"mime"

	"gopkg.in/gomail.v2"
)

// MIME converts the message into a gomail message: a text/plain part and,
// when present, one base64 attachment part carrying the original bytes.
func (m *ComposedMessage) MIME() *gomail.Message {
	msg := gomail.NewMessage()
	msg.SetHeader("From", m.From)
	msg.SetHeader("To", m.To)
	msg.SetHeader("Subject", m.Subject)
	if m.MessageID != "" {
		msg.SetHeader("Message-ID", m.MessageID)
	}
	msg.SetBody("text/plain", m.Body)

	if att := m.Attachment; att != nil {
		content := att.Content
		msg.Attach(att.Filename,
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(content)
				return err
			}),
			gomail.SetHeader(map[string][]string{
				"Content-Type":        {mime.FormatMediaType(att.ContentType, map[string]string{"name": att.Filename})},
				"Content-Disposition": {mime.FormatMediaType("attachment", map[string]string{"filename": att.Filename})},
			}),
		)
	}

	return msg
}

// WriteMIME serializes the message as RFC 5322 bytes.
func (m *ComposedMessage) WriteMIME(w io.Writer) error {
	if _, err := m.MIME().WriteTo(w); err != nil {
		return fmt.Errorf("failed to render message: %w", err)
	}
	return nil
}

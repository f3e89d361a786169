package email

import (
	"fmt"
	"net/mail"
	"strings"

	"github.com/google/uuid"

	"github.com/shineum/formmail/internal/config"
	"github.com/shineum/formmail/internal/form"
	"github.com/shineum/formmail/internal/locale"
)

// attachmentContentType matches what the form posts: opaque bytes.
const attachmentContentType = "application/octet-stream"

// Compose builds the outgoing message for a validated submission. Header
// values are taken from cfg only. Compose does no I/O and the body depends
// on nothing but sub and cfg.Locale.
func Compose(sub *form.Submission, cfg config.MessageConfig) *ComposedMessage {
	msg := &ComposedMessage{
		From:      cfg.From,
		To:        cfg.To,
		Subject:   cfg.Subject,
		MessageID: newMessageID(cfg.From),
		Body:      RenderBody(sub, locale.For(cfg.Locale)),
	}

	if sub.HasAttachment() {
		msg.Attachment = &Attachment{
			Filename:    sub.AttachmentName,
			ContentType: attachmentContentType,
			Content:     sub.Attachment,
		}
	}

	return msg
}

// RenderBody lists every field with its label in a fixed order. Optional
// fields that were not supplied are rendered as texts.None so the body keeps
// the same shape for every submission.
func RenderBody(sub *form.Submission, texts *locale.Texts) string {
	subscribe := texts.No
	if sub.Subscribe {
		subscribe = texts.Yes
	}

	lines := [][2]string{
		{texts.Name, sub.Name},
		{texts.Company, sub.Company},
		{texts.Phone, sub.Phone},
		{texts.Email, sub.Email},
		{texts.SelectedItems, strings.Join(sub.SelectedItems, ", ")},
		{texts.ProjectDescription, sub.ProjectDescription},
		{texts.PromoCode, orNone(sub.PromoCode, texts)},
		{texts.Discount, orNone(sub.Discount, texts)},
		{texts.Subscribe, subscribe},
	}

	var b strings.Builder
	for _, l := range lines {
		fmt.Fprintf(&b, "%s: %s\n", l[0], l[1])
	}
	return b.String()
}

func orNone(v string, texts *locale.Texts) string {
	if v == "" {
		return texts.None
	}
	return v
}

func newMessageID(from string) string {
	domain := "formmail.local"
	if addr, err := mail.ParseAddress(from); err == nil {
		if at := strings.LastIndex(addr.Address, "@"); at >= 0 && at < len(addr.Address)-1 {
			domain = addr.Address[at+1:]
		}
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

package parser

import (
	"bytes"
	"strings"
	"testing"

	"github.com/shineum/formmail/internal/config"
	"github.com/shineum/formmail/internal/email"
	"github.com/shineum/formmail/internal/form"
)

func TestParsePlainTextEmail(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Test Subject",
		"Message-Id: <test123@example.com>",
		"Content-Type: text/plain",
		"",
		"Hello, this is a plain text email.",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.From != "sender@example.com" {
		t.Errorf("From: got %q, want %q", msg.From, "sender@example.com")
	}
	if len(msg.To) != 1 || msg.To[0] != "recipient@example.com" {
		t.Errorf("To: got %v, want [recipient@example.com]", msg.To)
	}
	if msg.Subject != "Test Subject" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Test Subject")
	}
	if msg.MessageID != "<test123@example.com>" {
		t.Errorf("MessageID: got %q, want %q", msg.MessageID, "<test123@example.com>")
	}
	if msg.TextBody != "Hello, this is a plain text email." {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Hello, this is a plain text email.")
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments: got %d, want 0", len(msg.Attachments))
	}
}

func TestParseQuotedPrintableBodyAndEncodedSubject(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: robot@example.com",
		"To: sales@example.com",
		"Subject: =?UTF-8?q?=D0=9D=D0=BE=D0=B2=D0=BE=D0=B5_=D0=BF=D0=B8=D1=81=D1=8C=D0=BC=D0=BE?=",
		"Content-Type: text/plain; charset=UTF-8",
		"Content-Transfer-Encoding: quoted-printable",
		"",
		"=D0=98=D0=BC=D1=8F: Ann",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Subject != "Новое письмо" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Новое письмо")
	}
	if msg.TextBody != "Имя: Ann" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Имя: Ann")
	}
}

func TestParseMultipartTextAndHTML(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: alice@example.com, bob@example.com",
		"Cc: carol@example.com",
		"Subject: Multipart Test",
		"Content-Type: multipart/alternative; boundary=boundary123",
		"",
		"--boundary123",
		"Content-Type: text/plain",
		"",
		"Plain text body",
		"--boundary123",
		"Content-Type: text/html",
		"",
		"<html><body><p>HTML body</p></body></html>",
		"--boundary123--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(msg.To) != 2 || msg.To[0] != "alice@example.com" || msg.To[1] != "bob@example.com" {
		t.Errorf("To: got %v, want [alice@example.com bob@example.com]", msg.To)
	}
	if len(msg.Cc) != 1 || msg.Cc[0] != "carol@example.com" {
		t.Errorf("Cc: got %v, want [carol@example.com]", msg.Cc)
	}
	if msg.TextBody != "Plain text body" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Plain text body")
	}
	if msg.HtmlBody != "<html><body><p>HTML body</p></body></html>" {
		t.Errorf("HtmlBody: got %q, want %q", msg.HtmlBody, "<html><body><p>HTML body</p></body></html>")
	}
}

func TestParseBase64AttachmentWithCRLF(t *testing.T) {
	t.Parallel()

	raw := []byte("From: sender@example.com\r\n" +
		"To: recipient@example.com\r\n" +
		"Subject: CRLF Base64\r\n" +
		"Content-Type: multipart/mixed; boundary=bound\r\n" +
		"\r\n" +
		"--bound\r\n" +
		"Content-Type: text/plain\r\n" +
		"\r\n" +
		"body\r\n" +
		"--bound\r\n" +
		"Content-Type: application/pdf; name=\"file.pdf\"\r\n" +
		"Content-Disposition: attachment; filename=\"file.pdf\"\r\n" +
		"Content-Transfer-Encoding: base64\r\n" +
		"\r\n" +
		"SGVs\r\n" +
		"bG8g\r\n" +
		"V29y\r\n" +
		"bGQ=\r\n" +
		"--bound--\r\n")

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.TextBody != "body" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "body")
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}

	att := msg.Attachments[0]
	if att.Filename != "file.pdf" {
		t.Errorf("Filename: got %q, want %q", att.Filename, "file.pdf")
	}
	if att.ContentType != "application/pdf" {
		t.Errorf("ContentType: got %q, want %q", att.ContentType, "application/pdf")
	}
	if string(att.Content) != "Hello World" {
		t.Errorf("Content: got %q, want %q", string(att.Content), "Hello World")
	}
}

func TestParseNestedMultipart(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"Subject: Nested Multipart",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: multipart/alternative; boundary=inner",
		"",
		"--inner",
		"Content-Type: text/plain",
		"",
		"Plain text part",
		"--inner",
		"Content-Type: text/html",
		"",
		"<p>HTML part</p>",
		"--inner--",
		"--outer",
		"Content-Type: application/octet-stream; name=\"data.bin\"",
		"Content-Disposition: attachment; filename=\"data.bin\"",
		"",
		"binarydata",
		"--outer--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.TextBody != "Plain text part" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Plain text part")
	}
	if msg.HtmlBody != "<p>HTML part</p>" {
		t.Errorf("HtmlBody: got %q, want %q", msg.HtmlBody, "<p>HTML part</p>")
	}
	if len(msg.Attachments) != 1 || msg.Attachments[0].Filename != "data.bin" {
		t.Fatalf("Attachments: got %+v, want one data.bin", msg.Attachments)
	}
}

func TestParseMalformedMIME(t *testing.T) {
	t.Parallel()

	t.Run("completely invalid message", func(t *testing.T) {
		t.Parallel()
		_, err := Parse([]byte("not a valid email at all\x00\x01\x02"))
		if err == nil {
			t.Error("expected error for completely invalid message, got nil")
		}
	})

	t.Run("missing content type defaults to text/plain", func(t *testing.T) {
		t.Parallel()
		raw := []byte(strings.Join([]string{
			"From: sender@example.com",
			"To: recipient@example.com",
			"Subject: No Content Type",
			"",
			"Body without content type header",
		}, "\r\n"))

		msg, err := Parse(raw)
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if msg.TextBody != "Body without content type header" {
			t.Errorf("TextBody: got %q, want %q", msg.TextBody, "Body without content type header")
		}
	})

	t.Run("multipart missing boundary", func(t *testing.T) {
		t.Parallel()
		raw := []byte(strings.Join([]string{
			"From: sender@example.com",
			"To: recipient@example.com",
			"Content-Type: multipart/mixed",
			"",
			"some body",
		}, "\r\n"))

		if _, err := Parse(raw); err == nil {
			t.Error("expected error for multipart missing boundary, got nil")
		}
	})
}

func TestParseRawHeaders(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"To: recipient@example.com",
		"X-Custom-Header: custom-value",
		"Content-Type: text/plain",
		"",
		"Body",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if vals := msg.RawHeaders["X-Custom-Header"]; len(vals) == 0 || vals[0] != "custom-value" {
		t.Errorf("X-Custom-Header: got %v, want [custom-value]", vals)
	}
	if msg.Cc != nil || msg.Bcc != nil {
		t.Errorf("Cc/Bcc: got %v/%v, want nil", msg.Cc, msg.Bcc)
	}
}

func TestParseComposedMessage(t *testing.T) {
	t.Parallel()

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i * 7)
	}

	sub := &form.Submission{
		Name:               "Анна",
		Email:              "a@x.com",
		Company:            "Acme",
		Phone:              "+7 900 000-00-00",
		ProjectDescription: "Лендинг",
		SelectedItems:      []string{"Логотип", "Сайт"},
		AttachmentName:     "бриф.pdf",
		Attachment:         payload,
	}
	composed := email.Compose(sub, config.MessageConfig{
		From:    "robot@example.com",
		To:      "sales@example.com",
		Subject: "Новое письмо с формы",
		Locale:  "ru",
	})

	var buf bytes.Buffer
	if err := composed.WriteMIME(&buf); err != nil {
		t.Fatalf("WriteMIME: %v", err)
	}

	msg, err := Parse(buf.Bytes())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if msg.Subject != "Новое письмо с формы" {
		t.Errorf("Subject: got %q, want %q", msg.Subject, "Новое письмо с формы")
	}
	if msg.From != "robot@example.com" {
		t.Errorf("From: got %q, want %q", msg.From, "robot@example.com")
	}
	if len(msg.To) != 1 || msg.To[0] != "sales@example.com" {
		t.Errorf("To: got %v, want [sales@example.com]", msg.To)
	}
	if msg.MessageID != composed.MessageID {
		t.Errorf("MessageID: got %q, want %q", msg.MessageID, composed.MessageID)
	}
	// Quoted-printable turns line breaks into CRLF.
	if got := strings.ReplaceAll(msg.TextBody, "\r\n", "\n"); got != composed.Body {
		t.Errorf("TextBody: got %q, want %q", got, composed.Body)
	}
	if len(msg.Attachments) != 1 {
		t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
	}
	att := msg.Attachments[0]
	if att.Filename != "бриф.pdf" {
		t.Errorf("Filename: got %q, want %q", att.Filename, "бриф.pdf")
	}
	if !bytes.Equal(att.Content, payload) {
		t.Error("attachment content changed in transit")
	}
}

func TestParsePartFilenames(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		headers []string
		want    string
	}{
		{
			name: "content type name with encoded word",
			headers: []string{
				"Content-Type: application/pdf; name=\"=?UTF-8?B?0LHRgNC40YQucGRm?=\"",
			},
			want: "бриф.pdf",
		},
		{
			name: "rfc 2231 disposition filename",
			headers: []string{
				"Content-Type: application/octet-stream",
				"Content-Disposition: attachment; filename*=utf-8''%D0%B1%D1%80%D0%B8%D1%84.pdf",
			},
			want: "бриф.pdf",
		},
		{
			name: "directory components dropped",
			headers: []string{
				"Content-Type: application/octet-stream",
				"Content-Disposition: attachment; filename=\"../../etc/passwd\"",
			},
			want: "passwd",
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			lines := []string{
				"From: sender@example.com",
				"Content-Type: multipart/mixed; boundary=b",
				"",
				"--b",
			}
			lines = append(lines, tt.headers...)
			lines = append(lines, "", "data", "--b--")

			msg, err := Parse([]byte(strings.Join(lines, "\r\n")))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(msg.Attachments) != 1 {
				t.Fatalf("Attachments: got %d, want 1", len(msg.Attachments))
			}
			if got := msg.Attachments[0].Filename; got != tt.want {
				t.Errorf("Filename: got %q, want %q", got, tt.want)
			}
		})
	}
}

func TestParseSkipsBrokenParts(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Content-Type: multipart/mixed; boundary=outer",
		"",
		"--outer",
		"Content-Type: text/plain",
		"",
		"kept body",
		"--outer",
		"Content-Type: multipart/alternative",
		"",
		"nested part without boundary",
		"--outer",
		"Content-Type: application/octet-stream",
		"Content-Disposition: attachment; filename=bad.bin",
		"Content-Transfer-Encoding: base64",
		"",
		"!!!not base64!!!",
		"--outer",
		"Content-Type: image/png",
		"",
		"no name, no disposition",
		"--outer--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.TextBody != "kept body" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "kept body")
	}
	if len(msg.Attachments) != 0 {
		t.Errorf("Attachments: got %+v, want none", msg.Attachments)
	}
}

func TestParseKeepsFirstTextBody(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Content-Type: multipart/mixed; boundary=b",
		"",
		"--b",
		"Content-Type: text/plain",
		"",
		"first",
		"--b",
		"Content-Type: text/plain",
		"",
		"second",
		"--b--",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.TextBody != "first" {
		t.Errorf("TextBody: got %q, want %q", msg.TextBody, "first")
	}
}

func TestParseTopLevelHTML(t *testing.T) {
	t.Parallel()

	raw := []byte(strings.Join([]string{
		"From: sender@example.com",
		"Content-Type: text/html; charset=utf-8",
		"Content-Transfer-Encoding: base64",
		"",
		"PHA+aGk8L3A+",
	}, "\r\n"))

	msg, err := Parse(raw)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if msg.HtmlBody != "<p>hi</p>" {
		t.Errorf("HtmlBody: got %q, want %q", msg.HtmlBody, "<p>hi</p>")
	}
	if msg.TextBody != "" {
		t.Errorf("TextBody: got %q, want empty", msg.TextBody)
	}
}

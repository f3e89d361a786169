// Package parser decodes raw RFC 5322 messages, as received by the mail
// sink, into email.Email values.
package parser

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"net/textproto"
	"path/filepath"
	"strings"

	"github.com/shineum/formmail/internal/email"
)

var errMissingBoundary = errors.New("multipart entity missing boundary")

var wordDecoder = new(mime.WordDecoder)

// entity is one node of the MIME tree.
type entity struct {
	header textproto.MIMEHeader
	body   io.Reader
	root   bool
}

// Parse decodes raw into an Email. The first text/plain and text/html
// leaves become the bodies; parts marked as attachments, or carrying a file
// name, become attachments. Parts that cannot be decoded are logged and
// skipped; only an unreadable message or top-level structure is an error.
func Parse(raw []byte) (*email.Email, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to parse message: %w", err)
	}

	out := &email.Email{
		From:       decodeWords(msg.Header.Get("From")),
		To:         addressList(msg.Header.Get("To")),
		Cc:         addressList(msg.Header.Get("Cc")),
		Bcc:        addressList(msg.Header.Get("Bcc")),
		Subject:    decodeWords(msg.Header.Get("Subject")),
		MessageID:  msg.Header.Get("Message-Id"),
		RawHeaders: make(map[string][]string, len(msg.Header)),
	}
	for key, values := range msg.Header {
		out.RawHeaders[key] = values
	}

	root := entity{header: textproto.MIMEHeader(msg.Header), body: msg.Body, root: true}
	if err := visit(out, root); err != nil {
		return nil, err
	}
	return out, nil
}

func visit(out *email.Email, e entity) error {
	mediaType, params, err := e.contentType()
	if err != nil {
		if !e.root {
			slog.Warn("skipping part with unparseable content type", "error", err)
			return nil
		}
		// An unreadable top-level type still carries a readable body.
		slog.Warn("failed to parse content type, treating as plain text", "error", err)
		body, readErr := io.ReadAll(e.body)
		if readErr != nil {
			return fmt.Errorf("failed to read message body: %w", readErr)
		}
		out.TextBody = string(body)
		return nil
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		err := visitChildren(out, e.body, params["boundary"])
		if err != nil && e.root {
			return fmt.Errorf("failed to parse multipart message: %w", err)
		}
		return err
	}

	content, err := decodeBody(e.body, e.header.Get("Content-Transfer-Encoding"))
	if err != nil {
		if e.root {
			return fmt.Errorf("failed to read message body: %w", err)
		}
		slog.Warn("skipping undecodable part", "content_type", mediaType, "error", err)
		return nil
	}

	if e.root {
		if mediaType == "text/html" {
			out.HtmlBody = string(content)
		} else {
			if mediaType != "text/plain" {
				slog.Warn("unrecognized top-level content type", "content_type", mediaType)
			}
			out.TextBody = string(content)
		}
		return nil
	}

	collectLeaf(out, e, mediaType, params, content)
	return nil
}

func visitChildren(out *email.Email, body io.Reader, boundary string) error {
	if boundary == "" {
		return errMissingBoundary
	}

	mr := multipart.NewReader(body, boundary)
	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to read next part: %w", err)
		}

		// NextPart has already undone quoted-printable and dropped the
		// header, so only base64 reaches decodeBody.
		if err := visit(out, entity{header: part.Header, body: part}); err != nil {
			slog.Warn("skipping unreadable nested multipart", "error", err)
		}
	}
}

func collectLeaf(out *email.Email, e entity, mediaType string, params map[string]string, content []byte) {
	disposition := e.header.Get("Content-Disposition")
	filename := e.filename(disposition, params)

	if strings.HasPrefix(strings.ToLower(disposition), "attachment") {
		out.Attachments = append(out.Attachments, email.Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Content:     content,
		})
		return
	}

	switch {
	case mediaType == "text/plain" && out.TextBody == "":
		out.TextBody = string(content)
	case mediaType == "text/html" && out.HtmlBody == "":
		out.HtmlBody = string(content)
	case mediaType == "text/plain", mediaType == "text/html":
		// Only the first body of each kind is kept.
	case filename != "":
		out.Attachments = append(out.Attachments, email.Attachment{
			Filename:    filename,
			ContentType: mediaType,
			Content:     content,
		})
	default:
		slog.Warn("unrecognized MIME part, skipping",
			"content_type", mediaType,
			"disposition", disposition,
		)
	}
}

// contentType parses the Content-Type header, defaulting to text/plain.
func (e entity) contentType() (string, map[string]string, error) {
	ct := e.header.Get("Content-Type")
	if ct == "" {
		return "text/plain", map[string]string{}, nil
	}
	return mime.ParseMediaType(ct)
}

// filename prefers the Content-Disposition filename (RFC 2231 aware) and
// falls back to the Content-Type name parameter. Directory components are
// dropped.
func (e entity) filename(disposition string, params map[string]string) string {
	var name string
	if disposition != "" {
		if _, dparams, err := mime.ParseMediaType(disposition); err == nil {
			name = dparams["filename"]
		}
	}
	if name == "" {
		name = params["name"]
	}
	if name == "" {
		return ""
	}
	return filepath.Base(decodeWords(name))
}

// decodeBody reads r fully and undoes the given Content-Transfer-Encoding.
// Base64 is accepted with or without padding and with embedded line breaks.
func decodeBody(r io.Reader, encoding string) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		return io.ReadAll(quotedprintable.NewReader(r))
	case "base64":
		raw, err := io.ReadAll(r)
		if err != nil {
			return nil, err
		}
		compact := strings.Join(strings.Fields(string(raw)), "")
		if decoded, err := base64.StdEncoding.DecodeString(compact); err == nil {
			return decoded, nil
		}
		decoded, err := base64.RawStdEncoding.DecodeString(compact)
		if err != nil {
			return nil, fmt.Errorf("failed to decode base64 content: %w", err)
		}
		return decoded, nil
	default:
		return io.ReadAll(r)
	}
}

// decodeWords decodes RFC 2047 encoded-words, returning v unchanged when it
// cannot be decoded.
func decodeWords(v string) string {
	if decoded, err := wordDecoder.DecodeHeader(v); err == nil {
		return decoded
	}
	return v
}

// addressList returns the bare addresses of an address header. Lists that
// do not parse are split on commas.
func addressList(raw string) []string {
	if raw == "" {
		return nil
	}

	parsed, err := mail.ParseAddressList(raw)
	if err != nil {
		var out []string
		for _, p := range strings.Split(raw, ",") {
			if p = strings.TrimSpace(p); p != "" {
				out = append(out, p)
			}
		}
		return out
	}

	out := make([]string, 0, len(parsed))
	for _, a := range parsed {
		out = append(out, a.Address)
	}
	return out
}

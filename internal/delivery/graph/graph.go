// Package graph implements a Transmitter that sends mail through the
// Microsoft Graph sendMail API with OAuth2 client credentials.
package graph

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/mail"
	"net/url"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/shineum/formmail/internal/delivery"
	"github.com/shineum/formmail/internal/email"
)

const (
	backendName    = "graph"
	tokenURLFormat = "https://login.microsoftonline.com/%s/oauth2/v2.0/token"
	sendURLFormat  = "https://graph.microsoft.com/v1.0/users/%s/sendMail"
	graphScope     = "https://graph.microsoft.com/.default"
	requestTimeout = 30 * time.Second

	// maxErrorBody bounds how much of an error response is read.
	maxErrorBody = 64 << 10
)

// TransmitterConfig holds the configuration for creating a Transmitter.
type TransmitterConfig struct {
	TenantID     string
	ClientID     string
	ClientSecret string

	// Sender is the mailbox the message is sent as.
	Sender string
}

// Transmitter posts each message to Graph exactly once. Access tokens are
// cached and refreshed by the oauth2 token source.
type Transmitter struct {
	sendURL string
	client  *http.Client
}

// New creates a Transmitter for the given tenant and application.
func New(cfg TransmitterConfig) *Transmitter {
	cc := &clientcredentials.Config{
		ClientID:     cfg.ClientID,
		ClientSecret: cfg.ClientSecret,
		TokenURL:     fmt.Sprintf(tokenURLFormat, url.PathEscape(cfg.TenantID)),
		Scopes:       []string{graphScope},
		AuthStyle:    oauth2.AuthStyleInParams,
	}
	return newTransmitter(cc, fmt.Sprintf(sendURLFormat, url.PathEscape(senderAddress(cfg.Sender))))
}

// senderAddress strips any display name so the sender is usable as a
// user path segment.
func senderAddress(sender string) string {
	if addr, err := mail.ParseAddress(sender); err == nil {
		return addr.Address
	}
	return sender
}

// newTransmitter wires a Transmitter against arbitrary endpoints, used for
// testing.
func newTransmitter(cc *clientcredentials.Config, sendURL string) *Transmitter {
	base := &http.Client{Timeout: requestTimeout}
	tokenCtx := context.WithValue(context.Background(), oauth2.HTTPClient, base)

	client := cc.Client(tokenCtx)
	client.Timeout = requestTimeout

	return &Transmitter{sendURL: sendURL, client: client}
}

// Name returns the backend name.
func (t *Transmitter) Name() string {
	return backendName
}

// Send posts msg to the sendMail endpoint. A failed token request is an
// auth failure, as are 401 and 403 responses.
func (t *Transmitter) Send(ctx context.Context, msg *email.ComposedMessage) error {
	body, err := json.Marshal(buildSendMailRequest(msg))
	if err != nil {
		return t.fail(delivery.StageSend, fmt.Errorf("failed to marshal request body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.sendURL, bytes.NewReader(body))
	if err != nil {
		return t.fail(delivery.StageConnect, fmt.Errorf("failed to create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) {
			return t.fail(delivery.StageAuth, fmt.Errorf("token request rejected: %w", err))
		}
		return t.fail(delivery.StageConnect, err)
	}
	defer resp.Body.Close()

	// sendMail answers 202 Accepted.
	if resp.StatusCode == http.StatusAccepted || resp.StatusCode == http.StatusOK {
		slog.Info("message accepted by Graph", "message_id", msg.MessageID)
		return nil
	}

	apiErr := readAPIError(resp)
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return t.fail(delivery.StageAuth, apiErr)
	default:
		return t.fail(delivery.StageSend, apiErr)
	}
}

func (t *Transmitter) fail(stage string, err error) error {
	return &delivery.Error{Backend: backendName, Stage: stage, Err: err}
}

// APIError is a non-success response from the sendMail endpoint.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("Graph API error (HTTP %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("Graph API error (HTTP %d): %s", e.StatusCode, e.Message)
}

func readAPIError(resp *http.Response) *APIError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	apiErr := &APIError{StatusCode: resp.StatusCode, Message: string(raw)}

	var parsed graphErrorResponse
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		apiErr.Code = parsed.Error.Code
		apiErr.Message = parsed.Error.Message
	}
	return apiErr
}

var _ delivery.Transmitter = (*Transmitter)(nil)

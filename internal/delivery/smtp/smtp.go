// Package smtp implements a Transmitter that submits mail to a relay over
// implicit TLS with username/password authentication.
package smtp

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net/textproto"
	"strings"

	"gopkg.in/gomail.v2"

	"github.com/shineum/formmail/internal/delivery"
	"github.com/shineum/formmail/internal/email"
)

const backendName = "smtp"

// Connection states, logged at debug level.
const (
	stateIdle          = "idle"
	stateConnecting    = "connecting"
	stateAuthenticated = "authenticated"
	stateSending       = "sending"
	stateClosed        = "closed"
)

var errNoAuth = errors.New("server does not offer AUTH")

// TransmitterConfig holds the relay settings.
type TransmitterConfig struct {
	Host     string
	Port     int
	Username string
	Password string

	// TLSConfig is used for the implicit TLS handshake. If nil, the system
	// roots are trusted and ServerName is Host.
	TLSConfig *tls.Config
}

// Transmitter sends composed messages through an SMTP relay. It holds no
// connection between calls and is safe for concurrent use.
type Transmitter struct {
	config TransmitterConfig
}

// New creates a Transmitter for the given relay.
func New(cfg TransmitterConfig) *Transmitter {
	return &Transmitter{config: cfg}
}

// Name returns the backend name.
func (t *Transmitter) Name() string {
	return backendName
}

// Send opens a connection, authenticates, submits msg and closes the
// connection. The envelope sender is the authenticated username and the
// envelope recipient is msg.To. There are no retries.
func (t *Transmitter) Send(ctx context.Context, msg *email.ComposedMessage) error {
	log := slog.With("backend", backendName, "host", t.config.Host, "port", t.config.Port)
	log.Debug("smtp state", "state", stateIdle)

	if err := ctx.Err(); err != nil {
		return t.fail(delivery.StageConnect, err)
	}

	log.Debug("smtp state", "state", stateConnecting)
	d := t.dialer()
	conn, err := d.Dial()
	if err != nil {
		log.Debug("smtp state", "state", stateClosed)
		return t.fail(classifyDialError(err), err)
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Debug("smtp quit failed", "error", err)
		}
		log.Debug("smtp state", "state", stateClosed)
	}()

	// gomail only authenticates when the server advertises AUTH.
	if d.Auth == nil {
		return t.fail(delivery.StageAuth, errNoAuth)
	}
	log.Debug("smtp state", "state", stateAuthenticated)

	log.Debug("smtp state", "state", stateSending)
	if err := conn.Send(t.config.Username, []string{msg.To}, msg.MIME()); err != nil {
		return t.fail(delivery.StageSend, err)
	}

	log.Info("message submitted to relay", "message_id", msg.MessageID)
	return nil
}

// dialer builds a fresh gomail Dialer. gomail stores the negotiated auth on
// the Dialer, so one is never shared between sends.
func (t *Transmitter) dialer() *gomail.Dialer {
	d := gomail.NewDialer(t.config.Host, t.config.Port, t.config.Username, t.config.Password)
	d.SSL = true
	d.TLSConfig = t.config.TLSConfig
	if d.TLSConfig == nil {
		d.TLSConfig = &tls.Config{ServerName: t.config.Host, MinVersion: tls.VersionTLS12}
	}
	return d
}

func (t *Transmitter) fail(stage string, err error) error {
	return &delivery.Error{Backend: backendName, Stage: stage, Err: err}
}

// classifyDialError maps an error from gomail's Dial to the stage that
// failed. Dial covers TCP connect, TLS handshake, greeting and AUTH. AUTH
// rejections carry 53x, 454 or 504 replies, or come from net/smtp's own
// PLAIN checks.
func classifyDialError(err error) string {
	var tpErr *textproto.Error
	if errors.As(err, &tpErr) {
		if (tpErr.Code >= 530 && tpErr.Code < 540) || tpErr.Code == 454 || tpErr.Code == 504 {
			return delivery.StageAuth
		}
		return delivery.StageConnect
	}
	if strings.Contains(err.Error(), "unencrypted connection") || strings.Contains(err.Error(), "wrong host name") {
		return delivery.StageAuth
	}
	return delivery.StageConnect
}

var _ delivery.Transmitter = (*Transmitter)(nil)

// String hides the password when the transmitter is logged.
func (t *Transmitter) String() string {
	return fmt.Sprintf("smtp://%s@%s:%d", t.config.Username, t.config.Host, t.config.Port)
}

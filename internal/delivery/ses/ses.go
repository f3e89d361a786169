// Package ses implements a Transmitter that sends mail via AWS SES v2.
package ses

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/formmail/internal/delivery"
	"github.com/shineum/formmail/internal/email"
)

const backendName = "ses"

// authErrorCodes are SES API error codes caused by bad or missing credentials.
var authErrorCodes = map[string]bool{
	"AccessDeniedException":       true,
	"InvalidClientTokenId":        true,
	"SignatureDoesNotMatch":       true,
	"UnrecognizedClientException": true,
	"ExpiredTokenException":       true,
}

// TransmitterConfig holds the configuration for creating a Transmitter.
type TransmitterConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// Transmitter sends composed messages through the SES v2 SendEmail API as
// raw MIME, so the attachment reaches SES exactly as the SMTP backend would
// submit it.
type Transmitter struct {
	client SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a Transmitter. Static credentials are used when both keys are
// set; otherwise the default AWS credential chain applies. SDK retries are
// disabled so each Send is a single attempt.
func New(ctx context.Context, cfg TransmitterConfig) (*Transmitter, error) {
	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.Region),
		awsconfig.WithRetryMaxAttempts(1),
	}

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &Transmitter{client: sesv2.NewFromConfig(awsCfg)}, nil
}

// NewWithClient creates a Transmitter with a custom client, used for testing.
func NewWithClient(client SendEmailAPI) *Transmitter {
	return &Transmitter{client: client}
}

// Name returns the backend name.
func (t *Transmitter) Name() string {
	return backendName
}

// Send submits msg as a raw MIME message addressed to msg.To.
func (t *Transmitter) Send(ctx context.Context, msg *email.ComposedMessage) error {
	input, err := buildRawInput(msg)
	if err != nil {
		return &delivery.Error{Backend: backendName, Stage: delivery.StageSend, Err: err}
	}

	out, err := t.client.SendEmail(ctx, input)
	if err != nil {
		stage := delivery.StageSend
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) {
			if authErrorCodes[apiErr.ErrorCode()] {
				stage = delivery.StageAuth
			}
			slog.Warn("SES API error",
				"code", apiErr.ErrorCode(),
				"fault", apiErr.ErrorFault().String(),
			)
		}
		return &delivery.Error{Backend: backendName, Stage: stage, Err: err}
	}

	slog.Info("message accepted by SES",
		"message_id", msg.MessageID,
		"ses_message_id", aws.ToString(out.MessageId),
	)
	return nil
}

// buildRawInput renders msg and wraps it in a SendEmailInput.
func buildRawInput(msg *email.ComposedMessage) (*sesv2.SendEmailInput, error) {
	var buf bytes.Buffer
	if err := msg.WriteMIME(&buf); err != nil {
		return nil, err
	}

	return &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(msg.From),
		Destination: &types.Destination{
			ToAddresses: []string{msg.To},
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{
				Data: buf.Bytes(),
			},
		},
	}, nil
}

var _ delivery.Transmitter = (*Transmitter)(nil)

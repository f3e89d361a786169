package ses

import (
	"bytes"
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/smithy-go"

	"github.com/shineum/formmail/internal/config"
	"github.com/shineum/formmail/internal/delivery"
	"github.com/shineum/formmail/internal/email"
	"github.com/shineum/formmail/internal/form"
	"github.com/shineum/formmail/internal/parser"
)

// mockSESClient implements SendEmailAPI for testing.
type mockSESClient struct {
	sendFn    func(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
	callCount int
	lastInput *sesv2.SendEmailInput
}

func (m *mockSESClient) SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
	m.callCount++
	m.lastInput = params
	if m.sendFn != nil {
		return m.sendFn(ctx, params, optFns...)
	}
	return &sesv2.SendEmailOutput{MessageId: aws.String("test-message-id")}, nil
}

func testMessage(t *testing.T, withAttachment bool) *email.ComposedMessage {
	t.Helper()
	sub := &form.Submission{
		Name:               "Ann",
		Email:              "a@x.com",
		Company:            "Acme",
		Phone:              "123",
		ProjectDescription: "site",
	}
	if withAttachment {
		sub.AttachmentName = "brief.pdf"
		sub.Attachment = []byte{0x25, 0x50, 0x44, 0x46, 0x00, 0xff}
	}
	return email.Compose(sub, config.MessageConfig{
		From:    "robot@example.com",
		To:      "sales@example.com",
		Subject: "New lead",
		Locale:  "en",
	})
}

func TestName(t *testing.T) {
	t.Parallel()
	if got := NewWithClient(&mockSESClient{}).Name(); got != "ses" {
		t.Errorf("Name(): got %q, want %q", got, "ses")
	}
}

func TestSend_RawMessage(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{}
	tr := NewWithClient(mock)
	msg := testMessage(t, true)

	if err := tr.Send(context.Background(), msg); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want 1", mock.callCount)
	}

	input := mock.lastInput
	if got := aws.ToString(input.FromEmailAddress); got != "robot@example.com" {
		t.Errorf("FromEmailAddress: got %q, want %q", got, "robot@example.com")
	}
	if to := input.Destination.ToAddresses; len(to) != 1 || to[0] != "sales@example.com" {
		t.Errorf("ToAddresses: got %v, want [sales@example.com]", to)
	}
	if input.Content.Simple != nil {
		t.Error("expected no simple content when using raw message")
	}
	if input.Content.Raw == nil {
		t.Fatal("expected raw email content, got nil")
	}

	parsed, err := parser.Parse(input.Content.Raw.Data)
	if err != nil {
		t.Fatalf("raw message does not parse: %v", err)
	}
	if parsed.Subject != "New lead" {
		t.Errorf("Subject: got %q, want %q", parsed.Subject, "New lead")
	}
	if parsed.MessageID != msg.MessageID {
		t.Errorf("MessageID: got %q, want %q", parsed.MessageID, msg.MessageID)
	}
	if len(parsed.Attachments) != 1 || !bytes.Equal(parsed.Attachments[0].Content, msg.Attachment.Content) {
		t.Errorf("attachment did not survive: %+v", parsed.Attachments)
	}
}

func TestSend_NoRetryOnError(t *testing.T) {
	t.Parallel()

	mock := &mockSESClient{
		sendFn: func(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			return nil, errors.New("transient error")
		},
	}
	tr := NewWithClient(mock)

	err := tr.Send(context.Background(), testMessage(t, false))

	var derr *delivery.Error
	if !errors.As(err, &derr) {
		t.Fatalf("expected *delivery.Error, got %T: %v", err, err)
	}
	if derr.Stage != delivery.StageSend {
		t.Errorf("Stage: got %q, want %q", derr.Stage, delivery.StageSend)
	}
	if mock.callCount != 1 {
		t.Errorf("call count: got %d, want exactly 1 attempt", mock.callCount)
	}
}

func TestSend_APIErrorStages(t *testing.T) {
	t.Parallel()

	tests := []struct {
		code string
		want string
	}{
		{code: "SignatureDoesNotMatch", want: delivery.StageAuth},
		{code: "AccessDeniedException", want: delivery.StageAuth},
		{code: "MessageRejected", want: delivery.StageSend},
		{code: "TooManyRequestsException", want: delivery.StageSend},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.code, func(t *testing.T) {
			t.Parallel()

			apiErr := &smithy.GenericAPIError{Code: tt.code, Message: "nope", Fault: smithy.FaultClient}
			mock := &mockSESClient{
				sendFn: func(context.Context, *sesv2.SendEmailInput, ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
					return nil, apiErr
				},
			}

			err := NewWithClient(mock).Send(context.Background(), testMessage(t, false))

			var derr *delivery.Error
			if !errors.As(err, &derr) {
				t.Fatalf("expected *delivery.Error, got %T: %v", err, err)
			}
			if derr.Stage != tt.want {
				t.Errorf("Stage: got %q, want %q", derr.Stage, tt.want)
			}
			if !errors.Is(err, apiErr) {
				t.Error("API error should be reachable through Unwrap")
			}
		})
	}
}

func TestSend_PassesContext(t *testing.T) {
	t.Parallel()

	type ctxKey struct{}
	ctx := context.WithValue(context.Background(), ctxKey{}, "marker")

	var seen any
	mock := &mockSESClient{
		sendFn: func(ctx context.Context, _ *sesv2.SendEmailInput, _ ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error) {
			seen = ctx.Value(ctxKey{})
			return &sesv2.SendEmailOutput{}, nil
		},
	}

	if err := NewWithClient(mock).Send(ctx, testMessage(t, false)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if seen != "marker" {
		t.Errorf("context value: got %v, want %q", seen, "marker")
	}
}

func TestNew_StaticCredentials(t *testing.T) {
	t.Parallel()

	tr, err := New(context.Background(), TransmitterConfig{
		Region:          "eu-central-1",
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.client == nil {
		t.Fatal("client is nil")
	}
}

// Package ses implements a Provider that sends emails via AWS SES v2.
package ses

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	sesv2 "github.com/aws/aws-sdk-go-v2/service/sesv2"
	"github.com/aws/aws-sdk-go-v2/service/sesv2/types"
	"github.com/aws/smithy-go"

	"github.com/shineum/mailgate/internal/compose"
	"github.com/shineum/mailgate/internal/email"
	"github.com/shineum/mailgate/internal/provider"
)

// Name is the configuration name of the SES provider.
const Name = "ses"

// SESProviderConfig holds the configuration for creating a SESProvider.
type SESProviderConfig struct {
	Region          string
	AccessKeyID     string
	SecretAccessKey string
	Sender          compose.Sender
}

// SESProvider sends emails via the AWS SES v2 API as raw MIME messages.
type SESProvider struct {
	sender compose.Sender
	client SendEmailAPI
}

// SendEmailAPI is the interface for the SES v2 SendEmail operation.
// Used for testing with mock implementations.
type SendEmailAPI interface {
	SendEmail(ctx context.Context, params *sesv2.SendEmailInput, optFns ...func(*sesv2.Options)) (*sesv2.SendEmailOutput, error)
}

// New creates a new SESProvider with the given configuration.
func New(ctx context.Context, cfg SESProviderConfig) (*SESProvider, error) {
	var opts []func(*awsconfig.LoadOptions) error

	opts = append(opts, awsconfig.WithRegion(cfg.Region))

	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	// Delivery is single-attempt; the SDK's own retryer is disabled.
	client := sesv2.NewFromConfig(awsCfg, func(o *sesv2.Options) {
		o.RetryMaxAttempts = 1
	})

	return NewWithClient(cfg.Sender, client), nil
}

// NewWithClient creates a SESProvider with a custom client, used for testing.
func NewWithClient(sender compose.Sender, client SendEmailAPI) *SESProvider {
	return &SESProvider{
		sender: sender,
		client: client,
	}
}

// Name returns the provider name.
func (s *SESProvider) Name() string {
	return Name
}

// Prepare composes msg as raw MIME. Bcc recipients travel only in the
// envelope destination.
func (s *SESProvider) Prepare(msg *email.Email) (provider.Delivery, error) {
	composed, err := compose.Compose(s.sender, msg, compose.Options{})
	if err != nil {
		return nil, err
	}

	input := &sesv2.SendEmailInput{
		FromEmailAddress: aws.String(s.sender.Email),
		Destination: &types.Destination{
			ToAddresses:  addresses(msg.To),
			CcAddresses:  addresses(msg.Cc),
			BccAddresses: addresses(msg.Bcc),
		},
		Content: &types.EmailContent{
			Raw: &types.RawMessage{Data: composed.Raw},
		},
	}

	return provider.DeliveryFunc(func(ctx context.Context) email.Outcome {
		return s.deliver(ctx, msg.Subject, input)
	}), nil
}

// Send delivers msg with a single SendEmail call.
func (s *SESProvider) Send(ctx context.Context, msg *email.Email) email.Outcome {
	return provider.Send(ctx, s, msg)
}

func (s *SESProvider) deliver(ctx context.Context, subject string, input *sesv2.SendEmailInput) email.Outcome {
	slog.Info("sending email via SES", "subject", subject)

	out, err := s.client.SendEmail(ctx, input)
	if err != nil {
		slog.Error("SES API error", "error", err)
		return email.Failed(classifyError(err))
	}

	return email.Succeeded("email sent", aws.ToString(out.MessageId))
}

// classifyError maps SDK errors onto the transport error taxonomy, keeping
// the HTTP status and the service error code when present.
func classifyError(err error) error {
	terr := &email.TransportError{Provider: Name, Err: err}

	var respErr *awshttp.ResponseError
	if errors.As(err, &respErr) {
		terr.StatusCode = respErr.HTTPStatusCode()
		terr.Body = err.Error()
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "AccessDeniedException", "UnrecognizedClientException", "InvalidClientTokenId", "SignatureDoesNotMatch":
			return &email.AuthError{Provider: Name, Err: err}
		}
		terr.Body = apiErr.ErrorCode() + ": " + apiErr.ErrorMessage()
	}
	return terr
}

func addresses(list []email.Recipient) []string {
	if len(list) == 0 {
		return nil
	}
	out := make([]string, len(list))
	for i, r := range list {
		out[i] = r.Email
	}
	return out
}

package services

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/leafline/marketplace/internal/models"
	pkglogger "github.com/leafline/marketplace/pkg/logger"
)

// LockoutNotifier tells an account owner their account was locked
type LockoutNotifier interface {
	NotifyLockout(ctx context.Context, user *models.User, until time.Time) error
}

// SESAPI is the subset of the SES client used for sending mail
type SESAPI interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESLockoutNotifier sends lockout emails through AWS SES
type SESLockoutNotifier struct {
	client      SESAPI
	fromAddress string
	logger      *slog.Logger
}

// NewSESLockoutNotifier wraps an existing SES client
func NewSESLockoutNotifier(client SESAPI, fromAddress string, logger *slog.Logger) *SESLockoutNotifier {
	return &SESLockoutNotifier{client: client, fromAddress: fromAddress, logger: logger}
}

// NewSESLockoutNotifierFromRegion loads the default AWS credential chain for region
func NewSESLockoutNotifierFromRegion(ctx context.Context, region, fromAddress string, logger *slog.Logger) (*SESLockoutNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESLockoutNotifier(ses.NewFromConfig(cfg), fromAddress, logger), nil
}

func (n *SESLockoutNotifier) NotifyLockout(ctx context.Context, user *models.User, until time.Time) error {
	until = until.UTC()
	textBody := fmt.Sprintf(`Hi %s,

We locked sign-in to your Leafline account after several failed password attempts.
You can try again after %s (UTC).

If this wasn't you, reset your password once the lock expires and contact support.
`, displayName(user), until.Format("Jan 2, 2006 15:04"))

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: []string{user.Email},
		},
		Message: &types.Message{
			Subject: &types.Content{Data: aws.String("Your account has been temporarily locked")},
			Body: &types.Body{
				Text: &types.Content{Data: aws.String(textBody)},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		return fmt.Errorf("failed to send lockout email: %w", err)
	}

	attrs := []any{
		slog.String("user_id", user.ID),
		slog.String("email", pkglogger.SanitizedEmail(user.Email)),
	}
	if result != nil && result.MessageId != nil {
		attrs = append(attrs, slog.String("message_id", *result.MessageId))
	}
	n.logger.Info("lockout email sent", attrs...)
	return nil
}

// LogLockoutNotifier only logs; used when email delivery is disabled
type LogLockoutNotifier struct {
	logger *slog.Logger
}

func NewLogLockoutNotifier(logger *slog.Logger) *LogLockoutNotifier {
	return &LogLockoutNotifier{logger: logger}
}

func (n *LogLockoutNotifier) NotifyLockout(_ context.Context, user *models.User, until time.Time) error {
	n.logger.Info("lockout notification suppressed",
		slog.String("user_id", user.ID),
		slog.Time("locked_until", until),
	)
	return nil
}

func displayName(user *models.User) string {
	if user.Name != "" {
		return user.Name
	}
	return "there"
}
